package broker

import (
	"encoding/json"
	"fmt"
	"net/http"
	"regexp"
	"strings"
	"time"

	"broker-observer/src/analysis"
	"broker-observer/src/models"
)

// -----------------------------------------------------------------------------

const shoonyaBaseURL = "https://trade.shoonya.com/NorenWClientWeb/"

// shoonyaAdapter talks to the Finvasia Noren API. Every call is a form POST
// carrying a jData JSON blob and the session key as jKey.
type shoonyaAdapter struct {
	account string
	expiry  *analysis.ExpiryProvider
}

func (a *shoonyaAdapter) plan(token, path, prd string) requestPlan {
	data := map[string]string{"uid": a.account, "actid": a.account}
	if prd != "" {
		data["prd"] = prd
	}
	jData, _ := json.Marshal(data)

	return requestPlan{
		method:  http.MethodPost,
		url:     shoonyaBaseURL + path,
		headers: map[string]string{"Content-Type": "application/x-www-form-urlencoded"},
		body:    fmt.Sprintf("jData=%s&jKey=%s", jData, token),
		timeout: 20 * time.Second,
	}
}

func (a *shoonyaAdapter) marginPlan(token string) requestPlan {
	return a.plan(token, "Limits", "")
}

func (a *shoonyaAdapter) positionPlan(token string) requestPlan {
	return a.plan(token, "PositionBook", "C")
}

// -----------------------------------------------------------------------------

type shoonyaLimitsResponse struct {
	Stat       string    `json:"stat"`
	Cash       flexFloat `json:"cash"`
	Payin      flexFloat `json:"payin"`
	MarginUsed flexFloat `json:"marginused"`
	Collateral flexFloat `json:"collateral"`
}

func (a *shoonyaAdapter) parseMargin(body []byte) (analysis.MarginNumbers, bool, error) {
	var resp shoonyaLimitsResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return analysis.MarginNumbers{}, false, err
	}
	if resp.Stat != "Ok" {
		return analysis.MarginNumbers{}, false, nil
	}

	used := float64(resp.MarginUsed)
	cash := float64(resp.Cash) + float64(resp.Payin)
	total := float64(resp.Collateral) + cash
	return analysis.MarginNumbers{
		Used:      used,
		Available: total - used,
		Total:     total,
		Cash:      cash,
	}, true, nil
}

// -----------------------------------------------------------------------------

type shoonyaPosition struct {
	Tsym       string    `json:"tsym"`
	Exch       string    `json:"exch"`
	DayBuyQty  flexFloat `json:"daybuyqty"`
	DayBuyAmt  flexFloat `json:"daybuyamt"`
	DaySellQty flexFloat `json:"daysellqty"`
	DaySellAmt flexFloat `json:"daysellamt"`
}

// parsePositions handles the Noren quirk that an empty book comes back as an
// error object instead of an empty array.
func (a *shoonyaAdapter) parsePositions(body []byte) ([]models.MPositionRow, bool, error) {
	var positions []shoonyaPosition
	if err := json.Unmarshal(body, &positions); err != nil {
		var status struct {
			Stat string `json:"stat"`
		}
		if json.Unmarshal(body, &status) == nil {
			return nil, false, nil
		}
		return nil, false, err
	}

	rows := make([]models.MPositionRow, 0, len(positions))
	for _, p := range positions {
		symbol := p.Tsym
		if p.Exch == "NFO" {
			if reshaped, err := a.reshapeSymbol(symbol); err == nil {
				symbol = reshaped
			}
		}
		rows = append(rows, models.MPositionRow{
			Symbol:  symbol,
			Exch:    p.Exch,
			BuyQty:  float64(p.DayBuyQty),
			BuyAmt:  float64(p.DayBuyAmt),
			SellQty: float64(p.DaySellQty),
			SellAmt: float64(p.DaySellAmt),
		})
	}
	return rows, true, nil
}

// -----------------------------------------------------------------------------

// Noren option symbols spell the expiry date out, e.g. BANKNIFTY08MAY24P48000.
var norenOptionPattern = regexp.MustCompile(`^([A-Z]+?)(\d{2}[A-Z]{3}\d{2})([A-Z])(\d+)$`)

// reshapeSymbol converts a Noren option symbol into the canonical exchange
// form shared with the tick feed, e.g. BANKNIFTY24MAY48000PE for a monthly
// expiry or BANKNIFTY2450848000PE for a weekly one.
func (a *shoonyaAdapter) reshapeSymbol(symbol string) (string, error) {
	m := norenOptionPattern.FindStringSubmatch(symbol)
	if m == nil {
		return "", fmt.Errorf("not an option symbol: %q", symbol)
	}
	name, dateStr, optLetter, strike := m[1], m[2], m[3], m[4]

	expiry, err := time.Parse("02Jan06", dateStr[:3]+strings.ToLower(dateStr[3:5])+dateStr[5:])
	if err != nil {
		return "", fmt.Errorf("bad expiry in %q: %w", symbol, err)
	}

	monthly, err := a.expiry.MonthlyExpiry("NFO", expiry.Year(), expiry.Month())
	if err != nil {
		return "", err
	}

	var token string
	if expiry.Month() == monthly.Month() && expiry.Day() == monthly.Day() {
		token = fmt.Sprintf("%02d%s", expiry.Year()%100, strings.ToUpper(expiry.Format("Jan")))
	} else {
		token = fmt.Sprintf("%02d%c%02d", expiry.Year()%100, analysis.MonthCode(expiry.Month()), expiry.Day())
	}

	return fmt.Sprintf("%s%s%s%sE", name, token, strike, optLetter), nil
}
