package broker

import (
	"encoding/json"
	"net/http"
	"net/url"
	"strings"
	"time"

	"broker-observer/src/analysis"
	"broker-observer/src/models"
)

// -----------------------------------------------------------------------------

const neoBaseURL = "https://mis.kotaksecurities.com/quick/user/"

// neoAdapter talks to the Kotak Neo API. The stored token is two values
// joined with "::": the bearer token and the session id header.
type neoAdapter struct{}

func (a *neoAdapter) plan(token, path string) requestPlan {
	var authorization, sid string
	if parts := strings.SplitN(token, "::", 2); len(parts) == 2 {
		authorization, sid = parts[0], parts[1]
	}

	jData, _ := json.Marshal(map[string]string{"seg": "ALL", "exch": "ALL", "prod": "ALL"})
	form := url.Values{"jData": {string(jData)}}

	return requestPlan{
		method: http.MethodPost,
		url:    neoBaseURL + path,
		headers: map[string]string{
			"authorization": authorization,
			"sid":           sid,
			"Content-Type":  "application/x-www-form-urlencoded",
		},
		body:    form.Encode(),
		timeout: 30 * time.Second,
	}
}

func (a *neoAdapter) marginPlan(token string) requestPlan {
	return a.plan(token, "limits")
}

func (a *neoAdapter) positionPlan(token string) requestPlan {
	return a.plan(token, "positions")
}

// -----------------------------------------------------------------------------

type neoLimitsResponse struct {
	MarginUsed      *flexFloat `json:"MarginUsed"`
	Net             flexFloat  `json:"Net"`
	CollateralValue flexFloat  `json:"CollateralValue"`
}

func (a *neoAdapter) parseMargin(body []byte) (analysis.MarginNumbers, bool, error) {
	var resp neoLimitsResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return analysis.MarginNumbers{}, false, err
	}
	if resp.MarginUsed == nil {
		return analysis.MarginNumbers{}, false, nil
	}

	used := float64(*resp.MarginUsed)
	available := float64(resp.Net)
	return analysis.MarginNumbers{
		Used:      used,
		Available: available,
		Total:     used + available,
		Cash:      float64(resp.CollateralValue),
	}, true, nil
}

// -----------------------------------------------------------------------------

var neoExchangeMap = map[string]string{
	"bse_fo": "BFO",
	"nse_fo": "NFO",
}

type neoPositionResponse struct {
	Data []struct {
		TrdSym    string    `json:"trdSym"`
		ExSeg     string    `json:"exSeg"`
		FlBuyQty  flexFloat `json:"flBuyQty"`
		BuyAmt    flexFloat `json:"buyAmt"`
		FlSellQty flexFloat `json:"flSellQty"`
		SellAmt   flexFloat `json:"sellAmt"`
	} `json:"data"`
}

func (a *neoAdapter) parsePositions(body []byte) ([]models.MPositionRow, bool, error) {
	var resp neoPositionResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, false, err
	}
	if resp.Data == nil {
		return nil, false, nil
	}

	rows := make([]models.MPositionRow, 0, len(resp.Data))
	for _, p := range resp.Data {
		exch := p.ExSeg
		if mapped, ok := neoExchangeMap[exch]; ok {
			exch = mapped
		}
		rows = append(rows, models.MPositionRow{
			Symbol:  p.TrdSym,
			Exch:    exch,
			BuyQty:  float64(p.FlBuyQty),
			BuyAmt:  float64(p.BuyAmt),
			SellQty: float64(p.FlSellQty),
			SellAmt: float64(p.SellAmt),
		})
	}
	return rows, true, nil
}
