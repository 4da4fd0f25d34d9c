package broker

import (
	"encoding/json"
	"net/http"
	"time"

	"broker-observer/src/analysis"
	"broker-observer/src/models"
)

// -----------------------------------------------------------------------------

const kiteBaseURL = "https://kite.zerodha.com/oms/"

// kiteAdapter talks to the Zerodha Kite OMS API. Requests are plain GETs
// authenticated with an authorization header.
type kiteAdapter struct{}

func (a *kiteAdapter) plan(token, path string) requestPlan {
	return requestPlan{
		method:  http.MethodGet,
		url:     kiteBaseURL + path,
		headers: map[string]string{"authorization": token},
		timeout: 20 * time.Second,
	}
}

func (a *kiteAdapter) marginPlan(token string) requestPlan {
	return a.plan(token, "user/margins")
}

func (a *kiteAdapter) positionPlan(token string) requestPlan {
	return a.plan(token, "portfolio/positions")
}

// -----------------------------------------------------------------------------

type kiteMarginResponse struct {
	Status string `json:"status"`
	Data   struct {
		Equity struct {
			Net      float64 `json:"net"`
			Utilised struct {
				Debits float64 `json:"debits"`
			} `json:"utilised"`
			Available struct {
				Cash          float64 `json:"cash"`
				IntradayPayin float64 `json:"intraday_payin"`
			} `json:"available"`
		} `json:"equity"`
	} `json:"data"`
}

func (a *kiteAdapter) parseMargin(body []byte) (analysis.MarginNumbers, bool, error) {
	var resp kiteMarginResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return analysis.MarginNumbers{}, false, err
	}
	if resp.Status != "success" {
		return analysis.MarginNumbers{}, false, nil
	}

	eq := resp.Data.Equity
	used := eq.Utilised.Debits
	return analysis.MarginNumbers{
		Used:      used,
		Available: eq.Net,
		Total:     eq.Net + used,
		Cash:      eq.Available.Cash + eq.Available.IntradayPayin,
	}, true, nil
}

// -----------------------------------------------------------------------------

type kitePositionResponse struct {
	Data *struct {
		Net []struct {
			Tradingsymbol string  `json:"tradingsymbol"`
			Exchange      string  `json:"exchange"`
			BuyQuantity   float64 `json:"buy_quantity"`
			SellQuantity  float64 `json:"sell_quantity"`
			BuyValue      float64 `json:"buy_value"`
			SellValue     float64 `json:"sell_value"`
		} `json:"net"`
	} `json:"data"`
}

func (a *kiteAdapter) parsePositions(body []byte) ([]models.MPositionRow, bool, error) {
	var resp kitePositionResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, false, err
	}
	if resp.Data == nil || len(resp.Data.Net) == 0 {
		return nil, false, nil
	}

	rows := make([]models.MPositionRow, 0, len(resp.Data.Net))
	for _, p := range resp.Data.Net {
		rows = append(rows, models.MPositionRow{
			Symbol:  p.Tradingsymbol,
			Exch:    p.Exchange,
			BuyQty:  p.BuyQuantity,
			BuyAmt:  p.BuyValue,
			SellQty: p.SellQuantity,
			SellAmt: p.SellValue,
		})
	}
	return rows, true, nil
}
