package analysis

import (
	"fmt"
	"time"

	"broker-observer/src/logger"
	"broker-observer/src/models"
	"broker-observer/src/utils"
)

// -----------------------------------------------------------------------------

// Reshaper turns renamed broker rows into canonical records. One instance is
// shared by all broker adapters; the broker tag is passed per call.
type Reshaper struct {
	Ticks  *utils.TickCache
	Greeks GreeksFunc
	Logger *logger.Logger

	Rate float64 // annualized risk-free rate
	Vol  float64 // annualized implied volatility

	// Session close time-of-day added to expiry dates for time-to-expiry.
	CloseHour, CloseMin int
	Loc                 *time.Location

	// now is swappable for tests
	Now func() time.Time
}

// -----------------------------------------------------------------------------

func NewReshaper(ticks *utils.TickCache, cfg models.MAnalysisConfig, market models.MMarketConfig, loc *time.Location, log *logger.Logger) *Reshaper {
	closeT, _ := time.Parse("15:04", market.Close)
	return &Reshaper{
		Ticks:     ticks,
		Greeks:    BlackScholesGreeks,
		Logger:    log,
		Rate:      cfg.RiskFreeRate,
		Vol:       cfg.ImpliedVol,
		CloseHour: closeT.Hour(),
		CloseMin:  closeT.Minute(),
		Loc:       loc,
		Now:       time.Now,
	}
}

// -----------------------------------------------------------------------------

// PositionBook enriches raw rows with tick data and greeks and reduces them
// to one canonical summary. Any row-level failure drops the whole account for
// this cycle: a partial financial summary is worse than a missing one.
func (r *Reshaper) PositionBook(tag string, rows []models.MPositionRow) (*models.MPositionSummary, error) {
	summary := &models.MPositionSummary{
		Broker:    tag,
		Timestamp: r.Now().In(r.Loc).Format(time.RFC3339),
	}

	for _, row := range rows {
		key := row.SymbolKey()
		tick, ok := r.Ticks.Get(key)
		if !ok {
			return nil, fmt.Errorf("no tick for %s", key)
		}

		netQty := row.BuyQty - row.SellQty
		curAmt := netQty * tick.LastPrice
		netAmt := row.BuyAmt - row.SellAmt
		mtm := curAmt - netAmt

		summary.Premium += curAmt
		summary.MTM += mtm

		// Non-option rows carry no greeks or option-type quantities.
		if !tick.Classified {
			continue
		}

		switch tick.OptType {
		case "PE":
			summary.PEQty += netQty
		case "CE":
			summary.CEQty += netQty
		}

		spot, ok := r.Ticks.Get(tick.Underlying)
		if !ok {
			return nil, fmt.Errorf("no spot tick for %s", tick.Underlying)
		}

		expiry := time.Date(
			tick.ExpiryDate.Year(), tick.ExpiryDate.Month(), tick.ExpiryDate.Day(),
			r.CloseHour, r.CloseMin, 0, 0, r.Loc,
		)
		dteHours := expiry.Sub(r.Now()).Hours()

		g, err := r.Greeks(spot.LastPrice, tick.Strike, dteHours/(365*24), r.Rate, r.Vol, tick.OptType)
		if err != nil {
			return nil, fmt.Errorf("greeks for %s: %w", key, err)
		}

		deltaExposure := netQty * g.Delta
		summary.PosDelta += deltaExposure
		summary.PosGamma += netQty * g.Gamma
		summary.PosTheta += netQty * g.Theta

		switch tick.OptType {
		case "CE":
			summary.SumCallDelta += deltaExposure
		case "PE":
			summary.SumPutDelta += deltaExposure
		}
	}

	return summary, nil
}

// -----------------------------------------------------------------------------

// MarginNumbers are the normalized margin inputs every adapter produces.
type MarginNumbers struct {
	Used      float64
	MaxUsed   float64
	Available float64
	Total     float64
	Cash      float64
}

// MarginBook renders the canonical margin record from normalized numbers.
func (r *Reshaper) MarginBook(tag string, mb MarginNumbers) *models.MMarginBook {
	return &models.MMarginBook{
		Broker:       tag,
		Timestamp:    r.Now().In(r.Loc).Format(time.RFC3339),
		Used:         mb.Used,
		MaxUsed:      mb.MaxUsed,
		Available:    mb.Available,
		Total:        mb.Total,
		Cash:         mb.Cash,
		TotalDisplay: models.FormatLakh(mb.Total),
		UsedPct:      models.FormatPctOfTotal(mb.Used, mb.Total),
		MaxPct:       models.FormatPctOfTotal(mb.MaxUsed, mb.Total),
		BalDisplay:   models.FormatLakh(mb.Available),
		CashDisplay:  models.FormatLakh(mb.Cash),
	}
}
