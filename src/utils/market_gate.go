package utils

import (
	"context"
	"time"

	"broker-observer/src/interfaces"
	"broker-observer/src/logger"
	"broker-observer/src/models"
)

// MarketGate decides whether the polling orchestrator should be ACTIVE. It
// combines the trading calendar, the configured session window and a manual
// override key in the shared store.
type MarketGate struct {
	Calendar *TradingCalendar
	Store    interfaces.IStateStore
	Logger   *logger.Logger
	Loc      *time.Location

	openHour, openMin   int
	closeHour, closeMin int

	// now is swappable for tests
	now func() time.Time
}

// -----------------------------------------------------------------------------

func NewMarketGate(cfg models.MMarketConfig, cal *TradingCalendar, st interfaces.IStateStore, loc *time.Location, log *logger.Logger) *MarketGate {
	open, _ := time.Parse("15:04", cfg.Open)
	closeT, _ := time.Parse("15:04", cfg.Close)

	return &MarketGate{
		Calendar:  cal,
		Store:     st,
		Logger:    log,
		Loc:       loc,
		openHour:  open.Hour(),
		openMin:   open.Minute(),
		closeHour: closeT.Hour(),
		closeMin:  closeT.Minute(),
		now:       time.Now,
	}
}

// SetClock replaces the time source (tests only).
func (g *MarketGate) SetClock(now func() time.Time) { g.now = now }

// -----------------------------------------------------------------------------

// IsOpen reports whether the market session is currently live. The manual
// override in the shared store wins over the calendar in both directions.
func (g *MarketGate) IsOpen(ctx context.Context) bool {
	if g.Store != nil {
		override, err := g.Store.Get(ctx, models.KeyMarketOverride)
		if err != nil {
			g.Logger.Debug("Market override read failed: %v", err)
		} else {
			switch override {
			case "open":
				return true
			case "closed":
				return false
			}
		}
	}

	now := g.now().In(g.Loc)
	if !g.Calendar.IsTradingDay(now) {
		return false
	}

	minutes := now.Hour()*60 + now.Minute()
	return minutes >= g.openHour*60+g.openMin && minutes < g.closeHour*60+g.closeMin
}

// -----------------------------------------------------------------------------

// NextOpenCutoff returns the next early-morning cutoff used for day-scoped
// key expiry (07:00 local on the next calendar day).
func (g *MarketGate) NextOpenCutoff() time.Time {
	now := g.now().In(g.Loc)
	next := time.Date(now.Year(), now.Month(), now.Day(), 7, 0, 0, 0, g.Loc).AddDate(0, 0, 1)
	return next
}
