package utils

import (
	"time"

	"broker-observer/src/logger"
	"broker-observer/src/models"

	"github.com/scmhub/calendar"
)

// TradingCalendar answers business-day questions for the configured market
// using scmhub/calendar, with a config-driven fallback when the MIC is not
// available in the library.
type TradingCalendar struct {
	Calendar *calendar.Calendar
	Fallback bool
	Timezone *time.Location
	holidays map[string]bool
}

// -----------------------------------------------------------------------------

func NewTradingCalendar(cfg models.MMarketConfig, holidays []string, loc *time.Location, log *logger.Logger) *TradingCalendar {
	hset := make(map[string]bool, len(holidays))
	for _, h := range holidays {
		hset[h] = true
	}

	// See scmhub/calendar for supported MICs (ISO 10383)
	cal := calendar.GetCalendar(cfg.MIC)
	if cal == nil {
		log.Warning("No calendar for MIC '%s'. Using config holidays with Mon-Fri fallback.", cfg.MIC)
		return &TradingCalendar{Fallback: true, Timezone: loc, holidays: hset}
	}

	return &TradingCalendar{Calendar: cal, Fallback: false, Timezone: cal.Loc, holidays: hset}
}

// -----------------------------------------------------------------------------

func (tc *TradingCalendar) IsTradingDay(date time.Time) bool {
	if tc.Timezone != nil {
		date = date.In(tc.Timezone)
	}

	// Config holidays apply on top of either source.
	if tc.holidays[date.Format("2006-01-02")] {
		return false
	}

	if tc.Fallback {
		weekday := date.Weekday()
		return weekday != time.Saturday && weekday != time.Sunday
	}
	return tc.Calendar.IsBusinessDay(date)
}
