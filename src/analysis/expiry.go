package analysis

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"broker-observer/src/models"
)

// -----------------------------------------------------------------------------

// Month codes used in weekly expiry tokens: 1-9 then O, N, D.
var monthCodes = map[byte]time.Month{
	'1': time.January, '2': time.February, '3': time.March,
	'4': time.April, '5': time.May, '6': time.June,
	'7': time.July, '8': time.August, '9': time.September,
	'O': time.October, 'N': time.November, 'D': time.December,
}

// ExpiryProvider resolves derivative segment metadata and expands the expiry
// token embedded in exchange trading symbols into a calendar date.
type ExpiryProvider struct {
	segments map[string]models.MDerivativeConfig
	holidays map[string]bool
	loc      *time.Location
}

// -----------------------------------------------------------------------------

func NewExpiryProvider(segments map[string]models.MDerivativeConfig, holidays []string, loc *time.Location) *ExpiryProvider {
	hset := make(map[string]bool, len(holidays))
	for _, h := range holidays {
		hset[h] = true
	}
	return &ExpiryProvider{segments: segments, holidays: hset, loc: loc}
}

// -----------------------------------------------------------------------------

// Segment returns the derivative metadata for an exchange prefix ("NFO").
func (e *ExpiryProvider) Segment(exchange string) (models.MDerivativeConfig, bool) {
	seg, ok := e.segments[exchange]
	return seg, ok
}

// -----------------------------------------------------------------------------

// ExpandExpiryToken converts a 5-character expiry token into a date. Weekly
// tokens are "{yy}{monthcode}{dd}" (e.g. "25O07"); monthly tokens are
// "{yy}{MMM}" (e.g. "25OCT"), resolving to the segment's expiry weekday in
// the last week of that month, rolled back over weekends and holidays.
func (e *ExpiryProvider) ExpandExpiryToken(exchange, token string) (time.Time, error) {
	if len(token) != 5 {
		return time.Time{}, fmt.Errorf("malformed expiry token %q", token)
	}

	year, err := strconv.Atoi(token[:2])
	if err != nil {
		return time.Time{}, fmt.Errorf("malformed expiry token %q", token)
	}
	year += 2000

	// Weekly: digit-led or O/N/D month code followed by a two-digit day.
	if month, ok := monthCodes[token[2]]; ok {
		if day, err := strconv.Atoi(token[3:]); err == nil {
			return time.Date(year, month, day, 0, 0, 0, 0, e.loc), nil
		}
	}

	// Monthly: three-letter month abbreviation.
	parsed, err := time.Parse("Jan", strings.ToUpper(token[2:3])+strings.ToLower(token[3:]))
	if err != nil {
		return time.Time{}, fmt.Errorf("malformed expiry token %q", token)
	}

	seg, ok := e.segments[exchange]
	if !ok {
		return time.Time{}, fmt.Errorf("unknown derivative segment %q", exchange)
	}

	return e.monthlyExpiry(year, parsed.Month(), time.Weekday(seg.ExpiryWeekday)), nil
}

// -----------------------------------------------------------------------------

// MonthlyExpiry returns the monthly expiry date of the exchange's derivative
// segment for the given month.
func (e *ExpiryProvider) MonthlyExpiry(exchange string, year int, month time.Month) (time.Time, error) {
	seg, ok := e.segments[exchange]
	if !ok {
		return time.Time{}, fmt.Errorf("unknown derivative segment %q", exchange)
	}
	return e.monthlyExpiry(year, month, time.Weekday(seg.ExpiryWeekday)), nil
}

// -----------------------------------------------------------------------------

// MonthCode returns the single-character month code used in weekly expiry
// tokens.
func MonthCode(month time.Month) byte {
	switch month {
	case time.October:
		return 'O'
	case time.November:
		return 'N'
	case time.December:
		return 'D'
	default:
		return byte('0' + int(month))
	}
}

// -----------------------------------------------------------------------------

// monthlyExpiry finds the last occurrence of the expiry weekday in the month,
// then moves back one business day at a time while it lands on a weekend or
// holiday.
func (e *ExpiryProvider) monthlyExpiry(year int, month time.Month, weekday time.Weekday) time.Time {
	// Last day of month, then walk back to the expiry weekday.
	d := time.Date(year, month+1, 0, 0, 0, 0, 0, e.loc)
	for d.Weekday() != weekday {
		d = d.AddDate(0, 0, -1)
	}
	for e.holidays[d.Format("2006-01-02")] || d.Weekday() == time.Saturday || d.Weekday() == time.Sunday {
		d = d.AddDate(0, 0, -1)
	}
	return d
}
