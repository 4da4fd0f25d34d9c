package models

import "fmt"

// MMarginBook is the canonical margin record for one account. Raw numerics
// carry the aggregation; the display strings are what dashboards and bots
// render directly.
type MMarginBook struct {
	Broker    string  `json:"Broker"` // "{broker}:{account}"
	Timestamp string  `json:"timestamp"`
	Used      float64 `json:"used"`
	MaxUsed   float64 `json:"max_used"` // high-water mark for the trading day
	Available float64 `json:"available"`
	Total     float64 `json:"total"`
	Cash      float64 `json:"cash"`

	// Display fields (lakh units and percentage of total)
	TotalDisplay string `json:"Total"`
	UsedPct      string `json:"Used"`
	MaxPct       string `json:"Max"`
	BalDisplay   string `json:"Bal"`
	CashDisplay  string `json:"Cash"`
}

// -----------------------------------------------------------------------------

// FormatLakh renders an amount in lakh units, e.g. "  12.3L".
func FormatLakh(amount float64) string {
	return fmt.Sprintf("%6.1fL", amount/100000)
}

// FormatPctOfTotal renders a fraction of total as a percentage string.
// Returns "0.00%" when total is zero rather than NaN.
func FormatPctOfTotal(part, total float64) string {
	if total == 0 {
		return "0.00%"
	}
	return fmt.Sprintf("%.2f%%", part/total*100)
}
