package models

// MPositionRow is one broker position row after column renaming, before
// enrichment. Every adapter maps its raw field names onto these columns so
// the buy/sell direction is canonical (long positive) in exactly one place.
type MPositionRow struct {
	Symbol  string  `json:"symbol"`
	Exch    string  `json:"exch"`
	BuyQty  float64 `json:"buy_qty"`
	BuyAmt  float64 `json:"buy_amt"`
	SellQty float64 `json:"sell_qty"`
	SellAmt float64 `json:"sell_amt"`
}

// SymbolKey returns the tick cache join key, e.g. "NFO:NIFTY25O0725000CE".
func (r MPositionRow) SymbolKey() string {
	return r.Exch + ":" + r.Symbol
}

// -----------------------------------------------------------------------------

// MPositionSummary is the canonical per-account risk summary, one record per
// account per poll cycle. Field names are contractually stable: downstream
// stream readers address them as strings.
type MPositionSummary struct {
	Broker    string `json:"Broker"` // "{broker}:{account}" or "ALL"
	Timestamp string `json:"timestamp"`

	PEQty        float64 `json:"PE_Qty"`
	CEQty        float64 `json:"CE_Qty"`
	Premium      float64 `json:"Premium"`
	MTM          float64 `json:"MTM"`
	PosDelta     float64 `json:"Pos_Delta"`
	PosGamma     float64 `json:"Pos_Gamma"`
	PosTheta     float64 `json:"Pos_Theta"`
	SumCallDelta float64 `json:"sum_call_delta"`
	SumPutDelta  float64 `json:"sum_put_delta"`

	// Latest margin utilization display value, carried so a degraded account
	// stays visible in consolidated views.
	MarginUsed string `json:"Margin_Used,omitempty"`

	// Derived ratios, populated on consolidated snapshots only.
	DeltaSkewPct    float64 `json:"Delta_Skew_%"`
	GammaToDeltaPct float64 `json:"Gamma_to_Delta_%"`
}

// NumericKeys are the summary fields summed arithmetically across accounts
// when building the consolidated snapshot.
var NumericKeys = []string{
	"PE_Qty", "CE_Qty", "Premium", "MTM",
	"Pos_Delta", "Pos_Gamma", "sum_call_delta", "sum_put_delta",
}

// StreamKeys are the fields written to the position book streams, in order.
var StreamKeys = []string{
	"PE_Qty", "CE_Qty", "Premium", "MTM", "Margin_Used",
	"Delta_Skew_%", "Gamma_to_Delta_%", "Pos_Gamma", "Pos_Delta",
	"sum_call_delta", "sum_put_delta",
}

// Numeric returns the value of a numeric stream key.
func (s MPositionSummary) Numeric(key string) float64 {
	switch key {
	case "PE_Qty":
		return s.PEQty
	case "CE_Qty":
		return s.CEQty
	case "Premium":
		return s.Premium
	case "MTM":
		return s.MTM
	case "Pos_Delta":
		return s.PosDelta
	case "Pos_Gamma":
		return s.PosGamma
	case "Pos_Theta":
		return s.PosTheta
	case "sum_call_delta":
		return s.SumCallDelta
	case "sum_put_delta":
		return s.SumPutDelta
	case "Delta_Skew_%":
		return s.DeltaSkewPct
	case "Gamma_to_Delta_%":
		return s.GammaToDeltaPct
	}
	return 0
}

// SetNumeric assigns a numeric stream key by name.
func (s *MPositionSummary) SetNumeric(key string, v float64) {
	switch key {
	case "PE_Qty":
		s.PEQty = v
	case "CE_Qty":
		s.CEQty = v
	case "Premium":
		s.Premium = v
	case "MTM":
		s.MTM = v
	case "Pos_Delta":
		s.PosDelta = v
	case "Pos_Gamma":
		s.PosGamma = v
	case "Pos_Theta":
		s.PosTheta = v
	case "sum_call_delta":
		s.SumCallDelta = v
	case "sum_put_delta":
		s.SumPutDelta = v
	case "Delta_Skew_%":
		s.DeltaSkewPct = v
	case "Gamma_to_Delta_%":
		s.GammaToDeltaPct = v
	}
}
