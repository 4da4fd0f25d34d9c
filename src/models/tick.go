package models

import "time"

// MTick is the latest observed state for one instrument symbol. Option
// metadata is classified once on first sight and never changes afterwards.
type MTick struct {
	LastPrice  float64   `json:"last_price"`
	Timestamp  time.Time `json:"timestamp"`
	Underlying string    `json:"underlying"` // "NSE:NIFTY 50"
	ExpiryDate time.Time `json:"expiry_date"`
	Strike     float64   `json:"strike"`
	OptType    string    `json:"opt_type"` // "CE" or "PE"
	Classified bool      `json:"-"`
}

// MFeedTick is the wire shape of one tick in a feed batch.
type MFeedTick struct {
	LastPrice         float64 `json:"last_price"`
	ExchangeTimestamp string  `json:"exchange_timestamp"`
}

// -----------------------------------------------------------------------------

// MTickSummary is the per-cycle tick batch summary published alongside the
// canonical books.
type MTickSummary struct {
	Broker    string `json:"Broker"` // constant "TICKS"
	Timestamp string `json:"timestamp"`
	Symbols   int    `json:"symbols"`
	Stale     int    `json:"stale"` // symbols without an update in the last minute
}
