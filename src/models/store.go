package models

import "time"

// Shared store key conventions. Field names inside hashes are account tags
// ("{broker}:{account}"); channels mirror hash names with a _channel suffix.
const (
	KeyMarginBook     = "margin_book"
	KeyPositionBook   = "position_book"
	KeyBrowserToken   = "browser_token"
	KeyMarketOverride = "market_override"

	ChannelSuffix      = "_channel"
	ChannelTokenUpdate = "token_update"
	ChannelTickSummary = "tick_summary_channel"

	StreamPositionBook = "position_book_stream"
	ConsolidatedTag    = "ALL"
)

// MHashWrite is one field update inside an atomic batch.
type MHashWrite struct {
	Key   string
	Field string
	Value string
}

// MChannelMessage is one message received on a subscribed channel.
type MChannelMessage struct {
	Channel string
	Payload string
}

// -----------------------------------------------------------------------------

// MStreamEntry is one debounced row persisted to the snapshot archive,
// mirroring the fields written to the shared store streams.
type MStreamEntry struct {
	Broker          string
	Timestamp       time.Time
	PEQty           float64
	CEQty           float64
	Premium         float64
	MTM             float64
	PosDelta        float64
	PosGamma        float64
	SumCallDelta    float64
	SumPutDelta     float64
	DeltaSkewPct    float64
	GammaToDeltaPct float64
	MarginUsed      string
	CreatedAt       time.Time
}

// -----------------------------------------------------------------------------

// MSessionStatus is a point-in-time view of one account session, served by
// the status endpoints.
type MSessionStatus struct {
	Broker     string `json:"broker"`
	AccountID  string `json:"account_id"`
	TokenValid bool   `json:"token_valid"`
}
