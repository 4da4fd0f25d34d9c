package streamer

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"sync"
	"time"

	"broker-observer/src/interfaces"
	"broker-observer/src/logger"
	"broker-observer/src/models"
	"broker-observer/src/utils"
)

// -----------------------------------------------------------------------------

// Streamer turns the firehose of per-cycle book updates into debounced,
// append-only stream entries: one stream per account plus a consolidated
// stream summing all accounts. Entries are mirrored into the snapshot
// archive.
type Streamer struct {
	store   interfaces.IStateStore
	archive interfaces.IArchive
	gate    *utils.MarketGate
	logger  *logger.Logger

	gap time.Duration
	loc *time.Location

	mu               sync.RWMutex
	latest           map[string]map[string]interface{}
	latestMargin     map[string]string
	latestTicks      string
	lastWritten      map[string]int64
	lastConsolidated int64
	currentDay       string

	now func() time.Time
}

// -----------------------------------------------------------------------------

func NewStreamer(store interfaces.IStateStore, archive interfaces.IArchive, gate *utils.MarketGate, cfg models.MStreamerConfig, loc *time.Location, log *logger.Logger) *Streamer {
	return &Streamer{
		store:        store,
		archive:      archive,
		gate:         gate,
		logger:       log.Named("streamer"),
		gap:          time.Duration(cfg.StreamGapSeconds) * time.Second,
		loc:          loc,
		latest:       make(map[string]map[string]interface{}),
		latestMargin: make(map[string]string),
		lastWritten:  make(map[string]int64),
		now:          time.Now,
	}
}

// -----------------------------------------------------------------------------

// Run subscribes to the book channels and processes messages until the
// context is cancelled. A malformed message is logged and dropped; it never
// stops the loop.
func (s *Streamer) Run(ctx context.Context) error {
	msgs, err := s.store.Subscribe(ctx,
		models.KeyPositionBook+models.ChannelSuffix,
		models.KeyMarginBook+models.ChannelSuffix,
		models.ChannelTickSummary,
	)
	if err != nil {
		return err
	}

	s.logger.Info("Position book streamer started")

	for msg := range msgs {
		if err := s.handleMessage(ctx, msg); err != nil {
			s.logger.Warning("Dropping message on %s: %v", msg.Channel, err)
		}
	}

	s.logger.Info("Position book streamer stopped")
	return nil
}

func (s *Streamer) handleMessage(ctx context.Context, msg models.MChannelMessage) error {
	switch msg.Channel {
	case models.KeyPositionBook + models.ChannelSuffix:
		return s.handlePosition(ctx, msg.Payload)
	case models.KeyMarginBook + models.ChannelSuffix:
		return s.handleMargin(msg.Payload)
	case models.ChannelTickSummary:
		s.mu.Lock()
		s.latestTicks = msg.Payload
		s.mu.Unlock()
		return nil
	}
	return nil
}

// -----------------------------------------------------------------------------

func (s *Streamer) handleMargin(payload string) error {
	var data struct {
		Broker string `json:"Broker"`
	}
	if err := json.Unmarshal([]byte(payload), &data); err != nil {
		return err
	}
	if data.Broker == "" {
		return fmt.Errorf("missing Broker")
	}

	s.mu.Lock()
	s.latestMargin[data.Broker] = payload
	s.mu.Unlock()
	return nil
}

// -----------------------------------------------------------------------------

// handlePosition is the debounce core. Message timestamps, not wall clock,
// drive the gap so replays behave identically.
func (s *Streamer) handlePosition(ctx context.Context, payload string) error {
	var data map[string]interface{}
	if err := json.Unmarshal([]byte(payload), &data); err != nil {
		return err
	}

	broker, _ := data["Broker"].(string)
	tsStr, _ := data["timestamp"].(string)
	if broker == "" || tsStr == "" {
		return fmt.Errorf("missing Broker or timestamp")
	}

	ts, err := time.Parse(time.RFC3339, tsStr)
	if err != nil {
		return fmt.Errorf("bad timestamp %q: %w", tsStr, err)
	}
	unix := ts.Unix()
	day := ts.In(s.loc).Format("2006-01-02")

	s.mu.Lock()
	defer s.mu.Unlock()

	// A new trading day resets all debounce clocks and the latest tables.
	if s.currentDay == "" {
		s.currentDay = day
	} else if day != s.currentDay {
		s.logger.Info("Day change detected, resetting state for %s", day)
		s.latest = make(map[string]map[string]interface{})
		s.lastWritten = make(map[string]int64)
		s.lastConsolidated = 0
		s.currentDay = day
	}

	s.latest[broker] = data

	if unix-s.lastWritten[broker] >= int64(s.gap.Seconds()) {
		if err := s.writeStream(ctx, data, broker); err != nil {
			return err
		}
		s.lastWritten[broker] = unix
	}

	if unix-s.lastConsolidated >= int64(s.gap.Seconds()) {
		consolidated := s.buildConsolidated()
		if err := s.writeStream(ctx, consolidated, models.ConsolidatedTag); err != nil {
			return err
		}
		s.lastConsolidated = unix
	}

	return nil
}

// -----------------------------------------------------------------------------

// buildConsolidated sums the numeric fields across the latest snapshot of
// every account and derives the portfolio-level ratios. Unparseable values
// contribute zero rather than poisoning the sum.
func (s *Streamer) buildConsolidated() map[string]interface{} {
	aggregates := make(map[string]float64, len(models.NumericKeys))
	for _, acct := range s.latest {
		for _, key := range models.NumericKeys {
			aggregates[key] += coerce(acct[key])
		}
	}

	snapshot := map[string]interface{}{
		"Broker":    models.ConsolidatedTag,
		"timestamp": s.now().In(s.loc).Format(time.RFC3339),
	}
	for _, key := range models.NumericKeys {
		snapshot[key] = round(aggregates[key], 4)
	}

	totalDelta := aggregates["Pos_Delta"]
	totalGamma := aggregates["Pos_Gamma"]
	callDelta := aggregates["sum_call_delta"]
	putDelta := aggregates["sum_put_delta"]

	deltaSkew, gammaToDelta := 0.0, 0.0
	if totalDelta != 0 {
		deltaSkew = math.Abs(callDelta-putDelta) / math.Abs(totalDelta) * 100
		gammaToDelta = math.Abs(totalGamma/totalDelta) * 100
	}
	snapshot["Delta_Skew_%"] = round(deltaSkew, 2)
	snapshot["Gamma_to_Delta_%"] = round(gammaToDelta, 2)

	return snapshot
}

// -----------------------------------------------------------------------------

// writeStream appends one entry to the tag's stream and mirrors it into the
// archive. Stream keys expire before the next session opens.
func (s *Streamer) writeStream(ctx context.Context, data map[string]interface{}, tag string) error {
	fields := make(map[string]string, len(models.StreamKeys)+2)
	for _, key := range append(append([]string{}, models.StreamKeys...), "timestamp", "Broker") {
		fields[key] = stringify(data[key])
	}

	key := models.StreamPositionBook + ":" + tag
	if err := s.store.XAdd(ctx, key, fields); err != nil {
		return err
	}
	if err := s.store.ExpireAt(ctx, key, s.gate.NextOpenCutoff()); err != nil {
		s.logger.Warning("Setting expiry on %s failed: %v", key, err)
	}

	if s.archive != nil {
		if err := s.archive.SaveStreamEntries([]models.MStreamEntry{s.archiveEntry(data, tag)}); err != nil {
			s.logger.Warning("Archiving %s entry failed: %v", tag, err)
		}
	}

	s.logger.Debug("Streamed %s @ %v", tag, data["timestamp"])
	return nil
}

func (s *Streamer) archiveEntry(data map[string]interface{}, tag string) models.MStreamEntry {
	ts := s.now()
	if parsed, err := time.Parse(time.RFC3339, stringify(data["timestamp"])); err == nil {
		ts = parsed
	}

	marginUsed, _ := data["Margin_Used"].(string)
	return models.MStreamEntry{
		Broker:          tag,
		Timestamp:       ts,
		PEQty:           coerce(data["PE_Qty"]),
		CEQty:           coerce(data["CE_Qty"]),
		Premium:         coerce(data["Premium"]),
		MTM:             coerce(data["MTM"]),
		PosDelta:        coerce(data["Pos_Delta"]),
		PosGamma:        coerce(data["Pos_Gamma"]),
		SumCallDelta:    coerce(data["sum_call_delta"]),
		SumPutDelta:     coerce(data["sum_put_delta"]),
		DeltaSkewPct:    coerce(data["Delta_Skew_%"]),
		GammaToDeltaPct: coerce(data["Gamma_to_Delta_%"]),
		MarginUsed:      marginUsed,
		CreatedAt:       s.now(),
	}
}

// -----------------------------------------------------------------------------

// Latest is the status-surface view: the newest position, margin and tick
// payloads seen on the channels.
func (s *Streamer) Latest() map[string]interface{} {
	s.mu.RLock()
	defer s.mu.RUnlock()

	positions := make(map[string]map[string]interface{}, len(s.latest))
	for tag, data := range s.latest {
		positions[tag] = data
	}
	margins := make(map[string]string, len(s.latestMargin))
	for tag, payload := range s.latestMargin {
		margins[tag] = payload
	}

	return map[string]interface{}{
		"positions": positions,
		"margins":   margins,
		"ticks":     s.latestTicks,
	}
}

// -----------------------------------------------------------------------------

func coerce(v interface{}) float64 {
	switch val := v.(type) {
	case float64:
		return val
	case string:
		f, err := strconv.ParseFloat(val, 64)
		if err != nil {
			return 0
		}
		return f
	case json.Number:
		f, err := val.Float64()
		if err != nil {
			return 0
		}
		return f
	}
	return 0
}

func stringify(v interface{}) string {
	switch val := v.(type) {
	case nil:
		return ""
	case string:
		return val
	case float64:
		return strconv.FormatFloat(val, 'f', -1, 64)
	default:
		out, _ := json.Marshal(val)
		return string(out)
	}
}

func round(v float64, places int) float64 {
	f := math.Pow10(places)
	return math.Round(v*f) / f
}
