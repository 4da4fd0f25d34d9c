package streamer

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"broker-observer/src/interfaces"
	"broker-observer/src/logger"
	"broker-observer/src/models"
	"broker-observer/src/utils"
)

// -----------------------------------------------------------------------------

type streamWrite struct {
	key    string
	fields map[string]string
}

type fakeStore struct {
	mu      sync.Mutex
	xadds   []streamWrite
	expires map[string]time.Time
}

func newFakeStore() *fakeStore {
	return &fakeStore{expires: make(map[string]time.Time)}
}

func (f *fakeStore) Ping(ctx context.Context) error                         { return nil }
func (f *fakeStore) HGet(ctx context.Context, key, field string) (string, error) { return "", nil }
func (f *fakeStore) HSetBatch(ctx context.Context, writes []models.MHashWrite) error { return nil }
func (f *fakeStore) Publish(ctx context.Context, channel, payload string) error { return nil }

func (f *fakeStore) Subscribe(ctx context.Context, channels ...string) (<-chan models.MChannelMessage, error) {
	ch := make(chan models.MChannelMessage)
	go func() {
		<-ctx.Done()
		close(ch)
	}()
	return ch, nil
}

func (f *fakeStore) XAdd(ctx context.Context, stream string, fields map[string]string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	copied := make(map[string]string, len(fields))
	for k, v := range fields {
		copied[k] = v
	}
	f.xadds = append(f.xadds, streamWrite{key: stream, fields: copied})
	return nil
}

func (f *fakeStore) Delete(ctx context.Context, keys ...string) error { return nil }

func (f *fakeStore) ExpireAt(ctx context.Context, key string, at time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.expires[key] = at
	return nil
}

func (f *fakeStore) Get(ctx context.Context, key string) (string, error) { return "", nil }
func (f *fakeStore) Close() error                                        { return nil }

func (f *fakeStore) writesFor(key string) []streamWrite {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []streamWrite
	for _, w := range f.xadds {
		if w.key == key {
			out = append(out, w)
		}
	}
	return out
}

// -----------------------------------------------------------------------------

type fakeArchive struct {
	mu      sync.Mutex
	entries []models.MStreamEntry
}

func (f *fakeArchive) Initialize() error { return nil }
func (f *fakeArchive) SaveStreamEntries(entries []models.MStreamEntry) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.entries = append(f.entries, entries...)
	return nil
}
func (f *fakeArchive) CleanupOldData() error { return nil }
func (f *fakeArchive) Close() error          { return nil }

// -----------------------------------------------------------------------------

func newTestStreamer(store *fakeStore, archive *fakeArchive) *Streamer {
	loc, _ := time.LoadLocation("Asia/Kolkata")
	log := logger.NewLogger("test", "error")
	market := models.MMarketConfig{Timezone: "Asia/Kolkata", Open: "09:15", Close: "15:30"}
	cal := utils.NewTradingCalendar(market, nil, loc, log)
	gate := utils.NewMarketGate(market, cal, store, loc, log)

	var arch interfaces.IArchive
	if archive != nil {
		arch = archive
	}

	s := NewStreamer(store, arch, gate, models.MStreamerConfig{StreamGapSeconds: 5}, loc, log)
	s.now = func() time.Time {
		return time.Date(2026, 8, 25, 10, 0, 30, 0, loc)
	}
	return s
}

func positionPayload(broker string, ts time.Time, delta, gamma, callDelta, putDelta float64) string {
	data := map[string]interface{}{
		"Broker":           broker,
		"timestamp":        ts.Format(time.RFC3339),
		"PE_Qty":           -100.0,
		"CE_Qty":           -100.0,
		"Premium":          5000.0,
		"MTM":              1200.0,
		"Pos_Delta":        delta,
		"Pos_Gamma":        gamma,
		"sum_call_delta":   callDelta,
		"sum_put_delta":    putDelta,
		"Margin_Used":      "25.00%",
		"Delta_Skew_%":     0.0,
		"Gamma_to_Delta_%": 0.0,
	}
	out, _ := json.Marshal(data)
	return string(out)
}

func istTime(hour, min, sec int) time.Time {
	loc, _ := time.LoadLocation("Asia/Kolkata")
	return time.Date(2026, 8, 25, hour, min, sec, 0, loc)
}

// -----------------------------------------------------------------------------

func TestHandlePositionWritesPerAccountStream(t *testing.T) {
	store := newFakeStore()
	s := newTestStreamer(store, nil)

	err := s.handlePosition(context.Background(), positionPayload("kite:A1", istTime(10, 0, 0), 10, 2, 6, 4))
	require.NoError(t, err)

	writes := store.writesFor("position_book_stream:kite:A1")
	require.Len(t, writes, 1)
	assert.Equal(t, "kite:A1", writes[0].fields["Broker"])
	assert.Equal(t, "10", writes[0].fields["Pos_Delta"])
	assert.Equal(t, "25.00%", writes[0].fields["Margin_Used"])
}

func TestHandlePositionDebouncesPerAccount(t *testing.T) {
	store := newFakeStore()
	s := newTestStreamer(store, nil)

	require.NoError(t, s.handlePosition(context.Background(), positionPayload("kite:A1", istTime(10, 0, 0), 10, 2, 6, 4)))
	require.NoError(t, s.handlePosition(context.Background(), positionPayload("kite:A1", istTime(10, 0, 2), 11, 2, 6, 5)))
	require.NoError(t, s.handlePosition(context.Background(), positionPayload("kite:A1", istTime(10, 0, 6), 12, 2, 6, 6)))

	// Messages 2s apart collapse; the 6s one passes the gap
	writes := store.writesFor("position_book_stream:kite:A1")
	require.Len(t, writes, 2)
	assert.Equal(t, "10", writes[0].fields["Pos_Delta"])
	assert.Equal(t, "12", writes[1].fields["Pos_Delta"])
}

func TestConsolidatedSnapshotSumsAccounts(t *testing.T) {
	store := newFakeStore()
	s := newTestStreamer(store, nil)

	require.NoError(t, s.handlePosition(context.Background(), positionPayload("kite:A1", istTime(10, 0, 0), 10, 2, 6, 4)))
	require.NoError(t, s.handlePosition(context.Background(), positionPayload("shoonya:B2", istTime(10, 0, 6), -4, 1, -2, -2)))

	writes := store.writesFor("position_book_stream:ALL")
	require.Len(t, writes, 2)

	last := writes[1].fields
	assert.Equal(t, "6", last["Pos_Delta"])
	assert.Equal(t, "3", last["Pos_Gamma"])
	assert.Equal(t, "4", last["sum_call_delta"])
	assert.Equal(t, "2", last["sum_put_delta"])

	// |4-2|/|6|*100 = 33.33, |3/6|*100 = 50
	skew, err := strconv.ParseFloat(last["Delta_Skew_%"], 64)
	require.NoError(t, err)
	assert.InDelta(t, 33.33, skew, 1e-9)

	ratio, err := strconv.ParseFloat(last["Gamma_to_Delta_%"], 64)
	require.NoError(t, err)
	assert.InDelta(t, 50.0, ratio, 1e-9)
}

func TestConsolidatedCoercesBadValues(t *testing.T) {
	store := newFakeStore()
	s := newTestStreamer(store, nil)

	payload := fmt.Sprintf(`{"Broker":"kite:A1","timestamp":%q,
		"PE_Qty":"not-a-number","CE_Qty":null,"Premium":"5000","MTM":1200,
		"Pos_Delta":10,"Pos_Gamma":2,"sum_call_delta":6,"sum_put_delta":4}`,
		istTime(10, 0, 0).Format(time.RFC3339))
	require.NoError(t, s.handlePosition(context.Background(), payload))

	writes := store.writesFor("position_book_stream:ALL")
	require.Len(t, writes, 1)
	assert.Equal(t, "0", writes[0].fields["PE_Qty"])
	assert.Equal(t, "0", writes[0].fields["CE_Qty"])
	assert.Equal(t, "5000", writes[0].fields["Premium"])
}

func TestZeroDeltaProducesZeroRatios(t *testing.T) {
	store := newFakeStore()
	s := newTestStreamer(store, nil)

	require.NoError(t, s.handlePosition(context.Background(), positionPayload("kite:A1", istTime(10, 0, 0), 0, 2, 3, -3)))

	writes := store.writesFor("position_book_stream:ALL")
	require.Len(t, writes, 1)
	assert.Equal(t, "0", writes[0].fields["Delta_Skew_%"])
	assert.Equal(t, "0", writes[0].fields["Gamma_to_Delta_%"])
}

func TestDayRolloverResetsState(t *testing.T) {
	store := newFakeStore()
	s := newTestStreamer(store, nil)

	loc, _ := time.LoadLocation("Asia/Kolkata")
	require.NoError(t, s.handlePosition(context.Background(), positionPayload("kite:A1", istTime(15, 29, 0), 10, 2, 6, 4)))

	// Next day: the old account must not leak into the consolidated sum
	nextDay := time.Date(2026, 8, 26, 9, 15, 0, 0, loc)
	require.NoError(t, s.handlePosition(context.Background(), positionPayload("shoonya:B2", nextDay, -4, 1, -2, -2)))

	writes := store.writesFor("position_book_stream:ALL")
	require.Len(t, writes, 2)
	assert.Equal(t, "-4", writes[1].fields["Pos_Delta"])
}

func TestHandlePositionRejectsMalformed(t *testing.T) {
	s := newTestStreamer(newFakeStore(), nil)

	assert.Error(t, s.handlePosition(context.Background(), "not json"))
	assert.Error(t, s.handlePosition(context.Background(), `{"timestamp":"2026-08-25T10:00:00+05:30"}`))
	assert.Error(t, s.handlePosition(context.Background(), `{"Broker":"kite:A1"}`))
	assert.Error(t, s.handlePosition(context.Background(), `{"Broker":"kite:A1","timestamp":"yesterday"}`))
}

func TestStreamKeysExpireBeforeNextOpen(t *testing.T) {
	store := newFakeStore()
	s := newTestStreamer(store, nil)

	require.NoError(t, s.handlePosition(context.Background(), positionPayload("kite:A1", istTime(10, 0, 0), 10, 2, 6, 4)))

	at, ok := store.expires["position_book_stream:kite:A1"]
	require.True(t, ok)
	assert.True(t, at.After(istTime(10, 0, 0)))
}

func TestStreamEntriesArchived(t *testing.T) {
	store := newFakeStore()
	archive := &fakeArchive{}
	s := newTestStreamer(store, archive)

	require.NoError(t, s.handlePosition(context.Background(), positionPayload("kite:A1", istTime(10, 0, 0), 10, 2, 6, 4)))

	archive.mu.Lock()
	defer archive.mu.Unlock()
	require.Len(t, archive.entries, 2) // per-account plus consolidated

	assert.Equal(t, "kite:A1", archive.entries[0].Broker)
	assert.InDelta(t, 10.0, archive.entries[0].PosDelta, 1e-9)
	assert.Equal(t, "25.00%", archive.entries[0].MarginUsed)
	assert.Equal(t, "ALL", archive.entries[1].Broker)
}

// -----------------------------------------------------------------------------

func TestHandleMarginUpdatesLatest(t *testing.T) {
	s := newTestStreamer(newFakeStore(), nil)

	payload := `{"Broker":"kite:A1","Used":"25.00%"}`
	require.NoError(t, s.handleMargin(payload))

	latest := s.Latest()
	margins := latest["margins"].(map[string]string)
	assert.Equal(t, payload, margins["kite:A1"])

	assert.Error(t, s.handleMargin(`{"no_broker":true}`))
}
