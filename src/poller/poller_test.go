package poller

import (
	"context"
	"errors"
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

type fakeStore struct {
	mu        sync.Mutex
	hashes    map[string]map[string]string
	published []models.MChannelMessage
	deleted   []string
}

func newFakeStore() *fakeStore {
	return &fakeStore{hashes: make(map[string]map[string]string)}
}

func (f *fakeStore) Ping(ctx context.Context) error                              { return nil }
func (f *fakeStore) HGet(ctx context.Context, key, field string) (string, error) { return "", nil }

func (f *fakeStore) HSetBatch(ctx context.Context, writes []models.MHashWrite) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, w := range writes {
		if f.hashes[w.Key] == nil {
			f.hashes[w.Key] = make(map[string]string)
		}
		f.hashes[w.Key][w.Field] = w.Value
	}
	return nil
}

func (f *fakeStore) Publish(ctx context.Context, channel, payload string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.published = append(f.published, models.MChannelMessage{Channel: channel, Payload: payload})
	return nil
}

func (f *fakeStore) Subscribe(ctx context.Context, channels ...string) (<-chan models.MChannelMessage, error) {
	ch := make(chan models.MChannelMessage)
	go func() {
		<-ctx.Done()
		close(ch)
	}()
	return ch, nil
}

func (f *fakeStore) XAdd(ctx context.Context, stream string, fields map[string]string) error {
	return nil
}

func (f *fakeStore) Delete(ctx context.Context, keys ...string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.deleted = append(f.deleted, keys...)
	return nil
}

func (f *fakeStore) ExpireAt(ctx context.Context, key string, at time.Time) error { return nil }
func (f *fakeStore) Get(ctx context.Context, key string) (string, error)          { return "", nil }
func (f *fakeStore) Close() error                                                 { return nil }

func (f *fakeStore) hashField(key, field string) string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.hashes[key][field]
}

func (f *fakeStore) publishedOn(channel string) []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []string
	for _, m := range f.published {
		if m.Channel == channel {
			out = append(out, m.Payload)
		}
	}
	return out
}

// -----------------------------------------------------------------------------

type fakeSession struct {
	broker  string
	account string

	marginErr   error
	positionErr error
	panics      bool
	noData      bool
}

func (s *fakeSession) Broker() string    { return s.broker }
func (s *fakeSession) AccountID() string { return s.account }
func (s *fakeSession) Tag() string       { return s.broker + ":" + s.account }
func (s *fakeSession) TokenValid() bool  { return true }

func (s *fakeSession) MarginBook(ctx context.Context) (*models.MMarginBook, error) {
	if s.panics {
		panic("boom")
	}
	if s.marginErr != nil {
		return nil, s.marginErr
	}
	if s.noData {
		return nil, nil
	}
	return &models.MMarginBook{Broker: s.Tag(), Used: 100}, nil
}

func (s *fakeSession) PositionBook(ctx context.Context) (*models.MPositionSummary, error) {
	if s.panics {
		panic("boom")
	}
	if s.positionErr != nil {
		return nil, s.positionErr
	}
	if s.noData {
		return nil, nil
	}
	return &models.MPositionSummary{Broker: s.Tag(), PosDelta: 25}, nil
}

func (s *fakeSession) StartValidation(ctx context.Context, wg *sync.WaitGroup) error { return nil }
func (s *fakeSession) StopValidation()                                               {}

// -----------------------------------------------------------------------------

func newTestPoller(store *fakeStore) *Poller {
	loc, _ := time.LoadLocation("Asia/Kolkata")
	log := logger.NewLogger("test", "error")
	market := models.MMarketConfig{Timezone: "Asia/Kolkata", Open: "09:15", Close: "15:30"}
	cal := utils.NewTradingCalendar(market, nil, loc, log)
	gate := utils.NewMarketGate(market, cal, store, loc, log)

	cfg := models.MPollerConfig{PollIntervalSeconds: 1, FeedBackoffSeconds: 1, MaxWaitMinutes: 5}
	return NewPoller(store, gate, utils.NewTickCache(), nil, nil, cfg, loc, log)
}

// -----------------------------------------------------------------------------

func TestPollOnceWritesAndPublishes(t *testing.T) {
	store := newFakeStore()
	p := newTestPoller(store)

	sessions := []interfaces.IBrokerSession{
		&fakeSession{broker: "kite", account: "A1"},
	}
	p.pollOnce(context.Background(), sessions)

	margin := store.hashField(models.KeyMarginBook, "kite:A1")
	require.NotEmpty(t, margin)
	assert.Contains(t, margin, `"Broker":"kite:A1"`)

	position := store.hashField(models.KeyPositionBook, "kite:A1")
	require.NotEmpty(t, position)
	assert.Contains(t, position, `"Pos_Delta":25`)

	assert.Len(t, store.publishedOn(models.KeyMarginBook+models.ChannelSuffix), 1)
	assert.Len(t, store.publishedOn(models.KeyPositionBook+models.ChannelSuffix), 1)
}

func TestPollOnceIsolatesFailingSession(t *testing.T) {
	store := newFakeStore()
	p := newTestPoller(store)

	sessions := []interfaces.IBrokerSession{
		&fakeSession{broker: "kite", account: "A1"},
		&fakeSession{broker: "shoonya", account: "B2", marginErr: errors.New("timeout"), positionErr: errors.New("timeout")},
		&fakeSession{broker: "neo", account: "C3"},
	}
	p.pollOnce(context.Background(), sessions)

	// The failing account contributes nothing; the others are unaffected
	assert.NotEmpty(t, store.hashField(models.KeyMarginBook, "kite:A1"))
	assert.NotEmpty(t, store.hashField(models.KeyMarginBook, "neo:C3"))
	assert.Empty(t, store.hashField(models.KeyMarginBook, "shoonya:B2"))
	assert.Empty(t, store.hashField(models.KeyPositionBook, "shoonya:B2"))
}

func TestPollOnceContainsPanickingSession(t *testing.T) {
	store := newFakeStore()
	p := newTestPoller(store)

	sessions := []interfaces.IBrokerSession{
		&fakeSession{broker: "kite", account: "A1", panics: true},
		&fakeSession{broker: "neo", account: "C3"},
	}

	assert.NotPanics(t, func() {
		p.pollOnce(context.Background(), sessions)
	})
	assert.NotEmpty(t, store.hashField(models.KeyMarginBook, "neo:C3"))
	assert.Empty(t, store.hashField(models.KeyMarginBook, "kite:A1"))
}

func TestPollOnceSkipsEmptyResults(t *testing.T) {
	store := newFakeStore()
	p := newTestPoller(store)

	sessions := []interfaces.IBrokerSession{
		&fakeSession{broker: "kite", account: "A1", noData: true},
	}
	p.pollOnce(context.Background(), sessions)

	assert.Empty(t, store.hashField(models.KeyMarginBook, "kite:A1"))
	assert.Empty(t, store.publishedOn(models.KeyMarginBook+models.ChannelSuffix))
}

func TestPollOncePublishesTickSummary(t *testing.T) {
	store := newFakeStore()
	p := newTestPoller(store)
	p.ticks.UpdatePrice("NSE:NIFTY 50", 25000, time.Now())

	p.pollOnce(context.Background(), nil)

	summaries := store.publishedOn(models.ChannelTickSummary)
	require.Len(t, summaries, 1)
	assert.Contains(t, summaries[0], `"Broker":"TICKS"`)
	assert.Contains(t, summaries[0], `"symbols":1`)
}

func TestClearStaleDropsBooksAndStreams(t *testing.T) {
	store := newFakeStore()
	p := newTestPoller(store)

	sessions := []interfaces.IBrokerSession{
		&fakeSession{broker: "kite", account: "A1"},
	}
	p.clearStale(context.Background(), sessions)

	store.mu.Lock()
	defer store.mu.Unlock()
	assert.Contains(t, store.deleted, models.KeyMarginBook)
	assert.Contains(t, store.deleted, models.KeyPositionBook)
	assert.Contains(t, store.deleted, "position_book_stream:kite:A1")
	assert.Contains(t, store.deleted, "position_book_stream:ALL")
}

func TestSessionStatusReflectsActiveSessions(t *testing.T) {
	p := newTestPoller(newFakeStore())
	assert.Empty(t, p.SessionStatus())

	p.mu.Lock()
	p.active = []interfaces.IBrokerSession{&fakeSession{broker: "kite", account: "A1"}}
	p.mu.Unlock()

	statuses := p.SessionStatus()
	require.Len(t, statuses, 1)
	assert.Equal(t, "kite", statuses[0].Broker)
	assert.Equal(t, "A1", statuses[0].AccountID)
	assert.True(t, statuses[0].TokenValid)
}
