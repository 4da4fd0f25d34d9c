package poller

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"broker-observer/src/interfaces"
	"broker-observer/src/logger"
	"broker-observer/src/models"
	"broker-observer/src/utils"
)

// -----------------------------------------------------------------------------

// SessionFactory builds fresh broker sessions for one market activation.
// Sessions are recreated every activation so per-day state (token validity,
// margin high-water marks) starts clean.
type SessionFactory func() ([]interfaces.IBrokerSession, error)

// Poller drives the market-hours polling cycle: it gates on trading hours,
// owns the tick feed and broker session lifecycles, and fans one fetch cycle
// out per interval.
type Poller struct {
	store    interfaces.IStateStore
	gate     *utils.MarketGate
	ticks    *utils.TickCache
	feed     *TickFeed
	sessions SessionFactory
	logger   *logger.Logger

	interval time.Duration
	maxWait  time.Duration
	loc      *time.Location

	mu     sync.RWMutex
	active []interfaces.IBrokerSession

	now func() time.Time
}

// -----------------------------------------------------------------------------

func NewPoller(store interfaces.IStateStore, gate *utils.MarketGate, ticks *utils.TickCache, feed *TickFeed, sessions SessionFactory, cfg models.MPollerConfig, loc *time.Location, log *logger.Logger) *Poller {
	return &Poller{
		store:    store,
		gate:     gate,
		ticks:    ticks,
		feed:     feed,
		sessions: sessions,
		logger:   log.Named("poller"),
		interval: time.Duration(cfg.PollIntervalSeconds) * time.Second,
		maxWait:  time.Duration(cfg.MaxWaitMinutes) * time.Minute,
		loc:      loc,
		now:      time.Now,
	}
}

// -----------------------------------------------------------------------------

// SessionStatus reports the currently active sessions for the status surface.
func (p *Poller) SessionStatus() []models.MSessionStatus {
	p.mu.RLock()
	defer p.mu.RUnlock()

	statuses := make([]models.MSessionStatus, 0, len(p.active))
	for _, s := range p.active {
		statuses = append(statuses, models.MSessionStatus{
			Broker:     s.Broker(),
			AccountID:  s.AccountID(),
			TokenValid: s.TokenValid(),
		})
	}
	return statuses
}

// -----------------------------------------------------------------------------

// Run alternates between waiting for the market and an active polling phase
// until the context is cancelled.
func (p *Poller) Run(ctx context.Context) {
	for ctx.Err() == nil {
		if !p.gate.IsOpen(ctx) {
			p.waitForOpen(ctx)
			continue
		}
		p.runActive(ctx)
	}
	p.logger.Info("Poller stopped")
}

// waitForOpen sleeps in bounded slices so shutdown and override flips are
// picked up within minutes, not at the next session open.
func (p *Poller) waitForOpen(ctx context.Context) {
	p.logger.Info("Market closed, waiting")
	t := time.NewTimer(p.maxWait)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C:
	}
}

// -----------------------------------------------------------------------------

// runActive is one market activation: fresh sessions and feed come up, the
// cycle ticker runs until close, then everything is torn down in order.
func (p *Poller) runActive(ctx context.Context) {
	p.logger.Info("Market open, starting data polling and tick receiver")

	sessions, err := p.sessions()
	if err != nil {
		p.logger.Error("Building broker sessions failed: %v", err)
		p.waitForOpen(ctx)
		return
	}

	p.clearStale(ctx, sessions)

	runCtx, cancel := context.WithCancel(ctx)
	var wg sync.WaitGroup

	for _, s := range sessions {
		if err := s.StartValidation(runCtx, &wg); err != nil {
			p.logger.Error("Starting validation for %s failed: %v", s.Tag(), err)
		}
	}
	p.feed.Start(runCtx, &wg)

	p.mu.Lock()
	p.active = sessions
	p.mu.Unlock()

	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for ctx.Err() == nil && p.gate.IsOpen(ctx) {
		p.pollOnce(ctx, sessions)
		select {
		case <-ctx.Done():
		case <-ticker.C:
		}
	}

	// Feed first, then sessions one at a time.
	cancel()
	for _, s := range sessions {
		s.StopValidation()
	}
	wg.Wait()

	p.mu.Lock()
	p.active = nil
	p.mu.Unlock()

	p.logger.Info("Market closed, polling stopped")
}

// clearStale drops the previous day's books and stream keys so downstream
// readers never see yesterday's state on a fresh activation.
func (p *Poller) clearStale(ctx context.Context, sessions []interfaces.IBrokerSession) {
	keys := []string{models.KeyMarginBook, models.KeyPositionBook}
	for _, s := range sessions {
		keys = append(keys, models.StreamPositionBook+":"+s.Tag())
	}
	keys = append(keys, models.StreamPositionBook+":"+models.ConsolidatedTag)

	if err := p.store.Delete(ctx, keys...); err != nil {
		p.logger.Warning("Clearing stale keys failed: %v", err)
	}
}

// -----------------------------------------------------------------------------

type writeOp struct {
	label   string
	field   string
	payload string
}

// pollOnce fans one fetch cycle out across all sessions and books. Each
// fetch is isolated: one panicking or failing account never costs the others
// their cycle.
func (p *Poller) pollOnce(ctx context.Context, sessions []interfaces.IBrokerSession) {
	type fetchTask struct {
		label   string
		session interfaces.IBrokerSession
		fetch   func(context.Context) (interface{}, error)
	}

	var tasks []fetchTask
	for _, s := range sessions {
		s := s
		tasks = append(tasks,
			fetchTask{models.KeyMarginBook, s, func(ctx context.Context) (interface{}, error) {
				mb, err := s.MarginBook(ctx)
				if mb == nil {
					return nil, err
				}
				return mb, err
			}},
			fetchTask{models.KeyPositionBook, s, func(ctx context.Context) (interface{}, error) {
				pb, err := s.PositionBook(ctx)
				if pb == nil {
					return nil, err
				}
				return pb, err
			}},
		)
	}

	var mu sync.Mutex
	var ops []writeOp
	var wg sync.WaitGroup

	for _, t := range tasks {
		t := t
		wg.Add(1)
		go func() {
			defer wg.Done()
			defer func() {
				if r := recover(); r != nil {
					p.logger.Warning("[%s] Panic in %s fetch: %v", t.session.Tag(), t.label, r)
				}
			}()

			result, err := t.fetch(ctx)
			if err != nil {
				p.logger.Warning("[%s] Error in %s: %v", t.session.Tag(), t.label, err)
				return
			}

			payload := serialize(result)
			if payload == "" {
				p.logger.Debug("[%s] Skipping %s update, no data", t.session.Tag(), t.label)
				return
			}

			mu.Lock()
			ops = append(ops, writeOp{t.label, t.session.Tag(), payload})
			mu.Unlock()
		}()
	}
	wg.Wait()

	if len(ops) > 0 {
		writes := make([]models.MHashWrite, 0, len(ops))
		for _, op := range ops {
			writes = append(writes, models.MHashWrite{Key: op.label, Field: op.field, Value: op.payload})
		}
		if err := p.store.HSetBatch(ctx, writes); err != nil {
			p.logger.Error("Committing book updates failed: %v", err)
			return
		}

		// Publishes ride outside the batch: subscribers get them after the
		// hashes are committed.
		for _, op := range ops {
			if err := p.store.Publish(ctx, op.label+models.ChannelSuffix, op.payload); err != nil {
				p.logger.Warning("Publishing %s update failed: %v", op.label, err)
			}
		}
	}

	p.publishTickSummary(ctx)
}

// publishTickSummary reports tick cache health once per cycle.
func (p *Poller) publishTickSummary(ctx context.Context) {
	now := p.now()
	total, stale := p.ticks.Stats(now, time.Minute)
	if total == 0 {
		return
	}

	summary := models.MTickSummary{
		Broker:    "TICKS",
		Timestamp: now.In(p.loc).Format(time.RFC3339),
		Symbols:   total,
		Stale:     stale,
	}
	payload, err := json.Marshal(summary)
	if err != nil {
		return
	}
	if err := p.store.Publish(ctx, models.ChannelTickSummary, string(payload)); err != nil {
		p.logger.Warning("Publishing tick summary failed: %v", err)
	}
}

// -----------------------------------------------------------------------------

// serialize renders a book for the store, dropping empty results.
func serialize(data interface{}) string {
	if data == nil {
		return ""
	}
	out, err := json.Marshal(data)
	if err != nil || string(out) == "null" {
		return ""
	}
	return string(out)
}
