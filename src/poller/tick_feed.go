package poller

import (
	"context"
	"encoding/json"
	"regexp"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"broker-observer/src/analysis"
	"broker-observer/src/logger"
	"broker-observer/src/models"
	"broker-observer/src/utils"
)

// -----------------------------------------------------------------------------

// Derivative symbols embed a 5-character expiry token after the name, then
// the strike, then the two-letter option type.
var optionSymbolPattern = regexp.MustCompile(`^([A-Z]+)(\d.{4})(.*)(..)$`)

// TickFeed is the websocket client feeding the shared tick cache. It
// reconnects forever until its context is cancelled; the poller owns its
// lifecycle.
type TickFeed struct {
	url     string
	backoff time.Duration
	ticks   *utils.TickCache
	expiry  *analysis.ExpiryProvider
	logger  *logger.Logger
	dialer  *websocket.Dialer
}

// -----------------------------------------------------------------------------

func NewTickFeed(url string, backoff time.Duration, ticks *utils.TickCache, expiry *analysis.ExpiryProvider, log *logger.Logger) *TickFeed {
	return &TickFeed{
		url:     url,
		backoff: backoff,
		ticks:   ticks,
		expiry:  expiry,
		logger:  log.Named("feed"),
		dialer:  websocket.DefaultDialer,
	}
}

// -----------------------------------------------------------------------------

// Start launches the receive loop.
// ctx: cancellation closes the connection and stops reconnecting
// wg: signals when the loop has fully stopped
func (f *TickFeed) Start(ctx context.Context, wg *sync.WaitGroup) {
	wg.Add(1)
	go func() {
		defer wg.Done()
		f.run(ctx)
	}()
	f.logger.Info("Tick receiver started for %s", f.url)
}

func (f *TickFeed) run(ctx context.Context) {
	for ctx.Err() == nil {
		conn, _, err := f.dialer.DialContext(ctx, f.url, nil)
		if err != nil {
			f.logger.Warning("Connect to %s failed: %v", f.url, err)
			f.wait(ctx)
			continue
		}

		f.readLoop(ctx, conn)
		f.wait(ctx)
	}
	f.logger.Info("Tick receiver stopped")
}

// readLoop reads until the connection breaks or the context is cancelled.
// The watcher goroutine closes the connection to unblock ReadMessage.
func (f *TickFeed) readLoop(ctx context.Context, conn *websocket.Conn) {
	done := make(chan struct{})
	defer close(done)

	go func() {
		select {
		case <-ctx.Done():
			conn.Close()
		case <-done:
			conn.Close()
		}
	}()

	for {
		_, message, err := conn.ReadMessage()
		if err != nil {
			if ctx.Err() == nil {
				f.logger.Warning("Reconnecting after read error: %v", err)
			}
			return
		}
		f.processMessage(message)
	}
}

func (f *TickFeed) wait(ctx context.Context) {
	t := time.NewTimer(f.backoff)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C:
	}
}

// -----------------------------------------------------------------------------

// processMessage applies one batch of tick updates. A symbol seen for the
// first time gets classified once; later updates only touch its price.
func (f *TickFeed) processMessage(message []byte) {
	var updates map[string]models.MFeedTick
	if err := json.Unmarshal(message, &updates); err != nil {
		f.logger.Warning("Dropping malformed tick batch: %v", err)
		return
	}

	for symbol, tick := range updates {
		if !f.ticks.IsClassified(symbol) {
			f.classify(symbol)
		}

		ts, err := time.Parse(time.RFC3339, tick.ExchangeTimestamp)
		if err != nil {
			ts = time.Now()
		}
		f.ticks.UpdatePrice(symbol, tick.LastPrice, ts)
	}
}

// classify extracts option metadata from a derivative symbol. Non-derivative
// symbols and futures stay unclassified and only carry a price.
func (f *TickFeed) classify(symbol string) {
	if len(symbol) < 4 {
		return
	}

	exchange := symbol[:3]
	if exchange != "NFO" && exchange != "BFO" {
		return
	}
	if strings.HasSuffix(strings.ToUpper(symbol), "FUT") {
		return
	}

	seg, ok := f.expiry.Segment(exchange)
	if !ok {
		return
	}

	m := optionSymbolPattern.FindStringSubmatch(symbol[4:])
	if m == nil {
		f.logger.Debug("Cannot classify symbol %s", symbol)
		return
	}

	expiryDate, err := f.expiry.ExpandExpiryToken(exchange, m[2])
	if err != nil {
		f.logger.Debug("Cannot classify symbol %s: %v", symbol, err)
		return
	}

	strike, err := strconv.Atoi(m[3])
	if err != nil {
		f.logger.Debug("Cannot classify symbol %s: bad strike %q", symbol, m[3])
		return
	}

	underlying := seg.Exchange + ":" + seg.Underlying
	f.ticks.Classify(symbol, underlying, expiryDate, float64(strike), m[4])
}
