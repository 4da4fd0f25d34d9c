package utils

import (
	"sync"
	"time"

	"broker-observer/src/models"
)

// TickCache holds the latest observed tick per instrument symbol. It is
// written only by the tick feed consumer; position enrichment reads it.
// Option metadata is immutable once a symbol is classified.
type TickCache struct {
	mu    sync.RWMutex
	ticks map[string]models.MTick
}

// -----------------------------------------------------------------------------

func NewTickCache() *TickCache {
	return &TickCache{ticks: make(map[string]models.MTick)}
}

// -----------------------------------------------------------------------------

// Get returns the latest tick for a symbol key.
func (c *TickCache) Get(symbol string) (models.MTick, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	t, ok := c.ticks[symbol]
	return t, ok
}

// -----------------------------------------------------------------------------

// IsClassified reports whether option metadata is already attached.
func (c *TickCache) IsClassified(symbol string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.ticks[symbol].Classified
}

// -----------------------------------------------------------------------------

// Classify attaches option metadata on first sight. Later calls for the same
// symbol are ignored.
func (c *TickCache) Classify(symbol, underlying string, expiry time.Time, strike float64, optType string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	t := c.ticks[symbol]
	if t.Classified {
		return
	}
	t.Underlying = underlying
	t.ExpiryDate = expiry
	t.Strike = strike
	t.OptType = optType
	t.Classified = true
	c.ticks[symbol] = t
}

// -----------------------------------------------------------------------------

// UpdatePrice records the latest price for a symbol, classified or not.
func (c *TickCache) UpdatePrice(symbol string, price float64, ts time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	t := c.ticks[symbol]
	t.LastPrice = price
	t.Timestamp = ts
	c.ticks[symbol] = t
}

// -----------------------------------------------------------------------------

// Stats returns the symbol count and how many symbols have not ticked within
// maxAge of now.
func (c *TickCache) Stats(now time.Time, maxAge time.Duration) (total, stale int) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	for _, t := range c.ticks {
		total++
		if now.Sub(t.Timestamp) > maxAge {
			stale++
		}
	}
	return total, stale
}
