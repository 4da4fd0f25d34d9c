package utils

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTickCacheUpdateAndGet(t *testing.T) {
	c := NewTickCache()

	_, ok := c.Get("NSE:NIFTY 50")
	assert.False(t, ok)

	now := time.Now()
	c.UpdatePrice("NSE:NIFTY 50", 25000, now)

	tick, ok := c.Get("NSE:NIFTY 50")
	require.True(t, ok)
	assert.InDelta(t, 25000.0, tick.LastPrice, 1e-9)
	assert.Equal(t, now, tick.Timestamp)
	assert.False(t, tick.Classified)
}

func TestTickCacheClassifyOnce(t *testing.T) {
	c := NewTickCache()
	expiry := time.Date(2026, 8, 27, 0, 0, 0, 0, time.UTC)

	c.Classify("NFO:NIFTY26AUG25000CE", "NSE:NIFTY 50", expiry, 25000, "CE")
	require.True(t, c.IsClassified("NFO:NIFTY26AUG25000CE"))

	// Metadata is immutable after the first sight
	c.Classify("NFO:NIFTY26AUG25000CE", "NSE:OTHER", expiry.AddDate(0, 1, 0), 26000, "PE")

	tick, ok := c.Get("NFO:NIFTY26AUG25000CE")
	require.True(t, ok)
	assert.Equal(t, "NSE:NIFTY 50", tick.Underlying)
	assert.Equal(t, "CE", tick.OptType)
	assert.InDelta(t, 25000.0, tick.Strike, 1e-9)
}

func TestTickCachePriceUpdateKeepsClassification(t *testing.T) {
	c := NewTickCache()
	expiry := time.Date(2026, 8, 27, 0, 0, 0, 0, time.UTC)

	c.Classify("NFO:NIFTY26AUG25000CE", "NSE:NIFTY 50", expiry, 25000, "CE")
	c.UpdatePrice("NFO:NIFTY26AUG25000CE", 132.5, time.Now())

	tick, _ := c.Get("NFO:NIFTY26AUG25000CE")
	assert.True(t, tick.Classified)
	assert.InDelta(t, 132.5, tick.LastPrice, 1e-9)
	assert.Equal(t, expiry, tick.ExpiryDate)
}

func TestTickCacheStats(t *testing.T) {
	c := NewTickCache()
	now := time.Now()

	c.UpdatePrice("A", 1, now)
	c.UpdatePrice("B", 2, now.Add(-2*time.Minute))

	total, stale := c.Stats(now, time.Minute)
	assert.Equal(t, 2, total)
	assert.Equal(t, 1, stale)
}
