package market

import (
	"sync"
	"time"
)

// Quote is the latest mid price seen for a venue/symbol pair.
type Quote struct {
	Mid       float64
	UpdatedAt time.Time
}

type key struct {
	venue  string
	symbol string
}

// Cache holds the latest mid per venue/symbol and the latest funding sample.
// It is written by feeds and read by the engine; entries are replaced, never merged.
type Cache struct {
	maxAge time.Duration
	now    func() time.Time

	mu      sync.RWMutex
	quotes  map[key]Quote
	funding map[key]FundingSample
}

// NewCache returns a cache whose mids are considered stale after maxAge.
// A zero maxAge disables the freshness check.
func NewCache(maxAge time.Duration) *Cache {
	return &Cache{
		maxAge:  maxAge,
		now:     time.Now,
		quotes:  make(map[key]Quote),
		funding: make(map[key]FundingSample),
	}
}

func (c *Cache) SetClock(now func() time.Time) {
	if now != nil {
		c.now = now
	}
}

func (c *Cache) SetMid(venue, symbol string, mid float64, at time.Time) {
	if mid <= 0 {
		return
	}
	if at.IsZero() {
		at = c.now()
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.quotes[key{venue, symbol}] = Quote{Mid: mid, UpdatedAt: at}
}

// Mid returns the fresh mid price for venue/symbol, or false when it is
// missing or older than the cache's max age.
func (c *Cache) Mid(venue, symbol string) (float64, bool) {
	c.mu.RLock()
	q, ok := c.quotes[key{venue, symbol}]
	c.mu.RUnlock()
	if !ok {
		return 0, false
	}
	if c.maxAge > 0 && c.now().Sub(q.UpdatedAt) > c.maxAge {
		return 0, false
	}
	return q.Mid, true
}

// Quote returns the raw cached quote regardless of age.
func (c *Cache) Quote(venue, symbol string) (Quote, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	q, ok := c.quotes[key{venue, symbol}]
	return q, ok
}

func (c *Cache) SetFunding(sample FundingSample) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.funding[key{sample.Venue, sample.Symbol}] = sample
}

func (c *Cache) Funding(venue, symbol string) (FundingSample, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	sample, ok := c.funding[key{venue, symbol}]
	return sample, ok
}
