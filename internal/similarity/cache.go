package similarity

import (
	"sync"
	"time"
)

// sweepEvery is how many writes pass between expiry sweeps.
const sweepEvery = 256

type cached struct {
	score   float64
	expires time.Time
}

// scoreCache remembers remote scores for a fixed TTL. Expired entries are
// ignored on read and swept out periodically on write.
type scoreCache struct {
	mu     sync.Mutex
	ttl    time.Duration
	now    func() time.Time
	items  map[string]cached
	writes int
}

func newScoreCache(ttl time.Duration) *scoreCache {
	if ttl <= 0 {
		ttl = 15 * time.Minute
	}
	return &scoreCache{ttl: ttl, now: time.Now, items: make(map[string]cached)}
}

func (c *scoreCache) get(key string) (float64, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	item, ok := c.items[key]
	if !ok || !c.now().Before(item.expires) {
		return 0, false
	}
	return item.score, true
}

func (c *scoreCache) set(key string, score float64) {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	c.items[key] = cached{score: score, expires: now.Add(c.ttl)}

	c.writes++
	if c.writes%sweepEvery != 0 {
		return
	}
	for k, item := range c.items {
		if !now.Before(item.expires) {
			delete(c.items, k)
		}
	}
}

func (c *scoreCache) size() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.items)
}

func (c *scoreCache) clear() {
	c.mu.Lock()
	clear(c.items)
	c.mu.Unlock()
}
