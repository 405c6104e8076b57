package ratelimit

import (
	"context"
	"sync"
	"time"
)

// memoryCounter is the in-process fallback. It applies the same algorithm as
// the remote counter but each instance sees only its own traffic, so quotas
// are approximate during an outage. A plain mutex is enough: the map is never
// shared across instances.
type memoryCounter struct {
	mu     sync.Mutex
	counts map[string]*windowCount
	blocks map[string]blockRecord
	now    func() time.Time
}

type windowCount struct {
	count   int64
	expires time.Time
}

type blockRecord struct {
	entry   BlockEntry
	expires time.Time
}

// NewMemoryCounter returns a process-local Counter.
func NewMemoryCounter() Counter {
	return newMemoryCounter(time.Now)
}

func newMemoryCounter(now func() time.Time) *memoryCounter {
	return &memoryCounter{
		counts: make(map[string]*windowCount),
		blocks: make(map[string]blockRecord),
		now:    now,
	}
}

func (c *memoryCounter) Increment(_ context.Context, key string, window time.Duration) (int64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	c.sweep(now)

	entry, ok := c.counts[key]
	if !ok || !entry.expires.After(now) {
		entry = &windowCount{expires: now.Add(window)}
		c.counts[key] = entry
	}
	entry.count++
	return entry.count, nil
}

func (c *memoryCounter) Reset(_ context.Context, key string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	delete(c.counts, key)
	return nil
}

func (c *memoryCounter) GetBlock(_ context.Context, key string) (*BlockEntry, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	rec, ok := c.blocks[key]
	if !ok || !rec.expires.After(c.now()) {
		delete(c.blocks, key)
		return nil, nil
	}
	entry := rec.entry
	return &entry, nil
}

func (c *memoryCounter) SetBlock(_ context.Context, key string, entry BlockEntry, ttl time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.blocks[key] = blockRecord{entry: entry, expires: c.now().Add(ttl)}
	return nil
}

func (c *memoryCounter) ClearBlock(_ context.Context, key string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	delete(c.blocks, key)
	return nil
}

// sweep drops expired windows so an outage does not grow the map without
// bound. Called with the lock held.
func (c *memoryCounter) sweep(now time.Time) {
	if len(c.counts) < 4096 {
		return
	}
	for key, entry := range c.counts {
		if !entry.expires.After(now) {
			delete(c.counts, key)
		}
	}
}
