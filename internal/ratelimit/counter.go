package ratelimit

import (
	"context"
	"time"
)

// BlockEntry marks an identifier as blocked. Violations accumulate in their
// own atomic counter; the entry snapshots the count that triggered the block
// and expires with the block itself.
type BlockEntry struct {
	Until      time.Time `json:"until"`
	Reason     string    `json:"reason"`
	Violations int       `json:"violations"`
}

// Blocked reports whether the entry forbids requests at the given time.
func (e *BlockEntry) Blocked(now time.Time) bool {
	return e != nil && e.Until.After(now)
}

// Counter is the storage contract the limiter runs against. The remote
// implementation is backed by the distributed store and is consistent across
// instances; the in-memory one is per-process and exists only to keep the
// system available when the store is unreachable.
type Counter interface {
	// Increment atomically bumps a counter and returns the post-increment
	// count. The first increment for a key sets its TTL.
	Increment(ctx context.Context, key string, window time.Duration) (int64, error)
	// Reset discards a counter key before its TTL expires.
	Reset(ctx context.Context, key string) error
	// GetBlock returns nil with no error when no block entry exists.
	GetBlock(ctx context.Context, key string) (*BlockEntry, error)
	SetBlock(ctx context.Context, key string, entry BlockEntry, ttl time.Duration) error
	ClearBlock(ctx context.Context, key string) error
}
