package ratelimit

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/edugate/edugate/internal/kvstore"
)

// remoteCounter adapts the distributed KV store to the Counter contract.
type remoteCounter struct {
	kv kvstore.KVStore
}

// NewRemoteCounter returns the fleet-consistent Counter implementation.
func NewRemoteCounter(kv kvstore.KVStore) Counter {
	return &remoteCounter{kv: kv}
}

func (c *remoteCounter) Increment(ctx context.Context, key string, window time.Duration) (int64, error) {
	return c.kv.IncrWithTTL(ctx, key, window)
}

func (c *remoteCounter) Reset(ctx context.Context, key string) error {
	return c.kv.Delete(ctx, key)
}

func (c *remoteCounter) GetBlock(ctx context.Context, key string) (*BlockEntry, error) {
	data, err := c.kv.Get(ctx, key)
	if err != nil {
		return nil, err
	}
	if data == nil {
		return nil, nil
	}
	entry := &BlockEntry{}
	if err := json.Unmarshal(data, entry); err != nil {
		return nil, fmt.Errorf("decoding block entry: %w", err)
	}
	return entry, nil
}

func (c *remoteCounter) SetBlock(ctx context.Context, key string, entry BlockEntry, ttl time.Duration) error {
	data, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("encoding block entry: %w", err)
	}
	return c.kv.SetWithTTL(ctx, key, data, ttl)
}

func (c *remoteCounter) ClearBlock(ctx context.Context, key string) error {
	return c.kv.Delete(ctx, key)
}
