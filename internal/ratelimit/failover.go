package ratelimit

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"
)

// failoverCounter serves from the distributed counter and degrades to the
// process-local one when the store is unreachable. Callers above it never see
// store errors; degradation is logged as a distinguishable event and reported
// through the OnDegrade hook so it can be audited and counted.
type failoverCounter struct {
	remote    Counter
	local     Counter
	log       logrus.FieldLogger
	onDegrade func(op string, err error)
}

// NewFailoverCounter wraps remote with a local fallback. onDegrade may be nil.
func NewFailoverCounter(remote, local Counter, log logrus.FieldLogger, onDegrade func(op string, err error)) Counter {
	return &failoverCounter{remote: remote, local: local, log: log, onDegrade: onDegrade}
}

func (c *failoverCounter) Increment(ctx context.Context, key string, window time.Duration) (int64, error) {
	count, err := c.remote.Increment(ctx, key, window)
	if err == nil {
		return count, nil
	}
	c.degraded(ctx, "increment", err)
	return c.local.Increment(ctx, key, window)
}

func (c *failoverCounter) Reset(ctx context.Context, key string) error {
	if err := c.remote.Reset(ctx, key); err != nil {
		c.degraded(ctx, "reset", err)
		return c.local.Reset(ctx, key)
	}
	return nil
}

func (c *failoverCounter) GetBlock(ctx context.Context, key string) (*BlockEntry, error) {
	entry, err := c.remote.GetBlock(ctx, key)
	if err == nil {
		return entry, nil
	}
	c.degraded(ctx, "get-block", err)
	return c.local.GetBlock(ctx, key)
}

func (c *failoverCounter) SetBlock(ctx context.Context, key string, entry BlockEntry, ttl time.Duration) error {
	if err := c.remote.SetBlock(ctx, key, entry, ttl); err != nil {
		c.degraded(ctx, "set-block", err)
		return c.local.SetBlock(ctx, key, entry, ttl)
	}
	return nil
}

func (c *failoverCounter) ClearBlock(ctx context.Context, key string) error {
	if err := c.remote.ClearBlock(ctx, key); err != nil {
		c.degraded(ctx, "clear-block", err)
		return c.local.ClearBlock(ctx, key)
	}
	return nil
}

func (c *failoverCounter) degraded(_ context.Context, op string, err error) {
	c.log.WithError(err).WithFields(logrus.Fields{
		"event": "store_degraded",
		"op":    op,
	}).Warn("distributed counter store unreachable, serving from in-process fallback")
	if c.onDegrade != nil {
		c.onDegrade(op, err)
	}
}
