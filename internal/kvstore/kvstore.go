package kvstore

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/edugate/edugate/internal/gateerrors"
	"github.com/redis/go-redis/v9"
)

// KVStore is the distributed key/value surface the gate runs against. Every
// call is bounded by the configured timeout; a timeout or network error is
// reported as gateerrors.ErrStoreUnavailable so callers can fail over.
type KVStore interface {
	Close() error
	// CheckHealth pings the store, for readiness probes.
	CheckHealth(ctx context.Context) error
	// IncrWithTTL atomically increments key and, when this call created the
	// key, sets its TTL. Increment-and-read is one round trip so concurrent
	// callers never observe the same pre-increment count.
	IncrWithTTL(ctx context.Context, key string, ttl time.Duration) (int64, error)
	// Get returns nil with no error when the key does not exist.
	Get(ctx context.Context, key string) ([]byte, error)
	SetWithTTL(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Delete(ctx context.Context, key string) error
}

type kvStore struct {
	client  *redis.Client
	timeout time.Duration
}

func NewKVStore(hostname string, port uint, password string, timeout time.Duration) (KVStore, error) {
	if timeout <= 0 {
		timeout = 500 * time.Millisecond
	}
	client := redis.NewClient(&redis.Options{
		Addr:         fmt.Sprintf("%s:%d", hostname, port),
		Password:     password,
		DialTimeout:  timeout,
		ReadTimeout:  timeout,
		WriteTimeout: timeout,
	})
	return &kvStore{client: client, timeout: timeout}, nil
}

func (s *kvStore) Close() error {
	return s.client.Close()
}

func (s *kvStore) CheckHealth(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	if err := s.client.Ping(ctx).Err(); err != nil {
		return unavailable("pinging store", err)
	}
	return nil
}

func (s *kvStore) IncrWithTTL(ctx context.Context, key string, ttl time.Duration) (int64, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	pipe := s.client.TxPipeline()
	counter := pipe.Incr(ctx, key)
	// NX: only the increment that created the key sets the expiry, so the
	// window ends exactly one window length after the first request.
	pipe.ExpireNX(ctx, key, ttl)
	if _, err := pipe.Exec(ctx); err != nil {
		return 0, unavailable("incrementing key", err)
	}
	return counter.Val(), nil
}

func (s *kvStore) Get(ctx context.Context, key string) ([]byte, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	ret, err := s.client.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, unavailable("getting key", err)
	}
	return ret, nil
}

func (s *kvStore) SetWithTTL(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	if err := s.client.Set(ctx, key, value, ttl).Err(); err != nil {
		return unavailable("storing key", err)
	}
	return nil
}

func (s *kvStore) Delete(ctx context.Context, key string) error {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	if err := s.client.Del(ctx, key).Err(); err != nil {
		return unavailable("deleting key", err)
	}
	return nil
}

func unavailable(op string, err error) error {
	return fmt.Errorf("%s: %w: %w", op, gateerrors.ErrStoreUnavailable, err)
}
