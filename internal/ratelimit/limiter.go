package ratelimit

import (
	"context"
	"fmt"
	"time"

	"github.com/edugate/edugate/internal/config"
	"github.com/edugate/edugate/internal/gateerrors"
	"github.com/sirupsen/logrus"
)

// Profile is a named request quota over a fixed window.
type Profile struct {
	Name     string
	Requests int
	Window   time.Duration
	// PerSubject keys the quota on the authenticated principal when one is
	// present, falling back to the client address. Address-based profiles
	// survive logout/login cycling; subject-based ones survive address
	// rotation, so the choice is per profile.
	PerSubject bool
}

// Backoff controls blocking of identifiers that keep violating a quota.
// After Threshold consecutive violations the identifier is blocked for
// Base * 2^n, doubling per further violation and capped at Max.
type Backoff struct {
	Threshold       int
	Base            time.Duration
	Max             time.Duration
	ViolationExpiry time.Duration
}

// Options bundle the limiter's static configuration.
type Options struct {
	Profiles map[string]Profile
	Backoff  Backoff
}

// OptionsFromConfig translates the config section into limiter options.
func OptionsFromConfig(cfg *config.RateLimitConfig) Options {
	opts := Options{
		Profiles: make(map[string]Profile, len(cfg.Profiles)),
		Backoff: Backoff{
			Threshold:       cfg.BlockThreshold,
			Base:            time.Duration(cfg.BlockBase),
			Max:             time.Duration(cfg.BlockMax),
			ViolationExpiry: time.Duration(cfg.ViolationExpiry),
		},
	}
	for name, p := range cfg.Profiles {
		opts.Profiles[name] = Profile{
			Name:       name,
			Requests:   p.Requests,
			Window:     time.Duration(p.Window),
			PerSubject: p.Subject == "subject",
		}
	}
	return opts
}

// Result is the outcome of one quota check. Limit, Remaining and ResetAt are
// exposed to the client on every checked response so well-behaved callers can
// self-throttle.
type Result struct {
	Allowed    bool
	Limit      int
	Remaining  int
	ResetAt    time.Time
	RetryAfter time.Duration
	Blocked    bool
	Violations int
	Profile    string
}

// Err expresses a rejection as a wrapped sentinel so callers can dispatch
// with errors.Is. Allowed results return nil.
func (r Result) Err() error {
	if r.Allowed {
		return nil
	}
	if r.Blocked {
		return fmt.Errorf("%w: %d violations on profile %q", gateerrors.ErrIdentifierBlocked, r.Violations, r.Profile)
	}
	return fmt.Errorf("%w: profile %q", gateerrors.ErrQuotaExceeded, r.Profile)
}

// Limiter enforces fixed-window quotas against a Counter.
type Limiter struct {
	counter  Counter
	profiles map[string]Profile
	backoff  Backoff
	log      logrus.FieldLogger
	now      func() time.Time
}

func NewLimiter(counter Counter, opts Options, log logrus.FieldLogger) (*Limiter, error) {
	if counter == nil {
		return nil, fmt.Errorf("counter is required")
	}
	if len(opts.Profiles) == 0 {
		return nil, fmt.Errorf("at least one rate limit profile is required")
	}
	for name, p := range opts.Profiles {
		if p.Requests <= 0 || p.Window <= 0 {
			return nil, fmt.Errorf("profile %q must have positive requests and window", name)
		}
	}
	b := opts.Backoff
	if b.Threshold <= 0 {
		b.Threshold = 3
	}
	if b.Base <= 0 {
		b.Base = time.Minute
	}
	if b.Max <= 0 {
		b.Max = time.Hour
	}
	if b.ViolationExpiry <= 0 {
		b.ViolationExpiry = time.Hour
	}
	return &Limiter{
		counter:  counter,
		profiles: opts.Profiles,
		backoff:  b,
		log:      log,
		now:      time.Now,
	}, nil
}

// Profile returns the named profile.
func (l *Limiter) Profile(name string) (Profile, bool) {
	p, ok := l.profiles[name]
	return p, ok
}

// Check records the request against the identifier's quota and reports
// whether it may proceed. Rejections are expressed in the Result, not as
// errors; the only error is an unknown profile name.
func (l *Limiter) Check(ctx context.Context, profileName, identifier string) (Result, error) {
	p, ok := l.profiles[profileName]
	if !ok {
		return Result{}, fmt.Errorf("%w: %q", gateerrors.ErrUnknownProfile, profileName)
	}

	now := l.now()
	bk := blockKey(p.Name, identifier)

	// Block entries are consulted before the window counter so blocked
	// identifiers do not keep advancing their counts.
	entry, err := l.counter.GetBlock(ctx, bk)
	if err != nil {
		// Corrupt entries are treated as absent; the failover counter has
		// already absorbed store errors.
		l.log.WithError(err).WithField("key", bk).Warn("discarding unreadable block entry")
		entry = nil
	}
	if entry.Blocked(now) {
		retry := entry.Until.Sub(now)
		return Result{
			Limit:      p.Requests,
			ResetAt:    entry.Until,
			RetryAfter: retry,
			Blocked:    true,
			Violations: entry.Violations,
			Profile:    p.Name,
		}, nil
	}

	bucket := now.UnixNano() / int64(p.Window)
	counterKey := fmt.Sprintf("ratelimit:%s:%s:%d", p.Name, identifier, bucket)
	resetAt := time.Unix(0, (bucket+1)*int64(p.Window))

	count, err := l.counter.Increment(ctx, counterKey, p.Window)
	if err != nil {
		return Result{}, err
	}

	if count <= int64(p.Requests) {
		return Result{
			Allowed:   true,
			Limit:     p.Requests,
			Remaining: p.Requests - int(count),
			ResetAt:   resetAt,
			Profile:   p.Name,
		}, nil
	}

	return l.violation(ctx, p, identifier, now, resetAt)
}

// violation escalates the identifier's standing through a shared atomic
// counter, so concurrent violators across instances observe one count, and
// decides whether the rejection also starts a block.
func (l *Limiter) violation(ctx context.Context, p Profile, identifier string, now time.Time, resetAt time.Time) (Result, error) {
	vk := violationsKey(p.Name, identifier)
	count, err := l.counter.Increment(ctx, vk, l.backoff.ViolationExpiry)
	if err != nil {
		l.log.WithError(err).WithField("key", vk).Warn("failed recording violation")
		count = 1
	}
	violations := int(count)

	retryAfter := resetAt.Sub(now)
	blocked := false

	if violations >= l.backoff.Threshold {
		d := l.blockDuration(violations - l.backoff.Threshold)
		entry := BlockEntry{
			Until:      now.Add(d),
			Reason:     fmt.Sprintf("quota exceeded for profile %q", p.Name),
			Violations: violations,
		}
		if err := l.counter.SetBlock(ctx, blockKey(p.Name, identifier), entry, d); err != nil {
			l.log.WithError(err).WithField("key", blockKey(p.Name, identifier)).Warn("failed recording block")
		}
		retryAfter = d
		blocked = true
	}

	return Result{
		Limit:      p.Requests,
		Remaining:  0,
		ResetAt:    resetAt,
		RetryAfter: retryAfter,
		Blocked:    blocked,
		Violations: violations,
		Profile:    p.Name,
	}, nil
}

// blockDuration returns Base * 2^n capped at Max.
func (l *Limiter) blockDuration(n int) time.Duration {
	d := l.backoff.Base
	for i := 0; i < n; i++ {
		d *= 2
		if d >= l.backoff.Max {
			return l.backoff.Max
		}
	}
	if d > l.backoff.Max {
		return l.backoff.Max
	}
	return d
}

// Unblock clears a block entry and the accumulated violations, the
// administrative escape hatch for a legitimately blocked identifier.
func (l *Limiter) Unblock(ctx context.Context, profileName, identifier string) error {
	p, ok := l.profiles[profileName]
	if !ok {
		return fmt.Errorf("%w: %q", gateerrors.ErrUnknownProfile, profileName)
	}
	if err := l.counter.ClearBlock(ctx, blockKey(p.Name, identifier)); err != nil {
		return err
	}
	return l.counter.Reset(ctx, violationsKey(p.Name, identifier))
}

func blockKey(profile, identifier string) string {
	return fmt.Sprintf("ratelimit:block:%s:%s", profile, identifier)
}

func violationsKey(profile, identifier string) string {
	return fmt.Sprintf("ratelimit:violations:%s:%s", profile, identifier)
}
