package tenant

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"
	"time"

	"github.com/edugate/edugate/internal/gateerrors"
	"github.com/jellydator/ttlcache/v3"
)

// Lookup retrieves a tenant by its subdomain name. The backing store is an
// external collaborator (the business database); this package sees only the
// interface. Implementations report unknown names with ErrTenantNotFound and
// deactivated tenants with ErrTenantInactive.
type Lookup interface {
	GetByName(ctx context.Context, name string) (*Tenant, error)
}

// Resolver maps request hosts to tenant contexts. Positive look-ups are
// cached according to the configured TTL; misses are not cached, so newly
// provisioned tenants are immediately reachable.
type Resolver struct {
	rootDomain string
	lookup     Lookup
	cache      *ttlcache.Cache[string, *Tenant]
	ttl        time.Duration
}

// NewResolver constructs a resolver for the given root domain. A TTL of zero
// disables expiration.
func NewResolver(rootDomain string, lookup Lookup, ttl time.Duration) *Resolver {
	opts := []ttlcache.Option[string, *Tenant]{}
	if ttl > 0 {
		opts = append(opts, ttlcache.WithTTL[string, *Tenant](ttl))
	}
	c := ttlcache.New(opts...)
	go c.Start()
	return &Resolver{
		rootDomain: strings.ToLower(rootDomain),
		lookup:     lookup,
		cache:      c,
		ttl:        ttl,
	}
}

// Resolve classifies the request host. Outcomes other than OutcomeResolved
// carry a zero tenant ID. The returned error is non-nil only for lookup
// infrastructure failures; "no such tenant" is an outcome, not an error.
func (r *Resolver) Resolve(ctx context.Context, host string) (Context, error) {
	normalized := normalizeHost(host)
	tc := Context{Host: normalized, Outcome: OutcomeNotFound}

	if normalized == r.rootDomain {
		tc.Outcome = OutcomeRootDomain
		return tc, nil
	}

	suffix := "." + r.rootDomain
	if !strings.HasSuffix(normalized, suffix) {
		return tc, nil
	}
	sub := strings.TrimSuffix(normalized, suffix)
	if sub == "" || strings.Contains(sub, ".") {
		// Nested subdomains never map to a tenant.
		return tc, nil
	}
	tc.Name = sub

	t, err := r.get(ctx, sub)
	if err != nil {
		if errors.Is(err, gateerrors.ErrTenantNotFound) || errors.Is(err, gateerrors.ErrTenantInactive) {
			return tc, nil
		}
		return tc, fmt.Errorf("looking up tenant %q: %w", sub, err)
	}

	tc.ID = t.ID
	tc.Outcome = OutcomeResolved
	return tc, nil
}

func (r *Resolver) get(ctx context.Context, name string) (*Tenant, error) {
	if item := r.cache.Get(name); item != nil {
		return item.Value(), nil
	}
	t, err := r.lookup.GetByName(ctx, name)
	if err != nil {
		return nil, err
	}
	cacheTTL := ttlcache.NoTTL
	if r.ttl > 0 {
		cacheTTL = r.ttl
	}
	r.cache.Set(name, t, cacheTTL)
	return t, nil
}

// Close stops the cache's expiry loop. Call when the resolver is no longer
// needed to avoid a goroutine leak.
func (r *Resolver) Close() {
	r.cache.Stop()
}

// normalizeHost lowercases the host and drops any port suffix.
func normalizeHost(host string) string {
	if h, _, err := net.SplitHostPort(host); err == nil {
		host = h
	}
	return strings.ToLower(strings.TrimSuffix(host, "."))
}
