package tenant

import (
	"context"

	"github.com/edugate/edugate/internal/consts"
	"github.com/google/uuid"
)

// Tenant is one isolated customer organization (a school).
type Tenant struct {
	ID     uuid.UUID
	Name   string
	Active bool
}

// Outcome classifies how a host resolved.
type Outcome string

const (
	// OutcomeResolved means the host mapped to an active tenant.
	OutcomeResolved Outcome = "resolved"
	// OutcomeRootDomain means the host is the bare root domain, serving the
	// administrative/marketing surface rather than any tenant.
	OutcomeRootDomain Outcome = "root-domain"
	// OutcomeNotFound means no active tenant matched. Never falls back to a
	// default tenant: that would leak cross-tenant data.
	OutcomeNotFound Outcome = "not-found"
)

// Context is the per-request tenant resolution result. It is created fresh
// for every request and owned by that request's lifetime.
type Context struct {
	ID      uuid.UUID
	Name    string
	Host    string
	Outcome Outcome
}

// WithContext attaches the tenant context to the request context.
func WithContext(ctx context.Context, tc Context) context.Context {
	return context.WithValue(ctx, consts.TenantCtxKey, tc)
}

// FromContext retrieves the tenant context attached by the resolver stage.
func FromContext(ctx context.Context) (Context, bool) {
	tc, ok := ctx.Value(consts.TenantCtxKey).(Context)
	return tc, ok
}
