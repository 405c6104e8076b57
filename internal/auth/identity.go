package auth

import (
	"context"
	"errors"
	"net/http"

	"github.com/edugate/edugate/internal/consts"
)

// Identity is the authenticated principal attached by the upstream
// authentication service. The gate consumes it as part of the rate-limit
// identifier; it never performs login itself.
type Identity interface {
	GetUsername() string
	GetUID() string
}

var ErrNoIdentity = errors.New("no identity in context")

// WithIdentity attaches an identity to the context.
func WithIdentity(ctx context.Context, identity Identity) context.Context {
	return context.WithValue(ctx, consts.IdentityCtxKey, identity)
}

// GetIdentity retrieves the identity set by the authentication layer.
func GetIdentity(ctx context.Context) (Identity, error) {
	identity, ok := ctx.Value(consts.IdentityCtxKey).(Identity)
	if !ok || identity == nil {
		return nil, ErrNoIdentity
	}
	return identity, nil
}

// BaseIdentity is a plain value implementation of Identity.
type BaseIdentity struct {
	Username string
	UID      string
}

func (i *BaseIdentity) GetUsername() string { return i.Username }
func (i *BaseIdentity) GetUID() string      { return i.UID }

// SubjectHeaderMiddleware attaches an identity from a header the upstream
// auth proxy injects after validating the session. The header must be
// stripped at the platform edge for external traffic; this middleware trusts
// it unconditionally and is the adapter to the out-of-scope auth service.
func SubjectHeaderMiddleware(headerName string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if subject := r.Header.Get(headerName); subject != "" {
				ctx := WithIdentity(r.Context(), &BaseIdentity{Username: subject, UID: subject})
				r = r.WithContext(ctx)
			}
			next.ServeHTTP(w, r)
		})
	}
}
