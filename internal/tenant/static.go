package tenant

import (
	"context"
	"fmt"
	"strings"

	"github.com/edugate/edugate/internal/config"
	"github.com/edugate/edugate/internal/gateerrors"
	"github.com/google/uuid"
)

// StaticLookup serves tenants from configuration. Deployments with a real
// tenant directory plug their own Lookup in instead; this one keeps the
// gateway runnable without the business database.
type StaticLookup struct {
	tenants map[string]*Tenant
}

func NewStaticLookup(entries []config.TenantEntry) (*StaticLookup, error) {
	tenants := make(map[string]*Tenant, len(entries))
	for _, e := range entries {
		id, err := uuid.Parse(e.ID)
		if err != nil {
			return nil, fmt.Errorf("tenant %q: invalid id: %w", e.Name, err)
		}
		name := strings.ToLower(e.Name)
		if name == "" {
			return nil, fmt.Errorf("tenant %s: name must be set", e.ID)
		}
		tenants[name] = &Tenant{ID: id, Name: name, Active: e.Active}
	}
	return &StaticLookup{tenants: tenants}, nil
}

func (l *StaticLookup) GetByName(_ context.Context, name string) (*Tenant, error) {
	t, ok := l.tenants[strings.ToLower(name)]
	if !ok {
		return nil, gateerrors.ErrTenantNotFound
	}
	if !t.Active {
		return nil, fmt.Errorf("%w: %q", gateerrors.ErrTenantInactive, t.Name)
	}
	return t, nil
}
