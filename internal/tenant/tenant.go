package tenant

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/ortegalabs/fieldkeep/internal/domain"
)

// Tenant is the organization-level account boundary. The engine only ever
// touches its entitlement fields; everything else (name, users, settings)
// belongs to the tenant-admin CRUD surface.
type Tenant struct {
	ID                    uuid.UUID
	Plan                  domain.PlanID
	PlanStatus            domain.PlanStatus
	SubscriptionExpiresAt time.Time
}

// IsActive returns true if the tenant plan status is "active".
func (t *Tenant) IsActive() bool {
	return t != nil && t.PlanStatus == domain.PlanActive
}

type contextKey struct{}

// NewContext returns a new context with the tenant attached.
func NewContext(ctx context.Context, t *Tenant) context.Context {
	return context.WithValue(ctx, contextKey{}, t)
}

// FromContext extracts the tenant from the context.
// Returns nil if no tenant is present.
func FromContext(ctx context.Context) *Tenant {
	t, ok := ctx.Value(contextKey{}).(*Tenant)
	if !ok {
		return nil
	}
	return t
}

// IDFromContext returns the tenant ID from context.
// Returns the zero UUID if no tenant is present.
func IDFromContext(ctx context.Context) uuid.UUID {
	t := FromContext(ctx)
	if t == nil {
		return uuid.Nil
	}
	return t.ID
}
