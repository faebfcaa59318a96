package domain

import (
	"context"

	"github.com/google/uuid"
)

// Role is the coarse permission level carried by an access token.
type Role string

const (
	RoleAdmin      Role = "admin"
	RoleSupervisor Role = "supervisor"
	RoleTechnician Role = "technician"
)

// AuthenticatedIdentity is the verified caller of an authenticated request.
// It is produced by the token verifier and attached to the request context
// by the auth middleware; services receive it as a plain value.
type AuthenticatedIdentity struct {
	UserID   uuid.UUID
	TenantID uuid.UUID
	Role     Role

	// Email is used to prefill processor checkout pages. Optional.
	Email string

	// Country is the ISO 3166-1 alpha-2 country stored on the user profile,
	// if any. Feeds country detection as the highest-priority source.
	Country string
}

// Valid reports whether the identity carries the minimum fields required
// to act on behalf of a tenant user.
func (id AuthenticatedIdentity) Valid() bool {
	return id.UserID != uuid.Nil && id.TenantID != uuid.Nil
}

type identityContextKey struct{}

// NewIdentityContext returns a new context with the identity attached.
func NewIdentityContext(ctx context.Context, id AuthenticatedIdentity) context.Context {
	return context.WithValue(ctx, identityContextKey{}, id)
}

// IdentityFromContext extracts the identity from the context.
// The second return is false if no identity is present.
func IdentityFromContext(ctx context.Context) (AuthenticatedIdentity, bool) {
	id, ok := ctx.Value(identityContextKey{}).(AuthenticatedIdentity)
	return id, ok
}
