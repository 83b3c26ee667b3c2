package auth

import (
	"context"

	"github.com/google/uuid"
)

// Roles known to the workflow.
const (
	RoleAdmin    = "admin"
	RoleHospital = "hospital"
	RoleInsurer  = "insurer"
)

// Identity is the resolved caller of a request. HospitalID is set for hospital
// users and InsurerID for insurer users; the other is uuid.Nil.
type Identity struct {
	ActorID    string    `json:"actor_id"`
	Role       string    `json:"role"`
	HospitalID uuid.UUID `json:"hospital_id,omitempty"`
	InsurerID  uuid.UUID `json:"insurer_id,omitempty"`
}

func (i Identity) IsAdmin() bool    { return i.Role == RoleAdmin }
func (i Identity) IsHospital() bool { return i.Role == RoleHospital && i.HospitalID != uuid.Nil }
func (i Identity) IsInsurer() bool  { return i.Role == RoleInsurer && i.InsurerID != uuid.Nil }

func ValidRole(role string) bool {
	switch role {
	case RoleAdmin, RoleHospital, RoleInsurer:
		return true
	}
	return false
}

type contextKey string

const identityKey contextKey = "identity"

func WithIdentity(ctx context.Context, id Identity) context.Context {
	return context.WithValue(ctx, identityKey, id)
}

// IdentityFromContext returns the caller set by the auth middleware.
func IdentityFromContext(ctx context.Context) (Identity, bool) {
	id, ok := ctx.Value(identityKey).(Identity)
	return id, ok
}

// UserIDFromContext returns the acting user's ID, or "" when unauthenticated.
func UserIDFromContext(ctx context.Context) string {
	id, _ := IdentityFromContext(ctx)
	return id.ActorID
}
