package users

import (
	"time"

	"github.com/google/uuid"

	"github.com/claimdesk/claimdesk/internal/platform/auth"
)

// User is a login account. Hospital and insurer users are bound to exactly
// one organization.
type User struct {
	ID           uuid.UUID  `json:"id"`
	Username     string     `json:"username"`
	PasswordHash string     `json:"-"`
	Role         string     `json:"role"`
	HospitalID   *uuid.UUID `json:"hospital_id,omitempty"`
	InsurerID    *uuid.UUID `json:"insurer_id,omitempty"`
	CreatedAt    time.Time  `json:"created_at"`
}

// Identity is the token subject for this user.
func (u *User) Identity() auth.Identity {
	id := auth.Identity{ActorID: u.ID.String(), Role: u.Role}
	if u.HospitalID != nil {
		id.HospitalID = *u.HospitalID
	}
	if u.InsurerID != nil {
		id.InsurerID = *u.InsurerID
	}
	return id
}

type LoginRequest struct {
	Username string `json:"username" validate:"required"`
	Password string `json:"password" validate:"required"`
}

type LoginResponse struct {
	AccessToken string     `json:"access_token"`
	TokenType   string     `json:"token_type"`
	ExpiresAt   time.Time  `json:"expires_at"`
	Role        string     `json:"role"`
	HospitalID  *uuid.UUID `json:"hospital_id,omitempty"`
	InsurerID   *uuid.UUID `json:"insurer_id,omitempty"`
}
