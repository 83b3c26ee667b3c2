package users

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"

	"github.com/claimdesk/claimdesk/internal/platform/auth"
	"github.com/claimdesk/claimdesk/pkg/apperr"
)

const minPasswordLength = 8

// TokenIssuer mints access tokens for authenticated users.
type TokenIssuer interface {
	Issue(id auth.Identity) (string, time.Time, error)
}

type Service struct {
	users  UserRepository
	tokens TokenIssuer
	cost   int
}

func NewService(users UserRepository, tokens TokenIssuer) *Service {
	return &Service{users: users, tokens: tokens, cost: bcrypt.DefaultCost}
}

// Create validates and stores a new account with a bcrypt hash of password.
func (s *Service) Create(ctx context.Context, u *User, password string) error {
	u.Username = strings.TrimSpace(u.Username)
	if u.Username == "" {
		return apperr.Validation("username is required")
	}
	if len(password) < minPasswordLength {
		return apperr.Validation("password must be at least %d characters", minPasswordLength)
	}
	if !auth.ValidRole(u.Role) {
		return apperr.Validation("invalid role %q", u.Role)
	}
	switch u.Role {
	case auth.RoleHospital:
		if u.HospitalID == nil || *u.HospitalID == uuid.Nil {
			return apperr.Validation("hospital users must belong to a hospital")
		}
		u.InsurerID = nil
	case auth.RoleInsurer:
		if u.InsurerID == nil || *u.InsurerID == uuid.Nil {
			return apperr.Validation("insurer users must belong to an insurance company")
		}
		u.HospitalID = nil
	case auth.RoleAdmin:
		u.HospitalID, u.InsurerID = nil, nil
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(password), s.cost)
	if err != nil {
		return apperr.Wrap(err, apperr.KindInternal, "hash password")
	}
	u.PasswordHash = string(hash)
	return s.users.Create(ctx, u)
}

// CreateOrgAdmin creates the administrative account of a newly onboarded
// hospital or insurance company and returns its ID.
func (s *Service) CreateOrgAdmin(ctx context.Context, username, password, role string, orgID uuid.UUID) (uuid.UUID, error) {
	u := &User{Username: username, Role: role}
	switch role {
	case auth.RoleHospital:
		u.HospitalID = &orgID
	case auth.RoleInsurer:
		u.InsurerID = &orgID
	default:
		return uuid.Nil, apperr.Validation("organization admins must be hospital or insurer users")
	}
	if err := s.Create(ctx, u, password); err != nil {
		return uuid.Nil, err
	}
	return u.ID, nil
}

func (s *Service) Get(ctx context.Context, id uuid.UUID) (*User, error) {
	return s.users.GetByID(ctx, id)
}

// Authenticate checks the credentials and returns a signed access token.
// Unknown users and wrong passwords are indistinguishable to the caller.
func (s *Service) Authenticate(ctx context.Context, username, password string) (*LoginResponse, error) {
	u, err := s.users.GetByUsername(ctx, strings.TrimSpace(username))
	if err != nil {
		if errors.Is(err, apperr.ErrNotFound) {
			return nil, errInvalidCredentials
		}
		return nil, err
	}
	if err := bcrypt.CompareHashAndPassword([]byte(u.PasswordHash), []byte(password)); err != nil {
		return nil, errInvalidCredentials
	}

	token, exp, err := s.tokens.Issue(u.Identity())
	if err != nil {
		return nil, apperr.Wrap(err, apperr.KindInternal, "issue token")
	}
	return &LoginResponse{
		AccessToken: token,
		TokenType:   "Bearer",
		ExpiresAt:   exp,
		Role:        u.Role,
		HospitalID:  u.HospitalID,
		InsurerID:   u.InsurerID,
	}, nil
}

var errInvalidCredentials = errors.New("invalid username or password")
