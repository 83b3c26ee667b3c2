package auth

import (
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// Issuer mints HS256 access tokens that JWTMiddleware accepts.
type Issuer struct {
	key    []byte
	issuer string
	ttl    time.Duration
	now    func() time.Time
}

func NewIssuer(signingKey []byte, issuer string, ttl time.Duration) *Issuer {
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &Issuer{key: signingKey, issuer: issuer, ttl: ttl, now: time.Now}
}

// Issue returns a signed token for id and its expiry.
func (i *Issuer) Issue(id Identity) (string, time.Time, error) {
	if len(i.key) == 0 {
		return "", time.Time{}, fmt.Errorf("token signing key is not configured")
	}
	now := i.now()
	exp := now.Add(i.ttl)

	claims := Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   id.ActorID,
			Issuer:    i.issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(exp),
			ID:        uuid.NewString(),
		},
		Role: id.Role,
	}
	if id.HospitalID != uuid.Nil {
		claims.HospitalID = id.HospitalID.String()
	}
	if id.InsurerID != uuid.Nil {
		claims.InsurerID = id.InsurerID.String()
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(i.key)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("sign token: %w", err)
	}
	return signed, exp, nil
}
