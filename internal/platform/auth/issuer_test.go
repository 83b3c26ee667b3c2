package auth

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
)

func TestIssuer_RoundTrip(t *testing.T) {
	insurerID := uuid.New()
	iss := NewIssuer(testSigningKey, "claimdesk", time.Hour)

	token, exp, err := iss.Issue(Identity{ActorID: "u-9", Role: RoleInsurer, InsurerID: insurerID})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if time.Until(exp) <= 0 {
		t.Errorf("expected expiry in the future, got %s", exp)
	}

	e := echo.New()
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	c := e.NewContext(req, httptest.NewRecorder())

	var got Identity
	handler := func(c echo.Context) error {
		got, _ = IdentityFromContext(c.Request().Context())
		return nil
	}
	if err := JWTMiddleware(JWTConfig{SigningKey: testSigningKey, Issuer: "claimdesk"})(handler)(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got.ActorID != "u-9" || got.InsurerID != insurerID || got.HospitalID != uuid.Nil {
		t.Errorf("unexpected identity %+v", got)
	}
}

func TestIssuer_RequiresKey(t *testing.T) {
	iss := NewIssuer(nil, "claimdesk", time.Hour)
	if _, _, err := iss.Issue(Identity{ActorID: "u", Role: RoleAdmin}); err == nil {
		t.Fatal("expected error without signing key")
	}
}

func TestIssuer_DefaultTTL(t *testing.T) {
	iss := NewIssuer(testSigningKey, "", 0)
	if iss.ttl != 24*time.Hour {
		t.Errorf("expected 24h default ttl, got %s", iss.ttl)
	}
}
