package auth

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
)

var testSigningKey = []byte("test-secret-key-for-unit-tests-only")

func createTestToken(t *testing.T, claims Claims, key []byte) string {
	t.Helper()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	tokenStr, err := token.SignedString(key)
	if err != nil {
		t.Fatalf("failed to sign test token: %v", err)
	}
	return tokenStr
}

func okHandler(c echo.Context) error {
	return c.String(http.StatusOK, "ok")
}

func expectHTTPStatus(t *testing.T, err error, code int) {
	t.Helper()
	if err == nil {
		t.Fatalf("expected HTTP %d error, got nil", code)
	}
	httpErr, ok := err.(*echo.HTTPError)
	if !ok {
		t.Fatalf("expected echo.HTTPError, got %T", err)
	}
	if httpErr.Code != code {
		t.Errorf("expected %d, got %d", code, httpErr.Code)
	}
}

func TestJWTMiddleware_MissingHeader(t *testing.T) {
	e := echo.New()
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)

	h := JWTMiddleware(JWTConfig{SigningKey: testSigningKey})(okHandler)
	expectHTTPStatus(t, h(c), http.StatusUnauthorized)
}

func TestJWTMiddleware_InvalidFormat(t *testing.T) {
	tests := []struct {
		name   string
		header string
	}{
		{"no bearer prefix", "Token abc123"},
		{"missing token", "Bearer"},
		{"empty value", "Bearer "},
		{"basic auth", "Basic dXNlcjpwYXNz"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := echo.New()
			req := httptest.NewRequest(http.MethodGet, "/", nil)
			req.Header.Set("Authorization", tt.header)
			rec := httptest.NewRecorder()
			c := e.NewContext(req, rec)

			h := JWTMiddleware(JWTConfig{SigningKey: testSigningKey})(okHandler)
			expectHTTPStatus(t, h(c), http.StatusUnauthorized)
		})
	}
}

func TestJWTMiddleware_ValidToken(t *testing.T) {
	hospitalID := uuid.New()
	claims := Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   "user-123",
			Issuer:    "claimdesk",
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		},
		Role:       RoleHospital,
		HospitalID: hospitalID.String(),
	}
	tokenStr := createTestToken(t, claims, testSigningKey)

	e := echo.New()
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Authorization", "Bearer "+tokenStr)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)

	var got Identity
	handler := func(c echo.Context) error {
		got, _ = IdentityFromContext(c.Request().Context())
		return c.String(http.StatusOK, "ok")
	}

	h := JWTMiddleware(JWTConfig{SigningKey: testSigningKey, Issuer: "claimdesk"})(handler)
	if err := h(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got.ActorID != "user-123" {
		t.Errorf("expected actor user-123, got %q", got.ActorID)
	}
	if got.Role != RoleHospital || got.HospitalID != hospitalID {
		t.Errorf("unexpected identity %+v", got)
	}
	if !got.IsHospital() {
		t.Error("expected IsHospital()")
	}
}

func TestJWTMiddleware_ExpiredToken(t *testing.T) {
	claims := Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   "user-123",
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(-time.Hour)),
		},
		Role: RoleAdmin,
	}
	tokenStr := createTestToken(t, claims, testSigningKey)

	e := echo.New()
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Authorization", "Bearer "+tokenStr)
	c := e.NewContext(req, httptest.NewRecorder())

	h := JWTMiddleware(JWTConfig{SigningKey: testSigningKey})(okHandler)
	expectHTTPStatus(t, h(c), http.StatusUnauthorized)
}

func TestJWTMiddleware_WrongIssuer(t *testing.T) {
	claims := Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   "user-123",
			Issuer:    "someone-else",
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		},
		Role: RoleAdmin,
	}
	tokenStr := createTestToken(t, claims, testSigningKey)

	e := echo.New()
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Authorization", "Bearer "+tokenStr)
	c := e.NewContext(req, httptest.NewRecorder())

	h := JWTMiddleware(JWTConfig{SigningKey: testSigningKey, Issuer: "claimdesk"})(okHandler)
	expectHTTPStatus(t, h(c), http.StatusUnauthorized)
}

func TestJWTMiddleware_UnknownRole(t *testing.T) {
	claims := Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   "user-123",
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		},
		Role: "patient",
	}
	tokenStr := createTestToken(t, claims, testSigningKey)

	e := echo.New()
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Authorization", "Bearer "+tokenStr)
	c := e.NewContext(req, httptest.NewRecorder())

	h := JWTMiddleware(JWTConfig{SigningKey: testSigningKey})(okHandler)
	expectHTTPStatus(t, h(c), http.StatusUnauthorized)
}

func TestDevAuthMiddleware_NoToken(t *testing.T) {
	e := echo.New()
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	c := e.NewContext(req, httptest.NewRecorder())

	var got Identity
	handler := func(c echo.Context) error {
		got, _ = IdentityFromContext(c.Request().Context())
		return nil
	}

	if err := DevAuthMiddleware(JWTConfig{})(handler)(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got.ActorID != "dev-user" || got.Role != RoleAdmin {
		t.Errorf("expected dev admin, got %+v", got)
	}
}

func TestDevAuthMiddleware_Headers(t *testing.T) {
	insurerID := uuid.New()

	e := echo.New()
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set(DevRoleHeader, RoleInsurer)
	req.Header.Set(DevInsurerHeader, insurerID.String())
	req.Header.Set(DevActorHeader, "reviewer-7")
	c := e.NewContext(req, httptest.NewRecorder())

	var got Identity
	handler := func(c echo.Context) error {
		got, _ = IdentityFromContext(c.Request().Context())
		return nil
	}

	if err := DevAuthMiddleware(JWTConfig{})(handler)(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !got.IsInsurer() || got.InsurerID != insurerID || got.ActorID != "reviewer-7" {
		t.Errorf("unexpected identity %+v", got)
	}
}

func TestDevAuthMiddleware_InvalidHeaders(t *testing.T) {
	tests := []struct {
		name, header, value string
	}{
		{"unknown role", DevRoleHeader, "superuser"},
		{"bad hospital", DevHospitalHeader, "not-a-uuid"},
		{"bad insurer", DevInsurerHeader, "nope"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := echo.New()
			req := httptest.NewRequest(http.MethodGet, "/", nil)
			req.Header.Set(tt.header, tt.value)
			c := e.NewContext(req, httptest.NewRecorder())

			expectHTTPStatus(t, DevAuthMiddleware(JWTConfig{})(okHandler)(c), http.StatusUnauthorized)
		})
	}
}

func TestDevAuthMiddleware_ValidatesBearerWhenKeySet(t *testing.T) {
	e := echo.New()
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Authorization", "Bearer garbage")
	c := e.NewContext(req, httptest.NewRecorder())

	h := DevAuthMiddleware(JWTConfig{SigningKey: testSigningKey})(okHandler)
	expectHTTPStatus(t, h(c), http.StatusUnauthorized)
}
