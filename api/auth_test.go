package api

import (
	"strings"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v4"
)

func TestBearerTokenFromString(t *testing.T) {
	token, err := bearerTokenFromString("Bearer header.payload.signature")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if token != "header.payload.signature" {
		t.Fatalf("unexpected token: %s", token)
	}

	if _, err := bearerTokenFromString(""); err != errMissingAuthorization {
		t.Fatalf("expected missing header error, got %v", err)
	}
	if _, err := bearerTokenFromString("Basic abc"); err != errBadAuthorization {
		t.Fatalf("expected bad header error, got %v", err)
	}
	if _, err := bearerTokenFromString("Bearer " + strings.Repeat(".", 1000)); err != errBadAuthorization {
		t.Fatalf("expected bad header error for many periods, got %v", err)
	}
	if _, err := bearerTokenFromString("Bearer no-dots"); err != errBadAuthorization {
		t.Fatalf("expected bad header error for non-jwt, got %v", err)
	}
}

func newTestAuth(t *testing.T, secret string) *Auth {
	t.Helper()
	t.Setenv(envAuthTestMode, "1")
	t.Setenv(envTestJWTSecret, secret)
	return NewAuth(nil, "", "")
}

func signHS256(t *testing.T, secret string, claims jwt.MapClaims) string {
	t.Helper()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString([]byte(secret))
	if err != nil {
		t.Fatalf("sign token: %v", err)
	}
	return signed
}

func TestUserIDFromAuthHeaderHS256(t *testing.T) {
	a := newTestAuth(t, "test-secret")
	signed := signHS256(t, "test-secret", jwt.MapClaims{
		"sub": "user-42",
		"exp": time.Now().Add(time.Hour).Unix(),
	})

	user, err := a.UserIDFromAuthHeader("Bearer " + signed)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if user != "user-42" {
		t.Fatalf("unexpected user: %s", user)
	}
}

func TestUserIDFromAuthHeaderExpired(t *testing.T) {
	a := newTestAuth(t, "test-secret")
	signed := signHS256(t, "test-secret", jwt.MapClaims{
		"sub": "user-42",
		"exp": time.Now().Add(-2 * time.Hour).Unix(),
	})

	if _, err := a.UserIDFromAuthHeader("Bearer " + signed); err == nil {
		t.Fatal("expected expiry error")
	}
}

func TestUserIDFromAuthHeaderWrongSecret(t *testing.T) {
	a := newTestAuth(t, "test-secret")
	signed := signHS256(t, "other-secret", jwt.MapClaims{
		"sub": "user-42",
		"exp": time.Now().Add(time.Hour).Unix(),
	})

	if _, err := a.UserIDFromAuthHeader("Bearer " + signed); err == nil {
		t.Fatal("expected signature error")
	}
}

func TestUserIDFromAuthHeaderMissingSub(t *testing.T) {
	a := newTestAuth(t, "test-secret")
	signed := signHS256(t, "test-secret", jwt.MapClaims{
		"exp": time.Now().Add(time.Hour).Unix(),
	})

	if _, err := a.UserIDFromAuthHeader("Bearer " + signed); err == nil || err.Error() != "missing sub" {
		t.Fatalf("expected missing sub error, got %v", err)
	}
}

func TestNewAuthLocalMode(t *testing.T) {
	t.Setenv(envLocalAuthMode, "hs256")
	t.Setenv(envLocalAuthSecret, "shared")
	a := NewAuth(nil, "", "")
	if !a.TestMode || string(a.TestSecret) != "shared" {
		t.Fatalf("auth = %+v", a)
	}
}
