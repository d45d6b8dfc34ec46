package api

import (
	"errors"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/MicahParks/keyfunc"
	"github.com/golang-jwt/jwt/v4"
)

const (
	defaultJWKSCacheTTL = 15 * time.Minute
	envAuthTestMode     = "AUTH_TEST_MODE"
	envTestJWTSecret    = "TEST_JWT_SECRET"
	envLocalAuthMode    = "LOCAL_AUTH_MODE"
	envLocalAuthSecret  = "LOCAL_AUTH_SHARED_SECRET"
	envJWKSCacheTTL     = "JWKS_CACHE_TTL"
)

// clockSkew is the leeway granted when validating time-based claims.
const clockSkew = time.Minute

// Auth validates bearer tokens and yields the caller's user ID. In normal
// operation tokens are RS256 and verified against the identity provider's
// JWKS; setting LOCAL_AUTH_MODE=hs256 or AUTH_TEST_MODE=1 switches to
// shared-secret HS256 for local development and tests.
type Auth struct {
	JWKS       *keyfunc.JWKS
	Audience   string
	Issuer     string
	TestMode   bool
	TestSecret []byte

	parser      *jwt.Parser
	keyfunc     jwt.Keyfunc
	keyCache    sync.Map
	keyCacheTTL time.Duration
}

type keyEntry struct {
	key     any
	staleAt time.Time
}

// NewAuth builds the token validator. Misconfiguration is fatal: auth is not
// something to limp along without.
func NewAuth(jwks *keyfunc.JWKS, audience, issuer string) *Auth {
	a := &Auth{JWKS: jwks, Audience: audience, Issuer: issuer}
	a.keyCacheTTL = jwksCacheTTLFromEnv()

	switch mode := strings.ToLower(os.Getenv(envLocalAuthMode)); {
	case mode == "hs256":
		a.enableSharedSecret(envLocalAuthSecret, "LOCAL_AUTH_SHARED_SECRET must be set when LOCAL_AUTH_MODE=hs256")
	case mode != "":
		panic("unsupported LOCAL_AUTH_MODE value")
	case os.Getenv(envAuthTestMode) == "1":
		a.enableSharedSecret(envTestJWTSecret, "TEST_JWT_SECRET must be set when AUTH_TEST_MODE=1")
	}

	if a.TestMode {
		a.parser = jwt.NewParser(jwt.WithValidMethods([]string{"HS256"}))
		a.keyfunc = func(t *jwt.Token) (any, error) {
			if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
				return nil, errors.New("invalid signing method")
			}
			return a.TestSecret, nil
		}
	} else {
		a.parser = jwt.NewParser(jwt.WithValidMethods([]string{"RS256"}))
		a.keyfunc = a.keyForToken
	}
	return a
}

func (a *Auth) enableSharedSecret(envName, missingMsg string) {
	secret := os.Getenv(envName)
	if secret == "" {
		panic(missingMsg)
	}
	a.TestMode = true
	a.TestSecret = []byte(secret)
}

func jwksCacheTTLFromEnv() time.Duration {
	raw := os.Getenv(envJWKSCacheTTL)
	if raw == "" {
		return defaultJWKSCacheTTL
	}
	ttl, err := time.ParseDuration(raw)
	if err != nil || ttl <= 0 {
		panic("invalid JWKS_CACHE_TTL")
	}
	return ttl
}

// UserIDFromAuthHeader extracts the user identifier from an Authorization
// header value.
func (a *Auth) UserIDFromAuthHeader(h string) (string, error) {
	token, err := bearerTokenFromString(h)
	if err != nil {
		return "", err
	}

	parsed, err := a.parser.Parse(token, a.keyfunc)
	if err != nil {
		return "", err
	}
	claims, ok := parsed.Claims.(jwt.MapClaims)
	if !ok {
		return "", errors.New("invalid claims")
	}
	if err := a.checkClaims(claims); err != nil {
		return "", err
	}

	sub, ok := claims["sub"].(string)
	if !ok || sub == "" {
		return "", errors.New("missing sub")
	}
	return sub, nil
}

func (a *Auth) checkClaims(claims jwt.MapClaims) error {
	now := time.Now().Add(clockSkew).Unix()
	switch {
	case !claims.VerifyExpiresAt(now, true):
		return errors.New("token expired")
	case !claims.VerifyNotBefore(now, false):
		return errors.New("token not valid yet")
	case !claims.VerifyIssuedAt(now, false):
		return errors.New("token used before issued")
	case a.Audience != "" && !claims.VerifyAudience(a.Audience, false):
		return errors.New("invalid audience")
	case a.Issuer != "" && !claims.VerifyIssuer(a.Issuer, false):
		return errors.New("invalid issuer")
	}
	return nil
}

// keyForToken resolves the signing key via JWKS. Keys are cached by kid for
// keyCacheTTL so steady-state requests skip the keyfunc mutex.
func (a *Auth) keyForToken(token *jwt.Token) (any, error) {
	if a.JWKS == nil {
		return nil, errors.New("jwks not configured")
	}

	kid, _ := token.Header["kid"].(string)
	cacheable := kid != "" && a.keyCacheTTL > 0

	if cacheable {
		if v, ok := a.keyCache.Load(kid); ok {
			entry := v.(keyEntry)
			if time.Now().Before(entry.staleAt) {
				return entry.key, nil
			}
			a.keyCache.Delete(kid)
		}
	}

	key, err := a.JWKS.Keyfunc(token)
	if err != nil {
		return nil, err
	}
	if cacheable {
		a.keyCache.Store(kid, keyEntry{key: key, staleAt: time.Now().Add(a.keyCacheTTL)})
	}
	return key, nil
}
