package jwt

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"math/big"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	jwtlib "github.com/golang-jwt/jwt/v5"

	"github.com/vermittler-dev/vermittler/pkg/auth"
)

// testKeyPair holds the RSA key pair used throughout the tests.
var testKeyPair *rsa.PrivateKey

func init() {
	var err error
	testKeyPair, err = rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		panic(fmt.Sprintf("generating test RSA key: %v", err))
	}
}

// testKID is the key ID used for the test key pair.
const testKID = "test-key-1"

// jwksHandler serves the test public key as a JWKS and counts fetches.
func jwksHandler(fetchCount *atomic.Int32) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if fetchCount != nil {
			fetchCount.Add(1)
		}

		pubKey := testKeyPair.PublicKey
		nBase64 := base64.RawURLEncoding.EncodeToString(pubKey.N.Bytes())
		eBase64 := base64.RawURLEncoding.EncodeToString(big.NewInt(int64(pubKey.E)).Bytes())

		jwks := map[string]interface{}{
			"keys": []map[string]string{
				{
					"kty": "RSA",
					"kid": testKID,
					"use": "sig",
					"n":   nBase64,
					"e":   eBase64,
				},
			},
		}

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(jwks)
	}
}

// createSignedToken creates a JWT signed with the test private key.
func createSignedToken(t *testing.T, claims jwtlib.MapClaims) string {
	t.Helper()
	token := jwtlib.NewWithClaims(jwtlib.SigningMethodRS256, claims)
	token.Header["kid"] = testKID

	tokenStr, err := token.SignedString(testKeyPair)
	if err != nil {
		t.Fatalf("signing test token: %v", err)
	}
	return tokenStr
}

// newTestAuthenticator creates a test JWKS server and JWT authenticator.
func newTestAuthenticator(t *testing.T, cfgOverride func(*Config), fetchCount *atomic.Int32) *Authenticator {
	t.Helper()

	server := httptest.NewServer(jwksHandler(fetchCount))
	t.Cleanup(server.Close)

	cfg := Config{
		Issuer:   "https://auth.example.com",
		Audience: "vermittler",
		JWKSURL:  server.URL + "/.well-known/jwks.json",
		CacheTTL: 1 * time.Hour,
	}

	if cfgOverride != nil {
		cfgOverride(&cfg)
	}

	return New(cfg)
}

func baseClaims() jwtlib.MapClaims {
	return jwtlib.MapClaims{
		"sub": "user-123",
		"iss": "https://auth.example.com",
		"aud": "vermittler",
		"exp": time.Now().Add(1 * time.Hour).Unix(),
		"iat": time.Now().Unix(),
	}
}

func authenticateToken(t *testing.T, authn *Authenticator, token string) auth.Result {
	t.Helper()
	r := httptest.NewRequest("POST", "/v1/chat/completions", nil)
	r.Header.Set("Authorization", "Bearer "+token)
	return authn.Authenticate(context.Background(), r)
}

func TestJWT_ValidToken(t *testing.T) {
	authn := newTestAuthenticator(t, nil, nil)

	result := authenticateToken(t, authn, createSignedToken(t, baseClaims()))

	if result.Decision != auth.Yes {
		t.Fatalf("Decision = %d, want Yes; err=%v", result.Decision, result.Err)
	}
	if result.Identity == nil || result.Identity.Subject != "user-123" {
		t.Errorf("Identity = %+v, want Subject user-123", result.Identity)
	}
}

func TestJWT_RejectedClaims(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(jwtlib.MapClaims)
	}{
		{"expired", func(c jwtlib.MapClaims) {
			c["exp"] = time.Now().Add(-1 * time.Hour).Unix()
			c["iat"] = time.Now().Add(-2 * time.Hour).Unix()
		}},
		{"wrong audience", func(c jwtlib.MapClaims) { c["aud"] = "other-api" }},
		{"wrong issuer", func(c jwtlib.MapClaims) { c["iss"] = "https://evil.example.com" }},
		{"missing sub", func(c jwtlib.MapClaims) { delete(c, "sub") }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			authn := newTestAuthenticator(t, nil, nil)
			claims := baseClaims()
			tt.mutate(claims)

			result := authenticateToken(t, authn, createSignedToken(t, claims))

			if result.Decision != auth.No {
				t.Fatalf("Decision = %d, want No", result.Decision)
			}
		})
	}
}

func TestJWT_AbstainOnNonJWTCredentials(t *testing.T) {
	authn := newTestAuthenticator(t, nil, nil)

	tests := []struct {
		name   string
		header string
	}{
		{"no header", ""},
		{"basic auth", "Basic dXNlcjpwYXNz"},
		// A plain API key is not a JWT; the apikey authenticator in the
		// chain should get a chance to handle it.
		{"opaque bearer key", "Bearer sk-plain-api-key"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := httptest.NewRequest("POST", "/v1/chat/completions", nil)
			if tt.header != "" {
				r.Header.Set("Authorization", tt.header)
			}

			result := authn.Authenticate(context.Background(), r)

			if result.Decision != auth.Abstain {
				t.Fatalf("Decision = %d, want Abstain", result.Decision)
			}
		})
	}
}

func TestJWT_MalformedJWTRejected(t *testing.T) {
	authn := newTestAuthenticator(t, nil, nil)

	result := authenticateToken(t, authn, "eyJhbGciOiJSUzI1NiJ9.invalid.payload")

	if result.Decision != auth.No {
		t.Fatalf("Decision = %d, want No", result.Decision)
	}
}

func TestJWT_ScopesExtraction(t *testing.T) {
	tests := []struct {
		name  string
		scope interface{}
		want  []string
	}{
		{"space-separated string", "read write admin", []string{"read", "write", "admin"}},
		{"json array", []interface{}{"read", "write"}, []string{"read", "write"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			authn := newTestAuthenticator(t, nil, nil)
			claims := baseClaims()
			claims["scope"] = tt.scope

			result := authenticateToken(t, authn, createSignedToken(t, claims))

			if result.Decision != auth.Yes {
				t.Fatalf("Decision = %d, want Yes; err=%v", result.Decision, result.Err)
			}
			if len(result.Identity.Scopes) != len(tt.want) {
				t.Fatalf("Scopes = %v, want %v", result.Identity.Scopes, tt.want)
			}
			for i, s := range tt.want {
				if result.Identity.Scopes[i] != s {
					t.Errorf("Scopes[%d] = %q, want %q", i, result.Identity.Scopes[i], s)
				}
			}
		})
	}
}

func TestJWT_JWKSCaching(t *testing.T) {
	var fetchCount atomic.Int32
	authn := newTestAuthenticator(t, nil, &fetchCount)

	token := createSignedToken(t, baseClaims())

	for i := 0; i < 5; i++ {
		result := authenticateToken(t, authn, token)
		if result.Decision != auth.Yes {
			t.Fatalf("request %d: Decision = %d, want Yes; err=%v", i, result.Decision, result.Err)
		}
	}

	// JWKS should have been fetched only once (the cache TTL is 1 hour).
	if count := fetchCount.Load(); count != 1 {
		t.Errorf("JWKS fetch count = %d, want 1 (caching broken)", count)
	}
}

func TestJWT_NoIssuerOrAudienceValidationWhenUnset(t *testing.T) {
	authn := newTestAuthenticator(t, func(cfg *Config) {
		cfg.Issuer = ""
		cfg.Audience = ""
	}, nil)

	claims := baseClaims()
	claims["iss"] = "https://any-issuer.example.com"
	claims["aud"] = "any-api"

	result := authenticateToken(t, authn, createSignedToken(t, claims))

	if result.Decision != auth.Yes {
		t.Fatalf("Decision = %d, want Yes; err=%v", result.Decision, result.Err)
	}
}
