// Package apikey provides an API key authenticator that validates client
// credentials against a static key store using SHA-256 hashing and
// constant-time comparison.
package apikey

import (
	"context"
	"crypto/sha256"
	"crypto/subtle"
	"net/http"

	"github.com/vermittler-dev/vermittler/pkg/auth"
)

// keyEntry maps a key hash to the configured key name.
type keyEntry struct {
	keyHash [32]byte
	name    string
}

// Authenticator validates client API keys against a static key store.
type Authenticator struct {
	keys []keyEntry
}

// Entry is the configuration format for a single API key.
type Entry struct {
	// Name identifies the key owner; it becomes the identity Subject and
	// is what usage records are attributed to.
	Name string

	// Key is the plaintext credential.
	Key string
}

// New creates an API key authenticator from a list of entries.
// Keys are hashed immediately; plaintext keys are not retained.
func New(entries []Entry) *Authenticator {
	a := &Authenticator{}
	for _, e := range entries {
		name := e.Name
		if name == "" {
			name = "default"
		}
		a.keys = append(a.keys, keyEntry{
			keyHash: sha256.Sum256([]byte(e.Key)),
			name:    name,
		})
	}
	return a
}

// Authenticate extracts the client key from the request headers and
// validates it. Returns Yes if valid, No if a key is present but invalid,
// Abstain if no credential is present at all.
func (a *Authenticator) Authenticate(_ context.Context, r *http.Request) auth.Result {
	key := auth.ExtractAPIKey(r)
	if key == "" {
		return auth.Result{Decision: auth.Abstain}
	}

	keyHash := sha256.Sum256([]byte(key))

	for _, entry := range a.keys {
		if subtle.ConstantTimeCompare(keyHash[:], entry.keyHash[:]) == 1 {
			return auth.Result{
				Decision: auth.Yes,
				Identity: &auth.Identity{Subject: entry.name},
			}
		}
	}

	// Credential present but not found.
	return auth.Result{Decision: auth.No, Err: auth.ErrUnauthenticated}
}
