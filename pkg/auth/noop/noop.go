// Package noop provides an authenticator that accepts every request.
// It is intended for development and single-user deployments where the
// gateway listens on a trusted interface.
package noop

import (
	"context"
	"net/http"

	"github.com/vermittler-dev/vermittler/pkg/auth"
)

// Authenticator accepts all requests with an anonymous identity.
type Authenticator struct{}

// New creates a NoOp authenticator.
func New() *Authenticator { return &Authenticator{} }

// Authenticate always returns Yes with an anonymous identity.
func (a *Authenticator) Authenticate(_ context.Context, _ *http.Request) auth.Result {
	return auth.Result{
		Decision: auth.Yes,
		Identity: &auth.Identity{Subject: "anonymous"},
	}
}
