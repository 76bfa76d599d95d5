// Package auth provides client authentication for the vermittler gateway.
//
// Authenticators vote Yes/No/Abstain on each request; a chain evaluates
// them in order and falls back to a default decision when all abstain.
// Subpackages implement the concrete schemes: apikey (static keys with
// constant-time comparison), jwt (RS256 bearer tokens against a JWKS
// endpoint), and noop (allow everything, for development).
package auth
