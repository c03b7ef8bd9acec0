// Package jwt signs and verifies session access tokens. The Manager is a
// thin, strictly-configured wrapper over golang-jwt: algorithm pinning,
// issuer/audience checks, and bounded leeway are non-optional.
package jwt
