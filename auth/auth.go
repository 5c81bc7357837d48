package auth

import (
	"context"
	"errors"
)

// ErrUnauthorized indicates the backend was reached and authoritatively
// rejected the bearer token (expired, revoked, malformed signature).
var ErrUnauthorized = errors.New("unauthorized")

// ErrUnavailable indicates the backend could not give an authoritative answer:
// the request never got a response, or the response was not usable. The token
// may still be valid.
var ErrUnavailable = errors.New("identity endpoint unavailable")

// Role names seeded by the backend.
const (
	RoleAdmin   = "admin"
	RoleUser    = "user"
	RoleVisitor = "visitor"
)

// Identity represents an authenticated principal as the backend describes it.
// The JSON shape matches both the /me response and the cached identity record.
type Identity struct {
	Username string `json:"username"`
	Role     string `json:"role"`
}

// IsAdmin reports whether id is present and carries the admin role.
func IsAdmin(id *Identity) bool {
	return id != nil && id.Role == RoleAdmin
}

// Authenticator resolves the identity behind a bearer token. Implementations
// must return ErrUnauthorized only when the backend explicitly rejected the
// token, and ErrUnavailable (possibly wrapped) when no authoritative answer
// could be obtained.
type Authenticator interface {
	WhoAmI(ctx context.Context, token string) (Identity, error)
}

// AuthenticatorFunc adapts a function to the Authenticator interface.
type AuthenticatorFunc func(ctx context.Context, token string) (Identity, error)

// WhoAmI calls f(ctx, token).
func (f AuthenticatorFunc) WhoAmI(ctx context.Context, token string) (Identity, error) {
	return f(ctx, token)
}

// Grant is the outcome of a successful credential exchange.
type Grant struct {
	Token string `json:"token"`
	// Role is optional; some backends echo it next to the token.
	Role string `json:"role,omitempty"`
}

// Issuer exchanges username/password credentials for a bearer token.
type Issuer interface {
	Login(ctx context.Context, username, password string) (Grant, error)
}
