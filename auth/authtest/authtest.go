package authtest

import (
	"context"
	"sync"

	"github.com/ggoodman/paddock/auth"
)

// Static is a scripted Authenticator for tests. It answers every WhoAmI call
// with the configured identity or error and records the tokens it was asked
// about.
type Static struct {
	mu       sync.Mutex
	identity auth.Identity
	err      error
	tokens   []string
}

var _ auth.Authenticator = (*Static)(nil)

// NewIdentity returns an authenticator that always succeeds with id.
func NewIdentity(id auth.Identity) *Static {
	return &Static{identity: id}
}

// NewError returns an authenticator that always fails with err.
func NewError(err error) *Static {
	return &Static{err: err}
}

// NewUnauthorized returns an authenticator that rejects every token.
func NewUnauthorized() *Static { return NewError(auth.ErrUnauthorized) }

// NewUnavailable returns an authenticator that behaves like an unreachable backend.
func NewUnavailable() *Static { return NewError(auth.ErrUnavailable) }

// WhoAmI returns the scripted outcome.
func (s *Static) WhoAmI(ctx context.Context, token string) (auth.Identity, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tokens = append(s.tokens, token)
	if err := ctx.Err(); err != nil {
		return auth.Identity{}, err
	}
	if s.err != nil {
		return auth.Identity{}, s.err
	}
	return s.identity, nil
}

// Set replaces the scripted outcome.
func (s *Static) Set(id auth.Identity, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.identity = id
	s.err = err
}

// Calls returns the number of WhoAmI invocations so far.
func (s *Static) Calls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.tokens)
}

// Tokens returns a copy of the tokens passed to WhoAmI, in call order.
func (s *Static) Tokens() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.tokens...)
}

// Issuer is a scripted auth.Issuer. Users maps username to password; a
// successful login returns Token (or "tok-<username>" when empty) and Role.
type Issuer struct {
	mu    sync.Mutex
	Users map[string]string
	Token string
	Role  string
	Err   error
	calls int
}

var _ auth.Issuer = (*Issuer)(nil)

// Login checks the credentials against Users.
func (i *Issuer) Login(ctx context.Context, username, password string) (auth.Grant, error) {
	i.mu.Lock()
	defer i.mu.Unlock()
	i.calls++
	if i.Err != nil {
		return auth.Grant{}, i.Err
	}
	if pw, ok := i.Users[username]; !ok || pw != password {
		return auth.Grant{}, auth.ErrUnauthorized
	}
	tok := i.Token
	if tok == "" {
		tok = "tok-" + username
	}
	return auth.Grant{Token: tok, Role: i.Role}, nil
}

// Calls returns the number of Login invocations so far.
func (i *Issuer) Calls() int {
	i.mu.Lock()
	defer i.mu.Unlock()
	return i.calls
}
