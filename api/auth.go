package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/ggoodman/paddock/auth"
)

var (
	_ auth.Authenticator = (*Client)(nil)
	_ auth.Issuer        = (*Client)(nil)
)

// WhoAmI calls GET /me. A 401 or 403 wraps auth.ErrUnauthorized. Everything
// else that is not a well-formed identity wraps auth.ErrUnavailable, since it
// says nothing definite about the token.
func (c *Client) WhoAmI(ctx context.Context, token string) (auth.Identity, error) {
	if token == "" {
		return auth.Identity{}, fmt.Errorf("GET /me: empty token: %w", auth.ErrUnauthorized)
	}

	var id auth.Identity
	err := c.do(ctx, call{method: http.MethodGet, path: "/me", bearer: token, out: &id})

	var se *StatusError
	switch {
	case err == nil:
	case errors.As(err, &se) && se.Unauthenticated():
		return auth.Identity{}, fmt.Errorf("%w: %w", auth.ErrUnauthorized, err)
	case ctx.Err() != nil:
		return auth.Identity{}, ctx.Err()
	default:
		return auth.Identity{}, fmt.Errorf("%w: %w", auth.ErrUnavailable, err)
	}

	if id.Username == "" {
		return auth.Identity{}, fmt.Errorf("%w: GET /me: response carried no username", auth.ErrUnavailable)
	}
	return id, nil
}

// Login calls POST /login. Rejected credentials wrap auth.ErrUnauthorized.
func (c *Client) Login(ctx context.Context, username, password string) (auth.Grant, error) {
	var resp loginResponse
	err := c.do(ctx, call{
		method: http.MethodPost,
		path:   "/login",
		in:     loginRequest{Username: username, Password: password},
		out:    &resp,
	})
	var se *StatusError
	switch {
	case err == nil:
	case errors.As(err, &se) && se.Unauthenticated():
		return auth.Grant{}, fmt.Errorf("%w: %w", auth.ErrUnauthorized, err)
	case isTransport(err) && ctx.Err() == nil:
		return auth.Grant{}, fmt.Errorf("%w: %w", auth.ErrUnavailable, err)
	default:
		return auth.Grant{}, err
	}
	return auth.Grant{Token: resp.Token, Role: resp.Role}, nil
}

// Register calls POST /register. An empty role is sent as "user".
func (c *Client) Register(ctx context.Context, reg Registration) (Created, error) {
	if reg.Role == "" {
		reg.Role = auth.RoleUser
	}
	var out Created
	err := c.do(ctx, call{method: http.MethodPost, path: "/register", in: reg, out: &out})
	return out, err
}
