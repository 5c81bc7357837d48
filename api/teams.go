package api

import (
	"context"
	"net/http"
	"net/url"
)

// Teams lists every team. The endpoint is public; a token is sent when one is
// available.
func (c *Client) Teams(ctx context.Context) ([]Team, error) {
	var out []Team
	err := c.do(ctx, call{method: http.MethodGet, path: "/teams", bearer: c.optionalToken(ctx), out: &out})
	return out, err
}

// CreateTeam calls POST /teams.
func (c *Client) CreateTeam(ctx context.Context, t NewTeam) (Created, error) {
	var out Created
	err := c.do(ctx, call{method: http.MethodPost, path: "/teams", authed: true, in: t, out: &out})
	return out, err
}

// DeleteTeam calls DELETE /teams/{id}.
func (c *Client) DeleteTeam(ctx context.Context, id string) error {
	return c.do(ctx, call{method: http.MethodDelete, path: "/teams/" + url.PathEscape(id), authed: true})
}

// optionalToken returns the current token or "" without failing.
func (c *Client) optionalToken(ctx context.Context) string {
	if c.tokens == nil {
		return ""
	}
	tok, err := c.tokens.Token(ctx)
	if err != nil {
		return ""
	}
	return tok
}
