package api

import (
	"context"
	"net/http"
	"net/url"
)

// Pilots lists every pilot with team names resolved by the backend.
func (c *Client) Pilots(ctx context.Context) ([]Pilot, error) {
	var out []Pilot
	err := c.do(ctx, call{method: http.MethodGet, path: "/pilots", bearer: c.optionalToken(ctx), out: &out})
	return out, err
}

// CreatePilot calls POST /pilots.
func (c *Client) CreatePilot(ctx context.Context, p NewPilot) (Created, error) {
	var out Created
	err := c.do(ctx, call{method: http.MethodPost, path: "/pilots", authed: true, in: p, out: &out})
	return out, err
}

// DeletePilot calls DELETE /pilots/{id}.
func (c *Client) DeletePilot(ctx context.Context, id string) error {
	return c.do(ctx, call{method: http.MethodDelete, path: "/pilots/" + url.PathEscape(id), authed: true})
}
