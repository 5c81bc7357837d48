package api

import (
	"context"
	"net/http"
	"net/url"
)

// Users calls GET /admin/users.
func (c *Client) Users(ctx context.Context) ([]User, error) {
	var out []User
	err := c.do(ctx, call{method: http.MethodGet, path: "/admin/users", authed: true, out: &out})
	return out, err
}

// User calls GET /admin/users/{id}.
func (c *Client) User(ctx context.Context, id string) (User, error) {
	var out User
	err := c.do(ctx, call{method: http.MethodGet, path: userPath(id), authed: true, out: &out})
	return out, err
}

// CreateUser calls POST /admin/users.
func (c *Client) CreateUser(ctx context.Context, reg Registration) (Created, error) {
	var out Created
	err := c.do(ctx, call{method: http.MethodPost, path: "/admin/users", authed: true, in: reg, out: &out})
	return out, err
}

// UpdateUser calls PUT /admin/users/{id} and returns the updated user.
func (c *Client) UpdateUser(ctx context.Context, id string, upd UserUpdate) (User, error) {
	var out User
	err := c.do(ctx, call{method: http.MethodPut, path: userPath(id), authed: true, in: upd, out: &out})
	return out, err
}

// DeleteUser calls DELETE /admin/users/{id}.
func (c *Client) DeleteUser(ctx context.Context, id string) error {
	return c.do(ctx, call{method: http.MethodDelete, path: userPath(id), authed: true})
}

func userPath(id string) string { return "/admin/users/" + url.PathEscape(id) }
