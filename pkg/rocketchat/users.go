// Copyright 2024-2026 Aiku AI

package rocketchat

import (
	"context"
	"net/http"
)

type userResponse struct {
	User User `json:"user"`
}

// CreateUser creates a new account.
func (c *Client) CreateUser(ctx context.Context, user NewUser) (*User, error) {
	var resp userResponse
	if err := c.do(ctx, http.MethodPost, "users.create", nil, user, &resp); err != nil {
		return nil, err
	}
	return &resp.User, nil
}

// UserInfo looks up a user by id or username. A missing user yields an
// APIError for which IsNotFound is true.
func (c *Client) UserInfo(ctx context.Context, query UserQuery) (*User, error) {
	var resp userResponse
	if err := c.do(ctx, http.MethodGet, "users.info", query.values(), nil, &resp); err != nil {
		return nil, err
	}
	return &resp.User, nil
}

// DeleteUser removes an account. Rooms owned solely by the user are
// relinquished to the next owner.
func (c *Client) DeleteUser(ctx context.Context, userID string) error {
	return c.do(ctx, http.MethodPost, "users.delete", nil, map[string]any{
		"userId":            userID,
		"confirmRelinquish": true,
	}, nil)
}
