// Copyright 2024-2026 Aiku AI

package rocketchat

import (
	"context"
	"net/http"
)

type postMessageResponse struct {
	Message Message `json:"message"`
}

// CleanHistory deletes the messages of a room between Oldest and Latest.
func (c *Client) CleanHistory(ctx context.Context, req CleanHistoryRequest) error {
	return c.do(ctx, http.MethodPost, "rooms.cleanHistory", nil, req, nil)
}

// PostMessage posts a markdown message to a room as the authenticated user.
func (c *Client) PostMessage(ctx context.Context, roomID, text string) (*Message, error) {
	var resp postMessageResponse
	err := c.do(ctx, http.MethodPost, "chat.postMessage", nil, map[string]string{
		"roomId": roomID,
		"text":   text,
	}, &resp)
	if err != nil {
		return nil, err
	}
	return &resp.Message, nil
}
