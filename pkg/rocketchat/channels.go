// Copyright 2024-2026 Aiku AI

package rocketchat

import (
	"context"
	"net/http"
)

type channelResponse struct {
	Channel Channel `json:"channel"`
}

// ChannelInfo fetches a public channel.
func (c *Client) ChannelInfo(ctx context.Context, ref RoomRef) (*Channel, error) {
	var resp channelResponse
	if err := c.do(ctx, http.MethodGet, "channels.info", ref.values(), nil, &resp); err != nil {
		return nil, err
	}
	return &resp.Channel, nil
}

// ChannelMembers lists every member of a public channel.
func (c *Client) ChannelMembers(ctx context.Context, ref RoomRef) ([]Member, error) {
	return c.listMembers(ctx, "channels.members", ref)
}
