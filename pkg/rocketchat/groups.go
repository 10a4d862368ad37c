// Copyright 2024-2026 Aiku AI

package rocketchat

import (
	"context"
	"net/http"
	"strconv"
)

// membersPageSize is the page size used when listing room members.
const membersPageSize = 100

type groupResponse struct {
	Group Group `json:"group"`
}

type membersResponse struct {
	Members []Member `json:"members"`
	Count   int      `json:"count"`
	Offset  int      `json:"offset"`
	Total   int      `json:"total"`
}

type moderatorsResponse struct {
	Moderators []Member `json:"moderators"`
}

// CreateGroup creates a private group with the given initial member usernames.
func (c *Client) CreateGroup(ctx context.Context, name string, members []string) (*Group, error) {
	if members == nil {
		members = []string{}
	}
	var resp groupResponse
	err := c.do(ctx, http.MethodPost, "groups.create", nil, map[string]any{
		"name":    name,
		"members": members,
	}, &resp)
	if err != nil {
		return nil, err
	}
	return &resp.Group, nil
}

// GroupInfo fetches a private group.
func (c *Client) GroupInfo(ctx context.Context, ref RoomRef) (*Group, error) {
	var resp groupResponse
	if err := c.do(ctx, http.MethodGet, "groups.info", ref.values(), nil, &resp); err != nil {
		return nil, err
	}
	return &resp.Group, nil
}

// DeleteGroup deletes a private group.
func (c *Client) DeleteGroup(ctx context.Context, ref RoomRef) error {
	return c.do(ctx, http.MethodPost, "groups.delete", nil, ref.body(), nil)
}

// ArchiveGroup archives a private group.
func (c *Client) ArchiveGroup(ctx context.Context, ref RoomRef) error {
	return c.do(ctx, http.MethodPost, "groups.archive", nil, ref.body(), nil)
}

// UnarchiveGroup restores an archived private group.
func (c *Client) UnarchiveGroup(ctx context.Context, ref RoomRef) error {
	return c.do(ctx, http.MethodPost, "groups.unarchive", nil, ref.body(), nil)
}

// InviteToGroup adds a user to a private group.
func (c *Client) InviteToGroup(ctx context.Context, ref RoomRef, userID string) error {
	return c.groupUserAction(ctx, "groups.invite", ref, userID)
}

// KickFromGroup removes a user from a private group.
func (c *Client) KickFromGroup(ctx context.Context, ref RoomRef, userID string) error {
	return c.groupUserAction(ctx, "groups.kick", ref, userID)
}

// AddGroupModerator gives a member the moderator role in a private group.
func (c *Client) AddGroupModerator(ctx context.Context, ref RoomRef, userID string) error {
	return c.groupUserAction(ctx, "groups.addModerator", ref, userID)
}

// RemoveGroupModerator takes the moderator role away from a member.
func (c *Client) RemoveGroupModerator(ctx context.Context, ref RoomRef, userID string) error {
	return c.groupUserAction(ctx, "groups.removeModerator", ref, userID)
}

func (c *Client) groupUserAction(ctx context.Context, endpoint string, ref RoomRef, userID string) error {
	body := ref.body()
	body["userId"] = userID
	return c.do(ctx, http.MethodPost, endpoint, nil, body, nil)
}

// GroupMembers lists every member of a private group, following pagination.
func (c *Client) GroupMembers(ctx context.Context, ref RoomRef) ([]Member, error) {
	return c.listMembers(ctx, "groups.members", ref)
}

// GroupModerators lists the moderators of a private group.
func (c *Client) GroupModerators(ctx context.Context, ref RoomRef) ([]Member, error) {
	var resp moderatorsResponse
	if err := c.do(ctx, http.MethodGet, "groups.moderators", ref.values(), nil, &resp); err != nil {
		return nil, err
	}
	return resp.Moderators, nil
}

func (c *Client) listMembers(ctx context.Context, endpoint string, ref RoomRef) ([]Member, error) {
	var members []Member
	offset := 0
	for {
		query := ref.values()
		query.Set("offset", strconv.Itoa(offset))
		query.Set("count", strconv.Itoa(membersPageSize))
		var resp membersResponse
		if err := c.do(ctx, http.MethodGet, endpoint, query, nil, &resp); err != nil {
			return nil, err
		}
		members = append(members, resp.Members...)
		offset += len(resp.Members)
		if len(resp.Members) == 0 || offset >= resp.Total {
			return members, nil
		}
	}
}
