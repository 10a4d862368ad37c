// Copyright 2024-2026 Aiku AI

package rocketchat

import (
	"net/url"
	"time"
)

// User is a Rocket.Chat user account.
type User struct {
	ID       string   `json:"_id"`
	Username string   `json:"username"`
	Name     string   `json:"name,omitempty"`
	Emails   []Email  `json:"emails,omitempty"`
	Status   string   `json:"status,omitempty"`
	Active   bool     `json:"active"`
	Roles    []string `json:"roles,omitempty"`
}

// Email is one address attached to a User.
type Email struct {
	Address  string `json:"address"`
	Verified bool   `json:"verified"`
}

// NewUser is the users.create payload.
type NewUser struct {
	Email                 string   `json:"email"`
	Name                  string   `json:"name"`
	Username              string   `json:"username"`
	Password              string   `json:"password"`
	Active                bool     `json:"active"`
	Verified              bool     `json:"verified"`
	Roles                 []string `json:"roles,omitempty"`
	JoinDefaultChannels   bool     `json:"joinDefaultChannels"`
	RequirePasswordChange bool     `json:"requirePasswordChange"`
	SendWelcomeEmail      bool     `json:"sendWelcomeEmail"`
}

// UserQuery selects a user by id or username for users.info.
type UserQuery struct {
	UserID   string
	Username string
}

func (q UserQuery) values() url.Values {
	v := url.Values{}
	if q.UserID != "" {
		v.Set("userId", q.UserID)
	} else {
		v.Set("username", q.Username)
	}
	return v
}

// Room is a Rocket.Chat private group or public channel.
type Room struct {
	ID         string `json:"_id"`
	Name       string `json:"name"`
	Type       string `json:"t"`
	UsersCount int    `json:"usersCount"`
	Archived   bool   `json:"archived,omitempty"`
	ReadOnly   bool   `json:"ro,omitempty"`
	Topic      string `json:"topic,omitempty"`
}

// Group is a private Rocket.Chat room (type "p").
type Group = Room

// Channel is a public Rocket.Chat room (type "c").
type Channel = Room

// RoomRef identifies a room by id, or by name when the id is empty.
type RoomRef struct {
	ID   string
	Name string
}

func (r RoomRef) values() url.Values {
	v := url.Values{}
	if r.ID != "" {
		v.Set("roomId", r.ID)
	} else {
		v.Set("roomName", r.Name)
	}
	return v
}

func (r RoomRef) body() map[string]any {
	if r.ID != "" {
		return map[string]any{"roomId": r.ID}
	}
	return map[string]any{"roomName": r.Name}
}

// Member is an entry of a room member listing.
type Member struct {
	ID       string `json:"_id"`
	Username string `json:"username"`
	Name     string `json:"name,omitempty"`
	Status   string `json:"status,omitempty"`
}

// CleanHistoryRequest is the rooms.cleanHistory payload.
type CleanHistoryRequest struct {
	RoomID        string    `json:"roomId"`
	Latest        time.Time `json:"latest"`
	Oldest        time.Time `json:"oldest"`
	Inclusive     bool      `json:"inclusive"`
	ExcludePinned bool      `json:"excludePinned,omitempty"`
	FilesOnly     bool      `json:"filesOnly,omitempty"`
}

// Message is a posted chat message.
type Message struct {
	ID        string `json:"_id"`
	RoomID    string `json:"rid"`
	Text      string `json:"msg"`
	Timestamp string `json:"ts,omitempty"`
}
