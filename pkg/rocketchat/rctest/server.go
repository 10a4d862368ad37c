// Copyright 2024-2026 Remi Philippe
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at https://mozilla.org/MPL/2.0/.

// Package rctest provides an in-memory Rocket.Chat REST server for tests.
package rctest

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"slices"
	"strconv"
	"strings"
	"sync"

	"github.com/aiku/moodle-rocketchat/pkg/rocketchat"
)

// Default admin credentials accepted by a new Server.
const (
	AdminUsername = "admin"
	AdminPassword = "admin-pass"
	AdminToken    = "admin-token"
	AdminID       = "admin-id"
)

// Call records one request received by the server.
type Call struct {
	Method   string
	Endpoint string
	Body     string
}

// Server simulates the subset of the Rocket.Chat REST API the client uses.
// It records calls and keeps users, rooms and memberships in memory.
type Server struct {
	Server *httptest.Server

	mu     sync.Mutex
	calls  []Call
	nextID int

	// Users maps user ID to account.
	Users map[string]*rocketchat.User
	// Groups maps room ID to private group.
	Groups map[string]*rocketchat.Group
	// Channels maps room ID to public channel.
	Channels map[string]*rocketchat.Channel
	// Members maps room ID to member user IDs.
	Members map[string][]string
	// Moderators maps room ID to moderator user IDs.
	Moderators map[string][]string
	// Messages holds every posted message in order.
	Messages []rocketchat.Message
	// Cleaned holds the rooms.cleanHistory requests received.
	Cleaned []rocketchat.CleanHistoryRequest
	// FailEndpoints makes the named endpoints (e.g. "groups.invite") fail.
	FailEndpoints map[string]bool
	// Passwords maps username to the password given at creation.
	Passwords map[string]string
}

// NewServer starts a fake server with the admin account already present.
func NewServer() *Server {
	s := &Server{
		Users:         make(map[string]*rocketchat.User),
		Groups:        make(map[string]*rocketchat.Group),
		Channels:      make(map[string]*rocketchat.Channel),
		Members:       make(map[string][]string),
		Moderators:    make(map[string][]string),
		FailEndpoints: make(map[string]bool),
		Passwords:     make(map[string]string),
	}
	s.Users[AdminID] = &rocketchat.User{ID: AdminID, Username: AdminUsername, Name: "Administrator", Active: true, Roles: []string{"admin"}}
	s.Server = httptest.NewServer(http.HandlerFunc(s.handler))
	return s
}

// URL returns the instance URL of the server.
func (s *Server) URL() string {
	return s.Server.URL
}

// Close shuts the server down.
func (s *Server) Close() {
	s.Server.Close()
}

// AddUser registers an account and returns it.
func (s *Server) AddUser(username, name string) *rocketchat.User {
	s.mu.Lock()
	defer s.mu.Unlock()
	u := &rocketchat.User{ID: s.newID("u"), Username: username, Name: name, Active: true}
	s.Users[u.ID] = u
	return u
}

// AddGroup registers a private group and returns it.
func (s *Server) AddGroup(name string) *rocketchat.Group {
	s.mu.Lock()
	defer s.mu.Unlock()
	g := &rocketchat.Group{ID: s.newID("g"), Name: name, Type: "p"}
	s.Groups[g.ID] = g
	return g
}

// AddChannel registers a public channel and returns it.
func (s *Server) AddChannel(name string) *rocketchat.Channel {
	s.mu.Lock()
	defer s.mu.Unlock()
	c := &rocketchat.Channel{ID: s.newID("c"), Name: name, Type: "c"}
	s.Channels[c.ID] = c
	return c
}

// Join adds a user to a room without going through the API.
func (s *Server) Join(roomID, userID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !slices.Contains(s.Members[roomID], userID) {
		s.Members[roomID] = append(s.Members[roomID], userID)
	}
}

// Fail makes the given endpoint return an error.
func (s *Server) Fail(endpoint string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.FailEndpoints[endpoint] = true
}

// Calls returns a copy of the recorded calls.
func (s *Server) Calls() []Call {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := make([]Call, len(s.calls))
	copy(cp, s.calls)
	return cp
}

// Endpoints returns the endpoint names called, in order, skipping login.
func (s *Server) Endpoints() []string {
	var out []string
	for _, c := range s.Calls() {
		if c.Endpoint == "login" {
			continue
		}
		out = append(out, c.Endpoint)
	}
	return out
}

// Called reports whether endpoint was hit at least once.
func (s *Server) Called(endpoint string) bool {
	for _, c := range s.Calls() {
		if c.Endpoint == endpoint {
			return true
		}
	}
	return false
}

// ResetCalls forgets the recorded calls.
func (s *Server) ResetCalls() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls = nil
}

// CleanedRequests returns a copy of the rooms.cleanHistory requests received.
func (s *Server) CleanedRequests() []rocketchat.CleanHistoryRequest {
	s.mu.Lock()
	defer s.mu.Unlock()
	return slices.Clone(s.Cleaned)
}

// PostedMessages returns a copy of the messages posted so far.
func (s *Server) PostedMessages() []rocketchat.Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	return slices.Clone(s.Messages)
}

// IsMember reports whether userID is a member of roomID.
func (s *Server) IsMember(roomID, userID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return slices.Contains(s.Members[roomID], userID)
}

// IsModerator reports whether userID moderates roomID.
func (s *Server) IsModerator(roomID, userID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return slices.Contains(s.Moderators[roomID], userID)
}

// UserByUsername finds an account by username.
func (s *Server) UserByUsername(username string) *rocketchat.User {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.userByUsername(username)
}

// GroupByName finds a private group by name.
func (s *Server) GroupByName(name string) *rocketchat.Group {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, g := range s.Groups {
		if g.Name == name {
			return g
		}
	}
	return nil
}

func (s *Server) newID(prefix string) string {
	s.nextID++
	return prefix + strconv.Itoa(s.nextID)
}

func (s *Server) userByUsername(username string) *rocketchat.User {
	for _, u := range s.Users {
		if u.Username == username {
			return u
		}
	}
	return nil
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func fail(w http.ResponseWriter, status int, errorType, msg string) {
	writeJSON(w, status, map[string]any{"success": false, "error": msg, "errorType": errorType})
}

// failure mirrors API.v1.failure, which carries no errorType.
func failure(w http.ResponseWriter, msg string) {
	writeJSON(w, http.StatusBadRequest, map[string]any{"success": false, "error": msg})
}

func ok(w http.ResponseWriter, fields map[string]any) {
	if fields == nil {
		fields = map[string]any{}
	}
	fields["success"] = true
	writeJSON(w, http.StatusOK, fields)
}

func (s *Server) handler(w http.ResponseWriter, r *http.Request) {
	raw, _ := io.ReadAll(r.Body)
	endpoint := strings.TrimPrefix(r.URL.Path, "/api/v1/")

	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls = append(s.calls, Call{Method: r.Method, Endpoint: endpoint, Body: string(raw)})

	if s.FailEndpoints[endpoint] {
		fail(w, http.StatusBadRequest, "error-fake", "fake error")
		return
	}

	params := map[string]any{}
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, &params); err != nil {
			fail(w, http.StatusBadRequest, "error-invalid-json", err.Error())
			return
		}
	}
	for key, values := range r.URL.Query() {
		params[key] = values[0]
	}

	if endpoint == "login" {
		s.handleLogin(w, params)
		return
	}
	if r.Header.Get("X-User-Id") != AdminID || r.Header.Get("X-Auth-Token") != AdminToken {
		writeJSON(w, http.StatusUnauthorized, map[string]any{"status": "error", "message": "You must be logged in to do this."})
		return
	}

	switch endpoint {
	case "logout":
		writeJSON(w, http.StatusOK, map[string]any{"status": "success", "data": map[string]any{"message": "You've been logged out!"}})
	case "me":
		writeJSON(w, http.StatusOK, s.Users[AdminID])
	case "users.info":
		u := s.lookupUser(params)
		if u == nil {
			failure(w, "User not found.")
			return
		}
		ok(w, map[string]any{"user": u})
	case "users.create":
		s.handleCreateUser(w, params)
	case "users.delete":
		u := s.lookupUser(params)
		if u == nil {
			failure(w, "User not found.")
			return
		}
		delete(s.Users, u.ID)
		ok(w, nil)
	case "groups.create":
		s.handleCreateGroup(w, params)
	case "groups.info", "groups.delete", "groups.archive", "groups.unarchive":
		s.handleGroup(w, endpoint, params)
	case "groups.invite", "groups.kick", "groups.addModerator", "groups.removeModerator":
		s.handleGroupUser(w, endpoint, params)
	case "groups.members":
		g := s.lookupRoom(s.Groups, params)
		if g == nil {
			fail(w, http.StatusBadRequest, rocketchat.ErrorTypeRoomNotFound, "The required \"roomId\" or \"roomName\" param provided does not match any group")
			return
		}
		s.writeMembers(w, g.ID, params)
	case "groups.moderators":
		g := s.lookupRoom(s.Groups, params)
		if g == nil {
			fail(w, http.StatusBadRequest, rocketchat.ErrorTypeRoomNotFound, "Group not found")
			return
		}
		mods := []rocketchat.Member{}
		for _, id := range s.Moderators[g.ID] {
			if u := s.Users[id]; u != nil {
				mods = append(mods, rocketchat.Member{ID: u.ID, Username: u.Username, Name: u.Name})
			}
		}
		ok(w, map[string]any{"moderators": mods})
	case "channels.info":
		c := s.lookupRoom(s.Channels, params)
		if c == nil {
			fail(w, http.StatusBadRequest, rocketchat.ErrorTypeRoomNotFound, "Channel not found")
			return
		}
		ok(w, map[string]any{"channel": c})
	case "channels.members":
		c := s.lookupRoom(s.Channels, params)
		if c == nil {
			fail(w, http.StatusBadRequest, rocketchat.ErrorTypeRoomNotFound, "Channel not found")
			return
		}
		s.writeMembers(w, c.ID, params)
	case "rooms.cleanHistory":
		var req rocketchat.CleanHistoryRequest
		if err := json.Unmarshal(raw, &req); err != nil || req.RoomID == "" {
			fail(w, http.StatusBadRequest, "error-invalid-params", "invalid clean history request")
			return
		}
		s.Cleaned = append(s.Cleaned, req)
		ok(w, map[string]any{"count": 0})
	case "chat.postMessage":
		roomID, _ := params["roomId"].(string)
		text, _ := params["text"].(string)
		if s.Groups[roomID] == nil && s.Channels[roomID] == nil {
			fail(w, http.StatusBadRequest, rocketchat.ErrorTypeInvalidRoom, "Invalid room")
			return
		}
		msg := rocketchat.Message{ID: s.newID("m"), RoomID: roomID, Text: text}
		s.Messages = append(s.Messages, msg)
		ok(w, map[string]any{"message": msg, "channel": roomID})
	default:
		writeJSON(w, http.StatusNotFound, map[string]any{"status": "error", "message": fmt.Sprintf("unknown endpoint %s", endpoint)})
	}
}

func (s *Server) handleLogin(w http.ResponseWriter, params map[string]any) {
	user, _ := params["user"].(string)
	password, _ := params["password"].(string)
	if user != AdminUsername || password != AdminPassword {
		writeJSON(w, http.StatusUnauthorized, map[string]any{"status": "error", "error": "Unauthorized", "message": "Unauthorized"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"status": "success",
		"data": map[string]any{
			"authToken": AdminToken,
			"userId":    AdminID,
			"me":        s.Users[AdminID],
		},
	})
}

func (s *Server) handleCreateUser(w http.ResponseWriter, params map[string]any) {
	username, _ := params["username"].(string)
	email, _ := params["email"].(string)
	password, _ := params["password"].(string)
	name, _ := params["name"].(string)
	if username == "" || email == "" || password == "" || name == "" {
		fail(w, http.StatusBadRequest, "error-invalid-params", "missing required field")
		return
	}
	if s.userByUsername(username) != nil {
		fail(w, http.StatusBadRequest, "error-field-unavailable", username+" is already in use :(")
		return
	}
	u := &rocketchat.User{
		ID:       s.newID("u"),
		Username: username,
		Name:     name,
		Emails:   []rocketchat.Email{{Address: email}},
		Active:   true,
		Roles:    []string{"user"},
	}
	s.Users[u.ID] = u
	s.Passwords[username] = password
	ok(w, map[string]any{"user": u})
}

func (s *Server) handleCreateGroup(w http.ResponseWriter, params map[string]any) {
	name, _ := params["name"].(string)
	if name == "" {
		fail(w, http.StatusBadRequest, "error-param-not-provided", "Body param \"name\" is required")
		return
	}
	for _, g := range s.Groups {
		if g.Name == name {
			fail(w, http.StatusBadRequest, rocketchat.ErrorTypeDuplicateChannelName, "A channel with name '"+name+"' exists")
			return
		}
	}
	g := &rocketchat.Group{ID: s.newID("g"), Name: name, Type: "p", UsersCount: 1}
	s.Groups[g.ID] = g
	s.Members[g.ID] = []string{AdminID}
	ok(w, map[string]any{"group": g})
}

func (s *Server) handleGroup(w http.ResponseWriter, endpoint string, params map[string]any) {
	g := s.lookupRoom(s.Groups, params)
	if g == nil {
		fail(w, http.StatusBadRequest, rocketchat.ErrorTypeRoomNotFound, "The required \"roomId\" or \"roomName\" param provided does not match any group")
		return
	}
	switch endpoint {
	case "groups.info":
		ok(w, map[string]any{"group": g})
	case "groups.delete":
		delete(s.Groups, g.ID)
		delete(s.Members, g.ID)
		delete(s.Moderators, g.ID)
		ok(w, nil)
	case "groups.archive":
		g.Archived = true
		ok(w, nil)
	case "groups.unarchive":
		g.Archived = false
		ok(w, nil)
	}
}

func (s *Server) handleGroupUser(w http.ResponseWriter, endpoint string, params map[string]any) {
	g := s.lookupRoom(s.Groups, params)
	if g == nil {
		fail(w, http.StatusBadRequest, rocketchat.ErrorTypeRoomNotFound, "Group not found")
		return
	}
	userID, _ := params["userId"].(string)
	if s.Users[userID] == nil {
		fail(w, http.StatusBadRequest, rocketchat.ErrorTypeInvalidUser, "Invalid user")
		return
	}
	switch endpoint {
	case "groups.invite":
		if !slices.Contains(s.Members[g.ID], userID) {
			s.Members[g.ID] = append(s.Members[g.ID], userID)
		}
		ok(w, map[string]any{"group": g})
	case "groups.kick":
		if !slices.Contains(s.Members[g.ID], userID) {
			fail(w, http.StatusBadRequest, "error-user-not-in-room", "User is not in this room")
			return
		}
		s.Members[g.ID] = slices.DeleteFunc(s.Members[g.ID], func(id string) bool { return id == userID })
		s.Moderators[g.ID] = slices.DeleteFunc(s.Moderators[g.ID], func(id string) bool { return id == userID })
		ok(w, map[string]any{"group": g})
	case "groups.addModerator":
		if !slices.Contains(s.Members[g.ID], userID) {
			fail(w, http.StatusBadRequest, "error-user-not-in-room", "User is not in this room")
			return
		}
		if slices.Contains(s.Moderators[g.ID], userID) {
			fail(w, http.StatusBadRequest, "error-user-already-moderator", "User is already a moderator")
			return
		}
		s.Moderators[g.ID] = append(s.Moderators[g.ID], userID)
		ok(w, nil)
	case "groups.removeModerator":
		if !slices.Contains(s.Moderators[g.ID], userID) {
			fail(w, http.StatusBadRequest, "error-user-not-moderator", "User is not a moderator")
			return
		}
		s.Moderators[g.ID] = slices.DeleteFunc(s.Moderators[g.ID], func(id string) bool { return id == userID })
		ok(w, nil)
	}
}

func (s *Server) writeMembers(w http.ResponseWriter, roomID string, params map[string]any) {
	ids := s.Members[roomID]
	offset := atoi(params["offset"])
	count := atoi(params["count"])
	if count <= 0 {
		count = 50
	}
	page := []rocketchat.Member{}
	for i := offset; i < len(ids) && len(page) < count; i++ {
		if u := s.Users[ids[i]]; u != nil {
			page = append(page, rocketchat.Member{ID: u.ID, Username: u.Username, Name: u.Name, Status: "offline"})
		}
	}
	ok(w, map[string]any{"members": page, "count": len(page), "offset": offset, "total": len(ids)})
}

func (s *Server) lookupUser(params map[string]any) *rocketchat.User {
	if id, _ := params["userId"].(string); id != "" {
		return s.Users[id]
	}
	if username, _ := params["username"].(string); username != "" {
		return s.userByUsername(username)
	}
	return nil
}

func (s *Server) lookupRoom(rooms map[string]*rocketchat.Room, params map[string]any) *rocketchat.Room {
	if id, _ := params["roomId"].(string); id != "" {
		return rooms[id]
	}
	if name, _ := params["roomName"].(string); name != "" {
		for _, r := range rooms {
			if r.Name == name {
				return r
			}
		}
	}
	return nil
}

func atoi(v any) int {
	str, _ := v.(string)
	n, _ := strconv.Atoi(str)
	return n
}
