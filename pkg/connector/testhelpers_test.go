// Copyright 2024-2026 Remi Philippe
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at https://mozilla.org/MPL/2.0/.

package connector

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"
	"testing"

	"github.com/rs/zerolog"

	"github.com/aiku/moodle-rocketchat/pkg/moodle"
	"github.com/aiku/moodle-rocketchat/pkg/rocketchat"
	"github.com/aiku/moodle-rocketchat/pkg/rocketchat/rctest"
)

// newTestConfig returns a post-processed config pointing at srv with the
// fake server's admin credentials.
func newTestConfig(t *testing.T, srv *rctest.Server) *Config {
	t.Helper()
	cfg := &Config{
		RocketChat: RocketChatConfig{
			InstanceURL: srv.URL(),
			APIUser:     rctest.AdminUsername,
			APIPassword: rctest.AdminPassword,
		},
		MaxGroupRenameAttempts: 10,
	}
	if err := cfg.PostProcess(); err != nil {
		t.Fatalf("PostProcess: %v", err)
	}
	return cfg
}

// newTestManager starts a fake Rocket.Chat, logs in and returns the manager.
// Recorded calls are reset after login. The optional mutate func adjusts
// the config before login.
func newTestManager(t *testing.T, mutate func(*Config)) (*APIManager, *rctest.Server) {
	t.Helper()
	srv := rctest.NewServer()
	t.Cleanup(srv.Close)
	cfg := newTestConfig(t, srv)
	if mutate != nil {
		mutate(cfg)
	}
	mgr, err := NewAPIManager(context.Background(), cfg, zerolog.Nop())
	if err != nil {
		t.Fatalf("NewAPIManager: %v", err)
	}
	srv.ResetCalls()
	return mgr, srv
}

func testMoodleUser(id int64, username string) *moodle.User {
	return &moodle.User{
		ID:        id,
		Username:  username,
		Email:     username + "@example.com",
		FirstName: "First" + username,
		LastName:  "Last" + username,
	}
}

// managerCall records one GroupManager call made by an observer.
type managerCall struct {
	Method   string
	GroupID  string
	Username string
}

func (c managerCall) String() string {
	return fmt.Sprintf("%s(%s,%s)", c.Method, c.GroupID, c.Username)
}

// recordingManager is a GroupManager that records calls and can be told to
// fail specific methods.
type recordingManager struct {
	mu    sync.Mutex
	calls []managerCall
	fail  map[string]bool
}

var _ GroupManager = (*recordingManager)(nil)

func newRecordingManager() *recordingManager {
	return &recordingManager{fail: make(map[string]bool)}
}

var errFakeManager = errors.New("fake manager failure")

func (m *recordingManager) record(method, groupID, username string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = append(m.calls, managerCall{Method: method, GroupID: groupID, Username: username})
	if m.fail[method] {
		return errFakeManager
	}
	return nil
}

func (m *recordingManager) Calls() []managerCall {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := make([]managerCall, len(m.calls))
	copy(cp, m.calls)
	return cp
}

func (m *recordingManager) EnrolUserToGroup(_ context.Context, groupID, _ string, user *moodle.User) (*rocketchat.User, error) {
	if err := m.record("EnrolUser", groupID, user.Username); err != nil {
		return nil, err
	}
	return &rocketchat.User{ID: "rc-" + user.Username, Username: user.Username}, nil
}

func (m *recordingManager) EnrolModeratorToGroup(_ context.Context, groupID, _ string, user *moodle.User) error {
	return m.record("EnrolModerator", groupID, user.Username)
}

func (m *recordingManager) UnenrolUserFromGroup(_ context.Context, groupID, _ string, user *moodle.User) error {
	return m.record("UnenrolUser", groupID, user.Username)
}

func (m *recordingManager) UnenrolModeratorFromGroup(_ context.Context, groupID, _ string, user *moodle.User) error {
	return m.record("UnenrolModerator", groupID, user.Username)
}

func (m *recordingManager) DeleteUser(_ context.Context, moodleUsername string) error {
	return m.record("DeleteUser", "", moodleUsername)
}

// countingHandler is an EventHandler that records event names and reports
// every name in known as handled.
type countingHandler struct {
	mu      sync.Mutex
	known   map[string]bool
	events  []*moodle.Event
	ctxErrs []error
}

func newCountingHandler(known ...string) *countingHandler {
	h := &countingHandler{known: make(map[string]bool)}
	for _, name := range known {
		h.known[name] = true
	}
	return h
}

func (h *countingHandler) HandleEvent(ctx context.Context, evt *moodle.Event) (bool, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.events = append(h.events, evt)
	h.ctxErrs = append(h.ctxErrs, ctx.Err())
	return h.known[evt.EventName], nil
}

func (h *countingHandler) Events() []*moodle.Event {
	h.mu.Lock()
	defer h.mu.Unlock()
	cp := make([]*moodle.Event, len(h.events))
	copy(cp, h.events)
	return cp
}

// ContextErrors returns ctx.Err() as seen by each HandleEvent call.
func (h *countingHandler) ContextErrors() []error {
	h.mu.Lock()
	defer h.mu.Unlock()
	return slices.Clone(h.ctxErrs)
}

// newTestConnector builds a connector around a handler, without a manager.
func newTestConnector(cfg *Config, handler EventHandler) *Connector {
	if cfg == nil {
		cfg = &Config{}
		_ = cfg.PostProcess()
	}
	c := NewConnector(cfg, nil, nil, zerolog.Nop())
	c.Events = handler
	return c
}
