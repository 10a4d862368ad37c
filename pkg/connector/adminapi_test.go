// Copyright 2024-2026 Aiku AI

package connector

import (
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/rs/zerolog"

	"github.com/aiku/moodle-rocketchat/pkg/moodle"
	"github.com/aiku/moodle-rocketchat/pkg/moodle/moodletest"
	"github.com/aiku/moodle-rocketchat/pkg/rocketchat/rctest"
)

const testAdminToken = "s3cret"

// newAdminFixture returns an admin API server backed by a fake Rocket.Chat.
func newAdminFixture(t *testing.T) (*httptest.Server, *rctest.Server, *countingHandler) {
	t.Helper()
	mgr, srv := newTestManager(t, func(cfg *Config) {
		cfg.AdminAPIToken = testAdminToken
	})
	c := NewConnector(mgr.cfg, mgr, nil, zerolog.Nop())
	handler := newCountingHandler(moodle.EventRoleAssigned)
	c.Events = handler
	api := httptest.NewServer(c.AdminHandler())
	t.Cleanup(api.Close)
	return api, srv, handler
}

func adminRequest(t *testing.T, api *httptest.Server, method, path, body string) (int, map[string]any) {
	t.Helper()
	var reader io.Reader
	if body != "" {
		reader = strings.NewReader(body)
	}
	req, err := http.NewRequest(method, api.URL+path, reader)
	if err != nil {
		t.Fatalf("NewRequest: %v", err)
	}
	req.Header.Set("Authorization", "Bearer "+testAdminToken)
	resp, err := api.Client().Do(req)
	if err != nil {
		t.Fatalf("%s %s: %v", method, path, err)
	}
	defer resp.Body.Close()
	var out map[string]any
	data, _ := io.ReadAll(resp.Body)
	if len(data) > 0 {
		_ = json.Unmarshal(data, &out)
	}
	return resp.StatusCode, out
}

func TestAdminAPI_Health(t *testing.T) {
	t.Parallel()
	api, _, _ := newAdminFixture(t)

	resp, err := api.Client().Get(api.URL + "/api/health")
	if err != nil {
		t.Fatalf("GET /api/health: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200 without token, got %d", resp.StatusCode)
	}
	var health HealthResponse
	if err := json.NewDecoder(resp.Body).Decode(&health); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if health.Status != "ok" || health.AdminUsername != rctest.AdminUsername {
		t.Errorf("unexpected health %+v", health)
	}
}

func TestAdminAPI_Auth(t *testing.T) {
	t.Parallel()
	api, srv, _ := newAdminFixture(t)

	tests := []struct {
		name   string
		header string
	}{
		{"missing", ""},
		{"wrong token", "Bearer nope"},
		{"wrong scheme", "Basic " + testAdminToken},
	}
	for _, tt := range tests {
		req, _ := http.NewRequest(http.MethodPost, api.URL+"/api/groups", strings.NewReader(`{"name":"x"}`))
		if tt.header != "" {
			req.Header.Set("Authorization", tt.header)
		}
		resp, err := api.Client().Do(req)
		if err != nil {
			t.Fatalf("%s: %v", tt.name, err)
		}
		resp.Body.Close()
		if resp.StatusCode != http.StatusUnauthorized {
			t.Errorf("%s: expected 401, got %d", tt.name, resp.StatusCode)
		}
	}
	if srv.Called("groups.create") {
		t.Error("expected no group to be created without auth")
	}
}

func TestAdminAPI_NoTokenConfigured(t *testing.T) {
	t.Parallel()
	mgr, srv := newTestManager(t, nil)
	c := NewConnector(mgr.cfg, mgr, nil, zerolog.Nop())
	api := httptest.NewServer(c.AdminHandler())
	defer api.Close()

	resp, err := api.Client().Post(api.URL+"/api/groups", "application/json", strings.NewReader(`{"name":"open"}`))
	if err != nil {
		t.Fatalf("POST /api/groups: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusCreated {
		t.Errorf("expected 201, got %d", resp.StatusCode)
	}
	if srv.GroupByName("open") == nil {
		t.Error("expected group to be created")
	}
}

func TestAdminAPI_CreateGroup(t *testing.T) {
	t.Parallel()
	api, srv, _ := newAdminFixture(t)
	srv.AddGroup("Physics_101")

	status, body := adminRequest(t, api, http.MethodPost, "/api/groups", `{"name":"Physics 101"}`)
	if status != http.StatusCreated {
		t.Fatalf("expected 201, got %d (%v)", status, body)
	}
	if body["name"] != "Physics_101_1" {
		t.Errorf("expected renamed group, got %v", body["name"])
	}
	if id, _ := body["id"].(string); id == "" {
		t.Error("expected group id")
	}

	if status, _ = adminRequest(t, api, http.MethodPost, "/api/groups", `{"name":""}`); status != http.StatusBadRequest {
		t.Errorf("empty name: expected 400, got %d", status)
	}
	if status, _ = adminRequest(t, api, http.MethodPost, "/api/groups", `{`); status != http.StatusBadRequest {
		t.Errorf("invalid JSON: expected 400, got %d", status)
	}
	if status, _ = adminRequest(t, api, http.MethodPost, "/api/groups", `{"name":"???"}`); status != http.StatusBadRequest {
		t.Errorf("unsanitisable name: expected 400, got %d", status)
	}
	if status, _ = adminRequest(t, api, http.MethodGet, "/api/groups", ""); status != http.StatusMethodNotAllowed {
		t.Errorf("GET /api/groups: expected 405, got %d", status)
	}
}

func TestAdminAPI_GroupLifecycle(t *testing.T) {
	t.Parallel()
	api, srv, _ := newAdminFixture(t)
	g := srv.AddGroup("history")
	alice := srv.AddUser("alice", "Alice")
	srv.Join(g.ID, alice.ID)

	status, body := adminRequest(t, api, http.MethodGet, "/api/groups/"+g.ID+"/members", "")
	if status != http.StatusOK {
		t.Fatalf("members: expected 200, got %d", status)
	}
	if total, _ := body["total"].(float64); total != 1 {
		t.Errorf("expected 1 member, got %v", body["total"])
	}

	if status, _ = adminRequest(t, api, http.MethodPost, "/api/groups/"+g.ID+"/archive", ""); status != http.StatusOK {
		t.Errorf("archive: expected 200, got %d", status)
	}
	if !srv.GroupByName("history").Archived {
		t.Error("expected group to be archived")
	}
	if status, _ = adminRequest(t, api, http.MethodPost, "/api/groups/"+g.ID+"/unarchive", ""); status != http.StatusOK {
		t.Errorf("unarchive: expected 200, got %d", status)
	}

	status, _ = adminRequest(t, api, http.MethodPost, "/api/groups/"+g.ID+"/clean-history",
		`{"oldest":"2024-09-01T00:00:00Z","latest":"2025-06-30T00:00:00Z"}`)
	if status != http.StatusOK {
		t.Errorf("clean-history: expected 200, got %d", status)
	}
	if reqs := srv.CleanedRequests(); len(reqs) != 1 || reqs[0].RoomID != g.ID {
		t.Errorf("unexpected clean requests %+v", reqs)
	}
	status, _ = adminRequest(t, api, http.MethodPost, "/api/groups/"+g.ID+"/clean-history",
		`{"oldest":"2025-09-01T00:00:00Z","latest":"2024-06-30T00:00:00Z"}`)
	if status != http.StatusBadRequest {
		t.Errorf("reversed window: expected 400, got %d", status)
	}

	status, body = adminRequest(t, api, http.MethodPost, "/api/groups/"+g.ID+"/messages", `{"html":"<p>Hello <b>class</b></p>"}`)
	if status != http.StatusOK {
		t.Fatalf("messages: expected 200, got %d", status)
	}
	if body["text"] != "Hello *class*" {
		t.Errorf("unexpected message text %v", body["text"])
	}
	if status, _ = adminRequest(t, api, http.MethodPost, "/api/groups/"+g.ID+"/messages", `{"html":""}`); status != http.StatusBadRequest {
		t.Errorf("empty message: expected 400, got %d", status)
	}

	if status, _ = adminRequest(t, api, http.MethodDelete, "/api/groups/-?name=history", ""); status != http.StatusOK {
		t.Errorf("delete by name: expected 200, got %d", status)
	}
	if srv.GroupByName("history") != nil {
		t.Error("expected group to be deleted")
	}
	if status, _ = adminRequest(t, api, http.MethodDelete, "/api/groups/"+g.ID, ""); status != http.StatusNotFound {
		t.Errorf("delete missing group: expected 404, got %d", status)
	}
	if status, _ = adminRequest(t, api, http.MethodDelete, "/api/groups/-", ""); status != http.StatusBadRequest {
		t.Errorf("delete without id or name: expected 400, got %d", status)
	}
}

func TestAdminAPI_RemoteFailure(t *testing.T) {
	t.Parallel()
	api, srv, _ := newAdminFixture(t)
	g := srv.AddGroup("art")
	srv.Fail("groups.archive")

	status, body := adminRequest(t, api, http.MethodPost, "/api/groups/"+g.ID+"/archive", "")
	if status != http.StatusBadGateway {
		t.Errorf("expected 502, got %d", status)
	}
	if msg, _ := body["error"].(string); msg == "" {
		t.Error("expected error message in body")
	}
}

func TestAdminAPI_DeleteUser(t *testing.T) {
	t.Parallel()
	api, srv, _ := newAdminFixture(t)
	srv.AddUser("alice", "Alice")

	if status, _ := adminRequest(t, api, http.MethodDelete, "/api/users/alice", ""); status != http.StatusOK {
		t.Errorf("expected 200, got %d", status)
	}
	if srv.UserByUsername("alice") != nil {
		t.Error("expected alice to be deleted")
	}
	if status, _ := adminRequest(t, api, http.MethodDelete, "/api/users/alice", ""); status != http.StatusNotFound {
		t.Errorf("second delete: expected 404, got %d", status)
	}
}

func TestAdminAPI_CreateUser(t *testing.T) {
	t.Parallel()
	mgr, srv := newTestManager(t, func(cfg *Config) {
		cfg.AdminAPIToken = testAdminToken
	})
	db := moodletest.New(t)
	db.AddUser(100, "alice", "alice@example.com", "Alice", "Liddell")
	db.AddUser(101, "gone", "gone@example.com", "Gone", "User")
	db.Exec(`UPDATE mdl_user SET deleted=1 WHERE id=101`)
	c := NewConnector(mgr.cfg, mgr, db.Store, zerolog.Nop())
	api := httptest.NewServer(c.AdminHandler())
	defer api.Close()

	status, body := adminRequest(t, api, http.MethodPost, "/api/users/alice", "")
	if status != http.StatusOK {
		t.Fatalf("expected 200, got %d (%v)", status, body)
	}
	created := srv.UserByUsername("alice")
	if created == nil {
		t.Fatal("expected alice to be created in Rocket.Chat")
	}
	if body["id"] != created.ID || created.Name != "Alice Liddell" {
		t.Errorf("unexpected account %+v, body %v", created, body)
	}

	status, body = adminRequest(t, api, http.MethodPost, "/api/users/alice", "")
	if status != http.StatusOK || body["id"] != created.ID {
		t.Errorf("second call: expected existing account, got %d %v", status, body)
	}
	if status, _ = adminRequest(t, api, http.MethodPost, "/api/users/gone", ""); status != http.StatusNotFound {
		t.Errorf("deleted Moodle user: expected 404, got %d", status)
	}
	if status, _ = adminRequest(t, api, http.MethodPost, "/api/users/nobody", ""); status != http.StatusNotFound {
		t.Errorf("unknown Moodle user: expected 404, got %d", status)
	}
}

func TestAdminAPI_CreateUserWithoutStore(t *testing.T) {
	t.Parallel()
	api, _, _ := newAdminFixture(t)
	if status, _ := adminRequest(t, api, http.MethodPost, "/api/users/alice", ""); status != http.StatusServiceUnavailable {
		t.Errorf("expected 503, got %d", status)
	}
}

func TestAdminAPI_Events(t *testing.T) {
	t.Parallel()
	api, _, handler := newAdminFixture(t)

	status, body := adminRequest(t, api, http.MethodPost, "/api/events", roleAssignedJSON)
	if status != http.StatusOK {
		t.Fatalf("expected 200, got %d", status)
	}
	if handled, _ := body["handled"].(float64); handled != 1 {
		t.Errorf("expected 1 handled, got %v", body["handled"])
	}
	if len(handler.Events()) != 1 {
		t.Errorf("expected event to reach the handler")
	}
}
