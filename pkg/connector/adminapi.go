// Copyright 2024-2026 Aiku AI

package connector

import (
	"crypto/subtle"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"
	"time"

	"go.mau.fi/util/exhttp"

	"github.com/aiku/moodle-rocketchat/pkg/rocketchat"
)

// maxAdminBodySize is the maximum allowed request body for admin calls (1 MB).
const maxAdminBodySize = 1 << 20

// AdminHandler returns the admin HTTP API. Every route except the health
// check requires the admin_api_token bearer token when one is configured.
func (c *Connector) AdminHandler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/health", c.HandleHealth)
	mux.Handle("POST /api/events", c.requireToken(http.HandlerFunc(c.HandleEvents)))
	mux.Handle("POST /api/groups", c.requireToken(http.HandlerFunc(c.HandleCreateGroup)))
	mux.Handle("DELETE /api/groups/{id}", c.requireToken(http.HandlerFunc(c.HandleDeleteGroup)))
	mux.Handle("POST /api/groups/{id}/archive", c.requireToken(http.HandlerFunc(c.HandleArchiveGroup)))
	mux.Handle("POST /api/groups/{id}/unarchive", c.requireToken(http.HandlerFunc(c.HandleUnarchiveGroup)))
	mux.Handle("GET /api/groups/{id}/members", c.requireToken(http.HandlerFunc(c.HandleGroupMembers)))
	mux.Handle("POST /api/groups/{id}/clean-history", c.requireToken(http.HandlerFunc(c.HandleCleanHistory)))
	mux.Handle("POST /api/groups/{id}/messages", c.requireToken(http.HandlerFunc(c.HandlePostMessage)))
	mux.Handle("POST /api/users/{username}", c.requireToken(http.HandlerFunc(c.HandleCreateUser)))
	mux.Handle("DELETE /api/users/{username}", c.requireToken(http.HandlerFunc(c.HandleDeleteUser)))
	return mux
}

func (c *Connector) requireToken(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token := c.Config.AdminAPIToken
		if token != "" {
			given, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
			if !ok || subtle.ConstantTimeCompare([]byte(given), []byte(token)) != 1 {
				c.Log.Debug().Str("remote_addr", r.RemoteAddr).Str("path", r.URL.Path).Msg("Rejected unauthenticated admin request")
				writeError(w, http.StatusUnauthorized, "missing or invalid bearer token")
				return
			}
		}
		next.ServeHTTP(w, r)
	})
}

func writeError(w http.ResponseWriter, status int, msg string) {
	exhttp.WriteJSONResponse(w, status, map[string]string{"error": msg})
}

// writeManagerError maps a facade error to a response status.
func writeManagerError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, ErrUserNotFound), rocketchat.IsNotFound(err):
		writeError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, ErrEmptyGroupName), errors.Is(err, ErrEmptyMessage):
		writeError(w, http.StatusBadRequest, err.Error())
	default:
		writeError(w, http.StatusBadGateway, err.Error())
	}
}

func writeOK(w http.ResponseWriter) {
	exhttp.WriteJSONResponse(w, http.StatusOK, map[string]bool{"success": true})
}

// readJSON decodes a JSON request body into dst, writing the error response
// itself when it fails.
func readJSON(w http.ResponseWriter, r *http.Request, dst any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxAdminBodySize)
	defer r.Body.Close()
	body, err := io.ReadAll(r.Body)
	if err != nil {
		writeError(w, http.StatusRequestEntityTooLarge, "request body too large")
		return false
	}
	if err = json.Unmarshal(body, dst); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return false
	}
	return true
}

// HealthResponse is the body of GET /api/health.
type HealthResponse struct {
	Status        string `json:"status"`
	AdminUsername string `json:"admin_username,omitempty"`
	HandledEvents int64  `json:"handled_events"`
	Uptime        string `json:"uptime,omitempty"`
}

// HandleHealth is an HTTP handler for GET /api/health.
func (c *Connector) HandleHealth(w http.ResponseWriter, r *http.Request) {
	resp := HealthResponse{
		Status:        "ok",
		HandledEvents: c.HandledEventCount(),
	}
	if c.Manager != nil && c.Manager.AdminUser() != nil {
		resp.AdminUsername = c.Manager.AdminUser().Username
	}
	if !c.started.IsZero() {
		resp.Uptime = time.Since(c.started).Round(time.Second).String()
	}
	exhttp.WriteJSONResponse(w, http.StatusOK, resp)
}

// CreateGroupRequest is the body of POST /api/groups.
type CreateGroupRequest struct {
	Name string `json:"name"`
}

// HandleCreateGroup is an HTTP handler for POST /api/groups. It responds with
// the id and final name of the created group.
func (c *Connector) HandleCreateGroup(w http.ResponseWriter, r *http.Request) {
	var req CreateGroupRequest
	if !readJSON(w, r, &req) {
		return
	}
	if strings.TrimSpace(req.Name) == "" {
		writeError(w, http.StatusBadRequest, "name is required")
		return
	}
	group, err := c.Manager.CreateGroup(r.Context(), req.Name)
	if err != nil {
		writeManagerError(w, err)
		return
	}
	exhttp.WriteJSONResponse(w, http.StatusCreated, map[string]string{"id": group.ID, "name": group.Name})
}

// HandleDeleteGroup is an HTTP handler for DELETE /api/groups/{id}. The name
// query parameter is used when the id is "-".
func (c *Connector) HandleDeleteGroup(w http.ResponseWriter, r *http.Request) {
	groupID := r.PathValue("id")
	if groupID == "-" {
		groupID = ""
	}
	name := r.URL.Query().Get("name")
	if groupID == "" && name == "" {
		writeError(w, http.StatusBadRequest, "group id or name is required")
		return
	}
	if err := c.Manager.DeleteGroup(r.Context(), groupID, name); err != nil {
		writeManagerError(w, err)
		return
	}
	writeOK(w)
}

// HandleArchiveGroup is an HTTP handler for POST /api/groups/{id}/archive.
func (c *Connector) HandleArchiveGroup(w http.ResponseWriter, r *http.Request) {
	if err := c.Manager.ArchiveGroup(r.Context(), r.PathValue("id")); err != nil {
		writeManagerError(w, err)
		return
	}
	writeOK(w)
}

// HandleUnarchiveGroup is an HTTP handler for POST /api/groups/{id}/unarchive.
func (c *Connector) HandleUnarchiveGroup(w http.ResponseWriter, r *http.Request) {
	if err := c.Manager.UnarchiveGroup(r.Context(), r.PathValue("id")); err != nil {
		writeManagerError(w, err)
		return
	}
	writeOK(w)
}

// HandleGroupMembers is an HTTP handler for GET /api/groups/{id}/members.
func (c *Connector) HandleGroupMembers(w http.ResponseWriter, r *http.Request) {
	members, err := c.Manager.GetGroupMembers(r.Context(), r.PathValue("id"), r.URL.Query().Get("name"))
	if err != nil {
		writeManagerError(w, err)
		return
	}
	if members == nil {
		members = []rocketchat.Member{}
	}
	exhttp.WriteJSONResponse(w, http.StatusOK, map[string]any{"members": members, "total": len(members)})
}

// CleanHistoryRequest is the body of POST /api/groups/{id}/clean-history.
// Times are RFC 3339.
type CleanHistoryRequest struct {
	Oldest time.Time `json:"oldest"`
	Latest time.Time `json:"latest"`
}

// HandleCleanHistory is an HTTP handler for POST /api/groups/{id}/clean-history.
func (c *Connector) HandleCleanHistory(w http.ResponseWriter, r *http.Request) {
	var req CleanHistoryRequest
	if !readJSON(w, r, &req) {
		return
	}
	if req.Latest.IsZero() {
		req.Latest = time.Now()
	}
	if req.Oldest.After(req.Latest) {
		writeError(w, http.StatusBadRequest, "oldest is after latest")
		return
	}
	if err := c.Manager.CleanHistory(r.Context(), r.PathValue("id"), req.Oldest, req.Latest); err != nil {
		writeManagerError(w, err)
		return
	}
	writeOK(w)
}

// PostMessageRequest is the body of POST /api/groups/{id}/messages.
type PostMessageRequest struct {
	HTML string `json:"html"`
}

// HandlePostMessage is an HTTP handler for POST /api/groups/{id}/messages.
func (c *Connector) HandlePostMessage(w http.ResponseWriter, r *http.Request) {
	var req PostMessageRequest
	if !readJSON(w, r, &req) {
		return
	}
	msg, err := c.Manager.PostMessage(r.Context(), r.PathValue("id"), req.HTML)
	if err != nil {
		writeManagerError(w, err)
		return
	}
	exhttp.WriteJSONResponse(w, http.StatusOK, map[string]string{"id": msg.ID, "text": msg.Text})
}

// HandleCreateUser is an HTTP handler for POST /api/users/{username}. It
// creates the Rocket.Chat account of the Moodle user with that username
// unless one exists, and responds with the account id.
func (c *Connector) HandleCreateUser(w http.ResponseWriter, r *http.Request) {
	if c.Store == nil {
		writeError(w, http.StatusServiceUnavailable, "moodle database not configured")
		return
	}
	username := r.PathValue("username")
	user, err := c.Store.GetUserByUsername(r.Context(), username)
	if err != nil {
		c.Log.Err(err).Str("username", username).Msg("Failed to read Moodle user")
		writeError(w, http.StatusInternalServerError, "failed to read moodle user")
		return
	} else if user == nil {
		writeError(w, http.StatusNotFound, "no moodle user named "+username)
		return
	}
	rcUser, err := c.Manager.CreateUserIfNotExists(r.Context(), user)
	if err != nil {
		writeManagerError(w, err)
		return
	}
	exhttp.WriteJSONResponse(w, http.StatusOK, map[string]string{
		"id":       rcUser.ID,
		"username": rcUser.Username,
	})
}

// HandleDeleteUser is an HTTP handler for DELETE /api/users/{username}.
func (c *Connector) HandleDeleteUser(w http.ResponseWriter, r *http.Request) {
	if err := c.Manager.DeleteUser(r.Context(), r.PathValue("username")); err != nil {
		writeManagerError(w, err)
		return
	}
	writeOK(w)
}
