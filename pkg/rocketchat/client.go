// Copyright 2024-2026 Remi Philippe
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at https://mozilla.org/MPL/2.0/.

package rocketchat

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/tidwall/gjson"
)

// DefaultRESTRoot is the path of the v1 REST API relative to the instance URL.
const DefaultRESTRoot = "/api/v1/"

// maxResponseSize caps how much of a response body is read (10 MB).
const maxResponseSize = 10 << 20

// ErrNotLoggedIn is returned by Logout when the client holds no credentials.
var ErrNotLoggedIn = errors.New("not logged in to Rocket.Chat")

// Client talks to a single Rocket.Chat instance.
type Client struct {
	baseURL    string
	httpClient *http.Client

	userID    string
	authToken string
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient replaces the default HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		c.httpClient = hc
	}
}

// WithTimeout sets the per-request timeout of the default HTTP client.
func WithTimeout(timeout time.Duration) Option {
	return func(c *Client) {
		if timeout > 0 {
			c.httpClient = &http.Client{Timeout: timeout}
		}
	}
}

// NewClient creates a client for the given instance URL. An empty restRoot
// falls back to DefaultRESTRoot.
func NewClient(instanceURL, restRoot string, opts ...Option) *Client {
	c := &Client{
		baseURL:    joinBaseURL(instanceURL, restRoot),
		httpClient: &http.Client{Timeout: 30 * time.Second},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func joinBaseURL(instanceURL, restRoot string) string {
	if restRoot == "" {
		restRoot = DefaultRESTRoot
	}
	return strings.TrimRight(instanceURL, "/") + "/" + strings.Trim(restRoot, "/") + "/"
}

// UserID returns the id of the authenticated user, or "" before login.
func (c *Client) UserID() string {
	return c.userID
}

// SetCredentials installs an existing user id / auth token pair without
// verifying it.
func (c *Client) SetCredentials(userID, authToken string) {
	c.userID = userID
	c.authToken = authToken
}

type loginResponse struct {
	Data struct {
		AuthToken string `json:"authToken"`
		UserID    string `json:"userId"`
		Me        *User  `json:"me"`
	} `json:"data"`
}

// Login authenticates with a username (or email) and password.
func (c *Client) Login(ctx context.Context, user, password string) (*User, error) {
	var resp loginResponse
	err := c.do(ctx, http.MethodPost, "login", nil, map[string]string{
		"user":     user,
		"password": password,
	}, &resp)
	if err != nil {
		return nil, err
	}
	if resp.Data.AuthToken == "" || resp.Data.UserID == "" {
		return nil, &APIError{Endpoint: "login", StatusCode: http.StatusOK, Message: "login response carried no credentials"}
	}
	c.SetCredentials(resp.Data.UserID, resp.Data.AuthToken)
	me := resp.Data.Me
	if me == nil {
		me = &User{ID: resp.Data.UserID, Username: user}
	}
	return me, nil
}

// LoginWithToken authenticates with a personal access token and verifies it
// by fetching the current user.
func (c *Client) LoginWithToken(ctx context.Context, userID, token string) (*User, error) {
	c.SetCredentials(userID, token)
	me, err := c.Me(ctx)
	if err != nil {
		c.SetCredentials("", "")
		return nil, err
	}
	return me, nil
}

// Logout invalidates the current auth token.
func (c *Client) Logout(ctx context.Context) error {
	if c.authToken == "" {
		return ErrNotLoggedIn
	}
	if err := c.do(ctx, http.MethodPost, "logout", nil, nil, nil); err != nil {
		return err
	}
	c.SetCredentials("", "")
	return nil
}

// Me returns the authenticated user.
func (c *Client) Me(ctx context.Context) (*User, error) {
	var me User
	if err := c.do(ctx, http.MethodGet, "me", nil, nil, &me); err != nil {
		return nil, err
	}
	return &me, nil
}

// do performs a request against endpoint (relative to the REST root). body is
// JSON-encoded when non-nil, out is decoded from the response when non-nil.
func (c *Client) do(ctx context.Context, method, endpoint string, query url.Values, body, out any) error {
	reqURL := c.baseURL + endpoint
	if len(query) > 0 {
		reqURL += "?" + query.Encode()
	}

	var bodyReader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to encode %s request: %w", endpoint, err)
		}
		bodyReader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, reqURL, bodyReader)
	if err != nil {
		return fmt.Errorf("failed to build %s request: %w", endpoint, err)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.authToken != "" {
		req.Header.Set("X-User-Id", c.userID)
		req.Header.Set("X-Auth-Token", c.authToken)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to call %s: %w", endpoint, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseSize))
	if err != nil {
		return fmt.Errorf("failed to read %s response: %w", endpoint, err)
	}

	if apiErr := checkResponse(endpoint, resp.StatusCode, data); apiErr != nil {
		return apiErr
	}
	if out == nil || len(data) == 0 {
		return nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("failed to decode %s response: %w", endpoint, err)
	}
	return nil
}

// checkResponse maps the two failure shapes Rocket.Chat uses
// ({"success":false,...} and {"status":"error",...}) onto APIError.
func checkResponse(endpoint string, status int, data []byte) *APIError {
	var res gjson.Result
	if gjson.ValidBytes(data) {
		res = gjson.ParseBytes(data)
	}
	failed := status < 200 || status > 299
	if success := res.Get("success"); success.Exists() && !success.Bool() {
		failed = true
	}
	if res.Get("status").String() == "error" {
		failed = true
	}
	if !failed {
		return nil
	}
	apiErr := &APIError{
		StatusCode: status,
		Endpoint:   endpoint,
		ErrorType:  res.Get("errorType").String(),
		Message:    res.Get("error").String(),
	}
	if apiErr.Message == "" {
		apiErr.Message = res.Get("message").String()
	}
	if apiErr.ErrorType == "" && status == http.StatusUnauthorized {
		apiErr.ErrorType = ErrorTypeUnauthorized
	}
	return apiErr
}
