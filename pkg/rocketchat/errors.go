// Copyright 2024-2026 Aiku AI

package rocketchat

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
)

// Error types returned by Rocket.Chat in the errorType field.
const (
	ErrorTypeDuplicateChannelName = "error-duplicate-channel-name"
	ErrorTypeRoomNotFound         = "error-room-not-found"
	ErrorTypeInvalidUser          = "error-invalid-user"
	ErrorTypeInvalidRoom          = "error-invalid-room"
	ErrorTypeUnauthorized         = "unauthorized"
)

// APIError is returned for non-2xx responses and for bodies reporting
// success:false or status:error.
type APIError struct {
	StatusCode int
	Endpoint   string
	ErrorType  string
	Message    string
}

func (e *APIError) Error() string {
	switch {
	case e.ErrorType != "" && e.Message != "":
		return fmt.Sprintf("rocket.chat %s: %s (%s, HTTP %d)", e.Endpoint, e.Message, e.ErrorType, e.StatusCode)
	case e.Message != "":
		return fmt.Sprintf("rocket.chat %s: %s (HTTP %d)", e.Endpoint, e.Message, e.StatusCode)
	default:
		return fmt.Sprintf("rocket.chat %s: HTTP %d", e.Endpoint, e.StatusCode)
	}
}

// IsErrorType reports whether err is an APIError with the given errorType.
func IsErrorType(err error, errorType string) bool {
	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		return false
	}
	return apiErr.ErrorType == errorType
}

// userNotFoundMessage is the error text of users.info and users.delete for
// unknown accounts. Those endpoints use API.v1.failure without an errorType.
const userNotFoundMessage = "user not found"

// IsNotFound reports whether err means the user or room does not exist.
func IsNotFound(err error) bool {
	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		return false
	}
	switch apiErr.ErrorType {
	case ErrorTypeInvalidUser, ErrorTypeRoomNotFound, ErrorTypeInvalidRoom:
		return true
	case "":
		if apiErr.StatusCode == http.StatusBadRequest && isUserLookup(apiErr) {
			return true
		}
	}
	return apiErr.StatusCode == http.StatusNotFound
}

// isUserLookup reports whether a bare failure came from an account lookup.
// users.info answers any unknown user with a plain 400 failure.
func isUserLookup(apiErr *APIError) bool {
	if apiErr.Endpoint == "users.info" {
		return true
	}
	return strings.Contains(strings.ToLower(apiErr.Message), userNotFoundMessage)
}
