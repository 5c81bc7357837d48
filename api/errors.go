package api

import (
	"errors"
	"fmt"
	"net/http"
)

var (
	// ErrNoTokenSource is returned by bearer-authenticated calls on a client
	// built without WithTokenSource.
	ErrNoTokenSource = errors.New("api: no token source configured")
	// ErrUnexpectedContentType is returned when a non-empty response body is
	// not application/json.
	ErrUnexpectedContentType = errors.New("api: unexpected response content type")
)

// StatusError is a non-2xx response. Message carries the backend's "error"
// field when it sent one.
type StatusError struct {
	Method     string
	Path       string
	StatusCode int
	Message    string
}

func (e *StatusError) Error() string {
	msg := e.Message
	if msg == "" {
		msg = http.StatusText(e.StatusCode)
	}
	return fmt.Sprintf("%s %s: %d %s", e.Method, e.Path, e.StatusCode, msg)
}

// Unauthenticated reports whether the backend refused the credentials.
func (e *StatusError) Unauthenticated() bool {
	return e.StatusCode == http.StatusUnauthorized || e.StatusCode == http.StatusForbidden
}

// IsStatus reports whether err wraps a StatusError with the given code.
func IsStatus(err error, code int) bool {
	var se *StatusError
	return errors.As(err, &se) && se.StatusCode == code
}

type errorBody struct {
	Error string `json:"error"`
}
