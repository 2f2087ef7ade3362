package api

import (
	"errors"
	"fmt"
	"net/http"
)

// ErrAlreadyFavorite matches every ConflictError via errors.Is.
var ErrAlreadyFavorite = errors.New("already a favorite")

const (
	malformedMessage = "Received an invalid response from the server."
	authMessage      = "Authentication error. Please sign in again."
)

// TransportError is a non-2xx response or a network failure.
type TransportError struct {
	Op         string
	StatusCode int // 0 for network failures
	Message    string
	Err        error
}

func (e *TransportError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("%s: HTTP %d: %s", e.Op, e.StatusCode, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Op, e.Message)
}

func (e *TransportError) Unwrap() error { return e.Err }

// ConflictError reports that a favorite already exists, either because the
// server answered 409 or because the id was already present locally.
type ConflictError struct {
	ID      string
	Message string
	Local   bool
}

func (e *ConflictError) Error() string {
	if e.Message != "" {
		return e.Message
	}
	return fmt.Sprintf("'%s' is already a favorite", e.ID)
}

func (e *ConflictError) Is(target error) bool { return target == ErrAlreadyFavorite }

// AuthError is a failure to obtain a bearer token. It unwraps to a
// TransportError because callers have no separate recovery path for it.
type AuthError struct {
	Err error
}

func (e *AuthError) Error() string {
	return fmt.Sprintf("authentication failed: %v", e.Err)
}

func (e *AuthError) Unwrap() error {
	return &TransportError{Op: "token", Message: authMessage, Err: e.Err}
}

// MalformedResponseError is a response body that is not valid JSON.
type MalformedResponseError struct {
	Op         string
	StatusCode int
	Err        error
}

func (e *MalformedResponseError) Error() string {
	return fmt.Sprintf("%s: malformed response (HTTP %d): %v", e.Op, e.StatusCode, e.Err)
}

func (e *MalformedResponseError) Unwrap() error { return e.Err }

// Message renders err as the human-readable text stored in an error slot.
func Message(err error) string {
	if err == nil {
		return ""
	}

	var conflict *ConflictError
	if errors.As(err, &conflict) {
		return conflict.Error()
	}
	var authErr *AuthError
	if errors.As(err, &authErr) {
		return authMessage
	}
	var malformed *MalformedResponseError
	if errors.As(err, &malformed) {
		return malformedMessage
	}
	var transport *TransportError
	if errors.As(err, &transport) {
		return transport.Message
	}
	return err.Error()
}

// statusMessage picks the body's message, then its error field, then the
// HTTP status text.
func statusMessage(statusCode int, body errorBody) string {
	switch {
	case body.Message != "":
		return body.Message
	case body.Error != "":
		return body.Error
	case http.StatusText(statusCode) != "":
		return http.StatusText(statusCode)
	default:
		return fmt.Sprintf("HTTP error %d", statusCode)
	}
}

type errorBody struct {
	Message string `json:"message"`
	Error   string `json:"error"`
}
