package client

import (
	"errors"
	"fmt"
)

// Kind classifies a gateway failure.
type Kind string

const (
	// KindSessionExpired means the refresh credential was missing or rejected.
	// The stored session has been cleared.
	KindSessionExpired Kind = "session_expired"
	// KindSecretRequired means the resource asked for a per-resource secret
	// (a project password) that this session has not verified yet.
	KindSecretRequired Kind = "secret_required"
	// KindRequestFailed covers every other rejection, including network
	// failures (Status 0).
	KindRequestFailed Kind = "request_failed"
)

// Sentinels for use with errors.Is.
var (
	ErrSessionExpired = &Error{Kind: KindSessionExpired}
	ErrSecretRequired = &Error{Kind: KindSecretRequired}
	ErrRequestFailed  = &Error{Kind: KindRequestFailed}
)

// Error is the error type returned by Gateway.Request.
type Error struct {
	Kind    Kind
	Status  int    // HTTP status, 0 when no response was received
	Message string // server-provided message when present
	Err     error  // optional underlying error
}

func (e *Error) Error() string {
	switch {
	case e.Status != 0 && e.Message != "":
		return fmt.Sprintf("%s: status %d: %s", e.Kind, e.Status, e.Message)
	case e.Status != 0:
		return fmt.Sprintf("%s: status %d", e.Kind, e.Status)
	case e.Message != "":
		return fmt.Sprintf("%s: %s", e.Kind, e.Message)
	case e.Err != nil:
		return fmt.Sprintf("%s: %v", e.Kind, e.Err)
	default:
		return string(e.Kind)
	}
}

func (e *Error) Unwrap() error { return e.Err }

// Is matches any *Error of the same Kind, so errors.Is(err, ErrSecretRequired)
// works regardless of status or message.
func (e *Error) Is(target error) bool {
	var t *Error
	if !errors.As(target, &t) {
		return false
	}
	return t.Kind == e.Kind
}

// StatusOf returns the HTTP status carried by err, or 0.
func StatusOf(err error) int {
	var e *Error
	if errors.As(err, &e) {
		return e.Status
	}
	return 0
}

// MessageOf returns the server message carried by err, falling back to
// err.Error().
func MessageOf(err error) string {
	var e *Error
	if errors.As(err, &e) && e.Message != "" {
		return e.Message
	}
	if err == nil {
		return ""
	}
	return err.Error()
}
