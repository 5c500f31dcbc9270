package connect

import (
	"fmt"
	"net/http"
)

// error taxonomy at the component boundary. raw transport and http failures
// never leave this package untranslated.
//
// - TransportError: connection drop, malformed frame. retried with backoff.
// - AuthError: bad or expired credential. fatal for the handle, no retry.
// - ValidationError: rejected locally before any network call.
// - ConflictError: server state disagrees with local optimistic state.
//   resolved by resync, logged.
// - NotFoundError: missing target. surfaced, local optimistic state rolled
//   back.

type TransportError struct {
	Err error
}

func NewTransportError(err error) *TransportError {
	return &TransportError{
		Err: err,
	}
}

func (self *TransportError) Error() string {
	return fmt.Sprintf("transport: %s", self.Err)
}

func (self *TransportError) Unwrap() error {
	return self.Err
}

type AuthError struct {
	Message string
}

func (self *AuthError) Error() string {
	if self.Message == "" {
		return "unauthenticated"
	}
	return fmt.Sprintf("unauthenticated: %s", self.Message)
}

type ValidationError struct {
	Message string
}

func (self *ValidationError) Error() string {
	return self.Message
}

type ConflictError struct {
	TargetId string
	Local    bool
	Remote   bool
}

func (self *ConflictError) Error() string {
	return fmt.Sprintf(
		"conflict on %s: local=%t remote=%t",
		self.TargetId,
		self.Local,
		self.Remote,
	)
}

type NotFoundError struct {
	TargetId string
	Message  string
}

func (self *NotFoundError) Error() string {
	if self.Message == "" {
		return fmt.Sprintf("not found: %s", self.TargetId)
	}
	return self.Message
}

// maps a non-200 gateway status to the taxonomy
func classifyStatus(statusCode int, message string) error {
	switch statusCode {
	case http.StatusUnauthorized, http.StatusForbidden:
		return &AuthError{
			Message: message,
		}
	case http.StatusNotFound:
		return &NotFoundError{
			Message: message,
		}
	case http.StatusBadRequest, http.StatusUnprocessableEntity:
		return &ValidationError{
			Message: message,
		}
	case http.StatusConflict:
		return &ConflictError{}
	default:
		return NewTransportError(fmt.Errorf("status %d: %s", statusCode, message))
	}
}
