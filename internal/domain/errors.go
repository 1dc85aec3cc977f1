package domain

import (
	"errors"
	"strings"
)

var (
	// ErrTestNotFound is returned when a mock test id does not exist.
	ErrTestNotFound = errors.New("mock test not found")
	// ErrQuestionNotFound indicates a question id is unknown.
	ErrQuestionNotFound = errors.New("question not found")
	// ErrUserNotFound indicates a user has no account or score row.
	ErrUserNotFound = errors.New("user not found")
	// ErrResultNotFound is returned when no result exists for a user and test.
	ErrResultNotFound = errors.New("result not found")
	// ErrAttemptActive is returned when a draft key is already owned by a running attempt.
	ErrAttemptActive = errors.New("attempt already in progress")
	// ErrAttemptSubmitted is returned for any mutation after submission.
	ErrAttemptSubmitted = errors.New("attempt already submitted")
	// ErrAttemptClosed is returned for mutations after the view was torn down.
	ErrAttemptClosed = errors.New("attempt closed")
	// ErrQuestionIndex indicates a question index outside the paper.
	ErrQuestionIndex = errors.New("question index out of range")
	// ErrOptionIndex indicates an option index outside A-D.
	ErrOptionIndex = errors.New("option index out of range")
	// ErrResultNotSaved marks a submission whose result could not be persisted.
	ErrResultNotSaved = errors.New("result not saved")
	// ErrUnauthorized is returned when no valid session is present.
	ErrUnauthorized = errors.New("unauthorized")
	// ErrForbidden is returned when the session lacks a permission.
	ErrForbidden = errors.New("forbidden")
	// ErrInvalidCredentials is returned on a failed sign-in.
	ErrInvalidCredentials = errors.New("invalid email or password")
	// ErrEmailTaken is returned when signing up with a registered email.
	ErrEmailTaken = errors.New("email already registered")
	// ErrInvalidToken is returned for expired or malformed tokens.
	ErrInvalidToken = errors.New("invalid token")
)

// ValidationError lists field problems found before a write reaches the backend.
type ValidationError struct {
	Fields map[string]string
}

func (e *ValidationError) Error() string {
	parts := make([]string, 0, len(e.Fields))
	for field, msg := range e.Fields {
		parts = append(parts, field+": "+msg)
	}
	return "validation failed: " + strings.Join(parts, "; ")
}

// Add records a problem for field.
func (e *ValidationError) Add(field, msg string) {
	if e.Fields == nil {
		e.Fields = make(map[string]string)
	}
	e.Fields[field] = msg
}

// OrNil returns e if any field failed, otherwise nil.
func (e *ValidationError) OrNil() error {
	if len(e.Fields) == 0 {
		return nil
	}
	return e
}
