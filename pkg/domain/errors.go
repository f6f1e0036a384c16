package domain

import (
	"fmt"
	"sort"
	"strings"
)

// ValidationError collects field level validation messages.
type ValidationError struct {
	Fields map[string][]string
}

// NewValidationError returns an error with a single message for field.
func NewValidationError(field, msg string) *ValidationError {
	v := &ValidationError{}
	v.Add(field, msg)
	return v
}

// Add appends msg to field.
func (e *ValidationError) Add(field, msg string) {
	if e.Fields == nil {
		e.Fields = map[string][]string{}
	}
	e.Fields[field] = append(e.Fields[field], msg)
}

// Merge copies all messages of other.
func (e *ValidationError) Merge(other *ValidationError) {
	if other == nil {
		return
	}
	for field, msgs := range other.Fields {
		for _, m := range msgs {
			e.Add(field, m)
		}
	}
}

// OrNil returns nil when no messages were added.
func (e *ValidationError) OrNil() error {
	if e == nil || len(e.Fields) == 0 {
		return nil
	}
	return e
}

func (e *ValidationError) Error() string {
	keys := make([]string, 0, len(e.Fields))
	for k := range e.Fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, k+": "+strings.Join(e.Fields[k], "; "))
	}
	return "validation failed: " + strings.Join(parts, ", ")
}

// NotFoundError reports a missing record.
type NotFoundError struct {
	Entity EntityType
	ID     string
}

func (e NotFoundError) Error() string {
	return fmt.Sprintf("%s %s not found", e.Entity, e.ID)
}

// ConflictError reports a request that cannot be applied in the current state.
type ConflictError struct {
	Message string
}

func (e ConflictError) Error() string { return e.Message }

// PermissionError reports an authenticated user lacking rights.
type PermissionError struct {
	Message string
}

func (e PermissionError) Error() string {
	if e.Message == "" {
		return "You do not have permission to perform this action."
	}
	return e.Message
}

// Code is the machine readable error code.
func (PermissionError) Code() string { return "permission_denied" }

// AuthenticationError reports missing or invalid credentials.
type AuthenticationError struct {
	Message string
	Missing bool
}

func (e AuthenticationError) Error() string {
	if e.Message != "" {
		return e.Message
	}
	if e.Missing {
		return "Authentication credentials were not provided."
	}
	return "Incorrect authentication credentials."
}

// Code is the machine readable error code.
func (e AuthenticationError) Code() string {
	if e.Missing {
		return "not_authenticated"
	}
	return "authentication_failed"
}

// ServiceUnavailableError reports a failing upstream service.
type ServiceUnavailableError struct {
	Message string
	Err     error
}

func (e ServiceUnavailableError) Error() string {
	if e.Message == "" {
		return "Service temporarily unavailable, try again later."
	}
	return e.Message
}

func (e ServiceUnavailableError) Unwrap() error { return e.Err }

// Code is the machine readable error code.
func (ServiceUnavailableError) Code() string { return "service_unavailable" }
