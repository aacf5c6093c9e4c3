package domain

import (
	"errors"
	"fmt"
)

// ErrInvalidInput is wrapped by every ValidationError.
var ErrInvalidInput = errors.New("invalid input")

// ErrTenantRequired is returned by tenant-scoped stores and buses given an
// empty tenant.
var ErrTenantRequired = errors.New("tenant id is required")

// ValidationError reports a rejected input field.
type ValidationError struct {
	Field  string `json:"field"`
	Reason string `json:"reason"`
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s %s", e.Field, e.Reason)
}

func (e *ValidationError) Unwrap() error {
	return ErrInvalidInput
}
