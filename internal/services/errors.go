package services

import (
	"errors"
	"fmt"
	"sort"
	"strings"
)

// ErrSignature is returned when a webhook body does not match its signature.
var ErrSignature = errors.New("invalid webhook signature")

// ValidationError reports bad input before anything is mutated.
type ValidationError struct {
	Fields map[string]string
}

func NewValidationError(field, message string) *ValidationError {
	return &ValidationError{Fields: map[string]string{field: message}}
}

func (e *ValidationError) Error() string {
	keys := make([]string, 0, len(e.Fields))
	for k := range e.Fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, k+": "+e.Fields[k])
	}
	return "validation failed: " + strings.Join(parts, "; ")
}

// AuthError means no provider token could be obtained.
type AuthError struct {
	Err error
}

func (e *AuthError) Error() string {
	return fmt.Sprintf("provider authentication failed: %v", e.Err)
}

func (e *AuthError) Unwrap() error {
	return e.Err
}

// ProviderError carries the provider's final response after the retry budget
// is spent. StatusCode is zero when no response was received.
type ProviderError struct {
	StatusCode int
	Body       string
	Err        error
}

func (e *ProviderError) Error() string {
	if e.StatusCode == 0 {
		return fmt.Sprintf("provider request failed: %v", e.Err)
	}
	return fmt.Sprintf("provider returned %d: %s", e.StatusCode, e.Body)
}

func (e *ProviderError) Unwrap() error {
	return e.Err
}

// IsProviderFailure reports whether err came from the provider connection.
func IsProviderFailure(err error) bool {
	var pe *ProviderError
	var ae *AuthError
	return errors.As(err, &pe) || errors.As(err, &ae)
}
