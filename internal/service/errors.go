package service

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"healthsurvey/internal/repository"
)

var (
	ErrAuthenticationRequired = errors.New("authentication required")
	ErrNotFound               = errors.New("response not found")
	ErrForbidden              = errors.New("response belongs to another user")
	ErrExpired                = errors.New("response can no longer be modified")
	ErrInternal               = errors.New("internal error")
)

// RateLimitError is returned when a quota bucket denies a request
type RateLimitError struct {
	Bucket     string
	RetryAfter time.Duration
}

func (e *RateLimitError) Error() string {
	return fmt.Sprintf("rate limit exceeded for %s, retry after %ds", e.Bucket, e.RetrySeconds())
}

// RetrySeconds rounds RetryAfter up to whole seconds
func (e *RateLimitError) RetrySeconds() int {
	secs := int(e.RetryAfter / time.Second)
	if e.RetryAfter%time.Second != 0 {
		secs++
	}
	return secs
}

// ValidationError accumulates per-field messages for a rejected payload
type ValidationError struct {
	Errors map[string][]string
}

func NewValidationError() *ValidationError {
	return &ValidationError{Errors: make(map[string][]string)}
}

func (e *ValidationError) Add(field, format string, args ...interface{}) {
	e.Errors[field] = append(e.Errors[field], fmt.Sprintf(format, args...))
}

func (e *ValidationError) Empty() bool {
	return len(e.Errors) == 0
}

// OrNil returns nil when nothing was recorded so callers can return it directly
func (e *ValidationError) OrNil() error {
	if e.Empty() {
		return nil
	}
	return e
}

func (e *ValidationError) Error() string {
	fields := make([]string, 0, len(e.Errors))
	for f := range e.Errors {
		fields = append(fields, f)
	}
	sort.Strings(fields)
	parts := make([]string, 0, len(fields))
	for _, f := range fields {
		parts = append(parts, f+": "+strings.Join(e.Errors[f], "; "))
	}
	return "validation failed: " + strings.Join(parts, ", ")
}

// storageErr maps repository errors onto the service taxonomy
func storageErr(op string, err error) error {
	if errors.Is(err, repository.ErrNotFound) {
		return ErrNotFound
	}
	// the response left an editable status between the caller's read and the write
	if errors.Is(err, repository.ErrStatusConflict) {
		return ErrExpired
	}
	return fmt.Errorf("%s: %w: %w", op, ErrInternal, err)
}
