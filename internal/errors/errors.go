// Package errors provides the typed error kinds used across the client:
// every failure a caller can branch on is an *AppError with a stable Type.
package errors

import (
	"fmt"
	"net/http"
	"strings"

	goerrors "github.com/go-faster/errors"
)

// ErrorType discriminates the kinds of failure a caller may need to branch on.
type ErrorType string

const (
	ErrorTypeValidation ErrorType = "validation"
	ErrorTypeDatabase   ErrorType = "database"
	ErrorTypeNetwork    ErrorType = "network"
	ErrorTypeAuth       ErrorType = "auth"
	ErrorTypeNotFound   ErrorType = "not_found"
	ErrorTypeConflict   ErrorType = "conflict"
	ErrorTypeInternal   ErrorType = "internal"
	ErrorTypeTimeout    ErrorType = "timeout"
	ErrorTypeRateLimit  ErrorType = "rate_limit"

	// D365-specific kinds.
	ErrorTypeMetadataFetch      ErrorType = "metadata_fetch_failed"
	ErrorTypeEntity             ErrorType = "entity_error"
	ErrorTypeAction             ErrorType = "action_error"
	ErrorTypeLabel              ErrorType = "label_error"
	ErrorTypeReadOnly           ErrorType = "read_only_entity"
	ErrorTypeKeyMismatch        ErrorType = "key_mismatch"
	ErrorTypeCacheUnavailable   ErrorType = "cache_unavailable"
	ErrorTypeSyncAlreadyRunning ErrorType = "sync_already_running"
	ErrorTypeSyncCancelled      ErrorType = "sync_cancelled"
	ErrorTypeSyncFailed         ErrorType = "sync_failed"
)

var statusByType = map[ErrorType]int{
	ErrorTypeValidation:         http.StatusBadRequest,
	ErrorTypeAuth:               http.StatusUnauthorized,
	ErrorTypeNotFound:           http.StatusNotFound,
	ErrorTypeConflict:           http.StatusConflict,
	ErrorTypeTimeout:            http.StatusRequestTimeout,
	ErrorTypeRateLimit:          http.StatusTooManyRequests,
	ErrorTypeDatabase:           http.StatusInternalServerError,
	ErrorTypeNetwork:            http.StatusInternalServerError,
	ErrorTypeInternal:           http.StatusInternalServerError,
	ErrorTypeMetadataFetch:      http.StatusBadGateway,
	ErrorTypeEntity:             http.StatusInternalServerError,
	ErrorTypeAction:             http.StatusInternalServerError,
	ErrorTypeLabel:              http.StatusInternalServerError,
	ErrorTypeReadOnly:           http.StatusForbidden,
	ErrorTypeKeyMismatch:        http.StatusBadRequest,
	ErrorTypeCacheUnavailable:   http.StatusServiceUnavailable,
	ErrorTypeSyncAlreadyRunning: http.StatusConflict,
	ErrorTypeSyncCancelled:      http.StatusConflict,
	ErrorTypeSyncFailed:         http.StatusInternalServerError,
}

// AppError is the single error type returned across package boundaries.
type AppError struct {
	Type       ErrorType
	Message    string
	Details    string
	StatusCode int
	Cause      error

	// Status and Body carry the remote HTTP response for the *Failed kinds
	// (MetadataFetchFailed, EntityError, ActionError).
	Status int
	Body   string
	// Phase carries the sync phase name for SyncFailed.
	Phase string
}

// New creates an AppError of the given type with the mapped HTTP status.
func New(t ErrorType, message string) *AppError {
	return &AppError{Type: t, Message: message, StatusCode: statusByType[t]}
}

// Newf creates a formatted AppError.
func Newf(t ErrorType, format string, args ...any) *AppError {
	return New(t, fmt.Sprintf(format, args...))
}

// Wrap attaches an underlying cause to a new AppError.
func Wrap(cause error, t ErrorType, message string) *AppError {
	err := New(t, message)
	err.Cause = cause
	return err
}

// Wrapf attaches an underlying cause to a formatted AppError.
func Wrapf(cause error, t ErrorType, format string, args ...any) *AppError {
	return Wrap(cause, t, fmt.Sprintf(format, args...))
}

func (e *AppError) Error() string {
	msg := fmt.Sprintf("%s: %s", e.Type, e.Message)
	if e.Details != "" {
		msg = fmt.Sprintf("%s (%s)", msg, e.Details)
	}
	return msg
}

func (e *AppError) Unwrap() error { return e.Cause }

// WithDetails sets Details in place and returns the receiver for chaining.
func (e *AppError) WithDetails(details string) *AppError {
	e.Details = details
	return e
}

// WithDetailsf sets formatted Details in place.
func (e *AppError) WithDetailsf(format string, args ...any) *AppError {
	e.Details = fmt.Sprintf(format, args...)
	return e
}

// WithStatus attaches the remote HTTP status and a truncated body excerpt,
// used by MetadataFetchFailed / EntityError / ActionError.
func (e *AppError) WithStatus(status int, body string) *AppError {
	e.Status = status
	e.Body = truncate(body, 2048)
	return e
}

// WithPhase attaches the sync phase name, used by SyncFailed.
func (e *AppError) WithPhase(phase string) *AppError {
	e.Phase = phase
	return e
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}

// IsType reports whether err is an *AppError of the given type.
func IsType(err error, t ErrorType) bool {
	var appErr *AppError
	if goerrors.As(err, &appErr) {
		return appErr.Type == t
	}
	return false
}

// Predefined constructors matching common call sites.

func NewValidationError(message string) *AppError { return New(ErrorTypeValidation, message) }

func NewDatabaseError(operation string, cause error) *AppError {
	return Wrapf(cause, ErrorTypeDatabase, "database operation failed: %s", operation)
}

func NewNotFoundError(what string) *AppError {
	return Newf(ErrorTypeNotFound, "%s not found", what)
}

func NewAuthError(message string) *AppError { return New(ErrorTypeAuth, message) }

func NewTimeoutError(operation string) *AppError {
	return Newf(ErrorTypeTimeout, "operation timed out: %s", operation)
}

func NewNetworkError(cause error, message string) *AppError {
	return Wrap(cause, ErrorTypeNetwork, message)
}

func NewMetadataFetchError(status int, body string) *AppError {
	return New(ErrorTypeMetadataFetch, "metadata fetch failed").WithStatus(status, body)
}

func NewEntityError(operation string, status int, body string) *AppError {
	return Newf(ErrorTypeEntity, "entity operation failed: %s", operation).WithStatus(status, body)
}

func NewActionError(action string, status int, body string) *AppError {
	return Newf(ErrorTypeAction, "action invocation failed: %s", action).WithStatus(status, body)
}

func NewLabelError(status int, body string) *AppError {
	return New(ErrorTypeLabel, "label fetch failed").WithStatus(status, body)
}

func NewReadOnlyEntityError(entity string) *AppError {
	return Newf(ErrorTypeReadOnly, "entity %q is read-only", entity)
}

func NewKeyMismatchError(expected, got int) *AppError {
	return Newf(ErrorTypeKeyMismatch, "key has %d field(s), schema expects %d", got, expected)
}

func NewCacheUnavailableError(cause error) *AppError {
	return Wrap(cause, ErrorTypeCacheUnavailable, "metadata cache store is unavailable")
}

func NewSyncAlreadyRunningError(globalVersionID string) *AppError {
	return Newf(ErrorTypeSyncAlreadyRunning, "a sync session is already running for global version %s", globalVersionID)
}

func NewSyncCancelledError() *AppError {
	return New(ErrorTypeSyncCancelled, "sync session was cancelled")
}

func NewSyncFailedError(phase string, cause error) *AppError {
	return Wrapf(cause, ErrorTypeSyncFailed, "sync failed").WithPhase(phase)
}

// Chain concatenates non-nil errors into a single error message, joined by
// " -> ". A single non-nil error is returned unwrapped; all-nil returns nil.
func Chain(errs ...error) error {
	var msgs []string
	var first error
	count := 0
	for _, err := range errs {
		if err == nil {
			continue
		}
		count++
		if first == nil {
			first = err
		}
		msgs = append(msgs, err.Error())
	}
	switch count {
	case 0:
		return nil
	case 1:
		return first
	default:
		return goerrors.New(strings.Join(msgs, " -> "))
	}
}
