package domain

import (
	"errors"
	"fmt"
)

// Base error types (sentinel errors).
var (
	ErrNotFound     = errors.New("not found")
	ErrInvalidInput = errors.New("invalid input")
	ErrUnavailable  = errors.New("service unavailable")
	ErrInternal     = errors.New("internal error")
)

// Specific errors.
var (
	ErrUnknownLayer    = fmt.Errorf("layer: %w", ErrNotFound)
	ErrTileNotFound    = fmt.Errorf("tile: %w", ErrNotFound)
	ErrPackageNotFound = fmt.Errorf("package: %w", ErrNotFound)
	ErrOffline         = fmt.Errorf("no connection: %w", ErrUnavailable)
	ErrNotReady        = fmt.Errorf("service not ready: %w", ErrUnavailable)
)

// StorageError wraps a failure of the tile cache or state store. These are
// logged and absorbed; the engine keeps going with in-memory state.
type StorageError struct {
	Operation string // put, get, save, load, ...
	Key       string // cache key or state key
	Err       error
}

// Error implements the error interface.
func (e *StorageError) Error() string {
	if e.Key != "" {
		return fmt.Sprintf("storage error during %s for %s: %v", e.Operation, e.Key, e.Err)
	}
	return fmt.Sprintf("storage error during %s: %v", e.Operation, e.Err)
}

// Unwrap returns the underlying error.
func (e *StorageError) Unwrap() error {
	return e.Err
}

// PackageError wraps a failure to open or read a packaged tile database.
// Callers degrade to "not available offline" rather than surfacing it.
type PackageError struct {
	FileID    string
	Operation string
	Err       error
}

// Error implements the error interface.
func (e *PackageError) Error() string {
	return fmt.Sprintf("package %s: %s: %v", e.FileID, e.Operation, e.Err)
}

// Unwrap returns the underlying error.
func (e *PackageError) Unwrap() error {
	return e.Err
}

// ValidationError describes a rejected tile response: wrong content type or
// an undersized payload. Treated exactly like a transport failure.
type ValidationError struct {
	URL     string
	Reason  string
	Details string
}

// Error implements the error interface.
func (e *ValidationError) Error() string {
	if e.Details != "" {
		return fmt.Sprintf("invalid tile response from %s: %s (%s)", e.URL, e.Reason, e.Details)
	}
	return fmt.Sprintf("invalid tile response from %s: %s", e.URL, e.Reason)
}

// Unwrap returns the underlying error type.
func (e *ValidationError) Unwrap() error {
	return ErrInvalidInput
}
