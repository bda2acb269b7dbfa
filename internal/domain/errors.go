package domain

import (
	"errors"
	"fmt"
)

// Base error kinds (sentinel errors).
var (
	ErrConnection   = errors.New("connection error")
	ErrAuth         = errors.New("authentication error")
	ErrNotFound     = errors.New("not found")
	ErrTransport    = errors.New("transport error")
	ErrDecode       = errors.New("decode error")
	ErrLocalIO      = errors.New("local i/o error")
	ErrInvalidInput = errors.New("invalid input")
)

// Specific errors.
var (
	ErrRemoteFileNotFound = fmt.Errorf("remote file: %w", ErrNotFound)
	ErrDatasetNotFound    = fmt.Errorf("dataset: %w", ErrNotFound)
	ErrInvalidDateKey     = fmt.Errorf("date key: %w", ErrInvalidInput)
	ErrInvalidWindow      = fmt.Errorf("date window: %w", ErrInvalidInput)
	ErrNonMonotonic       = fmt.Errorf("period keys not monotonic: %w", ErrDecode)
	ErrShortRecord        = fmt.Errorf("record shorter than layout: %w", ErrDecode)
	ErrBadCompression     = fmt.Errorf("compressed stream: %w", ErrDecode)
)

// IsFatal reports whether err concerns the session rather than a single file.
// Connection and authentication failures while opening or listing leave
// nothing to discover and abort a run; on a single item they only fail it.
func IsFatal(err error) bool {
	return errors.Is(err, ErrConnection) || errors.Is(err, ErrAuth)
}

// ValidationError represents a detailed validation error.
type ValidationError struct {
	Field      string // Field that failed validation
	Value      any    // The invalid value
	Constraint string // The constraint that was violated
	Message    string // Human-readable message
}

// Error implements the error interface.
func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation error for %s: %s (value: %v, constraint: %s)",
		e.Field, e.Message, e.Value, e.Constraint)
}

// Unwrap returns the underlying error type.
func (e *ValidationError) Unwrap() error {
	return ErrInvalidInput
}

// FetchError represents an error while handling a single remote item.
type FetchError struct {
	Operation string // Operation that failed (list, fetch, exists, transform, persist)
	Name      string // Remote entry name or local path
	Err       error  // Underlying error
}

// Error implements the error interface.
func (e *FetchError) Error() string {
	if e.Name != "" {
		return fmt.Sprintf("%s %s: %v", e.Operation, e.Name, e.Err)
	}
	return fmt.Sprintf("%s: %v", e.Operation, e.Err)
}

// Unwrap returns the underlying error.
func (e *FetchError) Unwrap() error {
	return e.Err
}

// DecodeError represents a parse failure at a position in a payload.
type DecodeError struct {
	Format string // Format being decoded (dst, dsd, ionex, lzw)
	Offset int    // Byte or line offset, -1 if unknown
	Err    error  // Underlying error
}

// Error implements the error interface.
func (e *DecodeError) Error() string {
	if e.Offset >= 0 {
		return fmt.Sprintf("decoding %s at %d: %v", e.Format, e.Offset, e.Err)
	}
	return fmt.Sprintf("decoding %s: %v", e.Format, e.Err)
}

// Unwrap returns the underlying error.
func (e *DecodeError) Unwrap() error {
	return e.Err
}

// Is makes every DecodeError match ErrDecode.
func (e *DecodeError) Is(target error) bool {
	return target == ErrDecode
}

// ConfigError represents a configuration error.
type ConfigError struct {
	Field   string // Configuration field
	Message string // Error message
}

// Error implements the error interface.
func (e *ConfigError) Error() string {
	return fmt.Sprintf("configuration error for %s: %s", e.Field, e.Message)
}

// Unwrap returns the underlying error type.
func (e *ConfigError) Unwrap() error {
	return ErrInvalidInput
}
