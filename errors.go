package stegfs

import (
	"errors"
	"fmt"
)

// Error types represent different categories of errors

// ArgumentError represents a caller-level precondition violation, such as a
// negative or out-of-range offset. If one of these surfaces to an end user,
// there is a bug in the calling code.
type ArgumentError struct {
	Field   string // The parameter that failed validation
	Value   any    // The invalid value
	Message string // Human-readable error message
	Err     error  // Underlying error, if any
}

func (e *ArgumentError) Error() string {
	if e.Field != "" {
		return fmt.Sprintf("argument error: %s: %s", e.Field, e.Message)
	}
	return fmt.Sprintf("argument error: %s", e.Message)
}

func (e *ArgumentError) Unwrap() error {
	return e.Err
}

// BackingStoreError represents a failure reading, writing, decoding,
// encoding, or enumerating the on-disk files behind a region, including the
// "file has changed since construction" guard and unsupported image formats.
type BackingStoreError struct {
	Operation string // "probe", "decode", "encode", "enumerate", etc.
	Path      string // Backing file path, if applicable
	Message   string // Human-readable error message
	Err       error  // Underlying error
}

func (e *BackingStoreError) Error() string {
	if e.Path != "" {
		return fmt.Sprintf("backing store error: %s %s: %s", e.Operation, e.Path, e.Message)
	}
	return fmt.Sprintf("backing store error: %s: %s", e.Operation, e.Message)
}

func (e *BackingStoreError) Unwrap() error {
	return e.Err
}

// TooBigError represents a refused or failed buffer allocation, typically
// because the aggregate cover capacity exceeds what the process may hold in
// memory at once.
type TooBigError struct {
	Path    string // Backing file path, if applicable
	Size    int64  // The requested allocation size in bytes
	Message string // Human-readable error message
}

func (e *TooBigError) Error() string {
	if e.Path != "" {
		return fmt.Sprintf("allocation error: %s (%d bytes): %s", e.Path, e.Size, e.Message)
	}
	return fmt.Sprintf("allocation error: %d bytes: %s", e.Size, e.Message)
}

// UnimplementedError marks an operation that exists only to satisfy an
// interface and must never be reached. Seeing one means there is a bug.
type UnimplementedError struct {
	Operation string // The operation that was invoked
}

func (e *UnimplementedError) Error() string {
	return fmt.Sprintf("unimplemented: %s", e.Operation)
}

// Common sentinel errors
var (
	ErrFileChanged       = errors.New("file has changed")
	ErrUnsupportedFormat = errors.New("only PNG, BMP and TGA images are supported")
	ErrNoRegularFiles    = errors.New("directory contains no regular files")
	ErrNegativeOffset    = errors.New("offset cannot be negative")
	ErrOffsetOutOfRange  = errors.New("offset must be less than capacity")
	ErrNilBuffer         = errors.New("buffer cannot be nil")
	ErrNilFileSystem     = errors.New("filesystem cannot be nil")
	ErrFourChannelBMP    = errors.New("4-channel BMP is not supported")
	ErrGrayAlphaPNG      = errors.New("2-channel (gray+alpha) PNG is not supported")
)

// Helper functions for creating structured errors

// NewArgumentError creates a new argument error
func NewArgumentError(field string, value any, message string) error {
	return &ArgumentError{
		Field:   field,
		Value:   value,
		Message: message,
	}
}

// NewBackingStoreError creates a new backing store error
func NewBackingStoreError(operation, path string, err error) error {
	return &BackingStoreError{
		Operation: operation,
		Path:      path,
		Message:   err.Error(),
		Err:       err,
	}
}

// NewTooBigError creates a new allocation error
func NewTooBigError(path string, size int64, message string) error {
	return &TooBigError{
		Path:    path,
		Size:    size,
		Message: message,
	}
}

// Error checking helpers

// IsArgumentError checks if an error is an argument error
func IsArgumentError(err error) bool {
	var ae *ArgumentError
	return errors.As(err, &ae)
}

// IsBackingStoreError checks if an error is a backing store error
func IsBackingStoreError(err error) bool {
	var be *BackingStoreError
	return errors.As(err, &be)
}

// IsTooBigError checks if an error is an allocation error
func IsTooBigError(err error) bool {
	var te *TooBigError
	return errors.As(err, &te)
}

// IsUnimplementedError checks if an error is an unimplemented error
func IsUnimplementedError(err error) bool {
	var ue *UnimplementedError
	return errors.As(err, &ue)
}
