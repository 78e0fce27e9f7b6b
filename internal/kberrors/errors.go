// Package kberrors defines the error categories used across the knowledge base.
package kberrors

import (
	"errors"
	"fmt"
)

// Category sentinels. Callers classify errors with errors.Is against these.
var (
	// ErrValidation marks user-correctable input problems: unsafe identifiers,
	// unsupported file types, empty content.
	ErrValidation = errors.New("validation error")
	// ErrNotFound marks lookups of unknown file IDs or characters.
	ErrNotFound = errors.New("not found")
	// ErrMissingDependency marks an optional format decoder that is not available.
	ErrMissingDependency = errors.New("missing dependency")
	// ErrExtraction marks format-specific decode failures, including documents
	// with no extractable text.
	ErrExtraction = errors.New("extraction error")
	// ErrStorage marks filesystem I/O failures on read, write, or delete.
	ErrStorage = errors.New("storage error")
	// ErrIndex marks embedded index failures, including a missing or corrupt schema.
	ErrIndex = errors.New("index error")
)

// Validation returns a validation error with the given message.
func Validation(format string, args ...interface{}) error {
	return fmt.Errorf("%w: %s", ErrValidation, fmt.Sprintf(format, args...))
}

// NotFound returns a not-found error with the given message.
func NotFound(format string, args ...interface{}) error {
	return fmt.Errorf("%w: %s", ErrNotFound, fmt.Sprintf(format, args...))
}

// MissingDependency returns a missing-dependency error naming the decoder.
func MissingDependency(name, detail string) error {
	return fmt.Errorf("%w: %s (%s)", ErrMissingDependency, name, detail)
}

// Extraction wraps err as an extraction error with context.
func Extraction(msg string, err error) error {
	if err == nil {
		return fmt.Errorf("%w: %s", ErrExtraction, msg)
	}
	return fmt.Errorf("%w: %s: %v", ErrExtraction, msg, err)
}

// Storage wraps err as a storage error with context.
func Storage(msg string, err error) error {
	if err == nil {
		return fmt.Errorf("%w: %s", ErrStorage, msg)
	}
	return fmt.Errorf("%w: %s: %v", ErrStorage, msg, err)
}

// Index wraps err as an index error with context.
func Index(msg string, err error) error {
	if err == nil {
		return fmt.Errorf("%w: %s", ErrIndex, msg)
	}
	return fmt.Errorf("%w: %s: %v", ErrIndex, msg, err)
}
