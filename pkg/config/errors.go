package config

import (
	"errors"
	"fmt"
)

var (
	// ErrInvalidYAML indicates YAML parsing failed.
	ErrInvalidYAML = errors.New("invalid YAML syntax")

	// ErrConfigurationInvalid indicates configuration that prevents the
	// pipeline from starting at all (the only fatal error class).
	ErrConfigurationInvalid = errors.New("configuration invalid")
)

// ValidationError wraps a configuration validation failure with the
// offending section and field.
type ValidationError struct {
	Section string
	Field   string
	Err     error
}

// Error returns the formatted message.
func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s.%s: %v", e.Section, e.Field, e.Err)
}

// Unwrap returns the underlying error.
func (e *ValidationError) Unwrap() error { return e.Err }

// LoadError wraps a configuration loading failure with file context.
type LoadError struct {
	File string
	Err  error
}

// Error returns the formatted message.
func (e *LoadError) Error() string {
	return fmt.Sprintf("failed to load %s: %v", e.File, e.Err)
}

// Unwrap returns the underlying error.
func (e *LoadError) Unwrap() error { return e.Err }
