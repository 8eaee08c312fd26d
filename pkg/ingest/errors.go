package ingest

import (
	"errors"
	"fmt"
)

// ErrInsufficientSources is returned when an upload names fewer than two sources
var ErrInsufficientSources = errors.New("at least two sources are required")

// ErrMissingColumn is returned when a required CSV column is absent from the header
var ErrMissingColumn = errors.New("required column missing")

// Kind represents the category of an ingestion problem
type Kind string

const (
	// KindInsufficientSources indicates fewer than two distinct source ids
	KindInsufficientSources Kind = "insufficient_sources"
	// KindMissingColumn indicates the header lacks a required column
	KindMissingColumn Kind = "missing_column"
	// KindMalformedInput indicates the CSV text itself could not be read
	KindMalformedInput Kind = "malformed_input"
	// KindExtraSources indicates ids beyond the first two, which are ignored
	KindExtraSources Kind = "extra_sources"
	// KindNoValidRows indicates a source without a single numerically valid row.
	// It is reported as a warning, never returned as an error.
	KindNoValidRows Kind = "no_valid_rows"
)

// ValidationError represents a structured ingestion error
type ValidationError struct {
	Kind    Kind
	Message string
	Cause   error
}

// Error implements the error interface
func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

// Unwrap implements error unwrapping for errors.Is and errors.As
func (e *ValidationError) Unwrap() error {
	return e.Cause
}

// NewInsufficientSourcesError creates an error for an upload with count distinct sources
func NewInsufficientSourcesError(count int) *ValidationError {
	return &ValidationError{
		Kind:    KindInsufficientSources,
		Message: fmt.Sprintf("found %d distinct source id(s), need 2", count),
		Cause:   ErrInsufficientSources,
	}
}

// NewMissingColumnError creates an error for a header without column
func NewMissingColumnError(column string) *ValidationError {
	return &ValidationError{
		Kind:    KindMissingColumn,
		Message: fmt.Sprintf("column %q not found in header", column),
		Cause:   ErrMissingColumn,
	}
}

// NewMalformedInputError wraps a CSV reader failure
func NewMalformedInputError(cause error) *ValidationError {
	return &ValidationError{
		Kind:    KindMalformedInput,
		Message: "could not read CSV input",
		Cause:   cause,
	}
}

// Warning is a non-fatal ingestion finding attached to a Report
type Warning struct {
	Kind    Kind   `json:"kind"`
	Source  string `json:"source,omitempty"`
	Message string `json:"message"`
}
