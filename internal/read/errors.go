package read

import (
	"errors"
	"fmt"
)

// ErrNotFound means the requested sheet or row does not exist in the
// archive.
var ErrNotFound = errors.New("read: not found")

// ErrFilterSchemaMismatch means the filter's shape does not match the
// schema node it is applied against (e.g. an array filter over a struct
// node).
var ErrFilterSchemaMismatch = errors.New("read: filter does not match schema")

// ErrSchemaGameMismatch means the schema describes more structure (columns,
// fields) than the underlying game data actually provides.
var ErrSchemaGameMismatch = errors.New("read: schema does not match game data")

// ErrTooManyRows means a single Read call opened more distinct rows than
// the caller-supplied ceiling allows. It guards against reference chains
// that fan out without bound.
var ErrTooManyRows = errors.New("read: exceeded row visit ceiling")

// ErrSelectorTargetUnsupported means a reference column's candidate target
// carries a selector qualifier; selector-based target discrimination is
// not implemented, so resolution stops and the reference is left
// unpopulated.
var ErrSelectorTargetUnsupported = errors.New("read: selector-qualified reference targets are not supported")

// MismatchError carries the field name and reason behind a schema or game
// data mismatch.
type MismatchError struct {
	Field  string
	Reason string
}

func (e *MismatchError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Reason)
}

func filterMismatch(field, reason string) error {
	return fmt.Errorf("%w: %w", ErrFilterSchemaMismatch, &MismatchError{Field: field, Reason: reason})
}

func gameMismatch(field, reason string) error {
	return fmt.Errorf("%w: %w", ErrSchemaGameMismatch, &MismatchError{Field: field, Reason: reason})
}
