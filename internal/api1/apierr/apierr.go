// Package apierr translates the domain sentinel errors every internal
// package exposes into the four-kind HTTP taxonomy the facade responds
// with: NotFound, Invalid, Unavailable, Other.
package apierr

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/agentic-research/mache/internal/archive"
	"github.com/agentic-research/mache/internal/filter"
	"github.com/agentic-research/mache/internal/query"
	"github.com/agentic-research/mache/internal/read"
	"github.com/agentic-research/mache/internal/schema"
	"github.com/agentic-research/mache/internal/search"
	"github.com/agentic-research/mache/internal/version"
)

// Kind tags which of the four taxonomy buckets an Error belongs to.
type Kind int

const (
	Other Kind = iota
	NotFound
	Invalid
	Unavailable
)

// Status returns the HTTP status code a Kind maps to.
func (k Kind) Status() int {
	switch k {
	case NotFound:
		return http.StatusNotFound
	case Invalid:
		return http.StatusBadRequest
	case Unavailable:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// Error pairs a Kind with the underlying cause, carrying a message safe to
// surface to a caller.
type Error struct {
	Kind    Kind
	Message string
	Cause   error
}

func (e *Error) Error() string { return e.Message }
func (e *Error) Unwrap() error { return e.Cause }

// Wrap builds an Error of the given kind from cause, using cause's message
// verbatim.
func Wrap(kind Kind, cause error) *Error {
	return &Error{Kind: kind, Message: cause.Error(), Cause: cause}
}

// Invalidf builds an Invalid-kind Error directly from a formatted message,
// for request-shape problems with no underlying domain error.
func Invalidf(format string, args ...any) *Error {
	return &Error{Kind: Invalid, Message: fmt.Sprintf(format, args...)}
}

// sentinels maps every recognized domain sentinel to the Kind it
// translates to. Checked in order via errors.Is, first match wins.
var sentinels = []struct {
	err  error
	kind Kind
}{
	{version.ErrUnknown, NotFound},
	{version.ErrNameNotFound, NotFound},
	{version.ErrPending, Unavailable},
	{version.ErrChainTooShort, Other},
	{archive.ErrNotFound, NotFound},
	{archive.ErrSheetNotFound, NotFound},
	{archive.ErrRowNotFound, NotFound},
	{archive.ErrUnknown, NotFound},
	{archive.ErrPending, Unavailable},
	{schema.ErrUnknownSource, Invalid},
	{read.ErrNotFound, NotFound},
	{read.ErrFilterSchemaMismatch, Invalid},
	{read.ErrSchemaGameMismatch, Invalid},
	{read.ErrSelectorTargetUnsupported, Invalid},
	{read.ErrTooManyRows, Invalid},
	{filter.ErrInvalid, Invalid},
	{query.ErrInvalid, Invalid},
	{query.ErrQuerySchemaMismatch, Invalid},
	{query.ErrSchemaGameMismatch, Invalid},
	{query.ErrQueryGameMismatch, Invalid},
	{query.ErrMalformedQuery, Invalid},
	{search.ErrVersionNotIndexed, Unavailable},
	{search.ErrCursorNotFound, Invalid},
	{search.ErrNoSheets, Invalid},
	{search.ErrMalformedQuery, Invalid},
}

// Translate classifies err into an *Error, defaulting to Other when no
// recognized sentinel matches (the caller is expected to log the full
// error in that case, since the message is not necessarily safe to show).
func Translate(err error) *Error {
	if err == nil {
		return nil
	}
	var existing *Error
	if errors.As(err, &existing) {
		return existing
	}
	for _, s := range sentinels {
		if errors.Is(err, s.err) {
			return Wrap(s.kind, err)
		}
	}
	return Wrap(Other, err)
}
