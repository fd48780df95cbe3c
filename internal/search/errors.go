// Package search exposes sheet data as per-version sqlite virtual tables and
// plans/executes relevance-scored queries over them, with cursor-based
// pagination across requests.
package search

import "errors"

// ErrVersionNotIndexed means no database exists yet for the requested
// version; the caller must index it before searching.
var ErrVersionNotIndexed = errors.New("search: version has not been indexed")

// ErrCursorNotFound means the cursor token does not name a live,
// not-yet-expired continuation in the cache.
var ErrCursorNotFound = errors.New("search: cursor not found or expired")

// ErrNoSheets means a query-based search request named zero candidate
// sheets to search.
var ErrNoSheets = errors.New("search: no sheets to search")

// ErrMalformedQuery means a post-tree could not be translated into a
// runnable statement (e.g. an empty group, or a sheet with no columns).
var ErrMalformedQuery = errors.New("search: malformed query")
