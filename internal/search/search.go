package search

import (
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/agentic-research/mache/internal/archive"
	"github.com/agentic-research/mache/internal/query"
	"github.com/agentic-research/mache/internal/version"
)

// Result is one row a search matched, not yet hydrated with field data --
// hydration is a job for internal/read, one row at a time, driven by the
// HTTP facade.
type Result struct {
	Sheet    string
	RowID    uint32
	SubrowID uint16
	Score    float32
}

// Request is either a fresh query against a set of sheets, or a
// continuation of a previously paused one -- the same two-armed shape as
// the original's SearchRequest::{Query, Cursor}.
type Request struct {
	Cursor *uuid.UUID

	Version version.Key
	Sheets  map[string]query.PostNode
}

// Search runs request against the version's indexed database, returning
// up to limit results plus a continuation token when more are available.
func (e *Engine) Search(req Request, limit int) ([]Result, *uuid.UUID, error) {
	if req.Cursor != nil {
		return e.searchCursor(*req.Cursor, limit)
	}
	return e.searchFresh(req, limit)
}

func (e *Engine) searchFresh(req Request, limit int) ([]Result, *uuid.UUID, error) {
	if len(req.Sheets) == 0 {
		return nil, nil, ErrNoSheets
	}

	sheetQueries := make([]sheetQuery, 0, len(req.Sheets))
	for sheet, node := range req.Sheets {
		sheetQueries = append(sheetQueries, sheetQuery{Sheet: sheet, Node: node})
	}
	stmt, err := planQueries(sheetQueries)
	if err != nil {
		return nil, nil, err
	}

	return e.runPage(req.Version, stmt, 0, limit)
}

func (e *Engine) searchCursor(id uuid.UUID, limit int) ([]Result, *uuid.UUID, error) {
	if e.cursors == nil {
		return nil, nil, ErrCursorNotFound
	}
	cursor, ok := e.cursors.Get(id)
	if !ok {
		return nil, nil, ErrCursorNotFound
	}
	return e.runPage(cursor.Version, statement{SQL: cursor.SQL, Args: cursor.Args}, cursor.Offset, limit)
}

// runPage executes stmt against version's database, skipping offset rows
// and returning up to limit+1 (the extra row only used to detect whether a
// further page exists, then discarded).
func (e *Engine) runPage(key version.Key, stmt statement, offset, limit int) ([]Result, *uuid.UUID, error) {
	db, err := e.db(key)
	if err != nil {
		return nil, nil, err
	}

	paged := fmt.Sprintf("%s LIMIT ? OFFSET ?", stmt.SQL)
	args := append(append([]any{}, stmt.Args...), limit+1, offset)

	rows, err := db.Query(paged, args...)
	if err != nil {
		return nil, nil, fmt.Errorf("search: run query: %w", err)
	}
	defer rows.Close()

	var results []Result
	for rows.Next() {
		var sheet string
		var rowID int64
		var subrowID int64
		var score float64
		if err := rows.Scan(&sheet, &rowID, &subrowID, &score); err != nil {
			return nil, nil, fmt.Errorf("search: scan result: %w", err)
		}
		results = append(results, Result{
			Sheet:    sheet,
			RowID:    uint32(rowID),
			SubrowID: uint16(subrowID),
			Score:    float32(score),
		})
	}
	if err := rows.Err(); err != nil {
		return nil, nil, fmt.Errorf("search: iterate results: %w", err)
	}

	var next *uuid.UUID
	if len(results) > limit {
		results = results[:limit]
		if e.cursors != nil {
			id := e.cursors.Put(Cursor{Version: key, SQL: stmt.SQL, Args: stmt.Args, Offset: offset + limit})
			next = &id
		}
	}

	return results, next, nil
}

// BuildSheetQueries normalizes query against every candidate sheet,
// dropping sheets the query doesn't resolve against (an unsupported field
// or language on one sheet out of many candidates isn't a hard error --
// the same pruning normalizeRelation already does one level down for
// cross-sheet reference targets).
func BuildSheetQueries(normalizer *query.Normalizer, node query.Node, sheets []string, language archive.Language) (map[string]query.PostNode, error) {
	out := make(map[string]query.PostNode, len(sheets))
	for _, sheet := range sheets {
		post, err := normalizer.Normalize(node, sheet, language)
		if err != nil {
			if errors.Is(err, query.ErrQuerySchemaMismatch) {
				continue
			}
			return nil, err
		}
		out[sheet] = post
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("%w: query does not resolve against any of %d candidate sheets", ErrMalformedQuery, len(sheets))
	}
	return out, nil
}
