package api1

import (
	"encoding/json"
	"net/http"
	"strconv"
	"strings"

	"github.com/google/uuid"

	"github.com/agentic-research/mache/internal/archive"
	"github.com/agentic-research/mache/internal/query"
	"github.com/agentic-research/mache/internal/read"
	"github.com/agentic-research/mache/internal/search"
)

type searchResultItem struct {
	Score    float32         `json:"score"`
	Sheet    string          `json:"sheet"`
	RowID    uint32          `json:"row_id"`
	SubrowID *uint16         `json:"subrow_id,omitempty"`
	Fields   json.RawMessage `json:"fields"`
}

type searchResponse struct {
	Next    *uuid.UUID         `json:"next,omitempty"`
	Schema  string             `json:"schema"`
	Version string             `json:"version"`
	Results []searchResultItem `json:"results"`
}

func splitCSV(raw string) []string {
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}

// search handles GET /api/1/search. A cursor, when present, takes priority
// over query/sheets and resumes a previously paused search.
func (h *handlers) search(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	key, err := h.resolveVersion(r)
	if err != nil {
		writeError(w, err)
		return
	}
	_, excel, err := h.deps.Archives.VersionData(key)
	if err != nil {
		writeError(w, err)
		return
	}
	canon, sch, err := h.resolveSchema(r, key)
	if err != nil {
		writeError(w, err)
		return
	}
	language := h.resolveLanguage(r)

	fields, err := resolveFilter(q.Get("fields"), h.deps.Config.Search.Fields, canon.Source, "fields")
	if err != nil {
		writeError(w, err)
		return
	}

	limit := h.deps.Config.Search.DefaultLimit
	if raw := q.Get("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed < 0 {
			writeError(w, invalidf("invalid limit %q", raw))
			return
		}
		limit = parsed
	}
	if h.deps.Config.Search.MaxLimit > 0 && limit > h.deps.Config.Search.MaxLimit {
		limit = h.deps.Config.Search.MaxLimit
	}

	var req search.Request
	if raw := q.Get("cursor"); raw != "" {
		id, err := uuid.Parse(raw)
		if err != nil {
			writeError(w, invalidf("invalid cursor %q", raw))
			return
		}
		req.Cursor = &id
		req.Version = key
	} else {
		queryRaw := q.Get("query")
		sheetsRaw := q.Get("sheets")
		if queryRaw == "" || sheetsRaw == "" {
			writeError(w, invalidf("query and sheets are both required when no cursor is given"))
			return
		}
		node, err := query.Parse(queryRaw)
		if err != nil {
			writeError(w, invalidf("invalid query: %v", err))
			return
		}
		sheetNames := splitCSV(sheetsRaw)
		normalizer := query.NewNormalizer(excel, sch)
		sheetQueries, err := search.BuildSheetQueries(normalizer, node, sheetNames, language)
		if err != nil {
			writeError(w, err)
			return
		}
		req = search.Request{Version: key, Sheets: sheetQueries}
	}

	results, next, err := h.deps.Search.Search(req, limit)
	if err != nil {
		writeError(w, err)
		return
	}

	items := make([]searchResultItem, 0, len(results))
	for _, res := range results {
		sheetHandle, err := excel.Sheet(res.Sheet)
		if err != nil {
			writeError(w, err)
			return
		}
		val, _, err := read.Read(excel, sch, res.Sheet, res.RowID, res.SubrowID, language, fields,
			h.deps.Config.Read.DepthBudget, h.deps.Config.Read.RowCeiling)
		if err != nil {
			writeError(w, err)
			return
		}
		data, err := MarshalValue(val)
		if err != nil {
			writeError(w, err)
			return
		}
		item := searchResultItem{Score: res.Score, Sheet: res.Sheet, RowID: res.RowID, Fields: data}
		if sheetHandle.Kind() == archive.KindSubrows {
			sub := res.SubrowID
			item.SubrowID = &sub
		}
		items = append(items, item)
	}

	writeJSON(w, http.StatusOK, searchResponse{Next: next, Schema: canon.String(), Version: key.String(), Results: items})
}
