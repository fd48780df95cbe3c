package api1

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sort"
	"strconv"
	"strings"

	"github.com/agentic-research/mache/internal/archive"
	"github.com/agentic-research/mache/internal/read"
)

type sheetEntry struct {
	Name string `json:"name"`
}

type sheetsResponse struct {
	Sheets []sheetEntry `json:"sheets"`
}

// listSheets handles GET /api/1/sheet, listing every sheet name in the
// resolved version's excel data.
func (h *handlers) listSheets(w http.ResponseWriter, r *http.Request) {
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

	names := append([]string(nil), excel.List()...)
	sort.Strings(names)
	out := make([]sheetEntry, 0, len(names))
	for _, n := range names {
		out = append(out, sheetEntry{Name: n})
	}
	writeJSON(w, http.StatusOK, sheetsResponse{Sheets: out})
}

// rowSpecifier is a parsed "n" or "n:m" row token. HasSub distinguishes an
// explicit subrow 0 from a specifier that never named one, the same
// distinction the sheet's Kind draws on when deciding whether to surface
// subrow_id in a response.
type rowSpecifier struct {
	RowID    uint32
	SubrowID uint16
	HasSub   bool
}

func parseRowSpecifier(s string) (rowSpecifier, error) {
	idStr, subStr, hasSub := strings.Cut(s, ":")
	rowID, err := strconv.ParseUint(idStr, 10, 32)
	if err != nil {
		return rowSpecifier{}, fmt.Errorf("invalid row id %q", idStr)
	}
	spec := rowSpecifier{RowID: uint32(rowID)}
	if hasSub {
		sub, err := strconv.ParseUint(subStr, 10, 16)
		if err != nil {
			return rowSpecifier{}, fmt.Errorf("invalid subrow id %q", subStr)
		}
		spec.SubrowID = uint16(sub)
		spec.HasSub = true
	}
	return spec, nil
}

func parseRowList(s string) ([]rowSpecifier, error) {
	tokens := strings.Split(s, ",")
	out := make([]rowSpecifier, 0, len(tokens))
	for _, tok := range tokens {
		spec, err := parseRowSpecifier(tok)
		if err != nil {
			return nil, err
		}
		out = append(out, spec)
	}
	return out, nil
}

func parseAfter(s string) (*rowSpecifier, error) {
	if s == "" {
		return nil, nil
	}
	spec, err := parseRowSpecifier(s)
	if err != nil {
		return nil, err
	}
	return &spec, nil
}

func isStrictlyAfter(rowID uint32, subrowID uint16, after rowSpecifier) bool {
	if rowID != after.RowID {
		return rowID > after.RowID
	}
	return subrowID > after.SubrowID
}

// collectRowsAfter walks sheet in row/subrow order, skipping up to and
// including after (nil meaning "start from the beginning"), and returns up
// to limit specifiers -- the default page when a request omits rows.
func collectRowsAfter(sheet *archive.Sheet, language archive.Language, after *rowSpecifier, limit int) ([]rowSpecifier, error) {
	var out []rowSpecifier
	subrowed := sheet.Kind() == archive.KindSubrows
	err := sheet.Iter(language, func(row archive.Row) bool {
		if after != nil && !isStrictlyAfter(row.RowID, row.SubrowID, *after) {
			return true
		}
		out = append(out, rowSpecifier{RowID: row.RowID, SubrowID: row.SubrowID, HasSub: subrowed})
		return limit <= 0 || len(out) < limit
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

type rowItem struct {
	RowID    uint32          `json:"row_id"`
	SubrowID *uint16         `json:"subrow_id,omitempty"`
	Fields   json.RawMessage `json:"fields"`
}

type sheetRowsResponse struct {
	Schema string    `json:"schema"`
	Rows   []rowItem `json:"rows"`
}

// sheetRows handles GET /api/1/sheet/{sheet}, reading either an explicit
// "rows" list or a default page walked from "after" for up to "limit" rows.
func (h *handlers) sheetRows(w http.ResponseWriter, r *http.Request) {
	sheetName := r.PathValue("sheet")
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

	fields, err := resolveFilter(q.Get("fields"), h.deps.Config.Sheet.Fields, canon.Source, "fields")
	if err != nil {
		writeError(w, err)
		return
	}

	limit := h.deps.Config.Sheet.DefaultLimit
	if raw := q.Get("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed < 0 {
			writeError(w, invalidf("invalid limit %q", raw))
			return
		}
		limit = parsed
	}
	if h.deps.Config.Sheet.MaxLimit > 0 && limit > h.deps.Config.Sheet.MaxLimit {
		limit = h.deps.Config.Sheet.MaxLimit
	}

	sheet, err := excel.Sheet(sheetName)
	if err != nil {
		writeError(w, err)
		return
	}

	var specs []rowSpecifier
	if raw := q.Get("rows"); raw != "" {
		specs, err = parseRowList(raw)
		if err != nil {
			writeError(w, invalidf("%v", err))
			return
		}
		if limit > 0 && len(specs) > limit {
			specs = specs[:limit]
		}
	} else {
		after, err := parseAfter(q.Get("after"))
		if err != nil {
			writeError(w, invalidf("%v", err))
			return
		}
		specs, err = collectRowsAfter(sheet, language, after, limit)
		if err != nil {
			writeError(w, err)
			return
		}
	}

	rows := make([]rowItem, 0, len(specs))
	for _, spec := range specs {
		val, _, err := read.Read(excel, sch, sheetName, spec.RowID, spec.SubrowID, language, fields,
			h.deps.Config.Read.DepthBudget, h.deps.Config.Read.RowCeiling)
		if err != nil {
			if errors.Is(err, read.ErrNotFound) {
				continue
			}
			writeError(w, err)
			return
		}
		data, err := MarshalValue(val)
		if err != nil {
			writeError(w, err)
			return
		}
		item := rowItem{RowID: spec.RowID, Fields: data}
		if sheet.Kind() == archive.KindSubrows {
			sub := spec.SubrowID
			item.SubrowID = &sub
		}
		rows = append(rows, item)
	}

	writeJSON(w, http.StatusOK, sheetRowsResponse{Schema: canon.String(), Rows: rows})
}

type rowResponse struct {
	Schema string `json:"schema"`
	rowItem
}

// sheetRow handles GET /api/1/sheet/{sheet}/{row}, reading a single
// explicitly-addressed row.
func (h *handlers) sheetRow(w http.ResponseWriter, r *http.Request) {
	sheetName := r.PathValue("sheet")
	spec, err := parseRowSpecifier(r.PathValue("row"))
	if err != nil {
		writeError(w, invalidf("invalid row specifier: %v", err))
		return
	}
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

	fields, err := resolveFilter(q.Get("fields"), h.deps.Config.Sheet.Fields, canon.Source, "fields")
	if err != nil {
		writeError(w, err)
		return
	}

	sheet, err := excel.Sheet(sheetName)
	if err != nil {
		writeError(w, err)
		return
	}

	val, _, err := read.Read(excel, sch, sheetName, spec.RowID, spec.SubrowID, language, fields,
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

	item := rowItem{RowID: spec.RowID, Fields: data}
	if sheet.Kind() == archive.KindSubrows {
		sub := spec.SubrowID
		item.SubrowID = &sub
	}
	writeJSON(w, http.StatusOK, rowResponse{Schema: canon.String(), rowItem: item})
}
