package search

import (
	"testing"

	"github.com/google/uuid"

	"github.com/agentic-research/mache/internal/query"
	"github.com/agentic-research/mache/internal/version"
)

func TestEngineSearchFreshAndCursor(t *testing.T) {
	excel, sch := buildItemFixture(t)
	normalizer := query.NewNormalizer(excel, sch)

	engine, err := NewEngine(NewCache(CursorConfig{}, 0))
	if err != nil {
		t.Fatalf("NewEngine: %v", err)
	}
	key := version.Key{7}
	if err := engine.Index(key, excel, []string{"Item"}); err != nil {
		t.Fatalf("Index: %v", err)
	}

	node := mustParse(t, `Name~"t"`)
	sheets, err := BuildSheetQueries(normalizer, node, []string{"Item"}, "en")
	if err != nil {
		t.Fatalf("BuildSheetQueries: %v", err)
	}

	results, next, err := engine.Search(Request{Version: key, Sheets: sheets}, 1)
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(results) != 1 {
		t.Fatalf("expected 1 result on the first page, got %d", len(results))
	}
	if next == nil {
		t.Fatalf("expected a continuation cursor since both rows match \"t\"")
	}

	page2, next2, err := engine.Search(Request{Cursor: next}, 1)
	if err != nil {
		t.Fatalf("Search(cursor): %v", err)
	}
	if len(page2) != 1 {
		t.Fatalf("expected 1 result on the second page, got %d", len(page2))
	}
	if next2 != nil {
		t.Fatalf("expected no further cursor after exhausting both matches")
	}

	seen := map[uint32]bool{results[0].RowID: true, page2[0].RowID: true}
	if !seen[1] || !seen[2] {
		t.Fatalf("expected both rows 1 and 2 across the two pages, got %v", seen)
	}
}

func TestEngineSearchNoSheets(t *testing.T) {
	engine, err := NewEngine(NewCache(CursorConfig{}, 0))
	if err != nil {
		t.Fatalf("NewEngine: %v", err)
	}
	_, _, err = engine.Search(Request{Version: version.Key{1}, Sheets: nil}, 10)
	if err == nil {
		t.Fatalf("expected an error for a request with no sheets")
	}
}

func TestEngineSearchUnknownCursor(t *testing.T) {
	engine, err := NewEngine(NewCache(CursorConfig{}, 0))
	if err != nil {
		t.Fatalf("NewEngine: %v", err)
	}
	var id [16]byte
	_, _, err = engine.Search(Request{Cursor: (*uuid.UUID)(&id)}, 10)
	if err == nil {
		t.Fatalf("expected an error for an unknown cursor")
	}
}
