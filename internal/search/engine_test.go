package search

import (
	"testing"

	"github.com/agentic-research/mache/internal/version"
)

func TestEngineIndexCreatesQueryableTable(t *testing.T) {
	excel, _ := buildItemFixture(t)

	engine, err := NewEngine(NewCache(CursorConfig{}, 0))
	if err != nil {
		t.Fatalf("NewEngine: %v", err)
	}

	key := version.Key{1, 2, 3, 4, 5, 6, 7, 8}
	if err := engine.Index(key, excel, []string{"Item"}); err != nil {
		t.Fatalf("Index: %v", err)
	}

	db, err := engine.db(key)
	if err != nil {
		t.Fatalf("db: %v", err)
	}

	var count int
	if err := db.QueryRow(`SELECT count(*) FROM "sheet-Item@en"`).Scan(&count); err != nil {
		t.Fatalf("query indexed table: %v", err)
	}
	if count != 2 {
		t.Fatalf("expected 2 rows surfaced live from the archive, got %d", count)
	}

	var name string
	if err := db.QueryRow(`SELECT "4" FROM "sheet-Item@en" WHERE row_id = 1`).Scan(&name); err != nil {
		t.Fatalf("query Name column: %v", err)
	}
	if name != "Potion" {
		t.Fatalf("expected Name=Potion for row 1, got %q", name)
	}
}

func TestEngineIndexIsIdempotent(t *testing.T) {
	excel, _ := buildItemFixture(t)

	engine, err := NewEngine(NewCache(CursorConfig{}, 0))
	if err != nil {
		t.Fatalf("NewEngine: %v", err)
	}
	key := version.Key{9}

	if err := engine.Index(key, excel, []string{"Item"}); err != nil {
		t.Fatalf("Index: %v", err)
	}
	if err := engine.Index(key, excel, []string{"Item"}); err != nil {
		t.Fatalf("re-Index: %v", err)
	}

	db, err := engine.db(key)
	if err != nil {
		t.Fatalf("db: %v", err)
	}
	var count int
	if err := db.QueryRow(`SELECT count(*) FROM "sheet-Item@en"`).Scan(&count); err != nil {
		t.Fatalf("query indexed table: %v", err)
	}
	if count != 2 {
		t.Fatalf("expected re-indexing to leave row count at 2, got %d", count)
	}
}

func TestEngineDBUnknownVersion(t *testing.T) {
	engine, err := NewEngine(NewCache(CursorConfig{}, 0))
	if err != nil {
		t.Fatalf("NewEngine: %v", err)
	}
	if _, err := engine.db(version.Key{99}); err == nil {
		t.Fatalf("expected an error for an unindexed version")
	}
}

func TestEngineRowIDPointLookup(t *testing.T) {
	excel, _ := buildItemFixture(t)

	engine, err := NewEngine(NewCache(CursorConfig{}, 0))
	if err != nil {
		t.Fatalf("NewEngine: %v", err)
	}
	key := version.Key{3}
	if err := engine.Index(key, excel, []string{"Item"}); err != nil {
		t.Fatalf("Index: %v", err)
	}

	db, err := engine.db(key)
	if err != nil {
		t.Fatalf("db: %v", err)
	}

	var name string
	if err := db.QueryRow(`SELECT "4" FROM "sheet-Item@en" WHERE row_id = ?`, 2).Scan(&name); err != nil {
		t.Fatalf("point lookup by row_id: %v", err)
	}
	if name != "Ether" {
		t.Fatalf("expected Name=Ether for row 2, got %q", name)
	}
}
