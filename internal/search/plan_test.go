package search

import (
	"strings"
	"testing"

	"github.com/agentic-research/mache/internal/query"
)

func TestPlanSheetQueryMatch(t *testing.T) {
	excel, sch := buildItemFixture(t)
	n := query.NewNormalizer(excel, sch)

	node := mustParse(t, `Name~"Potion"`)
	post, err := n.Normalize(node, "Item", "en")
	if err != nil {
		t.Fatalf("Normalize: %v", err)
	}

	stmt, err := planSheetQuery("Item", post)
	if err != nil {
		t.Fatalf("planSheetQuery: %v", err)
	}

	if !strings.Contains(stmt.SQL, `"sheet-Item@en"`) {
		t.Fatalf("expected table reference in SQL, got %s", stmt.SQL)
	}
	if !strings.Contains(stmt.SQL, "LIKE ? ESCAPE") {
		t.Fatalf("expected LIKE condition, got %s", stmt.SQL)
	}
	if !strings.Contains(stmt.SQL, "row_id") || !strings.Contains(stmt.SQL, "subrow_id") {
		t.Fatalf("expected row_id/subrow_id projection, got %s", stmt.SQL)
	}

	// sheet name literal, then the LIKE pattern and the match length for the
	// score's CASE WHEN, then the LIKE pattern again for the WHERE filter.
	if len(stmt.Args) != 4 {
		t.Fatalf("expected 4 args (sheet, pattern, match length, pattern), got %+v", stmt.Args)
	}
	if stmt.Args[0] != "Item" {
		t.Fatalf("expected first arg to be sheet name, got %v", stmt.Args[0])
	}
	if stmt.Args[1] != "%Potion%" {
		t.Fatalf("expected escaped LIKE pattern, got %v", stmt.Args[1])
	}
	if stmt.Args[2] != len("Potion") {
		t.Fatalf("expected match length arg, got %v", stmt.Args[2])
	}
}

func TestPlanSheetQueryEq(t *testing.T) {
	excel, sch := buildItemFixture(t)
	n := query.NewNormalizer(excel, sch)

	node := mustParse(t, `Id=1`)
	post, err := n.Normalize(node, "Item", "en")
	if err != nil {
		t.Fatalf("Normalize: %v", err)
	}

	stmt, err := planSheetQuery("Item", post)
	if err != nil {
		t.Fatalf("planSheetQuery: %v", err)
	}
	if !strings.Contains(stmt.SQL, "= ?") {
		t.Fatalf("expected equality condition, got %s", stmt.SQL)
	}
}

func TestPlanQueriesUnionsAndOrdersByScore(t *testing.T) {
	excel, sch := buildItemFixture(t)
	n := query.NewNormalizer(excel, sch)

	node := mustParse(t, `Name~"Potion"`)
	post, err := n.Normalize(node, "Item", "en")
	if err != nil {
		t.Fatalf("Normalize: %v", err)
	}

	stmt, err := planQueries([]sheetQuery{
		{Sheet: "Item", Node: post},
		{Sheet: "Item", Node: post},
	})
	if err != nil {
		t.Fatalf("planQueries: %v", err)
	}
	if strings.Count(stmt.SQL, "UNION ALL") != 1 {
		t.Fatalf("expected exactly one UNION ALL joining two selects, got %s", stmt.SQL)
	}
	if !strings.HasSuffix(strings.TrimSpace(stmt.SQL), "ORDER BY score DESC") {
		t.Fatalf("expected trailing ORDER BY score DESC, got %s", stmt.SQL)
	}
	if len(stmt.Args) != 8 {
		t.Fatalf("expected args from both branches concatenated (4 each), got %d", len(stmt.Args))
	}
}

func TestPlanQueriesRejectsEmpty(t *testing.T) {
	if _, err := planQueries(nil); err == nil {
		t.Fatalf("expected an error for zero sheet queries")
	}
}

func TestResolveGroupMustNotExcludesWithoutScoring(t *testing.T) {
	excel, sch := buildItemFixture(t)
	n := query.NewNormalizer(excel, sch)

	node := mustParse(t, `+Name~"Potion" -Id=2`)
	post, err := n.Normalize(node, "Item", "en")
	if err != nil {
		t.Fatalf("Normalize: %v", err)
	}

	stmt, err := planSheetQuery("Item", post)
	if err != nil {
		t.Fatalf("planSheetQuery: %v", err)
	}
	if !strings.Contains(stmt.SQL, "NOT (") {
		t.Fatalf("expected a NOT-wrapped MustNot condition, got %s", stmt.SQL)
	}
	if !strings.Contains(stmt.SQL, "CASE WHEN") {
		t.Fatalf("expected Must-gated score CASE WHEN, got %s", stmt.SQL)
	}
}
