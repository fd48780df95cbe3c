package search

import (
	"fmt"
	"strings"

	"github.com/agentic-research/mache/internal/archive"
	"github.com/agentic-research/mache/internal/query"
)

// statement is a planned, parameterized SQL query ready to run through
// database/sql: SQL uses "?" placeholders, Args holds the bound values in
// the same left-to-right order they appear in SQL.
type statement struct {
	SQL  string
	Args []any
}

// planQueries unions one SELECT per (sheet, post-tree) pair into a single
// statement ordered by descending relevance score, mirroring
// resolve_queries' fold over resolve_query + UNION ALL + ORDER BY score.
func planQueries(sheetQueries []sheetQuery) (statement, error) {
	if len(sheetQueries) == 0 {
		return statement{}, fmt.Errorf("%w: no sheets to search", ErrNoSheets)
	}

	var b strings.Builder
	var args []any
	for i, sq := range sheetQueries {
		if i > 0 {
			b.WriteString(" UNION ALL ")
		}
		sel, err := planSheetQuery(sq.Sheet, sq.Node)
		if err != nil {
			return statement{}, err
		}
		b.WriteString(sel.SQL)
		args = append(args, sel.Args...)
	}

	outer := fmt.Sprintf("SELECT * FROM (%s) ORDER BY score DESC", b.String())
	return statement{SQL: outer, Args: args}, nil
}

// sheetQuery pairs a candidate sheet with the post-tree normalized against
// it.
type sheetQuery struct {
	Sheet string
	Node  query.PostNode
}

// planSheetQuery builds one sheet's SELECT, the Go shape of resolve_query:
// join one table-alias per language the post-tree touches, left-join every
// relation target (recursively), and select (sheet, row_id, subrow_id,
// score).
func planSheetQuery(sheetName string, node query.PostNode) (statement, error) {
	p := &planner{}
	res, err := p.resolveNode(node, "t")
	if err != nil {
		return statement{}, err
	}
	if len(res.Languages) == 0 {
		return statement{}, fmt.Errorf("%w: query for sheet %s touches no columns", ErrMalformedQuery, sheetName)
	}

	var b strings.Builder
	var args []any

	langRefs := languageReferences(res.Languages, "t", sheetName)
	base := langRefs[0]
	fmt.Fprintf(&b, "SELECT %s AS sheet, %s.%s AS row_id, %s.%s AS subrow_id, CAST(%s AS REAL) AS score FROM %s",
		placeholder(), base.alias, quoteIdent(columnRowID), base.alias, quoteIdent(columnSubrowID), res.Score.SQL, base.tableRef())
	args = append(args, sheetName)
	args = append(args, res.Score.Args...)

	for _, ref := range langRefs[1:] {
		fmt.Fprintf(&b, " INNER JOIN %s ON %s.%s = %s.%s",
			ref.tableRef(), ref.alias, quoteIdent(columnRowID), base.alias, quoteIdent(columnRowID))
	}

	for _, rel := range res.Relations {
		relRefs := languageReferences(rel.Languages, rel.Alias, rel.Sheet)
		if len(relRefs) == 0 {
			return statement{}, fmt.Errorf("%w: relation to %s touches no columns", ErrMalformedQuery, rel.Sheet)
		}
		relBase := relRefs[0]
		fmt.Fprintf(&b, " LEFT JOIN %s ON %s = %s.%s",
			relBase.tableRef(), rel.ForeignKey, relBase.alias, quoteIdent(columnRowID))
		for _, ref := range relRefs[1:] {
			fmt.Fprintf(&b, " INNER JOIN %s ON %s.%s = %s.%s",
				ref.tableRef(), ref.alias, quoteIdent(columnRowID), relBase.alias, quoteIdent(columnRowID))
		}
	}

	b.WriteString(" WHERE ")
	if res.Condition.SQL == "" {
		b.WriteString("1")
	} else {
		b.WriteString(res.Condition.SQL)
		args = append(args, res.Condition.Args...)
	}

	return statement{SQL: b.String(), Args: args}, nil
}

func placeholder() string { return "?" }

type langRef struct {
	alias string
	table string
}

func (r langRef) tableRef() string {
	return fmt.Sprintf("%s AS %s", quoteIdent(r.table), quoteIdent(r.alias))
}

func languageReferences(languages map[archive.Language]bool, aliasBase, sheet string) []langRef {
	out := make([]langRef, 0, len(languages))
	for lang := range languages {
		out = append(out, langRef{
			alias: tableAlias(aliasBase, lang),
			table: tableName(sheet, lang),
		})
	}
	// Deterministic ordering: callers (tests, logs) should see stable SQL
	// text across runs even though map iteration order is not.
	for i := 1; i < len(out); i++ {
		for j := i; j > 0 && out[j].alias < out[j-1].alias; j-- {
			out[j], out[j-1] = out[j-1], out[j]
		}
	}
	return out
}

func tableAlias(aliasBase string, language archive.Language) string {
	return fmt.Sprintf("%s@%s", aliasBase, language)
}

// cond is a boolean SQL fragment plus its bound arguments, in emission
// order.
type cond struct {
	SQL  string
	Args []any
}

func (c cond) empty() bool { return c.SQL == "" }

func andConds(parts []cond) cond {
	var nonEmpty []cond
	for _, p := range parts {
		if !p.empty() {
			nonEmpty = append(nonEmpty, p)
		}
	}
	if len(nonEmpty) == 0 {
		return cond{}
	}
	if len(nonEmpty) == 1 {
		return nonEmpty[0]
	}
	var sqlParts []string
	var args []any
	for _, p := range nonEmpty {
		sqlParts = append(sqlParts, "("+p.SQL+")")
		args = append(args, p.Args...)
	}
	return cond{SQL: strings.Join(sqlParts, " AND "), Args: args}
}

func orConds(parts []cond) cond {
	var nonEmpty []cond
	for _, p := range parts {
		if !p.empty() {
			nonEmpty = append(nonEmpty, p)
		}
	}
	if len(nonEmpty) == 0 {
		return cond{}
	}
	if len(nonEmpty) == 1 {
		return nonEmpty[0]
	}
	var sqlParts []string
	var args []any
	for _, p := range nonEmpty {
		sqlParts = append(sqlParts, "("+p.SQL+")")
		args = append(args, p.Args...)
	}
	return cond{SQL: strings.Join(sqlParts, " OR "), Args: args}
}

func notCond(c cond) cond {
	if c.empty() {
		return cond{}
	}
	return cond{SQL: "NOT (" + c.SQL + ")", Args: c.Args}
}

// score is a numeric SQL expression plus its bound arguments.
type score struct {
	SQL  string
	Args []any
}

func zeroScore() score { return score{SQL: "0"} }

func addScores(parts []score) score {
	if len(parts) == 0 {
		return zeroScore()
	}
	var sqlParts []string
	var args []any
	for _, p := range parts {
		sqlParts = append(sqlParts, "("+p.SQL+")")
		args = append(args, p.Args...)
	}
	return score{SQL: strings.Join(sqlParts, " + "), Args: args}
}

func caseWhenScore(c cond, s score) score {
	var args []any
	args = append(args, c.Args...)
	args = append(args, s.Args...)
	return score{SQL: fmt.Sprintf("CASE WHEN %s THEN %s ELSE 0 END", c.SQL, s.SQL), Args: args}
}

// relation is one cross-sheet join a leaf's PostRelation introduced.
type relation struct {
	Sheet      string
	Alias      string
	ForeignKey string
	Languages  map[archive.Language]bool
}

// resolveResult is the Go shape of the original's ResolveResult: the
// condition and score a subtree contributes, the languages it touched (so
// the caller knows which per-language tables to join), and the relations it
// introduced (to be left-joined by the caller).
type resolveResult struct {
	Condition cond
	Score     score
	Languages map[archive.Language]bool
	Relations []relation
}

// planner threads a monotonically increasing alias counter through
// resolveNode/resolveGroup/resolveLeaf, replacing the original's
// string-formatted "alias-0-1"-style next_alias threading with a plain
// counter (Go has no equivalent pain-free string-building story for this
// that the teacher's own code reaches for, so a counter is the more
// idiomatic choice here).
type planner struct {
	nextAlias int
}

func (p *planner) freshAlias() string {
	p.nextAlias++
	return fmt.Sprintf("rel%d", p.nextAlias)
}

func (p *planner) resolveNode(node query.PostNode, alias string) (resolveResult, error) {
	if node.IsGroup {
		return p.resolveGroup(*node.Group, alias)
	}
	return p.resolveLeaf(*node.Leaf, alias)
}

func (p *planner) resolveGroup(group query.PostGroup, alias string) (resolveResult, error) {
	var mustConds, mustNotConds []cond
	var shouldConds []cond
	var scores []score
	languages := map[archive.Language]bool{}
	var relations []relation

	for _, clause := range group.Clauses {
		inner, err := p.resolveNode(clause.Node, alias)
		if err != nil {
			return resolveResult{}, err
		}
		switch clause.Occur {
		case query.Must:
			mustConds = append(mustConds, inner.Condition)
			scores = append(scores, inner.Score)
		case query.Should:
			shouldConds = append(shouldConds, inner.Condition)
			scores = append(scores, caseWhenScore(inner.Condition, inner.Score))
		case query.MustNot:
			mustNotConds = append(mustNotConds, inner.Condition)
		}
		for l := range inner.Languages {
			languages[l] = true
		}
		relations = append(relations, inner.Relations...)
	}

	must := andConds(mustConds)
	should := orConds(shouldConds)

	total := addScores(scores)
	if !must.empty() {
		total = caseWhenScore(must, total)
	}

	// A Should contributes to scoring only; it only narrows the result set
	// when there is no Must to do that narrowing already (ported from
	// resolve_group's NOTE about Shoulds never affecting filtering once a
	// Must is present).
	filter := must
	if !should.empty() && must.empty() {
		filter = should
	}
	if len(mustNotConds) > 0 {
		filter = andConds([]cond{filter, notCond(orConds(mustNotConds))})
	}

	return resolveResult{
		Condition: filter,
		Score:     total,
		Languages: languages,
		Relations: relations,
	}, nil
}

func (p *planner) resolveLeaf(leaf query.PostLeaf, alias string) (resolveResult, error) {
	columnAlias := tableAlias(alias, leaf.Language)
	columnRef := fmt.Sprintf("%s.%s", quoteIdent(columnAlias), quoteIdent(columnName(leaf.Column)))
	languages := map[archive.Language]bool{leaf.Language: true}

	switch leaf.Operation.Kind {
	case query.OpRelation:
		return p.resolveRelationLeaf(leaf, columnRef)

	case query.OpMatch:
		pattern := "%" + escapeLike(leaf.Operation.Match) + "%"
		c := cond{SQL: fmt.Sprintf("%s LIKE ? ESCAPE '\\'", columnRef), Args: []any{pattern}}
		s := score{
			SQL:  fmt.Sprintf("CAST(? AS REAL) / CAST(length(%s) AS REAL)", columnRef),
			Args: []any{len(leaf.Operation.Match)},
		}
		return resolveResult{Condition: c, Score: s, Languages: languages}, nil

	case query.OpEq, query.OpGt, query.OpGte, query.OpLt, query.OpLte:
		op, arg, err := comparisonOperand(leaf.Operation)
		if err != nil {
			return resolveResult{}, err
		}
		c := cond{SQL: fmt.Sprintf("%s %s ?", columnRef, op), Args: []any{arg}}
		return resolveResult{Condition: c, Score: score{SQL: "1"}, Languages: languages}, nil

	default:
		return resolveResult{}, fmt.Errorf("%w: unrecognized operation", ErrMalformedQuery)
	}
}

func (p *planner) resolveRelationLeaf(leaf query.PostLeaf, columnRef string) (resolveResult, error) {
	if leaf.Operation.Relation == nil || leaf.Operation.Relation.Query == nil {
		return resolveResult{}, fmt.Errorf("%w: relation operation missing its sub-query", ErrMalformedQuery)
	}

	targetAlias := p.freshAlias()
	inner, err := p.resolveNode(*leaf.Operation.Relation.Query, targetAlias)
	if err != nil {
		return resolveResult{}, err
	}

	// PostRelation.Target.Condition is always nil here: normalizeRelation
	// prunes condition-qualified reference targets before a post-tree is
	// ever built, so there is nothing left for this planner to translate.

	rel := relation{
		Sheet:      leaf.Operation.Relation.Target.Sheet,
		Alias:      targetAlias,
		ForeignKey: columnRef,
		Languages:  inner.Languages,
	}

	relations := append([]relation{rel}, inner.Relations...)

	return resolveResult{
		Condition: inner.Condition,
		Score:     inner.Score,
		Languages: map[archive.Language]bool{leaf.Language: true},
		Relations: relations,
	}, nil
}

func comparisonOperand(op query.PostOperation) (string, any, error) {
	var sqlOp string
	switch op.Kind {
	case query.OpEq:
		sqlOp = "="
	case query.OpGt:
		sqlOp = ">"
	case query.OpGte:
		sqlOp = ">="
	case query.OpLt:
		sqlOp = "<"
	case query.OpLte:
		sqlOp = "<="
	}

	if op.Kind == query.OpEq {
		return sqlOp, queryValueArg(op.Value), nil
	}
	return sqlOp, queryNumberArg(op.Number), nil
}

func queryValueArg(v query.Value) any {
	switch v.Kind {
	case query.ValueBoolean:
		return v.Boolean
	case query.ValueString:
		return v.String
	default:
		return queryNumberArg(v.Number)
	}
}

func queryNumberArg(n query.Number) any {
	switch n.Kind {
	case query.NumberI64:
		return n.I64
	case query.NumberU64:
		return n.U64
	default:
		return n.F64
	}
}

// escapeLike escapes sqlite LIKE metacharacters so a Match operation's
// search string is taken literally save for the wildcard wrapper this
// planner adds itself.
func escapeLike(s string) string {
	var b strings.Builder
	for _, r := range s {
		switch r {
		case '%', '_', '\\':
			b.WriteRune('\\')
		}
		b.WriteRune(r)
	}
	return b.String()
}
