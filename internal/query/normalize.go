package query

import (
	"errors"
	"fmt"

	"github.com/agentic-research/mache/internal/archive"
	"github.com/agentic-research/mache/internal/schema"
)

// Normalizer binds a pre-tree query against a sheet's schema and live game
// data, producing a post-tree of leaves over concrete columns.
type Normalizer struct {
	excel  *archive.Excel
	schema schema.Schema
}

func NewNormalizer(excel *archive.Excel, sch schema.Schema) *Normalizer {
	return &Normalizer{excel: excel, schema: sch}
}

type normalizeContext struct {
	languages []archive.Language
	node      schema.Node
	columns   []archive.ColumnDef
	language  archive.Language

	ambientLanguage archive.Language
}

// Normalize binds query against sheetName's schema and column data,
// resolving field specifiers and languages, and narrowing scalar
// comparisons down to concrete columns.
func (n *Normalizer) Normalize(query Node, sheetName string, ambientLanguage archive.Language) (PostNode, error) {
	sheetSchema, ok := n.schema.Sheet(sheetName)
	if !ok {
		return PostNode{}, schemaMismatch(sheetName, "not found")
	}

	sheet, err := n.excel.Sheet(sheetName)
	if err != nil {
		return PostNode{}, gameMismatch(sheetName, "not found")
	}

	languages := sheet.Languages()
	columns := schema.SortColumns(n.schema.Order(), sheet.Columns())

	language := ambientLanguage
	supported := false
	for _, candidate := range []archive.Language{ambientLanguage, archive.None} {
		if containsLanguage(languages, candidate) {
			language = candidate
			supported = true
			break
		}
	}
	if !supported {
		return PostNode{}, queryGameMismatch(fmt.Sprintf("sheet %s", sheetName), fmt.Sprintf("unsupported language %q", ambientLanguage))
	}

	return n.normalizeNode(query, normalizeContext{
		languages:       languages,
		node:            sheetSchema,
		columns:         columns,
		language:        language,
		ambientLanguage: ambientLanguage,
	})
}

func containsLanguage(languages []archive.Language, lang archive.Language) bool {
	for _, l := range languages {
		if l == lang {
			return true
		}
	}
	return false
}

func (n *Normalizer) normalizeNode(node Node, ctx normalizeContext) (PostNode, error) {
	if node.IsGroup {
		return n.normalizeGroup(*node.Group, ctx)
	}
	return n.normalizeLeaf(*node.Leaf, ctx)
}

func (n *Normalizer) normalizeGroup(group Group, ctx normalizeContext) (PostNode, error) {
	clauses := make([]PostClause, 0, len(group.Clauses))
	for _, c := range group.Clauses {
		node, err := n.normalizeNode(c.Node, ctx)
		if err != nil {
			return PostNode{}, err
		}
		clauses = append(clauses, PostClause{Occur: c.Occur, Node: node})
	}
	return PostGroupNode(PostGroup{Clauses: clauses}), nil
}

func (n *Normalizer) normalizeLeaf(leaf Leaf, ctx normalizeContext) (PostNode, error) {
	if leaf.Field == nil {
		return PostNode{}, fmt.Errorf("%w: unbound query nodes are not currently supported", ErrMalformedQuery)
	}
	return n.normalizeLeafBound(*leaf.Field, leaf.Operation, ctx)
}

func (n *Normalizer) normalizeLeafBound(spec FieldSpecifier, op Operation, ctx normalizeContext) (PostNode, error) {
	switch {
	case spec.Kind == FieldStruct && ctx.node.Kind == schema.NodeStruct:
		var field *schema.StructField
		for i := range ctx.node.Fields {
			if sanitizeFieldName(ctx.node.Fields[i].Name) == spec.Name {
				field = &ctx.node.Fields[i]
				break
			}
		}
		if field == nil {
			return PostNode{}, schemaMismatch(spec.Name, "field does not exist")
		}

		language := ctx.language
		if spec.Language != nil {
			language = *spec.Language
		}
		if !containsLanguage(ctx.languages, language) {
			return PostNode{}, queryGameMismatch(spec.Name, fmt.Sprintf("%q is not supported by this sheet", language))
		}

		start := field.Offset
		end := start + field.Node.Size()
		if start < 0 || end > len(ctx.columns) {
			return PostNode{}, gameMismatch(spec.Name, "game data does not contain enough columns")
		}

		next := ctx
		next.node = field.Node
		next.columns = ctx.columns[start:end]
		next.language = language
		return n.normalizeOperation(op, next)

	case spec.Kind == FieldArray && ctx.node.Kind == schema.NodeArray:
		size := ctx.node.Array.Size()

		indices := make([]int, 0, ctx.node.Count)
		if spec.Index != nil {
			idx := int(*spec.Index)
			if idx < 0 || idx >= ctx.node.Count {
				return PostNode{}, gameMismatch("array index", "index out of range")
			}
			indices = append(indices, idx)
		} else {
			for i := 0; i < ctx.node.Count; i++ {
				indices = append(indices, i)
			}
		}

		nodes := make([]PostNode, 0, len(indices))
		for _, idx := range indices {
			start := idx * size
			end := start + size
			if end > len(ctx.columns) {
				return PostNode{}, gameMismatch("array element", "game data does not contain enough columns")
			}
			next := ctx
			next.node = *ctx.node.Array
			next.columns = ctx.columns[start:end]
			pn, err := n.normalizeOperation(op, next)
			if err != nil {
				return PostNode{}, err
			}
			nodes = append(nodes, pn)
		}
		result, ok := createOrGroup(nodes)
		if !ok {
			return PostNode{}, gameMismatch("array", "array has no elements")
		}
		return result, nil

	default:
		return PostNode{}, schemaMismatch("query", fmt.Sprintf("cannot use %s query specifier for %s schema structures", specifierKindName(spec.Kind), nodeKindName(ctx.node.Kind)))
	}
}

func specifierKindName(k FieldSpecifierKind) string {
	if k == FieldArray {
		return "array"
	}
	return "struct"
}

func nodeKindName(k schema.NodeKind) string {
	switch k {
	case schema.NodeArray:
		return "array"
	case schema.NodeStruct:
		return "struct"
	default:
		return "scalar"
	}
}

func (n *Normalizer) normalizeOperation(op Operation, ctx normalizeContext) (PostNode, error) {
	switch op.Kind {
	case OpRelation:
		return n.normalizeRelation(op, ctx)
	case OpMatch:
		cols, ok := collectScalars(ctx.node, ctx.columns)
		if !ok {
			return PostNode{}, gameMismatch("query", "insufficient game data to satisfy schema")
		}
		var stringCols []archive.ColumnDef
		for _, c := range cols {
			if c.Kind == archive.KindString {
				stringCols = append(stringCols, c)
			}
		}
		nodes := make([]PostNode, 0, len(stringCols))
		for _, c := range stringCols {
			nodes = append(nodes, PostLeafNode(PostLeaf{
				Column:    c,
				Language:  ctx.language,
				Operation: PostOperation{Kind: OpMatch, Match: op.Match},
			}))
		}
		result, ok := createOrGroup(nodes)
		if !ok {
			return PostNode{}, schemaMismatch("query", "no string columns with this name exist")
		}
		return result, nil

	case OpEq:
		return n.normalizeScalarComparison(op, ctx, nil)

	case OpGte, OpGt, OpLte, OpLt:
		return n.normalizeScalarComparison(op, ctx, func(c archive.ColumnDef) bool {
			return c.Kind.IsNumeric()
		})

	default:
		return PostNode{}, fmt.Errorf("%w: unrecognized operation", ErrMalformedQuery)
	}
}

func (n *Normalizer) normalizeScalarComparison(op Operation, ctx normalizeContext, filter func(archive.ColumnDef) bool) (PostNode, error) {
	cols, ok := collectScalars(ctx.node, ctx.columns)
	if !ok {
		return PostNode{}, gameMismatch("query", "insufficient game data to satisfy schema")
	}
	if filter != nil {
		var narrowed []archive.ColumnDef
		for _, c := range cols {
			if filter(c) {
				narrowed = append(narrowed, c)
			}
		}
		cols = narrowed
	}
	nodes := make([]PostNode, 0, len(cols))
	for _, c := range cols {
		nodes = append(nodes, PostLeafNode(PostLeaf{
			Column:    c,
			Language:  ctx.language,
			Operation: PostOperation{Kind: op.Kind, Value: op.Value, Number: op.Number},
		}))
	}
	result, ok := createOrGroup(nodes)
	if !ok {
		return PostNode{}, queryGameMismatch("query", "no scalar columns with this name exist")
	}
	return result, nil
}

func (n *Normalizer) normalizeRelation(op Operation, ctx normalizeContext) (PostNode, error) {
	switch ctx.node.Kind {
	case schema.NodeStruct, schema.NodeArray:
		return n.normalizeNode(*op.Relation, ctx)

	case schema.NodeScalar:
		if ctx.node.Scalar.Kind != schema.ScalarReference {
			return PostNode{}, schemaMismatch("query", "cannot perform relation operations on this schema node")
		}
		if len(ctx.columns) != 1 {
			return PostNode{}, gameMismatch("query", fmt.Sprintf("cross-sheet references must have a single source (found %d)", len(ctx.columns)))
		}
		column := ctx.columns[0]

		var targetQueries []PostNode
		for _, target := range ctx.node.Scalar.Targets {
			if target.Selector != nil || target.Condition != nil {
				// Selector- and condition-qualified reference targets are not
				// resolvable purely from the query normalizer (they require a
				// row-level lookup); skip them the same way an unresolvable
				// target is pruned below.
				continue
			}

			query, err := n.Normalize(*op.Relation, target.Sheet, ctx.ambientLanguage)
			if err != nil {
				if isQuerySchemaMismatch(err) {
					continue
				}
				return PostNode{}, err
			}

			relOp := PostOperation{
				Kind: OpRelation,
				Relation: &PostRelation{
					Target: RelationTarget{Sheet: target.Sheet},
					Query:  &query,
				},
			}
			targetQueries = append(targetQueries, PostLeafNode(PostLeaf{
				Column:    column,
				Language:  ctx.language,
				Operation: relOp,
			}))
		}

		result, ok := createOrGroup(targetQueries)
		if !ok {
			return PostNode{}, schemaMismatch("query", "no target queries can be resolved against this schema")
		}
		return result, nil

	default:
		return PostNode{}, schemaMismatch("query", "cannot perform relation operations on this schema node")
	}
}

func isQuerySchemaMismatch(err error) bool {
	return errors.Is(err, ErrQuerySchemaMismatch)
}

// collectScalars walks node/columns in lockstep, gathering every
// non-reference scalar column. It returns ok=false if the column slice runs
// out before the schema walk completes (game data narrower than schema).
func collectScalars(node schema.Node, columns []archive.ColumnDef) ([]archive.ColumnDef, bool) {
	switch node.Kind {
	case schema.NodeArray:
		size := node.Array.Size()
		var out []archive.ColumnDef
		for i := 0; i < node.Count; i++ {
			start := i * size
			end := start + size
			if end > len(columns) {
				return nil, false
			}
			cols, ok := collectScalars(*node.Array, columns[start:end])
			if !ok {
				return nil, false
			}
			out = append(out, cols...)
		}
		return out, true

	case schema.NodeScalar:
		if node.Scalar.Kind == schema.ScalarReference {
			return nil, true
		}
		if len(columns) == 0 {
			return nil, false
		}
		return []archive.ColumnDef{columns[0]}, true

	case schema.NodeStruct:
		var out []archive.ColumnDef
		for _, field := range node.Fields {
			start := field.Offset
			end := start + field.Node.Size()
			if end > len(columns) {
				return nil, false
			}
			cols, ok := collectScalars(field.Node, columns[start:end])
			if !ok {
				return nil, false
			}
			out = append(out, cols...)
		}
		return out, true

	default:
		return nil, true
	}
}

// sanitizeFieldName strips whitespace and punctuation from a schema field
// name so it can be compared against the bare alphanumeric token a query
// specifier parses to (schema field names occasionally carry spaces or
// punctuation that query syntax cannot express).
func sanitizeFieldName(name string) string {
	out := make([]rune, 0, len(name))
	for _, r := range name {
		if (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9') {
			out = append(out, r)
		}
	}
	return string(out)
}
