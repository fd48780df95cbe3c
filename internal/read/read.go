package read

import (
	"errors"
	"fmt"
	"log"

	"github.com/agentic-research/mache/internal/archive"
	"github.com/agentic-research/mache/internal/filter"
	"github.com/agentic-research/mache/internal/schema"
)

// context carries everything a read step needs. It is copied by value as
// the walk descends into struct fields and array elements -- columns and
// depth narrow per level, while rows (the per-language row cache) and
// visited (the shared row counter) are reference types and stay aliased
// across the whole call tree for one sheet "session".
type context struct {
	excel *archive.Excel
	sch   schema.Schema

	sheet    string
	handle   *archive.Sheet
	language archive.Language
	rowID    uint32
	subrowID uint16

	filt     filter.Filter
	columns  []archive.ColumnDef
	colIndex map[uint16]int

	rows map[archive.Language]*archive.Row

	depth   int
	visited *int
	ceiling int
}

// Read walks sheetName's schema under filt, producing a tagged Value tree.
// depthBudget caps how many reference hops a wildcard (All) filter follows
// before a Reference degrades to its bare scalar target id; a Struct or
// Array filter below a reference is followed whatever the remaining
// budget. rowCeiling aborts the
// read with ErrTooManyRows once more than that many distinct rows have
// been opened (primary row, plus one per reference target, plus one per
// language variant). It returns the value and the number of rows opened.
func Read(excel *archive.Excel, sch schema.Schema, sheetName string, rowID uint32, subrowID uint16, defaultLanguage archive.Language, filt filter.Filter, depthBudget int, rowCeiling int) (Value, int, error) {
	visited := 0
	ctx := context{
		excel:    excel,
		sch:      sch,
		sheet:    sheetName,
		language: defaultLanguage,
		rowID:    rowID,
		subrowID: subrowID,
		filt:     filt,
		rows:     map[archive.Language]*archive.Row{},
		depth:    depthBudget,
		visited:  &visited,
		ceiling:  rowCeiling,
	}
	val, err := ctx.readSheet()
	return val, visited, err
}

func (ctx context) readSheet() (Value, error) {
	sheet, err := ctx.excel.Sheet(ctx.sheet)
	if err != nil {
		if errors.Is(err, archive.ErrSheetNotFound) {
			return Value{}, fmt.Errorf("%w: sheet %s", ErrNotFound, ctx.sheet)
		}
		return Value{}, err
	}

	node, ok := ctx.sch.Sheet(ctx.sheet)
	if !ok {
		node = schema.Node{Kind: schema.NodeStruct}
	}

	raw := sheet.Columns()
	colIndex := make(map[uint16]int, len(raw))
	for i, c := range raw {
		colIndex[c.Offset] = i
	}

	ctx.handle = sheet
	ctx.colIndex = colIndex
	ctx.columns = schema.SortColumns(ctx.sch.Order(), raw)

	return ctx.readNode(node)
}

func (ctx context) readNode(node schema.Node) (Value, error) {
	switch node.Kind {
	case schema.NodeArray:
		return ctx.readNodeArray(node)
	case schema.NodeStruct:
		return ctx.readNodeStruct(node)
	default:
		return ctx.readNodeScalar(node.Scalar)
	}
}

// row lazily fetches and caches the row for ctx.language, enforcing the
// row-visit ceiling on cache misses.
func (ctx context) row() (*archive.Row, error) {
	if r, ok := ctx.rows[ctx.language]; ok {
		return r, nil
	}
	if ctx.visited != nil {
		*ctx.visited++
		if ctx.ceiling > 0 && *ctx.visited > ctx.ceiling {
			return nil, fmt.Errorf("%w: opened more than %d rows", ErrTooManyRows, ctx.ceiling)
		}
	}
	row, err := ctx.handle.Row(ctx.rowID, ctx.subrowID, ctx.language)
	if err != nil {
		if errors.Is(err, archive.ErrRowNotFound) {
			return nil, fmt.Errorf("%w: sheet %s row %d", ErrNotFound, ctx.sheet, ctx.rowID)
		}
		return nil, err
	}
	ctx.rows[ctx.language] = &row
	return &row, nil
}

// nextField fetches the value behind the first (and, for a scalar leaf,
// only) column in ctx.columns.
func (ctx context) nextField() (archive.Field, error) {
	if len(ctx.columns) == 0 {
		return archive.Field{}, gameMismatch(ctx.sheet, "schema requests more columns than the sheet declares")
	}
	col := ctx.columns[0]
	row, err := ctx.row()
	if err != nil {
		return archive.Field{}, err
	}
	idx, ok := ctx.colIndex[col.Offset]
	if !ok || idx >= len(row.Fields) {
		return archive.Field{}, gameMismatch(ctx.sheet, "schema column has no matching game data column")
	}
	return row.Fields[idx], nil
}

func (ctx context) readNodeScalar(s schema.Scalar) (Value, error) {
	field, err := ctx.nextField()
	if err != nil {
		return Value{}, err
	}
	switch s.Kind {
	case schema.ScalarReference:
		return ctx.readScalarReference(field, s.Targets)
	case schema.ScalarIcon:
		v, err := fieldToInt32(field)
		if err != nil {
			return Value{}, err
		}
		return IconValue(v), nil
	default:
		return ScalarValue(field), nil
	}
}

func (ctx context) readScalarReference(field archive.Field, targets []schema.RefTarget) (Value, error) {
	targetValue, err := fieldToInt32(field)
	if err != nil {
		return Value{}, err
	}
	reference := ScalarReference(targetValue)
	if targetValue < 0 || (ctx.depth == 0 && ctx.filt.Kind == filter.KindAll) {
		return ReferenceValue(reference), nil
	}

targetLoop:
	for _, target := range targets {
		if target.Condition != nil {
			matched, err := ctx.checkCondition(*target.Condition)
			if err != nil {
				return Value{}, err
			}
			if !matched {
				continue targetLoop
			}
		}

		if target.Selector != nil {
			log.Printf("read: sheet %s field references selector-qualified target %s, stopping at this reference", ctx.sheet, target.Sheet)
			break targetLoop
		}

		targetSheet, err := ctx.excel.Sheet(target.Sheet)
		if err != nil {
			if errors.Is(err, archive.ErrSheetNotFound) {
				return Value{}, fmt.Errorf("%w: reference target sheet %s", ErrNotFound, target.Sheet)
			}
			return Value{}, err
		}
		if targetSheet.Kind() == archive.KindSubrows {
			log.Printf("read: sheet %s field references subrow-partitioned target %s, stopping at this reference", ctx.sheet, target.Sheet)
			break targetLoop
		}

		if ctx.visited != nil {
			*ctx.visited++
			if ctx.ceiling > 0 && *ctx.visited > ctx.ceiling {
				return Value{}, fmt.Errorf("%w: opened more than %d rows", ErrTooManyRows, ctx.ceiling)
			}
		}
		row, err := targetSheet.Row(uint32(targetValue), 0, ctx.language)
		if err != nil {
			if errors.Is(err, archive.ErrRowNotFound) {
				continue targetLoop
			}
			return Value{}, err
		}

		childDepth := ctx.depth
		if childDepth > 0 {
			childDepth--
		}
		rowCopy := row
		child := context{
			excel:    ctx.excel,
			sch:      ctx.sch,
			sheet:    target.Sheet,
			language: ctx.language,
			rowID:    row.RowID,
			subrowID: row.SubrowID,
			filt:     ctx.filt,
			rows:     map[archive.Language]*archive.Row{ctx.language: &rowCopy},
			depth:    childDepth,
			visited:  ctx.visited,
			ceiling:  ctx.ceiling,
		}
		fields, err := child.readSheet()
		if err != nil {
			return Value{}, err
		}
		// Deliberately not break-ing here: a later target that also
		// resolves overrides an earlier one, so a target left
		// unhandled above (selector/subrows) never silently wins over
		// one that actually resolved.
		reference = PopulatedReferenceValue(targetValue, target.Sheet, row.RowID, fields)
	}

	return ReferenceValue(reference), nil
}

// checkCondition performs an auxiliary, same-row read of a condition's
// selector field to decide whether a reference target applies.
func (ctx context) checkCondition(cond schema.Condition) (bool, error) {
	condFilter := filter.Filter{
		Kind: filter.KindStruct,
		Struct: map[string]filter.StructEntry{
			cond.Selector: {Field: cond.Selector, Filter: filter.All},
		},
	}
	aux := context{
		excel:    ctx.excel,
		sch:      ctx.sch,
		sheet:    ctx.sheet,
		handle:   ctx.handle,
		language: ctx.language,
		rowID:    ctx.rowID,
		subrowID: ctx.subrowID,
		filt:     condFilter,
		columns:  ctx.columns,
		colIndex: ctx.colIndex,
		rows:     ctx.rows,
		depth:    0,
		visited:  ctx.visited,
		ceiling:  ctx.ceiling,
	}

	node, ok := ctx.sch.Sheet(ctx.sheet)
	if !ok {
		node = schema.Node{Kind: schema.NodeStruct}
	}
	val, err := aux.readNode(node)
	if err != nil {
		return false, err
	}
	if val.Kind != ValueKindStruct {
		return false, gameMismatch(cond.Selector, "condition selector did not resolve to a struct field")
	}
	fieldVal, ok := val.Struct[StructKey{Name: cond.Selector, Language: ctx.language}]
	if !ok {
		return false, gameMismatch(cond.Selector, "condition selector missing from resolved row")
	}
	got, err := fieldToInt32(fieldVal.Scalar)
	if err != nil {
		return false, err
	}
	return uint32(got) == cond.Value, nil
}

func (ctx context) readNodeArray(node schema.Node) (Value, error) {
	if ctx.filt.Kind != filter.KindAll && ctx.filt.Kind != filter.KindArray {
		return Value{}, filterMismatch(ctx.sheet, "array schema node requires an array or wildcard filter")
	}
	if node.Array == nil {
		return Value{}, gameMismatch(ctx.sheet, "array schema node has no element type")
	}
	var inner filter.Filter
	if ctx.filt.Kind == filter.KindArray {
		inner = *ctx.filt.Array
	} else {
		inner = filter.All
	}

	elemSize := node.Array.Size()
	out := make([]Value, 0, node.Count)
	for i := 0; i < node.Count; i++ {
		start := i * elemSize
		end := start + elemSize
		if end > len(ctx.columns) {
			return Value{}, gameMismatch(ctx.sheet, "array schema node spans more columns than the sheet declares")
		}
		elemCtx := ctx
		elemCtx.filt = inner
		elemCtx.columns = ctx.columns[start:end]
		val, err := elemCtx.readNode(*node.Array)
		if err != nil {
			return Value{}, err
		}
		out = append(out, val)
	}
	return ArrayValue(out), nil
}

func (ctx context) readNodeStruct(node schema.Node) (Value, error) {
	if ctx.filt.Kind != filter.KindAll && ctx.filt.Kind != filter.KindStruct {
		return Value{}, filterMismatch(ctx.sheet, "struct schema node requires a struct or wildcard filter")
	}

	out := make(map[StructKey]Value)
	covered := make([]bool, len(ctx.columns))

	for _, field := range node.Fields {
		size := field.Node.Size()
		start, end := field.Offset, field.Offset+size
		if end > len(ctx.columns) {
			return Value{}, gameMismatch(ctx.sheet, "struct schema field spans more columns than the sheet declares")
		}
		for i := start; i < end; i++ {
			covered[i] = true
		}
		fieldColumns := ctx.columns[start:end]

		for _, sel := range ctx.structFieldSelections(field.Name) {
			fieldCtx := ctx
			fieldCtx.filt = sel.filter
			fieldCtx.columns = fieldColumns
			fieldCtx.language = sel.language

			val, err := fieldCtx.readNode(field.Node)
			if err != nil {
				return Value{}, err
			}
			key := StructKey{Name: field.Name, Language: sel.language}
			if _, exists := out[key]; exists {
				log.Printf("read: sheet %s field %s duplicate struct key for language %q, keeping first value", ctx.sheet, field.Name, sel.language)
				continue
			}
			out[key] = val
		}
	}

	return ctx.padUnknownColumns(out, covered)
}

type fieldSelection struct {
	language archive.Language
	filter   filter.Filter
}

// structFieldSelections resolves, for one schema struct field, the set of
// (language, filter) pairs to read it under: a single ambient-language
// read when the filter is All, or one read per matching filter entry
// (there can be more than one, e.g. the same field requested under
// several @lang tags) when the filter is a Struct.
func (ctx context) structFieldSelections(name string) []fieldSelection {
	if ctx.filt.Kind == filter.KindAll {
		return []fieldSelection{{language: ctx.language, filter: filter.All}}
	}

	var out []fieldSelection
	for _, entry := range ctx.filt.Struct {
		if entry.Field != name {
			continue
		}
		lang := ctx.language
		if entry.Language != "" {
			lang = archive.Language(entry.Language)
		}
		out = append(out, fieldSelection{language: lang, filter: entry.Filter})
	}
	return out
}

// padUnknownColumns synthesizes "unknown{offset}{suffix}" entries for any
// columns the schema's fields did not cover -- packed bools each get their
// own "_0".."_7" suffix since up to eight of them share a byte offset.
//
// Under an All filter, every uncovered column is synthesized under the
// ambient language. Under a Struct filter, an uncovered column is only
// emitted if the filter explicitly names its "unknownN" key, and then
// under that entry's own language -- an unmentioned unknown column is
// omitted, the same as any other schema field the filter doesn't name.
func (ctx context) padUnknownColumns(out map[StructKey]Value, covered []bool) (Value, error) {
	for i, col := range ctx.columns {
		if covered[i] {
			continue
		}
		name := fmt.Sprintf("unknown%d%s", col.Offset, packedBoolSuffix(col.Kind))

		var selections []fieldSelection
		if ctx.filt.Kind == filter.KindAll {
			selections = []fieldSelection{{language: ctx.language, filter: filter.All}}
		} else {
			selections = ctx.structFieldSelections(name)
		}

		for _, sel := range selections {
			leafCtx := ctx
			leafCtx.columns = ctx.columns[i : i+1]
			field, err := leafCtx.nextField()
			if err != nil {
				return Value{}, err
			}
			out[StructKey{Name: name, Language: sel.language}] = ScalarValue(field)
		}
	}
	return StructValue(out), nil
}

func packedBoolSuffix(k archive.ColumnKind) string {
	if !k.IsPackedBool() {
		return ""
	}
	return fmt.Sprintf("_%d", int(k-archive.KindPackedBool0))
}

func fieldToInt32(f archive.Field) (int32, error) {
	switch {
	case isSignedKind(f.Kind):
		return int32(f.Int), nil
	case f.Kind == archive.KindFloat32:
		return int32(f.Float), nil
	case f.Kind.IsNumeric():
		return int32(f.Uint), nil
	case f.Kind == archive.KindBool || f.Kind.IsPackedBool():
		if f.Bool {
			return 1, nil
		}
		return 0, nil
	default:
		return 0, gameMismatch("field", "expected a numeric or boolean column")
	}
}

func isSignedKind(k archive.ColumnKind) bool {
	switch k {
	case archive.KindInt8, archive.KindInt16, archive.KindInt32, archive.KindInt64:
		return true
	default:
		return false
	}
}
