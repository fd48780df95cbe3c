package read

import (
	"encoding/binary"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/agentic-research/mache/internal/archive"
	"github.com/agentic-research/mache/internal/filter"
	"github.com/agentic-research/mache/internal/schema"
	"github.com/agentic-research/mache/internal/version"
)

// buildEXH/buildEXD/exhKindTag duplicate the minimal single-page,
// single-language fixture builders used across internal/archive's and
// internal/query's own tests (unexported helpers local to each package),
// so this package can exercise Read against a real decoded Excel/Sheet
// pair rather than a mock.
func buildEXH(columns []archive.ColumnDef, dataOffset uint16, rowCount uint32) []byte {
	buf := make([]byte, 32)
	copy(buf[0:4], "EXHF")
	binary.BigEndian.PutUint16(buf[6:8], dataOffset)
	binary.BigEndian.PutUint16(buf[8:10], uint16(len(columns)))
	binary.BigEndian.PutUint16(buf[10:12], 1)
	binary.BigEndian.PutUint16(buf[12:14], 1)
	buf[17] = 1
	binary.BigEndian.PutUint32(buf[20:24], rowCount)

	for _, c := range columns {
		entry := make([]byte, 4)
		binary.BigEndian.PutUint16(entry[0:2], uint16(exhKindTag(c.Kind)))
		binary.BigEndian.PutUint16(entry[2:4], c.Offset)
		buf = append(buf, entry...)
	}

	page := make([]byte, 8)
	binary.BigEndian.PutUint32(page[0:4], 0)
	binary.BigEndian.PutUint32(page[4:8], rowCount)
	buf = append(buf, page...)

	lang := make([]byte, 2)
	binary.BigEndian.PutUint16(lang, 2) // "en"
	return append(buf, lang...)
}

func exhKindTag(k archive.ColumnKind) uint16 {
	switch k {
	case archive.KindString:
		return 0x0
	case archive.KindUInt32:
		return 0x7
	default:
		panic("unsupported test column kind")
	}
}

func buildEXDMulti(rows map[uint32][]byte, strBlob []byte) []byte {
	header := make([]byte, 32)
	copy(header[0:4], "EXDF")
	binary.BigEndian.PutUint32(header[8:12], uint32(len(rows)*8))

	ids := make([]uint32, 0, len(rows))
	for id := range rows {
		ids = append(ids, id)
	}
	// deterministic ascending order for offset table construction
	for i := 0; i < len(ids); i++ {
		for j := i + 1; j < len(ids); j++ {
			if ids[j] < ids[i] {
				ids[i], ids[j] = ids[j], ids[i]
			}
		}
	}

	var offsetTable []byte
	var body []byte
	dataOffset := uint32(32 + len(rows)*8)
	for _, id := range ids {
		fixed := rows[id]
		rowHeader := make([]byte, 6)
		binary.BigEndian.PutUint32(rowHeader[0:4], uint32(len(fixed))+uint32(len(strBlob)))
		entry := make([]byte, 8)
		binary.BigEndian.PutUint32(entry[0:4], id)
		binary.BigEndian.PutUint32(entry[4:8], dataOffset)
		offsetTable = append(offsetTable, entry...)
		body = append(body, rowHeader...)
		body = append(body, fixed...)
		body = append(body, strBlob...)
		dataOffset += uint32(6 + len(fixed) + len(strBlob))
	}

	out := append([]byte{}, header...)
	out = append(out, offsetTable...)
	out = append(out, body...)
	return out
}

func mustMkdir(t *testing.T, dir string) {
	t.Helper()
	if err := os.MkdirAll(dir, 0o755); err != nil {
		t.Fatalf("mkdir %s: %v", dir, err)
	}
}

func mustWrite(t *testing.T, path string, data []byte) {
	t.Helper()
	if err := os.WriteFile(path, data, 0o644); err != nil {
		t.Fatalf("write %s: %v", path, err)
	}
}

func buildReadFixture(t *testing.T) (*archive.Excel, schema.Schema) {
	t.Helper()
	dir := t.TempDir()
	exdDir := filepath.Join(dir, "exd")
	mustMkdir(t, exdDir)
	mustWrite(t, filepath.Join(exdDir, "root.exl"), []byte("Item\nRecipe\nList\n"))

	itemColumns := []archive.ColumnDef{
		{Offset: 0, Kind: archive.KindUInt32},
		{Offset: 4, Kind: archive.KindString},
	}
	mustWrite(t, filepath.Join(exdDir, "Item.exh"), buildEXH(itemColumns, 8, 1))
	itemFixed := make([]byte, 8)
	binary.BigEndian.PutUint32(itemFixed[0:4], 1)
	binary.BigEndian.PutUint32(itemFixed[4:8], 0)
	mustWrite(t, filepath.Join(exdDir, "Item_0_en.exd"), buildEXDMulti(map[uint32][]byte{1: itemFixed}, []byte("Potion\x00")))

	recipeColumns := []archive.ColumnDef{{Offset: 0, Kind: archive.KindUInt32}}
	mustWrite(t, filepath.Join(exdDir, "Recipe.exh"), buildEXH(recipeColumns, 4, 2))
	okFixed := make([]byte, 4)
	binary.BigEndian.PutUint32(okFixed, 1)
	negFixed := make([]byte, 4)
	binary.BigEndian.PutUint32(negFixed, 0xFFFFFFFF)
	mustWrite(t, filepath.Join(exdDir, "Recipe_0_en.exd"), buildEXDMulti(map[uint32][]byte{1: okFixed, 2: negFixed}, nil))

	listColumns := []archive.ColumnDef{
		{Offset: 0, Kind: archive.KindUInt32},
		{Offset: 4, Kind: archive.KindUInt32},
		{Offset: 8, Kind: archive.KindUInt32},
	}
	mustWrite(t, filepath.Join(exdDir, "List.exh"), buildEXH(listColumns, 12, 1))
	listFixed := make([]byte, 12)
	binary.BigEndian.PutUint32(listFixed[0:4], 10)
	binary.BigEndian.PutUint32(listFixed[4:8], 20)
	binary.BigEndian.PutUint32(listFixed[8:12], 30)
	mustWrite(t, filepath.Join(exdDir, "List_0_en.exd"), buildEXDMulti(map[uint32][]byte{1: listFixed}, nil))

	repo := version.Repository{Name: "ffxiv", Patches: []version.Patch{{Name: "p1", LocalPath: dir}}}
	key := version.DeriveKey([]version.Repository{repo})
	view, err := archive.Build(key, []version.Repository{repo})
	if err != nil {
		t.Fatalf("archive.Build: %v", err)
	}
	excel, err := archive.NewExcel(view, "en")
	if err != nil {
		t.Fatalf("archive.NewExcel: %v", err)
	}

	scalarNode := schema.Node{Kind: schema.NodeScalar, Scalar: schema.Scalar{Kind: schema.ScalarDefault}}
	sch := schema.StaticSchema{
		ColumnOrder: schema.OrderIndex,
		Sheets: map[string]schema.Node{
			"Item": {
				Kind: schema.NodeStruct,
				Fields: []schema.StructField{
					{Name: "Id", Offset: 0, Node: scalarNode},
					{Name: "Name", Offset: 1, Node: scalarNode},
				},
			},
			"Recipe": {
				Kind: schema.NodeStruct,
				Fields: []schema.StructField{
					{Name: "Item", Offset: 0, Node: schema.Node{
						Kind: schema.NodeScalar,
						Scalar: schema.Scalar{
							Kind:    schema.ScalarReference,
							Targets: []schema.RefTarget{{Sheet: "Item"}},
						},
					}},
				},
			},
			"List": {
				Kind: schema.NodeArray,
				Count: 3,
				Array: &scalarNode,
			},
		},
	}

	return excel, sch
}

func structScalar(t *testing.T, v Value, name string, lang archive.Language) archive.Field {
	t.Helper()
	if v.Kind != ValueKindStruct {
		t.Fatalf("expected struct value, got %+v", v)
	}
	field, ok := v.Struct[StructKey{Name: name, Language: lang}]
	if !ok {
		t.Fatalf("missing struct key %s/%s in %+v", name, lang, v.Struct)
	}
	if field.Kind != ValueKindScalar {
		t.Fatalf("expected scalar value for %s, got %+v", name, field)
	}
	return field.Scalar
}

func TestReadScalarFields(t *testing.T) {
	excel, sch := buildReadFixture(t)
	val, visited, err := Read(excel, sch, "Item", 1, 0, "en", filter.All, 0, 0)
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if visited != 1 {
		t.Fatalf("expected 1 row visited, got %d", visited)
	}
	id := structScalar(t, val, "Id", "en")
	if id.Uint != 1 {
		t.Fatalf("expected Id=1, got %+v", id)
	}
	name := structScalar(t, val, "Name", "en")
	if name.String != "Potion" {
		t.Fatalf("expected Name=Potion, got %q", name.String)
	}
}

func TestReadUnknownColumnPadding(t *testing.T) {
	excel, _ := buildReadFixture(t)
	scalarNode := schema.Node{Kind: schema.NodeScalar, Scalar: schema.Scalar{Kind: schema.ScalarDefault}}
	sch := schema.StaticSchema{
		ColumnOrder: schema.OrderIndex,
		Sheets: map[string]schema.Node{
			"Item": {
				Kind:   schema.NodeStruct,
				Fields: []schema.StructField{{Name: "Id", Offset: 0, Node: scalarNode}},
			},
		},
	}
	val, _, err := Read(excel, sch, "Item", 1, 0, "en", filter.All, 0, 0)
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	name := structScalar(t, val, "unknown4", "en")
	if name.String != "Potion" {
		t.Fatalf("expected unknown4=Potion, got %q", name.String)
	}
}

func TestReadUnknownColumnOmittedUnderStructFilter(t *testing.T) {
	excel, _ := buildReadFixture(t)
	scalarNode := schema.Node{Kind: schema.NodeScalar, Scalar: schema.Scalar{Kind: schema.ScalarDefault}}
	sch := schema.StaticSchema{
		ColumnOrder: schema.OrderIndex,
		Sheets: map[string]schema.Node{
			"Item": {
				Kind:   schema.NodeStruct,
				Fields: []schema.StructField{{Name: "Id", Offset: 0, Node: scalarNode}},
			},
		},
	}

	// Empty filter: nothing named, nothing returned -- including no
	// synthesized unknown columns.
	val, _, err := Read(excel, sch, "Item", 1, 0, "en", filter.Empty, 0, 0)
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if val.Kind != ValueKindStruct || len(val.Struct) != 0 {
		t.Fatalf("expected empty struct, got %+v", val)
	}

	// A Struct filter naming "unknown4" explicitly selects just that
	// unknown column under its own language tag, and nothing else.
	named := filter.Filter{Kind: filter.KindStruct, Struct: map[string]filter.StructEntry{
		"unknown4@lang(ja)": {Field: "unknown4", Language: "ja", Filter: filter.All},
	}}
	val, _, err = Read(excel, sch, "Item", 1, 0, "en", named, 0, 0)
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if len(val.Struct) != 1 {
		t.Fatalf("expected exactly one struct entry, got %+v", val.Struct)
	}
	name := structScalar(t, val, "unknown4", "ja")
	if name.String != "Potion" {
		t.Fatalf("expected unknown4=Potion, got %q", name.String)
	}
}

func TestReadArray(t *testing.T) {
	excel, sch := buildReadFixture(t)
	val, _, err := Read(excel, sch, "List", 1, 0, "en", filter.All, 0, 0)
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if val.Kind != ValueKindArray || len(val.Array) != 3 {
		t.Fatalf("expected 3-element array, got %+v", val)
	}
	want := []uint64{10, 20, 30}
	for i, elem := range val.Array {
		if elem.Kind != ValueKindScalar || elem.Scalar.Uint != want[i] {
			t.Fatalf("element %d: expected %d, got %+v", i, want[i], elem)
		}
	}
}

func TestReadReferenceDepthZeroStaysScalar(t *testing.T) {
	excel, sch := buildReadFixture(t)
	val, _, err := Read(excel, sch, "Recipe", 1, 0, "en", filter.All, 0, 0)
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	ref := structFieldValue(t, val, "Item", "en")
	if ref.Kind != ValueKindReference || ref.Reference.Tag != ReferenceKindScalar {
		t.Fatalf("expected scalar reference at depth 0, got %+v", ref)
	}
	if ref.Reference.ScalarValue != 1 {
		t.Fatalf("expected scalar reference value 1, got %d", ref.Reference.ScalarValue)
	}
}

func TestReadReferencePopulatedAtDepth(t *testing.T) {
	excel, sch := buildReadFixture(t)
	val, visited, err := Read(excel, sch, "Recipe", 1, 0, "en", filter.All, 1, 0)
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if visited != 2 {
		t.Fatalf("expected 2 rows visited (recipe + item), got %d", visited)
	}
	ref := structFieldValue(t, val, "Item", "en")
	if ref.Kind != ValueKindReference || ref.Reference.Tag != ReferenceKindPopulated {
		t.Fatalf("expected populated reference, got %+v", ref)
	}
	pop := ref.Reference.Populated
	if pop.Sheet != "Item" || pop.RowID != 1 {
		t.Fatalf("unexpected populated reference: %+v", pop)
	}
	name := structScalar(t, pop.Fields, "Name", "en")
	if name.String != "Potion" {
		t.Fatalf("expected nested Name=Potion, got %q", name.String)
	}
}

func TestReadReferenceNegativeSentinelNeverPopulates(t *testing.T) {
	excel, sch := buildReadFixture(t)
	val, _, err := Read(excel, sch, "Recipe", 2, 0, "en", filter.All, 5, 0)
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	ref := structFieldValue(t, val, "Item", "en")
	if ref.Kind != ValueKindReference || ref.Reference.Tag != ReferenceKindScalar {
		t.Fatalf("expected scalar reference for negative sentinel, got %+v", ref)
	}
	if ref.Reference.ScalarValue != -1 {
		t.Fatalf("expected scalar reference value -1, got %d", ref.Reference.ScalarValue)
	}
}

func TestReadRowCeilingAborts(t *testing.T) {
	excel, sch := buildReadFixture(t)
	_, _, err := Read(excel, sch, "Recipe", 1, 0, "en", filter.All, 1, 1)
	if !errors.Is(err, ErrTooManyRows) {
		t.Fatalf("expected ErrTooManyRows, got %v", err)
	}
}

func buildConditionFixture(t *testing.T) (*archive.Excel, schema.Schema) {
	t.Helper()
	dir := t.TempDir()
	exdDir := filepath.Join(dir, "exd")
	mustMkdir(t, exdDir)
	mustWrite(t, filepath.Join(exdDir, "root.exl"), []byte("ItemA\nItemB\nRecipeKind\n"))

	idColumns := []archive.ColumnDef{{Offset: 0, Kind: archive.KindUInt32}}
	mustWrite(t, filepath.Join(exdDir, "ItemA.exh"), buildEXH(idColumns, 4, 1))
	aFixed := make([]byte, 4)
	binary.BigEndian.PutUint32(aFixed, 100)
	mustWrite(t, filepath.Join(exdDir, "ItemA_0_en.exd"), buildEXDMulti(map[uint32][]byte{1: aFixed}, nil))

	mustWrite(t, filepath.Join(exdDir, "ItemB.exh"), buildEXH(idColumns, 4, 1))
	bFixed := make([]byte, 4)
	binary.BigEndian.PutUint32(bFixed, 200)
	mustWrite(t, filepath.Join(exdDir, "ItemB_0_en.exd"), buildEXDMulti(map[uint32][]byte{1: bFixed}, nil))

	recipeColumns := []archive.ColumnDef{
		{Offset: 0, Kind: archive.KindUInt32}, // Item reference
		{Offset: 4, Kind: archive.KindUInt32}, // Kind selector
	}
	mustWrite(t, filepath.Join(exdDir, "RecipeKind.exh"), buildEXH(recipeColumns, 8, 1))
	fixed := make([]byte, 8)
	binary.BigEndian.PutUint32(fixed[0:4], 1)
	binary.BigEndian.PutUint32(fixed[4:8], 2)
	mustWrite(t, filepath.Join(exdDir, "RecipeKind_0_en.exd"), buildEXDMulti(map[uint32][]byte{1: fixed}, nil))

	repo := version.Repository{Name: "ffxiv", Patches: []version.Patch{{Name: "p1", LocalPath: dir}}}
	key := version.DeriveKey([]version.Repository{repo})
	view, err := archive.Build(key, []version.Repository{repo})
	if err != nil {
		t.Fatalf("archive.Build: %v", err)
	}
	excel, err := archive.NewExcel(view, "en")
	if err != nil {
		t.Fatalf("archive.NewExcel: %v", err)
	}

	scalarNode := schema.Node{Kind: schema.NodeScalar, Scalar: schema.Scalar{Kind: schema.ScalarDefault}}
	itemSchema := schema.Node{
		Kind:   schema.NodeStruct,
		Fields: []schema.StructField{{Name: "Id", Offset: 0, Node: scalarNode}},
	}
	sch := schema.StaticSchema{
		ColumnOrder: schema.OrderIndex,
		Sheets: map[string]schema.Node{
			"ItemA": itemSchema,
			"ItemB": itemSchema,
			"RecipeKind": {
				Kind: schema.NodeStruct,
				Fields: []schema.StructField{
					{Name: "Item", Offset: 0, Node: schema.Node{
						Kind: schema.NodeScalar,
						Scalar: schema.Scalar{
							Kind: schema.ScalarReference,
							Targets: []schema.RefTarget{
								{Sheet: "ItemA", Condition: &schema.Condition{Selector: "Kind", Value: 1}},
								{Sheet: "ItemB", Condition: &schema.Condition{Selector: "Kind", Value: 2}},
							},
						},
					}},
					{Name: "Kind", Offset: 1, Node: scalarNode},
				},
			},
		},
	}

	return excel, sch
}

func TestReadReferenceConditionSelectsMatchingTarget(t *testing.T) {
	excel, sch := buildConditionFixture(t)
	val, _, err := Read(excel, sch, "RecipeKind", 1, 0, "en", filter.All, 1, 0)
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	ref := structFieldValue(t, val, "Item", "en")
	if ref.Kind != ValueKindReference || ref.Reference.Tag != ReferenceKindPopulated {
		t.Fatalf("expected populated reference, got %+v", ref)
	}
	pop := ref.Reference.Populated
	if pop.Sheet != "ItemB" {
		t.Fatalf("expected condition to select ItemB (Kind=2), got %s", pop.Sheet)
	}
	id := structScalar(t, pop.Fields, "Id", "en")
	if id.Uint != 200 {
		t.Fatalf("expected ItemB.Id=200, got %d", id.Uint)
	}
}

func structFieldValue(t *testing.T, v Value, name string, lang archive.Language) Value {
	t.Helper()
	if v.Kind != ValueKindStruct {
		t.Fatalf("expected struct value, got %+v", v)
	}
	field, ok := v.Struct[StructKey{Name: name, Language: lang}]
	if !ok {
		t.Fatalf("missing struct key %s/%s in %+v", name, lang, v.Struct)
	}
	return field
}
