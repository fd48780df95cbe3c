package search

import (
	"encoding/binary"
	"os"
	"path/filepath"
	"testing"

	"github.com/agentic-research/mache/internal/archive"
	"github.com/agentic-research/mache/internal/query"
	"github.com/agentic-research/mache/internal/schema"
	"github.com/agentic-research/mache/internal/version"
)

// buildEXH/buildEXD/exhKindTag mirror the minimal fixture builders used
// throughout internal/archive, internal/query and internal/read's own
// tests (duplicated here since they're unexported test helpers local to
// each package) to exercise this package against a real, decoded
// Excel/Sheet pair rather than a mock.
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

func buildEXD(rowID uint32, fixed []byte, strBlob []byte) []byte {
	header := make([]byte, 32)
	copy(header[0:4], "EXDF")
	binary.BigEndian.PutUint32(header[8:12], 8)

	rowDataSize := uint32(len(fixed) + len(strBlob))
	rowHeader := make([]byte, 6)
	binary.BigEndian.PutUint32(rowHeader[0:4], rowDataSize)

	dataOffset := uint32(32 + 8)
	offsetEntry := make([]byte, 8)
	binary.BigEndian.PutUint32(offsetEntry[0:4], rowID)
	binary.BigEndian.PutUint32(offsetEntry[4:8], dataOffset)

	out := append([]byte{}, header...)
	out = append(out, offsetEntry...)
	out = append(out, rowHeader...)
	out = append(out, fixed...)
	out = append(out, strBlob...)
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

// buildItemFixture builds a single "Item" sheet with two rows (Id UInt32@0,
// Name String@4) plus a matching struct schema.
func buildItemFixture(t *testing.T) (*archive.Excel, schema.Schema) {
	t.Helper()
	dir := t.TempDir()
	exdDir := filepath.Join(dir, "exd")
	mustMkdir(t, exdDir)
	mustWrite(t, filepath.Join(exdDir, "root.exl"), []byte("Item\n"))

	columns := []archive.ColumnDef{
		{Offset: 0, Kind: archive.KindUInt32},
		{Offset: 4, Kind: archive.KindString},
	}
	mustWrite(t, filepath.Join(exdDir, "Item.exh"), buildEXH(columns, 8, 2))

	row1 := make([]byte, 8)
	binary.BigEndian.PutUint32(row1[0:4], 1)
	binary.BigEndian.PutUint32(row1[4:8], 0)
	row2 := make([]byte, 8)
	binary.BigEndian.PutUint32(row2[0:4], 2)
	binary.BigEndian.PutUint32(row2[4:8], 7)

	header := make([]byte, 32)
	copy(header[0:4], "EXDF")
	binary.BigEndian.PutUint32(header[8:12], 16)

	rowDataSize1 := uint32(len(row1) + len("Potion\x00"))
	rowHeader1 := make([]byte, 6)
	binary.BigEndian.PutUint32(rowHeader1[0:4], rowDataSize1)
	rowDataSize2 := uint32(len(row2) + len("Ether\x00"))
	rowHeader2 := make([]byte, 6)
	binary.BigEndian.PutUint32(rowHeader2[0:4], rowDataSize2)

	off1 := uint32(32 + 16)
	off2 := off1 + uint32(len(rowHeader1)+len(row1)+len("Potion\x00"))

	offsetEntry1 := make([]byte, 8)
	binary.BigEndian.PutUint32(offsetEntry1[0:4], 1)
	binary.BigEndian.PutUint32(offsetEntry1[4:8], off1)
	offsetEntry2 := make([]byte, 8)
	binary.BigEndian.PutUint32(offsetEntry2[0:4], 2)
	binary.BigEndian.PutUint32(offsetEntry2[4:8], off2)

	buf := append([]byte{}, header...)
	buf = append(buf, offsetEntry1...)
	buf = append(buf, offsetEntry2...)
	buf = append(buf, rowHeader1...)
	buf = append(buf, row1...)
	buf = append(buf, []byte("Potion\x00")...)
	buf = append(buf, rowHeader2...)
	buf = append(buf, row2...)
	buf = append(buf, []byte("Ether\x00")...)

	mustWrite(t, filepath.Join(exdDir, "Item_0_en.exd"), buf)

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

	sch := schema.StaticSchema{
		ColumnOrder: schema.OrderIndex,
		Sheets: map[string]schema.Node{
			"Item": {
				Kind: schema.NodeStruct,
				Fields: []schema.StructField{
					{Name: "Id", Offset: 0, Node: schema.Node{Kind: schema.NodeScalar, Scalar: schema.Scalar{Kind: schema.ScalarDefault}}},
					{Name: "Name", Offset: 1, Node: schema.Node{Kind: schema.NodeScalar, Scalar: schema.Scalar{Kind: schema.ScalarDefault}}},
				},
			},
		},
	}
	return excel, sch
}

func mustParse(t *testing.T, src string) query.Node {
	t.Helper()
	node, err := query.Parse(src)
	if err != nil {
		t.Fatalf("query.Parse(%q): %v", src, err)
	}
	return node
}
