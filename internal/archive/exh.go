package archive

import (
	"encoding/binary"
	"fmt"
)

// exhColumnKind is the on-disk column-type tag used in .exh headers, distinct
// from the public ColumnKind enum (which folds the eight packed-bool bit
// positions into separate values for schema/read convenience).
type exhColumnKind uint16

const (
	exhString    exhColumnKind = 0x0
	exhBool      exhColumnKind = 0x1
	exhInt8      exhColumnKind = 0x2
	exhUInt8     exhColumnKind = 0x3
	exhInt16     exhColumnKind = 0x4
	exhUInt16    exhColumnKind = 0x5
	exhInt32     exhColumnKind = 0x6
	exhUInt32    exhColumnKind = 0x7
	exhFloat32   exhColumnKind = 0x9
	exhInt64     exhColumnKind = 0xA
	exhUInt64    exhColumnKind = 0xB
	exhPackedBit0 exhColumnKind = 0x19
	// 0x19 through 0x20 select one of the eight bits within the byte at
	// Offset; PackedBool0 = 0x19 .. PackedBool7 = 0x20.
)

func (k exhColumnKind) toColumnKind() (ColumnKind, error) {
	switch {
	case k == exhString:
		return KindString, nil
	case k == exhBool:
		return KindBool, nil
	case k == exhInt8:
		return KindInt8, nil
	case k == exhUInt8:
		return KindUInt8, nil
	case k == exhInt16:
		return KindInt16, nil
	case k == exhUInt16:
		return KindUInt16, nil
	case k == exhInt32:
		return KindInt32, nil
	case k == exhUInt32:
		return KindUInt32, nil
	case k == exhFloat32:
		return KindFloat32, nil
	case k == exhInt64:
		return KindInt64, nil
	case k == exhUInt64:
		return KindUInt64, nil
	case k >= exhPackedBit0 && k <= exhPackedBit0+7:
		return KindPackedBool0 + ColumnKind(k-exhPackedBit0), nil
	default:
		return 0, fmt.Errorf("archive: unrecognized exh column kind %d", k)
	}
}

type exhPage struct {
	StartID   uint32
	RowCount  uint32
}

// exhHeader is the decoded form of a sheet's .exh file: its column layout,
// row-id pages, supported languages, and kind (default vs subrows).
type exhHeader struct {
	DataOffset uint16
	Columns    []ColumnDef
	Pages      []exhPage
	Languages  []Language
	Kind       SheetKind
	RowCount   uint32
}

var languageCodes = map[uint16]Language{
	0: None,
	1: "ja",
	2: "en",
	3: "de",
	4: "fr",
	5: "chs",
	6: "cht",
	7: "ko",
}

func decodeEXH(data []byte) (*exhHeader, error) {
	if len(data) < 32 || string(data[0:4]) != "EXHF" {
		return nil, fmt.Errorf("archive: invalid exh magic")
	}
	dataOffset := binary.BigEndian.Uint16(data[6:8])
	columnCount := binary.BigEndian.Uint16(data[8:10])
	pageCount := binary.BigEndian.Uint16(data[10:12])
	languageCount := binary.BigEndian.Uint16(data[12:14])
	variant := data[17]
	rowCount := binary.BigEndian.Uint32(data[20:24])

	off := 32
	columns := make([]ColumnDef, 0, columnCount)
	for i := 0; i < int(columnCount); i++ {
		if off+4 > len(data) {
			return nil, fmt.Errorf("archive: truncated exh column table")
		}
		rawKind := exhColumnKind(binary.BigEndian.Uint16(data[off : off+2]))
		offset := binary.BigEndian.Uint16(data[off+2 : off+4])
		kind, err := rawKind.toColumnKind()
		if err != nil {
			return nil, err
		}
		columns = append(columns, ColumnDef{Offset: offset, Kind: kind})
		off += 4
	}

	pages := make([]exhPage, 0, pageCount)
	for i := 0; i < int(pageCount); i++ {
		if off+8 > len(data) {
			return nil, fmt.Errorf("archive: truncated exh page table")
		}
		pages = append(pages, exhPage{
			StartID:  binary.BigEndian.Uint32(data[off : off+4]),
			RowCount: binary.BigEndian.Uint32(data[off+4 : off+8]),
		})
		off += 8
	}

	languages := make([]Language, 0, languageCount)
	for i := 0; i < int(languageCount); i++ {
		if off+2 > len(data) {
			return nil, fmt.Errorf("archive: truncated exh language table")
		}
		code := binary.BigEndian.Uint16(data[off : off+2])
		languages = append(languages, languageCodes[code])
		off += 2
	}

	kind := KindDefault
	if variant == 2 {
		kind = KindSubrows
	}

	return &exhHeader{
		DataOffset: dataOffset,
		Columns:    columns,
		Pages:      pages,
		Languages:  languages,
		Kind:       kind,
		RowCount:   rowCount,
	}, nil
}
