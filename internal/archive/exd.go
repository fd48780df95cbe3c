package archive

import (
	"encoding/binary"
	"fmt"
	"math"
)

// exdOffset locates one row (or subrow group) within an .exd file's data
// block.
type exdOffset struct {
	RowID  uint32
	Offset uint32
}

// decodeEXDOffsets reads an .exd file's offset table (following its 32-byte
// header: magic "EXDF", version, padding, index size, data size, padding).
func decodeEXDOffsets(data []byte) ([]exdOffset, error) {
	if len(data) < 32 || string(data[0:4]) != "EXDF" {
		return nil, fmt.Errorf("archive: invalid exd magic")
	}
	indexSize := binary.BigEndian.Uint32(data[8:12])
	off := 32
	count := int(indexSize) / 8
	offsets := make([]exdOffset, 0, count)
	for i := 0; i < count; i++ {
		if off+8 > len(data) {
			return nil, fmt.Errorf("archive: truncated exd offset table")
		}
		offsets = append(offsets, exdOffset{
			RowID:  binary.BigEndian.Uint32(data[off : off+4]),
			Offset: binary.BigEndian.Uint32(data[off+4 : off+8]),
		})
		off += 8
	}
	return offsets, nil
}

// rowBlock is one decoded row's raw packed-column bytes plus any subrow
// sub-blocks (subrow sheets pack multiple subrow records per row-id).
type rowBlock struct {
	SubrowID uint16
	Data     []byte
}

// decodeEXDRow reads the row header at the given file offset: a 4-byte data
// size then a 2-byte subrow count (subrow sheets) or straight into row data
// (default sheets).
func decodeEXDRow(data []byte, offset uint32, hdr *exhHeader) ([]rowBlock, error) {
	if int(offset)+6 > len(data) {
		return nil, fmt.Errorf("archive: row offset %d out of range", offset)
	}
	dataSize := binary.BigEndian.Uint32(data[offset : offset+4])
	body := data[offset+6:]
	if uint32(len(body)) < dataSize {
		return nil, fmt.Errorf("archive: truncated row body")
	}
	body = body[:dataSize]

	if hdr.Kind != KindSubrows {
		return []rowBlock{{SubrowID: 0, Data: body}}, nil
	}

	subrowCount := binary.BigEndian.Uint16(body[0:2])
	blocks := make([]rowBlock, 0, subrowCount)
	rowSize := int(hdr.DataOffset)
	const subrowHeaderSize = 2
	pos := 2
	for i := 0; i < int(subrowCount); i++ {
		if pos+subrowHeaderSize+rowSize > len(body) {
			return nil, fmt.Errorf("archive: truncated subrow %d", i)
		}
		subID := binary.BigEndian.Uint16(body[pos : pos+2])
		pos += subrowHeaderSize
		blocks = append(blocks, rowBlock{SubrowID: subID, Data: body[pos : pos+rowSize]})
		pos += rowSize
	}
	return blocks, nil
}

// readField decodes one packed column value from a row's fixed-size data
// region, reading string columns via their trailing offset-pointer into the
// variable-length string blob that follows the fixed region.
func readField(data []byte, fixedSize int, col ColumnDef) (Field, error) {
	off := int(col.Offset)
	if col.Kind.IsPackedBool() {
		if off >= len(data) {
			return Field{}, fmt.Errorf("archive: packed bool offset %d out of range", off)
		}
		bit := uint(col.Kind - KindPackedBool0)
		return Field{Kind: col.Kind, Bool: data[off]&(1<<bit) != 0}, nil
	}

	switch col.Kind {
	case KindString:
		if off+4 > len(data) {
			return Field{}, fmt.Errorf("archive: string offset column out of range")
		}
		strOffset := binary.BigEndian.Uint32(data[off : off+4])
		blob := data[fixedSize:]
		start := int(strOffset)
		if start > len(blob) {
			return Field{}, fmt.Errorf("archive: string blob offset out of range")
		}
		end := start
		for end < len(blob) && blob[end] != 0 {
			end++
		}
		return Field{Kind: KindString, String: string(blob[start:end])}, nil
	case KindBool:
		if off >= len(data) {
			return Field{}, fmt.Errorf("archive: bool offset out of range")
		}
		return Field{Kind: KindBool, Bool: data[off] != 0}, nil
	case KindInt8:
		return Field{Kind: col.Kind, Int: int64(int8(data[off]))}, nil
	case KindUInt8:
		return Field{Kind: col.Kind, Uint: uint64(data[off])}, nil
	case KindInt16:
		return Field{Kind: col.Kind, Int: int64(int16(binary.BigEndian.Uint16(data[off : off+2])))}, nil
	case KindUInt16:
		return Field{Kind: col.Kind, Uint: uint64(binary.BigEndian.Uint16(data[off : off+2]))}, nil
	case KindInt32:
		return Field{Kind: col.Kind, Int: int64(int32(binary.BigEndian.Uint32(data[off : off+4])))}, nil
	case KindUInt32:
		return Field{Kind: col.Kind, Uint: uint64(binary.BigEndian.Uint32(data[off : off+4]))}, nil
	case KindInt64:
		return Field{Kind: col.Kind, Int: int64(binary.BigEndian.Uint64(data[off : off+8]))}, nil
	case KindUInt64:
		return Field{Kind: col.Kind, Uint: binary.BigEndian.Uint64(data[off : off+8])}, nil
	case KindFloat32:
		bits := binary.BigEndian.Uint32(data[off : off+4])
		return Field{Kind: col.Kind, Float: float64(math.Float32frombits(bits))}, nil
	default:
		return Field{}, fmt.Errorf("archive: unreadable column kind %d", col.Kind)
	}
}
