// Package sqlschema names the SQLite tables and columns the search engine
// exposes per sheet, shared between the planner (internal/search) and the
// virtual table module (internal/search/vtab) that backs those tables.
package sqlschema

import (
	"fmt"

	"github.com/agentic-research/mache/internal/archive"
)

// TableName is the table backing one sheet's rows under one language.
// Every (sheet, language) pair the sheet supports gets its own table,
// rather than the single default-language table the original ingester's
// design settled for -- this is what lets the same sheet be searched under
// any language it actually supports.
func TableName(sheet string, language archive.Language) string {
	return fmt.Sprintf("sheet-%s@%s", sheet, language)
}

// RowID and SubrowID are the two fixed columns every sheet table carries
// ahead of the sheet's own data columns.
const (
	RowID    = "row_id"
	SubrowID = "subrow_id"
)

// ColumnName mirrors padUnknownColumns' naming in internal/read: the raw
// byte offset, plus a bit-position suffix for packed bools so the eight
// flags sharing one backing byte don't collide.
func ColumnName(col archive.ColumnDef) string {
	return fmt.Sprintf("%d%s", col.Offset, packedBoolSuffix(col.Kind))
}

func packedBoolSuffix(k archive.ColumnKind) string {
	if !k.IsPackedBool() {
		return ""
	}
	return fmt.Sprintf("_%d", int(k-archive.KindPackedBool0))
}

// ColumnType maps a column's packed kind to the SQLite column type used to
// declare it, same mapping table as the original ingester's column_type.
func ColumnType(k archive.ColumnKind) string {
	switch k {
	case archive.KindString:
		return "TEXT"
	case archive.KindInt8, archive.KindInt16, archive.KindInt32, archive.KindInt64:
		return "INTEGER"
	case archive.KindUInt8, archive.KindUInt16, archive.KindUInt32, archive.KindUInt64:
		return "INTEGER"
	case archive.KindFloat32:
		return "REAL"
	default:
		// Bool and the eight packed-bool positions.
		return "BOOLEAN"
	}
}

// QuoteIdent wraps a SQLite identifier in double quotes, doubling any
// embedded quote character. Table and column names here are built from
// sheet/offset data that may contain characters ("-", "@") SQLite would
// otherwise treat as operators, so every identifier this package emits is
// quoted unconditionally rather than only when "needed".
func QuoteIdent(name string) string {
	out := make([]byte, 0, len(name)+2)
	out = append(out, '"')
	for i := 0; i < len(name); i++ {
		if name[i] == '"' {
			out = append(out, '"')
		}
		out = append(out, name[i])
	}
	out = append(out, '"')
	return string(out)
}
