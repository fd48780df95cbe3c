package archive

// Language is a game client language tag (e.g. "en", "ja", "de", "fr").
type Language string

// None is the zero Language, meaning "the sheet's sole/default language".
const None Language = ""

// ColumnKind enumerates the packed-column scalar types a Sheet's columns
// may declare.
type ColumnKind int

const (
	KindString ColumnKind = iota
	KindBool
	KindPackedBool0
	KindPackedBool1
	KindPackedBool2
	KindPackedBool3
	KindPackedBool4
	KindPackedBool5
	KindPackedBool6
	KindPackedBool7
	KindInt8
	KindUInt8
	KindInt16
	KindUInt16
	KindInt32
	KindUInt32
	KindInt64
	KindUInt64
	KindFloat32
)

// IsPackedBool reports whether k is one of the eight packed-bool bit
// positions within a single backing byte.
func (k ColumnKind) IsPackedBool() bool {
	return k >= KindPackedBool0 && k <= KindPackedBool7
}

// IsNumeric reports whether k is an integer or float kind usable with
// relational operators (Gt/Gte/Lt/Lte). Bool and packed-bool are excluded.
func (k ColumnKind) IsNumeric() bool {
	switch k {
	case KindInt8, KindUInt8, KindInt16, KindUInt16, KindInt32, KindUInt32, KindInt64, KindUInt64, KindFloat32:
		return true
	default:
		return false
	}
}

// ColumnDef is one positional column within a Sheet.
type ColumnDef struct {
	Offset uint16
	Kind   ColumnKind
}

// Size returns how many positional "slots" a struct node spanning this
// column occupies -- always 1 per ColumnDef; array/struct sizing is a
// schema-level concern layered on top.
func (c ColumnDef) Size() int { return 1 }

// SheetKind distinguishes ordinary sheets from subrow-partitioned ones.
type SheetKind int

const (
	KindDefault SheetKind = iota
	KindSubrows
)

// Field is a tagged scalar value read from one packed column.
type Field struct {
	Kind   ColumnKind
	Bool   bool
	Int    int64
	Uint   uint64
	Float  float64
	String string
}

// Row is one record from a Sheet, read under a single language.
type Row struct {
	RowID    uint32
	SubrowID uint16
	Fields   []Field
	Language Language
}
