// Package read walks a (filter x schema x packed columns) triple into a
// tagged JSON-shaped Value tree, following cross-sheet references up to a
// caller-supplied depth budget.
package read

import "github.com/agentic-research/mache/internal/archive"

// ValueKind tags which variant a Value holds.
type ValueKind int

const (
	ValueKindArray ValueKind = iota
	ValueKindHTML
	ValueKindIcon
	ValueKindReference
	ValueKindScalar
	ValueKindStruct
)

// StructKey is a struct-member's output key: its schema field name plus the
// language it was read under (the same field can appear multiple times
// under different languages when a filter requests more than one).
type StructKey struct {
	Name     string
	Language archive.Language
}

// Value is the tagged output tree produced by Read.
type Value struct {
	Kind ValueKind

	Array     []Value
	HTML      string
	Icon      int32
	Reference Reference
	Scalar    archive.Field
	Struct    map[StructKey]Value
}

func ArrayValue(v []Value) Value           { return Value{Kind: ValueKindArray, Array: v} }
func HTMLValue(v string) Value             { return Value{Kind: ValueKindHTML, HTML: v} }
func IconValue(v int32) Value              { return Value{Kind: ValueKindIcon, Icon: v} }
func ReferenceValue(v Reference) Value     { return Value{Kind: ValueKindReference, Reference: v} }
func ScalarValue(v archive.Field) Value    { return Value{Kind: ValueKindScalar, Scalar: v} }
func StructValue(v map[StructKey]Value) Value { return Value{Kind: ValueKindStruct, Struct: v} }

// ReferenceKind tags which variant a Reference holds.
type ReferenceKind int

const (
	ReferenceKindScalar ReferenceKind = iota
	ReferenceKindPopulated
)

// Reference is a cross-sheet link: either a bare target row id (not
// resolved, because it was negative, the depth budget ran out, or no
// target candidate matched), or a fully populated target row.
type Reference struct {
	Tag ReferenceKind

	ScalarValue int32
	Populated   *PopulatedReference
}

type PopulatedReference struct {
	Value  int32
	Sheet  string
	RowID  uint32
	Fields Value
}

func ScalarReference(v int32) Reference {
	return Reference{Tag: ReferenceKindScalar, ScalarValue: v}
}

func PopulatedReferenceValue(value int32, sheet string, rowID uint32, fields Value) Reference {
	return Reference{
		Tag: ReferenceKindPopulated,
		Populated: &PopulatedReference{
			Value: value,
			Sheet: sheet,
			RowID: rowID,
			Fields: fields,
		},
	}
}
