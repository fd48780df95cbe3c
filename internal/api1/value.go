package api1

import (
	"fmt"
	"sort"

	"github.com/ohler55/ojg/oj"

	"github.com/agentic-research/mache/internal/archive"
	"github.com/agentic-research/mache/internal/read"
)

// orderedEntry is one key/value pair of an object, kept in the order
// object builds it; toOJG turns the entries into a plain map, so that order
// does not carry over into the marshaled output.
type orderedEntry struct {
	key   string
	value any
}

// object is a JSON object that keeps its entries in the order they were
// appended. Neither read.Value.Struct (a map[StructKey]Value) nor
// filter.Filter (a map[string]StructEntry) tracks the caller's original
// filter-field order -- both are plain Go maps -- so true insertion order
// was already lost before it reached this package. structToTree instead
// sorts entries by (field name, language) so the tree is built in a
// deterministic order; the marshaled output comes from a plain map (see
// toOJG), so its key order is not defined.
type object []orderedEntry

func (o object) toOJG() map[string]any {
	m := make(map[string]any, len(o))
	for _, e := range o {
		m[e.key] = e.value
	}
	return m
}

// MarshalValue renders a read.Value tree as JSON bytes. Scalars and the
// composed tree are handed to ojg/oj.Marshal, which is the teacher
// dependency wired for Value serialization. Every object is converted to a
// plain Go map before handing off (see toPlain), so object key order in the
// output is not defined.
func MarshalValue(v read.Value) ([]byte, error) {
	tree, err := valueToTree(v)
	if err != nil {
		return nil, err
	}
	return oj.Marshal(toPlain(tree))
}

// toPlain recursively replaces every object with its plain map[string]any
// form right before marshaling, preserving ordering up to that point only
// for our own traversal/construction logic -- ojg itself, like
// encoding/json, does not emit object keys in any particular order for a
// plain Go map.
func toPlain(v any) any {
	switch val := v.(type) {
	case object:
		return val.toOJG()
	case []any:
		out := make([]any, len(val))
		for i, e := range val {
			out[i] = toPlain(e)
		}
		return out
	default:
		return v
	}
}

func valueToTree(v read.Value) (any, error) {
	switch v.Kind {
	case read.ValueKindArray:
		out := make([]any, 0, len(v.Array))
		for _, elem := range v.Array {
			t, err := valueToTree(elem)
			if err != nil {
				return nil, err
			}
			out = append(out, t)
		}
		return out, nil
	case read.ValueKindHTML:
		return v.HTML, nil
	case read.ValueKindIcon:
		return int64(v.Icon), nil
	case read.ValueKindReference:
		return referenceToTree(v.Reference)
	case read.ValueKindScalar:
		return scalarToTree(v.Scalar), nil
	case read.ValueKindStruct:
		return structToTree(v.Struct)
	default:
		return nil, fmt.Errorf("api1: unknown value kind %d", v.Kind)
	}
}

func referenceToTree(r read.Reference) (any, error) {
	switch r.Tag {
	case read.ReferenceKindScalar:
		return object{{key: "value", value: int64(r.ScalarValue)}}, nil
	case read.ReferenceKindPopulated:
		fields, err := valueToTree(r.Populated.Fields)
		if err != nil {
			return nil, err
		}
		return object{
			{key: "value", value: int64(r.Populated.Value)},
			{key: "sheet", value: r.Populated.Sheet},
			{key: "fields", value: fields},
		}, nil
	default:
		return nil, fmt.Errorf("api1: unknown reference kind %d", r.Tag)
	}
}

func structToTree(s map[read.StructKey]read.Value) (any, error) {
	keys := make([]read.StructKey, 0, len(s))
	for k := range s {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool {
		if keys[i].Name != keys[j].Name {
			return keys[i].Name < keys[j].Name
		}
		return keys[i].Language < keys[j].Language
	})

	perName := make(map[string]int, len(keys))
	for _, k := range keys {
		perName[k.Name]++
	}

	out := make(object, 0, len(keys))
	for _, k := range keys {
		t, err := valueToTree(s[k])
		if err != nil {
			return nil, err
		}
		out = append(out, orderedEntry{key: structFieldKey(k, perName[k.Name] > 1), value: t})
	}
	return out, nil
}

// structFieldKey renders a field's output key. It is the bare field name
// unless the same field was read under more than one language, which only
// a filter explicitly requesting several languages per field produces; each
// of those entries is keyed "<name>@<language>". The key is built from the
// language itself, not from the decorator text the filter used.
func structFieldKey(k read.StructKey, multiLanguage bool) string {
	if !multiLanguage || k.Language == archive.None {
		return k.Name
	}
	return fmt.Sprintf("%s@%s", k.Name, k.Language)
}

func scalarToTree(f archive.Field) any {
	switch {
	case f.Kind == archive.KindString:
		return f.String
	case f.Kind == archive.KindBool || f.Kind.IsPackedBool():
		return f.Bool
	case f.Kind == archive.KindFloat32:
		return f.Float
	case isSignedColumn(f.Kind):
		return f.Int
	default:
		return f.Uint
	}
}

func isSignedColumn(k archive.ColumnKind) bool {
	switch k {
	case archive.KindInt8, archive.KindInt16, archive.KindInt32, archive.KindInt64:
		return true
	default:
		return false
	}
}
