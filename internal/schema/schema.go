package schema

import (
	"sort"

	"github.com/agentic-research/mache/internal/archive"
)

// Order dictates how a sheet's columns are sorted prior to a schema walk.
type Order int

const (
	OrderIndex Order = iota
	OrderOffset
)

// Condition restricts a RefTarget to rows where the named selector's scalar
// equals Value.
type Condition struct {
	Selector string
	Value    uint32
}

// RefTarget is one candidate sheet a Reference scalar column may point into.
type RefTarget struct {
	Sheet     string
	Selector  *string // unsupported at read time; see read.ErrSelectorTargetUnsupported
	Condition *Condition
}

// ScalarKind distinguishes plain scalars from references and icons.
type ScalarKind int

const (
	ScalarDefault ScalarKind = iota
	ScalarReference
	ScalarIcon
)

// Scalar is a leaf schema node.
type Scalar struct {
	Kind    ScalarKind
	Targets []RefTarget // only meaningful when Kind == ScalarReference
}

// NodeKind tags which variant a Node holds.
type NodeKind int

const (
	NodeScalar NodeKind = iota
	NodeArray
	NodeStruct
)

// StructField is one named member of a Struct node.
type StructField struct {
	Name   string
	Offset int
	Node   Node
}

// Node is a schema tree node: Array, Scalar, or Struct.
type Node struct {
	Kind   NodeKind
	Scalar Scalar        // Kind == NodeScalar
	Count  int           // Kind == NodeArray
	Array  *Node         // Kind == NodeArray
	Fields []StructField // Kind == NodeStruct
}

// Size reports how many ColumnDef slots this node spans.
func (n Node) Size() int {
	switch n.Kind {
	case NodeScalar:
		return 1
	case NodeArray:
		if n.Array == nil {
			return 0
		}
		return n.Count * n.Array.Size()
	case NodeStruct:
		total := 0
		for _, f := range n.Fields {
			total += f.Node.Size()
		}
		return total
	default:
		return 0
	}
}

// Schema is a sheet-name-keyed tree of Nodes plus the column Order its
// source expects columns to be walked in.
type Schema interface {
	// Sheet returns the schema node for the named sheet, or ok=false if the
	// schema has no entry for it (the row reader synthesizes an empty
	// Struct in that case rather than erroring).
	Sheet(name string) (Node, bool)
	Order() Order
}

// StaticSchema is the simplest Schema implementation: an in-memory map of
// sheet name to Node, used by both bundled sources below and by tests.
type StaticSchema struct {
	Sheets     map[string]Node
	ColumnOrder Order
}

func (s StaticSchema) Sheet(name string) (Node, bool) {
	n, ok := s.Sheets[name]
	return n, ok
}

func (s StaticSchema) Order() Order { return s.ColumnOrder }

// SortColumns orders a sheet's columns per a Schema's declared Order; for
// OrderOffset this must be a stable sort so packed-bool alignment within a
// shared byte is preserved.
func SortColumns(order Order, columns []archive.ColumnDef) []archive.ColumnDef {
	if order != OrderOffset {
		return columns
	}
	out := make([]archive.ColumnDef, len(columns))
	copy(out, columns)
	sort.SliceStable(out, func(i, j int) bool { return out[i].Offset < out[j].Offset })
	return out
}
