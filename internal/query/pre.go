// Package query parses the query DSL ("+Name=\"Foo\" -Level>=50") into a
// pre-tree AST and normalizes it against a schema and sheet columns into a
// post-tree ready for SQL planning.
package query

import "github.com/agentic-research/mache/internal/archive"

// Occur controls whether a clause must, must not, or may (with relevance
// weighting) match for the enclosing group to match.
type Occur int

const (
	Should Occur = iota
	Must
	MustNot
)

// Node is either a Group of occur-tagged clauses or a Leaf.
type Node struct {
	IsGroup bool
	Group   *Group
	Leaf    *Leaf
}

func GroupNode(g Group) Node { return Node{IsGroup: true, Group: &g} }
func LeafNode(l Leaf) Node   { return Node{IsGroup: false, Leaf: &l} }

type Clause struct {
	Occur Occur
	Node  Node
}

type Group struct {
	Clauses []Clause
}

// FieldSpecifierKind tags which variant a FieldSpecifier holds.
type FieldSpecifierKind int

const (
	FieldStruct FieldSpecifierKind = iota
	FieldArray
)

// FieldSpecifier narrows into either a named struct field (optionally under
// a specific language) or an array (optionally at a specific index).
type FieldSpecifier struct {
	Kind     FieldSpecifierKind
	Name     string
	Language *archive.Language
	Index    *uint32
}

// NumberKind tags which representation a parsed Number holds.
type NumberKind int

const (
	NumberI64 NumberKind = iota
	NumberU64
	NumberF64
)

type Number struct {
	Kind NumberKind
	I64  int64
	U64  uint64
	F64  float64
}

// ValueKind tags which variant a Value holds.
type ValueKind int

const (
	ValueBoolean ValueKind = iota
	ValueNumber
	ValueString
)

type Value struct {
	Kind    ValueKind
	Boolean bool
	Number  Number
	String  string
}

// OperationKind tags which comparison or structural operation a leaf holds.
type OperationKind int

const (
	OpRelation OperationKind = iota
	OpMatch
	OpEq
	OpGte
	OpGt
	OpLte
	OpLt
)

// Operation is the right-hand side of a leaf clause.
type Operation struct {
	Kind     OperationKind
	Relation *Node  // OpRelation
	Match    string // OpMatch
	Value    Value  // OpEq
	Number   Number // OpGte/OpGt/OpLte/OpLt
}

// Leaf is a single query clause: an optional field specifier bound to an
// operation. A nil Field is an unbound leaf (applies to the current schema
// node directly).
type Leaf struct {
	Field     *FieldSpecifier
	Operation Operation
}
