package query

import "github.com/agentic-research/mache/internal/archive"

// PostNode is a normalized query node: schema-bound leaves over concrete
// columns, ready for SQL planning. Mirrors Node's Group/Leaf shape.
type PostNode struct {
	IsGroup bool
	Group   *PostGroup
	Leaf    *PostLeaf
}

func PostGroupNode(g PostGroup) PostNode { return PostNode{IsGroup: true, Group: &g} }
func PostLeafNode(l PostLeaf) PostNode   { return PostNode{IsGroup: false, Leaf: &l} }

type PostClause struct {
	Occur Occur
	Node  PostNode
}

type PostGroup struct {
	Clauses []PostClause
}

// PostLeaf binds an operation to a concrete game-data column read under a
// specific language.
type PostLeaf struct {
	Column   archive.ColumnDef
	Language archive.Language

	Operation PostOperation
}

// RelationTarget names the sheet a cross-sheet reference resolves to, and
// an optional row-filter condition gating which rows on that sheet are
// eligible (reserved; always nil until reference target conditions are
// implemented).
type RelationTarget struct {
	Sheet     string
	Condition *Condition
}

type Condition struct {
	Selector string
	Value    uint32
}

// PostOperation mirrors Operation but Relation carries a concrete target
// sheet instead of a bare sub-node.
type PostOperation struct {
	Kind     OperationKind
	Relation *PostRelation
	Match    string
	Value    Value
	Number   Number
}

type PostRelation struct {
	Target RelationTarget
	Query  *PostNode
}

func createOrGroup(nodes []PostNode) (PostNode, bool) {
	switch len(nodes) {
	case 0:
		return PostNode{}, false
	case 1:
		return nodes[0], true
	default:
		clauses := make([]PostClause, len(nodes))
		for i, n := range nodes {
			clauses[i] = PostClause{Occur: Should, Node: n}
		}
		return PostGroupNode(PostGroup{Clauses: clauses}), true
	}
}
