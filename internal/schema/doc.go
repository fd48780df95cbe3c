package schema

// staticSchemaDoc is the on-disk JSON shape both bundled sources decode
// their per-revision schema files into, before converting to the in-memory
// Node tree that Schema.Sheet walks.
type staticSchemaDoc struct {
	Sheets map[string]jsonNode `json:"sheets"`
}

type jsonRefTarget struct {
	Sheet     string          `json:"sheet"`
	Selector  *string         `json:"selector,omitempty"`
	Condition *jsonCondition  `json:"condition,omitempty"`
}

type jsonCondition struct {
	Selector string `json:"selector"`
	Value    uint32 `json:"value"`
}

type jsonStructField struct {
	Name   string   `json:"name"`
	Offset int      `json:"offset"`
	Node   jsonNode `json:"node"`
}

// jsonNode mirrors Node but with a string Kind tag suitable for JSON.
type jsonNode struct {
	Kind    string            `json:"kind"` // "scalar" | "array" | "struct"
	Scalar  string            `json:"scalar,omitempty"` // "default" | "reference" | "icon"
	Targets []jsonRefTarget   `json:"targets,omitempty"`
	Count   int               `json:"count,omitempty"`
	Array   *jsonNode         `json:"array,omitempty"`
	Fields  []jsonStructField `json:"fields,omitempty"`
}

func (n jsonNode) toNode() Node {
	switch n.Kind {
	case "array":
		var inner Node
		if n.Array != nil {
			inner = n.Array.toNode()
		}
		return Node{Kind: NodeArray, Count: n.Count, Array: &inner}
	case "struct":
		fields := make([]StructField, 0, len(n.Fields))
		for _, f := range n.Fields {
			fields = append(fields, StructField{Name: f.Name, Offset: f.Offset, Node: f.Node.toNode()})
		}
		return Node{Kind: NodeStruct, Fields: fields}
	default:
		scalar := Scalar{Kind: ScalarDefault}
		switch n.Scalar {
		case "reference":
			scalar.Kind = ScalarReference
			for _, t := range n.Targets {
				var cond *Condition
				if t.Condition != nil {
					cond = &Condition{Selector: t.Condition.Selector, Value: t.Condition.Value}
				}
				scalar.Targets = append(scalar.Targets, RefTarget{Sheet: t.Sheet, Selector: t.Selector, Condition: cond})
			}
		case "icon":
			scalar.Kind = ScalarIcon
		}
		return Node{Kind: NodeScalar, Scalar: scalar}
	}
}

func (d staticSchemaDoc) toSchema(order Order) Schema {
	sheets := make(map[string]Node, len(d.Sheets))
	for name, n := range d.Sheets {
		sheets[name] = n.toNode()
	}
	return StaticSchema{Sheets: sheets, ColumnOrder: order}
}
