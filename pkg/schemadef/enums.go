package schemadef

import "strings"

// Category identifies the kind of a schema element. Vertices, edges and
// properties each have their own name namespace; the three index
// categories share one.
type Category int

const (
	CategoryProperty Category = iota
	CategoryVertex
	CategoryEdge
	CategoryGraphIndex
	CategoryLocalPropertyIndex
	CategoryLocalEdgeIndex
)

// Categories lists every category in processing order.
var Categories = []Category{
	CategoryProperty,
	CategoryVertex,
	CategoryEdge,
	CategoryGraphIndex,
	CategoryLocalPropertyIndex,
	CategoryLocalEdgeIndex,
}

func (c Category) String() string {
	switch c {
	case CategoryProperty:
		return "property"
	case CategoryVertex:
		return "vertex"
	case CategoryEdge:
		return "edge"
	case CategoryGraphIndex:
		return "index"
	case CategoryLocalPropertyIndex:
		return "local property index"
	case CategoryLocalEdgeIndex:
		return "local edge index"
	default:
		return "unknown"
	}
}

// Cardinality of a property key.
type Cardinality string

const (
	CardinalitySingle Cardinality = "SINGLE"
	CardinalityList   Cardinality = "LIST"
	CardinalitySet    Cardinality = "SET"
)

// Multiplicity of an edge label.
type Multiplicity string

const (
	MultiplicityMulti    Multiplicity = "MULTI"
	MultiplicitySimple   Multiplicity = "SIMPLE"
	MultiplicityMany2One Multiplicity = "MANY2ONE"
	MultiplicityOne2Many Multiplicity = "ONE2MANY"
	MultiplicityOne2One  Multiplicity = "ONE2ONE"
)

// IndexType distinguishes composite from mixed graph indexes.
type IndexType string

const (
	IndexComposite IndexType = "COMPOSITE"
	IndexMixed     IndexType = "MIXED"
)

// ElementKind is the element a graph index covers.
type ElementKind string

const (
	ElementVertex ElementKind = "VERTEX"
	ElementEdge   ElementKind = "EDGE"
)

// Order of a local index sort key.
type Order string

const (
	OrderAsc  Order = "asc"
	OrderDesc Order = "desc"
)

// Direction of a local edge index.
type Direction string

const (
	DirectionOut  Direction = "OUT"
	DirectionIn   Direction = "IN"
	DirectionBoth Direction = "BOTH"
)

// dataTypes are the property value types a backend can construct. Lookup
// is case-insensitive.
var dataTypes = map[string]string{
	"string":    "String",
	"character": "Character",
	"boolean":   "Boolean",
	"byte":      "Byte",
	"short":     "Short",
	"integer":   "Integer",
	"long":      "Long",
	"float":     "Float",
	"double":    "Double",
	"decimal":   "Decimal",
	"precision": "Precision",
	"date":      "Date",
	"instant":   "Instant",
	"geoshape":  "Geoshape",
	"uuid":      "UUID",
	"object":    "Object",
}

// CanonicalDataType resolves a declared data type name to its canonical
// spelling. ok is false for unknown types.
func CanonicalDataType(name string) (canonical string, ok bool) {
	canonical, ok = dataTypes[strings.ToLower(strings.TrimSpace(name))]
	return canonical, ok
}
