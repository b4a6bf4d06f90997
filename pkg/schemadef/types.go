// Package schemadef holds the declared graph schema: vertex labels, edge
// labels, property keys and the three index kinds.
//
// A Schema is produced by LoadFile (or built directly in code) and is
// treated as immutable once handed to the reconciliation packages. The
// three index kinds share one flat name namespace and are modelled as a
// closed sum type, IndexDef, implemented by *GraphIndexDef,
// *LocalPropertyIndexDef and *LocalEdgeIndexDef:
//
//	switch def := idx.(type) {
//	case *schemadef.GraphIndexDef:
//		// composite or mixed index over property keys
//	case *schemadef.LocalPropertyIndexDef:
//		// vertex-centric index on a property key
//	case *schemadef.LocalEdgeIndexDef:
//		// vertex-centric index on an edge label
//	}
//
// Example document (yaml; json is accepted too):
//
//	graph:
//	  name: inventory
//	  schemaFormatVersion: "1.0"
//	  modelVersion: "2.3.1"
//	properties:
//	  - key: sku
//	    dataType: String
//	vertices:
//	  - label: item
//	graphIndexes:
//	  - name: bySku
//	    indexType: COMPOSITE
//	    element: VERTEX
//	    unique: true
//	    keys:
//	      - key: sku
package schemadef

// Schema is the full declared schema after includes are merged.
type Schema struct {
	Graph                GraphInfo               `yaml:"graph" json:"graph"`
	Includes             []string                `yaml:"includes,omitempty" json:"includes,omitempty"`
	Properties           []PropertyDef           `yaml:"properties,omitempty" json:"properties,omitempty"`
	Vertices             []VertexDef             `yaml:"vertices,omitempty" json:"vertices,omitempty"`
	Edges                []EdgeDef               `yaml:"edges,omitempty" json:"edges,omitempty"`
	GraphIndexes         []GraphIndexDef         `yaml:"graphIndexes,omitempty" json:"graphIndexes,omitempty"`
	LocalPropertyIndexes []LocalPropertyIndexDef `yaml:"localPropertyIndexes,omitempty" json:"localPropertyIndexes,omitempty"`
	LocalEdgeIndexes     []LocalEdgeIndexDef     `yaml:"localEdgeIndexes,omitempty" json:"localEdgeIndexes,omitempty"`

	// Digest is the blake2b-256 hex digest of the loaded documents, empty
	// when the schema was built in code.
	Digest string `yaml:"-" json:"-"`
}

// GraphInfo carries graph-wide settings.
type GraphInfo struct {
	Name                string            `yaml:"name" json:"name"`
	SchemaFormatVersion string            `yaml:"schemaFormatVersion" json:"schemaFormatVersion"`
	ModelVersion        string            `yaml:"modelVersion" json:"modelVersion"`
	Conventions         *Conventions      `yaml:"conventions,omitempty" json:"conventions,omitempty"`
	Indexing            *IndexingDefaults `yaml:"indexing,omitempty" json:"indexing,omitempty"`
}

// Conventions are optional naming patterns. An empty pattern is not
// enforced.
type Conventions struct {
	VertexLabelPattern string `yaml:"vertexLabelPattern,omitempty" json:"vertexLabelPattern,omitempty"`
	EdgeLabelPattern   string `yaml:"edgeLabelPattern,omitempty" json:"edgeLabelPattern,omitempty"`
	PropertyKeyPattern string `yaml:"propertyKeyPattern,omitempty" json:"propertyKeyPattern,omitempty"`
	IndexNamePattern   string `yaml:"indexNamePattern,omitempty" json:"indexNamePattern,omitempty"`
}

// IndexingDefaults supplies defaults for mixed indexes.
type IndexingDefaults struct {
	DefaultIndexingBackend string `yaml:"defaultIndexingBackend,omitempty" json:"defaultIndexingBackend,omitempty"`
}

// PropertyDef declares a property key.
type PropertyDef struct {
	Key         string      `yaml:"key" json:"key"`
	DataType    string      `yaml:"dataType" json:"dataType"`
	Cardinality Cardinality `yaml:"cardinality,omitempty" json:"cardinality,omitempty"`
	TTL         *TTL        `yaml:"ttl,omitempty" json:"ttl,omitempty"`
	Description string      `yaml:"description,omitempty" json:"description,omitempty"`
	Doctags     []string    `yaml:"doctags,omitempty" json:"doctags,omitempty"`
}

// EffectiveCardinality returns the declared cardinality or SINGLE.
func (p PropertyDef) EffectiveCardinality() Cardinality {
	if p.Cardinality == "" {
		return CardinalitySingle
	}
	return p.Cardinality
}

// VertexDef declares a vertex label.
type VertexDef struct {
	Label       string   `yaml:"label" json:"label"`
	Partition   bool     `yaml:"partition,omitempty" json:"partition,omitempty"`
	Static      bool     `yaml:"static,omitempty" json:"static,omitempty"`
	TTL         *TTL     `yaml:"ttl,omitempty" json:"ttl,omitempty"`
	Description string   `yaml:"description,omitempty" json:"description,omitempty"`
	Doctags     []string `yaml:"doctags,omitempty" json:"doctags,omitempty"`

	// Properties and Relationships describe usage for documentation only.
	Properties    []RelationshipDesc `yaml:"properties,omitempty" json:"properties,omitempty"`
	Relationships []RelationshipDesc `yaml:"relationships,omitempty" json:"relationships,omitempty"`
}

// EdgeDef declares an edge label.
type EdgeDef struct {
	Label        string       `yaml:"label" json:"label"`
	Multiplicity Multiplicity `yaml:"multiplicity,omitempty" json:"multiplicity,omitempty"`
	Unidirected  bool         `yaml:"unidirected,omitempty" json:"unidirected,omitempty"`
	Invisible    bool         `yaml:"invisible,omitempty" json:"invisible,omitempty"`
	Signature    []string     `yaml:"signature,omitempty" json:"signature,omitempty"`
	TTL          *TTL         `yaml:"ttl,omitempty" json:"ttl,omitempty"`
	Description  string       `yaml:"description,omitempty" json:"description,omitempty"`
	Doctags      []string     `yaml:"doctags,omitempty" json:"doctags,omitempty"`

	Properties    []RelationshipDesc `yaml:"properties,omitempty" json:"properties,omitempty"`
	Relationships []RelationshipDesc `yaml:"relationships,omitempty" json:"relationships,omitempty"`
}

// EffectiveMultiplicity returns the declared multiplicity or MULTI.
func (e EdgeDef) EffectiveMultiplicity() Multiplicity {
	if e.Multiplicity == "" {
		return MultiplicityMulti
	}
	return e.Multiplicity
}

// RelationshipDesc is a documentation-only descriptor attached to vertices
// and edges. It names a related element and is not reconciled.
type RelationshipDesc struct {
	Name        string   `yaml:"name" json:"name"`
	Description string   `yaml:"description,omitempty" json:"description,omitempty"`
	Doctags     []string `yaml:"doctags,omitempty" json:"doctags,omitempty"`
}

// IndexDef is implemented by the three index kinds.
type IndexDef interface {
	IndexName() string
	Category() Category
	indexDef()
}

// GraphIndexDef declares a composite or mixed index.
type GraphIndexDef struct {
	Name      string        `yaml:"name" json:"name"`
	IndexType IndexType     `yaml:"indexType" json:"indexType"`
	Element   ElementKind   `yaml:"element" json:"element"`
	Unique    bool          `yaml:"unique,omitempty" json:"unique,omitempty"`
	Backend   string        `yaml:"indexBackend,omitempty" json:"indexBackend,omitempty"`
	IndexOnly string        `yaml:"indexOnly,omitempty" json:"indexOnly,omitempty"`
	Keys      []IndexKeyDef `yaml:"keys" json:"keys"`
	Doctags   []string      `yaml:"doctags,omitempty" json:"doctags,omitempty"`
}

// IndexKeyDef is one backing property key of a graph index.
type IndexKeyDef struct {
	Key        string           `yaml:"key" json:"key"`
	Mapping    string           `yaml:"mapping,omitempty" json:"mapping,omitempty"`
	Parameters []IndexParameter `yaml:"parameters,omitempty" json:"parameters,omitempty"`
}

// IndexParameter is a backend-specific key/value passed at index creation.
type IndexParameter struct {
	Key   string `yaml:"key" json:"key"`
	Value string `yaml:"value" json:"value"`
}

// KeyNames returns the backing key names in declared order.
func (g *GraphIndexDef) KeyNames() []string {
	names := make([]string, len(g.Keys))
	for i, k := range g.Keys {
		names[i] = k.Key
	}
	return names
}

func (g *GraphIndexDef) IndexName() string { return g.Name }

// Category reports CategoryGraphIndex.
func (g *GraphIndexDef) Category() Category { return CategoryGraphIndex }
func (g *GraphIndexDef) indexDef()          {}

// SortKey orders the entries of a local index.
type SortKey struct {
	Keys  []string `yaml:"keys" json:"keys"`
	Order Order    `yaml:"order,omitempty" json:"order,omitempty"`
}

// EffectiveOrder returns the declared order or ascending.
func (s SortKey) EffectiveOrder() Order {
	if s.Order == "" {
		return OrderAsc
	}
	return s.Order
}

// LocalPropertyIndexDef declares a vertex-centric index on a property key.
type LocalPropertyIndexDef struct {
	Name    string  `yaml:"name" json:"name"`
	Key     string  `yaml:"key" json:"key"`
	SortKey SortKey  `yaml:"sortKey" json:"sortKey"`
	Doctags []string `yaml:"doctags,omitempty" json:"doctags,omitempty"`
}

func (l *LocalPropertyIndexDef) IndexName() string { return l.Name }

// Category reports CategoryLocalPropertyIndex.
func (l *LocalPropertyIndexDef) Category() Category { return CategoryLocalPropertyIndex }
func (l *LocalPropertyIndexDef) indexDef()          {}

// LocalEdgeIndexDef declares a vertex-centric index on an edge label.
type LocalEdgeIndexDef struct {
	Name      string    `yaml:"name" json:"name"`
	Label     string    `yaml:"label" json:"label"`
	Direction Direction `yaml:"direction,omitempty" json:"direction,omitempty"`
	SortKey   SortKey   `yaml:"sortKey" json:"sortKey"`
	Doctags   []string  `yaml:"doctags,omitempty" json:"doctags,omitempty"`
}

// EffectiveDirection returns the declared direction or BOTH.
func (l *LocalEdgeIndexDef) EffectiveDirection() Direction {
	if l.Direction == "" {
		return DirectionBoth
	}
	return l.Direction
}

func (l *LocalEdgeIndexDef) IndexName() string { return l.Name }

// Category reports CategoryLocalEdgeIndex.
func (l *LocalEdgeIndexDef) Category() Category { return CategoryLocalEdgeIndex }
func (l *LocalEdgeIndexDef) indexDef()          {}

// BackendFor returns the indexing backend of a mixed index, falling back
// to the graph-wide default. Composite indexes have no backend.
func (s *Schema) BackendFor(idx *GraphIndexDef) string {
	if idx.IndexType == IndexComposite {
		return ""
	}
	if idx.Backend == "" && s.Graph.Indexing != nil {
		return s.Graph.Indexing.DefaultIndexingBackend
	}
	return idx.Backend
}
