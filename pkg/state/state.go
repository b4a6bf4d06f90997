// Package state keeps the per-run reconciliation bookkeeping.
//
// A State indexes the declared schema by name and records, per element
// category, which declared elements were found live and conformant
// ("existing") and which are absent and scheduled for creation
// ("pending"). It also keeps the ordered list of index names seen during
// population and the subset created by this run, which reindex requests
// scoped to "all" and "new" resolve against.
//
// A State is built fresh for every run and threaded through verify,
// populate and reindex by reference. It is not safe for concurrent use;
// a run is single-threaded.
//
// Example:
//
//	st, err := state.New(schema)
//	if err != nil {
//		return err // duplicate declaration
//	}
//	if !st.ElementExists(schemadef.CategoryProperty, "sku") &&
//		!st.PendingElementExists(schemadef.CategoryProperty, "sku") {
//		// neither live nor scheduled
//	}
package state

import (
	"github.com/orneryd/graphschema/pkg/schemadef"
	"github.com/orneryd/graphschema/pkg/schemaerr"
)

// State is the reconciliation context of one run.
type State struct {
	schema *schemadef.Schema

	properties map[string]*schemadef.PropertyDef
	vertices   map[string]*schemadef.VertexDef
	edges      map[string]*schemadef.EdgeDef
	indexes    map[string]schemadef.IndexDef

	existing map[schemadef.Category]map[string]struct{}
	pending  map[schemadef.Category]map[string]struct{}

	allIndexes []string
	newIndexes []string

	ttlSupported bool
}

// New indexes schema by name. It fails with a DuplicateDeclarationError if
// a name repeats within its category, or anywhere in the shared index
// namespace.
func New(schema *schemadef.Schema) (*State, error) {
	st := &State{
		schema:     schema,
		properties: make(map[string]*schemadef.PropertyDef, len(schema.Properties)),
		vertices:   make(map[string]*schemadef.VertexDef, len(schema.Vertices)),
		edges:      make(map[string]*schemadef.EdgeDef, len(schema.Edges)),
		indexes:    make(map[string]schemadef.IndexDef),
		existing:   make(map[schemadef.Category]map[string]struct{}, len(schemadef.Categories)),
		pending:    make(map[schemadef.Category]map[string]struct{}, len(schemadef.Categories)),
	}
	for _, c := range schemadef.Categories {
		st.existing[c] = make(map[string]struct{})
		st.pending[c] = make(map[string]struct{})
	}

	for i := range schema.Properties {
		p := &schema.Properties[i]
		if _, dup := st.properties[p.Key]; dup {
			return nil, &schemaerr.DuplicateDeclarationError{Category: "property key", Name: p.Key}
		}
		st.properties[p.Key] = p
	}
	for i := range schema.Vertices {
		v := &schema.Vertices[i]
		if _, dup := st.vertices[v.Label]; dup {
			return nil, &schemaerr.DuplicateDeclarationError{Category: "vertex label", Name: v.Label}
		}
		st.vertices[v.Label] = v
	}
	for i := range schema.Edges {
		e := &schema.Edges[i]
		if _, dup := st.edges[e.Label]; dup {
			return nil, &schemaerr.DuplicateDeclarationError{Category: "edge label", Name: e.Label}
		}
		st.edges[e.Label] = e
	}

	for i := range schema.GraphIndexes {
		if err := st.putIndex(&schema.GraphIndexes[i]); err != nil {
			return nil, err
		}
	}
	for i := range schema.LocalEdgeIndexes {
		if err := st.putIndex(&schema.LocalEdgeIndexes[i]); err != nil {
			return nil, err
		}
	}
	for i := range schema.LocalPropertyIndexes {
		if err := st.putIndex(&schema.LocalPropertyIndexes[i]); err != nil {
			return nil, err
		}
	}
	return st, nil
}

func (st *State) putIndex(def schemadef.IndexDef) error {
	name := def.IndexName()
	if _, dup := st.indexes[name]; dup {
		return &schemaerr.DuplicateDeclarationError{Category: "index name", Name: name}
	}
	st.indexes[name] = def
	return nil
}

// Schema returns the declared schema the state was built from.
func (st *State) Schema() *schemadef.Schema { return st.schema }

// AddElement marks name as live and conformant. It returns false if name
// was already marked.
func (st *State) AddElement(c schemadef.Category, name string) bool {
	return add(st.existing[c], name)
}

// ElementExists reports whether name was found live and conformant.
func (st *State) ElementExists(c schemadef.Category, name string) bool {
	_, ok := st.existing[c][name]
	return ok
}

// AddPendingElement schedules name for creation. It returns false if name
// was already pending, which callers treat as a duplicate declaration.
func (st *State) AddPendingElement(c schemadef.Category, name string) bool {
	return add(st.pending[c], name)
}

// PendingElementExists reports whether name is scheduled for creation.
func (st *State) PendingElementExists(c schemadef.Category, name string) bool {
	_, ok := st.pending[c][name]
	return ok
}

// Pending returns the pending names of category c in declaration order.
func (st *State) Pending(c schemadef.Category) []string {
	return st.inOrder(c, st.pending[c])
}

// Existing returns the existing names of category c in declaration order.
func (st *State) Existing(c schemadef.Category) []string {
	return st.inOrder(c, st.existing[c])
}

func (st *State) inOrder(c schemadef.Category, set map[string]struct{}) []string {
	var out []string
	for _, name := range st.declared(c) {
		if _, ok := set[name]; ok {
			out = append(out, name)
		}
	}
	return out
}

func (st *State) declared(c schemadef.Category) []string {
	var names []string
	switch c {
	case schemadef.CategoryProperty:
		for _, p := range st.schema.Properties {
			names = append(names, p.Key)
		}
	case schemadef.CategoryVertex:
		for _, v := range st.schema.Vertices {
			names = append(names, v.Label)
		}
	case schemadef.CategoryEdge:
		for _, e := range st.schema.Edges {
			names = append(names, e.Label)
		}
	case schemadef.CategoryGraphIndex:
		for _, i := range st.schema.GraphIndexes {
			names = append(names, i.Name)
		}
	case schemadef.CategoryLocalPropertyIndex:
		for _, i := range st.schema.LocalPropertyIndexes {
			names = append(names, i.Name)
		}
	case schemadef.CategoryLocalEdgeIndex:
		for _, i := range st.schema.LocalEdgeIndexes {
			names = append(names, i.Name)
		}
	}
	return names
}

// AddIndex appends name to the index list, and to the new-index list when
// isNew is set.
func (st *State) AddIndex(name string, isNew bool) {
	st.allIndexes = append(st.allIndexes, name)
	if isNew {
		st.newIndexes = append(st.newIndexes, name)
	}
}

// AllIndexes returns a copy of every index name recorded so far.
func (st *State) AllIndexes() []string {
	return append([]string(nil), st.allIndexes...)
}

// NewIndexes returns a copy of the index names created by this run.
func (st *State) NewIndexes() []string {
	return append([]string(nil), st.newIndexes...)
}

// Index returns the declared index named name.
func (st *State) Index(name string) (schemadef.IndexDef, bool) {
	def, ok := st.indexes[name]
	return def, ok
}

// Property returns the declared property key.
func (st *State) Property(key string) (*schemadef.PropertyDef, bool) {
	p, ok := st.properties[key]
	return p, ok
}

// Vertex returns the declared vertex label.
func (st *State) Vertex(label string) (*schemadef.VertexDef, bool) {
	v, ok := st.vertices[label]
	return v, ok
}

// Edge returns the declared edge label.
func (st *State) Edge(label string) (*schemadef.EdgeDef, bool) {
	e, ok := st.edges[label]
	return e, ok
}

// TTLSupported reports whether the backend honours per-element expiration.
func (st *State) TTLSupported() bool { return st.ttlSupported }

// SetTTLSupported records the detected backend capability.
func (st *State) SetTTLSupported(v bool) { st.ttlSupported = v }

func add(set map[string]struct{}, name string) bool {
	if _, ok := set[name]; ok {
		return false
	}
	set[name] = struct{}{}
	return true
}
