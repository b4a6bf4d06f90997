package reconcile

import (
	"context"
	"time"

	"github.com/orneryd/graphschema/pkg/backend"
	"github.com/orneryd/graphschema/pkg/lifecycle"
	"github.com/orneryd/graphschema/pkg/schemadef"
	"github.com/orneryd/graphschema/pkg/schemaerr"
	"github.com/orneryd/graphschema/pkg/state"
)

// populate creates every pending element, category by category, and
// records the declared indexes in the state.
func (m *Manager) populate(ctx context.Context, st *state.State) error {
	if err := m.createProperties(ctx, st); err != nil {
		return err
	}
	if err := m.createVertices(ctx, st); err != nil {
		return err
	}
	if err := m.createEdges(ctx, st); err != nil {
		return err
	}
	for _, c := range []schemadef.Category{
		schemadef.CategoryGraphIndex,
		schemadef.CategoryLocalPropertyIndex,
		schemadef.CategoryLocalEdgeIndex,
	} {
		if err := m.createIndexes(ctx, st, c); err != nil {
			return err
		}
	}
	return nil
}

// ttl returns the duration to create an element with, or zero when the
// backend cannot expire elements.
func (m *Manager) ttl(st *state.State, kind, name string, ttl *schemadef.TTL) time.Duration {
	if ttl == nil {
		return 0
	}
	if !st.TTLSupported() {
		m.log.Warn().Str(kind, name).Stringer("ttl", ttl).Msg("ttl is not supported by the backend, ignoring")
		return 0
	}
	return ttl.Duration
}

func (m *Manager) createProperties(ctx context.Context, st *state.State) error {
	for _, key := range st.Pending(schemadef.CategoryProperty) {
		p, _ := st.Property(key)
		dataType, _ := schemadef.CanonicalDataType(p.DataType)
		err := m.write(ctx, "property key "+key, func(mgmt backend.Management) error {
			pk := &backend.PropertyKey{
				Name:        p.Key,
				DataType:    dataType,
				Cardinality: p.EffectiveCardinality(),
				TTL:         m.ttl(st, "property", p.Key, p.TTL),
			}
			if err := mgmt.CreatePropertyKey(pk); err != nil {
				return schemaerr.Backend("create property key "+key, err)
			}
			return nil
		})
		if err != nil {
			return err
		}
		m.log.Info().Str("property", key).Str("data_type", dataType).Msg("created property key")
	}
	return nil
}

func (m *Manager) createVertices(ctx context.Context, st *state.State) error {
	labels := st.Pending(schemadef.CategoryVertex)
	if len(labels) == 0 {
		return nil
	}
	return m.write(ctx, "vertex labels", func(mgmt backend.Management) error {
		for _, label := range labels {
			v, _ := st.Vertex(label)
			vl := &backend.VertexLabel{
				Name:        v.Label,
				Partitioned: v.Partition,
				Static:      v.Static,
				TTL:         m.ttl(st, "vertex", v.Label, v.TTL),
			}
			if err := mgmt.CreateVertexLabel(vl); err != nil {
				return schemaerr.Backend("create vertex label "+label, err)
			}
			m.log.Info().Str("vertex", label).Msg("created vertex label")
		}
		return nil
	})
}

func (m *Manager) createEdges(ctx context.Context, st *state.State) error {
	labels := st.Pending(schemadef.CategoryEdge)
	if len(labels) == 0 {
		return nil
	}
	return m.write(ctx, "edge labels", func(mgmt backend.Management) error {
		for _, label := range labels {
			e, _ := st.Edge(label)
			el := &backend.EdgeLabel{
				Name:         e.Label,
				Multiplicity: e.EffectiveMultiplicity(),
				Directed:     !e.Unidirected,
				Invisible:    e.Invisible,
				Signature:    e.Signature,
				TTL:          m.ttl(st, "edge", e.Label, e.TTL),
			}
			if err := mgmt.CreateEdgeLabel(el); err != nil {
				return schemaerr.Backend("create edge label "+label, err)
			}
			m.log.Info().Str("edge", label).Msg("created edge label")
		}
		return nil
	})
}

// createIndexes walks the declared indexes of category c in order. Live
// indexes are recorded as they are; pending ones are created, committed
// and activated one at a time.
func (m *Manager) createIndexes(ctx context.Context, st *state.State, c schemadef.Category) error {
	pending := make(map[string]struct{})
	for _, name := range st.Pending(c) {
		pending[name] = struct{}{}
	}
	for _, name := range declaredIndexes(st.Schema(), c) {
		if _, ok := pending[name]; !ok {
			if st.ElementExists(c, name) {
				st.AddIndex(name, false)
			}
			continue
		}
		def, _ := st.Index(name)
		if err := m.createIndex(ctx, st.Schema(), def); err != nil {
			return err
		}
		st.AddIndex(name, true)
	}
	return nil
}

func (m *Manager) createIndex(ctx context.Context, schema *schemadef.Schema, def schemadef.IndexDef) error {
	name := def.IndexName()
	err := m.write(ctx, "index "+name, func(mgmt backend.Management) error {
		var err error
		switch def := def.(type) {
		case *schemadef.GraphIndexDef:
			err = mgmt.CreateGraphIndex(graphIndexOf(schema, def))
		case *schemadef.LocalPropertyIndexDef:
			err = mgmt.CreateRelationIndex(&backend.RelationIndex{
				Name:         def.Name,
				RelationType: def.Key,
				Kind:         backend.RelationProperty,
				SortKeys:     def.SortKey.Keys,
				Order:        def.SortKey.EffectiveOrder(),
			})
		case *schemadef.LocalEdgeIndexDef:
			err = mgmt.CreateRelationIndex(&backend.RelationIndex{
				Name:         def.Name,
				RelationType: def.Label,
				Kind:         backend.RelationEdge,
				Direction:    def.EffectiveDirection(),
				SortKeys:     def.SortKey.Keys,
				Order:        def.SortKey.EffectiveOrder(),
			})
		}
		if err != nil {
			return schemaerr.Backend("create index "+name, err)
		}
		return nil
	})
	if err != nil {
		return err
	}
	m.log.Info().Str("index", name).Stringer("kind", def.Category()).Msg("created index")
	return m.driver.Activate(ctx, lifecycle.RefOf(def))
}

func graphIndexOf(schema *schemadef.Schema, def *schemadef.GraphIndexDef) *backend.GraphIndex {
	element := def.Element
	if element == "" {
		element = schemadef.ElementVertex
	}
	g := &backend.GraphIndex{
		Name:      def.Name,
		Element:   element,
		Type:      def.IndexType,
		Unique:    def.Unique,
		Backend:   schema.BackendFor(def),
		IndexOnly: def.IndexOnly,
	}
	for _, k := range def.Keys {
		key := backend.IndexKey{Key: k.Key, Mapping: k.Mapping}
		if len(k.Parameters) > 0 {
			key.Parameters = make(map[string]string, len(k.Parameters))
			for _, p := range k.Parameters {
				key.Parameters[p.Key] = p.Value
			}
		}
		g.Keys = append(g.Keys, key)
	}
	return g
}

func declaredIndexes(s *schemadef.Schema, c schemadef.Category) []string {
	var names []string
	switch c {
	case schemadef.CategoryGraphIndex:
		for _, i := range s.GraphIndexes {
			names = append(names, i.Name)
		}
	case schemadef.CategoryLocalPropertyIndex:
		for _, i := range s.LocalPropertyIndexes {
			names = append(names, i.Name)
		}
	case schemadef.CategoryLocalEdgeIndex:
		for _, i := range s.LocalEdgeIndexes {
			names = append(names, i.Name)
		}
	}
	return names
}
