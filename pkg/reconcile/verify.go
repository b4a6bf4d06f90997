package reconcile

import (
	"context"
	"fmt"
	"slices"

	"github.com/orneryd/graphschema/pkg/backend"
	"github.com/orneryd/graphschema/pkg/schemadef"
	"github.com/orneryd/graphschema/pkg/schemaerr"
	"github.com/orneryd/graphschema/pkg/state"
)

// verify compares every declared element with the live schema and marks
// it existing or pending. It never writes.
func (m *Manager) verify(ctx context.Context, st *state.State) error {
	steps := []func(context.Context, *state.State) error{
		m.verifyProperties,
		m.verifyVertices,
		m.verifyEdges,
		m.verifyGraphIndexes,
		m.verifyLocalPropertyIndexes,
		m.verifyLocalEdgeIndexes,
	}
	for _, step := range steps {
		if err := step(ctx, st); err != nil {
			return err
		}
	}
	m.log.Info().
		Int("pending_properties", len(st.Pending(schemadef.CategoryProperty))).
		Int("pending_vertices", len(st.Pending(schemadef.CategoryVertex))).
		Int("pending_edges", len(st.Pending(schemadef.CategoryEdge))).
		Int("pending_graph_indexes", len(st.Pending(schemadef.CategoryGraphIndex))).
		Int("pending_local_property_indexes", len(st.Pending(schemadef.CategoryLocalPropertyIndex))).
		Int("pending_local_edge_indexes", len(st.Pending(schemadef.CategoryLocalEdgeIndex))).
		Msg("schema verified")
	return nil
}

func (m *Manager) verifyProperties(ctx context.Context, st *state.State) error {
	const c = schemadef.CategoryProperty
	return m.read(ctx, func(mgmt backend.Management) error {
		for _, p := range st.Schema().Properties {
			live, err := mgmt.PropertyKey(p.Key)
			if backend.IsNotFound(err) {
				if err := addPending(st, c, p.Key); err != nil {
					return err
				}
				continue
			}
			if err != nil {
				return schemaerr.Backend("read property key "+p.Key, err)
			}

			if err := assertSetting(c, p.Key, "cardinality", p.EffectiveCardinality(), live.Cardinality); err != nil {
				return err
			}
			dataType, _ := schemadef.CanonicalDataType(p.DataType)
			if err := assertSetting(c, p.Key, "dataType", dataType, live.DataType); err != nil {
				return err
			}
			st.AddElement(c, p.Key)
			m.log.Debug().Str("property", p.Key).Msg("property key exists")
		}
		return nil
	})
}

func (m *Manager) verifyVertices(ctx context.Context, st *state.State) error {
	const c = schemadef.CategoryVertex
	return m.read(ctx, func(mgmt backend.Management) error {
		for _, v := range st.Schema().Vertices {
			live, err := mgmt.VertexLabel(v.Label)
			if backend.IsNotFound(err) {
				if err := addPending(st, c, v.Label); err != nil {
					return err
				}
				continue
			}
			if err != nil {
				return schemaerr.Backend("read vertex label "+v.Label, err)
			}

			if err := assertSetting(c, v.Label, "partition", v.Partition, live.Partitioned); err != nil {
				return err
			}
			if err := assertSetting(c, v.Label, "static", v.Static, live.Static); err != nil {
				return err
			}
			st.AddElement(c, v.Label)
			m.log.Debug().Str("vertex", v.Label).Msg("vertex label exists")
		}
		return nil
	})
}

func (m *Manager) verifyEdges(ctx context.Context, st *state.State) error {
	const c = schemadef.CategoryEdge
	return m.read(ctx, func(mgmt backend.Management) error {
		for _, e := range st.Schema().Edges {
			referrer := fmt.Sprintf("edge %q signature", e.Label)
			for _, key := range e.Signature {
				if err := resolve(st, schemadef.CategoryProperty, referrer, key); err != nil {
					return err
				}
			}

			live, err := mgmt.EdgeLabel(e.Label)
			if backend.IsNotFound(err) {
				if err := addPending(st, c, e.Label); err != nil {
					return err
				}
				continue
			}
			if err != nil {
				return schemaerr.Backend("read edge label "+e.Label, err)
			}

			if err := assertSetting(c, e.Label, "unidirected", e.Unidirected, !live.Directed); err != nil {
				return err
			}
			if err := assertSetting(c, e.Label, "multiplicity", e.EffectiveMultiplicity(), live.Multiplicity); err != nil {
				return err
			}
			if err := assertSet(c, e.Label, "signature", e.Signature, live.Signature); err != nil {
				return err
			}
			st.AddElement(c, e.Label)
			m.log.Debug().Str("edge", e.Label).Msg("edge label exists")
		}
		return nil
	})
}

func (m *Manager) verifyGraphIndexes(ctx context.Context, st *state.State) error {
	const c = schemadef.CategoryGraphIndex
	schema := st.Schema()
	return m.read(ctx, func(mgmt backend.Management) error {
		for i := range schema.GraphIndexes {
			def := &schema.GraphIndexes[i]
			live, err := mgmt.GraphIndex(def.Name)
			if backend.IsNotFound(err) {
				if err := resolveGraphIndex(st, def); err != nil {
					return err
				}
				if err := addPending(st, c, def.Name); err != nil {
					return err
				}
				continue
			}
			if err != nil {
				return schemaerr.Backend("read graph index "+def.Name, err)
			}

			element := def.Element
			if element == "" {
				element = schemadef.ElementVertex
			}
			if err := assertSetting(c, def.Name, "relationType", element, live.Element); err != nil {
				return err
			}
			if err := assertSetting(c, def.Name, "indexType", def.IndexType, live.Type); err != nil {
				return err
			}
			if err := assertSetting(c, def.Name, "unique", def.Unique, live.Unique); err != nil {
				return err
			}
			if def.IndexType == schemadef.IndexMixed {
				if err := assertSetting(c, def.Name, "indexBackend", schema.BackendFor(def), live.Backend); err != nil {
					return err
				}
			}
			if err := assertSetting(c, def.Name, "indexOnly", def.IndexOnly, live.IndexOnly); err != nil {
				return err
			}
			if err := assertSet(c, def.Name, "keys", def.KeyNames(), live.KeyNames()); err != nil {
				return err
			}
			st.AddElement(c, def.Name)

			for _, key := range live.KeyNames() {
				if status := live.KeyStatus[key]; status != backend.StatusEnabled {
					m.log.Warn().Str("index", def.Name).Str("key", key).Stringer("status", status).
						Msg("graph index key is not enabled")
				}
			}
			m.log.Debug().Str("index", def.Name).Msg("graph index exists")
		}
		return nil
	})
}

func resolveGraphIndex(st *state.State, def *schemadef.GraphIndexDef) error {
	referrer := fmt.Sprintf("graph index %q", def.Name)
	for _, key := range def.KeyNames() {
		if err := resolve(st, schemadef.CategoryProperty, referrer, key); err != nil {
			return err
		}
	}
	if def.IndexOnly == "" {
		return nil
	}
	owner := schemadef.CategoryVertex
	if def.Element == schemadef.ElementEdge {
		owner = schemadef.CategoryEdge
	}
	return resolve(st, owner, referrer, def.IndexOnly)
}

func (m *Manager) verifyLocalPropertyIndexes(ctx context.Context, st *state.State) error {
	const c = schemadef.CategoryLocalPropertyIndex
	return m.read(ctx, func(mgmt backend.Management) error {
		for _, def := range st.Schema().LocalPropertyIndexes {
			referrer := fmt.Sprintf("local property index %q", def.Name)
			pending, err := localIndexOwner(st, schemadef.CategoryProperty, referrer, def.Key)
			if err != nil {
				return err
			}
			if pending {
				if err := addPendingLocal(st, c, referrer, def.Name, def.SortKey); err != nil {
					return err
				}
				continue
			}

			live, err := mgmt.RelationIndex(def.Key, def.Name)
			if backend.IsNotFound(err) {
				if err := addPendingLocal(st, c, referrer, def.Name, def.SortKey); err != nil {
					return err
				}
				continue
			}
			if err != nil {
				return schemaerr.Backend("read local property index "+def.Name, err)
			}
			if err := assertSortKey(c, def.Name, def.SortKey, live); err != nil {
				return err
			}
			st.AddElement(c, def.Name)
			m.warnNotEnabled(live)
		}
		return nil
	})
}

func (m *Manager) verifyLocalEdgeIndexes(ctx context.Context, st *state.State) error {
	const c = schemadef.CategoryLocalEdgeIndex
	return m.read(ctx, func(mgmt backend.Management) error {
		for i := range st.Schema().LocalEdgeIndexes {
			def := &st.Schema().LocalEdgeIndexes[i]
			referrer := fmt.Sprintf("local edge index %q", def.Name)
			pending, err := localIndexOwner(st, schemadef.CategoryEdge, referrer, def.Label)
			if err != nil {
				return err
			}
			if pending {
				if err := addPendingLocal(st, c, referrer, def.Name, def.SortKey); err != nil {
					return err
				}
				continue
			}

			live, err := mgmt.RelationIndex(def.Label, def.Name)
			if backend.IsNotFound(err) {
				if err := addPendingLocal(st, c, referrer, def.Name, def.SortKey); err != nil {
					return err
				}
				continue
			}
			if err != nil {
				return schemaerr.Backend("read local edge index "+def.Name, err)
			}
			if err := assertSetting(c, def.Name, "direction", def.EffectiveDirection(), live.Direction); err != nil {
				return err
			}
			if err := assertSortKey(c, def.Name, def.SortKey, live); err != nil {
				return err
			}
			st.AddElement(c, def.Name)
			m.warnNotEnabled(live)
		}
		return nil
	})
}

// localIndexOwner reports whether the owning property key or edge label
// of a local index is pending. An owner that is neither live nor pending
// is an unresolved reference.
func localIndexOwner(st *state.State, owner schemadef.Category, referrer, name string) (pending bool, err error) {
	if st.PendingElementExists(owner, name) {
		return true, nil
	}
	if st.ElementExists(owner, name) {
		return false, nil
	}
	return false, unresolved(owner, referrer, name)
}

func addPendingLocal(st *state.State, c schemadef.Category, referrer, name string, sk schemadef.SortKey) error {
	for _, key := range sk.Keys {
		if err := resolve(st, schemadef.CategoryProperty, referrer+" sort key", key); err != nil {
			return err
		}
	}
	return addPending(st, c, name)
}

func (m *Manager) warnNotEnabled(live *backend.RelationIndex) {
	if live.Status != backend.StatusEnabled {
		m.log.Warn().Str("index", live.Name).Str("relation_type", live.RelationType).
			Stringer("status", live.Status).Msg("local index is not enabled")
		return
	}
	m.log.Debug().Str("index", live.Name).Msg("local index exists")
}

func assertSortKey(c schemadef.Category, name string, sk schemadef.SortKey, live *backend.RelationIndex) error {
	if err := assertSet(c, name, "sortKey", sk.Keys, live.SortKeys); err != nil {
		return err
	}
	order := live.Order
	if order == "" {
		order = schemadef.OrderAsc
	}
	return assertSetting(c, name, "sortOrder", sk.EffectiveOrder(), order)
}

// resolve checks that name of category c is live or scheduled.
func resolve(st *state.State, c schemadef.Category, referrer, name string) error {
	if st.ElementExists(c, name) || st.PendingElementExists(c, name) {
		return nil
	}
	return unresolved(c, referrer, name)
}

func unresolved(c schemadef.Category, referrer, name string) error {
	category := c.String()
	switch c {
	case schemadef.CategoryProperty:
		category = "property key"
	case schemadef.CategoryVertex:
		category = "vertex label"
	case schemadef.CategoryEdge:
		category = "edge label"
	}
	return &schemaerr.UnresolvedReferenceError{Referrer: referrer, Category: category, Name: name}
}

func addPending(st *state.State, c schemadef.Category, name string) error {
	if !st.AddPendingElement(c, name) {
		return &schemaerr.DuplicateDeclarationError{Category: c.String(), Name: name}
	}
	return nil
}

func assertSetting[T comparable](c schemadef.Category, name, property string, declared, live T) error {
	if declared == live {
		return nil
	}
	return &schemaerr.DriftError{Category: c.String(), Name: name, Property: property, Declared: declared, Live: live}
}

// assertSet compares two name lists ignoring order.
func assertSet(c schemadef.Category, name, property string, declared, live []string) error {
	d := slices.Clone(declared)
	slices.Sort(d)
	l := slices.Clone(live)
	slices.Sort(l)
	if slices.Equal(d, l) {
		return nil
	}
	return &schemaerr.DriftError{Category: c.String(), Name: name, Property: property, Declared: declared, Live: live}
}
