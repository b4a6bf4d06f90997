package backend

import (
	"errors"
	"fmt"

	"github.com/dgraph-io/badger/v4"

	"github.com/orneryd/graphschema/pkg/schemadef"
)

// badgerSession is a Management session over one badger read-write
// transaction. Commit maps to Txn.Commit and Rollback to Txn.Discard.
type badgerSession struct {
	store *BadgerStore
	txn   *badger.Txn
	id    string
	open  bool
}

func (m *badgerSession) IsOpen() bool { return m.open }

func (m *badgerSession) Commit() error {
	if !m.open {
		return ErrSessionClosed
	}
	m.open = false
	if err := m.txn.Commit(); err != nil {
		return fmt.Errorf("catalog commit failed: %w", err)
	}
	m.store.log.Trace().Str("session", m.id).Msg("management session committed")
	return nil
}

func (m *badgerSession) Rollback() error {
	if !m.open {
		return ErrSessionClosed
	}
	m.open = false
	m.txn.Discard()
	m.store.log.Trace().Str("session", m.id).Msg("management session rolled back")
	return nil
}

func (m *badgerSession) check() error {
	if !m.open {
		return ErrSessionClosed
	}
	return nil
}

// ============================================================================
// Lookups
// ============================================================================

func (m *badgerSession) VertexLabel(name string) (*VertexLabel, error) {
	if err := m.check(); err != nil {
		return nil, err
	}
	var v VertexLabel
	if err := getValue(m.txn, nameKey(prefixVertexLabel, name), &v); err != nil {
		return nil, err
	}
	return &v, nil
}

func (m *badgerSession) EdgeLabel(name string) (*EdgeLabel, error) {
	if err := m.check(); err != nil {
		return nil, err
	}
	var e EdgeLabel
	if err := getValue(m.txn, nameKey(prefixEdgeLabel, name), &e); err != nil {
		return nil, err
	}
	return &e, nil
}

func (m *badgerSession) PropertyKey(name string) (*PropertyKey, error) {
	if err := m.check(); err != nil {
		return nil, err
	}
	var p PropertyKey
	if err := getValue(m.txn, nameKey(prefixPropertyKey, name), &p); err != nil {
		return nil, err
	}
	return &p, nil
}

func (m *badgerSession) GraphIndex(name string) (*GraphIndex, error) {
	if err := m.check(); err != nil {
		return nil, err
	}
	rec, err := m.store.loadGraphIndex(m.txn, name)
	if err != nil {
		return nil, err
	}
	return &rec.Index, nil
}

func (m *badgerSession) RelationIndex(relationType, name string) (*RelationIndex, error) {
	if err := m.check(); err != nil {
		return nil, err
	}
	rec, err := m.store.loadRelationIndex(m.txn, relationType, name)
	if err != nil {
		return nil, err
	}
	return &rec.Index, nil
}

// Indexes lists every graph and relation index in the catalog.
func (m *badgerSession) Indexes() ([]IndexRef, error) {
	if err := m.check(); err != nil {
		return nil, err
	}
	var refs []IndexRef
	err := scan(m.txn, []byte{prefixGraphIndex}, func(key, _ []byte) error {
		refs = append(refs, GraphIndexRef(string(key[1:])))
		return nil
	})
	if err != nil {
		return nil, err
	}
	err = scan(m.txn, []byte{prefixRelationIndex}, func(key, _ []byte) error {
		relType, name := splitRelationIndexKey(key)
		refs = append(refs, RelationIndexRef(relType, name))
		return nil
	})
	if err != nil {
		return nil, err
	}
	SortRefs(refs)
	return refs, nil
}

// ============================================================================
// Creation
// ============================================================================

func (m *badgerSession) create(key []byte, kind, name string, v any) error {
	if err := m.check(); err != nil {
		return err
	}
	if name == "" {
		return fmt.Errorf("%s: %w: empty name", kind, ErrInvalidRecord)
	}
	found, err := exists(m.txn, key)
	if err != nil {
		return err
	}
	if found {
		return fmt.Errorf("%s %q: %w", kind, name, ErrAlreadyExists)
	}
	if err := putValue(m.txn, key, v); err != nil {
		return err
	}
	m.store.log.Debug().Str("session", m.id).Str("kind", kind).Str("name", name).Msg("catalog element staged")
	return nil
}

func (m *badgerSession) checkTTL(kind, name string, ttl int64) error {
	if ttl != 0 && !m.store.opts.CellTTL {
		return fmt.Errorf("%s %q: %w", kind, name, ErrTTLUnsupported)
	}
	return nil
}

func (m *badgerSession) requireProperty(owner, key string) error {
	found, err := exists(m.txn, nameKey(prefixPropertyKey, key))
	if err != nil {
		return err
	}
	if !found {
		return fmt.Errorf("%s: property key %q: %w", owner, key, ErrUnknownReference)
	}
	return nil
}

func (m *badgerSession) CreateVertexLabel(v *VertexLabel) error {
	if err := m.checkTTL("vertex label", v.Name, int64(v.TTL)); err != nil {
		return err
	}
	return m.create(nameKey(prefixVertexLabel, v.Name), "vertex label", v.Name, v)
}

func (m *badgerSession) CreateEdgeLabel(e *EdgeLabel) error {
	if err := m.checkTTL("edge label", e.Name, int64(e.TTL)); err != nil {
		return err
	}
	for _, key := range e.Signature {
		if err := m.requireProperty("edge label "+e.Name+" signature", key); err != nil {
			return err
		}
	}
	if e.Multiplicity == "" {
		e.Multiplicity = schemadef.MultiplicityMulti
	}
	return m.create(nameKey(prefixEdgeLabel, e.Name), "edge label", e.Name, e)
}

func (m *badgerSession) CreatePropertyKey(p *PropertyKey) error {
	if err := m.checkTTL("property key", p.Name, int64(p.TTL)); err != nil {
		return err
	}
	if p.Cardinality == "" {
		p.Cardinality = schemadef.CardinalitySingle
	}
	return m.create(nameKey(prefixPropertyKey, p.Name), "property key", p.Name, p)
}

func (m *badgerSession) CreateGraphIndex(g *GraphIndex) error {
	if err := m.check(); err != nil {
		return err
	}
	if len(g.Keys) == 0 {
		return fmt.Errorf("graph index %q: %w: no keys", g.Name, ErrInvalidRecord)
	}
	for _, k := range g.Keys {
		if err := m.requireProperty("graph index "+g.Name, k.Key); err != nil {
			return err
		}
	}
	if g.IndexOnly != "" {
		prefix, kind := prefixVertexLabel, "vertex label"
		if g.Element == schemadef.ElementEdge {
			prefix, kind = prefixEdgeLabel, "edge label"
		}
		found, err := exists(m.txn, nameKey(prefix, g.IndexOnly))
		if err != nil {
			return err
		}
		if !found {
			return fmt.Errorf("graph index %q: %s %q: %w", g.Name, kind, g.IndexOnly, ErrUnknownReference)
		}
	}

	rec := graphIndexRecord{Index: *g, Pending: make(map[string]transition)}
	rec.Index.KeyStatus = make(map[string]Status, len(g.Keys))
	for _, k := range g.Keys {
		rec.Index.KeyStatus[k.Key] = StatusInstalled
		if m.store.opts.AutoRegister {
			rec.Pending[k.Key] = m.store.schedule(StatusRegistered)
		}
	}
	return m.create(graphIndexKey(g.Name), "graph index", g.Name, &rec)
}

func (m *badgerSession) CreateRelationIndex(r *RelationIndex) error {
	if err := m.check(); err != nil {
		return err
	}
	switch r.Kind {
	case RelationProperty:
		if err := m.requireProperty("relation index "+r.Name, r.RelationType); err != nil {
			return err
		}
	case RelationEdge:
		found, err := exists(m.txn, nameKey(prefixEdgeLabel, r.RelationType))
		if err != nil {
			return err
		}
		if !found {
			return fmt.Errorf("relation index %q: edge label %q: %w", r.Name, r.RelationType, ErrUnknownReference)
		}
	default:
		return fmt.Errorf("relation index %q: %w: kind %q", r.Name, ErrInvalidRecord, r.Kind)
	}
	for _, key := range r.SortKeys {
		if err := m.requireProperty("relation index "+r.Name+" sort key", key); err != nil {
			return err
		}
	}
	if r.Order == "" {
		r.Order = schemadef.OrderAsc
	}

	rec := relationIndexRecord{Index: *r}
	rec.Index.Status = StatusInstalled
	if m.store.opts.AutoRegister {
		t := m.store.schedule(StatusRegistered)
		rec.Pending = &t
	}
	return m.create(relationIndexKey(r.RelationType, r.Name), "relation index", r.Name, &rec)
}

// ============================================================================
// Status actions
// ============================================================================

// UpdateIndex stages action on the index. Register and enable only move
// keys that are in the matching source status; keys elsewhere are left
// alone. REINDEX requires the index to be fully enabled and records a
// completed local rebuild job.
func (m *badgerSession) UpdateIndex(ref IndexRef, action Action) error {
	if err := m.check(); err != nil {
		return err
	}
	if action == ActionReindex {
		if err := m.store.requireEnabled(m.txn, ref); err != nil {
			return err
		}
		job, err := m.store.putJob(m.txn, ref, MethodLocal, "completed")
		if err != nil {
			return err
		}
		m.store.log.Debug().Str("index", ref.String()).Str("job", job.ID).Msg("local reindex staged")
		return nil
	}

	if ref.IsGraphIndex() {
		rec, err := m.store.loadGraphIndex(m.txn, ref.Name)
		if err != nil {
			return err
		}
		for _, k := range rec.Index.Keys {
			next, ok := m.apply(action, rec.Index.KeyStatus[k.Key])
			if !ok {
				continue
			}
			if action == ActionDisableIndex {
				rec.Index.KeyStatus[k.Key] = next
				delete(rec.Pending, k.Key)
				continue
			}
			rec.Pending[k.Key] = m.store.schedule(next)
		}
		return putValue(m.txn, graphIndexKey(ref.Name), rec)
	}

	rec, err := m.store.loadRelationIndex(m.txn, ref.RelationType, ref.Name)
	if err != nil {
		return err
	}
	if next, ok := m.apply(action, rec.Index.Status); ok {
		if action == ActionDisableIndex {
			rec.Index.Status = next
			rec.Pending = nil
		} else {
			t := m.store.schedule(next)
			rec.Pending = &t
		}
	}
	return putValue(m.txn, relationIndexKey(ref.RelationType, ref.Name), rec)
}

// apply returns the status action leads to from cur, or false if action
// does not apply to cur.
func (m *badgerSession) apply(action Action, cur Status) (Status, bool) {
	switch action {
	case ActionRegisterIndex:
		return StatusRegistered, cur == StatusInstalled
	case ActionEnableIndex:
		return StatusEnabled, cur == StatusRegistered
	case ActionDisableIndex:
		return StatusDisabled, cur != StatusDisabled
	default:
		return cur, false
	}
}

var _ Management = (*badgerSession)(nil)
var _ Store = (*BadgerStore)(nil)
var _ BatchRunner = (*BadgerStore)(nil)

// IsNotFound reports whether err means a catalog element is absent.
func IsNotFound(err error) bool { return errors.Is(err, ErrNotFound) }
