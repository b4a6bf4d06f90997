package lifecycle

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/orneryd/graphschema/pkg/backend"
	"github.com/orneryd/graphschema/pkg/schemadef"
	"github.com/orneryd/graphschema/pkg/schemaerr"
)

func newStore(t *testing.T, opts backend.Options) *backend.BadgerStore {
	t.Helper()
	opts.InMemory = true
	store, err := backend.OpenBadger(opts)
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func commit(t *testing.T, store backend.Store, fn func(m backend.Management)) {
	t.Helper()
	m, err := store.OpenManagement(context.Background())
	require.NoError(t, err)
	fn(m)
	require.NoError(t, m.Commit())
}

// seed creates property keys sku and since, edge label knows, a two-key
// composite index bySkuSince and a local property index skuBySince.
func seed(t *testing.T, store backend.Store) {
	commit(t, store, func(m backend.Management) {
		require.NoError(t, m.CreatePropertyKey(&backend.PropertyKey{Name: "sku", DataType: "String"}))
		require.NoError(t, m.CreatePropertyKey(&backend.PropertyKey{Name: "since", DataType: "Long"}))
		require.NoError(t, m.CreateEdgeLabel(&backend.EdgeLabel{Name: "knows", Directed: true}))
	})
	commit(t, store, func(m backend.Management) {
		require.NoError(t, m.CreateGraphIndex(&backend.GraphIndex{
			Name: "bySkuSince", Element: schemadef.ElementVertex, Type: schemadef.IndexComposite,
			Keys: []backend.IndexKey{{Key: "sku"}, {Key: "since"}},
		}))
		require.NoError(t, m.CreateRelationIndex(&backend.RelationIndex{
			Name: "skuBySince", RelationType: "sku", Kind: backend.RelationProperty, SortKeys: []string{"since"},
		}))
	})
}

func newDriver(store backend.Store, timeout time.Duration) *Driver {
	return NewDriver(store, timeout, 5*time.Millisecond, zerolog.Nop())
}

func TestNewDriver_Defaults(t *testing.T) {
	d := NewDriver(nil, 0, 0, zerolog.Nop())
	assert.Equal(t, DefaultTimeout, d.Timeout())
	assert.Equal(t, 300*time.Second, d.Timeout())
	assert.Equal(t, DefaultPollInterval, d.pollInterval)
}

func TestEnsureState(t *testing.T) {
	ctx := context.Background()
	ref := backend.RelationIndexRef("sku", "skuBySince")

	t.Run("converges_to_target", func(t *testing.T) {
		store := newStore(t, backend.Options{ConvergenceDelay: 20 * time.Millisecond})
		seed(t, store)
		d := newDriver(store, 2*time.Second)

		err := d.EnsureState(ctx, ref, "", backend.StatusInstalled, backend.ActionRegisterIndex, backend.StatusRegistered)
		require.NoError(t, err)

		st, err := d.ReadStatus(ctx, ref, "")
		require.NoError(t, err)
		assert.Equal(t, backend.StatusRegistered, st)
	})

	t.Run("no_op_when_not_in_source_status", func(t *testing.T) {
		store := newStore(t, backend.Options{})
		seed(t, store)
		require.NoError(t, store.SetIndexStatus(ctx, ref, "", backend.StatusEnabled))
		d := newDriver(store, time.Second)

		err := d.EnsureState(ctx, ref, "", backend.StatusInstalled, backend.ActionRegisterIndex, backend.StatusRegistered)
		require.NoError(t, err)

		st, err := d.ReadStatus(ctx, ref, "")
		require.NoError(t, err)
		assert.Equal(t, backend.StatusEnabled, st)
	})

	t.Run("unchanged_status_is_a_transition_error", func(t *testing.T) {
		store := newStore(t, backend.Options{})
		seed(t, store)
		store.StallIndex("skuBySince")
		d := newDriver(store, 50*time.Millisecond)

		err := d.EnsureState(ctx, ref, "", backend.StatusInstalled, backend.ActionRegisterIndex, backend.StatusRegistered)
		require.Error(t, err)
		assert.ErrorIs(t, err, schemaerr.ErrIndexTransition)
		assert.ErrorIs(t, err, ErrWaitTimeout)

		var terr *schemaerr.IndexTransitionError
		require.True(t, errors.As(err, &terr))
		assert.Equal(t, "skuBySince", terr.Index)
		assert.Equal(t, "REGISTER_INDEX", terr.Action)
		assert.Equal(t, "INSTALLED", terr.Status)
	})

	t.Run("graph_index_key", func(t *testing.T) {
		store := newStore(t, backend.Options{})
		seed(t, store)
		d := newDriver(store, time.Second)
		gref := backend.GraphIndexRef("bySkuSince")

		err := d.EnsureState(ctx, gref, "since", backend.StatusInstalled, backend.ActionRegisterIndex, backend.StatusRegistered)
		require.NoError(t, err)

		st, err := d.ReadStatus(ctx, gref, "since")
		require.NoError(t, err)
		assert.Equal(t, backend.StatusRegistered, st)

		_, err = d.ReadStatus(ctx, gref, "nope")
		assert.ErrorIs(t, err, schemaerr.ErrBackend)
	})
}

// convergingStore is a single relation index whose status jumps to
// converge whenever an action is committed.
type convergingStore struct {
	status   backend.Status
	converge backend.Status
	staged   bool
	opened   int
	closed   int
}

func (s *convergingStore) OpenManagement(context.Context) (backend.Management, error) {
	s.opened++
	return &convergingSession{store: s, open: true}, nil
}
func (s *convergingStore) Features(context.Context) (backend.Features, error) {
	return backend.Features{}, nil
}
func (s *convergingStore) AppendMetadata(_ context.Context, r backend.MetadataRecord) (backend.MetadataRecord, error) {
	return r, nil
}
func (s *convergingStore) MetadataRecords(context.Context) ([]backend.MetadataRecord, error) {
	return nil, nil
}
func (s *convergingStore) Close() error { return nil }

type convergingSession struct {
	backend.Management
	store *convergingStore
	open  bool
}

func (m *convergingSession) RelationIndex(relationType, name string) (*backend.RelationIndex, error) {
	return &backend.RelationIndex{Name: name, RelationType: relationType, Status: m.store.status}, nil
}
func (m *convergingSession) UpdateIndex(backend.IndexRef, backend.Action) error {
	m.store.staged = true
	return nil
}
func (m *convergingSession) Commit() error {
	m.open = false
	m.store.closed++
	if m.store.staged {
		m.store.status = m.store.converge
		m.store.staged = false
	}
	return nil
}
func (m *convergingSession) Rollback() error {
	m.open = false
	m.store.closed++
	return nil
}
func (m *convergingSession) IsOpen() bool { return m.open }

func TestEnsureState_Scripted(t *testing.T) {
	ctx := context.Background()
	ref := backend.RelationIndexRef("p", "idx")

	t.Run("disabled_while_waiting", func(t *testing.T) {
		store := &convergingStore{status: backend.StatusRegistered, converge: backend.StatusDisabled}
		d := newDriver(store, time.Second)

		err := d.EnsureState(ctx, ref, "", backend.StatusRegistered, backend.ActionEnableIndex, backend.StatusEnabled)
		var terr *schemaerr.IndexTransitionError
		require.True(t, errors.As(err, &terr))
		assert.Equal(t, "DISABLED", terr.Status)
		assert.Equal(t, "ENABLE_INDEX", terr.Action)
	})

	t.Run("sessions_always_released", func(t *testing.T) {
		store := &convergingStore{status: backend.StatusInstalled, converge: backend.StatusRegistered}
		d := newDriver(store, 50*time.Millisecond)

		err := d.EnsureRelationIndexReady(ctx, ref)
		assert.ErrorIs(t, err, schemaerr.ErrIndexTransition, "enable never converges in this script")
		assert.Equal(t, backend.StatusRegistered, store.status)
		assert.Equal(t, store.opened, store.closed)
	})
}

func TestEnsureReady(t *testing.T) {
	ctx := context.Background()

	t.Run("graph_index_all_keys", func(t *testing.T) {
		store := newStore(t, backend.Options{ConvergenceDelay: 10 * time.Millisecond})
		seed(t, store)
		d := newDriver(store, 2*time.Second)

		def := &schemadef.GraphIndexDef{Name: "bySkuSince", IndexType: schemadef.IndexComposite,
			Keys: []schemadef.IndexKeyDef{{Key: "sku"}, {Key: "since"}}}
		require.NoError(t, d.EnsureReady(ctx, def))

		for _, key := range []string{"sku", "since"} {
			st, err := d.ReadStatus(ctx, backend.GraphIndexRef("bySkuSince"), key)
			require.NoError(t, err)
			assert.Equal(t, backend.StatusEnabled, st, key)
		}
	})

	t.Run("local_property_index", func(t *testing.T) {
		store := newStore(t, backend.Options{})
		seed(t, store)
		d := newDriver(store, time.Second)

		def := &schemadef.LocalPropertyIndexDef{Name: "skuBySince", Key: "sku"}
		require.NoError(t, d.EnsureReady(ctx, def))

		st, err := d.ReadStatus(ctx, RefOf(def), "")
		require.NoError(t, err)
		assert.Equal(t, backend.StatusEnabled, st)
	})

	t.Run("partially_disabled_graph_index_fails", func(t *testing.T) {
		store := newStore(t, backend.Options{})
		seed(t, store)
		gref := backend.GraphIndexRef("bySkuSince")
		require.NoError(t, store.SetIndexStatus(ctx, gref, "sku", backend.StatusDisabled))
		d := newDriver(store, time.Second)

		err := d.EnsureGraphIndexReady(ctx, "bySkuSince")
		var terr *schemaerr.IndexTransitionError
		require.True(t, errors.As(err, &terr))
		assert.Equal(t, "sku", terr.Key)
		assert.Equal(t, "DISABLED", terr.Status)

		st, err := d.ReadStatus(ctx, gref, "since")
		require.NoError(t, err)
		assert.Equal(t, backend.StatusEnabled, st, "healthy keys still progress")
	})
}

func TestActivate(t *testing.T) {
	ctx := context.Background()

	t.Run("registered_then_enabled", func(t *testing.T) {
		store := newStore(t, backend.Options{AutoRegister: true, ConvergenceDelay: 10 * time.Millisecond})
		seed(t, store)
		d := newDriver(store, 2*time.Second)
		gref := backend.GraphIndexRef("bySkuSince")

		require.NoError(t, d.Activate(ctx, gref))

		st, err := d.Await(ctx, gref, "", backend.StatusEnabled)
		require.NoError(t, err)
		assert.Equal(t, backend.StatusEnabled, st)
	})

	t.Run("never_registered", func(t *testing.T) {
		store := newStore(t, backend.Options{AutoRegister: false})
		seed(t, store)
		d := newDriver(store, 30*time.Millisecond)

		err := d.Activate(ctx, backend.RelationIndexRef("sku", "skuBySince"))
		var terr *schemaerr.IndexTransitionError
		require.True(t, errors.As(err, &terr))
		assert.Equal(t, "REGISTER_INDEX", terr.Action)
		assert.Equal(t, "INSTALLED", terr.Status)
	})
}

func TestAwait_Timeout(t *testing.T) {
	store := newStore(t, backend.Options{})
	seed(t, store)
	d := newDriver(store, 30*time.Millisecond)

	start := time.Now()
	st, err := d.Await(context.Background(), backend.RelationIndexRef("sku", "skuBySince"), "", backend.StatusEnabled)
	assert.ErrorIs(t, err, ErrWaitTimeout)
	assert.Equal(t, backend.StatusInstalled, st)
	assert.Less(t, time.Since(start), time.Second)
}

func TestRefOf(t *testing.T) {
	assert.Equal(t, backend.GraphIndexRef("g"), RefOf(&schemadef.GraphIndexDef{Name: "g"}))
	assert.Equal(t, backend.RelationIndexRef("p", "l"), RefOf(&schemadef.LocalPropertyIndexDef{Name: "l", Key: "p"}))
	assert.Equal(t, backend.RelationIndexRef("e", "l"), RefOf(&schemadef.LocalEdgeIndexDef{Name: "l", Label: "e"}))
}
