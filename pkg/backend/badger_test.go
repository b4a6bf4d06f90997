package backend

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/orneryd/graphschema/pkg/schemadef"
)

type fakeClock struct{ t time.Time }

func (c *fakeClock) Now() time.Time          { return c.t }
func (c *fakeClock) Advance(d time.Duration) { c.t = c.t.Add(d) }

func newTestStore(t *testing.T, opts Options) (*BadgerStore, *fakeClock) {
	t.Helper()
	clock := &fakeClock{t: time.Unix(1_700_000_000, 0)}
	opts.InMemory = true
	opts.Now = clock.Now
	store, err := OpenBadger(opts)
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	return store, clock
}

func withSession(t *testing.T, store Store, fn func(m Management)) {
	t.Helper()
	m, err := store.OpenManagement(context.Background())
	require.NoError(t, err)
	fn(m)
	require.NoError(t, m.Commit())
}

func seedProperties(t *testing.T, store Store, names ...string) {
	t.Helper()
	withSession(t, store, func(m Management) {
		for _, n := range names {
			require.NoError(t, m.CreatePropertyKey(&PropertyKey{Name: n, DataType: "String"}))
		}
	})
}

func TestBadgerStore_Elements(t *testing.T) {
	ctx := context.Background()
	store, _ := newTestStore(t, Options{CellTTL: true})

	t.Run("create_and_lookup", func(t *testing.T) {
		withSession(t, store, func(m Management) {
			require.NoError(t, m.CreatePropertyKey(&PropertyKey{Name: "sku", DataType: "String", TTL: time.Hour}))
			require.NoError(t, m.CreateVertexLabel(&VertexLabel{Name: "item", Static: true}))
			require.NoError(t, m.CreateEdgeLabel(&EdgeLabel{Name: "contains", Directed: true, Signature: []string{"sku"}}))
		})

		m, err := store.OpenManagement(ctx)
		require.NoError(t, err)
		defer m.Rollback()

		p, err := m.PropertyKey("sku")
		require.NoError(t, err)
		assert.Equal(t, schemadef.CardinalitySingle, p.Cardinality)
		assert.Equal(t, time.Hour, p.TTL)

		v, err := m.VertexLabel("item")
		require.NoError(t, err)
		assert.True(t, v.Static)

		e, err := m.EdgeLabel("contains")
		require.NoError(t, err)
		assert.Equal(t, schemadef.MultiplicityMulti, e.Multiplicity)
		assert.Equal(t, []string{"sku"}, e.Signature)
	})

	t.Run("duplicate_rejected", func(t *testing.T) {
		m, err := store.OpenManagement(ctx)
		require.NoError(t, err)
		defer m.Rollback()

		err = m.CreateVertexLabel(&VertexLabel{Name: "item"})
		assert.ErrorIs(t, err, ErrAlreadyExists)
	})

	t.Run("missing_is_not_found", func(t *testing.T) {
		m, err := store.OpenManagement(ctx)
		require.NoError(t, err)
		defer m.Rollback()

		_, err = m.EdgeLabel("nope")
		assert.True(t, IsNotFound(err))
		_, err = m.GraphIndex("nope")
		assert.ErrorIs(t, err, ErrNotFound)
		_, err = m.RelationIndex("sku", "nope")
		assert.ErrorIs(t, err, ErrNotFound)
	})

	t.Run("rollback_discards", func(t *testing.T) {
		m, err := store.OpenManagement(ctx)
		require.NoError(t, err)
		require.NoError(t, m.CreateVertexLabel(&VertexLabel{Name: "ghost"}))
		require.NoError(t, m.Rollback())
		assert.False(t, m.IsOpen())

		assert.ErrorIs(t, m.Rollback(), ErrSessionClosed)
		_, err = m.VertexLabel("ghost")
		assert.ErrorIs(t, err, ErrSessionClosed)

		m2, err := store.OpenManagement(ctx)
		require.NoError(t, err)
		defer m2.Rollback()
		_, err = m2.VertexLabel("ghost")
		assert.ErrorIs(t, err, ErrNotFound)
	})

	t.Run("unknown_signature_key", func(t *testing.T) {
		m, err := store.OpenManagement(ctx)
		require.NoError(t, err)
		defer m.Rollback()

		err = m.CreateEdgeLabel(&EdgeLabel{Name: "orphan", Signature: []string{"missing"}})
		assert.ErrorIs(t, err, ErrUnknownReference)
	})
}

func TestBadgerStore_TTLUnsupported(t *testing.T) {
	store, _ := newTestStore(t, Options{CellTTL: false})

	f, err := store.Features(context.Background())
	require.NoError(t, err)
	assert.False(t, f.CellTTL)

	m, err := store.OpenManagement(context.Background())
	require.NoError(t, err)
	defer m.Rollback()

	err = m.CreateVertexLabel(&VertexLabel{Name: "session", TTL: time.Minute})
	assert.ErrorIs(t, err, ErrTTLUnsupported)
	assert.NoError(t, m.CreateVertexLabel(&VertexLabel{Name: "session"}))
}

func TestBadgerStore_IndexConvergence(t *testing.T) {
	ctx := context.Background()
	store, clock := newTestStore(t, Options{AutoRegister: true, ConvergenceDelay: time.Second})
	seedProperties(t, store, "sku", "name")

	withSession(t, store, func(m Management) {
		require.NoError(t, m.CreateGraphIndex(&GraphIndex{
			Name: "bySkuName", Element: schemadef.ElementVertex, Type: schemadef.IndexComposite,
			Keys: []IndexKey{{Key: "sku"}, {Key: "name"}},
		}))
	})

	status := func() []Status {
		m, err := store.OpenManagement(ctx)
		require.NoError(t, err)
		defer m.Rollback()
		g, err := m.GraphIndex("bySkuName")
		require.NoError(t, err)
		return g.Statuses()
	}

	assert.Equal(t, []Status{StatusInstalled, StatusInstalled}, status())

	clock.Advance(time.Second)
	assert.Equal(t, []Status{StatusRegistered, StatusRegistered}, status())

	withSession(t, store, func(m Management) {
		require.NoError(t, m.UpdateIndex(GraphIndexRef("bySkuName"), ActionEnableIndex))
	})
	assert.Equal(t, []Status{StatusRegistered, StatusRegistered}, status())

	clock.Advance(time.Second)
	assert.Equal(t, []Status{StatusEnabled, StatusEnabled}, status())

	t.Run("disable_is_immediate", func(t *testing.T) {
		withSession(t, store, func(m Management) {
			require.NoError(t, m.UpdateIndex(GraphIndexRef("bySkuName"), ActionDisableIndex))
		})
		assert.Equal(t, []Status{StatusDisabled, StatusDisabled}, status())
	})
}

func TestBadgerStore_RelationIndex(t *testing.T) {
	ctx := context.Background()
	store, clock := newTestStore(t, Options{ConvergenceDelay: time.Second})
	seedProperties(t, store, "since")
	withSession(t, store, func(m Management) {
		require.NoError(t, m.CreateEdgeLabel(&EdgeLabel{Name: "knows", Directed: true}))
	})

	withSession(t, store, func(m Management) {
		require.NoError(t, m.CreateRelationIndex(&RelationIndex{
			Name: "knowsBySince", RelationType: "knows", Kind: RelationEdge,
			Direction: schemadef.DirectionOut, SortKeys: []string{"since"},
		}))
	})

	get := func() *RelationIndex {
		m, err := store.OpenManagement(ctx)
		require.NoError(t, err)
		defer m.Rollback()
		r, err := m.RelationIndex("knows", "knowsBySince")
		require.NoError(t, err)
		return r
	}

	r := get()
	assert.Equal(t, StatusInstalled, r.Status)
	assert.Equal(t, schemadef.OrderAsc, r.Order)

	clock.Advance(time.Hour)
	assert.Equal(t, StatusInstalled, get().Status, "no auto register configured")

	withSession(t, store, func(m Management) {
		require.NoError(t, m.UpdateIndex(RelationIndexRef("knows", "knowsBySince"), ActionRegisterIndex))
	})
	clock.Advance(time.Second)
	assert.Equal(t, StatusRegistered, get().Status)

	t.Run("listed", func(t *testing.T) {
		m, err := store.OpenManagement(ctx)
		require.NoError(t, err)
		defer m.Rollback()
		refs, err := m.Indexes()
		require.NoError(t, err)
		assert.Equal(t, []IndexRef{RelationIndexRef("knows", "knowsBySince")}, refs)
	})

	t.Run("unknown_owner", func(t *testing.T) {
		m, err := store.OpenManagement(ctx)
		require.NoError(t, err)
		defer m.Rollback()
		err = m.CreateRelationIndex(&RelationIndex{Name: "x", RelationType: "likes", Kind: RelationEdge})
		assert.ErrorIs(t, err, ErrUnknownReference)
	})
}

func TestBadgerStore_StallIndex(t *testing.T) {
	store, clock := newTestStore(t, Options{AutoRegister: true})
	seedProperties(t, store, "sku")
	store.StallIndex("bySku")

	withSession(t, store, func(m Management) {
		require.NoError(t, m.CreateGraphIndex(&GraphIndex{
			Name: "bySku", Type: schemadef.IndexComposite, Keys: []IndexKey{{Key: "sku"}},
		}))
	})
	clock.Advance(time.Hour)

	m, err := store.OpenManagement(context.Background())
	require.NoError(t, err)
	g, err := m.GraphIndex("bySku")
	require.NoError(t, err)
	assert.Equal(t, StatusInstalled, g.KeyStatus["sku"])
	require.NoError(t, m.Rollback())

	store.ResumeIndex("bySku")
	m, err = store.OpenManagement(context.Background())
	require.NoError(t, err)
	defer m.Rollback()
	g, err = m.GraphIndex("bySku")
	require.NoError(t, err)
	assert.Equal(t, StatusRegistered, g.KeyStatus["sku"])
}

func TestBadgerStore_Reindex(t *testing.T) {
	ctx := context.Background()
	store, clock := newTestStore(t, Options{})
	seedProperties(t, store, "sku")
	withSession(t, store, func(m Management) {
		require.NoError(t, m.CreateGraphIndex(&GraphIndex{
			Name: "bySku", Type: schemadef.IndexComposite, Keys: []IndexKey{{Key: "sku"}},
		}))
	})
	ref := GraphIndexRef("bySku")

	t.Run("requires_enabled", func(t *testing.T) {
		m, err := store.OpenManagement(ctx)
		require.NoError(t, err)
		defer m.Rollback()
		assert.ErrorIs(t, m.UpdateIndex(ref, ActionReindex), ErrIndexNotEnabled)

		_, err = store.SubmitReindexJob(ctx, ref)
		assert.ErrorIs(t, err, ErrIndexNotEnabled)
	})

	require.NoError(t, store.SetIndexStatus(ctx, ref, "", StatusEnabled))

	withSession(t, store, func(m Management) {
		require.NoError(t, m.UpdateIndex(ref, ActionReindex))
	})
	clock.Advance(time.Second)
	job, err := store.SubmitReindexJob(ctx, ref)
	require.NoError(t, err)
	assert.Equal(t, MethodDistributed, job.Method)

	jobs, err := store.ReindexJobs(ctx)
	require.NoError(t, err)
	require.Len(t, jobs, 2)
	assert.Equal(t, MethodLocal, jobs[0].Method)
	assert.Equal(t, "completed", jobs[0].State)
	assert.Equal(t, "bySku", jobs[1].Index)
}

func TestBadgerStore_Metadata(t *testing.T) {
	ctx := context.Background()
	store, clock := newTestStore(t, Options{})

	first, err := store.AppendMetadata(ctx, MetadataRecord{GraphName: "g", ModelVersion: "1.0"})
	require.NoError(t, err)
	assert.NotEmpty(t, first.ID)

	clock.Advance(time.Minute)
	_, err = store.AppendMetadata(ctx, MetadataRecord{GraphName: "g", ModelVersion: "1.1"})
	require.NoError(t, err)

	recs, err := store.MetadataRecords(ctx)
	require.NoError(t, err)
	require.Len(t, recs, 2)
	assert.Equal(t, "1.0", recs[0].ModelVersion)
	assert.Equal(t, "1.1", recs[1].ModelVersion)
	assert.True(t, recs[0].CreatedAt.Equal(first.CreatedAt))
}

func TestBadgerStore_MetadataSameTimestamp(t *testing.T) {
	ctx := context.Background()
	store, _ := newTestStore(t, Options{})

	versions := []string{"1.0", "1.1", "1.2", "1.3", "1.4"}
	for _, v := range versions {
		_, err := store.AppendMetadata(ctx, MetadataRecord{GraphName: "g", ModelVersion: v})
		require.NoError(t, err)
	}

	recs, err := store.MetadataRecords(ctx)
	require.NoError(t, err)
	require.Len(t, recs, len(versions))
	for i, v := range versions {
		assert.Equal(t, v, recs[i].ModelVersion)
	}
}

func TestBadgerStore_Persistent(t *testing.T) {
	dir := t.TempDir()
	ctx := context.Background()

	store, err := OpenBadger(DefaultOptions(dir))
	require.NoError(t, err)
	withSession(t, store, func(m Management) {
		require.NoError(t, m.CreateVertexLabel(&VertexLabel{Name: "item"}))
	})
	require.NoError(t, store.Close())
	require.NoError(t, store.Close())

	_, err = store.OpenManagement(ctx)
	assert.ErrorIs(t, err, ErrStoreClosed)

	reopened, err := OpenBadger(DefaultOptions(dir))
	require.NoError(t, err)
	defer reopened.Close()

	m, err := reopened.OpenManagement(ctx)
	require.NoError(t, err)
	defer m.Rollback()
	_, err = m.VertexLabel("item")
	assert.NoError(t, err)
}
