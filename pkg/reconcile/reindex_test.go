package reconcile

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/orneryd/graphschema/pkg/backend"
	"github.com/orneryd/graphschema/pkg/schemadef"
	"github.com/orneryd/graphschema/pkg/schemaerr"
)

// abcSchema declares properties a, b and c and one composite index per
// name, idxA over a and so on.
func abcSchema(names ...string) *schemadef.Schema {
	s := &schemadef.Schema{
		Graph: schemadef.GraphInfo{Name: "g", ModelVersion: "1.0"},
		Properties: []schemadef.PropertyDef{
			{Key: "a", DataType: "String"},
			{Key: "b", DataType: "String"},
			{Key: "c", DataType: "String"},
		},
	}
	for _, n := range names {
		s.GraphIndexes = append(s.GraphIndexes, schemadef.GraphIndexDef{
			Name:      "idx" + strings.ToUpper(n),
			IndexType: schemadef.IndexComposite,
			Keys:      []schemadef.IndexKeyDef{{Key: n}},
		})
	}
	return s
}

func jobIndexes(t *testing.T, store *backend.BadgerStore) []string {
	t.Helper()
	jobs, err := store.ReindexJobs(context.Background())
	require.NoError(t, err)
	var out []string
	for _, j := range jobs {
		out = append(out, j.Index)
	}
	return out
}

func TestReindex_New(t *testing.T) {
	ctx := context.Background()
	store := newStore(t)

	_, err := NewManager(store, runConfig(true)).Run(ctx, abcSchema("c"))
	require.NoError(t, err)

	rec := &recordingStore{Store: store}
	st, err := NewManager(rec, runConfig(true, ReindexAction{Target: ReindexNew})).Run(ctx, abcSchema("a", "b", "c"))
	require.NoError(t, err)

	assert.Equal(t, []string{"idxA", "idxB"}, st.NewIndexes())
	assert.ElementsMatch(t, []string{"idxA", "idxB"}, jobIndexes(t, store))
	assert.Contains(t, rec.updates, "REINDEX:idxA")
	assert.Contains(t, rec.updates, "REINDEX:idxB")
	assert.NotContains(t, rec.updates, "REINDEX:idxC")
}

func TestReindex_AllAndNamed(t *testing.T) {
	ctx := context.Background()
	store := newStore(t)

	_, err := NewManager(store, runConfig(true)).Run(ctx, abcSchema("c"))
	require.NoError(t, err)

	cfg := runConfig(true,
		ReindexAction{Target: ReindexAll},
		ReindexAction{Target: ReindexNamed, IndexName: "idxC"},
	)
	_, err = NewManager(store, cfg).Run(ctx, abcSchema("a", "c"))
	require.NoError(t, err)

	assert.ElementsMatch(t, []string{"idxC", "idxA", "idxC"}, jobIndexes(t, store))
}

func TestReindex_DryRun(t *testing.T) {
	ctx := context.Background()
	store := newStore(t)

	_, err := NewManager(store, runConfig(true)).Run(ctx, abcSchema("a", "b"))
	require.NoError(t, err)

	rec := &recordingStore{Store: store}
	cfg := runConfig(false,
		ReindexAction{Target: ReindexAll},
		ReindexAction{Target: ReindexNamed, IndexName: "idxA"},
	)
	st, err := NewManager(rec, cfg).Run(ctx, abcSchema("a", "b"))
	require.NoError(t, err)

	assert.Empty(t, st.AllIndexes(), "index lists are only filled when changes are applied")
	assert.Equal(t, []string{"REINDEX:idxA"}, rec.updates)
	assert.Equal(t, []string{"idxA"}, jobIndexes(t, store))
}

func TestReindex_NamedUndeclared(t *testing.T) {
	cfg := runConfig(true, ReindexAction{Target: ReindexNamed, IndexName: "idxZ"})
	_, err := NewManager(newStore(t), cfg).Run(context.Background(), abcSchema("a"))
	require.ErrorIs(t, err, schemaerr.ErrValidation)
}

func TestReindex_Unavailable(t *testing.T) {
	ctx := context.Background()
	store := newStore(t)

	_, err := NewManager(store, runConfig(true)).Run(ctx, abcSchema("b", "c"))
	require.NoError(t, err)
	require.NoError(t, store.SetIndexStatus(ctx, backend.GraphIndexRef("idxC"), "", backend.StatusRegistered))

	cfg := runConfig(true, ReindexAction{Target: ReindexUnavailable})
	_, err = NewManager(store, cfg).Run(ctx, abcSchema("a", "b", "c"))
	require.NoError(t, err)

	assert.Equal(t, []string{"idxC"}, jobIndexes(t, store))

	m, err := store.OpenManagement(ctx)
	require.NoError(t, err)
	defer m.Rollback()
	g, err := m.GraphIndex("idxC")
	require.NoError(t, err)
	assert.Equal(t, []backend.Status{backend.StatusEnabled}, g.Statuses())
}

func TestReindex_Distributed(t *testing.T) {
	ctx := context.Background()
	store := newStore(t)

	cfg := runConfig(true, ReindexAction{Target: ReindexNew, Method: backend.MethodDistributed})
	_, err := NewManager(store, cfg).Run(ctx, abcSchema("a"))
	require.NoError(t, err)

	jobs, err := store.ReindexJobs(ctx)
	require.NoError(t, err)
	require.Len(t, jobs, 1)
	assert.Equal(t, "idxA", jobs[0].Index)
	assert.Equal(t, backend.MethodDistributed, jobs[0].Method)
	assert.Equal(t, "submitted", jobs[0].State)
}

func TestReindex_DistributedWithoutRunner(t *testing.T) {
	rec := &recordingStore{Store: newStore(t)}
	cfg := runConfig(true, ReindexAction{Target: ReindexNew, Method: backend.MethodDistributed})
	_, err := NewManager(rec, cfg).Run(context.Background(), abcSchema("a"))
	require.ErrorIs(t, err, schemaerr.ErrValidation)
}

func TestReindex_DisabledIndexFails(t *testing.T) {
	ctx := context.Background()
	store := newStore(t)

	_, err := NewManager(store, runConfig(true)).Run(ctx, abcSchema("c"))
	require.NoError(t, err)
	require.NoError(t, store.SetIndexStatus(ctx, backend.GraphIndexRef("idxC"), "", backend.StatusDisabled))

	cfg := runConfig(true, ReindexAction{Target: ReindexAll})
	_, err = NewManager(store, cfg).Run(ctx, abcSchema("c"))
	require.ErrorIs(t, err, schemaerr.ErrIndexTransition)
	assert.Empty(t, jobIndexes(t, store))
}

func TestParseReindexTarget(t *testing.T) {
	for in, want := range map[string]ReindexTarget{
		"all":         ReindexAll,
		" NEW ":       ReindexNew,
		"Named":       ReindexNamed,
		"unavailable": ReindexUnavailable,
	} {
		got, err := ParseReindexTarget(in)
		require.NoError(t, err, in)
		assert.Equal(t, want, got)
	}
	_, err := ParseReindexTarget("some")
	assert.Error(t, err)
}

func TestRunConfig_Validate(t *testing.T) {
	tests := []struct {
		name    string
		actions []ReindexAction
		wantErr bool
	}{
		{"empty", nil, false},
		{"all_local", []ReindexAction{{Target: ReindexAll}}, false},
		{"named", []ReindexAction{{Target: ReindexNamed, IndexName: "x", Method: backend.MethodDistributed}}, false},
		{"named_without_name", []ReindexAction{{Target: ReindexNamed}}, true},
		{"name_without_named", []ReindexAction{{Target: ReindexAll, IndexName: "x"}}, true},
		{"unknown_target", []ReindexAction{{Target: "SOME"}}, true},
		{"unknown_method", []ReindexAction{{Target: ReindexAll, Method: "remote"}}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultRunConfig()
			cfg.Reindex = tt.actions
			err := cfg.Validate()
			if tt.wantErr {
				assert.ErrorIs(t, err, schemaerr.ErrValidation)
				return
			}
			assert.NoError(t, err)
		})
	}

	cfg := DefaultRunConfig()
	assert.False(t, cfg.ApplyChanges)
	assert.Equal(t, 300*time.Second, cfg.IndexWaitTimeout)
	assert.Equal(t, 500*time.Millisecond, cfg.PollInterval)
}
