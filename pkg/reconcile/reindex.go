package reconcile

import (
	"context"

	"github.com/orneryd/graphschema/pkg/backend"
	"github.com/orneryd/graphschema/pkg/lifecycle"
	"github.com/orneryd/graphschema/pkg/schemaerr"
	"github.com/orneryd/graphschema/pkg/state"
)

// reindex executes the configured reindex requests in order.
func (m *Manager) reindex(ctx context.Context, st *state.State) error {
	for _, action := range m.cfg.Reindex {
		names, err := m.targets(ctx, st, action)
		if err != nil {
			return err
		}
		m.log.Info().Stringer("request", action).Strs("indexes", names).Msg("reindexing")
		for _, name := range names {
			if err := m.reindexOne(ctx, st, name, action.method()); err != nil {
				return err
			}
		}
	}
	return nil
}

func (m *Manager) targets(ctx context.Context, st *state.State, action ReindexAction) ([]string, error) {
	switch action.Target {
	case ReindexNamed:
		return []string{action.IndexName}, nil
	case ReindexAll:
		return st.AllIndexes(), nil
	case ReindexNew:
		return st.NewIndexes(), nil
	case ReindexUnavailable:
		names, err := lifecycle.Unavailable(ctx, m.store, st, st.AllIndexes())
		if err != nil {
			return nil, err
		}
		for _, name := range names {
			m.log.Info().Str("index", name).Msg("index is not available, updating")
		}
		return names, nil
	}
	return nil, schemaerr.NewValidationError("run config", string(action.Target), "unknown reindex target")
}

// reindexOne drives the index to ENABLED and then rebuilds its data with
// the requested method.
func (m *Manager) reindexOne(ctx context.Context, st *state.State, name, method string) error {
	def, ok := st.Index(name)
	if !ok {
		return schemaerr.NewValidationError("index", name, "cannot reindex an index that is not declared")
	}
	if err := m.driver.EnsureReady(ctx, def); err != nil {
		return err
	}

	ref := lifecycle.RefOf(def)
	switch method {
	case backend.MethodDistributed:
		if m.batch == nil {
			return schemaerr.NewValidationError("index", name, "distributed reindex requested but no batch runner is configured")
		}
		job, err := m.batch.SubmitReindexJob(ctx, ref)
		if err != nil {
			return schemaerr.Backend("submit reindex job for "+ref.String(), err)
		}
		m.log.Info().Str("index", ref.String()).Str("job", job.ID).Str("state", job.State).Msg("reindex job submitted")
	default:
		err := m.write(ctx, "reindex "+ref.String(), func(mgmt backend.Management) error {
			if err := mgmt.UpdateIndex(ref, backend.ActionReindex); err != nil {
				return schemaerr.Backend("reindex "+ref.String(), err)
			}
			return nil
		})
		if err != nil {
			return err
		}
		m.log.Info().Str("index", ref.String()).Msg("index reindexed")
	}
	return nil
}
