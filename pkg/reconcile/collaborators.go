package reconcile

import (
	"context"
	"fmt"

	"github.com/orneryd/graphschema/pkg/schemadef"
	"github.com/orneryd/graphschema/pkg/schemaerr"
	"github.com/orneryd/graphschema/pkg/state"
)

// DocRenderer writes documentation for a reconciled schema into dir.
// colors maps the allowed doctags of the filter to their display color.
type DocRenderer interface {
	Render(ctx context.Context, st *state.State, dir string, colors map[string]string) error
}

// DataLoader imports bulk graph data from path.
type DataLoader interface {
	Load(ctx context.Context, st *state.State, path string) error
}

// DataSaver exports graph data to path.
type DataSaver interface {
	Save(ctx context.Context, st *state.State, path string) error
}

// Collaborators are optional hooks run after reconciliation. A hook runs
// only when the run config names its target; a missing hook is skipped
// with a warning.
type Collaborators struct {
	Docs   DocRenderer
	Loader DataLoader
	Saver  DataSaver
}

func (m *Manager) runCollaborators(ctx context.Context, st *state.State) error {
	if path := m.cfg.LoadPath; path != "" {
		switch {
		case m.collab.Loader == nil:
			m.log.Warn().Str("path", path).Msg("no data loader configured, skipping load")
		case !m.cfg.ApplyChanges:
			m.log.Warn().Str("path", path).Msg("dry run: skipping data load")
		default:
			if err := m.collab.Loader.Load(ctx, st, path); err != nil {
				return fmt.Errorf("failed to load graph data from %s: %w", path, err)
			}
			m.log.Info().Str("path", path).Msg("graph data loaded")
		}
	}

	if path := m.cfg.SavePath; path != "" {
		if m.collab.Saver == nil {
			m.log.Warn().Str("path", path).Msg("no data saver configured, skipping save")
		} else {
			if err := m.collab.Saver.Save(ctx, st, path); err != nil {
				return fmt.Errorf("failed to save graph data to %s: %w", path, err)
			}
			m.log.Info().Str("path", path).Msg("graph data saved")
		}
	}

	if dir := m.cfg.DocDir; dir != "" {
		if m.collab.Docs == nil {
			m.log.Warn().Str("dir", dir).Msg("no documentation renderer configured, skipping")
			return nil
		}
		filtered, colors, err := filterForDocs(st, m.cfg.TagFilter)
		if err != nil {
			return err
		}
		if m.cfg.TagFilter != "" {
			m.log.Info().Str("filter", m.cfg.TagFilter).Msg("filtering graph for documentation")
		}
		if err := m.collab.Docs.Render(ctx, filtered, dir, colors); err != nil {
			return fmt.Errorf("failed to generate the documentation: %w", err)
		}
		m.log.Info().Str("dir", dir).Msg("documentation generated")
	}
	return nil
}

// filterForDocs applies the doctag filter. An empty filter returns st
// itself; otherwise a fresh state over the filtered schema is built.
func filterForDocs(st *state.State, expr string) (*state.State, map[string]string, error) {
	f, err := schemadef.ParseTagFilter(expr)
	if err != nil {
		return nil, nil, schemaerr.NewValidationError("tag filter", expr, "%v", err)
	}
	if f.Empty() {
		return st, nil, nil
	}
	filtered, err := state.New(f.Filter(st.Schema()))
	if err != nil {
		return nil, nil, fmt.Errorf("failed to validate the graph after applying the tag filters: %w", err)
	}
	filtered.SetTTLSupported(st.TTLSupported())
	return filtered, f.Allowed, nil
}
