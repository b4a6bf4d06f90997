package lifecycle

import (
	"context"

	"github.com/orneryd/graphschema/pkg/backend"
	"github.com/orneryd/graphschema/pkg/schemadef"
	"github.com/orneryd/graphschema/pkg/schemaerr"
	"github.com/orneryd/graphschema/pkg/state"
)

// ClassifyLocal reports whether a local index is unavailable: created but
// still INSTALLED or REGISTERED.
func ClassifyLocal(st backend.Status) bool {
	return st.MidBuild()
}

// ClassifyComposite reports whether a graph index is unavailable. Any
// DISABLED key removes the index from consideration; otherwise one key
// INSTALLED or REGISTERED is enough.
//
// An index with one DISABLED key and one INSTALLED key is therefore not
// unavailable.
func ClassifyComposite(keys []backend.Status) bool {
	midBuild := false
	for _, st := range keys {
		switch {
		case st == backend.StatusDisabled:
			return false
		case st.MidBuild():
			midBuild = true
		}
	}
	return midBuild
}

// Unavailable returns the candidates that are stuck mid-build, in
// candidate order. It only reads and always rolls its session back.
// Candidates that are not declared, or whose backing property key, edge
// label or index is absent live, are not applicable and are skipped.
func Unavailable(ctx context.Context, store backend.Store, st *state.State, candidates []string) ([]string, error) {
	mgmt, err := store.OpenManagement(ctx)
	if err != nil {
		return nil, schemaerr.Backend("open management", err)
	}
	defer mgmt.Rollback()

	var out []string
	seen := make(map[string]struct{}, len(candidates))
	for _, name := range candidates {
		if _, dup := seen[name]; dup {
			continue
		}
		seen[name] = struct{}{}

		def, ok := st.Index(name)
		if !ok {
			continue
		}
		unavailable, err := classify(mgmt, def)
		if err != nil {
			return nil, schemaerr.Backend("scan index "+name, err)
		}
		if unavailable {
			out = append(out, name)
		}
	}
	return out, nil
}

func classify(mgmt backend.Management, def schemadef.IndexDef) (bool, error) {
	switch def := def.(type) {
	case *schemadef.LocalPropertyIndexDef:
		if _, err := mgmt.PropertyKey(def.Key); err != nil {
			return false, ignoreNotFound(err)
		}
		idx, err := mgmt.RelationIndex(def.Key, def.Name)
		if err != nil {
			return false, ignoreNotFound(err)
		}
		return ClassifyLocal(idx.Status), nil

	case *schemadef.LocalEdgeIndexDef:
		if _, err := mgmt.EdgeLabel(def.Label); err != nil {
			return false, ignoreNotFound(err)
		}
		idx, err := mgmt.RelationIndex(def.Label, def.Name)
		if err != nil {
			return false, ignoreNotFound(err)
		}
		return ClassifyLocal(idx.Status), nil

	case *schemadef.GraphIndexDef:
		idx, err := mgmt.GraphIndex(def.Name)
		if err != nil {
			return false, ignoreNotFound(err)
		}
		return ClassifyComposite(idx.Statuses()), nil
	}
	return false, nil
}

func ignoreNotFound(err error) error {
	if backend.IsNotFound(err) {
		return nil
	}
	return err
}
