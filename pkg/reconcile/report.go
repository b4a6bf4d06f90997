package reconcile

import (
	"context"
	"slices"

	"github.com/orneryd/graphschema/pkg/backend"
	"github.com/orneryd/graphschema/pkg/lifecycle"
	"github.com/orneryd/graphschema/pkg/schemadef"
	"github.com/orneryd/graphschema/pkg/schemaerr"
	"github.com/orneryd/graphschema/pkg/state"
)

// IndexStatus is the live status of one declared index.
type IndexStatus struct {
	Name         string            `json:"name" yaml:"name"`
	Kind         string            `json:"kind" yaml:"kind"`
	RelationType string            `json:"relation_type,omitempty" yaml:"relation_type,omitempty"`
	Exists       bool              `json:"exists" yaml:"exists"`
	Status       string            `json:"status,omitempty" yaml:"status,omitempty"`
	Keys         map[string]string `json:"keys,omitempty" yaml:"keys,omitempty"`
	Unavailable  bool              `json:"unavailable" yaml:"unavailable"`
}

// Report reads the status of every index declared in schema without
// changing anything. Indexes are listed in declaration order, graph
// indexes first.
func Report(ctx context.Context, store backend.Store, schema *schemadef.Schema) ([]IndexStatus, error) {
	st, err := state.New(schema)
	if err != nil {
		return nil, err
	}

	var names []string
	for _, c := range []schemadef.Category{
		schemadef.CategoryGraphIndex,
		schemadef.CategoryLocalPropertyIndex,
		schemadef.CategoryLocalEdgeIndex,
	} {
		names = append(names, declaredIndexes(schema, c)...)
	}
	unavailable, err := lifecycle.Unavailable(ctx, store, st, names)
	if err != nil {
		return nil, err
	}

	mgmt, err := store.OpenManagement(ctx)
	if err != nil {
		return nil, schemaerr.Backend("open management", err)
	}
	defer mgmt.Rollback()

	out := make([]IndexStatus, 0, len(names))
	for _, name := range names {
		def, _ := st.Index(name)
		ref := lifecycle.RefOf(def)
		row := IndexStatus{
			Name:         name,
			Kind:         def.Category().String(),
			RelationType: ref.RelationType,
			Unavailable:  slices.Contains(unavailable, name),
		}
		if err := fillStatus(mgmt, ref, &row); err != nil {
			return nil, schemaerr.Backend("read index "+ref.String(), err)
		}
		out = append(out, row)
	}
	return out, nil
}

func fillStatus(mgmt backend.Management, ref backend.IndexRef, row *IndexStatus) error {
	if !ref.IsGraphIndex() {
		r, err := mgmt.RelationIndex(ref.RelationType, ref.Name)
		if backend.IsNotFound(err) {
			return nil
		}
		if err != nil {
			return err
		}
		row.Exists = true
		row.Status = r.Status.String()
		return nil
	}

	g, err := mgmt.GraphIndex(ref.Name)
	if backend.IsNotFound(err) {
		return nil
	}
	if err != nil {
		return err
	}
	row.Exists = true
	row.Keys = make(map[string]string, len(g.Keys))
	least := backend.StatusEnabled
	for _, key := range g.KeyNames() {
		s := g.KeyStatus[key]
		row.Keys[key] = s.String()
		if s == backend.StatusDisabled || (least != backend.StatusDisabled && s < least) {
			least = s
		}
	}
	row.Status = least.String()
	return nil
}
