package reconcile

import (
	"context"
	"time"

	"github.com/orneryd/graphschema/pkg/backend"
	"github.com/orneryd/graphschema/pkg/schemadef"
	"github.com/orneryd/graphschema/pkg/schemaerr"
)

// Graph revision metadata is kept on a static vertex label with its own
// property keys and a composite id index.
const (
	MetadataVertexLabel     = "GRAPHREVISIONMETADATAVERTEX"
	MetadataIDProperty      = "graphmetadataidproperty"
	MetadataValueProperty   = "graphmetadataproperty"
	MetadataCreatedProperty = "graphmetadataucreationtime"
	MetadataIndex           = "graphmetadatapropertyidx"
)

var metadataProperties = []backend.PropertyKey{
	{Name: MetadataIDProperty, DataType: "String", Cardinality: schemadef.CardinalitySingle},
	{Name: MetadataValueProperty, DataType: "String", Cardinality: schemadef.CardinalitySingle},
	{Name: MetadataCreatedProperty, DataType: "Long", Cardinality: schemadef.CardinalitySingle},
}

// recordMetadata makes sure the metadata elements exist and appends one
// revision record for schema. Earlier records are never touched.
func (m *Manager) recordMetadata(ctx context.Context, schema *schemadef.Schema) (backend.MetadataRecord, error) {
	if err := m.ensureMetadataSchema(ctx); err != nil {
		return backend.MetadataRecord{}, err
	}

	now := m.now().UTC()
	rec, err := m.store.AppendMetadata(ctx, backend.MetadataRecord{
		GraphName:    schema.Graph.Name,
		ModelVersion: schema.Graph.ModelVersion,
		UpdatedOn:    now.Format(time.RFC3339),
		SchemaDigest: schema.Digest,
		CreatedAt:    now,
	})
	if err != nil {
		return backend.MetadataRecord{}, schemaerr.Backend("append metadata", err)
	}
	m.log.Info().Str("id", rec.ID).Str("model_version", rec.ModelVersion).Msg("recorded graph metadata")
	return rec, nil
}

func (m *Manager) ensureMetadataSchema(ctx context.Context) error {
	err := m.write(ctx, "metadata elements", func(mgmt backend.Management) error {
		if _, err := mgmt.VertexLabel(MetadataVertexLabel); backend.IsNotFound(err) {
			if err := mgmt.CreateVertexLabel(&backend.VertexLabel{Name: MetadataVertexLabel, Static: true}); err != nil {
				return schemaerr.Backend("create metadata vertex label", err)
			}
		} else if err != nil {
			return schemaerr.Backend("read metadata vertex label", err)
		}
		for _, p := range metadataProperties {
			if _, err := mgmt.PropertyKey(p.Name); backend.IsNotFound(err) {
				if err := mgmt.CreatePropertyKey(&p); err != nil {
					return schemaerr.Backend("create metadata property key "+p.Name, err)
				}
			} else if err != nil {
				return schemaerr.Backend("read metadata property key "+p.Name, err)
			}
		}
		return nil
	})
	if err != nil {
		return err
	}

	var live *backend.GraphIndex
	err = m.read(ctx, func(mgmt backend.Management) error {
		g, err := mgmt.GraphIndex(MetadataIndex)
		if err != nil && !backend.IsNotFound(err) {
			return schemaerr.Backend("read metadata index", err)
		}
		live = g
		return nil
	})
	if err != nil {
		return err
	}

	ref := backend.GraphIndexRef(MetadataIndex)
	if live != nil {
		if st := live.KeyStatus[MetadataIDProperty]; st == backend.StatusDisabled {
			return &schemaerr.IndexTransitionError{
				Index:  MetadataIndex,
				Key:    MetadataIDProperty,
				Action: backend.ActionEnableIndex.String(),
				Status: st.String(),
			}
		}
		return m.driver.EnsureGraphIndexReady(ctx, MetadataIndex)
	}

	err = m.write(ctx, "metadata index", func(mgmt backend.Management) error {
		err := mgmt.CreateGraphIndex(&backend.GraphIndex{
			Name:      MetadataIndex,
			Element:   schemadef.ElementVertex,
			Type:      schemadef.IndexComposite,
			IndexOnly: MetadataVertexLabel,
			Keys:      []backend.IndexKey{{Key: MetadataIDProperty}},
		})
		if err != nil {
			return schemaerr.Backend("create metadata index", err)
		}
		return nil
	})
	if err != nil {
		return err
	}
	m.log.Info().Str("index", MetadataIndex).Msg("created metadata index")
	return m.driver.Activate(ctx, ref)
}

// LatestMetadata returns the most recent revision record, or false when
// the graph has none.
func LatestMetadata(ctx context.Context, store backend.Store) (backend.MetadataRecord, bool, error) {
	recs, err := store.MetadataRecords(ctx)
	if err != nil {
		return backend.MetadataRecord{}, false, schemaerr.Backend("list metadata", err)
	}
	if len(recs) == 0 {
		return backend.MetadataRecord{}, false, nil
	}
	return recs[len(recs)-1], true, nil
}
