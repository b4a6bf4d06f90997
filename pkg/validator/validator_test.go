package validator

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/orneryd/graphschema/pkg/schemadef"
	"github.com/orneryd/graphschema/pkg/schemaerr"
)

func validSchema() *schemadef.Schema {
	return &schemadef.Schema{
		Graph: schemadef.GraphInfo{
			Name:         "g",
			ModelVersion: "1.2.0",
			Conventions: &schemadef.Conventions{
				VertexLabelPattern: `[A-Z][A-Za-z]*`,
				EdgeLabelPattern:   `[a-z_]+`,
				PropertyKeyPattern: `[a-z][A-Za-z0-9]*`,
				IndexNamePattern:   `idx[A-Z][A-Za-z0-9]*`,
			},
		},
		Properties: []schemadef.PropertyDef{{Key: "name", DataType: "String"}, {Key: "since", DataType: "long"}},
		Vertices:   []schemadef.VertexDef{{Label: "Person"}},
		Edges:      []schemadef.EdgeDef{{Label: "knows_well"}},
		GraphIndexes: []schemadef.GraphIndexDef{
			{Name: "idxByName", IndexType: schemadef.IndexComposite, Keys: []schemadef.IndexKeyDef{{Key: "name"}}},
			{Name: "idxSearch", IndexType: schemadef.IndexMixed, Backend: "search", Keys: []schemadef.IndexKeyDef{{Key: "name"}}},
		},
		LocalEdgeIndexes: []schemadef.LocalEdgeIndexDef{{Name: "idxKnowsBySince", Label: "knows_well"}},
	}
}

func TestValidate(t *testing.T) {
	t.Run("valid_schema", func(t *testing.T) {
		assert.NoError(t, Validate(validSchema()))
	})

	tests := []struct {
		name    string
		mutate  func(s *schemadef.Schema)
		element string
		offends string
	}{
		{
			name:    "bad_model_version",
			mutate:  func(s *schemadef.Schema) { s.Graph.ModelVersion = "1.x" },
			element: "graph",
			offends: "g",
		},
		{
			name:    "single_number_version",
			mutate:  func(s *schemadef.Schema) { s.Graph.ModelVersion = "3" },
			element: "graph",
			offends: "g",
		},
		{
			name:    "vertex_name_convention",
			mutate:  func(s *schemadef.Schema) { s.Vertices[0].Label = "person" },
			element: "vertex",
			offends: "person",
		},
		{
			name:    "partial_match_is_not_enough",
			mutate:  func(s *schemadef.Schema) { s.Edges[0].Label = "knows-well" },
			element: "edge",
			offends: "knows-well",
		},
		{
			name:    "local_edge_index_convention",
			mutate:  func(s *schemadef.Schema) { s.LocalEdgeIndexes[0].Name = "knowsBySince" },
			element: "local edge index",
			offends: "knowsBySince",
		},
		{
			name:    "unknown_data_type",
			mutate:  func(s *schemadef.Schema) { s.Properties[1].DataType = "Matrix" },
			element: "property",
			offends: "since",
		},
		{
			name:    "mixed_index_without_backend",
			mutate:  func(s *schemadef.Schema) { s.GraphIndexes[1].Backend = "" },
			element: "mixed index",
			offends: "idxSearch",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := validSchema()
			tt.mutate(s)

			err := Validate(s)
			require.Error(t, err)
			assert.ErrorIs(t, err, schemaerr.ErrValidation)

			var verr *schemaerr.ValidationError
			require.True(t, errors.As(err, &verr))
			assert.Equal(t, tt.element, verr.Element)
			assert.Equal(t, tt.offends, verr.Name)
		})
	}

	t.Run("composite_index_may_omit_backend", func(t *testing.T) {
		s := validSchema()
		s.Graph.Conventions = nil
		s.GraphIndexes[0].Backend = ""
		assert.NoError(t, Validate(s))
	})

	t.Run("conventions_not_configured", func(t *testing.T) {
		s := validSchema()
		s.Graph.Conventions = nil
		s.Vertices[0].Label = "anything-goes"
		assert.NoError(t, Validate(s))
	})
}
