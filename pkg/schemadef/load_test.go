package schemadef

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/orneryd/graphschema/pkg/schemaerr"
)

const rootDoc = `
graph:
  name: inventory
  schemaFormatVersion: "1.0"
  modelVersion: "2.3.1"
  indexing:
    defaultIndexingBackend: search
includes:
  - parts/edges.yaml
properties:
  - key: sku
    dataType: String
  - key: createdAt
    dataType: Long
    ttl: P7D
vertices:
  - label: item
    static: true
graphIndexes:
  - name: bySku
    indexType: COMPOSITE
    element: VERTEX
    unique: true
    keys:
      - key: sku
  - name: itemSearch
    indexType: MIXED
    element: VERTEX
    keys:
      - key: sku
        mapping: TEXT
`

const edgesDoc = `
graph:
  name: ignored
edges:
  - label: contains
    multiplicity: ONE2MANY
    signature: [createdAt]
localEdgeIndexes:
  - name: containsByTime
    label: contains
    direction: OUT
    sortKey:
      keys: [createdAt]
      order: desc
`

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestLoadFile(t *testing.T) {
	t.Run("merges_includes", func(t *testing.T) {
		dir := t.TempDir()
		root := writeFile(t, dir, "graph.yaml", rootDoc)
		writeFile(t, dir, "parts/edges.yaml", edgesDoc)

		s, err := LoadFile(root)
		require.NoError(t, err)

		assert.Equal(t, "inventory", s.Graph.Name)
		assert.Len(t, s.Properties, 2)
		require.Len(t, s.Edges, 1)
		assert.Equal(t, MultiplicityOne2Many, s.Edges[0].Multiplicity)
		require.Len(t, s.LocalEdgeIndexes, 1)
		assert.Equal(t, OrderDesc, s.LocalEdgeIndexes[0].SortKey.EffectiveOrder())
		require.NotNil(t, s.Properties[1].TTL)
		assert.Equal(t, 7*24*time.Hour, s.Properties[1].TTL.Duration)
		assert.Len(t, s.Digest, 64)
	})

	t.Run("mixed_index_falls_back_to_default_backend", func(t *testing.T) {
		dir := t.TempDir()
		root := writeFile(t, dir, "graph.yaml", rootDoc)
		writeFile(t, dir, "parts/edges.yaml", edgesDoc)

		s, err := LoadFile(root)
		require.NoError(t, err)
		assert.Equal(t, "", s.BackendFor(&s.GraphIndexes[0]))
		assert.Equal(t, "search", s.BackendFor(&s.GraphIndexes[1]))
	})

	t.Run("missing_include", func(t *testing.T) {
		dir := t.TempDir()
		root := writeFile(t, dir, "graph.yaml", rootDoc)

		_, err := LoadFile(root)
		assert.ErrorIs(t, err, schemaerr.ErrValidation)
	})

	t.Run("include_referenced_twice", func(t *testing.T) {
		dir := t.TempDir()
		root := writeFile(t, dir, "graph.yaml", rootDoc+"\n")
		writeFile(t, dir, "parts/edges.yaml", "includes: [../graph.yaml]\n")

		_, err := LoadFile(root)
		require.Error(t, err)
		assert.ErrorIs(t, err, schemaerr.ErrValidation)
		assert.Contains(t, err.Error(), "more than once")
	})

	t.Run("unsupported_format_version", func(t *testing.T) {
		dir := t.TempDir()
		root := writeFile(t, dir, "graph.json",
			`{"graph": {"name": "g", "schemaFormatVersion": "2.0", "modelVersion": "1.0"}}`)

		_, err := LoadFile(root)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "unsupported schema format version")
	})

	t.Run("unknown_field_rejected", func(t *testing.T) {
		dir := t.TempDir()
		root := writeFile(t, dir, "graph.yaml", "graph:\n  name: g\n  schemaFormatVersion: \"1.0\"\nvertexes: []\n")

		_, err := LoadFile(root)
		assert.ErrorIs(t, err, schemaerr.ErrValidation)
	})

	t.Run("bad_ttl", func(t *testing.T) {
		dir := t.TempDir()
		root := writeFile(t, dir, "graph.yaml",
			"graph:\n  name: g\n  schemaFormatVersion: \"1.0\"\nvertices:\n  - label: v\n    ttl: P1Y\n")

		_, err := LoadFile(root)
		assert.ErrorIs(t, err, schemaerr.ErrValidation)
	})
}

func TestDecode_IndexDoctags(t *testing.T) {
	doc := `
graph:
  name: g
  schemaFormatVersion: "1.0"
  modelVersion: "1.0"
graphIndexes:
  - name: bySku
    indexType: COMPOSITE
    keys:
      - key: sku
    doctags: [internal]
localPropertyIndexes:
  - name: skuByTime
    key: sku
    sortKey:
      keys: [time]
    doctags: [core]
localEdgeIndexes:
  - name: knowsByTime
    label: knows
    sortKey:
      keys: [time]
    doctags: [core, people]
`
	s, err := Decode(strings.NewReader(doc))
	require.NoError(t, err)
	assert.Equal(t, []string{"internal"}, s.GraphIndexes[0].Doctags)
	assert.Equal(t, []string{"core"}, s.LocalPropertyIndexes[0].Doctags)
	assert.Equal(t, []string{"core", "people"}, s.LocalEdgeIndexes[0].Doctags)
}

func TestParseTTL(t *testing.T) {
	tests := []struct {
		in   string
		want time.Duration
	}{
		{"PT1H", time.Hour},
		{"P7D", 7 * 24 * time.Hour},
		{"P1W", 7 * 24 * time.Hour},
		{"P1DT12H30M", 36*time.Hour + 30*time.Minute},
		{"PT0.5S", 500 * time.Millisecond},
		{"pt90m", 90 * time.Minute},
		{"-PT10S", -10 * time.Second},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			ttl, err := ParseTTL(tt.in)
			require.NoError(t, err)
			assert.Equal(t, tt.want, ttl.Duration)
		})
	}

	for _, bad := range []string{"", "P", "PT", "1H", "P1Y", "P1M", "PT1X"} {
		_, err := ParseTTL(bad)
		assert.Error(t, err, "input %q", bad)
	}
}

func TestCanonicalDataType(t *testing.T) {
	got, ok := CanonicalDataType("long")
	assert.True(t, ok)
	assert.Equal(t, "Long", got)

	_, ok = CanonicalDataType("Matrix")
	assert.False(t, ok)
}
