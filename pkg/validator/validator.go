// Package validator checks a declared schema before any backend is
// touched: model version format, optional naming conventions, property
// data types and mixed-index backends. The first failure is returned as a
// *schemaerr.ValidationError naming the offending element.
package validator

import (
	"fmt"
	"regexp"

	"github.com/orneryd/graphschema/pkg/schemadef"
	"github.com/orneryd/graphschema/pkg/schemaerr"
)

var versionPattern = regexp.MustCompile(`^([0-9]+\.)+[0-9]+$`)

// Validate runs every check against s.
func Validate(s *schemadef.Schema) error {
	if !versionPattern.MatchString(s.Graph.ModelVersion) {
		return schemaerr.NewValidationError("graph", s.Graph.Name,
			"model version %q does not match pattern %q", s.Graph.ModelVersion, versionPattern)
	}

	if c := s.Graph.Conventions; c != nil {
		if err := checkConventions(s, c); err != nil {
			return err
		}
	}

	for _, p := range s.Properties {
		if _, ok := schemadef.CanonicalDataType(p.DataType); !ok {
			return schemaerr.NewValidationError("property", p.Key, "unknown data type %q", p.DataType)
		}
	}

	for _, idx := range s.GraphIndexes {
		if idx.IndexType == schemadef.IndexMixed && idx.Backend == "" {
			return schemaerr.NewValidationError("mixed index", idx.Name, "index backend name must be specified")
		}
	}
	return nil
}

func checkConventions(s *schemadef.Schema, c *schemadef.Conventions) error {
	type group struct {
		element string
		pattern string
		names   []string
	}

	var vertices, edges, properties, graphIdx, edgeIdx, propIdx []string
	for _, v := range s.Vertices {
		vertices = append(vertices, v.Label)
	}
	for _, e := range s.Edges {
		edges = append(edges, e.Label)
	}
	for _, p := range s.Properties {
		properties = append(properties, p.Key)
	}
	for _, i := range s.GraphIndexes {
		graphIdx = append(graphIdx, i.Name)
	}
	for _, i := range s.LocalEdgeIndexes {
		edgeIdx = append(edgeIdx, i.Name)
	}
	for _, i := range s.LocalPropertyIndexes {
		propIdx = append(propIdx, i.Name)
	}

	groups := []group{
		{"vertex", c.VertexLabelPattern, vertices},
		{"edge", c.EdgeLabelPattern, edges},
		{"property", c.PropertyKeyPattern, properties},
		{"index", c.IndexNamePattern, graphIdx},
		{"local edge index", c.IndexNamePattern, edgeIdx},
		{"local property index", c.IndexNamePattern, propIdx},
	}
	for _, g := range groups {
		if g.pattern == "" {
			continue
		}
		re, err := compileFull(g.pattern)
		if err != nil {
			return schemaerr.NewValidationError("naming convention", g.element, "invalid pattern %q: %v", g.pattern, err)
		}
		for _, name := range g.names {
			if !re.MatchString(name) {
				return schemaerr.NewValidationError(g.element, name, "name does not match defined regex %q", g.pattern)
			}
		}
	}
	return nil
}

// compileFull anchors pattern so that it must match the whole name.
func compileFull(pattern string) (*regexp.Regexp, error) {
	return regexp.Compile(fmt.Sprintf(`^(?:%s)$`, pattern))
}
