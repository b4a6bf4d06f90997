package schemadef

import (
	"bytes"
	"encoding/hex"
	"errors"
	"fmt"
	"hash"
	"io"
	"os"
	"path/filepath"

	"golang.org/x/crypto/blake2b"
	"gopkg.in/yaml.v3"

	"github.com/orneryd/graphschema/pkg/schemaerr"
)

// FormatVersion is the only schema document format this loader accepts.
const FormatVersion = "1.0"

// LoadFile reads a schema document and every document it includes,
// merging the included elements into the root schema.
//
// Include paths are resolved relative to the directory of the including
// file. Referencing the same file twice, including the root itself, is
// an error; this also rules out include cycles.
//
// Example:
//
//	schema, err := schemadef.LoadFile("schema/graph.yaml")
//	if err != nil {
//		return fmt.Errorf("loading schema: %w", err)
//	}
//	fmt.Println(schema.Graph.ModelVersion, schema.Digest)
func LoadFile(path string) (*Schema, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("resolving schema path: %w", err)
	}

	l := &loader{seen: map[string]struct{}{abs: {}}}
	l.digest, err = blake2b.New256(nil)
	if err != nil {
		return nil, err
	}

	root, err := l.load(abs)
	if err != nil {
		return nil, err
	}
	if root.Graph.SchemaFormatVersion == "" {
		return nil, schemaerr.NewValidationError("graph", root.Graph.Name, "missing or invalid schema format version")
	}
	if root.Graph.SchemaFormatVersion != FormatVersion {
		return nil, schemaerr.NewValidationError("graph", root.Graph.Name,
			"unsupported schema format version %q, supported version: %q", root.Graph.SchemaFormatVersion, FormatVersion)
	}
	root.Digest = hex.EncodeToString(l.digest.Sum(nil))
	return root, nil
}

// Decode parses a single schema document without resolving includes.
func Decode(r io.Reader) (*Schema, error) {
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)

	var s Schema
	if err := dec.Decode(&s); err != nil {
		if errors.Is(err, io.EOF) {
			return nil, schemaerr.NewValidationError("document", "", "empty schema document")
		}
		return nil, schemaerr.NewValidationError("document", "", "%v", err)
	}
	return &s, nil
}

type loader struct {
	seen   map[string]struct{}
	digest hash.Hash
}

func (l *loader) load(path string) (*Schema, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading schema %s: %w", path, err)
	}
	l.digest.Write(data)

	s, err := Decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}

	base := filepath.Dir(path)
	for _, inc := range s.Includes {
		incPath := inc
		if !filepath.IsAbs(incPath) {
			incPath = filepath.Join(base, incPath)
		}
		incPath = filepath.Clean(incPath)

		if _, err := os.Stat(incPath); err != nil {
			return nil, schemaerr.NewValidationError("include", incPath, "reference to non-existing include file")
		}
		if _, dup := l.seen[incPath]; dup {
			return nil, schemaerr.NewValidationError("include", incPath, "include file is referenced more than once")
		}
		l.seen[incPath] = struct{}{}

		nested, err := l.load(incPath)
		if err != nil {
			return nil, err
		}
		s.merge(nested)
	}
	return s, nil
}

// merge appends every element of other to s. Graph settings of other are
// ignored; only the root document defines them.
func (s *Schema) merge(other *Schema) {
	s.Properties = append(s.Properties, other.Properties...)
	s.Vertices = append(s.Vertices, other.Vertices...)
	s.Edges = append(s.Edges, other.Edges...)
	s.GraphIndexes = append(s.GraphIndexes, other.GraphIndexes...)
	s.LocalPropertyIndexes = append(s.LocalPropertyIndexes, other.LocalPropertyIndexes...)
	s.LocalEdgeIndexes = append(s.LocalEdgeIndexes, other.LocalEdgeIndexes...)
}
