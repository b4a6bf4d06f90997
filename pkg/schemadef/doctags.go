package schemadef

import (
	"fmt"
	"strings"
)

// TagFilter selects schema elements by their doctags for documentation.
// Written as "term[,term...]" where term is "[!]name[:color]".
type TagFilter struct {
	Allowed    map[string]string // tag -> color, color may be empty
	Disallowed map[string]struct{}
}

// ParseTagFilter parses a filter expression. An empty expression yields a
// filter that matches everything.
func ParseTagFilter(expr string) (*TagFilter, error) {
	f := &TagFilter{Allowed: map[string]string{}, Disallowed: map[string]struct{}{}}
	for _, term := range strings.Split(expr, ",") {
		term = strings.TrimSpace(term)
		if term == "" {
			continue
		}
		if name, ok := strings.CutPrefix(term, "!"); ok {
			name = strings.TrimSpace(name)
			if name == "" {
				return nil, fmt.Errorf("invalid tag filter term %q", term)
			}
			f.Disallowed[name] = struct{}{}
			continue
		}
		name, color, _ := strings.Cut(term, ":")
		name = strings.TrimSpace(name)
		if name == "" {
			return nil, fmt.Errorf("invalid tag filter term %q", term)
		}
		f.Allowed[name] = strings.TrimSpace(color)
	}
	return f, nil
}

// Empty reports whether the filter matches everything.
func (f *TagFilter) Empty() bool {
	return f == nil || (len(f.Allowed) == 0 && len(f.Disallowed) == 0)
}

// Match reports whether an element with tags passes the filter. Any
// disallowed tag excludes the element; otherwise it needs one allowed tag
// unless no tag is allowed explicitly.
func (f *TagFilter) Match(tags []string) bool {
	if f.Empty() {
		return true
	}
	for _, t := range tags {
		if _, ok := f.Disallowed[t]; ok {
			return false
		}
	}
	if len(f.Allowed) == 0 {
		return true
	}
	for _, t := range tags {
		if _, ok := f.Allowed[t]; ok {
			return true
		}
	}
	return false
}

// Filter returns a shallow copy of s keeping only the elements that match.
// An index must match by its own tags and every element it refers to must
// have survived, so the filtered schema stays self-consistent.
func (f *TagFilter) Filter(s *Schema) *Schema {
	if f.Empty() {
		return s
	}
	out := &Schema{Graph: s.Graph, Includes: s.Includes, Digest: s.Digest}

	props := map[string]bool{}
	for _, p := range s.Properties {
		if f.Match(p.Doctags) {
			out.Properties = append(out.Properties, p)
			props[p.Key] = true
		}
	}
	vertices := map[string]bool{}
	for _, v := range s.Vertices {
		if f.Match(v.Doctags) {
			out.Vertices = append(out.Vertices, v)
			vertices[v.Label] = true
		}
	}
	edges := map[string]bool{}
	for _, e := range s.Edges {
		if f.Match(e.Doctags) && all(props, e.Signature) {
			out.Edges = append(out.Edges, e)
			edges[e.Label] = true
		}
	}

	for _, g := range s.GraphIndexes {
		if !f.Match(g.Doctags) || !all(props, g.KeyNames()) {
			continue
		}
		if g.IndexOnly != "" {
			owners := vertices
			if g.Element == ElementEdge {
				owners = edges
			}
			if !owners[g.IndexOnly] {
				continue
			}
		}
		out.GraphIndexes = append(out.GraphIndexes, g)
	}
	for _, l := range s.LocalPropertyIndexes {
		if f.Match(l.Doctags) && props[l.Key] && all(props, l.SortKey.Keys) {
			out.LocalPropertyIndexes = append(out.LocalPropertyIndexes, l)
		}
	}
	for _, l := range s.LocalEdgeIndexes {
		if f.Match(l.Doctags) && edges[l.Label] && all(props, l.SortKey.Keys) {
			out.LocalEdgeIndexes = append(out.LocalEdgeIndexes, l)
		}
	}
	return out
}

func all(set map[string]bool, names []string) bool {
	for _, n := range names {
		if !set[n] {
			return false
		}
	}
	return true
}
