// Package backend defines the live schema store the reconciler works
// against, and ships a badger-backed catalog implementation of it.
//
// All reads and writes of schema metadata happen inside a Management
// session opened with Store.OpenManagement. A session must end with
// exactly one Commit or Rollback; callers pair OpenManagement with a
// deferred Rollback guarded by IsOpen:
//
//	mgmt, err := store.OpenManagement(ctx)
//	if err != nil {
//		return err
//	}
//	defer func() {
//		if mgmt.IsOpen() {
//			_ = mgmt.Rollback()
//		}
//	}()
//
// Index status moves asynchronously. Actions issued through UpdateIndex
// are committed with the session and the backend converges the status
// some time later; callers observe convergence by polling in fresh
// sessions.
package backend

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/orneryd/graphschema/pkg/schemadef"
)

var (
	ErrNotFound         = errors.New("not found")
	ErrAlreadyExists    = errors.New("already exists")
	ErrSessionClosed    = errors.New("management session closed")
	ErrStoreClosed      = errors.New("store closed")
	ErrIndexNotEnabled  = errors.New("index is not enabled")
	ErrTTLUnsupported   = errors.New("backend does not support ttl")
	ErrInvalidRecord    = errors.New("invalid record")
	ErrUnknownReference = errors.New("unknown schema reference")
)

// Status is the build status of an index or of one backing key of a
// graph index.
type Status int

const (
	StatusInstalled Status = iota
	StatusRegistered
	StatusEnabled
	StatusDisabled
)

func (s Status) String() string {
	switch s {
	case StatusInstalled:
		return "INSTALLED"
	case StatusRegistered:
		return "REGISTERED"
	case StatusEnabled:
		return "ENABLED"
	case StatusDisabled:
		return "DISABLED"
	default:
		return fmt.Sprintf("Status(%d)", int(s))
	}
}

// MidBuild reports whether the index is created but not yet usable.
func (s Status) MidBuild() bool {
	return s == StatusInstalled || s == StatusRegistered
}

// Action is an index management action.
type Action int

const (
	ActionRegisterIndex Action = iota
	ActionEnableIndex
	ActionReindex
	ActionDisableIndex
)

func (a Action) String() string {
	switch a {
	case ActionRegisterIndex:
		return "REGISTER_INDEX"
	case ActionEnableIndex:
		return "ENABLE_INDEX"
	case ActionReindex:
		return "REINDEX"
	case ActionDisableIndex:
		return "DISABLE_INDEX"
	default:
		return fmt.Sprintf("Action(%d)", int(a))
	}
}

// VertexLabel is a live vertex label.
type VertexLabel struct {
	Name        string        `msgpack:"name"`
	Partitioned bool          `msgpack:"partitioned"`
	Static      bool          `msgpack:"static"`
	TTL         time.Duration `msgpack:"ttl,omitempty"`
}

// EdgeLabel is a live edge label.
type EdgeLabel struct {
	Name         string                 `msgpack:"name"`
	Multiplicity schemadef.Multiplicity `msgpack:"multiplicity"`
	Directed     bool                   `msgpack:"directed"`
	Invisible    bool                   `msgpack:"invisible"`
	Signature    []string               `msgpack:"signature,omitempty"`
	TTL          time.Duration          `msgpack:"ttl,omitempty"`
}

// PropertyKey is a live property key.
type PropertyKey struct {
	Name        string                `msgpack:"name"`
	DataType    string                `msgpack:"data_type"`
	Cardinality schemadef.Cardinality `msgpack:"cardinality"`
	TTL         time.Duration         `msgpack:"ttl,omitempty"`
}

// IndexKey is one backing key of a graph index with its creation
// parameters.
type IndexKey struct {
	Key        string            `msgpack:"key"`
	Mapping    string            `msgpack:"mapping,omitempty"`
	Parameters map[string]string `msgpack:"parameters,omitempty"`
}

// GraphIndex is a live composite or mixed index. KeyStatus holds the
// status of every backing key.
type GraphIndex struct {
	Name      string                `msgpack:"name"`
	Element   schemadef.ElementKind `msgpack:"element"`
	Type      schemadef.IndexType   `msgpack:"type"`
	Unique    bool                  `msgpack:"unique"`
	Backend   string                `msgpack:"backend,omitempty"`
	IndexOnly string                `msgpack:"index_only,omitempty"`
	Keys      []IndexKey            `msgpack:"keys"`
	KeyStatus map[string]Status     `msgpack:"key_status"`
}

// KeyNames returns the backing key names in creation order.
func (g *GraphIndex) KeyNames() []string {
	names := make([]string, len(g.Keys))
	for i, k := range g.Keys {
		names[i] = k.Key
	}
	return names
}

// Statuses returns the per-key statuses in key order.
func (g *GraphIndex) Statuses() []Status {
	out := make([]Status, 0, len(g.Keys))
	for _, k := range g.Keys {
		out = append(out, g.KeyStatus[k.Key])
	}
	return out
}

// RelationKind is the kind of relation type a local index hangs off.
type RelationKind string

const (
	RelationProperty RelationKind = "property"
	RelationEdge     RelationKind = "edge"
)

// RelationIndex is a live local (vertex-centric) index on a property key
// or an edge label.
type RelationIndex struct {
	Name         string              `msgpack:"name"`
	RelationType string              `msgpack:"relation_type"`
	Kind         RelationKind        `msgpack:"kind"`
	Direction    schemadef.Direction `msgpack:"direction,omitempty"`
	SortKeys     []string            `msgpack:"sort_keys"`
	Order        schemadef.Order     `msgpack:"order"`
	Status       Status              `msgpack:"status"`
}

// IndexRef addresses an index. RelationType is empty for graph indexes and
// names the owning property key or edge label for local indexes.
type IndexRef struct {
	Name         string
	RelationType string
}

// GraphIndexRef addresses a graph index.
func GraphIndexRef(name string) IndexRef { return IndexRef{Name: name} }

// RelationIndexRef addresses a local index owned by relationType.
func RelationIndexRef(relationType, name string) IndexRef {
	return IndexRef{Name: name, RelationType: relationType}
}

// IsGraphIndex reports whether r addresses a graph index.
func (r IndexRef) IsGraphIndex() bool { return r.RelationType == "" }

func (r IndexRef) String() string {
	if r.IsGraphIndex() {
		return r.Name
	}
	return r.RelationType + "/" + r.Name
}

// Features are the backend capabilities queried once per run.
type Features struct {
	CellTTL bool
}

// MetadataRecord is one immutable graph revision record. Records are
// never updated; the latest is the last one by CreatedAt.
type MetadataRecord struct {
	ID           string    `msgpack:"id" json:"id" yaml:"id"`
	GraphName    string    `msgpack:"graph_name" json:"graph_name" yaml:"graph_name"`
	ModelVersion string    `msgpack:"model_version" json:"model_version" yaml:"model_version"`
	UpdatedOn    string    `msgpack:"updated_on" json:"updated_on" yaml:"updated_on"`
	SchemaDigest string    `msgpack:"schema_digest,omitempty" json:"schema_digest,omitempty" yaml:"schema_digest,omitempty"`
	CreatedAt    time.Time `msgpack:"created_at" json:"created_at" yaml:"created_at"`
}

// Reindex methods.
const (
	MethodLocal       = "local"
	MethodDistributed = "distributed"
)

// ReindexJob records a data rebuild of one index.
type ReindexJob struct {
	ID           string    `msgpack:"id"`
	Index        string    `msgpack:"index"`
	RelationType string    `msgpack:"relation_type,omitempty"`
	Method       string    `msgpack:"method"`
	State        string    `msgpack:"state"`
	SubmittedAt  time.Time `msgpack:"submitted_at"`
}

// Store is a live graph schema store.
type Store interface {
	// OpenManagement opens a read-write management session.
	OpenManagement(ctx context.Context) (Management, error)
	// Features reports backend capabilities without mutating anything.
	Features(ctx context.Context) (Features, error)
	// AppendMetadata stores a new metadata record. ID and CreatedAt are
	// assigned when empty.
	AppendMetadata(ctx context.Context, rec MetadataRecord) (MetadataRecord, error)
	// MetadataRecords lists every record ordered by creation time.
	MetadataRecords(ctx context.Context) ([]MetadataRecord, error)
	Close() error
}

// Management is a scoped schema session. Lookups return ErrNotFound when
// the element is absent. Writes become visible to other sessions only on
// Commit.
type Management interface {
	VertexLabel(name string) (*VertexLabel, error)
	EdgeLabel(name string) (*EdgeLabel, error)
	PropertyKey(name string) (*PropertyKey, error)
	GraphIndex(name string) (*GraphIndex, error)
	RelationIndex(relationType, name string) (*RelationIndex, error)
	Indexes() ([]IndexRef, error)

	CreateVertexLabel(v *VertexLabel) error
	CreateEdgeLabel(e *EdgeLabel) error
	CreatePropertyKey(p *PropertyKey) error
	CreateGraphIndex(g *GraphIndex) error
	CreateRelationIndex(r *RelationIndex) error

	UpdateIndex(ref IndexRef, action Action) error

	Commit() error
	Rollback() error
	IsOpen() bool
}

// BatchRunner dispatches data rebuilds to an external batch system.
type BatchRunner interface {
	SubmitReindexJob(ctx context.Context, ref IndexRef) (*ReindexJob, error)
}

// SortRefs orders refs by name, then relation type.
func SortRefs(refs []IndexRef) {
	sort.Slice(refs, func(i, j int) bool {
		if refs[i].Name != refs[j].Name {
			return refs[i].Name < refs[j].Name
		}
		return refs[i].RelationType < refs[j].RelationType
	})
}
