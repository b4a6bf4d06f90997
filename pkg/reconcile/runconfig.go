package reconcile

import (
	"fmt"
	"strings"
	"time"

	"github.com/orneryd/graphschema/pkg/backend"
	"github.com/orneryd/graphschema/pkg/lifecycle"
	"github.com/orneryd/graphschema/pkg/schemaerr"
)

// ReindexTarget selects the indexes a reindex request applies to.
type ReindexTarget string

const (
	// ReindexAll targets every declared index seen by populate.
	ReindexAll ReindexTarget = "ALL"
	// ReindexNew targets the indexes created by this run.
	ReindexNew ReindexTarget = "NEW"
	// ReindexNamed targets the single index in IndexName.
	ReindexNamed ReindexTarget = "NAMED"
	// ReindexUnavailable targets indexes currently stuck mid-build.
	ReindexUnavailable ReindexTarget = "UNAVAILABLE"
)

// ParseReindexTarget parses a target name case-insensitively.
func ParseReindexTarget(s string) (ReindexTarget, error) {
	switch t := ReindexTarget(strings.ToUpper(strings.TrimSpace(s))); t {
	case ReindexAll, ReindexNew, ReindexNamed, ReindexUnavailable:
		return t, nil
	default:
		return "", fmt.Errorf("unknown reindex target %q (want ALL, NEW, NAMED or UNAVAILABLE)", s)
	}
}

// ReindexAction is one data rebuild request. Method is backend.MethodLocal
// or backend.MethodDistributed; empty means local.
type ReindexAction struct {
	Target    ReindexTarget `yaml:"target" toml:"target"`
	IndexName string        `yaml:"index,omitempty" toml:"index,omitempty"`
	Method    string        `yaml:"method,omitempty" toml:"method,omitempty"`
}

func (a ReindexAction) method() string {
	if a.Method == "" {
		return backend.MethodLocal
	}
	return a.Method
}

func (a ReindexAction) String() string {
	if a.Target == ReindexNamed {
		return fmt.Sprintf("%s(%s)/%s", a.Target, a.IndexName, a.method())
	}
	return fmt.Sprintf("%s/%s", a.Target, a.method())
}

// RunConfig is the configuration of one reconciliation run. The zero
// value is a dry run; DefaultRunConfig fills in the wait settings.
type RunConfig struct {
	// ApplyChanges creates missing elements. When false the run only
	// verifies.
	ApplyChanges bool `yaml:"apply_changes" toml:"apply_changes"`

	// Reindex lists data rebuild requests, executed in order.
	Reindex []ReindexAction `yaml:"reindex,omitempty" toml:"reindex,omitempty"`

	// IndexWaitTimeout bounds every wait for index status convergence.
	// Default 300s.
	IndexWaitTimeout time.Duration `yaml:"index_wait_timeout" toml:"index_wait_timeout"`

	// PollInterval is the delay between status reads while waiting.
	// Default 500ms.
	PollInterval time.Duration `yaml:"poll_interval" toml:"poll_interval"`

	// DocDir, when set, is handed to the documentation collaborator
	// together with TagFilter.
	DocDir    string `yaml:"doc_dir,omitempty" toml:"doc_dir,omitempty"`
	TagFilter string `yaml:"tag_filter,omitempty" toml:"tag_filter,omitempty"`

	// LoadPath and SavePath are handed to the bulk data collaborators.
	LoadPath string `yaml:"load_path,omitempty" toml:"load_path,omitempty"`
	SavePath string `yaml:"save_path,omitempty" toml:"save_path,omitempty"`
}

// DefaultRunConfig returns a dry run with default wait settings.
func DefaultRunConfig() RunConfig {
	return RunConfig{
		IndexWaitTimeout: lifecycle.DefaultTimeout,
		PollInterval:     lifecycle.DefaultPollInterval,
	}
}

// Validate checks the reindex requests.
func (c RunConfig) Validate() error {
	if c.IndexWaitTimeout < 0 {
		return schemaerr.NewValidationError("run config", "index_wait_timeout", "must not be negative")
	}
	if c.PollInterval < 0 {
		return schemaerr.NewValidationError("run config", "poll_interval", "must not be negative")
	}
	for i, a := range c.Reindex {
		name := fmt.Sprintf("reindex[%d]", i)
		if t, err := ParseReindexTarget(string(a.Target)); err != nil || t != a.Target {
			return schemaerr.NewValidationError("run config", name, "unknown reindex target %q", a.Target)
		}
		if a.Target == ReindexNamed && a.IndexName == "" {
			return schemaerr.NewValidationError("run config", name, "NAMED target requires an index name")
		}
		if a.Target != ReindexNamed && a.IndexName != "" {
			return schemaerr.NewValidationError("run config", name, "index name is only valid with the NAMED target")
		}
		switch a.method() {
		case backend.MethodLocal, backend.MethodDistributed:
		default:
			return schemaerr.NewValidationError("run config", name, "unknown reindex method %q", a.Method)
		}
	}
	return nil
}
