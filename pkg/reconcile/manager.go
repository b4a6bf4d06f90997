// Package reconcile brings a live graph schema in line with a declared one.
//
// A run validates the declaration, compares every declared element with
// its live counterpart (verify), creates what is missing (populate),
// records a metadata revision and finally rebuilds the data of the
// requested indexes (reindex):
//
//	store, _ := backend.OpenBadger(backend.DefaultOptions("./catalog"))
//	defer store.Close()
//
//	cfg := reconcile.DefaultRunConfig()
//	cfg.ApplyChanges = true
//	cfg.Reindex = []reconcile.ReindexAction{{Target: reconcile.ReindexNew}}
//
//	mgr := reconcile.NewManager(store, cfg, reconcile.WithLogger(log))
//	st, err := mgr.Run(ctx, schema)
//
// Existing elements are never altered. A live element that disagrees with
// its declaration fails the run with a drift error, and so does any
// validation or index transition failure. Every change is committed on its
// own, so a failed run leaves earlier changes in place and a re-run picks
// up where it stopped.
package reconcile

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"github.com/orneryd/graphschema/pkg/backend"
	"github.com/orneryd/graphschema/pkg/lifecycle"
	"github.com/orneryd/graphschema/pkg/logging"
	"github.com/orneryd/graphschema/pkg/schemadef"
	"github.com/orneryd/graphschema/pkg/schemaerr"
	"github.com/orneryd/graphschema/pkg/state"
	"github.com/orneryd/graphschema/pkg/validator"
)

// Manager runs reconciliations against one store.
type Manager struct {
	store  backend.Store
	batch  backend.BatchRunner
	cfg    RunConfig
	collab Collaborators
	driver *lifecycle.Driver
	log    zerolog.Logger
	now    func() time.Time
}

// Option configures a Manager.
type Option func(*Manager)

// WithBatchRunner sets the runner for distributed reindex requests. By
// default the store is used when it implements backend.BatchRunner.
func WithBatchRunner(b backend.BatchRunner) Option {
	return func(m *Manager) { m.batch = b }
}

// WithCollaborators sets the documentation and bulk data hooks.
func WithCollaborators(c Collaborators) Option {
	return func(m *Manager) { m.collab = c }
}

// WithLogger sets the logger. The default is the global logger tagged
// with component "reconcile".
func WithLogger(log zerolog.Logger) Option {
	return func(m *Manager) { m.log = log }
}

// WithClock overrides the clock used for metadata timestamps.
func WithClock(now func() time.Time) Option {
	return func(m *Manager) { m.now = now }
}

// NewManager returns a Manager for store.
func NewManager(store backend.Store, cfg RunConfig, opts ...Option) *Manager {
	m := &Manager{
		store: store,
		cfg:   cfg,
		log:   logging.For("reconcile"),
		now:   time.Now,
	}
	if b, ok := store.(backend.BatchRunner); ok {
		m.batch = b
	}
	for _, opt := range opts {
		opt(m)
	}
	m.driver = lifecycle.NewDriver(store, cfg.IndexWaitTimeout, cfg.PollInterval, m.log)
	return m
}

// Run reconciles schema against the store and returns the final state.
// The state is returned alongside an error when the failure happened
// after verification, so callers can report what was found.
func (m *Manager) Run(ctx context.Context, schema *schemadef.Schema) (*state.State, error) {
	if err := m.cfg.Validate(); err != nil {
		return nil, err
	}
	st, err := state.New(schema)
	if err != nil {
		return nil, err
	}
	if err := validator.Validate(schema); err != nil {
		return nil, err
	}

	features, err := m.store.Features(ctx)
	if err != nil {
		return nil, schemaerr.Backend("features", err)
	}
	st.SetTTLSupported(features.CellTTL)
	if !features.CellTTL {
		m.log.Info().Msg("backend does not support ttl, declared ttl values will be ignored")
	}

	log := m.log.With().Str("graph", schema.Graph.Name).Str("model_version", schema.Graph.ModelVersion).Logger()
	log.Info().Bool("apply", m.cfg.ApplyChanges).Msg("reconciling graph schema")

	if err := m.verify(ctx, st); err != nil {
		return st, err
	}

	if !m.cfg.ApplyChanges {
		log.Info().Msg("dry run: not creating graph elements")
	} else {
		if err := m.populate(ctx, st); err != nil {
			return st, err
		}
		if _, err := m.recordMetadata(ctx, schema); err != nil {
			return st, err
		}
	}

	// The index lists are filled by populate, so ALL and NEW resolve to
	// nothing in a dry run while named requests still rebuild live indexes.
	if err := m.reindex(ctx, st); err != nil {
		return st, err
	}

	if err := m.runCollaborators(ctx, st); err != nil {
		return st, err
	}
	log.Info().
		Int("created_indexes", len(st.NewIndexes())).
		Int("indexes", len(st.AllIndexes())).
		Msg("graph schema reconciled")
	return st, nil
}

// read runs fn in a session that is always rolled back.
func (m *Manager) read(ctx context.Context, fn func(backend.Management) error) error {
	mgmt, err := m.store.OpenManagement(ctx)
	if err != nil {
		return schemaerr.Backend("open management", err)
	}
	defer mgmt.Rollback()
	return fn(mgmt)
}

// write runs fn in a session and commits it when fn succeeds.
func (m *Manager) write(ctx context.Context, op string, fn func(backend.Management) error) error {
	mgmt, err := m.store.OpenManagement(ctx)
	if err != nil {
		return schemaerr.Backend("open management", err)
	}
	defer func() {
		if mgmt.IsOpen() {
			_ = mgmt.Rollback()
		}
	}()
	if err := fn(mgmt); err != nil {
		return err
	}
	if err := mgmt.Commit(); err != nil {
		return schemaerr.Backend("commit "+op, err)
	}
	return nil
}
