// Package lifecycle drives indexes through their build pipeline and
// classifies indexes that are stuck mid-build.
//
// Index status moves INSTALLED -> REGISTERED -> ENABLED. DISABLED is
// reached only by an administrative action outside this package and is
// treated as terminal. Every transition follows the same pattern: read the
// live status, issue an action if the status matches the expected source,
// commit, then poll fresh sessions until the backend reports the target
// status or the timeout expires.
package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/orneryd/graphschema/pkg/backend"
	"github.com/orneryd/graphschema/pkg/schemadef"
	"github.com/orneryd/graphschema/pkg/schemaerr"
)

const (
	DefaultTimeout      = 300 * time.Second
	DefaultPollInterval = 500 * time.Millisecond
)

// ErrWaitTimeout is wrapped by transition errors caused by the wait
// expiring.
var ErrWaitTimeout = errors.New("timed out waiting for index status")

// Driver runs index status transitions against a store.
type Driver struct {
	store        backend.Store
	timeout      time.Duration
	pollInterval time.Duration
	log          zerolog.Logger
}

// NewDriver returns a Driver. Zero durations select the defaults.
func NewDriver(store backend.Store, timeout, pollInterval time.Duration, log zerolog.Logger) *Driver {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	if pollInterval <= 0 {
		pollInterval = DefaultPollInterval
	}
	return &Driver{store: store, timeout: timeout, pollInterval: pollInterval, log: log}
}

// Timeout is the bound of every wait.
func (d *Driver) Timeout() time.Duration { return d.timeout }

// RefOf returns the backend address of a declared index.
func RefOf(def schemadef.IndexDef) backend.IndexRef {
	switch def := def.(type) {
	case *schemadef.GraphIndexDef:
		return backend.GraphIndexRef(def.Name)
	case *schemadef.LocalPropertyIndexDef:
		return backend.RelationIndexRef(def.Key, def.Name)
	case *schemadef.LocalEdgeIndexDef:
		return backend.RelationIndexRef(def.Label, def.Name)
	default:
		panic(fmt.Sprintf("lifecycle: unknown index definition %T", def))
	}
}

// EnsureReady drives a declared index to ENABLED using the pipeline of its
// kind.
func (d *Driver) EnsureReady(ctx context.Context, def schemadef.IndexDef) error {
	switch def.(type) {
	case *schemadef.GraphIndexDef:
		return d.EnsureGraphIndexReady(ctx, def.IndexName())
	default:
		return d.EnsureRelationIndexReady(ctx, RefOf(def))
	}
}

// EnsureRelationIndexReady runs both stages of a local index pipeline.
func (d *Driver) EnsureRelationIndexReady(ctx context.Context, ref backend.IndexRef) error {
	if err := d.EnsureState(ctx, ref, "", backend.StatusInstalled, backend.ActionRegisterIndex, backend.StatusRegistered); err != nil {
		return err
	}
	if err := d.EnsureState(ctx, ref, "", backend.StatusRegistered, backend.ActionEnableIndex, backend.StatusEnabled); err != nil {
		return err
	}
	return d.rejectDisabled(ctx, ref, "")
}

// EnsureGraphIndexReady runs both stages of a graph index pipeline, each
// stage independently for every backing key.
func (d *Driver) EnsureGraphIndexReady(ctx context.Context, name string) error {
	ref := backend.GraphIndexRef(name)
	keys, err := d.graphIndexKeys(ctx, name)
	if err != nil {
		return err
	}
	for _, key := range keys {
		if err := d.EnsureState(ctx, ref, key, backend.StatusInstalled, backend.ActionRegisterIndex, backend.StatusRegistered); err != nil {
			return err
		}
	}
	for _, key := range keys {
		if err := d.EnsureState(ctx, ref, key, backend.StatusRegistered, backend.ActionEnableIndex, backend.StatusEnabled); err != nil {
			return err
		}
	}
	for _, key := range keys {
		if err := d.rejectDisabled(ctx, ref, key); err != nil {
			return err
		}
	}
	return nil
}

// rejectDisabled fails if the index or key was found DISABLED, which the
// pipeline stages skip over silently.
func (d *Driver) rejectDisabled(ctx context.Context, ref backend.IndexRef, key string) error {
	st, err := d.ReadStatus(ctx, ref, key)
	if err != nil {
		return err
	}
	if st == backend.StatusDisabled {
		return d.transitionError(ref, key, backend.ActionEnableIndex, st, nil)
	}
	return nil
}

// Activate finishes the creation of a freshly committed index: it waits
// for the backend to register it, then issues ENABLE_INDEX and commits.
// It does not wait for the index to become ENABLED.
func (d *Driver) Activate(ctx context.Context, ref backend.IndexRef) error {
	cur, err := d.Await(ctx, ref, "", backend.StatusRegistered)
	if err != nil && !errors.Is(err, ErrWaitTimeout) {
		return err
	}
	if err != nil || cur == backend.StatusDisabled {
		return d.transitionError(ref, "", backend.ActionRegisterIndex, cur, err)
	}

	mgmt, err := d.store.OpenManagement(ctx)
	if err != nil {
		return schemaerr.Backend("open management", err)
	}
	defer func() {
		if mgmt.IsOpen() {
			_ = mgmt.Rollback()
		}
	}()
	if err := mgmt.UpdateIndex(ref, backend.ActionEnableIndex); err != nil {
		return d.transitionError(ref, "", backend.ActionEnableIndex, cur, err)
	}
	if err := mgmt.Commit(); err != nil {
		return schemaerr.Backend("commit "+backend.ActionEnableIndex.String(), err)
	}
	d.log.Info().Str("index", ref.String()).Msg("index enabled, existing data may need to be reindexed")
	return nil
}

func (d *Driver) graphIndexKeys(ctx context.Context, name string) ([]string, error) {
	mgmt, err := d.store.OpenManagement(ctx)
	if err != nil {
		return nil, schemaerr.Backend("open management", err)
	}
	defer mgmt.Rollback()

	g, err := mgmt.GraphIndex(name)
	if err != nil {
		return nil, schemaerr.Backend("read graph index "+name, err)
	}
	return g.KeyNames(), nil
}

// EnsureState moves the index (or one backing key of a graph index) from
// from to to by issuing action. If the live status is not from it does
// nothing: the index is either past this stage or not ready for it.
//
// It fails with an IndexTransitionError if the status is unchanged after
// the wait, if the wait times out, or if the index turns DISABLED.
func (d *Driver) EnsureState(ctx context.Context, ref backend.IndexRef, key string,
	from backend.Status, action backend.Action, to backend.Status) error {

	mgmt, err := d.store.OpenManagement(ctx)
	if err != nil {
		return schemaerr.Backend("open management", err)
	}
	defer func() {
		if mgmt.IsOpen() {
			_ = mgmt.Rollback()
		}
	}()

	old, err := readStatus(mgmt, ref, key)
	if err != nil {
		return err
	}
	if old != from {
		return nil
	}

	log := d.log.With().Str("index", ref.String()).Str("key", key).Logger()
	log.Warn().Stringer("status", old).Stringer("action", action).Msg("index not ready, attempting transition")

	if err := mgmt.UpdateIndex(ref, action); err != nil {
		return d.transitionError(ref, key, action, old, err)
	}
	if err := mgmt.Commit(); err != nil {
		return schemaerr.Backend("commit "+action.String(), err)
	}

	cur, err := d.Await(ctx, ref, key, to)
	if err != nil && !errors.Is(err, ErrWaitTimeout) {
		return err
	}
	switch {
	case cur == old:
		return d.transitionError(ref, key, action, old, err)
	case err != nil:
		return d.transitionError(ref, key, action, cur, err)
	case cur == backend.StatusDisabled:
		return d.transitionError(ref, key, action, cur, nil)
	}
	log.Info().Stringer("status", cur).Msg("index status changed")
	return nil
}

func (d *Driver) transitionError(ref backend.IndexRef, key string, action backend.Action, status backend.Status, err error) error {
	return &schemaerr.IndexTransitionError{
		Index:  ref.Name,
		Key:    key,
		Action: action.String(),
		Status: status.String(),
		Err:    err,
	}
}

// Await polls until the status reaches target, the index turns DISABLED
// or the driver timeout expires. It returns the last status read. An
// empty key on a graph index waits for every backing key.
func (d *Driver) Await(ctx context.Context, ref backend.IndexRef, key string, target backend.Status) (backend.Status, error) {
	ctx, cancel := context.WithTimeout(ctx, d.timeout)
	defer cancel()

	ticker := time.NewTicker(d.pollInterval)
	defer ticker.Stop()

	var last backend.Status
	for {
		st, err := d.ReadStatus(ctx, ref, key)
		if err != nil {
			if ctx.Err() != nil {
				return last, fmt.Errorf("%w %s after %s", ErrWaitTimeout, target, d.timeout)
			}
			return last, err
		}
		last = st
		if st == backend.StatusDisabled || reached(st, target) {
			return st, nil
		}

		select {
		case <-ctx.Done():
			return last, fmt.Errorf("%w %s after %s", ErrWaitTimeout, target, d.timeout)
		case <-ticker.C:
		}
	}
}

// ReadStatus reads the live status in a fresh session. For a graph index
// with an empty key it returns the least advanced key status, or DISABLED
// if any key is disabled.
func (d *Driver) ReadStatus(ctx context.Context, ref backend.IndexRef, key string) (backend.Status, error) {
	mgmt, err := d.store.OpenManagement(ctx)
	if err != nil {
		return 0, schemaerr.Backend("open management", err)
	}
	defer mgmt.Rollback()
	return readStatus(mgmt, ref, key)
}

func readStatus(mgmt backend.Management, ref backend.IndexRef, key string) (backend.Status, error) {
	if !ref.IsGraphIndex() {
		r, err := mgmt.RelationIndex(ref.RelationType, ref.Name)
		if err != nil {
			return 0, schemaerr.Backend("read relation index "+ref.String(), err)
		}
		return r.Status, nil
	}

	g, err := mgmt.GraphIndex(ref.Name)
	if err != nil {
		return 0, schemaerr.Backend("read graph index "+ref.Name, err)
	}
	if key != "" {
		st, ok := g.KeyStatus[key]
		if !ok {
			return 0, schemaerr.Backend("read graph index "+ref.Name,
				fmt.Errorf("no backing key %q: %w", key, backend.ErrNotFound))
		}
		return st, nil
	}

	least := backend.StatusEnabled
	for _, st := range g.Statuses() {
		if st == backend.StatusDisabled {
			return st, nil
		}
		if st < least {
			least = st
		}
	}
	return least, nil
}

// reached reports whether st is at or past target in the build order.
func reached(st, target backend.Status) bool {
	return st != backend.StatusDisabled && st >= target
}
