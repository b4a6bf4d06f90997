package backend

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/vmihailenco/msgpack/v5"
)

// Key prefixes for the schema catalog.
const (
	prefixVertexLabel   = byte(0x01) // 0x01 + name -> VertexLabel
	prefixEdgeLabel     = byte(0x02) // 0x02 + name -> EdgeLabel
	prefixPropertyKey   = byte(0x03) // 0x03 + name -> PropertyKey
	prefixGraphIndex    = byte(0x04) // 0x04 + name -> graphIndexRecord
	prefixRelationIndex = byte(0x05) // 0x05 + relationType + 0x00 + name -> relationIndexRecord
	prefixMetadata      = byte(0x06) // 0x06 + createdAt(8, big endian) + seq(8, big endian) -> MetadataRecord
	prefixReindexJob    = byte(0x07) // 0x07 + submittedAt(8, big endian) + seq(8, big endian) -> ReindexJob
	prefixSequence      = byte(0x08) // 0x08 -> badger sequence lease for record keys
)

// BadgerStore is a schema catalog kept in BadgerDB. It stands in for the
// management API of a live graph database: every Management session is a
// badger read-write transaction, and index status transitions converge
// after Options.ConvergenceDelay.
//
// Convergence is resolved when a record is read, so no background work is
// needed: an action stores the target status with a due time and the
// first read after the due time observes the new status.
//
// Example:
//
//	store, err := backend.OpenBadgerInMemory()
//	if err != nil {
//		return err
//	}
//	defer store.Close()
//
//	mgmt, _ := store.OpenManagement(ctx)
//	_ = mgmt.CreatePropertyKey(&backend.PropertyKey{Name: "sku", DataType: "String"})
//	_ = mgmt.Commit()
type BadgerStore struct {
	db   *badger.DB
	seq  *badger.Sequence
	opts Options
	log  zerolog.Logger

	mu      sync.RWMutex
	closed  bool
	stalled map[string]struct{}
}

// Options configures a BadgerStore.
type Options struct {
	// DataDir is the catalog directory. Ignored when InMemory is set.
	DataDir string

	// InMemory keeps the catalog in RAM only.
	InMemory bool

	// SyncWrites forces fsync after each commit.
	SyncWrites bool

	// ConvergenceDelay is how long an index status transition takes to
	// become visible after its action is committed.
	ConvergenceDelay time.Duration

	// AutoRegister moves newly created indexes from INSTALLED to
	// REGISTERED without an explicit REGISTER_INDEX action, the way a
	// cluster acknowledges a new index.
	AutoRegister bool

	// CellTTL advertises per-element expiration support.
	CellTTL bool

	// Now overrides the clock. Defaults to time.Now.
	Now func() time.Time

	// Logger receives catalog and badger internal logs. Nil disables
	// logging.
	Logger *zerolog.Logger
}

// DefaultOptions returns options for a persistent catalog in dataDir.
func DefaultOptions(dataDir string) Options {
	return Options{
		DataDir:          dataDir,
		ConvergenceDelay: 200 * time.Millisecond,
		AutoRegister:     true,
		CellTTL:          true,
	}
}

// OpenBadger opens (or creates) a catalog with opts.
func OpenBadger(opts Options) (*BadgerStore, error) {
	badgerOpts := badger.DefaultOptions(opts.DataDir)
	if opts.InMemory {
		badgerOpts = badgerOpts.WithInMemory(true).WithDir("").WithValueDir("")
	}
	if opts.SyncWrites {
		badgerOpts = badgerOpts.WithSyncWrites(true)
	}

	log := zerolog.Nop()
	if opts.Logger != nil {
		log = *opts.Logger
		badgerOpts = badgerOpts.WithLogger(badgerLogger{log: log})
	} else {
		badgerOpts = badgerOpts.WithLogger(nil)
	}

	// A schema catalog is tiny; keep badger's buffers small.
	badgerOpts = badgerOpts.
		WithMemTableSize(8 << 20).
		WithValueLogFileSize(16 << 20).
		WithNumMemtables(2).
		WithNumLevelZeroTables(2).
		WithNumLevelZeroTablesStall(4).
		WithBlockCacheSize(4 << 20).
		WithIndexCacheSize(2 << 20)

	db, err := badger.Open(badgerOpts)
	if err != nil {
		return nil, fmt.Errorf("failed to open schema catalog: %w", err)
	}
	seq, err := db.GetSequence([]byte{prefixSequence}, 64)
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to open record sequence: %w", err)
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &BadgerStore{
		db:      db,
		seq:     seq,
		opts:    opts,
		log:     log,
		stalled: make(map[string]struct{}),
	}, nil
}

// OpenBadgerInMemory opens an in-memory catalog with instant convergence,
// automatic registration and TTL support. Intended for tests.
func OpenBadgerInMemory() (*BadgerStore, error) {
	return OpenBadger(Options{InMemory: true, AutoRegister: true, CellTTL: true})
}

// Close closes the catalog. Closing twice is a no-op.
func (s *BadgerStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	if err := s.seq.Release(); err != nil {
		s.log.Warn().Err(err).Msg("failed to release record sequence")
	}
	return s.db.Close()
}

func (s *BadgerStore) checkOpen(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return ErrStoreClosed
	}
	return nil
}

// OpenManagement opens a read-write management session.
func (s *BadgerStore) OpenManagement(ctx context.Context) (Management, error) {
	if err := s.checkOpen(ctx); err != nil {
		return nil, err
	}
	m := &badgerSession{
		store: s,
		txn:   s.db.NewTransaction(true),
		id:    uuid.NewString(),
		open:  true,
	}
	s.log.Trace().Str("session", m.id).Msg("management session opened")
	return m, nil
}

// Features reports the configured capabilities.
func (s *BadgerStore) Features(ctx context.Context) (Features, error) {
	if err := s.checkOpen(ctx); err != nil {
		return Features{}, err
	}
	return Features{CellTTL: s.opts.CellTTL}, nil
}

// AppendMetadata stores rec under a new key. Existing records are never
// rewritten; records sharing a CreatedAt keep their append order.
func (s *BadgerStore) AppendMetadata(ctx context.Context, rec MetadataRecord) (MetadataRecord, error) {
	if err := s.checkOpen(ctx); err != nil {
		return MetadataRecord{}, err
	}
	if rec.ID == "" {
		rec.ID = uuid.NewString()
	}
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = s.now()
	}
	data, err := encode(&rec)
	if err != nil {
		return MetadataRecord{}, err
	}
	key, err := s.recordKey(prefixMetadata, rec.CreatedAt)
	if err != nil {
		return MetadataRecord{}, err
	}
	err = s.db.Update(func(txn *badger.Txn) error {
		return txn.Set(key, data)
	})
	if err != nil {
		return MetadataRecord{}, err
	}
	return rec, nil
}

// MetadataRecords lists every metadata record, oldest first.
func (s *BadgerStore) MetadataRecords(ctx context.Context) ([]MetadataRecord, error) {
	if err := s.checkOpen(ctx); err != nil {
		return nil, err
	}
	var out []MetadataRecord
	err := s.db.View(func(txn *badger.Txn) error {
		return scan(txn, []byte{prefixMetadata}, func(_ []byte, val []byte) error {
			var rec MetadataRecord
			if err := decode(val, &rec); err != nil {
				return err
			}
			out = append(out, rec)
			return nil
		})
	})
	return out, err
}

// SubmitReindexJob records a distributed rebuild of an enabled index.
func (s *BadgerStore) SubmitReindexJob(ctx context.Context, ref IndexRef) (*ReindexJob, error) {
	if err := s.checkOpen(ctx); err != nil {
		return nil, err
	}
	var job *ReindexJob
	err := s.db.Update(func(txn *badger.Txn) error {
		if err := s.requireEnabled(txn, ref); err != nil {
			return err
		}
		var err error
		job, err = s.putJob(txn, ref, MethodDistributed, "submitted")
		return err
	})
	if err != nil {
		return nil, err
	}
	s.log.Info().Str("index", ref.String()).Str("job", job.ID).Msg("distributed reindex job submitted")
	return job, nil
}

// ReindexJobs lists every recorded rebuild, oldest first.
func (s *BadgerStore) ReindexJobs(ctx context.Context) ([]ReindexJob, error) {
	if err := s.checkOpen(ctx); err != nil {
		return nil, err
	}
	var out []ReindexJob
	err := s.db.View(func(txn *badger.Txn) error {
		return scan(txn, []byte{prefixReindexJob}, func(_ []byte, val []byte) error {
			var job ReindexJob
			if err := decode(val, &job); err != nil {
				return err
			}
			out = append(out, job)
			return nil
		})
	})
	return out, err
}

// StallIndex stops every pending and future status transition of the
// named index from converging, simulating a build stuck in the cluster.
func (s *BadgerStore) StallIndex(name string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stalled[name] = struct{}{}
}

// ResumeIndex undoes StallIndex.
func (s *BadgerStore) ResumeIndex(name string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.stalled, name)
}

func (s *BadgerStore) isStalled(name string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.stalled[name]
	return ok
}

// SetIndexStatus overwrites the status of an index, dropping any pending
// transition. For graph indexes key selects one backing key; an empty key
// sets all of them. It is an administrative hook for seeding catalogs.
func (s *BadgerStore) SetIndexStatus(ctx context.Context, ref IndexRef, key string, status Status) error {
	if err := s.checkOpen(ctx); err != nil {
		return err
	}
	return s.db.Update(func(txn *badger.Txn) error {
		if ref.IsGraphIndex() {
			rec, err := s.loadGraphIndex(txn, ref.Name)
			if err != nil {
				return err
			}
			for _, k := range rec.Index.Keys {
				if key != "" && k.Key != key {
					continue
				}
				rec.Index.KeyStatus[k.Key] = status
				delete(rec.Pending, k.Key)
			}
			if key != "" {
				if _, ok := rec.Index.KeyStatus[key]; !ok {
					return fmt.Errorf("index %s key %q: %w", ref.Name, key, ErrNotFound)
				}
			}
			return putValue(txn, graphIndexKey(ref.Name), rec)
		}
		rec, err := s.loadRelationIndex(txn, ref.RelationType, ref.Name)
		if err != nil {
			return err
		}
		rec.Index.Status = status
		rec.Pending = nil
		return putValue(txn, relationIndexKey(ref.RelationType, ref.Name), rec)
	})
}

func (s *BadgerStore) now() time.Time { return s.opts.Now() }

// transition is a status change that becomes visible at Due.
type transition struct {
	Target Status `msgpack:"target"`
	Due    int64  `msgpack:"due"`
}

type graphIndexRecord struct {
	Index   GraphIndex            `msgpack:"index"`
	Pending map[string]transition `msgpack:"pending,omitempty"`
}

type relationIndexRecord struct {
	Index   RelationIndex `msgpack:"index"`
	Pending *transition   `msgpack:"pending,omitempty"`
}

func (s *BadgerStore) schedule(target Status) transition {
	return transition{Target: target, Due: s.now().Add(s.opts.ConvergenceDelay).UnixNano()}
}

func (s *BadgerStore) resolveGraphIndex(rec *graphIndexRecord) {
	if len(rec.Pending) == 0 || s.isStalled(rec.Index.Name) {
		return
	}
	now := s.now().UnixNano()
	for key, t := range rec.Pending {
		if now >= t.Due {
			rec.Index.KeyStatus[key] = t.Target
			delete(rec.Pending, key)
		}
	}
}

func (s *BadgerStore) resolveRelationIndex(rec *relationIndexRecord) {
	if rec.Pending == nil || s.isStalled(rec.Index.Name) {
		return
	}
	if s.now().UnixNano() >= rec.Pending.Due {
		rec.Index.Status = rec.Pending.Target
		rec.Pending = nil
	}
}

func (s *BadgerStore) loadGraphIndex(txn *badger.Txn, name string) (*graphIndexRecord, error) {
	var rec graphIndexRecord
	if err := getValue(txn, graphIndexKey(name), &rec); err != nil {
		return nil, fmt.Errorf("graph index %q: %w", name, err)
	}
	if rec.Index.KeyStatus == nil {
		rec.Index.KeyStatus = make(map[string]Status)
	}
	if rec.Pending == nil {
		rec.Pending = make(map[string]transition)
	}
	s.resolveGraphIndex(&rec)
	return &rec, nil
}

func (s *BadgerStore) loadRelationIndex(txn *badger.Txn, relationType, name string) (*relationIndexRecord, error) {
	var rec relationIndexRecord
	if err := getValue(txn, relationIndexKey(relationType, name), &rec); err != nil {
		return nil, fmt.Errorf("relation index %q on %q: %w", name, relationType, err)
	}
	s.resolveRelationIndex(&rec)
	return &rec, nil
}

func (s *BadgerStore) requireEnabled(txn *badger.Txn, ref IndexRef) error {
	if ref.IsGraphIndex() {
		rec, err := s.loadGraphIndex(txn, ref.Name)
		if err != nil {
			return err
		}
		for _, st := range rec.Index.Statuses() {
			if st != StatusEnabled {
				return fmt.Errorf("index %s is %s: %w", ref, st, ErrIndexNotEnabled)
			}
		}
		return nil
	}
	rec, err := s.loadRelationIndex(txn, ref.RelationType, ref.Name)
	if err != nil {
		return err
	}
	if rec.Index.Status != StatusEnabled {
		return fmt.Errorf("index %s is %s: %w", ref, rec.Index.Status, ErrIndexNotEnabled)
	}
	return nil
}

func (s *BadgerStore) putJob(txn *badger.Txn, ref IndexRef, method, state string) (*ReindexJob, error) {
	job := &ReindexJob{
		ID:           uuid.NewString(),
		Index:        ref.Name,
		RelationType: ref.RelationType,
		Method:       method,
		State:        state,
		SubmittedAt:  s.now(),
	}
	key, err := s.recordKey(prefixReindexJob, job.SubmittedAt)
	if err != nil {
		return nil, err
	}
	if err := putValue(txn, key, job); err != nil {
		return nil, err
	}
	return job, nil
}

// ============================================================================
// Key encoding helpers
// ============================================================================

func nameKey(prefix byte, name string) []byte {
	return append([]byte{prefix}, name...)
}

func graphIndexKey(name string) []byte { return nameKey(prefixGraphIndex, name) }

// relationIndexKey is prefix + relationType + 0x00 + name.
func relationIndexKey(relationType, name string) []byte {
	key := make([]byte, 0, 2+len(relationType)+len(name))
	key = append(key, prefixRelationIndex)
	key = append(key, relationType...)
	key = append(key, 0x00)
	key = append(key, name...)
	return key
}

// splitRelationIndexKey is the inverse of relationIndexKey.
func splitRelationIndexKey(key []byte) (relationType, name string) {
	body := key[1:]
	i := strings.IndexByte(string(body), 0x00)
	if i < 0 {
		return "", string(body)
	}
	return string(body[:i]), string(body[i+1:])
}

// recordKey returns a fresh key for an append-only record at t.
func (s *BadgerStore) recordKey(prefix byte, t time.Time) ([]byte, error) {
	n, err := s.seq.Next()
	if err != nil {
		return nil, fmt.Errorf("failed to allocate record key: %w", err)
	}
	return timeKey(prefix, t, n), nil
}

// timeKey sorts by t, then by seq.
func timeKey(prefix byte, t time.Time, seq uint64) []byte {
	key := make([]byte, 17)
	key[0] = prefix
	binary.BigEndian.PutUint64(key[1:], uint64(t.UnixNano()))
	binary.BigEndian.PutUint64(key[9:], seq)
	return key
}

// ============================================================================
// Serialization helpers
// ============================================================================

func encode(v any) ([]byte, error) {
	data, err := msgpack.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("failed to encode record: %w", err)
	}
	return data, nil
}

func decode(data []byte, v any) error {
	if err := msgpack.Unmarshal(data, v); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidRecord, err)
	}
	return nil
}

func getValue(txn *badger.Txn, key []byte, v any) error {
	item, err := txn.Get(key)
	if errors.Is(err, badger.ErrKeyNotFound) {
		return ErrNotFound
	}
	if err != nil {
		return err
	}
	return item.Value(func(val []byte) error { return decode(val, v) })
}

func putValue(txn *badger.Txn, key []byte, v any) error {
	data, err := encode(v)
	if err != nil {
		return err
	}
	return txn.Set(key, data)
}

func exists(txn *badger.Txn, key []byte) (bool, error) {
	_, err := txn.Get(key)
	if errors.Is(err, badger.ErrKeyNotFound) {
		return false, nil
	}
	return err == nil, err
}

// scan calls fn for every key under prefix in key order.
func scan(txn *badger.Txn, prefix []byte, fn func(key, val []byte) error) error {
	opts := badger.DefaultIteratorOptions
	opts.Prefix = prefix
	it := txn.NewIterator(opts)
	defer it.Close()

	for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
		item := it.Item()
		key := item.KeyCopy(nil)
		if err := item.Value(func(val []byte) error { return fn(key, val) }); err != nil {
			return err
		}
	}
	return nil
}

// badgerLogger routes badger's internal logging into zerolog. Badger is
// chatty at info, so info lines go to debug.
type badgerLogger struct {
	log zerolog.Logger
}

func (l badgerLogger) Errorf(format string, args ...interface{}) {
	l.log.Error().Str("source", "badger").Msgf(strings.TrimSpace(format), args...)
}

func (l badgerLogger) Warningf(format string, args ...interface{}) {
	l.log.Warn().Str("source", "badger").Msgf(strings.TrimSpace(format), args...)
}

func (l badgerLogger) Infof(format string, args ...interface{}) {
	l.log.Debug().Str("source", "badger").Msgf(strings.TrimSpace(format), args...)
}

func (l badgerLogger) Debugf(format string, args ...interface{}) {
	l.log.Trace().Str("source", "badger").Msgf(strings.TrimSpace(format), args...)
}
