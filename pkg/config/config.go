// Package config loads graphschema configuration from a file and the
// environment.
//
// A configuration file is yaml (.yaml, .yml) or toml (.toml). Every key is
// optional and falls back to DefaultConfig. Environment variables prefixed
// with GRAPHSCHEMA_ are applied on top of the file:
//
//	# graphschema.toml
//	[store]
//	data_dir = "./catalog"
//	convergence_delay = "200ms"
//
//	[run]
//	apply_changes = true
//	reindex = ["NEW"]
//	reindex_method = "local"
//	index_wait_timeout = "300s"
//
//	[logging]
//	level = "debug"
//
// Example Usage:
//
//	cfg, err := config.LoadFile("graphschema.toml")
//	if err != nil {
//		return err
//	}
//	config.LoadFromEnv(cfg)
//	if err := cfg.Validate(); err != nil {
//		return err
//	}
//	store, err := backend.OpenBadger(cfg.StoreOptions())
//
// Environment Variables:
//   - GRAPHSCHEMA_DATA_DIR="./catalog"
//   - GRAPHSCHEMA_IN_MEMORY=true
//   - GRAPHSCHEMA_SYNC_WRITES=true
//   - GRAPHSCHEMA_CONVERGENCE_DELAY=200ms
//   - GRAPHSCHEMA_AUTO_REGISTER=true
//   - GRAPHSCHEMA_CELL_TTL=true
//   - GRAPHSCHEMA_APPLY_CHANGES=true
//   - GRAPHSCHEMA_REINDEX="NEW,UNAVAILABLE"
//   - GRAPHSCHEMA_REINDEX_METHOD="distributed"
//   - GRAPHSCHEMA_INDEX_WAIT_TIMEOUT=300 (seconds, or a Go duration)
//   - GRAPHSCHEMA_POLL_INTERVAL=500ms
//   - GRAPHSCHEMA_DOC_DIR, GRAPHSCHEMA_TAG_FILTER
//   - GRAPHSCHEMA_LOAD_PATH, GRAPHSCHEMA_SAVE_PATH
//
// Logging variables (GRAPHSCHEMA_LOG_*) are read by package logging.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/rs/zerolog"
	"gopkg.in/yaml.v3"

	"github.com/orneryd/graphschema/pkg/backend"
	"github.com/orneryd/graphschema/pkg/logging"
	"github.com/orneryd/graphschema/pkg/reconcile"
)

// StoreKindBadger is the only store kind shipped with graphschema.
const StoreKindBadger = "badger"

// Config holds all graphschema configuration.
//
// Configuration is organized into sections:
//   - Store: the schema catalog the run reconciles against
//   - Run: what a reconciliation run does
//   - Logging: log level and output format
type Config struct {
	Store   StoreConfig
	Run     RunConfig
	Logging LoggingConfig
}

// StoreConfig holds catalog settings.
type StoreConfig struct {
	// Kind of store; only "badger" is supported
	Kind string
	// DataDir is the catalog directory
	DataDir string
	// InMemory keeps the catalog in RAM, DataDir is ignored
	InMemory bool
	// SyncWrites fsyncs every commit
	SyncWrites bool
	// ConvergenceDelay is how long an index status change takes to settle
	ConvergenceDelay time.Duration
	// AutoRegister moves new indexes to REGISTERED by itself
	AutoRegister bool
	// CellTTL advertises per-element expiration support
	CellTTL bool
}

// RunConfig holds reconciliation run settings.
type RunConfig struct {
	// ApplyChanges creates missing elements; false is a dry run
	ApplyChanges bool
	// Reindex lists ALL, NEW or UNAVAILABLE targets in order
	Reindex []string
	// ReindexIndexes names single indexes to rebuild after the targets
	ReindexIndexes []string
	// ReindexMethod is local or distributed
	ReindexMethod string
	// IndexWaitTimeout bounds every index status wait
	IndexWaitTimeout time.Duration
	// PollInterval between index status reads
	PollInterval time.Duration
	DocDir       string
	TagFilter    string
	LoadPath     string
	SavePath     string
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	// Level is trace, debug, info, warn, error or off
	Level   string
	JSON    bool
	NoColor bool
}

// DefaultConfig returns the built-in defaults: a persistent badger catalog
// in ./data and a dry run.
func DefaultConfig() *Config {
	return &Config{
		Store: StoreConfig{
			Kind:             StoreKindBadger,
			DataDir:          "./data",
			ConvergenceDelay: 200 * time.Millisecond,
			AutoRegister:     true,
			CellTTL:          true,
		},
		Run: RunConfig{
			ReindexMethod:    backend.MethodLocal,
			IndexWaitTimeout: 300 * time.Second,
			PollInterval:     500 * time.Millisecond,
		},
		Logging: LoggingConfig{Level: "info"},
	}
}

// fileConfig is the on-disk layout. Pointer fields tell an absent key from
// a zero value.
type fileConfig struct {
	Store struct {
		Kind             *string `yaml:"kind" toml:"kind"`
		DataDir          *string `yaml:"data_dir" toml:"data_dir"`
		InMemory         *bool   `yaml:"in_memory" toml:"in_memory"`
		SyncWrites       *bool   `yaml:"sync_writes" toml:"sync_writes"`
		ConvergenceDelay *string `yaml:"convergence_delay" toml:"convergence_delay"`
		AutoRegister     *bool   `yaml:"auto_register" toml:"auto_register"`
		CellTTL          *bool   `yaml:"cell_ttl" toml:"cell_ttl"`
	} `yaml:"store" toml:"store"`
	Run struct {
		ApplyChanges     *bool    `yaml:"apply_changes" toml:"apply_changes"`
		Reindex          []string `yaml:"reindex" toml:"reindex"`
		ReindexIndexes   []string `yaml:"reindex_indexes" toml:"reindex_indexes"`
		ReindexMethod    *string  `yaml:"reindex_method" toml:"reindex_method"`
		IndexWaitTimeout *string  `yaml:"index_wait_timeout" toml:"index_wait_timeout"`
		PollInterval     *string  `yaml:"poll_interval" toml:"poll_interval"`
		DocDir           *string  `yaml:"doc_dir" toml:"doc_dir"`
		TagFilter        *string  `yaml:"tag_filter" toml:"tag_filter"`
		LoadPath         *string  `yaml:"load_path" toml:"load_path"`
		SavePath         *string  `yaml:"save_path" toml:"save_path"`
	} `yaml:"run" toml:"run"`
	Logging struct {
		Level   *string `yaml:"level" toml:"level"`
		JSON    *bool   `yaml:"json" toml:"json"`
		NoColor *bool   `yaml:"no_color" toml:"no_color"`
	} `yaml:"logging" toml:"logging"`
}

// LoadFile reads path over the defaults. The format follows the file
// extension.
func LoadFile(path string) (*Config, error) {
	var raw fileConfig
	switch ext := strings.ToLower(filepath.Ext(path)); ext {
	case ".toml":
		if _, err := toml.DecodeFile(path, &raw); err != nil {
			return nil, fmt.Errorf("load config %s: %w", path, err)
		}
	case ".yaml", ".yml":
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("load config %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, &raw); err != nil {
			return nil, fmt.Errorf("load config %s: %w", path, err)
		}
	default:
		return nil, fmt.Errorf("load config %s: unsupported format %q (want .yaml, .yml or .toml)", path, ext)
	}

	cfg := DefaultConfig()
	if err := raw.apply(cfg); err != nil {
		return nil, fmt.Errorf("load config %s: %w", path, err)
	}
	return cfg, nil
}

func (raw *fileConfig) apply(cfg *Config) error {
	s := &raw.Store
	setString(&cfg.Store.Kind, s.Kind)
	setString(&cfg.Store.DataDir, s.DataDir)
	setBool(&cfg.Store.InMemory, s.InMemory)
	setBool(&cfg.Store.SyncWrites, s.SyncWrites)
	setBool(&cfg.Store.AutoRegister, s.AutoRegister)
	setBool(&cfg.Store.CellTTL, s.CellTTL)
	if err := setDuration(&cfg.Store.ConvergenceDelay, "convergence_delay", s.ConvergenceDelay); err != nil {
		return err
	}

	r := &raw.Run
	setBool(&cfg.Run.ApplyChanges, r.ApplyChanges)
	if len(r.Reindex) > 0 {
		cfg.Run.Reindex = normalize(r.Reindex)
	}
	if len(r.ReindexIndexes) > 0 {
		cfg.Run.ReindexIndexes = normalize(r.ReindexIndexes)
	}
	setString(&cfg.Run.ReindexMethod, r.ReindexMethod)
	if err := setDuration(&cfg.Run.IndexWaitTimeout, "index_wait_timeout", r.IndexWaitTimeout); err != nil {
		return err
	}
	if err := setDuration(&cfg.Run.PollInterval, "poll_interval", r.PollInterval); err != nil {
		return err
	}
	setString(&cfg.Run.DocDir, r.DocDir)
	setString(&cfg.Run.TagFilter, r.TagFilter)
	setString(&cfg.Run.LoadPath, r.LoadPath)
	setString(&cfg.Run.SavePath, r.SavePath)

	l := &raw.Logging
	setString(&cfg.Logging.Level, l.Level)
	setBool(&cfg.Logging.JSON, l.JSON)
	setBool(&cfg.Logging.NoColor, l.NoColor)
	return nil
}

// LoadFromEnv applies GRAPHSCHEMA_* variables to cfg and returns it. A nil
// cfg starts from DefaultConfig. Unparsable values are ignored.
func LoadFromEnv(cfg *Config) *Config {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	cfg.Store.DataDir = getEnv("GRAPHSCHEMA_DATA_DIR", cfg.Store.DataDir)
	cfg.Store.InMemory = getEnvBool("GRAPHSCHEMA_IN_MEMORY", cfg.Store.InMemory)
	cfg.Store.SyncWrites = getEnvBool("GRAPHSCHEMA_SYNC_WRITES", cfg.Store.SyncWrites)
	cfg.Store.ConvergenceDelay = getEnvDuration("GRAPHSCHEMA_CONVERGENCE_DELAY", cfg.Store.ConvergenceDelay)
	cfg.Store.AutoRegister = getEnvBool("GRAPHSCHEMA_AUTO_REGISTER", cfg.Store.AutoRegister)
	cfg.Store.CellTTL = getEnvBool("GRAPHSCHEMA_CELL_TTL", cfg.Store.CellTTL)

	cfg.Run.ApplyChanges = getEnvBool("GRAPHSCHEMA_APPLY_CHANGES", cfg.Run.ApplyChanges)
	cfg.Run.Reindex = getEnvStringSlice("GRAPHSCHEMA_REINDEX", cfg.Run.Reindex)
	cfg.Run.ReindexIndexes = getEnvStringSlice("GRAPHSCHEMA_REINDEX_INDEXES", cfg.Run.ReindexIndexes)
	cfg.Run.ReindexMethod = getEnv("GRAPHSCHEMA_REINDEX_METHOD", cfg.Run.ReindexMethod)
	cfg.Run.IndexWaitTimeout = getEnvDuration("GRAPHSCHEMA_INDEX_WAIT_TIMEOUT", cfg.Run.IndexWaitTimeout)
	cfg.Run.PollInterval = getEnvDuration("GRAPHSCHEMA_POLL_INTERVAL", cfg.Run.PollInterval)
	cfg.Run.DocDir = getEnv("GRAPHSCHEMA_DOC_DIR", cfg.Run.DocDir)
	cfg.Run.TagFilter = getEnv("GRAPHSCHEMA_TAG_FILTER", cfg.Run.TagFilter)
	cfg.Run.LoadPath = getEnv("GRAPHSCHEMA_LOAD_PATH", cfg.Run.LoadPath)
	cfg.Run.SavePath = getEnv("GRAPHSCHEMA_SAVE_PATH", cfg.Run.SavePath)
	return cfg
}

// Validate checks the configuration for invalid values.
func (c *Config) Validate() error {
	if c.Store.Kind != StoreKindBadger {
		return fmt.Errorf("unsupported store kind %q", c.Store.Kind)
	}
	if !c.Store.InMemory && c.Store.DataDir == "" {
		return fmt.Errorf("store data_dir is required unless in_memory is set")
	}
	if c.Store.ConvergenceDelay < 0 {
		return fmt.Errorf("invalid convergence delay: %s", c.Store.ConvergenceDelay)
	}
	if c.Run.IndexWaitTimeout <= 0 {
		return fmt.Errorf("invalid index wait timeout: %s", c.Run.IndexWaitTimeout)
	}
	if c.Run.PollInterval <= 0 {
		return fmt.Errorf("invalid poll interval: %s", c.Run.PollInterval)
	}
	if _, ok := logging.ParseLevel(c.Logging.Level); !ok {
		return fmt.Errorf("invalid log level %q", c.Logging.Level)
	}
	if _, err := c.RunConfig(); err != nil {
		return err
	}
	return nil
}

// RunConfig converts the run section. Targets come first in their listed
// order, then one NAMED request per entry of ReindexIndexes.
func (c *Config) RunConfig() (reconcile.RunConfig, error) {
	rc := reconcile.RunConfig{
		ApplyChanges:     c.Run.ApplyChanges,
		IndexWaitTimeout: c.Run.IndexWaitTimeout,
		PollInterval:     c.Run.PollInterval,
		DocDir:           c.Run.DocDir,
		TagFilter:        c.Run.TagFilter,
		LoadPath:         c.Run.LoadPath,
		SavePath:         c.Run.SavePath,
	}
	method := strings.ToLower(strings.TrimSpace(c.Run.ReindexMethod))
	for _, raw := range c.Run.Reindex {
		target, err := reconcile.ParseReindexTarget(raw)
		if err != nil {
			return reconcile.RunConfig{}, err
		}
		if target == reconcile.ReindexNamed {
			return reconcile.RunConfig{}, fmt.Errorf("reindex target NAMED takes an index name, use reindex_indexes")
		}
		rc.Reindex = append(rc.Reindex, reconcile.ReindexAction{Target: target, Method: method})
	}
	for _, name := range c.Run.ReindexIndexes {
		rc.Reindex = append(rc.Reindex, reconcile.ReindexAction{Target: reconcile.ReindexNamed, IndexName: name, Method: method})
	}
	if err := rc.Validate(); err != nil {
		return reconcile.RunConfig{}, err
	}
	return rc, nil
}

// StoreOptions converts the store section. log may be nil.
func (c *Config) StoreOptions(log *zerolog.Logger) backend.Options {
	return backend.Options{
		DataDir:          c.Store.DataDir,
		InMemory:         c.Store.InMemory,
		SyncWrites:       c.Store.SyncWrites,
		ConvergenceDelay: c.Store.ConvergenceDelay,
		AutoRegister:     c.Store.AutoRegister,
		CellTTL:          c.Store.CellTTL,
		Logger:           log,
	}
}

// LoggerConfig converts the logging section on top of the runtime
// profile.
func (c *Config) LoggerConfig() logging.Config {
	lc := logging.DefaultConfig(logging.ProfileRuntime)
	if lvl, ok := logging.ParseLevel(c.Logging.Level); ok {
		lc.Level = lvl
	}
	lc.JSON = c.Logging.JSON
	lc.NoColor = c.Logging.NoColor
	logging.ApplyEnvOverrides(&lc)
	return lc
}

// String returns a one-line summary suitable for logging.
func (c *Config) String() string {
	dir := c.Store.DataDir
	if c.Store.InMemory {
		dir = "(in-memory)"
	}
	return fmt.Sprintf(
		"Config{Store: %s %s, Apply: %v, Reindex: %v%v/%s, Timeout: %s}",
		c.Store.Kind, dir,
		c.Run.ApplyChanges,
		c.Run.Reindex, c.Run.ReindexIndexes, c.Run.ReindexMethod,
		c.Run.IndexWaitTimeout,
	)
}

func setString(dst *string, v *string) {
	if v != nil {
		*dst = strings.TrimSpace(*v)
	}
}

func setBool(dst *bool, v *bool) {
	if v != nil {
		*dst = *v
	}
}

func setDuration(dst *time.Duration, key string, v *string) error {
	if v == nil {
		return nil
	}
	d, err := parseDuration(*v)
	if err != nil {
		return fmt.Errorf("parse %s: %w", key, err)
	}
	*dst = d
	return nil
}

// parseDuration accepts a Go duration or a plain number of seconds.
func parseDuration(s string) (time.Duration, error) {
	s = strings.TrimSpace(s)
	if d, err := time.ParseDuration(s); err == nil {
		return d, nil
	}
	secs, err := strconv.Atoi(s)
	if err != nil {
		return 0, fmt.Errorf("invalid duration %q", s)
	}
	return time.Duration(secs) * time.Second, nil
}

func normalize(in []string) []string {
	out := make([]string, 0, len(in))
	for _, v := range in {
		if v = strings.TrimSpace(v); v != "" {
			out = append(out, v)
		}
	}
	return out
}

// Helper functions for environment variable parsing

func getEnv(key, defaultVal string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defaultVal
}

func getEnvBool(key string, defaultVal bool) bool {
	if val := os.Getenv(key); val != "" {
		val = strings.ToLower(val)
		return val == "true" || val == "1" || val == "yes" || val == "on"
	}
	return defaultVal
}

func getEnvDuration(key string, defaultVal time.Duration) time.Duration {
	if val := os.Getenv(key); val != "" {
		if d, err := parseDuration(val); err == nil {
			return d
		}
	}
	return defaultVal
}

func getEnvStringSlice(key string, defaultVal []string) []string {
	if val := os.Getenv(key); val != "" {
		if result := normalize(strings.Split(val, ",")); len(result) > 0 {
			return result
		}
	}
	return defaultVal
}
