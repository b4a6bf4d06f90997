// Package main provides the graphschema CLI entry point.
package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"sort"
	"strings"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/orneryd/graphschema/pkg/backend"
	"github.com/orneryd/graphschema/pkg/config"
	"github.com/orneryd/graphschema/pkg/logging"
	"github.com/orneryd/graphschema/pkg/reconcile"
	"github.com/orneryd/graphschema/pkg/schemadef"
)

var (
	version = "0.1.0"
	commit  = "dev"
)

func main() {
	if err := newRootCmd(os.Stdout).Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "❌ %v\n", err)
		os.Exit(1)
	}
}

func newRootCmd(out io.Writer) *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "graphschema",
		Short: "graphschema - declarative schema management for graph databases",
		Long: `graphschema reconciles a declared graph schema with a live schema
catalog.

Features:
  • Verifies declared elements against the live catalog
  • Creates missing property keys, labels and indexes
  • Drives index builds to ENABLED and rebuilds unavailable indexes
  • Records a revision metadata entry for every applied schema`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	rootCmd.SetOut(out)
	rootCmd.PersistentFlags().StringP("graph-config", "g", "", "Configuration file (.yaml, .yml or .toml)")
	rootCmd.PersistentFlags().String("log-level", "", "Log level (trace, debug, info, warn, error, off)")

	// Version command
	rootCmd.AddCommand(&cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "graphschema v%s (%s)\n", version, commit)
		},
	})

	// Init command
	initCmd := &cobra.Command{
		Use:   "init [path]",
		Short: "Write a default configuration file",
		Args:  cobra.MaximumNArgs(1),
		RunE:  runInit,
	}
	rootCmd.AddCommand(initCmd)

	// Apply command
	applyCmd := &cobra.Command{
		Use:   "apply <schema-file>",
		Short: "Verify a schema and optionally apply it",
		Long: `Verify a declared schema against the live catalog. With --write the
missing elements are created, new indexes are enabled and a revision
metadata record is appended. Without --write no element is created, but
indexes named with --reindex-index are still rebuilt.

Reindex requests run in order: every --reindex target first, then every
--reindex-index name in the order given.`,
		Args: cobra.ExactArgs(1),
		RunE: runApply,
	}
	applyCmd.Flags().BoolP("write", "w", false, "Apply changes (default is a dry run)")
	applyCmd.Flags().StringSliceP("reindex", "r", nil, "Reindex targets: ALL, NEW, UNAVAILABLE (run before --reindex-index)")
	applyCmd.Flags().StringArrayP("reindex-index", "i", nil, "Reindex a single index by name (repeatable, runs after --reindex targets)")
	applyCmd.Flags().StringP("method", "m", "", "Reindex method: local or distributed")
	applyCmd.Flags().Duration("timeout", 0, "Index wait timeout (overrides the configuration)")
	rootCmd.AddCommand(applyCmd)

	// Indexes command
	rootCmd.AddCommand(&cobra.Command{
		Use:   "indexes <schema-file>",
		Short: "Show the live status of every declared index",
		Args:  cobra.ExactArgs(1),
		RunE:  runIndexes,
	})

	// Metadata command
	metadataCmd := &cobra.Command{
		Use:   "metadata",
		Short: "Show graph revision metadata records",
		RunE:  runMetadata,
	}
	metadataCmd.Flags().Bool("all", false, "Show every record instead of the latest")
	rootCmd.AddCommand(metadataCmd)

	// Disable command
	disableCmd := &cobra.Command{
		Use:   "disable-index <name>",
		Short: "Disable a live index",
		Args:  cobra.ExactArgs(1),
		RunE:  runDisableIndex,
	}
	disableCmd.Flags().String("relation-type", "", "Owning property key or edge label of a local index")
	rootCmd.AddCommand(disableCmd)

	return rootCmd
}

// loadConfig resolves the configuration: defaults, then the file named by
// --graph-config, then the environment, then --log-level.
func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	path, _ := cmd.Flags().GetString("graph-config")
	cfg := config.DefaultConfig()
	if path != "" {
		var err error
		if cfg, err = config.LoadFile(path); err != nil {
			return nil, err
		}
	}
	config.LoadFromEnv(cfg)
	if lvl, _ := cmd.Flags().GetString("log-level"); lvl != "" {
		cfg.Logging.Level = lvl
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	logging.Install(cfg.LoggerConfig())
	cliLog := logging.For("cli")
	cliLog.Debug().Str("config", cfg.String()).Msg("configuration loaded")
	return cfg, nil
}

func openStore(cfg *config.Config) (*backend.BadgerStore, error) {
	storeLog := logging.For("catalog")
	store, err := backend.OpenBadger(cfg.StoreOptions(&storeLog))
	if err != nil {
		return nil, fmt.Errorf("opening catalog: %w", err)
	}
	return store, nil
}

func signalContext(cmd *cobra.Command) (context.Context, context.CancelFunc) {
	return signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
}

func runInit(cmd *cobra.Command, args []string) error {
	path := "graphschema.toml"
	if len(args) == 1 {
		path = args[0]
	}
	if _, err := os.Stat(path); err == nil {
		return fmt.Errorf("%s already exists", path)
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("creating %s: %w", dir, err)
		}
	}

	content := `# graphschema configuration
[store]
kind = "badger"
data_dir = "./data"
sync_writes = false
convergence_delay = "200ms"
auto_register = true
cell_ttl = true

[run]
apply_changes = false
reindex = []
reindex_method = "local"
index_wait_timeout = "300s"
poll_interval = "500ms"

[logging]
level = "info"
`
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		return fmt.Errorf("writing %s: %w", path, err)
	}
	fmt.Fprintf(cmd.OutOrStdout(), "✅ Wrote %s\n", path)
	return nil
}

func runApply(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	if cmd.Flags().Changed("write") {
		cfg.Run.ApplyChanges, _ = cmd.Flags().GetBool("write")
	}
	if cmd.Flags().Changed("reindex") {
		cfg.Run.Reindex, _ = cmd.Flags().GetStringSlice("reindex")
	}
	if cmd.Flags().Changed("reindex-index") {
		cfg.Run.ReindexIndexes, _ = cmd.Flags().GetStringArray("reindex-index")
	}
	if cmd.Flags().Changed("method") {
		cfg.Run.ReindexMethod, _ = cmd.Flags().GetString("method")
	}
	if cmd.Flags().Changed("timeout") {
		cfg.Run.IndexWaitTimeout, _ = cmd.Flags().GetDuration("timeout")
	}
	runCfg, err := cfg.RunConfig()
	if err != nil {
		return err
	}

	schema, err := schemadef.LoadFile(args[0])
	if err != nil {
		return err
	}

	store, err := openStore(cfg)
	if err != nil {
		return err
	}
	defer store.Close()

	ctx, cancel := signalContext(cmd)
	defer cancel()

	start := time.Now()
	mgr := reconcile.NewManager(store, runCfg)
	st, err := mgr.Run(ctx, schema)
	if err != nil {
		return err
	}

	w := cmd.OutOrStdout()
	if !runCfg.ApplyChanges {
		fmt.Fprintf(w, "🔍 Schema %s v%s verified (dry run, no elements created)\n", schema.Graph.Name, schema.Graph.ModelVersion)
	} else {
		fmt.Fprintf(w, "✅ Schema %s v%s applied in %s\n", schema.Graph.Name, schema.Graph.ModelVersion, time.Since(start).Round(time.Millisecond))
	}
	for _, c := range schemadef.Categories {
		if pending := st.Pending(c); len(pending) > 0 {
			verb := "created"
			if !runCfg.ApplyChanges {
				verb = "missing"
			}
			fmt.Fprintf(w, "   %s %s: %s\n", verb, c, strings.Join(pending, ", "))
		}
	}
	return nil
}

func runIndexes(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	schema, err := schemadef.LoadFile(args[0])
	if err != nil {
		return err
	}
	store, err := openStore(cfg)
	if err != nil {
		return err
	}
	defer store.Close()

	ctx, cancel := signalContext(cmd)
	defer cancel()

	rows, err := reconcile.Report(ctx, store, schema)
	if err != nil {
		return err
	}
	return printIndexes(cmd.OutOrStdout(), rows)
}

func printIndexes(w io.Writer, rows []reconcile.IndexStatus) error {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "NAME\tKIND\tRELATION\tSTATUS\tKEYS")
	for _, r := range rows {
		status := r.Status
		switch {
		case !r.Exists:
			status = "MISSING"
		case r.Unavailable:
			status += " (unavailable)"
		}
		relation := r.RelationType
		if relation == "" {
			relation = "-"
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\n", r.Name, r.Kind, relation, status, formatKeys(r.Keys))
	}
	return tw.Flush()
}

func formatKeys(keys map[string]string) string {
	if len(keys) == 0 {
		return "-"
	}
	names := make([]string, 0, len(keys))
	for k := range keys {
		names = append(names, k)
	}
	sort.Strings(names)
	parts := make([]string, len(names))
	for i, k := range names {
		parts[i] = k + "=" + keys[k]
	}
	return strings.Join(parts, ",")
}

func runMetadata(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	store, err := openStore(cfg)
	if err != nil {
		return err
	}
	defer store.Close()

	ctx, cancel := signalContext(cmd)
	defer cancel()

	all, _ := cmd.Flags().GetBool("all")
	var records []backend.MetadataRecord
	if all {
		if records, err = store.MetadataRecords(ctx); err != nil {
			return err
		}
	} else {
		rec, ok, err := reconcile.LatestMetadata(ctx, store)
		if err != nil {
			return err
		}
		if ok {
			records = append(records, rec)
		}
	}
	if len(records) == 0 {
		fmt.Fprintln(cmd.OutOrStdout(), "No metadata records.")
		return nil
	}

	enc := yaml.NewEncoder(cmd.OutOrStdout())
	defer enc.Close()
	for _, rec := range records {
		if err := enc.Encode(rec); err != nil {
			return err
		}
	}
	return nil
}

func runDisableIndex(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	store, err := openStore(cfg)
	if err != nil {
		return err
	}
	defer store.Close()

	ctx, cancel := signalContext(cmd)
	defer cancel()

	relationType, _ := cmd.Flags().GetString("relation-type")
	ref, err := disableIndex(ctx, store, args[0], relationType)
	if err != nil {
		return err
	}
	cliLog := logging.For("cli")
	cliLog.Info().Str("index", ref.String()).Msg("index disabled")
	fmt.Fprintf(cmd.OutOrStdout(), "✅ Disabled %s\n", ref)
	return nil
}

// disableIndex finds the live index named name and issues DISABLE_INDEX.
// A name shared by several local indexes needs relationType.
func disableIndex(ctx context.Context, store backend.Store, name, relationType string) (backend.IndexRef, error) {
	mgmt, err := store.OpenManagement(ctx)
	if err != nil {
		return backend.IndexRef{}, err
	}
	defer func() {
		if mgmt.IsOpen() {
			_ = mgmt.Rollback()
		}
	}()

	refs, err := mgmt.Indexes()
	if err != nil {
		return backend.IndexRef{}, err
	}
	var matches []backend.IndexRef
	for _, ref := range refs {
		if ref.Name == name && (relationType == "" || ref.RelationType == relationType) {
			matches = append(matches, ref)
		}
	}
	switch len(matches) {
	case 0:
		return backend.IndexRef{}, fmt.Errorf("index %q: %w", name, backend.ErrNotFound)
	case 1:
	default:
		return backend.IndexRef{}, fmt.Errorf("index name %q is ambiguous, pass --relation-type", name)
	}

	if err := mgmt.UpdateIndex(matches[0], backend.ActionDisableIndex); err != nil {
		return backend.IndexRef{}, err
	}
	if err := mgmt.Commit(); err != nil {
		return backend.IndexRef{}, err
	}
	return matches[0], nil
}
