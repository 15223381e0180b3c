/*
main.go - Application entry point

PURPOSE:
  Command-line front end of the asset engine. Handles configuration,
  dependency injection, and graceful shutdown.

COMMANDS:
  serve        Run the HTTP API, event hub and depreciation scheduler
  depreciate   Run one depreciation batch and print its summary
  migrate      Create or upgrade the database schema and exit

CONFIGURATION:
  --config     TOML file (see package config); optional
  --addr, --db, --log-level override the file and ASSET_ENGINE_* env vars

GRACEFUL SHUTDOWN:
  On SIGINT/SIGTERM:
  1. Stop the depreciation ticker (a batch in flight is cancelled; every
     period it already posted stays posted)
  2. Stop accepting new connections and drain active requests
  3. Close the database

EXAMPLES:
  asset-engine serve --config ./engine.toml
  asset-engine serve --db=":memory:" --addr=:3000
  asset-engine depreciate --as-of 2026-03-31
*/
package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/warp/asset-engine/api"
	"github.com/warp/asset-engine/asset"
	"github.com/warp/asset-engine/config"
	"github.com/warp/asset-engine/depreciation"
	"github.com/warp/asset-engine/store/sqlite"
	"github.com/warp/asset-engine/workflow"
)

var rootCmd = &cobra.Command{
	Use:           "asset-engine",
	Short:         "Asset lifecycle and depreciation engine",
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.PersistentFlags().String("config", "", "Path to a TOML config file")
	rootCmd.PersistentFlags().String("db", "", "SQLite database path (\":memory:\" for in-process)")
	rootCmd.PersistentFlags().String("log-level", "", "debug, info, warn or error")

	serveCmd.Flags().String("addr", "", "HTTP listen address, e.g. :8080")
	serveCmd.Flags().Bool("no-scheduler", false, "Do not run the depreciation ticker")
	depreciateCmd.Flags().String("as-of", "", "Post periods due on or before this date (2006-01-02); default now")

	rootCmd.AddCommand(serveCmd, depreciateCmd, migrateCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

// loadConfig reads the config file and applies command-line overrides.
func loadConfig(cmd *cobra.Command) (config.Config, error) {
	path, _ := cmd.Flags().GetString("config")
	cfg, err := config.Load(path)
	if err != nil {
		return cfg, err
	}
	if v, _ := cmd.Flags().GetString("db"); v != "" {
		cfg.Database.Path = v
	}
	if v, _ := cmd.Flags().GetString("log-level"); v != "" {
		cfg.Log.Level = v
	}
	if f := cmd.Flags().Lookup("addr"); f != nil && f.Value.String() != "" {
		cfg.Server.Addr = f.Value.String()
	}
	return cfg, cfg.Validate()
}

func openStore(path string) (*sqlite.Store, error) {
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("create data directory: %w", err)
		}
	}
	return sqlite.New(path)
}

func newRunner(cfg config.Config, st *sqlite.Store, pub asset.Publisher, logger *slog.Logger) *depreciation.Scheduler {
	return &depreciation.Scheduler{
		Store:      st,
		Usage:      st,
		Publisher:  pub,
		Logger:     logger.With("component", "depreciation"),
		Workers:    cfg.Scheduler.Workers,
		MaxCatchUp: cfg.Scheduler.MaxCatchUp,
	}
}

// auditLog writes every committed history entry to the log.
type auditLog struct {
	logger *slog.Logger
}

func (l auditLog) Publish(ctx context.Context, events ...asset.HistoryEntry) {
	for _, e := range events {
		l.logger.InfoContext(ctx, "history",
			"seq", e.Seq,
			"asset_id", e.AssetID,
			"kind", e.Kind,
			"actor", e.Actor)
	}
}

// newPublisher feeds the websocket hub and the audit log.
func newPublisher(hub *asset.ChannelPublisher, logger *slog.Logger) asset.Publisher {
	return asset.Publishers{hub, auditLog{logger: logger.With("component", "audit")}}
}

// =============================================================================
// serve
// =============================================================================

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP API",
	Args:  cobra.NoArgs,
	RunE:  runServe,
}

func runServe(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	logger := cfg.Logger()
	slog.SetDefault(logger)

	st, err := openStore(cfg.Database.Path)
	if err != nil {
		return err
	}
	defer st.Close()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	events := asset.NewChannelPublisher(cfg.Events.Buffer)
	pub := newPublisher(events, logger)
	svc := &workflow.Service{
		Store:     st,
		Directory: st,
		Publisher: pub,
		Logger:    logger.With("component", "workflow"),
	}

	interval, _ := cfg.SchedulerInterval()
	sched := api.NewDepreciationScheduler(newRunner(cfg, st, pub, logger), interval, logger.With("component", "scheduler"))
	noScheduler, _ := cmd.Flags().GetBool("no-scheduler")
	sched.Enabled = cfg.Scheduler.Enabled && !noScheduler

	hub := api.NewHub(cfg.CORS.AllowedOrigins, logger.With("component", "events"))
	go hub.Run(ctx, events.Events())

	handler := api.NewHandler(svc, st, st, sched, logger)
	server := &http.Server{
		Addr:         cfg.Server.Addr,
		Handler:      api.NewRouter(handler, hub, cfg.CORS.AllowedOrigins),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 5 * time.Minute, // POST /api/depreciation/run is synchronous
		IdleTimeout:  60 * time.Second,
	}

	sched.Start()
	defer sched.Stop()

	serveErr := make(chan error, 1)
	go func() {
		logger.Info("server starting", "addr", cfg.Server.Addr, "db", cfg.Database.Path)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	select {
	case err := <-serveErr:
		if err != nil {
			return fmt.Errorf("server failed: %w", err)
		}
	case <-ctx.Done():
	}

	logger.Info("shutting down server")
	sched.Stop()

	timeout, _ := cfg.ShutdownTimeout()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server forced to shutdown: %w", err)
	}
	if n := events.Dropped(); n > 0 {
		logger.Warn("events dropped by a full buffer during this run", "count", n)
	}
	logger.Info("server stopped")
	return nil
}

// =============================================================================
// depreciate
// =============================================================================

var depreciateCmd = &cobra.Command{
	Use:   "depreciate",
	Short: "Run one depreciation batch and print its summary as JSON",
	Args:  cobra.NoArgs,
	RunE:  runDepreciate,
}

func runDepreciate(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	logger := cfg.Logger()

	asOf := time.Now().UTC()
	if v, _ := cmd.Flags().GetString("as-of"); v != "" {
		d, err := time.Parse(time.DateOnly, v)
		if err != nil {
			return fmt.Errorf("--as-of: %w", err)
		}
		asOf = d.Add(24*time.Hour - time.Nanosecond)
	}

	st, err := openStore(cfg.Database.Path)
	if err != nil {
		return err
	}
	defer st.Close()

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	sum, err := newRunner(cfg, st, asset.Discard, logger).Run(ctx, asOf)
	if err != nil {
		return err
	}

	out := map[string]any{
		"as_of":              sum.AsOf.Format(time.DateOnly),
		"processed":          sum.Processed,
		"posted":             sum.Posted,
		"skipped":            sum.Skipped,
		"failed":             sum.Failed,
		"fully_depreciated":  sum.FullyDepreciated,
		"total_depreciation": sum.TotalDepreciation,
	}
	failures := make([]map[string]string, 0, len(sum.Failures))
	for _, f := range sum.Failures {
		failures = append(failures, map[string]string{"asset_id": string(f.AssetID), "error": f.Err.Error()})
	}
	out["failures"] = failures

	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	if err := enc.Encode(out); err != nil {
		return err
	}
	if sum.Failed > 0 {
		return fmt.Errorf("%d asset(s) failed to depreciate", sum.Failed)
	}
	return nil
}

// =============================================================================
// migrate
// =============================================================================

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Create or upgrade the database schema",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		cfg, err := loadConfig(cmd)
		if err != nil {
			return err
		}
		st, err := openStore(cfg.Database.Path)
		if err != nil {
			return err
		}
		defer st.Close()
		fmt.Fprintf(cmd.OutOrStdout(), "schema up to date: %s\n", cfg.Database.Path)
		return nil
	},
}
