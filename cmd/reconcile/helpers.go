package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/user"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/Veraticus/invoice-match/internal/config"
	"github.com/Veraticus/invoice-match/internal/engine"
	"github.com/Veraticus/invoice-match/internal/metrics"
	"github.com/Veraticus/invoice-match/internal/similarity"
	"github.com/Veraticus/invoice-match/internal/storage"
)

func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(viper.GetViper())
	if err != nil {
		return nil, err
	}
	if cfg.Database.Path == "" {
		path, err := config.DefaultDatabasePath()
		if err != nil {
			return nil, fmt.Errorf("failed to get home directory: %w", err)
		}
		cfg.Database.Path = path
	}
	return cfg, nil
}

// openStorage opens the configured database and brings its schema up to date.
func openStorage(ctx context.Context, cfg *config.Config) (*storage.SQLiteStorage, error) {
	store, err := storage.Open(cfg.Database.Path, storage.Options{BusyRetry: cfg.Storage.BusyRetry})
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if _, err := store.BackupBeforeMigrate(ctx); err != nil {
		_ = store.Close()
		return nil, fmt.Errorf("failed to back up database: %w", err)
	}
	if err := store.Migrate(ctx); err != nil {
		_ = store.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}
	return store, nil
}

// app bundles what every matching command needs.
type app struct {
	cfg      *config.Config
	store    *storage.SQLiteStorage
	engine   *engine.Engine
	recorder *metrics.Recorder
	closers  []io.Closer
}

func newApp(ctx context.Context, opts ...engine.Option) (*app, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}

	store, err := openStorage(ctx, cfg)
	if err != nil {
		return nil, err
	}
	a := &app{cfg: cfg, store: store, recorder: metrics.NewRecorder()}
	a.closers = append(a.closers, store)

	sim, err := similarity.New(cfg.Matching.Similarity)
	if err != nil {
		a.Close()
		return nil, err
	}
	if c, ok := sim.(io.Closer); ok {
		a.closers = append(a.closers, c)
	}

	opts = append([]engine.Option{engine.WithMetrics(a.recorder)}, opts...)
	a.engine, err = engine.New(store, sim, *cfg, opts...)
	if err != nil {
		a.Close()
		return nil, err
	}
	return a, nil
}

// Close releases resources in reverse order of acquisition.
func (a *app) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i].Close(); err != nil {
			slog.Warn("Failed to close resource", "error", err)
		}
	}
}

// serveMetrics exposes the recorder on addr until ctx is done. An empty addr
// disables the endpoint.
func serveMetrics(ctx context.Context, addr string, recorder *metrics.Recorder) {
	if addr == "" {
		return
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", recorder.Handler())
	server := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		slog.Info("Serving metrics", "addr", addr)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("Metrics server failed", "error", err)
		}
	}()
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = server.Shutdown(shutdownCtx)
	}()
}

func addMetricsFlag(cmd *cobra.Command) {
	cmd.Flags().String("metrics-addr", "", "serve prometheus metrics on this address while running (e.g. :9090)")
}

// metricsAddr prefers the flag over metrics.addr from the config.
func metricsAddr(cmd *cobra.Command, cfg *config.Config) string {
	if addr, _ := cmd.Flags().GetString("metrics-addr"); addr != "" {
		return addr
	}
	return cfg.Metrics.Addr
}

// actorFor resolves who is recording a decision.
func actorFor(cmd *cobra.Command) string {
	if actor, _ := cmd.Flags().GetString("actor"); actor != "" {
		return actor
	}
	if name := os.Getenv("USER"); name != "" {
		return name
	}
	if u, err := user.Current(); err == nil {
		return u.Username
	}
	return "unknown"
}

// expandFiles resolves glob patterns, keeping plain paths that exist.
func expandFiles(patterns []string) ([]string, error) {
	var files []string
	for _, pattern := range patterns {
		matches, err := filepath.Glob(pattern)
		if err != nil {
			return nil, fmt.Errorf("invalid pattern %s: %w", pattern, err)
		}
		if len(matches) == 0 {
			if _, err := os.Stat(pattern); err == nil {
				files = append(files, pattern)
			} else {
				slog.Warn("No files found matching pattern", "pattern", pattern)
			}
			continue
		}
		files = append(files, matches...)
	}
	if len(files) == 0 {
		return nil, errors.New("no files found to import")
	}
	return files, nil
}

func parseDateFlag(value string) (*time.Time, error) {
	if value == "" {
		return nil, nil
	}
	t, err := time.Parse("2006-01-02", value)
	if err != nil {
		return nil, fmt.Errorf("invalid date %q, expected YYYY-MM-DD: %w", value, err)
	}
	return &t, nil
}
