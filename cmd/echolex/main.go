// Command echolex is the main entry point for the Echolex dictation
// personalization server.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/echolex/echolex/internal/config"
	"github.com/echolex/echolex/internal/correct"
	"github.com/echolex/echolex/internal/observe"
	"github.com/echolex/echolex/internal/record"
	"github.com/echolex/echolex/internal/server"
	"github.com/echolex/echolex/internal/settings"
	"github.com/echolex/echolex/internal/termstore"
)

// version is stamped at build time via -ldflags.
var version = "dev"

func main() {
	os.Exit(run())
}

func run() int {
	// ── CLI flags ──────────────────────────────────────────────────────────────
	configPath := flag.String("config", "", "path to the YAML configuration file (built-in defaults when empty)")
	flag.Parse()

	// ── Load configuration ────────────────────────────────────────────────────
	cfg := config.Default()
	if *configPath != "" {
		loaded, err := config.Load(*configPath)
		if err != nil {
			fmt.Fprintf(os.Stderr, "echolex: %v\n", err)
			return 1
		}
		cfg = loaded
	}

	// ── Logger ────────────────────────────────────────────────────────────────
	logger := newLogger(cfg.Server.LogLevel)
	slog.SetDefault(logger)

	slog.Info("echolex starting",
		"version", version,
		"listen_addr", cfg.Server.ListenAddr,
		"data_dir", cfg.Storage.DataDir,
		"log_level", cfg.Server.LogLevel,
	)

	// ── Signal context ────────────────────────────────────────────────────────
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// ── Telemetry ─────────────────────────────────────────────────────────────
	shutdownMetrics, err := observe.InitProvider(ctx, observe.ProviderConfig{
		ServiceVersion: version,
	})
	if err != nil {
		slog.Error("failed to initialise telemetry", "err", err)
		return 1
	}
	defer func() {
		flushCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownMetrics(flushCtx); err != nil {
			slog.Warn("telemetry shutdown error", "err", err)
		}
	}()

	// ── Storage ───────────────────────────────────────────────────────────────
	store, err := termstore.Open(ctx, cfg.DatabasePath(), cfg.Storage.DataDir, logger)
	if err != nil {
		slog.Error("failed to open term store", "err", err)
		return 1
	}
	defer store.Close()

	st, err := settings.Open(filepath.Join(cfg.Storage.DataDir, "settings.json"), settings.Settings{
		PersonalizedAcousticEnabled: cfg.Personalization.Enabled,
	})
	if err != nil {
		slog.Error("failed to load runtime settings", "err", err)
		return 1
	}

	// ── HTTP server ───────────────────────────────────────────────────────────
	engine := correct.New(correct.Config{
		AcousticThreshold: cfg.Personalization.AcousticThreshold,
		TextThreshold:     cfg.Personalization.TextThreshold,
		MaxCandidates:     cfg.Personalization.MaxCandidates,
		DTWWindow:         cfg.Personalization.DTWWindow,
		DistanceScale:     correct.DefaultConfig().DistanceScale,
	}, logger)

	srv := server.New(cfg, store, record.NewRegistry(), engine, st, observe.DefaultMetrics(), logger)

	httpSrv := &http.Server{
		Addr:              cfg.Server.ListenAddr,
		Handler:           srv.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		if err := httpSrv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		slog.Info("shutdown signal received, stopping…")
		return httpSrv.Shutdown(shutdownCtx)
	})

	slog.Info("server ready — press Ctrl+C to shut down")

	if err := g.Wait(); err != nil {
		slog.Error("run error", "err", err)
		return 1
	}
	slog.Info("goodbye")
	return 0
}

// ── Logger ─────────────────────────────────────────────────────────────────────

func newLogger(level config.LogLevel) *slog.Logger {
	var lvl slog.Level
	switch level {
	case config.LogDebug:
		lvl = slog.LevelDebug
	case config.LogWarn:
		lvl = slog.LevelWarn
	case config.LogError:
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: lvl}))
}
