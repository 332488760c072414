package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/MrWong99/vocalflow/internal/app"
	"github.com/MrWong99/vocalflow/internal/config"
	"github.com/MrWong99/vocalflow/internal/observe"
)

const shutdownTimeout = 15 * time.Second

func newServeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the configured detectors and serve health, metrics and the feed",
		Args:  cobra.NoArgs,
		RunE:  runServe,
	}
	cmd.Flags().Bool("watch", true, "reload detectors when the config file changes")
	cmd.Flags().Duration("reload-interval", 5*time.Second, "how often the config file is checked for changes")
	return cmd
}

func runServe(cmd *cobra.Command, _ []string) error {
	path, _ := cmd.Flags().GetString("config")
	watch, _ := cmd.Flags().GetBool("watch")
	interval, _ := cmd.Flags().GetDuration("reload-interval")

	// ── Logger ────────────────────────────────────────────────────────────────
	var level slog.LevelVar
	slog.SetDefault(newLogger(&level))

	// ── Configuration ─────────────────────────────────────────────────────────
	var current atomic.Pointer[app.App]
	var cfg *config.Config
	if watch {
		w, err := config.NewWatcher(path, func(old, new *config.Config, diff config.ConfigDiff) {
			if diff.LogLevelChanged {
				level.Set(slogLevel(diff.NewLogLevel))
			}
			if a := current.Load(); a != nil {
				a.ApplyConfig(old, new, diff)
			}
		}, config.WithInterval(interval))
		if err != nil {
			return configError(path, err)
		}
		defer w.Stop()
		cfg = w.Current()
	} else {
		var err error
		if cfg, err = config.Load(path); err != nil {
			return configError(path, err)
		}
	}
	level.Set(slogLevel(cfg.Server.LogLevel))

	slog.Info("vocalflow starting",
		"config", path,
		"listen_addr", cfg.Server.ListenAddr,
		"log_level", cfg.Server.LogLevel,
		"watch", watch,
	)

	// ── Signal context ────────────────────────────────────────────────────────
	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// ── Telemetry ─────────────────────────────────────────────────────────────
	var appOpts []app.Option
	if cfg.Telemetry.Metrics {
		provider, err := observe.InitProvider(ctx, observe.ProviderConfig{
			ServiceName:    cfg.Telemetry.ServiceName,
			ServiceVersion: version,
		})
		if err != nil {
			return fmt.Errorf("init telemetry: %w", err)
		}
		defer func() {
			sctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
			defer cancel()
			if err := provider.Shutdown(sctx); err != nil {
				slog.Warn("telemetry shutdown error", "err", err)
			}
		}()
		metrics, err := provider.Metrics()
		if err != nil {
			return fmt.Errorf("init metrics: %w", err)
		}
		appOpts = append(appOpts, app.WithMetrics(metrics), app.WithMetricsHandler(provider.Handler()))
	}

	// ── Startup summary ───────────────────────────────────────────────────────
	printStartupSummary(cmd.OutOrStdout(), cfg, path)

	application, err := app.New(ctx, cfg, appOpts...)
	if err != nil {
		return fmt.Errorf("initialise application: %w", err)
	}
	current.Store(application)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return application.Run(gctx)
	})

	if addr := cfg.Server.ListenAddr; addr != "" {
		srv := &http.Server{
			Addr:              addr,
			Handler:           application.Handler(),
			ReadHeaderTimeout: 10 * time.Second,
		}
		g.Go(func() error {
			slog.Info("http server listening", "addr", addr)
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("http server: %w", err)
			}
			return nil
		})
		g.Go(func() error {
			<-gctx.Done()
			sctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
			defer cancel()
			return srv.Shutdown(sctx)
		})
	}

	slog.Info("server ready, press Ctrl+C to shut down")
	runErr := g.Wait()
	if errors.Is(runErr, context.Canceled) {
		runErr = nil
	}

	// ── Graceful shutdown ─────────────────────────────────────────────────────
	slog.Info("shutting down")
	current.Store(nil)
	sctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := application.Shutdown(sctx); err != nil {
		return errors.Join(runErr, fmt.Errorf("shutdown: %w", err))
	}
	if runErr != nil {
		return runErr
	}
	slog.Info("goodbye")
	return nil
}

func configError(path string, err error) error {
	if errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("config file %q not found; copy configs/example.yaml to get started", path)
	}
	return err
}
