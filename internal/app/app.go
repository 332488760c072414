// Package app wires the vocalflow subsystems into a running service.
//
// The App struct owns the full lifecycle: New builds the feed hub, metrics
// and detector manager, Run starts every configured detector and blocks
// until the context ends, and Shutdown tears everything down in order.
//
// For testing, inject doubles via functional options (WithRegistry,
// WithMetrics, WithMetricsHandler, WithHub). When an option is not provided, New creates the
// real implementation from the config.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"

	"github.com/MrWong99/vocalflow/internal/config"
	"github.com/MrWong99/vocalflow/internal/feed"
	"github.com/MrWong99/vocalflow/internal/health"
	"github.com/MrWong99/vocalflow/internal/observe"
)

// App owns all subsystem lifetimes.
type App struct {
	cfg *config.Config

	registry    *config.Registry
	metrics     *observe.Metrics
	metricsHTTP http.Handler
	hub         *feed.Hub
	manager     *Manager
	health      *health.Handler

	// runCtx is the context detectors run under once Run has started. Config
	// reloads start their detectors on it.
	mu     sync.Mutex
	runCtx context.Context

	// closers are called in order during Shutdown.
	closers []func() error

	// stopOnce guards the Shutdown path.
	stopOnce sync.Once
}

// Option is a functional option for New. Use these to inject test doubles.
type Option func(*App)

// WithRegistry injects a source registry instead of [DefaultRegistry].
func WithRegistry(r *config.Registry) Option {
	return func(a *App) { a.registry = r }
}

// WithMetrics injects a metrics instance instead of [observe.DefaultMetrics].
func WithMetrics(m *observe.Metrics) Option {
	return func(a *App) { a.metrics = m }
}

// WithMetricsHandler sets the handler served at /metrics instead of
// [observe.MetricsHandler]. Pair it with WithMetrics when the instruments
// come from an [observe.Provider].
func WithMetricsHandler(h http.Handler) Option {
	return func(a *App) { a.metricsHTTP = h }
}

// WithHub injects a feed hub. The hub is served even when the config has the
// feed disabled.
func WithHub(h *feed.Hub) Option {
	return func(a *App) { a.hub = h }
}

// ─── New ─────────────────────────────────────────────────────────────────────

// New creates an App from cfg. Nothing runs until [App.Run].
func New(_ context.Context, cfg *config.Config, opts ...Option) (*App, error) {
	if cfg == nil {
		return nil, errors.New("app: config is required")
	}
	a := &App{cfg: cfg}
	for _, o := range opts {
		o(a)
	}

	// ── 1. Sources and metrics ───────────────────────────────────────────
	if a.registry == nil {
		a.registry = DefaultRegistry()
	}
	if a.metrics == nil {
		a.metrics = observe.DefaultMetrics()
	}
	if a.metricsHTTP == nil {
		a.metricsHTTP = observe.MetricsHandler()
	}

	// ── 2. Feed hub ──────────────────────────────────────────────────────
	if err := a.initFeed(); err != nil {
		return nil, fmt.Errorf("app: init feed: %w", err)
	}

	// ── 3. Detector manager ──────────────────────────────────────────────
	a.manager = NewManager(ManagerConfig{
		Registry:  a.registry,
		Metrics:   a.metrics,
		Hub:       a.hub,
		FeedEvery: cfg.Feed.Every,
	})

	// ── 4. Regularity gauges ─────────────────────────────────────────────
	reg, err := a.metrics.ObserveDetectors(a.manager.Readings)
	if err != nil {
		return nil, fmt.Errorf("app: register gauges: %w", err)
	}
	a.closers = append(a.closers, reg.Unregister)

	// ── 5. Health ────────────────────────────────────────────────────────
	a.health = health.New(
		health.Calibration(a.manager.Calibrated),
		health.Restarts(a.manager.Tripped),
	)

	return a, nil
}

func (a *App) initFeed() error {
	if a.hub == nil {
		if !a.cfg.Feed.Enabled {
			return nil
		}
		codec, err := feed.CodecFor(string(a.cfg.Feed.Encoding))
		if err != nil {
			return err
		}
		a.hub = feed.NewHub(
			feed.WithCodec(codec),
			feed.WithMetrics(a.metrics),
			feed.WithOriginPatterns(a.cfg.Feed.Origins...),
		)
	}
	hub := a.hub
	a.closers = append(a.closers, func() error {
		hub.Close()
		return nil
	})
	return nil
}

// Manager returns the detector manager.
func (a *App) Manager() *Manager { return a.manager }

// Hub returns the feed hub, or nil when the feed is disabled.
func (a *App) Hub() *feed.Hub { return a.hub }

// Handler returns the HTTP surface: health probes, the Prometheus endpoint
// when metrics are enabled, and the feed websocket when a hub exists.
func (a *App) Handler() http.Handler {
	mux := http.NewServeMux()
	a.health.Register(mux)
	if a.cfg.Telemetry.Metrics {
		mux.Handle("GET /metrics", a.metricsHTTP)
	}
	if a.hub != nil {
		path := a.cfg.Feed.Path
		if path == "" {
			path = config.DefaultFeedPath
		}
		mux.Handle("GET "+path, a.hub)
	}
	return observe.Middleware(a.metrics)(mux)
}

// Run starts every configured detector and blocks until ctx is cancelled.
// A detector that fails to start aborts Run and stops the others.
func (a *App) Run(ctx context.Context) error {
	a.mu.Lock()
	a.runCtx = ctx
	detectors := a.cfg.Detectors
	a.mu.Unlock()

	var errs []error
	for _, dc := range detectors {
		if err := a.manager.Start(ctx, dc); err != nil {
			errs = append(errs, err)
		}
	}
	if err := errors.Join(errs...); err != nil {
		a.manager.StopAll()
		return err
	}

	slog.Info("app running", "detectors", len(detectors))
	<-ctx.Done()

	a.manager.StopAll()
	return ctx.Err()
}

// ApplyConfig restarts the detectors that diff reports as changed. It is
// meant to be passed to [config.NewWatcher]. Changes that arrive before Run
// are kept for Run to pick up.
func (a *App) ApplyConfig(_, cfg *config.Config, diff config.ConfigDiff) {
	a.mu.Lock()
	a.cfg.Detectors = cfg.Detectors
	ctx := a.runCtx
	a.mu.Unlock()

	if ctx == nil || !diff.DetectorsChanged {
		return
	}
	status := "applied"
	if err := a.manager.Apply(ctx, cfg, diff); err != nil {
		slog.Error("failed to apply detector changes", "err", err)
		status = "failed"
	}
	a.metrics.RecordConfigReload(ctx, status)
}

// Shutdown stops all detectors and releases resources. It is safe to call
// more than once.
func (a *App) Shutdown(ctx context.Context) error {
	var errs []error
	a.stopOnce.Do(func() {
		done := make(chan struct{})
		go func() {
			a.manager.StopAll()
			close(done)
		}()
		select {
		case <-done:
		case <-ctx.Done():
			errs = append(errs, fmt.Errorf("app: shutdown: %w", ctx.Err()))
		}
		for _, c := range a.closers {
			if err := c(); err != nil {
				errs = append(errs, err)
			}
		}
	})
	return errors.Join(errs...)
}
