package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/MrWong99/vocalflow/internal/config"
	"github.com/MrWong99/vocalflow/internal/feed"
	"github.com/MrWong99/vocalflow/internal/observe"
	"github.com/MrWong99/vocalflow/internal/resilience"
	"github.com/MrWong99/vocalflow/pkg/detector"
)

// Manager runs one [Pipeline] per configured detector. It restarts a
// detector when the configuration changes and, within the limits of a
// [resilience.Breaker], when its source fails. All exported methods are
// safe for concurrent use.
type Manager struct {
	registry  *config.Registry
	metrics   *observe.Metrics
	hub       *feed.Hub
	feedEvery int
	restart   RestartPolicy

	mu      sync.Mutex
	running map[string]*runningPipeline
}

// runningPipeline is one supervised detector. pipeline is replaced on
// restart and guarded by the manager's mutex.
type runningPipeline struct {
	pipeline *Pipeline
	breaker  *resilience.Breaker
	cancel   context.CancelFunc
	done     chan struct{}
}

// RestartPolicy bounds how a detector whose source fails is restarted.
// Zero fields take defaults.
type RestartPolicy struct {
	// MaxFailures consecutive runs that fail before producing a frame open
	// the breaker. Default: 5.
	MaxFailures int

	// ResetTimeout is how long an open breaker waits before one probe
	// restart. Default: 30s.
	ResetTimeout time.Duration

	// Backoff is the delay before the first restart, doubled per
	// consecutive failure up to MaxBackoff. Defaults: 250ms and 10s.
	Backoff    time.Duration
	MaxBackoff time.Duration

	// Disabled stops a failed detector instead of restarting it.
	Disabled bool
}

func (p RestartPolicy) withDefaults() RestartPolicy {
	if p.Backoff <= 0 {
		p.Backoff = 250 * time.Millisecond
	}
	if p.MaxBackoff <= 0 {
		p.MaxBackoff = 10 * time.Second
	}
	return p
}

// ManagerConfig holds the dependencies of a [Manager]. Metrics and Hub are
// optional.
type ManagerConfig struct {
	Registry *config.Registry
	Metrics  *observe.Metrics
	Hub      *feed.Hub

	// FeedEvery publishes every n-th snapshot to the hub.
	FeedEvery int

	Restart RestartPolicy
}

// NewManager returns a manager with no running detectors.
func NewManager(cfg ManagerConfig) *Manager {
	return &Manager{
		registry:  cfg.Registry,
		metrics:   cfg.Metrics,
		hub:       cfg.Hub,
		feedEvery: cfg.FeedEvery,
		restart:   cfg.Restart.withDefaults(),
		running:   make(map[string]*runningPipeline),
	}
}

// Build resolves dc into a session and source and wraps them in a pipeline
// that reports to the manager's metrics and hub. The pipeline is not
// started.
func (m *Manager) Build(dc config.DetectorConfig, extra ...Observer) (*Pipeline, error) {
	return buildPipeline(m.registry, dc, m.metrics, m.observers(dc, extra))
}

func (m *Manager) observers(dc config.DetectorConfig, extra []Observer) []Observer {
	obs := slices.Clone(extra)
	if m.hub != nil {
		labels, err := detector.LabelsFor(dc.Labels)
		if err == nil {
			obs = append(obs, newFeedObserver(m.hub, dc.Name, labels, m.feedEvery))
		}
	}
	return obs
}

// buildPipeline creates the session and source for dc.
func buildPipeline(reg *config.Registry, dc config.DetectorConfig, metrics *observe.Metrics, obs []Observer) (*Pipeline, error) {
	labels, err := detector.LabelsFor(dc.Labels)
	if err != nil {
		return nil, fmt.Errorf("app: detector %q: %w", dc.Name, err)
	}
	cfg, err := dc.Resolve()
	if err != nil {
		return nil, fmt.Errorf("app: detector %q: %w", dc.Name, err)
	}
	sess, err := detector.New(cfg)
	if err != nil {
		return nil, fmt.Errorf("app: detector %q: %w", dc.Name, err)
	}
	src, err := reg.CreateSource(dc, cfg)
	if err != nil {
		return nil, err
	}
	p, err := NewPipeline(PipelineConfig{
		Name:      dc.Name,
		Labels:    labels,
		Session:   sess,
		Source:    src,
		Realtime:  dc.Realtime,
		Metrics:   metrics,
		Observers: obs,
	})
	if err != nil {
		src.Close()
		return nil, err
	}
	return p, nil
}

// Start builds the detector described by dc and runs it in the background
// until ctx is cancelled, the detector is stopped or its source ends. A
// failing source is rebuilt and restarted according to the restart policy.
// A detector that is already running under the same name is stopped first.
func (m *Manager) Start(ctx context.Context, dc config.DetectorConfig) error {
	p, err := m.Build(dc)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(ctx)
	r := &runningPipeline{
		pipeline: p,
		breaker: resilience.NewBreaker(resilience.BreakerConfig{
			Name:         dc.Name,
			MaxFailures:  m.restart.MaxFailures,
			ResetTimeout: m.restart.ResetTimeout,
		}),
		cancel: cancel,
		done:   make(chan struct{}),
	}

	// Swap under one lock so concurrent starts of the same name each stop
	// exactly the pipeline they replaced.
	m.mu.Lock()
	old := m.running[dc.Name]
	m.running[dc.Name] = r
	m.mu.Unlock()
	if old != nil {
		old.cancel()
		<-old.done
		slog.Info("detector replaced", "detector", dc.Name)
	}
	if m.metrics != nil {
		m.metrics.ActiveDetectors.Add(ctx, 1)
	}

	go func() {
		defer close(r.done)
		defer cancel()
		m.supervise(ctx, dc, r)
		m.mu.Lock()
		if m.running[dc.Name] == r {
			delete(m.running, dc.Name)
		}
		m.mu.Unlock()
		if m.metrics != nil {
			m.metrics.ActiveDetectors.Add(context.Background(), -1)
		}
	}()
	return nil
}

// supervise runs r's pipeline and restarts it after source failures until
// it ends cleanly, ctx is cancelled or restarts are disabled.
func (m *Manager) supervise(ctx context.Context, dc config.DetectorConfig, r *runningPipeline) {
	log := slog.With("detector", dc.Name)
	m.mu.Lock()
	p := r.pipeline
	m.mu.Unlock()

	for {
		err := p.Run(ctx)
		if err == nil || ctx.Err() != nil {
			return
		}
		log.Error("detector failed", "err", err)
		if m.restart.Disabled {
			return
		}

		// A run that produced frames was healthy until it failed, so only
		// immediate failures accumulate towards opening the breaker.
		if snap, _ := p.Latest(); snap.Frame > 0 {
			r.breaker.Success()
		}
		r.breaker.Failure()

		for {
			delay := resilience.Backoff(r.breaker.Failures(), m.restart.Backoff, m.restart.MaxBackoff)
			if wait := r.breaker.RetryAfter(); wait > delay {
				delay = wait
			}
			if !sleepCtx(ctx, delay) {
				return
			}
			if r.breaker.Allow() != nil {
				continue
			}
			next, err := m.Build(dc)
			if err != nil {
				log.Error("detector rebuild failed", "err", err)
				r.breaker.Failure()
				continue
			}
			p = next
			break
		}

		m.mu.Lock()
		r.pipeline = p
		m.mu.Unlock()
		log.Info("detector restarted", "consecutive_failures", r.breaker.Failures())
	}
}

// sleepCtx waits for d or until ctx ends. It reports whether the full
// delay elapsed.
func sleepCtx(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}

// Stop stops the named detector and waits for it to exit. Unknown names are
// ignored.
func (m *Manager) Stop(name string) {
	m.mu.Lock()
	r, ok := m.running[name]
	if ok {
		delete(m.running, name)
	}
	m.mu.Unlock()
	if !ok {
		return
	}
	r.cancel()
	<-r.done
	slog.Info("detector stopped", "detector", name)
}

// StopAll stops every detector and waits for them to exit.
func (m *Manager) StopAll() {
	for _, name := range m.Names() {
		m.Stop(name)
	}
}

// Apply brings the running detectors in line with cfg. Detectors that were
// removed are stopped; added or changed ones are (re)started. Every change
// is attempted and the failures are joined.
func (m *Manager) Apply(ctx context.Context, cfg *config.Config, diff config.ConfigDiff) error {
	if !diff.DetectorsChanged {
		return nil
	}
	byName := make(map[string]config.DetectorConfig, len(cfg.Detectors))
	for _, dc := range cfg.Detectors {
		byName[dc.Name] = dc
	}

	var errs []error
	for _, ch := range diff.DetectorChanges {
		switch {
		case ch.Removed:
			m.Stop(ch.Name)
		case ch.Rebuild():
			dc, ok := byName[ch.Name]
			if !ok {
				continue
			}
			slog.Info("restarting detector", "detector", ch.Name,
				"added", ch.Added, "source_changed", ch.SourceChanged, "settings_changed", ch.SettingsChanged)
			if err := m.Start(ctx, dc); err != nil {
				errs = append(errs, err)
			}
		}
	}
	return errors.Join(errs...)
}

// Names returns the running detector names in sorted order.
func (m *Manager) Names() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	names := make([]string, 0, len(m.running))
	for name := range m.running {
		names = append(names, name)
	}
	slices.Sort(names)
	return names
}

// Calibrated maps each running detector to whether it has finished
// calibrating.
func (m *Manager) Calibrated() map[string]bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make(map[string]bool, len(m.running))
	for name, r := range m.running {
		_, ok := r.pipeline.Latest()
		out[name] = ok
	}
	return out
}

// Tripped maps each running detector to whether its restart breaker is
// currently open.
func (m *Manager) Tripped() map[string]bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make(map[string]bool, len(m.running))
	for name, r := range m.running {
		out[name] = r.breaker.State() == resilience.StateOpen
	}
	return out
}

// Readings returns the latest regularity scores of each running detector.
func (m *Manager) Readings() []observe.DetectorReading {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]observe.DetectorReading, 0, len(m.running))
	for name, r := range m.running {
		snap, _ := r.pipeline.Latest()
		out = append(out, observe.DetectorReading{
			Detector:  name,
			Rate:      snap.RateEventsPerMinute,
			Coherence: snap.Coherence,
			Stability: snap.Stability,
		})
	}
	return out
}

// Latest returns the most recent snapshot of the named detector.
func (m *Manager) Latest(name string) (detector.Snapshot, bool) {
	m.mu.Lock()
	r, ok := m.running[name]
	var p *Pipeline
	if ok {
		p = r.pipeline
	}
	m.mu.Unlock()
	if !ok {
		return detector.Snapshot{}, false
	}
	snap, _ := p.Latest()
	return snap, true
}
