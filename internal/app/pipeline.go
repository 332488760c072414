package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/MrWong99/vocalflow/internal/feed"
	"github.com/MrWong99/vocalflow/internal/observe"
	"github.com/MrWong99/vocalflow/pkg/audio"
	"github.com/MrWong99/vocalflow/pkg/detector"
)

// Observer receives the output of one pipeline. Callbacks run on the
// pipeline goroutine and must not block.
type Observer interface {
	OnSnapshot(ctx context.Context, snap detector.Snapshot)
	OnTransition(ctx context.Context, ev detector.TransitionEvent)
	OnCalibrated(ctx context.Context, snap detector.Snapshot, p detector.CalibrationProfile)
}

// PipelineConfig holds everything a [Pipeline] needs.
type PipelineConfig struct {
	// Name identifies the detector in logs, metrics and the feed.
	Name   string
	Labels detector.Labels

	Session *detector.Session
	Source  audio.Source

	// Realtime paces the loop to one frame per frame duration. Without it
	// frames are processed as fast as the source yields them.
	Realtime bool

	// Metrics is optional.
	Metrics   *observe.Metrics
	Observers []Observer
}

// Pipeline pulls frames from a source through a classifier session. Run is
// called once; the accessors are safe for concurrent use while it runs.
type Pipeline struct {
	cfg PipelineConfig

	mu         sync.RWMutex
	latest     detector.Snapshot
	calibrated bool
}

// NewPipeline returns a pipeline for cfg. Session and Source are required.
func NewPipeline(cfg PipelineConfig) (*Pipeline, error) {
	if cfg.Session == nil {
		return nil, fmt.Errorf("app: pipeline %q: session is required", cfg.Name)
	}
	if cfg.Source == nil {
		return nil, fmt.Errorf("app: pipeline %q: source is required", cfg.Name)
	}
	if cfg.Labels.Kind == "" {
		cfg.Labels = detector.PhaseLabels
	}
	return &Pipeline{cfg: cfg}, nil
}

// Name returns the detector name.
func (p *Pipeline) Name() string { return p.cfg.Name }

// Labels returns the phase naming used for this detector.
func (p *Pipeline) Labels() detector.Labels { return p.cfg.Labels }

// Latest returns the most recent snapshot and whether calibration has
// finished.
func (p *Pipeline) Latest() (detector.Snapshot, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.latest, p.calibrated
}

// Close releases the source of a pipeline that will not be run.
func (p *Pipeline) Close() error { return p.cfg.Source.Close() }

// Run processes frames until the source is exhausted or ctx is cancelled,
// then closes the source. Exhaustion and cancellation are not errors. The
// run is traced as one span carrying calibration and transition events.
func (p *Pipeline) Run(ctx context.Context) (err error) {
	defer p.cfg.Source.Close()

	ctx, span := observe.StartDetectorRun(ctx, p.cfg.Name, p.cfg.Session.ID())
	defer func() { observe.EndDetectorRun(span, p.cfg.Session.Frames(), err) }()

	log := observe.Logger(ctx).With("detector", p.cfg.Name, "session_id", p.cfg.Session.ID())
	log.Info("pipeline started",
		"labels", p.cfg.Labels.Kind,
		"format", p.cfg.Source.Format().String(),
		"realtime", p.cfg.Realtime,
	)

	var tick <-chan time.Time
	if p.cfg.Realtime {
		t := time.NewTicker(p.cfg.Session.Config().FrameDuration())
		defer t.Stop()
		tick = t.C
	}

	for {
		if tick != nil {
			select {
			case <-ctx.Done():
				log.Info("pipeline stopped", "frames", p.cfg.Session.Frames())
				return nil
			case <-tick:
			}
		}

		f, err := p.cfg.Source.Next(ctx)
		switch {
		case errors.Is(err, io.EOF):
			log.Info("source exhausted", "frames", p.cfg.Session.Frames())
			return nil
		case ctx.Err() != nil:
			log.Info("pipeline stopped", "frames", p.cfg.Session.Frames())
			return nil
		case err != nil:
			if p.cfg.Metrics != nil {
				p.cfg.Metrics.RecordSourceError(ctx, p.cfg.Name, "read")
			}
			return fmt.Errorf("app: pipeline %q: read frame: %w", p.cfg.Name, err)
		}

		p.step(ctx, log, f)
	}
}

// step runs one frame through the session and notifies observers.
func (p *Pipeline) step(ctx context.Context, log *slog.Logger, f audio.AudioFrame) {
	start := time.Now()
	snap := p.cfg.Session.Update(f)
	took := time.Since(start)

	calibrated := p.cfg.Session.Calibrated()
	p.mu.Lock()
	justCalibrated := calibrated && !p.calibrated
	p.latest, p.calibrated = snap, calibrated
	p.mu.Unlock()

	if p.cfg.Metrics != nil {
		p.cfg.Metrics.RecordFrame(ctx, p.cfg.Name, took)
	}

	if justCalibrated {
		profile := p.cfg.Session.Profile()
		log.Info("calibration complete", "frame", snap.Frame, "profile", profile.String())
		trace.SpanFromContext(ctx).AddEvent("calibrated", trace.WithAttributes(
			attribute.Float64("baseline", profile.Baseline),
			attribute.Float64("on", profile.OnThreshold),
			attribute.Float64("off", profile.OffThreshold),
		))
		if p.cfg.Metrics != nil {
			p.cfg.Metrics.RecordCalibration(ctx, p.cfg.Name)
		}
		for _, o := range p.cfg.Observers {
			o.OnCalibrated(ctx, snap, profile)
		}
	}

	span := trace.SpanFromContext(ctx)
	for _, ev := range p.cfg.Session.Events() {
		from, to := p.cfg.Labels.Name(ev.From), p.cfg.Labels.Name(ev.To)
		if p.cfg.Metrics != nil {
			p.cfg.Metrics.RecordTransition(ctx, p.cfg.Name, from, to)
		}
		span.AddEvent("transition", trace.WithAttributes(observe.AttrFrom.String(from), observe.AttrTo.String(to)))
		for _, o := range p.cfg.Observers {
			o.OnTransition(ctx, ev)
		}
	}

	for _, o := range p.cfg.Observers {
		o.OnSnapshot(ctx, snap)
	}
}

// feedObserver publishes a pipeline's output to a feed hub. Snapshots are
// thinned to one every `every` frames; transitions and calibration are
// always sent.
type feedObserver struct {
	hub    *feed.Hub
	name   string
	labels detector.Labels
	every  uint64
}

func newFeedObserver(hub *feed.Hub, name string, labels detector.Labels, every int) *feedObserver {
	return &feedObserver{hub: hub, name: name, labels: labels, every: uint64(max(1, every))}
}

func (o *feedObserver) OnSnapshot(ctx context.Context, snap detector.Snapshot) {
	if snap.Frame%o.every != 0 {
		return
	}
	o.publish(ctx, feed.SnapshotMessage(o.name, o.labels, snap))
}

func (o *feedObserver) OnTransition(ctx context.Context, ev detector.TransitionEvent) {
	o.publish(ctx, feed.TransitionMessage(o.name, o.labels, ev))
}

func (o *feedObserver) OnCalibrated(ctx context.Context, snap detector.Snapshot, p detector.CalibrationProfile) {
	o.publish(ctx, feed.CalibratedMessage(o.name, snap, p))
}

func (o *feedObserver) publish(ctx context.Context, m feed.Message) {
	if err := o.hub.Publish(ctx, m); err != nil {
		slog.Warn("feed publish failed", "detector", o.name, "type", m.Type, "err", err)
	}
}
