package app_test

import (
	"context"
	"sync"
	"testing"
	"time"

	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"

	"github.com/MrWong99/vocalflow/internal/config"
	"github.com/MrWong99/vocalflow/internal/observe"
	"github.com/MrWong99/vocalflow/pkg/audio"
	"github.com/MrWong99/vocalflow/pkg/detector"
)

// breathConfig returns 128 ms frames with a 3 s calibration window.
func breathConfig() detector.Config {
	cfg := detector.DefaultConfig()
	cfg.SampleRate = 16000
	cfg.FrameSize = 2048
	cfg.SampleWindowMs = 3000
	cfg.SmoothingFactor = 0.8
	cfg.DebounceMs = 100
	return cfg
}

// dcFrame returns a frame whose samples all equal level.
func dcFrame(level float64, cfg detector.Config) audio.AudioFrame {
	s := make([]float64, cfg.FrameSize)
	for i := range s {
		s[i] = level
	}
	return audio.AudioFrame{Samples: s, SampleRate: cfg.SampleRate, FrameSize: cfg.FrameSize}
}

// singleBreath is 50 silent frames followed by one breath that rises to 0.5
// over 15 frames and falls back over 15 more.
func singleBreath(cfg detector.Config) []audio.AudioFrame {
	var frames []audio.AudioFrame
	for range 50 {
		frames = append(frames, dcFrame(0, cfg))
	}
	for i := range 15 {
		frames = append(frames, dcFrame(float64(i)/14*0.5, cfg))
	}
	for j := range 15 {
		frames = append(frames, dcFrame(0.5-float64(j+1)/15*0.5, cfg))
	}
	return frames
}

// recorder is an Observer that keeps everything it sees.
type recorder struct {
	mu          sync.Mutex
	snapshots   []detector.Snapshot
	transitions []detector.TransitionEvent
	profiles    []detector.CalibrationProfile
}

func (r *recorder) OnSnapshot(_ context.Context, s detector.Snapshot) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.snapshots = append(r.snapshots, s)
}

func (r *recorder) OnTransition(_ context.Context, ev detector.TransitionEvent) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.transitions = append(r.transitions, ev)
}

func (r *recorder) OnCalibrated(_ context.Context, _ detector.Snapshot, p detector.CalibrationProfile) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.profiles = append(r.profiles, p)
}

// holdSource hands out Frames and then blocks until the context ends, like
// a live input that has gone quiet.
type holdSource struct {
	mu     sync.Mutex
	frames []audio.AudioFrame
	format audio.Format
	closed int
}

func (s *holdSource) Next(ctx context.Context) (audio.AudioFrame, error) {
	s.mu.Lock()
	if len(s.frames) > 0 {
		f := s.frames[0]
		s.frames = s.frames[1:]
		s.mu.Unlock()
		return f, nil
	}
	s.mu.Unlock()
	<-ctx.Done()
	return audio.AudioFrame{}, ctx.Err()
}

func (s *holdSource) Format() audio.Format { return s.format }

func (s *holdSource) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed++
	return nil
}

func (s *holdSource) closeCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

// holdRegistry returns a registry whose synthetic kind yields holdSources
// with n silent frames each. Created sources are sent on the returned
// channel.
func holdRegistry(n int) (*config.Registry, <-chan *holdSource) {
	created := make(chan *holdSource, 16)
	reg := config.NewRegistry()
	reg.RegisterSource(config.SourceSynthetic, func(_ config.SourceConfig, cfg detector.Config) (audio.Source, error) {
		src := &holdSource{format: audio.Format{SampleRate: cfg.SampleRate, Channels: 1}}
		for range n {
			src.frames = append(src.frames, dcFrame(0, cfg))
		}
		created <- src
		return src, nil
	})
	return reg, created
}

// detectorConfig returns a synthetic detector that calibrates on its first
// frame.
func detectorConfig(name string) config.DetectorConfig {
	zero := 0
	return config.DetectorConfig{
		Name:   name,
		Labels: "breath",
		Source: config.SourceConfig{Kind: config.SourceSynthetic, Channels: 1},
		Detector: config.DetectorSettings{
			SampleRate:     16000,
			FrameSize:      1024,
			SampleWindowMs: &zero,
		},
	}
}

// waitFor polls cond until it holds or the deadline passes.
func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func newTestMetrics(t *testing.T) (*observe.Metrics, *sdkmetric.ManualReader) {
	t.Helper()
	reader := sdkmetric.NewManualReader()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	t.Cleanup(func() { _ = mp.Shutdown(context.Background()) })
	m, err := observe.NewMetrics(mp)
	if err != nil {
		t.Fatalf("NewMetrics: %v", err)
	}
	return m, reader
}

// counterTotal sums every data point of the int64 sum called name.
func counterTotal(t *testing.T, reader *sdkmetric.ManualReader, name string) int64 {
	t.Helper()
	var rm metricdata.ResourceMetrics
	if err := reader.Collect(context.Background(), &rm); err != nil {
		t.Fatalf("Collect: %v", err)
	}
	for _, sm := range rm.ScopeMetrics {
		for _, m := range sm.Metrics {
			if m.Name != name {
				continue
			}
			sum, ok := m.Data.(metricdata.Sum[int64])
			if !ok {
				t.Fatalf("metric %q is not an int64 sum", name)
			}
			var total int64
			for _, dp := range sum.DataPoints {
				total += dp.Value
			}
			return total
		}
	}
	return 0
}

var _ audio.Source = (*holdSource)(nil)
