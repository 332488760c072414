package app_test

import (
	"context"
	"errors"
	"slices"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/MrWong99/vocalflow/internal/app"
	"github.com/MrWong99/vocalflow/internal/config"
	"github.com/MrWong99/vocalflow/internal/feed"
	"github.com/MrWong99/vocalflow/pkg/audio"
	"github.com/MrWong99/vocalflow/pkg/detector"
)

func TestManager_StartStop(t *testing.T) {
	t.Parallel()

	reg, created := holdRegistry(3)
	metrics, reader := newTestMetrics(t)
	m := app.NewManager(app.ManagerConfig{Registry: reg, Metrics: metrics})

	if err := m.Start(context.Background(), detectorConfig("a")); err != nil {
		t.Fatalf("Start: %v", err)
	}
	src := <-created

	waitFor(t, "three frames", func() bool {
		snap, _ := m.Latest("a")
		return snap.Frame == 3
	})
	if !m.Calibrated()["a"] {
		t.Error("detector with a zero window is not calibrated")
	}
	if got := m.Names(); !slices.Equal(got, []string{"a"}) {
		t.Errorf("Names = %v, want [a]", got)
	}
	if got := counterTotal(t, reader, "vocalflow.active_detectors"); got != 1 {
		t.Errorf("active detectors = %d, want 1", got)
	}

	m.Stop("a")
	if len(m.Names()) != 0 {
		t.Errorf("Names after Stop = %v", m.Names())
	}
	if src.closeCount() != 1 {
		t.Errorf("source closed %d times, want 1", src.closeCount())
	}
	if got := counterTotal(t, reader, "vocalflow.active_detectors"); got != 0 {
		t.Errorf("active detectors after stop = %d, want 0", got)
	}

	m.Stop("a") // unknown names are ignored
}

func TestManager_StartReplacesRunning(t *testing.T) {
	t.Parallel()

	reg, created := holdRegistry(0)
	m := app.NewManager(app.ManagerConfig{Registry: reg})
	defer m.StopAll()

	ctx := context.Background()
	if err := m.Start(ctx, detectorConfig("a")); err != nil {
		t.Fatal(err)
	}
	first := <-created
	if err := m.Start(ctx, detectorConfig("a")); err != nil {
		t.Fatal(err)
	}
	<-created

	if first.closeCount() != 1 {
		t.Errorf("replaced source closed %d times, want 1", first.closeCount())
	}
	if got := m.Names(); !slices.Equal(got, []string{"a"}) {
		t.Errorf("Names = %v, want [a]", got)
	}
}

func TestManager_ConcurrentStartsKeepOne(t *testing.T) {
	t.Parallel()

	const starts = 8
	reg, created := holdRegistry(0)
	metrics, reader := newTestMetrics(t)
	m := app.NewManager(app.ManagerConfig{Registry: reg, Metrics: metrics})

	var wg sync.WaitGroup
	for range starts {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := m.Start(context.Background(), detectorConfig("a")); err != nil {
				t.Errorf("Start: %v", err)
			}
		}()
	}
	wg.Wait()

	var sources []*holdSource
	for range starts {
		sources = append(sources, <-created)
	}
	open := 0
	for _, src := range sources {
		if src.closeCount() == 0 {
			open++
		}
	}
	if open != 1 {
		t.Errorf("%d sources still open, want 1", open)
	}
	if got := m.Names(); !slices.Equal(got, []string{"a"}) {
		t.Errorf("Names = %v, want [a]", got)
	}
	if got := counterTotal(t, reader, "vocalflow.active_detectors"); got != 1 {
		t.Errorf("active detectors = %d, want 1", got)
	}

	m.StopAll()
	for i, src := range sources {
		if n := src.closeCount(); n != 1 {
			t.Errorf("source %d closed %d times, want 1", i, n)
		}
	}
}

func TestManager_FinishedDetectorIsRemoved(t *testing.T) {
	t.Parallel()

	// The real synthetic source ends after its cycles have played.
	dc := detectorConfig("finite")
	dc.Source.Cycles = 1
	dc.Source.CycleMs = 500

	m := app.NewManager(app.ManagerConfig{Registry: app.DefaultRegistry()})
	if err := m.Start(context.Background(), dc); err != nil {
		t.Fatalf("Start: %v", err)
	}
	waitFor(t, "detector to finish", func() bool { return len(m.Names()) == 0 })
}

func TestManager_StartErrors(t *testing.T) {
	t.Parallel()

	reg, _ := holdRegistry(0)
	m := app.NewManager(app.ManagerConfig{Registry: reg})

	tests := []struct {
		name   string
		modify func(*config.DetectorConfig)
	}{
		{"unknown labels", func(dc *config.DetectorConfig) { dc.Labels = "morse" }},
		{"bad phase", func(dc *config.DetectorConfig) { dc.Detector.PrimaryPhase = "loud" }},
		{"invalid detector", func(dc *config.DetectorConfig) { dc.Detector.SmoothingFactor = 2 }},
		{"unregistered source", func(dc *config.DetectorConfig) { dc.Source.Kind = config.SourcePCM }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dc := detectorConfig("x")
			tt.modify(&dc)
			if err := m.Start(context.Background(), dc); err == nil {
				t.Error("expected an error")
			}
		})
	}
	if len(m.Names()) != 0 {
		t.Errorf("failed starts left detectors running: %v", m.Names())
	}
}

func TestManager_Apply(t *testing.T) {
	t.Parallel()

	reg, created := holdRegistry(1)
	m := app.NewManager(app.ManagerConfig{Registry: reg})
	defer m.StopAll()
	ctx := context.Background()

	old := &config.Config{Detectors: []config.DetectorConfig{detectorConfig("keep"), detectorConfig("drop"), detectorConfig("tune")}}
	for _, dc := range old.Detectors {
		if err := m.Start(ctx, dc); err != nil {
			t.Fatal(err)
		}
		<-created
	}

	tuned := detectorConfig("tune")
	tuned.Detector.SmoothingFactor = 0.5
	next := &config.Config{Detectors: []config.DetectorConfig{detectorConfig("keep"), tuned, detectorConfig("new")}}

	if err := m.Apply(ctx, next, config.Diff(old, next)); err != nil {
		t.Fatalf("Apply: %v", err)
	}
	if got := m.Names(); !slices.Equal(got, []string{"keep", "new", "tune"}) {
		t.Errorf("Names = %v, want [keep new tune]", got)
	}

	// tune and new were built; keep was left alone.
	if got := len(created); got != 2 {
		t.Errorf("sources created by Apply = %d, want 2", got)
	}
}

func TestManager_ReadingsAndFeed(t *testing.T) {
	t.Parallel()

	hub := feed.NewHub()
	reg, _ := holdRegistry(2)
	m := app.NewManager(app.ManagerConfig{Registry: reg, Hub: hub, FeedEvery: 1})
	defer m.StopAll()

	if err := m.Start(context.Background(), detectorConfig("a")); err != nil {
		t.Fatal(err)
	}
	waitFor(t, "frames", func() bool {
		snap, _ := m.Latest("a")
		return snap.Frame == 2
	})

	readings := m.Readings()
	if len(readings) != 1 || readings[0].Detector != "a" {
		t.Fatalf("Readings = %+v", readings)
	}
	// No transitions yet, so coherence sits at the neutral score.
	if readings[0].Coherence != detector.NeutralScore {
		t.Errorf("coherence = %v, want %v", readings[0].Coherence, detector.NeutralScore)
	}
}

// failSource fails its first read.
type failSource struct{ holdSource }

func (s *failSource) Next(context.Context) (audio.AudioFrame, error) {
	return audio.AudioFrame{}, errors.New("device unplugged")
}

// flakyRegistry fails the first `fail` sources it creates; later ones hand
// out three frames and then hold.
func flakyRegistry(fail int) (*config.Registry, *atomic.Int32) {
	var n atomic.Int32
	reg := config.NewRegistry()
	reg.RegisterSource(config.SourceSynthetic, func(_ config.SourceConfig, cfg detector.Config) (audio.Source, error) {
		format := audio.Format{SampleRate: cfg.SampleRate, Channels: 1}
		if int(n.Add(1)) <= fail {
			return &failSource{holdSource{format: format}}, nil
		}
		src := &holdSource{format: format}
		for range 3 {
			src.frames = append(src.frames, dcFrame(0, cfg))
		}
		return src, nil
	})
	return reg, &n
}

func TestManager_RestartsFailedSource(t *testing.T) {
	t.Parallel()

	reg, created := flakyRegistry(2)
	metrics, reader := newTestMetrics(t)
	m := app.NewManager(app.ManagerConfig{
		Registry: reg,
		Metrics:  metrics,
		Restart:  app.RestartPolicy{Backoff: time.Millisecond, MaxBackoff: 5 * time.Millisecond},
	})
	defer m.StopAll()

	if err := m.Start(context.Background(), detectorConfig("flaky")); err != nil {
		t.Fatal(err)
	}
	waitFor(t, "recovered detector", func() bool {
		snap, _ := m.Latest("flaky")
		return snap.Frame == 3
	})
	if got := created.Load(); got != 3 {
		t.Errorf("sources created = %d, want 3", got)
	}
	if got := counterTotal(t, reader, "vocalflow.source.errors"); got != 2 {
		t.Errorf("source errors = %d, want 2", got)
	}
}

func TestManager_BreakerStopsRestarts(t *testing.T) {
	t.Parallel()

	reg, created := flakyRegistry(100)
	m := app.NewManager(app.ManagerConfig{
		Registry: reg,
		Restart: app.RestartPolicy{
			MaxFailures:  2,
			ResetTimeout: time.Hour,
			Backoff:      time.Millisecond,
			MaxBackoff:   time.Millisecond,
		},
	})

	if err := m.Start(context.Background(), detectorConfig("dead")); err != nil {
		t.Fatal(err)
	}
	waitFor(t, "second attempt", func() bool { return created.Load() == 2 })
	time.Sleep(50 * time.Millisecond)
	if got := created.Load(); got != 2 {
		t.Errorf("sources created with an open breaker = %d, want 2", got)
	}
	// The detector stays registered while it waits for the breaker.
	if got := m.Names(); !slices.Equal(got, []string{"dead"}) {
		t.Errorf("Names = %v, want [dead]", got)
	}
	if got := m.Tripped(); !got["dead"] {
		t.Errorf("Tripped = %v, want dead tripped", got)
	}

	stopped := make(chan struct{})
	go func() { m.StopAll(); close(stopped) }()
	select {
	case <-stopped:
	case <-time.After(time.Second):
		t.Fatal("Stop did not interrupt the breaker wait")
	}
}

func TestManager_RestartDisabled(t *testing.T) {
	t.Parallel()

	reg, created := flakyRegistry(1)
	m := app.NewManager(app.ManagerConfig{Registry: reg, Restart: app.RestartPolicy{Disabled: true}})
	if err := m.Start(context.Background(), detectorConfig("once")); err != nil {
		t.Fatal(err)
	}
	waitFor(t, "detector to stop", func() bool { return len(m.Names()) == 0 })
	if got := created.Load(); got != 1 {
		t.Errorf("sources created = %d, want 1", got)
	}
}
