package detector

import (
	"testing"
	"time"
)

// feedCycles reports a transition into Rising at each timestamp (ms).
func feedCycles(r *RegularityScorer, ms ...int) {
	for _, m := range ms {
		r.OnTransition(TransitionEvent{From: Idle, To: Rising, Timestamp: time.Duration(m) * time.Millisecond})
	}
}

func TestRegularityScorer_Coherence(t *testing.T) {
	tests := []struct {
		name      string
		starts    []int
		wantRate  float64
		wantCoh   float64
		tolerance float64
	}{
		{"no cycles", nil, 0, NeutralScore, 0},
		{"two intervals stay neutral", []int{0, 4000, 8000}, 15, NeutralScore, 1e-9},
		{"regular", []int{0, 4000, 8000, 12000, 16000}, 15, 100, 1e-9},
		{"irregular", []int{0, 1000, 9000, 11000, 20000}, 12, 18.35, 0.01},
		{"resonant band boost clamps", []int{0, 10000, 20000, 30000}, 6, 100, 1e-9},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := NewRegularityScorer(testConfig())
			feedCycles(r, tt.starts...)
			got := r.Snapshot()
			if !approx(got.RateEventsPerMinute, tt.wantRate, 1e-9) {
				t.Errorf("rate = %v, want %v", got.RateEventsPerMinute, tt.wantRate)
			}
			if !approx(got.Coherence, tt.wantCoh, tt.tolerance) {
				t.Errorf("coherence = %v, want %v", got.Coherence, tt.wantCoh)
			}
		})
	}
}

func TestRegularityScorer_ResonantBoost(t *testing.T) {
	cfg := testConfig()
	// Intervals 9, 11, 9, 11 s: mean 10 s (6/min), CV 0.1155.
	r := NewRegularityScorer(cfg)
	feedCycles(r, 0, 9000, 20000, 29000, 40000)
	boosted := r.Snapshot().Coherence

	cfg.ResonantBoost = 0
	plain := NewRegularityScorer(cfg)
	feedCycles(plain, 0, 9000, 20000, 29000, 40000)

	if diff := boosted - plain.Snapshot().Coherence; !approx(diff, 10, 1e-9) {
		t.Errorf("boost = %v, want 10", diff)
	}
}

func TestRegularityScorer_DiscardsImplausibleIntervals(t *testing.T) {
	r := NewRegularityScorer(testConfig())
	// 500 ms is too short and 20 s too long; both reset the reference.
	feedCycles(r, 0, 500, 4500, 24500, 28500)
	got := r.Intervals()
	if len(got) != 2 || got[0] != 4000 || got[1] != 4000 {
		t.Errorf("intervals = %v, want [4000 4000]", got)
	}
}

func TestRegularityScorer_IgnoresOtherPhases(t *testing.T) {
	r := NewRegularityScorer(testConfig())
	for i, to := range []Phase{Sustained, Falling, Idle, Sustained} {
		r.OnTransition(TransitionEvent{To: to, Timestamp: time.Duration(i) * 4 * time.Second})
	}
	if n := len(r.Intervals()); n != 0 {
		t.Errorf("%d intervals from non-primary transitions", n)
	}
}

func TestRegularityScorer_IntervalWindow(t *testing.T) {
	cfg := testConfig()
	cfg.IntervalWindow = 3
	r := NewRegularityScorer(cfg)
	feedCycles(r, 0, 2000, 4000, 8000, 12000, 16000)
	got := r.Intervals()
	if len(got) != 3 || got[0] != 4000 {
		t.Errorf("intervals = %v, want the last three (all 4000)", got)
	}
}

func TestRegularityScorer_Stability(t *testing.T) {
	cfg := testConfig()

	r := NewRegularityScorer(cfg)
	for range cfg.StabilityWindow - 1 {
		r.OnLevel(0.1)
	}
	if got := r.Snapshot().Stability; got != NeutralScore {
		t.Errorf("stability with short history = %v, want %v", got, NeutralScore)
	}
	r.OnLevel(0.1)
	if got := r.Snapshot().Stability; got != 100 {
		t.Errorf("stability of flat history = %v, want 100", got)
	}

	// A linear ramp has no second difference.
	ramp := NewRegularityScorer(cfg)
	for i := range cfg.StabilityWindow {
		ramp.OnLevel(float64(i) * 0.01)
	}
	if got := ramp.Snapshot().Stability; !approx(got, 100, 1e-9) {
		t.Errorf("stability of ramp = %v, want 100", got)
	}

	// Alternating 0/0.1 has |Δ²| = 0.2 per step: 1 - 0.2*20 < 0.
	jitter := NewRegularityScorer(cfg)
	for i := range cfg.StabilityWindow {
		jitter.OnLevel(float64(i%2) * 0.1)
	}
	if got := jitter.Snapshot().Stability; got != 0 {
		t.Errorf("stability of alternating history = %v, want 0", got)
	}

	// Mild jitter: alternating 0/0.001 gives mean |Δ²| 0.002, penalty 4%.
	mild := NewRegularityScorer(cfg)
	for i := range cfg.StabilityWindow {
		mild.OnLevel(float64(i%2) * 0.001)
	}
	if got := mild.Snapshot().Stability; !approx(got, 96, 1e-6) {
		t.Errorf("stability of mild jitter = %v, want 96", got)
	}
}

func TestRegularityScorer_HistoryBounded(t *testing.T) {
	cfg := testConfig()
	r := NewRegularityScorer(cfg)
	for i := range 1000 {
		r.OnLevel(float64(i))
	}
	h := r.History()
	if len(h) != cfg.HistoryLength {
		t.Fatalf("history length = %d, want %d", len(h), cfg.HistoryLength)
	}
	if h[0] != float64(1000-cfg.HistoryLength) {
		t.Errorf("oldest = %v, want %d", h[0], 1000-cfg.HistoryLength)
	}
}

func TestRegularityScorer_Reset(t *testing.T) {
	r := NewRegularityScorer(testConfig())
	feedCycles(r, 0, 4000, 8000)
	r.OnLevel(1)
	r.Reset()
	if len(r.Intervals()) != 0 || len(r.History()) != 0 {
		t.Error("Reset left history behind")
	}
	feedCycles(r, 100000)
	if len(r.Intervals()) != 0 {
		t.Error("first cycle after Reset produced an interval")
	}
}

func TestRegularityScorer_CachesScores(t *testing.T) {
	cfg := testConfig()
	r := NewRegularityScorer(cfg)

	if got := r.Snapshot(); got != (Regularity{Coherence: NeutralScore, Stability: NeutralScore}) {
		t.Fatalf("fresh snapshot = %+v, want neutral", got)
	}
	if r.recomputes != 0 {
		t.Fatalf("fresh scorer recomputed %d times", r.recomputes)
	}

	feedCycles(r, 0, 4000, 8000, 12000)
	first := r.Snapshot()
	if r.recomputes != 1 {
		t.Fatalf("recomputes after new intervals = %d, want 1", r.recomputes)
	}
	// A transition into another phase changes nothing.
	r.OnTransition(TransitionEvent{From: Rising, To: Sustained, Timestamp: 13 * time.Second})
	for range 5 {
		if got := r.Snapshot(); got != first {
			t.Fatalf("cached snapshot changed: %+v, want %+v", got, first)
		}
	}
	if r.recomputes != 1 {
		t.Errorf("recomputes without state change = %d, want 1", r.recomputes)
	}

	for range cfg.StabilityWindow {
		r.OnLevel(0.2)
	}
	if got := r.Snapshot(); got.Stability != 100 || got.RateEventsPerMinute != first.RateEventsPerMinute {
		t.Errorf("after steady levels = %+v", got)
	}
	if r.recomputes != 2 {
		t.Errorf("recomputes after new levels = %d, want 2", r.recomputes)
	}

	r.Reset()
	if got := r.Snapshot(); got != (Regularity{Coherence: NeutralScore, Stability: NeutralScore}) {
		t.Errorf("snapshot after Reset = %+v, want neutral", got)
	}
}
