package detector

import (
	"math"
	"time"

	"gonum.org/v1/gonum/stat"
)

// NeutralScore is reported for coherence and stability until enough history
// has accumulated to compute them.
const NeutralScore = 50.0

// minIntervalsForCoherence is the number of intervals below which coherence
// stays neutral.
const minIntervalsForCoherence = 3

// Regularity is the output of a [RegularityScorer].
type Regularity struct {
	// RateEventsPerMinute is the cycle rate, 0 until an interval is known.
	RateEventsPerMinute float64

	// Coherence in [0, 100] rewards consistent cycle lengths.
	Coherence float64

	// Stability in [0, 100] rewards a smooth level trajectory.
	Stability float64
}

// RegularityScorer tracks cycle timing and level smoothness.
//
// A cycle starts on every transition into Config.PrimaryPhase. The interval
// since the previous cycle start is kept only when it lies within
// [MinIntervalMs, MaxIntervalMs]; either way the new start becomes the
// reference for the next interval. Rate and coherence are derived from the
// last IntervalWindow kept intervals, stability from the last StabilityWindow
// smoothed levels. Scores are cached: rate and coherence are recomputed only
// when an interval is kept, stability only after a new level.
type RegularityScorer struct {
	primary        Phase
	minInterval    time.Duration
	maxInterval    time.Duration
	resonant       Range
	resonantBoost  float64
	stabilityWin   int
	stabilityScale float64

	levels    *Ring[float64]
	intervals *Ring[float64] // milliseconds

	lastStart time.Duration
	hasStart  bool

	cached      Regularity
	timingDirty bool
	levelsDirty bool
	recomputes  int // score evaluations since construction
}

// NewRegularityScorer returns a scorer for cfg.
func NewRegularityScorer(cfg Config) *RegularityScorer {
	return &RegularityScorer{
		primary:        cfg.PrimaryPhase,
		minInterval:    time.Duration(cfg.MinIntervalMs) * time.Millisecond,
		maxInterval:    time.Duration(cfg.MaxIntervalMs) * time.Millisecond,
		resonant:       cfg.ResonantBandBPM,
		resonantBoost:  cfg.ResonantBoost,
		stabilityWin:   cfg.StabilityWindow,
		stabilityScale: cfg.StabilityScale,
		levels:         NewRing[float64](cfg.HistoryLength),
		intervals:      NewRing[float64](cfg.IntervalWindow),
		cached:         neutralRegularity(),
	}
}

func neutralRegularity() Regularity {
	return Regularity{Coherence: NeutralScore, Stability: NeutralScore}
}

// OnLevel appends one smoothed level to the history.
func (r *RegularityScorer) OnLevel(level float64) {
	r.levels.Push(level)
	r.levelsDirty = true
}

// OnTransition records a confirmed transition.
func (r *RegularityScorer) OnTransition(ev TransitionEvent) {
	if ev.To != r.primary {
		return
	}
	if r.hasStart {
		iv := ev.Timestamp - r.lastStart
		if iv >= r.minInterval && iv <= r.maxInterval {
			r.intervals.Push(float64(iv) / float64(time.Millisecond))
			r.timingDirty = true
		}
	}
	r.lastStart = ev.Timestamp
	r.hasStart = true
}

// Intervals returns the retained cycle intervals in milliseconds, oldest
// first.
func (r *RegularityScorer) Intervals() []float64 { return r.intervals.Values() }

// History returns the retained smoothed levels, oldest first.
func (r *RegularityScorer) History() []float64 { return r.levels.Values() }

// Snapshot returns the current scores, recomputing only what changed since
// the previous call.
func (r *RegularityScorer) Snapshot() Regularity {
	if r.timingDirty {
		intervals := r.intervals.Values()
		r.cached.RateEventsPerMinute = rate(intervals)
		r.cached.Coherence = r.coherence(intervals, r.cached.RateEventsPerMinute)
		r.timingDirty = false
		r.recomputes++
	}
	if r.levelsDirty {
		r.cached.Stability = r.stability()
		r.levelsDirty = false
		r.recomputes++
	}
	return r.cached
}

func rate(intervals []float64) float64 {
	if len(intervals) == 0 {
		return 0
	}
	mean := stat.Mean(intervals, nil)
	if mean <= 0 {
		return 0
	}
	return 60000 / mean
}

func (r *RegularityScorer) coherence(intervals []float64, rate float64) float64 {
	if len(intervals) < minIntervalsForCoherence {
		return NeutralScore
	}
	mean, std := stat.MeanStdDev(intervals, nil)
	if mean <= 0 {
		return NeutralScore
	}
	score := (1 - std/mean) * 100
	if r.resonant.Contains(rate) {
		score += r.resonantBoost
	}
	return clampScore(score)
}

func (r *RegularityScorer) stability() float64 {
	if r.levels.Len() < r.stabilityWin {
		return NeutralScore
	}
	from := r.levels.Len() - r.stabilityWin
	var jitter float64
	for i := from + 2; i < r.levels.Len(); i++ {
		jitter += math.Abs(r.levels.At(i) - 2*r.levels.At(i-1) + r.levels.At(i-2))
	}
	jitter /= float64(r.stabilityWin - 2)
	return clampScore((1 - jitter*r.stabilityScale) * 100)
}

// Reset clears all history.
func (r *RegularityScorer) Reset() {
	r.levels.Reset()
	r.intervals.Reset()
	r.lastStart = 0
	r.hasStart = false
	r.cached = neutralRegularity()
	r.timingDirty, r.levelsDirty = false, false
}

func clampScore(v float64) float64 {
	if math.IsNaN(v) {
		return NeutralScore
	}
	return max(0, min(100, v))
}
