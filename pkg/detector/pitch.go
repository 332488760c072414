package detector

import (
	"math"

	"gonum.org/v1/gonum/stat"

	"github.com/MrWong99/vocalflow/pkg/audio"
)

// PitchEstimator estimates the fundamental frequency of a frame within
// Config.PitchRangeHz.
//
// In [ModeTime] it searches the autocorrelation of the samples for the
// strongest local maximum among lags corresponding to the pitch range and
// refines it by parabolic interpolation; confidence is that correlation
// normalised by the zero-lag energy. In [ModeSpectral] it picks the largest
// magnitude bin inside the range and refines it with the magnitude-weighted
// centroid of its neighbours; confidence is the peak relative to the largest
// bin overall.
type PitchEstimator struct {
	mode          Mode
	minHz, maxHz  float64
	minConfidence float64
	levels        LevelExtractor
}

// NewPitchEstimator returns an estimator for cfg.
func NewPitchEstimator(cfg Config) PitchEstimator {
	return PitchEstimator{
		mode:          cfg.Mode,
		minHz:         cfg.PitchRangeHz.Min,
		maxHz:         cfg.PitchRangeHz.Max,
		minConfidence: cfg.MinConfidence,
		levels:        NewLevelExtractor(cfg),
	}
}

// Estimate returns the fundamental of f in Hz. It reports false when the
// frame level is below minLevel, when no candidate clears the confidence
// floor, or when the input is degenerate.
func (p PitchEstimator) Estimate(f audio.AudioFrame, minLevel float64) (float64, bool) {
	return p.estimateAt(f, p.levels.Extract(f), minLevel)
}

func (p PitchEstimator) estimateAt(f audio.AudioFrame, level, minLevel float64) (float64, bool) {
	if level < minLevel || f.SampleRate <= 0 {
		return 0, false
	}
	var hz, confidence float64
	var ok bool
	switch p.mode {
	case ModeSpectral:
		hz, confidence, ok = p.peakBin(f)
	default:
		hz, confidence, ok = p.autocorrelate(f.Samples, float64(f.SampleRate))
	}
	if !ok || confidence < p.minConfidence || hz < p.minHz || hz > p.maxHz {
		return 0, false
	}
	return hz, true
}

func (p PitchEstimator) autocorrelate(samples []float64, sampleRate float64) (hz, confidence float64, ok bool) {
	n := len(samples)
	minLag := max(int(math.Floor(sampleRate/p.maxHz)), 1)
	maxLag := min(int(math.Ceil(sampleRate/p.minHz)), n-1)
	if maxLag-minLag < 2 {
		return 0, 0, false
	}

	energy := lagProduct(samples, 0)
	if energy <= 0 || math.IsNaN(energy) || math.IsInf(energy, 0) {
		return 0, 0, false
	}

	corr := make([]float64, maxLag-minLag+1)
	for i := range corr {
		corr[i] = lagProduct(samples, minLag+i)
	}

	best := -1
	for i := 1; i < len(corr)-1; i++ {
		if corr[i] > corr[i-1] && corr[i] >= corr[i+1] && (best < 0 || corr[i] > corr[best]) {
			best = i
		}
	}
	if best < 0 || corr[best] <= 0 {
		return 0, 0, false
	}

	lag := float64(minLag+best) + parabolicOffset(corr[best-1], corr[best], corr[best+1])
	return sampleRate / lag, corr[best] / energy, true
}

func (p PitchEstimator) peakBin(f audio.AudioFrame) (hz, confidence float64, ok bool) {
	mags := f.Magnitudes
	if len(mags) < 3 {
		return 0, 0, false
	}
	size := f.FrameSize
	if size <= 0 {
		size = 2 * (len(mags) - 1)
	}
	binWidth := float64(f.SampleRate) / float64(size)

	lo := max(int(math.Ceil(p.minHz/binWidth)), 1)
	hi := min(int(math.Floor(p.maxHz/binWidth)), len(mags)-1)
	if hi < lo {
		return 0, 0, false
	}

	var global float64
	for _, m := range mags {
		if math.IsNaN(m) || math.IsInf(m, 0) {
			return 0, 0, false
		}
		global = max(global, m)
	}

	peak := lo
	for i := lo + 1; i <= hi; i++ {
		if mags[i] > mags[peak] {
			peak = i
		}
	}
	if mags[peak] <= 0 {
		return 0, 0, false
	}

	var weighted, total float64
	for i := max(peak-1, 0); i <= min(peak+1, len(mags)-1); i++ {
		weighted += float64(i) * mags[i]
		total += mags[i]
	}
	return weighted / total * binWidth, mags[peak] / global, true
}

// lagProduct is the unnormalised autocorrelation of s at lag.
func lagProduct(s []float64, lag int) float64 {
	var sum float64
	for i := 0; i+lag < len(s); i++ {
		sum += s[i] * s[i+lag]
	}
	return sum
}

// parabolicOffset returns the sub-sample offset of the vertex of the parabola
// through (-1, a), (0, b), (1, c).
func parabolicOffset(a, b, c float64) float64 {
	denom := a - 2*b + c
	if denom == 0 {
		return 0
	}
	off := 0.5 * (a - c) / denom
	return max(-0.5, min(0.5, off))
}

// Voicing describes the pitch content of recent frames.
type Voicing uint8

const (
	// Unvoiced means the latest frame had no confident pitch.
	Unvoiced Voicing = iota

	// Steady means a full window of consecutive pitches agreed within
	// tolerance, as in a held hum.
	Steady

	// Varying means the latest frame was pitched but the recent pitches did
	// not form a steady tone, as in speech or singing.
	Varying
)

func (v Voicing) String() string {
	switch v {
	case Unvoiced:
		return "unvoiced"
	case Steady:
		return "steady"
	case Varying:
		return "varying"
	default:
		return "unknown"
	}
}

// pitchTracker keeps the last few pitch estimates to judge voicing.
type pitchTracker struct {
	window    *Ring[float64]
	tolerance float64
}

func newPitchTracker(cfg Config) *pitchTracker {
	return &pitchTracker{
		window:    NewRing[float64](cfg.PitchStabilityWindow),
		tolerance: cfg.PitchStabilityTolerance,
	}
}

// push records one frame; unpitched frames are stored as 0.
func (t *pitchTracker) push(hz float64, ok bool) {
	if !ok {
		hz = 0
	}
	t.window.Push(hz)
}

func (t *pitchTracker) voicing() Voicing {
	last, ok := t.window.Last()
	if !ok || last <= 0 {
		return Unvoiced
	}
	if !t.window.Full() {
		return Varying
	}
	values := t.window.Values()
	for _, v := range values {
		if v <= 0 {
			return Varying
		}
	}
	mean, std := stat.MeanStdDev(values, nil)
	if mean > 0 && std/mean <= t.tolerance {
		return Steady
	}
	return Varying
}

func (t *pitchTracker) reset() { t.window.Reset() }
