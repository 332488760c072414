package detector

import (
	"fmt"
	"slices"
	"time"

	"gonum.org/v1/gonum/stat"

	"github.com/MrWong99/vocalflow/pkg/audio"
)

const (
	// baselinePercentile of calibration levels is taken as the noise floor.
	baselinePercentile = 0.75

	// peakPercentile of calibration levels is reported as the loudest
	// sustained ambient level.
	peakPercentile = 0.90
)

// CalibrationProfile is the noise-floor estimate and the derived thresholds.
// Once Complete is set the profile is frozen for the life of the session.
type CalibrationProfile struct {
	Baseline float64
	Peak     float64

	OnThreshold      float64
	OffThreshold     float64
	SustainThreshold float64

	// Frames is how many frames contributed.
	Frames int

	Complete bool
}

// Hysteresis is the gap between the on and off thresholds.
func (p CalibrationProfile) Hysteresis() float64 {
	return p.OnThreshold - p.OffThreshold
}

func (p CalibrationProfile) String() string {
	return fmt.Sprintf("baseline=%.4f peak=%.4f on=%.4f off=%.4f sustain=%.4f frames=%d",
		p.Baseline, p.Peak, p.OnThreshold, p.OffThreshold, p.SustainThreshold, p.Frames)
}

// Calibrator accumulates levels over an initial time window and derives a
// [CalibrationProfile] from them. Calibration completes when the accumulated
// frame time reaches Config.SampleWindowMs, regardless of what was observed.
type Calibrator struct {
	window   time.Duration
	frameDur time.Duration
	offsets  [3]float64 // off, on, sustain
	levels   LevelExtractor

	elapsed time.Duration
	samples []float64
	profile CalibrationProfile
}

// NewCalibrator returns a calibrator for cfg.
func NewCalibrator(cfg Config) *Calibrator {
	c := &Calibrator{
		window:   time.Duration(cfg.SampleWindowMs) * time.Millisecond,
		frameDur: cfg.FrameDuration(),
		offsets:  [3]float64{cfg.OffOffset, cfg.OnOffset, cfg.SustainOffset},
		levels:   NewLevelExtractor(cfg),
	}
	if c.frameDur > 0 {
		c.samples = make([]float64, 0, int(c.window/c.frameDur)+1)
	}
	return c
}

// Observe records the level of f. Frames observed after completion are
// ignored.
func (c *Calibrator) Observe(f audio.AudioFrame) {
	c.observeLevel(c.levels.Extract(f))
}

func (c *Calibrator) observeLevel(level float64) {
	if c.Complete() {
		return
	}
	c.samples = append(c.samples, level)
	c.elapsed += c.frameDur
}

// Complete reports whether the calibration window has elapsed.
func (c *Calibrator) Complete() bool {
	return c.profile.Complete || c.elapsed >= c.window
}

// Elapsed returns the accumulated frame time.
func (c *Calibrator) Elapsed() time.Duration { return c.elapsed }

// Finalize freezes and returns the profile. It may be called before the window
// has elapsed to force completion. With no observed frames the baseline is 0
// and each threshold equals its offset.
func (c *Calibrator) Finalize() CalibrationProfile {
	if c.profile.Complete {
		return c.profile
	}

	var baseline, peak float64
	if len(c.samples) > 0 {
		sorted := slices.Clone(c.samples)
		slices.Sort(sorted)
		baseline = stat.Quantile(baselinePercentile, stat.Empirical, sorted, nil)
		peak = stat.Quantile(peakPercentile, stat.Empirical, sorted, nil)
	}

	c.profile = CalibrationProfile{
		Baseline:         baseline,
		Peak:             peak,
		OffThreshold:     baseline + c.offsets[0],
		OnThreshold:      baseline + c.offsets[1],
		SustainThreshold: baseline + c.offsets[2],
		Frames:           len(c.samples),
		Complete:         true,
	}
	c.samples = c.samples[:0]
	return c.profile
}

// Profile returns the current profile. Before Finalize it is the zero value
// with Complete unset.
func (c *Calibrator) Profile() CalibrationProfile { return c.profile }

// Reset discards all observations and the frozen profile.
func (c *Calibrator) Reset() {
	c.elapsed = 0
	c.samples = c.samples[:0]
	c.profile = CalibrationProfile{}
}
