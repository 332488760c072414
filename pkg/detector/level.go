package detector

import (
	"math"

	"github.com/MrWong99/vocalflow/pkg/audio"
)

// LevelExtractor reduces a frame to a single non-negative loudness scalar.
//
// In [ModeTime] the level is the RMS of the samples. In [ModeSpectral] it is
// the RMS of the signal restricted to the lowest LowBandFraction of bins,
// where breath energy concentrates, recovered from the magnitudes with
// Parseval's theorem. A signal lying entirely inside the band therefore gets
// the same level in both modes, so one set of thresholds serves either. Both
// are scaled by SensitivityMultiplier. Empty or non-finite input yields 0.
type LevelExtractor struct {
	mode        Mode
	sensitivity float64
	lowBand     float64
}

// NewLevelExtractor returns an extractor for cfg.
func NewLevelExtractor(cfg Config) LevelExtractor {
	return LevelExtractor{
		mode:        cfg.Mode,
		sensitivity: cfg.SensitivityMultiplier,
		lowBand:     cfg.LowBandFraction,
	}
}

// Extract returns the level of f.
func (e LevelExtractor) Extract(f audio.AudioFrame) float64 {
	var level float64
	switch e.mode {
	case ModeSpectral:
		level = BandRMS(f.Magnitudes, e.lowBand)
	default:
		level = RMS(f.Samples)
	}
	level *= e.sensitivity
	if math.IsNaN(level) || math.IsInf(level, 0) || level < 0 {
		return 0
	}
	return level
}

// RMS returns the root-mean-square of samples, or 0 when samples is empty or
// contains a non-finite value.
func RMS(samples []float64) float64 {
	if len(samples) == 0 {
		return 0
	}
	var sum float64
	for _, s := range samples {
		if math.IsNaN(s) || math.IsInf(s, 0) {
			return 0
		}
		sum += s * s
	}
	return math.Sqrt(sum / float64(len(samples)))
}

// hannNoiseBandwidth is the equivalent noise bandwidth, in bins, of the Hann
// window applied before the transform.
const hannNoiseBandwidth = 1.5

// BandRMS returns the RMS of the signal carried by the first
// ceil(len(mags)*fraction) bins of a one-sided spectrum. mags must be
// Hann-windowed magnitudes normalised so that a unit sine peaks at 1 in its
// bin, as produced by the spectrum package. Non-finite input yields 0.
func BandRMS(mags []float64, fraction float64) float64 {
	if len(mags) == 0 || fraction <= 0 {
		return 0
	}
	k := int(math.Ceil(float64(len(mags)) * fraction))
	k = min(max(k, 1), len(mags))
	last := len(mags) - 1
	var power float64
	for i, m := range mags[:k] {
		if math.IsNaN(m) || math.IsInf(m, 0) {
			return 0
		}
		// DC and Nyquist have no mirror image in the one-sided spectrum.
		weight := 2.0
		if i == 0 || i == last {
			weight = 1
		}
		power += weight * m * m
	}
	return math.Sqrt(power / (4 * hannNoiseBandwidth))
}
