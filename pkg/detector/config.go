package detector

import (
	"errors"
	"fmt"
	"time"

	"github.com/MrWong99/vocalflow/pkg/audio"
)

// ErrInvalidConfig is wrapped by every error returned from [Config.Validate]
// and therefore by [New]. Test with errors.Is.
var ErrInvalidConfig = errors.New("detector: invalid config")

// Mode selects how a frame is reduced to a level and a pitch.
type Mode string

const (
	// ModeTime reads AudioFrame.Samples: RMS level, autocorrelation pitch.
	ModeTime Mode = "time"

	// ModeSpectral reads AudioFrame.Magnitudes: low-band energy level,
	// peak-bin pitch.
	ModeSpectral Mode = "spectral"
)

// IsValid reports whether m is a recognised mode.
func (m Mode) IsValid() bool {
	return m == ModeTime || m == ModeSpectral
}

// Range is a closed numeric interval.
type Range struct {
	Min float64
	Max float64
}

// Contains reports whether v lies within [Min, Max].
func (r Range) Contains(v float64) bool {
	return v >= r.Min && v <= r.Max
}

// Config holds the parameters of a classifier session. It is supplied at
// construction and never changes for the lifetime of the session; to
// reconfigure, build a new [Session].
//
// Level thresholds are additive offsets over the calibrated noise floor and
// are meant to be tuned per deployment. [DefaultConfig] returns a reasonable
// starting point for desktop microphones.
type Config struct {
	// SampleRate of incoming frames in Hz.
	SampleRate int

	// FrameSize is the number of samples each frame represents. Together with
	// SampleRate it defines the session clock: every Update advances time by
	// FrameSize/SampleRate.
	FrameSize int

	// Mode selects time-domain or frequency-domain analysis.
	Mode Mode

	// SampleWindowMs is the length of the calibration window.
	SampleWindowMs int

	// SmoothingFactor is the EMA weight of the newest level, in (0, 1].
	// Higher is more reactive and less smooth; 1 disables smoothing.
	SmoothingFactor float64

	// SensitivityMultiplier scales raw levels to compensate for microphone
	// gain differences between devices.
	SensitivityMultiplier float64

	// PitchRangeHz bounds the fundamental frequency search.
	PitchRangeHz Range

	// MinConfidence is the minimum normalised autocorrelation (time mode) or
	// relative peak magnitude (spectral mode) for a pitch to be accepted.
	MinConfidence float64

	// DebounceMs is how long a new phase must persist before it is confirmed.
	DebounceMs int

	// HistoryLength is the capacity of the smoothed-level history.
	HistoryLength int

	// LowBandFraction is the share of the lowest frequency bins summed by the
	// spectral level extractor, where breath energy concentrates.
	LowBandFraction float64

	// OffOffset, OnOffset and SustainOffset are added to the calibrated
	// baseline to obtain the off, on and sustain thresholds. They must satisfy
	// 0 < OffOffset < OnOffset < SustainOffset.
	OffOffset     float64
	OnOffset      float64
	SustainOffset float64

	// PrimaryPhase is the phase whose onset marks the start of a cycle (for
	// breathing, the inhale).
	PrimaryPhase Phase

	// MinIntervalMs and MaxIntervalMs bound plausible cycle lengths; intervals
	// outside are treated as missed or spurious detections and not counted.
	MinIntervalMs int
	MaxIntervalMs int

	// IntervalWindow is how many recent cycle intervals feed rate and coherence.
	IntervalWindow int

	// StabilityWindow is how many recent smoothed levels feed stability.
	StabilityWindow int

	// StabilityScale converts mean second-difference jitter into a penalty.
	StabilityScale float64

	// ResonantBandBPM is the breathing-rate band that earns ResonantBoost
	// coherence points.
	ResonantBandBPM Range
	ResonantBoost   float64

	// PitchStabilityWindow is how many consecutive pitch estimates must agree
	// for a steady (hummed) tone.
	PitchStabilityWindow int

	// PitchStabilityTolerance is the maximum coefficient of variation of those
	// estimates for the tone to count as steady.
	PitchStabilityTolerance float64
}

// DefaultConfig returns the default configuration: 44.1 kHz time-domain
// frames of 2048 samples, a two second calibration window and breathing
// oriented regularity bounds.
func DefaultConfig() Config {
	return Config{
		SampleRate:              44100,
		FrameSize:               2048,
		Mode:                    ModeTime,
		SampleWindowMs:          2000,
		SmoothingFactor:         0.35,
		SensitivityMultiplier:   1,
		PitchRangeHz:            Range{Min: 80, Max: 1000},
		MinConfidence:           0.5,
		DebounceMs:              120,
		HistoryLength:           64,
		LowBandFraction:         0.35,
		OffOffset:               0.01,
		OnOffset:                0.02,
		SustainOffset:           0.08,
		PrimaryPhase:            Rising,
		MinIntervalMs:           1000,
		MaxIntervalMs:           15000,
		IntervalWindow:          10,
		StabilityWindow:         30,
		StabilityScale:          20,
		ResonantBandBPM:         Range{Min: 4.5, Max: 7.5},
		ResonantBoost:           10,
		PitchStabilityWindow:    6,
		PitchStabilityTolerance: 0.03,
	}
}

// FrameDuration is the session clock increment per frame.
func (c Config) FrameDuration() time.Duration {
	return audio.FrameDuration(c.FrameSize, c.SampleRate)
}

// Debounce returns DebounceMs as a duration.
func (c Config) Debounce() time.Duration {
	return time.Duration(c.DebounceMs) * time.Millisecond
}

// Validate checks that c is coherent. It returns a joined error listing every
// violation; each one wraps [ErrInvalidConfig].
func (c Config) Validate() error {
	var errs []error
	bad := func(format string, args ...any) {
		errs = append(errs, fmt.Errorf("%w: "+format, append([]any{ErrInvalidConfig}, args...)...))
	}

	if c.SampleRate <= 0 {
		bad("sample_rate %d must be positive", c.SampleRate)
	}
	if c.FrameSize <= 0 {
		bad("frame_size %d must be positive", c.FrameSize)
	}
	if !c.Mode.IsValid() {
		bad("mode %q is invalid; valid values: time, spectral", c.Mode)
	}
	if c.SampleWindowMs < 0 {
		bad("sample_window_ms %d must not be negative", c.SampleWindowMs)
	}
	if c.SmoothingFactor <= 0 || c.SmoothingFactor > 1 {
		bad("smoothing_factor %.3f is out of range (0, 1]", c.SmoothingFactor)
	}
	if c.SensitivityMultiplier <= 0 {
		bad("sensitivity_multiplier %.3f must be positive", c.SensitivityMultiplier)
	}
	if c.PitchRangeHz.Min <= 0 || c.PitchRangeHz.Max <= c.PitchRangeHz.Min {
		bad("pitch_range_hz [%.1f, %.1f] is empty", c.PitchRangeHz.Min, c.PitchRangeHz.Max)
	} else if c.SampleRate > 0 && c.PitchRangeHz.Max > float64(c.SampleRate)/2 {
		bad("pitch_range_hz max %.1f exceeds the Nyquist frequency %.1f", c.PitchRangeHz.Max, float64(c.SampleRate)/2)
	}
	if c.MinConfidence < 0 || c.MinConfidence > 1 {
		bad("min_confidence %.3f is out of range [0, 1]", c.MinConfidence)
	}
	if c.DebounceMs < 0 {
		bad("debounce_ms %d must not be negative", c.DebounceMs)
	}
	if c.StabilityWindow < 3 {
		bad("stability_window %d must be at least 3", c.StabilityWindow)
	}
	if c.HistoryLength < c.StabilityWindow {
		bad("history_length %d must be at least stability_window %d", c.HistoryLength, c.StabilityWindow)
	}
	if c.LowBandFraction <= 0 || c.LowBandFraction > 1 {
		bad("low_band_fraction %.3f is out of range (0, 1]", c.LowBandFraction)
	}
	if c.OffOffset <= 0 {
		bad("off_offset %.4f must be positive", c.OffOffset)
	}
	if c.OnOffset <= c.OffOffset {
		bad("on_offset %.4f must exceed off_offset %.4f (on threshold must be above off threshold)", c.OnOffset, c.OffOffset)
	}
	if c.SustainOffset <= c.OnOffset {
		bad("sustain_offset %.4f must exceed on_offset %.4f", c.SustainOffset, c.OnOffset)
	}
	if !c.PrimaryPhase.IsValid() || c.PrimaryPhase == Idle {
		bad("primary_phase %q must be one of rising, sustained, falling", c.PrimaryPhase)
	}
	if c.MinIntervalMs <= 0 || c.MaxIntervalMs <= c.MinIntervalMs {
		bad("interval bounds [%d, %d] ms are empty", c.MinIntervalMs, c.MaxIntervalMs)
	}
	if c.IntervalWindow < 3 {
		bad("interval_window %d must be at least 3", c.IntervalWindow)
	}
	if c.StabilityScale <= 0 {
		bad("stability_scale %.3f must be positive", c.StabilityScale)
	}
	if c.ResonantBandBPM.Min < 0 || c.ResonantBandBPM.Max < c.ResonantBandBPM.Min {
		bad("resonant_band_bpm [%.2f, %.2f] is invalid", c.ResonantBandBPM.Min, c.ResonantBandBPM.Max)
	}
	if c.ResonantBoost < 0 {
		bad("resonant_boost %.2f must not be negative", c.ResonantBoost)
	}
	if c.PitchStabilityWindow < 2 {
		bad("pitch_stability_window %d must be at least 2", c.PitchStabilityWindow)
	}
	if c.PitchStabilityTolerance <= 0 {
		bad("pitch_stability_tolerance %.4f must be positive", c.PitchStabilityTolerance)
	}
	if c.SampleRate > 0 && c.FrameSize > 0 && c.FrameDuration() <= 0 {
		bad("frame_size %d at %d Hz is shorter than a nanosecond", c.FrameSize, c.SampleRate)
	}

	return errors.Join(errs...)
}
