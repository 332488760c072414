// Package config provides the configuration schema, loader, watcher, and
// source registry for the vocalflow server.
package config

import (
	"fmt"
	"time"

	"github.com/MrWong99/vocalflow/pkg/detector"
)

// LogLevel controls log verbosity for the vocalflow server.
type LogLevel string

const (
	LogDebug LogLevel = "debug"
	LogInfo  LogLevel = "info"
	LogWarn  LogLevel = "warn"
	LogError LogLevel = "error"
)

// IsValid reports whether l is a recognised log level.
func (l LogLevel) IsValid() bool {
	switch l {
	case LogDebug, LogInfo, LogWarn, LogError:
		return true
	}
	return false
}

// Encoding selects the wire format of the live feed.
type Encoding string

const (
	EncodingMsgpack Encoding = "msgpack"
	EncodingJSON    Encoding = "json"
)

// IsValid reports whether e is a recognised feed encoding.
func (e Encoding) IsValid() bool {
	return e == EncodingMsgpack || e == EncodingJSON
}

// SourceKind selects where a detector's audio comes from.
type SourceKind string

const (
	// SourceSynthetic generates a scripted breathing envelope.
	SourceSynthetic SourceKind = "synthetic"

	// SourcePCM reads raw signed 16-bit little-endian PCM.
	SourcePCM SourceKind = "pcm"

	// SourceOpus reads length-prefixed Opus packets.
	SourceOpus SourceKind = "opus"
)

// IsValid reports whether k is a recognised source kind.
func (k SourceKind) IsValid() bool {
	switch k {
	case SourceSynthetic, SourcePCM, SourceOpus:
		return true
	}
	return false
}

// Config is the root configuration structure for vocalflow.
// It is typically loaded from a YAML file using [Load] or [LoadFromReader].
type Config struct {
	Server    ServerConfig     `yaml:"server"`
	Telemetry TelemetryConfig  `yaml:"telemetry"`
	Feed      FeedConfig       `yaml:"feed"`
	Detectors []DetectorConfig `yaml:"detectors"`
}

// ServerConfig holds network and logging settings.
type ServerConfig struct {
	// ListenAddr is the TCP address of the HTTP server (e.g., ":8090").
	// Empty disables the HTTP server.
	ListenAddr string `yaml:"listen_addr"`

	// LogLevel controls verbosity.
	LogLevel LogLevel `yaml:"log_level"`
}

// TelemetryConfig controls OpenTelemetry setup.
type TelemetryConfig struct {
	ServiceName string `yaml:"service_name"`

	// Metrics enables the Prometheus /metrics endpoint.
	Metrics bool `yaml:"metrics"`
}

// FeedConfig controls the websocket feed that streams snapshots and
// transitions to renderers.
type FeedConfig struct {
	Enabled  bool     `yaml:"enabled"`
	Path     string   `yaml:"path"`
	Encoding Encoding `yaml:"encoding"`

	// Every publishes one snapshot out of every N frames. Transitions are
	// always published.
	Every int `yaml:"every"`

	// Origins lists extra host patterns (e.g. "localhost:*") whose browser
	// pages may open the feed. Same-origin requests are always accepted.
	Origins []string `yaml:"origins"`
}

// DetectorConfig describes one named detector: its audio source, its label
// set, and its classifier settings.
type DetectorConfig struct {
	// Name identifies the detector in logs, metrics, and the feed.
	Name string `yaml:"name"`

	// Labels selects the label set used when reporting phases:
	// "breath", "vocal", or "phase" (the default).
	Labels string `yaml:"labels"`

	// Realtime paces the source at the frame rate instead of reading it
	// as fast as possible.
	Realtime bool `yaml:"realtime"`

	Source   SourceConfig     `yaml:"source"`
	Detector DetectorSettings `yaml:"detector"`
}

// SourceConfig describes a detector's audio input.
type SourceConfig struct {
	Kind SourceKind `yaml:"kind"`

	// Synthetic sources.
	Seed       uint64  `yaml:"seed"`
	CycleMs    int     `yaml:"cycle_ms"`
	Cycles     int     `yaml:"cycles"` // 0 loops forever
	Amplitude  float64 `yaml:"amplitude"`
	ToneHz     float64 `yaml:"tone_hz"`
	NoiseFloor float64 `yaml:"noise_floor"`
	LeadInMs   int     `yaml:"lead_in_ms"`

	// File sources. Path "-" reads standard input.
	Path       string `yaml:"path"`
	SampleRate int    `yaml:"sample_rate"`
	Channels   int    `yaml:"channels"`
}

// CycleDuration returns the synthetic breathing period, defaulting to 5s.
func (s SourceConfig) CycleDuration() time.Duration {
	if s.CycleMs <= 0 {
		return 5 * time.Second
	}
	return time.Duration(s.CycleMs) * time.Millisecond
}

// DetectorSettings overrides fields of [detector.DefaultConfig]. Zero values
// keep the default; fields whose zero is meaningful are pointers.
type DetectorSettings struct {
	SampleRate              int            `yaml:"sample_rate"`
	FrameSize               int            `yaml:"frame_size"`
	Mode                    detector.Mode  `yaml:"mode"`
	SampleWindowMs          *int           `yaml:"sample_window_ms"`
	SmoothingFactor         float64        `yaml:"smoothing_factor"`
	SensitivityMultiplier   float64        `yaml:"sensitivity_multiplier"`
	PitchRangeHz            detector.Range `yaml:"pitch_range_hz"`
	MinConfidence           *float64       `yaml:"min_confidence"`
	DebounceMs              *int           `yaml:"debounce_ms"`
	HistoryLength           int            `yaml:"history_length"`
	LowBandFraction         float64        `yaml:"low_band_fraction"`
	OffOffset               float64        `yaml:"off_offset"`
	OnOffset                float64        `yaml:"on_offset"`
	SustainOffset           float64        `yaml:"sustain_offset"`
	PrimaryPhase            string         `yaml:"primary_phase"`
	MinIntervalMs           int            `yaml:"min_interval_ms"`
	MaxIntervalMs           int            `yaml:"max_interval_ms"`
	IntervalWindow          int            `yaml:"interval_window"`
	StabilityWindow         int            `yaml:"stability_window"`
	StabilityScale          float64        `yaml:"stability_scale"`
	ResonantBandBPM         detector.Range `yaml:"resonant_band_bpm"`
	ResonantBoost           *float64       `yaml:"resonant_boost"`
	PitchStabilityWindow    int            `yaml:"pitch_stability_window"`
	PitchStabilityTolerance float64        `yaml:"pitch_stability_tolerance"`
}

// Resolve returns the classifier configuration for this detector. The
// sample rate falls back to the source's rate for file sources. The result
// is not validated; see [detector.Config.Validate].
func (d DetectorConfig) Resolve() (detector.Config, error) {
	cfg := detector.DefaultConfig()
	s := d.Detector

	switch {
	case s.SampleRate > 0:
		cfg.SampleRate = s.SampleRate
	case d.Source.Kind != SourceSynthetic && d.Source.SampleRate > 0:
		cfg.SampleRate = d.Source.SampleRate
	}
	setInt(&cfg.FrameSize, s.FrameSize)
	if s.Mode != "" {
		cfg.Mode = s.Mode
	}
	if s.SampleWindowMs != nil {
		cfg.SampleWindowMs = *s.SampleWindowMs
	}
	setFloat(&cfg.SmoothingFactor, s.SmoothingFactor)
	setFloat(&cfg.SensitivityMultiplier, s.SensitivityMultiplier)
	setRange(&cfg.PitchRangeHz, s.PitchRangeHz)
	if s.MinConfidence != nil {
		cfg.MinConfidence = *s.MinConfidence
	}
	if s.DebounceMs != nil {
		cfg.DebounceMs = *s.DebounceMs
	}
	setInt(&cfg.HistoryLength, s.HistoryLength)
	setFloat(&cfg.LowBandFraction, s.LowBandFraction)
	setFloat(&cfg.OffOffset, s.OffOffset)
	setFloat(&cfg.OnOffset, s.OnOffset)
	setFloat(&cfg.SustainOffset, s.SustainOffset)
	if s.PrimaryPhase != "" {
		p, err := detector.ParsePhase(s.PrimaryPhase)
		if err != nil {
			return cfg, fmt.Errorf("primary_phase: %w", err)
		}
		cfg.PrimaryPhase = p
	}
	setInt(&cfg.MinIntervalMs, s.MinIntervalMs)
	setInt(&cfg.MaxIntervalMs, s.MaxIntervalMs)
	setInt(&cfg.IntervalWindow, s.IntervalWindow)
	setInt(&cfg.StabilityWindow, s.StabilityWindow)
	setFloat(&cfg.StabilityScale, s.StabilityScale)
	setRange(&cfg.ResonantBandBPM, s.ResonantBandBPM)
	if s.ResonantBoost != nil {
		cfg.ResonantBoost = *s.ResonantBoost
	}
	setInt(&cfg.PitchStabilityWindow, s.PitchStabilityWindow)
	setFloat(&cfg.PitchStabilityTolerance, s.PitchStabilityTolerance)

	// A history shorter than the stability window is only ever the result of
	// overriding one without the other.
	if s.HistoryLength == 0 && cfg.HistoryLength < cfg.StabilityWindow {
		cfg.HistoryLength = cfg.StabilityWindow
	}
	return cfg, nil
}

func setInt(dst *int, v int) {
	if v != 0 {
		*dst = v
	}
}

func setFloat(dst *float64, v float64) {
	if v != 0 {
		*dst = v
	}
}

func setRange(dst *detector.Range, v detector.Range) {
	if v != (detector.Range{}) {
		*dst = v
	}
}
