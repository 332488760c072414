package config

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"slices"
	"strings"

	"github.com/MrWong99/vocalflow/pkg/detector"
	"gopkg.in/yaml.v3"
)

// Defaults applied by [ApplyDefaults] to fields left empty in the file.
const (
	DefaultListenAddr  = ":8090"
	DefaultServiceName = "vocalflow"
	DefaultFeedPath    = "/feed"
)

// opusRates lists the sample rates an Opus decoder can produce.
var opusRates = []int{8000, 12000, 16000, 24000, 48000}

// Load reads the YAML configuration file at path and returns a validated [Config].
// It is a convenience wrapper around [LoadFromReader] and [Validate].
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("config: open %q: %w", path, err)
	}
	defer f.Close()

	cfg, err := LoadFromReader(f)
	if err != nil {
		return nil, fmt.Errorf("config: parse %q: %w", path, err)
	}
	return cfg, nil
}

// LoadFromReader decodes a YAML config from r, fills in defaults, and
// validates the result. Unknown fields are rejected.
func LoadFromReader(r io.Reader) (*Config, error) {
	cfg := &Config{}
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("config: decode yaml: %w", err)
	}
	ApplyDefaults(cfg)
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// ApplyDefaults fills empty top-level settings in place. Detector settings
// are defaulted later by [DetectorConfig.Resolve].
func ApplyDefaults(cfg *Config) {
	if cfg.Server.LogLevel == "" {
		cfg.Server.LogLevel = LogInfo
	}
	if cfg.Telemetry.ServiceName == "" {
		cfg.Telemetry.ServiceName = DefaultServiceName
	}
	if cfg.Feed.Path == "" {
		cfg.Feed.Path = DefaultFeedPath
	}
	if cfg.Feed.Encoding == "" {
		cfg.Feed.Encoding = EncodingMsgpack
	}
	if cfg.Feed.Every == 0 {
		cfg.Feed.Every = 1
	}
	for i := range cfg.Detectors {
		d := &cfg.Detectors[i]
		if d.Source.Kind == "" {
			d.Source.Kind = SourceSynthetic
		}
		if d.Source.Channels == 0 {
			d.Source.Channels = 1
		}
	}
}

// Validate checks that cfg contains a coherent set of values.
// It returns a joined error listing all validation failures found.
func Validate(cfg *Config) error {
	var errs []error

	// Server
	if cfg.Server.LogLevel != "" && !cfg.Server.LogLevel.IsValid() {
		errs = append(errs, fmt.Errorf("server.log_level %q is invalid; valid values: debug, info, warn, error", cfg.Server.LogLevel))
	}

	// Feed
	if cfg.Feed.Encoding != "" && !cfg.Feed.Encoding.IsValid() {
		errs = append(errs, fmt.Errorf("feed.encoding %q is invalid; valid values: msgpack, json", cfg.Feed.Encoding))
	}
	if cfg.Feed.Path != "" && !strings.HasPrefix(cfg.Feed.Path, "/") {
		errs = append(errs, fmt.Errorf("feed.path %q must start with /", cfg.Feed.Path))
	}
	if cfg.Feed.Every < 0 {
		errs = append(errs, fmt.Errorf("feed.every %d must not be negative", cfg.Feed.Every))
	}
	if cfg.Feed.Enabled && cfg.Server.ListenAddr == "" {
		slog.Warn("feed.enabled is set but server.listen_addr is empty; the feed will not be served")
	}
	if cfg.Telemetry.Metrics && cfg.Server.ListenAddr == "" {
		slog.Warn("telemetry.metrics is set but server.listen_addr is empty; /metrics will not be served")
	}

	if len(cfg.Detectors) == 0 {
		slog.Warn("no detectors configured")
	}

	namesSeen := make(map[string]int, len(cfg.Detectors))
	stdinUsers := 0

	for i, d := range cfg.Detectors {
		prefix := fmt.Sprintf("detectors[%d]", i)
		if d.Name == "" {
			errs = append(errs, fmt.Errorf("%s.name is required", prefix))
		} else {
			if prev, ok := namesSeen[d.Name]; ok {
				errs = append(errs, fmt.Errorf("%s.name %q is a duplicate of detectors[%d]", prefix, d.Name, prev))
			}
			namesSeen[d.Name] = i
		}
		if _, err := detector.LabelsFor(d.Labels); err != nil {
			errs = append(errs, fmt.Errorf("%s.labels: %w", prefix, err))
		}
		errs = append(errs, validateSource(prefix+".source", d.Source)...)
		if d.Source.Path == "-" {
			stdinUsers++
		}

		dc, err := d.Resolve()
		if err != nil {
			errs = append(errs, fmt.Errorf("%s.detector.%w", prefix, err))
			continue
		}
		if err := dc.Validate(); err != nil {
			errs = append(errs, fmt.Errorf("%s.detector: %w", prefix, err))
		}
		if d.Source.Kind == SourceSynthetic && !d.Realtime && d.Source.Cycles == 0 {
			slog.Warn("looping synthetic source without realtime pacing will spin at full speed", "detector", d.Name)
		}
	}
	if stdinUsers > 1 {
		errs = append(errs, fmt.Errorf("only one detector may read standard input, found %d", stdinUsers))
	}

	return errors.Join(errs...)
}

func validateSource(prefix string, s SourceConfig) []error {
	var errs []error
	if !s.Kind.IsValid() {
		errs = append(errs, fmt.Errorf("%s.kind %q is invalid; valid values: synthetic, pcm, opus", prefix, s.Kind))
		return errs
	}
	if s.Channels < 1 {
		errs = append(errs, fmt.Errorf("%s.channels %d must be at least 1", prefix, s.Channels))
	}
	switch s.Kind {
	case SourceSynthetic:
		if s.CycleMs < 0 {
			errs = append(errs, fmt.Errorf("%s.cycle_ms %d must not be negative", prefix, s.CycleMs))
		}
		if s.Cycles < 0 {
			errs = append(errs, fmt.Errorf("%s.cycles %d must not be negative", prefix, s.Cycles))
		}
		if s.Amplitude < 0 || s.Amplitude > 1 {
			errs = append(errs, fmt.Errorf("%s.amplitude %.3f is out of range [0, 1]", prefix, s.Amplitude))
		}
		if s.NoiseFloor < 0 || s.NoiseFloor > 1 {
			errs = append(errs, fmt.Errorf("%s.noise_floor %.3f is out of range [0, 1]", prefix, s.NoiseFloor))
		}
		if s.ToneHz < 0 {
			errs = append(errs, fmt.Errorf("%s.tone_hz %.1f must not be negative", prefix, s.ToneHz))
		}
		if s.LeadInMs < 0 {
			errs = append(errs, fmt.Errorf("%s.lead_in_ms %d must not be negative", prefix, s.LeadInMs))
		}
	case SourcePCM, SourceOpus:
		if s.Path == "" {
			errs = append(errs, fmt.Errorf("%s.path is required for kind %q", prefix, s.Kind))
		}
		if s.SampleRate <= 0 {
			errs = append(errs, fmt.Errorf("%s.sample_rate is required for kind %q", prefix, s.Kind))
		} else if s.Kind == SourceOpus && !slices.Contains(opusRates, s.SampleRate) {
			errs = append(errs, fmt.Errorf("%s.sample_rate %d is not supported by opus; valid values: %v", prefix, s.SampleRate, opusRates))
		}
	}
	return errs
}
