package app

import (
	"fmt"
	"io"
	"os"
	"time"

	"github.com/MrWong99/vocalflow/internal/config"
	"github.com/MrWong99/vocalflow/pkg/audio"
	"github.com/MrWong99/vocalflow/pkg/audio/opus"
	"github.com/MrWong99/vocalflow/pkg/audio/resample"
	"github.com/MrWong99/vocalflow/pkg/audio/spectrum"
	"github.com/MrWong99/vocalflow/pkg/audio/synth"
	"github.com/MrWong99/vocalflow/pkg/detector"
)

// defaultAmplitude is the peak envelope of a synthetic source when the
// config leaves it unset.
const defaultAmplitude = 0.3

// DefaultRegistry returns a registry with the built-in source kinds.
func DefaultRegistry() *config.Registry {
	r := config.NewRegistry()
	r.RegisterSource(config.SourceSynthetic, newSyntheticSource)
	r.RegisterSource(config.SourcePCM, newPCMSource)
	r.RegisterSource(config.SourceOpus, newOpusSource)
	return r
}

func newSyntheticSource(sc config.SourceConfig, cfg detector.Config) (audio.Source, error) {
	amp := sc.Amplitude
	if amp == 0 {
		amp = defaultAmplitude
	}
	cycle := synth.BreathCycle(sc.CycleDuration(), amp)
	script := cycle
	if sc.Cycles > 1 {
		script = make(synth.Script, 0, len(cycle)*sc.Cycles)
		for range sc.Cycles {
			script = append(script, cycle...)
		}
	}
	src, err := synth.New(synth.Config{
		SampleRate: cfg.SampleRate,
		FrameSize:  cfg.FrameSize,
		Seed:       sc.Seed,
		Script:     script,
		Loop:       sc.Cycles == 0,
		ToneHz:     sc.ToneHz,
		NoiseFloor: sc.NoiseFloor,
		LeadIn:     time.Duration(sc.LeadInMs) * time.Millisecond,
	})
	if err != nil {
		return nil, err
	}
	return toMode(src, cfg)
}

func newPCMSource(sc config.SourceConfig, cfg detector.Config) (audio.Source, error) {
	r, err := openInput(sc.Path)
	if err != nil {
		return nil, err
	}
	format := audio.Format{SampleRate: sc.SampleRate, Channels: sc.Channels}
	src, err := audio.NewPCMSource(r, format, upstreamFrame(sc.SampleRate, cfg))
	if err != nil {
		r.Close()
		return nil, err
	}
	return adapt(src, cfg)
}

func newOpusSource(sc config.SourceConfig, cfg detector.Config) (audio.Source, error) {
	r, err := openInput(sc.Path)
	if err != nil {
		return nil, err
	}
	format := audio.Format{SampleRate: sc.SampleRate, Channels: sc.Channels}
	src, err := opus.NewSource(r, format, upstreamFrame(sc.SampleRate, cfg))
	if err != nil {
		r.Close()
		return nil, err
	}
	return adapt(src, cfg)
}

// openInput opens path for reading; "-" is standard input, which is never
// closed by the source.
func openInput(path string) (io.ReadCloser, error) {
	if path == "-" {
		return io.NopCloser(os.Stdin), nil
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open %q: %w", path, err)
	}
	return f, nil
}

// upstreamFrame picks the decoder frame size so that one upstream frame
// covers about the same time as one classifier frame.
func upstreamFrame(inRate int, cfg detector.Config) int {
	if inRate == cfg.SampleRate {
		return cfg.FrameSize
	}
	return max(1, cfg.FrameSize*inRate/cfg.SampleRate)
}

// adapt resamples src to the classifier's rate and frame size when they
// differ, then converts to the classifier's mode.
func adapt(src audio.Source, cfg detector.Config) (audio.Source, error) {
	if src.Format().SampleRate != cfg.SampleRate {
		rs, err := resample.NewSource(src, cfg.SampleRate, cfg.FrameSize)
		if err != nil {
			src.Close()
			return nil, err
		}
		src = rs
	}
	return toMode(src, cfg)
}

// toMode adds magnitude spectra for spectral classifiers.
func toMode(src audio.Source, cfg detector.Config) (audio.Source, error) {
	if cfg.Mode != detector.ModeSpectral {
		return src, nil
	}
	sp, err := spectrum.NewSource(src, cfg.FrameSize)
	if err != nil {
		src.Close()
		return nil, err
	}
	return sp, nil
}
