// Package synth provides a deterministic synthetic [audio.Source].
//
// The generator stands in for a microphone when capture is unavailable and
// drives tests and demos. It shapes a carrier (seeded white noise for breath,
// or a sine tone for hums) with an amplitude envelope described by a
// [Script], and adds a constant noise floor. The same [Config] always
// produces the same frame sequence.
package synth

import (
	"context"
	"errors"
	"fmt"
	"io"
	"math"
	"math/rand/v2"
	"sync"
	"time"

	"github.com/MrWong99/vocalflow/pkg/audio"
)

// ErrClosed is returned by Next after Close.
var ErrClosed = errors.New("synth: source closed")

// Segment ramps the envelope linearly from its previous value to Target over
// Duration. A zero Duration jumps straight to Target.
type Segment struct {
	Duration time.Duration
	Target   float64
}

// Script is a finite, ordered list of envelope segments. The envelope starts
// at 0.
type Script []Segment

// Duration returns the total length of the script.
func (s Script) Duration() time.Duration {
	var d time.Duration
	for _, seg := range s {
		d += seg.Duration
	}
	return d
}

// At returns the envelope value at offset t from the start of the script.
// Offsets past the end hold the final target.
func (s Script) At(t time.Duration) float64 {
	var from float64
	for _, seg := range s {
		if t < seg.Duration {
			frac := float64(t) / float64(seg.Duration)
			return from + (seg.Target-from)*frac
		}
		t -= seg.Duration
		from = seg.Target
	}
	return from
}

// BreathCycle returns one breath of the given period peaking at amplitude:
// a 35% inhale ramp, a 15% hold, a 35% exhale ramp and a 15% rest.
func BreathCycle(period time.Duration, amplitude float64) Script {
	part := func(pct int64) time.Duration { return time.Duration(int64(period) * pct / 100) }
	return Script{
		{Duration: part(35), Target: amplitude},
		{Duration: part(15), Target: amplitude},
		{Duration: part(35), Target: 0},
		{Duration: period - part(35) - part(15) - part(35), Target: 0},
	}
}

// Hold returns a script that ramps to amplitude over rise, holds it for hold,
// and releases over the same rise time.
func Hold(rise, hold time.Duration, amplitude float64) Script {
	return Script{
		{Duration: rise, Target: amplitude},
		{Duration: hold, Target: amplitude},
		{Duration: rise, Target: 0},
	}
}

// Config configures a generator.
type Config struct {
	SampleRate int
	FrameSize  int

	// Seed makes the noise reproducible.
	Seed uint64

	// Script is the envelope. An empty script yields only the noise floor.
	Script Script

	// Loop repeats the script forever. Without Loop the source returns io.EOF
	// once the script has played. A script of zero total duration holds its
	// final target and never ends.
	Loop bool

	// ToneHz, when positive, replaces the noise carrier by a sine tone.
	ToneHz float64

	// NoiseFloor is the amplitude of noise added regardless of the envelope.
	NoiseFloor float64

	// LeadIn is a stretch of noise floor played before the script starts,
	// giving a classifier a quiet window to calibrate on.
	LeadIn time.Duration
}

// Source generates frames on demand. Next never blocks; pacing to real time
// is the caller's concern.
type Source struct {
	cfg      Config
	rng      *rand.Rand
	frameDur time.Duration
	length   time.Duration

	mu      sync.Mutex
	emitted int64
	closed  bool
}

// New returns a generator for cfg.
func New(cfg Config) (*Source, error) {
	if cfg.SampleRate <= 0 {
		return nil, fmt.Errorf("synth: sample rate must be positive, got %d", cfg.SampleRate)
	}
	if cfg.FrameSize <= 0 {
		return nil, fmt.Errorf("synth: frame size must be positive, got %d", cfg.FrameSize)
	}
	if cfg.ToneHz >= float64(cfg.SampleRate)/2 {
		return nil, fmt.Errorf("synth: tone %.1f Hz is above the Nyquist frequency", cfg.ToneHz)
	}
	return &Source{
		cfg:      cfg,
		rng:      rand.New(rand.NewPCG(cfg.Seed, cfg.Seed^0x9e3779b97f4a7c15)),
		frameDur: audio.FrameDuration(cfg.FrameSize, cfg.SampleRate),
		length:   cfg.Script.Duration(),
	}, nil
}

// Next implements [audio.Source].
func (s *Source) Next(ctx context.Context) (audio.AudioFrame, error) {
	if err := ctx.Err(); err != nil {
		return audio.AudioFrame{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return audio.AudioFrame{}, ErrClosed
	}

	start := s.emitted * int64(s.cfg.FrameSize)
	ts := audio.FrameDuration(int(start), s.cfg.SampleRate)
	if !s.cfg.Loop && s.length > 0 && ts >= s.cfg.LeadIn+s.length {
		return audio.AudioFrame{}, io.EOF
	}

	samples := make([]float64, s.cfg.FrameSize)
	rate := float64(s.cfg.SampleRate)
	for i := range samples {
		n := start + int64(i)
		t := time.Duration(float64(n) / rate * float64(time.Second))
		env := s.envelope(t)

		var carrier float64
		if s.cfg.ToneHz > 0 {
			carrier = math.Sin(2 * math.Pi * s.cfg.ToneHz * float64(n) / rate)
		} else {
			carrier = s.noise()
		}
		v := env*carrier + s.cfg.NoiseFloor*s.noise()
		samples[i] = max(-1, min(1, v))
	}
	s.emitted++

	return audio.AudioFrame{
		Samples:    samples,
		SampleRate: s.cfg.SampleRate,
		FrameSize:  s.cfg.FrameSize,
		Timestamp:  ts,
	}, nil
}

func (s *Source) envelope(t time.Duration) float64 {
	if t < s.cfg.LeadIn {
		return 0
	}
	t -= s.cfg.LeadIn
	if s.cfg.Loop && s.length > 0 {
		t %= s.length
	}
	return s.cfg.Script.At(t)
}

// noise returns uniform noise in [-1, 1).
func (s *Source) noise() float64 {
	return s.rng.Float64()*2 - 1
}

// Format implements [audio.Source].
func (s *Source) Format() audio.Format {
	return audio.Format{SampleRate: s.cfg.SampleRate, Channels: 1}
}

// Close implements [audio.Source].
func (s *Source) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

// FrameDuration returns the time each frame represents.
func (s *Source) FrameDuration() time.Duration { return s.frameDur }

var _ audio.Source = (*Source)(nil)
