// Package energy implements a [vad.Engine] on top of the streaming signal
// classifier in pkg/detector.
//
// Each session runs a [detector.Session] over incoming PCM frames. Activity
// starts when the classifier confirms a transition out of Idle and ends when
// it confirms the return to Idle. Thresholds are RMS offsets above the noise
// floor measured during the session's calibration window.
package energy

import (
	"errors"
	"fmt"
	"sync"

	"github.com/MrWong99/vocalflow/pkg/audio"
	"github.com/MrWong99/vocalflow/pkg/detector"
	"github.com/MrWong99/vocalflow/pkg/provider/vad"
)

// ErrClosed is returned by ProcessFrame after Close.
var ErrClosed = errors.New("energy: session closed")

// Engine creates energy-based VAD sessions. The zero value uses
// [detector.DefaultConfig] as the base configuration.
type Engine struct {
	// Base supplies every classifier parameter that vad.Config does not
	// override. A zero SampleRate selects detector.DefaultConfig.
	Base detector.Config
}

// New returns an engine with the given base configuration.
func New(base detector.Config) *Engine {
	return &Engine{Base: base}
}

// NewSession implements [vad.Engine]. SpeechThreshold and SilenceThreshold,
// when set, replace the on and off offsets of the base configuration; the
// sustain offset is raised if needed to stay above the on offset. An invalid
// result is reported wrapping [detector.ErrInvalidConfig].
func (e *Engine) NewSession(cfg vad.Config) (vad.SessionHandle, error) {
	dc, err := e.detectorConfig(cfg)
	if err != nil {
		return nil, err
	}
	sess, err := detector.New(dc)
	if err != nil {
		return nil, fmt.Errorf("energy: new session: %w", err)
	}
	return &Session{sess: sess, frameBytes: dc.FrameSize * 2}, nil
}

func (e *Engine) detectorConfig(cfg vad.Config) (detector.Config, error) {
	dc := e.Base
	if dc.SampleRate == 0 {
		dc = detector.DefaultConfig()
	}
	if cfg.SampleRate <= 0 || cfg.FrameSizeMs <= 0 {
		return dc, fmt.Errorf("energy: %w: sample rate %d and frame size %d ms must be positive",
			detector.ErrInvalidConfig, cfg.SampleRate, cfg.FrameSizeMs)
	}
	dc.SampleRate = cfg.SampleRate
	dc.FrameSize = cfg.FrameSamples()
	if cfg.SpeechThreshold > 0 {
		dc.OnOffset = cfg.SpeechThreshold
		dc.SustainOffset = max(dc.SustainOffset, 2*cfg.SpeechThreshold)
	}
	if cfg.SilenceThreshold > 0 {
		dc.OffOffset = cfg.SilenceThreshold
	}
	// The base pitch range may not fit a low sample rate.
	if nyquist := float64(dc.SampleRate) / 2; dc.PitchRangeHz.Max > nyquist {
		dc.PitchRangeHz.Max = nyquist
	}
	return dc, nil
}

// Session is a [vad.SessionHandle] backed by a classifier session.
type Session struct {
	mu         sync.Mutex
	sess       *detector.Session
	frameBytes int
	active     bool
	closed     bool
}

// ProcessFrame implements [vad.SessionHandle].
func (s *Session) ProcessFrame(frame []byte) (vad.VADEvent, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return vad.VADEvent{}, ErrClosed
	}
	if len(frame) != s.frameBytes {
		return vad.VADEvent{}, fmt.Errorf("energy: frame is %d bytes, want %d", len(frame), s.frameBytes)
	}

	cfg := s.sess.Config()
	snap := s.sess.Update(audio.AudioFrame{
		Samples:    audio.PCM16ToFloat(frame),
		SampleRate: cfg.SampleRate,
		FrameSize:  cfg.FrameSize,
	})
	s.sess.Events()

	ev := vad.VADEvent{Probability: s.probability(snap.SmoothedLevel)}
	nowActive := snap.Phase.IsActive()
	switch {
	case nowActive && !s.active:
		ev.Type = vad.VADSpeechStart
	case nowActive:
		ev.Type = vad.VADSpeechContinue
	case s.active:
		ev.Type = vad.VADSpeechEnd
	default:
		ev.Type = vad.VADSilence
	}
	s.active = nowActive
	return ev, nil
}

// probability maps the smoothed level onto [0, 1] between the off and
// sustain thresholds.
func (s *Session) probability(level float64) float64 {
	p := s.sess.Profile()
	if !p.Complete || p.SustainThreshold <= p.OffThreshold {
		return 0
	}
	v := (level - p.OffThreshold) / (p.SustainThreshold - p.OffThreshold)
	return max(0, min(1, v))
}

// Reset implements [vad.SessionHandle]. The session recalibrates.
func (s *Session) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sess.Reset()
	s.active = false
}

// Close implements [vad.SessionHandle].
func (s *Session) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

var (
	_ vad.Engine        = (*Engine)(nil)
	_ vad.SessionHandle = (*Session)(nil)
)
