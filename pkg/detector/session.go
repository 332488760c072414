package detector

import (
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/MrWong99/vocalflow/pkg/audio"
)

// Snapshot is the classifier output for one frame. It is a value; later
// updates never change a snapshot already returned.
type Snapshot struct {
	// Frame is the 1-based index of the frame this snapshot describes.
	Frame uint64

	// Timestamp is session time at the end of the frame.
	Timestamp time.Duration

	RawLevel      float64
	SmoothedLevel float64

	// PitchHz is only meaningful when HasPitch is set.
	PitchHz  float64
	HasPitch bool
	Voicing  Voicing

	Phase Phase

	RateEventsPerMinute float64
	Coherence           float64
	Stability           float64

	// IsCalibrating is set while the noise floor is still being measured.
	// Phase is always Idle in that case.
	IsCalibrating bool
}

// Session is one classifier instance. It owns its calibrator, classifier and
// scorer and is not safe for concurrent use.
type Session struct {
	id       string
	cfg      Config
	frameDur time.Duration
	alpha    float64

	levels  LevelExtractor
	calib   *Calibrator
	pitch   PitchEstimator
	voicing *pitchTracker
	phases  *PhaseClassifier
	scorer  *RegularityScorer

	sanitizer audio.FrameSanitizer

	smoothed float64
	clock    time.Duration
	frames   uint64
	pending  []TransitionEvent
}

// New validates cfg and returns a session. Invalid configuration is reported
// as an error wrapping [ErrInvalidConfig].
func New(cfg Config) (*Session, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	s := &Session{
		id:       uuid.NewString(),
		cfg:      cfg,
		frameDur: cfg.FrameDuration(),
		alpha:    cfg.SmoothingFactor,
		levels:   NewLevelExtractor(cfg),
		calib:    NewCalibrator(cfg),
		pitch:    NewPitchEstimator(cfg),
		voicing:  newPitchTracker(cfg),
		phases:   NewPhaseClassifier(cfg.Debounce()),
		scorer:   NewRegularityScorer(cfg),
	}
	return s, nil
}

// ID returns the session's unique identifier.
func (s *Session) ID() string { return s.id }

// Config returns the configuration the session was built with.
func (s *Session) Config() Config { return s.cfg }

// Profile returns the calibration profile. Complete is unset while
// calibrating.
func (s *Session) Profile() CalibrationProfile { return s.calib.Profile() }

// Calibrated reports whether calibration has finished.
func (s *Session) Calibrated() bool { return s.calib.Profile().Complete }

// Frames returns the number of frames processed since construction or the
// last Reset.
func (s *Session) Frames() uint64 { return s.frames }

// Update processes one frame and returns its snapshot. Any confirmed
// transition is queued for [Session.Events]. Malformed frames are sanitised
// rather than rejected, so Update never fails.
func (s *Session) Update(f audio.AudioFrame) Snapshot {
	f = s.sanitizer.Sanitize(f)
	if f.SampleRate <= 0 {
		f.SampleRate = s.cfg.SampleRate
	}
	if f.FrameSize <= 0 {
		f.FrameSize = s.cfg.FrameSize
	}

	s.frames++
	s.clock += s.frameDur

	raw := s.levels.Extract(f)
	s.smoothed += s.alpha * (raw - s.smoothed)

	snap := Snapshot{
		Frame:         s.frames,
		Timestamp:     s.clock,
		RawLevel:      raw,
		SmoothedLevel: s.smoothed,
	}

	if !s.Calibrated() {
		observed := false
		if !s.calib.Complete() {
			s.calib.observeLevel(raw)
			observed = true
		}
		if s.calib.Complete() {
			s.freeze()
		}
		// The frame that closes the window still belongs to calibration. A
		// zero-length window closes before any frame is observed.
		if observed {
			snap.Phase = Idle
			snap.Coherence = NeutralScore
			snap.Stability = NeutralScore
			snap.IsCalibrating = true
			return snap
		}
	}

	profile := s.calib.Profile()
	hz, ok := s.pitch.estimateAt(f, raw, profile.OffThreshold)
	s.voicing.push(hz, ok)
	snap.PitchHz, snap.HasPitch = hz, ok
	snap.Voicing = s.voicing.voicing()

	if ev, ok := s.phases.Classify(s.smoothed, s.clock, s.frameDur); ok {
		s.pending = append(s.pending, ev)
		s.scorer.OnTransition(ev)
		slog.Debug("phase transition",
			"session_id", s.id,
			"from", ev.From.String(),
			"to", ev.To.String(),
			"at", ev.Timestamp,
		)
	}
	s.scorer.OnLevel(s.smoothed)

	reg := s.scorer.Snapshot()
	snap.Phase = s.phases.Current()
	snap.RateEventsPerMinute = reg.RateEventsPerMinute
	snap.Coherence = reg.Coherence
	snap.Stability = reg.Stability
	return snap
}

func (s *Session) freeze() {
	p := s.calib.Finalize()
	s.phases.SetProfile(p)
	slog.Debug("calibration complete",
		"session_id", s.id,
		"profile", p.String(),
	)
}

// Events returns the transitions confirmed since the previous call, in
// order, and clears the queue.
func (s *Session) Events() []TransitionEvent {
	if len(s.pending) == 0 {
		return nil
	}
	out := s.pending
	s.pending = nil
	return out
}

// Regularity returns the current regularity scores without processing a
// frame.
func (s *Session) Regularity() Regularity { return s.scorer.Snapshot() }

// Reset returns the session to its freshly constructed state, including
// recalibration. The ID is kept.
func (s *Session) Reset() {
	s.calib.Reset()
	s.phases.Reset()
	s.scorer.Reset()
	s.voicing.reset()
	s.smoothed = 0
	s.clock = 0
	s.frames = 0
	s.pending = nil
}
