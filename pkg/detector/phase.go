package detector

import (
	"fmt"
	"strings"
	"time"
)

// Phase is the confirmed activity state of the signal.
type Phase uint8

const (
	// Idle means the level is at or near the noise floor.
	Idle Phase = iota

	// Rising means the level has crossed the on threshold.
	Rising

	// Sustained means the level is held above the sustain threshold.
	Sustained

	// Falling means the level has dropped out of the sustained band but is
	// still above the off threshold.
	Falling
)

var phaseNames = [...]string{"idle", "rising", "sustained", "falling"}

// String returns the lower-case phase name.
func (p Phase) String() string {
	if int(p) < len(phaseNames) {
		return phaseNames[p]
	}
	return fmt.Sprintf("phase(%d)", uint8(p))
}

// IsValid reports whether p is one of the four defined phases.
func (p Phase) IsValid() bool { return int(p) < len(phaseNames) }

// IsActive reports whether p is anything other than [Idle].
func (p Phase) IsActive() bool { return p != Idle && p.IsValid() }

// ParsePhase parses a case-insensitive phase name.
func ParsePhase(s string) (Phase, error) {
	for i, name := range phaseNames {
		if strings.EqualFold(strings.TrimSpace(s), name) {
			return Phase(i), nil
		}
	}
	return Idle, fmt.Errorf("detector: unknown phase %q", s)
}

// MarshalText implements [encoding.TextMarshaler].
func (p Phase) MarshalText() ([]byte, error) {
	if !p.IsValid() {
		return nil, fmt.Errorf("detector: invalid phase %d", uint8(p))
	}
	return []byte(p.String()), nil
}

// UnmarshalText implements [encoding.TextUnmarshaler].
func (p *Phase) UnmarshalText(b []byte) error {
	v, err := ParsePhase(string(b))
	if err != nil {
		return err
	}
	*p = v
	return nil
}

// TransitionEvent records a confirmed phase change. Timestamp is session time:
// the number of frames processed times the frame duration.
type TransitionEvent struct {
	From      Phase
	To        Phase
	Timestamp time.Duration
}

func (e TransitionEvent) String() string {
	return fmt.Sprintf("%s→%s@%s", e.From, e.To, e.Timestamp)
}

// PhaseClassifier maps the smoothed level onto the four-state machine using
// hysteresis bands derived from a [CalibrationProfile], and debounces changes
// so a candidate phase must persist for the debounce window before it is
// confirmed.
//
// Candidate rules, with on > off and sustain > on:
//
//	Idle:      level ≥ on → Rising
//	any other: level < off → Idle
//	Rising:    level ≥ sustain → Sustained
//	Sustained: level < sustain − (on − off) → Falling
//	Falling:   level ≥ sustain → Sustained
//
// Until a complete profile is set the classifier stays [Idle].
type PhaseClassifier struct {
	debounce time.Duration
	profile  CalibrationProfile

	current    Phase
	pending    Phase
	pendingFor time.Duration
	hasPending bool
}

// NewPhaseClassifier returns a classifier confirming phases after debounce.
func NewPhaseClassifier(debounce time.Duration) *PhaseClassifier {
	return &PhaseClassifier{debounce: debounce}
}

// SetProfile installs the thresholds. Only a complete profile enables
// classification.
func (c *PhaseClassifier) SetProfile(p CalibrationProfile) {
	c.profile = p
}

// Current returns the confirmed phase.
func (c *PhaseClassifier) Current() Phase { return c.current }

// Candidate returns the phase the level would move to from the confirmed
// phase, before debouncing.
func (c *PhaseClassifier) Candidate(level float64) Phase {
	p := c.profile
	if !p.Complete {
		return Idle
	}
	if c.current == Idle {
		if level >= p.OnThreshold {
			return Rising
		}
		return Idle
	}
	if level < p.OffThreshold {
		return Idle
	}
	switch c.current {
	case Rising:
		if level >= p.SustainThreshold {
			return Sustained
		}
	case Sustained:
		if level < p.SustainThreshold-p.Hysteresis() {
			return Falling
		}
	case Falling:
		if level >= p.SustainThreshold {
			return Sustained
		}
	}
	return c.current
}

// Classify feeds one frame's smoothed level. frameDur is the time the frame
// represents and at is the session time at its end. At most one transition is
// confirmed per call.
func (c *PhaseClassifier) Classify(level float64, at, frameDur time.Duration) (TransitionEvent, bool) {
	cand := c.Candidate(level)
	if cand == c.current {
		c.hasPending = false
		c.pendingFor = 0
		return TransitionEvent{}, false
	}

	if c.hasPending && c.pending == cand {
		c.pendingFor += frameDur
	} else {
		c.pending = cand
		c.pendingFor = frameDur
		c.hasPending = true
	}

	if c.pendingFor < c.debounce {
		return TransitionEvent{}, false
	}

	ev := TransitionEvent{From: c.current, To: cand, Timestamp: at}
	c.current = cand
	c.hasPending = false
	c.pendingFor = 0
	return ev, true
}

// Reset returns to [Idle] and clears the profile.
func (c *PhaseClassifier) Reset() {
	*c = PhaseClassifier{debounce: c.debounce}
}
