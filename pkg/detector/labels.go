package detector

import (
	"fmt"
	"strings"
)

// Labels renames the four phases for a particular use-case. The state
// machine is the same; only the presentation differs.
type Labels struct {
	Kind  string
	Names [4]string
}

var (
	// PhaseLabels are the generic phase names.
	PhaseLabels = Labels{Kind: "phase", Names: phaseNames}

	// BreathLabels present phases as breathing stages.
	BreathLabels = Labels{Kind: "breath", Names: [4]string{"neutral", "inhale", "hold", "exhale"}}
)

// Name returns the label for p.
func (l Labels) Name(p Phase) string {
	if !p.IsValid() {
		return p.String()
	}
	return l.Names[p]
}

// LabelsFor returns the label set called kind. "vocal" resolves to
// [PhaseLabels] for phases; use [ClassifyVocal] for the vocal class itself.
func LabelsFor(kind string) (Labels, error) {
	switch strings.ToLower(strings.TrimSpace(kind)) {
	case "", "phase", "vocal":
		return PhaseLabels, nil
	case "breath":
		return BreathLabels, nil
	default:
		return Labels{}, fmt.Errorf("detector: unknown label set %q; valid values: phase, breath, vocal", kind)
	}
}

// VocalClass is the silence/breath/hum/voice reading of a snapshot.
type VocalClass uint8

const (
	Silence VocalClass = iota
	Breath
	Hum
	Voice
)

func (v VocalClass) String() string {
	switch v {
	case Silence:
		return "silence"
	case Breath:
		return "breath"
	case Hum:
		return "hum"
	case Voice:
		return "voice"
	default:
		return fmt.Sprintf("vocal(%d)", uint8(v))
	}
}

// ClassifyVocal combines phase and voicing: an idle phase is silence; active
// unpitched sound is breath; active sound with a steady pitch is a hum; any
// other pitched sound is voice.
func ClassifyVocal(s Snapshot) VocalClass {
	if !s.Phase.IsActive() {
		return Silence
	}
	switch s.Voicing {
	case Steady:
		return Hum
	case Varying:
		return Voice
	default:
		return Breath
	}
}
