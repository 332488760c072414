package feed

import (
	"encoding/json"
	"fmt"

	"github.com/coder/websocket"
	"github.com/vmihailenco/msgpack/v5"

	"github.com/MrWong99/vocalflow/pkg/detector"
)

// Message types.
const (
	TypeSnapshot   = "snapshot"
	TypeTransition = "transition"
	TypeCalibrated = "calibrated"
)

// Message is the wire form of everything the feed publishes. Phases are
// sent as label names so that renderers never depend on enum values.
type Message struct {
	Type     string `json:"type" msgpack:"type"`
	Detector string `json:"detector" msgpack:"detector"`

	// TimestampMs is session time in milliseconds.
	TimestampMs int64 `json:"t_ms" msgpack:"t_ms"`

	// Snapshot fields.
	Frame       uint64  `json:"frame,omitempty" msgpack:"frame,omitempty"`
	Raw         float64 `json:"raw,omitempty" msgpack:"raw,omitempty"`
	Level       float64 `json:"level,omitempty" msgpack:"level,omitempty"`
	PitchHz     float64 `json:"pitch_hz,omitempty" msgpack:"pitch_hz,omitempty"`
	Voicing     string  `json:"voicing,omitempty" msgpack:"voicing,omitempty"`
	Vocal       string  `json:"vocal,omitempty" msgpack:"vocal,omitempty"`
	Phase       string  `json:"phase,omitempty" msgpack:"phase,omitempty"`
	Rate        float64 `json:"rate" msgpack:"rate"`
	Coherence   float64 `json:"coherence" msgpack:"coherence"`
	Stability   float64 `json:"stability" msgpack:"stability"`
	Calibrating bool    `json:"calibrating,omitempty" msgpack:"calibrating,omitempty"`

	// Transition fields.
	From string `json:"from,omitempty" msgpack:"from,omitempty"`
	To   string `json:"to,omitempty" msgpack:"to,omitempty"`

	// Calibration fields.
	Baseline float64 `json:"baseline,omitempty" msgpack:"baseline,omitempty"`
	On       float64 `json:"on,omitempty" msgpack:"on,omitempty"`
	Off      float64 `json:"off,omitempty" msgpack:"off,omitempty"`
	Sustain  float64 `json:"sustain,omitempty" msgpack:"sustain,omitempty"`
}

// SnapshotMessage converts a classifier snapshot.
func SnapshotMessage(name string, labels detector.Labels, s detector.Snapshot) Message {
	m := Message{
		Type:        TypeSnapshot,
		Detector:    name,
		TimestampMs: s.Timestamp.Milliseconds(),
		Frame:       s.Frame,
		Raw:         s.RawLevel,
		Level:       s.SmoothedLevel,
		Voicing:     s.Voicing.String(),
		Vocal:       detector.ClassifyVocal(s).String(),
		Phase:       labels.Name(s.Phase),
		Rate:        s.RateEventsPerMinute,
		Coherence:   s.Coherence,
		Stability:   s.Stability,
		Calibrating: s.IsCalibrating,
	}
	if s.HasPitch {
		m.PitchHz = s.PitchHz
	}
	return m
}

// TransitionMessage converts a confirmed phase transition.
func TransitionMessage(name string, labels detector.Labels, ev detector.TransitionEvent) Message {
	return Message{
		Type:        TypeTransition,
		Detector:    name,
		TimestampMs: ev.Timestamp.Milliseconds(),
		From:        labels.Name(ev.From),
		To:          labels.Name(ev.To),
	}
}

// CalibratedMessage announces a finished calibration window.
func CalibratedMessage(name string, s detector.Snapshot, p detector.CalibrationProfile) Message {
	return Message{
		Type:        TypeCalibrated,
		Detector:    name,
		TimestampMs: s.Timestamp.Milliseconds(),
		Frame:       s.Frame,
		Baseline:    p.Baseline,
		On:          p.OnThreshold,
		Off:         p.OffThreshold,
		Sustain:     p.SustainThreshold,
	}
}

// Codec encodes messages for one websocket message type.
type Codec struct {
	Name    string
	Type    websocket.MessageType
	Marshal func(any) ([]byte, error)
	Decode  func([]byte, any) error
}

var (
	// MsgpackCodec sends binary msgpack frames.
	MsgpackCodec = Codec{Name: "msgpack", Type: websocket.MessageBinary, Marshal: msgpack.Marshal, Decode: msgpack.Unmarshal}

	// JSONCodec sends text JSON frames.
	JSONCodec = Codec{Name: "json", Type: websocket.MessageText, Marshal: json.Marshal, Decode: json.Unmarshal}
)

// CodecFor returns the codec called name.
func CodecFor(name string) (Codec, error) {
	switch name {
	case "", MsgpackCodec.Name:
		return MsgpackCodec, nil
	case JSONCodec.Name:
		return JSONCodec, nil
	}
	return Codec{}, fmt.Errorf("feed: unknown encoding %q", name)
}
