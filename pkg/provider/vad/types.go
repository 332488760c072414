package vad

// VADEvent is the detection result for one frame.
type VADEvent struct {
	Type VADEventType

	// Probability is the frame's activity score in [0, 1].
	Probability float64
}

// VADEventType is the per-frame activity state reported by a session.
type VADEventType int

const (
	VADSpeechStart    VADEventType = iota // activity confirmed on this frame
	VADSpeechContinue                     // still active
	VADSpeechEnd                          // activity ended on this frame
	VADSilence                            // idle
)

var eventNames = [...]string{"speech_start", "speech_continue", "speech_end", "silence"}

func (t VADEventType) String() string {
	if t < 0 || int(t) >= len(eventNames) {
		return "unknown"
	}
	return eventNames[t]
}

// Active reports whether the frame belongs to an activity span. The end frame
// does not.
func (t VADEventType) Active() bool {
	return t == VADSpeechStart || t == VADSpeechContinue
}
