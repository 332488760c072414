// Package vad defines the Engine interface for voice activity detection
// backends.
//
// A VAD engine wraps a frame-level activity detector and surfaces it as a
// stateful, per-stream session operating on raw little-endian int16 PCM. Each
// session keeps its own state (calibration, smoothing, debounce) so that
// multiple audio streams can be processed independently.
//
// VAD is synchronous: ProcessFrame returns immediately with a detection
// result, which makes it suitable for gating stages of an audio pipeline.
//
// Implementations must be safe for concurrent use across different sessions.
// A single SessionHandle should not be shared across goroutines unless the
// implementation explicitly documents thread safety for that type.
package vad

// Config holds the parameters for a VAD session. Thresholds are expressed in
// the engine's native scale; see each Engine's documentation.
type Config struct {
	// SampleRate is the audio sample rate in Hz. Must match the rate of the PCM
	// frames passed to ProcessFrame.
	SampleRate int

	// FrameSizeMs is the duration of each audio frame in milliseconds.
	// ProcessFrame returns an error if the supplied frame does not match this
	// size.
	FrameSizeMs int

	// SpeechThreshold is the level above which a frame counts as activity.
	SpeechThreshold float64

	// SilenceThreshold is the level below which an active segment ends. Must
	// be below SpeechThreshold.
	SilenceThreshold float64
}

// FrameSamples returns the number of mono samples in one frame.
func (c Config) FrameSamples() int {
	return c.SampleRate * c.FrameSizeMs / 1000
}

// SessionHandle represents an active VAD session for a single audio stream.
// It is an interface so that test code can supply mock implementations
// without a live engine.
type SessionHandle interface {
	// ProcessFrame analyses a single audio frame and returns the detection
	// result. The frame must be raw little-endian int16 mono PCM at the
	// SampleRate and FrameSizeMs configured when the session was created.
	ProcessFrame(frame []byte) (VADEvent, error)

	// Reset clears all accumulated detection state without closing the
	// session.
	Reset()

	// Close releases all resources associated with the session. After Close,
	// ProcessFrame returns an error. Calling Close more than once is safe.
	Close() error
}

// Engine is the factory for VAD sessions.
//
// Implementations must be safe for concurrent use: multiple goroutines may
// call NewSession simultaneously to create independent sessions.
type Engine interface {
	// NewSession creates a new VAD session with the given configuration.
	// Returns an error if the configuration is invalid.
	NewSession(cfg Config) (SessionHandle, error)
}
