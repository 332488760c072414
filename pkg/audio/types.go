// Package audio defines the frame type and source interface that feed the
// signal classifier, plus helpers for turning little-endian int16 PCM into
// normalised float frames.
//
// The primary abstraction is [Source]: anything that can hand out successive
// fixed-size [AudioFrame] values, be it a capture device adapter, a decoded
// file, or a deterministic synthetic generator used when no microphone is
// available. Concrete sources live in sub-packages (audio/synth, audio/opus)
// or are built from an [io.Reader] with [NewPCMSource].
package audio

import (
	"context"
	"time"
)

// AudioFrame is one tick's worth of audio handed to a classifier session.
// Frames are produced once per tick by a [Source], consumed by the session and
// then discarded; consumers must not retain or mutate them.
type AudioFrame struct {
	// Samples holds time-domain amplitudes in [-1, 1]. Empty for frames that
	// carry only frequency magnitudes.
	Samples []float64

	// Magnitudes holds frequency-bin magnitudes in [0, 1], lowest bin first.
	// Empty for time-domain frames.
	Magnitudes []float64

	// SampleRate in Hz of the signal the frame was taken from.
	SampleRate int

	// FrameSize is the number of time-domain samples the frame represents.
	// For magnitude frames this is the FFT length the bins were computed from.
	FrameSize int

	// Timestamp marks when this frame was captured, relative to stream start.
	Timestamp time.Duration
}

// Duration returns the wall-clock span covered by the frame, derived from
// FrameSize and SampleRate. Returns 0 when either is unset.
func (f AudioFrame) Duration() time.Duration {
	return FrameDuration(f.FrameSize, f.SampleRate)
}

// FrameDuration returns the duration of frameSize samples at sampleRate.
func FrameDuration(frameSize, sampleRate int) time.Duration {
	if frameSize <= 0 || sampleRate <= 0 {
		return 0
	}
	return time.Duration(int64(frameSize) * int64(time.Second) / int64(sampleRate))
}

// Source supplies successive audio frames at a fixed sample rate and frame size.
//
// Next blocks until the next frame is available, the context is cancelled, or
// the source is exhausted. An exhausted source returns [io.EOF]. A Source is
// owned by a single consumer and need not be safe for concurrent use.
type Source interface {
	// Next returns the next frame.
	Next(ctx context.Context) (AudioFrame, error)

	// Format reports the sample rate and channel count of emitted frames.
	// Frames are always mono; Channels reports the layout of the underlying
	// input before downmixing.
	Format() Format

	// Close releases resources held by the source. Calling Close more than
	// once is safe.
	Close() error
}
