package audio

import (
	"fmt"
	"log/slog"
	"math"
	"sync"
)

// Format describes the sample rate and channel count of an audio stream.
type Format struct {
	SampleRate int
	Channels   int
}

// String returns a human-readable form such as "48000Hz stereo".
func (f Format) String() string {
	return formatString(f.SampleRate, f.Channels)
}

// pcmScale is the divisor that maps int16 samples into [-1, 1).
const pcmScale = 32768.0

// PCM16ToFloat converts little-endian int16 mono PCM into normalised float
// samples. A trailing odd byte is ignored.
func PCM16ToFloat(pcm []byte) []float64 {
	out := make([]float64, len(pcm)/2)
	for i := range out {
		s := int16(pcm[i*2]) | int16(pcm[i*2+1])<<8
		out[i] = float64(s) / pcmScale
	}
	return out
}

// FloatToPCM16 converts float samples into little-endian int16 PCM, clamping
// values outside [-1, 1].
func FloatToPCM16(samples []float64) []byte {
	out := make([]byte, len(samples)*2)
	for i, v := range samples {
		s := clampInt16(v * pcmScale)
		out[i*2] = byte(s)
		out[i*2+1] = byte(s >> 8)
	}
	return out
}

// Downmix averages interleaved multi-channel float samples into mono. With
// channels <= 1 the input is returned unchanged.
func Downmix(samples []float64, channels int) []float64 {
	if channels <= 1 {
		return samples
	}
	frames := len(samples) / channels
	out := make([]float64, frames)
	for i := range frames {
		var sum float64
		for c := range channels {
			sum += samples[i*channels+c]
		}
		out[i] = sum / float64(channels)
	}
	return out
}

// StereoToMono averages L+R per stereo frame (4 bytes) to produce mono output.
// Uses int32 arithmetic to prevent overflow and clamps to int16 range.
func StereoToMono(pcm []byte) []byte {
	frames := len(pcm) / 4
	out := make([]byte, frames*2)
	for i := range frames {
		lSample := int32(int16(pcm[i*4]) | int16(pcm[i*4+1])<<8)
		rSample := int32(int16(pcm[i*4+2]) | int16(pcm[i*4+3])<<8)
		avg := (lSample + rSample) / 2

		if avg > math.MaxInt16 {
			avg = math.MaxInt16
		} else if avg < math.MinInt16 {
			avg = math.MinInt16
		}

		out[i*2] = byte(avg)
		out[i*2+1] = byte(avg >> 8)
	}
	return out
}

// FrameSanitizer replaces non-finite samples with silence and clips values
// outside [-1, 1]. It logs a warning the first time each problem is seen.
// Create one per stream; not designed for shared use across goroutines.
type FrameSanitizer struct {
	warnedNaN  sync.Once
	warnedClip sync.Once
}

// Sanitize returns a frame whose samples are finite and within [-1, 1]. The
// input frame is returned unchanged (zero allocation) when it is already clean.
func (s *FrameSanitizer) Sanitize(frame AudioFrame) AudioFrame {
	clean := true
	for _, v := range frame.Samples {
		if math.IsNaN(v) || math.IsInf(v, 0) || v > 1 || v < -1 {
			clean = false
			break
		}
	}
	if clean {
		return frame
	}

	out := make([]float64, len(frame.Samples))
	for i, v := range frame.Samples {
		switch {
		case math.IsNaN(v) || math.IsInf(v, 0):
			s.warnedNaN.Do(func() {
				slog.Warn("audio sanitizer: non-finite sample, replacing with silence",
					"sampleRate", frame.SampleRate,
					"frameSize", frame.FrameSize,
				)
			})
			out[i] = 0
		case v > 1 || v < -1:
			s.warnedClip.Do(func() {
				slog.Warn("audio sanitizer: sample out of range, clipping",
					"value", v,
					"sampleRate", frame.SampleRate,
				)
			})
			out[i] = math.Max(-1, math.Min(1, v))
		default:
			out[i] = v
		}
	}
	frame.Samples = out
	return frame
}

func clampInt16(v float64) int16 {
	if v > math.MaxInt16 {
		return math.MaxInt16
	}
	if v < math.MinInt16 {
		return math.MinInt16
	}
	return int16(v)
}

// formatString returns a human-readable string for a sample rate and channel count,
// e.g. "48000Hz stereo".
func formatString(rate, channels int) string {
	ch := "mono"
	if channels == 2 {
		ch = "stereo"
	} else if channels > 2 {
		ch = fmt.Sprintf("%dch", channels)
	}
	return fmt.Sprintf("%dHz %s", rate, ch)
}
