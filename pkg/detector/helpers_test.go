package detector

import (
	"math"

	"github.com/MrWong99/vocalflow/pkg/audio"
)

// testConfig returns 10 ms frames at 48 kHz with calibration, smoothing and
// debounce disabled.
func testConfig() Config {
	cfg := DefaultConfig()
	cfg.SampleRate = 48000
	cfg.FrameSize = 480
	cfg.SampleWindowMs = 0
	cfg.SmoothingFactor = 1
	cfg.DebounceMs = 0
	return cfg
}

// dcFrame returns a frame whose samples all equal level, so its RMS is level.
func dcFrame(level float64, size, rate int) audio.AudioFrame {
	s := make([]float64, size)
	for i := range s {
		s[i] = level
	}
	return audio.AudioFrame{Samples: s, SampleRate: rate, FrameSize: size}
}

func sineFrame(hz, amp float64, size, rate int) audio.AudioFrame {
	s := make([]float64, size)
	for i := range s {
		s[i] = amp * math.Sin(2*math.Pi*hz*float64(i)/float64(rate))
	}
	return audio.AudioFrame{Samples: s, SampleRate: rate, FrameSize: size}
}

// noiseFrame returns deterministic uniform noise in [-amp, amp].
func noiseFrame(seed uint64, amp float64, size, rate int) audio.AudioFrame {
	s := make([]float64, size)
	x := seed
	for i := range s {
		x = x*6364136223846793005 + 1442695040888963407
		s[i] = amp * (float64(x>>11)/float64(1<<53)*2 - 1)
	}
	return audio.AudioFrame{Samples: s, SampleRate: rate, FrameSize: size}
}

func approx(a, b, tol float64) bool { return math.Abs(a-b) <= tol }
