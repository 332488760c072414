package resample_test

import (
	"context"
	"math"
	"testing"

	"github.com/MrWong99/vocalflow/pkg/audio"
	"github.com/MrWong99/vocalflow/pkg/audio/mock"
	"github.com/MrWong99/vocalflow/pkg/audio/resample"
)

func toneFrames(rate, size, count int, hz, amp float64) []audio.AudioFrame {
	frames := make([]audio.AudioFrame, count)
	for f := range frames {
		s := make([]float64, size)
		for i := range s {
			n := f*size + i
			s[i] = amp * math.Sin(2*math.Pi*hz*float64(n)/float64(rate))
		}
		frames[f] = audio.AudioFrame{Samples: s, SampleRate: rate, FrameSize: size}
	}
	return frames
}

func TestSource_DownsampleLengthRatio(t *testing.T) {
	// One second at 48 kHz in 10 ms frames.
	upstream := &mock.Source{
		Frames:       toneFrames(48000, 480, 100, 440, 0.5),
		FormatResult: audio.Format{SampleRate: 48000, Channels: 1},
	}
	src, err := resample.NewSource(upstream, 16000, 320)
	if err != nil {
		t.Fatalf("NewSource: %v", err)
	}

	frames, err := audio.ReadAll(context.Background(), src)
	if err != nil {
		t.Fatalf("ReadAll: %v", err)
	}
	total := len(frames) * 320
	// Allow for filter delay held back inside the resampler.
	if total < 14000 || total > 16320 {
		t.Errorf("output samples = %d, want about 16000", total)
	}
	for i, f := range frames {
		if f.SampleRate != 16000 || len(f.Samples) != 320 {
			t.Fatalf("frame %d: rate=%d len=%d", i, f.SampleRate, len(f.Samples))
		}
	}
	if got := src.Format().SampleRate; got != 16000 {
		t.Errorf("Format().SampleRate = %d, want 16000", got)
	}
}

func TestSource_PassthroughReframes(t *testing.T) {
	upstream := &mock.Source{
		Frames:       toneFrames(16000, 100, 5, 200, 0.5),
		FormatResult: audio.Format{SampleRate: 16000, Channels: 1},
	}
	src, err := resample.NewSource(upstream, 16000, 256)
	if err != nil {
		t.Fatalf("NewSource: %v", err)
	}
	frames, err := audio.ReadAll(context.Background(), src)
	if err != nil {
		t.Fatalf("ReadAll: %v", err)
	}
	// 500 samples: one full frame plus a padded tail.
	if len(frames) != 2 {
		t.Fatalf("frames = %d, want 2", len(frames))
	}
	want := toneFrames(16000, 100, 5, 200, 0.5)
	if frames[0].Samples[150] != want[1].Samples[50] {
		t.Error("passthrough altered sample values")
	}
	if frames[1].Samples[255] != 0 {
		t.Error("tail not zero-padded")
	}
}

func TestNewSource_Invalid(t *testing.T) {
	upstream := &mock.Source{FormatResult: audio.Format{SampleRate: 0}}
	if _, err := resample.NewSource(upstream, 16000, 320); err == nil {
		t.Error("expected error for unknown upstream rate")
	}
	upstream.FormatResult.SampleRate = 48000
	if _, err := resample.NewSource(upstream, 0, 320); err == nil {
		t.Error("expected error for zero target rate")
	}
}
