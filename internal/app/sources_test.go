package app_test

import (
	"context"
	"math"
	"os"
	"path/filepath"
	"testing"

	"github.com/MrWong99/vocalflow/internal/app"
	"github.com/MrWong99/vocalflow/internal/config"
	"github.com/MrWong99/vocalflow/pkg/audio"
	"github.com/MrWong99/vocalflow/pkg/audio/opus"
	"github.com/MrWong99/vocalflow/pkg/detector"
)

func createSource(t *testing.T, dc config.DetectorConfig) []audio.AudioFrame {
	t.Helper()
	cfg, err := dc.Resolve()
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	src, err := app.DefaultRegistry().CreateSource(dc, cfg)
	if err != nil {
		t.Fatalf("CreateSource: %v", err)
	}
	defer src.Close()
	frames, err := audio.ReadAll(context.Background(), src)
	if err != nil {
		t.Fatalf("ReadAll: %v", err)
	}
	return frames
}

// checkFrames asserts every frame matches the classifier's rate and size.
func checkFrames(t *testing.T, frames []audio.AudioFrame, rate, size int) {
	t.Helper()
	if len(frames) == 0 {
		t.Fatal("no frames")
	}
	for i, f := range frames {
		if f.SampleRate != rate || len(f.Samples) != size {
			t.Fatalf("frame %d: %d samples at %d Hz, want %d at %d Hz", i, len(f.Samples), f.SampleRate, size, rate)
		}
	}
}

func TestDefaultRegistry_Kinds(t *testing.T) {
	t.Parallel()
	kinds := app.DefaultRegistry().Kinds()
	if len(kinds) != 3 {
		t.Errorf("kinds = %v, want synthetic, pcm and opus", kinds)
	}
}

func TestSyntheticSource_PlaysCycles(t *testing.T) {
	t.Parallel()

	dc := detectorConfig("synth")
	dc.Source.Cycles = 2
	dc.Source.CycleMs = 1000
	frames := createSource(t, dc)

	// 2 s at 16 kHz is 31.25 frames of 1024; the partial frame is played.
	if len(frames) != 32 {
		t.Errorf("frames = %d, want 32", len(frames))
	}
	checkFrames(t, frames, 16000, 1024)
}

func TestSyntheticSource_Spectral(t *testing.T) {
	t.Parallel()

	dc := detectorConfig("spectral")
	dc.Source.Cycles = 1
	dc.Source.CycleMs = 500
	dc.Detector.Mode = detector.ModeSpectral
	frames := createSource(t, dc)

	for i, f := range frames {
		if len(f.Magnitudes) != 1024/2+1 {
			t.Fatalf("frame %d: %d bins, want %d", i, len(f.Magnitudes), 1024/2+1)
		}
	}
}

func TestPCMSource_ResamplesFile(t *testing.T) {
	t.Parallel()

	// Half a second of 48 kHz stereo, a 220 Hz tone on both channels.
	const rate = 48000
	samples := make([]float64, rate) // 24000 stereo pairs
	for i := 0; i < len(samples); i += 2 {
		v := 0.3 * math.Sin(2*math.Pi*220*float64(i/2)/rate)
		samples[i], samples[i+1] = v, v
	}
	path := filepath.Join(t.TempDir(), "tone.pcm")
	if err := os.WriteFile(path, audio.FloatToPCM16(samples), 0o644); err != nil {
		t.Fatal(err)
	}

	dc := detectorConfig("file")
	dc.Source = config.SourceConfig{Kind: config.SourcePCM, Path: path, SampleRate: rate, Channels: 2}
	frames := createSource(t, dc)

	// About 8000 output samples, give or take the filter delay.
	if len(frames) < 6 || len(frames) > 10 {
		t.Errorf("frames = %d, want about 8", len(frames))
	}
	checkFrames(t, frames, 16000, 1024)
}

func TestPCMSource_MissingFile(t *testing.T) {
	t.Parallel()

	dc := detectorConfig("missing")
	dc.Source = config.SourceConfig{Kind: config.SourcePCM, Path: filepath.Join(t.TempDir(), "nope.pcm"), SampleRate: 16000, Channels: 1}
	cfg, err := dc.Resolve()
	if err != nil {
		t.Fatal(err)
	}
	if _, err := app.DefaultRegistry().CreateSource(dc, cfg); err == nil {
		t.Error("expected an error for a missing file")
	}
}

func TestOpusSource_DecodesFile(t *testing.T) {
	t.Parallel()

	const rate, packet = 48000, 960
	path := filepath.Join(t.TempDir(), "tone.opus")
	f, err := os.Create(path)
	if err != nil {
		t.Fatal(err)
	}
	w, err := opus.NewWriter(f, audio.Format{SampleRate: rate, Channels: 1}, packet)
	if err != nil {
		t.Fatal(err)
	}
	for p := range 25 { // half a second
		pcm := make([]int16, packet)
		for i := range pcm {
			n := p*packet + i
			pcm[i] = int16(10000 * math.Sin(2*math.Pi*330*float64(n)/rate))
		}
		if err := w.WriteFrame(pcm); err != nil {
			t.Fatal(err)
		}
	}
	if err := f.Close(); err != nil {
		t.Fatal(err)
	}

	dc := detectorConfig("opus")
	dc.Source = config.SourceConfig{Kind: config.SourceOpus, Path: path, SampleRate: rate, Channels: 1}
	frames := createSource(t, dc)
	checkFrames(t, frames, 16000, 1024)
}
