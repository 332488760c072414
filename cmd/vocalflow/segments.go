package main

import (
	"fmt"
	"io"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/MrWong99/vocalflow/pkg/audio"
	"github.com/MrWong99/vocalflow/pkg/provider/vad"
	"github.com/MrWong99/vocalflow/pkg/provider/vad/energy"
)

func newSegmentsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "segments FILE",
		Short: "List the active spans of a raw PCM recording",
		Long: `segments runs a signed 16-bit little-endian PCM recording through the
energy voice activity detector and prints one line per active span. Pass
"-" to read from standard input. Stereo input is downmixed.`,
		Args: cobra.ExactArgs(1),
		RunE: runSegments,
	}
	cmd.Flags().Int("sample-rate", 16000, "sample rate of the recording in Hz")
	cmd.Flags().Int("channels", 1, "channel count of the recording (1 or 2)")
	cmd.Flags().Int("frame-ms", 20, "analysis frame length in milliseconds")
	cmd.Flags().Float64("speech-threshold", 0, "RMS above the noise floor that starts a span (0 keeps the default)")
	cmd.Flags().Float64("silence-threshold", 0, "RMS above the noise floor that ends a span (0 keeps the default)")
	return cmd
}

func runSegments(cmd *cobra.Command, args []string) error {
	rate, _ := cmd.Flags().GetInt("sample-rate")
	channels, _ := cmd.Flags().GetInt("channels")
	frameMs, _ := cmd.Flags().GetInt("frame-ms")
	speech, _ := cmd.Flags().GetFloat64("speech-threshold")
	silence, _ := cmd.Flags().GetFloat64("silence-threshold")

	if rate <= 0 {
		return fmt.Errorf("sample rate %d must be positive", rate)
	}
	pcm, err := readInput(cmd, args[0])
	if err != nil {
		return err
	}
	switch channels {
	case 1:
	case 2:
		pcm = audio.StereoToMono(pcm)
	default:
		return fmt.Errorf("unsupported channel count %d", channels)
	}

	cfg := vad.Config{SampleRate: rate, FrameSizeMs: frameMs, SpeechThreshold: speech, SilenceThreshold: silence}
	h, err := new(energy.Engine).NewSession(cfg)
	if err != nil {
		return err
	}
	defer h.Close()

	segs, err := vad.Segments(h, pcm, cfg.FrameSamples()*2, time.Duration(frameMs)*time.Millisecond)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	for _, s := range segs {
		fmt.Fprintf(out, "%10s  %10s  %s\n", formatOffset(s.Start), formatOffset(s.End), valueStyle.Render((s.End - s.Start).String()))
	}
	length := time.Duration(len(pcm)/2) * time.Second / time.Duration(rate)
	fmt.Fprintln(out, row("Spans", len(segs)))
	fmt.Fprintln(out, row("Length", formatOffset(length)))
	return nil
}

func readInput(cmd *cobra.Command, path string) ([]byte, error) {
	if path == "-" {
		return io.ReadAll(cmd.InOrStdin())
	}
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}
	return b, nil
}
