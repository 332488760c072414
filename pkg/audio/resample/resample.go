// Package resample adapts an [audio.Source] to the sample rate and frame
// size a classifier session expects.
//
// Rate conversion uses the pure-Go go-audio-resampling library; frames are
// re-sliced with [audio.Framer] so the output cadence is independent of the
// upstream frame size.
package resample

import (
	"context"
	"errors"
	"fmt"
	"io"

	resampling "github.com/tphakala/go-audio-resampling"

	"github.com/MrWong99/vocalflow/pkg/audio"
)

// Source converts upstream mono frames to a target rate and frame size.
type Source struct {
	src       audio.Source
	rs        resampling.Resampler
	inRate    int
	outRate   int
	framer    *audio.Framer
	exhausted bool
}

// NewSource wraps src. When src already runs at rate only re-framing is
// applied.
func NewSource(src audio.Source, rate, frameSize int) (*Source, error) {
	if rate <= 0 || frameSize <= 0 {
		return nil, fmt.Errorf("resample: invalid target %d Hz / %d samples", rate, frameSize)
	}
	in := src.Format().SampleRate
	if in <= 0 {
		return nil, fmt.Errorf("resample: upstream reports sample rate %d", in)
	}

	s := &Source{
		src:     src,
		inRate:  in,
		outRate: rate,
		framer:  audio.NewFramer(rate, frameSize),
	}
	if in != rate {
		rs, err := resampling.New(&resampling.Config{
			InputRate:  float64(in),
			OutputRate: float64(rate),
			Channels:   1,
			Quality:    resampling.QualitySpec{Preset: resampling.QualityHigh},
		})
		if err != nil {
			return nil, fmt.Errorf("resample: create resampler %d→%d Hz: %w", in, rate, err)
		}
		s.rs = rs
	}
	return s, nil
}

// Next implements [audio.Source]. Upstream frames are pulled until a full
// output frame is available. After upstream EOF the remaining samples are
// emitted as one zero-padded frame, then io.EOF.
func (s *Source) Next(ctx context.Context) (audio.AudioFrame, error) {
	for {
		if f, ok := s.framer.Pop(); ok {
			return f, nil
		}
		if s.exhausted {
			if f, ok := s.framer.Flush(); ok {
				return f, nil
			}
			return audio.AudioFrame{}, io.EOF
		}

		in, err := s.src.Next(ctx)
		if errors.Is(err, io.EOF) {
			s.exhausted = true
			continue
		}
		if err != nil {
			return audio.AudioFrame{}, err
		}

		out := in.Samples
		if s.rs != nil {
			out, err = s.rs.Process(in.Samples)
			if err != nil {
				return audio.AudioFrame{}, fmt.Errorf("resample: process: %w", err)
			}
		}
		s.framer.Push(out)
	}
}

// Format implements [audio.Source].
func (s *Source) Format() audio.Format {
	return audio.Format{SampleRate: s.outRate, Channels: s.src.Format().Channels}
}

// Close implements [audio.Source].
func (s *Source) Close() error { return s.src.Close() }

var _ audio.Source = (*Source)(nil)
