// Package opus decodes a stream of Opus packets into classifier frames.
//
// Packets are read from a simple length-prefixed container: each packet is
// preceded by its size as a big-endian uint16. [Writer] produces the same
// layout, which is convenient for recording test fixtures.
package opus

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"sync"

	"layeh.com/gopus"

	"github.com/MrWong99/vocalflow/pkg/audio"
)

// maxPacketMs is the longest frame duration an Opus packet can carry.
const maxPacketMs = 120

// Source decodes length-prefixed Opus packets from r and emits mono frames of
// a fixed size. A decoder keeps state across packets, so one Source serves
// one stream.
type Source struct {
	r        io.Reader
	dec      *gopus.Decoder
	format   audio.Format
	maxFrame int
	framer   *audio.Framer
	done     bool

	closeOnce sync.Once
}

// NewSource returns a decoding source. sampleRate must be one Opus supports
// (8000, 12000, 16000, 24000 or 48000) and channels 1 or 2.
func NewSource(r io.Reader, format audio.Format, frameSize int) (*Source, error) {
	if frameSize <= 0 {
		return nil, fmt.Errorf("opus: frame size must be positive, got %d", frameSize)
	}
	if format.Channels <= 0 {
		format.Channels = 1
	}
	dec, err := gopus.NewDecoder(format.SampleRate, format.Channels)
	if err != nil {
		return nil, fmt.Errorf("opus: create decoder (%s): %w", format, err)
	}
	return &Source{
		r:        r,
		dec:      dec,
		format:   format,
		maxFrame: format.SampleRate * maxPacketMs / 1000,
		framer:   audio.NewFramer(format.SampleRate, frameSize),
	}, nil
}

// Next implements [audio.Source].
func (s *Source) Next(ctx context.Context) (audio.AudioFrame, error) {
	for {
		if err := ctx.Err(); err != nil {
			return audio.AudioFrame{}, err
		}
		if f, ok := s.framer.Pop(); ok {
			return f, nil
		}
		if s.done {
			if f, ok := s.framer.Flush(); ok {
				return f, nil
			}
			return audio.AudioFrame{}, io.EOF
		}

		pkt, err := readPacket(s.r)
		if errors.Is(err, io.EOF) {
			s.done = true
			continue
		}
		if err != nil {
			return audio.AudioFrame{}, err
		}

		pcm, err := s.dec.Decode(pkt, s.maxFrame, false)
		if err != nil {
			return audio.AudioFrame{}, fmt.Errorf("opus: decode: %w", err)
		}
		samples := make([]float64, len(pcm))
		for i, v := range pcm {
			samples[i] = float64(v) / 32768.0
		}
		s.framer.Push(audio.Downmix(samples, s.format.Channels))
	}
}

// Format implements [audio.Source].
func (s *Source) Format() audio.Format { return s.format }

// Close implements [audio.Source]. The underlying reader is closed if it
// implements io.Closer.
func (s *Source) Close() error {
	var err error
	s.closeOnce.Do(func() {
		if c, ok := s.r.(io.Closer); ok {
			err = c.Close()
		}
	})
	return err
}

func readPacket(r io.Reader) ([]byte, error) {
	var size uint16
	if err := binary.Read(r, binary.BigEndian, &size); err != nil {
		if errors.Is(err, io.ErrUnexpectedEOF) {
			return nil, fmt.Errorf("opus: truncated packet header: %w", err)
		}
		return nil, err
	}
	pkt := make([]byte, size)
	if _, err := io.ReadFull(r, pkt); err != nil {
		return nil, fmt.Errorf("opus: truncated packet: %w", err)
	}
	return pkt, nil
}

// Writer encodes int16 PCM into length-prefixed Opus packets.
type Writer struct {
	w         io.Writer
	enc       *gopus.Encoder
	frameSize int
	channels  int
}

// NewWriter returns a writer that encodes packets of frameSize samples per
// channel (e.g. 960 for 20 ms at 48 kHz).
func NewWriter(w io.Writer, format audio.Format, frameSize int) (*Writer, error) {
	if format.Channels <= 0 {
		format.Channels = 1
	}
	enc, err := gopus.NewEncoder(format.SampleRate, format.Channels, gopus.Audio)
	if err != nil {
		return nil, fmt.Errorf("opus: create encoder (%s): %w", format, err)
	}
	return &Writer{w: w, enc: enc, frameSize: frameSize, channels: format.Channels}, nil
}

// WriteFrame encodes one packet of interleaved pcm, which must hold exactly
// frameSize samples per channel.
func (w *Writer) WriteFrame(pcm []int16) error {
	if len(pcm) != w.frameSize*w.channels {
		return fmt.Errorf("opus: frame has %d samples, want %d", len(pcm), w.frameSize*w.channels)
	}
	pkt, err := w.enc.Encode(pcm, w.frameSize, len(pcm)*2)
	if err != nil {
		return fmt.Errorf("opus: encode: %w", err)
	}
	if len(pkt) > 0xffff {
		return fmt.Errorf("opus: packet of %d bytes exceeds container limit", len(pkt))
	}
	if err := binary.Write(w.w, binary.BigEndian, uint16(len(pkt))); err != nil {
		return fmt.Errorf("opus: write header: %w", err)
	}
	if _, err := w.w.Write(pkt); err != nil {
		return fmt.Errorf("opus: write packet: %w", err)
	}
	return nil
}

var _ audio.Source = (*Source)(nil)
