package audio

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"
)

// PCMSource slices a little-endian int16 PCM stream into fixed-size mono
// frames. Interleaved multi-channel input is downmixed by averaging.
// Not safe for concurrent use.
type PCMSource struct {
	r         io.Reader
	closer    io.Closer
	format    Format
	frameSize int

	buf       []byte
	emitted   int64
	exhausted bool
	closeOnce sync.Once
}

// NewPCMSource returns a [Source] reading s16le PCM in the given format from r,
// emitting frames of frameSize samples per channel. If r implements
// [io.Closer] it is closed by [PCMSource.Close].
func NewPCMSource(r io.Reader, format Format, frameSize int) (*PCMSource, error) {
	if format.SampleRate <= 0 {
		return nil, fmt.Errorf("audio: pcm source: sample rate must be positive, got %d", format.SampleRate)
	}
	if format.Channels <= 0 {
		format.Channels = 1
	}
	if frameSize <= 0 {
		return nil, fmt.Errorf("audio: pcm source: frame size must be positive, got %d", frameSize)
	}
	s := &PCMSource{
		r:         r,
		format:    format,
		frameSize: frameSize,
		buf:       make([]byte, frameSize*format.Channels*2),
	}
	if c, ok := r.(io.Closer); ok {
		s.closer = c
	}
	return s, nil
}

// Next reads exactly one frame. A final partial frame is zero-padded; the call
// after it returns [io.EOF].
func (s *PCMSource) Next(ctx context.Context) (AudioFrame, error) {
	if err := ctx.Err(); err != nil {
		return AudioFrame{}, err
	}
	if s.exhausted {
		return AudioFrame{}, io.EOF
	}

	n, err := io.ReadFull(s.r, s.buf)
	switch {
	case err == nil:
	case errors.Is(err, io.ErrUnexpectedEOF):
		clear(s.buf[n:])
		s.exhausted = true
	case errors.Is(err, io.EOF):
		s.exhausted = true
		return AudioFrame{}, io.EOF
	default:
		return AudioFrame{}, fmt.Errorf("audio: pcm source: read: %w", err)
	}

	samples := Downmix(PCM16ToFloat(s.buf), s.format.Channels)
	frame := AudioFrame{
		Samples:    samples,
		SampleRate: s.format.SampleRate,
		FrameSize:  s.frameSize,
		Timestamp:  time.Duration(s.emitted) * FrameDuration(s.frameSize, s.format.SampleRate),
	}
	s.emitted++
	return frame, nil
}

// Format implements [Source].
func (s *PCMSource) Format() Format { return s.format }

// Close implements [Source].
func (s *PCMSource) Close() error {
	var err error
	s.closeOnce.Do(func() {
		if s.closer != nil {
			err = s.closer.Close()
		}
	})
	return err
}

var _ Source = (*PCMSource)(nil)
