// Package mock provides an in-memory implementation of [audio.Source] for use
// in unit tests.
//
// The mock is safe for concurrent use. It records calls so that tests can
// assert on them, and exposes exported fields that control what it returns.
//
// Typical usage:
//
//	src := &mock.Source{
//	    Frames:       frames,
//	    FormatResult: audio.Format{SampleRate: 16000, Channels: 1},
//	}
//	f, err := src.Next(ctx)
package mock

import (
	"context"
	"io"
	"sync"
	"time"

	"github.com/MrWong99/vocalflow/pkg/audio"
)

// Source is a mock implementation of [audio.Source]. It returns Frames in
// order, then io.EOF (or NextErr, if set).
type Source struct {
	mu sync.Mutex

	// Frames are returned by successive Next calls.
	Frames []audio.AudioFrame

	// NextErr, if non-nil, is returned once Frames is exhausted instead of
	// io.EOF.
	NextErr error

	// Delay, if positive, is waited before each Next returns. The wait is
	// interrupted by context cancellation.
	Delay time.Duration

	// FormatResult is returned by [Source.Format].
	FormatResult audio.Format

	// CloseError is returned by [Source.Close].
	CloseError error

	// CallCountNext records how many times Next was called.
	CallCountNext int

	// CallCountClose records how many times Close was called.
	CallCountClose int

	pos int
}

// Next implements [audio.Source].
func (s *Source) Next(ctx context.Context) (audio.AudioFrame, error) {
	s.mu.Lock()
	s.CallCountNext++
	delay := s.Delay
	s.mu.Unlock()

	if delay > 0 {
		t := time.NewTimer(delay)
		defer t.Stop()
		select {
		case <-ctx.Done():
			return audio.AudioFrame{}, ctx.Err()
		case <-t.C:
		}
	} else if err := ctx.Err(); err != nil {
		return audio.AudioFrame{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.pos >= len(s.Frames) {
		if s.NextErr != nil {
			return audio.AudioFrame{}, s.NextErr
		}
		return audio.AudioFrame{}, io.EOF
	}
	f := s.Frames[s.pos]
	s.pos++
	return f, nil
}

// Format implements [audio.Source].
func (s *Source) Format() audio.Format {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.FormatResult
}

// Close implements [audio.Source]. Returns CloseError.
func (s *Source) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.CallCountClose++
	return s.CloseError
}

// Remaining returns how many frames have not been handed out yet.
func (s *Source) Remaining() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.Frames) - s.pos
}

var _ audio.Source = (*Source)(nil)
