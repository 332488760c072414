// Package mock provides scripted doubles for the vad interfaces.
package mock

import (
	"sync"

	"github.com/MrWong99/vocalflow/pkg/provider/vad"
)

// Engine hands out Session (or a fresh [Session] when nil) and remembers the
// configs it was asked for.
type Engine struct {
	mu sync.Mutex

	Session       vad.SessionHandle
	NewSessionErr error

	// Configs holds the Config of every NewSession call, oldest first.
	Configs []vad.Config
}

// NewSession implements [vad.Engine].
func (e *Engine) NewSession(cfg vad.Config) (vad.SessionHandle, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.Configs = append(e.Configs, cfg)
	switch {
	case e.NewSessionErr != nil:
		return nil, e.NewSessionErr
	case e.Session != nil:
		return e.Session, nil
	}
	return &Session{}, nil
}

// Session replays Script one event per frame, then answers every further
// frame with EventResult.
type Session struct {
	mu sync.Mutex

	Script          []vad.VADEvent
	EventResult     vad.VADEvent
	ProcessFrameErr error
	CloseErr        error

	// Frames holds a copy of every frame passed to ProcessFrame.
	Frames [][]byte
	Resets int
	Closes int
}

// ProcessFrame implements [vad.SessionHandle].
func (s *Session) ProcessFrame(frame []byte) (vad.VADEvent, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Frames = append(s.Frames, append([]byte(nil), frame...))
	ev := s.EventResult
	if i := len(s.Frames) - 1; i < len(s.Script) {
		ev = s.Script[i]
	}
	return ev, s.ProcessFrameErr
}

// Reset implements [vad.SessionHandle].
func (s *Session) Reset() {
	s.mu.Lock()
	s.Resets++
	s.mu.Unlock()
}

// Close implements [vad.SessionHandle].
func (s *Session) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Closes++
	return s.CloseErr
}

var (
	_ vad.Engine        = (*Engine)(nil)
	_ vad.SessionHandle = (*Session)(nil)
)
