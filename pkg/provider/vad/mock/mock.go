// Package mock provides test doubles for the vad package interfaces.
//
// Use Engine to verify that sessions are created with the expected Config.
// Use Session to script speech probabilities and inspect the windows that
// were submitted for scoring.
//
// Example:
//
//	sess := &mock.Session{Probabilities: []float32{0.1, 0.9, 0.9, 0.2}}
//	eng := &mock.Engine{Session: sess}
//	handle, _ := eng.NewSession(cfg)
package mock

import (
	"sync"

	"github.com/MrWong99/voxd/pkg/provider/vad"
)

// NewSessionCall records a single invocation of Engine.NewSession.
type NewSessionCall struct {
	// Cfg is the Config passed to NewSession.
	Cfg vad.Config
}

// Engine is a mock implementation of vad.Engine.
type Engine struct {
	mu sync.Mutex

	// Session is the SessionHandle returned by NewSession. If nil,
	// NewSession returns a new default Session.
	Session vad.SessionHandle

	// NewSessionErr, if non-nil, is returned as the error from NewSession.
	NewSessionErr error

	// NewSessionCalls records every call to NewSession in order.
	NewSessionCalls []NewSessionCall
}

var _ vad.Engine = (*Engine)(nil)

// NewSession records the call and returns Session, NewSessionErr.
func (e *Engine) NewSession(cfg vad.Config) (vad.SessionHandle, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.NewSessionCalls = append(e.NewSessionCalls, NewSessionCall{Cfg: cfg})
	if e.NewSessionErr != nil {
		return nil, e.NewSessionErr
	}
	if e.Session != nil {
		return e.Session, nil
	}
	return &Session{}, nil
}

// Session is a mock implementation of vad.SessionHandle.
type Session struct {
	mu sync.Mutex

	// Probabilities is consumed one element per ProcessWindow call. When
	// exhausted, ProcessWindow keeps returning the last element, or 0.0 if
	// the slice is empty.
	Probabilities []float32

	// ProcessErr, if non-nil, is returned by every ProcessWindow call
	// without consuming a probability.
	ProcessErr error

	// CloseErr is returned by Close.
	CloseErr error

	// Windows records a copy of every window passed to ProcessWindow.
	Windows [][]float32

	// ResetCount counts Reset calls.
	ResetCount int

	// Closed reports whether Close has been called.
	Closed bool

	next int
}

var _ vad.SessionHandle = (*Session)(nil)

// ProcessWindow records the window and returns the next scripted probability.
func (s *Session) ProcessWindow(window []float32) (float32, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ProcessErr != nil {
		return 0, s.ProcessErr
	}
	cp := make([]float32, len(window))
	copy(cp, window)
	s.Windows = append(s.Windows, cp)
	if len(s.Probabilities) == 0 {
		return 0, nil
	}
	i := s.next
	if i >= len(s.Probabilities) {
		i = len(s.Probabilities) - 1
	} else {
		s.next++
	}
	return s.Probabilities[i], nil
}

// Reset increments ResetCount.
func (s *Session) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ResetCount++
}

// Close marks the session closed and returns CloseErr.
func (s *Session) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Closed = true
	return s.CloseErr
}
