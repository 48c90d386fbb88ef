// Package vad defines the Engine interface for Voice Activity Detection backends.
//
// A VAD engine wraps a window-level speech-probability model (e.g., Silero VAD)
// and surfaces it as a stateful, per-stream session. Each session carries its
// own recurrent model state, so multiple concurrent audio streams can be
// scored independently.
//
// VAD is synchronous by design: ProcessWindow returns immediately with a
// probability, making it suitable for the low-latency pipeline stage that
// gates the speech recognizer.
//
// Implementations must be safe for concurrent use across different sessions.
// A single SessionHandle should not be shared across goroutines unless the
// implementation explicitly documents thread safety for that type.
package vad

// Config holds the parameters for a VAD session.
type Config struct {
	// SampleRate is the audio sample rate in Hz. Must match the rate of the
	// sample windows passed to ProcessWindow. The bundled Silero export
	// supports 8000 and 16000.
	SampleRate int

	// WindowSize is the number of samples per inference window. The model
	// dictates the valid values; Silero accepts 512 or 1024 at 16 kHz.
	// ProcessWindow returns an error if the supplied window does not match.
	WindowSize int
}

// SessionHandle represents an active VAD session for a single audio stream.
// It is an interface so that test code can supply mock implementations
// without a live model. Each session maintains its own recurrent state;
// Reset clears this state without closing the session.
//
// A SessionHandle should not be shared between goroutines unless the
// implementation explicitly guarantees concurrent safety.
type SessionHandle interface {
	// ProcessWindow scores a single window of mono float32 samples and
	// returns the speech probability in [0.0, 1.0]. The window length must
	// equal the WindowSize configured when the session was created.
	//
	// The session's recurrent state advances exactly once per successful
	// call. On error the state is left unchanged, so the caller may retry
	// or skip the window without corrupting subsequent scores.
	ProcessWindow(window []float32) (float32, error)

	// Reset clears the recurrent model state without closing the session.
	// Use this when the audio stream is interrupted or restarted so stale
	// state from the previous stream does not bleed into the next one.
	Reset()

	// Close releases all resources associated with the session. After
	// Close, ProcessWindow must return errors and Reset must be a no-op.
	// Calling Close more than once is safe and returns nil.
	Close() error
}

// Engine is the factory for VAD sessions. It is the top-level interface
// implemented by each VAD backend.
//
// Implementations must be safe for concurrent use: multiple goroutines may
// call NewSession simultaneously to create independent sessions.
type Engine interface {
	// NewSession creates a new VAD session with the given configuration.
	// The session is immediately ready to score windows.
	//
	// Returns an error if the configuration is invalid (e.g., unsupported
	// sample rate or window size) or if the engine cannot allocate
	// resources for the session.
	NewSession(cfg Config) (SessionHandle, error)
}
