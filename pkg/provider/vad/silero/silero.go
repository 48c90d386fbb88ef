// Package silero implements [vad.Engine] on the Silero VAD ONNX export,
// driven through ONNX Runtime. The model scores one fixed-size window per
// call and carries a pair of LSTM state tensors between calls.
package silero

import (
	"errors"
	"fmt"
	"sync"

	ort "github.com/yalue/onnxruntime_go"

	"github.com/MrWong99/voxd/pkg/provider/onnxrt"
	"github.com/MrWong99/voxd/pkg/provider/vad"
)

// LSTM state layout of the Silero export: 2 layers, batch 1, 64 hidden units.
const (
	stateLayers = 2
	stateHidden = 64
	stateLen    = stateLayers * 1 * stateHidden
)

var (
	inputNames  = []string{"input", "h", "c", "sr"}
	outputNames = []string{"output", "hn", "cn"}
)

// ErrClosed is returned by session methods after Close.
var ErrClosed = errors.New("silero: session closed")

// Engine loads a Silero VAD model file and creates inference sessions from
// it. All sessions share the one loaded model; each session has its own
// recurrent state.
type Engine struct {
	modelPath string
}

var _ vad.Engine = (*Engine)(nil)

// NewEngine prepares an engine for the model at modelPath. The ONNX Runtime
// environment must be initialized via [onnxrt.Init] first; the model file is
// validated lazily when the first session is created.
func NewEngine(modelPath string) *Engine {
	return &Engine{modelPath: modelPath}
}

// NewSession creates a scoring session with zeroed recurrent state.
func (e *Engine) NewSession(cfg vad.Config) (vad.SessionHandle, error) {
	if cfg.SampleRate != 8000 && cfg.SampleRate != 16000 {
		return nil, fmt.Errorf("silero: unsupported sample rate %d (want 8000 or 16000)", cfg.SampleRate)
	}
	if cfg.WindowSize != 512 && cfg.WindowSize != 1024 {
		return nil, fmt.Errorf("silero: unsupported window size %d (want 512 or 1024)", cfg.WindowSize)
	}

	opts, err := onnxrt.NewSessionOptions(false, 0, 1)
	if err != nil {
		return nil, err
	}
	defer opts.Destroy()

	sess, err := ort.NewDynamicAdvancedSession(e.modelPath, inputNames, outputNames, opts)
	if err != nil {
		return nil, fmt.Errorf("silero: load model %s: %w", e.modelPath, err)
	}

	return &session{
		sess:       sess,
		windowSize: cfg.WindowSize,
		sampleRate: int64(cfg.SampleRate),
		h:          make([]float32, stateLen),
		c:          make([]float32, stateLen),
	}, nil
}

// session holds the per-stream recurrent state alongside the ORT session.
type session struct {
	mu         sync.Mutex
	sess       *ort.DynamicAdvancedSession
	windowSize int
	sampleRate int64
	h          []float32
	c          []float32
	closed     bool
}

var _ vad.SessionHandle = (*session)(nil)

// ProcessWindow runs one inference step. The recurrent state is only swapped
// in after the run succeeds, so a failed window leaves the session exactly
// as it was.
func (s *session) ProcessWindow(window []float32) (float32, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return 0, ErrClosed
	}
	if len(window) != s.windowSize {
		return 0, fmt.Errorf("silero: window has %d samples, want %d", len(window), s.windowSize)
	}

	input, err := ort.NewTensor(ort.NewShape(1, int64(s.windowSize)), window)
	if err != nil {
		return 0, fmt.Errorf("silero: create input tensor: %w", err)
	}
	defer input.Destroy()

	hIn, err := ort.NewTensor(ort.NewShape(stateLayers, 1, stateHidden), s.h)
	if err != nil {
		return 0, fmt.Errorf("silero: create h tensor: %w", err)
	}
	defer hIn.Destroy()

	cIn, err := ort.NewTensor(ort.NewShape(stateLayers, 1, stateHidden), s.c)
	if err != nil {
		return 0, fmt.Errorf("silero: create c tensor: %w", err)
	}
	defer cIn.Destroy()

	sr, err := ort.NewTensor(ort.NewShape(1), []int64{s.sampleRate})
	if err != nil {
		return 0, fmt.Errorf("silero: create sr tensor: %w", err)
	}
	defer sr.Destroy()

	outputs := []ort.Value{nil, nil, nil}
	if err := s.sess.Run([]ort.Value{input, hIn, cIn, sr}, outputs); err != nil {
		return 0, fmt.Errorf("silero: inference: %w", err)
	}
	defer func() {
		for _, out := range outputs {
			out.Destroy()
		}
	}()

	probOut, ok := outputs[0].(*ort.Tensor[float32])
	if !ok {
		return 0, fmt.Errorf("silero: unexpected output type %T", outputs[0])
	}
	probData := probOut.GetData()
	if len(probData) < 1 {
		return 0, errors.New("silero: empty probability output")
	}
	prob := probData[0]
	if prob < 0 || prob > 1 {
		return 0, fmt.Errorf("silero: probability %v out of range", prob)
	}

	hOut, hOK := outputs[1].(*ort.Tensor[float32])
	cOut, cOK := outputs[2].(*ort.Tensor[float32])
	if !hOK || !cOK {
		return 0, errors.New("silero: unexpected state output types")
	}
	if len(hOut.GetData()) != stateLen || len(cOut.GetData()) != stateLen {
		return 0, errors.New("silero: state output has unexpected size")
	}

	// Inference succeeded: advance the recurrent state.
	copy(s.h, hOut.GetData())
	copy(s.c, cOut.GetData())

	return prob, nil
}

// Reset zeroes the recurrent state.
func (s *session) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	clear(s.h)
	clear(s.c)
}

// Close destroys the underlying ORT session.
func (s *session) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	return s.sess.Destroy()
}
