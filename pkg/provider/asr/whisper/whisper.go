// Package whisper implements [asr.Recognizer] on the whisper.cpp CGO
// bindings. It is the CPU-only safety-net tier: slower and less accurate on
// dictation than the transducer models, but it runs anywhere and needs no
// GPU memory at all.
//
// The whisper.cpp static library (libwhisper.a) and headers (whisper.h)
// must be available at link time via LIBRARY_PATH and C_INCLUDE_PATH.
package whisper

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"
	"time"

	whisperlib "github.com/ggerganov/whisper.cpp/bindings/go/pkg/whisper"

	"github.com/MrWong99/voxd/pkg/audio"
	"github.com/MrWong99/voxd/pkg/provider/asr"
)

const defaultLanguage = "en"

// Recognizer wraps a loaded whisper.cpp model. The model is loaded once;
// each Transcribe call creates a fresh whisper context, so the recognizer
// tolerates sequential reuse.
type Recognizer struct {
	name     string
	language string

	mu     sync.Mutex
	model  whisperlib.Model
	closed bool
}

var _ asr.Recognizer = (*Recognizer)(nil)

// Option is a functional option for configuring a Recognizer.
type Option func(*Recognizer)

// WithLanguage sets the transcription language code (e.g., "en", "de").
// Defaults to "en".
func WithLanguage(lang string) Option {
	return func(r *Recognizer) { r.language = lang }
}

// WithName overrides the recognizer name reported in logs and events.
func WithName(name string) Option {
	return func(r *Recognizer) { r.name = name }
}

// New loads the whisper.cpp model at modelPath. The caller must call Close
// when the recognizer is no longer needed.
func New(modelPath string, opts ...Option) (*Recognizer, error) {
	if modelPath == "" {
		return nil, errors.New("whisper: modelPath must not be empty")
	}
	model, err := whisperlib.New(modelPath)
	if err != nil {
		return nil, fmt.Errorf("whisper: load model %q: %w", modelPath, err)
	}

	r := &Recognizer{
		name:     "whisper",
		language: defaultLanguage,
		model:    model,
	}
	for _, o := range opts {
		o(r)
	}
	return r, nil
}

// Transcribe runs whisper.cpp over the segment and joins the emitted
// segments into one line of text.
func (r *Recognizer) Transcribe(ctx context.Context, samples []float32) (asr.Result, error) {
	if err := ctx.Err(); err != nil {
		return asr.Result{}, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return asr.Result{}, errors.New("whisper: recognizer closed")
	}

	start := time.Now()

	// Each context is NOT thread-safe, but the model can be shared.
	wctx, err := r.model.NewContext()
	if err != nil {
		return asr.Result{}, fmt.Errorf("whisper: create context: %w", err)
	}
	if err := wctx.SetLanguage(r.language); err != nil {
		slog.Warn("whisper: failed to set language, using default",
			"language", r.language, "error", err)
	}

	if err := wctx.Process(samples, nil, nil, nil); err != nil {
		return asr.Result{}, fmt.Errorf("whisper: process audio: %w", err)
	}

	var parts []string
	for {
		segment, err := wctx.NextSegment()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return asr.Result{}, fmt.Errorf("whisper: read segment: %w", err)
		}
		if text := strings.TrimSpace(segment.Text); text != "" {
			parts = append(parts, text)
		}
	}

	elapsed := time.Since(start)
	return asr.Result{
		Text: strings.Join(parts, " "),
		Stats: asr.DecodeStats{
			AudioDuration: audio.Duration(len(samples)),
			DecodeTime:    elapsed,
		},
	}, nil
}

// Name returns the recognizer name.
func (r *Recognizer) Name() string { return r.name }

// Close releases the whisper model.
func (r *Recognizer) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return nil
	}
	r.closed = true
	return r.model.Close()
}
