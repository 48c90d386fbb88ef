// Package mock provides test doubles for the asr package interfaces.
//
// Use Recognizer to script per-call results and errors and to inspect the
// segments submitted for transcription. The Delay field makes a call hang
// for a fixed duration while honoring context cancellation, which is how
// decode-timeout behavior is tested.
package mock

import (
	"context"
	"sync"
	"time"

	"github.com/MrWong99/voxd/pkg/provider/asr"
)

// TranscribeCall records a single invocation of Recognizer.Transcribe.
type TranscribeCall struct {
	// SampleCount is the length of the submitted segment in samples.
	SampleCount int
}

// Outcome scripts the result of one Transcribe call.
type Outcome struct {
	Result asr.Result
	Err    error
}

// Recognizer is a mock implementation of asr.Recognizer.
type Recognizer struct {
	mu sync.Mutex

	// RecognizerName is returned by Name. Defaults to "mock".
	RecognizerName string

	// Outcomes is consumed one element per Transcribe call. When exhausted,
	// Transcribe keeps returning the last element, or a zero Result if the
	// slice is empty.
	Outcomes []Outcome

	// Delay, if positive, makes each Transcribe call sleep before
	// returning, aborting early with ctx.Err() on cancellation.
	Delay time.Duration

	// CloseErr is returned by Close.
	CloseErr error

	// TranscribeCalls records every call to Transcribe in order.
	TranscribeCalls []TranscribeCall

	// Closed reports whether Close has been called.
	Closed bool

	next int
}

var _ asr.Recognizer = (*Recognizer)(nil)

// Transcribe records the call and returns the next scripted outcome.
func (r *Recognizer) Transcribe(ctx context.Context, samples []float32) (asr.Result, error) {
	r.mu.Lock()
	r.TranscribeCalls = append(r.TranscribeCalls, TranscribeCall{SampleCount: len(samples)})
	delay := r.Delay
	var out Outcome
	if len(r.Outcomes) > 0 {
		i := r.next
		if i >= len(r.Outcomes) {
			i = len(r.Outcomes) - 1
		} else {
			r.next++
		}
		out = r.Outcomes[i]
	}
	r.mu.Unlock()

	if delay > 0 {
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return asr.Result{}, ctx.Err()
		}
	}
	if err := ctx.Err(); err != nil {
		return asr.Result{}, err
	}
	return out.Result, out.Err
}

// Name returns RecognizerName or "mock".
func (r *Recognizer) Name() string {
	if r.RecognizerName != "" {
		return r.RecognizerName
	}
	return "mock"
}

// Close marks the recognizer closed and returns CloseErr.
func (r *Recognizer) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.Closed = true
	return r.CloseErr
}

// Calls returns a snapshot of recorded Transcribe calls.
func (r *Recognizer) Calls() []TranscribeCall {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]TranscribeCall, len(r.TranscribeCalls))
	copy(out, r.TranscribeCalls)
	return out
}
