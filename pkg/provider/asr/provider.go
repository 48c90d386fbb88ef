// Package asr defines the recognizer interfaces for speech-to-text backends.
//
// Two abstraction levels exist. [Recognizer] is the surface the pipeline
// consumes: one finalized speech segment in, one transcription result out.
// [TransducerModel] is the lower-level contract for transducer ensembles
// (encoder, prediction network, joiner); the decoder package turns any
// TransducerModel into a Recognizer via greedy token-and-duration search.
//
// Recognizer implementations must tolerate sequential reuse but are not
// required to support concurrent Transcribe calls; serialization is the
// caller's job.
package asr

import "context"

// Recognizer transcribes finalized speech segments. Samples are mono float32
// at 16 kHz, normalised to [-1.0, 1.0].
type Recognizer interface {
	// Transcribe converts one speech segment to text. A segment containing
	// no recognizable speech yields a Result with empty Text and a nil
	// error. Cancellation or expiry of ctx aborts the decode and returns
	// the context error.
	Transcribe(ctx context.Context, samples []float32) (Result, error)

	// Name identifies the recognizer for logs and events,
	// e.g. "parakeet-tdt-1.1b" or "whisper-base".
	Name() string

	// Close releases model resources. The recognizer is unusable afterwards.
	Close() error
}

// PredictorState is the opaque recurrent state of a transducer prediction
// network. Callers obtain it from NewPredictorState, thread it through
// Predict, and never inspect it.
type PredictorState any

// TransducerModel exposes the three networks of a token-and-duration
// transducer ensemble. The decoder drives it frame by frame.
type TransducerModel interface {
	// Encode runs the acoustic encoder over a full segment and returns one
	// feature vector per encoder output frame.
	Encode(ctx context.Context, samples []float32) ([][]float32, error)

	// NewPredictorState returns a zeroed prediction-network state.
	NewPredictorState() PredictorState

	// Predict advances the prediction network by one token and returns the
	// predictor output vector together with the successor state. The input
	// state is not modified; on error it remains valid.
	Predict(state PredictorState, token int) ([]float32, PredictorState, error)

	// Joint combines one encoder frame with one predictor output and
	// returns the joint logits. The logit vector is laid out as the
	// vocabulary (blank included) followed by the duration bins, so its
	// width is Vocabulary().Size() + len(Durations()).
	Joint(encoderFrame, predictorOut []float32) ([]float32, error)

	// Vocabulary returns the token table, blank entry included.
	Vocabulary() *Vocabulary

	// Durations returns the duration bins of the joiner head in logit
	// order, e.g. [0 1 2 3 4]. An empty slice means a plain RNN-T joiner
	// with no duration head.
	Durations() []int

	// Close releases the model sessions.
	Close() error
}
