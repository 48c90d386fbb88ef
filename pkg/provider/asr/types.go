package asr

import (
	"errors"
	"time"
)

// Result is the outcome of transcribing one speech segment.
type Result struct {
	// Text is the final transcription with BPE markers resolved and
	// surrounding whitespace trimmed. Empty when the segment decoded to
	// blanks only.
	Text string

	// TokenIDs are the emitted non-blank token IDs in order.
	TokenIDs []int

	// Stats describes the work the decode performed.
	Stats DecodeStats
}

// DecodeStats carries per-segment decode measurements for events and logs.
type DecodeStats struct {
	// AudioDuration is the wall-clock length of the input segment.
	AudioDuration time.Duration

	// EncoderFrames is the number of encoder output frames processed.
	EncoderFrames int

	// Symbols is the number of non-blank tokens emitted.
	Symbols int

	// EncodeTime and DecodeTime split the inference cost between the
	// acoustic encoder and the prediction/joint loop.
	EncodeTime time.Duration
	DecodeTime time.Duration
}

// DeviceError marks an inference failure caused by the compute device
// (CUDA launch failure, out-of-memory, driver fault) rather than by the
// input. The model tier policy treats it as grounds for demotion.
type DeviceError struct {
	Err error
}

// Error implements the error interface.
func (e *DeviceError) Error() string { return "asr: device failure: " + e.Err.Error() }

// Unwrap returns the underlying error.
func (e *DeviceError) Unwrap() error { return e.Err }

// IsDeviceError reports whether any error in err's chain is a [DeviceError].
func IsDeviceError(err error) bool {
	var de *DeviceError
	return errors.As(err, &de)
}
