// Package audio provides the sample-stream primitives shared by the voxd
// pipeline: fixed-size inference windowing, PCM/float conversion helpers,
// and the Source abstraction the capture layer feeds samples through.
//
// The pipeline operates exclusively on mono float32 samples at 16 kHz,
// normalised to [-1.0, 1.0]. Resampling and channel mixing are the capture
// layer's responsibility; nothing in this package accepts any other format.
package audio

import "time"

// SampleRate is the only sample rate the pipeline accepts.
const SampleRate = 16000

// DefaultWindowSize is the default number of samples per VAD inference
// window (32 ms at 16 kHz). The Silero export accepts 512 or 1024.
const DefaultWindowSize = 512

// Duration returns the wall-clock duration of n samples at [SampleRate].
func Duration(n int) time.Duration {
	return time.Duration(n) * time.Second / SampleRate
}

// Samples returns the number of samples covering d at [SampleRate].
func Samples(d time.Duration) int {
	return int(d * SampleRate / time.Second)
}
