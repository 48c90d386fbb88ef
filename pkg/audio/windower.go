package audio

// Windower slices a continuous mono sample stream into fixed-size inference
// windows. Samples that do not yet fill a complete window are buffered and
// prepended to the next Push call, so no audio is lost at chunk boundaries.
//
// A Windower is owned by a single goroutine; it is not safe for concurrent
// use.
type Windower struct {
	size      int
	remainder []float32
}

// NewWindower creates a Windower emitting windows of size samples.
// size must be positive; the VAD model dictates the valid values
// (512 or 1024 for the bundled Silero export).
func NewWindower(size int) *Windower {
	if size <= 0 {
		size = DefaultWindowSize
	}
	return &Windower{size: size}
}

// Size returns the window size in samples.
func (w *Windower) Size() int { return w.size }

// Push appends samples to the stream and returns all complete windows that
// became available. The returned windows are freshly allocated copies; the
// caller may retain them. An empty input returns nil.
func (w *Windower) Push(samples []float32) [][]float32 {
	if len(samples) == 0 {
		return nil
	}

	all := samples
	if len(w.remainder) > 0 {
		all = make([]float32, 0, len(w.remainder)+len(samples))
		all = append(all, w.remainder...)
		all = append(all, samples...)
	}

	complete := len(all) / w.size
	windows := make([][]float32, 0, complete)
	for i := 0; i < complete; i++ {
		win := make([]float32, w.size)
		copy(win, all[i*w.size:(i+1)*w.size])
		windows = append(windows, win)
	}

	rest := all[complete*w.size:]
	w.remainder = w.remainder[:0]
	w.remainder = append(w.remainder, rest...)

	return windows
}

// Pending returns the number of buffered samples awaiting a complete window.
func (w *Windower) Pending() int { return len(w.remainder) }

// Flush returns a copy of the buffered partial window, or nil when nothing
// is pending, and clears the buffer. Used at end of stream where the final
// samples will never complete a window on their own.
func (w *Windower) Flush() []float32 {
	if len(w.remainder) == 0 {
		return nil
	}
	out := make([]float32, len(w.remainder))
	copy(out, w.remainder)
	w.remainder = w.remainder[:0]
	return out
}

// Reset discards any buffered partial window.
func (w *Windower) Reset() { w.remainder = w.remainder[:0] }
