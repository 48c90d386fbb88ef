// Package detector implements the streaming speech segmentation state
// machine. It scores fixed-size windows through a [vad.SessionHandle],
// accumulates triggered audio into segments, and finalizes a segment when
// enough trailing silence arrives or when the segment hits the length cap.
package detector

import (
	"errors"
	"fmt"
	"time"

	"github.com/MrWong99/voxd/pkg/audio"
	"github.com/MrWong99/voxd/pkg/provider/vad"
)

// Config holds the segmentation parameters. Zero durations are invalid;
// call Validate (or New, which does) before use.
type Config struct {
	// Threshold is the speech probability at or above which a window
	// counts as speech. Range [0, 1]. This is the single most sensitive
	// parameter in the pipeline: too low and background noise never
	// resolves to silence, too high and utterance boundaries lose words.
	// Calibrate against representative recordings.
	Threshold float32

	// MinSilence is the trailing silence needed to finalize a segment.
	MinSilence time.Duration

	// MinSpeech is the shortest speech span worth keeping. Shorter spans
	// are discarded as transient noise.
	MinSpeech time.Duration

	// MaxSpeech caps segment length. Speech running past it is flushed at
	// exactly the cap, with accumulation continuing seamlessly.
	MaxSpeech time.Duration
}

// DefaultConfig mirrors the tuning the bundled Silero export ships with.
func DefaultConfig() Config {
	return Config{
		Threshold:  0.5,
		MinSilence: 500 * time.Millisecond,
		MinSpeech:  250 * time.Millisecond,
		MaxSpeech:  30 * time.Second,
	}
}

// Validate checks all parameters, reporting every violation at once.
func (c Config) Validate() error {
	var errs []error
	if c.Threshold < 0 || c.Threshold > 1 {
		errs = append(errs, fmt.Errorf("threshold %v outside [0, 1]", c.Threshold))
	}
	if c.MinSilence <= 0 {
		errs = append(errs, errors.New("min silence duration must be positive"))
	}
	if c.MinSpeech <= 0 {
		errs = append(errs, errors.New("min speech duration must be positive"))
	}
	if c.MaxSpeech <= 0 {
		errs = append(errs, errors.New("max speech duration must be positive"))
	}
	if c.MinSpeech > 0 && c.MaxSpeech > 0 && c.MinSpeech > c.MaxSpeech {
		errs = append(errs, errors.New("min speech duration exceeds max speech duration"))
	}
	return errors.Join(errs...)
}

// Segment is one finalized utterance. Samples are mono float32 at 16 kHz.
type Segment struct {
	// Samples is the utterance audio, trailing silence trimmed unless the
	// segment was forced.
	Samples []float32

	// Start is the utterance onset position in the stream.
	Start time.Duration

	// Forced marks segments finalized by the length cap or an explicit
	// flush rather than by trailing silence.
	Forced bool
}

// Duration returns the segment's audio length.
func (s *Segment) Duration() time.Duration { return audio.Duration(len(s.Samples)) }

// Detector drives the two-state machine: Idle until a window scores at or
// above the threshold, then Accumulating until silence or the length cap
// closes the segment. The recurrent VAD state advances on every successful
// window regardless of trigger state, so acoustic context survives silence
// gaps.
//
// A Detector is owned by a single goroutine.
type Detector struct {
	session vad.SessionHandle
	cfg     Config

	pos        int // stream position in samples
	triggered  bool
	buffer     []float32
	start      int // segment onset in samples
	speechEnd  int // buffer length through the last speech window
	silence    time.Duration
	maxSamples int
	minSamples int
}

// New validates cfg and builds a detector over session. The session must
// already be configured for the window size the caller will feed.
func New(session vad.SessionHandle, cfg Config) (*Detector, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("detector: invalid config: %w", err)
	}
	return &Detector{
		session:    session,
		cfg:        cfg,
		maxSamples: audio.Samples(cfg.MaxSpeech),
		minSamples: audio.Samples(cfg.MinSpeech),
	}, nil
}

// Triggered reports whether the detector is currently accumulating speech.
func (d *Detector) Triggered() bool { return d.triggered }

// Pos returns the stream position consumed so far.
func (d *Detector) Pos() time.Duration { return audio.Duration(d.pos) }

// Feed scores one window and advances the state machine. It returns a
// finalized segment when one completes, or nil. On inference error the
// recurrent state and the state machine are both unchanged; the caller may
// skip the window and continue.
func (d *Detector) Feed(window []float32) (*Segment, error) {
	prob, err := d.session.ProcessWindow(window)
	if err != nil {
		return nil, fmt.Errorf("detector: window at %v: %w", audio.Duration(d.pos), err)
	}
	d.pos += len(window)

	speech := prob >= d.cfg.Threshold

	if !d.triggered {
		if !speech {
			return nil, nil
		}
		// Speech onset: buffer from this window onward.
		d.triggered = true
		d.start = d.pos - len(window)
		d.buffer = append(d.buffer[:0], window...)
		d.speechEnd = len(d.buffer)
		d.silence = 0
		return d.segmentIfCapped(), nil
	}

	d.buffer = append(d.buffer, window...)
	if speech {
		d.silence = 0
		d.speechEnd = len(d.buffer)
	} else {
		d.silence += audio.Duration(len(window))
	}

	if seg := d.segmentIfCapped(); seg != nil {
		return seg, nil
	}

	if d.silence >= d.cfg.MinSilence {
		seg := d.closeOnSilence()
		return seg, nil
	}
	return nil, nil
}

// segmentIfCapped flushes exactly MaxSpeech worth of audio once the buffer
// reaches the cap. The remainder seeds the next segment and accumulation
// continues without dropping a sample.
func (d *Detector) segmentIfCapped() *Segment {
	if len(d.buffer) < d.maxSamples {
		return nil
	}
	samples := make([]float32, d.maxSamples)
	copy(samples, d.buffer[:d.maxSamples])
	seg := &Segment{
		Samples: samples,
		Start:   audio.Duration(d.start),
		Forced:  true,
	}

	rest := d.buffer[d.maxSamples:]
	d.start += d.maxSamples
	d.buffer = append(d.buffer[:0], rest...)
	d.speechEnd = len(d.buffer)
	d.silence = 0
	if len(d.buffer) == 0 {
		d.triggered = false
	}
	return seg
}

// closeOnSilence finalizes the segment with trailing silence trimmed, or
// discards it when the speech span is below the minimum.
func (d *Detector) closeOnSilence() *Segment {
	var seg *Segment
	if d.speechEnd >= d.minSamples {
		samples := make([]float32, d.speechEnd)
		copy(samples, d.buffer[:d.speechEnd])
		seg = &Segment{
			Samples: samples,
			Start:   audio.Duration(d.start),
		}
	}
	d.triggered = false
	d.buffer = d.buffer[:0]
	d.speechEnd = 0
	d.silence = 0
	return seg
}

// Flush force-finalizes any in-progress segment through the same path the
// length cap uses: the whole buffer is emitted untrimmed, unless it is
// shorter than the minimum speech span, in which case it is discarded. The
// state machine returns to Idle either way; the recurrent VAD state is left
// untouched so a following Reset decides whether context carries over.
func (d *Detector) Flush() *Segment {
	if !d.triggered {
		return nil
	}
	var seg *Segment
	if len(d.buffer) >= d.minSamples {
		samples := make([]float32, len(d.buffer))
		copy(samples, d.buffer)
		seg = &Segment{
			Samples: samples,
			Start:   audio.Duration(d.start),
			Forced:  true,
		}
	}
	d.triggered = false
	d.buffer = d.buffer[:0]
	d.speechEnd = 0
	d.silence = 0
	return seg
}

// Reset returns the detector to its initial state: Idle, empty buffer,
// zeroed recurrent state, stream position rewound.
func (d *Detector) Reset() {
	d.session.Reset()
	d.triggered = false
	d.buffer = d.buffer[:0]
	d.speechEnd = 0
	d.silence = 0
	d.pos = 0
	d.start = 0
}
