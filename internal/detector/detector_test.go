package detector

import (
	"errors"
	"testing"
	"time"

	"github.com/MrWong99/voxd/pkg/audio"
	vadmock "github.com/MrWong99/voxd/pkg/provider/vad/mock"
)

const windowSize = 512

// probs builds a probability script of n windows at value p.
func probs(n int, p float32) []float32 {
	out := make([]float32, n)
	for i := range out {
		out[i] = p
	}
	return out
}

func newDetector(t *testing.T, sess *vadmock.Session, cfg Config) *Detector {
	t.Helper()
	d, err := New(sess, cfg)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return d
}

// feedAll pushes n windows and collects emitted segments.
func feedAll(t *testing.T, d *Detector, n int) []*Segment {
	t.Helper()
	window := make([]float32, windowSize)
	var segs []*Segment
	for i := 0; i < n; i++ {
		seg, err := d.Feed(window)
		if err != nil {
			t.Fatalf("Feed window %d: %v", i, err)
		}
		if seg != nil {
			segs = append(segs, seg)
		}
	}
	return segs
}

func TestConfigValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr bool
	}{
		{"defaults valid", func(c *Config) {}, false},
		{"threshold below range", func(c *Config) { c.Threshold = -0.1 }, true},
		{"threshold above range", func(c *Config) { c.Threshold = 1.1 }, true},
		{"zero min silence", func(c *Config) { c.MinSilence = 0 }, true},
		{"zero min speech", func(c *Config) { c.MinSpeech = 0 }, true},
		{"zero max speech", func(c *Config) { c.MaxSpeech = 0 }, true},
		{"min speech above max", func(c *Config) { c.MinSpeech = time.Minute }, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(&cfg)
			err := cfg.Validate()
			if tt.wantErr && err == nil {
				t.Error("expected validation error")
			}
			if !tt.wantErr && err != nil {
				t.Errorf("unexpected error: %v", err)
			}
		})
	}
}

func TestThresholdIsInclusive(t *testing.T) {
	sess := &vadmock.Session{Probabilities: []float32{0.5}}
	d := newDetector(t, sess, DefaultConfig())

	if _, err := d.Feed(make([]float32, windowSize)); err != nil {
		t.Fatal(err)
	}
	if !d.Triggered() {
		t.Error("probability exactly at threshold must trigger")
	}
}

func TestBelowThresholdDoesNotTrigger(t *testing.T) {
	sess := &vadmock.Session{Probabilities: []float32{0.4999}}
	d := newDetector(t, sess, DefaultConfig())

	if _, err := d.Feed(make([]float32, windowSize)); err != nil {
		t.Fatal(err)
	}
	if d.Triggered() {
		t.Error("probability below threshold must not trigger")
	}
}

func TestStateAdvancesWhileIdle(t *testing.T) {
	// Every window reaches the model, triggered or not, so acoustic
	// context is never lost across silence.
	sess := &vadmock.Session{Probabilities: probs(10, 0.1)}
	d := newDetector(t, sess, DefaultConfig())

	feedAll(t, d, 10)
	if len(sess.Windows) != 10 {
		t.Errorf("expected 10 scored windows, got %d", len(sess.Windows))
	}
}

func TestMinSpeechFilterDiscardsShortBursts(t *testing.T) {
	// 7 windows of speech (224 ms) is under the 250 ms minimum.
	script := append(probs(7, 0.9), probs(20, 0.1)...)
	sess := &vadmock.Session{Probabilities: script}
	d := newDetector(t, sess, DefaultConfig())

	segs := feedAll(t, d, len(script))
	if len(segs) != 0 {
		t.Fatalf("expected short burst discarded, got %d segments", len(segs))
	}
	if d.Triggered() {
		t.Error("detector must return to idle after discarding")
	}
}

func TestMinSpeechFilterKeepsLongEnoughBursts(t *testing.T) {
	// 8 windows of speech (256 ms) clears the 250 ms minimum.
	script := append(probs(8, 0.9), probs(20, 0.1)...)
	sess := &vadmock.Session{Probabilities: script}
	d := newDetector(t, sess, DefaultConfig())

	segs := feedAll(t, d, len(script))
	if len(segs) != 1 {
		t.Fatalf("expected 1 segment, got %d", len(segs))
	}
	if got := segs[0].Duration(); got != 8*audio.Duration(windowSize) {
		t.Errorf("expected trimmed duration of 8 windows, got %v", got)
	}
	if segs[0].Forced {
		t.Error("silence-closed segment must not be marked forced")
	}
}

func TestMaxDurationForceFlush(t *testing.T) {
	cfg := DefaultConfig()
	cfg.MaxSpeech = time.Second

	// 80 windows of continuous speech, no silence at all.
	sess := &vadmock.Session{Probabilities: probs(80, 0.9)}
	d := newDetector(t, sess, cfg)

	segs := feedAll(t, d, 80)
	if len(segs) != 2 {
		t.Fatalf("expected 2 capped segments from 80 windows, got %d", len(segs))
	}
	for i, seg := range segs {
		if seg.Duration() != time.Second {
			t.Errorf("segment %d: expected exactly 1s, got %v", i, seg.Duration())
		}
		if !seg.Forced {
			t.Errorf("segment %d: capped segment must be marked forced", i)
		}
	}
	// Accumulation continued seamlessly: the second segment starts where
	// the first ended.
	if segs[1].Start != segs[0].Start+time.Second {
		t.Errorf("expected back-to-back segments, got starts %v and %v", segs[0].Start, segs[1].Start)
	}
	if !d.Triggered() {
		t.Error("continuous speech must keep the detector accumulating")
	}
}

func TestEndToEndScenario(t *testing.T) {
	// 3 s silence, 1.2 s speech, 0.9 s silence: exactly one segment of
	// about 1.2 s and nothing from the surrounding silence.
	script := probs(94, 0.1)                   // ~3.0 s
	script = append(script, probs(38, 0.9)...) // ~1.2 s
	script = append(script, probs(29, 0.1)...) // ~0.9 s
	sess := &vadmock.Session{Probabilities: script}

	cfg := DefaultConfig()
	cfg.MinSilence = 500 * time.Millisecond
	cfg.MinSpeech = 250 * time.Millisecond
	d := newDetector(t, sess, cfg)

	segs := feedAll(t, d, len(script))
	if len(segs) != 1 {
		t.Fatalf("expected exactly 1 segment, got %d", len(segs))
	}
	got := segs[0].Duration()
	want := 38 * audio.Duration(windowSize)
	if got != want {
		t.Errorf("expected duration %v, got %v", want, got)
	}
	if segs[0].Start != 94*audio.Duration(windowSize) {
		t.Errorf("expected onset after leading silence, got %v", segs[0].Start)
	}
	if d.Triggered() {
		t.Error("detector must be idle after trailing silence")
	}
}

func TestFeedErrorLeavesStateMachineUnchanged(t *testing.T) {
	sess := &vadmock.Session{ProcessErr: errors.New("inference failed")}
	d := newDetector(t, sess, DefaultConfig())

	if _, err := d.Feed(make([]float32, windowSize)); err == nil {
		t.Fatal("expected error")
	}
	if d.Triggered() || d.Pos() != 0 {
		t.Error("failed window must not advance the state machine")
	}
}

func TestFlushEmitsInProgressSegment(t *testing.T) {
	sess := &vadmock.Session{Probabilities: probs(20, 0.9)}
	d := newDetector(t, sess, DefaultConfig())
	feedAll(t, d, 20)

	seg := d.Flush()
	if seg == nil {
		t.Fatal("expected forced segment from flush")
	}
	if !seg.Forced {
		t.Error("flushed segment must be marked forced")
	}
	if seg.Duration() != 20*audio.Duration(windowSize) {
		t.Errorf("expected full buffer, got %v", seg.Duration())
	}
	if d.Triggered() {
		t.Error("flush must return to idle")
	}
	if d.Flush() != nil {
		t.Error("second flush must be a no-op")
	}
}

func TestFlushDiscardsBelowMinSpeech(t *testing.T) {
	sess := &vadmock.Session{Probabilities: probs(3, 0.9)}
	d := newDetector(t, sess, DefaultConfig())
	feedAll(t, d, 3)

	if seg := d.Flush(); seg != nil {
		t.Errorf("expected sub-minimum buffer discarded, got %v", seg.Duration())
	}
}

func TestResetClearsEverything(t *testing.T) {
	sess := &vadmock.Session{Probabilities: probs(20, 0.9)}
	d := newDetector(t, sess, DefaultConfig())
	feedAll(t, d, 20)

	d.Reset()
	if d.Triggered() || d.Pos() != 0 {
		t.Error("reset must restore the initial state")
	}
	if sess.ResetCount != 1 {
		t.Errorf("reset must clear the recurrent state, got %d session resets", sess.ResetCount)
	}
}
