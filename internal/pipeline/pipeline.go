// Package pipeline wires the capture-to-text dictation loop together.
//
// A [Pipeline] owns two goroutines: the VAD loop pulls audio from an
// [audio.Source], windows it, and feeds the speech detector; the decode loop
// drains completed segments from a bounded queue and runs them through the
// model manager and corrector. The queue between them applies drop-oldest
// backpressure so a slow decode never stalls capture — when the queue is full
// the oldest waiting segment is discarded and a segment_dropped event is
// published in its place.
//
// All observable activity (state transitions, completed segments, dropped
// segments, transcriptions) is published on the [events.Bus] handed in via
// [Config]. The pipeline itself never prints; consumers decide what a
// transcription means.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync/atomic"

	"golang.org/x/sync/errgroup"

	"github.com/MrWong99/voxd/internal/detector"
	"github.com/MrWong99/voxd/internal/events"
	"github.com/MrWong99/voxd/internal/observe"
	"github.com/MrWong99/voxd/internal/transcript"
	"github.com/MrWong99/voxd/pkg/audio"
	"github.com/MrWong99/voxd/pkg/provider/asr"
)

// DefaultQueueSize is the decode queue bound used when [Config.QueueSize]
// is zero. Four in-flight segments is roughly two minutes of backlog at
// typical dictation cadence; anything beyond that means decoding has fallen
// hopelessly behind and shedding load is the right call.
const DefaultQueueSize = 4

// Transcriber turns a finished speech segment into text. Satisfied by
// [modelmgr.Manager].
type Transcriber interface {
	Transcribe(ctx context.Context, samples []float32) (asr.Result, error)
	ActiveTier() string
	Reset() error
}

// Config carries the collaborators a [Pipeline] coordinates. Detector,
// Transcriber and Bus are required; the rest have working defaults.
type Config struct {
	// Detector segments incoming audio into speech runs.
	Detector *detector.Detector

	// Transcriber decodes finished segments, typically a [modelmgr.Manager].
	Transcriber Transcriber

	// Corrector, when non-nil, post-processes decoded text before the
	// transcription event is published.
	Corrector *transcript.Corrector

	// Bus receives all pipeline events. Required.
	Bus *events.Bus

	// QueueSize bounds the decode queue. Defaults to [DefaultQueueSize].
	QueueSize int

	// Logger defaults to [slog.Default].
	Logger *slog.Logger
}

// Validate reports all configuration problems at once.
func (c *Config) Validate() error {
	var errs []error
	if c.Detector == nil {
		errs = append(errs, errors.New("pipeline: Detector is required"))
	}
	if c.Transcriber == nil {
		errs = append(errs, errors.New("pipeline: Transcriber is required"))
	}
	if c.Bus == nil {
		errs = append(errs, errors.New("pipeline: Bus is required"))
	}
	if c.QueueSize < 0 {
		errs = append(errs, fmt.Errorf("pipeline: QueueSize must be >= 0, got %d", c.QueueSize))
	}
	return errors.Join(errs...)
}

// Pipeline runs the dictation loop. Create with [New], then call [Pipeline.Run]
// once; Run blocks until the source is exhausted or the context is cancelled.
type Pipeline struct {
	cfg    Config
	logger *slog.Logger

	windower *audio.Windower
	queue    chan detector.Segment

	// recording mirrors Detector.Triggered so the decode goroutine can
	// compute states without touching the detector, which is owned by the
	// VAD goroutine.
	recording      atomic.Bool
	decodesPending atomic.Int64
	lastState      atomic.Value // string, one of the events.State* values
}

// New validates cfg and returns a ready [Pipeline].
func New(cfg Config) (*Pipeline, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if cfg.QueueSize == 0 {
		cfg.QueueSize = DefaultQueueSize
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	p := &Pipeline{
		cfg:      cfg,
		logger:   cfg.Logger.With("component", "pipeline"),
		windower: audio.NewWindower(audio.DefaultWindowSize),
		queue:    make(chan detector.Segment, cfg.QueueSize),
	}
	p.lastState.Store(events.StateIdle)
	return p, nil
}

// Run consumes source until its chunk channel closes or ctx is cancelled, then
// shuts down in order: the detector is force-flushed so buffered speech is
// not lost, the queue is closed, and already-queued segments are decoded to
// completion even if ctx is cancelled. Finally the detector and transcriber
// are reset so a subsequent Run starts clean.
//
// Run returns nil on a clean drain (EOF or cancellation) and the first
// unrecoverable error otherwise.
func (p *Pipeline) Run(ctx context.Context, source audio.Source) error {
	p.publishState(events.StateIdle)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return p.vadLoop(gctx, source) })
	g.Go(func() error { return p.decodeLoop(gctx) })
	err := g.Wait()

	p.cfg.Detector.Reset()
	if rerr := p.cfg.Transcriber.Reset(); rerr != nil {
		p.logger.Warn("transcriber reset failed", "error", rerr)
	}
	p.publishState(events.StateIdle)

	if err != nil && (errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)) {
		return nil
	}
	return err
}

// vadLoop pulls chunks from source, windows them, and feeds the detector.
// It owns queue and is the only closer of it.
func (p *Pipeline) vadLoop(ctx context.Context, source audio.Source) error {
	defer close(p.queue)

	for {
		var chunk []float32
		select {
		case <-ctx.Done():
			p.flushInto()
			return ctx.Err()
		case c, ok := <-source.Chunks():
			if !ok {
				p.flushInto()
				return nil
			}
			chunk = c
		}

		for _, window := range p.windower.Push(chunk) {
			seg, ferr := p.cfg.Detector.Feed(window)
			if ferr != nil {
				p.logger.Warn("vad window failed, skipping", "error", ferr)
				continue
			}
			p.recording.Store(p.cfg.Detector.Triggered())
			p.refreshState()
			if seg != nil {
				p.enqueue(*seg)
			}
		}
	}
}

// flushInto force-flushes the detector and queues whatever it held.
func (p *Pipeline) flushInto() {
	if rem := p.windower.Flush(); len(rem) > 0 {
		// A final partial window cannot be scored; pad it so trailing
		// speech still reaches the detector.
		padded := make([]float32, audio.DefaultWindowSize)
		copy(padded, rem)
		if seg, err := p.cfg.Detector.Feed(padded); err == nil && seg != nil {
			p.enqueue(*seg)
		}
	}
	if seg := p.cfg.Detector.Flush(); seg != nil {
		p.enqueue(*seg)
	}
	p.recording.Store(false)
}

// enqueue adds seg to the decode queue, dropping the oldest waiting segment
// when the queue is full.
func (p *Pipeline) enqueue(seg detector.Segment) {
	p.cfg.Bus.Publish(events.Event{
		Type: events.TypeSegmentCompleted,
		Segment: &events.SegmentInfo{
			Start:       seg.Start,
			Duration:    seg.Duration(),
			SampleCount: len(seg.Samples),
			Forced:      seg.Forced,
		},
	})

	for {
		select {
		case p.queue <- seg:
			p.decodesPending.Add(1)
			p.refreshState()
			return
		default:
		}
		select {
		case dropped, ok := <-p.queue:
			if !ok {
				return
			}
			p.decodesPending.Add(-1)
			p.logger.Warn("decode queue full, dropping oldest segment",
				"dropped_duration", dropped.Duration())
			p.cfg.Bus.Publish(events.Event{
				Type: events.TypeSegmentDropped,
				Segment: &events.SegmentInfo{
					Start:       dropped.Start,
					Duration:    dropped.Duration(),
					SampleCount: len(dropped.Samples),
					Forced:      dropped.Forced,
				},
			})
		default:
			// Decoder grabbed a slot between our two selects; retry the send.
		}
	}
}

// decodeLoop drains the queue until the VAD loop closes it. Decode failures
// are reported as error-state events, not loop-fatal: the next segment may
// succeed on a demoted tier.
//
// Each decode runs under [context.WithoutCancel] so that segments already
// accepted survive shutdown; the transcriber's own decode timeout bounds how
// long that can take.
func (p *Pipeline) decodeLoop(ctx context.Context) error {
	decodeCtx := context.WithoutCancel(ctx)
	for seg := range p.queue {
		p.decodeOne(decodeCtx, seg)
	}
	return nil
}

func (p *Pipeline) decodeOne(ctx context.Context, seg detector.Segment) {
	defer func() {
		p.decodesPending.Add(-1)
		p.refreshState()
	}()

	ctx, span := observe.StartSpan(ctx, "decode-segment")
	defer span.End()

	res, err := p.cfg.Transcriber.Transcribe(ctx, seg.Samples)
	if err != nil {
		p.logger.Error("segment decode failed", "error", err,
			"duration", seg.Duration())
		p.publishState(events.StateError)
		return
	}

	text := res.Text
	if p.cfg.Corrector != nil {
		text = p.cfg.Corrector.Apply(text)
	}
	if strings.TrimSpace(text) == "" {
		// Blank-only decode: nothing to announce.
		return
	}

	p.cfg.Bus.Publish(events.Event{
		Type: events.TypeTranscription,
		Transcription: &events.TranscriptionInfo{
			Text:          text,
			Model:         p.cfg.Transcriber.ActiveTier(),
			AudioDuration: res.Stats.AudioDuration,
			DecodeTime:    res.Stats.DecodeTime,
			Symbols:       res.Stats.Symbols,
		},
	})
}

// refreshState republishes the pipeline state when it changed. Recording wins
// over processing so the mic indicator never flickers off mid-utterance.
func (p *Pipeline) refreshState() {
	state := events.StateIdle
	switch {
	case p.recording.Load():
		state = events.StateRecording
	case p.decodesPending.Load() > 0:
		state = events.StateProcessing
	}
	p.publishState(state)
}

func (p *Pipeline) publishState(state string) {
	if prev := p.lastState.Swap(state); prev == state {
		return
	}
	p.cfg.Bus.Publish(events.Event{
		Type:  events.TypeStateChanged,
		State: state,
	})
}
