// Package decoder turns an [asr.TransducerModel] into an [asr.Recognizer]
// via greedy token-and-duration search: each step picks the best token and
// the best duration independently, emits the token if it is not blank, and
// advances the encoder frame cursor by the predicted duration.
package decoder

import (
	"context"
	"fmt"
	"time"

	"github.com/MrWong99/voxd/pkg/audio"
	"github.com/MrWong99/voxd/pkg/provider/asr"
)

// defaultMaxSymbols caps the tokens emitted without advancing the frame
// cursor. A degenerate model predicting duration zero forever would
// otherwise loop on one frame.
const defaultMaxSymbols = 10

// Greedy is a greedy transducer decoder. It is not safe for concurrent
// Transcribe calls; the model manager serializes decodes.
type Greedy struct {
	model      asr.TransducerModel
	name       string
	maxSymbols int
}

var _ asr.Recognizer = (*Greedy)(nil)

// Option is a functional option for configuring a Greedy decoder.
type Option func(*Greedy)

// WithMaxSymbolsPerFrame overrides the per-frame emission cap.
func WithMaxSymbolsPerFrame(n int) Option {
	return func(g *Greedy) {
		if n > 0 {
			g.maxSymbols = n
		}
	}
}

// NewGreedy wraps model into a recognizer named name.
func NewGreedy(model asr.TransducerModel, name string, opts ...Option) *Greedy {
	g := &Greedy{
		model:      model,
		name:       name,
		maxSymbols: defaultMaxSymbols,
	}
	for _, o := range opts {
		o(g)
	}
	return g
}

// Name returns the recognizer name.
func (g *Greedy) Name() string { return g.name }

// Close closes the underlying model.
func (g *Greedy) Close() error { return g.model.Close() }

// Transcribe decodes one speech segment. A segment that decodes to blanks
// only returns an empty Text with a nil error.
func (g *Greedy) Transcribe(ctx context.Context, samples []float32) (asr.Result, error) {
	stats := asr.DecodeStats{AudioDuration: audio.Duration(len(samples))}

	encStart := time.Now()
	frames, err := g.model.Encode(ctx, samples)
	stats.EncodeTime = time.Since(encStart)
	if err != nil {
		return asr.Result{}, err
	}
	if len(frames) == 0 {
		return asr.Result{Stats: stats}, nil
	}
	stats.EncoderFrames = len(frames)

	vocab := g.model.Vocabulary()
	blank := vocab.BlankID()
	durations := g.model.Durations()
	vocabSize := vocab.Size()

	decStart := time.Now()

	// Prime the prediction network with blank, the transducer's
	// start-of-sequence convention.
	state := g.model.NewPredictorState()
	predOut, state, err := g.model.Predict(state, blank)
	if err != nil {
		return asr.Result{}, err
	}

	var tokens []int
	t := 0
	symbolsAtFrame := 0

	for t < len(frames) {
		if err := ctx.Err(); err != nil {
			return asr.Result{}, err
		}

		logits, err := g.model.Joint(frames[t], predOut)
		if err != nil {
			return asr.Result{}, err
		}
		if len(logits) < vocabSize+len(durations) {
			return asr.Result{}, fmt.Errorf("decoder: joint emitted %d logits, want %d",
				len(logits), vocabSize+len(durations))
		}

		token := argmax(logits[:vocabSize])

		// Duration bins follow the vocabulary in the logit vector. A model
		// without a duration head behaves like plain RNN-T: blank advances
		// one frame, tokens stay.
		advance := 0
		if len(durations) > 0 {
			advance = durations[argmax(logits[vocabSize:vocabSize+len(durations)])]
		}

		if token == blank {
			// Blank always makes progress, whatever the duration head says.
			if advance < 1 {
				advance = 1
			}
			t += advance
			symbolsAtFrame = 0
			continue
		}

		tokens = append(tokens, token)
		predOut, state, err = g.model.Predict(state, token)
		if err != nil {
			return asr.Result{}, err
		}

		symbolsAtFrame++
		if advance == 0 && symbolsAtFrame >= g.maxSymbols {
			// Emission cap reached on this frame; force the cursor forward.
			advance = 1
		}
		if advance > 0 {
			t += advance
			symbolsAtFrame = 0
		}
	}

	stats.DecodeTime = time.Since(decStart)
	stats.Symbols = len(tokens)

	return asr.Result{
		Text:     vocab.Decode(tokens),
		TokenIDs: tokens,
		Stats:    stats,
	}, nil
}

func argmax(v []float32) int {
	best := 0
	for i := 1; i < len(v); i++ {
		if v[i] > v[best] {
			best = i
		}
	}
	return best
}
