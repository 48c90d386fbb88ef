package decoder

import (
	"context"
	"errors"
	"testing"

	"github.com/MrWong99/voxd/pkg/provider/asr"
)

// stubModel scripts encoder frames and per-step joint outputs. Each step
// consumes one scripted (token, duration) pair; the joint logits are built
// so argmax lands on the scripted values.
type stubModel struct {
	vocab     *asr.Vocabulary
	durations []int
	frames    int
	steps     []step

	encodeErr  error
	predictErr error

	stepIdx      int
	predictCalls []int
}

type step struct {
	token    int
	duration int // index into durations
}

func newStubVocab() *asr.Vocabulary {
	// IDs: 0 "▁hi", 1 "▁there", 2 "x", 3 <blk>
	return asr.NewVocabulary([]string{"▁hi", "▁there", "x", "<blk>"}, 3, -1)
}

func (m *stubModel) Encode(ctx context.Context, samples []float32) ([][]float32, error) {
	if m.encodeErr != nil {
		return nil, m.encodeErr
	}
	frames := make([][]float32, m.frames)
	for i := range frames {
		frames[i] = []float32{0}
	}
	return frames, nil
}

func (m *stubModel) NewPredictorState() asr.PredictorState { return 0 }

func (m *stubModel) Predict(state asr.PredictorState, token int) ([]float32, asr.PredictorState, error) {
	if m.predictErr != nil {
		return nil, nil, m.predictErr
	}
	m.predictCalls = append(m.predictCalls, token)
	return []float32{0}, state, nil
}

func (m *stubModel) Joint(encoderFrame, predictorOut []float32) ([]float32, error) {
	logits := make([]float32, m.vocab.Size()+len(m.durations))
	for i := range logits {
		logits[i] = -10
	}
	s := m.steps[m.stepIdx]
	if m.stepIdx < len(m.steps)-1 {
		m.stepIdx++
	}
	logits[s.token] = 10
	if len(m.durations) > 0 {
		logits[m.vocab.Size()+s.duration] = 10
	}
	return logits, nil
}

func (m *stubModel) Vocabulary() *asr.Vocabulary { return m.vocab }
func (m *stubModel) Durations() []int            { return m.durations }
func (m *stubModel) Close() error                { return nil }

func TestGreedyBlankOnlyYieldsEmptyText(t *testing.T) {
	m := &stubModel{
		vocab:     newStubVocab(),
		durations: []int{0, 1, 2, 3, 4},
		frames:    5,
		steps:     []step{{token: 3, duration: 1}},
	}
	g := NewGreedy(m, "stub")

	res, err := g.Transcribe(context.Background(), make([]float32, 8000))
	if err != nil {
		t.Fatalf("Transcribe: %v", err)
	}
	if res.Text != "" {
		t.Errorf("expected empty text, got %q", res.Text)
	}
	if res.Stats.Symbols != 0 {
		t.Errorf("expected 0 symbols, got %d", res.Stats.Symbols)
	}
	if res.Stats.EncoderFrames != 5 {
		t.Errorf("expected 5 encoder frames, got %d", res.Stats.EncoderFrames)
	}
}

func TestGreedyEmitsTokensAndSkipsByDuration(t *testing.T) {
	// Frame 0 emits token 0 with duration 2, frame 2 emits token 1 with
	// duration 2, frame 4 is blank.
	m := &stubModel{
		vocab:     newStubVocab(),
		durations: []int{0, 1, 2, 3, 4},
		frames:    5,
		steps: []step{
			{token: 0, duration: 2},
			{token: 1, duration: 2},
			{token: 3, duration: 1},
		},
	}
	g := NewGreedy(m, "stub")

	res, err := g.Transcribe(context.Background(), make([]float32, 8000))
	if err != nil {
		t.Fatalf("Transcribe: %v", err)
	}
	if res.Text != "hi there" {
		t.Errorf("expected %q, got %q", "hi there", res.Text)
	}
	if len(res.TokenIDs) != 2 {
		t.Errorf("expected 2 tokens, got %v", res.TokenIDs)
	}
	// Predictor saw the blank primer plus both emitted tokens.
	want := []int{3, 0, 1}
	if len(m.predictCalls) != len(want) {
		t.Fatalf("expected predict calls %v, got %v", want, m.predictCalls)
	}
	for i, tok := range want {
		if m.predictCalls[i] != tok {
			t.Errorf("predict call %d: expected token %d, got %d", i, tok, m.predictCalls[i])
		}
	}
}

func TestGreedyBlankWithZeroDurationStillAdvances(t *testing.T) {
	m := &stubModel{
		vocab:     newStubVocab(),
		durations: []int{0, 1, 2, 3, 4},
		frames:    3,
		steps:     []step{{token: 3, duration: 0}},
	}
	g := NewGreedy(m, "stub")

	// Would loop forever if blank did not force progress.
	if _, err := g.Transcribe(context.Background(), make([]float32, 8000)); err != nil {
		t.Fatalf("Transcribe: %v", err)
	}
}

func TestGreedyMaxSymbolsPerFrameGuard(t *testing.T) {
	// The model emits token 2 with duration 0 forever.
	m := &stubModel{
		vocab:     newStubVocab(),
		durations: []int{0, 1, 2, 3, 4},
		frames:    2,
		steps:     []step{{token: 2, duration: 0}},
	}
	g := NewGreedy(m, "stub", WithMaxSymbolsPerFrame(3))

	res, err := g.Transcribe(context.Background(), make([]float32, 8000))
	if err != nil {
		t.Fatalf("Transcribe: %v", err)
	}
	// 3 symbols per frame across 2 frames.
	if res.Stats.Symbols != 6 {
		t.Errorf("expected 6 symbols under guard, got %d", res.Stats.Symbols)
	}
}

func TestGreedyPlainRNNTWithoutDurations(t *testing.T) {
	// No duration head: token stays on the frame, blank advances by one.
	m := &stubModel{
		vocab:  newStubVocab(),
		frames: 2,
		steps: []step{
			{token: 0},
			{token: 3},
			{token: 1},
			{token: 3},
		},
	}
	g := NewGreedy(m, "stub")

	res, err := g.Transcribe(context.Background(), make([]float32, 8000))
	if err != nil {
		t.Fatalf("Transcribe: %v", err)
	}
	if res.Text != "hi there" {
		t.Errorf("expected %q, got %q", "hi there", res.Text)
	}
}

func TestGreedyEncodeErrorPropagates(t *testing.T) {
	sentinel := errors.New("boom")
	m := &stubModel{
		vocab:     newStubVocab(),
		durations: []int{0, 1},
		encodeErr: &asr.DeviceError{Err: sentinel},
	}
	g := NewGreedy(m, "stub")

	_, err := g.Transcribe(context.Background(), make([]float32, 8000))
	if !asr.IsDeviceError(err) {
		t.Fatalf("expected device error, got %v", err)
	}
}

func TestGreedyContextCancellation(t *testing.T) {
	m := &stubModel{
		vocab:     newStubVocab(),
		durations: []int{0, 1, 2, 3, 4},
		frames:    100,
		steps:     []step{{token: 3, duration: 1}},
	}
	g := NewGreedy(m, "stub")

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := g.Transcribe(ctx, make([]float32, 8000)); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}

func TestGreedyEmptyEncodingYieldsEmptyResult(t *testing.T) {
	m := &stubModel{
		vocab:     newStubVocab(),
		durations: []int{0, 1},
		frames:    0,
	}
	g := NewGreedy(m, "stub")

	res, err := g.Transcribe(context.Background(), make([]float32, 100))
	if err != nil {
		t.Fatalf("Transcribe: %v", err)
	}
	if res.Text != "" || res.Stats.EncoderFrames != 0 {
		t.Errorf("expected empty result, got %+v", res)
	}
}
