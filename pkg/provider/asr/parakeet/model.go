// Package parakeet loads a NeMo Parakeet-TDT ONNX export (encoder.onnx,
// decoder.onnx, joiner.onnx, tokens.txt) and implements
// [asr.TransducerModel] on top of ONNX Runtime. The greedy decode itself
// lives elsewhere; this package only exposes the three networks.
package parakeet

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sync"

	ort "github.com/yalue/onnxruntime_go"

	"github.com/MrWong99/voxd/pkg/provider/asr"
	"github.com/MrWong99/voxd/pkg/provider/onnxrt"
)

// Prediction-network state layout of the NeMo export: two LSTM state
// tensors of shape (2, 1, 640) each.
const (
	predLayers   = 2
	predHidden   = 640
	predStateLen = predLayers * 1 * predHidden
)

// Config describes one Parakeet model directory and where to run it.
type Config struct {
	// ModelDir contains encoder.onnx, decoder.onnx, joiner.onnx and
	// tokens.txt.
	ModelDir string

	// UseCUDA selects GPU inference on DeviceID; otherwise the model runs
	// on CPU with CPUThreads intra-op threads.
	UseCUDA    bool
	DeviceID   int
	CPUThreads int

	// Durations are the duration bins of the joiner head in logit order.
	// Empty means the default TDT export bins [0 1 2 3 4].
	Durations []int
}

// DefaultDurations are the duration bins of the standard Parakeet-TDT
// exports.
var DefaultDurations = []int{0, 1, 2, 3, 4}

// Model is a loaded Parakeet ensemble. Encode, Predict and Joint may be
// called from one decode goroutine at a time; Close may race with nothing.
type Model struct {
	cfg      Config
	vocab    *asr.Vocabulary
	features *featureExtractor

	encoder *ort.DynamicAdvancedSession
	decoder *ort.DynamicAdvancedSession
	joiner  *ort.DynamicAdvancedSession

	// jointWidth is the validated joiner logit width, or 0 when the export
	// declares the dimension dynamically and validation happens on the
	// first Joint call.
	jointWidth int

	closeOnce sync.Once
	closeErr  error
}

var _ asr.TransducerModel = (*Model)(nil)

// NewModel loads the ensemble. The ONNX Runtime environment must already be
// initialized via [onnxrt.Init]. Loading fails if tokens.txt has no blank
// entry or if the joiner's declared logit width disagrees with the token
// table plus duration bins.
func NewModel(cfg Config) (*Model, error) {
	if len(cfg.Durations) == 0 {
		cfg.Durations = DefaultDurations
	}

	vocab, err := asr.LoadVocabulary(filepath.Join(cfg.ModelDir, "tokens.txt"))
	if err != nil {
		return nil, err
	}

	m := &Model{
		cfg:      cfg,
		vocab:    vocab,
		features: newFeatureExtractor(defaultFeatureConfig()),
	}

	opts, err := onnxrt.NewSessionOptions(cfg.UseCUDA, cfg.DeviceID, cfg.CPUThreads)
	if err != nil {
		return nil, err
	}
	defer opts.Destroy()

	joinerPath := filepath.Join(cfg.ModelDir, "joiner.onnx")
	if err := m.validateJoinerWidth(joinerPath); err != nil {
		return nil, err
	}

	m.encoder, err = ort.NewDynamicAdvancedSession(
		filepath.Join(cfg.ModelDir, "encoder.onnx"),
		[]string{"audio_signal", "length"},
		[]string{"outputs", "encoded_lengths"},
		opts,
	)
	if err != nil {
		return nil, fmt.Errorf("parakeet: load encoder: %w", err)
	}

	m.decoder, err = ort.NewDynamicAdvancedSession(
		filepath.Join(cfg.ModelDir, "decoder.onnx"),
		[]string{"targets", "target_length", "states.1", "onnx::Slice_3"},
		[]string{"outputs", "prednet_lengths", "states", "162"},
		opts,
	)
	if err != nil {
		m.Close()
		return nil, fmt.Errorf("parakeet: load decoder: %w", err)
	}

	m.joiner, err = ort.NewDynamicAdvancedSession(
		joinerPath,
		[]string{"encoder_outputs", "decoder_outputs"},
		[]string{"outputs"},
		opts,
	)
	if err != nil {
		m.Close()
		return nil, fmt.Errorf("parakeet: load joiner: %w", err)
	}

	return m, nil
}

// validateJoinerWidth checks the joiner's declared output width against the
// token table and duration bins. A dynamic last dimension defers the check
// to the first Joint call.
func (m *Model) validateJoinerWidth(joinerPath string) error {
	_, outputs, err := ort.GetInputOutputInfo(joinerPath)
	if err != nil {
		return fmt.Errorf("parakeet: inspect joiner: %w", err)
	}
	want := m.vocab.Size() + len(m.cfg.Durations)
	for _, out := range outputs {
		if out.Name != "outputs" || len(out.Dimensions) == 0 {
			continue
		}
		last := out.Dimensions[len(out.Dimensions)-1]
		if last <= 0 {
			return nil // dynamic, validated on first Joint
		}
		if int(last) != want {
			return fmt.Errorf("parakeet: joiner emits %d logits, want %d (%d tokens + %d durations)",
				last, want, m.vocab.Size(), len(m.cfg.Durations))
		}
		m.jointWidth = want
		return nil
	}
	return nil
}

// wrapInferErr marks GPU-side inference failures as device errors so the
// tier policy can react to them.
func (m *Model) wrapInferErr(stage string, err error) error {
	err = fmt.Errorf("parakeet: %s inference: %w", stage, err)
	if m.cfg.UseCUDA {
		return &asr.DeviceError{Err: err}
	}
	return err
}

// Encode extracts log-mel features and runs the acoustic encoder, returning
// one vector per encoder output frame. Audio shorter than one feature frame
// returns no frames.
func (m *Model) Encode(ctx context.Context, samples []float32) ([][]float32, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	feats := m.features.extract(samples)
	if len(feats) == 0 {
		return nil, nil
	}

	numFrames := len(feats)
	featDim := len(feats[0])
	flat := make([]float32, 0, numFrames*featDim)
	for _, f := range feats {
		flat = append(flat, f...)
	}

	audioSignal, err := ort.NewTensor(ort.NewShape(1, int64(numFrames), int64(featDim)), flat)
	if err != nil {
		return nil, fmt.Errorf("parakeet: create audio tensor: %w", err)
	}
	defer audioSignal.Destroy()

	length, err := ort.NewTensor(ort.NewShape(1), []int64{int64(numFrames)})
	if err != nil {
		return nil, fmt.Errorf("parakeet: create length tensor: %w", err)
	}
	defer length.Destroy()

	outputs := []ort.Value{nil, nil}
	if err := m.encoder.Run([]ort.Value{audioSignal, length}, outputs); err != nil {
		return nil, m.wrapInferErr("encoder", err)
	}
	defer destroyAll(outputs)

	enc, ok := outputs[0].(*ort.Tensor[float32])
	if !ok {
		return nil, fmt.Errorf("parakeet: unexpected encoder output type %T", outputs[0])
	}
	shape := enc.GetShape()
	if len(shape) != 3 || shape[0] != 1 {
		return nil, fmt.Errorf("parakeet: unexpected encoder output shape %v", shape)
	}

	// Output layout is (1, encDim, T); transpose into per-frame vectors.
	encDim := int(shape[1])
	frames := int(shape[2])
	data := enc.GetData()
	out := make([][]float32, frames)
	for t := 0; t < frames; t++ {
		vec := make([]float32, encDim)
		for d := 0; d < encDim; d++ {
			vec[d] = data[d*frames+t]
		}
		out[t] = vec
	}
	return out, nil
}

// predState carries the two LSTM state tensors between Predict calls.
type predState struct {
	h1 []float32
	h2 []float32
}

// NewPredictorState returns zeroed LSTM states.
func (m *Model) NewPredictorState() asr.PredictorState {
	return &predState{
		h1: make([]float32, predStateLen),
		h2: make([]float32, predStateLen),
	}
}

// Predict advances the prediction network by one token. The returned state
// is a fresh value; the input state stays valid for retries.
func (m *Model) Predict(state asr.PredictorState, token int) ([]float32, asr.PredictorState, error) {
	st, ok := state.(*predState)
	if !ok {
		return nil, nil, fmt.Errorf("parakeet: foreign predictor state %T", state)
	}

	targets, err := ort.NewTensor(ort.NewShape(1, 1), []int32{int32(token)})
	if err != nil {
		return nil, nil, fmt.Errorf("parakeet: create targets tensor: %w", err)
	}
	defer targets.Destroy()

	targetLen, err := ort.NewTensor(ort.NewShape(1), []int32{1})
	if err != nil {
		return nil, nil, fmt.Errorf("parakeet: create target_length tensor: %w", err)
	}
	defer targetLen.Destroy()

	s1, err := ort.NewTensor(ort.NewShape(predLayers, 1, predHidden), st.h1)
	if err != nil {
		return nil, nil, fmt.Errorf("parakeet: create state tensor: %w", err)
	}
	defer s1.Destroy()

	s2, err := ort.NewTensor(ort.NewShape(predLayers, 1, predHidden), st.h2)
	if err != nil {
		return nil, nil, fmt.Errorf("parakeet: create state tensor: %w", err)
	}
	defer s2.Destroy()

	outputs := []ort.Value{nil, nil, nil, nil}
	if err := m.decoder.Run([]ort.Value{targets, targetLen, s1, s2}, outputs); err != nil {
		return nil, nil, m.wrapInferErr("decoder", err)
	}
	defer destroyAll(outputs)

	dec, ok := outputs[0].(*ort.Tensor[float32])
	if !ok {
		return nil, nil, fmt.Errorf("parakeet: unexpected decoder output type %T", outputs[0])
	}
	// Output layout is (1, predHidden, seq); seq is 1 here.
	predOut := make([]float32, predHidden)
	copy(predOut, dec.GetData()[:predHidden])

	next := &predState{
		h1: make([]float32, predStateLen),
		h2: make([]float32, predStateLen),
	}
	n1, ok1 := outputs[2].(*ort.Tensor[float32])
	n2, ok2 := outputs[3].(*ort.Tensor[float32])
	if !ok1 || !ok2 || len(n1.GetData()) != predStateLen || len(n2.GetData()) != predStateLen {
		return nil, nil, errors.New("parakeet: decoder state outputs have unexpected layout")
	}
	copy(next.h1, n1.GetData())
	copy(next.h2, n2.GetData())

	return predOut, next, nil
}

// Joint combines one encoder frame with one predictor output and returns
// the full logit vector (vocabulary followed by duration bins).
func (m *Model) Joint(encoderFrame, predictorOut []float32) ([]float32, error) {
	encIn, err := ort.NewTensor(ort.NewShape(1, int64(len(encoderFrame)), 1), encoderFrame)
	if err != nil {
		return nil, fmt.Errorf("parakeet: create joiner encoder tensor: %w", err)
	}
	defer encIn.Destroy()

	decIn, err := ort.NewTensor(ort.NewShape(1, int64(len(predictorOut)), 1), predictorOut)
	if err != nil {
		return nil, fmt.Errorf("parakeet: create joiner decoder tensor: %w", err)
	}
	defer decIn.Destroy()

	outputs := []ort.Value{nil}
	if err := m.joiner.Run([]ort.Value{encIn, decIn}, outputs); err != nil {
		return nil, m.wrapInferErr("joiner", err)
	}
	defer destroyAll(outputs)

	joint, ok := outputs[0].(*ort.Tensor[float32])
	if !ok {
		return nil, fmt.Errorf("parakeet: unexpected joiner output type %T", outputs[0])
	}
	data := joint.GetData()

	want := m.vocab.Size() + len(m.cfg.Durations)
	if m.jointWidth == 0 {
		if len(data) != want {
			return nil, fmt.Errorf("parakeet: joiner emits %d logits, want %d (%d tokens + %d durations)",
				len(data), want, m.vocab.Size(), len(m.cfg.Durations))
		}
		m.jointWidth = want
	}

	logits := make([]float32, len(data))
	copy(logits, data)
	return logits, nil
}

// Vocabulary returns the loaded token table.
func (m *Model) Vocabulary() *asr.Vocabulary { return m.vocab }

// Durations returns the configured duration bins.
func (m *Model) Durations() []int { return m.cfg.Durations }

// Close destroys all three sessions. Safe to call more than once.
func (m *Model) Close() error {
	m.closeOnce.Do(func() {
		var errs []error
		for _, s := range []*ort.DynamicAdvancedSession{m.encoder, m.decoder, m.joiner} {
			if s != nil {
				if err := s.Destroy(); err != nil {
					errs = append(errs, err)
				}
			}
		}
		m.closeErr = errors.Join(errs...)
	})
	return m.closeErr
}

func destroyAll(values []ort.Value) {
	for _, v := range values {
		if v != nil {
			v.Destroy()
		}
	}
}
