package config

import (
	"strings"
	"testing"
	"time"

	"github.com/MrWong99/voxd/pkg/provider/asr"
	asrmock "github.com/MrWong99/voxd/pkg/provider/asr/mock"
	"github.com/MrWong99/voxd/pkg/provider/vad"
	vadmock "github.com/MrWong99/voxd/pkg/provider/vad/mock"
)

const sampleYAML = `
server:
  listen_addr: "127.0.0.1:9090"
  log_level: debug
audio:
  input: "-"
vad:
  model_path: /models/silero_vad.onnx
  threshold: 0.6
  min_silence: "400ms"
models:
  ort_library: /usr/lib/libonnxruntime.so
  device_id: 0
  safe_percent: 70
  decode_timeout: "20s"
  tiers:
    - name: parakeet-tdt-1.1b
      engine: parakeet
      path: /models/parakeet-1.1b
      footprint_mb: 4500
      use_cuda: true
    - name: whisper-base
      engine: whisper
      path: /models/ggml-base.bin
      language: en
pipeline:
  queue_size: 8
corrections:
  path: /home/user/.config/voxd/corrections.yaml
`

func TestLoadFromReader(t *testing.T) {
	cfg, err := LoadFromReader(strings.NewReader(sampleYAML))
	if err != nil {
		t.Fatalf("LoadFromReader: %v", err)
	}

	if cfg.Server.ListenAddr != "127.0.0.1:9090" {
		t.Errorf("ListenAddr = %q", cfg.Server.ListenAddr)
	}
	if cfg.VAD.Threshold != 0.6 {
		t.Errorf("Threshold = %v", cfg.VAD.Threshold)
	}
	if cfg.VAD.MinSilence.Std() != 400*time.Millisecond {
		t.Errorf("MinSilence = %s", cfg.VAD.MinSilence.Std())
	}
	if cfg.Models.DecodeTimeout.Std() != 20*time.Second {
		t.Errorf("DecodeTimeout = %s", cfg.Models.DecodeTimeout.Std())
	}
	if len(cfg.Models.Tiers) != 2 {
		t.Fatalf("tiers = %d, want 2", len(cfg.Models.Tiers))
	}
	if cfg.Models.Tiers[0].Engine != EngineParakeet || !cfg.Models.Tiers[0].UseCUDA {
		t.Errorf("tier[0] = %+v", cfg.Models.Tiers[0])
	}
	if cfg.Models.Tiers[1].Language != "en" {
		t.Errorf("tier[1].Language = %q", cfg.Models.Tiers[1].Language)
	}
	if cfg.Pipeline.QueueSize != 8 {
		t.Errorf("QueueSize = %d", cfg.Pipeline.QueueSize)
	}
}

func TestLoadFromReaderAppliesDefaults(t *testing.T) {
	minimal := `
vad:
  model_path: /models/silero_vad.onnx
models:
  tiers:
    - name: whisper-base
      engine: whisper
      path: /models/ggml-base.bin
`
	cfg, err := LoadFromReader(strings.NewReader(minimal))
	if err != nil {
		t.Fatalf("LoadFromReader: %v", err)
	}
	if cfg.Audio.Input != "-" {
		t.Errorf("Input = %q, want -", cfg.Audio.Input)
	}
	if cfg.VAD.Engine != "silero" {
		t.Errorf("VAD.Engine = %q, want silero", cfg.VAD.Engine)
	}
	if cfg.VAD.Threshold != DefaultThreshold {
		t.Errorf("Threshold = %v", cfg.VAD.Threshold)
	}
	if cfg.VAD.MinSilence.Std() != DefaultMinSilence {
		t.Errorf("MinSilence = %s", cfg.VAD.MinSilence.Std())
	}
	if cfg.VAD.MaxSpeech.Std() != DefaultMaxSpeech {
		t.Errorf("MaxSpeech = %s", cfg.VAD.MaxSpeech.Std())
	}
	if cfg.Models.SafePercent != DefaultSafePercent {
		t.Errorf("SafePercent = %v", cfg.Models.SafePercent)
	}
	if cfg.Models.DecodeTimeout.Std() != DefaultDecodeTimeout {
		t.Errorf("DecodeTimeout = %s", cfg.Models.DecodeTimeout.Std())
	}
	if cfg.Pipeline.QueueSize != DefaultQueueSize {
		t.Errorf("QueueSize = %d", cfg.Pipeline.QueueSize)
	}
}

func TestLoadFromReaderKeepsExplicitZeroThreshold(t *testing.T) {
	explicit := `
vad:
  model_path: /models/silero_vad.onnx
  threshold: 0
models:
  tiers:
    - name: whisper-base
      engine: whisper
      path: /models/ggml-base.bin
`
	cfg, err := LoadFromReader(strings.NewReader(explicit))
	if err != nil {
		t.Fatalf("LoadFromReader: %v", err)
	}
	if cfg.VAD.Threshold != 0 {
		t.Errorf("Threshold = %v, want explicit 0 preserved", cfg.VAD.Threshold)
	}
}

func TestLoadFromReaderRejectsUnknownFields(t *testing.T) {
	bad := `
vad:
  model_path: /models/silero_vad.onnx
  sensitivity: high
models:
  tiers:
    - name: whisper-base
      engine: whisper
      path: /models/ggml-base.bin
`
	if _, err := LoadFromReader(strings.NewReader(bad)); err == nil {
		t.Fatal("expected error for unknown field \"sensitivity\"")
	}
}

func TestLoadFromReaderRejectsInvalidConfig(t *testing.T) {
	if _, err := LoadFromReader(strings.NewReader("models: {}\n")); err == nil {
		t.Fatal("expected validation error for empty config")
	}
}

func TestRegistryCreateVAD(t *testing.T) {
	reg := NewRegistry()
	eng := &vadmock.Engine{}
	reg.RegisterVAD("silero", func(cfg VADConfig) (vad.Engine, error) {
		return eng, nil
	})

	got, err := reg.CreateVAD(VADConfig{Engine: "silero"})
	if err != nil {
		t.Fatalf("CreateVAD: %v", err)
	}
	if got.(*vadmock.Engine) != eng {
		t.Error("CreateVAD returned a different engine")
	}

	if _, err := reg.CreateVAD(VADConfig{Engine: "webrtc"}); err == nil {
		t.Fatal("expected error for unregistered engine")
	}
}

func TestRegistryCreateASR(t *testing.T) {
	reg := NewRegistry()
	var gotTier TierConfig
	reg.RegisterASR(EngineWhisper, func(tier TierConfig) (asr.Recognizer, error) {
		gotTier = tier
		return &asrmock.Recognizer{}, nil
	})

	tier := TierConfig{Name: "whisper-base", Engine: EngineWhisper, Path: "/models/ggml-base.bin"}
	if _, err := reg.CreateASR(tier); err != nil {
		t.Fatalf("CreateASR: %v", err)
	}
	if gotTier != tier {
		t.Errorf("factory received %+v, want %+v", gotTier, tier)
	}

	if _, err := reg.CreateASR(TierConfig{Engine: EngineParakeet}); err == nil {
		t.Fatal("expected error for unregistered engine")
	}
}
