// Package config provides the configuration schema, loader, hot-reload
// watcher, and engine registry for the voxd dictation daemon.
package config

import (
	"fmt"
	"time"

	"gopkg.in/yaml.v3"
)

// LogLevel controls log verbosity for the daemon.
type LogLevel string

const (
	LogDebug LogLevel = "debug"
	LogInfo  LogLevel = "info"
	LogWarn  LogLevel = "warn"
	LogError LogLevel = "error"
)

// IsValid reports whether l is a recognised log level.
func (l LogLevel) IsValid() bool {
	switch l {
	case LogDebug, LogInfo, LogWarn, LogError:
		return true
	}
	return false
}

// Engine selects the recognizer implementation backing a model tier.
type Engine string

const (
	// EngineParakeet runs a token-and-duration transducer exported to ONNX.
	EngineParakeet Engine = "parakeet"

	// EngineWhisper runs a ggml Whisper model through whisper.cpp.
	EngineWhisper Engine = "whisper"
)

// IsValid reports whether e is a recognised engine name.
func (e Engine) IsValid() bool {
	return e == EngineParakeet || e == EngineWhisper
}

// Duration wraps [time.Duration] with YAML support for strings like "500ms".
type Duration time.Duration

// UnmarshalYAML implements [yaml.Unmarshaler].
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var s string
	if err := value.Decode(&s); err != nil {
		return fmt.Errorf("config: duration must be a string like \"500ms\": %w", err)
	}
	parsed, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("config: parse duration %q: %w", s, err)
	}
	*d = Duration(parsed)
	return nil
}

// MarshalYAML implements [yaml.Marshaler].
func (d Duration) MarshalYAML() (any, error) {
	return time.Duration(d).String(), nil
}

// Std returns d as a [time.Duration].
func (d Duration) Std() time.Duration { return time.Duration(d) }

// Config is the root configuration structure for voxd.
// It is typically loaded from a YAML file using [Load] or [LoadFromReader].
type Config struct {
	Server      ServerConfig      `yaml:"server"`
	Audio       AudioConfig       `yaml:"audio"`
	VAD         VADConfig         `yaml:"vad"`
	Models      ModelsConfig      `yaml:"models"`
	Pipeline    PipelineConfig    `yaml:"pipeline"`
	Corrections CorrectionsConfig `yaml:"corrections"`
}

// ServerConfig holds the status endpoint and logging settings.
type ServerConfig struct {
	// ListenAddr is the TCP address the status server (/healthz, /readyz,
	// /metrics) listens on. Empty disables the status server.
	ListenAddr string `yaml:"listen_addr"`

	// LogLevel controls verbosity.
	LogLevel LogLevel `yaml:"log_level"`

	// TLS configures TLS for the status server. When nil, it runs plain HTTP.
	TLS *TLSConfig `yaml:"tls"`
}

// TLSConfig holds TLS certificate paths for enabling HTTPS.
type TLSConfig struct {
	// CertFile is the path to the PEM-encoded TLS certificate.
	CertFile string `yaml:"cert_file"`

	// KeyFile is the path to the PEM-encoded TLS private key.
	KeyFile string `yaml:"key_file"`
}

// AudioConfig describes where the sample stream comes from. voxd consumes
// raw little-endian float32 mono samples at 16 kHz; capture stays outside
// the daemon, e.g.
//
//	pw-record --format=f32 --rate=16000 --channels=1 - | voxd
type AudioConfig struct {
	// Input is the sample source: "-" for stdin (the default) or a path to
	// a FIFO / file carrying raw f32le samples.
	Input string `yaml:"input"`
}

// VADConfig configures the speech detector and its Silero session.
type VADConfig struct {
	// ModelPath is the Silero VAD ONNX model file. Required.
	ModelPath string `yaml:"model_path"`

	// Engine selects the registered VAD engine. Defaults to "silero".
	Engine string `yaml:"engine"`

	// Threshold is the speech probability cutoff in [0, 1]. Windows scoring
	// at or above it count as speech. Default 0.5.
	Threshold float32 `yaml:"threshold"`

	// MinSilence is the trailing silence that finalizes a segment.
	// Default 500ms.
	MinSilence Duration `yaml:"min_silence"`

	// MinSpeech discards speech runs shorter than this. Default 250ms.
	MinSpeech Duration `yaml:"min_speech"`

	// MaxSpeech force-finalizes segments at this length. Default 30s.
	MaxSpeech Duration `yaml:"max_speech"`
}

// ModelsConfig configures the recognizer tiers and the runtime they share.
type ModelsConfig struct {
	// ORTLibrary is the path to the ONNX Runtime shared library
	// (libonnxruntime.so). Required when any tier uses the parakeet engine.
	ORTLibrary string `yaml:"ort_library"`

	// DeviceID is the CUDA device ordinal used by GPU tiers and the memory
	// monitor.
	DeviceID int `yaml:"device_id"`

	// CPUThreads caps intra-op parallelism for CPU inference. Zero lets the
	// runtime decide.
	CPUThreads int `yaml:"cpu_threads"`

	// SafePercent is the projected GPU memory utilisation a tier may reach
	// and still be selected, in (0, 100]. Default 70.
	SafePercent float64 `yaml:"safe_percent"`

	// DecodeTimeout bounds a single segment decode. A decode exceeding it
	// counts as a device failure. Default 30s.
	DecodeTimeout Duration `yaml:"decode_timeout"`

	// Tiers lists recognizer tiers in descending preference order: the
	// first tier whose projected memory use fits is selected.
	Tiers []TierConfig `yaml:"tiers"`
}

// TierConfig describes one recognizer tier.
type TierConfig struct {
	// Name identifies the tier in logs, events, and metrics. Required and
	// unique.
	Name string `yaml:"name"`

	// Engine selects the recognizer implementation.
	Engine Engine `yaml:"engine"`

	// Path is the model location: a directory of ONNX exports for
	// parakeet, a ggml file for whisper. Required.
	Path string `yaml:"path"`

	// FootprintMB is the tier's expected GPU memory footprint in MiB.
	// Zero means the tier runs on CPU and always fits.
	FootprintMB uint64 `yaml:"footprint_mb"`

	// UseCUDA places inference on the GPU. Implies a non-zero footprint
	// for meaningful tier selection.
	UseCUDA bool `yaml:"use_cuda"`

	// Language is the forced decode language for whisper tiers, e.g. "en".
	// Empty means auto-detect.
	Language string `yaml:"language"`
}

// PipelineConfig tunes the coordinator between capture and decode.
type PipelineConfig struct {
	// QueueSize bounds the decode queue; when full the oldest waiting
	// segment is dropped. Default 4.
	QueueSize int `yaml:"queue_size"`
}

// CorrectionsConfig points at the user's correction rules.
type CorrectionsConfig struct {
	// Path is the corrections YAML file. Empty disables corrections. A
	// missing file is not an error; rules apply once the file appears and
	// the config is reloaded.
	Path string `yaml:"path"`
}
