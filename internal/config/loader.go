package config

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Defaults applied by [LoadFromReader] before validation.
const (
	DefaultThreshold     = 0.5
	DefaultMinSilence    = 500 * time.Millisecond
	DefaultMinSpeech     = 250 * time.Millisecond
	DefaultMaxSpeech     = 30 * time.Second
	DefaultSafePercent   = 70.0
	DefaultDecodeTimeout = 30 * time.Second
	DefaultQueueSize     = 4
)

// Load reads the YAML configuration file at path and returns a validated
// [Config]. It is a convenience wrapper around [LoadFromReader].
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("config: open %q: %w", path, err)
	}
	defer f.Close()

	cfg, err := LoadFromReader(f)
	if err != nil {
		return nil, fmt.Errorf("config: parse %q: %w", path, err)
	}
	return cfg, nil
}

// LoadFromReader decodes a YAML config from r, applies defaults, and
// validates the result. Useful in tests where configs are constructed from
// string literals.
func LoadFromReader(r io.Reader) (*Config, error) {
	cfg := &Config{}
	// 0 is a legal threshold, so its default is seeded before decoding
	// instead of being patched over the zero value afterwards.
	cfg.VAD.Threshold = DefaultThreshold
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil {
		return nil, fmt.Errorf("config: decode yaml: %w", err)
	}
	applyDefaults(cfg)
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// applyDefaults fills zero values with the documented defaults.
func applyDefaults(cfg *Config) {
	if cfg.Audio.Input == "" {
		cfg.Audio.Input = "-"
	}
	if cfg.VAD.Engine == "" {
		cfg.VAD.Engine = "silero"
	}
	if cfg.VAD.MinSilence == 0 {
		cfg.VAD.MinSilence = Duration(DefaultMinSilence)
	}
	if cfg.VAD.MinSpeech == 0 {
		cfg.VAD.MinSpeech = Duration(DefaultMinSpeech)
	}
	if cfg.VAD.MaxSpeech == 0 {
		cfg.VAD.MaxSpeech = Duration(DefaultMaxSpeech)
	}
	if cfg.Models.SafePercent == 0 {
		cfg.Models.SafePercent = DefaultSafePercent
	}
	if cfg.Models.DecodeTimeout == 0 {
		cfg.Models.DecodeTimeout = Duration(DefaultDecodeTimeout)
	}
	if cfg.Pipeline.QueueSize == 0 {
		cfg.Pipeline.QueueSize = DefaultQueueSize
	}
}

// Validate checks that cfg contains a coherent set of values.
// It returns a joined error listing all validation failures found.
func Validate(cfg *Config) error {
	var errs []error

	if cfg.Server.LogLevel != "" && !cfg.Server.LogLevel.IsValid() {
		errs = append(errs, fmt.Errorf("server.log_level %q is invalid; valid values: debug, info, warn, error", cfg.Server.LogLevel))
	}
	if cfg.Server.TLS != nil {
		if cfg.Server.TLS.CertFile == "" || cfg.Server.TLS.KeyFile == "" {
			errs = append(errs, errors.New("server.tls requires both cert_file and key_file"))
		}
	}

	// VAD
	if cfg.VAD.ModelPath == "" {
		errs = append(errs, errors.New("vad.model_path is required"))
	}
	if cfg.VAD.Threshold < 0 || cfg.VAD.Threshold > 1 {
		errs = append(errs, fmt.Errorf("vad.threshold %v is out of range [0, 1]", cfg.VAD.Threshold))
	}
	if cfg.VAD.MinSilence <= 0 {
		errs = append(errs, errors.New("vad.min_silence must be positive"))
	}
	if cfg.VAD.MinSpeech <= 0 {
		errs = append(errs, errors.New("vad.min_speech must be positive"))
	}
	if cfg.VAD.MaxSpeech <= 0 {
		errs = append(errs, errors.New("vad.max_speech must be positive"))
	}
	if cfg.VAD.MinSpeech > cfg.VAD.MaxSpeech {
		errs = append(errs, fmt.Errorf("vad.min_speech %s exceeds vad.max_speech %s",
			cfg.VAD.MinSpeech.Std(), cfg.VAD.MaxSpeech.Std()))
	}

	// Models
	if cfg.Models.SafePercent <= 0 || cfg.Models.SafePercent > 100 {
		errs = append(errs, fmt.Errorf("models.safe_percent %v is out of range (0, 100]", cfg.Models.SafePercent))
	}
	if cfg.Models.DecodeTimeout <= 0 {
		errs = append(errs, errors.New("models.decode_timeout must be positive"))
	}
	if len(cfg.Models.Tiers) == 0 {
		errs = append(errs, errors.New("models.tiers must list at least one tier"))
	}

	tierNamesSeen := make(map[string]int, len(cfg.Models.Tiers))
	needsORT := false
	for i, tier := range cfg.Models.Tiers {
		prefix := fmt.Sprintf("models.tiers[%d]", i)
		if tier.Name == "" {
			errs = append(errs, fmt.Errorf("%s.name is required", prefix))
		} else {
			if prev, ok := tierNamesSeen[tier.Name]; ok {
				errs = append(errs, fmt.Errorf("%s.name %q is a duplicate of models.tiers[%d]", prefix, tier.Name, prev))
			}
			tierNamesSeen[tier.Name] = i
		}
		if !tier.Engine.IsValid() {
			errs = append(errs, fmt.Errorf("%s.engine %q is invalid; valid values: parakeet, whisper", prefix, tier.Engine))
		}
		if tier.Path == "" {
			errs = append(errs, fmt.Errorf("%s.path is required", prefix))
		}
		if tier.Engine == EngineParakeet {
			needsORT = true
		}
		if tier.UseCUDA && tier.FootprintMB == 0 {
			slog.Warn("CUDA tier has no memory footprint; it will always pass tier selection",
				"tier", tier.Name)
		}
		if !tier.UseCUDA && tier.FootprintMB > 0 {
			slog.Warn("CPU tier declares a GPU memory footprint; it counts against tier selection",
				"tier", tier.Name, "footprint_mb", tier.FootprintMB)
		}
	}
	if needsORT && cfg.Models.ORTLibrary == "" {
		errs = append(errs, errors.New("models.ort_library is required when a tier uses the parakeet engine"))
	}

	// Pipeline
	if cfg.Pipeline.QueueSize < 1 {
		errs = append(errs, fmt.Errorf("pipeline.queue_size %d must be at least 1", cfg.Pipeline.QueueSize))
	}

	if cfg.Corrections.Path == "" {
		slog.Debug("corrections.path is empty; transcripts are published uncorrected")
	}

	return errors.Join(errs...)
}
