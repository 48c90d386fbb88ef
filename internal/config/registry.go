package config

import (
	"errors"
	"fmt"
	"sync"

	"github.com/MrWong99/voxd/pkg/provider/asr"
	"github.com/MrWong99/voxd/pkg/provider/vad"
)

// ErrProviderNotRegistered is returned by Create* methods when no factory has
// been registered under the requested name.
var ErrProviderNotRegistered = errors.New("config: provider not registered")

// Registry maps engine names to their constructor functions. VAD engines are
// created once at startup; ASR factories are handed to the model manager as
// tier loaders so a tier's recognizer is only instantiated when the tier is
// selected. It is safe for concurrent use.
type Registry struct {
	mu  sync.RWMutex
	vad map[string]func(VADConfig) (vad.Engine, error)
	asr map[Engine]func(TierConfig) (asr.Recognizer, error)
}

// NewRegistry returns an empty, ready-to-use [Registry].
func NewRegistry() *Registry {
	return &Registry{
		vad: make(map[string]func(VADConfig) (vad.Engine, error)),
		asr: make(map[Engine]func(TierConfig) (asr.Recognizer, error)),
	}
}

// RegisterVAD registers a VAD engine factory under name.
// Subsequent calls with the same name overwrite the previous registration.
func (r *Registry) RegisterVAD(name string, factory func(VADConfig) (vad.Engine, error)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.vad[name] = factory
}

// RegisterASR registers a recognizer factory for engine.
func (r *Registry) RegisterASR(engine Engine, factory func(TierConfig) (asr.Recognizer, error)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.asr[engine] = factory
}

// CreateVAD instantiates a VAD engine using the factory registered under
// cfg.Engine. Returns [ErrProviderNotRegistered] if no factory has been
// registered for that name.
func (r *Registry) CreateVAD(cfg VADConfig) (vad.Engine, error) {
	r.mu.RLock()
	factory, ok := r.vad[cfg.Engine]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: vad/%q", ErrProviderNotRegistered, cfg.Engine)
	}
	return factory(cfg)
}

// CreateASR instantiates a recognizer for tier using the factory registered
// under tier.Engine.
func (r *Registry) CreateASR(tier TierConfig) (asr.Recognizer, error) {
	r.mu.RLock()
	factory, ok := r.asr[tier.Engine]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: asr/%q", ErrProviderNotRegistered, tier.Engine)
	}
	return factory(tier)
}
