// Package modelmgr owns the recognizer tiers and decides which one serves
// each segment. Selection is memory-driven: at startup the largest tier
// whose footprint keeps projected GPU utilisation inside the safe band
// wins. At runtime a device failure costs one retry after releasing
// caches, then a permanent demotion to the next smaller tier. Demotions
// are recoverable events, never fatal ones.
package modelmgr

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/MrWong99/voxd/internal/events"
	"github.com/MrWong99/voxd/internal/gpu"
	"github.com/MrWong99/voxd/pkg/provider/asr"
)

// ErrNoTier is returned when every tier has failed or none was configured.
var ErrNoTier = errors.New("modelmgr: no usable model tier")

// Tier describes one recognizer candidate. Tiers are ordered largest and
// most accurate first; a CPU tier has FootprintMB 0 and always fits.
type Tier struct {
	// Name identifies the tier in events and logs,
	// e.g. "parakeet-tdt-1.1b".
	Name string

	// FootprintMB is the resident accelerator memory the tier needs.
	// Zero marks a CPU-resident tier.
	FootprintMB uint64

	// Load builds the tier's recognizer. Called lazily when the tier
	// becomes active; the manager closes what it loaded.
	Load func() (asr.Recognizer, error)
}

// Config wires a Manager.
type Config struct {
	// Tiers is the candidate list, largest first. Must not be empty.
	Tiers []Tier

	// Sampler provides GPU memory snapshots. A nil sampler means no
	// accelerator: only footprint-zero tiers are eligible.
	Sampler gpu.Sampler

	// SafePercent is the utilisation ceiling a tier's projected footprint
	// must stay under at selection time. Defaults to 70.
	SafePercent float64

	// DecodeTimeout bounds one decode attempt. Exceeding it counts as a
	// device failure for the demotion policy. Defaults to 30s.
	DecodeTimeout time.Duration

	// ReleaseCaches, when set, is invoked before a retry and under memory
	// pressure to drop non-essential allocations.
	ReleaseCaches func()

	// Bus receives model_changed and resource_band events. Optional.
	Bus *events.Bus

	Logger *slog.Logger
}

// Manager serializes decodes against the active tier and applies the
// retry/demote policy. All methods are safe for concurrent use; decodes
// themselves run one at a time.
type Manager struct {
	cfg Config
	log *slog.Logger

	mu         sync.Mutex
	active     int
	initial    int
	recognizer asr.Recognizer
	lastBand   gpu.Band
	bandKnown  bool
	closed     bool
}

// New validates cfg and selects the initial tier. The selected tier's
// recognizer is loaded eagerly so misconfiguration fails before any audio
// is processed.
func New(cfg Config) (*Manager, error) {
	if len(cfg.Tiers) == 0 {
		return nil, ErrNoTier
	}
	if cfg.SafePercent <= 0 {
		cfg.SafePercent = 70
	}
	if cfg.DecodeTimeout <= 0 {
		cfg.DecodeTimeout = 30 * time.Second
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	m := &Manager{cfg: cfg, log: cfg.Logger}

	idx := m.selectTier()
	if idx < 0 {
		return nil, ErrNoTier
	}
	rec, err := cfg.Tiers[idx].Load()
	if err != nil {
		return nil, fmt.Errorf("modelmgr: load tier %s: %w", cfg.Tiers[idx].Name, err)
	}
	m.active = idx
	m.initial = idx
	m.recognizer = rec

	m.log.Info("model tier selected",
		"tier", cfg.Tiers[idx].Name,
		"footprint_mb", cfg.Tiers[idx].FootprintMB)
	m.publishModelChange(cfg.Tiers[idx].Name, "", "initial selection")

	return m, nil
}

// selectTier returns the index of the largest tier whose projected
// footprint stays inside the safe band, or the first footprint-zero tier
// when nothing fits, or -1.
func (m *Manager) selectTier() int {
	var sample gpu.Sample
	if m.cfg.Sampler != nil {
		s, err := m.cfg.Sampler.Sample()
		if err != nil {
			m.log.Warn("gpu sample failed, assuming no accelerator", "error", err)
		} else {
			sample = s
		}
	}

	for i, tier := range m.cfg.Tiers {
		if tier.FootprintMB == 0 {
			return i
		}
		if sample.TotalBytes == 0 {
			continue
		}
		projected := float64(sample.UsedBytes+tier.FootprintMB<<20) / float64(sample.TotalBytes) * 100
		if projected <= m.cfg.SafePercent {
			return i
		}
	}
	return -1
}

// ActiveTier returns the name of the tier serving decodes.
func (m *Manager) ActiveTier() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.cfg.Tiers[m.active].Name
}

// Transcribe decodes one segment on the active tier, applying the decode
// timeout and the retry/demote policy. The returned result always reports
// which tier produced it via the manager's event stream; an empty text is
// only ever a genuine blank decode, never a masked failure.
func (m *Manager) Transcribe(ctx context.Context, samples []float32) (asr.Result, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return asr.Result{}, errors.New("modelmgr: closed")
	}

	m.checkPressure()

	for {
		res, err := m.attempt(ctx, samples)
		if err == nil {
			return res, nil
		}
		if !isDeviceFailure(ctx, err) {
			return asr.Result{}, err
		}

		// First chance: drop caches and retry on the same tier once.
		m.log.Warn("decode failed on device, retrying after cache release",
			"tier", m.cfg.Tiers[m.active].Name, "error", err)
		m.releaseCaches()

		res, err = m.attempt(ctx, samples)
		if err == nil {
			return res, nil
		}
		if !isDeviceFailure(ctx, err) {
			return asr.Result{}, err
		}

		if err := m.demote(err); err != nil {
			return asr.Result{}, err
		}
	}
}

// attempt runs one bounded decode on the active tier.
func (m *Manager) attempt(ctx context.Context, samples []float32) (asr.Result, error) {
	ctx, cancel := context.WithTimeout(ctx, m.cfg.DecodeTimeout)
	defer cancel()
	return m.recognizer.Transcribe(ctx, samples)
}

// isDeviceFailure classifies an attempt error. A decode timeout counts as
// a device failure unless the caller's own context expired.
func isDeviceFailure(callerCtx context.Context, err error) bool {
	if asr.IsDeviceError(err) {
		return true
	}
	if errors.Is(err, context.DeadlineExceeded) && callerCtx.Err() == nil {
		return true
	}
	return false
}

// demote permanently moves to the next smaller tier. The failed tier's
// recognizer is closed before the replacement loads, so its memory is gone
// by load time.
func (m *Manager) demote(cause error) error {
	from := m.cfg.Tiers[m.active].Name
	if err := m.recognizer.Close(); err != nil {
		m.log.Warn("closing failed tier", "tier", from, "error", err)
	}
	m.releaseCaches()

	for next := m.active + 1; next < len(m.cfg.Tiers); next++ {
		rec, err := m.cfg.Tiers[next].Load()
		if err != nil {
			m.log.Error("demotion target failed to load, skipping tier",
				"tier", m.cfg.Tiers[next].Name, "error", err)
			continue
		}
		m.active = next
		m.recognizer = rec
		m.log.Warn("demoted model tier",
			"from", from, "to", m.cfg.Tiers[next].Name, "cause", cause)
		m.publishModelChange(m.cfg.Tiers[next].Name, from, "device failure")
		m.publishResourceAction("demoted")
		return nil
	}
	return fmt.Errorf("%w: all tiers below %s exhausted: %w", ErrNoTier, from, cause)
}

// checkPressure samples memory, publishes band transitions, and sheds
// caches in the danger and critical bands.
func (m *Manager) checkPressure() {
	if m.cfg.Sampler == nil {
		return
	}
	sample, err := m.cfg.Sampler.Sample()
	if err != nil {
		m.log.Debug("gpu sample failed", "error", err)
		return
	}
	band := sample.Band()
	if !m.bandKnown || band != m.lastBand {
		prev := ""
		if m.bandKnown {
			prev = m.lastBand.String()
		}
		action := ""
		if band >= gpu.BandDanger {
			action = "released caches"
		}
		if m.cfg.Bus != nil {
			m.cfg.Bus.Publish(events.Event{
				Type: events.TypeResourceEvent,
				Resource: &events.ResourceInfo{
					Band:        band.String(),
					Previous:    prev,
					UsedPercent: sample.UsedPercent(),
					Action:      action,
				},
			})
		}
		m.log.Info("memory pressure band changed",
			"band", band.String(), "used_percent", sample.UsedPercent())
		m.lastBand = band
		m.bandKnown = true
	}
	if band >= gpu.BandDanger {
		m.releaseCaches()
	}
}

func (m *Manager) releaseCaches() {
	if m.cfg.ReleaseCaches != nil {
		m.cfg.ReleaseCaches()
	}
}

// publishResourceAction reports a recovery step taken outside a band
// transition, such as demoting the model tier after a device failure.
func (m *Manager) publishResourceAction(action string) {
	if m.cfg.Bus == nil {
		return
	}
	band := ""
	if m.bandKnown {
		band = m.lastBand.String()
	}
	m.cfg.Bus.Publish(events.Event{
		Type: events.TypeResourceEvent,
		Resource: &events.ResourceInfo{
			Band:   band,
			Action: action,
		},
	})
}

func (m *Manager) publishModelChange(model, previous, reason string) {
	if m.cfg.Bus == nil {
		return
	}
	m.cfg.Bus.Publish(events.Event{
		Type: events.TypeModelChanged,
		Model: &events.ModelInfo{
			Model:    model,
			Previous: previous,
			Reason:   reason,
		},
	})
}

// Reset restores the initial tier selection, undoing any demotion. The
// next session starts from a clean slate.
func (m *Manager) Reset() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed || m.active == m.initial {
		return nil
	}
	from := m.cfg.Tiers[m.active].Name
	rec, err := m.cfg.Tiers[m.initial].Load()
	if err != nil {
		return fmt.Errorf("modelmgr: reload tier %s: %w", m.cfg.Tiers[m.initial].Name, err)
	}
	if err := m.recognizer.Close(); err != nil {
		m.log.Warn("closing demoted tier", "tier", from, "error", err)
	}
	m.active = m.initial
	m.recognizer = rec
	m.publishModelChange(m.cfg.Tiers[m.initial].Name, from, "session reset")
	return nil
}

// Close releases the active recognizer.
func (m *Manager) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return nil
	}
	m.closed = true
	return m.recognizer.Close()
}
