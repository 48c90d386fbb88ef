// Package app wires all voxd subsystems into a running daemon.
//
// The App struct owns the full lifecycle: New creates and connects all
// subsystems, Run executes the dictation loop until the context is
// cancelled, and Shutdown tears everything down in order.
//
// For testing, inject mock implementations via functional options
// (WithSource, WithTranscriber, etc.). When an option is not provided,
// New creates real implementations from the config via the registry.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"sync"
	"time"

	"github.com/MrWong99/voxd/internal/config"
	"github.com/MrWong99/voxd/internal/detector"
	"github.com/MrWong99/voxd/internal/events"
	"github.com/MrWong99/voxd/internal/gpu"
	"github.com/MrWong99/voxd/internal/health"
	"github.com/MrWong99/voxd/internal/modelmgr"
	"github.com/MrWong99/voxd/internal/observe"
	"github.com/MrWong99/voxd/internal/pipeline"
	"github.com/MrWong99/voxd/internal/transcript"
	"github.com/MrWong99/voxd/pkg/audio"
	"github.com/MrWong99/voxd/pkg/provider/asr"
	"github.com/MrWong99/voxd/pkg/provider/vad"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"
)

// httpShutdownTimeout bounds the status server drain during Run teardown.
const httpShutdownTimeout = 5 * time.Second

// App owns all subsystem lifetimes and orchestrates the voxd dictation
// pipeline: audio source → VAD segmentation → tiered decode → corrections →
// event bus.
type App struct {
	cfg *config.Config
	reg *config.Registry

	// Subsystems — initialised in New, torn down in Shutdown.
	bus         *events.Bus
	vadSession  vad.SessionHandle
	det         *detector.Detector
	transcriber pipeline.Transcriber
	sampler     gpu.Sampler
	corrector   *transcript.Corrector
	pipe        *pipeline.Pipeline
	recorder    *observe.Recorder
	source      audio.Source
	httpSrv     *http.Server

	// logLevel, when set, lets config reloads retune logging verbosity.
	logLevel *slog.LevelVar

	// closers are called in order during Shutdown.
	closers []func() error

	// stopOnce guards the Shutdown path.
	stopOnce sync.Once
}

// Option is a functional option for New. Use these to inject test doubles.
type Option func(*App)

// WithSource injects an audio source instead of opening cfg.Audio.Input.
func WithSource(s audio.Source) Option {
	return func(a *App) { a.source = s }
}

// WithVADSession injects a VAD session instead of creating one via the
// registry.
func WithVADSession(s vad.SessionHandle) Option {
	return func(a *App) { a.vadSession = s }
}

// WithTranscriber injects a transcriber instead of building the tiered model
// manager from config.
func WithTranscriber(t pipeline.Transcriber) Option {
	return func(a *App) { a.transcriber = t }
}

// WithSampler injects a GPU memory sampler instead of opening NVML.
func WithSampler(s gpu.Sampler) Option {
	return func(a *App) { a.sampler = s }
}

// WithLogLevelVar hands the App the level var backing the process logger so
// hot config reloads can adjust it.
func WithLogLevelVar(lv *slog.LevelVar) Option {
	return func(a *App) { a.logLevel = lv }
}

// ─── New ─────────────────────────────────────────────────────────────────────

// New creates an App by wiring all subsystems together. The registry comes
// from main.go with the VAD and ASR factories registered. Use Option
// functions to inject test doubles for any subsystem.
//
// New performs all initialisation synchronously: VAD session + detector
// construction, model tier selection (the initial recognizer is loaded
// eagerly), correction rule loading, and pipeline assembly. A misconfigured
// model directory therefore fails here, before any audio is read.
func New(ctx context.Context, cfg *config.Config, reg *config.Registry, opts ...Option) (*App, error) {
	a := &App{
		cfg: cfg,
		reg: reg,
	}
	for _, o := range opts {
		o(a)
	}

	// ── 1. Event bus ─────────────────────────────────────────────────────
	a.bus = events.NewBus()

	// ── 2. VAD detector ──────────────────────────────────────────────────
	if err := a.initDetector(); err != nil {
		a.bus.Close()
		return nil, fmt.Errorf("app: init detector: %w", err)
	}

	// ── 3. Model manager ─────────────────────────────────────────────────
	if err := a.initModels(); err != nil {
		a.closeAll()
		return nil, fmt.Errorf("app: init models: %w", err)
	}

	// ── 4. Corrections ───────────────────────────────────────────────────
	if err := a.initCorrector(); err != nil {
		a.closeAll()
		return nil, fmt.Errorf("app: init corrections: %w", err)
	}

	// ── 5. Pipeline + metrics recorder ──────────────────────────────────
	pipe, err := pipeline.New(pipeline.Config{
		Detector:    a.det,
		Transcriber: a.transcriber,
		Corrector:   a.corrector,
		Bus:         a.bus,
		QueueSize:   cfg.Pipeline.QueueSize,
	})
	if err != nil {
		a.closeAll()
		return nil, fmt.Errorf("app: init pipeline: %w", err)
	}
	a.pipe = pipe
	a.recorder = observe.NewRecorder(nil)

	// ── 6. Status server ─────────────────────────────────────────────────
	a.initStatusServer()

	// The bus closes last so subscribers see every event the teardown of
	// earlier subsystems still publishes.
	a.closers = append(a.closers, func() error {
		a.bus.Close()
		return nil
	})

	return a, nil
}

// ─── Init helpers ────────────────────────────────────────────────────────────

// initDetector builds the VAD session via the registry and wraps it in a
// speech segmenter tuned from config.
func (a *App) initDetector() error {
	if a.vadSession == nil {
		engine, err := a.reg.CreateVAD(a.cfg.VAD)
		if err != nil {
			return err
		}
		sess, err := engine.NewSession(vad.Config{
			SampleRate: audio.SampleRate,
			WindowSize: audio.DefaultWindowSize,
		})
		if err != nil {
			return fmt.Errorf("create vad session: %w", err)
		}
		a.vadSession = sess
		a.closers = append(a.closers, sess.Close)
	}

	det, err := detector.New(a.vadSession, detector.Config{
		Threshold:  a.cfg.VAD.Threshold,
		MinSilence: a.cfg.VAD.MinSilence.Std(),
		MinSpeech:  a.cfg.VAD.MinSpeech.Std(),
		MaxSpeech:  a.cfg.VAD.MaxSpeech.Std(),
	})
	if err != nil {
		return err
	}
	a.det = det
	return nil
}

// initModels builds the tier list from config and hands it to the model
// manager. An NVML sampler is opened when any tier targets CUDA; without
// one the manager only considers CPU-resident tiers.
func (a *App) initModels() error {
	if a.transcriber != nil {
		return nil // injected
	}

	anyCUDA := false
	tiers := make([]modelmgr.Tier, 0, len(a.cfg.Models.Tiers))
	for _, tc := range a.cfg.Models.Tiers {
		if tc.UseCUDA {
			anyCUDA = true
		}
		tiers = append(tiers, modelmgr.Tier{
			Name:        tc.Name,
			FootprintMB: tc.FootprintMB,
			Load: func() (asr.Recognizer, error) {
				return a.reg.CreateASR(tc)
			},
		})
	}

	if anyCUDA && a.sampler == nil {
		sampler, err := gpu.NewNVMLSampler(a.cfg.Models.DeviceID)
		if err != nil {
			return fmt.Errorf("open nvml sampler: %w", err)
		}
		a.sampler = sampler
		a.closers = append(a.closers, sampler.Close)
	}

	mgr, err := modelmgr.New(modelmgr.Config{
		Tiers:         tiers,
		Sampler:       a.sampler,
		SafePercent:   a.cfg.Models.SafePercent,
		DecodeTimeout: a.cfg.Models.DecodeTimeout.Std(),
		Bus:           a.bus,
	})
	if err != nil {
		return err
	}
	a.transcriber = mgr
	a.closers = append(a.closers, mgr.Close)

	slog.Info("model manager ready", "tier", mgr.ActiveTier(), "tiers", len(tiers), "cuda", anyCUDA)
	return nil
}

// initCorrector loads the user dictionary when one is configured. An empty
// corrector is still wired so rules can arrive later via hot reload.
func (a *App) initCorrector() error {
	a.corrector = transcript.NewCorrector()
	path := a.cfg.Corrections.Path
	if path == "" {
		return nil
	}
	if err := a.corrector.Load(path); err != nil {
		return fmt.Errorf("load corrections %q: %w", path, err)
	}
	slog.Info("loaded corrections", "path", path, "rules", a.corrector.RuleCount())
	return nil
}

// initStatusServer assembles the health + metrics endpoints. Skipped when no
// listen address is configured.
func (a *App) initStatusServer() {
	addr := a.cfg.Server.ListenAddr
	if addr == "" {
		return
	}

	checker := health.Checker{
		Name: "model",
		Check: func(context.Context) error {
			if a.transcriber.ActiveTier() == "" {
				return errors.New("no active model tier")
			}
			return nil
		},
	}

	mux := http.NewServeMux()
	health.New(checker).Register(mux)
	mux.Handle("GET /metrics", promhttp.Handler())

	a.httpSrv = &http.Server{
		Addr:    addr,
		Handler: observe.Middleware(observe.DefaultMetrics())(mux),
	}
}

// ─── Run ─────────────────────────────────────────────────────────────────────

// Run starts the dictation loop and blocks until the audio source is
// exhausted or ctx is cancelled. Accepted segments still in the decode queue
// are drained before Run returns, so a Ctrl-C mid-utterance does not lose
// the words already spoken.
func (a *App) Run(ctx context.Context) error {
	if a.source == nil {
		src, err := a.openSource()
		if err != nil {
			return fmt.Errorf("app: open audio source: %w", err)
		}
		a.source = src
	}

	runCtx, stop := context.WithCancel(ctx)
	defer stop()

	g, ctx := errgroup.WithContext(runCtx)

	g.Go(func() error {
		// When the source is exhausted the daemon is done; stop the
		// recorder and status server too.
		defer stop()
		return a.pipe.Run(ctx, a.source)
	})

	g.Go(func() error {
		return a.recorder.Run(ctx, a.bus)
	})

	if a.httpSrv != nil {
		g.Go(a.serveStatus)
		g.Go(func() error {
			<-ctx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), httpShutdownTimeout)
			defer cancel()
			return a.httpSrv.Shutdown(shutdownCtx)
		})
	}

	slog.Info("voxd running",
		"input", a.cfg.Audio.Input,
		"tier", a.transcriber.ActiveTier(),
		"status_addr", a.cfg.Server.ListenAddr,
	)

	err := g.Wait()
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return nil
	}
	return err
}

// openSource builds the audio source from cfg.Audio.Input: "-" reads raw
// f32le samples from stdin (e.g. piped from pw-record), anything else is a
// file path.
func (a *App) openSource() (audio.Source, error) {
	input := a.cfg.Audio.Input
	if input == "-" || input == "" {
		return audio.NewReaderSource(os.Stdin), nil
	}

	f, err := os.Open(input)
	if err != nil {
		return nil, err
	}
	a.closers = append(a.closers, f.Close)
	return audio.NewReaderSource(f), nil
}

// serveStatus runs the health + metrics listener, with or without TLS.
func (a *App) serveStatus() error {
	var err error
	if tls := a.cfg.Server.TLS; tls != nil {
		err = a.httpSrv.ListenAndServeTLS(tls.CertFile, tls.KeyFile)
	} else {
		err = a.httpSrv.ListenAndServe()
	}
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

// Events exposes the bus for additional subscribers (output sinks, tests).
func (a *App) Events() *events.Bus { return a.bus }

// ─── Hot reload ──────────────────────────────────────────────────────────────

// ApplyConfigChange reacts to a config file reload. Log level and the
// corrections path apply immediately; anything else only takes effect after
// a restart, which is logged but not forced.
func (a *App) ApplyConfigChange(old, new *config.Config) {
	diff := config.Diff(old, new)
	if diff.Empty() {
		return
	}

	if diff.LogLevelChanged && a.logLevel != nil {
		a.logLevel.Set(SlogLevel(diff.NewLogLevel))
		slog.Info("log level changed", "level", diff.NewLogLevel)
	}

	if diff.CorrectionsChanged {
		if diff.NewCorrectionsPath == "" {
			a.corrector.SetRules(nil)
			slog.Info("corrections cleared")
		} else if err := a.corrector.Load(diff.NewCorrectionsPath); err != nil {
			slog.Error("corrections reload failed, keeping previous rules",
				"path", diff.NewCorrectionsPath, "err", err)
		} else {
			slog.Info("corrections reloaded",
				"path", diff.NewCorrectionsPath, "rules", a.corrector.RuleCount())
		}
	}

	if diff.RestartRequired {
		slog.Warn("config change requires restart to take effect")
	}
}

// SlogLevel maps a config log level onto its slog equivalent.
func SlogLevel(lvl config.LogLevel) slog.Level {
	switch lvl {
	case config.LogDebug:
		return slog.LevelDebug
	case config.LogWarn:
		return slog.LevelWarn
	case config.LogError:
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// ─── Shutdown ────────────────────────────────────────────────────────────────

// Shutdown tears down all subsystems in order. It respects the context
// deadline: if ctx expires before all closers finish, remaining closers are
// skipped and the context error is returned.
func (a *App) Shutdown(ctx context.Context) error {
	var shutdownErr error
	a.stopOnce.Do(func() {
		slog.Info("shutting down", "closers", len(a.closers))

		for i, closer := range a.closers {
			select {
			case <-ctx.Done():
				slog.Warn("shutdown deadline exceeded", "remaining", len(a.closers)-i)
				shutdownErr = ctx.Err()
				return
			default:
			}
			if err := closer(); err != nil {
				slog.Warn("closer error", "index", i, "err", err)
			}
		}

		slog.Info("shutdown complete")
	})
	return shutdownErr
}

// closeAll runs the closers accumulated so far. Used when New fails partway.
func (a *App) closeAll() {
	for _, closer := range a.closers {
		if err := closer(); err != nil {
			slog.Warn("closer error during failed init", "err", err)
		}
	}
	a.bus.Close()
}
