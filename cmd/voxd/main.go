// Command voxd is a local dictation daemon: it reads a raw microphone
// stream, segments speech with a Silero VAD, decodes segments through a
// tiered set of speech recognizers, and emits transcription events as JSON
// lines on stdout.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/MrWong99/voxd/internal/app"
	"github.com/MrWong99/voxd/internal/config"
	"github.com/MrWong99/voxd/internal/decoder"
	"github.com/MrWong99/voxd/internal/events"
	"github.com/MrWong99/voxd/internal/observe"
	"github.com/MrWong99/voxd/pkg/provider/asr"
	"github.com/MrWong99/voxd/pkg/provider/asr/parakeet"
	asrwhisper "github.com/MrWong99/voxd/pkg/provider/asr/whisper"
	"github.com/MrWong99/voxd/pkg/provider/onnxrt"
	"github.com/MrWong99/voxd/pkg/provider/vad"
	"github.com/MrWong99/voxd/pkg/provider/vad/silero"
)

func main() {
	os.Exit(run())
}

func run() int {
	// ── CLI flags ──────────────────────────────────────────────────────────────
	configPath := flag.String("config", "config.yaml", "path to the YAML configuration file")
	flag.Parse()

	// ── Load configuration ────────────────────────────────────────────────────
	cfg, err := config.Load(*configPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			fmt.Fprintf(os.Stderr, "voxd: config file %q not found — copy configs/example.yaml to get started\n", *configPath)
		} else {
			fmt.Fprintf(os.Stderr, "voxd: %v\n", err)
		}
		return 1
	}

	// ── Logger ────────────────────────────────────────────────────────────────
	// The level var is shared with the App so config reloads can retune it.
	logLevel := new(slog.LevelVar)
	logLevel.Set(app.SlogLevel(cfg.Server.LogLevel))
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: logLevel}))
	slog.SetDefault(logger)

	slog.Info("voxd starting",
		"config", *configPath,
		"input", cfg.Audio.Input,
		"log_level", cfg.Server.LogLevel,
	)

	// ── Signal context ────────────────────────────────────────────────────────
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// ── Telemetry ─────────────────────────────────────────────────────────────
	otelShutdown, err := observe.InitProvider(ctx, observe.ProviderConfig{
		ServiceName:    "voxd",
		ServiceVersion: version,
	})
	if err != nil {
		slog.Error("failed to initialise telemetry", "err", err)
		return 1
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := otelShutdown(shutdownCtx); err != nil {
			slog.Warn("telemetry shutdown error", "err", err)
		}
	}()

	// ── ONNX Runtime ──────────────────────────────────────────────────────────
	// Silero and Parakeet both run over ONNX Runtime; the shared library is
	// loaded once per process.
	if err := onnxrt.Init(cfg.Models.ORTLibrary); err != nil {
		slog.Error("failed to initialise onnxruntime", "library", cfg.Models.ORTLibrary, "err", err)
		return 1
	}

	// ── Engine registry ───────────────────────────────────────────────────────
	reg := config.NewRegistry()
	registerBuiltinEngines(reg, cfg)

	// ── Startup summary ───────────────────────────────────────────────────────
	printStartupSummary(cfg)

	application, err := app.New(ctx, cfg, reg, app.WithLogLevelVar(logLevel))
	if err != nil {
		slog.Error("failed to initialise application", "err", err)
		return 1
	}

	// ── Event output ──────────────────────────────────────────────────────────
	// The event stream is the daemon's wire surface: one JSON object per
	// line on stdout, in publication order.
	evCh, cancelEvents := application.Events().Subscribe()
	defer cancelEvents()
	go printEvents(evCh)

	// ── Config hot reload ─────────────────────────────────────────────────────
	watcher, err := config.NewWatcher(*configPath, application.ApplyConfigChange)
	if err != nil {
		slog.Warn("config watcher disabled", "err", err)
	} else {
		defer watcher.Stop()
	}

	slog.Info("daemon ready — press Ctrl+C to shut down")

	if err := application.Run(ctx); err != nil {
		slog.Error("run error", "err", err)
		return 1
	}

	// ── Graceful shutdown ─────────────────────────────────────────────────────
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	slog.Info("stopping…")

	if err := application.Shutdown(shutdownCtx); err != nil {
		slog.Error("shutdown error", "err", err)
		return 1
	}
	slog.Info("goodbye")
	return 0
}

// version is stamped by the build; "dev" for local builds.
var version = "dev"

// ── Engine wiring ─────────────────────────────────────────────────────────────

// registerBuiltinEngines wires the VAD and recognizer factories that ship
// with voxd into reg. Each ASR factory builds one model tier from its
// config entry.
func registerBuiltinEngines(reg *config.Registry, cfg *config.Config) {
	// ── VAD ───────────────────────────────────────────────────────────────────
	reg.RegisterVAD("silero", func(vc config.VADConfig) (vad.Engine, error) {
		return silero.NewEngine(vc.ModelPath), nil
	})

	// ── ASR ───────────────────────────────────────────────────────────────────
	reg.RegisterASR(config.EngineParakeet, func(tier config.TierConfig) (asr.Recognizer, error) {
		model, err := parakeet.NewModel(parakeet.Config{
			ModelDir:   tier.Path,
			UseCUDA:    tier.UseCUDA,
			DeviceID:   cfg.Models.DeviceID,
			CPUThreads: cfg.Models.CPUThreads,
		})
		if err != nil {
			return nil, err
		}
		return decoder.NewGreedy(model, tier.Name), nil
	})

	reg.RegisterASR(config.EngineWhisper, func(tier config.TierConfig) (asr.Recognizer, error) {
		opts := []asrwhisper.Option{asrwhisper.WithName(tier.Name)}
		if tier.Language != "" {
			opts = append(opts, asrwhisper.WithLanguage(tier.Language))
		}
		return asrwhisper.New(tier.Path, opts...)
	})
}

// ── Event output ──────────────────────────────────────────────────────────────

// printEvents writes each bus event to stdout as one JSON line. Exits when
// the bus closes.
func printEvents(ch <-chan events.Event) {
	enc := json.NewEncoder(os.Stdout)
	for ev := range ch {
		if err := enc.Encode(ev); err != nil {
			slog.Warn("event encode error", "err", err)
		}
	}
}

// ── Startup summary ───────────────────────────────────────────────────────────

func printStartupSummary(cfg *config.Config) {
	fmt.Fprintln(os.Stderr, "╔═══════════════════════════════════════╗")
	fmt.Fprintln(os.Stderr, "║           voxd — startup summary      ║")
	fmt.Fprintln(os.Stderr, "╠═══════════════════════════════════════╣")
	printField("Input", cfg.Audio.Input)
	printField("VAD engine", cfg.VAD.Engine)
	for i, tier := range cfg.Models.Tiers {
		device := "cpu"
		if tier.UseCUDA {
			device = fmt.Sprintf("cuda:%d", cfg.Models.DeviceID)
		}
		printField(fmt.Sprintf("Tier %d", i), fmt.Sprintf("%s (%s)", tier.Name, device))
	}
	if cfg.Corrections.Path != "" {
		printField("Corrections", cfg.Corrections.Path)
	} else {
		printField("Corrections", "(none)")
	}
	if cfg.Server.ListenAddr != "" {
		printField("Status addr", cfg.Server.ListenAddr)
	}
	fmt.Fprintln(os.Stderr, "╚═══════════════════════════════════════╝")
}

func printField(name, value string) {
	if len(value) > 19 {
		value = value[:16] + "…"
	}
	fmt.Fprintf(os.Stderr, "║  %-14s  : %-19s ║\n", name, value)
}
