package app_test

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/MrWong99/voxd/internal/app"
	"github.com/MrWong99/voxd/internal/config"
	"github.com/MrWong99/voxd/internal/events"
	"github.com/MrWong99/voxd/pkg/provider/asr"
	asrmock "github.com/MrWong99/voxd/pkg/provider/asr/mock"
	vadmock "github.com/MrWong99/voxd/pkg/provider/vad/mock"
)

// testConfig returns a minimal config for app tests. No listen address, so
// no status server is started.
func testConfig() *config.Config {
	return &config.Config{
		Server: config.ServerConfig{
			LogLevel: config.LogInfo,
		},
		Audio: config.AudioConfig{Input: "-"},
		VAD: config.VADConfig{
			ModelPath:  "testdata/silero.onnx",
			Engine:     "silero",
			Threshold:  0.5,
			MinSilence: config.Duration(96 * time.Millisecond),
			MinSpeech:  config.Duration(64 * time.Millisecond),
			MaxSpeech:  config.Duration(30 * time.Second),
		},
		Models: config.ModelsConfig{
			SafePercent:   70,
			DecodeTimeout: config.Duration(5 * time.Second),
			Tiers: []config.TierConfig{
				{Name: "tiny", Engine: config.EngineWhisper, Path: "testdata/tiny.bin"},
			},
		},
		Pipeline: config.PipelineConfig{QueueSize: 4},
	}
}

// stubTranscriber satisfies pipeline.Transcriber with canned output.
type stubTranscriber struct {
	mu     sync.Mutex
	calls  int
	resets int
}

func (s *stubTranscriber) Transcribe(_ context.Context, _ []float32) (asr.Result, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	return asr.Result{Text: "hello"}, nil
}

func (s *stubTranscriber) ActiveTier() string { return "stub" }

func (s *stubTranscriber) Reset() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.resets++
	return nil
}

func (s *stubTranscriber) transcribeCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}

// chanSource adapts a channel to audio.Source for feeding test audio.
type chanSource struct {
	ch   chan []float32
	once sync.Once
}

func newChanSource() *chanSource {
	return &chanSource{ch: make(chan []float32, 64)}
}

func (s *chanSource) Chunks() <-chan []float32 { return s.ch }

func (s *chanSource) Close() error {
	s.once.Do(func() { close(s.ch) })
	return nil
}

func TestNew_WithMocks(t *testing.T) {
	t.Parallel()

	application, err := app.New(
		context.Background(),
		testConfig(),
		config.NewRegistry(),
		app.WithVADSession(&vadmock.Session{}),
		app.WithTranscriber(&stubTranscriber{}),
	)
	if err != nil {
		t.Fatalf("New() returned error: %v", err)
	}
	if application == nil {
		t.Fatal("New() returned nil app")
	}
	if application.Events() == nil {
		t.Fatal("Events() returned nil bus")
	}
}

func TestNew_BuildsTiersFromRegistry(t *testing.T) {
	t.Parallel()

	reg := config.NewRegistry()
	var loaded []string
	var mu sync.Mutex
	reg.RegisterASR(config.EngineWhisper, func(tier config.TierConfig) (asr.Recognizer, error) {
		mu.Lock()
		defer mu.Unlock()
		loaded = append(loaded, tier.Name)
		return &asrmock.Recognizer{RecognizerName: tier.Name}, nil
	})

	application, err := app.New(
		context.Background(),
		testConfig(),
		reg,
		app.WithVADSession(&vadmock.Session{}),
	)
	if err != nil {
		t.Fatalf("New() returned error: %v", err)
	}
	defer application.Shutdown(context.Background())

	// The single tier is also the initial tier, loaded eagerly.
	mu.Lock()
	defer mu.Unlock()
	if len(loaded) != 1 || loaded[0] != "tiny" {
		t.Fatalf("loaded tiers = %v, want [tiny]", loaded)
	}
}

func TestNew_UnregisteredVADEngine(t *testing.T) {
	t.Parallel()

	_, err := app.New(
		context.Background(),
		testConfig(),
		config.NewRegistry(),
		app.WithTranscriber(&stubTranscriber{}),
	)
	if err == nil {
		t.Fatal("New() succeeded with no registered VAD engine")
	}
}

func TestNew_CorrectionsLoadFailure(t *testing.T) {
	t.Parallel()

	cfg := testConfig()
	cfg.Corrections.Path = filepath.Join(t.TempDir(), "missing.yaml")

	_, err := app.New(
		context.Background(),
		cfg,
		config.NewRegistry(),
		app.WithVADSession(&vadmock.Session{}),
		app.WithTranscriber(&stubTranscriber{}),
	)
	if err == nil {
		t.Fatal("New() succeeded with missing corrections file")
	}
}

func TestApp_RunProcessesAudio(t *testing.T) {
	t.Parallel()

	// Speech for four windows, then trailing silence long enough to close
	// the segment before the source ends.
	sess := &vadmock.Session{Probabilities: []float32{0.9, 0.9, 0.9, 0.9, 0.1}}
	trans := &stubTranscriber{}
	source := newChanSource()

	application, err := app.New(
		context.Background(),
		testConfig(),
		config.NewRegistry(),
		app.WithVADSession(sess),
		app.WithTranscriber(trans),
		app.WithSource(source),
	)
	if err != nil {
		t.Fatalf("New() error: %v", err)
	}

	sub, cancelSub := application.Events().Subscribe()
	defer cancelSub()

	errCh := make(chan error, 1)
	go func() {
		errCh <- application.Run(context.Background())
	}()

	for i := 0; i < 10; i++ {
		source.ch <- make([]float32, 512)
	}
	source.Close()

	select {
	case err := <-errCh:
		if err != nil {
			t.Fatalf("Run() returned unexpected error: %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Run() did not return after source close")
	}

	if got := trans.transcribeCount(); got != 1 {
		t.Errorf("Transcribe call count = %d, want 1", got)
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := application.Shutdown(shutdownCtx); err != nil {
		t.Fatalf("Shutdown() error: %v", err)
	}

	var sawTranscription bool
	for ev := range sub {
		if ev.Type == events.TypeTranscription {
			sawTranscription = true
			if ev.Transcription.Text != "hello" {
				t.Errorf("transcription text = %q, want %q", ev.Transcription.Text, "hello")
			}
			if ev.Transcription.Model != "stub" {
				t.Errorf("transcription model = %q, want %q", ev.Transcription.Model, "stub")
			}
		}
	}
	if !sawTranscription {
		t.Error("no transcription event published")
	}
}

func TestApp_RunAndCancel(t *testing.T) {
	t.Parallel()

	source := newChanSource()
	application, err := app.New(
		context.Background(),
		testConfig(),
		config.NewRegistry(),
		app.WithVADSession(&vadmock.Session{}),
		app.WithTranscriber(&stubTranscriber{}),
		app.WithSource(source),
	)
	if err != nil {
		t.Fatalf("New() error: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())

	errCh := make(chan error, 1)
	go func() {
		errCh <- application.Run(ctx)
	}()

	time.Sleep(50 * time.Millisecond)
	cancel()

	select {
	case err := <-errCh:
		if err != nil {
			t.Fatalf("Run() returned unexpected error: %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Run() did not return within 5s after context cancellation")
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	if err := application.Shutdown(shutdownCtx); err != nil {
		t.Fatalf("Shutdown() error: %v", err)
	}
}

func TestApp_ShutdownIsIdempotent(t *testing.T) {
	t.Parallel()

	application, err := app.New(
		context.Background(),
		testConfig(),
		config.NewRegistry(),
		app.WithVADSession(&vadmock.Session{}),
		app.WithTranscriber(&stubTranscriber{}),
	)
	if err != nil {
		t.Fatalf("New() error: %v", err)
	}

	ctx := context.Background()
	if err := application.Shutdown(ctx); err != nil {
		t.Fatalf("first Shutdown() error: %v", err)
	}
	if err := application.Shutdown(ctx); err != nil {
		t.Fatalf("second Shutdown() error: %v", err)
	}
}

func TestApplyConfigChange_LogLevel(t *testing.T) {
	t.Parallel()

	lv := new(slog.LevelVar)
	lv.Set(slog.LevelInfo)

	application, err := app.New(
		context.Background(),
		testConfig(),
		config.NewRegistry(),
		app.WithVADSession(&vadmock.Session{}),
		app.WithTranscriber(&stubTranscriber{}),
		app.WithLogLevelVar(lv),
	)
	if err != nil {
		t.Fatalf("New() error: %v", err)
	}

	old := testConfig()
	updated := testConfig()
	updated.Server.LogLevel = config.LogDebug

	application.ApplyConfigChange(old, updated)

	if got := lv.Level(); got != slog.LevelDebug {
		t.Errorf("log level after reload = %v, want %v", got, slog.LevelDebug)
	}
}

func TestApplyConfigChange_Corrections(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "corrections.yaml")
	content := "corrections:\n  - original: wrold\n    corrected: world\n"
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}

	application, err := app.New(
		context.Background(),
		testConfig(),
		config.NewRegistry(),
		app.WithVADSession(&vadmock.Session{}),
		app.WithTranscriber(&stubTranscriber{}),
	)
	if err != nil {
		t.Fatalf("New() error: %v", err)
	}

	old := testConfig()
	updated := testConfig()
	updated.Corrections.Path = path

	// Must not panic or error; the corrector picks up the rules.
	application.ApplyConfigChange(old, updated)
}

func TestSlogLevel(t *testing.T) {
	t.Parallel()

	tests := []struct {
		in   config.LogLevel
		want slog.Level
	}{
		{config.LogDebug, slog.LevelDebug},
		{config.LogInfo, slog.LevelInfo},
		{config.LogWarn, slog.LevelWarn},
		{config.LogError, slog.LevelError},
		{config.LogLevel("bogus"), slog.LevelInfo},
	}
	for _, tt := range tests {
		if got := app.SlogLevel(tt.in); got != tt.want {
			t.Errorf("SlogLevel(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
}
