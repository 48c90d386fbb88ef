package config

import (
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"
)

const watcherYAMLv1 = `
vad:
  model_path: /models/silero_vad.onnx
models:
  tiers:
    - name: whisper-base
      engine: whisper
      path: /models/ggml-base.bin
corrections:
  path: /tmp/corrections-v1.yaml
`

const watcherYAMLv2 = `
vad:
  model_path: /models/silero_vad.onnx
models:
  tiers:
    - name: whisper-base
      engine: whisper
      path: /models/ggml-base.bin
corrections:
  path: /tmp/corrections-v2.yaml
`

// mtimeStep separates successive writes so the poll loop's mtime check
// notices changes even on filesystems with coarse timestamps.
var mtimeStep time.Duration

func writeConfigFile(t *testing.T, path, content string) {
	t.Helper()
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	mtimeStep += time.Second
	ts := time.Now().Add(mtimeStep)
	if err := os.Chtimes(path, ts, ts); err != nil {
		t.Fatalf("chtimes: %v", err)
	}
}

func TestWatcherInitialLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "voxd.yaml")
	writeConfigFile(t, path, watcherYAMLv1)

	w, err := NewWatcher(path, nil, WithInterval(10*time.Millisecond))
	if err != nil {
		t.Fatalf("NewWatcher: %v", err)
	}
	defer w.Stop()

	if got := w.Current().Corrections.Path; got != "/tmp/corrections-v1.yaml" {
		t.Errorf("Corrections.Path = %q", got)
	}
}

func TestWatcherInitialLoadFailure(t *testing.T) {
	path := filepath.Join(t.TempDir(), "voxd.yaml")
	writeConfigFile(t, path, "models: {}\n")

	if _, err := NewWatcher(path, nil); err == nil {
		t.Fatal("expected error for invalid initial config")
	}
}

func TestWatcherDetectsChange(t *testing.T) {
	path := filepath.Join(t.TempDir(), "voxd.yaml")
	writeConfigFile(t, path, watcherYAMLv1)

	var mu sync.Mutex
	var gotOld, gotNew *Config
	changed := make(chan struct{}, 1)

	w, err := NewWatcher(path, func(old, new *Config) {
		mu.Lock()
		gotOld, gotNew = old, new
		mu.Unlock()
		select {
		case changed <- struct{}{}:
		default:
		}
	}, WithInterval(10*time.Millisecond))
	if err != nil {
		t.Fatalf("NewWatcher: %v", err)
	}
	defer w.Stop()

	writeConfigFile(t, path, watcherYAMLv2)

	select {
	case <-changed:
	case <-time.After(5 * time.Second):
		t.Fatal("change was not detected")
	}

	mu.Lock()
	defer mu.Unlock()
	if gotOld.Corrections.Path != "/tmp/corrections-v1.yaml" {
		t.Errorf("old path = %q", gotOld.Corrections.Path)
	}
	if gotNew.Corrections.Path != "/tmp/corrections-v2.yaml" {
		t.Errorf("new path = %q", gotNew.Corrections.Path)
	}
	if w.Current() != gotNew {
		t.Error("Current() does not return the reloaded config")
	}
}

func TestWatcherKeepsOldConfigOnInvalidReload(t *testing.T) {
	path := filepath.Join(t.TempDir(), "voxd.yaml")
	writeConfigFile(t, path, watcherYAMLv1)

	called := make(chan struct{}, 1)
	w, err := NewWatcher(path, func(old, new *Config) {
		select {
		case called <- struct{}{}:
		default:
		}
	}, WithInterval(10*time.Millisecond))
	if err != nil {
		t.Fatalf("NewWatcher: %v", err)
	}
	defer w.Stop()

	writeConfigFile(t, path, "models: {}\n")

	select {
	case <-called:
		t.Fatal("onChange fired for an invalid config")
	case <-time.After(200 * time.Millisecond):
	}

	if got := w.Current().Corrections.Path; got != "/tmp/corrections-v1.yaml" {
		t.Errorf("Current().Corrections.Path = %q, want the old value", got)
	}
}
