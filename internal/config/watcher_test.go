package config_test

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/MrWong99/boxvoice/internal/config"
)

func writeConfig(t *testing.T, path, content string, mtime time.Time) {
	t.Helper()
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write %q: %v", path, err)
	}
	// Explicit mtimes keep the tests independent of filesystem timestamp
	// resolution.
	if err := os.Chtimes(path, mtime, mtime); err != nil {
		t.Fatalf("chtimes %q: %v", path, err)
	}
}

type changeLog struct {
	mu    sync.Mutex
	diffs []config.ConfigDiff
}

func (c *changeLog) record(_, _ *config.Config, d config.ConfigDiff) {
	c.mu.Lock()
	c.diffs = append(c.diffs, d)
	c.mu.Unlock()
}

func (c *changeLog) all() []config.ConfigDiff {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]config.ConfigDiff(nil), c.diffs...)
}

func newWatcherFixture(t *testing.T) (string, time.Time) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "boxvoice.yaml")
	base := time.Now().Add(-time.Hour).Truncate(time.Second)
	writeConfig(t, path, minimalYAML("server: {log_level: info}\n"), base)
	return path, base
}

func TestWatcher_InitialLoad(t *testing.T) {
	path, _ := newWatcherFixture(t)

	w, err := config.NewWatcher(path, nil)
	if err != nil {
		t.Fatalf("NewWatcher: %v", err)
	}
	if got := w.Current().Server.LogLevel; got != config.LogInfo {
		t.Errorf("log_level = %q, want info", got)
	}
}

func TestWatcher_InitialLoadFails(t *testing.T) {
	if _, err := config.NewWatcher(filepath.Join(t.TempDir(), "missing.yaml"), nil); err == nil {
		t.Fatal("expected error for missing file")
	}
}

func TestWatcher_DetectsChange(t *testing.T) {
	path, base := newWatcherFixture(t)
	var log changeLog
	w, err := config.NewWatcher(path, log.record)
	if err != nil {
		t.Fatalf("NewWatcher: %v", err)
	}

	writeConfig(t, path, minimalYAML("server: {log_level: debug}\n"), base.Add(time.Second))
	if !w.Check() {
		t.Fatal("Check() = false, want reload")
	}
	if got := w.Current().Server.LogLevel; got != config.LogDebug {
		t.Errorf("log_level = %q, want debug", got)
	}
	diffs := log.all()
	if len(diffs) != 1 || !diffs[0].LogLevelChanged {
		t.Errorf("diffs = %+v", diffs)
	}
}

func TestWatcher_TouchWithoutChangeIgnored(t *testing.T) {
	path, base := newWatcherFixture(t)
	var log changeLog
	w, err := config.NewWatcher(path, log.record)
	if err != nil {
		t.Fatalf("NewWatcher: %v", err)
	}

	writeConfig(t, path, minimalYAML("server: {log_level: info}\n"), base.Add(time.Second))
	if w.Check() {
		t.Error("Check() reported a reload for identical content")
	}
	if n := len(log.all()); n != 0 {
		t.Errorf("onChange called %d times", n)
	}
}

func TestWatcher_InvalidConfigKeepsPrevious(t *testing.T) {
	path, base := newWatcherFixture(t)
	var log changeLog
	w, err := config.NewWatcher(path, log.record)
	if err != nil {
		t.Fatalf("NewWatcher: %v", err)
	}

	writeConfig(t, path, "server: {log_level: bananas}\n", base.Add(time.Second))
	if w.Check() {
		t.Error("Check() accepted an invalid config")
	}
	if got := w.Current().Server.LogLevel; got != config.LogInfo {
		t.Errorf("log_level = %q, want previous info", got)
	}

	// A later valid edit is still picked up.
	writeConfig(t, path, minimalYAML("server: {log_level: warn}\n"), base.Add(2*time.Second))
	if !w.Check() {
		t.Fatal("Check() = false after fixing the file")
	}
	if got := w.Current().Server.LogLevel; got != config.LogWarn {
		t.Errorf("log_level = %q, want warn", got)
	}
}

func TestWatcher_RunPollsUntilCancelled(t *testing.T) {
	path, base := newWatcherFixture(t)
	var log changeLog
	w, err := config.NewWatcher(path, log.record, config.WithInterval(10*time.Millisecond))
	if err != nil {
		t.Fatalf("NewWatcher: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- w.Run(ctx) }()

	writeConfig(t, path, minimalYAML("pipeline: {mode: conversational}\n"), base.Add(time.Second))
	deadline := time.Now().Add(2 * time.Second)
	for len(log.all()) == 0 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	cancel()

	if err := <-done; err != context.Canceled {
		t.Errorf("Run() = %v, want context.Canceled", err)
	}
	diffs := log.all()
	if len(diffs) != 1 || !diffs[0].ModeChanged {
		t.Fatalf("diffs = %+v, want one mode change", diffs)
	}
}
