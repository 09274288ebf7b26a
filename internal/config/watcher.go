package config

import (
	"bytes"
	"context"
	"crypto/sha256"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"sync/atomic"
	"time"
)

const defaultPollInterval = 5 * time.Second

// ChangeFunc receives every accepted config together with its predecessor.
type ChangeFunc func(old, new *Config, d ConfigDiff)

// fingerprint identifies one version of the file on disk.
type fingerprint struct {
	mtime time.Time
	sum   [sha256.Size]byte
}

// Watcher polls a config file for hot reload. A new version is accepted
// only if its content differs and it validates; an invalid file is logged
// and the last good config stays current.
type Watcher struct {
	path     string
	interval time.Duration
	onChange ChangeFunc

	current atomic.Pointer[Config]

	mu   sync.Mutex // serializes Check and guards seen
	seen fingerprint
}

// WatcherOption configures a [Watcher].
type WatcherOption func(*Watcher)

// WithInterval sets the polling interval. Default: 5 s.
func WithInterval(d time.Duration) WatcherOption {
	return func(w *Watcher) {
		if d > 0 {
			w.interval = d
		}
	}
}

// NewWatcher loads path and returns a Watcher for it. onChange, if non-nil,
// is called from the goroutine running [Watcher.Run].
func NewWatcher(path string, onChange ChangeFunc, opts ...WatcherOption) (*Watcher, error) {
	w := &Watcher{path: path, interval: defaultPollInterval, onChange: onChange}
	for _, opt := range opts {
		opt(w)
	}

	cfg, fp, err := w.read()
	if err != nil {
		return nil, fmt.Errorf("config: watcher initial load: %w", err)
	}
	w.current.Store(cfg)
	w.seen = fp
	return w, nil
}

// Current returns the last accepted config.
func (w *Watcher) Current() *Config { return w.current.Load() }

// Run calls [Watcher.Check] every interval until ctx is done.
func (w *Watcher) Run(ctx context.Context) error {
	t := time.NewTicker(w.interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-t.C:
			w.Check()
		}
	}
}

// Check polls the file once and reports whether a new config was accepted.
func (w *Watcher) Check() bool {
	w.mu.Lock()
	defer w.mu.Unlock()

	info, err := os.Stat(w.path)
	if err != nil {
		slog.Warn("config watcher: stat failed", "path", w.path, "error", err)
		return false
	}
	if info.ModTime().Equal(w.seen.mtime) {
		return false
	}

	cfg, fp, err := w.read()
	// Remember the mtime even for a broken file so it is parsed only once.
	w.seen.mtime = fp.mtime
	if err != nil {
		slog.Warn("config watcher: rejected new config, keeping previous", "path", w.path, "error", err)
		return false
	}
	if fp.sum == w.seen.sum {
		return false
	}
	w.seen = fp

	old := w.current.Swap(cfg)
	d := Diff(old, cfg)
	slog.Info("config watcher: reloaded",
		"path", w.path,
		"log_level_changed", d.LogLevelChanged,
		"mode_changed", d.ModeChanged,
		"needs_restart", d.NeedsRestart)
	if w.onChange != nil {
		w.onChange(old, cfg, d)
	}
	return true
}

// read parses the file. The returned fingerprint carries the mtime even
// when parsing fails.
func (w *Watcher) read() (*Config, fingerprint, error) {
	info, err := os.Stat(w.path)
	if err != nil {
		return nil, fingerprint{}, err
	}
	fp := fingerprint{mtime: info.ModTime()}
	data, err := os.ReadFile(w.path)
	if err != nil {
		return nil, fp, err
	}
	cfg, err := LoadFromReader(bytes.NewReader(data))
	if err != nil {
		return nil, fp, err
	}
	fp.sum = sha256.Sum256(data)
	return cfg, fp, nil
}
