package config

import (
	"bytes"
	"crypto/sha256"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"time"
)

// DefaultWatchInterval is how often a [Watcher] polls its file.
const DefaultWatchInterval = 5 * time.Second

// ReloadFunc receives a newly accepted config together with what changed
// since the previous one.
type ReloadFunc func(cfg *Config, diff ConfigDiff)

// Watcher polls a config file and hands each accepted edit to a
// [ReloadFunc]. An edit is accepted when the file parses and validates and
// [Diff] reports at least one change; anything else keeps the last good
// config.
type Watcher struct {
	path     string
	interval time.Duration
	onReload ReloadFunc
	onReject func(error)

	mu   sync.Mutex
	last snapshot

	stop     chan struct{}
	done     chan struct{}
	stopOnce sync.Once
}

// snapshot is one successful read of the file.
type snapshot struct {
	cfg   *Config
	sum   [sha256.Size]byte
	mtime time.Time
}

// WatcherOption configures a [Watcher].
type WatcherOption func(*Watcher)

// WithInterval sets the polling interval. The default is [DefaultWatchInterval].
func WithInterval(d time.Duration) WatcherOption {
	return func(w *Watcher) {
		if d > 0 {
			w.interval = d
		}
	}
}

// WithRejectHandler registers fn to receive load or validation errors for
// edits that were not applied.
func WithRejectHandler(fn func(error)) WatcherOption {
	return func(w *Watcher) { w.onReject = fn }
}

// NewWatcher reads path once, failing if it is not a valid config, and then
// polls it in the background until [Watcher.Stop]. onReload may be nil.
func NewWatcher(path string, onReload ReloadFunc, opts ...WatcherOption) (*Watcher, error) {
	w := &Watcher{
		path:     path,
		interval: DefaultWatchInterval,
		onReload: onReload,
		stop:     make(chan struct{}),
		done:     make(chan struct{}),
	}
	for _, opt := range opts {
		opt(w)
	}

	snap, err := w.read()
	if err != nil {
		return nil, fmt.Errorf("config: watch %q: %w", path, err)
	}
	w.last = snap

	go w.loop()
	return w, nil
}

// Current returns the last accepted config.
func (w *Watcher) Current() *Config {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.last.cfg
}

// Stop ends polling and waits for a running reload callback to return.
func (w *Watcher) Stop() {
	w.stopOnce.Do(func() { close(w.stop) })
	<-w.done
}

func (w *Watcher) loop() {
	defer close(w.done)
	t := time.NewTicker(w.interval)
	defer t.Stop()
	for {
		select {
		case <-w.stop:
			return
		case <-t.C:
			w.poll()
		}
	}
}

// poll runs on the loop goroutine only, so last is read without racing
// another writer. The mutex guards Current.
func (w *Watcher) poll() {
	info, err := os.Stat(w.path)
	if err != nil {
		w.reject(err)
		return
	}
	if info.ModTime().Equal(w.last.mtime) {
		return
	}

	snap, err := w.read()
	if err != nil {
		// Remember the mtime so a broken file is reported once, not on every
		// tick.
		w.mu.Lock()
		w.last.mtime = info.ModTime()
		w.mu.Unlock()
		w.reject(err)
		return
	}
	if snap.sum == w.last.sum {
		w.mu.Lock()
		w.last.mtime = snap.mtime
		w.mu.Unlock()
		return
	}

	diff := Diff(w.last.cfg, snap.cfg)
	w.mu.Lock()
	w.last = snap
	w.mu.Unlock()

	if diff.Empty() {
		slog.Debug("config watcher: file changed without effect", "path", w.path)
		return
	}
	slog.Info("config watcher: configuration reloaded", "path", w.path)
	if w.onReload != nil {
		w.onReload(snap.cfg, diff)
	}
}

func (w *Watcher) reject(err error) {
	slog.Warn("config watcher: edit rejected", "path", w.path, "err", err)
	if w.onReject != nil {
		w.onReject(err)
	}
}

func (w *Watcher) read() (snapshot, error) {
	info, err := os.Stat(w.path)
	if err != nil {
		return snapshot{}, err
	}
	data, err := os.ReadFile(w.path)
	if err != nil {
		return snapshot{}, err
	}
	cfg, err := LoadFromReader(bytes.NewReader(data))
	if err != nil {
		return snapshot{}, err
	}
	return snapshot{cfg: cfg, sum: sha256.Sum256(data), mtime: info.ModTime()}, nil
}
