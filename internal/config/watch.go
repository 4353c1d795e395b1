package config

import (
	"fmt"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog/log"
)

const defaultReloadDebounce = 200 * time.Millisecond

// ReloadFunc is called after a successful reload with the new snapshot.
type ReloadFunc func(*Config)

// WatcherConfig holds configuration for the config file watcher.
type WatcherConfig struct {
	ConfigPath string
	Debounce   time.Duration
	OnReload   ReloadFunc
}

// Watcher reloads the config file when it changes on disk. Readers take
// immutable snapshots via Current; turns already in flight keep the snapshot
// they started with. A reload that fails to parse or validate keeps the
// previous snapshot.
type Watcher struct {
	loader   *Loader
	path     string
	debounce time.Duration
	onReload ReloadFunc

	current atomic.Pointer[Config]

	watcher  *fsnotify.Watcher
	timerMu  sync.Mutex
	timer    *time.Timer
	done     chan struct{}
	stopOnce sync.Once
}

// NewWatcher loads the config at cfg.ConfigPath and begins watching for
// changes. The config's directory is watched rather than the file itself;
// editors replace files by rename, which drops a watch placed on the file.
func NewWatcher(cfg WatcherConfig) (*Watcher, error) {
	loader := NewLoader(cfg.ConfigPath)
	initial, err := loader.Load()
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create watcher: %w", err)
	}

	if cfg.Debounce == 0 {
		cfg.Debounce = defaultReloadDebounce
	}

	w := &Watcher{
		loader:   loader,
		path:     filepath.Clean(loader.GetConfigPath()),
		debounce: cfg.Debounce,
		onReload: cfg.OnReload,
		watcher:  fsw,
		done:     make(chan struct{}),
	}
	w.current.Store(initial)

	if err := fsw.Add(filepath.Dir(w.path)); err != nil {
		// The initial snapshot still serves; only hot reload is lost.
		log.Warn().
			Err(err).
			Str("path", w.path).
			Msg("Config directory not watchable, hot reload disabled")
	}

	go w.eventLoop()

	return w, nil
}

// Current returns the active config snapshot.
func (w *Watcher) Current() *Config {
	return w.current.Load()
}

// Close stops watching. The last snapshot stays readable.
func (w *Watcher) Close() error {
	var err error
	w.stopOnce.Do(func() {
		close(w.done)

		w.timerMu.Lock()
		if w.timer != nil {
			w.timer.Stop()
		}
		w.timerMu.Unlock()

		err = w.watcher.Close()
	})
	return err
}

func (w *Watcher) eventLoop() {
	for {
		select {
		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			w.handleEvent(event)

		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			log.Error().Err(err).Msg("Config watcher error")

		case <-w.done:
			return
		}
	}
}

// handleEvent filters directory events down to the config file. Log files
// and other siblings in the data directory churn constantly and must not
// trigger reloads.
func (w *Watcher) handleEvent(event fsnotify.Event) {
	if filepath.Clean(event.Name) != w.path {
		return
	}
	if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
		return
	}
	w.scheduleReload()
}

// scheduleReload debounces bursts of writes into a single reload.
func (w *Watcher) scheduleReload() {
	w.timerMu.Lock()
	defer w.timerMu.Unlock()

	if w.timer != nil {
		w.timer.Stop()
	}

	w.timer = time.AfterFunc(w.debounce, func() {
		select {
		case <-w.done:
			return
		default:
			w.reload()
		}
	})
}

func (w *Watcher) reload() {
	cfg, err := w.loader.Load()
	if err != nil {
		log.Warn().
			Err(err).
			Str("path", w.path).
			Msg("Config reload failed, keeping previous config")
		return
	}

	if err := cfg.Validate(); err != nil {
		log.Warn().
			Err(err).
			Str("path", w.path).
			Msg("Reloaded config is invalid, keeping previous config")
		return
	}

	w.current.Store(cfg)
	log.Info().Str("path", w.path).Msg("Config reloaded")

	if w.onReload != nil {
		w.onReload(cfg)
	}
}
