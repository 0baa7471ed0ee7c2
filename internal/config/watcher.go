package config

import (
	"fmt"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog"
)

// ReloadFunc receives the freshly loaded configuration after the file on
// disk changed and passed validation.
type ReloadFunc func(cfg *Config)

// Watcher watches a config file and reloads it on change. Editors often
// replace files with rename+create, so the watch is on the parent directory.
type Watcher struct {
	path     string
	loader   *Loader
	onReload ReloadFunc
	logger   zerolog.Logger

	watcher *fsnotify.Watcher
	done    chan struct{}
	once    sync.Once
}

// NewWatcher creates a config file watcher. It does not start watching until
// Start is called.
func NewWatcher(path string, onReload ReloadFunc, logger zerolog.Logger) (*Watcher, error) {
	if path == "" {
		return nil, fmt.Errorf("config path is required")
	}
	if onReload == nil {
		return nil, fmt.Errorf("reload callback is required")
	}

	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create file watcher: %w", err)
	}

	return &Watcher{
		path:     path,
		loader:   NewLoader(path),
		onReload: onReload,
		logger:   logger,
		watcher:  fw,
		done:     make(chan struct{}),
	}, nil
}

// Start begins watching for changes.
func (w *Watcher) Start() error {
	if err := w.watcher.Add(filepath.Dir(w.path)); err != nil {
		return fmt.Errorf("failed to watch config directory: %w", err)
	}

	go w.loop()
	return nil
}

func (w *Watcher) loop() {
	// Debounce bursts of write events from a single save.
	var timer *time.Timer

	for {
		select {
		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(event.Name) != filepath.Clean(w.path) {
				continue
			}
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) {
				continue
			}
			if timer != nil {
				timer.Stop()
			}
			timer = time.AfterFunc(200*time.Millisecond, w.reload)

		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.logger.Warn().Err(err).Msg("Config watcher error")

		case <-w.done:
			return
		}
	}
}

func (w *Watcher) reload() {
	cfg, err := w.loader.Load()
	if err != nil {
		w.logger.Error().Err(err).Str("path", w.path).Msg("Config reload failed, keeping previous config")
		return
	}

	w.logger.Info().Str("path", w.path).Msg("Config reloaded")
	w.onReload(cfg)
}

// Close stops the watcher.
func (w *Watcher) Close() error {
	w.once.Do(func() {
		close(w.done)
	})
	return w.watcher.Close()
}
