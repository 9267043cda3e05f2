package config

import (
	"fmt"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog/log"
)

// ReloadCallback is called with the freshly loaded config after a change.
type ReloadCallback func(cfg *Config)

// Watcher monitors the config file and reloads it on change. Only settings
// that are safe to apply live (log level today) should be acted on by the
// callback; store and limiter limits are construction-time and keep their
// original values until restart.
type Watcher struct {
	loader     *Loader
	configPath string
	watcher    *fsnotify.Watcher
	onReload   ReloadCallback
	done       chan struct{}
	debounce   *time.Timer
	debounceMu sync.Mutex
	stopOnce   sync.Once
}

// NewWatcher creates a watcher for the loader's config file.
func NewWatcher(loader *Loader, onReload ReloadCallback) (*Watcher, error) {
	configPath, err := loader.Path()
	if err != nil {
		return nil, err
	}

	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create watcher: %w", err)
	}

	return &Watcher{
		loader:     loader,
		configPath: configPath,
		watcher:    fsw,
		onReload:   onReload,
		done:       make(chan struct{}),
	}, nil
}

// Start begins watching. Editors replace files rather than writing in
// place, so the parent directory is watched and events are filtered to the
// config path.
func (w *Watcher) Start() error {
	if err := w.watcher.Add(filepath.Dir(w.configPath)); err != nil {
		return fmt.Errorf("failed to watch config directory: %w", err)
	}

	go w.eventLoop()

	log.Info().Str("path", w.configPath).Msg("Config watcher started")
	return nil
}

// Stop stops the watcher.
func (w *Watcher) Stop() error {
	var err error
	w.stopOnce.Do(func() {
		close(w.done)
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
			if event.Name != w.configPath {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
				continue
			}
			w.scheduleReload()
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			log.Warn().Err(err).Msg("Config watcher error")
		case <-w.done:
			return
		}
	}
}

// scheduleReload debounces bursts of write events into one reload.
func (w *Watcher) scheduleReload() {
	w.debounceMu.Lock()
	defer w.debounceMu.Unlock()

	if w.debounce != nil {
		w.debounce.Stop()
	}
	w.debounce = time.AfterFunc(200*time.Millisecond, w.reload)
}

func (w *Watcher) reload() {
	cfg, err := w.loader.Load()
	if err != nil {
		log.Warn().Err(err).Msg("Config reload rejected, keeping previous configuration")
		return
	}

	log.Info().Str("path", w.configPath).Msg("Config reloaded")

	if w.onReload != nil {
		w.onReload(cfg)
	}
}
