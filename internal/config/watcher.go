package config

import (
	"context"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
)

// ChangeHandler is called with the freshly loaded configuration after the
// config file changes on disk.
type ChangeHandler func(old, new Config)

// Watcher reloads the config file when it changes and notifies handlers.
// Only the runtime-changeable engine limits take effect on reload; server
// address and tracing settings require a restart.
type Watcher struct {
	path     string
	current  Config
	handlers []ChangeHandler
	logger   *zap.Logger

	mu      sync.RWMutex
	watcher *fsnotify.Watcher
	done    chan struct{}
}

// NewWatcher creates a watcher for the given config file. The initial
// configuration must already be loaded by the caller.
func NewWatcher(path string, initial Config, logger *zap.Logger) (*Watcher, error) {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	if err := fw.Add(path); err != nil {
		fw.Close()
		return nil, err
	}
	return &Watcher{
		path:    path,
		current: initial,
		logger:  logger,
		watcher: fw,
		done:    make(chan struct{}),
	}, nil
}

// OnChange registers a handler invoked after every successful reload.
func (w *Watcher) OnChange(h ChangeHandler) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.handlers = append(w.handlers, h)
}

// Current returns the most recently loaded configuration.
func (w *Watcher) Current() Config {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.current
}

// Start begins watching until ctx is cancelled or Stop is called.
func (w *Watcher) Start(ctx context.Context) {
	go w.run(ctx)
}

func (w *Watcher) run(ctx context.Context) {
	// Editors often write config files with several rapid events.
	// Debounce so we reload once per save.
	var timer *time.Timer
	for {
		select {
		case <-ctx.Done():
			return
		case <-w.done:
			return
		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if event.Op&(fsnotify.Write|fsnotify.Create) == 0 {
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
			w.logger.Warn("config watcher error", zap.Error(err))
		}
	}
}

func (w *Watcher) reload() {
	cfg := Default()
	if err := cfg.applyFile(w.path); err != nil {
		w.logger.Warn("config reload failed, keeping previous configuration",
			zap.String("path", w.path),
			zap.Error(err))
		return
	}
	cfg.applyEnv()
	if err := cfg.Validate(); err != nil {
		w.logger.Warn("reloaded config invalid, keeping previous configuration",
			zap.String("path", w.path),
			zap.Error(err))
		return
	}

	w.mu.Lock()
	old := w.current
	w.current = cfg
	handlers := make([]ChangeHandler, len(w.handlers))
	copy(handlers, w.handlers)
	w.mu.Unlock()

	w.logger.Info("configuration reloaded",
		zap.Int("historyCapacity", cfg.Engine.HistoryCapacity),
		zap.Int("maxKeyPoints", cfg.Engine.MaxKeyPoints))

	for _, h := range handlers {
		h(old, cfg)
	}
}

// Stop terminates the watcher.
func (w *Watcher) Stop() {
	close(w.done)
	w.watcher.Close()
}
