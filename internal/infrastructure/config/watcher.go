package config

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"

	"github.com/fsnotify/fsnotify"

	"consolerelay.dev/cli/internal/core/domain"
)

// Watcher reports changes to a single config file. The parent directory is
// watched because atomic saves replace the file rather than writing to it.
type Watcher struct {
	path     string
	watcher  *fsnotify.Watcher
	onChange func()
	logger   *slog.Logger

	done     chan struct{}
	stopOnce sync.Once
}

// NewWatcher creates a watcher for path calling onChange after every
// create, write, rename or remove of the file.
func NewWatcher(path string, onChange func(), logger *slog.Logger) (*Watcher, error) {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	fsWatcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("creating file watcher: %w", err)
	}
	if err := fsWatcher.Add(filepath.Dir(path)); err != nil {
		_ = fsWatcher.Close()
		return nil, fmt.Errorf("watching %s: %w", filepath.Dir(path), err)
	}
	return &Watcher{
		path:     filepath.Clean(path),
		watcher:  fsWatcher,
		onChange: onChange,
		logger:   logger,
		done:     make(chan struct{}),
	}, nil
}

// Start processes events until ctx is done or Stop is called
func (w *Watcher) Start(ctx context.Context) {
	go w.processEvents(ctx)
}

// Stop closes the underlying watcher
func (w *Watcher) Stop() error {
	var err error
	w.stopOnce.Do(func() {
		close(w.done)
		err = w.watcher.Close()
	})
	return err
}

func (w *Watcher) processEvents(ctx context.Context) {
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
			if filepath.Clean(event.Name) != w.path {
				continue
			}
			if event.Op&(fsnotify.Create|fsnotify.Write|fsnotify.Rename|fsnotify.Remove) == 0 {
				continue
			}
			w.logger.Debug("config file changed", "path", w.path, "op", event.Op.String())
			w.onChange()
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.logger.Warn("config watcher error", "error", err)
		}
	}
}

// Provider caches the resolved configuration until it is invalidated,
// typically by a Watcher on the config file.
type Provider struct {
	loader *Loader

	mu     sync.Mutex
	cached *domain.Configuration
}

// NewProvider creates a provider backed by loader
func NewProvider(loader *Loader) *Provider {
	return &Provider{loader: loader}
}

// Current returns a copy of the resolved configuration, loading it if needed
func (p *Provider) Current(ctx context.Context) (domain.Configuration, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.cached == nil {
		cfg, err := p.loader.Load(ctx)
		if err != nil {
			return domain.Configuration{}, err
		}
		p.cached = &cfg
	}
	return p.cached.Clone(), nil
}

// Invalidate drops the cached configuration
func (p *Provider) Invalidate() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.cached = nil
}

// Watch invalidates the cache whenever the config file changes, until ctx
// is done. Each notify func runs after the cache is dropped. The returned
// watcher may be stopped early.
func (p *Provider) Watch(ctx context.Context, logger *slog.Logger, notify ...func()) (*Watcher, error) {
	path := p.loader.Store().Path()
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return nil, fmt.Errorf("creating config directory: %w", err)
	}
	onChange := func() {
		p.Invalidate()
		for _, fn := range notify {
			fn()
		}
	}
	w, err := NewWatcher(path, onChange, logger)
	if err != nil {
		return nil, err
	}
	w.Start(ctx)
	return w, nil
}
