package catalog

import (
	"fmt"
	"log/slog"
	"path/filepath"
	"sync"

	"github.com/fsnotify/fsnotify"
)

// Holder provides thread-safe access to the current catalog snapshot with
// hot reload support. Runs take a Snapshot once and keep it; a reload never
// changes a snapshot already handed out.
type Holder struct {
	mu       sync.RWMutex
	registry *Registry
	path     string
	watcher  *fsnotify.Watcher
	onChange []func(*Registry)
	stopCh   chan struct{}
	stopOnce sync.Once
}

// NewHolder loads the catalog at path.
func NewHolder(path string) (*Holder, error) {
	absPath, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("absolute path: %w", err)
	}

	reg, err := Load(absPath)
	if err != nil {
		return nil, err
	}

	return &Holder{
		registry: reg,
		path:     absPath,
		stopCh:   make(chan struct{}),
	}, nil
}

// StaticHolder wraps a fixed registry. Reload is a no-op.
func StaticHolder(reg *Registry) *Holder {
	if reg == nil {
		reg = Empty()
	}
	return &Holder{registry: reg, stopCh: make(chan struct{})}
}

// Snapshot returns the current registry.
func (h *Holder) Snapshot() *Registry {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.registry
}

// Reload re-reads the catalog file. On failure the old snapshot is kept.
func (h *Holder) Reload() error {
	if h.path == "" {
		return nil
	}

	reg, err := Load(h.path)
	if err != nil {
		slog.Error("catalog reload failed, keeping previous snapshot", "path", h.path, "error", err)
		return fmt.Errorf("reload catalog: %w", err)
	}

	h.mu.Lock()
	old := h.registry
	h.registry = reg
	listeners := append([]func(*Registry){}, h.onChange...)
	h.mu.Unlock()

	slog.Info("catalog reloaded", "path", h.path, "old_entries", old.Len(), "new_entries", reg.Len())

	for _, fn := range listeners {
		fn(reg)
	}
	return nil
}

// OnChange registers a callback invoked after each successful reload.
func (h *Holder) OnChange(fn func(*Registry)) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.onChange = append(h.onChange, fn)
}

// WatchFile starts watching the catalog file and reloads on change.
func (h *Holder) WatchFile() error {
	if h.path == "" {
		return fmt.Errorf("catalog holder has no file to watch")
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create watcher: %w", err)
	}
	h.watcher = watcher

	// Watch the directory so atomic saves (rename over) are seen.
	if err := watcher.Add(filepath.Dir(h.path)); err != nil {
		watcher.Close()
		return fmt.Errorf("watch directory: %w", err)
	}

	go h.watchLoop()

	slog.Info("watching catalog for changes", "path", h.path)
	return nil
}

// Stop ends file watching.
func (h *Holder) Stop() {
	h.stopOnce.Do(func() {
		close(h.stopCh)
		if h.watcher != nil {
			h.watcher.Close()
		}
	})
}

func (h *Holder) watchLoop() {
	filename := filepath.Base(h.path)

	for {
		select {
		case event, ok := <-h.watcher.Events:
			if !ok {
				return
			}
			if filepath.Base(event.Name) != filename {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create) != 0 {
				slog.Debug("catalog file changed", "event", event.Op.String(), "file", event.Name)
				_ = h.Reload()
			}

		case err, ok := <-h.watcher.Errors:
			if !ok {
				return
			}
			slog.Error("catalog watcher error", "error", err)

		case <-h.stopCh:
			return
		}
	}
}
