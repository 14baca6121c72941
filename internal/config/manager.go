package config

import (
	"sync"

	"github.com/fsnotify/fsnotify"

	"github.com/jk-nd/noumena-mcp-gateway-poc-sub004/pkg/logging"
)

// ReloadFunc is invoked after a successful reload with the new snapshot.
// Consumers (the Tool Registry, Upstream Session Manager) use this to
// update their own state (spec.md §4.3, §4.6).
type ReloadFunc func(services []ServiceDefinition)

// Manager owns the current configuration snapshot and watches the
// underlying path for changes, following the teacher's load→validate→
// snapshot→reload-with-callback shape in internal/config.
type Manager struct {
	loader   *Loader
	mu       sync.RWMutex
	services []ServiceDefinition

	watcher   *fsnotify.Watcher
	onReload  []ReloadFunc
	stopWatch chan struct{}
}

// NewManager creates a Manager and performs the initial load. A load
// failure here is fatal to startup (spec.md §6's non-zero exit on
// config-load failure).
func NewManager(path string) (*Manager, error) {
	loader := NewLoader(path)
	services, err := loader.Load()
	if err != nil {
		return nil, err
	}

	return &Manager{
		loader:   loader,
		services: services,
	}, nil
}

// Services returns the current snapshot.
func (m *Manager) Services() []ServiceDefinition {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]ServiceDefinition, len(m.services))
	copy(out, m.services)
	return out
}

// OnReload registers a callback fired after each successful reload.
// Multiple callbacks may be registered — the Tool Registry and the
// Upstream Session Manager each need their own (spec.md §4.3, §4.6).
func (m *Manager) OnReload(fn ReloadFunc) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.onReload = append(m.onReload, fn)
}

// Reload re-reads the configuration. A failed reload is logged and the
// previous snapshot is kept — reload is best-effort, never fatal, per
// SPEC_FULL.md §5.2.
func (m *Manager) Reload() {
	services, err := m.loader.Load()
	if err != nil {
		logging.Warn("Config", "Reload failed, keeping previous configuration: %v", err)
		return
	}

	m.mu.Lock()
	m.services = services
	callbacks := make([]ReloadFunc, len(m.onReload))
	copy(callbacks, m.onReload)
	m.mu.Unlock()

	logging.Info("Config", "Reloaded configuration: %d services", len(services))

	for _, cb := range callbacks {
		cb(services)
	}
}

// WatchForChanges starts an fsnotify watch on the config path and calls
// Reload on any write/create/rename event. Call Stop to release the
// watcher.
func (m *Manager) WatchForChanges() error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	if err := watcher.Add(m.loader.path); err != nil {
		watcher.Close()
		return err
	}

	m.watcher = watcher
	m.stopWatch = make(chan struct{})

	go func() {
		for {
			select {
			case event, ok := <-watcher.Events:
				if !ok {
					return
				}
				if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) != 0 {
					logging.Debug("Config", "Detected change at %s, reloading", event.Name)
					m.Reload()
				}
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				logging.Warn("Config", "Watcher error: %v", err)
			case <-m.stopWatch:
				return
			}
		}
	}()

	return nil
}

// Stop releases the fsnotify watcher, if one was started.
func (m *Manager) Stop() {
	if m.stopWatch != nil {
		close(m.stopWatch)
	}
	if m.watcher != nil {
		m.watcher.Close()
	}
}
