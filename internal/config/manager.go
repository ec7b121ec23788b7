package config

import (
	"sync"

	"golang.org/x/sync/singleflight"
)

// ChangeCallback is invoked after the Manager's configuration changes.
type ChangeCallback func(oldConfig, newConfig *Config)

// Manager guards the current Config behind a mutex and notifies
// registered callbacks after each update, matching the teacher's
// config-manager convention of snapshot-then-notify.
type Manager struct {
	mu        sync.RWMutex
	current   *Config
	filePath  string
	callbacks []ChangeCallback

	reloadGroup singleflight.Group
}

// NewManager creates a Manager holding cfg, persisted at filePath.
func NewManager(cfg *Config, filePath string) *Manager {
	return &Manager{current: cfg, filePath: filePath}
}

// Current returns the current configuration.
func (m *Manager) Current() *Config {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.current
}

// Update replaces the current configuration, then notifies every
// registered callback with a deep-copied snapshot of the old config.
func (m *Manager) Update(cfg *Config) error {
	if err := cfg.Validate(); err != nil {
		return err
	}

	m.mu.Lock()
	var old *Config
	if m.current != nil {
		old = m.current.DeepCopy()
	}
	m.current = cfg
	callbacks := make([]ChangeCallback, len(m.callbacks))
	copy(callbacks, m.callbacks)
	m.mu.Unlock()

	for _, cb := range callbacks {
		cb(old, cfg)
	}
	return nil
}

// OnChange registers a callback invoked after every successful Update.
func (m *Manager) OnChange(cb ChangeCallback) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.callbacks = append(m.callbacks, cb)
}

// Reload re-reads the configuration from the manager's file path.
// Concurrent callers (e.g. a signal handler racing an API-triggered
// reload) collapse into a single read-validate-swap, so a reload storm
// never re-parses the file more than once at a time.
func (m *Manager) Reload() error {
	_, err, _ := m.reloadGroup.Do("reload", func() (interface{}, error) {
		m.mu.RLock()
		path := m.filePath
		m.mu.RUnlock()

		cfg, err := LoadConfig(path)
		if err != nil {
			return nil, err
		}
		return nil, m.Update(cfg)
	})
	return err
}

// Save persists the current configuration to the manager's file path.
func (m *Manager) Save() error {
	m.mu.RLock()
	cfg, path := m.current, m.filePath
	m.mu.RUnlock()
	return SaveToFile(cfg, path)
}
