package config

import (
	"fmt"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
)

// ChangeHandler is called after a successful configuration reload
type ChangeHandler func(cfg *Config)

// Manager holds the live configuration and supports hot-reload.
// Reloads swap the config atomically; in-flight work keeps the snapshot it
// started with, so changes apply to subsequently accepted work only.
type Manager struct {
	path     string
	current  *Config
	handlers []ChangeHandler
	watcher  *fsnotify.Watcher
	started  bool
	stopCh   chan struct{}
	logger   *zap.Logger
	mu       sync.RWMutex

	reloads     int64
	lastReload  time.Time
	lastAttempt time.Time
}

// NewManager creates a configuration manager for a single config file
func NewManager(path string, logger *zap.Logger) (*Manager, error) {
	if path == "" {
		return nil, fmt.Errorf("config path cannot be empty")
	}

	cfg, err := LoadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to load initial config: %w", err)
	}

	return &Manager{
		path:    path,
		current: cfg,
		stopCh:  make(chan struct{}),
		logger:  logger,
	}, nil
}

// Current returns the live configuration snapshot
func (m *Manager) Current() *Config {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.current
}

// OnChange registers a handler invoked after each successful reload
func (m *Manager) OnChange(h ChangeHandler) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.handlers = append(m.handlers, h)
}

// Reload re-reads the config file and swaps the snapshot.
// Safe to call concurrently with readers; a failed read keeps the old config.
func (m *Manager) Reload() (*Config, error) {
	m.mu.Lock()
	m.lastAttempt = time.Now()
	m.mu.Unlock()

	cfg, err := LoadFile(m.path)
	if err != nil {
		m.logger.Error("Config reload failed, keeping previous configuration",
			zap.String("path", m.path),
			zap.Error(err),
		)
		return nil, err
	}

	m.mu.Lock()
	m.current = cfg
	m.reloads++
	m.lastReload = time.Now()
	handlers := make([]ChangeHandler, len(m.handlers))
	copy(handlers, m.handlers)
	m.mu.Unlock()

	for _, h := range handlers {
		h(cfg)
	}

	m.logger.Info("Configuration reloaded", zap.String("path", m.path))
	return cfg, nil
}

// ReloadCount returns how many successful reloads have been applied
func (m *Manager) ReloadCount() int64 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.reloads
}

// Start begins watching the config file for changes
func (m *Manager) Start() error {
	m.mu.Lock()
	if m.started {
		m.mu.Unlock()
		return nil
	}
	m.started = true
	m.mu.Unlock()

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create file watcher: %w", err)
	}
	// Watch the directory: editors replace files rather than writing in place
	if err := watcher.Add(filepath.Dir(m.path)); err != nil {
		watcher.Close()
		return fmt.Errorf("failed to watch config directory: %w", err)
	}

	m.mu.Lock()
	m.watcher = watcher
	m.mu.Unlock()

	go m.watchLoop(watcher)

	m.logger.Info("Config manager started", zap.String("path", m.path))
	return nil
}

// Stop stops the file watcher
func (m *Manager) Stop() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.started {
		return nil
	}
	m.started = false
	close(m.stopCh)
	if m.watcher != nil {
		return m.watcher.Close()
	}
	return nil
}

func (m *Manager) watchLoop(watcher *fsnotify.Watcher) {
	for {
		select {
		case <-m.stopCh:
			return
		case event, ok := <-watcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(event.Name) != filepath.Clean(m.path) {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create) == 0 {
				continue
			}
			if _, err := m.Reload(); err != nil {
				continue
			}
		case err, ok := <-watcher.Errors:
			if !ok {
				return
			}
			m.logger.Warn("Config watcher error", zap.Error(err))
		}
	}
}
