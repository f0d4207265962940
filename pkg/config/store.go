package config

import (
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"sync"
	"sync/atomic"

	"github.com/fsnotify/fsnotify"
)

var errNoConfigFile = errors.New("config: no config file to watch")

// Source hands out the configuration snapshot in effect for a request.
type Source interface {
	Current() *Config
}

type staticSource struct {
	cfg *Config
}

// Static returns a Source that always yields cfg.
func Static(cfg Config) Source {
	return staticSource{cfg: &cfg}
}

func (s staticSource) Current() *Config { return s.cfg }

// Override adjusts a freshly loaded snapshot before it is validated and published.
type Override func(*Config)

// Store loads configuration, publishes it as immutable snapshots and reloads
// it when the file changes or Reload is called. A failed reload keeps the
// previous snapshot.
type Store struct {
	path      string
	overrides []Override
	logger    *slog.Logger

	current atomic.Pointer[Config]

	mu       sync.Mutex
	watcher  *fsnotify.Watcher
	onChange func(*Config)
	close    chan struct{}
	closed   bool
}

// NewStore loads the initial snapshot from path (which may be empty).
func NewStore(path string, logger *slog.Logger, overrides ...Override) (*Store, error) {
	if logger == nil {
		logger = slog.Default()
	}

	if path != "" {
		absPath, err := filepath.Abs(path)
		if err != nil {
			return nil, fmt.Errorf("failed to resolve absolute path: %w", err)
		}
		path = absPath
	}

	s := &Store{
		path:      path,
		overrides: overrides,
		logger:    logger,
		close:     make(chan struct{}),
	}

	if _, err := s.Reload(); err != nil {
		return nil, err
	}
	return s, nil
}

// Path returns the absolute path of the backing file, or "" when none is used.
func (s *Store) Path() string {
	return s.path
}

// Current returns the snapshot in effect. Callers must not mutate it.
func (s *Store) Current() *Config {
	return s.current.Load()
}

// Reload re-reads the file and environment and publishes a new snapshot.
func (s *Store) Reload() (*Config, error) {
	cfg, err := Load(s.path)
	if err != nil {
		return nil, err
	}

	if len(s.overrides) > 0 {
		for _, apply := range s.overrides {
			apply(cfg)
		}
		if err := cfg.Validate(); err != nil {
			return nil, fmt.Errorf("configuration validation failed: %w", err)
		}
	}

	s.current.Store(cfg)
	return cfg, nil
}

// Watch starts monitoring the config file for changes and calls onChange
// with every successfully reloaded snapshot.
func (s *Store) Watch(onChange func(*Config)) error {
	if s.path == "" {
		return errNoConfigFile
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create watcher: %w", err)
	}

	// Editors often replace the file atomically, so watch the directory.
	if err := watcher.Add(filepath.Dir(s.path)); err != nil {
		_ = watcher.Close()
		return fmt.Errorf("failed to watch directory: %w", err)
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		_ = watcher.Close()
		return errors.New("config: store closed")
	}
	s.watcher = watcher
	s.onChange = onChange
	s.mu.Unlock()

	go s.watchLoop(watcher)
	return nil
}

func (s *Store) watchLoop(watcher *fsnotify.Watcher) {
	for {
		select {
		case <-s.close:
			return
		case event, ok := <-watcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(event.Name) != s.path {
				continue
			}
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) && !event.Has(fsnotify.Rename) {
				continue
			}

			cfg, err := s.Reload()
			if err != nil {
				s.logger.Error("Config reload failed, keeping previous configuration", "path", s.path, "error", err)
				continue
			}
			s.logger.Info("Configuration reloaded", "path", s.path)

			s.mu.Lock()
			onChange := s.onChange
			s.mu.Unlock()
			if onChange != nil {
				onChange(cfg)
			}
		case err, ok := <-watcher.Errors:
			if !ok {
				return
			}
			s.logger.Warn("Config watcher error", "error", err)
		}
	}
}

// Close stops the watcher. It is safe to call more than once.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil
	}
	s.closed = true
	close(s.close)

	if s.watcher != nil {
		return s.watcher.Close()
	}
	return nil
}
