package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"

	"gopkg.in/yaml.v3"

	"github.com/blasty8084/Nexus-247/internal/log"
)

// Store owns the settings file. Reads are lenient: a missing or malformed
// file yields defaults with a warning, never a fatal error. Writes are
// atomic via a temp file rename next to the target.
type Store struct {
	mu   sync.Mutex
	path string
	cfg  *Config
}

// NewStore loads the settings file at path and returns a Store bound to it.
func NewStore(path string) *Store {
	return &Store{
		path: path,
		cfg:  Load(path),
	}
}

// Load reads and parses the settings file. A missing file or a parse failure
// falls back to defaults so the agent can always start.
func Load(path string) *Config {
	logger := log.WithComponent("config")

	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			logger.Info("settings file not found, using defaults", "path", path)
		} else {
			logger.Warn("failed to read settings file, using defaults", "path", path, "error", err)
		}
		return Defaults()
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		logger.Warn("failed to parse settings file, using defaults", "path", path, "error", err)
		return Defaults()
	}

	applyDefaults(&cfg)
	if err := validate(&cfg); err != nil {
		logger.Warn("invalid settings, using defaults", "path", path, "error", err)
		return Defaults()
	}

	return &cfg
}

// Check parses and validates the settings file strictly, for `config check`.
// Unlike Load it reports problems instead of swallowing them.
func Check(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read settings: %w", err)
	}
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse settings: %w", err)
	}
	applyDefaults(&cfg)
	if err := validate(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Path returns the settings file path the store is bound to.
func (s *Store) Path() string {
	return s.path
}

// Current returns the in-memory config. Callers must not mutate it.
func (s *Store) Current() *Config {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cfg
}

// ReconnectPolicy re-reads the settings file and returns the current
// reconnect policy. Each reconnect decision consults the file so an
// operator edit takes effect without a restart.
func (s *Store) ReconnectPolicy() ReconnectConfig {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cfg = Load(s.path)
	return s.cfg.Reconnect
}

// PluginSetting returns the setting for the named plugin. Plugins absent
// from the settings map are enabled by default.
func (s *Store) PluginSetting(name string) PluginSetting {
	s.mu.Lock()
	defer s.mu.Unlock()
	setting, ok := s.cfg.Plugins[name]
	if !ok {
		return PluginSetting{Enabled: true}
	}
	return setting
}

// SetPluginEnabled flips the enabled flag for a plugin and persists the
// change. Used both by operator requests and by auto-disable after a
// plugin failure, so later reads observe the new value.
func (s *Store) SetPluginEnabled(name string, enabled bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	setting := s.cfg.Plugins[name]
	setting.Enabled = enabled
	s.cfg.Plugins[name] = setting

	return s.persistLocked()
}

func (s *Store) persistLocked() error {
	data, err := yaml.Marshal(s.cfg)
	if err != nil {
		return fmt.Errorf("marshal settings: %w", err)
	}

	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create settings dir: %w", err)
	}

	tmp, err := os.CreateTemp(dir, ".settings-*.yaml")
	if err != nil {
		return fmt.Errorf("create temp settings: %w", err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("write temp settings: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("close temp settings: %w", err)
	}
	if err := os.Rename(tmpName, s.path); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("replace settings: %w", err)
	}
	return nil
}
