package config

import (
	"fmt"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the on-disk settings document for the agent.
type Config struct {
	Service    ServiceConfig            `yaml:"service"`
	Reconnect  ReconnectConfig          `yaml:"reconnect"`
	Session    SessionConfig            `yaml:"session"`
	Plugins    map[string]PluginSetting `yaml:"plugins"`
	PluginsDir string                   `yaml:"plugins_dir"`
	Telemetry  TelemetryConfig          `yaml:"telemetry"`
	State      StateConfig              `yaml:"state"`
	API        APIConfig                `yaml:"api,omitempty"`
}

// ServiceConfig defines agent identity and logging.
type ServiceConfig struct {
	Username  string `yaml:"username"`
	Status    string `yaml:"status"`
	LogLevel  string `yaml:"log_level"`
	LogFormat string `yaml:"log_format"`
}

// ReconnectConfig governs whether and after what delay the supervisor
// re-establishes a terminated session.
type ReconnectConfig struct {
	OnCrashRestart bool          `yaml:"on_crash_restart"`
	DelayBase      time.Duration `yaml:"delay_base"`
}

// SessionConfig defines how the agent reaches the remote gateway.
type SessionConfig struct {
	Address           string        `yaml:"address"`
	DialTimeout       time.Duration `yaml:"dial_timeout"`
	HeartbeatInterval time.Duration `yaml:"heartbeat_interval"`
}

// TelemetryConfig defines the durable liveness export.
type TelemetryConfig struct {
	ExportPath string `yaml:"export_path"`
}

// StateConfig defines plugin state storage settings.
type StateConfig struct {
	Path string `yaml:"path"`
}

// APIConfig defines the observer HTTP server.
type APIConfig struct {
	Enabled bool   `yaml:"enabled"`
	Listen  string `yaml:"listen"`
}

// PluginSetting is a per-plugin settings entry. In YAML it is written either
// as a bare bool (the common enable/disable case) or as a mapping carrying
// extra plugin config:
//
//	plugins:
//	  greeter: true
//	  uptime:
//	    enabled: true
//	    config:
//	      interval: 30
type PluginSetting struct {
	Enabled bool           `yaml:"enabled"`
	Config  map[string]any `yaml:"config,omitempty"`
}

func (p *PluginSetting) UnmarshalYAML(value *yaml.Node) error {
	if value.Kind == yaml.ScalarNode {
		var enabled bool
		if err := value.Decode(&enabled); err != nil {
			return fmt.Errorf("plugin setting must be a bool or a mapping: %w", err)
		}
		p.Enabled = enabled
		p.Config = nil
		return nil
	}

	type raw PluginSetting
	var r raw
	if err := value.Decode(&r); err != nil {
		return err
	}
	*p = PluginSetting(r)
	return nil
}

func (p PluginSetting) MarshalYAML() (any, error) {
	if len(p.Config) == 0 {
		return p.Enabled, nil
	}
	type raw PluginSetting
	return raw(p), nil
}

// Defaults returns a Config with sensible defaults. The agent must be able to
// run from an absent settings file, so every field has a workable zero shape.
func Defaults() *Config {
	return &Config{
		Service: ServiceConfig{
			Username:  "nexus",
			Status:    "idle",
			LogLevel:  "info",
			LogFormat: "json",
		},
		Reconnect: ReconnectConfig{
			OnCrashRestart: true,
			DelayBase:      5 * time.Second,
		},
		Session: SessionConfig{
			Address:           "127.0.0.1:25565",
			DialTimeout:       15 * time.Second,
			HeartbeatInterval: 2 * time.Second,
		},
		Plugins:    make(map[string]PluginSetting),
		PluginsDir: "./plugins",
		Telemetry: TelemetryConfig{
			ExportPath: "./data/telemetry.json",
		},
		State: StateConfig{
			Path: "./data/state.db",
		},
		API: APIConfig{
			Enabled: false,
			Listen:  "127.0.0.1:8080",
		},
	}
}

// applyDefaults fills unset fields in cfg from Defaults.
func applyDefaults(cfg *Config) *Config {
	defaults := Defaults()

	if cfg.Service.Username == "" {
		cfg.Service.Username = defaults.Service.Username
	}
	if cfg.Service.Status == "" {
		cfg.Service.Status = defaults.Service.Status
	}
	if cfg.Service.LogLevel == "" {
		cfg.Service.LogLevel = defaults.Service.LogLevel
	}
	if cfg.Service.LogFormat == "" {
		cfg.Service.LogFormat = defaults.Service.LogFormat
	}
	if cfg.Reconnect.DelayBase == 0 {
		cfg.Reconnect.DelayBase = defaults.Reconnect.DelayBase
	}
	if cfg.Session.Address == "" {
		cfg.Session.Address = defaults.Session.Address
	}
	if cfg.Session.DialTimeout == 0 {
		cfg.Session.DialTimeout = defaults.Session.DialTimeout
	}
	if cfg.Session.HeartbeatInterval == 0 {
		cfg.Session.HeartbeatInterval = defaults.Session.HeartbeatInterval
	}
	if cfg.Plugins == nil {
		cfg.Plugins = make(map[string]PluginSetting)
	}
	if cfg.PluginsDir == "" {
		cfg.PluginsDir = defaults.PluginsDir
	}
	if cfg.Telemetry.ExportPath == "" {
		cfg.Telemetry.ExportPath = defaults.Telemetry.ExportPath
	}
	if cfg.State.Path == "" {
		cfg.State.Path = defaults.State.Path
	}
	if cfg.API.Listen == "" {
		cfg.API.Listen = defaults.API.Listen
	}

	return cfg
}

// validate performs basic validation on the configuration.
func validate(cfg *Config) error {
	validLogLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLogLevels[cfg.Service.LogLevel] {
		return fmt.Errorf("service.log_level must be one of: debug, info, warn, error (got %q)", cfg.Service.LogLevel)
	}
	if cfg.Reconnect.DelayBase < 0 {
		return fmt.Errorf("reconnect.delay_base must not be negative")
	}
	if cfg.Session.DialTimeout <= 0 {
		return fmt.Errorf("session.dial_timeout must be positive")
	}
	if cfg.Session.HeartbeatInterval <= 0 {
		return fmt.Errorf("session.heartbeat_interval must be positive")
	}
	if cfg.PluginsDir == "" {
		return fmt.Errorf("plugins_dir is required")
	}
	if cfg.State.Path == "" {
		return fmt.Errorf("state.path is required")
	}
	return nil
}
