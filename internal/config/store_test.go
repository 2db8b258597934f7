package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoadMissingFileReturnsDefaults(t *testing.T) {
	t.Parallel()

	cfg := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	if cfg.Reconnect.DelayBase != 5*time.Second {
		t.Errorf("expected default delay_base 5s, got %v", cfg.Reconnect.DelayBase)
	}
	if !cfg.Reconnect.OnCrashRestart {
		t.Error("expected on_crash_restart default true")
	}
}

func TestLoadMalformedFileReturnsDefaults(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "settings.yaml")
	if err := os.WriteFile(path, []byte("plugins: [not: valid: yaml"), 0o644); err != nil {
		t.Fatalf("write settings: %v", err)
	}

	cfg := Load(path)
	if cfg.Session.DialTimeout != 15*time.Second {
		t.Errorf("expected default dial timeout, got %v", cfg.Session.DialTimeout)
	}
}

func TestLoadParsesPluginSettings(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "settings.yaml")
	content := `
service:
  username: afk-bot
reconnect:
  on_crash_restart: true
  delay_base: 10s
plugins:
  greeter: true
  janitor: false
  uptime:
    enabled: true
    config:
      interval: 30
`
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write settings: %v", err)
	}

	cfg := Load(path)
	if cfg.Service.Username != "afk-bot" {
		t.Errorf("expected username afk-bot, got %q", cfg.Service.Username)
	}
	if cfg.Reconnect.DelayBase != 10*time.Second {
		t.Errorf("expected delay_base 10s, got %v", cfg.Reconnect.DelayBase)
	}
	if !cfg.Plugins["greeter"].Enabled {
		t.Error("expected greeter enabled")
	}
	if cfg.Plugins["janitor"].Enabled {
		t.Error("expected janitor disabled")
	}
	uptime := cfg.Plugins["uptime"]
	if !uptime.Enabled {
		t.Error("expected uptime enabled")
	}
	if got := uptime.Config["interval"]; got != 30 {
		t.Errorf("expected uptime interval 30, got %v", got)
	}
}

func TestCheckReportsErrors(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "settings.yaml")
	if err := os.WriteFile(path, []byte("service:\n  log_level: loud\n"), 0o644); err != nil {
		t.Fatalf("write settings: %v", err)
	}

	if _, err := Check(path); err == nil {
		t.Fatal("expected validation error for bad log level")
	}
}

func TestSetPluginEnabledPersists(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "settings.yaml")
	content := "plugins:\n  a: true\n  b: true\n"
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write settings: %v", err)
	}

	store := NewStore(path)
	if err := store.SetPluginEnabled("b", false); err != nil {
		t.Fatalf("SetPluginEnabled: %v", err)
	}

	// A fresh load from disk must observe the flip.
	reread := Load(path)
	if !reread.Plugins["a"].Enabled {
		t.Error("expected plugin a still enabled")
	}
	if reread.Plugins["b"].Enabled {
		t.Error("expected plugin b disabled after persist")
	}
}

func TestSetPluginEnabledKeepsConfig(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "settings.yaml")
	content := `
plugins:
  uptime:
    enabled: true
    config:
      interval: 30
`
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write settings: %v", err)
	}

	store := NewStore(path)
	if err := store.SetPluginEnabled("uptime", false); err != nil {
		t.Fatalf("SetPluginEnabled: %v", err)
	}

	reread := Load(path)
	uptime := reread.Plugins["uptime"]
	if uptime.Enabled {
		t.Error("expected uptime disabled")
	}
	if got := uptime.Config["interval"]; got != 30 {
		t.Errorf("expected plugin config preserved, got interval %v", got)
	}
}

func TestReconnectPolicyRereadsFile(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "settings.yaml")
	if err := os.WriteFile(path, []byte("reconnect:\n  on_crash_restart: true\n"), 0o644); err != nil {
		t.Fatalf("write settings: %v", err)
	}

	store := NewStore(path)
	if !store.ReconnectPolicy().OnCrashRestart {
		t.Fatal("expected initial policy enabled")
	}

	// Operator disables reconnects on disk; the next decision must see it.
	if err := os.WriteFile(path, []byte("reconnect:\n  on_crash_restart: false\n"), 0o644); err != nil {
		t.Fatalf("rewrite settings: %v", err)
	}
	if store.ReconnectPolicy().OnCrashRestart {
		t.Error("expected edited policy disabled")
	}
}

func TestPluginSettingDefaultsEnabled(t *testing.T) {
	t.Parallel()

	store := NewStore(filepath.Join(t.TempDir(), "absent.yaml"))
	if !store.PluginSetting("anything").Enabled {
		t.Error("expected unlisted plugin to default to enabled")
	}
}
