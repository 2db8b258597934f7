// Package plugin loads and supervises Lua plugins. Every plugin runs in
// its own interpreter state so a failure in one never takes down another,
// and a plugin that fails to load is disabled in settings until an
// operator re-enables it.
package plugin

import "time"

// Descriptor is the externally visible record for one plugin.
// LastLoadMS is nil until the plugin's entry point has run at least once.
type Descriptor struct {
	Name       string    `json:"name"`
	Path       string    `json:"path"`
	Enabled    bool      `json:"enabled"`
	Loaded     bool      `json:"loaded"`
	LastError  string    `json:"last_error,omitempty"`
	LoadedAt   time.Time `json:"loaded_at,omitzero"`
	LastLoadMS *float64  `json:"last_load_duration_ms"`
}

// LoadSummary reports the outcome of a load pass over the plugins
// directory.
type LoadSummary struct {
	Loaded  []string `json:"loaded"`
	Failed  []string `json:"failed"`
	Skipped []string `json:"skipped"`
}

// LoadOptions tunes a load pass.
type LoadOptions struct {
	// Silent suppresses toast notifications for load outcomes. Used on
	// the initial startup pass where the operator is watching the log.
	Silent bool

	// HotReload marks the pass as triggered by a source change rather
	// than startup or an explicit request.
	HotReload bool
}
