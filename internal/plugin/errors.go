package plugin

import (
	"errors"
	"fmt"
)

// Plugin runtime errors.
var (
	// ErrPluginNotFound is returned when a named plugin has no source file.
	ErrPluginNotFound = errors.New("plugin not found")

	// ErrNoEntryPoint is returned when a plugin chunk yields neither a
	// function nor a table with a run field.
	ErrNoEntryPoint = errors.New("plugin has no entry point (expected function or table with run field)")

	// ErrRuntimeClosed is returned when the runtime has been shut down.
	ErrRuntimeClosed = errors.New("plugin runtime is closed")
)

// LoadError wraps a per-plugin load failure with the plugin's name.
type LoadError struct {
	Plugin string
	Err    error
}

func (e *LoadError) Error() string {
	return fmt.Sprintf("plugin %q: %v", e.Plugin, e.Err)
}

func (e *LoadError) Unwrap() error {
	return e.Err
}
