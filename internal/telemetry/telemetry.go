// Package telemetry exports a periodic liveness sample to a JSON file so
// external tooling can check on the agent without talking to it.
package telemetry

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"time"

	"github.com/blasty8084/Nexus-247/internal/log"
	"github.com/blasty8084/Nexus-247/internal/session"
)

// Sample is one exported liveness record. PingMS is null whenever no
// session is live to measure against.
type Sample struct {
	Timestamp time.Time         `json:"timestamp"`
	Username  string            `json:"username"`
	Status    string            `json:"status"`
	State     string            `json:"state"`
	SessionID string            `json:"session_id,omitempty"`
	UptimeS   float64           `json:"uptime_s"`
	MemoryMB  float64           `json:"memory_mb"`
	PingMS    *float64          `json:"ping_ms"`
	Position  *session.Position `json:"position,omitempty"`
	Plugins   PluginCounts      `json:"plugins"`
}

// MemoryMB reports the process heap allocation in mebibytes.
func MemoryMB() float64 {
	var ms runtime.MemStats
	runtime.ReadMemStats(&ms)
	return float64(ms.Alloc) / (1 << 20)
}

// PluginCounts summarizes the plugin runtime for the sample.
type PluginCounts struct {
	Loaded   int `json:"loaded"`
	Failed   int `json:"failed"`
	Disabled int `json:"disabled"`
}

// Exporter persists samples to a fixed path. Export failures are logged
// and swallowed; telemetry must never take the agent down.
type Exporter struct {
	path string
}

func NewExporter(path string) *Exporter {
	return &Exporter{path: path}
}

// Run exports a fresh sample on every interval tick until the context is
// cancelled. collect builds the sample from live components.
func (e *Exporter) Run(ctx context.Context, interval time.Duration, collect func() Sample) {
	if interval <= 0 {
		interval = 30 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			e.Export(collect())
		}
	}
}

// Export writes one sample atomically via a temp file rename. Failures
// are logged at warn and otherwise ignored.
func (e *Exporter) Export(sample Sample) {
	if err := e.write(sample); err != nil {
		log.WithComponent("telemetry").Warn("export failed", "path", e.path, "error", err)
	}
}

func (e *Exporter) write(sample Sample) error {
	data, err := json.MarshalIndent(sample, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal sample: %w", err)
	}

	dir := filepath.Dir(e.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create export dir: %w", err)
	}

	tmp, err := os.CreateTemp(dir, ".telemetry-*.json")
	if err != nil {
		return fmt.Errorf("create temp export: %w", err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("write temp export: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("close temp export: %w", err)
	}
	if err := os.Rename(tmpName, e.path); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("replace export: %w", err)
	}
	return nil
}

// ReadSample loads the last exported sample.
func ReadSample(path string) (Sample, error) {
	var sample Sample
	data, err := os.ReadFile(path)
	if err != nil {
		return sample, fmt.Errorf("read sample: %w", err)
	}
	if err := json.Unmarshal(data, &sample); err != nil {
		return sample, fmt.Errorf("parse sample: %w", err)
	}
	return sample, nil
}
