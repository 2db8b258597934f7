package telemetry

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/blasty8084/Nexus-247/internal/session"
)

func TestExportRoundTrip(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "telemetry.json")
	e := NewExporter(path)

	ping := 35.2
	want := Sample{
		Timestamp: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC),
		Username:  "nexus",
		Status:    "afk",
		State:     "connected",
		SessionID: "s1",
		UptimeS:   42.5,
		MemoryMB:  18.75,
		PingMS:    &ping,
		Position:  &session.Position{X: 10, Y: 64, Z: -5},
		Plugins:   PluginCounts{Loaded: 2, Failed: 1},
	}
	e.Export(want)

	got, err := ReadSample(path)
	if err != nil {
		t.Fatalf("ReadSample: %v", err)
	}
	if got.State != want.State || got.SessionID != want.SessionID || got.Username != want.Username || got.Status != want.Status {
		t.Errorf("round trip mismatch: %+v", got)
	}
	if got.PingMS == nil || *got.PingMS != ping {
		t.Errorf("ping mismatch: %+v", got.PingMS)
	}
	if got.Position == nil || *got.Position != *want.Position {
		t.Errorf("position mismatch: %+v", got.Position)
	}
	if got.Plugins != want.Plugins {
		t.Errorf("plugin counts mismatch: %+v", got.Plugins)
	}
	if !got.Timestamp.Equal(want.Timestamp) {
		t.Errorf("timestamp mismatch: %v", got.Timestamp)
	}
}

func TestExportOverwritesPrevious(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "telemetry.json")
	e := NewExporter(path)

	e.Export(Sample{State: "connected"})
	e.Export(Sample{State: "reconnecting"})

	got, err := ReadSample(path)
	if err != nil {
		t.Fatalf("ReadSample: %v", err)
	}
	if got.State != "reconnecting" {
		t.Errorf("expected latest sample, got %q", got.State)
	}
}

func TestExportFailureIsSwallowed(t *testing.T) {
	t.Parallel()

	// Target a path whose parent is a file, so the export cannot succeed.
	base := t.TempDir()
	blocker := filepath.Join(base, "blocker")
	if err := os.WriteFile(blocker, []byte("x"), 0o644); err != nil {
		t.Fatalf("write blocker: %v", err)
	}

	e := NewExporter(filepath.Join(blocker, "telemetry.json"))
	e.Export(Sample{State: "connected"}) // must not panic or fail the test
}

func TestRunExportsOnInterval(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "telemetry.json")
	e := NewExporter(path)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go e.Run(ctx, 20*time.Millisecond, func() Sample {
		return Sample{State: "connected", Timestamp: time.Now().UTC()}
	})

	deadline := time.After(3 * time.Second)
	for {
		if got, err := ReadSample(path); err == nil && got.State == "connected" {
			return
		}
		select {
		case <-deadline:
			t.Fatal("timed out waiting for exported sample")
		case <-time.After(10 * time.Millisecond):
		}
	}
}
