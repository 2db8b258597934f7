package plugin

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestWatcherReloadsOnSourceChange(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t, "", map[string]string{
		"hot": `return function(session, config, log, emit) end`,
	})
	env.runtime.LoadAll(context.Background(), LoadOptions{Silent: true})
	before := env.runtime.Descriptors()[0].LoadedAt

	w, err := NewWatcher(env.runtime)
	if err != nil {
		t.Fatalf("NewWatcher: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go w.Run(ctx)

	// Give the watcher a moment to register before writing.
	time.Sleep(100 * time.Millisecond)

	path := filepath.Join(env.dir, "hot.lua")
	if err := os.WriteFile(path, []byte(`return function(session, config, log, emit) log.info("v2") end`), 0o644); err != nil {
		t.Fatalf("rewrite plugin: %v", err)
	}

	deadline := time.After(3 * time.Second)
	for {
		select {
		case <-deadline:
			t.Fatal("timed out waiting for hot reload")
		case <-time.After(50 * time.Millisecond):
		}
		if !env.runtime.Descriptors()[0].LoadedAt.Equal(before) {
			return
		}
	}
}

func TestWatcherUnloadsDeletedPlugin(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t, "", map[string]string{
		"ephemeral": `return function(session, config, log, emit) end`,
	})
	env.runtime.LoadAll(context.Background(), LoadOptions{Silent: true})

	w, err := NewWatcher(env.runtime)
	if err != nil {
		t.Fatalf("NewWatcher: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go w.Run(ctx)

	time.Sleep(100 * time.Millisecond)
	if err := os.Remove(filepath.Join(env.dir, "ephemeral.lua")); err != nil {
		t.Fatalf("remove plugin: %v", err)
	}

	deadline := time.After(3 * time.Second)
	for {
		select {
		case <-deadline:
			t.Fatal("timed out waiting for unload")
		case <-time.After(50 * time.Millisecond):
		}
		if len(env.runtime.Descriptors()) == 0 {
			return
		}
	}
}

func TestWatcherIgnoresNonLuaFiles(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t, "", map[string]string{
		"quiet": `return function(session, config, log, emit) end`,
	})
	env.runtime.LoadAll(context.Background(), LoadOptions{Silent: true})
	before := env.runtime.Descriptors()[0].LoadedAt

	w, err := NewWatcher(env.runtime)
	if err != nil {
		t.Fatalf("NewWatcher: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go w.Run(ctx)

	time.Sleep(100 * time.Millisecond)
	if err := os.WriteFile(filepath.Join(env.dir, "notes.txt"), []byte("scratch"), 0o644); err != nil {
		t.Fatalf("write file: %v", err)
	}

	time.Sleep(500 * time.Millisecond)
	if !env.runtime.Descriptors()[0].LoadedAt.Equal(before) {
		t.Error("expected no reload for non-lua file")
	}
}
