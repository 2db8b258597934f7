package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"gopkg.in/yaml.v3"

	"github.com/blasty8084/Nexus-247/internal/api"
	"github.com/blasty8084/Nexus-247/internal/config"
	"github.com/blasty8084/Nexus-247/internal/events"
	"github.com/blasty8084/Nexus-247/internal/lock"
	"github.com/blasty8084/Nexus-247/internal/log"
	"github.com/blasty8084/Nexus-247/internal/plugin"
	"github.com/blasty8084/Nexus-247/internal/session"
	"github.com/blasty8084/Nexus-247/internal/state"
	"github.com/blasty8084/Nexus-247/internal/supervisor"
	"github.com/blasty8084/Nexus-247/internal/telemetry"
	"github.com/blasty8084/Nexus-247/internal/tui/watch"
)

const version = "0.2.0"

const defaultSettingsPath = "./settings.yaml"

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	cmd := os.Args[1]
	args := os.Args[2:]

	switch cmd {
	case "system":
		os.Exit(runSystemNoun(args))
	case "config":
		os.Exit(runConfigNoun(args))
	case "plugin":
		os.Exit(runPluginNoun(args))
	case "watch":
		os.Exit(runWatch(args))

	// Root alias.
	case "start":
		os.Exit(runStart(args))
	case "version":
		fmt.Printf("nexus version %s\n", version)
		os.Exit(0)
	case "help", "--help", "-h":
		printUsage()
		os.Exit(0)

	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n\n", cmd)
		printUsage()
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Print(`nexus - long-lived gateway agent with hot-reloadable Lua plugins

Usage:
  nexus <noun> <action> [flags]

System Commands:
  system start      Start the agent in foreground

Config Commands:
  config check      Validate the settings file
  config show       Print the effective settings

Plugin Commands:
  plugin list       Show plugins and their status

General:
  watch             Live dashboard over the observer API
  version           Show version information
  help              Show this help message
`)
}

func runSystemNoun(args []string) int {
	if len(args) < 1 {
		fmt.Fprintln(os.Stderr, "Usage: nexus system <start>")
		return 1
	}
	switch args[0] {
	case "start":
		return runStart(args[1:])
	case "help":
		fmt.Println("Usage: nexus system start [--settings path]")
		return 0
	default:
		fmt.Fprintf(os.Stderr, "Unknown system action: %s\n", args[0])
		return 1
	}
}

func runConfigNoun(args []string) int {
	if len(args) < 1 {
		fmt.Fprintln(os.Stderr, "Usage: nexus config <check|show>")
		return 1
	}
	switch args[0] {
	case "check":
		return runConfigCheck(args[1:])
	case "show":
		return runConfigShow(args[1:])
	case "help":
		fmt.Println("Usage: nexus config <check|show> [--settings path]")
		return 0
	default:
		fmt.Fprintf(os.Stderr, "Unknown config action: %s\n", args[0])
		return 1
	}
}

func runPluginNoun(args []string) int {
	if len(args) < 1 {
		fmt.Fprintln(os.Stderr, "Usage: nexus plugin <list>")
		return 1
	}
	switch args[0] {
	case "list":
		return runPluginList(args[1:])
	case "help":
		fmt.Println("Usage: nexus plugin list [--settings path] [--json]")
		return 0
	default:
		fmt.Fprintf(os.Stderr, "Unknown plugin action: %s\n", args[0])
		return 1
	}
}

func runConfigCheck(args []string) int {
	fs := flag.NewFlagSet("check", flag.ExitOnError)
	settingsPath := fs.String("settings", defaultSettingsPath, "Path to settings file")
	if err := fs.Parse(args); err != nil {
		return 1
	}

	if _, err := config.Check(*settingsPath); err != nil {
		fmt.Fprintf(os.Stderr, "Settings check FAILED: %v\n", err)
		return 1
	}
	fmt.Println("Settings check PASSED.")
	return 0
}

func runConfigShow(args []string) int {
	fs := flag.NewFlagSet("show", flag.ExitOnError)
	settingsPath := fs.String("settings", defaultSettingsPath, "Path to settings file")
	jsonOut := fs.Bool("json", false, "Output as JSON")
	if err := fs.Parse(args); err != nil {
		return 1
	}

	cfg := config.Load(*settingsPath)
	if *jsonOut {
		data, _ := json.MarshalIndent(cfg, "", "  ")
		fmt.Println(string(data))
	} else {
		data, _ := yaml.Marshal(cfg)
		fmt.Print(string(data))
	}
	return 0
}

func runPluginList(args []string) int {
	fs := flag.NewFlagSet("list", flag.ExitOnError)
	settingsPath := fs.String("settings", defaultSettingsPath, "Path to settings file")
	jsonOut := fs.Bool("json", false, "Output as JSON")
	if err := fs.Parse(args); err != nil {
		return 1
	}

	cfg := config.Load(*settingsPath)
	settings := config.NewStore(*settingsPath)

	runtime := plugin.NewRuntime(cfg.PluginsDir, settings, nil, events.NewHub(), func() session.Session { return nil })
	names := runtime.Scan()

	type row struct {
		Name    string `json:"name"`
		Enabled bool   `json:"enabled"`
	}
	rows := make([]row, 0, len(names))
	for _, name := range names {
		rows = append(rows, row{Name: name, Enabled: settings.PluginSetting(name).Enabled})
	}

	if *jsonOut {
		data, _ := json.MarshalIndent(rows, "", "  ")
		fmt.Println(string(data))
		return 0
	}
	if len(rows) == 0 {
		fmt.Println("No plugins found in", cfg.PluginsDir)
		return 0
	}
	for _, r := range rows {
		status := "enabled"
		if !r.Enabled {
			status = "disabled"
		}
		fmt.Printf("%-24s %s\n", r.Name, status)
	}
	return 0
}

func runWatch(args []string) int {
	fs := flag.NewFlagSet("watch", flag.ExitOnError)
	apiURL := fs.String("api", "http://127.0.0.1:8080", "Observer API base URL")
	if err := fs.Parse(args); err != nil {
		return 1
	}

	p := tea.NewProgram(watch.New(*apiURL))
	if _, err := p.Run(); err != nil {
		fmt.Fprintf(os.Stderr, "watch failed: %v\n", err)
		return 1
	}
	return 0
}

func runStart(args []string) int {
	fs := flag.NewFlagSet("start", flag.ExitOnError)
	settingsPath := fs.String("settings", defaultSettingsPath, "Path to settings file")
	if err := fs.Parse(args); err != nil {
		return 1
	}

	cfg := config.Load(*settingsPath)
	settings := config.NewStore(*settingsPath)

	log.Setup(cfg.Service.LogLevel, cfg.Service.LogFormat)
	logger := log.WithComponent("main")
	logger.Info("nexus starting", "version", version, "settings", *settingsPath)

	lockPath := filepath.Join(filepath.Dir(cfg.State.Path), "nexus.lock")
	pidLock, err := lock.Acquire(lockPath)
	if err != nil {
		logger.Error("failed to acquire PID lock (another instance may be running)", "path", lockPath, "error", err)
		return 1
	}
	defer pidLock.Release()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	db, err := state.Open(ctx, cfg.State.Path)
	if err != nil {
		logger.Error("failed to open state database", "path", cfg.State.Path, "error", err)
		return 1
	}
	defer db.Close()
	stateStore := state.NewStore(db)

	hub := events.NewHub()

	dialer := &session.TCPDialer{
		Address:     cfg.Session.Address,
		Username:    cfg.Service.Username,
		DialTimeout: cfg.Session.DialTimeout,
	}
	sup := supervisor.New(dialer, settings, hub, cfg.Session.HeartbeatInterval)

	runtime := plugin.NewRuntime(cfg.PluginsDir, settings, stateStore, hub, sup.Current)
	defer runtime.Close()

	// Plugins run once per established session so their handlers land on
	// the live connection, including after every reconnect.
	sup.OnConnected(func() {
		summary := runtime.LoadAll(ctx, plugin.LoadOptions{Silent: true})
		logger.Info("plugin load complete",
			"loaded", len(summary.Loaded),
			"failed", len(summary.Failed),
			"skipped", len(summary.Skipped),
		)
	})

	watcher, err := plugin.NewWatcher(runtime)
	if err != nil {
		logger.Warn("plugin hot reload unavailable", "error", err)
	} else {
		go watcher.Run(ctx)
	}

	sup.Start(ctx)
	defer sup.Stop()

	exporter := telemetry.NewExporter(cfg.Telemetry.ExportPath)
	go exporter.Run(ctx, cfg.Session.HeartbeatInterval, func() telemetry.Sample {
		return collectSample(sup, runtime, cfg.Service)
	})

	errCh := make(chan error, 1)
	if cfg.API.Enabled {
		server := api.New(api.Config{Listen: cfg.API.Listen}, runtime, sup, hub, log.WithComponent("api"))
		go func() {
			if err := server.Start(ctx); err != nil && err != context.Canceled {
				errCh <- fmt.Errorf("api server: %w", err)
			}
		}()
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigCh:
		logger.Info("shutting down", "signal", sig.String())
	case err := <-errCh:
		logger.Error("component failed", "error", err)
		cancel()
		return 1
	}

	cancel()
	return 0
}

func collectSample(sup *supervisor.Supervisor, runtime *plugin.Runtime, svc config.ServiceConfig) telemetry.Sample {
	status := sup.Status()
	sample := telemetry.Sample{
		Timestamp: time.Now().UTC(),
		Username:  svc.Username,
		Status:    svc.Status,
		State:     status.State,
		SessionID: status.SessionID,
		MemoryMB:  telemetry.MemoryMB(),
	}
	if !status.ConnectedAt.IsZero() {
		sample.UptimeS = time.Since(status.ConnectedAt).Seconds()
	}
	if sess := sup.Current(); sess != nil {
		pos := sess.Position()
		sample.Position = &pos

		pingCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		if rtt, err := sess.Ping(pingCtx); err == nil {
			ms := float64(rtt.Microseconds()) / 1000
			sample.PingMS = &ms
		}
		cancel()
	}
	for _, d := range runtime.Descriptors() {
		switch {
		case d.Loaded:
			sample.Plugins.Loaded++
		case !d.Enabled && d.LastError != "":
			sample.Plugins.Failed++
		default:
			sample.Plugins.Disabled++
		}
	}
	return sample
}
