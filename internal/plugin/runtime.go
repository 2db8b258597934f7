package plugin

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/zeebo/blake3"

	"github.com/blasty8084/Nexus-247/internal/config"
	"github.com/blasty8084/Nexus-247/internal/events"
	"github.com/blasty8084/Nexus-247/internal/log"
	"github.com/blasty8084/Nexus-247/internal/session"
	"github.com/blasty8084/Nexus-247/internal/state"
)

// Runtime owns every loaded plugin. All load, reload, and enable state
// transitions run under one mutex so overlapping reload triggers apply
// one at a time.
type Runtime struct {
	dir      string
	settings *config.Store
	store    *state.Store
	hub      *events.Hub
	current  func() session.Session

	mu          sync.Mutex
	instances   map[string]*instance
	descriptors map[string]*Descriptor
	digests     map[string][32]byte
	closed      bool
}

// NewRuntime builds a runtime over the plugins directory. current returns
// the live session, or nil while disconnected.
func NewRuntime(dir string, settings *config.Store, store *state.Store, hub *events.Hub, current func() session.Session) *Runtime {
	return &Runtime{
		dir:         dir,
		settings:    settings,
		store:       store,
		hub:         hub,
		current:     current,
		instances:   make(map[string]*instance),
		descriptors: make(map[string]*Descriptor),
		digests:     make(map[string][32]byte),
	}
}

// Scan lists plugin candidates in the directory, sorted by name. A
// missing or unreadable directory yields an empty list, never an error.
func (r *Runtime) Scan() []string {
	entries, err := os.ReadDir(r.dir)
	if err != nil {
		log.WithComponent("plugin").Warn("plugins directory not readable", "dir", r.dir, "error", err)
		return nil
	}

	var names []string
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".lua") {
			continue
		}
		names = append(names, strings.TrimSuffix(e.Name(), ".lua"))
	}
	sort.Strings(names)
	return names
}

// LoadAll scans the directory and loads every enabled plugin in name
// order. A failing plugin is recorded, auto-disabled in settings, and
// never stops the pass.
func (r *Runtime) LoadAll(ctx context.Context, opts LoadOptions) LoadSummary {
	names := r.Scan()

	r.mu.Lock()
	defer r.mu.Unlock()

	var summary LoadSummary
	if r.closed {
		return summary
	}

	for _, name := range names {
		if !r.settings.PluginSetting(name).Enabled {
			r.recordLocked(name, &Descriptor{
				Name:    name,
				Path:    r.sourcePath(name),
				Enabled: false,
			})
			summary.Skipped = append(summary.Skipped, name)
			continue
		}

		if err := r.loadLocked(name, opts); err != nil {
			summary.Failed = append(summary.Failed, name)
			continue
		}
		summary.Loaded = append(summary.Loaded, name)
	}

	r.publishLocked()
	return summary
}

// Reload tears down and reloads one plugin. Unknown names return
// ErrPluginNotFound; a reload of a disabled plugin is a no-op.
func (r *Runtime) Reload(ctx context.Context, name string, opts LoadOptions) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return ErrRuntimeClosed
	}

	if _, err := os.Stat(r.sourcePath(name)); err != nil {
		return fmt.Errorf("%w: %s", ErrPluginNotFound, name)
	}
	if !r.settings.PluginSetting(name).Enabled {
		log.WithPlugin(name).Info("reload skipped, plugin disabled")
		return nil
	}

	if opts.HotReload {
		// Editors fire several fs events per save. Skip the reload when
		// the source digest has not changed since the last load.
		src, err := os.ReadFile(r.sourcePath(name))
		if err == nil {
			if prev, ok := r.digests[name]; ok && prev == blake3.Sum256(src) {
				log.WithPlugin(name).Debug("source unchanged, reload skipped")
				return nil
			}
		}
	}

	err := r.loadLocked(name, opts)
	r.publishLocked()
	return err
}

// SetEnabled flips a plugin's enabled flag, persists it, and loads or
// unloads the plugin to match.
func (r *Runtime) SetEnabled(ctx context.Context, name string, enabled bool) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return ErrRuntimeClosed
	}

	if _, err := os.Stat(r.sourcePath(name)); err != nil {
		return fmt.Errorf("%w: %s", ErrPluginNotFound, name)
	}
	if err := r.settings.SetPluginEnabled(name, enabled); err != nil {
		return fmt.Errorf("persist plugin setting: %w", err)
	}

	if !enabled {
		r.unloadLocked(name)
		desc := r.descriptorLocked(name)
		desc.Enabled = false
		desc.Loaded = false
		r.publishLocked()
		return nil
	}

	err := r.loadLocked(name, LoadOptions{})
	r.publishLocked()
	return err
}

// Remove retires a plugin whose source file is gone: the instance is
// unloaded and the descriptor dropped. Unknown names are a no-op.
func (r *Runtime) Remove(name string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return
	}
	if _, known := r.descriptors[name]; !known {
		if _, live := r.instances[name]; !live {
			return
		}
	}
	r.unloadLocked(name)
	delete(r.descriptors, name)
	log.WithPlugin(name).Info("plugin source removed, unloaded")
	r.publishLocked()
}

// Descriptors returns a snapshot of every known plugin, sorted by name.
func (r *Runtime) Descriptors() []Descriptor {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.snapshotLocked()
}

// Close unloads every plugin and rejects further operations.
func (r *Runtime) Close() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return
	}
	r.closed = true
	for name := range r.instances {
		r.unloadLocked(name)
	}
}

func (r *Runtime) sourcePath(name string) string {
	return filepath.Join(r.dir, name+".lua")
}

// loadLocked replaces any existing instance of name with a fresh load.
// Failures are contained: the plugin ends up unloaded and disabled, the
// error is recorded on its descriptor, and the caller's pass continues.
func (r *Runtime) loadLocked(name string, opts LoadOptions) error {
	logger := log.WithPlugin(name)

	r.unloadLocked(name)

	desc := &Descriptor{
		Name:    name,
		Path:    r.sourcePath(name),
		Enabled: true,
	}
	r.recordLocked(name, desc)

	src, err := os.ReadFile(desc.Path)
	if err != nil {
		return r.failLocked(desc, opts, &LoadError{Plugin: name, Err: err})
	}

	start := time.Now()
	recordDuration := func() {
		ms := float64(time.Since(start).Microseconds()) / 1000
		desc.LastLoadMS = &ms
	}

	inst, err := newInstance(name, src)
	if err != nil {
		recordDuration()
		return r.failLocked(desc, opts, &LoadError{Plugin: name, Err: err})
	}

	setting := r.settings.PluginSetting(name)
	h := &host{
		plugin:  name,
		inst:    inst,
		current: r.current,
		config:  setting.Config,
		store:   r.store,
		logger:  logger,
		publish: r.hub.Publish,
	}

	if err := inst.run(h); err != nil {
		recordDuration()
		inst.close()
		return r.failLocked(desc, opts, &LoadError{Plugin: name, Err: err})
	}
	recordDuration()

	r.instances[name] = inst
	r.digests[name] = blake3.Sum256(src)
	desc.Loaded = true
	desc.LoadedAt = time.Now().UTC()

	logger.Info("plugin loaded", "hot_reload", opts.HotReload)
	if !opts.Silent {
		r.hub.Toast("success", fmt.Sprintf("plugin %s loaded", name))
	}
	return nil
}

// failLocked records a load failure, auto-disables the plugin in
// settings, and surfaces the failure to observers.
func (r *Runtime) failLocked(desc *Descriptor, opts LoadOptions, loadErr error) error {
	desc.Loaded = false
	desc.Enabled = false
	desc.LastError = loadErr.Error()

	log.WithPlugin(desc.Name).Error("plugin load failed, disabling", "error", loadErr)
	if err := r.settings.SetPluginEnabled(desc.Name, false); err != nil {
		log.WithPlugin(desc.Name).Warn("failed to persist auto-disable", "error", err)
	}
	if !opts.Silent {
		r.hub.Toast("error", fmt.Sprintf("plugin %s failed: %v", desc.Name, loadErr))
	}
	return loadErr
}

// unloadLocked closes the interpreter and detaches the plugin's session
// handlers. Detach happens before close so no handler fires into a dead
// interpreter.
func (r *Runtime) unloadLocked(name string) {
	inst, ok := r.instances[name]
	if !ok {
		return
	}
	if s := r.current(); s != nil {
		s.DetachOwner(name)
	}
	inst.close()
	delete(r.instances, name)
	delete(r.digests, name)
}

func (r *Runtime) recordLocked(name string, desc *Descriptor) {
	r.descriptors[name] = desc
}

func (r *Runtime) descriptorLocked(name string) *Descriptor {
	desc, ok := r.descriptors[name]
	if !ok {
		desc = &Descriptor{Name: name, Path: r.sourcePath(name)}
		r.descriptors[name] = desc
	}
	return desc
}

func (r *Runtime) snapshotLocked() []Descriptor {
	out := make([]Descriptor, 0, len(r.descriptors))
	for _, desc := range r.descriptors {
		out = append(out, *desc)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

func (r *Runtime) publishLocked() {
	r.hub.Publish(events.TopicPlugins, r.snapshotLocked())
}
