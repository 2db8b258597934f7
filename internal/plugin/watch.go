package plugin

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/blasty8084/Nexus-247/internal/log"
)

// debounceWindow coalesces the burst of fs events an editor save emits
// into a single reload.
const debounceWindow = 250 * time.Millisecond

// Watcher reloads plugins when their source files change on disk.
type Watcher struct {
	runtime *Runtime
	fsw     *fsnotify.Watcher

	mu      sync.Mutex
	pending map[string]*time.Timer
}

// NewWatcher starts watching the runtime's plugins directory.
func NewWatcher(runtime *Runtime) (*Watcher, error) {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	if err := fsw.Add(runtime.dir); err != nil {
		fsw.Close()
		return nil, err
	}
	return &Watcher{
		runtime: runtime,
		fsw:     fsw,
		pending: make(map[string]*time.Timer),
	}, nil
}

// Run consumes fs events until the context is cancelled.
func (w *Watcher) Run(ctx context.Context) {
	logger := log.WithComponent("plugin-watch")
	defer w.fsw.Close()

	for {
		select {
		case <-ctx.Done():
			w.cancelPending()
			return
		case ev, ok := <-w.fsw.Events:
			if !ok {
				return
			}
			const relevant = fsnotify.Write | fsnotify.Create | fsnotify.Remove | fsnotify.Rename
			if ev.Op&relevant == 0 {
				continue
			}
			if !strings.HasSuffix(ev.Name, ".lua") {
				continue
			}
			name := strings.TrimSuffix(filepath.Base(ev.Name), ".lua")
			w.schedule(ctx, name)
		case err, ok := <-w.fsw.Errors:
			if !ok {
				return
			}
			logger.Warn("watch error", "error", err)
		}
	}
}

// schedule arms (or re-arms) the debounce timer for one plugin.
func (w *Watcher) schedule(ctx context.Context, name string) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if timer, ok := w.pending[name]; ok {
		timer.Stop()
	}
	w.pending[name] = time.AfterFunc(debounceWindow, func() {
		w.mu.Lock()
		delete(w.pending, name)
		w.mu.Unlock()

		if ctx.Err() != nil {
			return
		}
		// Editors emit rename/remove/create bursts on save, so decide from
		// the final state of the file rather than the event kind.
		if _, err := os.Stat(w.runtime.sourcePath(name)); os.IsNotExist(err) {
			w.runtime.Remove(name)
			return
		}
		err := w.runtime.Reload(ctx, name, LoadOptions{HotReload: true})
		if err != nil {
			log.WithPlugin(name).Warn("hot reload failed", "error", err)
		}
	})
}

func (w *Watcher) cancelPending() {
	w.mu.Lock()
	defer w.mu.Unlock()
	for name, timer := range w.pending {
		timer.Stop()
		delete(w.pending, name)
	}
}
