package module

import (
	"context"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
)

// debounceDelay coalesces the burst of write events editors produce when
// saving a script.
const debounceDelay = 100 * time.Millisecond

// Watch blocks until ctx is done, reloading a script module whenever its
// main script changes on disk. Reload failures are logged and the old
// module keeps running. Call after LoadModules; modules discovered later
// are not watched.
func (m *Manager) Watch(ctx context.Context) error {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer w.Close()

	scripts := m.scriptModules()
	dirs := make(map[string]bool)
	for script := range scripts {
		dirs[filepath.Dir(script)] = true
	}
	for dir := range dirs {
		if err := w.Add(dir); err != nil {
			m.log.Warn("cannot watch module dir", zap.String("dir", dir), zap.Error(err))
		}
	}

	timers := make(map[string]*time.Timer)
	defer func() {
		for _, t := range timers {
			t.Stop()
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case ev, ok := <-w.Events:
			if !ok {
				return nil
			}
			if !ev.Has(fsnotify.Write) && !ev.Has(fsnotify.Create) {
				continue
			}
			name, watched := scripts[filepath.Clean(ev.Name)]
			if !watched {
				continue
			}
			if t, ok := timers[name]; ok {
				t.Stop()
			}
			timers[name] = time.AfterFunc(debounceDelay, func() {
				if err := m.reload(name); err != nil {
					m.log.Warn("module reload failed",
						zap.String("module", name),
						zap.Error(err),
					)
				}
			})
		case err, ok := <-w.Errors:
			if !ok {
				return nil
			}
			m.log.Warn("watch error", zap.Error(err))
		}
	}
}

// scriptModules maps script paths to module names for all modules
// discovered on disk.
func (m *Manager) scriptModules() map[string]string {
	m.mu.RLock()
	defer m.mu.RUnlock()

	scripts := make(map[string]string)
	for name, e := range m.drivers {
		if e.info != nil {
			scripts[filepath.Clean(e.info.Script)] = name
		}
	}
	for name, e := range m.functions {
		if e.info != nil {
			scripts[filepath.Clean(e.info.Script)] = name
		}
	}
	return scripts
}
