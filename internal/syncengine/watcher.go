package syncengine

import (
	"fmt"
	"path/filepath"

	"github.com/fsnotify/fsnotify"
)

// Watch starts an fsnotify watcher on the workspace directory so that a
// process writing project_plan.json directly, bypassing the engine, marks
// the in-memory plan stale immediately. GetView also compares mtimes, so
// the watcher is an optimization plus a safety net for coarse filesystem
// timestamp resolution.
func (e *Engine) Watch() error {
	if e.stopWatcher != nil {
		return nil
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create fsnotify watcher: %w", err)
	}
	if err := watcher.Add(e.store.WorkspaceDir()); err != nil {
		watcher.Close()
		return fmt.Errorf("watch workspace dir: %w", err)
	}

	done := make(chan struct{})
	go func() {
		planName := filepath.Base(e.store.PlanPath())
		for {
			select {
			case <-done:
				return
			case event, ok := <-watcher.Events:
				if !ok {
					return
				}
				if filepath.Base(event.Name) != planName {
					continue
				}
				if event.Has(fsnotify.Write) || event.Has(fsnotify.Create) || event.Has(fsnotify.Rename) {
					e.externalWrite.Store(true)
				}
			case _, ok := <-watcher.Errors:
				if !ok {
					return
				}
			}
		}
	}()

	e.stopWatcher = func() {
		close(done)
		watcher.Close()
	}
	return nil
}
