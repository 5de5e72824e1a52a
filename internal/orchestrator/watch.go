package orchestrator

import (
	"context"
	"path/filepath"

	"github.com/fsnotify/fsnotify"

	"coffre/internal/logging"
)

// watchConfig watches the directory holding the config file and posts a
// change event whenever the file is written, created, or replaced. Editors
// commonly rename a temp file over the target, so the parent directory is
// watched rather than the file itself.
func (o *Orchestrator) watchConfig(ctx context.Context, path string) {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		o.logger.Warn("config watch unavailable", logging.Error(err))
		return
	}
	defer watcher.Close()

	dir := filepath.Dir(path)
	if err := watcher.Add(dir); err != nil {
		o.logger.Warn("config watch unavailable",
			logging.String("dir", dir), logging.Error(err))
		return
	}
	o.logger.Debug("watching configuration", logging.String("path", path))

	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-watcher.Events:
			if !ok {
				return
			}
			if ev.Name != path {
				continue
			}
			if ev.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
				continue
			}
			o.post(evConfigChanged{})
		case err, ok := <-watcher.Errors:
			if !ok {
				return
			}
			o.logger.Debug("config watch error", logging.Error(err))
		}
	}
}
