package bridge

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/charmbracelet/log"
	"github.com/fsnotify/fsnotify"

	"github.com/pandaura/pandaura/internal/engine"
	"github.com/pandaura/pandaura/internal/errors"
	"github.com/pandaura/pandaura/internal/fileutil"
	"github.com/pandaura/pandaura/internal/st"
)

// debounceWindow coalesces the write bursts editors produce for one save.
const debounceWindow = 100 * time.Millisecond

// maxLogicFileSize caps how much of a changed file revalidation will read.
const maxLogicFileSize = 4 << 20

// Watcher revalidates workspace logic files as they change and reports the
// outcome on the event stream.
type Watcher struct {
	dir    string
	hub    *Hub
	logger *log.Logger
	now    func() time.Time
}

// NewWatcher watches dir for ST source changes.
func NewWatcher(dir string, hub *Hub, logger *log.Logger) (*Watcher, error) {
	const op = "bridge.NewWatcher"

	info, err := os.Stat(dir)
	if err != nil {
		return nil, errors.IOWrap(err, op, "workspace directory is not accessible")
	}
	if !info.IsDir() {
		return nil, errors.Validation(op, "workspace path is not a directory")
	}
	return &Watcher{dir: dir, hub: hub, logger: logger, now: time.Now}, nil
}

// Run watches until ctx is canceled.
func (w *Watcher) Run(ctx context.Context) error {
	const op = "bridge.Watcher.Run"

	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return errors.IOWrap(err, op, "failed to create file watcher")
	}
	defer fw.Close()
	if err := fw.Add(w.dir); err != nil {
		return errors.IOWrap(err, op, "failed to watch workspace directory")
	}
	w.logger.Info("watching workspace", "dir", w.dir)

	pending := map[string]time.Time{}
	ticker := time.NewTicker(debounceWindow)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case event, ok := <-fw.Events:
			if !ok {
				return nil
			}
			if !event.Op.Has(fsnotify.Write) && !event.Op.Has(fsnotify.Create) {
				continue
			}
			if !strings.HasSuffix(event.Name, ".st") {
				continue
			}
			pending[event.Name] = w.now()
		case err, ok := <-fw.Errors:
			if !ok {
				return nil
			}
			w.logger.Error("watcher error", "err", err)
		case <-ticker.C:
			cutoff := w.now().Add(-debounceWindow)
			for path, seen := range pending {
				if seen.After(cutoff) {
					continue
				}
				delete(pending, path)
				w.revalidate(path)
			}
		}
	}
}

// revalidate runs a compile pass over the changed file and publishes a
// systemStatus event with the outcome.
func (w *Watcher) revalidate(path string) {
	content, err := fileutil.ReadFileLimited(path, maxLogicFileSize)
	if err != nil {
		w.logger.Error("failed to read changed file", "file", path, "err", err)
		return
	}
	result := st.Validate(string(content), "")

	data := map[string]any{
		"status":  "fileChanged",
		"file":    filepath.Base(path),
		"isValid": result.IsValid,
	}
	if len(result.Issues) > 0 {
		data["issues"] = result.Issues
	}
	w.hub.Publish(engine.Event{
		Type: engine.EventSystemStatus,
		Ts:   w.now().UnixMilli(),
		Data: data,
	})
	w.logger.Info("workspace file revalidated", "file", filepath.Base(path), "isValid", result.IsValid)
}
