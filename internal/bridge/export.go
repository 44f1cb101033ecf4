package bridge

import (
	"context"
	"encoding/csv"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/charmbracelet/log"

	"github.com/pandaura/pandaura/internal/engine"
	"github.com/pandaura/pandaura/internal/errors"
)

// Exporter periodically dumps the engine's tag values as CSV files.
type Exporter struct {
	eng      *engine.Engine
	dir      string
	interval time.Duration
	logger   *log.Logger
	now      func() time.Time
}

// NewExporter writes snapshots of eng into dir every interval.
func NewExporter(eng *engine.Engine, dir string, interval time.Duration, logger *log.Logger) (*Exporter, error) {
	const op = "bridge.NewExporter"

	if interval <= 0 {
		return nil, errors.Validation(op, "export interval must be positive")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, errors.IOWrap(err, op, "failed to create export directory")
	}
	return &Exporter{eng: eng, dir: dir, interval: interval, logger: logger, now: time.Now}, nil
}

// Run exports on every interval tick until ctx is canceled.
func (e *Exporter) Run(ctx context.Context) error {
	ticker := time.NewTicker(e.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if _, err := e.ExportOnce(); err != nil {
				e.logger.Error("tag export failed", "err", err)
			}
		}
	}
}

// ExportOnce writes one snapshot file and returns its path. Tags are
// emitted in sorted name order so consecutive exports diff cleanly.
func (e *Exporter) ExportOnce() (string, error) {
	const op = "bridge.ExportOnce"

	snap := e.eng.Snapshot()
	tags := make([]string, 0, len(snap))
	for tag := range snap {
		tags = append(tags, tag)
	}
	sort.Strings(tags)

	now := e.now().UTC()
	path := filepath.Join(e.dir, fmt.Sprintf("tags_%s.csv", now.Format("20060102T150405")))
	f, err := os.Create(path)
	if err != nil {
		return "", errors.IOWrap(err, op, "failed to create export file")
	}
	defer f.Close()

	w := csv.NewWriter(f)
	if err := w.Write([]string{"tag", "value", "timestamp"}); err != nil {
		return "", errors.IOWrap(err, op, "failed to write header")
	}
	ts := now.Format(time.RFC3339)
	for _, tag := range tags {
		if err := w.Write([]string{tag, fmt.Sprintf("%v", snap[tag]), ts}); err != nil {
			return "", errors.IOWrap(err, op, "failed to write row")
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return "", errors.IOWrap(err, op, "failed to flush export")
	}
	e.logger.Debug("tags exported", "file", filepath.Base(path), "tags", len(tags))
	return path, nil
}
