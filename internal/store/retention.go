package store

import (
	"os"
	"path/filepath"
	"sort"

	"github.com/pandaura/pandaura/internal/errors"
)

// PruneVersions keeps the keep most recently written version folders for a
// project and removes the rest from disk. It returns the removed version
// identifiers, newest first among the removed.
func (s *Store) PruneVersions(projectID string, keep int) ([]string, error) {
	const op = "store.PruneVersions"

	if keep < 0 {
		return nil, errors.Validation(op, "keep must not be negative")
	}

	dir := filepath.Join(s.root, "versions", projectID)
	entries, err := os.ReadDir(dir)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, errors.IOWrap(err, op, "failed to list project versions")
	}

	type versionDir struct {
		id      string
		modTime int64
	}
	var dirs []versionDir
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		info, err := e.Info()
		if err != nil {
			return nil, errors.IOWrap(err, op, "failed to stat version directory")
		}
		dirs = append(dirs, versionDir{id: e.Name(), modTime: info.ModTime().UnixNano()})
	}
	sort.Slice(dirs, func(i, j int) bool { return dirs[i].modTime > dirs[j].modTime })

	if len(dirs) <= keep {
		return nil, nil
	}

	var removed []string
	for _, d := range dirs[keep:] {
		if err := os.RemoveAll(filepath.Join(dir, d.id)); err != nil {
			return removed, errors.IOWrap(err, op, "failed to remove version directory")
		}
		removed = append(removed, d.id)
	}
	s.logger.Info("pruned versions", "project", projectID, "kept", keep, "removed", len(removed))
	return removed, nil
}
