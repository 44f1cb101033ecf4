package diff

import (
	"sort"
	"strings"
)

// FileStatus classifies one path in a multi-file comparison.
type FileStatus string

const (
	FileAdded    FileStatus = "added"
	FileDeleted  FileStatus = "deleted"
	FileModified FileStatus = "modified"
	FileMoved    FileStatus = "moved"
)

// FileDiff is one path's comparison result.
type FileDiff struct {
	Path    string     `json:"path"`
	Status  FileStatus `json:"status"`
	Summary Summary    `json:"summary"`
	Unified string     `json:"unified,omitempty"`
	// MovedFrom is set on added entries recognised as a move.
	MovedFrom string `json:"movedFrom,omitempty"`
}

// CompareResult aggregates a multi-file comparison.
type CompareResult struct {
	Files             []FileDiff `json:"files"`
	FilesChanged      int        `json:"filesChanged"`
	FilesAdded        int        `json:"filesAdded"`
	FilesModified     int        `json:"filesModified"`
	FilesDeleted      int        `json:"filesDeleted"`
	TotalLinesAdded   int        `json:"totalLinesAdded"`
	TotalLinesDeleted int        `json:"totalLinesDeleted"`
}

// movedThreshold is the minimum LCS similarity for a delete/add pair to be
// reported as a move.
const movedThreshold = 0.8

// isMetadataPath filters bookkeeping files out of comparisons. Only the
// tags.json file itself counts; names like mytags.json are real content.
func isMetadataPath(path string) bool {
	return path == "tags.json" || strings.HasSuffix(path, "/tags.json")
}

// CompareFiles diffs two path-keyed file sets. Metadata paths are skipped,
// results come back in path order, and deleted files sufficiently similar
// to added ones are folded into moves.
func CompareFiles(oldFiles, newFiles map[string]string, opts Options) CompareResult {
	var result CompareResult

	paths := make(map[string]struct{}, len(oldFiles)+len(newFiles))
	for p := range oldFiles {
		paths[p] = struct{}{}
	}
	for p := range newFiles {
		paths[p] = struct{}{}
	}
	sorted := make([]string, 0, len(paths))
	for p := range paths {
		if !isMetadataPath(p) {
			sorted = append(sorted, p)
		}
	}
	sort.Strings(sorted)

	added := make(map[string]FileDiff)
	deleted := make(map[string]FileDiff)

	for _, path := range sorted {
		oldContent, inOld := oldFiles[path]
		newContent, inNew := newFiles[path]

		switch {
		case inOld && inNew:
			if oldContent == newContent {
				continue
			}
			fd := FileDiff{
				Path:    path,
				Status:  FileModified,
				Summary: Summarize(SplitLines(oldContent), SplitLines(newContent)),
				Unified: Unified(oldContent, newContent, opts),
			}
			result.Files = append(result.Files, fd)
			result.FilesModified++
			result.TotalLinesAdded += fd.Summary.LinesAdded
			result.TotalLinesDeleted += fd.Summary.LinesDeleted

		case inNew:
			fd := FileDiff{
				Path:    path,
				Status:  FileAdded,
				Summary: Summarize(nil, SplitLines(newContent)),
				Unified: Unified("", newContent, opts),
			}
			added[path] = fd

		default:
			fd := FileDiff{
				Path:    path,
				Status:  FileDeleted,
				Summary: Summarize(SplitLines(oldContent), nil),
				Unified: Unified(oldContent, "", opts),
			}
			deleted[path] = fd
		}
	}

	// Fold similar delete/add pairs into moves. Each deleted path claims at
	// most one added path, best match first.
	claimed := make(map[string]bool)
	for _, delPath := range sortedKeys(deleted) {
		bestPath := ""
		bestScore := 0.0
		for _, addPath := range sortedKeys(added) {
			if claimed[addPath] {
				continue
			}
			score := Similarity(SplitLines(oldFiles[delPath]), SplitLines(newFiles[addPath]))
			if score >= movedThreshold && score > bestScore {
				bestPath, bestScore = addPath, score
			}
		}
		if bestPath != "" {
			claimed[bestPath] = true
			fd := added[bestPath]
			fd.Status = FileMoved
			fd.MovedFrom = delPath
			added[bestPath] = fd
			delete(deleted, delPath)
		}
	}

	for _, path := range sortedKeys(added) {
		fd := added[path]
		result.Files = append(result.Files, fd)
		result.FilesAdded++
		result.TotalLinesAdded += fd.Summary.LinesAdded
	}
	for _, path := range sortedKeys(deleted) {
		fd := deleted[path]
		result.Files = append(result.Files, fd)
		result.FilesDeleted++
		result.TotalLinesDeleted += fd.Summary.LinesDeleted
	}

	sort.Slice(result.Files, func(i, j int) bool {
		return result.Files[i].Path < result.Files[j].Path
	})
	result.FilesChanged = len(result.Files)
	return result
}

func sortedKeys(m map[string]FileDiff) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
