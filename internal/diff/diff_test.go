package diff

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestChanges_Basic(t *testing.T) {
	oldLines := []string{"a", "b", "c"}
	newLines := []string{"a", "x", "c"}

	changes := Changes(oldLines, newLines)
	require.Len(t, changes, 2)
	assert.Equal(t, Change{Type: Delete, OldLine: 2, Content: "b"}, changes[0])
	assert.Equal(t, Change{Type: Add, NewLine: 2, Content: "x"}, changes[1])
}

func TestChanges_Identical(t *testing.T) {
	lines := []string{"a", "b"}
	assert.Empty(t, Changes(lines, lines))
}

func TestChanges_AppliesBack(t *testing.T) {
	tests := []struct {
		name string
		old  []string
		new  []string
	}{
		{"replace middle", []string{"a", "b", "c"}, []string{"a", "x", "c"}},
		{"append", []string{"a"}, []string{"a", "b", "c"}},
		{"prepend", []string{"z"}, []string{"a", "b", "z"}},
		{"delete all", []string{"a", "b"}, nil},
		{"from empty", nil, []string{"a", "b"}},
		{"interleaved", []string{"a", "b", "c", "d", "e"}, []string{"b", "x", "d", "y", "e"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			changes := Changes(tt.old, tt.new)
			result, err := Apply(tt.old, changes)
			require.NoError(t, err)
			assert.Equal(t, tt.new, result)
		})
	}
}

func TestApply_Invalid(t *testing.T) {
	_, err := Apply([]string{"a"}, []Change{{Type: Delete, OldLine: 5}})
	assert.Error(t, err)

	_, err = Apply([]string{"a"}, []Change{{Type: "mutate", OldLine: 1}})
	assert.Error(t, err)
}

func TestSummarize(t *testing.T) {
	s := Summarize([]string{"a", "b", "c"}, []string{"a", "x", "c", "d"})
	assert.Equal(t, 2, s.LinesAdded)
	assert.Equal(t, 1, s.LinesDeleted)
	assert.Equal(t, 1, s.LinesModified)
	assert.False(t, s.IsIdentical)

	same := Summarize([]string{"a"}, []string{"a"})
	assert.True(t, same.IsIdentical)
	assert.Zero(t, same.LinesAdded)
}

func TestUnified_Format(t *testing.T) {
	oldText := "a\nb\nc\n"
	newText := "a\nx\nc\n"

	out := Unified(oldText, newText, DefaultOptions())
	require.True(t, strings.HasPrefix(out, "--- old\n+++ new\n"))
	assert.Contains(t, out, "@@ -1,3 +1,3 @@\n")
	assert.Contains(t, out, " a\n-b\n+x\n c\n")
}

func TestUnified_Identical(t *testing.T) {
	assert.Empty(t, Unified("a\nb\n", "a\nb\n", DefaultOptions()))
	assert.Empty(t, Unified("", "", DefaultOptions()))
}

func TestUnified_SplitsHunks(t *testing.T) {
	var oldLines, newLines []string
	for i := 0; i < 30; i++ {
		oldLines = append(oldLines, "same")
		newLines = append(newLines, "same")
	}
	oldLines[2] = "first-old"
	newLines[2] = "first-new"
	oldLines[25] = "second-old"
	newLines[25] = "second-new"

	out := Unified(strings.Join(oldLines, "\n"), strings.Join(newLines, "\n"), DefaultOptions())
	assert.Equal(t, 2, strings.Count(out, "@@ -"), "distant changes must land in separate hunks")
	assert.Contains(t, out, "-first-old\n+first-new\n")
	assert.Contains(t, out, "-second-old\n+second-new\n")
}

func TestUnified_AdjacentChangesShareHunk(t *testing.T) {
	oldText := "a\nb\nc\nd\ne\nf\ng\n"
	newText := "a\nB\nc\nd\ne\nF\ng\n"

	out := Unified(oldText, newText, DefaultOptions())
	assert.Equal(t, 1, strings.Count(out, "@@ -"), "changes within the gap threshold share a hunk")
}

func TestSimilarity(t *testing.T) {
	a := []string{"a", "b", "c", "d", "e"}
	b := []string{"a", "b", "c", "d", "x"}
	assert.InDelta(t, 0.8, Similarity(a, b), 1e-9)

	assert.Equal(t, 1.0, Similarity(nil, nil))
	assert.Equal(t, 0.0, Similarity(a, nil))
}

func TestCompareFiles(t *testing.T) {
	oldFiles := map[string]string{
		"main.st":   "a\nb\nc\n",
		"pump.st":   "x\ny\n",
		"tags.json": `{"tags":[]}`,
	}
	newFiles := map[string]string{
		"main.st":   "a\nB\nc\n",
		"valve.st":  "v\n",
		"tags.json": `{"tags":["new"]}`,
	}

	result := CompareFiles(oldFiles, newFiles, DefaultOptions())
	assert.Equal(t, 3, result.FilesChanged)
	assert.Equal(t, 1, result.FilesModified)
	assert.Equal(t, 1, result.FilesAdded)
	assert.Equal(t, 1, result.FilesDeleted)
	assert.Equal(t, 2, result.TotalLinesAdded)
	assert.Equal(t, 3, result.TotalLinesDeleted)

	for _, fd := range result.Files {
		assert.NotEqual(t, "tags.json", fd.Path, "metadata paths are skipped")
	}
}

func TestCompareFiles_MetadataPaths(t *testing.T) {
	oldFiles := map[string]string{
		"tags.json":         `{"tags":[]}`,
		"sub/tags.json":     `{"tags":[]}`,
		"mytags.json":       "a\n",
		"sub/own.tags.json": "a\n",
	}
	newFiles := map[string]string{
		"tags.json":         `{"tags":["new"]}`,
		"sub/tags.json":     `{"tags":["new"]}`,
		"mytags.json":       "b\n",
		"sub/own.tags.json": "b\n",
	}

	result := CompareFiles(oldFiles, newFiles, DefaultOptions())
	require.Len(t, result.Files, 2, "only the tags.json files themselves are skipped")
	assert.Equal(t, "mytags.json", result.Files[0].Path)
	assert.Equal(t, "sub/own.tags.json", result.Files[1].Path)
}

func TestCompareFiles_Identical(t *testing.T) {
	files := map[string]string{"main.st": "a\nb\n"}
	result := CompareFiles(files, files, DefaultOptions())
	assert.Zero(t, result.FilesChanged)
	assert.Empty(t, result.Files)
}

func TestCompareFiles_MoveDetection(t *testing.T) {
	content := "line1\nline2\nline3\nline4\nline5\n"
	oldFiles := map[string]string{"old/motor.st": content}
	newFiles := map[string]string{"new/motor.st": content}

	result := CompareFiles(oldFiles, newFiles, DefaultOptions())
	require.Len(t, result.Files, 1)
	assert.Equal(t, FileMoved, result.Files[0].Status)
	assert.Equal(t, "new/motor.st", result.Files[0].Path)
	assert.Equal(t, "old/motor.st", result.Files[0].MovedFrom)
	assert.Zero(t, result.FilesDeleted)
}

func TestCompareFiles_DissimilarNotMoved(t *testing.T) {
	oldFiles := map[string]string{"a.st": "one\ntwo\nthree\nfour\nfive\n"}
	newFiles := map[string]string{"b.st": "alpha\nbeta\ngamma\ndelta\nepsilon\n"}

	result := CompareFiles(oldFiles, newFiles, DefaultOptions())
	assert.Equal(t, 1, result.FilesAdded)
	assert.Equal(t, 1, result.FilesDeleted)
}
