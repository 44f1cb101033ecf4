// Package diff generates line-level unified diffs from a classical
// longest-common-subsequence walk, plus multi-file comparison with
// moved-file detection.
package diff

import (
	"fmt"
	"strings"
)

// ChangeType classifies one line change.
type ChangeType string

const (
	Add    ChangeType = "add"
	Delete ChangeType = "delete"
)

// Change is one line-level edit. OldLine and NewLine are 1-based; a change
// carries whichever side it applies to (deletes have OldLine, adds NewLine).
type Change struct {
	Type    ChangeType `json:"type"`
	OldLine int        `json:"oldLine,omitempty"`
	NewLine int        `json:"newLine,omitempty"`
	Content string     `json:"content,omitempty"`
}

// Summary aggregates a single file comparison.
type Summary struct {
	LinesAdded    int  `json:"linesAdded"`
	LinesDeleted  int  `json:"linesDeleted"`
	LinesModified int  `json:"linesModified"`
	IsIdentical   bool `json:"isIdentical"`
}

// opKind is one step of the aligned walk over both sequences.
type opKind int

const (
	opEqual opKind = iota
	opAdd
	opDelete
)

type op struct {
	kind    opKind
	oldLine int // 1-based, valid for equal and delete
	newLine int // 1-based, valid for equal and add
	text    string
}

// SplitLines breaks text into display lines. A trailing newline does not
// produce a phantom empty line.
func SplitLines(text string) []string {
	if text == "" {
		return nil
	}
	return strings.Split(strings.TrimSuffix(text, "\n"), "\n")
}

// lcsTable computes L[i][j] = LCS length of a[i:] and b[j:].
func lcsTable(a, b []string) [][]int {
	table := make([][]int, len(a)+1)
	for i := range table {
		table[i] = make([]int, len(b)+1)
	}
	for i := len(a) - 1; i >= 0; i-- {
		for j := len(b) - 1; j >= 0; j-- {
			if a[i] == b[j] {
				table[i][j] = table[i+1][j+1] + 1
			} else if table[i+1][j] >= table[i][j+1] {
				table[i][j] = table[i+1][j]
			} else {
				table[i][j] = table[i][j+1]
			}
		}
	}
	return table
}

// walk produces the aligned op sequence for two line slices.
func walk(a, b []string) []op {
	table := lcsTable(a, b)
	var ops []op
	i, j := 0, 0
	for i < len(a) && j < len(b) {
		switch {
		case a[i] == b[j]:
			ops = append(ops, op{kind: opEqual, oldLine: i + 1, newLine: j + 1, text: a[i]})
			i++
			j++
		case table[i+1][j] >= table[i][j+1]:
			ops = append(ops, op{kind: opDelete, oldLine: i + 1, text: a[i]})
			i++
		default:
			ops = append(ops, op{kind: opAdd, newLine: j + 1, text: b[j]})
			j++
		}
	}
	for ; i < len(a); i++ {
		ops = append(ops, op{kind: opDelete, oldLine: i + 1, text: a[i]})
	}
	for ; j < len(b); j++ {
		ops = append(ops, op{kind: opAdd, newLine: j + 1, text: b[j]})
	}
	return ops
}

// Changes returns the edit script between two line slices: deletes keyed by
// old line number, adds keyed by new line number, equal lines skipped.
func Changes(oldLines, newLines []string) []Change {
	var changes []Change
	for _, o := range walk(oldLines, newLines) {
		switch o.kind {
		case opAdd:
			changes = append(changes, Change{Type: Add, NewLine: o.newLine, Content: o.text})
		case opDelete:
			changes = append(changes, Change{Type: Delete, OldLine: o.oldLine, Content: o.text})
		}
	}
	return changes
}

// Summarize counts the edit script for one comparison.
func Summarize(oldLines, newLines []string) Summary {
	var added, deleted int
	for _, c := range Changes(oldLines, newLines) {
		if c.Type == Add {
			added++
		} else {
			deleted++
		}
	}
	modified := added
	if deleted < added {
		modified = deleted
	}
	return Summary{
		LinesAdded:    added,
		LinesDeleted:  deleted,
		LinesModified: modified,
		IsIdentical:   added == 0 && deleted == 0,
	}
}

// Options controls unified diff rendering.
type Options struct {
	// ContextLines is the number of unchanged lines kept around each hunk
	// (default 3).
	ContextLines int
}

// DefaultOptions returns standard rendering options.
func DefaultOptions() Options {
	return Options{ContextLines: 3}
}

// Unified renders a unified diff between two texts. Identical inputs render
// to an empty string.
func Unified(oldText, newText string, opts Options) string {
	if opts.ContextLines <= 0 {
		opts.ContextLines = 3
	}
	oldLines := SplitLines(oldText)
	newLines := SplitLines(newText)
	ops := walk(oldLines, newLines)

	hunks := groupHunks(ops, opts.ContextLines)
	if len(hunks) == 0 {
		return ""
	}

	var b strings.Builder
	b.WriteString("--- old\n+++ new\n")
	for _, h := range hunks {
		renderHunk(&b, ops, h)
	}
	return b.String()
}

// hunkSpan is a half-open index range over the op slice.
type hunkSpan struct {
	start, end int
}

// groupHunks finds change runs and pads each with context. A new hunk
// starts when the gap of equal ops between changes exceeds 2*context+1.
func groupHunks(ops []op, context int) []hunkSpan {
	var changeIdx []int
	for i, o := range ops {
		if o.kind != opEqual {
			changeIdx = append(changeIdx, i)
		}
	}
	if len(changeIdx) == 0 {
		return nil
	}

	gap := 2*context + 1
	var spans []hunkSpan
	start := changeIdx[0]
	prev := changeIdx[0]
	for _, idx := range changeIdx[1:] {
		if idx-prev-1 > gap {
			spans = append(spans, padSpan(hunkSpan{start, prev + 1}, context, len(ops)))
			start = idx
		}
		prev = idx
	}
	spans = append(spans, padSpan(hunkSpan{start, prev + 1}, context, len(ops)))
	return spans
}

func padSpan(s hunkSpan, context, max int) hunkSpan {
	s.start -= context
	if s.start < 0 {
		s.start = 0
	}
	s.end += context
	if s.end > max {
		s.end = max
	}
	return s
}

func renderHunk(b *strings.Builder, ops []op, span hunkSpan) {
	oldStart, newStart := 0, 0
	oldCount, newCount := 0, 0
	for _, o := range ops[span.start:span.end] {
		if o.kind != opAdd {
			if oldStart == 0 {
				oldStart = o.oldLine
			}
			oldCount++
		}
		if o.kind != opDelete {
			if newStart == 0 {
				newStart = o.newLine
			}
			newCount++
		}
	}
	// An empty side anchors just before the span.
	if oldStart == 0 {
		oldStart = anchorBefore(ops, span.start, opAdd)
	}
	if newStart == 0 {
		newStart = anchorBefore(ops, span.start, opDelete)
	}

	fmt.Fprintf(b, "@@ -%d,%d +%d,%d @@\n", oldStart, oldCount, newStart, newCount)
	for _, o := range ops[span.start:span.end] {
		switch o.kind {
		case opEqual:
			b.WriteString(" " + o.text + "\n")
		case opAdd:
			b.WriteString("+" + o.text + "\n")
		case opDelete:
			b.WriteString("-" + o.text + "\n")
		}
	}
}

// anchorBefore returns the line number on the counted side just before the
// span, for hunks with no lines on that side.
func anchorBefore(ops []op, start int, skip opKind) int {
	for i := start - 1; i >= 0; i-- {
		if ops[i].kind == skip {
			continue
		}
		if skip == opAdd {
			return ops[i].oldLine
		}
		return ops[i].newLine
	}
	return 0
}

// Similarity is the LCS ratio over the longer of the two line counts.
// Two empty inputs are fully similar.
func Similarity(oldLines, newLines []string) float64 {
	if len(oldLines) == 0 && len(newLines) == 0 {
		return 1
	}
	longer := len(oldLines)
	if len(newLines) > longer {
		longer = len(newLines)
	}
	if longer == 0 {
		return 0
	}
	table := lcsTable(oldLines, newLines)
	return float64(table[0][0]) / float64(longer)
}
