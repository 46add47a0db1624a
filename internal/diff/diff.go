// Package diff computes line-level diffs between file versions and renders
// them as terminal previews. It backs the confirmation gate: before a
// destructive tool runs, the agent shows the user what would change.
package diff

import (
	"fmt"
	"strings"

	"github.com/sergi/go-diff/diffmatchpatch"
)

// contextLines is how many unchanged lines surround each change in a hunk.
const contextLines = 3

// LineType classifies a single line within a hunk.
type LineType int

const (
	LineContext LineType = iota // unchanged line
	LineAdded                   // line present only in the new content
	LineRemoved                 // line present only in the old content
)

// Line is one line of a hunk. LineNum refers to the new file for added and
// context lines, and to the old file for removed lines.
type Line struct {
	LineNum int
	Content string
	Type    LineType
}

// Hunk is a contiguous group of changes with surrounding context.
type Hunk struct {
	OldStart int
	OldCount int
	NewStart int
	NewCount int
	Lines    []Line
}

// FileDiff holds all changes to a single file.
type FileDiff struct {
	OldPath  string
	NewPath  string
	Hunks    []Hunk
	IsNew    bool
	IsDelete bool
}

// Added returns the number of added lines across all hunks.
func (fd *FileDiff) Added() int {
	n := 0
	for _, h := range fd.Hunks {
		for _, l := range h.Lines {
			if l.Type == LineAdded {
				n++
			}
		}
	}
	return n
}

// Removed returns the number of removed lines across all hunks.
func (fd *FileDiff) Removed() int {
	n := 0
	for _, h := range fd.Hunks {
		for _, l := range h.Lines {
			if l.Type == LineRemoved {
				n++
			}
		}
	}
	return n
}

// HasChanges reports whether the diff contains any added or removed lines.
func (fd *FileDiff) HasChanges() bool {
	return fd.IsNew || fd.IsDelete || len(fd.Hunks) > 0
}

// Compute diffs oldContent against newContent and groups the changes into
// hunks with three lines of context. Both paths are recorded verbatim; the
// caller decides how to label them.
func Compute(oldPath, newPath, oldContent, newContent string) *FileDiff {
	fd := &FileDiff{
		OldPath: oldPath,
		NewPath: newPath,
	}

	if oldContent == "" && newContent != "" {
		fd.IsNew = true
	}
	if oldContent != "" && newContent == "" {
		fd.IsDelete = true
	}
	if oldContent == newContent {
		return fd
	}

	dmp := diffmatchpatch.New()
	dmp.DiffTimeout = 0 // never bail out with a partial diff

	// Line-mode diff: map lines to runes, diff the rune strings, map back.
	chars1, chars2, lineArray := dmp.DiffLinesToChars(oldContent, newContent)
	diffs := dmp.DiffMain(chars1, chars2, false)
	diffs = dmp.DiffCleanupSemantic(diffs)
	diffs = dmp.DiffCharsToLines(diffs, lineArray)

	fd.Hunks = buildHunks(diffs)
	return fd
}

// op is a single line with both coordinate spaces attached. A -1 line number
// means the line does not exist on that side.
type op struct {
	kind    LineType
	content string
	oldLine int
	newLine int
}

// diffsToOps flattens the line-mode diff result into per-line operations
// with old and new line numbers assigned.
func diffsToOps(diffs []diffmatchpatch.Diff) []op {
	var ops []op
	oldLine, newLine := 1, 1

	for _, d := range diffs {
		lines := strings.Split(d.Text, "\n")
		// A trailing newline yields one empty trailing element; drop it so
		// "a\nb\n" counts as two lines, not three.
		if len(lines) > 0 && lines[len(lines)-1] == "" {
			lines = lines[:len(lines)-1]
		}

		for _, line := range lines {
			switch d.Type {
			case diffmatchpatch.DiffEqual:
				ops = append(ops, op{LineContext, line, oldLine, newLine})
				oldLine++
				newLine++
			case diffmatchpatch.DiffDelete:
				ops = append(ops, op{LineRemoved, line, oldLine, -1})
				oldLine++
			case diffmatchpatch.DiffInsert:
				ops = append(ops, op{LineAdded, line, -1, newLine})
				newLine++
			}
		}
	}
	return ops
}

// buildHunks groups the flat operation list into hunks. Changes whose
// context windows would touch share a hunk; each hunk carries up to
// contextLines unchanged lines on either side.
func buildHunks(diffs []diffmatchpatch.Diff) []Hunk {
	ops := diffsToOps(diffs)

	var changes []int
	for i, o := range ops {
		if o.kind != LineContext {
			changes = append(changes, i)
		}
	}
	if len(changes) == 0 {
		return nil
	}

	var hunks []Hunk
	first, last := changes[0], changes[0]
	for _, idx := range changes[1:] {
		if idx-last > contextLines*2 {
			hunks = append(hunks, makeHunk(ops, first, last))
			first = idx
		}
		last = idx
	}
	hunks = append(hunks, makeHunk(ops, first, last))
	return hunks
}

// makeHunk builds one hunk from the changes at ops[first..last] plus the
// surrounding context window.
func makeHunk(ops []op, first, last int) Hunk {
	start := first - contextLines
	if start < 0 {
		start = 0
	}
	end := last + contextLines + 1
	if end > len(ops) {
		end = len(ops)
	}
	return finishHunk(ops[start:end])
}

// finishHunk converts a run of operations into a Hunk with start positions
// and counts filled in.
func finishHunk(ops []op) Hunk {
	h := Hunk{OldStart: -1, NewStart: -1}

	for _, o := range ops {
		num := o.newLine
		if o.kind == LineRemoved {
			num = o.oldLine
		}
		h.Lines = append(h.Lines, Line{LineNum: num, Content: o.content, Type: o.kind})

		switch o.kind {
		case LineContext:
			h.OldCount++
			h.NewCount++
			if h.OldStart < 0 {
				h.OldStart = o.oldLine
			}
			if h.NewStart < 0 {
				h.NewStart = o.newLine
			}
		case LineRemoved:
			h.OldCount++
			if h.OldStart < 0 {
				h.OldStart = o.oldLine
			}
		case LineAdded:
			h.NewCount++
			if h.NewStart < 0 {
				h.NewStart = o.newLine
			}
		}
	}

	if h.OldStart < 0 {
		h.OldStart = 1
	}
	if h.NewStart < 0 {
		h.NewStart = 1
	}
	return h
}

// Render produces a unified-diff style preview of fd, truncated to maxLines
// body lines. Zero or negative maxLines means no limit. The output is meant
// for a human at a terminal, not for patch(1).
func Render(fd *FileDiff, maxLines int) string {
	var b strings.Builder

	switch {
	case fd.IsNew:
		fmt.Fprintf(&b, "--- /dev/null\n+++ %s\n", fd.NewPath)
	case fd.IsDelete:
		fmt.Fprintf(&b, "--- %s\n+++ /dev/null\n", fd.OldPath)
	default:
		fmt.Fprintf(&b, "--- %s\n+++ %s\n", fd.OldPath, fd.NewPath)
	}

	written := 0
	remaining := 0
	for _, h := range fd.Hunks {
		if maxLines > 0 && written >= maxLines {
			remaining += len(h.Lines)
			continue
		}
		fmt.Fprintf(&b, "@@ -%d,%d +%d,%d @@\n", h.OldStart, h.OldCount, h.NewStart, h.NewCount)
		for _, l := range h.Lines {
			if maxLines > 0 && written >= maxLines {
				remaining++
				continue
			}
			switch l.Type {
			case LineAdded:
				b.WriteString("+")
			case LineRemoved:
				b.WriteString("-")
			default:
				b.WriteString(" ")
			}
			b.WriteString(l.Content)
			b.WriteString("\n")
			written++
		}
	}

	if remaining > 0 {
		fmt.Fprintf(&b, "... (%d more lines)\n", remaining)
	}
	return b.String()
}

// Summary returns a one-line change count such as "+12 -3".
func Summary(fd *FileDiff) string {
	return fmt.Sprintf("+%d -%d", fd.Added(), fd.Removed())
}
