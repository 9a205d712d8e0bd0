// Package conflicts materializes file conflicts into marker text and
// parses edited marker text back into merge terms. The marker grammar
// round-trips: parsing a materialized conflict reconstructs the merge
// that produced it.
package conflicts

import (
	"fmt"
	"strings"

	"github.com/sergi/go-diff/diffmatchpatch"

	"github.com/jj-vcs/jj-go/internal/merge"
)

// Style selects the marker flavor.
type Style int

const (
	// StyleDiff renders each side as a diff against the base, the native
	// flavor.
	StyleDiff Style = iota
	// StyleGit renders git-compatible <<<<<<< / ||||||| / ======= / >>>>>>>
	// markers. Conflicts with more than two sides fall back to StyleDiff.
	StyleGit
)

const markerLen = 7

var (
	markerConflictStart = strings.Repeat("<", markerLen)
	markerConflictEnd   = strings.Repeat(">", markerLen)
	markerDiff          = strings.Repeat("%", markerLen)
	markerSide          = strings.Repeat("+", markerLen)
	markerBase          = strings.Repeat("|", markerLen)
	markerSep           = strings.Repeat("=", markerLen)
)

// Materialize renders the merged file contents. A resolved merge is its
// single term; a conflicted merge becomes one marked conflict section.
func Materialize(m merge.Merge[string], style Style) string {
	if content, ok := merge.ResolveTrivial(m); ok {
		return content
	}
	s := merge.Simplify(m)
	adds := s.Adds()
	bases := s.Bases()

	var b strings.Builder
	if style == StyleGit && len(adds) == 2 {
		fmt.Fprintf(&b, "%s Side #1\n", markerConflictStart)
		writeLines(&b, adds[0])
		fmt.Fprintf(&b, "%s Base\n", markerBase)
		writeLines(&b, bases[0])
		fmt.Fprintf(&b, "%s\n", markerSep)
		writeLines(&b, adds[1])
		fmt.Fprintf(&b, "%s Side #2\n", markerConflictEnd)
		return b.String()
	}

	fmt.Fprintf(&b, "%s Conflict 1 of 1\n", markerConflictStart)
	for i := range bases {
		fmt.Fprintf(&b, "%s Changes from base to side #%d\n", markerDiff, i+1)
		writeDiff(&b, bases[i], adds[i])
	}
	fmt.Fprintf(&b, "%s Contents of side #%d\n", markerSide, len(adds))
	writeLines(&b, adds[len(adds)-1])
	fmt.Fprintf(&b, "%s Conflict 1 of 1 ends\n", markerConflictEnd)
	return b.String()
}

func writeLines(b *strings.Builder, content string) {
	b.WriteString(content)
	if content != "" && !strings.HasSuffix(content, "\n") {
		b.WriteString("\n")
	}
}

// writeDiff emits a line diff from base to side: "-" base lines, "+" side
// lines, " " shared lines. Every line of both inputs appears exactly
// once, which is what lets Parse reconstruct them.
func writeDiff(b *strings.Builder, base, side string) {
	dmp := diffmatchpatch.New()
	c1, c2, lines := dmp.DiffLinesToChars(base, side)
	diffs := dmp.DiffCharsToLines(dmp.DiffMain(c1, c2, false), lines)
	for _, d := range diffs {
		var prefix string
		switch d.Type {
		case diffmatchpatch.DiffDelete:
			prefix = "-"
		case diffmatchpatch.DiffInsert:
			prefix = "+"
		default:
			prefix = " "
		}
		for _, line := range splitLines(d.Text) {
			b.WriteString(prefix)
			b.WriteString(line)
			if !strings.HasSuffix(line, "\n") {
				b.WriteString("\n")
			}
		}
	}
}

func splitLines(text string) []string {
	if text == "" {
		return nil
	}
	var lines []string
	for len(text) > 0 {
		i := strings.IndexByte(text, '\n')
		if i < 0 {
			lines = append(lines, text)
			break
		}
		lines = append(lines, text[:i+1])
		text = text[i+1:]
	}
	return lines
}
