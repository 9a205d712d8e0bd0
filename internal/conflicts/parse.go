package conflicts

import (
	"strings"

	"github.com/jj-vcs/jj-go/internal/merge"
)

// Parse scans edited file contents for conflict markers. It returns the
// reconstructed merge and true when a complete conflict section was
// found; otherwise the contents are a resolution and ok is false.
func Parse(content string) (merge.Merge[string], bool) {
	lines := splitLines(content)
	for i, line := range lines {
		if !strings.HasPrefix(line, markerConflictStart) {
			continue
		}
		if m, end, ok := parseDiffConflict(lines, i); ok {
			return assemble(lines[:i], m, lines[end:]), true
		}
		if m, end, ok := parseGitConflict(lines, i); ok {
			return assemble(lines[:i], m, lines[end:]), true
		}
	}
	return merge.Merge[string]{}, false
}

// assemble re-attaches the unconflicted text around the conflict section
// to every term.
func assemble(prefix []string, m merge.Merge[string], suffix []string) merge.Merge[string] {
	pre := strings.Join(prefix, "")
	post := strings.Join(suffix, "")
	return merge.Map(m, func(term string) string {
		return pre + term + post
	})
}

// parseDiffConflict parses the native style:
//
//	<<<<<<< ...
//	%%%%%%% ...   (repeated; diff from base N to side N)
//	+++++++ ...   (contents of the final side)
//	>>>>>>> ...
func parseDiffConflict(lines []string, start int) (merge.Merge[string], int, bool) {
	var adds, bases []string
	i := start + 1
	for i < len(lines) && strings.HasPrefix(lines[i], markerDiff) {
		i++
		var base, side strings.Builder
		for i < len(lines) && !isMarker(lines[i]) {
			line := lines[i]
			switch {
			case strings.HasPrefix(line, "-"):
				base.WriteString(line[1:])
			case strings.HasPrefix(line, "+"):
				side.WriteString(line[1:])
			case strings.HasPrefix(line, " "):
				base.WriteString(line[1:])
				side.WriteString(line[1:])
			default:
				return merge.Merge[string]{}, 0, false
			}
			i++
		}
		bases = append(bases, base.String())
		adds = append(adds, side.String())
	}
	if i >= len(lines) || !strings.HasPrefix(lines[i], markerSide) {
		return merge.Merge[string]{}, 0, false
	}
	i++
	var last strings.Builder
	for i < len(lines) && !isMarker(lines[i]) {
		last.WriteString(lines[i])
		i++
	}
	if i >= len(lines) || !strings.HasPrefix(lines[i], markerConflictEnd) {
		return merge.Merge[string]{}, 0, false
	}
	adds = append(adds, last.String())
	m, err := merge.New(adds, bases)
	if err != nil {
		return merge.Merge[string]{}, 0, false
	}
	return m, i + 1, true
}

// parseGitConflict parses <<<<<<< / ||||||| / ======= / >>>>>>>.
func parseGitConflict(lines []string, start int) (merge.Merge[string], int, bool) {
	var side1, base, side2 strings.Builder
	section := 1 // 1=side1, 2=base, 3=side2
	i := start + 1
	for ; i < len(lines); i++ {
		line := lines[i]
		switch {
		case strings.HasPrefix(line, markerBase):
			if section != 1 {
				return merge.Merge[string]{}, 0, false
			}
			section = 2
		case strings.HasPrefix(line, markerSep):
			if section != 2 {
				return merge.Merge[string]{}, 0, false
			}
			section = 3
		case strings.HasPrefix(line, markerConflictEnd):
			if section != 3 {
				return merge.Merge[string]{}, 0, false
			}
			m, err := merge.New([]string{side1.String(), side2.String()}, []string{base.String()})
			if err != nil {
				return merge.Merge[string]{}, 0, false
			}
			return m, i + 1, true
		default:
			switch section {
			case 1:
				side1.WriteString(line)
			case 2:
				base.WriteString(line)
			case 3:
				side2.WriteString(line)
			}
		}
	}
	return merge.Merge[string]{}, 0, false
}

func isMarker(line string) bool {
	return strings.HasPrefix(line, markerConflictStart) ||
		strings.HasPrefix(line, markerConflictEnd) ||
		strings.HasPrefix(line, markerDiff) ||
		strings.HasPrefix(line, markerSide) ||
		strings.HasPrefix(line, markerBase) ||
		strings.HasPrefix(line, markerSep)
}
