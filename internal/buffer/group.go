package buffer

import (
	"fmt"
	"strings"

	"github.com/GriffinCanCode/AgentBridge/internal/text/normalize"
)

// groupLines partitions flushed lines greedily in original order.
func groupLines(lines []Line) [][]Line {
	if len(lines) == 0 {
		return nil
	}
	groups := make([][]Line, 0, 1)
	current := []Line{lines[0]}
	for _, ln := range lines[1:] {
		if len(current) < maxGroupSize && shouldGroup(current[len(current)-1], ln) {
			current = append(current, ln)
			continue
		}
		groups = append(groups, current)
		current = []Line{ln}
	}
	return append(groups, current)
}

// shouldGroup decides whether cur extends prev's group. Error and
// success lines never merge across types, and progress lines merge only
// with other progress lines.
func shouldGroup(prev, cur Line) bool {
	if cur.Timestamp.Sub(prev.Timestamp) > maxGroupGap {
		return false
	}
	if prev.Type != cur.Type {
		if prev.Type == normalize.TypeError || cur.Type == normalize.TypeError {
			return false
		}
		if prev.Type == normalize.TypeSuccess || cur.Type == normalize.TypeSuccess {
			return false
		}
	}
	if prev.Type == normalize.TypeProgress || cur.Type == normalize.TypeProgress {
		return prev.Type == cur.Type
	}
	return true
}

// combine joins a group's non-blank lines into one text block, appending
// a repeat marker for collapsed duplicate runs.
func combine(group []Line) string {
	parts := make([]string, 0, len(group))
	for _, ln := range group {
		if strings.TrimSpace(ln.Content) == "" {
			continue
		}
		text := strings.TrimRight(ln.Content, " \t")
		if ln.Meta.Repeated > 1 {
			text += fmt.Sprintf(" (repeated %d times)", ln.Meta.Repeated)
		}
		parts = append(parts, text)
	}
	return strings.Join(parts, "\n")
}

// groupType picks the aggregate type: the highest-ranked member.
func groupType(group []Line) normalize.Type {
	best := normalize.TypeNormal
	for _, ln := range group {
		if ln.Type.GroupRank() > best.GroupRank() {
			best = ln.Type
		}
	}
	return best
}
