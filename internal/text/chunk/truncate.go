package chunk

import (
	"strings"
	"unicode/utf8"
)

const truncationNotice = "\n... [output truncated] ...\n"

// TruncateSmart bounds text at max bytes while keeping both the beginning
// and the end, joined by a truncation notice at line boundaries. When max is
// too small for that, it degrades to a plain head cut.
func TruncateSmart(text string, max int) string {
	if len(text) <= max {
		return text
	}

	available := max - len(truncationNotice)
	if available < 100 {
		return runeSafeCut(text, max-20) + "... [truncated]"
	}

	startBudget := available / 2
	endBudget := available - startBudget
	lines := strings.Split(text, "\n")

	var head strings.Builder
	for _, line := range lines {
		if head.Len()+len(line)+1 > startBudget {
			break
		}
		head.WriteString(line)
		head.WriteByte('\n')
	}

	var tailLines []string
	tailLen := 0
	for i := len(lines) - 1; i >= 0; i-- {
		if tailLen+len(lines[i])+1 > endBudget {
			break
		}
		tailLines = append([]string{lines[i]}, tailLines...)
		tailLen += len(lines[i]) + 1
	}

	// Degenerate case: the first and last lines are each wider than their
	// halves. Cut hard instead of returning only the notice.
	if head.Len() == 0 && len(tailLines) == 0 {
		return runeSafeCut(text, max-20) + "... [truncated]"
	}

	return strings.TrimRight(head.String(), "\n") + truncationNotice + strings.Join(tailLines, "\n")
}

// runeSafeCut slices at most n bytes without splitting a rune.
func runeSafeCut(s string, n int) string {
	if len(s) <= n {
		return s
	}
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return s[:n]
}
