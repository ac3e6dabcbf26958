package pipeline

import "strings"

// splitNonEmptyLines splits text on newlines and drops blank lines,
// trimming leading bullet markers the agent commonly emits.
func splitNonEmptyLines(text string) []string {
	lines := strings.Split(text, "\n")
	out := make([]string, 0, len(lines))
	for _, line := range lines {
		line = strings.TrimSpace(line)
		line = strings.TrimPrefix(line, "- ")
		line = strings.TrimPrefix(line, "* ")
		if line == "" {
			continue
		}
		out = append(out, line)
	}
	return out
}
