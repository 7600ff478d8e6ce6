package validate

import (
	"fmt"
	"strings"
)

// maxLogLines bounds stored execution logs. Long test suites produce
// megabytes of output; the head and tail carry the signal (setup
// failures at the top, the verdict and marker at the bottom).
const maxLogLines = 1000

// truncateLog keeps the first and last maxLogLines/2 lines of oversized
// output with an omission marker in between.
func truncateLog(log string) string {
	lines := strings.Split(log, "\n")
	if len(lines) <= maxLogLines {
		return log
	}
	half := maxLogLines / 2
	omitted := len(lines) - maxLogLines
	out := make([]string, 0, maxLogLines+1)
	out = append(out, lines[:half]...)
	out = append(out, fmt.Sprintf("[... %d lines omitted ...]", omitted))
	out = append(out, lines[len(lines)-half:]...)
	return strings.Join(out, "\n")
}
