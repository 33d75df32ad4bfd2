package dispatcher

import (
	"fmt"
	"strings"
)

// defaultMaxOutputBytes bounds a tool result's transported size.
const defaultMaxOutputBytes = 30_000

// defaultMaxOutputLines bounds a tool result's transported line count.
const defaultMaxOutputLines = 1000

// truncateOutput keeps a head and tail portion of s by line, replacing the
// dropped middle with a "[N lines omitted]" marker, once either the byte or
// line budget is exceeded. Mirrors the line-count-aware marker used by the
// bash tool's own truncation (internal/mcptools/shell.go), generalized here
// for any tool's output.
func truncateOutput(s string, maxBytes, maxLines int) string {
	if maxBytes <= 0 {
		maxBytes = defaultMaxOutputBytes
	}
	if maxLines <= 0 {
		maxLines = defaultMaxOutputLines
	}

	lines := strings.Split(s, "\n")
	if len(s) <= maxBytes && len(lines) <= maxLines {
		return s
	}
	if len(lines) <= 2 {
		if len(s) <= maxBytes {
			return s
		}
		half := maxBytes / 2
		return s[:half] + "\n\n[truncated]\n\n" + s[len(s)-half:]
	}

	keepEachSide := maxLines / 2
	if keepEachSide < 1 {
		keepEachSide = 1
	}
	if keepEachSide*2 >= len(lines) {
		keepEachSide = (len(lines) - 1) / 2
	}

	head := lines[:keepEachSide]
	tail := lines[len(lines)-keepEachSide:]
	omitted := len(lines) - 2*keepEachSide

	var b strings.Builder
	b.WriteString(strings.Join(head, "\n"))
	fmt.Fprintf(&b, "\n\n[%d lines omitted]\n\n", omitted)
	b.WriteString(strings.Join(tail, "\n"))

	out := b.String()
	if len(out) > maxBytes {
		half := maxBytes / 2
		return out[:half] + "\n\n[truncated]\n\n" + out[len(out)-half:]
	}
	return out
}
