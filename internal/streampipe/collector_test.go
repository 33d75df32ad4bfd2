package streampipe

import "testing"

func TestCollectorBasic(t *testing.T) {
	c := NewCollector(80)

	c.PushDelta("Hello")
	if lines := c.CommitCompleteLines(); len(lines) != 0 {
		t.Fatalf("expected no complete lines yet, got %d", len(lines))
	}

	c.PushDelta(", world!\n")
	if lines := c.CommitCompleteLines(); len(lines) != 1 {
		t.Fatalf("expected 1 complete line, got %d", len(lines))
	}
}

func TestCollectorMultipleLines(t *testing.T) {
	c := NewCollector(80)

	c.PushDelta("Line 1\nLine 2\n")
	lines := c.CommitCompleteLines()
	if len(lines) != 2 {
		t.Fatalf("expected 2 lines, got %d", len(lines))
	}

	if lines := c.CommitCompleteLines(); len(lines) != 0 {
		t.Fatalf("expected no duplicate lines, got %d", len(lines))
	}
}

func TestCollectorIncremental(t *testing.T) {
	c := NewCollector(80)

	c.PushDelta("Line 1\n")
	if lines := c.CommitCompleteLines(); len(lines) != 1 {
		t.Fatalf("expected 1 line, got %d", len(lines))
	}

	c.PushDelta("Line 2\n")
	lines := c.CommitCompleteLines()
	if len(lines) != 1 {
		t.Fatalf("expected only the new line, got %d", len(lines))
	}
}

func TestCollectorFinalize(t *testing.T) {
	c := NewCollector(80)

	c.PushDelta("Partial content without newline")
	if lines := c.CommitCompleteLines(); len(lines) != 0 {
		t.Fatalf("expected no complete lines, got %d", len(lines))
	}

	lines := c.FinalizeAndDrain()
	if len(lines) != 1 {
		t.Fatalf("expected finalize to emit the partial content, got %d", len(lines))
	}
	if c.Buffer() != "" {
		t.Fatalf("expected buffer cleared after finalize")
	}
}

func TestCollectorHeading(t *testing.T) {
	c := NewCollector(80)
	c.PushDelta("# Heading 1\n## Heading 2\n### Heading 3\n")
	lines := c.CommitCompleteLines()
	if len(lines) != 3 {
		t.Fatalf("expected 3 lines, got %d", len(lines))
	}
	if lines[0].Spans[0].Style != StyleHeading1 {
		t.Fatalf("expected heading1 style")
	}
	if lines[1].Spans[0].Style != StyleHeading2 {
		t.Fatalf("expected heading2 style")
	}
	if lines[2].Spans[0].Style != StyleHeading3 {
		t.Fatalf("expected heading3 style")
	}
}

func TestCollectorCodeBlock(t *testing.T) {
	c := NewCollector(80)
	c.PushDelta("```go\nfunc main() {\n    x := 1\n}\n```\n")
	lines := c.CommitCompleteLines()
	// fence lines suppressed, 3 content lines remain
	if len(lines) != 3 {
		t.Fatalf("expected 3 code lines, got %d", len(lines))
	}
	for _, l := range lines {
		if l.Spans[0].Style != StyleCodeBlock {
			t.Fatalf("expected code block style, got %v", l.Spans[0].Style)
		}
	}
}

func TestCollectorList(t *testing.T) {
	c := NewCollector(80)
	c.PushDelta("- Item 1\n- Item 2\n* Item 3\n")
	lines := c.CommitCompleteLines()
	if len(lines) != 3 {
		t.Fatalf("expected 3 lines, got %d", len(lines))
	}
}

func TestCollectorBlockquote(t *testing.T) {
	c := NewCollector(80)
	c.PushDelta("> This is a quote\n> Continued quote\n")
	lines := c.CommitCompleteLines()
	if len(lines) != 2 {
		t.Fatalf("expected 2 lines, got %d", len(lines))
	}
}

func TestCollectorInlineCode(t *testing.T) {
	c := NewCollector(80)
	c.PushDelta("Use `code` here\n")
	lines := c.CommitCompleteLines()
	if len(lines) != 1 {
		t.Fatalf("expected 1 line, got %d", len(lines))
	}
	if len(lines[0].Spans) < 2 {
		t.Fatalf("expected multiple spans for inline code, got %d", len(lines[0].Spans))
	}
}

func TestCollectorReset(t *testing.T) {
	c := NewCollector(80)
	c.PushDelta("Some content\n")
	c.CommitCompleteLines()

	c.Reset()
	if c.Buffer() != "" {
		t.Fatalf("expected empty buffer after reset")
	}

	c.PushDelta("New content\n")
	lines := c.CommitCompleteLines()
	if len(lines) != 1 {
		t.Fatalf("expected 1 line after reset, got %d", len(lines))
	}
}

// No line is ever emitted twice across any sequence of pushes and a final
// drain — the controller-level version of the same invariant (§8 property 3).
func TestControllerNoDuplicateLines(t *testing.T) {
	ctl := NewController(80, 10)
	deltas := []string{"Hel", "lo, ", "world!\n", "Second line", " continues\n", "tail with no newline"}

	var seen []Line
	for _, d := range deltas {
		ctl.Push(d)
		lines, _ := ctl.Step()
		seen = append(seen, lines...)
	}
	ctl.Finalize()
	lines, status := ctl.Step()
	seen = append(seen, lines...)
	if status != Complete && len(lines) == 0 {
		t.Fatalf("expected final step to report content or complete")
	}

	if len(seen) != 3 {
		t.Fatalf("expected 3 total lines (2 committed + 1 finalized tail), got %d", len(seen))
	}
}

func TestControllerCancelDropsDeltasButStillFinalizes(t *testing.T) {
	ctl := NewController(80, 10)
	ctl.Push("first line\n")
	first, _ := ctl.Step()
	if len(first) != 1 {
		t.Fatalf("expected 1 line before cancel, got %d", len(first))
	}

	ctl.Cancel()
	ctl.Push("dropped line\n")
	lines, status := ctl.Step()
	if len(lines) != 0 || status != Idle {
		t.Fatalf("expected no lines after cancel, got %d lines status=%v", len(lines), status)
	}

	ctl.Finalize()
	if !ctl.Finalized() {
		t.Fatalf("expected controller to be finalized after cancel")
	}
	lines, status = ctl.Step()
	if len(lines) != 0 || status != Complete {
		t.Fatalf("expected finalize to drop cancelled content, got %d lines status=%v", len(lines), status)
	}
}
