// Package streampipe implements the newline-gated accumulator that turns a
// raw delta stream into committed display lines while preserving
// cancellation semantics.
//
// Rendering here is a display contract, not a semantic one: callers needing
// rich terminal styling are expected to re-render Span.Text through their
// own theme; SpanStyle only tags *what* a span is (heading, code, quote...).
package streampipe

import (
	"strings"

	"github.com/alecthomas/chroma/v2/lexers"
)

// SpanStyle tags what kind of markdown element a Span represents.
type SpanStyle int

const (
	StylePlain SpanStyle = iota
	StyleHeading1
	StyleHeading2
	StyleHeading3
	StyleCode
	StyleCodeBlock
	StyleBold
	StyleQuote
	StyleQuoteMarker
	StyleListMarker
)

// Span is one styled run of text within a Line.
type Span struct {
	Text  string
	Style SpanStyle
	// Lang is set on StyleCodeBlock spans when the enclosing fence's
	// opening line named a language chroma recognizes; empty otherwise.
	Lang string
}

// Line is a fully-rendered, committed display line: an ordered sequence of
// styled spans.
type Line struct {
	Spans []Span
}

// PlainText concatenates a Line's spans back into unstyled text.
func (l Line) PlainText() string {
	var b strings.Builder
	for _, s := range l.Spans {
		b.WriteString(s.Text)
	}
	return b.String()
}

func lineOf(spans ...Span) Line { return Line{Spans: spans} }

// Collector accumulates text deltas into a single buffer and tracks how
// many rendered lines have already been committed, so re-rendering the
// whole buffer on each commit never re-emits a line twice.
type Collector struct {
	buffer             strings.Builder
	committedLineCount int
	width              int // optional, 0 = unset; reserved for future wrapping
}

// NewCollector creates a collector. width is stored on the collector but
// rendered lines are not wrapped to it.
func NewCollector(width int) *Collector {
	return &Collector{width: width}
}

// PushDelta appends a delta to the buffer.
func (c *Collector) PushDelta(delta string) {
	c.buffer.WriteString(delta)
}

// Buffer returns the current accumulated text.
func (c *Collector) Buffer() string { return c.buffer.String() }

// CommitCompleteLines finds the last newline in the buffer, re-renders the
// buffer prefix through the markdown formatter, and returns only the lines
// past what was previously committed. Returns nil if no newline has
// appeared yet.
func (c *Collector) CommitCompleteLines() []Line {
	buf := c.buffer.String()
	lastNewline := strings.LastIndexByte(buf, '\n')
	if lastNewline < 0 {
		return nil
	}

	source := buf[:lastNewline+1]
	rendered := renderMarkdown(source)

	if len(rendered) > c.committedLineCount {
		newLines := rendered[c.committedLineCount:]
		c.committedLineCount = len(rendered)
		return newLines
	}
	return nil
}

// FinalizeAndDrain renders the whole remaining buffer, returns any
// uncommitted lines, then clears all state.
func (c *Collector) FinalizeAndDrain() []Line {
	buf := c.buffer.String()
	if buf == "" {
		return nil
	}

	rendered := renderMarkdown(buf)

	var newLines []Line
	switch {
	case len(rendered) > c.committedLineCount:
		newLines = rendered[c.committedLineCount:]
	case c.committedLineCount == 0 && len(rendered) > 0:
		newLines = rendered
	}

	c.buffer.Reset()
	c.committedLineCount = 0
	return newLines
}

// Reset clears the collector for a new message.
func (c *Collector) Reset() {
	c.buffer.Reset()
	c.committedLineCount = 0
}

// renderMarkdown renders accumulated text into display Lines. It handles
// ATX headings, fenced code blocks, inline code, bold, unordered/ordered
// lists, and blockquotes. Fence lines themselves are suppressed.
func renderMarkdown(text string) []Line {
	var lines []Line
	inCodeBlock := false
	fenceLang := ""

	for _, raw := range splitLines(text) {
		if strings.HasPrefix(raw, "```") {
			inCodeBlock = !inCodeBlock
			if inCodeBlock {
				fenceLang = detectFenceLang(raw)
			} else {
				fenceLang = ""
			}
			continue // fence lines are never emitted
		}

		if inCodeBlock {
			lines = append(lines, lineOf(Span{Text: raw, Style: StyleCodeBlock, Lang: fenceLang}))
			continue
		}

		switch {
		case strings.HasPrefix(raw, "### "):
			lines = append(lines, lineOf(Span{Text: strings.TrimPrefix(raw, "### "), Style: StyleHeading3}))
		case strings.HasPrefix(raw, "## "):
			lines = append(lines, lineOf(Span{Text: strings.TrimPrefix(raw, "## "), Style: StyleHeading2}))
		case strings.HasPrefix(raw, "# "):
			lines = append(lines, lineOf(Span{Text: strings.TrimPrefix(raw, "# "), Style: StyleHeading1}))
		case strings.HasPrefix(raw, "> "):
			lines = append(lines,
				lineOf(
					Span{Text: "│ ", Style: StyleQuoteMarker},
					Span{Text: strings.TrimPrefix(raw, "> "), Style: StyleQuote},
				))
		case strings.HasPrefix(raw, "- ") || strings.HasPrefix(raw, "* "):
			content := raw[2:]
			lines = append(lines,
				lineOf(
					Span{Text: "• ", Style: StyleListMarker},
					spanOrPlain(renderInline(content)),
				))
		case isOrderedListItem(raw):
			dot := strings.IndexByte(raw, '.')
			number := raw[:dot]
			content := strings.TrimSpace(raw[dot+1:])
			lines = append(lines,
				lineOf(
					Span{Text: number + ". ", Style: StyleListMarker},
					spanOrPlain(renderInline(content)),
				))
		default:
			lines = append(lines, renderInlineLine(raw))
		}
	}

	return lines
}

// splitLines splits on '\n', dropping the empty segment that follows a
// trailing '\n'; mirrors str::lines() semantics (no trailing empty line for
// a trailing '\n').
func splitLines(text string) []string {
	if text == "" {
		return nil
	}
	trimmed := strings.HasSuffix(text, "\n")
	parts := strings.Split(text, "\n")
	if trimmed {
		parts = parts[:len(parts)-1]
	}
	return parts
}

func isOrderedListItem(line string) bool {
	if len(line) < 2 {
		return false
	}
	return line[0] >= '0' && line[0] <= '9' && line[1] == '.'
}

func spanOrPlain(s string) Span { return Span{Text: s, Style: StylePlain} }

// renderInline strips markdown emphasis markers for contexts (list items)
// where we only need a plain-text result.
func renderInline(text string) string {
	r := strings.NewReplacer("**", "", "__", "", "*", "", "_", "")
	return r.Replace(text)
}

// renderInlineLine renders a paragraph line, splitting it into Code/Bold/Plain
// spans on `` ` `` and `**` markers.
func renderInlineLine(text string) Line {
	var spans []Span
	var cur strings.Builder
	inCode := false
	inBold := false

	flush := func() {
		if cur.Len() == 0 {
			return
		}
		style := StylePlain
		switch {
		case inCode:
			style = StyleCode
		case inBold:
			style = StyleBold
		}
		spans = append(spans, Span{Text: cur.String(), Style: style})
		cur.Reset()
	}

	runes := []rune(text)
	for i := 0; i < len(runes); i++ {
		c := runes[i]
		switch {
		case c == '`' && !inBold:
			flush()
			inCode = !inCode
		case c == '*' && !inCode && i+1 < len(runes) && runes[i+1] == '*':
			flush()
			inBold = !inBold
			i++ // consume second '*'
		default:
			cur.WriteRune(c)
		}
	}
	flush()

	if len(spans) == 0 {
		return Line{}
	}
	return Line{Spans: spans}
}

// detectFenceLang inspects a fence's opening line (after the backticks) and
// returns the tag if chroma recognizes it as a language, "" otherwise.
// renderMarkdown records the result in the Lang field of the block's
// CodeBlock spans; it does not highlight the lines itself.
func detectFenceLang(fenceLine string) string {
	tag := strings.TrimPrefix(strings.TrimSpace(fenceLine), "```")
	tag = strings.TrimSpace(tag)
	if tag == "" {
		return ""
	}
	if lexers.Get(tag) != nil {
		return tag
	}
	return ""
}
