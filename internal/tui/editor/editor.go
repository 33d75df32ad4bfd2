// Package editor provides a minimal text editor component for bubbletea.
// Supports optional line numbers, Chroma syntax highlighting, mouse cursor
// placement, drag-to-select, and consistent background colors.
package editor

import (
	"fmt"
	"image/color"
	"strings"

	"charm.land/bubbles/v2/cursor"
	tea "charm.land/bubbletea/v2"
	"charm.land/lipgloss/v2"
	"codi/internal/highlight"
)

// ---------------------------------------------------------------------------
// Model
// ---------------------------------------------------------------------------

// GutterMark identifies the type of change marker shown in the gutter.
type GutterMark int

const (
	GutterAdd    GutterMark = iota // Line was added
	GutterChange                   // Line was modified
	GutterDelete                   // Line(s) deleted after this line
)

// Model is a minimal text editor / viewer component.
type Model struct {
	// Public configuration — set before first Update/View.
	ReadOnly        bool
	ShowLineNumbers bool
	Language        string // Chroma lexer name (empty = no highlighting)
	SyntaxTheme     string // Chroma style name (empty = no highlighting)
	Placeholder     string // Shown when empty and blurred

	// Styles — set by parent.
	CursorStyle    lipgloss.Style // Foreground for the cursor character
	SelectionStyle lipgloss.Style // Background for selected text
	LineNumStyle   lipgloss.Style // Line number gutter
	PlaceholderSty lipgloss.Style // Placeholder text
	BgColor        color.Color    // Fallback bg when no syntax theme

	// Gutter markers (git diff indicators in line number column).
	GutterMarkers map[int]GutterMark // bufRow (0-indexed) -> mark type
	MarkAddStyle  lipgloss.Style     // Style for added-line marker
	MarkChgStyle  lipgloss.Style     // Style for changed-line marker
	MarkDelStyle  lipgloss.Style     // Style for deleted-line marker

	// Per-line background overrides (e.g. diff line tinting).
	LineBg map[int]lipgloss.Style // bufRow (0-indexed) -> background style

	// LSP diagnostics (severity by bufRow, 0-indexed).
	DiagnosticLines map[int]int // 1 = error, 2 = warning
	DiagErrStyle    lipgloss.Style
	DiagWarnStyle   lipgloss.Style

	// Internal state
	lines  [][]rune // Backing store, one entry per line
	row    int      // Cursor row (0-indexed into lines)
	col    int      // Cursor column (0-indexed into line runes)
	scroll int      // First visible row

	width  int // Viewport width (cells)
	height int // Viewport height (rows)

	focus  bool
	cursor cursor.Model

	// Selection state (anchor + active pattern).
	// Anchor is where selection started; active moves with cursor/drag.
	sel      *selection
	dragging bool // Mouse drag in progress

	// Cached computed values
	gutterWidth int // Width of line number gutter (0 if disabled)
}

type pos struct{ row, col int }

// selection tracks a text selection via anchor+active points.
// Anchor is fixed (where selection started); active moves with cursor/drag.
type selection struct {
	anchor pos
	active pos
}

// ordered returns the selection endpoints in document order.
func (s selection) ordered() (start, end pos) {
	if s.anchor.row > s.active.row ||
		(s.anchor.row == s.active.row && s.anchor.col > s.active.col) {
		return s.active, s.anchor
	}
	return s.anchor, s.active
}

// empty returns true when anchor == active (no actual selection).
func (s selection) empty() bool {
	return s.anchor == s.active
}

// New creates a new editor with sensible defaults.
func New() Model {
	c := cursor.New()
	c.SetMode(cursor.CursorBlink)
	return Model{
		lines:  [][]rune{{}},
		cursor: c,
	}
}

// ---------------------------------------------------------------------------
// Public methods called by parent
// ---------------------------------------------------------------------------

func (m *Model) SetWidth(w int)  { m.width = w; m.clampScroll() }
func (m *Model) SetHeight(h int) { m.height = h; m.clampScroll() }

func (m *Model) Focus() {
	m.focus = true
	m.cursor.Focus()
}

func (m *Model) Blur() {
	m.focus = false
	m.cursor.Blur()
}

func (m Model) Focused() bool { return m.focus }

func (m *Model) SetValue(s string) {
	raw := strings.Split(s, "\n")
	m.lines = make([][]rune, len(raw))
	for i, l := range raw {
		m.lines[i] = []rune(l)
	}
	if len(m.lines) == 0 {
		m.lines = [][]rune{{}}
	}
	m.row = 0
	m.col = 0
	m.scroll = 0
}

func (m Model) Value() string {
	var sb strings.Builder
	for i, line := range m.lines {
		sb.WriteString(string(line))
		if i < len(m.lines)-1 {
			sb.WriteByte('\n')
		}
	}
	return sb.String()
}

func (m *Model) Reset() {
	m.lines = [][]rune{{}}
	m.row = 0
	m.col = 0
	m.scroll = 0
}

// GotoLine moves the cursor to the given 1-indexed line number and scrolls
// it into view.
func (m *Model) GotoLine(line int) {
	line-- // convert to 0-indexed
	if line < 0 {
		line = 0
	}
	if line >= len(m.lines) {
		line = len(m.lines) - 1
	}
	m.row = line
	m.col = 0
	m.clampScroll()
}

// Blink returns the initial cursor blink message. Call from Init().
func Blink() tea.Msg { return cursor.Blink() }

// ---------------------------------------------------------------------------
// Selection API (called by parent)
// ---------------------------------------------------------------------------

// HasSelection returns true if there is a non-empty text selection.
func (m Model) HasSelection() bool {
	return m.sel != nil && !m.sel.empty()
}

// SelectedText returns the currently selected text, or "" if none.
func (m Model) SelectedText() string {
	if !m.HasSelection() {
		return ""
	}
	s, e := m.sel.ordered()
	return m.textInRange(s, e)
}

// ClearSelection removes any active selection.
func (m *Model) ClearSelection() {
	m.sel = nil
	m.dragging = false
}

func (m *Model) textInRange(start, end pos) string {
	if start.row == end.row {
		line := m.lines[start.row]
		s := clampMax(start.col, len(line))
		e := clampMax(end.col, len(line))
		return string(line[s:e])
	}
	var sb strings.Builder
	for r := start.row; r <= end.row; r++ {
		line := m.lines[r]
		switch r {
		case start.row:
			s := clampMax(start.col, len(line))
			sb.WriteString(string(line[s:]))
			sb.WriteByte('\n')
		case end.row:
			e := clampMax(end.col, len(line))
			sb.WriteString(string(line[:e]))
		default:
			sb.WriteString(string(line))
			sb.WriteByte('\n')
		}
	}
	return sb.String()
}

// DeleteSelection removes the selected text and places the cursor at the
// deletion point. Returns true if something was deleted. No-op if ReadOnly.
func (m *Model) DeleteSelection() bool {
	if m.ReadOnly || !m.HasSelection() {
		return false
	}
	s, e := m.sel.ordered()
	if s.row == e.row {
		line := m.lines[s.row]
		sCol := clampMax(s.col, len(line))
		eCol := clampMax(e.col, len(line))
		m.lines[s.row] = append(line[:sCol:sCol], line[eCol:]...)
	} else {
		first := m.lines[s.row]
		sCol := clampMax(s.col, len(first))
		last := m.lines[e.row]
		eCol := clampMax(e.col, len(last))
		merged := append(append([]rune{}, first[:sCol]...), last[eCol:]...)
		m.lines = append(m.lines[:s.row], append([][]rune{merged}, m.lines[e.row+1:]...)...)
	}
	m.row, m.col = s.row, s.col
	m.ClearSelection()
	m.clampScroll()
	return true
}

func clampMax(v, hi int) int {
	if v < 0 {
		return 0
	}
	if v > hi {
		return hi
	}
	return v
}

func (m *Model) startOrExtendSelection() {
	if m.sel == nil {
		m.sel = &selection{anchor: pos{m.row, m.col}, active: pos{m.row, m.col}}
	}
}

func (m *Model) updateSelectionActive() {
	if m.sel != nil {
		m.sel.active = pos{m.row, m.col}
	}
}

// ---------------------------------------------------------------------------
// Cursor / scroll bounds
// ---------------------------------------------------------------------------

func (m *Model) currentLine() []rune { return m.lines[m.row] }

func (m *Model) clampCursor() {
	if m.row < 0 {
		m.row = 0
	}
	if m.row >= len(m.lines) {
		m.row = len(m.lines) - 1
	}
	line := m.currentLine()
	if m.col < 0 {
		m.col = 0
	}
	if m.col > len(line) {
		m.col = len(line)
	}
}

func (m *Model) clampScrollBounds() {
	if m.scroll < 0 {
		m.scroll = 0
	}
	maxScroll := m.visualRowCount() - m.height
	if maxScroll < 0 {
		maxScroll = 0
	}
	if m.scroll > maxScroll {
		m.scroll = maxScroll
	}
}

func (m *Model) clampScroll() {
	m.clampCursor()
	cursorRow := m.cursorVisualRow()
	if cursorRow < m.scroll {
		m.scroll = cursorRow
	}
	if m.height > 0 && cursorRow >= m.scroll+m.height {
		m.scroll = cursorRow - m.height + 1
	}
	m.clampScrollBounds()
}

func expandTabs(s string) string {
	const tabWidth = 4
	var sb strings.Builder
	col := 0
	for _, r := range s {
		if r == '\t' {
			n := tabWidth - col%tabWidth
			sb.WriteString(strings.Repeat(" ", n))
			col += n
			continue
		}
		sb.WriteRune(r)
		col++
	}
	return sb.String()
}

func (m *Model) textWidth() int {
	w := m.width - m.gutterWidth
	if w < 1 {
		w = 1
	}
	return w
}

func (m *Model) SetGutterMarkers(markers map[int]GutterMark) {
	m.GutterMarkers = markers
}

func (m Model) renderGutterMark(bufRow int, lineNumSty lipgloss.Style) string {
	mark, ok := m.GutterMarkers[bufRow]
	if !ok {
		return lineNumSty.Render(" ")
	}
	switch mark {
	case GutterAdd:
		return m.MarkAddStyle.Render("+")
	case GutterChange:
		return m.MarkChgStyle.Render("~")
	case GutterDelete:
		return m.MarkDelStyle.Render("-")
	default:
		return lineNumSty.Render(" ")
	}
}

func (m *Model) SetLineBg(bg map[int]lipgloss.Style) {
	m.LineBg = bg
}

// ---------------------------------------------------------------------------
// Wrapping / visual rows
// ---------------------------------------------------------------------------

func wrapPlain(s string, width int) []string {
	if width < 1 {
		width = 1
	}
	runes := []rune(s)
	if len(runes) == 0 {
		return []string{""}
	}
	var rows []string
	for len(runes) > width {
		rows = append(rows, string(runes[:width]))
		runes = runes[width:]
	}
	rows = append(rows, string(runes))
	return rows
}

func (m *Model) visualRowCount() int {
	tw := m.textWidth()
	n := 0
	for _, line := range m.lines {
		n += len(wrapPlain(expandTabs(string(line)), tw))
	}
	return n
}

func (m *Model) cursorVisualRow() int {
	tw := m.textWidth()
	n := 0
	for r := 0; r < m.row; r++ {
		n += len(wrapPlain(expandTabs(string(m.lines[r])), tw))
	}
	expCol := m.bufferColToExpandedCol(m.row, m.col)
	n += expCol / tw
	return n
}

func (m *Model) visualToBuffer(visRow int) (bufRow, runeOffset int) {
	tw := m.textWidth()
	n := 0
	for r, line := range m.lines {
		segs := wrapPlain(expandTabs(string(line)), tw)
		if visRow < n+len(segs) {
			return r, (visRow - n) * tw
		}
		n += len(segs)
	}
	return len(m.lines) - 1, 0
}

func (m *Model) expandedColToBufferCol(bufRow, expandedCol int) int {
	line := m.lines[bufRow]
	col := 0
	exp := 0
	for _, r := range line {
		if exp >= expandedCol {
			return col
		}
		if r == '\t' {
			exp += 4 - exp%4
		} else {
			exp++
		}
		col++
	}
	return len(line)
}

func (m *Model) bufferColToExpandedCol(bufRow, bufCol int) int {
	line := m.lines[bufRow]
	if bufCol > len(line) {
		bufCol = len(line)
	}
	exp := 0
	for _, r := range line[:bufCol] {
		if r == '\t' {
			exp += 4 - exp%4
		} else {
			exp++
		}
	}
	return exp
}

// bgForRender returns the background as a lipgloss style. Prefers the syntax
// theme background, falls back to BgColor.
func (m *Model) bgForRender() lipgloss.Style {
	if m.Language != "" && m.SyntaxTheme != "" {
		if hex := highlight.ThemeBg(m.SyntaxTheme); hex != "" {
			return lipgloss.NewStyle().Background(lipgloss.Color(hex))
		}
	}
	return lipgloss.NewStyle().Background(m.BgColor)
}

// bgHexForHighlight returns the bg hex string for syntax highlighting.
func (m *Model) bgHexForHighlight() string {
	if m.Language != "" && m.SyntaxTheme != "" {
		if hex := highlight.ThemeBg(m.SyntaxTheme); hex != "" {
			return hex
		}
	}
	if m.BgColor != nil {
		r, g, b, _ := m.BgColor.RGBA()
		return fmt.Sprintf("#%02x%02x%02x", r>>8, g>>8, b>>8)
	}
	return "#000000"
}
