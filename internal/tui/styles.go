package tui

import (
	"charm.land/lipgloss/v2"

	"codi/internal/highlight"
)

// Semantic color palette — grayscale "suit and tie" with a single accent.
var (
	// Accent — used sparingly: cursor, spinner, active indicators.
	ColorHighlight = lipgloss.Color("#00E5CC")

	// Backgrounds
	ColorBg = lipgloss.Color("#000000") // Pure black by default, overridden by initTheme

	// Foregrounds (grayscale ramp, light to dark)
	ColorFg      = lipgloss.Color("#c8c8c8") // Primary text
	ColorMuted   = lipgloss.Color("#6e6e6e") // Secondary / reasoning
	ColorDim     = lipgloss.Color("#3f3f3f") // Tertiary / timestamps
	ColorBorder  = lipgloss.Color("#1c1c1c") // Borders and dividers
	ColorSurface = ColorHighlight            // Selection highlight — reuse accent

	// Semantic aliases
	ColorError   = lipgloss.Color("#932e2e")
	ColorWarning = lipgloss.Color("#a8872e")
)

// stylePalette mirrors the hex strings modal.Colors wants, kept in sync with
// the Color* vars above so the file/keybinds/models modals match the rest of
// the chrome.
type stylePalette struct {
	Fg     string
	Bg     string
	Dim    string
	Border string
}

var palette = stylePalette{
	Fg:     "#c8c8c8",
	Bg:     "#000000",
	Dim:    "#3f3f3f",
	Border: "#1c1c1c",
}

// initTheme derives the chrome background from the named Chroma style, so
// the TUI's own black matches the editor's syntax theme instead of clashing
// with it. Leaves the default black in place when the theme has no
// background entry (e.g. an unknown name).
func initTheme(name string) {
	bg := highlight.ThemeBg(name)
	if bg == "" {
		return
	}
	ColorBg = lipgloss.Color(bg)
	palette.Bg = bg
}

// brailleFrames is the animated spinner sequence for the status bar.
var brailleFrames = []string{"⠋", "⠙", "⠹", "⠸", "⠼", "⠴", "⠦", "⠧", "⠇", "⠏"}

// Styles holds all pre-built lipgloss styles used across the TUI.
// Constructed once, stored in Model, avoids repeated allocations.
type Styles struct {
	// Text
	Text      lipgloss.Style // Primary text
	Muted     lipgloss.Style // Reasoning, secondary
	Dim       lipgloss.Style // Timestamps, placeholders
	Error     lipgloss.Style // Errors
	Warning   lipgloss.Style // Warnings (LSP diagnostics)
	ToolCall  lipgloss.Style // Tool call arrows
	ToolArrow lipgloss.Style // Tool arrow symbol
	Clickable lipgloss.Style // File-path references and [view] labels

	// Layout
	Border    lipgloss.Style // Divider, separator lines
	Selection lipgloss.Style // Mouse text selection highlight
	BgFill    lipgloss.Style // Pure black background fill for empty areas

	// Status bar
	StatusText lipgloss.Style // Status bar text
}

// DefaultStyles builds the complete style set from the current palette.
// Call initTheme before this if a non-default syntax theme is configured.
func DefaultStyles() Styles {
	bg := lipgloss.NewStyle().Background(ColorBg)
	return Styles{
		Text:      bg.Foreground(ColorFg),
		Muted:     bg.Foreground(ColorMuted),
		Dim:       bg.Foreground(ColorDim),
		Error:     bg.Foreground(ColorError),
		Warning:   bg.Foreground(ColorWarning),
		ToolCall:  bg.Foreground(ColorDim),
		ToolArrow: bg.Foreground(ColorMuted),
		Clickable: bg.Foreground(ColorHighlight).Underline(true),

		Border:    bg.Foreground(ColorBorder),
		Selection: lipgloss.NewStyle().Background(ColorSurface).Foreground(ColorBg),
		BgFill:    bg,

		StatusText: bg.Foreground(ColorDim),
	}
}
