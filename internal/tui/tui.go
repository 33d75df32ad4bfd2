package tui

import (
	"context"
	"image"
	"regexp"
	"sync/atomic"
	"time"

	"charm.land/bubbles/v2/spinner"
	tea "charm.land/bubbletea/v2"
	"charm.land/lipgloss/v2"
	"codi/internal/delta"
	"codi/internal/filesearch"
	"codi/internal/llm"
	"codi/internal/mcp"
	"codi/internal/mcptools"
	"codi/internal/provider"
	"codi/internal/store"
	"codi/internal/treesitter"
	"codi/internal/tui/editor"
	"codi/internal/tui/modal"
)

// ---------------------------------------------------------------------------
// Layout
// ---------------------------------------------------------------------------

// layout holds computed rectangles for every TUI region.
// Recomputed from terminal dimensions on every resize.
type layout struct {
	editor image.Rectangle // Left pane: code viewer
	conv   image.Rectangle // Right pane: conversation log
	sep    image.Rectangle // Right pane: separator between conv and input
	input  image.Rectangle // Right pane: agent input
	div    image.Rectangle // Vertical divider column (1-wide)
}

const (
	inputRows       = 3 // Agent input height
	statusRows      = 2 // Status separator + status bar
	minPaneWidth    = 20
	maxPreviewLines = 5  // Max lines shown for tool results before truncation
	maxDisplayTurns = 40 // Max turns kept in the display buffer before trimming

	roleAssistant = "assistant"
)

// entryKind distinguishes conversation entry types for click handling.
type entryKind int

const (
	entryText       entryKind = iota // Plain text (user, assistant, reasoning)
	entryToolResult                  // Tool result — clickable to view full content in editor
	entryToolDiag                    // LSP diagnostic line attached to a tool result
	entryToolCall                    // Pending tool-call arrow line
	entrySeparator                   // Turn separator (timestamp/token line)
	entryUndo                        // Undo control below the latest separator
)

// convEntry is a single logical entry in the conversation pane.
type convEntry struct {
	display  string    // Styled text for rendering (may be truncated for tool results)
	kind     entryKind // Entry type
	filePath string    // Source file path (for tool results that reference a file)
	full     string    // Fallback raw content (when no file path, e.g. Grep results)
	line     int        // Target line within filePath or full, for cursor positioning
	toolName string     // Name of the tool that produced this entry, for [view] dispatch
}

// toolResultFileRe extracts the file path from "Opened path ..." / "Edited path ..." / "Created path ..." headers.
var toolResultFileRe = regexp.MustCompile(`^(?:Opened|Edited|Created)\s+(\S+)`)

// filePathRe matches file references like "path/to/file.go:123" or just "path/to/file.go".
// Requires a '/' to avoid matching version numbers like "v1.0".
var filePathRe = regexp.MustCompile(`(?:^|[\s(])([a-zA-Z0-9_./-]*[/][a-zA-Z0-9_.-]+\.[a-zA-Z]\w*)(?::(\d+))?`)

// toolResultLineRe extracts the start line from a "(lines N-M)" suffix.
var toolResultLineRe = regexp.MustCompile(`\(lines (\d+)-\d+\)`)

// toolResultRangeRe extracts the full start-end line range from a Read result.
var toolResultRangeRe = regexp.MustCompile(`\(lines (\d+)-(\d+)\)`)

// generateLayout computes all regions from terminal size and divider position.
func generateLayout(width, height, divX int) layout {
	contentH := height - statusRows
	if contentH < 1 {
		contentH = 1
	}

	// Vertical divider splits left/right at column divX.
	rightX := divX + 1
	rightW := width - rightX
	if rightW < 1 {
		rightW = 1
	}

	// Right pane vertical splits: conv | sep(1) | input(3)
	sepY := contentH - inputRows - 1
	if sepY < 0 {
		sepY = 0
	}
	inputY := contentH - inputRows
	if inputY < 0 {
		inputY = 0
	}

	return layout{
		editor: image.Rect(0, 0, divX, contentH),
		div:    image.Rect(divX, 0, divX+1, contentH),
		conv:   image.Rect(rightX, 0, rightX+rightW, sepY),
		sep:    image.Rect(rightX, sepY, rightX+rightW, sepY+1),
		input:  image.Rect(rightX, inputY, rightX+rightW, inputY+inputRows),
	}
}

// inRect returns true if screen point (x,y) is inside r.
func inRect(x, y int, r image.Rectangle) bool {
	return image.Pt(x, y).In(r)
}

// ---------------------------------------------------------------------------
// Focus
// ---------------------------------------------------------------------------

type focus int

const (
	focusInput  focus = iota // Default: agent input has focus
	focusEditor              // Code viewer has focus
)

// ---------------------------------------------------------------------------
// Model
// ---------------------------------------------------------------------------

// Model is the top-level TUI model.
type Model struct {
	// Terminal dimensions
	width, height int

	// Sub-models
	spinner    spinner.Model
	editor     editor.Model
	agentInput editor.Model

	// Layout
	layout       layout
	divX         int // Divider X position (resizable)
	focus        focus
	styles       Styles
	resizingPane bool

	// LLM
	provider           provider.Provider
	providerConfigName string
	currentModelName   string
	registry           *provider.Registry
	providerOpts       provider.Options
	sharedProvider     *atomic.Pointer[provider.Provider]
	cachedModels       []provider.TaggedModel
	mcpProxy           *mcp.Proxy
	mcpTools           []mcp.Tool
	history            []provider.Message
	initialSystemMsg   *provider.Message
	updateChan         chan tea.Msg
	ctx                context.Context
	cancel             context.CancelFunc
	llmInFlight        bool
	lastNetError       string
	pendingToolCalls   map[string]provider.ToolCall

	// Per-turn state
	turnCtx           context.Context
	turnCancel        context.CancelFunc
	turnBoundaries    []turnBoundary
	turnInputTokens   int
	turnOutputTokens  int
	turnContextTokens int
	totalInputTokens  int
	totalOutputTokens int

	// Persistence / project services
	sessionID    string
	store        *store.Cache
	storeQueue   chan storeBatch
	deltaTracker *delta.Tracker
	fileTracker  *mcptools.FileReadTracker
	scratchpad   *mcptools.Scratchpad
	tsIndex      *treesitter.Index
	searcher     *filesearch.Searcher

	// Conversation
	convEntries    []convEntry // Conversation entries (not wrapped)
	convLineSource []int       // Maps each wrapped line -> index in convEntries
	frameLines     []string    // Per-frame wrap cache, invalidated each Update
	scrollOffset   int         // Lines from bottom (0 = pinned)
	convSel        *convSelection
	convDragging   bool

	// Streaming state: raw text accumulated during streaming, styled at render time
	streamingReasoning string // In-progress reasoning text
	streamingContent   string // In-progress content text
	streaming          bool   // Whether we're currently streaming
	streamEntryStart   int    // Index in convEntries where streaming entries begin (-1 = none)
	streamDirty        bool   // Set on delta, cleared by tickStreaming on the next frame

	// Status bar
	gitBranch   string
	gitDirty    bool
	lspErrors   int
	lspWarnings int
	spinFrame   int
	spinFrameAt time.Time

	// Editor pane state
	editorFilePath string

	// Modals
	fileModal     *modal.Model
	keybindsModal *modal.Model
	modelsModal   *modal.Model
	toolViewModal *modal.ToolView
}

// New creates a new TUI model.
func New(
	prov provider.Provider,
	proxy *mcp.Proxy,
	tools []mcp.Tool,
	modelID string,
	webCache *store.Cache,
	sessionID string,
	tsIndex *treesitter.Index,
	deltaTracker *delta.Tracker,
	fileTracker *mcptools.FileReadTracker,
	providerName string,
	scratchpad *mcptools.Scratchpad,
	resumeHistory []provider.Message,
	registry *provider.Registry,
	providerOpts provider.Options,
	themeName string,
) Model {
	initTheme(themeName)
	sty := DefaultStyles()
	cursorStyle := lipgloss.NewStyle().Foreground(ColorHighlight)

	s := spinner.New()
	s.Spinner = spinner.Dot
	s.Style = cursorStyle.Background(ColorBg)

	ed := editor.New()
	ed.ShowLineNumbers = true
	ed.ReadOnly = true
	ed.Language = "markdown"
	ed.SyntaxTheme = themeName
	ed.CursorStyle = cursorStyle
	ed.LineNumStyle = lipgloss.NewStyle().Foreground(ColorBorder)
	ed.BgColor = ColorBg

	ai := editor.New()
	ai.Placeholder = "Type a message..."
	ai.CursorStyle = cursorStyle
	ai.PlaceholderSty = lipgloss.NewStyle().Foreground(ColorDim).Background(ColorBg)
	ai.BgColor = ColorBg
	ai.Focus()

	ch := make(chan tea.Msg, 500)
	ctx, cancel := context.WithCancel(context.Background())

	systemPrompt := llm.BuildSystemPrompt(modelID, tsIndex)
	systemMsg := provider.Message{Role: "system", Content: systemPrompt, CreatedAt: time.Now()}

	history := []provider.Message{systemMsg}
	if len(resumeHistory) > 0 {
		history = resumeHistory
	}

	var convEntries []convEntry
	if len(resumeHistory) > 0 {
		convEntries = historyConvEntries(resumeHistory)
	}

	var searcher *filesearch.Searcher
	if s, err := filesearch.NewSearcher("."); err == nil {
		searcher = s
	}

	shared := &atomic.Pointer[provider.Provider]{}
	shared.Store(&prov)

	var storeQueue chan storeBatch
	if webCache != nil {
		storeQueue = make(chan storeBatch, 64)
		startStoreWorker(webCache, storeQueue)
	}

	return Model{
		spinner:    s,
		editor:     ed,
		agentInput: ai,
		styles:     sty,
		focus:      focusInput,

		provider:           prov,
		providerConfigName: providerName,
		currentModelName:   modelID,
		registry:           registry,
		providerOpts:       providerOpts,
		sharedProvider:     shared,
		mcpProxy:           proxy,
		mcpTools:           tools,
		history:            history,
		initialSystemMsg:   &systemMsg,
		convEntries:        convEntries,
		updateChan:         ch,
		ctx:                ctx,
		cancel:             cancel,

		sessionID:    sessionID,
		store:        webCache,
		storeQueue:   storeQueue,
		deltaTracker: deltaTracker,
		fileTracker:  fileTracker,
		scratchpad:   scratchpad,
		tsIndex:      tsIndex,
		searcher:     searcher,

		streamEntryStart: -1,
	}
}

// Init starts spinner and cursor blink, and kicks off the frame and git pollers.
func (m Model) Init() tea.Cmd {
	return tea.Batch(
		m.spinner.Tick,
		func() tea.Msg { return editor.Blink() },
		frameTick(),
		gitBranchCmd(),
	)
}

// setFocus moves input focus between the editor and the agent input, blurring
// whichever pane is losing it.
func (m *Model) setFocus(f focus) {
	m.focus = f
	switch f {
	case focusEditor:
		m.agentInput.Blur()
		m.editor.Focus()
	case focusInput:
		m.editor.Blur()
		m.agentInput.Focus()
	}
}

// saveMessage appends a single message to history and persists it.
func (m *Model) saveMessage(msg provider.Message) {
	m.history = append(m.history, msg)
	m.saveMessages([]provider.Message{msg})
}

// isCentered reports whether the wrapped line at lineIdx belongs to a
// center-aligned entry (separators and the undo control), used by the
// selection/click logic to tell them apart from left-aligned text.
func (m *Model) isCentered(lineIdx int) bool {
	src := m.convLineSource
	if lineIdx < 0 || lineIdx >= len(src) {
		return false
	}
	entryIdx := src[lineIdx]
	if entryIdx < 0 || entryIdx >= len(m.convEntries) {
		return false
	}
	switch m.convEntries[entryIdx].kind {
	case entrySeparator, entryUndo:
		return true
	default:
		return false
	}
}
