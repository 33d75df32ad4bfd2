package ctxwindow

import (
	"encoding/json"
	"testing"

	"codi/internal/agentcore"
)

func TestEstimateTextTokens(t *testing.T) {
	if got := EstimateTextTokens(""); got != 0 {
		t.Fatalf("expected 0, got %d", got)
	}
	// 101 chars * 0.25 = 25.25 -> 25 tokens, truncating not rounding.
	text := make([]byte, 101)
	for i := range text {
		text[i] = 'a'
	}
	if got := EstimateTextTokens(string(text)); got != 25 {
		t.Fatalf("expected 25 (truncated), got %d", got)
	}
}

func TestEstimateMessageTokens(t *testing.T) {
	m := agentcore.NewUserText("hello world")
	got := EstimateMessageTokens(m)
	want := EstimateTextTokens("hello world") + perMessageOverhead
	if got != want {
		t.Fatalf("expected %d, got %d", want, got)
	}
}

func TestContextConfigForModel(t *testing.T) {
	cases := []struct {
		window     int
		wantBuffer int
	}{
		{100_000, 20_000},
		{200_000, 40_000}, // strict boundary: exactly 200k still uses the 20% rule
		{200_001, 20_000},
		{1_000_000, 20_000},
	}
	for _, c := range cases {
		cfg := ContextConfigForModel(c.window)
		if cfg.ContextBuffer != c.wantBuffer {
			t.Fatalf("window=%d: expected buffer %d, got %d", c.window, c.wantBuffer, cfg.ContextBuffer)
		}
		if cfg.MaxContextTokens != c.window {
			t.Fatalf("expected max context tokens %d, got %d", c.window, cfg.MaxContextTokens)
		}
	}
}

func TestContextWindowNeedsSummarization(t *testing.T) {
	cfg := DefaultContextConfig() // 128_000 max, 20_000 buffer -> threshold 108_000
	w := NewContextWindow(cfg)

	w.TokenCount = 100_000
	if w.NeedsSummarization() {
		t.Fatalf("expected no summarization needed at 100k")
	}

	w.TokenCount = 108_000
	if !w.NeedsSummarization() {
		t.Fatalf("expected summarization needed at threshold")
	}

	w.TokenCount = 150_000
	if !w.NeedsSummarization() {
		t.Fatalf("expected summarization needed over threshold")
	}
	if w.RemainingTokens() != 0 {
		t.Fatalf("expected remaining tokens floored at 0, got %d", w.RemainingTokens())
	}
}

func TestWorkingSet(t *testing.T) {
	ws := NewWorkingSetWithCapacity(3)
	ws.AddFile("/repo/a.go")
	ws.AddFile("/repo/b.go")
	ws.AddFile("/repo/c.go")

	if ws.Len() != 3 {
		t.Fatalf("expected 3 files, got %d", ws.Len())
	}

	// Touch a.go again to make it most-recently-used; d.go should then
	// evict b.go (the now-least-recently-used), not a.go.
	ws.AddFile("/repo/a.go")
	ws.AddFile("/repo/d.go")

	if ws.Len() != 3 {
		t.Fatalf("expected capacity held at 3, got %d", ws.Len())
	}

	files := ws.Files()
	found := make(map[string]bool)
	for _, f := range files {
		found[f] = true
	}
	if !found["/repo/a.go"] {
		t.Fatalf("expected a.go to survive eviction (recently touched), got %v", files)
	}
	if found["/repo/b.go"] {
		t.Fatalf("expected b.go to be evicted (least recently used), got %v", files)
	}
	if !found["/repo/c.go"] || !found["/repo/d.go"] {
		t.Fatalf("expected c.go and d.go present, got %v", files)
	}

	if !ws.ReferencesFiles("see /repo/a.go for details") {
		t.Fatalf("expected full-path reference match")
	}
	if !ws.ReferencesFiles("look at d.go please") {
		t.Fatalf("expected basename reference match")
	}
	if ws.ReferencesFiles("nothing relevant here") {
		t.Fatalf("expected no match")
	}
}

func toolUseMsg(id, name string) agentcore.Message {
	return agentcore.NewAssistantBlocks([]agentcore.ContentBlock{
		agentcore.ToolUse(id, name, json.RawMessage(`{"file":"main.go"}`)),
	})
}

func toolResultMsg(id, content string) agentcore.Message {
	return agentcore.NewToolResultMessage([]agentcore.ContentBlock{
		agentcore.ToolResultBlock(id, content, false),
	})
}

func TestSelectMessagesToKeep(t *testing.T) {
	msgs := []agentcore.Message{
		agentcore.NewUserText("look at main.go"),        // 0
		agentcore.NewAssistantBlocks(nil),                // 1 filler
		toolUseMsg("t1", "read_file"),                    // 2
		toolResultMsg("t1", "package main"),              // 3
		agentcore.NewUserText("thanks"),                  // 4
		agentcore.NewAssistantBlocks(nil),                // 5
		agentcore.NewUserText("one more question"),       // 6 (last 4 start here)
		agentcore.NewAssistantBlocks(nil),                // 7
		agentcore.NewUserText("final question"),          // 8
		agentcore.NewAssistantBlocks(nil),                // 9
	}

	working := NewWorkingSet()
	working.AddFile("main.go")

	cfg := DefaultContextConfig()
	cfg.MinRecentMessages = 4
	cfg.MaxMessages = 50

	sel := SelectMessagesToKeep(msgs, cfg, working)

	keptSet := make(map[int]bool)
	for _, i := range sel.Keep {
		keptSet[i] = true
	}

	// Last 4 (indices 6..9) always kept.
	for i := 6; i <= 9; i++ {
		if !keptSet[i] {
			t.Fatalf("expected index %d (recent) to be kept", i)
		}
	}

	// Index 0 references main.go via the working set, so it's kept.
	if !keptSet[0] {
		t.Fatalf("expected index 0 (working-set reference) to be kept")
	}

	// Tool pairing: kept index 2 (tool use) should pull in 3 (tool result).
	if !keptSet[3] {
		t.Fatalf("expected index 3 (paired tool result) to be kept since 2 (tool use) was kept")
	}
}

func TestSelectMessagesToKeepCapsToMaxMessages(t *testing.T) {
	msgs := make([]agentcore.Message, 20)
	for i := range msgs {
		msgs[i] = agentcore.NewUserText("msg")
	}
	cfg := DefaultContextConfig()
	cfg.MinRecentMessages = 20
	cfg.MaxMessages = 5

	sel := SelectMessagesToKeep(msgs, cfg, nil)
	if len(sel.Keep) != 5 {
		t.Fatalf("expected cap at 5, got %d", len(sel.Keep))
	}
	// Should keep the most recent 5: indices 15..19.
	for i, idx := range sel.Keep {
		want := 15 + i
		if idx != want {
			t.Fatalf("expected kept index %d at position %d, got %d", want, i, idx)
		}
	}
}

func TestHasToolBlocks(t *testing.T) {
	m := toolUseMsg("t1", "grep")
	if !m.HasToolUse() {
		t.Fatalf("expected HasToolUse true")
	}
	if m.HasToolResult() {
		t.Fatalf("expected HasToolResult false")
	}

	r := toolResultMsg("t1", "match found")
	if !r.HasToolResult() {
		t.Fatalf("expected HasToolResult true")
	}
	if r.HasToolUse() {
		t.Fatalf("expected HasToolUse false")
	}
}

func TestSelectionStats(t *testing.T) {
	stats := SelectionStatsFrom(0, SelectionResult{})
	if stats.KeptPercent != 100.0 {
		t.Fatalf("expected 100%% for empty total, got %v", stats.KeptPercent)
	}

	sel := SelectionResult{Keep: []int{0, 1, 2}, Summarize: []int{3, 4}}
	stats = SelectionStatsFrom(5, sel)
	if stats.Kept != 3 || stats.Summarized != 2 || stats.Total != 5 {
		t.Fatalf("unexpected stats: %+v", stats)
	}
	if stats.KeptPercent != 60.0 {
		t.Fatalf("expected 60%%, got %v", stats.KeptPercent)
	}
}

// §8 property: the kept subsequence never begins with an orphaned
// ToolResult message, even when selection (before safe-start trimming)
// would have kept one as its first element.
func TestApplySelectionNeverStartsWithOrphanToolResult(t *testing.T) {
	msgs := []agentcore.Message{
		toolResultMsg("orphan", "leftover result"), // 0: orphaned, no preceding tool_use kept
		agentcore.NewUserText("hello"),             // 1
		agentcore.NewAssistantBlocks(nil),          // 2
	}
	sel := SelectionResult{Keep: []int{0, 1, 2}}
	out := ApplySelection(msgs, sel)

	if len(out) == 0 {
		t.Fatalf("expected at least one message to survive")
	}
	if out[0].HasToolResult() {
		t.Fatalf("expected first surviving message to not be an orphaned tool result, got %+v", out[0])
	}
}

// §8 property: running selection twice over the same messages and config
// is idempotent — re-selecting over the already-kept subsequence keeps
// everything (nothing left over is droppable a second time).
func TestSelectMessagesToKeepIdempotent(t *testing.T) {
	msgs := []agentcore.Message{
		agentcore.NewUserText("a"),
		agentcore.NewUserText("b"),
		agentcore.NewUserText("c"),
		agentcore.NewUserText("d"),
	}
	cfg := DefaultContextConfig()
	cfg.MinRecentMessages = 2
	cfg.MaxMessages = 50

	first := SelectMessagesToKeep(msgs, cfg, nil)
	kept := ApplySelection(msgs, first)

	second := SelectMessagesToKeep(kept, cfg, nil)
	if len(second.Summarize) != 0 {
		t.Fatalf("expected re-selection over the kept subsequence to drop nothing, got summarize=%v", second.Summarize)
	}
}
