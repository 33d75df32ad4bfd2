// Package ctxwindow tracks the model's context budget across a turn: token
// estimation, a working set of recently-touched files, and the selection
// logic that decides which messages stay live versus which get folded into
// a summary once the budget is under pressure.
package ctxwindow

import (
	"sort"

	"codi/internal/agentcore"
)

// tokensPerChar is the crude char-count-to-token-count ratio used for
// estimation when no tokenizer is available.
const tokensPerChar = 0.25

// perMessageOverhead is added to every message's estimated token count to
// account for role/framing tokens not captured by raw text length.
const perMessageOverhead = 4

// ContextConfig governs when a ContextWindow considers itself under
// pressure and how many messages it is willing to keep live.
type ContextConfig struct {
	MaxContextTokens   int
	ContextBuffer      int
	MinRecentMessages  int
	MaxMessages        int
	PreserveToolPairs  bool
}

// DefaultContextConfig mirrors the defaults used absent a model-specific
// override: a 128k window with a 20k reserved buffer.
func DefaultContextConfig() ContextConfig {
	return ContextConfig{
		MaxContextTokens:  128_000,
		ContextBuffer:     20_000,
		MinRecentMessages: 4,
		MaxMessages:       50,
		PreserveToolPairs: true,
	}
}

// ContextConfigForModel scales the reserved buffer to the model's window:
// 20% of the window for windows at or under 200,000 tokens, else a fixed
// 20,000-token buffer. The boundary is strict: a window of exactly 200,000
// still uses the 20% rule (40,000), not the fixed-buffer rule.
func ContextConfigForModel(windowTokens int) ContextConfig {
	cfg := DefaultContextConfig()
	cfg.MaxContextTokens = windowTokens

	if windowTokens > 200_000 {
		cfg.ContextBuffer = 20_000
	} else {
		cfg.ContextBuffer = windowTokens / 5
	}
	return cfg
}

// SummarizationThreshold is the token count above which compaction should
// run: the window size minus the reserved buffer, floored at zero.
func (c ContextConfig) SummarizationThreshold() int {
	if c.ContextBuffer >= c.MaxContextTokens {
		return 0
	}
	return c.MaxContextTokens - c.ContextBuffer
}

// EstimateTextTokens estimates the token count of raw text via the
// char-count heuristic, truncating (not rounding) to an integer.
func EstimateTextTokens(text string) int {
	return int(float64(len(text)) * tokensPerChar)
}

// EstimateMessageTokens estimates one message's token cost: its extracted
// text plus a fixed per-message overhead.
func EstimateMessageTokens(m agentcore.Message) int {
	return EstimateTextTokens(m.ExtractedText()) + perMessageOverhead
}

// EstimateMessagesTokens sums EstimateMessageTokens over a slice.
func EstimateMessagesTokens(msgs []agentcore.Message) int {
	total := 0
	for _, m := range msgs {
		total += EstimateMessageTokens(m)
	}
	return total
}

// ContextWindow tracks the live token count for a conversation against a
// ContextConfig and a WorkingSet of recently-touched files.
type ContextWindow struct {
	TokenCount int
	Config     ContextConfig
	Working    *WorkingSet
}

// NewContextWindow creates a ContextWindow with a fresh WorkingSet.
func NewContextWindow(cfg ContextConfig) *ContextWindow {
	return &ContextWindow{Config: cfg, Working: NewWorkingSet()}
}

// NeedsSummarization reports whether the current token count has crossed
// the configured summarization threshold.
func (w *ContextWindow) NeedsSummarization() bool {
	return w.TokenCount >= w.Config.SummarizationThreshold()
}

// RemainingTokens is how much budget is left before hitting the window max,
// floored at zero.
func (w *ContextWindow) RemainingTokens() int {
	remaining := w.Config.MaxContextTokens - w.TokenCount
	if remaining < 0 {
		return 0
	}
	return remaining
}

// UsagePercent is the current token count as a percentage of the window max.
func (w *ContextWindow) UsagePercent() float64 {
	if w.Config.MaxContextTokens == 0 {
		return 0
	}
	return float64(w.TokenCount) / float64(w.Config.MaxContextTokens) * 100
}

// UpdateTokenCount recomputes TokenCount from the given messages.
func (w *ContextWindow) UpdateTokenCount(msgs []agentcore.Message) {
	w.TokenCount = EstimateMessagesTokens(msgs)
}

// FindSafeStartIndex returns the index of the first message that is not a
// pure ToolResult continuation (i.e. does not itself have ToolResult
// blocks), so a truncated message slice never opens with an orphaned tool
// result. Defaults to 0 if every message qualifies or the slice is empty.
func FindSafeStartIndex(msgs []agentcore.Message) int {
	for i, m := range msgs {
		if !m.HasToolResult() {
			return i
		}
	}
	return 0
}

// SelectionResult partitions message indices into those to keep live and
// those to fold into a summary.
type SelectionResult struct {
	Keep      []int
	Summarize []int
}

// SelectMessagesToKeep runs the four-step selection algorithm:
//  1. Always keep the last MinRecentMessages indices.
//  2. Keep any message whose extracted text references a working-set file.
//  3. If PreserveToolPairs, for every currently-kept index also keep its
//     paired ToolUse/ToolResult neighbor (single pass, not a fixed point).
//  4. If the kept set exceeds MaxMessages, keep only the most recent
//     MaxMessages indices.
//
// The complement of Keep is Summarize.
func SelectMessagesToKeep(msgs []agentcore.Message, cfg ContextConfig, working *WorkingSet) SelectionResult {
	total := len(msgs)
	keepSet := make(map[int]struct{})

	// Step 1: always keep the last MinRecentMessages.
	start := total - cfg.MinRecentMessages
	if start < 0 {
		start = 0
	}
	for i := start; i < total; i++ {
		keepSet[i] = struct{}{}
	}

	// Step 2: keep messages referencing a working-set file.
	if working != nil {
		for i, m := range msgs {
			if working.ReferencesFiles(m.ExtractedText()) {
				keepSet[i] = struct{}{}
			}
		}
	}

	// Step 3: preserve tool call/result pairing, single pass over the
	// current keep set (not a fixed-point loop).
	if cfg.PreserveToolPairs {
		toAdd := make(map[int]struct{})
		for idx := range keepSet {
			if idx+1 < total && msgs[idx].HasToolUse() {
				toAdd[idx+1] = struct{}{}
			}
			if idx-1 >= 0 && msgs[idx].HasToolResult() {
				toAdd[idx-1] = struct{}{}
			}
		}
		for idx := range toAdd {
			keepSet[idx] = struct{}{}
		}
	}

	keep := make([]int, 0, len(keepSet))
	for idx := range keepSet {
		keep = append(keep, idx)
	}

	// Step 4: cap to MaxMessages, keeping the most recent indices.
	if len(keep) > cfg.MaxMessages {
		sort.Sort(sort.Reverse(sort.IntSlice(keep)))
		keep = keep[:cfg.MaxMessages]
	}
	sort.Ints(keep)

	keptLookup := make(map[int]struct{}, len(keep))
	for _, idx := range keep {
		keptLookup[idx] = struct{}{}
	}
	summarize := make([]int, 0, total-len(keep))
	for i := 0; i < total; i++ {
		if _, ok := keptLookup[i]; !ok {
			summarize = append(summarize, i)
		}
	}

	return SelectionResult{Keep: keep, Summarize: summarize}
}

// ApplySelection filters msgs down to the kept indices, then trims from the
// front so the result never begins with an orphaned ToolResult message.
func ApplySelection(msgs []agentcore.Message, sel SelectionResult) []agentcore.Message {
	kept := make([]agentcore.Message, 0, len(sel.Keep))
	for _, idx := range sel.Keep {
		kept = append(kept, msgs[idx])
	}
	safeStart := FindSafeStartIndex(kept)
	return kept[safeStart:]
}

// SelectionStats summarizes a SelectionResult as counts and a percentage.
type SelectionStats struct {
	Total        int
	Kept         int
	Summarized   int
	KeptPercent  float64
}

// SelectionStatsFrom computes SelectionStats for a SelectionResult against
// the original message count.
func SelectionStatsFrom(total int, sel SelectionResult) SelectionStats {
	stats := SelectionStats{
		Total:      total,
		Kept:       len(sel.Keep),
		Summarized: len(sel.Summarize),
	}
	if total == 0 {
		stats.KeptPercent = 100.0
		return stats
	}
	stats.KeptPercent = float64(stats.Kept) / float64(total) * 100
	return stats
}
