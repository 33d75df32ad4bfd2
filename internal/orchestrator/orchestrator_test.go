package orchestrator

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"codi/internal/agentcore"
	"codi/internal/ctxwindow"
	"codi/internal/dispatcher"
	"codi/internal/provider"
)

// scriptedProvider replays a fixed sequence of StreamEvent batches, one
// batch per ChatStream call, onto a fresh channel. The first batch may
// optionally hold back everything after its first event until a
// test-controlled gate channel is closed, to simulate mid-stream
// cancellation (S4).
type scriptedProvider struct {
	batches [][]provider.StreamEvent
	calls   int
	gate    <-chan struct{} // if set, the first batch waits for this before sending its second event
}

func (p *scriptedProvider) Name() string { return "scripted" }

func (p *scriptedProvider) ChatStream(ctx context.Context, messages []provider.Message, tools []provider.Tool) (<-chan provider.StreamEvent, error) {
	idx := p.calls
	p.calls++
	batch := p.batches[idx]

	ch := make(chan provider.StreamEvent)
	go func() {
		defer close(ch)
		for i, evt := range batch {
			if i == 1 && p.gate != nil && idx == 0 {
				<-p.gate
			}
			select {
			case <-ctx.Done():
				return
			case ch <- evt:
			}
		}
	}()
	return ch, nil
}

func (p *scriptedProvider) ListModels(ctx context.Context) ([]provider.Model, error) { return nil, nil }
func (p *scriptedProvider) Close() error                                             { return nil }

func newTestOrchestrator(t *testing.T, p *scriptedProvider) *Orchestrator {
	t.Helper()
	reg := dispatcher.NewRegistry()
	policy := dispatcher.NewPolicy(true, nil, nil) // auto-approve everything, tests aren't exercising confirmation UI
	disp := dispatcher.NewDispatcher(reg, policy)

	cw := ctxwindow.NewContextWindow(ctxwindow.DefaultContextConfig())
	disp.Working = cw.Working

	cfg := agentcore.DefaultAgentConfig()
	return NewOrchestrator(p, disp, cw, cw.Working, cfg, "", Callbacks{})
}

// S1: text-only turn.
func TestTextOnlyTurnS1(t *testing.T) {
	p := &scriptedProvider{batches: [][]provider.StreamEvent{
		{
			{Type: provider.EventContentDelta, Content: "Hi"},
			{Type: provider.EventContentDelta, Content: "!"},
		},
	}}
	o := newTestOrchestrator(t, p)

	var completed *agentcore.TurnStats
	o.Callbacks.OnTurnComplete = func(s *agentcore.TurnStats) { completed = s }

	text, err := o.Chat(context.Background(), "Say hi.", nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if text != "Hi!" {
		t.Fatalf("expected \"Hi!\", got %q", text)
	}
	if completed == nil || completed.ToolCallCount != 0 {
		t.Fatalf("expected on_turn_complete with tool_call_count=0, got %+v", completed)
	}

	last := o.State.Messages[len(o.State.Messages)-1]
	if last.Role != agentcore.RoleAssistant || !last.LastBlockIsText() {
		t.Fatalf("expected final message to be an assistant message ending in Text, got %+v", last)
	}
}

// S2: single tool call round-trip.
func TestSingleToolCallS2(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "x")
	if err := os.WriteFile(path, []byte("hello"), 0600); err != nil {
		t.Fatal(err)
	}

	argsJSON, _ := json.Marshal(map[string]string{"file_path": path})
	p := &scriptedProvider{batches: [][]provider.StreamEvent{
		{
			{Type: provider.EventToolCallBegin, ToolCallIndex: 0, ToolCallID: "a", ToolCallName: "read_file"},
			{Type: provider.EventToolCallDelta, ToolCallIndex: 0, ToolCallArgs: string(argsJSON)},
		},
		{
			{Type: provider.EventContentDelta, Content: "It says hello."},
		},
	}}
	o := newTestOrchestrator(t, p)
	o.Dispatcher.Registry.Register("read_file", &stubHandler{
		def: agentcore.ToolDefinition{Name: "read_file"},
		fn: func(ctx context.Context, input json.RawMessage) (dispatcher.ToolOutput, *agentcore.ToolError) {
			data, _ := os.ReadFile(path)
			return dispatcher.TextOutput("L1: "+string(data), true), nil
		},
	})

	var gotCallID, gotCallName string
	var gotResultID, gotResultText string
	var gotIsError bool
	o.Callbacks.OnToolCall = func(id, name string, input []byte) { gotCallID, gotCallName = id, name }
	o.Callbacks.OnToolResult = func(id, name, result string, isError bool) {
		gotResultID, gotResultText, gotIsError = id, result, isError
	}

	text, err := o.Chat(context.Background(), "Read "+path+".", nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if text != "It says hello." {
		t.Fatalf("expected final text, got %q", text)
	}
	if gotCallID != "a" || gotCallName != "read_file" {
		t.Fatalf("expected on_tool_call(a, read_file), got (%s, %s)", gotCallID, gotCallName)
	}
	if gotResultID != "a" || gotResultText != "L1: hello" || gotIsError {
		t.Fatalf("expected on_tool_result(a, \"L1: hello\", false), got (%s, %q, %v)", gotResultID, gotResultText, gotIsError)
	}
}

// S3 (dispatcher-level ambiguous edit) is covered in internal/dispatcher;
// here we only need the orchestrator to surface the resulting is_error
// ToolResult and continue the turn, which TestSingleToolCallS2's structure
// already demonstrates for the success path.

// S4: cancellation mid-stream.
func TestCancellationMidStreamS4(t *testing.T) {
	gate := make(chan struct{})
	p := &scriptedProvider{
		gate: gate,
		batches: [][]provider.StreamEvent{
			{
				{Type: provider.EventContentDelta, Content: "Working"},
				{Type: provider.EventContentDelta, Content: " on it..."},
			},
		},
	}
	o := newTestOrchestrator(t, p)

	var turnCompleteCount int
	o.Callbacks.OnTurnComplete = func(s *agentcore.TurnStats) { turnCompleteCount++ }

	cancel := make(chan struct{})
	o.Callbacks.OnStreamEvent = func(evt agentcore.StreamEvent) {
		if evt.Type == agentcore.EventTextDelta && evt.Delta == "Working" {
			close(cancel) // flip cancel once the first text delta has arrived
		}
	}

	_, err := o.Chat(context.Background(), "do something", cancel)
	if err == nil || err.Kind != agentcore.ErrUserCancelled {
		t.Fatalf("expected UserCancelled, got %v", err)
	}
	if turnCompleteCount != 1 {
		t.Fatalf("expected on_turn_complete exactly once, got %d", turnCompleteCount)
	}
	close(gate) // release the provider goroutine so the test doesn't leak it
}

// S5: compaction trigger.
func TestCompactionTriggerS5(t *testing.T) {
	p := &scriptedProvider{batches: [][]provider.StreamEvent{
		// The summarizer call (triggered by compact()) happens before the
		// main turn's provider call, consuming batch 0.
		{{Type: provider.EventContentDelta, Content: "Earlier the user asked about X."}},
		{{Type: provider.EventContentDelta, Content: "Sure."}},
	}}
	o := newTestOrchestrator(t, p)
	o.Context.Config = ctxwindow.ContextConfig{
		MaxContextTokens:  1000,
		ContextBuffer:     200,
		MinRecentMessages: 4,
		MaxMessages:       50,
		PreserveToolPairs: true,
	}

	// Seed enough history to cross the summarization threshold.
	padding := strings.Repeat("x", 400)
	for i := 0; i < 30; i++ {
		o.State.Append(agentcore.NewUserText(padding))
		o.State.Append(agentcore.NewAssistantBlocks([]agentcore.ContentBlock{agentcore.Text(padding)}))
	}

	var compactionEvents []bool
	o.Callbacks.OnCompaction = func(starting bool) { compactionEvents = append(compactionEvents, starting) }

	text, err := o.Chat(context.Background(), "continue", nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if text != "Sure." {
		t.Fatalf("expected final text \"Sure.\", got %q", text)
	}
	if len(compactionEvents) != 2 || compactionEvents[0] != true || compactionEvents[1] != false {
		t.Fatalf("expected on_compaction(true) then on_compaction(false), got %+v", compactionEvents)
	}
	if o.State.ConversationSummary != "Earlier the user asked about X." {
		t.Fatalf("expected summary to be set, got %q", o.State.ConversationSummary)
	}
}

// Property 2: the final element of AgentState.messages after a successful
// return is an Assistant message whose last block is Text.
func TestInvariantLastMessageEndsWithText(t *testing.T) {
	p := &scriptedProvider{batches: [][]provider.StreamEvent{
		{{Type: provider.EventContentDelta, Content: "done"}},
	}}
	o := newTestOrchestrator(t, p)

	if _, err := o.Chat(context.Background(), "go", nil); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	last := o.State.Messages[len(o.State.Messages)-1]
	if last.Role != agentcore.RoleAssistant {
		t.Fatalf("expected last message to be Assistant, got %v", last.Role)
	}
	if !last.LastBlockIsText() {
		t.Fatalf("expected last block to be Text")
	}
}

// Property 11: the text-extraction fallback ignores unrecognized tool
// names rather than erroring.
func TestFallbackGrammarIgnoresUnknownNames(t *testing.T) {
	p := &scriptedProvider{}
	o := newTestOrchestrator(t, p)
	out := o.extractFallbackToolUses("TOOL_CALL: does_not_exist {\"a\":1}\nsome text")
	if len(out) != 0 {
		t.Fatalf("expected unrecognized tool name to be ignored, got %+v", out)
	}
}

func TestFallbackGrammarPromotesKnownNames(t *testing.T) {
	p := &scriptedProvider{}
	o := newTestOrchestrator(t, p)
	o.Dispatcher.Registry.Register("grep", &stubHandler{def: agentcore.ToolDefinition{Name: "grep"}})

	out := o.extractFallbackToolUses("TOOL_CALL: grep {\"pattern\":\"foo\"}")
	if len(out) != 1 || out[0].ToolName != "grep" {
		t.Fatalf("expected one promoted grep call, got %+v", out)
	}
}

// stubHandler is a minimal dispatcher.ToolHandler for orchestrator tests.
type stubHandler struct {
	def      agentcore.ToolDefinition
	mutating bool
	fn       func(ctx context.Context, input json.RawMessage) (dispatcher.ToolOutput, *agentcore.ToolError)
}

func (h *stubHandler) Definition() agentcore.ToolDefinition { return h.def }
func (h *stubHandler) IsMutating() bool                     { return h.mutating }
func (h *stubHandler) Execute(ctx context.Context, input json.RawMessage) (dispatcher.ToolOutput, *agentcore.ToolError) {
	if h.fn != nil {
		return h.fn(ctx, input)
	}
	return dispatcher.TextOutput("", true), nil
}
