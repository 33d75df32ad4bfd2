package dispatcher

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"codi/internal/agentcore"
	"codi/internal/mcptools"
)

// fakeHandler is a minimal in-memory ToolHandler for dispatcher-level tests
// that don't need a real tool implementation.
type fakeHandler struct {
	def      agentcore.ToolDefinition
	mutating bool
	execute  func(ctx context.Context, input json.RawMessage) (ToolOutput, *agentcore.ToolError)
}

func (f *fakeHandler) Definition() agentcore.ToolDefinition { return f.def }
func (f *fakeHandler) IsMutating() bool                     { return f.mutating }
func (f *fakeHandler) Execute(ctx context.Context, input json.RawMessage) (ToolOutput, *agentcore.ToolError) {
	return f.execute(ctx, input)
}

func newTestDispatcher() (*Dispatcher, *Registry) {
	reg := NewRegistry()
	policy := NewPolicy(false, nil, nil)
	return NewDispatcher(reg, policy), reg
}

// S3: Ambiguous edit. File content "foo bar foo", old_string "foo",
// replace_all false. Expected: InvalidInput "appears 2 times"; file
// unchanged; the turn continues with an is_error=true ToolResult.
func TestAmbiguousEditScenarioS3(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "x.txt")
	if err := os.WriteFile(path, []byte("foo bar foo"), 0600); err != nil {
		t.Fatal(err)
	}

	tracker := mcptools.NewFileReadTracker()
	tracker.MarkRead(path)
	handler := mcptools.NewEditFileHandler(tracker, nil, nil)

	d, reg := newTestDispatcher()
	reg.Register("edit_file", adaptEditFile(handler))

	input, _ := json.Marshal(map[string]interface{}{
		"file":        path,
		"old_string":  "foo",
		"new_string":  "qux",
		"replace_all": false,
	})

	block, err := d.Dispatch(context.Background(), "call-1", "edit_file", input, nil, nil)
	if err != nil {
		t.Fatalf("unexpected fatal error: %v", err)
	}
	if !block.IsError {
		t.Fatalf("expected is_error=true for ambiguous edit")
	}
	if !strings.Contains(block.ResultContent, "appears 2 times") {
		t.Fatalf("expected message to mention 'appears 2 times', got: %s", block.ResultContent)
	}

	after, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if string(after) != "foo bar foo" {
		t.Fatalf("expected file unchanged, got: %s", after)
	}
}

// adaptEditFile wraps EditFileHandler.Handle (an mcp.ToolHandler func) via
// the dispatcher's mcp adapter, mirroring how real wiring registers it.
func adaptEditFile(h *mcptools.EditFileHandler) ToolHandler {
	return AdaptMCPTool(mcptools.NewEditFileTool(), true, h.Handle)
}

// §8 property 5: auto-approve membership is authoritative, and the
// destructive set requires confirmation absent auto-approval.
func TestConfirmationPolicyProperty(t *testing.T) {
	policy := NewPolicy(false, []string{"bash"}, nil)

	required, _, _ := policy.RequiresConfirmation("bash", true, json.RawMessage(`{}`))
	if required {
		t.Fatalf("expected bash to be auto-approved and require no confirmation")
	}

	required, _, _ = policy.RequiresConfirmation("write_file", false, json.RawMessage(`{}`))
	if !required {
		t.Fatalf("expected write_file (in destructive set) to require confirmation absent auto-approval")
	}

	required, _, _ = policy.RequiresConfirmation("read_file", false, json.RawMessage(`{}`))
	if required {
		t.Fatalf("expected a non-destructive, non-mutating tool to not require confirmation")
	}
}

func TestConfirmationPolicyWildcardAutoApprove(t *testing.T) {
	policy := NewPolicy(false, []string{"*"}, nil)
	required, _, _ := policy.RequiresConfirmation("bash", true, json.RawMessage(`{}`))
	if required {
		t.Fatalf("expected wildcard auto-approve to suppress confirmation for any tool")
	}
}

func TestConfirmationPolicyDangerRegexEscalates(t *testing.T) {
	policy := NewPolicy(false, nil, []string{`rm\s+-rf`})
	required, dangerous, matched := policy.RequiresConfirmation("read_file", false, json.RawMessage(`{"command":"rm -rf /"}`))
	if !required || !dangerous || matched == "" {
		t.Fatalf("expected danger regex to escalate confirmation, got required=%v dangerous=%v matched=%q", required, dangerous, matched)
	}
}

func TestDenyYieldsSyntheticErrorResult(t *testing.T) {
	d, reg := newTestDispatcher()
	d.Policy = NewPolicy(false, nil, nil)
	reg.Register("write_file", &fakeHandler{
		def:      agentcore.ToolDefinition{Name: "write_file"},
		mutating: true,
		execute: func(ctx context.Context, input json.RawMessage) (ToolOutput, *agentcore.ToolError) {
			t.Fatalf("execute should not be called when denied")
			return ToolOutput{}, nil
		},
	})

	confirmCalled := false
	confirm := func(ctx context.Context, c ToolConfirmation) (ConfirmationDecision, error) {
		confirmCalled = true
		return Deny, nil
	}

	block, err := d.Dispatch(context.Background(), "call-2", "write_file", json.RawMessage(`{}`), confirm, nil)
	if err != nil {
		t.Fatalf("unexpected fatal error: %v", err)
	}
	if !confirmCalled {
		t.Fatalf("expected confirm callback to be invoked")
	}
	if !block.IsError || !strings.Contains(block.ResultContent, "denied") {
		t.Fatalf("expected synthetic denied error result, got: %+v", block)
	}
}

func TestAbortFailsWholeTurn(t *testing.T) {
	d, reg := newTestDispatcher()
	reg.Register("bash", &fakeHandler{
		def:      agentcore.ToolDefinition{Name: "bash"},
		mutating: true,
		execute: func(ctx context.Context, input json.RawMessage) (ToolOutput, *agentcore.ToolError) {
			t.Fatalf("execute should not be called on abort")
			return ToolOutput{}, nil
		},
	})

	confirm := func(ctx context.Context, c ToolConfirmation) (ConfirmationDecision, error) {
		return Abort, nil
	}

	_, err := d.Dispatch(context.Background(), "call-3", "bash", json.RawMessage(`{}`), confirm, nil)
	if err == nil {
		t.Fatalf("expected abort to return a fatal error")
	}
}

func TestInputDefaultingFillsOnlyAbsentKeys(t *testing.T) {
	defaults := map[string]json.RawMessage{
		"timeout": json.RawMessage(`30`),
		"file":    json.RawMessage(`"default.txt"`),
	}
	input := json.RawMessage(`{"file":"explicit.txt"}`)
	merged := mergeDefaults(input, defaults)

	var obj map[string]json.RawMessage
	if err := json.Unmarshal(merged, &obj); err != nil {
		t.Fatal(err)
	}
	if string(obj["file"]) != `"explicit.txt"` {
		t.Fatalf("expected explicit value preserved, got %s", obj["file"])
	}
	if string(obj["timeout"]) != `30` {
		t.Fatalf("expected default filled for absent key, got %s", obj["timeout"])
	}
}

func TestNotFoundYieldsErrorResultNotFatal(t *testing.T) {
	d, _ := newTestDispatcher()
	block, err := d.Dispatch(context.Background(), "call-4", "nonexistent_tool", json.RawMessage(`{}`), nil, nil)
	if err != nil {
		t.Fatalf("unexpected fatal error for unknown tool: %v", err)
	}
	if !block.IsError {
		t.Fatalf("expected is_error=true for unknown tool")
	}
}
