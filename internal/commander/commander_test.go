package commander

import (
	"context"
	"encoding/json"
	"io"
	"testing"
	"time"

	"codi/internal/agentcore"
	"codi/internal/ctxwindow"
	"codi/internal/dispatcher"
	"codi/internal/orchestrator"
	"codi/internal/provider"
)

// multiCloser closes every underlying closer, used to tear down both ends
// of the in-memory pipe pair standing in for a forked worker's stdio.
type multiCloser []io.Closer

func (m multiCloser) Close() error {
	for _, c := range m {
		_ = c.Close()
	}
	return nil
}

// newPipeTransport wires a commander-side transport to a worker-side
// stdin/stdout pair over in-memory pipes, so tests can exercise the full
// handshake/StartTask/permission/Complete protocol without forking a real
// subprocess or preparing a real VCS worktree.
func newPipeTransport() (commanderSide *transport, workerStdin io.Reader, workerStdout io.Writer) {
	cToW_r, cToW_w := io.Pipe()
	wToC_r, wToC_w := io.Pipe()

	commanderSide = &transport{
		writer: NewFrameWriter(cToW_w),
		reader: NewFrameReader(wToC_r),
		proc:   multiCloser{cToW_w, wToC_w},
	}
	return commanderSide, cToW_r, wToC_w
}

// scriptedProvider replays one StreamEvent batch per ChatStream call, for
// driving the worker's inner orchestrator deterministically.
type scriptedProvider struct {
	batches [][]provider.StreamEvent
	calls   int
}

func (p *scriptedProvider) Name() string { return "scripted" }

func (p *scriptedProvider) ChatStream(ctx context.Context, messages []provider.Message, tools []provider.Tool) (<-chan provider.StreamEvent, error) {
	batch := p.batches[p.calls]
	p.calls++
	ch := make(chan provider.StreamEvent, len(batch))
	for _, evt := range batch {
		ch <- evt
	}
	close(ch)
	return ch, nil
}

func (p *scriptedProvider) ListModels(ctx context.Context) ([]provider.Model, error) { return nil, nil }
func (p *scriptedProvider) Close() error                                             { return nil }

type stubWriteFileHandler struct{}

func (stubWriteFileHandler) Definition() agentcore.ToolDefinition {
	return agentcore.ToolDefinition{Name: "write_file"}
}
func (stubWriteFileHandler) IsMutating() bool { return true }
func (stubWriteFileHandler) Execute(ctx context.Context, input json.RawMessage) (dispatcher.ToolOutput, *agentcore.ToolError) {
	return dispatcher.TextOutput("wrote README.md", true), nil
}

// TestDelegateTaskS6 drives scenario S6: the worker issues one
// PermissionRequest for write_file, the commander auto-approves it per the
// inherited policy (no prompt surfaced), and the worker completes.
func TestDelegateTaskS6(t *testing.T) {
	commanderSide, workerStdin, workerStdout := newPipeTransport()

	argsJSON, _ := json.Marshal(map[string]string{"path": "README.md", "content": "hello"})
	prov := &scriptedProvider{batches: [][]provider.StreamEvent{
		{
			{Type: provider.EventToolCallBegin, ToolCallIndex: 0, ToolCallID: "t1", ToolCallName: "write_file"},
			{Type: provider.EventToolCallDelta, ToolCallIndex: 0, ToolCallArgs: string(argsJSON)},
		},
		{
			{Type: provider.EventContentDelta, Content: "Wrote the README."},
		},
	}}

	reg := dispatcher.NewRegistry()
	reg.Register("write_file", stubWriteFileHandler{})
	policy := dispatcher.NewPolicy(false, nil, nil) // worker's own dispatcher requires confirmation; the commander arbitrates it
	disp := dispatcher.NewDispatcher(reg, policy)
	cw := ctxwindow.NewContextWindow(ctxwindow.DefaultContextConfig())
	disp.Working = cw.Working

	orch := orchestrator.NewOrchestrator(prov, disp, cw, cw.Working, agentcore.DefaultAgentConfig(), "", orchestrator.Callbacks{})

	workerDone := make(chan error, 1)
	go func() {
		workerDone <- ServeWorker(context.Background(), workerStdin, workerStdout, orch)
	}()

	cmd := &Commander{workers: make(map[string]*handle)}
	var transitions []agentcore.WorkerStatusKind
	var sawPromptedPermission bool
	cmd.Callbacks.OnStatusUpdate = func(workerID string, status agentcore.WorkerStatus) {
		transitions = append(transitions, status.Kind)
	}
	cmd.Callbacks.OnPermissionRequest = func(workerID string, req PermissionRequestMsg) dispatcher.ConfirmationDecision {
		sawPromptedPermission = true
		return dispatcher.Deny
	}

	h := &handle{
		state: agentcore.WorkerState{
			ID:            "feat-x",
			Branch:        "feat/x",
			WorkspacePath: t.TempDir(),
			Status:        agentcore.WorkerStatus{Kind: agentcore.WorkerStarting},
		},
		t:    commanderSide,
		done: make(chan struct{}),
	}
	cmd.workers["feat-x"] = h

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	summary, err := cmd.run(ctx, h, WorkerConfigMsg{
		WorkerID: "feat-x", Branch: "feat/x", Task: "write README",
	}, false, []string{"write_file"})

	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if summary != "Wrote the README." {
		t.Fatalf("expected summary %q, got %q", "Wrote the README.", summary)
	}
	if sawPromptedPermission {
		t.Fatalf("expected auto-approve to answer without surfacing a prompt to the callback")
	}

	want := []agentcore.WorkerStatusKind{
		agentcore.WorkerIdle,
		agentcore.WorkerThinking,
		agentcore.WorkerToolCall,
		agentcore.WorkerWaitingPermission,
		agentcore.WorkerIdle,
		agentcore.WorkerComplete,
	}
	if len(transitions) != len(want) {
		t.Fatalf("expected transitions %v, got %v", want, transitions)
	}
	for i := range want {
		if transitions[i] != want[i] {
			t.Fatalf("expected transitions %v, got %v", want, transitions)
		}
	}

	if err := <-workerDone; err != nil {
		t.Fatalf("worker returned error: %v", err)
	}
}

// TestArbitrateDeniesWithoutAutoApprove confirms a tool absent from both
// auto_approve_all and the inherited name list falls through to the
// registered permission callback rather than being silently approved.
func TestArbitrateDeniesWithoutAutoApprove(t *testing.T) {
	commanderSide, workerStdin, workerStdout := newPipeTransport()

	argsJSON, _ := json.Marshal(map[string]string{"path": "README.md"})
	prov := &scriptedProvider{batches: [][]provider.StreamEvent{
		{
			{Type: provider.EventToolCallBegin, ToolCallIndex: 0, ToolCallID: "t1", ToolCallName: "write_file"},
			{Type: provider.EventToolCallDelta, ToolCallIndex: 0, ToolCallArgs: string(argsJSON)},
		},
		{
			{Type: provider.EventContentDelta, Content: "done anyway"},
		},
	}}

	reg := dispatcher.NewRegistry()
	reg.Register("write_file", stubWriteFileHandler{})
	policy := dispatcher.NewPolicy(false, nil, nil)
	disp := dispatcher.NewDispatcher(reg, policy)
	cw := ctxwindow.NewContextWindow(ctxwindow.DefaultContextConfig())
	disp.Working = cw.Working

	orch := orchestrator.NewOrchestrator(prov, disp, cw, cw.Working, agentcore.DefaultAgentConfig(), "", orchestrator.Callbacks{})

	go func() { _ = ServeWorker(context.Background(), workerStdin, workerStdout, orch) }()

	cmd := &Commander{workers: make(map[string]*handle)}
	var promptedFor string
	cmd.Callbacks.OnPermissionRequest = func(workerID string, req PermissionRequestMsg) dispatcher.ConfirmationDecision {
		promptedFor = req.Tool
		return dispatcher.Deny
	}

	h := &handle{
		state: agentcore.WorkerState{ID: "feat-y", Branch: "feat/y", WorkspacePath: t.TempDir(), Status: agentcore.WorkerStatus{Kind: agentcore.WorkerStarting}},
		t:    commanderSide,
		done: make(chan struct{}),
	}
	cmd.workers["feat-y"] = h

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	// No auto-approve names: the callback must be consulted.
	_, _ = cmd.run(ctx, h, WorkerConfigMsg{WorkerID: "feat-y", Branch: "feat/y", Task: "write README"}, false, nil)

	if promptedFor != "write_file" {
		t.Fatalf("expected the permission callback to be consulted for write_file, got %q", promptedFor)
	}
}
