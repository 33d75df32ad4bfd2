package commander

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/exec"
	"sync"

	"codi/internal/agentcore"
)

// transport is one worker's framed stdio channel, from the commander's side.
type transport struct {
	writer *FrameWriter
	reader *FrameReader
	proc   io.Closer
}

func (t *transport) Close() error {
	if t.proc != nil {
		return t.proc.Close()
	}
	return nil
}

// Launcher starts a worker process (or, in tests, an in-process stand-in)
// and returns the transport the commander speaks to it over. The returned
// transport's stdio must already be connected; Launcher does not perform
// the handshake itself.
type Launcher func(ctx context.Context, workspacePath string) (*transport, error)

// ProcessLauncher forks a fresh invocation of the current executable in
// worker-runtime mode, connecting its stdin/stdout to the returned
// transport. It is the default Launcher outside tests.
//
// workerArgs are appended after the executable path; cmd/codi/main.go
// recognizes them and dispatches into runWorkerMode instead of the
// normal interactive entry point.
func ProcessLauncher(workerArgs ...string) Launcher {
	return func(ctx context.Context, workspacePath string) (*transport, error) {
		exe, err := os.Executable()
		if err != nil {
			return nil, fmt.Errorf("commander: resolving self executable: %w", err)
		}
		cmd := exec.CommandContext(ctx, exe, workerArgs...)
		cmd.Dir = workspacePath
		cmd.Stderr = os.Stderr

		stdin, err := cmd.StdinPipe()
		if err != nil {
			return nil, err
		}
		stdout, err := cmd.StdoutPipe()
		if err != nil {
			return nil, err
		}
		if err := cmd.Start(); err != nil {
			return nil, fmt.Errorf("commander: starting worker process: %w", err)
		}
		return &transport{
			writer: NewFrameWriter(stdin),
			reader: NewFrameReader(stdout),
			proc:   processCloser{cmd: cmd, stdin: stdin},
		}, nil
	}
}

// processCloser closes the worker's stdin (signalling EOF) and waits for
// the process to exit, so Close never leaks a zombie.
type processCloser struct {
	cmd   *exec.Cmd
	stdin io.Closer
}

func (c processCloser) Close() error {
	_ = c.stdin.Close()
	return c.cmd.Wait()
}

// handle is the commander's live bookkeeping for one worker: its transport,
// current state, and the signal closed once it reaches a terminal status.
type handle struct {
	mu    sync.Mutex
	state agentcore.WorkerState
	t     *transport

	done chan struct{} // closed once the worker reaches a terminal status
}

func (h *handle) setStatus(s agentcore.WorkerStatus) {
	h.mu.Lock()
	h.state.Status = s
	terminal := s.Kind.IsTerminal()
	h.mu.Unlock()
	if terminal {
		select {
		case <-h.done:
		default:
			close(h.done)
		}
	}
}

func (h *handle) snapshot() agentcore.WorkerState {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.state
}
