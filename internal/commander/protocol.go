// Package commander implements the Worker Commander: it spawns sub-agents
// in isolated VCS worktrees, speaks a length-prefixed JSON protocol to each
// over the child process's stdio, and arbitrates their permission requests
// against the same auto-approve policy the main agent runs under.
package commander

import (
	"encoding/binary"
	"encoding/json"
	"fmt"
	"io"
	"sync"

	"codi/internal/dispatcher"
)

// Envelope is the wire frame shared by every commander<->worker message: a
// variant tag plus its payload, matching the protocol's
// { "type": <variant-tag>, ... } shape.
type Envelope struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data,omitempty"`
}

// protocolVersion is exchanged in the leading hello handshake on both sides.
const protocolVersion = "1"

// maxFrameBytes bounds a single frame against a corrupt length prefix; no
// real worker message approaches this size.
const maxFrameBytes = 16 << 20

// Envelope type tags. One per message vocabulary entry.
const (
	typeHello              = "hello"
	typeWorkerConfig       = "worker_config"
	typeStartTask          = "start_task"
	typeCancel             = "cancel"
	typePermissionResponse = "permission_response"
	typeShutdown           = "shutdown"
	typeReady              = "ready"
	typeStatusUpdate       = "status_update"
	typePermissionRequest  = "permission_request"
	typeOutput             = "output"
	typeComplete           = "complete"
	typeFailed             = "failed"
)

// FrameWriter writes length-prefixed (4-byte big-endian) JSON frames onto an
// underlying writer, serializing writes so commander and worker goroutines
// never interleave partial frames.
type FrameWriter struct {
	mu sync.Mutex
	w  io.Writer
}

func NewFrameWriter(w io.Writer) *FrameWriter { return &FrameWriter{w: w} }

func (fw *FrameWriter) writeEnvelope(env Envelope) error {
	body, err := json.Marshal(env)
	if err != nil {
		return err
	}
	fw.mu.Lock()
	defer fw.mu.Unlock()
	var hdr [4]byte
	binary.BigEndian.PutUint32(hdr[:], uint32(len(body)))
	if _, err := fw.w.Write(hdr[:]); err != nil {
		return err
	}
	_, err = fw.w.Write(body)
	return err
}

func (fw *FrameWriter) writeMessage(typ string, payload any) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	return fw.writeEnvelope(Envelope{Type: typ, Data: data})
}

// FrameReader reads length-prefixed JSON frames. A malformed frame (bad
// length prefix, truncated body, invalid JSON) is reported as an error; the
// caller terminates the worker with Failed per the protocol's framing rule.
type FrameReader struct {
	r io.Reader
}

func NewFrameReader(r io.Reader) *FrameReader { return &FrameReader{r: r} }

func (fr *FrameReader) readEnvelope() (Envelope, error) {
	var hdr [4]byte
	if _, err := io.ReadFull(fr.r, hdr[:]); err != nil {
		return Envelope{}, err
	}
	n := binary.BigEndian.Uint32(hdr[:])
	if n > maxFrameBytes {
		return Envelope{}, fmt.Errorf("commander: frame of %d bytes exceeds %d byte limit", n, maxFrameBytes)
	}
	body := make([]byte, n)
	if _, err := io.ReadFull(fr.r, body); err != nil {
		return Envelope{}, err
	}
	var env Envelope
	if err := json.Unmarshal(body, &env); err != nil {
		return Envelope{}, fmt.Errorf("commander: malformed frame: %w", err)
	}
	return env, nil
}

// resultFromDecision renders a dispatcher.ConfirmationDecision as the wire
// string PermissionResponseMsg carries.
func resultFromDecision(d dispatcher.ConfirmationDecision) string {
	switch d {
	case dispatcher.Approve:
		return "approve"
	case dispatcher.Abort:
		return "abort"
	default:
		return "deny"
	}
}
