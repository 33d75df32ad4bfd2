package dispatcher

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"codi/internal/agentcore"
	"codi/internal/ctxwindow"
)

// ErrConfirmationAborted is returned by Dispatch when a pending confirmation
// was answered with Abort, which fails the whole turn (distinct from Deny,
// which only fails the individual tool call).
var ErrConfirmationAborted = errors.New("tool confirmation aborted the turn")

// ToolTimeout configures the default and ceiling timeout for one tool.
type ToolTimeout struct {
	Default time.Duration
	Max     time.Duration
}

// Dispatcher wires a Registry to the confirmation policy, per-tool timeout
// clamping, input defaulting, output truncation, and working-set tracking.
type Dispatcher struct {
	Registry *Registry
	Policy   *Policy

	// Timeouts maps a tool name to its default/max timeout. A tool absent
	// from this map runs with no dispatcher-imposed timeout (bounded only
	// by the caller's context).
	Timeouts map[string]ToolTimeout

	// InputDefaults maps a tool name to a set of default values merged into
	// the call's input object — defaults fill only absent keys, never
	// overwrite model-supplied values.
	InputDefaults map[string]map[string]json.RawMessage

	// Working, if set, is updated with any file path the call's input
	// names under a "file" or "path" key — the post-execute hook that
	// biases compaction toward recently-touched files.
	Working *ctxwindow.WorkingSet

	MaxOutputBytes int
	MaxOutputLines int
}

// NewDispatcher creates a Dispatcher with bash's spec-mandated timeout
// policy pre-registered.
func NewDispatcher(reg *Registry, policy *Policy) *Dispatcher {
	return &Dispatcher{
		Registry: reg,
		Policy:   policy,
		Timeouts: map[string]ToolTimeout{
			"bash": {Default: 120 * time.Second, Max: 600 * time.Second},
		},
		InputDefaults:  make(map[string]map[string]json.RawMessage),
		MaxOutputBytes: defaultMaxOutputBytes,
		MaxOutputLines: defaultMaxOutputLines,
	}
}

// Dispatch executes one tool call end to end: input defaulting, confirmation
// policy, timeout clamping, execution, output truncation, and working-set
// tracking. It returns a ToolResult content block in all cases except when
// the confirmation was Abort, which fails the whole turn.
func (d *Dispatcher) Dispatch(ctx context.Context, toolUseID, name string, input json.RawMessage, confirm ConfirmFunc, onOutput OutputFunc) (agentcore.ContentBlock, error) {
	handler, ok := d.Registry.Lookup(name)
	if !ok {
		toolErr := agentcore.NewToolErrorKind(agentcore.ToolErrNotFound, "unknown tool: %s", name)
		return errorResult(toolUseID, toolErr), nil
	}

	mergedInput := mergeDefaults(input, d.InputDefaults[name])

	required, dangerous, matched := d.Policy.RequiresConfirmation(name, handler.IsMutating(), mergedInput)
	if required {
		decision := Deny
		var err error
		if confirm != nil {
			decision, err = confirm(ctx, ToolConfirmation{
				ToolUseID:    toolUseID,
				ToolName:     name,
				Input:        mergedInput,
				Dangerous:    dangerous,
				MatchedRegex: matched,
			})
			if err != nil {
				return agentcore.ContentBlock{}, err
			}
		}
		switch decision {
		case Abort:
			return agentcore.ContentBlock{}, fmt.Errorf("%w: tool %s", ErrConfirmationAborted, name)
		case Deny:
			toolErr := agentcore.NewToolErrorKind(agentcore.ToolErrPermissionDenied, "user denied")
			return errorResult(toolUseID, toolErr), nil
		}
	}

	callCtx := ctx
	var cancel context.CancelFunc
	if tmo, ok := d.Timeouts[name]; ok {
		timeout := tmo.Default
		if requested, ok := extractTimeoutSeconds(mergedInput); ok && requested > 0 {
			timeout = time.Duration(requested) * time.Second
		}
		if tmo.Max > 0 && timeout > tmo.Max {
			timeout = tmo.Max
		}
		callCtx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	if oh, ok := handler.(OutputHandler); ok && onOutput != nil {
		oh.SetOutputSink(func(line string) { onOutput(toolUseID, line) })
	}

	output, toolErr := handler.Execute(callCtx, mergedInput)
	if toolErr != nil {
		if callCtx.Err() == context.DeadlineExceeded {
			toolErr = agentcore.NewToolErrorKind(agentcore.ToolErrTimeout, "tool %s exceeded its timeout", name)
		}
		return errorResult(toolUseID, toolErr), nil
	}

	if d.Working != nil {
		if path, ok := extractPathField(mergedInput); ok {
			d.Working.AddFile(path)
		}
	}

	text := truncateOutput(output.Content, d.MaxOutputBytes, d.MaxOutputLines)
	return agentcore.ToolResultBlock(toolUseID, text, false), nil
}

func errorResult(toolUseID string, toolErr *agentcore.ToolError) agentcore.ContentBlock {
	return agentcore.ToolResultBlock(toolUseID, toolErr.Error(), true)
}

// mergeDefaults fills any key present in defaults but absent from input,
// never overwriting a model-supplied value.
func mergeDefaults(input json.RawMessage, defaults map[string]json.RawMessage) json.RawMessage {
	if len(defaults) == 0 {
		return input
	}

	var obj map[string]json.RawMessage
	if len(input) > 0 {
		if err := json.Unmarshal(input, &obj); err != nil {
			return input // not an object; leave untouched
		}
	}
	if obj == nil {
		obj = make(map[string]json.RawMessage)
	}
	for k, v := range defaults {
		if _, present := obj[k]; !present {
			obj[k] = v
		}
	}
	merged, err := json.Marshal(obj)
	if err != nil {
		return input
	}
	return merged
}

func extractTimeoutSeconds(input json.RawMessage) (int, bool) {
	var probe struct {
		Timeout int `json:"timeout"`
	}
	if err := json.Unmarshal(input, &probe); err != nil {
		return 0, false
	}
	return probe.Timeout, probe.Timeout > 0
}

func extractPathField(input json.RawMessage) (string, bool) {
	var probe struct {
		File string `json:"file"`
		Path string `json:"path"`
	}
	if err := json.Unmarshal(input, &probe); err != nil {
		return "", false
	}
	if probe.File != "" {
		return probe.File, true
	}
	if probe.Path != "" {
		return probe.Path, true
	}
	return "", false
}
