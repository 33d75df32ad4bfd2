package orchestrator

import (
	"encoding/json"

	"codi/internal/provider"
)

// toolCallAccumulator tracks tool calls as they stream in, keyed by the
// provider's ToolCallIndex. Ported from internal/llm/loop.go's identically
// named type.
type toolCallAccumulator struct {
	byIndex     map[int]int
	ids         []string
	names       []string
	argBuilders []string
}

func newToolCallAccumulator() *toolCallAccumulator {
	return &toolCallAccumulator{byIndex: make(map[int]int)}
}

func (a *toolCallAccumulator) begin(evt provider.StreamEvent) {
	pos := len(a.ids)
	a.byIndex[evt.ToolCallIndex] = pos
	a.ids = append(a.ids, evt.ToolCallID)
	a.names = append(a.names, evt.ToolCallName)
	a.argBuilders = append(a.argBuilders, "")
}

func (a *toolCallAccumulator) delta(evt provider.StreamEvent) {
	if pos, ok := a.byIndex[evt.ToolCallIndex]; ok {
		a.argBuilders[pos] += evt.ToolCallArgs
	}
}

// finalizedCall is one completed tool call assembled from Begin/Delta events.
type finalizedCall struct {
	ID        string
	Name      string
	Arguments json.RawMessage
}

func (a *toolCallAccumulator) finalize() []finalizedCall {
	out := make([]finalizedCall, len(a.ids))
	for i := range a.ids {
		out[i] = finalizedCall{ID: a.ids[i], Name: a.names[i], Arguments: json.RawMessage(a.argBuilders[i])}
	}
	return out
}
