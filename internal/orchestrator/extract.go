package orchestrator

import (
	"encoding/json"
	"fmt"
	"regexp"

	"codi/internal/agentcore"
)

// toolCallLine matches the only guaranteed textual tool-call format (§6, §9
// Open Question): a single line "TOOL_CALL: <name> <json-object>". The
// object must span to end of line; nested braces inside strings are fine
// since json.Valid does the real parsing, this regex only locates the
// candidate span.
var toolCallLine = regexp.MustCompile(`(?m)^TOOL_CALL:\s+(\S+)\s+(\{.*\})\s*$`)

// extractFallbackToolUses scans text for the inline tool-call grammar and
// promotes each recognized match to a ToolUse content block. Unrecognized
// tool names are ignored, not errored (§8 property 11); malformed JSON
// payloads are likewise skipped rather than surfaced as a dispatch error,
// since a text match that doesn't even parse was never a real tool call.
func (o *Orchestrator) extractFallbackToolUses(text string) []agentcore.ContentBlock {
	matches := toolCallLine.FindAllStringSubmatch(text, -1)
	if len(matches) == 0 {
		return nil
	}

	var out []agentcore.ContentBlock
	for i, m := range matches {
		name, rawInput := m[1], m[2]
		if !json.Valid([]byte(rawInput)) {
			continue
		}
		if o.Dispatcher == nil {
			continue
		}
		if _, ok := o.Dispatcher.Registry.Lookup(name); !ok {
			continue
		}
		out = append(out, agentcore.ToolUse(fmt.Sprintf("fallback-%d", i), name, json.RawMessage(rawInput)))
	}
	return out
}
