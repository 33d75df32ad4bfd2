package dispatcher

import (
	"context"
	"encoding/json"

	"codi/internal/agentcore"
	"codi/internal/mcp"
)

// mcpFuncHandler adapts one of the teacher's existing mcp.ToolHandler
// functions (func(ctx, arguments) (*mcp.ToolResult, error)) into the
// dispatcher's ToolHandler contract, so built-in tools implemented against
// the MCP wire types keep working unchanged under the new confirmation/
// timeout/truncation layer.
type mcpFuncHandler struct {
	def      agentcore.ToolDefinition
	mutating bool
	fn       mcp.ToolHandler
	setSink  func(func(string))
}

// AdaptMCPTool wraps an existing mcp.Tool + mcp.ToolHandler pair as a
// dispatcher ToolHandler. mutating should reflect whether the tool mutates
// externally observable state (filesystem, process, network).
func AdaptMCPTool(tool mcp.Tool, mutating bool, handler mcp.ToolHandler) ToolHandler {
	return &mcpFuncHandler{
		def: agentcore.ToolDefinition{
			Name:        tool.Name,
			Description: tool.Description,
			InputSchema: tool.InputSchema,
		},
		mutating: mutating,
		fn:       handler,
	}
}

// AdaptMCPToolWithSink is like AdaptMCPTool but also wires a streaming
// output sink setter (e.g. the Shell tool's OnOutput field), exposing the
// OutputHandler interface so the dispatcher can forward live output lines.
func AdaptMCPToolWithSink(tool mcp.Tool, mutating bool, handler mcp.ToolHandler, setSink func(func(string))) ToolHandler {
	h := &mcpFuncHandler{
		def: agentcore.ToolDefinition{
			Name:        tool.Name,
			Description: tool.Description,
			InputSchema: tool.InputSchema,
		},
		mutating: mutating,
		fn:       handler,
		setSink:  setSink,
	}
	return h
}

func (h *mcpFuncHandler) Definition() agentcore.ToolDefinition { return h.def }
func (h *mcpFuncHandler) IsMutating() bool                     { return h.mutating }

func (h *mcpFuncHandler) SetOutputSink(fn func(string)) {
	if h.setSink != nil {
		h.setSink(fn)
	}
}

func (h *mcpFuncHandler) Execute(ctx context.Context, input json.RawMessage) (ToolOutput, *agentcore.ToolError) {
	result, err := h.fn(ctx, input)
	if err != nil {
		return ToolOutput{}, agentcore.NewToolErrorKind(agentcore.ToolErrExecutionFailed, "%v", err)
	}
	text := joinContentBlocks(result.Content)
	if result.IsError {
		return ToolOutput{}, agentcore.NewToolErrorKind(agentcore.ToolErrExecutionFailed, "%s", text)
	}
	return TextOutput(text, true), nil
}

func joinContentBlocks(blocks []mcp.ContentBlock) string {
	if len(blocks) == 1 {
		return blocks[0].Text
	}
	var out string
	for i, b := range blocks {
		if i > 0 {
			out += "\n"
		}
		out += b.Text
	}
	return out
}

// proxyHandler delegates execution of a qualified MCP tool name
// ("mcp__<server>_<tool>") to the upstream proxy. Mutating is assumed true
// for any externally-delegated tool since its side effects are opaque to
// the dispatcher.
type proxyHandler struct {
	def   agentcore.ToolDefinition
	proxy *mcp.Proxy
}

// AdaptProxyTool wraps a proxy-known tool (local or upstream) as a
// dispatcher ToolHandler that calls through proxy.CallTool.
func AdaptProxyTool(tool mcp.Tool, proxy *mcp.Proxy) ToolHandler {
	return &proxyHandler{
		def: agentcore.ToolDefinition{
			Name:        tool.Name,
			Description: tool.Description,
			InputSchema: tool.InputSchema,
		},
		proxy: proxy,
	}
}

func (h *proxyHandler) Definition() agentcore.ToolDefinition { return h.def }
func (h *proxyHandler) IsMutating() bool                     { return true }

func (h *proxyHandler) Execute(ctx context.Context, input json.RawMessage) (ToolOutput, *agentcore.ToolError) {
	result, err := h.proxy.CallTool(ctx, h.def.Name, input)
	if err != nil {
		return ToolOutput{}, agentcore.NewToolErrorKind(agentcore.ToolErrExecutionFailed, "%v", err)
	}
	text := joinContentBlocks(result.Content)
	if result.IsError {
		return ToolOutput{}, agentcore.NewToolErrorKind(agentcore.ToolErrExecutionFailed, "%s", text)
	}
	return TextOutput(text, true), nil
}
