package mcptools

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"codi/internal/mcp"
	"codi/internal/ragindex"
)

// RagSearchArgs are the arguments to the rag_search tool.
type RagSearchArgs struct {
	Query      string `json:"query"`
	MaxResults int    `json:"max_results,omitempty"`
}

// NewRagSearchTool creates the rag_search tool definition.
func NewRagSearchTool() mcp.Tool {
	return mcp.Tool{
		Name:        "rag_search",
		Description: "Search the project for chunks of file content relevant to a natural-language query, ranked by lexical relevance. Broader than grep: finds conceptually related code even without an exact term match, at the cost of precision. Call manage_rag with action=build first if the index has never been built.",
		InputSchema: json.RawMessage(`{
			"type": "object",
			"properties": {
				"query":       {"type": "string", "description": "Natural-language or keyword query"},
				"max_results": {"type": "integer", "description": "Maximum number of chunks to return. Default: 10"}
			},
			"required": ["query"]
		}`),
	}
}

// MakeRagSearchHandler creates a handler for the rag_search tool, backed by
// the shared project lexical index.
func MakeRagSearchHandler(idx *ragindex.Index) mcp.ToolHandler {
	return func(_ context.Context, arguments json.RawMessage) (*mcp.ToolResult, error) {
		var args RagSearchArgs
		if err := json.Unmarshal(arguments, &args); err != nil {
			return toolError("Invalid arguments: %v", err), nil
		}
		if args.Query == "" {
			return toolError("query cannot be empty"), nil
		}
		if !idx.Built() {
			return toolError("rag index not built yet; call manage_rag with action=build first"), nil
		}
		if args.MaxResults <= 0 {
			args.MaxResults = 10
		}

		results := idx.Search(args.Query, args.MaxResults)
		if len(results) == 0 {
			return toolText(fmt.Sprintf("No chunks relevant to %q found", args.Query)), nil
		}

		var out strings.Builder
		fmt.Fprintf(&out, "Top %d relevant chunk(s) for %q:\n\n", len(results), args.Query)
		for _, r := range results {
			fmt.Fprintf(&out, "--- %s:%d-%d (score %.2f) ---\n%s\n\n", r.Path, r.StartLine, r.EndLine, r.Score, r.Text)
		}
		return toolText(out.String()), nil
	}
}

// ManageRagArgs are the arguments to the manage_rag tool.
type ManageRagArgs struct {
	Action string `json:"action"` // "build" or "status"
}

// NewManageRagTool creates the manage_rag tool definition: the index-
// management counterpart to rag_search, mirroring manage_symbols's shape.
func NewManageRagTool() mcp.Tool {
	return mcp.Tool{
		Name:        "manage_rag",
		Description: `Manage the project's lexical retrieval index used by rag_search. action="build" walks the project and rebuilds the index from scratch; action="status" reports how many files and chunks are currently indexed without rebuilding.`,
		InputSchema: json.RawMessage(`{
			"type": "object",
			"properties": {
				"action": {"type": "string", "enum": ["build", "status"], "description": "build: rebuild the index from disk. status: report current index size."}
			},
			"required": ["action"]
		}`),
	}
}

// MakeManageRagHandler creates a handler for the manage_rag tool.
func MakeManageRagHandler(idx *ragindex.Index) mcp.ToolHandler {
	return func(_ context.Context, arguments json.RawMessage) (*mcp.ToolResult, error) {
		var args ManageRagArgs
		if err := json.Unmarshal(arguments, &args); err != nil {
			return toolError("Invalid arguments: %v", err), nil
		}

		switch args.Action {
		case "build":
			if err := idx.Build(); err != nil {
				return toolError("Failed to build rag index: %v", err), nil
			}
			return toolText(fmt.Sprintf("Indexed %d file(s), %d chunk(s)", idx.NumFiles(), idx.NumChunks())), nil
		case "status":
			if !idx.Built() {
				return toolText("rag index not built yet"), nil
			}
			return toolText(fmt.Sprintf("%d file(s), %d chunk(s) currently indexed", idx.NumFiles(), idx.NumChunks())), nil
		default:
			return toolError(`action must be "build" or "status"`), nil
		}
	}
}
