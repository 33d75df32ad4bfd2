package mcptools

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"codi/internal/mcp"
	"codi/internal/treesitter"
)

// FindSymbolArgs are the arguments to the find_symbol tool.
type FindSymbolArgs struct {
	Name string `json:"name"`
}

// NewFindSymbolTool creates the find_symbol tool definition.
func NewFindSymbolTool() mcp.Tool {
	return mcp.Tool{
		Name:        "find_symbol",
		Description: "Find functions, methods, types, and top-level declarations by name (substring match) across the project's tree-sitter symbol index. Returns each match's file, line range, and signature.",
		InputSchema: json.RawMessage(`{
			"type": "object",
			"properties": {
				"name": {"type": "string", "description": "Symbol name or substring to search for"}
			},
			"required": ["name"]
		}`),
	}
}

// MakeFindSymbolHandler creates a handler for the find_symbol tool, backed
// by the shared project-wide tree-sitter index. An index that has not been
// built yet yields no matches; a nil idx is reported as an unbuilt index
// rather than panicking.
func MakeFindSymbolHandler(idx *treesitter.Index) mcp.ToolHandler {
	return func(_ context.Context, arguments json.RawMessage) (*mcp.ToolResult, error) {
		var args FindSymbolArgs
		if err := json.Unmarshal(arguments, &args); err != nil {
			return toolError("Invalid arguments: %v", err), nil
		}
		if args.Name == "" {
			return toolError("name cannot be empty"), nil
		}
		if idx == nil {
			return toolError("symbol index not built yet; call manage_symbols with action=build first"), nil
		}

		needle := strings.ToLower(args.Name)
		snap := idx.Snapshot()

		var out strings.Builder
		matches := 0
		for _, relPath := range sortedKeys(snap) {
			for _, sym := range matchSymbols(snap[relPath], needle) {
				matches++
				out.WriteString(fmt.Sprintf("%s:%d-%d %s %s\n", relPath, sym.StartLine, sym.EndLine, sym.Kind.String(), sym.Signature))
			}
		}
		if matches == 0 {
			return toolText(fmt.Sprintf("No symbols matching %q found", args.Name)), nil
		}
		return toolText(fmt.Sprintf("Found %d symbol(s) matching %q:\n\n%s", matches, args.Name, out.String())), nil
	}
}

// matchSymbols recurses into a symbol's Children so struct fields and
// interface methods are searchable too, not only top-level declarations.
func matchSymbols(syms []treesitter.Symbol, needle string) []treesitter.Symbol {
	var out []treesitter.Symbol
	for _, s := range syms {
		if strings.Contains(strings.ToLower(s.Name), needle) {
			out = append(out, s)
		}
		out = append(out, matchSymbols(s.Children, needle)...)
	}
	return out
}

func sortedKeys(m map[string][]treesitter.Symbol) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// ManageSymbolsArgs are the arguments to the manage_symbols tool.
type ManageSymbolsArgs struct {
	Action string `json:"action"` // "build" (full rebuild) or "status"
}

// NewManageSymbolsTool creates the manage_symbols tool definition: the
// index-management counterpart to find_symbol.
func NewManageSymbolsTool() mcp.Tool {
	return mcp.Tool{
		Name:        "manage_symbols",
		Description: `Manage the project-wide tree-sitter symbol index. action="build" walks the project and (re)builds the index from scratch; action="status" reports how many files and symbols are currently indexed without rebuilding.`,
		InputSchema: json.RawMessage(`{
			"type": "object",
			"properties": {
				"action": {"type": "string", "enum": ["build", "status"], "description": "build: rebuild the index from disk. status: report current index size."}
			},
			"required": ["action"]
		}`),
	}
}

// MakeManageSymbolsHandler creates a handler for the manage_symbols tool.
// It shares the *treesitter.Index with MakeFindSymbolHandler, so a "build"
// action is visible to subsequent find_symbol calls through the same idx
// pointer. idx must be non-nil.
func MakeManageSymbolsHandler(idx *treesitter.Index) mcp.ToolHandler {
	return func(_ context.Context, arguments json.RawMessage) (*mcp.ToolResult, error) {
		var args ManageSymbolsArgs
		if err := json.Unmarshal(arguments, &args); err != nil {
			return toolError("Invalid arguments: %v", err), nil
		}

		switch args.Action {
		case "build":
			if err := idx.Build(); err != nil {
				return toolError("Failed to build symbol index: %v", err), nil
			}
			files := idx.Files()
			total := 0
			for _, f := range files {
				total += countSymbols(idx.Symbols(f))
			}
			return toolText(fmt.Sprintf("Indexed %d file(s), %d symbol(s)", len(files), total)), nil
		case "status":
			files := idx.Files()
			total := 0
			for _, f := range files {
				total += countSymbols(idx.Symbols(f))
			}
			return toolText(fmt.Sprintf("%d file(s), %d symbol(s) currently indexed", len(files), total)), nil
		default:
			return toolError(`action must be "build" or "status"`), nil
		}
	}
}

func countSymbols(syms []treesitter.Symbol) int {
	n := len(syms)
	for _, s := range syms {
		n += countSymbols(s.Children)
	}
	return n
}
