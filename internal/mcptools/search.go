package mcptools

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"codi/internal/filesearch"
	"codi/internal/mcp"
)

// SearchArgs are the shared arguments for the grep and glob tools: both are
// thin, differently-named views over the same recursive, gitignore-aware
// filesearch.Searcher, one pinned to content search and one to filename
// search.
type SearchArgs struct {
	Pattern       string `json:"pattern"`
	MaxResults    int    `json:"max_results,omitempty"`
	CaseSensitive bool   `json:"case_sensitive,omitempty"`
}

// NewGrepTool creates the grep tool definition: regex search over file
// contents.
func NewGrepTool() mcp.Tool {
	return mcp.Tool{
		Name:        "grep",
		Description: "Search file contents for a regex pattern. Respects .gitignore.",
		InputSchema: json.RawMessage(`{
			"type": "object",
			"properties": {
				"pattern":        {"type": "string", "description": "Regex pattern to match against line contents."},
				"max_results":    {"type": "integer", "description": "Maximum number of results to return. Default: 100"},
				"case_sensitive": {"type": "boolean", "description": "Enable case-sensitive matching. Default: false (case-insensitive)"}
			},
			"required": ["pattern"]
		}`),
	}
}

// MakeGrepHandler creates a handler for the grep tool.
func MakeGrepHandler() mcp.ToolHandler {
	return makeSearchHandler(true)
}

// NewGlobTool creates the glob tool definition: pattern search over file
// paths, for finding files by name rather than content.
func NewGlobTool() mcp.Tool {
	return mcp.Tool{
		Name:        "glob",
		Description: "Find files whose path or basename matches a regex pattern. Respects .gitignore.",
		InputSchema: json.RawMessage(`{
			"type": "object",
			"properties": {
				"pattern":        {"type": "string", "description": "Regex pattern matched against the basename or relative path."},
				"max_results":    {"type": "integer", "description": "Maximum number of results to return. Default: 100"},
				"case_sensitive": {"type": "boolean", "description": "Enable case-sensitive matching. Default: false (case-insensitive)"}
			},
			"required": ["pattern"]
		}`),
	}
}

// NewGlobHandler creates a handler for the glob tool.
func NewGlobHandler() mcp.ToolHandler {
	return makeSearchHandler(false)
}

func makeSearchHandler(contentSearch bool) mcp.ToolHandler {
	return func(ctx context.Context, arguments json.RawMessage) (*mcp.ToolResult, error) {
		var args SearchArgs
		if err := json.Unmarshal(arguments, &args); err != nil {
			return toolError("Invalid arguments: %v", err), nil
		}
		if args.Pattern == "" {
			return toolError("pattern cannot be empty"), nil
		}
		if args.MaxResults <= 0 {
			args.MaxResults = 100
		}

		cwd, err := os.Getwd()
		if err != nil {
			return toolError("Failed to get working directory: %v", err), nil
		}

		searcher, err := filesearch.NewSearcher(cwd)
		if err != nil {
			return toolError("Failed to create searcher: %v", err), nil
		}

		results, err := searcher.Search(ctx, filesearch.Options{
			Pattern:       args.Pattern,
			ContentSearch: contentSearch,
			MaxResults:    args.MaxResults,
			CaseSensitive: args.CaseSensitive,
			RootDir:       cwd,
		})
		if err != nil {
			return toolError("Search failed: %v", err), nil
		}

		return toolText(formatFileSearchResults(results, args.MaxResults, contentSearch)), nil
	}
}

func formatFileSearchResults(results []filesearch.Result, maxResults int, contentSearch bool) string {
	var out strings.Builder
	if len(results) == 0 {
		return "No matches found"
	}
	if contentSearch {
		out.WriteString(fmt.Sprintf("Found %d match(es):\n\n", len(results)))
		for _, r := range results {
			out.WriteString(fmt.Sprintf("%s:%d:%s\n", r.Path, r.Line, r.Content))
		}
	} else {
		out.WriteString(fmt.Sprintf("Found %d file(s):\n\n", len(results)))
		for _, r := range results {
			out.WriteString(fmt.Sprintf("%s\n", r.Path))
		}
	}
	if len(results) >= maxResults {
		out.WriteString(fmt.Sprintf("\n(Limited to %d results. Use max_results to see more)", maxResults))
	}
	return out.String()
}
