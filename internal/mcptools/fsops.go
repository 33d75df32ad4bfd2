package mcptools

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"codi/internal/lsp"
	"codi/internal/mcp"
	"codi/internal/treesitter"
)

// WriteFileArgs are the arguments to the write_file tool.
type WriteFileArgs struct {
	File    string `json:"file"`
	Content string `json:"content"`
}

// NewWriteFileTool creates the write_file tool definition.
func NewWriteFileTool() mcp.Tool {
	return mcp.Tool{
		Name:        "write_file",
		Description: "Write content to a file, creating it (and any missing parent directories) if it does not exist, or overwriting it if it does.",
		InputSchema: json.RawMessage(`{
			"type": "object",
			"properties": {
				"file":    {"type": "string", "description": "Absolute path to the file to write"},
				"content": {"type": "string", "description": "Full content to write to the file"}
			},
			"required": ["file", "content"]
		}`),
	}
}

// WriteFileHandler handles write_file tool calls.
type WriteFileHandler struct {
	tracker    *FileReadTracker
	lspManager *lsp.Manager
	tsIndex    *treesitter.Index
}

// NewWriteFileHandler creates a handler for the write_file tool.
func NewWriteFileHandler(tracker *FileReadTracker, lspManager *lsp.Manager) *WriteFileHandler {
	return &WriteFileHandler{tracker: tracker, lspManager: lspManager}
}

// SetTSIndex sets the tree-sitter index for incremental updates on write.
func (h *WriteFileHandler) SetTSIndex(idx *treesitter.Index) { h.tsIndex = idx }

// Handle implements the mcp.ToolHandler interface.
func (h *WriteFileHandler) Handle(ctx context.Context, arguments json.RawMessage) (*mcp.ToolResult, error) {
	var args WriteFileArgs
	if err := json.Unmarshal(arguments, &args); err != nil {
		return toolError("Invalid arguments: %v", err), nil
	}
	if args.File == "" {
		return toolError("File path cannot be empty"), nil
	}

	absPath, err := validatePath(args.File)
	if err != nil {
		return toolError("%v", err), nil
	}

	if err := os.MkdirAll(filepath.Dir(absPath), 0755); err != nil {
		return toolError("Failed to create parent directories: %v", err), nil
	}
	_, statErr := os.Stat(absPath)
	if err := os.WriteFile(absPath, []byte(args.Content), 0600); err != nil {
		return toolError("Failed to write file: %v", err), nil
	}

	if h.tracker != nil {
		h.tracker.MarkRead(absPath)
	}
	if h.lspManager != nil {
		go h.lspManager.TouchFile(context.Background(), absPath)
	}
	if h.tsIndex != nil {
		h.tsIndex.UpdateFile(absPath)
	}

	verb := "Created"
	if statErr == nil {
		verb = "Overwrote"
	}
	return toolText(fmt.Sprintf("%s %s (%d bytes)", verb, args.File, len(args.Content))), nil
}

// ListDirectoryArgs are the arguments to the list_directory tool.
type ListDirectoryArgs struct {
	Path string `json:"path"`
}

// NewListDirectoryTool creates the list_directory tool definition.
func NewListDirectoryTool() mcp.Tool {
	return mcp.Tool{
		Name:        "list_directory",
		Description: "List the immediate entries of a directory (non-recursive), directories first, both alphabetically sorted.",
		InputSchema: json.RawMessage(`{
			"type": "object",
			"properties": {
				"path": {"type": "string", "description": "Absolute path to the directory to list"}
			},
			"required": ["path"]
		}`),
	}
}

// MakeListDirectoryHandler creates a handler for the list_directory tool.
func MakeListDirectoryHandler() mcp.ToolHandler {
	return func(_ context.Context, arguments json.RawMessage) (*mcp.ToolResult, error) {
		var args ListDirectoryArgs
		if err := json.Unmarshal(arguments, &args); err != nil {
			return toolError("Invalid arguments: %v", err), nil
		}
		if args.Path == "" {
			return toolError("path cannot be empty"), nil
		}

		absPath, err := validatePath(args.Path)
		if err != nil {
			return toolError("%v", err), nil
		}

		entries, err := os.ReadDir(absPath)
		if err != nil {
			return toolError("Failed to list directory: %v", err), nil
		}

		var dirs, files []string
		for _, e := range entries {
			name := e.Name()
			if e.IsDir() {
				dirs = append(dirs, name+"/")
			} else {
				files = append(files, name)
			}
		}
		sort.Strings(dirs)
		sort.Strings(files)

		text := fmt.Sprintf("%s (%d entries):\n", args.Path, len(dirs)+len(files))
		for _, d := range dirs {
			text += d + "\n"
		}
		for _, f := range files {
			text += f + "\n"
		}
		return toolText(text), nil
	}
}
