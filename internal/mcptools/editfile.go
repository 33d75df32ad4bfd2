package mcptools

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/hexops/gotextdiff"
	"github.com/hexops/gotextdiff/myers"
	"github.com/hexops/gotextdiff/span"

	"codi/internal/delta"
	"codi/internal/lsp"
	"codi/internal/mcp"
	"codi/internal/treesitter"
)

// EditFileArgs are the arguments to the edit_file tool: an exact-text
// replacement contract, distinct from edit_file_anchored's hash-anchored
// scheme.
type EditFileArgs struct {
	File       string `json:"file"`
	OldString  string `json:"old_string"`
	NewString  string `json:"new_string"`
	ReplaceAll bool   `json:"replace_all,omitempty"`
}

// NewEditFileTool creates the edit_file tool definition.
func NewEditFileTool() mcp.Tool {
	return mcp.Tool{
		Name: "edit_file",
		Description: `Edit a file by replacing exact text. old_string must match the file content verbatim, byte for byte, including whitespace.
If old_string appears more than once in the file and replace_all is false, the edit is rejected as ambiguous — either supply more surrounding context to make old_string unique, or pass replace_all=true to replace every occurrence.
old_string and new_string must differ.`,
		InputSchema: json.RawMessage(`{
			"type": "object",
			"properties": {
				"file":        {"type": "string", "description": "Absolute path to the file to edit"},
				"old_string":  {"type": "string", "description": "Exact text to find; must be non-empty"},
				"new_string":  {"type": "string", "description": "Replacement text"},
				"replace_all": {"type": "boolean", "description": "Replace every occurrence instead of requiring a unique match (default false)"}
			},
			"required": ["file", "old_string", "new_string"]
		}`),
	}
}

// EditFileHandler handles edit_file tool calls.
type EditFileHandler struct {
	tracker      *FileReadTracker
	lspManager   *lsp.Manager
	tsIndex      *treesitter.Index
	deltaTracker *delta.Tracker
}

// NewEditFileHandler creates a handler for the edit_file tool.
func NewEditFileHandler(tracker *FileReadTracker, lspManager *lsp.Manager, dt *delta.Tracker) *EditFileHandler {
	return &EditFileHandler{tracker: tracker, lspManager: lspManager, deltaTracker: dt}
}

// SetTSIndex sets the tree-sitter index for incremental updates on edit.
func (h *EditFileHandler) SetTSIndex(idx *treesitter.Index) { h.tsIndex = idx }

// Handle implements the mcp.ToolHandler interface.
func (h *EditFileHandler) Handle(ctx context.Context, arguments json.RawMessage) (*mcp.ToolResult, error) {
	var args EditFileArgs
	if err := json.Unmarshal(arguments, &args); err != nil {
		return toolError("Invalid arguments: %v", err), nil
	}
	if args.File == "" {
		return toolError("File path cannot be empty"), nil
	}
	if args.OldString == "" {
		return toolError("old_string cannot be empty"), nil
	}
	if args.OldString == args.NewString {
		return toolError("old_string and new_string must differ"), nil
	}

	absPath, err := validatePath(args.File)
	if err != nil {
		return toolError("%v", err), nil
	}

	if h.tracker != nil && !h.tracker.WasRead(absPath) {
		return toolError("You must read %s before editing it.", args.File), nil
	}

	content, err := os.ReadFile(absPath)
	if err != nil {
		if os.IsNotExist(err) {
			return toolError("File not found: %s", args.File), nil
		}
		return toolError("Failed to read file: %v", err), nil
	}
	original := string(content)

	count := strings.Count(original, args.OldString)
	if count == 0 {
		return toolError("old_string not found in %s", args.File), nil
	}
	if count > 1 && !args.ReplaceAll {
		return toolError("old_string is ambiguous: it appears %d times in %s. Add more surrounding context to make it unique, or pass replace_all=true.", count, args.File), nil
	}

	var updated string
	if args.ReplaceAll {
		updated = strings.ReplaceAll(original, args.OldString, args.NewString)
	} else {
		updated = strings.Replace(original, args.OldString, args.NewString, 1)
	}

	if h.deltaTracker != nil {
		h.deltaTracker.RecordModify(absPath, content)
	}

	if err := os.WriteFile(absPath, []byte(updated), 0600); err != nil {
		return toolError("Failed to write file: %v", err), nil
	}

	diff := renderUnifiedDiff(args.File, original, updated)
	text := fmt.Sprintf("Edited %s\n\n%s", args.File, diff)

	if h.lspManager != nil {
		diags := h.lspManager.NotifyAndWait(ctx, absPath, 5*time.Second)
		text += lsp.FormatDiagnostics(args.File, diags)
	}
	if h.tsIndex != nil {
		h.tsIndex.UpdateFile(absPath)
	}

	return toolText(text), nil
}

// renderUnifiedDiff renders a unified diff between before and after, used
// both in the tool's own result text and as a confirmation-prompt preview
// by the dispatcher before the edit is applied.
func renderUnifiedDiff(path, before, after string) string {
	uri := span.URIFromPath(path)
	edits := myers.ComputeEdits(uri, before, after)
	if len(edits) == 0 {
		return "(no changes)"
	}
	return fmt.Sprint(gotextdiff.ToUnified(path, path, before, edits))
}

// PreviewEditFile computes the unified diff an edit_file call would produce
// without applying it, for use as a dispatcher confirmation preview. It
// performs the same ambiguity check as Handle and returns an error message
// in place of a diff when the edit cannot be applied as given.
func PreviewEditFile(absPath, oldString, newString string, replaceAll bool) (string, error) {
	content, err := os.ReadFile(absPath)
	if err != nil {
		return "", fmt.Errorf("failed to read file: %w", err)
	}
	original := string(content)
	count := strings.Count(original, oldString)
	if count == 0 {
		return "", fmt.Errorf("old_string not found")
	}
	if count > 1 && !replaceAll {
		return "", fmt.Errorf("old_string is ambiguous: it appears %d times", count)
	}

	var updated string
	if replaceAll {
		updated = strings.ReplaceAll(original, oldString, newString)
	} else {
		updated = strings.Replace(original, oldString, newString, 1)
	}
	return renderUnifiedDiff(filepath.Base(absPath), original, updated), nil
}
