package mcptools

import "sync"

// FileReadTracker tracks which absolute paths have been read via the
// Read tool (or written via write_file). edit_file and edit_file_anchored both check this before
// allowing a modification, so the model can't blind-edit a file it never
// inspected.
type FileReadTracker struct {
	mu   sync.RWMutex
	read map[string]struct{}
}

// NewFileReadTracker creates a new, empty tracker.
func NewFileReadTracker() *FileReadTracker {
	return &FileReadTracker{read: make(map[string]struct{})}
}

// MarkRead records that a file was read.
func (t *FileReadTracker) MarkRead(absPath string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.read[absPath] = struct{}{}
}

// WasRead reports whether the file was previously read.
func (t *FileReadTracker) WasRead(absPath string) bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	_, ok := t.read[absPath]
	return ok
}
