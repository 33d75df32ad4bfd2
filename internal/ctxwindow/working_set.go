package ctxwindow

import (
	"container/list"
	"path/filepath"
	"strings"
	"sync"
)

// defaultMaxFiles is the bound on recently-referenced files tracked by a
// WorkingSet before least-recently-used eviction kicks in.
const defaultMaxFiles = 100

// WorkingSet is a bounded, recency-ordered set of file paths touched by
// tools during recent turns, plus a set of active entity names (symbols,
// patterns). Eviction is true LRU: touching a path that's already present
// moves it to the front instead of being a no-op, and the least-recently
// touched path is evicted once the bound is exceeded.
type WorkingSet struct {
	mu            sync.Mutex
	maxFiles      int
	order         *list.List               // front = most recently used
	elems         map[string]*list.Element // path -> its node in order
	activeEntities map[string]struct{}
}

// NewWorkingSet creates an empty WorkingSet bounded at the default 100 files.
func NewWorkingSet() *WorkingSet {
	return NewWorkingSetWithCapacity(defaultMaxFiles)
}

// NewWorkingSetWithCapacity creates an empty WorkingSet bounded at max files.
func NewWorkingSetWithCapacity(max int) *WorkingSet {
	if max <= 0 {
		max = defaultMaxFiles
	}
	return &WorkingSet{
		maxFiles:       max,
		order:          list.New(),
		elems:          make(map[string]*list.Element),
		activeEntities: make(map[string]struct{}),
	}
}

// AddFile records path as the most-recently-used entry, evicting the least
// recently used entry if the set is now over capacity.
func (w *WorkingSet) AddFile(path string) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if el, ok := w.elems[path]; ok {
		w.order.MoveToFront(el)
		return
	}

	el := w.order.PushFront(path)
	w.elems[path] = el

	for w.order.Len() > w.maxFiles {
		oldest := w.order.Back()
		if oldest == nil {
			break
		}
		w.order.Remove(oldest)
		delete(w.elems, oldest.Value.(string))
	}
}

// AddEntity tracks an active entity name (symbol, pattern).
func (w *WorkingSet) AddEntity(entity string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.activeEntities[entity] = struct{}{}
}

// ReferencesFiles reports whether text mentions any tracked path, either by
// full path or by basename.
func (w *WorkingSet) ReferencesFiles(text string) bool {
	w.mu.Lock()
	defer w.mu.Unlock()

	for el := w.order.Front(); el != nil; el = el.Next() {
		path := el.Value.(string)
		if strings.Contains(text, path) {
			return true
		}
		if name := filepath.Base(path); name != "." && name != "/" && strings.Contains(text, name) {
			return true
		}
	}
	return false
}

// Files returns the tracked paths, most-recently-used first.
func (w *WorkingSet) Files() []string {
	w.mu.Lock()
	defer w.mu.Unlock()

	out := make([]string, 0, w.order.Len())
	for el := w.order.Front(); el != nil; el = el.Next() {
		out = append(out, el.Value.(string))
	}
	return out
}

// Len returns the number of tracked files.
func (w *WorkingSet) Len() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.order.Len()
}

// Clear empties the working set.
func (w *WorkingSet) Clear() {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.order.Init()
	w.elems = make(map[string]*list.Element)
	w.activeEntities = make(map[string]struct{})
}
