package streampipe

import "sync"

// StepStatus reports what Step found when draining the ready-line queue.
type StepStatus int

const (
	// HasContent means one or more lines were drained this step.
	HasContent StepStatus = iota
	// Idle means the stream is live but no complete line is ready yet.
	Idle
	// Complete means the stream was finalized and the queue is now empty.
	Complete
)

// Controller wraps a Collector with a FIFO queue of ready lines, a
// lines-per-tick drain rate, and cancellation/finalization bookkeeping.
type Controller struct {
	mu           sync.Mutex
	collector    *Collector
	queue        []Line
	linesPerTick int
	finalized    bool
	cancelled    bool
}

// NewController creates a controller draining up to linesPerTick lines per
// Step call (minimum 1).
func NewController(width, linesPerTick int) *Controller {
	if linesPerTick < 1 {
		linesPerTick = 1
	}
	return &Controller{
		collector:    NewCollector(width),
		linesPerTick: linesPerTick,
	}
}

// Push feeds a delta into the underlying collector and enqueues any newly
// complete lines. Returns true if complete lines became ready. Dropped
// silently (no-op) once Cancel has been observed, per the cancellation
// contract: further deltas are dropped, but Finalize must still run.
func (c *Controller) Push(delta string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.cancelled || c.finalized {
		return false
	}
	c.collector.PushDelta(delta)
	newLines := c.collector.CommitCompleteLines()
	if len(newLines) == 0 {
		return false
	}
	c.queue = append(c.queue, newLines...)
	return true
}

// Cancel marks the controller cancelled: subsequent Push calls are dropped.
// Finalize must still be called so the state machine terminates cleanly,
// but its emitted lines should not be forwarded to the UI.
func (c *Controller) Cancel() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.cancelled = true
}

// Finalize drains any remaining partial content from the collector into the
// queue and marks the controller finalized. Safe to call once; a second
// call is a no-op.
func (c *Controller) Finalize() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.finalized {
		return
	}
	remaining := c.collector.FinalizeAndDrain()
	if !c.cancelled {
		c.queue = append(c.queue, remaining...)
	}
	c.finalized = true
}

// Step drains up to linesPerTick lines from the ready queue and reports
// status.
func (c *Controller) Step() ([]Line, StepStatus) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if len(c.queue) == 0 {
		if c.finalized {
			return nil, Complete
		}
		return nil, Idle
	}

	n := c.linesPerTick
	if n > len(c.queue) {
		n = len(c.queue)
	}
	drained := c.queue[:n]
	c.queue = c.queue[n:]

	status := HasContent
	if len(c.queue) == 0 && c.finalized {
		// Lines drained this tick, but nothing left: report content now;
		// the next Step call will observe Complete.
		status = HasContent
	}
	return drained, status
}

// Finalized reports whether Finalize has been called.
func (c *Controller) Finalized() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.finalized
}
