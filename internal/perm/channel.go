package perm

import (
	"log"
	"sync"
	"time"
)

// Terminal is the slice of the tmux session the channel needs: a pane
// snapshot to check for the native dialog and keystrokes to answer it.
type Terminal interface {
	CapturePane() (string, error)
	SendKey(name string)
}

// Outcome describes how a resolution attempt ended.
type Outcome int

const (
	// NoPending means there was nothing to resolve.
	NoPending Outcome = iota
	// ResolvedAllow means the head request was approved and Enter sent.
	ResolvedAllow
	// ResolvedDeny means the head request was denied and Escape sent.
	ResolvedDeny
	// StaleCleared means the queue was dropped because the native prompt
	// was gone; no keystroke was sent.
	StaleCleared
	// RaceLost means a button press targeted a request that is no longer
	// the head.
	RaceLost
)

const (
	// DefaultTimeout auto-denies requests the operator never answered.
	DefaultTimeout = 60 * time.Second
	// DefaultStaleAfter is how old a head must be before staleness checks
	// apply. The agent needs a moment to paint its dialog.
	DefaultStaleAfter = 5 * time.Second
)

// Channel arbitrates permission requests for one agent session: it owns the
// queue, mirrors decisions into the terminal, and drops requests whose
// native prompt has already gone away. Safe for concurrent use; the watcher
// loop and the operator's message handler both resolve against it.
type Channel struct {
	mu         sync.Mutex
	queue      *Queue
	scanner    *Scanner
	term       Terminal
	timeout    time.Duration
	staleAfter time.Duration
}

// NewChannel wires a queue, a scanner, and the terminal together. Zero
// timeout and staleAfter take the defaults.
func NewChannel(scanner *Scanner, term Terminal, queueCap int, timeout, staleAfter time.Duration) *Channel {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	if staleAfter <= 0 {
		staleAfter = DefaultStaleAfter
	}
	return &Channel{
		queue:      NewQueue(queueCap),
		scanner:    scanner,
		term:       term,
		timeout:    timeout,
		staleAfter: staleAfter,
	}
}

// Scanner exposes the channel's scanner for watch wiring.
func (c *Channel) Scanner() *Scanner { return c.scanner }

// Pending reports how many requests are queued.
func (c *Channel) Pending() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.queue.Len()
}

// Head returns the request awaiting a decision, or nil.
func (c *Channel) Head() *Request {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.queue.Head()
}

// SetMessageID records the chat message carrying a queued request's inline
// buttons. Taken through the channel lock so the write is ordered against
// resolution: a request no longer queued was already resolved, and its
// MessageID is left untouched for whoever popped it.
func (c *Channel) SetMessageID(uid string, messageID int) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, req := range c.queue.reqs {
		if req.UID == uid {
			req.MessageID = messageID
			return true
		}
	}
	return false
}

// EnqueueNew drains the scanner and admits requests up to capacity. logSize
// is the transcript size at admission time, recorded for staleness checks.
// Returns the subset of drained requests that became newly queued.
func (c *Channel) EnqueueNew(logSize int64) []*Request {
	c.mu.Lock()
	defer c.mu.Unlock()
	var admitted []*Request
	for _, req := range c.scanner.Drain() {
		req.LogSize = logSize
		if !c.queue.Push(req) {
			log.Printf("perm: dropping request %s (%s): queue full or duplicate", req.UID, req.ToolName)
			continue
		}
		admitted = append(admitted, req)
	}
	return admitted
}

// ResolveHead answers the oldest pending request. The keystroke is only sent
// when the agent's dialog is actually on screen; otherwise every queued
// request is presumed stale and cleared without touching the terminal.
// Returns the resolved (or cleared) requests alongside the outcome.
func (c *Channel) ResolveHead(allow bool) (Outcome, []*Request) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.resolveHeadLocked(allow)
}

func (c *Channel) resolveHeadLocked(allow bool) (Outcome, []*Request) {
	head := c.queue.Head()
	if head == nil {
		return NoPending, nil
	}

	pane, err := c.term.CapturePane()
	if err != nil {
		log.Printf("perm: capture-pane failed, treating prompt as hidden: %v", err)
		pane = ""
	}
	if !PromptVisible(pane) {
		cleared := c.queue.Clear()
		return StaleCleared, cleared
	}

	c.queue.Pop()
	if allow {
		c.term.SendKey("Enter")
		return ResolvedAllow, []*Request{head}
	}
	c.term.SendKey("Escape")
	return ResolvedDeny, []*Request{head}
}

// ResolveByUID answers a specific request by uid, as carried by an inline
// button. Only the head may be resolved; a uid that is queued but no longer
// the head lost the race to a newer decision and is reported as such.
func (c *Channel) ResolveByUID(uid string, allow bool) (Outcome, []*Request) {
	c.mu.Lock()
	defer c.mu.Unlock()
	head := c.queue.Head()
	if head == nil {
		return NoPending, nil
	}
	if head.UID != uid {
		return RaceLost, nil
	}
	return c.resolveHeadLocked(allow)
}

// DetectStale checks whether the head request has been abandoned by the
// agent: old enough and either the transcript grew past its admission size
// (the agent moved on) or no dialog is visible. A stale head invalidates the
// whole queue. Returns the cleared requests, nil when the head is healthy.
func (c *Channel) DetectStale(logSize int64) []*Request {
	c.mu.Lock()
	defer c.mu.Unlock()
	head := c.queue.Head()
	if head == nil || time.Since(head.EnqueuedAt) < c.staleAfter {
		return nil
	}

	if logSize > head.LogSize {
		return c.queue.Clear()
	}
	pane, err := c.term.CapturePane()
	if err == nil && !PromptVisible(pane) {
		return c.queue.Clear()
	}
	return nil
}

// TimeoutSweep auto-denies requests older than the channel timeout, in FIFO
// order. The deny keystroke is sent for the head only when its dialog is
// still visible; expired entries behind it are dropped silently since their
// dialogs never rendered.
func (c *Channel) TimeoutSweep() []*Request {
	c.mu.Lock()
	defer c.mu.Unlock()
	headWasVisible := false
	if head := c.queue.Head(); head != nil && time.Since(head.EnqueuedAt) >= c.timeout {
		if pane, err := c.term.CapturePane(); err == nil && PromptVisible(pane) {
			headWasVisible = true
		}
	}

	expired := c.queue.PopExpired(c.timeout, time.Now())
	if len(expired) > 0 && headWasVisible {
		c.term.SendKey("Escape")
	}
	return expired
}

// DenyAll clears the queue, answering the head's dialog with Escape when it
// is visible. Used when agent mode ends with requests still waiting.
func (c *Channel) DenyAll() []*Request {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.queue.Len() == 0 {
		return nil
	}
	if pane, err := c.term.CapturePane(); err == nil && PromptVisible(pane) {
		c.term.SendKey("Escape")
	}
	return c.queue.Clear()
}
