package reconcile

import (
	"sync"
	"time"
)

// Halt is the process-wide integrity halt flag. It is set exactly once, by a
// reconciliation failure, and read by the transaction engine (which refuses
// new postings while halted) and by health reporting. Clearing it requires
// operator intervention via Reset.
type Halt struct {
	mu     sync.RWMutex
	halted bool
	reason string
	at     time.Time
}

// NewHalt returns an un-halted flag.
func NewHalt() *Halt { return &Halt{} }

// Halted reports whether the system is halted.
func (h *Halt) Halted() bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.halted
}

// Trigger halts the system. The first reason wins; later calls are ignored.
func (h *Halt) Trigger(reason string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.halted {
		return
	}
	h.halted = true
	h.reason = reason
	h.at = time.Now().UTC()
}

// Status returns the halt reason and time when halted.
func (h *Halt) Status() (reason string, at time.Time, halted bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.reason, h.at, h.halted
}

// Reset clears the halt. Intended for operator use after the underlying
// corruption has been repaired.
func (h *Halt) Reset() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.halted = false
	h.reason = ""
	h.at = time.Time{}
}
