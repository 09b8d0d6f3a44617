// Package correlator implements the master-side request correlator
// (C3): it mints request-ids, tracks a one-shot completion handle and
// deadline timer for each, and guarantees that a given request-id is
// resolved at most once, whichever of "response frame arrived" or
// "timer fired" happens first.
package correlator

import (
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Result is what a pending request resolves to: either a successful
// payload or an error.
type Result struct {
	Status  int
	Headers map[string][]string
	Body    *string
	Err     error
}

type pending struct {
	once   sync.Once
	ch     chan Result
	timer  *time.Timer
}

// Correlator owns the request-id -> pending entry map. Zero value is
// not usable; construct with New.
type Correlator struct {
	mu      sync.Mutex
	pending map[string]*pending
}

func New() *Correlator {
	return &Correlator{pending: make(map[string]*pending)}
}

// Issue mints a fresh request-id, registers a pending entry with a
// one-shot timeout timer, and returns the id plus a channel that
// yields exactly one Result. The channel is buffered so the timer
// goroutine never blocks delivering a timeout.
func (c *Correlator) Issue(timeout time.Duration) (string, <-chan Result) {
	id := uuid.NewString()
	p := &pending{ch: make(chan Result, 1)}

	c.mu.Lock()
	c.pending[id] = p
	c.mu.Unlock()

	p.timer = time.AfterFunc(timeout, func() {
		c.complete(id, p, Result{Err: fmt.Errorf("request timeout")})
	})

	return id, p.ch
}

// Complete resolves requestID with result. A requestID with no
// pending entry (already completed, timed out, or unknown) is a
// silent no-op — this is the documented behavior for a response frame
// that arrives after its deadline.
func (c *Correlator) Complete(requestID string, result Result) {
	c.mu.Lock()
	p, ok := c.pending[requestID]
	c.mu.Unlock()
	if !ok {
		return
	}
	c.complete(requestID, p, result)
}

func (c *Correlator) complete(requestID string, p *pending, result Result) {
	p.once.Do(func() {
		c.mu.Lock()
		delete(c.pending, requestID)
		c.mu.Unlock()

		if p.timer != nil {
			p.timer.Stop()
		}
		p.ch <- result
	})
}

// FailAllForSlave fails every pending request whose id is in ids with
// the given error, used when a slave's control connection is lost.
// Callers are expected to have already looked up which request-ids
// belong to the disconnected slave (the correlator itself is slave-
// agnostic — ownership is tracked by the caller, per the data model's
// "C3 owns pending requests" note).
func (c *Correlator) FailAllForSlave(ids []string, err error) {
	for _, id := range ids {
		c.mu.Lock()
		p, ok := c.pending[id]
		c.mu.Unlock()
		if ok {
			c.complete(id, p, Result{Err: err})
		}
	}
}
