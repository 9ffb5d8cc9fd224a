package llm

import (
	"context"
	"sync"
	"sync/atomic"
)

// Prompter asks the user whether an in-flight request should be aborted.
// It blocks until the user answers or ctx is cancelled; true means abort.
// Implementations live at the edges (CLI confirm dialog, UI popup) — the
// core only holds this capability.
type Prompter func(ctx context.Context) bool

// Gate races a user abort decision against the failover loop. At most one
// prompt is visibly open at a time: opening a new session closes the
// previous one. A closed prompt's pending answer is discarded; an answer
// given before closing stays in effect.
type Gate struct {
	mu      sync.Mutex
	current *GateSession
}

// GateSession is the observable side of one opened gate. The invoker
// samples Suspended between attempts; it never blocks on the prompt.
type GateSession struct {
	suspended atomic.Bool
	cancel    context.CancelFunc
}

// Open launches the prompt without waiting for it. In silent mode (or with
// no prompter wired) no prompt is shown and the session never suspends.
func (g *Gate) Open(ctx context.Context, prompt Prompter, silent bool) *GateSession {
	s := &GateSession{}
	if silent || prompt == nil {
		return s
	}

	pctx, cancel := context.WithCancel(ctx)
	s.cancel = cancel

	g.mu.Lock()
	if g.current != nil {
		g.current.Close()
	}
	g.current = s
	g.mu.Unlock()

	go func() {
		// An abort answered after the session closed is stale: the prompt
		// it belonged to is gone, so the decision must not leak into a
		// later invocation.
		if prompt(pctx) && pctx.Err() == nil {
			s.suspended.Store(true)
		}
	}()

	return s
}

// Suspended reports whether the user chose to abort.
func (s *GateSession) Suspended() bool {
	return s.suspended.Load()
}

// Close dismisses the session's prompt if it is still open. The suspended
// flag keeps whatever value it already has.
func (s *GateSession) Close() {
	if s.cancel != nil {
		s.cancel()
	}
}
