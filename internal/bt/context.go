package bt

import (
	"time"

	"github.com/solifugus/decisioncore/internal/id"
)

// Context is one execution context (spec §4.1's Execution Context): a
// single agent's (or other caller's) run of one tree, carrying its own
// activation-frame stack, budget accounting and trace. A Scheduler owns
// many Contexts and steps each in turn; Contexts never share frontiers.
type Context struct {
	ID      id.ID
	TreeID  TreeID
	AgentID *id.ID

	Frontier []*Frame

	StartTime    time.Time
	TotalCPUTime time.Duration
	Ticks        uint64
	LastResult   *Result

	trace    []TraceEntry
	traceCap int
	traceLen int
	tracePos int

	cancelRequested bool
	cancelReason    string

	// timeoutRequested distinguishes a Scheduler-driven per-context
	// lifetime expiry (spec §4.4: "exceeding yields Error{Timeout} at
	// the root") from an ordinary Cancel: both drive the same
	// cooperative unwind through cancelRequested, but Step reports the
	// former as Error{Timeout} instead of Aborted once the unwind
	// finishes.
	timeoutRequested bool

	// hostFailureMsg holds the detail a host Action last attached via
	// Fail, consumed by actionStep when the action returns
	// registry.ResultHostFailure.
	hostFailureMsg string

	tickIndex uint64

	// subtreeStack is the path of in-flight SubTree target ids, used to
	// detect cycles (spec §3: "recursion yields Error{Cycle}").
	subtreeStack []id.ID

	// cooldownReadyAt is the one piece of state that must outlive a
	// single activation: a Cooldown node's readiness gate has to persist
	// across many separate future activations of the same node, unlike
	// every other decorator's per-activation Frame.State. Keyed by node
	// id, scoped to this Context's lifetime.
	cooldownReadyAt map[int]time.Time

	done bool
}

// TraceEntry is one bounded-ring introspection record (used by
// Coordinator.Query to report a context's current path).
type TraceEntry struct {
	At     time.Time
	NodeID int
	Kind   Kind
	Event  string
}

// NewContext starts a fresh Context at the given tree's root.
func NewContext(contextID id.ID, treeID TreeID, rootNodeID int, agentID *id.ID, now time.Time, traceCap uint64) *Context {
	ctx := &Context{
		ID:              contextID,
		TreeID:          treeID,
		AgentID:         agentID,
		StartTime:       now,
		cooldownReadyAt: make(map[int]time.Time),
		traceCap:        int(traceCap),
	}
	ctx.Frontier = []*Frame{{TreeID: treeID, NodeID: rootNodeID, Phase: PhaseEnter, StartedAt: now}}
	if ctx.traceCap > 0 {
		ctx.trace = make([]TraceEntry, ctx.traceCap)
	}
	return ctx
}

// ContextID satisfies registry.ActionContext: a host Action uses this as
// the requester_id it passes to blackboard Get/Put/Remove/Has calls
// (spec §3's access log shape names a requester_id; the host-facing
// contract only ever hands an action a blackboard handle and a context
// handle, never the node id, so the context id is what an action has to
// offer as requester identity).
func (c *Context) ContextID() id.ID { return c.ID }

// Aborted satisfies registry.ActionContext: a running host Action polls
// this to learn it has been asked to cancel.
func (c *Context) Aborted() bool { return c.cancelRequested }

// Fail satisfies registry.ActionContext: a host Action calls this right
// before returning registry.ResultHostFailure to attach the detail that
// ends up in the resulting Error{HostFailure}.Message.
func (c *Context) Fail(reason string) { c.hostFailureMsg = reason }

// Cancel requests cooperative cancellation (spec §4.4). The next step
// observes the flag and begins unwinding to a terminal Aborted result.
func (c *Context) Cancel(reason string) {
	c.cancelRequested = true
	c.cancelReason = reason
}

// RequestTimeout asks the Context to unwind exactly like Cancel, but
// have Step report the resulting terminal as Error{Timeout} rather than
// Aborted — for use by a Scheduler enforcing per-context lifetime
// (spec §4.4), not by the Timeout decorator (which always resolves to
// Failure on its own, via the engine's sweepTimeouts path).
func (c *Context) RequestTimeout() {
	c.cancelRequested = true
	c.timeoutRequested = true
	c.cancelReason = "activation timeout"
}

// Done reports whether this Context has reached a terminal LastResult.
func (c *Context) Done() bool { return c.done }

func (c *Context) recordTrace(e TraceEntry) {
	if c.traceCap == 0 {
		return
	}
	c.trace[c.tracePos] = e
	c.tracePos = (c.tracePos + 1) % c.traceCap
	if c.traceLen < c.traceCap {
		c.traceLen++
	}
}

// Trace returns the bounded trace ring in chronological order.
func (c *Context) Trace() []TraceEntry {
	if c.traceLen < c.traceCap {
		out := make([]TraceEntry, c.traceLen)
		copy(out, c.trace[:c.traceLen])
		return out
	}
	out := make([]TraceEntry, c.traceCap)
	copy(out, c.trace[c.tracePos:])
	copy(out[c.traceCap-c.tracePos:], c.trace[:c.tracePos])
	return out
}
