package coordinator

import "github.com/solifugus/decisioncore/internal/bt"

// Metrics is a plain struct snapshot of system-wide execution counters
// (SPEC_FULL.md Supplemented Features: the original's BehaviorTreeMetrics,
// reproduced here as the concrete shape behind spec §2's "aggregates
// metrics" Coordinator responsibility, which the distilled spec names
// without detailing). No shipping/exporting of these numbers is in
// scope — Metrics() is a point-in-time read, the host decides what to do
// with it.
type Metrics struct {
	ActiveTrees       int
	ActiveContexts    int
	ContextsSpawned   uint64
	ContextsCompleted uint64
	SuccessCount      uint64
	FailureCount      uint64
	AbortedCount      uint64
	ErrorCount        uint64
	TimeoutCount      uint64
	TotalTicks        uint64
}

// accumulate folds one freshly-terminal context's result into m.
func (m *Metrics) accumulate(ctx *bt.Context) {
	m.ContextsCompleted++
	m.TotalTicks += ctx.Ticks
	if ctx.LastResult == nil {
		return
	}
	switch ctx.LastResult.Kind {
	case bt.Success:
		m.SuccessCount++
	case bt.Failure:
		m.FailureCount++
	case bt.Aborted:
		m.AbortedCount++
	case bt.ResultError:
		m.ErrorCount++
		if ctx.LastResult.Reason == bt.ErrTimeout {
			m.TimeoutCount++
		}
	}
}
