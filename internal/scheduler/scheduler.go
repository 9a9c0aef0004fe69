// Package scheduler ticks a disjoint set of Execution Contexts at a
// configured cadence (spec §4.4), enforcing a per-context step budget, a
// per-tick wall-clock budget, cooperative cancellation, and a
// per-context lifetime timeout. It is grounded on the teacher's
// BehaviorTreeManager (internal/engine/behavior_tree.go): register a
// tree per unit, Update all of them each frame, drop the ones that
// finished — generalized here from a per-unit map update loop into a
// budgeted, deterministically ordered tick contract a Coordinator can
// fan out across several scheduler instances (spec §5: "each owning
// disjoint sets of contexts and blackboards").
package scheduler

import (
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/solifugus/decisioncore/internal/bt"
	"github.com/solifugus/decisioncore/internal/coreerr"
	"github.com/solifugus/decisioncore/internal/id"
	"github.com/solifugus/decisioncore/internal/telemetry"
)

// Config bounds one Scheduler's tick work (spec §6's per-scheduler
// subset of the coordinator configuration).
type Config struct {
	// PerContextStepBudget caps node-steps per context per tick.
	PerContextStepBudget int
	// PerTickBudget caps real wall-clock time spent inside one Tick
	// call, independent of the injected simulation Clock — this is a
	// CPU safety valve, not a game-time concept, so it is measured with
	// the real clock (WallClock, defaulting to time.Now) rather than
	// env.Clock.
	PerTickBudget time.Duration
	// ActivationTimeout is the default per-context lifetime (spec
	// §4.4's `timeout`): a context still running after this long since
	// its StartTime is forced to Error{Timeout}. Zero disables it.
	ActivationTimeout time.Duration
	// WallClock supplies real elapsed time for PerTickBudget
	// enforcement. Defaults to time.Now; overridable for tests that
	// want to force budget exhaustion deterministically.
	WallClock func() time.Time
}

type entry struct {
	ctx  *bt.Context
	tree bt.TreeID
}

// Scheduler owns one disjoint set of Execution Contexts, stepping them
// single-threaded and cooperatively (spec §5). Multiple Schedulers may
// run concurrently provided they never share a Context or Blackboard.
type Scheduler struct {
	cfg Config
	env *bt.Env

	mu       sync.Mutex
	contexts map[id.ID]*entry
}

// New builds a Scheduler stepping contexts against env under cfg.
func New(env *bt.Env, cfg Config) *Scheduler {
	if cfg.WallClock == nil {
		cfg.WallClock = time.Now
	}
	if cfg.PerContextStepBudget <= 0 {
		cfg.PerContextStepBudget = 64
	}
	return &Scheduler{
		cfg:      cfg,
		env:      env,
		contexts: make(map[id.ID]*entry),
	}
}

// Register adds ctx (already rooted at its tree, via bt.NewContext) to
// this scheduler's ready set.
func (s *Scheduler) Register(ctx *bt.Context, treeID bt.TreeID) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.contexts[ctx.ID] = &entry{ctx: ctx, tree: treeID}
}

// Deregister removes a context, regardless of whether it ever reached a
// terminal result.
func (s *Scheduler) Deregister(contextID id.ID) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.contexts, contextID)
}

// Cancel marks contextID for cooperative Aborted unwind on its next
// step (spec §4.4).
func (s *Scheduler) Cancel(contextID id.ID, reason string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.contexts[contextID]
	if !ok {
		return coreerr.ErrContextNotFound
	}
	e.ctx.Cancel(reason)
	telemetry.L().Info("context cancelled", zap.String("context_id", contextID.String()), zap.String("reason", reason))
	return nil
}

// Context returns the live Context for contextID, for Coordinator.Query.
func (s *Scheduler) Context(contextID id.ID) (*bt.Context, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.contexts[contextID]
	if !ok {
		return nil, false
	}
	return e.ctx, true
}

// Len reports how many contexts this scheduler currently owns
// (terminal or not), for Coordinator.Metrics.
func (s *Scheduler) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.contexts)
}

// Stats summarizes one Tick call.
type Stats struct {
	ContextsTicked    int
	ContextsCompleted int
	ContextsTimedOut  int
	BudgetExhausted   bool
	Elapsed           time.Duration
}

// Tick steps every ready context once, in deterministic context_id
// order (spec §5: "FIFO readiness per scheduler; deterministic
// tie-break by context_id" — ULIDs sort lexicographically by creation
// time, so ascending id order here also happens to be creation order).
// A context whose ActivationTimeout has elapsed is forced to unwind to
// Error{Timeout} before being stepped further. Tick stops early, and
// reports BudgetExhausted, once PerTickBudget real time has elapsed;
// the untouched contexts simply get their turn on the next Tick.
func (s *Scheduler) Tick(now time.Time) Stats {
	start := s.cfg.WallClock()
	var stats Stats

	s.mu.Lock()
	ordered := make([]*entry, 0, len(s.contexts))
	for _, e := range s.contexts {
		ordered = append(ordered, e)
	}
	s.mu.Unlock()
	sort.Slice(ordered, func(i, j int) bool {
		return ordered[i].ctx.ID.Compare(ordered[j].ctx.ID) < 0
	})

	for _, e := range ordered {
		if s.cfg.PerTickBudget > 0 && s.cfg.WallClock().Sub(start) >= s.cfg.PerTickBudget {
			stats.BudgetExhausted = true
			telemetry.L().Warn("scheduler tick budget exhausted", zap.Int("remaining_contexts", len(ordered)-stats.ContextsTicked))
			break
		}
		if e.ctx.Done() {
			continue
		}

		if s.cfg.ActivationTimeout > 0 && now.Sub(e.ctx.StartTime) > s.cfg.ActivationTimeout && !e.ctx.Aborted() {
			e.ctx.RequestTimeout()
			telemetry.L().Warn("context activation timeout", zap.String("context_id", e.ctx.ID.String()), zap.Duration("lifetime", now.Sub(e.ctx.StartTime)))
		}

		result, done := bt.Step(e.ctx, s.env, s.cfg.PerContextStepBudget)
		stats.ContextsTicked++
		if done {
			stats.ContextsCompleted++
			if result.Kind == bt.ResultError && result.Reason == bt.ErrTimeout {
				stats.ContextsTimedOut++
			}
			telemetry.L().Info("context completed", zap.String("context_id", e.ctx.ID.String()), zap.String("result", result.String()), zap.Uint64("ticks", e.ctx.Ticks))
		}
	}

	stats.Elapsed = s.cfg.WallClock().Sub(start)
	return stats
}
