// Package coordinator owns the tree set, the blackboards, and one or more
// Schedulers, exposing the create/spawn/tick/query/introspect surface of
// spec §4.6. It is grounded on the teacher's BehaviorTreeManager +
// BehaviorTreeLibrary pairing (internal/engine/behavior_tree.go,
// behavior_templates.go): the library owns named templates and builds
// trees on request, the manager owns and ticks the live instances. Here
// the two responsibilities are fused into one Coordinator because the
// spec's Coordinator is explicitly the single owner of create/tick/
// cancel/introspect, with no separate template-library type at this
// layer (tree templates live in internal/treedef instead).
package coordinator

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/solifugus/decisioncore/internal/blackboard"
	"github.com/solifugus/decisioncore/internal/bt"
	"github.com/solifugus/decisioncore/internal/clock"
	"github.com/solifugus/decisioncore/internal/coreerr"
	"github.com/solifugus/decisioncore/internal/id"
	"github.com/solifugus/decisioncore/internal/registry"
	"github.com/solifugus/decisioncore/internal/scheduler"
	"github.com/solifugus/decisioncore/internal/telemetry"
)

// defaultTraceCap bounds the per-context trace ring Query reports as
// "current path" — large enough to show recent routing through a
// moderately deep tree without the unbounded growth a Non-goal (no
// replay/persistence) would otherwise invite.
const defaultTraceCap = 32

// ctxEntry tracks which scheduler owns a spawned context, and whether its
// terminal result has already been folded into Metrics.
type ctxEntry struct {
	treeID     bt.TreeID
	schedIndex int
	counted    bool
}

// Coordinator owns the tree set, the blackboards (one per Tree, spec
// §3), and the Schedulers stepping their Execution Contexts (spec §5:
// "multiple scheduler instances ... each owning disjoint sets of
// contexts and blackboards"). It is the single entry point a host
// integrates against.
type Coordinator struct {
	cfg   Config
	clock clock.Clock
	reg   *registry.Registry
	env   *bt.Env

	mu           sync.Mutex
	trees        map[bt.TreeID]*Tree
	blackboards  map[id.ID]*blackboard.Blackboard
	subtreeEdges map[bt.TreeID][]bt.TreeID
	nextSched    int

	schedulers []*scheduler.Scheduler

	ctxMu    sync.Mutex
	contexts map[id.ID]*ctxEntry
	metrics  Metrics
}

// New builds a Coordinator over cfg, ticking against c (defaulting to
// the real wall clock) and dispatching leaves through reg.
func New(cfg Config, c clock.Clock, reg *registry.Registry) *Coordinator {
	if c == nil {
		c = clock.System{}
	}
	co := &Coordinator{
		cfg:          cfg,
		clock:        c,
		reg:          reg,
		trees:        make(map[bt.TreeID]*Tree),
		blackboards:  make(map[id.ID]*blackboard.Blackboard),
		subtreeEdges: make(map[bt.TreeID][]bt.TreeID),
		contexts:     make(map[id.ID]*ctxEntry),
	}
	co.env = &bt.Env{
		Trees:       co,
		Registry:    reg,
		Blackboards: co.blackboardFor,
		Clock:       c,
		BaseSeed:    cfg.PRNGSeed,
	}

	count := cfg.SchedulerCount
	if count < 1 {
		count = 1
	}
	schedCfg := scheduler.Config{
		PerContextStepBudget: cfg.PerContextStepBudget,
		PerTickBudget:        cfg.PerTickBudget(),
		ActivationTimeout:    cfg.ActivationTimeout(),
	}
	for i := 0; i < count; i++ {
		co.schedulers = append(co.schedulers, scheduler.New(co.env, schedCfg))
	}
	return co
}

// Registry returns the registry leaves are dispatched through, so a host
// can register its actions/conditions against the same one the
// Coordinator's Env uses.
func (co *Coordinator) Registry() *registry.Registry { return co.reg }

// DefaultParallelPolicy returns the configured parallel_policy_default
// (spec §6), the fallback a Parallel node should use when it doesn't
// name its own policy — consulted by internal/treedef when building a
// template against this Coordinator.
func (co *Coordinator) DefaultParallelPolicy() bt.ParallelPolicy {
	return co.cfg.ParallelPolicyDefault
}

// Tree satisfies bt.TreeLookup, letting SubTree leaves cross into
// another tree the Coordinator owns.
func (co *Coordinator) Tree(treeID bt.TreeID) (*bt.Compiled, bool) {
	co.mu.Lock()
	defer co.mu.Unlock()
	t, ok := co.trees[treeID]
	if !ok {
		return nil, false
	}
	return t.Compiled, true
}

// blackboardFor satisfies bt.BlackboardLookup, resolving a Context's home
// tree to the one Blackboard it exclusively owns.
func (co *Coordinator) blackboardFor(treeID bt.TreeID) *blackboard.Blackboard {
	co.mu.Lock()
	defer co.mu.Unlock()
	t, ok := co.trees[treeID]
	if !ok {
		return nil
	}
	return co.blackboards[t.BlackboardID]
}

// CreateTree compiles root against the configured limits, validates every
// SubTree reference against the trees already registered and that
// accepting it would not close a cycle back to the tree being created,
// and mints a fresh Blackboard exclusively owned by the new tree (spec
// §4.6: "create_tree(root, config) -> tree_id, blackboard_id. Validates
// depth/node limits and subtree acyclicity on insert").
//
// Because trees are immutable once compiled and every tree_id is freshly
// minted after compilation succeeds, no earlier tree can ever reference
// one created later — a genuine cross-tree cycle cannot be constructed
// through this API. The graph walk below is kept anyway as the explicit,
// spec-named guarantee rather than an implicit one.
func (co *Coordinator) CreateTree(root *bt.Spec, meta Metadata) (bt.TreeID, id.ID, error) {
	compiled, err := bt.Compile(root, co.cfg.Limits())
	if err != nil {
		return id.Zero, id.Zero, fmt.Errorf("coordinator: compiling tree: %w", err)
	}

	co.mu.Lock()
	defer co.mu.Unlock()

	targets := map[bt.TreeID]struct{}{}
	for i := range compiled.Nodes {
		n := &compiled.Nodes[i]
		if n.Kind != bt.KindSubTree {
			continue
		}
		if _, ok := co.trees[n.SubTreeID]; !ok {
			return id.Zero, id.Zero, fmt.Errorf("coordinator: subtree node %q references %s: %w", n.Name, n.SubTreeID, coreerr.ErrUnknownChild)
		}
		targets[n.SubTreeID] = struct{}{}
	}

	now := co.clock.Now()
	treeID := id.New(now)
	for target := range targets {
		if co.reachesLocked(target, treeID) {
			return id.Zero, id.Zero, fmt.Errorf("coordinator: subtree %s: %w", target, coreerr.ErrSubtreeCycle)
		}
	}

	bbID := id.New(now)
	bb := blackboard.New(bbID, co.clock, co.cfg.BlackboardLogCapacity)

	edges := make([]bt.TreeID, 0, len(targets))
	for target := range targets {
		edges = append(edges, target)
	}

	co.trees[treeID] = &Tree{
		ID:           treeID,
		Compiled:     compiled,
		BlackboardID: bbID,
		Metadata:     meta,
		CreatedAt:    now,
	}
	co.blackboards[bbID] = bb
	co.subtreeEdges[treeID] = edges

	telemetry.L().Info("tree created",
		zap.String("tree_id", treeID.String()),
		zap.String("blackboard_id", bbID.String()),
		zap.Int("nodes", compiled.Count),
		zap.Int("depth", compiled.Depth),
	)
	return treeID, bbID, nil
}

// reachesLocked reports whether to is reachable from from by following
// existing subtree edges. Callers must hold co.mu.
func (co *Coordinator) reachesLocked(from, to bt.TreeID) bool {
	visited := map[bt.TreeID]bool{}
	var walk func(bt.TreeID) bool
	walk = func(cur bt.TreeID) bool {
		if cur == to {
			return true
		}
		if visited[cur] {
			return false
		}
		visited[cur] = true
		for _, next := range co.subtreeEdges[cur] {
			if walk(next) {
				return true
			}
		}
		return false
	}
	return walk(from)
}

// SpawnContext starts a fresh Execution Context at treeID's root, assigns
// it to one of the Coordinator's Schedulers round-robin, and returns its
// id (spec §4.6: "spawn_context(tree_id, agent_id?) -> context_id with a
// fresh frontier rooted at root").
func (co *Coordinator) SpawnContext(treeID bt.TreeID, agentID *id.ID) (id.ID, error) {
	co.mu.Lock()
	tree, ok := co.trees[treeID]
	co.mu.Unlock()
	if !ok {
		return id.Zero, fmt.Errorf("coordinator: spawning context: %w", coreerr.ErrTreeNotFound)
	}

	now := co.clock.Now()
	contextID := id.New(now)
	ctx := bt.NewContext(contextID, treeID, tree.Compiled.RootID, agentID, now, defaultTraceCap)

	idx := co.pickScheduler()
	co.schedulers[idx].Register(ctx, treeID)

	co.ctxMu.Lock()
	co.contexts[contextID] = &ctxEntry{treeID: treeID, schedIndex: idx}
	co.metrics.ContextsSpawned++
	co.ctxMu.Unlock()

	telemetry.L().Info("context spawned",
		zap.String("context_id", contextID.String()),
		zap.String("tree_id", treeID.String()),
		zap.Int("scheduler", idx),
	)
	return contextID, nil
}

func (co *Coordinator) pickScheduler() int {
	co.mu.Lock()
	defer co.mu.Unlock()
	idx := co.nextSched % len(co.schedulers)
	co.nextSched++
	return idx
}

// TickStats aggregates one tick_all call's per-scheduler Stats (spec
// §4.6: "tick_all(now) -> per-scheduler aggregated stats").
type TickStats struct {
	PerScheduler []scheduler.Stats
	Elapsed      time.Duration
}

// TickAll steps every Scheduler once, concurrently — each owns a
// disjoint set of contexts and blackboards, so there is no shared
// mutable state across the fan-out (spec §5). Grounded on the
// retrieval pack's errgroup-fanned concurrent-stage pattern rather than
// a hand-rolled sync.WaitGroup.
func (co *Coordinator) TickAll(now time.Time) TickStats {
	stats := make([]scheduler.Stats, len(co.schedulers))

	var g errgroup.Group
	for i, s := range co.schedulers {
		i, s := i, s
		g.Go(func() error {
			stats[i] = s.Tick(now)
			return nil
		})
	}
	_ = g.Wait()

	co.accumulateMetrics()

	var elapsed time.Duration
	for _, st := range stats {
		if st.Elapsed > elapsed {
			elapsed = st.Elapsed
		}
	}
	return TickStats{PerScheduler: stats, Elapsed: elapsed}
}

// accumulateMetrics folds every newly-terminal context's result into the
// running Metrics exactly once.
func (co *Coordinator) accumulateMetrics() {
	co.ctxMu.Lock()
	defer co.ctxMu.Unlock()
	for cid, e := range co.contexts {
		if e.counted {
			continue
		}
		ctx, ok := co.schedulers[e.schedIndex].Context(cid)
		if !ok || !ctx.Done() {
			continue
		}
		co.metrics.accumulate(ctx)
		e.counted = true
	}
}

// Metrics returns a point-in-time snapshot of system-wide execution
// counters (SPEC_FULL.md Supplemented Features).
func (co *Coordinator) Metrics() Metrics {
	co.ctxMu.Lock()
	m := co.metrics
	co.ctxMu.Unlock()

	co.mu.Lock()
	m.ActiveTrees = len(co.trees)
	co.mu.Unlock()

	for _, s := range co.schedulers {
		m.ActiveContexts += s.Len()
	}
	return m
}

// QueryResult answers spec §4.6's "query(context_id) -> last_result,
// ticks, elapsed, current path", plus the Supplemented Features'
// TreeState.
type QueryResult struct {
	LastResult *bt.Result
	Ticks      uint64
	Elapsed    time.Duration
	Path       []bt.TraceEntry
	State      TreeState
}

// Query reports a context's current status.
func (co *Coordinator) Query(contextID id.ID) (QueryResult, error) {
	co.ctxMu.Lock()
	e, ok := co.contexts[contextID]
	co.ctxMu.Unlock()
	if !ok {
		return QueryResult{}, fmt.Errorf("coordinator: querying context: %w", coreerr.ErrContextNotFound)
	}

	ctx, ok := co.schedulers[e.schedIndex].Context(contextID)
	if !ok {
		return QueryResult{}, fmt.Errorf("coordinator: querying context: %w", coreerr.ErrContextNotFound)
	}

	return QueryResult{
		LastResult: ctx.LastResult,
		Ticks:      ctx.Ticks,
		Elapsed:    co.clock.Now().Sub(ctx.StartTime),
		Path:       ctx.Trace(),
		State:      deriveState(ctx),
	}, nil
}

// IntrospectBlackboard returns a snapshot of bbID's live entries (spec
// §4.6: "introspect_blackboard(bb_id) -> snapshot").
func (co *Coordinator) IntrospectBlackboard(bbID id.ID) (map[string]blackboard.Entry, error) {
	co.mu.Lock()
	bb, ok := co.blackboards[bbID]
	co.mu.Unlock()
	if !ok {
		return nil, fmt.Errorf("coordinator: introspecting blackboard: %w", coreerr.ErrBlackboardNotFound)
	}
	return bb.Snapshot(), nil
}

// Cancel requests cooperative cancellation of contextID (spec §4.4),
// routed to whichever Scheduler owns it.
func (co *Coordinator) Cancel(contextID id.ID, reason string) error {
	co.ctxMu.Lock()
	e, ok := co.contexts[contextID]
	co.ctxMu.Unlock()
	if !ok {
		return fmt.Errorf("coordinator: cancelling context: %w", coreerr.ErrContextNotFound)
	}
	return co.schedulers[e.schedIndex].Cancel(contextID, reason)
}

// Run ticks the Coordinator on its own until ctx is cancelled, paced at
// cfg.TickHz via a rate.Limiter — a ready-made driver for a host that
// doesn't want to hand-roll its own ticker (spec §6: "tick_hz (default
// 60) - scheduler tick frequency").
func (co *Coordinator) Run(ctx context.Context) error {
	hz := co.cfg.TickHz
	if hz <= 0 {
		hz = 60
	}
	limiter := rate.NewLimiter(rate.Limit(hz), 1)

	for {
		if err := limiter.Wait(ctx); err != nil {
			return ctx.Err()
		}
		co.TickAll(co.clock.Now())
	}
}
