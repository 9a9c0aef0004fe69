package coordinator

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/solifugus/decisioncore/internal/blackboard"
	"github.com/solifugus/decisioncore/internal/bt"
	"github.com/solifugus/decisioncore/internal/clock"
	"github.com/solifugus/decisioncore/internal/coreerr"
	"github.com/solifugus/decisioncore/internal/id"
	"github.com/solifugus/decisioncore/internal/registry"
)

func testConfig() Config {
	cfg := DefaultConfig()
	cfg.PerTickBudgetMS = 0
	cfg.ActivationTimeoutMS = 0
	return cfg
}

// Scenario 1 (spec §8): Sequence[Condition(has_target)->false, Action(attack)].
func TestSequenceFailsWithoutEvaluatingSecondChild(t *testing.T) {
	mc := clock.NewManual(time.Unix(0, 0))
	reg := registry.New()
	attackCalls := 0
	reg.RegisterAction("attack", func(map[string]any, *blackboard.Blackboard, registry.ActionContext) registry.Result {
		attackCalls++
		return registry.ResultSuccess
	})
	reg.RegisterCondition("has_target", func(map[string]any, *blackboard.Blackboard) bool { return false })

	co := New(testConfig(), mc, reg)
	treeID, _, err := co.CreateTree(bt.Sequence("root",
		bt.Condition("c1", "has_target", nil, false),
		bt.Action("a1", "attack", nil),
	), Metadata{})
	require.NoError(t, err)

	cid, err := co.SpawnContext(treeID, nil)
	require.NoError(t, err)

	co.TickAll(mc.Now())

	q, err := co.Query(cid)
	require.NoError(t, err)
	require.Equal(t, bt.Failure, q.LastResult.Kind)
	require.Equal(t, 0, attackCalls)
}

// Scenario 2 (spec §8): Selector[Condition(low_hp), Action(flee), Action(idle)].
func TestSelectorShortCircuitsOnFirstSuccess(t *testing.T) {
	mc := clock.NewManual(time.Unix(0, 0))
	reg := registry.New()
	fleeCalls, idleCalls := 0, 0
	reg.RegisterCondition("low_hp", func(map[string]any, *blackboard.Blackboard) bool { return true })
	reg.RegisterAction("flee", func(map[string]any, *blackboard.Blackboard, registry.ActionContext) registry.Result {
		fleeCalls++
		return registry.ResultSuccess
	})
	reg.RegisterAction("idle", func(map[string]any, *blackboard.Blackboard, registry.ActionContext) registry.Result {
		idleCalls++
		return registry.ResultSuccess
	})

	co := New(testConfig(), mc, reg)
	treeID, _, err := co.CreateTree(bt.Selector("root",
		bt.Condition("c1", "low_hp", nil, false),
		bt.Action("a1", "flee", nil),
		bt.Action("a2", "idle", nil),
	), Metadata{})
	require.NoError(t, err)

	cid, err := co.SpawnContext(treeID, nil)
	require.NoError(t, err)

	co.TickAll(mc.Now())

	q, err := co.Query(cid)
	require.NoError(t, err)
	require.Equal(t, bt.Success, q.LastResult.Kind)
	require.Equal(t, 0, fleeCalls)
	require.Equal(t, 0, idleCalls)
}

// Scenario 3 (spec §8): Cooldown(500ms) wrapping Action(shout)->Success,
// ticked every 100ms from t=0.
func TestCooldownGatesShoutEveryFiveHundredMillis(t *testing.T) {
	mc := clock.NewManual(time.Unix(0, 0))
	reg := registry.New()
	shoutCalls := 0
	reg.RegisterAction("shout", func(map[string]any, *blackboard.Blackboard, registry.ActionContext) registry.Result {
		shoutCalls++
		return registry.ResultSuccess
	})

	co := New(testConfig(), mc, reg)
	treeID, _, err := co.CreateTree(bt.Cooldown("root", 500*time.Millisecond,
		bt.Action("shout-leaf", "shout", nil),
	), Metadata{})
	require.NoError(t, err)

	cid, err := co.SpawnContext(treeID, nil)
	require.NoError(t, err)

	var results []bt.ResultKind
	for i := 0; i < 6; i++ {
		co.TickAll(mc.Now())
		q, err := co.Query(cid)
		require.NoError(t, err)
		results = append(results, q.LastResult.Kind)
		mc.Advance(100 * time.Millisecond)
	}

	require.Equal(t, bt.Success, results[0]) // t=0
	require.Equal(t, bt.Failure, results[1]) // t=100
	require.Equal(t, bt.Failure, results[2]) // t=200
	require.Equal(t, bt.Failure, results[3]) // t=300
	require.Equal(t, bt.Failure, results[4]) // t=400
	require.Equal(t, bt.Success, results[5]) // t=500
	require.Equal(t, 2, shoutCalls)
}

// Scenario 4 (spec §8): Timeout(300ms) wrapping Action(dig) that never
// terminates on its own.
func TestTimeoutForcesFailureAndAbortsDigExactlyOnce(t *testing.T) {
	mc := clock.NewManual(time.Unix(0, 0))
	reg := registry.New()
	var mu sync.Mutex
	digCalls, digAborts := 0, 0
	reg.RegisterAction("dig", func(_ map[string]any, _ *blackboard.Blackboard, ctx registry.ActionContext) registry.Result {
		mu.Lock()
		digCalls++
		if ctx.Aborted() {
			digAborts++
		}
		mu.Unlock()
		return registry.ResultRunning
	})

	co := New(testConfig(), mc, reg)
	treeID, _, err := co.CreateTree(bt.Timeout("root", 300*time.Millisecond,
		bt.Action("dig-leaf", "dig", nil),
	), Metadata{})
	require.NoError(t, err)

	cid, err := co.SpawnContext(treeID, nil)
	require.NoError(t, err)

	var last bt.ResultKind
	for i := 0; i < 5; i++ {
		co.TickAll(mc.Now())
		q, err := co.Query(cid)
		require.NoError(t, err)
		if q.LastResult != nil {
			last = q.LastResult.Kind
		}
		mc.Advance(100 * time.Millisecond)
	}

	require.Equal(t, bt.Failure, last)
	mu.Lock()
	require.Equal(t, 1, digAborts)
	mu.Unlock()
}

// Scenario 5 (spec §8): Parallel RequireOne over [a->Failure after 2
// steps, b->Success after 3 steps].
func TestParallelRequireOneSucceedsWithoutRestepppingFailedLane(t *testing.T) {
	mc := clock.NewManual(time.Unix(0, 0))
	reg := registry.New()
	var mu sync.Mutex
	aSteps, bSteps := 0, 0
	reg.RegisterAction("a", func(map[string]any, *blackboard.Blackboard, registry.ActionContext) registry.Result {
		mu.Lock()
		aSteps++
		n := aSteps
		mu.Unlock()
		if n >= 2 {
			return registry.ResultFailure
		}
		return registry.ResultRunning
	})
	reg.RegisterAction("b", func(map[string]any, *blackboard.Blackboard, registry.ActionContext) registry.Result {
		mu.Lock()
		bSteps++
		n := bSteps
		mu.Unlock()
		if n >= 3 {
			return registry.ResultSuccess
		}
		return registry.ResultRunning
	})

	co := New(testConfig(), mc, reg)
	treeID, _, err := co.CreateTree(bt.Parallel("root", bt.RequireOne, 0,
		bt.Action("a-leaf", "a", nil),
		bt.Action("b-leaf", "b", nil),
	), Metadata{})
	require.NoError(t, err)

	cid, err := co.SpawnContext(treeID, nil)
	require.NoError(t, err)

	var q QueryResult
	for i := 0; i < 3; i++ {
		co.TickAll(mc.Now())
		q, err = co.Query(cid)
		require.NoError(t, err)
		mc.Advance(10 * time.Millisecond)
	}

	require.Equal(t, bt.Success, q.LastResult.Kind)
	mu.Lock()
	require.Equal(t, 2, aSteps)
	require.Equal(t, 3, bSteps)
	mu.Unlock()
}

// Scenario 6 (spec §8): many contexts on the same tree, ticked repeatedly;
// total invocations match the tree structure and no TagMismatch occurs.
func TestManyContextsOnSameTreeInvokeActionExactlyOncePerContext(t *testing.T) {
	mc := clock.NewManual(time.Unix(0, 0))
	reg := registry.New()
	var mu sync.Mutex
	invocations := 0
	reg.RegisterAction("x", func(map[string]any, *blackboard.Blackboard, registry.ActionContext) registry.Result {
		mu.Lock()
		invocations++
		mu.Unlock()
		return registry.ResultSuccess
	})

	co := New(testConfig(), mc, reg)
	treeID, _, err := co.CreateTree(bt.Action("root", "x", nil), Metadata{})
	require.NoError(t, err)

	const contextCount = 1000
	ids := make([]id.ID, contextCount)
	for i := 0; i < contextCount; i++ {
		cid, err := co.SpawnContext(treeID, nil)
		require.NoError(t, err)
		ids[i] = cid
	}

	// root is a single Action leaf: every context terminates on its first
	// step, so invocations settles at exactly contextCount after the
	// first tick and stays there across the remaining ticks.
	const tickCount = 10
	for i := 0; i < tickCount; i++ {
		co.TickAll(mc.Now())
		mc.Advance(10 * time.Millisecond)
	}

	for _, cid := range ids {
		q, err := co.Query(cid)
		require.NoError(t, err)
		require.Equal(t, StateCompleted, q.State)
		require.Equal(t, bt.Success, q.LastResult.Kind)
	}

	mu.Lock()
	require.Equal(t, contextCount, invocations)
	mu.Unlock()
}

func TestCreateTreeRejectsSubTreeToUnknownTarget(t *testing.T) {
	mc := clock.NewManual(time.Unix(0, 0))
	co := New(testConfig(), mc, registry.New())

	_, _, err := co.CreateTree(bt.Sequence("root",
		bt.SubTree("missing", id.New(mc.Now())),
	), Metadata{})
	require.ErrorIs(t, err, coreerr.ErrUnknownChild)
}

func TestCreateTreeRejectsDepthOverLimit(t *testing.T) {
	mc := clock.NewManual(time.Unix(0, 0))
	cfg := testConfig()
	cfg.MaxTreeDepth = 2
	co := New(cfg, mc, registry.New())

	_, _, err := co.CreateTree(bt.Invert("a", bt.Invert("b", bt.Invert("c", bt.Wait("leaf", 0)))), Metadata{})
	require.Error(t, err)
}

func TestSpawnContextUnknownTreeReturnsError(t *testing.T) {
	mc := clock.NewManual(time.Unix(0, 0))
	co := New(testConfig(), mc, registry.New())
	_, err := co.SpawnContext(id.New(mc.Now()), nil)
	require.ErrorIs(t, err, coreerr.ErrTreeNotFound)
}

func TestIntrospectBlackboardReturnsSnapshotAfterPut(t *testing.T) {
	mc := clock.NewManual(time.Unix(0, 0))
	reg := registry.New()
	reg.RegisterAction("remember", func(_ map[string]any, bb *blackboard.Blackboard, ctx registry.ActionContext) registry.Result {
		_ = bb.Put("seen", true, blackboard.TagBool, 0, ctx.ContextID())
		return registry.ResultSuccess
	})

	co := New(testConfig(), mc, reg)
	treeID, bbID, err := co.CreateTree(bt.Action("root", "remember", nil), Metadata{})
	require.NoError(t, err)

	_, err = co.SpawnContext(treeID, nil)
	require.NoError(t, err)
	co.TickAll(mc.Now())

	snap, err := co.IntrospectBlackboard(bbID)
	require.NoError(t, err)
	entry, ok := snap["seen"]
	require.True(t, ok)
	require.Equal(t, true, entry.Value)
}

func TestCancelUnwindsContextThroughCoordinator(t *testing.T) {
	mc := clock.NewManual(time.Unix(0, 0))
	reg := registry.New()
	reg.RegisterAction("wander", func(_ map[string]any, _ *blackboard.Blackboard, ctx registry.ActionContext) registry.Result {
		if ctx.Aborted() {
			return registry.ResultFailure
		}
		return registry.ResultRunning
	})

	co := New(testConfig(), mc, reg)
	treeID, _, err := co.CreateTree(bt.Action("root", "wander", nil), Metadata{})
	require.NoError(t, err)

	cid, err := co.SpawnContext(treeID, nil)
	require.NoError(t, err)
	co.TickAll(mc.Now())

	require.NoError(t, co.Cancel(cid, "shutdown"))
	co.TickAll(mc.Now())

	q, err := co.Query(cid)
	require.NoError(t, err)
	require.Equal(t, bt.Aborted, q.LastResult.Kind)
	require.Equal(t, StateCompleted, q.State)
}

func TestMetricsAccumulatesCompletedContexts(t *testing.T) {
	mc := clock.NewManual(time.Unix(0, 0))
	reg := registry.New()
	reg.RegisterAction("ok", func(map[string]any, *blackboard.Blackboard, registry.ActionContext) registry.Result {
		return registry.ResultSuccess
	})

	co := New(testConfig(), mc, reg)
	treeID, _, err := co.CreateTree(bt.Action("root", "ok", nil), Metadata{})
	require.NoError(t, err)

	for i := 0; i < 5; i++ {
		_, err := co.SpawnContext(treeID, nil)
		require.NoError(t, err)
	}
	co.TickAll(mc.Now())

	m := co.Metrics()
	require.Equal(t, uint64(5), m.ContextsSpawned)
	require.Equal(t, uint64(5), m.ContextsCompleted)
	require.Equal(t, uint64(5), m.SuccessCount)
	require.Equal(t, 1, m.ActiveTrees)
}
