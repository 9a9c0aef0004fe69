package scheduler

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/solifugus/decisioncore/internal/blackboard"
	"github.com/solifugus/decisioncore/internal/bt"
	"github.com/solifugus/decisioncore/internal/clock"
	"github.com/solifugus/decisioncore/internal/id"
	"github.com/solifugus/decisioncore/internal/registry"
)

type treeSet map[id.ID]*bt.Compiled

func (s treeSet) Tree(treeID bt.TreeID) (*bt.Compiled, bool) {
	c, ok := s[treeID]
	return c, ok
}

func newEnv(mc *clock.Manual, reg *registry.Registry, trees treeSet) *bt.Env {
	bb := blackboard.New(id.New(mc.Now()), mc, 32)
	return &bt.Env{
		Trees:       trees,
		Registry:    reg,
		Blackboards: func(bt.TreeID) *blackboard.Blackboard { return bb },
		Clock:       mc,
		BaseSeed:    7,
	}
}

func TestTickRunsContextsInDeterministicIDOrder(t *testing.T) {
	mc := clock.NewManual(time.Unix(0, 0))
	reg := registry.New()
	var order []id.ID
	reg.RegisterAction("mark", func(_ map[string]any, _ *blackboard.Blackboard, ctx registry.ActionContext) registry.Result {
		order = append(order, ctx.ContextID())
		return registry.ResultSuccess
	})

	tree, err := bt.Compile(bt.Action("mark", "mark", nil), bt.DefaultLimits())
	require.NoError(t, err)
	treeID := id.New(mc.Now())
	env := newEnv(mc, reg, treeSet{treeID: tree})

	sched := New(env, Config{PerContextStepBudget: 8})

	first := bt.NewContext(id.New(mc.Now()), treeID, tree.RootID, nil, mc.Now(), 0)
	mc.Advance(time.Millisecond)
	second := bt.NewContext(id.New(mc.Now()), treeID, tree.RootID, nil, mc.Now(), 0)

	sched.Register(second, treeID)
	sched.Register(first, treeID)

	stats := sched.Tick(mc.Now())
	require.Equal(t, 2, stats.ContextsTicked)
	require.Equal(t, 2, stats.ContextsCompleted)
	require.True(t, first.ID.Compare(second.ID) < 0)
	require.Equal(t, []id.ID{first.ID, second.ID}, order)
}

func TestCancelUnwindsRegisteredContext(t *testing.T) {
	mc := clock.NewManual(time.Unix(0, 0))
	reg := registry.New()
	reg.RegisterAction("wander", func(_ map[string]any, _ *blackboard.Blackboard, ctx registry.ActionContext) registry.Result {
		if ctx.Aborted() {
			return registry.ResultFailure
		}
		return registry.ResultRunning
	})

	tree, err := bt.Compile(bt.Action("wander", "wander", nil), bt.DefaultLimits())
	require.NoError(t, err)
	treeID := id.New(mc.Now())
	env := newEnv(mc, reg, treeSet{treeID: tree})
	sched := New(env, Config{PerContextStepBudget: 8})

	ctx := bt.NewContext(id.New(mc.Now()), treeID, tree.RootID, nil, mc.Now(), 0)
	sched.Register(ctx, treeID)

	stats := sched.Tick(mc.Now())
	require.Equal(t, 0, stats.ContextsCompleted)

	require.NoError(t, sched.Cancel(ctx.ID, "shutdown"))
	stats = sched.Tick(mc.Now())
	require.Equal(t, 1, stats.ContextsCompleted)
	require.Equal(t, bt.Aborted, ctx.LastResult.Kind)
}

func TestCancelUnknownContextReturnsError(t *testing.T) {
	mc := clock.NewManual(time.Unix(0, 0))
	sched := New(newEnv(mc, registry.New(), treeSet{}), Config{})
	require.Error(t, sched.Cancel(id.New(mc.Now()), "nope"))
}

func TestActivationTimeoutForcesErrorTimeout(t *testing.T) {
	mc := clock.NewManual(time.Unix(0, 0))
	reg := registry.New()
	reg.RegisterAction("wander", func(_ map[string]any, _ *blackboard.Blackboard, ctx registry.ActionContext) registry.Result {
		if ctx.Aborted() {
			return registry.ResultFailure
		}
		return registry.ResultRunning
	})

	tree, err := bt.Compile(bt.Action("wander", "wander", nil), bt.DefaultLimits())
	require.NoError(t, err)
	treeID := id.New(mc.Now())
	env := newEnv(mc, reg, treeSet{treeID: tree})
	sched := New(env, Config{PerContextStepBudget: 8, ActivationTimeout: 5 * time.Second})

	ctx := bt.NewContext(id.New(mc.Now()), treeID, tree.RootID, nil, mc.Now(), 0)
	sched.Register(ctx, treeID)

	sched.Tick(mc.Now())
	require.False(t, ctx.Done())

	mc.Advance(10 * time.Second)
	sched.Tick(mc.Now())
	require.True(t, ctx.Done())
	require.Equal(t, bt.ResultError, ctx.LastResult.Kind)
	require.Equal(t, bt.ErrTimeout, ctx.LastResult.Reason)
}

func TestPerTickBudgetExhaustionDefersRemainingContexts(t *testing.T) {
	mc := clock.NewManual(time.Unix(0, 0))
	reg := registry.New()
	reg.RegisterAction("noop", func(map[string]any, *blackboard.Blackboard, registry.ActionContext) registry.Result {
		return registry.ResultSuccess
	})

	tree, err := bt.Compile(bt.Action("noop", "noop", nil), bt.DefaultLimits())
	require.NoError(t, err)
	treeID := id.New(mc.Now())
	env := newEnv(mc, reg, treeSet{treeID: tree})

	calls := 0
	wall := time.Unix(0, 0)
	sched := New(env, Config{
		PerContextStepBudget: 8,
		PerTickBudget:        time.Millisecond,
		WallClock: func() time.Time {
			calls++
			if calls > 2 {
				wall = wall.Add(time.Hour)
			}
			return wall
		},
	})

	for i := 0; i < 3; i++ {
		ctx := bt.NewContext(id.New(mc.Now()), treeID, tree.RootID, nil, mc.Now(), 0)
		mc.Advance(time.Microsecond)
		sched.Register(ctx, treeID)
	}

	stats := sched.Tick(mc.Now())
	require.True(t, stats.BudgetExhausted)
	require.Less(t, stats.ContextsTicked, 3)
}
