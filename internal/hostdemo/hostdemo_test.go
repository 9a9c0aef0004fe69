package hostdemo

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/solifugus/decisioncore/internal/blackboard"
	"github.com/solifugus/decisioncore/internal/bt"
	"github.com/solifugus/decisioncore/internal/clock"
	"github.com/solifugus/decisioncore/internal/coordinator"
	"github.com/solifugus/decisioncore/internal/registry"
)

func newHarness(t *testing.T) (*clock.Manual, *World, *coordinator.Coordinator) {
	t.Helper()
	mc := clock.NewManual(time.Unix(0, 0))
	w := New(mc)
	reg := registry.New()
	RegisterActions(reg, w)
	RegisterConditions(reg, w)

	cfg := coordinator.DefaultConfig()
	cfg.PerTickBudgetMS = 0
	cfg.ActivationTimeoutMS = 0
	co := coordinator.New(cfg, mc, reg)
	return mc, w, co
}

func TestMoveToReachesTargetOverSeveralTicks(t *testing.T) {
	mc, w, co := newHarness(t)
	w.AddUnit("scout", blackboard.Vec3{}, 100)
	w.MoveSpeed = 5

	treeID, bbID, err := co.CreateTree(bt.Sequence("root",
		bt.Action("seed", "set_blackboard_value", map[string]any{
			"key":   "target_position",
			"value": map[string]any{"x": 10.0, "y": 0.0, "z": 0.0},
		}),
		bt.Action("move", "move_to", map[string]any{"unit_id": "scout"}),
	), coordinator.Metadata{})
	require.NoError(t, err)

	cid, err := co.SpawnContext(treeID, nil)
	require.NoError(t, err)

	for i := 0; i < 10; i++ {
		mc.Advance(200 * time.Millisecond)
		co.TickAll(mc.Now())
	}

	snap, err := co.IntrospectBlackboard(bbID)
	require.NoError(t, err)
	require.Contains(t, snap, "target_position")

	u, ok := w.unit("scout")
	require.True(t, ok)
	require.InDelta(t, 10, u.Position.X, 0.01)

	q, err := co.Query(cid)
	require.NoError(t, err)
	require.Equal(t, bt.Success, q.LastResult.Kind)
}

func TestIsUnitIdleReflectsCommandState(t *testing.T) {
	_, w, _ := newHarness(t)
	w.AddUnit("worker", blackboard.Vec3{}, 50)

	cond := conditionIsUnitIdle(w)
	require.True(t, cond(map[string]any{"unit_id": "worker"}, nil))

	u, _ := w.unit("worker")
	u.Command = CommandGather
	require.False(t, cond(map[string]any{"unit_id": "worker"}, nil))
}

func TestIsHealthLowUsesThreshold(t *testing.T) {
	_, w, _ := newHarness(t)
	w.AddUnit("soldier", blackboard.Vec3{}, 100)
	u, _ := w.unit("soldier")
	u.Health = 20

	cond := conditionIsHealthLow(w)
	require.True(t, cond(map[string]any{"unit_id": "soldier", "threshold": 0.3}, nil))

	u.Health = 80
	require.False(t, cond(map[string]any{"unit_id": "soldier", "threshold": 0.3}, nil))
}

func TestGatherResourceDepletesNodeAndFillsCarry(t *testing.T) {
	mc := clock.NewManual(time.Unix(0, 0))
	w := New(mc)
	w.GatherRate = 50
	w.CarryCap = 100
	reg := registry.New()
	RegisterActions(reg, w)

	w.AddUnit("miner", blackboard.Vec3{}, 100)
	w.AddResource("node1", blackboard.Vec3{}, 40)

	cfg := coordinator.DefaultConfig()
	cfg.PerTickBudgetMS = 0
	cfg.ActivationTimeoutMS = 0
	co := coordinator.New(cfg, mc, reg)

	treeID, bbID, err := co.CreateTree(bt.Sequence("root",
		bt.Action("seed", "set_blackboard_value", map[string]any{"key": "gather_target", "value": "node1"}),
		bt.Action("gather", "gather_resource", map[string]any{"unit_id": "miner"}),
	), coordinator.Metadata{})
	require.NoError(t, err)

	cid, err := co.SpawnContext(treeID, nil)
	require.NoError(t, err)

	for i := 0; i < 5; i++ {
		mc.Advance(time.Second)
		co.TickAll(mc.Now())
	}

	snap, err := co.IntrospectBlackboard(bbID)
	require.NoError(t, err)
	require.Contains(t, snap, "gather_target")

	u, ok := w.unit("miner")
	require.True(t, ok)
	require.Greater(t, u.Carried, 0)

	r, ok := w.resource("node1")
	require.True(t, ok)
	require.Equal(t, 0, r.Amount)

	q, err := co.Query(cid)
	require.NoError(t, err)
	require.NotNil(t, q.LastResult)
}

func TestFindResourceInRangeWritesClosestMatch(t *testing.T) {
	mc := clock.NewManual(time.Unix(0, 0))
	w := New(mc)
	w.AddUnit("scout", blackboard.Vec3{}, 100)
	w.AddResource("far", blackboard.Vec3{X: 9}, 10)
	w.AddResource("near", blackboard.Vec3{X: 2}, 10)

	reg := registry.New()
	RegisterActions(reg, w)

	cfg := coordinator.DefaultConfig()
	cfg.PerTickBudgetMS = 0
	cfg.ActivationTimeoutMS = 0
	co := coordinator.New(cfg, mc, reg)

	treeID, bbID, err := co.CreateTree(bt.Action("find", "find_resource_in_range", map[string]any{
		"unit_id": "scout",
		"range":   20.0,
	}), coordinator.Metadata{})
	require.NoError(t, err)

	_, err = co.SpawnContext(treeID, nil)
	require.NoError(t, err)
	co.TickAll(mc.Now())

	snap, err := co.IntrospectBlackboard(bbID)
	require.NoError(t, err)
	entry, ok := snap["gather_target"]
	require.True(t, ok)
	require.Equal(t, "near", entry.Value)
}
