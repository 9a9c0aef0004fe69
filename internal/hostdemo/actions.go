package hostdemo

import (
	"fmt"

	"github.com/solifugus/decisioncore/internal/blackboard"
	"github.com/solifugus/decisioncore/internal/id"
	"github.com/solifugus/decisioncore/internal/registry"
)

// unitIDParam pulls the acting unit's id out of a leaf's params — every
// demo action/condition needs one, since (unlike the teacher's
// BehaviorContext.Unit) a registry callable has no binding to a single
// unit baked in; a compiled Node's params are shared across every
// context that runs it, so the unit a context drives is data, not
// structure.
func unitIDParam(params map[string]any) (string, bool) {
	v, ok := params["unit_id"]
	if !ok {
		return "", false
	}
	s, ok := v.(string)
	return s, ok && s != ""
}

func stringParam(params map[string]any, key, def string) string {
	if v, ok := params[key]; ok {
		if s, ok := v.(string); ok {
			return s
		}
	}
	return def
}

func floatParam(params map[string]any, key string, def float64) float64 {
	switch v := params[key].(type) {
	case float64:
		return v
	case int:
		return float64(v)
	default:
		return def
	}
}

// RegisterActions binds the demo action set against w (move_to,
// attack_target, gather_resource, build_structure, find_resource_in_range,
// set_blackboard_value), the data-driven equivalents of the teacher's
// MoveToPositionAction / AttackTargetAction / GatherResourceAction /
// BuildStructureAction / IsResourceInRangeCondition /
// SetBlackboardValueAction. find_resource_in_range is an action rather
// than a condition here because it writes the resource it finds to the
// blackboard — registry.ConditionFunc is documented side-effect-free and
// carries no requester identity to attribute the write to.
func RegisterActions(reg *registry.Registry, w *World) {
	reg.RegisterAction("move_to", actionMoveTo(w))
	reg.RegisterAction("attack_target", actionAttackTarget(w))
	reg.RegisterAction("gather_resource", actionGatherResource(w))
	reg.RegisterAction("build_structure", actionBuildStructure(w))
	reg.RegisterAction("find_resource_in_range", actionFindResourceInRange(w))
	reg.RegisterAction("set_blackboard_value", actionSetBlackboardValue())
}

// RegisterConditions binds the demo condition set against w (is_health_low,
// is_resource_in_range, is_carrying_resources, is_blackboard_key_set,
// is_unit_idle). Conditions only ever read World state directly or probe
// the blackboard anonymously (id.Zero) — they have no context identity to
// attribute a read to, matching registry.ConditionFunc's signature.
func RegisterConditions(reg *registry.Registry, w *World) {
	reg.RegisterCondition("is_health_low", conditionIsHealthLow(w))
	reg.RegisterCondition("is_resource_in_range", conditionIsResourceInRange(w))
	reg.RegisterCondition("is_carrying_resources", conditionIsCarryingResources(w))
	reg.RegisterCondition("is_blackboard_key_set", conditionIsBlackboardKeySet())
	reg.RegisterCondition("is_unit_idle", conditionIsUnitIdle(w))
}

func (w *World) advance(u *Unit) float64 {
	now := w.clock.Now()
	dt := now.Sub(u.lastAdvance).Seconds()
	u.lastAdvance = now
	if dt < 0 {
		dt = 0
	}
	return dt
}

func actionMoveTo(w *World) registry.ActionFunc {
	return func(params map[string]any, bb *blackboard.Blackboard, ctx registry.ActionContext) registry.Result {
		unitID, ok := unitIDParam(params)
		if !ok {
			ctx.Fail("move_to: missing unit_id param")
			return registry.ResultHostFailure
		}
		u, ok := w.unit(unitID)
		if !ok {
			ctx.Fail(fmt.Sprintf("move_to: unknown unit %q", unitID))
			return registry.ResultHostFailure
		}

		targetKey := stringParam(params, "target_key", "target_position")
		entry, ok := bb.Get(targetKey, ctx.ContextID())
		if !ok || entry.Tag != blackboard.TagVec3 {
			return registry.ResultFailure
		}
		target := entry.Value.(blackboard.Vec3)

		w.mu.Lock()
		defer w.mu.Unlock()

		u.Command = CommandMove
		u.MoveTarget = target

		const tolerance = 0.5
		remaining := distance(u.Position, target)
		if remaining <= tolerance {
			u.Command = CommandIdle
			return registry.ResultSuccess
		}

		dt := w.advance(u)
		step := w.MoveSpeed * dt
		if step >= remaining {
			u.Position = target
			u.Command = CommandIdle
			return registry.ResultSuccess
		}

		frac := step / remaining
		u.Position = blackboard.Vec3{
			X: u.Position.X + (target.X-u.Position.X)*frac,
			Y: u.Position.Y + (target.Y-u.Position.Y)*frac,
			Z: u.Position.Z + (target.Z-u.Position.Z)*frac,
		}
		return registry.ResultRunning
	}
}

func actionAttackTarget(w *World) registry.ActionFunc {
	return func(params map[string]any, bb *blackboard.Blackboard, ctx registry.ActionContext) registry.Result {
		unitID, ok := unitIDParam(params)
		if !ok {
			ctx.Fail("attack_target: missing unit_id param")
			return registry.ResultHostFailure
		}
		u, ok := w.unit(unitID)
		if !ok {
			ctx.Fail(fmt.Sprintf("attack_target: unknown unit %q", unitID))
			return registry.ResultHostFailure
		}

		targetKey := stringParam(params, "target_key", "attack_target")
		entry, ok := bb.Get(targetKey, ctx.ContextID())
		if !ok || entry.Tag != blackboard.TagString {
			return registry.ResultFailure
		}
		targetID := entry.Value.(string)

		target, ok := w.unit(targetID)
		if !ok || !target.IsAlive() {
			return registry.ResultSuccess
		}

		w.mu.Lock()
		defer w.mu.Unlock()
		u.Command = CommandAttack
		u.AttackTarget = targetID

		target.Health -= w.AttackDamage
		if target.Health <= 0 {
			target.Health = 0
			u.Command = CommandIdle
			return registry.ResultSuccess
		}
		return registry.ResultRunning
	}
}

func actionGatherResource(w *World) registry.ActionFunc {
	return func(params map[string]any, bb *blackboard.Blackboard, ctx registry.ActionContext) registry.Result {
		unitID, ok := unitIDParam(params)
		if !ok {
			ctx.Fail("gather_resource: missing unit_id param")
			return registry.ResultHostFailure
		}
		u, ok := w.unit(unitID)
		if !ok {
			ctx.Fail(fmt.Sprintf("gather_resource: unknown unit %q", unitID))
			return registry.ResultHostFailure
		}

		resourceKey := stringParam(params, "resource_key", "gather_target")
		entry, ok := bb.Get(resourceKey, ctx.ContextID())
		if !ok || entry.Tag != blackboard.TagString {
			return registry.ResultFailure
		}
		resourceID := entry.Value.(string)

		r, ok := w.resource(resourceID)
		if !ok || r.Amount <= 0 {
			return registry.ResultSuccess
		}

		w.mu.Lock()
		defer w.mu.Unlock()
		if u.Carried >= w.CarryCap {
			u.Command = CommandIdle
			return registry.ResultSuccess
		}
		u.Command = CommandGather
		u.GatherTarget = resourceID

		dt := w.advance(u)
		take := int(float64(w.GatherRate) * dt)
		if take <= 0 {
			take = 1
		}
		if take > r.Amount {
			take = r.Amount
		}
		if take > w.CarryCap-u.Carried {
			take = w.CarryCap - u.Carried
		}
		r.Amount -= take
		u.Carried += take

		if r.Amount <= 0 || u.Carried >= w.CarryCap {
			u.Command = CommandIdle
			return registry.ResultSuccess
		}
		return registry.ResultRunning
	}
}

func actionBuildStructure(w *World) registry.ActionFunc {
	return func(params map[string]any, bb *blackboard.Blackboard, ctx registry.ActionContext) registry.Result {
		unitID, ok := unitIDParam(params)
		if !ok {
			ctx.Fail("build_structure: missing unit_id param")
			return registry.ResultHostFailure
		}
		u, ok := w.unit(unitID)
		if !ok {
			ctx.Fail(fmt.Sprintf("build_structure: unknown unit %q", unitID))
			return registry.ResultHostFailure
		}

		buildingType := stringParam(params, "building_type", "outpost")

		w.mu.Lock()
		defer w.mu.Unlock()
		if u.Command != CommandBuild || u.BuildKind != buildingType {
			u.Command = CommandBuild
			u.BuildKind = buildingType
			u.BuildPct = 0
		}

		dt := w.advance(u)
		u.BuildPct += int(float64(w.BuildRate) * dt)
		if u.BuildPct >= 100 {
			u.BuildPct = 100
			u.Command = CommandIdle
			return registry.ResultSuccess
		}
		return registry.ResultRunning
	}
}

// actionFindResourceInRange locates the nearest non-depleted resource
// within range and records it on the blackboard under resource_key —
// the side-effecting half of the teacher's IsResourceInRangeCondition,
// split out of the predicate that reports whether one exists (see
// RegisterConditions doc comment).
func actionFindResourceInRange(w *World) registry.ActionFunc {
	return func(params map[string]any, bb *blackboard.Blackboard, ctx registry.ActionContext) registry.Result {
		unitID, ok := unitIDParam(params)
		if !ok {
			ctx.Fail("find_resource_in_range: missing unit_id param")
			return registry.ResultHostFailure
		}
		u, ok := w.unit(unitID)
		if !ok {
			ctx.Fail(fmt.Sprintf("find_resource_in_range: unknown unit %q", unitID))
			return registry.ResultHostFailure
		}
		searchRange := floatParam(params, "range", 10.0)
		resourceKey := stringParam(params, "resource_key", "gather_target")

		closest, ok := w.nearestResource(u.Position, searchRange)
		if !ok {
			return registry.ResultFailure
		}
		if err := bb.Put(resourceKey, closest.ID, blackboard.TagString, 0, ctx.ContextID()); err != nil {
			return registry.ResultFailure
		}
		return registry.ResultSuccess
	}
}

func actionSetBlackboardValue() registry.ActionFunc {
	return func(params map[string]any, bb *blackboard.Blackboard, ctx registry.ActionContext) registry.Result {
		key := stringParam(params, "key", "")
		if key == "" {
			ctx.Fail("set_blackboard_value: missing key param")
			return registry.ResultHostFailure
		}
		value, tag, err := taggedValue(params["value"])
		if err != nil {
			ctx.Fail(err.Error())
			return registry.ResultHostFailure
		}
		if err := bb.Put(key, value, tag, 0, ctx.ContextID()); err != nil {
			return registry.ResultFailure
		}
		return registry.ResultSuccess
	}
}

// taggedValue maps a YAML/JSON-decoded param value to the blackboard Tag
// it should be stored under, mirroring the teacher's untyped
// Blackboard.Set by inferring the tag from the Go type actually given.
func taggedValue(v any) (any, blackboard.Tag, error) {
	switch val := v.(type) {
	case bool:
		return val, blackboard.TagBool, nil
	case int:
		return int64(val), blackboard.TagInt64, nil
	case int64:
		return val, blackboard.TagInt64, nil
	case float64:
		return val, blackboard.TagFloat64, nil
	case string:
		return val, blackboard.TagString, nil
	case map[string]any:
		if _, hasX := val["x"]; hasX {
			return blackboard.Vec3{
				X: floatParam(val, "x", 0),
				Y: floatParam(val, "y", 0),
				Z: floatParam(val, "z", 0),
			}, blackboard.TagVec3, nil
		}
		return nil, 0, fmt.Errorf("set_blackboard_value: object value missing x/y/z")
	default:
		return nil, 0, fmt.Errorf("set_blackboard_value: unsupported value type %T", v)
	}
}

func conditionIsHealthLow(w *World) registry.ConditionFunc {
	return func(params map[string]any, bb *blackboard.Blackboard) bool {
		unitID, ok := unitIDParam(params)
		if !ok {
			return false
		}
		u, ok := w.unit(unitID)
		if !ok || u.MaxHealth == 0 {
			return false
		}
		threshold := floatParam(params, "threshold", 0.3)
		return float64(u.Health)/float64(u.MaxHealth) <= threshold
	}
}

func conditionIsResourceInRange(w *World) registry.ConditionFunc {
	return func(params map[string]any, bb *blackboard.Blackboard) bool {
		unitID, ok := unitIDParam(params)
		if !ok {
			return false
		}
		u, ok := w.unit(unitID)
		if !ok {
			return false
		}
		searchRange := floatParam(params, "range", 10.0)
		_, found := w.nearestResource(u.Position, searchRange)
		return found
	}
}

func conditionIsCarryingResources(w *World) registry.ConditionFunc {
	return func(params map[string]any, bb *blackboard.Blackboard) bool {
		unitID, ok := unitIDParam(params)
		if !ok {
			return false
		}
		u, ok := w.unit(unitID)
		if !ok {
			return false
		}
		minAmount := int(floatParam(params, "min_amount", 1))
		return u.Carried >= minAmount
	}
}

func conditionIsBlackboardKeySet() registry.ConditionFunc {
	return func(params map[string]any, bb *blackboard.Blackboard) bool {
		key := stringParam(params, "key", "")
		if key == "" {
			return false
		}
		return bb.Has(key, id.Zero)
	}
}

func conditionIsUnitIdle(w *World) registry.ConditionFunc {
	return func(params map[string]any, bb *blackboard.Blackboard) bool {
		unitID, ok := unitIDParam(params)
		if !ok {
			return false
		}
		u, ok := w.unit(unitID)
		if !ok {
			return false
		}
		return u.Command == CommandIdle
	}
}
