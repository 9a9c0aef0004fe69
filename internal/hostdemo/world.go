// Package hostdemo is a minimal stand-in host: a handful of units and
// resource nodes, and the actions/conditions a tree template can drive
// against them. It plays the role the teacher's internal/engine world
// (GameUnit, ResourceNode, commandProcessor) plays for
// behavior_actions.go, shrunk to what a runnable demo needs rather than
// a full RTS simulation.
package hostdemo

import (
	"math"
	"sync"
	"time"

	"github.com/solifugus/decisioncore/internal/blackboard"
	"github.com/solifugus/decisioncore/internal/clock"
)

// Command mirrors the teacher's CommandMove/CommandAttack/CommandGather/
// CommandBuild enum, tracked per unit instead of per issued command
// object since this demo has no separate command queue.
type Command int

const (
	CommandIdle Command = iota
	CommandMove
	CommandAttack
	CommandGather
	CommandBuild
)

// Unit is the demo stand-in for the teacher's GameUnit.
type Unit struct {
	ID        string
	Position  blackboard.Vec3
	Health    int
	MaxHealth int
	Carried   int

	Command      Command
	MoveTarget   blackboard.Vec3
	AttackTarget string
	GatherTarget string
	BuildKind    string
	BuildPct     int

	lastAdvance time.Time
}

func (u *Unit) IsAlive() bool { return u.Health > 0 }

// Resource is the demo stand-in for the teacher's ResourceNode.
type Resource struct {
	ID       string
	Position blackboard.Vec3
	Amount   int
}

// World holds the units and resources a demo tree template drives, and
// advances their active command by elapsed wall/sim time each time an
// action touches them — there is no independent world tick, the
// behavior tree's own tick cadence is what moves the simulation
// forward, same as a host embedding the coordinator would do.
type World struct {
	mu    sync.Mutex
	clock clock.Clock

	units     map[string]*Unit
	resources map[string]*Resource

	MoveSpeed    float64 // units per second
	AttackDamage int     // per attack_target invocation
	GatherRate   int     // resource units per second
	BuildRate    int     // percent per second
	CarryCap     int
}

// New builds an empty World ticked against c.
func New(c clock.Clock) *World {
	return &World{
		clock:        c,
		units:        make(map[string]*Unit),
		resources:    make(map[string]*Resource),
		MoveSpeed:    4,
		AttackDamage: 5,
		GatherRate:   10,
		BuildRate:    20,
		CarryCap:     100,
	}
}

// AddUnit registers a unit at position with full health.
func (w *World) AddUnit(id string, pos blackboard.Vec3, maxHealth int) *Unit {
	w.mu.Lock()
	defer w.mu.Unlock()
	u := &Unit{ID: id, Position: pos, Health: maxHealth, MaxHealth: maxHealth, lastAdvance: w.clock.Now()}
	w.units[id] = u
	return u
}

// AddResource registers a gatherable resource node.
func (w *World) AddResource(id string, pos blackboard.Vec3, amount int) *Resource {
	w.mu.Lock()
	defer w.mu.Unlock()
	r := &Resource{ID: id, Position: pos, Amount: amount}
	w.resources[id] = r
	return r
}

func (w *World) unit(id string) (*Unit, bool) {
	w.mu.Lock()
	defer w.mu.Unlock()
	u, ok := w.units[id]
	return u, ok
}

func (w *World) resource(id string) (*Resource, bool) {
	w.mu.Lock()
	defer w.mu.Unlock()
	r, ok := w.resources[id]
	return r, ok
}

// Units returns a shallow copy of the live unit set, for introspection.
func (w *World) Units() map[string]*Unit {
	w.mu.Lock()
	defer w.mu.Unlock()
	out := make(map[string]*Unit, len(w.units))
	for k, v := range w.units {
		cp := *v
		out[k] = &cp
	}
	return out
}

// nearestResource finds the closest non-depleted resource within range of
// pos, mirroring the teacher's IsResourceInRangeCondition search loop.
func (w *World) nearestResource(pos blackboard.Vec3, searchRange float64) (*Resource, bool) {
	w.mu.Lock()
	defer w.mu.Unlock()

	var closest *Resource
	closestDist := searchRange
	for _, r := range w.resources {
		if r.Amount <= 0 {
			continue
		}
		d := distance(pos, r.Position)
		if d <= closestDist {
			closest = r
			closestDist = d
		}
	}
	if closest == nil {
		return nil, false
	}
	cp := *closest
	return &cp, true
}

func distance(a, b blackboard.Vec3) float64 {
	dx, dy, dz := a.X-b.X, a.Y-b.Y, a.Z-b.Z
	return math.Sqrt(dx*dx + dy*dy + dz*dz)
}
