package coordinator

import (
	"time"

	"github.com/solifugus/decisioncore/internal/bt"
	"github.com/solifugus/decisioncore/internal/id"
)

// Metadata is purely descriptive, host-facing bookkeeping carried over
// from the original's BehaviorTreeMetadata (SPEC_FULL.md Supplemented
// Features) — no core behavior reads it.
type Metadata struct {
	Author      string
	Version     string
	Description string
	Tags        []string
}

// Tree is one compiled tree plus the Blackboard it exclusively owns
// (spec §3: "each Blackboard is exclusively owned by exactly one Tree").
type Tree struct {
	ID          bt.TreeID
	Compiled    *bt.Compiled
	BlackboardID id.ID
	Metadata    Metadata
	CreatedAt   time.Time
}

// TreeState is a coarse Coordinator-facing status distinct from a single
// activation's Result (SPEC_FULL.md Supplemented Features, grounded on
// the original's BehaviorTreeState). Paused is defined for a host that
// wants to stop ticking a context without Cancel/Deregister — the
// Coordinator never assigns it itself, since it has no pause operation
// of its own; it only ever derives Idle/Running/Completed/Error from a
// context's own Ticks/Done/LastResult.
type TreeState int

const (
	StateIdle TreeState = iota
	StateRunning
	StatePaused
	StateCompleted
	StateError
)

func (s TreeState) String() string {
	switch s {
	case StateIdle:
		return "Idle"
	case StateRunning:
		return "Running"
	case StatePaused:
		return "Paused"
	case StateCompleted:
		return "Completed"
	case StateError:
		return "Error"
	default:
		return "Unknown"
	}
}

func deriveState(ctx *bt.Context) TreeState {
	if !ctx.Done() {
		if ctx.Ticks == 0 {
			return StateIdle
		}
		return StateRunning
	}
	if ctx.LastResult != nil && ctx.LastResult.Kind == bt.ResultError {
		return StateError
	}
	return StateCompleted
}
