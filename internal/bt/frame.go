package bt

import (
	"time"

	"github.com/solifugus/decisioncore/internal/id"
)

// Phase marks whether a Frame is awaiting its first step (Enter) or has
// already pushed a child and is awaiting that child's terminal result
// (Resume).
type Phase int

const (
	PhaseEnter Phase = iota
	PhaseResume
)

// Frame is one activation-frame-stack entry (spec §4.2's ActivationFrame).
// TreeID lets a frame belong to a different tree than its parent, which
// is how SubTree crosses into another tree's arena without the engine
// needing a separate call stack.
type Frame struct {
	TreeID        TreeID
	NodeID        int
	Phase         Phase
	PendingResult Result // valid only when Phase == PhaseResume
	StartedAt     time.Time

	// State holds the node-kind-specific mutable state for this single
	// activation (SequenceState, ParallelState, DecoratorState, ...). It
	// is activation-scoped: a fresh Frame always starts with State == nil,
	// and nothing outside this activation's lifetime reads it. The one
	// exception is Cooldown's readiness gate, which Context tracks
	// separately precisely because it must outlive a single activation —
	// see Context.cooldownReadyAt.
	State any
}

// TreeID identifies a Compiled tree, looked up through TreeLookup
// (engine.go) when a SubTree leaf crosses into another tree's arena.
type TreeID = id.ID

// SequenceState tracks which child is being attempted. Selector reuses
// this same shape (its resume logic just walks NextChildIndex on
// Failure instead of Success) rather than declaring an identical
// sibling type.
type SequenceState struct {
	NextChildIndex int
}

// RandomSelectorState additionally remembers the weighted starting
// index drawn on first entry (spec §3: "then behave as Selector from
// that starting child"), walking the remaining children in order,
// wrapping around, until one succeeds or all have been tried.
type RandomSelectorState struct {
	StartIndex int
	Visited    int
	Current    int
}

// DecoratorState is a small catch-all for the single-child decorators.
// Only the fields relevant to a given Kind are populated; this mirrors
// Node's own "flat record, not one struct per kind" shape.
type DecoratorState struct {
	Attempts  int        // Repeat / RetryUntilSuccess / RetryUntilFailure
	ExpiresAt *time.Time // Timer
	Draw      float64    // RandomSuccess / RandomFailure
}

// WaitState tracks a leaf Wait's deadline.
type WaitState struct {
	ResumeAt time.Time
}

// ParallelState holds one independent lane (its own activation-frame
// stack) per child, stepped at most once per round per spec §3's
// "Parallel: steps each child once per own step".
type ParallelState struct {
	Lanes []*lane
}

type lane struct {
	Frontier []*Frame
	Result   *Result // nil until this lane reaches a terminal result
}
