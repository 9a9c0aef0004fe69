package bt

import (
	"github.com/solifugus/decisioncore/internal/blackboard"
	"github.com/solifugus/decisioncore/internal/clock"
	"github.com/solifugus/decisioncore/internal/prng"
	"github.com/solifugus/decisioncore/internal/registry"
)

// TreeLookup resolves a TreeID to its Compiled arena, letting SubTree
// leaves cross into another tree without the engine needing to know
// about the Coordinator that owns the tree set.
type TreeLookup interface {
	Tree(treeID TreeID) (*Compiled, bool)
}

// BlackboardLookup resolves a Context's home tree to the one Blackboard
// it exclusively owns (spec §3: "each Blackboard is exclusively owned
// by exactly one Tree; multiple Contexts of the same Tree share it").
// This is keyed by the Context's own TreeID, not a pushed Frame's — a
// SubTree leaf "shares the parent's blackboard" (spec §4.2), it does
// not switch to the target tree's blackboard, so every leaf in an
// activation resolves the blackboard the same way regardless of which
// tree's arena it is currently executing nodes from.
type BlackboardLookup func(treeID TreeID) *blackboard.Blackboard

// Env bundles everything a step needs beyond the Context and Frontier it
// is advancing: the tree set, the action/condition registry, the
// per-tree blackboard lookup, a clock for Timer/Cooldown/Timeout/Wait,
// and the base seed for deterministic draws.
type Env struct {
	Trees       TreeLookup
	Registry    *registry.Registry
	Blackboards BlackboardLookup
	Clock       clock.Clock
	BaseSeed    uint64
}

type outcomeKind int

const (
	outcomePush outcomeKind = iota
	outcomeSuspend
	outcomeTerminal
)

type outcome struct {
	kind       outcomeKind
	pushTreeID TreeID
	pushNodeID int
	terminal   Result
}

func push(treeID TreeID, nodeID int) outcome {
	return outcome{kind: outcomePush, pushTreeID: treeID, pushNodeID: nodeID}
}
func suspend() outcome            { return outcome{kind: outcomeSuspend} }
func terminal(r Result) outcome   { return outcome{kind: outcomeTerminal, terminal: r} }
func terminalOK(r ResultKind) outcome { return terminal(Result{Kind: r}) }

// Step advances ctx by at most stepBudget node-steps (spec §4.3): while
// budget remains and the top frame isn't suspended, step the top frame
// once. Returns the context's result and whether it is now terminal.
// A non-terminal return with no error means the context is still
// Running — either it exhausted its budget or it suspended waiting on a
// timer/host action, and the caller should call Step again on a later
// tick.
func Step(ctx *Context, env *Env, stepBudget int) (Result, bool) {
	if ctx.done {
		return *ctx.LastResult, true
	}
	// One Step call per scheduler tick: advance the tick component of the
	// PRNG draw key used by RandomSelector and RandomSuccess/RandomFailure.
	ctx.tickIndex++

	for i := 0; i < stepBudget; i++ {
		if len(ctx.Frontier) == 0 {
			break
		}

		if r := sweepTimeouts(&ctx.Frontier, ctx, env); r != nil {
			ctx.LastResult = r
			ctx.done = true
			ctx.subtreeStack = nil
			return *r, true
		}
		if len(ctx.Frontier) == 0 {
			break
		}

		result, suspended := stepOnce(&ctx.Frontier, ctx, env)
		ctx.Ticks++
		if result != nil {
			if ctx.timeoutRequested && result.Kind == Aborted {
				final := errResult(ErrTimeout)
				result = &final
			}
			ctx.LastResult = result
			ctx.done = true
			ctx.subtreeStack = nil
			return *result, true
		}
		if suspended {
			break
		}
	}

	r := running()
	if ctx.LastResult != nil {
		r = *ctx.LastResult
	}
	return r, ctx.done
}

// stepOnce advances frontier by exactly one Enter or Resume call on its
// top frame. result is non-nil only once frontier has fully unwound
// (the whole context reached a terminal result); suspended reports
// whether the top frame yielded Running this call (no further progress
// possible until the next tick).
func stepOnce(frontier *[]*Frame, ctx *Context, env *Env) (result *Result, suspended bool) {
	if len(*frontier) == 0 {
		return nil, false
	}
	top := (*frontier)[len(*frontier)-1]
	tree, ok := env.Trees.Tree(top.TreeID)
	if !ok {
		out := terminal(errResult(ErrUnknownSubTree))
		return collapseTerminal(frontier, out.terminal)
	}
	node := tree.Node(top.NodeID)

	var out outcome
	if top.Phase == PhaseEnter {
		ctx.recordTrace(TraceEntry{At: env.Clock.Now(), NodeID: node.ID, Kind: node.Kind, Event: "enter"})
		out = dispatchEnter(node, top, ctx, env)
	} else {
		out = dispatchResume(node, top, ctx, env, top.PendingResult)
	}

	switch out.kind {
	case outcomePush:
		child := &Frame{TreeID: out.pushTreeID, NodeID: out.pushNodeID, Phase: PhaseEnter, StartedAt: env.Clock.Now()}
		*frontier = append(*frontier, child)
		return nil, false
	case outcomeSuspend:
		return nil, true
	case outcomeTerminal:
		ctx.recordTrace(TraceEntry{At: env.Clock.Now(), NodeID: node.ID, Kind: node.Kind, Event: out.terminal.String()})
		return collapseTerminal(frontier, out.terminal)
	}
	return nil, false
}

// setPendingOrFinal hands r to the new top frame as a pending Resume, or
// — if frontier is now empty — returns it as the whole stack's final
// result.
func setPendingOrFinal(frontier *[]*Frame, r Result) *Result {
	if len(*frontier) == 0 {
		out := r
		return &out
	}
	newTop := (*frontier)[len(*frontier)-1]
	newTop.Phase = PhaseResume
	newTop.PendingResult = r
	return nil
}

// collapseTerminal pops the frontier's top frame with the given result
// and threads it to whatever is now on top via setPendingOrFinal.
func collapseTerminal(frontier *[]*Frame, r Result) (*Result, bool) {
	*frontier = (*frontier)[:len(*frontier)-1]
	return setPendingOrFinal(frontier, r), false
}

// sweepTimeouts finds the outermost Timeout frame whose bound has
// elapsed while its child subtree is still active above it on frontier,
// force-aborts that subtree, and collapses the Timeout frame itself
// straight to Failure (spec §3: Timeout "cancels the child subtree
// ... and yields Failure" — the child is Aborted, but Timeout's own
// result to its parent is Failure, not Aborted). A Timeout buried under
// a Running descendant is never itself the frontier's top frame, so
// without this sweep it would never get a chance to notice its own
// expiry. Returns non-nil only if the swept Timeout was the frontier's
// last frame, ending the whole context.
func sweepTimeouts(frontier *[]*Frame, ctx *Context, env *Env) *Result {
	now := env.Clock.Now()
	for i := 0; i < len(*frontier)-1; i++ {
		f := (*frontier)[i]
		tree, ok := env.Trees.Tree(f.TreeID)
		if !ok {
			continue
		}
		node := tree.Node(f.NodeID)
		if node.Kind != KindTimeout {
			continue
		}
		if now.Sub(f.StartedAt) <= node.Duration {
			continue
		}

		sub := append([]*Frame(nil), (*frontier)[i+1:]...)
		abortFrontier(&sub, ctx, env)

		*frontier = (*frontier)[:i]
		return setPendingOrFinal(frontier, failure())
	}
	return nil
}

// abortFrontier drives frontier to completion under a temporarily
// forced cancel signal, so any host Action still on it gets one more
// re-entry to observe Aborted() and react, exactly as a real
// ctx.Cancel() would unwind it — but scoped to just this subtree, so
// sibling branches elsewhere in the same context are unaffected. Used
// both by sweepTimeouts (a Timeout's own expiry) and by Parallel when a
// policy decision abandons still-running lanes.
func abortFrontier(frontier *[]*Frame, ctx *Context, env *Env) Result {
	prev := ctx.cancelRequested
	ctx.cancelRequested = true
	last := aborted()
	for len(*frontier) > 0 {
		r, _ := stepOnce(frontier, ctx, env)
		if r != nil {
			last = *r
		}
	}
	ctx.cancelRequested = prev
	return last
}

func dispatchEnter(node *Node, frame *Frame, ctx *Context, env *Env) outcome {
	if ctx.cancelRequested && node.Kind != KindAction {
		return terminalOK(Aborted)
	}

	switch node.Kind {
	case KindSequence, KindSelector:
		return compositeSequenceSelectorEnter(node, frame)
	case KindParallel:
		return parallelEnter(node, frame, ctx, env)
	case KindRandomSelector:
		return randomSelectorEnter(node, frame, ctx, env)
	case KindInvert, KindForceSuccess, KindForceFailure:
		return push(frame.TreeID, node.Children[0])
	case KindRepeat:
		return repeatEnter(node, frame)
	case KindRetryUntilSuccess, KindRetryUntilFailure:
		return push(frame.TreeID, node.Children[0])
	case KindTimer:
		return timerEnter(node, frame, env)
	case KindCooldown:
		return cooldownEnter(node, frame, ctx, env)
	case KindTimeout:
		return push(frame.TreeID, node.Children[0])
	case KindRandomSuccess, KindRandomFailure:
		return randomCoerceEnter(node, frame, ctx, env)
	case KindAction:
		return actionStep(node, ctx, env)
	case KindCondition:
		return conditionStep(node, ctx, env)
	case KindWait:
		return waitStep(node, frame, env)
	case KindSubTree:
		return subTreeEnter(node, ctx, env)
	}
	return terminalOK(Failure)
}

func dispatchResume(node *Node, frame *Frame, ctx *Context, env *Env, childResult Result) outcome {
	switch node.Kind {
	case KindSequence:
		return sequenceResume(node, frame, childResult)
	case KindSelector:
		return selectorResume(node, frame, childResult)
	case KindRandomSelector:
		return randomSelectorResume(node, frame, childResult)
	case KindInvert:
		return invertResume(childResult)
	case KindRepeat:
		return repeatResume(node, frame, childResult)
	case KindRetryUntilSuccess:
		return retryUntilSuccessResume(node, frame, childResult)
	case KindRetryUntilFailure:
		return retryUntilFailureResume(node, frame, childResult)
	case KindTimer:
		return terminal(childResult)
	case KindCooldown:
		return cooldownResume(node, ctx, env, childResult)
	case KindTimeout:
		// Reached only if the child finished before the timeout swept it.
		return terminal(childResult)
	case KindForceSuccess:
		return forceResume(childResult, Success)
	case KindForceFailure:
		return forceResume(childResult, Failure)
	case KindRandomSuccess:
		return randomCoerceResume(node, frame, childResult, Success)
	case KindRandomFailure:
		return randomCoerceResume(node, frame, childResult, Failure)
	case KindSubTree:
		return subTreeResume(ctx, childResult)
	}
	return terminal(childResult)
}

// --- Composite: Sequence / Selector ---

func compositeSequenceSelectorEnter(node *Node, frame *Frame) outcome {
	frame.State = &SequenceState{NextChildIndex: 0}
	return push(frame.TreeID, node.Children[0])
}

func sequenceResume(node *Node, frame *Frame, childResult Result) outcome {
	state := frame.State.(*SequenceState)
	switch childResult.Kind {
	case Success:
		state.NextChildIndex++
		if state.NextChildIndex >= len(node.Children) {
			return terminalOK(Success)
		}
		return push(frame.TreeID, node.Children[state.NextChildIndex])
	case Failure:
		return terminalOK(Failure)
	case Aborted:
		return terminalOK(Aborted)
	default:
		return terminal(childResult)
	}
}

func selectorResume(node *Node, frame *Frame, childResult Result) outcome {
	state := frame.State.(*SequenceState)
	switch childResult.Kind {
	case Failure:
		state.NextChildIndex++
		if state.NextChildIndex >= len(node.Children) {
			return terminalOK(Failure)
		}
		return push(frame.TreeID, node.Children[state.NextChildIndex])
	case Success:
		return terminalOK(Success)
	case Aborted:
		return terminalOK(Aborted)
	default:
		return terminal(childResult)
	}
}

// --- Composite: RandomSelector ---

func randomSelectorEnter(node *Node, frame *Frame, ctx *Context, env *Env) outcome {
	idx := prng.WeightedIndex(node.Weights, env.BaseSeed, ctx.ID, node.ID, ctx.tickIndex)
	frame.State = &RandomSelectorState{StartIndex: idx, Current: idx}
	return push(frame.TreeID, node.Children[idx])
}

func randomSelectorResume(node *Node, frame *Frame, childResult Result) outcome {
	state := frame.State.(*RandomSelectorState)
	switch childResult.Kind {
	case Success:
		return terminalOK(Success)
	case Failure:
		state.Visited++
		if state.Visited >= len(node.Children) {
			return terminalOK(Failure)
		}
		state.Current = (state.Current + 1) % len(node.Children)
		return push(frame.TreeID, node.Children[state.Current])
	case Aborted:
		return terminalOK(Aborted)
	default:
		return terminal(childResult)
	}
}

// --- Composite: Parallel ---

func parallelEnter(node *Node, frame *Frame, ctx *Context, env *Env) outcome {
	state, ok := frame.State.(*ParallelState)
	if !ok {
		state = &ParallelState{Lanes: make([]*lane, len(node.Children))}
		for i, childID := range node.Children {
			state.Lanes[i] = &lane{Frontier: []*Frame{{TreeID: frame.TreeID, NodeID: childID, Phase: PhaseEnter, StartedAt: env.Clock.Now()}}}
		}
		frame.State = state
	}

	var successCount, failureCount, runningCount int
	abortedSeen := false

	for _, ln := range state.Lanes {
		if ln.Result == nil {
			if r := sweepTimeouts(&ln.Frontier, ctx, env); r != nil {
				ln.Result = r
			} else if len(ln.Frontier) > 0 {
				r, _ := stepOnce(&ln.Frontier, ctx, env)
				if r != nil {
					ln.Result = r
				}
			}
		}
		switch {
		case ln.Result == nil:
			runningCount++
		case ln.Result.Kind == Success:
			successCount++
		case ln.Result.Kind == Failure:
			failureCount++
		case ln.Result.Kind == Aborted:
			abortedSeen = true
		case ln.Result.Kind == ResultError:
			return terminal(*ln.Result)
		}
	}

	if abortedSeen {
		abortRemainingLanes(state, ctx, env)
		return terminalOK(Aborted)
	}

	total := len(node.Children)
	switch node.ParallelPolicy {
	case RequireAll:
		if failureCount > 0 {
			abortRemainingLanes(state, ctx, env)
			return terminalOK(Failure)
		}
		if successCount == total {
			return terminalOK(Success)
		}
		return suspend()
	case RequireOne:
		if successCount > 0 {
			abortRemainingLanes(state, ctx, env)
			return terminalOK(Success)
		}
		if failureCount == total {
			return terminalOK(Failure)
		}
		return suspend()
	case Quorum:
		k := node.ParallelQuorum
		if successCount >= k {
			abortRemainingLanes(state, ctx, env)
			return terminalOK(Success)
		}
		if total-failureCount < k {
			abortRemainingLanes(state, ctx, env)
			return terminalOK(Failure)
		}
		return suspend()
	}
	return suspend()
}

// abortRemainingLanes force-completes every lane that hasn't reached a
// terminal result yet, once Parallel's own policy has already decided
// the overall outcome — giving any Running host Action in those lanes
// one last re-entry to observe Aborted() (see abortFrontier), even
// though Parallel itself reports its policy-driven Success/Failure, not
// whatever these abandoned lanes individually returned.
func abortRemainingLanes(state *ParallelState, ctx *Context, env *Env) {
	for _, ln := range state.Lanes {
		if ln.Result != nil || len(ln.Frontier) == 0 {
			continue
		}
		r := abortFrontier(&ln.Frontier, ctx, env)
		ln.Result = &r
	}
}

// --- Decorator: Invert ---

func invertResume(childResult Result) outcome {
	switch childResult.Kind {
	case Success:
		return terminalOK(Failure)
	case Failure:
		return terminalOK(Success)
	case Aborted:
		return terminalOK(Aborted)
	default:
		return terminal(childResult)
	}
}

// --- Decorator: Repeat ---

func repeatEnter(node *Node, frame *Frame) outcome {
	state, ok := frame.State.(*DecoratorState)
	if !ok {
		state = &DecoratorState{}
		frame.State = state
	}
	if node.RepeatCount != nil && state.Attempts >= *node.RepeatCount {
		return terminalOK(Success)
	}
	return push(frame.TreeID, node.Children[0])
}

// repeatResume restarts the child on any terminal result — Success or
// Failure alike — up to RepeatCount times, yielding Success once the
// count is reached. Aborted always bypasses the retry (never re-enter
// on a cancellation), and Error propagates unchanged.
func repeatResume(node *Node, frame *Frame, childResult Result) outcome {
	state := frame.State.(*DecoratorState)
	switch childResult.Kind {
	case Success, Failure:
		state.Attempts++
		if node.RepeatCount != nil && state.Attempts >= *node.RepeatCount {
			return terminalOK(Success)
		}
		return push(frame.TreeID, node.Children[0])
	case Aborted:
		return terminalOK(Aborted)
	default:
		return terminal(childResult)
	}
}

// --- Decorator: RetryUntilSuccess / RetryUntilFailure ---

func retryUntilSuccessResume(node *Node, frame *Frame, childResult Result) outcome {
	state, ok := frame.State.(*DecoratorState)
	if !ok {
		state = &DecoratorState{}
		frame.State = state
	}
	switch childResult.Kind {
	case Success:
		return terminalOK(Success)
	case Failure:
		state.Attempts++
		if state.Attempts >= node.MaxAttempts {
			return terminalOK(Failure)
		}
		return push(frame.TreeID, node.Children[0])
	case Aborted:
		return terminalOK(Aborted)
	default:
		return terminal(childResult)
	}
}

func retryUntilFailureResume(node *Node, frame *Frame, childResult Result) outcome {
	state, ok := frame.State.(*DecoratorState)
	if !ok {
		state = &DecoratorState{}
		frame.State = state
	}
	switch childResult.Kind {
	case Failure:
		return terminalOK(Failure)
	case Success:
		state.Attempts++
		if state.Attempts >= node.MaxAttempts {
			return terminalOK(Success)
		}
		return push(frame.TreeID, node.Children[0])
	case Aborted:
		return terminalOK(Aborted)
	default:
		return terminal(childResult)
	}
}

// --- Decorator: Timer ---

func timerEnter(node *Node, frame *Frame, env *Env) outcome {
	state, ok := frame.State.(*DecoratorState)
	if !ok {
		state = &DecoratorState{}
		frame.State = state
	}
	now := env.Clock.Now()
	if state.ExpiresAt == nil {
		t := now.Add(node.Duration)
		state.ExpiresAt = &t
	}
	if now.Before(*state.ExpiresAt) {
		return suspend()
	}
	return push(frame.TreeID, node.Children[0])
}

// --- Decorator: Cooldown ---

func cooldownEnter(node *Node, frame *Frame, ctx *Context, env *Env) outcome {
	if ready, ok := ctx.cooldownReadyAt[node.ID]; ok && env.Clock.Now().Before(ready) {
		return terminalOK(Failure)
	}
	return push(frame.TreeID, node.Children[0])
}

func cooldownResume(node *Node, ctx *Context, env *Env, childResult Result) outcome {
	switch childResult.Kind {
	case Success:
		ctx.cooldownReadyAt[node.ID] = env.Clock.Now().Add(node.Duration)
		return terminalOK(Success)
	case Failure:
		return terminalOK(Failure)
	case Aborted:
		return terminalOK(Aborted)
	default:
		return terminal(childResult)
	}
}

// --- Decorator: ForceSuccess / ForceFailure ---

// forceResume overrides Success/Failure with forced, but never coerces
// Aborted (cancellation must still reach the root) or Error (spec §7:
// Error is never coerced).
func forceResume(childResult Result, forced ResultKind) outcome {
	switch childResult.Kind {
	case Success, Failure:
		return terminalOK(forced)
	default:
		return terminal(childResult)
	}
}

// --- Decorator: RandomSuccess / RandomFailure ---

func randomCoerceEnter(node *Node, frame *Frame, ctx *Context, env *Env) outcome {
	state := &DecoratorState{Draw: prng.Draw(env.BaseSeed, ctx.ID, node.ID, ctx.tickIndex)}
	frame.State = state
	return push(frame.TreeID, node.Children[0])
}

// randomCoerceResume implements "on entry draw once; coerce child
// terminal accordingly": with probability node.Probability the draw
// overrides the child's Success/Failure with forced; otherwise the
// child's own result passes through. Aborted and Error always pass
// through unchanged, for the same reason as ForceSuccess/ForceFailure.
func randomCoerceResume(node *Node, frame *Frame, childResult Result, forced ResultKind) outcome {
	state := frame.State.(*DecoratorState)
	switch childResult.Kind {
	case Success, Failure:
		if state.Draw < node.Probability {
			return terminalOK(forced)
		}
		return terminal(childResult)
	default:
		return terminal(childResult)
	}
}

// --- Leaf: Action ---

// actionStep is the one node kind dispatchEnter lets run while
// ctx.cancelRequested is set, so the host gets a chance to react (stop
// an animation, release a resource) before being torn down. Whatever
// Success/Failure/Running the host returns is only honored when no
// cancellation is in effect; once cancelled, the activation always
// collapses to Aborted regardless of what the host returned, so a host
// that ignores Aborted() (or keeps returning Running) can't block the
// per_context_step_budget cancellation guarantee.
func actionStep(node *Node, ctx *Context, env *Env) outcome {
	fn, ok := env.Registry.Action(node.ActionName)
	if !ok {
		return terminal(errResult(ErrUnknownAction))
	}
	res := fn(node.Params, env.Blackboards(ctx.TreeID), ctx)
	if ctx.Aborted() {
		return terminalOK(Aborted)
	}
	switch res {
	case registry.ResultSuccess:
		return terminalOK(Success)
	case registry.ResultFailure:
		return terminalOK(Failure)
	case registry.ResultRunning:
		return suspend()
	case registry.ResultHostFailure:
		msg := ctx.hostFailureMsg
		ctx.hostFailureMsg = ""
		return terminal(errResultMsg(ErrHostFailure, msg))
	}
	return terminalOK(Failure)
}

// --- Leaf: Condition ---

func conditionStep(node *Node, ctx *Context, env *Env) outcome {
	fn, ok := env.Registry.Condition(node.ConditionName)
	if !ok {
		return terminal(errResult(ErrUnknownCondition))
	}
	v := fn(node.Params, env.Blackboards(ctx.TreeID))
	if node.ConditionNegate {
		v = !v
	}
	if v {
		return terminalOK(Success)
	}
	return terminalOK(Failure)
}

// --- Leaf: Wait ---

func waitStep(node *Node, frame *Frame, env *Env) outcome {
	state, ok := frame.State.(*WaitState)
	now := env.Clock.Now()
	if !ok {
		state = &WaitState{ResumeAt: now.Add(node.Duration)}
		frame.State = state
	}
	if now.Before(state.ResumeAt) {
		return suspend()
	}
	return terminalOK(Success)
}

// --- Leaf: SubTree ---

func subTreeEnter(node *Node, ctx *Context, env *Env) outcome {
	for _, inflight := range ctx.subtreeStack {
		if inflight == node.SubTreeID {
			return terminal(errResult(ErrCycle))
		}
	}
	tree, ok := env.Trees.Tree(node.SubTreeID)
	if !ok {
		return terminal(errResult(ErrUnknownSubTree))
	}
	ctx.subtreeStack = append(ctx.subtreeStack, node.SubTreeID)
	return push(node.SubTreeID, tree.RootID)
}

func subTreeResume(ctx *Context, childResult Result) outcome {
	if len(ctx.subtreeStack) > 0 {
		ctx.subtreeStack = ctx.subtreeStack[:len(ctx.subtreeStack)-1]
	}
	return terminal(childResult)
}
