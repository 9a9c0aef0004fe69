package bt

import (
	"fmt"
	"time"

	"github.com/solifugus/decisioncore/internal/coreerr"
	"github.com/solifugus/decisioncore/internal/id"
)

// Kind discriminates the node variants named in spec §3. There is no
// per-kind Go type implementing a shared interface (that was the
// teacher's BehaviorNode design, and the original Rust trait-object
// design before it) — every node is one flat Node record in a tree's
// arena, and the engine switches on Kind. This is the data-model half of
// the "activation-frame stack, not recursive dispatch" redesign: a node
// is a plain value, not an object with behavior attached.
type Kind int

const (
	// Composite
	KindSequence Kind = iota
	KindSelector
	KindParallel
	KindRandomSelector

	// Decorator
	KindInvert
	KindRepeat
	KindRetryUntilSuccess
	KindRetryUntilFailure
	KindTimer
	KindCooldown
	KindTimeout
	KindForceSuccess
	KindForceFailure
	KindRandomSuccess
	KindRandomFailure

	// Leaf
	KindAction
	KindCondition
	KindWait
	KindSubTree
)

func (k Kind) String() string {
	switch k {
	case KindSequence:
		return "Sequence"
	case KindSelector:
		return "Selector"
	case KindParallel:
		return "Parallel"
	case KindRandomSelector:
		return "RandomSelector"
	case KindInvert:
		return "Invert"
	case KindRepeat:
		return "Repeat"
	case KindRetryUntilSuccess:
		return "RetryUntilSuccess"
	case KindRetryUntilFailure:
		return "RetryUntilFailure"
	case KindTimer:
		return "Timer"
	case KindCooldown:
		return "Cooldown"
	case KindTimeout:
		return "Timeout"
	case KindForceSuccess:
		return "ForceSuccess"
	case KindForceFailure:
		return "ForceFailure"
	case KindRandomSuccess:
		return "RandomSuccess"
	case KindRandomFailure:
		return "RandomFailure"
	case KindAction:
		return "Action"
	case KindCondition:
		return "Condition"
	case KindWait:
		return "Wait"
	case KindSubTree:
		return "SubTree"
	default:
		return "Unknown"
	}
}

// IsComposite, IsDecorator and IsLeaf partition Kind per spec §3's three
// families; Compile uses them to enforce each family's arity.
func (k Kind) IsComposite() bool { return k >= KindSequence && k <= KindRandomSelector }
func (k Kind) IsDecorator() bool { return k >= KindInvert && k <= KindRandomFailure }
func (k Kind) IsLeaf() bool      { return k >= KindAction && k <= KindSubTree }

// ParallelPolicy selects how Parallel aggregates its children's results.
type ParallelPolicy int

const (
	RequireAll ParallelPolicy = iota
	RequireOne
	Quorum
)

// Node is one immutable arena entry. Only the fields relevant to Kind are
// populated; the rest sit at their zero value. Children holds arena
// indices into the owning Compiled.Nodes slice.
type Node struct {
	ID       int
	Kind     Kind
	Name     string
	Children []int

	// Leaf Action/Condition parameters, passed through to the registry
	// callable verbatim.
	Params map[string]any

	// Composite: Parallel
	ParallelPolicy ParallelPolicy
	ParallelQuorum int // only meaningful when ParallelPolicy == Quorum

	// Composite: RandomSelector
	Weights []float64

	// Decorator: Condition negation lives on the leaf, not a decorator,
	// see ConditionNegate below. Repeat / RetryUntilSuccess / Failure.
	RepeatCount *int // nil == forever
	MaxAttempts int  // RetryUntilSuccess / RetryUntilFailure

	// Decorator: Timer / Cooldown / Timeout / leaf Wait all reuse Duration.
	Duration time.Duration

	// Decorator: RandomSuccess / RandomFailure
	Probability float64

	// Leaf: Action / Condition
	ActionName      string
	ConditionName   string
	ConditionNegate bool

	// Leaf: SubTree
	SubTreeID id.ID
}

// Compiled is a validated, arena-backed tree ready for execution.
type Compiled struct {
	Nodes  []Node
	RootID int
	Depth  int // depth of the deepest leaf, root counted as depth 1
	Count  int // total node count
}

func (c *Compiled) Node(nodeID int) *Node {
	return &c.Nodes[nodeID]
}

// Limits bounds tree construction (spec §3 Invariants: max_depth=20,
// max_nodes=1000).
type Limits struct {
	MaxDepth int
	MaxNodes int
}

// DefaultLimits returns the spec's stated construction limits.
func DefaultLimits() Limits {
	return Limits{MaxDepth: 20, MaxNodes: 1000}
}

// Spec is the builder-time tree description: a plain tree of pointers,
// turned into a Compiled arena by Compile. Building trees through the
// constructor functions below (Sequence, Action, Wait, ...) mirrors the
// teacher's NewXxxNode helpers, just returning data instead of objects.
type Spec struct {
	kind     Kind
	name     string
	children []*Spec
	params   map[string]any

	parallelPolicy ParallelPolicy
	parallelQuorum int
	weights        []float64

	repeatCount *int
	maxAttempts int
	duration    time.Duration
	probability float64

	actionName      string
	conditionName   string
	conditionNegate bool
	subTreeID       id.ID
}

func Sequence(name string, children ...*Spec) *Spec {
	return &Spec{kind: KindSequence, name: name, children: children}
}

func Selector(name string, children ...*Spec) *Spec {
	return &Spec{kind: KindSelector, name: name, children: children}
}

func Parallel(name string, policy ParallelPolicy, quorum int, children ...*Spec) *Spec {
	return &Spec{kind: KindParallel, name: name, children: children, parallelPolicy: policy, parallelQuorum: quorum}
}

func RandomSelector(name string, weights []float64, children ...*Spec) *Spec {
	return &Spec{kind: KindRandomSelector, name: name, children: children, weights: weights}
}

func Invert(name string, child *Spec) *Spec {
	return &Spec{kind: KindInvert, name: name, children: []*Spec{child}}
}

// Repeat executes child up to count times, or forever if count is nil.
func Repeat(name string, count *int, child *Spec) *Spec {
	return &Spec{kind: KindRepeat, name: name, children: []*Spec{child}, repeatCount: count}
}

func RetryUntilSuccess(name string, maxAttempts int, child *Spec) *Spec {
	return &Spec{kind: KindRetryUntilSuccess, name: name, children: []*Spec{child}, maxAttempts: maxAttempts}
}

func RetryUntilFailure(name string, maxAttempts int, child *Spec) *Spec {
	return &Spec{kind: KindRetryUntilFailure, name: name, children: []*Spec{child}, maxAttempts: maxAttempts}
}

func Timer(name string, d time.Duration, child *Spec) *Spec {
	return &Spec{kind: KindTimer, name: name, children: []*Spec{child}, duration: d}
}

func Cooldown(name string, d time.Duration, child *Spec) *Spec {
	return &Spec{kind: KindCooldown, name: name, children: []*Spec{child}, duration: d}
}

func Timeout(name string, d time.Duration, child *Spec) *Spec {
	return &Spec{kind: KindTimeout, name: name, children: []*Spec{child}, duration: d}
}

func ForceSuccess(name string, child *Spec) *Spec {
	return &Spec{kind: KindForceSuccess, name: name, children: []*Spec{child}}
}

func ForceFailure(name string, child *Spec) *Spec {
	return &Spec{kind: KindForceFailure, name: name, children: []*Spec{child}}
}

func RandomSuccess(name string, p float64, child *Spec) *Spec {
	return &Spec{kind: KindRandomSuccess, name: name, children: []*Spec{child}, probability: p}
}

func RandomFailure(name string, p float64, child *Spec) *Spec {
	return &Spec{kind: KindRandomFailure, name: name, children: []*Spec{child}, probability: p}
}

func Action(name, actionName string, params map[string]any) *Spec {
	return &Spec{kind: KindAction, name: name, actionName: actionName, params: params}
}

func Condition(name, conditionName string, params map[string]any, negate bool) *Spec {
	return &Spec{kind: KindCondition, name: name, conditionName: conditionName, params: params, conditionNegate: negate}
}

func Wait(name string, d time.Duration) *Spec {
	return &Spec{kind: KindWait, name: name, duration: d}
}

func SubTree(name string, treeID id.ID) *Spec {
	return &Spec{kind: KindSubTree, name: name, subTreeID: treeID}
}

// Compile validates spec against limits and flattens it into an arena in
// pre-order (parent before children, siblings in declaration order).
// Returned errors are construction-time structural failures (spec §7):
// arity violations, depth/node-count overruns.
func Compile(spec *Spec, limits Limits) (*Compiled, error) {
	c := &Compiled{}
	rootID, err := compileNode(spec, 1, c, limits)
	if err != nil {
		return nil, err
	}
	c.RootID = rootID
	c.Count = len(c.Nodes)
	return c, nil
}

func compileNode(s *Spec, depth int, c *Compiled, limits Limits) (int, error) {
	if depth > limits.MaxDepth {
		return 0, fmt.Errorf("bt: depth %d exceeds max_depth %d at node %q: %w", depth, limits.MaxDepth, s.name, coreerr.ErrDepthExceeded)
	}
	if len(c.Nodes) >= limits.MaxNodes {
		return 0, fmt.Errorf("bt: node count exceeds max_nodes %d: %w", limits.MaxNodes, coreerr.ErrNodeLimitExceeded)
	}
	if err := checkArity(s); err != nil {
		return 0, err
	}
	if depth > c.Depth {
		c.Depth = depth
	}

	nodeID := len(c.Nodes)
	c.Nodes = append(c.Nodes, Node{
		ID:              nodeID,
		Kind:            s.kind,
		Name:            s.name,
		Params:          s.params,
		ParallelPolicy:  s.parallelPolicy,
		ParallelQuorum:  s.parallelQuorum,
		Weights:         s.weights,
		RepeatCount:     s.repeatCount,
		MaxAttempts:     s.maxAttempts,
		Duration:        s.duration,
		Probability:     s.probability,
		ActionName:      s.actionName,
		ConditionName:   s.conditionName,
		ConditionNegate: s.conditionNegate,
		SubTreeID:       s.subTreeID,
	})

	childIDs := make([]int, 0, len(s.children))
	for _, child := range s.children {
		childID, err := compileNode(child, depth+1, c, limits)
		if err != nil {
			return 0, err
		}
		childIDs = append(childIDs, childID)
	}
	c.Nodes[nodeID].Children = childIDs

	return nodeID, nil
}

func checkArity(s *Spec) error {
	switch {
	case s.kind.IsComposite():
		if len(s.children) == 0 {
			return fmt.Errorf("bt: composite %q %s requires at least one child: %w", s.name, s.kind, coreerr.ErrArityViolation)
		}
		if s.kind == KindRandomSelector && len(s.weights) != len(s.children) {
			return fmt.Errorf("bt: RandomSelector %q has %d weights for %d children: %w", s.name, len(s.weights), len(s.children), coreerr.ErrArityViolation)
		}
		if s.kind == KindParallel && s.parallelPolicy == Quorum && (s.parallelQuorum < 1 || s.parallelQuorum > len(s.children)) {
			return fmt.Errorf("bt: Parallel %q quorum %d out of range for %d children: %w", s.name, s.parallelQuorum, len(s.children), coreerr.ErrArityViolation)
		}
	case s.kind.IsDecorator():
		if len(s.children) != 1 {
			return fmt.Errorf("bt: decorator %q %s requires exactly one child, got %d: %w", s.name, s.kind, len(s.children), coreerr.ErrArityViolation)
		}
	case s.kind.IsLeaf():
		if len(s.children) != 0 {
			return fmt.Errorf("bt: leaf %q %s must not have children: %w", s.name, s.kind, coreerr.ErrArityViolation)
		}
	}
	return nil
}
