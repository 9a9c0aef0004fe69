package treedef

import (
	"fmt"
	"time"

	"github.com/solifugus/decisioncore/internal/bt"
)

// NodeDef is the YAML-decoded shape of one tree node — the data-driven
// replacement for a single teacher Builder call (e.g. NewSequenceNode,
// NewRepeaterNode). Only the fields relevant to Kind are populated,
// mirroring bt.Spec's own shape.
type NodeDef struct {
	Kind     string     `yaml:"kind"`
	Name     string     `yaml:"name"`
	Children []*NodeDef `yaml:"children"`

	Policy string `yaml:"policy"`
	Quorum int    `yaml:"quorum"`

	Weights []float64 `yaml:"weights"`

	Count       *int `yaml:"count"`
	MaxAttempts int  `yaml:"max_attempts"`
	DurationMS  int  `yaml:"duration_ms"`
	Probability float64 `yaml:"probability"`

	Action    string         `yaml:"action"`
	Condition string         `yaml:"condition"`
	Negate    bool           `yaml:"negate"`
	Params    map[string]any `yaml:"params"`

	Ref string `yaml:"ref"`
}

// Template is one YAML tree document — the data-driven replacement for a
// BehaviorTreeTemplate entry in the teacher's library (name, description,
// applicable unit types, and a builder — here the builder is Root itself).
type Template struct {
	Name        string   `yaml:"name"`
	Description string   `yaml:"description"`
	Author      string   `yaml:"author"`
	Version     string   `yaml:"version"`
	UnitTypes   []string `yaml:"unit_types"`
	Root        *NodeDef `yaml:"root"`
}

// Resolver maps a subtree "ref" name to the tree_id it was already built
// under — a subtree reference is resolved by template name, not a raw id,
// since a YAML author can't know an id that is only minted once
// Coordinator.CreateTree runs.
type Resolver func(templateName string) (bt.TreeID, bool)

// ToSpec converts this template's node tree into a bt.Spec, resolving any
// "subtree" nodes through resolve. A "parallel" node that omits "policy"
// falls back to defaultPolicy — the coordinator's configured
// parallel_policy_default (spec §6) — rather than a hardcoded choice, so
// that setting differs depending on which Coordinator builds the
// template. Templates must be built in an order that resolves their
// subtree refs before they are needed — Library.Build enforces this.
func (t *Template) ToSpec(resolve Resolver, defaultPolicy bt.ParallelPolicy) (*bt.Spec, error) {
	return t.Root.toSpec(resolve, defaultPolicy)
}

func (n *NodeDef) toSpec(resolve Resolver, defaultPolicy bt.ParallelPolicy) (*bt.Spec, error) {
	children, err := n.childSpecs(resolve, defaultPolicy)
	if err != nil {
		return nil, err
	}

	switch n.Kind {
	case "invert", "repeat", "retry_until_success", "retry_until_failure", "timer", "cooldown", "timeout",
		"force_success", "force_failure", "random_success", "random_failure":
		if len(children) != 1 {
			return nil, fmt.Errorf("treedef: decorator node %q (%s) requires exactly one child, got %d", n.Name, n.Kind, len(children))
		}
	}

	switch n.Kind {
	case "sequence":
		return bt.Sequence(n.Name, children...), nil
	case "selector":
		return bt.Selector(n.Name, children...), nil
	case "parallel":
		policy, err := parsePolicy(n.Policy, defaultPolicy)
		if err != nil {
			return nil, fmt.Errorf("treedef: node %q: %w", n.Name, err)
		}
		return bt.Parallel(n.Name, policy, n.Quorum, children...), nil
	case "random_selector":
		return bt.RandomSelector(n.Name, n.Weights, children...), nil
	case "invert":
		return bt.Invert(n.Name, requireOneChild(children)), nil
	case "repeat":
		return bt.Repeat(n.Name, n.Count, requireOneChild(children)), nil
	case "retry_until_success":
		return bt.RetryUntilSuccess(n.Name, n.MaxAttempts, requireOneChild(children)), nil
	case "retry_until_failure":
		return bt.RetryUntilFailure(n.Name, n.MaxAttempts, requireOneChild(children)), nil
	case "timer":
		return bt.Timer(n.Name, n.duration(), requireOneChild(children)), nil
	case "cooldown":
		return bt.Cooldown(n.Name, n.duration(), requireOneChild(children)), nil
	case "timeout":
		return bt.Timeout(n.Name, n.duration(), requireOneChild(children)), nil
	case "force_success":
		return bt.ForceSuccess(n.Name, requireOneChild(children)), nil
	case "force_failure":
		return bt.ForceFailure(n.Name, requireOneChild(children)), nil
	case "random_success":
		return bt.RandomSuccess(n.Name, n.Probability, requireOneChild(children)), nil
	case "random_failure":
		return bt.RandomFailure(n.Name, n.Probability, requireOneChild(children)), nil
	case "action":
		return bt.Action(n.Name, n.Action, n.Params), nil
	case "condition":
		return bt.Condition(n.Name, n.Condition, n.Params, n.Negate), nil
	case "wait":
		return bt.Wait(n.Name, n.duration()), nil
	case "subtree":
		treeID, ok := resolve(n.Ref)
		if !ok {
			return nil, fmt.Errorf("treedef: node %q references undefined template %q", n.Name, n.Ref)
		}
		return bt.SubTree(n.Name, treeID), nil
	default:
		return nil, fmt.Errorf("treedef: node %q has unknown kind %q", n.Name, n.Kind)
	}
}

func (n *NodeDef) childSpecs(resolve Resolver, defaultPolicy bt.ParallelPolicy) ([]*bt.Spec, error) {
	specs := make([]*bt.Spec, 0, len(n.Children))
	for _, c := range n.Children {
		s, err := c.toSpec(resolve, defaultPolicy)
		if err != nil {
			return nil, err
		}
		specs = append(specs, s)
	}
	return specs, nil
}

func (n *NodeDef) duration() time.Duration {
	return time.Duration(n.DurationMS) * time.Millisecond
}

// requireOneChild returns the single child spec of a decorator node, or
// nil if children does not hold exactly one. toSpec rejects a decorator
// whose child count is not one before calling it; the JSON Schema does
// not constrain child counts.
func requireOneChild(children []*bt.Spec) *bt.Spec {
	if len(children) != 1 {
		return nil
	}
	return children[0]
}

// parsePolicy resolves a "policy" field to a bt.ParallelPolicy. An empty
// field defers to defaultPolicy rather than hardcoding require_all,
// since the configured parallel_policy_default is what spec §6 names as
// the fallback for an omitted per-node policy.
func parsePolicy(name string, defaultPolicy bt.ParallelPolicy) (bt.ParallelPolicy, error) {
	switch name {
	case "":
		return defaultPolicy, nil
	case "require_all":
		return bt.RequireAll, nil
	case "require_one":
		return bt.RequireOne, nil
	case "quorum":
		return bt.Quorum, nil
	default:
		return 0, fmt.Errorf("unknown parallel policy %q", name)
	}
}
