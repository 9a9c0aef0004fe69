// Package coreerr defines the sentinel errors returned by host-facing
// Coordinator operations. These are ordinary Go errors raised by lookups
// and construction — distinct from bt.Result's Error{kind} terminal, which
// is runtime data produced inside a running tree, not a Go error.
package coreerr

import "errors"

var (
	// ErrTreeNotFound is returned when a tree_id has no registered Tree.
	ErrTreeNotFound = errors.New("decisioncore: tree not found")

	// ErrContextNotFound is returned when a context_id has no registered
	// Execution Context.
	ErrContextNotFound = errors.New("decisioncore: context not found")

	// ErrBlackboardNotFound is returned when a blackboard_id has no
	// registered Blackboard.
	ErrBlackboardNotFound = errors.New("decisioncore: blackboard not found")

	// ErrDepthExceeded is returned at tree construction when a node's
	// depth exceeds the configured max_tree_depth.
	ErrDepthExceeded = errors.New("decisioncore: tree depth exceeds max_tree_depth")

	// ErrNodeLimitExceeded is returned at tree construction when the
	// total node count exceeds the configured max_nodes_per_tree.
	ErrNodeLimitExceeded = errors.New("decisioncore: node count exceeds max_nodes_per_tree")

	// ErrArityViolation is returned at tree construction when a
	// composite/decorator/leaf node is built with the wrong child count.
	ErrArityViolation = errors.New("decisioncore: node has wrong number of children for its kind")

	// ErrUnknownChild is returned when a SubTree node references a
	// tree_id the Coordinator has no record of.
	ErrUnknownChild = errors.New("decisioncore: subtree references unknown tree")

	// ErrSubtreeCycle is returned at tree construction when a SubTree
	// reference would close a cycle back to the tree being created.
	ErrSubtreeCycle = errors.New("decisioncore: subtree reference would create a cycle")
)
