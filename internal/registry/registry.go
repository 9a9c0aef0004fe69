// Package registry resolves named conditions and actions to host-provided
// callables (spec §4.5). It is pure lookup: the registry never inspects a
// blackboard or context itself, it only hands the caller's callable back.
package registry

import (
	"sync"

	"github.com/solifugus/decisioncore/internal/blackboard"
	"github.com/solifugus/decisioncore/internal/id"
	"github.com/solifugus/decisioncore/internal/telemetry"
	"go.uber.org/zap"
)

// ActionFunc is a host-provided action. It may be re-entered across ticks
// (returning Running) and must honor ctx.Aborted() — see ActionContext.
type ActionFunc func(params map[string]any, bb *blackboard.Blackboard, ctx ActionContext) Result

// ConditionFunc is a host-provided, side-effect-free predicate.
type ConditionFunc func(params map[string]any, bb *blackboard.Blackboard) bool

// Result mirrors bt.Result's terminal/non-terminal shape without importing
// package bt, to keep registry free of a dependency on the tree engine
// (leaves import registry, not the other way around). ResultHostFailure
// is a host-signaled non-recoverable logic fault (spec §7: "Host:
// HostFailure{message}"); the engine surfaces it as Error{HostFailure}
// with whatever detail the action last passed to ctx.Fail.
type Result int

const (
	ResultSuccess Result = iota
	ResultFailure
	ResultRunning
	ResultHostFailure
)

// ActionContext is the minimal execution-context surface a host action
// needs: its own identity (the "requester_id" a host passes to
// blackboard reads/writes, spec §3's access log shape), whether it has
// been asked to abort, and a way to attach detail to a
// ResultHostFailure return. package bt's *Context satisfies this
// without registry importing bt (which imports registry).
type ActionContext interface {
	ContextID() id.ID
	Aborted() bool
	Fail(reason string)
}

// Registry holds the conditions and actions namespaces. Registration is
// additive; re-registering a name replaces the binding (last-writer-wins,
// logged) per spec §4.5.
type Registry struct {
	mu         sync.RWMutex
	actions    map[string]ActionFunc
	conditions map[string]ConditionFunc
}

// New returns an empty Registry.
func New() *Registry {
	return &Registry{
		actions:    make(map[string]ActionFunc),
		conditions: make(map[string]ConditionFunc),
	}
}

// RegisterAction binds name to fn, replacing any prior binding.
func (r *Registry) RegisterAction(name string, fn ActionFunc) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.actions[name]; exists {
		telemetry.L().Info("action rebound", zap.String("name", name))
	}
	r.actions[name] = fn
}

// RegisterCondition binds name to fn, replacing any prior binding.
func (r *Registry) RegisterCondition(name string, fn ConditionFunc) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.conditions[name]; exists {
		telemetry.L().Info("condition rebound", zap.String("name", name))
	}
	r.conditions[name] = fn
}

// Action looks up name, returning ok=false if unregistered.
func (r *Registry) Action(name string) (ActionFunc, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	fn, ok := r.actions[name]
	return fn, ok
}

// Condition looks up name, returning ok=false if unregistered.
func (r *Registry) Condition(name string) (ConditionFunc, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	fn, ok := r.conditions[name]
	return fn, ok
}
