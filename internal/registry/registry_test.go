package registry

import (
	"testing"
	"time"

	"github.com/solifugus/decisioncore/internal/blackboard"
	"github.com/solifugus/decisioncore/internal/id"
)

type fakeCtx struct{ aborted bool }

func (f fakeCtx) ContextID() id.ID { return id.New(time.Unix(0, 0)) }
func (f fakeCtx) Aborted() bool    { return f.aborted }
func (f fakeCtx) Fail(string)      {}

func TestRegisterAndLookupAction(t *testing.T) {
	r := New()
	called := false
	r.RegisterAction("shout", func(params map[string]any, bb *blackboard.Blackboard, ctx ActionContext) Result {
		called = true
		return ResultSuccess
	})

	fn, ok := r.Action("shout")
	if !ok {
		t.Fatal("expected shout to be registered")
	}
	if res := fn(nil, nil, fakeCtx{}); res != ResultSuccess {
		t.Errorf("expected ResultSuccess, got %v", res)
	}
	if !called {
		t.Error("expected action to have been invoked")
	}
}

func TestUnknownActionLookupFails(t *testing.T) {
	r := New()
	if _, ok := r.Action("does_not_exist"); ok {
		t.Error("expected lookup of unregistered action to fail")
	}
}

func TestReregisterReplacesBinding(t *testing.T) {
	r := New()
	r.RegisterCondition("always", func(params map[string]any, bb *blackboard.Blackboard) bool { return true })
	r.RegisterCondition("always", func(params map[string]any, bb *blackboard.Blackboard) bool { return false })

	fn, ok := r.Condition("always")
	if !ok {
		t.Fatal("expected condition registered")
	}
	if fn(nil, nil) != false {
		t.Error("expected last-writer-wins binding to be in effect")
	}
}
