package blackboard

import (
	"testing"
	"time"

	"github.com/solifugus/decisioncore/internal/clock"
	"github.com/solifugus/decisioncore/internal/id"
)

func TestBlackboardPutGet(t *testing.T) {
	mc := clock.NewManual(time.Unix(0, 0))
	bb := New(id.New(mc.Now()), mc, 16)
	requester := id.New(mc.Now())

	if err := bb.Put("hp", int64(42), TagInt64, 0, requester); err != nil {
		t.Fatalf("Put failed: %v", err)
	}

	entry, ok := bb.Get("hp", requester)
	if !ok {
		t.Fatal("expected hp to exist")
	}
	if entry.Value.(int64) != 42 {
		t.Errorf("expected 42, got %v", entry.Value)
	}
	if entry.Tag != TagInt64 {
		t.Errorf("expected TagInt64, got %v", entry.Tag)
	}
	if entry.LastModified.Before(entry.CreatedAt) {
		t.Error("invariant I1 violated: last_modified before created_at")
	}
}

func TestBlackboardTagMismatch(t *testing.T) {
	mc := clock.NewManual(time.Unix(0, 0))
	bb := New(id.New(mc.Now()), mc, 16)
	requester := id.New(mc.Now())

	if err := bb.Put("target", "enemy", TagString, 0, requester); err != nil {
		t.Fatalf("Put failed: %v", err)
	}

	err := bb.Put("target", int64(1), TagInt64, 0, requester)
	if err == nil {
		t.Fatal("expected TagMismatch error")
	}
	if _, ok := err.(*ErrTagMismatch); !ok {
		t.Errorf("expected *ErrTagMismatch, got %T", err)
	}

	// Original value must be untouched.
	entry, ok := bb.Get("target", requester)
	if !ok || entry.Value.(string) != "enemy" {
		t.Errorf("expected original value preserved, got %v, %v", entry.Value, ok)
	}
}

func TestBlackboardTTLExpiry(t *testing.T) {
	mc := clock.NewManual(time.Unix(0, 0))
	bb := New(id.New(mc.Now()), mc, 16)
	requester := id.New(mc.Now())

	if err := bb.Put("buff", true, TagBool, 100*time.Millisecond, requester); err != nil {
		t.Fatalf("Put failed: %v", err)
	}

	if _, ok := bb.Get("buff", requester); !ok {
		t.Fatal("expected buff to exist before TTL")
	}

	mc.Advance(150 * time.Millisecond)

	if _, ok := bb.Get("buff", requester); ok {
		t.Error("expected buff to be absent after TTL expiry")
	}
	if bb.Has("buff", requester) {
		t.Error("expected Has to report false after TTL expiry")
	}
}

func TestBlackboardAccessCountMonotonic(t *testing.T) {
	mc := clock.NewManual(time.Unix(0, 0))
	bb := New(id.New(mc.Now()), mc, 16)
	requester := id.New(mc.Now())

	_ = bb.Put("k", int64(1), TagInt64, 0, requester)

	var last uint64
	for i := 0; i < 5; i++ {
		entry, ok := bb.Get("k", requester)
		if !ok {
			t.Fatal("expected k to exist")
		}
		if entry.AccessCount <= last && i > 0 {
			t.Errorf("access_count did not strictly increase: %d -> %d", last, entry.AccessCount)
		}
		last = entry.AccessCount
	}
}

func TestBlackboardRemoveIdempotent(t *testing.T) {
	mc := clock.NewManual(time.Unix(0, 0))
	bb := New(id.New(mc.Now()), mc, 16)
	requester := id.New(mc.Now())

	_ = bb.Put("k", int64(1), TagInt64, 0, requester)
	bb.Remove("k", requester)
	if bb.Has("k", requester) {
		t.Error("expected k removed")
	}
	// Second remove must be a harmless no-op.
	bb.Remove("k", requester)
	if bb.Has("k", requester) {
		t.Error("expected k to remain removed")
	}
}

func TestBlackboardAccessLogRing(t *testing.T) {
	mc := clock.NewManual(time.Unix(0, 0))
	bb := New(id.New(mc.Now()), mc, 4)
	requester := id.New(mc.Now())

	for i := 0; i < 10; i++ {
		bb.Has("k", requester)
	}

	logEntries := bb.AccessLog()
	if len(logEntries) != 4 {
		t.Fatalf("expected ring capped at 4, got %d", len(logEntries))
	}
	for _, e := range logEntries {
		if e.Kind != AccessProbe {
			t.Errorf("expected probe entries only, got %v", e.Kind)
		}
	}
}

func TestBlackboardSnapshotExcludesExpired(t *testing.T) {
	mc := clock.NewManual(time.Unix(0, 0))
	bb := New(id.New(mc.Now()), mc, 16)
	requester := id.New(mc.Now())

	_ = bb.Put("live", int64(1), TagInt64, 0, requester)
	_ = bb.Put("dying", int64(2), TagInt64, 10*time.Millisecond, requester)

	mc.Advance(20 * time.Millisecond)

	snap := bb.Snapshot()
	if _, ok := snap["live"]; !ok {
		t.Error("expected live entry in snapshot")
	}
	if _, ok := snap["dying"]; ok {
		t.Error("expected expired entry excluded from snapshot")
	}
}
