package cache

import (
	"context"
	"testing"
	"time"
)

func TestMemory_SetGetRoundTrip(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()

	if err := m.Set(ctx, "k1", []byte("v1"), time.Minute); err != nil {
		t.Fatalf("set: %v", err)
	}

	v, ok, err := m.Get(ctx, "k1")
	if err != nil || !ok {
		t.Fatalf("get: ok=%v err=%v", ok, err)
	}
	if string(v) != "v1" {
		t.Errorf("expected v1, got %q", v)
	}
}

func TestMemory_MissingKeyIsAMiss(t *testing.T) {
	m := NewMemory()

	_, ok, err := m.Get(context.Background(), "absent")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if ok {
		t.Error("absent key reported as hit")
	}
}

func TestMemory_ExpiredEntryIsAMiss(t *testing.T) {
	// GIVEN: An entry with a 2 minute TTL
	// WHEN: The clock advances past expiry
	// THEN: The entry reads as a miss and is dropped

	ctx := context.Background()
	m := NewMemory()
	clock := time.Date(2025, time.March, 1, 12, 0, 0, 0, time.UTC)
	m.now = func() time.Time { return clock }

	m.Set(ctx, "k1", []byte("v1"), 2*time.Minute)

	clock = clock.Add(time.Minute)
	if _, ok, _ := m.Get(ctx, "k1"); !ok {
		t.Fatal("entry expired too early")
	}

	clock = clock.Add(2 * time.Minute)
	if _, ok, _ := m.Get(ctx, "k1"); ok {
		t.Error("expired entry still readable")
	}
	if m.Len() != 0 {
		t.Errorf("expired entry counted as live, len=%d", m.Len())
	}
}

func TestMemory_SetOverwrites(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()

	m.Set(ctx, "k1", []byte("old"), time.Minute)
	m.Set(ctx, "k1", []byte("new"), time.Minute)

	v, _, _ := m.Get(ctx, "k1")
	if string(v) != "new" {
		t.Errorf("expected new, got %q", v)
	}
}

func TestMemory_DeleteByPrefix(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()

	m.Set(ctx, "msphere:g1:p1:rate", []byte("x"), time.Minute)
	m.Set(ctx, "msphere:g1:p2:rate", []byte("x"), time.Minute)
	m.Set(ctx, "msphere:g2:p1:rate", []byte("x"), time.Minute)

	if err := m.DeleteByPrefix(ctx, "msphere:g1"); err != nil {
		t.Fatalf("delete: %v", err)
	}

	if _, ok, _ := m.Get(ctx, "msphere:g1:p1:rate"); ok {
		t.Error("prefixed key survived delete")
	}
	if _, ok, _ := m.Get(ctx, "msphere:g2:p1:rate"); !ok {
		t.Error("unrelated key deleted")
	}
}

func TestMemory_DeleteByPrefixAbsentIsNoError(t *testing.T) {
	if err := NewMemory().DeleteByPrefix(context.Background(), "nothing"); err != nil {
		t.Errorf("deleting absent prefix errored: %v", err)
	}
}

func TestMemory_ValueIsCopied(t *testing.T) {
	// Mutating the caller's slice after Set must not change the cached
	// value.
	ctx := context.Background()
	m := NewMemory()

	buf := []byte("original")
	m.Set(ctx, "k1", buf, time.Minute)
	buf[0] = 'X'

	v, _, _ := m.Get(ctx, "k1")
	if string(v) != "original" {
		t.Errorf("cached value aliased caller buffer: %q", v)
	}
}
