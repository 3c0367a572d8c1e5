package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"testing"
	"time"

	"concierge/pkg/errors"
)

// fakeTier is an in-memory Tier with controllable failure behavior
type fakeTier struct {
	name    string
	entries map[string]*Entry
	getErr  error
	sets    int
}

func newFakeTier(name string) *fakeTier {
	return &fakeTier{name: name, entries: make(map[string]*Entry)}
}

func (f *fakeTier) Name() string { return f.name }

func (f *fakeTier) Get(ctx context.Context, probe Probe) (*Entry, error) {
	if f.getErr != nil {
		return nil, f.getErr
	}
	if e, ok := f.entries[probe.Key]; ok {
		return e, nil
	}
	return nil, errors.Wrapf(errors.ErrCacheMiss, "%s %s", f.name, probe.Key)
}

func (f *fakeTier) Set(ctx context.Context, e *Entry) error {
	f.sets++
	f.entries[e.Key] = e
	return nil
}

func testEntry(key string) *Entry {
	return &Entry{
		Key:      key,
		Value:    json.RawMessage(`{"reply":"hi"}`),
		Scope:    "turn",
		Text:     "prompt text",
		StoredAt: time.Now(),
	}
}

func TestTieredGet_MissEverywhere(t *testing.T) {
	tiered := NewTiered(time.Second, newFakeTier("a"), newFakeTier("b"))

	_, err := tiered.Get(context.Background(), Probe{Key: "missing"})
	if !errors.Is(err, errors.ErrCacheMiss) {
		t.Fatalf("expected ErrCacheMiss, got %v", err)
	}
}

func TestTieredGet_PromotesIntoFasterTiers(t *testing.T) {
	fast := newFakeTier("fast")
	slow := newFakeTier("slow")
	slow.entries["k"] = testEntry("k")

	tiered := NewTiered(time.Second, fast, slow)

	entry, err := tiered.Get(context.Background(), Probe{Key: "k"})
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if entry.Key != "k" {
		t.Errorf("wrong entry: %+v", entry)
	}
	if _, ok := fast.entries["k"]; !ok {
		t.Error("hit was not promoted into the faster tier")
	}
	if slow.sets != 0 {
		t.Error("serving tier must not be written back on promotion")
	}
}

func TestTieredGet_FailingTierDegradesToMiss(t *testing.T) {
	broken := newFakeTier("broken")
	broken.getErr = errors.New("connection refused")
	healthy := newFakeTier("healthy")
	healthy.entries["k"] = testEntry("k")

	tiered := NewTiered(time.Second, broken, healthy)

	entry, err := tiered.Get(context.Background(), Probe{Key: "k"})
	if err != nil {
		t.Fatalf("a failing tier must not fail the lookup: %v", err)
	}
	if entry.Key != "k" {
		t.Errorf("wrong entry: %+v", entry)
	}
}

func TestTieredPut_WritesThroughAllTiers(t *testing.T) {
	a, b := newFakeTier("a"), newFakeTier("b")
	tiered := NewTiered(time.Second, a, b)

	tiered.Put(context.Background(), testEntry("k"))

	if a.sets != 1 || b.sets != 1 {
		t.Errorf("expected one write per tier, got a=%d b=%d", a.sets, b.sets)
	}
}

func TestL1_SetIfNewer(t *testing.T) {
	l1 := NewL1(10, time.Minute)
	ctx := context.Background()

	newer := testEntry("k")
	newer.StoredAt = time.Now()
	older := testEntry("k")
	older.Value = json.RawMessage(`{"reply":"stale"}`)
	older.StoredAt = newer.StoredAt.Add(-time.Minute)

	if err := l1.Set(ctx, newer); err != nil {
		t.Fatalf("Set: %v", err)
	}
	if err := l1.Set(ctx, older); err != nil {
		t.Fatalf("Set: %v", err)
	}

	got, err := l1.Get(ctx, Probe{Key: "k"})
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if string(got.Value) != `{"reply":"hi"}` {
		t.Errorf("older write must not clobber newer entry, got %s", got.Value)
	}
}

func TestL1_EvictsOldestAtCapacity(t *testing.T) {
	l1 := NewL1(3, time.Minute)
	ctx := context.Background()

	base := time.Now()
	for i := 0; i < 3; i++ {
		e := testEntry(fmt.Sprintf("k%d", i))
		e.StoredAt = base.Add(time.Duration(i) * time.Second)
		if err := l1.Set(ctx, e); err != nil {
			t.Fatalf("Set: %v", err)
		}
	}

	e := testEntry("k3")
	e.StoredAt = base.Add(3 * time.Second)
	if err := l1.Set(ctx, e); err != nil {
		t.Fatalf("Set: %v", err)
	}

	if _, err := l1.Get(ctx, Probe{Key: "k0"}); !errors.Is(err, errors.ErrCacheMiss) {
		t.Error("oldest entry should have been evicted")
	}
	if _, err := l1.Get(ctx, Probe{Key: "k3"}); err != nil {
		t.Errorf("newest entry must be present: %v", err)
	}
}

func TestTieredGet_SlowTierTimesOut(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping timing-dependent test in short mode")
	}

	slow := &slowTier{delay: 200 * time.Millisecond}
	healthy := newFakeTier("healthy")
	healthy.entries["k"] = testEntry("k")

	tiered := NewTiered(20*time.Millisecond, slow, healthy)

	start := time.Now()
	_, err := tiered.Get(context.Background(), Probe{Key: "k"})
	if err != nil {
		t.Fatalf("slow tier must degrade to miss: %v", err)
	}
	if elapsed := time.Since(start); elapsed > 150*time.Millisecond {
		t.Errorf("lookup waited on the slow tier: %v", elapsed)
	}
}

type slowTier struct {
	delay time.Duration
}

func (s *slowTier) Name() string { return "slow" }

func (s *slowTier) Get(ctx context.Context, probe Probe) (*Entry, error) {
	select {
	case <-time.After(s.delay):
		return nil, errors.Wrap(errors.ErrCacheMiss, "slow")
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (s *slowTier) Set(ctx context.Context, e *Entry) error { return nil }
