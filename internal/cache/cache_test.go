package cache

import (
	"testing"
	"time"
)

func testKey(from, to uint32) Key {
	return Key{FromID: from, ToID: to, MaxHops: 5}
}

func testValue(hops int) Value {
	return Value{Hops: hops, PathCount: 1}
}

func TestPutAndGet(t *testing.T) {
	c := New(100, time.Minute)
	k := testKey(0, 1)
	c.Put(k, testValue(2), 7)

	v, ok := c.Get(k, 7)
	if !ok {
		t.Fatal("expected hit")
	}
	if v.Hops != 2 {
		t.Errorf("hops = %d, want 2", v.Hops)
	}
}

func TestMissOnAbsence(t *testing.T) {
	c := New(100, time.Minute)
	if _, ok := c.Get(testKey(0, 1), 0); ok {
		t.Error("expected miss on empty cache")
	}
}

func TestDistinctParamsDistinctEntries(t *testing.T) {
	c := New(100, time.Minute)
	k := Key{FromID: 0, ToID: 1, MaxHops: 5}
	c.Put(k, testValue(2), 0)

	if _, ok := c.Get(Key{FromID: 0, ToID: 1, MaxHops: 3}, 0); ok {
		t.Error("different max_hops should miss")
	}
	if _, ok := c.Get(Key{FromID: 0, ToID: 1, MaxHops: 5, IncludeBridges: true}, 0); ok {
		t.Error("different include_bridges should miss")
	}
	if _, ok := c.Get(k, 0); !ok {
		t.Error("original key should hit")
	}
}

func TestTTLExpiry(t *testing.T) {
	c := New(100, 10*time.Millisecond)
	k := testKey(0, 1)
	c.Put(k, testValue(2), 0)

	time.Sleep(30 * time.Millisecond)
	if _, ok := c.Get(k, 0); ok {
		t.Error("expired entry should miss")
	}
}

func TestEpochInvalidation(t *testing.T) {
	c := New(100, time.Minute)
	k := testKey(0, 1)
	c.Put(k, testValue(2), 5)

	if _, ok := c.Get(k, 5); !ok {
		t.Error("same epoch should hit")
	}
	if _, ok := c.Get(k, 6); ok {
		t.Error("advanced epoch should miss")
	}
	// The stale entry is dropped on the failed lookup.
	if _, ok := c.Get(k, 5); ok {
		t.Error("stale entry should have been removed")
	}
}

func TestPurge(t *testing.T) {
	c := New(100, time.Minute)
	for i := uint32(0); i < 20; i++ {
		c.Put(testKey(i, i+1), testValue(1), 0)
	}
	if c.CacheStats().Size == 0 {
		t.Fatal("expected entries before purge")
	}
	c.Purge()
	if got := c.CacheStats().Size; got != 0 {
		t.Errorf("size after purge = %d", got)
	}
}

func TestCapacityBounded(t *testing.T) {
	c := New(32, time.Minute)
	for i := uint32(0); i < 500; i++ {
		c.Put(testKey(i, i+1), testValue(1), 0)
	}
	if got := c.CacheStats().Size; got > 32 {
		t.Errorf("size = %d, exceeds capacity 32", got)
	}
}

func TestStatsCounters(t *testing.T) {
	c := New(100, time.Minute)
	k := testKey(0, 1)

	c.Get(k, 0) // miss
	c.Put(k, testValue(1), 0)
	c.Get(k, 0) // hit
	c.Get(k, 0) // hit

	s := c.CacheStats()
	if s.Hits != 2 {
		t.Errorf("hits = %d, want 2", s.Hits)
	}
	if s.Misses != 1 {
		t.Errorf("misses = %d, want 1", s.Misses)
	}
	if s.Size != 1 {
		t.Errorf("size = %d, want 1", s.Size)
	}
}
