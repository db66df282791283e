package graph

import (
	"testing"
)

func follow(t *testing.T, s *Store, ts int64, follower string, follows ...string) ChangeSummary {
	t.Helper()
	id := s.GetOrCreateID(follower)
	ids := make([]uint32, len(follows))
	for i, f := range follows {
		ids[i] = s.GetOrCreateID(f)
	}
	return s.UpdateFollows(id, ids, "", ts)
}

func TestCreateNodes(t *testing.T) {
	s := NewStore()
	id1 := s.GetOrCreateID("alice")
	id2 := s.GetOrCreateID("bob")
	again := s.GetOrCreateID("alice")

	if id1 != 0 || id2 != 1 {
		t.Errorf("ids = %d, %d, want 0, 1", id1, id2)
	}
	if again != id1 {
		t.Errorf("repeat create returned %d, want %d", again, id1)
	}
	if got, ok := s.LookupID("bob"); !ok || got != id2 {
		t.Errorf("LookupID(bob) = %d, %v", got, ok)
	}
	if _, ok := s.LookupID("carol"); ok {
		t.Error("LookupID should not create nodes")
	}
}

func TestUpdateFollows(t *testing.T) {
	s := NewStore()
	sum := follow(t, s, 1000, "alice", "bob", "carol")
	if sum.Unchanged || sum.Added != 2 || sum.Removed != 0 {
		t.Fatalf("summary = %+v", sum)
	}

	alice, _ := s.LookupID("alice")
	bob, _ := s.LookupID("bob")
	carol, _ := s.LookupID("carol")

	follows := s.FollowsOf(alice)
	if len(follows) != 2 || follows[0] != bob || follows[1] != carol {
		t.Errorf("FollowsOf(alice) = %v", follows)
	}
	if got := s.FollowersOf(bob); len(got) != 1 || got[0] != alice {
		t.Errorf("FollowersOf(bob) = %v", got)
	}
}

func TestReplaceFollows(t *testing.T) {
	s := NewStore()
	follow(t, s, 1000, "alice", "bob")
	sum := follow(t, s, 2000, "alice", "carol")
	if sum.Added != 1 || sum.Removed != 1 {
		t.Fatalf("summary = %+v", sum)
	}

	alice, _ := s.LookupID("alice")
	bob, _ := s.LookupID("bob")
	carol, _ := s.LookupID("carol")

	if got := s.FollowsOf(alice); len(got) != 1 || got[0] != carol {
		t.Errorf("FollowsOf(alice) = %v", got)
	}
	if got := s.FollowersOf(bob); len(got) != 0 {
		t.Errorf("bob should have no followers, got %v", got)
	}
}

func TestSkipOldEvent(t *testing.T) {
	s := NewStore()
	follow(t, s, 100, "alice", "bob")
	epochBefore := s.Epoch()

	sum := follow(t, s, 50, "alice", "carol")
	if !sum.Unchanged {
		t.Fatal("older event should be dropped")
	}
	if s.Epoch() != epochBefore {
		t.Errorf("epoch advanced on dropped event: %d -> %d", epochBefore, s.Epoch())
	}

	alice, _ := s.LookupID("alice")
	bob, _ := s.LookupID("bob")
	if got := s.FollowsOf(alice); len(got) != 1 || got[0] != bob {
		t.Errorf("FollowsOf(alice) = %v, want [bob]", got)
	}
}

func TestEqualTimestampDropped(t *testing.T) {
	s := NewStore()
	follow(t, s, 100, "alice", "bob")
	if sum := follow(t, s, 100, "alice", "carol"); !sum.Unchanged {
		t.Error("equal timestamp should be dropped (first writer wins)")
	}
}

func TestEpochAdvancesPerMutation(t *testing.T) {
	s := NewStore()
	if s.Epoch() != 0 {
		t.Fatalf("fresh store epoch = %d", s.Epoch())
	}
	follow(t, s, 1, "alice", "bob")
	if s.Epoch() != 1 {
		t.Errorf("epoch = %d, want 1", s.Epoch())
	}
	follow(t, s, 2, "alice", "bob", "carol")
	if s.Epoch() != 2 {
		t.Errorf("epoch = %d, want 2", s.Epoch())
	}
}

func TestSortedAndDeduplicated(t *testing.T) {
	s := NewStore()
	alice := s.GetOrCreateID("alice")
	z := s.GetOrCreateID("zed")
	a := s.GetOrCreateID("amy")
	m := s.GetOrCreateID("mona")

	s.UpdateFollows(alice, []uint32{z, a, m, a, z}, "", 100)

	follows := s.FollowsOf(alice)
	if len(follows) != 3 {
		t.Fatalf("len = %d, want 3 (duplicates removed)", len(follows))
	}
	for i := 1; i < len(follows); i++ {
		if follows[i-1] >= follows[i] {
			t.Fatalf("follows not strictly ascending: %v", follows)
		}
	}
}

// Bidirectional consistency: b in follows(a) iff a in followers(b).
func TestAdjacencyConsistency(t *testing.T) {
	s := NewStore()
	follow(t, s, 1, "alice", "bob", "carol")
	follow(t, s, 2, "bob", "carol", "alice")
	follow(t, s, 3, "alice", "carol") // drops bob

	for id := uint32(0); int(id) < s.NodeCount(); id++ {
		for _, f := range s.FollowsOf(id) {
			if !containsSorted(s.FollowersOf(f), id) {
				t.Errorf("edge %d->%d missing from reverse index", id, f)
			}
		}
		for _, f := range s.FollowersOf(id) {
			if !containsSorted(s.FollowsOf(f), id) {
				t.Errorf("reverse entry %d<-%d has no forward edge", id, f)
			}
		}
	}
}

func TestGraphStats(t *testing.T) {
	s := NewStore()
	follow(t, s, 1, "alice", "bob", "carol")
	follow(t, s, 2, "bob", "carol")

	stats := s.GraphStats()
	if stats.NodeCount != 3 {
		t.Errorf("NodeCount = %d, want 3", stats.NodeCount)
	}
	if stats.EdgeCount != 3 {
		t.Errorf("EdgeCount = %d, want 3", stats.EdgeCount)
	}
	if stats.NodesWithFollows != 2 {
		t.Errorf("NodesWithFollows = %d, want 2", stats.NodesWithFollows)
	}
	if stats.Epoch != 2 {
		t.Errorf("Epoch = %d, want 2", stats.Epoch)
	}
}

func TestEdgeCountTracksRemovals(t *testing.T) {
	s := NewStore()
	follow(t, s, 1, "alice", "bob", "carol", "dave")
	follow(t, s, 2, "alice", "bob")

	if got := s.GraphStats().EdgeCount; got != 1 {
		t.Errorf("EdgeCount = %d, want 1", got)
	}
}

func TestPubkeyOfPanicsOutOfRange(t *testing.T) {
	s := NewStore()
	s.GetOrCreateID("alice")

	defer func() {
		if recover() == nil {
			t.Error("PubkeyOf on unassigned id should panic")
		}
	}()
	s.PubkeyOf(99)
}

func TestPubkeyOfSharesInternedString(t *testing.T) {
	s := NewStore()
	id := s.GetOrCreateID("alice")
	if got := s.PubkeyOf(id); got != "alice" {
		t.Errorf("PubkeyOf = %q", got)
	}
	if got := s.ResolvePubkeys([]uint32{id}); len(got) != 1 || got[0] != "alice" {
		t.Errorf("ResolvePubkeys = %v", got)
	}
}

func TestMetaOf(t *testing.T) {
	s := NewStore()
	alice := s.GetOrCreateID("alice")
	bob := s.GetOrCreateID("bob")
	s.UpdateFollows(alice, []uint32{bob}, "ev1", 500)

	m := s.MetaOf(alice)
	if m == nil || m.EventID != "ev1" || m.CreatedAt != 500 {
		t.Errorf("MetaOf(alice) = %+v", m)
	}
	if s.MetaOf(bob) != nil {
		t.Error("target-only node should have nil metadata")
	}
}

func TestDiffSorted(t *testing.T) {
	added, removed := diffSorted([]uint32{1, 3, 5}, []uint32{2, 3, 4})
	if len(added) != 2 || added[0] != 1 || added[1] != 5 {
		t.Errorf("added = %v", added)
	}
	if len(removed) != 2 || removed[0] != 2 || removed[1] != 4 {
		t.Errorf("removed = %v", removed)
	}
}

func TestInsertDeleteSorted(t *testing.T) {
	var list []uint32
	for _, v := range []uint32{5, 1, 3, 3} {
		list = insertSorted(list, v)
	}
	if len(list) != 3 || list[0] != 1 || list[1] != 3 || list[2] != 5 {
		t.Fatalf("list = %v", list)
	}
	list = deleteSorted(list, 3)
	list = deleteSorted(list, 9) // absent: no-op
	if len(list) != 2 || list[0] != 1 || list[1] != 5 {
		t.Fatalf("list = %v", list)
	}
}

func TestLockMetricsRecorded(t *testing.T) {
	s := NewStore()
	follow(t, s, 1, "alice", "bob")
	s.WithAdjacency(func(_, _ [][]uint32) {})

	m := s.LockMetrics()
	if m.WriteLockCount == 0 {
		t.Error("write lock acquisitions not recorded")
	}
	if m.ReadLockCount == 0 {
		t.Error("read lock acquisitions not recorded")
	}

	s.ResetLockMetrics()
	if got := s.LockMetrics(); got.WriteLockCount != 0 || got.ReadLockCount != 0 {
		t.Errorf("metrics after reset = %+v", got)
	}
}
