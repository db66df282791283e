package graph

import (
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/puzpuzpuz/xsync/v3"
)

// NodeMeta records the latest accepted follow event for a node. Nil for
// nodes only ever seen as follow targets.
type NodeMeta struct {
	EventID   string
	CreatedAt int64
	UpdatedAt time.Time
}

// ChangeSummary reports the outcome of an UpdateFollows call.
type ChangeSummary struct {
	Unchanged bool
	Added     int
	Removed   int
	Epoch     uint64
}

// Stats is a snapshot of graph-wide counters.
type Stats struct {
	NodeCount        int    `json:"node_count"`
	EdgeCount        int    `json:"edge_count"`
	NodesWithFollows int    `json:"nodes_with_follows"`
	Epoch            uint64 `json:"epoch"`
}

// Store is the concurrent in-memory follow graph.
//
// Pubkey→id resolution goes through a lock-free map; the dense per-id
// arrays (pubkeys, both adjacency directions, metadata) share a single
// RWMutex. Adjacency lists are sorted ascending with no duplicates, and
// every outgoing edge has a matching incoming entry.
type Store struct {
	interner *Interner
	ids      *xsync.MapOf[string, uint32]

	mu        sync.RWMutex
	pubkeys   []string
	follows   [][]uint32
	followers [][]uint32
	meta      []*NodeMeta
	edgeCount int

	epoch   atomic.Uint64
	metrics LockMetrics
}

// NewStore creates an empty graph store.
func NewStore() *Store {
	return &Store{
		interner: NewInterner(),
		ids:      xsync.NewMapOf[string, uint32](),
	}
}

// GetOrCreateID returns the id for pubkey, assigning the next dense id on
// first observation. Linearizable with concurrent creates of the same key.
func (s *Store) GetOrCreateID(pubkey string) uint32 {
	if id, ok := s.ids.Load(pubkey); ok {
		return id
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	// Double-check: another writer may have created it while we waited.
	if id, ok := s.ids.Load(pubkey); ok {
		return id
	}

	interned := s.interner.Intern(pubkey)
	id := uint32(len(s.pubkeys))
	s.pubkeys = append(s.pubkeys, interned)
	s.follows = append(s.follows, nil)
	s.followers = append(s.followers, nil)
	s.meta = append(s.meta, nil)
	s.ids.Store(interned, id)
	return id
}

// LookupID resolves a pubkey without creating it.
func (s *Store) LookupID(pubkey string) (uint32, bool) {
	return s.ids.Load(pubkey)
}

// PubkeyOf returns the shared pubkey string for id. Panics if id was never
// assigned; an out-of-range id here is an invariant violation, not an
// expected input.
func (s *Store) PubkeyOf(id uint32) string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if int(id) >= len(s.pubkeys) {
		panic(fmt.Sprintf("graph: pubkey lookup for unassigned id %d (node count %d)", id, len(s.pubkeys)))
	}
	return s.pubkeys[id]
}

// ResolvePubkeys maps ids to their shared pubkey strings in one lock hold.
func (s *Store) ResolvePubkeys(ids []uint32) []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		if int(id) < len(s.pubkeys) {
			out = append(out, s.pubkeys[id])
		}
	}
	return out
}

// FollowsOf returns a copy of id's outgoing adjacency, ascending.
func (s *Store) FollowsOf(id uint32) []uint32 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if int(id) >= len(s.follows) {
		return nil
	}
	return append([]uint32(nil), s.follows[id]...)
}

// FollowersOf returns a copy of id's incoming adjacency, ascending.
func (s *Store) FollowersOf(id uint32) []uint32 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if int(id) >= len(s.followers) {
		return nil
	}
	return append([]uint32(nil), s.followers[id]...)
}

// MetaOf returns a copy of the node's event metadata, or nil if the node
// has never been seen as a follower.
func (s *Store) MetaOf(id uint32) *NodeMeta {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if int(id) >= len(s.meta) || s.meta[id] == nil {
		return nil
	}
	m := *s.meta[id]
	return &m
}

// WithAdjacency runs f with direct access to both adjacency arrays under a
// single read lock. BFS traversals use this to avoid per-node copying; f
// must not retain or mutate the slices.
func (s *Store) WithAdjacency(f func(follows, followers [][]uint32)) {
	start := time.Now()
	s.mu.RLock()
	defer func() {
		s.mu.RUnlock()
		s.metrics.recordRead(time.Since(start))
	}()
	f(s.follows, s.followers)
}

// UpdateFollows replaces followerID's outgoing set with newFollows and
// patches the reverse index, atomically with respect to other writers.
//
// Events at or before the stored timestamp are ignored entirely. The epoch
// advances exactly once per accepted call.
func (s *Store) UpdateFollows(followerID uint32, newFollows []uint32, eventID string, createdAt int64) ChangeSummary {
	sorted := append([]uint32(nil), newFollows...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })
	sorted = dedupSorted(sorted)

	start := time.Now()
	s.mu.Lock()
	defer func() {
		s.mu.Unlock()
		s.metrics.recordWrite(time.Since(start))
	}()

	if int(followerID) >= len(s.follows) {
		return ChangeSummary{Unchanged: true, Epoch: s.epoch.Load()}
	}
	if m := s.meta[followerID]; m != nil && createdAt <= m.CreatedAt {
		return ChangeSummary{Unchanged: true, Epoch: s.epoch.Load()}
	}

	old := s.follows[followerID]
	added, removed := diffSorted(sorted, old)

	for _, x := range removed {
		s.followers[x] = deleteSorted(s.followers[x], followerID)
	}
	s.follows[followerID] = sorted
	for _, x := range added {
		s.followers[x] = insertSorted(s.followers[x], followerID)
	}
	s.edgeCount += len(added) - len(removed)

	s.meta[followerID] = &NodeMeta{
		EventID:   eventID,
		CreatedAt: createdAt,
		UpdatedAt: time.Now(),
	}

	return ChangeSummary{
		Added:   len(added),
		Removed: len(removed),
		Epoch:   s.epoch.Add(1),
	}
}

// Epoch returns the current version counter. It strictly increases on every
// committed mutation.
func (s *Store) Epoch() uint64 {
	return s.epoch.Load()
}

// NodeCount returns the number of assigned ids.
func (s *Store) NodeCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.pubkeys)
}

// GraphStats returns graph-wide counters.
func (s *Store) GraphStats() Stats {
	s.mu.RLock()
	defer s.mu.RUnlock()

	withFollows := 0
	for _, list := range s.follows {
		if len(list) > 0 {
			withFollows++
		}
	}
	return Stats{
		NodeCount:        len(s.pubkeys),
		EdgeCount:        s.edgeCount,
		NodesWithFollows: withFollows,
		Epoch:            s.epoch.Load(),
	}
}

// LockMetrics returns a snapshot of lock timing counters.
func (s *Store) LockMetrics() LockMetricsSnapshot {
	return s.metrics.Snapshot()
}

// ResetLockMetrics zeroes lock timing counters.
func (s *Store) ResetLockMetrics() {
	s.metrics.Reset()
}

func dedupSorted(v []uint32) []uint32 {
	if len(v) < 2 {
		return v
	}
	out := v[:1]
	for _, x := range v[1:] {
		if x != out[len(out)-1] {
			out = append(out, x)
		}
	}
	return out
}

// diffSorted returns newSet\oldSet and oldSet\newSet, both ascending.
func diffSorted(newSet, oldSet []uint32) (added, removed []uint32) {
	i, j := 0, 0
	for i < len(newSet) && j < len(oldSet) {
		switch {
		case newSet[i] == oldSet[j]:
			i++
			j++
		case newSet[i] < oldSet[j]:
			added = append(added, newSet[i])
			i++
		default:
			removed = append(removed, oldSet[j])
			j++
		}
	}
	added = append(added, newSet[i:]...)
	removed = append(removed, oldSet[j:]...)
	return added, removed
}

func insertSorted(list []uint32, v uint32) []uint32 {
	pos := sort.Search(len(list), func(i int) bool { return list[i] >= v })
	if pos < len(list) && list[pos] == v {
		return list
	}
	list = append(list, 0)
	copy(list[pos+1:], list[pos:])
	list[pos] = v
	return list
}

func deleteSorted(list []uint32, v uint32) []uint32 {
	pos := sort.Search(len(list), func(i int) bool { return list[i] >= v })
	if pos >= len(list) || list[pos] != v {
		return list
	}
	return append(list[:pos], list[pos+1:]...)
}

// containsSorted reports membership via binary search.
func containsSorted(list []uint32, v uint32) bool {
	pos := sort.Search(len(list), func(i int) bool { return list[i] >= v })
	return pos < len(list) && list[pos] == v
}
