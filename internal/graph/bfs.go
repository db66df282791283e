package graph

import (
	"context"
	"math"
	"sync"
)

// Query asks for the shortest directed distance between two nodes already
// resolved to ids. Absent endpoints are the caller's concern.
type Query struct {
	FromID         uint32
	ToID           uint32
	MaxHops        int
	IncludeBridges bool
}

// Result is the outcome of a distance query. Hops is -1 when the target is
// unreachable within MaxHops. PathCount saturates at MaxUint64; Saturated
// reports whether any saturation occurred.
type Result struct {
	Hops      int
	PathCount uint64
	Mutual    bool
	BridgeIDs []uint32
	Saturated bool
}

type visit struct {
	depth int
	count uint64
}

type meeting struct {
	node uint32
	fwd  uint64
	bwd  uint64
}

// searchState is the amortized per-query scratch. Pooled; cleared between
// queries, never reallocated.
type searchState struct {
	fwdVisited map[uint32]visit
	bwdVisited map[uint32]visit
	fwdCur     []uint32
	fwdNext    []uint32
	bwdCur     []uint32
	bwdNext    []uint32
	meetings   []meeting
	bridgeSet  map[uint32]struct{}
	bridgeIDs  []uint32
}

var statePool = sync.Pool{
	New: func() any {
		return &searchState{
			fwdVisited: make(map[uint32]visit, 8192),
			bwdVisited: make(map[uint32]visit, 8192),
			fwdCur:     make([]uint32, 0, 1024),
			fwdNext:    make([]uint32, 0, 1024),
			bwdCur:     make([]uint32, 0, 1024),
			bwdNext:    make([]uint32, 0, 1024),
			meetings:   make([]meeting, 0, 64),
			bridgeSet:  make(map[uint32]struct{}, 64),
			bridgeIDs:  make([]uint32, 0, 64),
		}
	},
}

func (st *searchState) clear() {
	clear(st.fwdVisited)
	clear(st.bwdVisited)
	st.fwdCur = st.fwdCur[:0]
	st.fwdNext = st.fwdNext[:0]
	st.bwdCur = st.bwdCur[:0]
	st.bwdNext = st.bwdNext[:0]
	st.meetings = st.meetings[:0]
	clear(st.bridgeSet)
	st.bridgeIDs = st.bridgeIDs[:0]
}

func satAdd(a, b uint64) (uint64, bool) {
	s := a + b
	if s < a {
		return math.MaxUint64, true
	}
	return s, false
}

func satMul(a, b uint64) (uint64, bool) {
	if a == 0 || b == 0 {
		return 0, false
	}
	if a > math.MaxUint64/b {
		return math.MaxUint64, true
	}
	return a * b, false
}

// ComputeDistance runs a bidirectional BFS over the store: forward along
// follows, backward along followers, always expanding the smaller frontier.
// Cancellation is checked between layer expansions; ctx errors surface as-is.
func ComputeDistance(ctx context.Context, s *Store, q Query) (Result, error) {
	var res Result
	var err error
	s.WithAdjacency(func(follows, followers [][]uint32) {
		res, err = computeDistance(ctx, follows, followers, q)
	})
	return res, err
}

func computeDistance(ctx context.Context, follows, followers [][]uint32, q Query) (Result, error) {
	isDirect := func(from, to uint32) bool {
		if int(from) >= len(follows) {
			return false
		}
		return containsSorted(follows[from], to)
	}

	if int(q.FromID) >= len(follows) || int(q.ToID) >= len(follows) {
		return Result{Hops: -1}, nil
	}

	if q.FromID == q.ToID {
		return Result{Hops: 0, PathCount: 1, Mutual: isDirect(q.FromID, q.FromID)}, nil
	}

	mutual := isDirect(q.FromID, q.ToID) && isDirect(q.ToID, q.FromID)

	if isDirect(q.FromID, q.ToID) {
		return Result{Hops: 1, PathCount: 1, Mutual: mutual}, nil
	}

	if q.MaxHops <= 0 {
		return Result{Hops: -1, Mutual: mutual}, nil
	}

	st := statePool.Get().(*searchState)
	defer statePool.Put(st)
	st.clear()

	st.fwdVisited[q.FromID] = visit{depth: 0, count: 1}
	st.fwdCur = append(st.fwdCur, q.FromID)
	st.bwdVisited[q.ToID] = visit{depth: 0, count: 1}
	st.bwdCur = append(st.bwdCur, q.ToID)

	fwdDist, bwdDist := 0, 0
	best := -1
	saturated := false

	// Every shortest path crosses the layer being expanded when the first
	// meeting appears, so finishing that layer collects every meeting node
	// and the exact path count; the stop condition at the loop top fires on
	// the next iteration.
	for len(st.fwdCur) > 0 || len(st.bwdCur) > 0 {
		if err := ctx.Err(); err != nil {
			return Result{Hops: -1}, err
		}
		if best >= 0 && fwdDist+bwdDist >= best {
			break
		}
		if fwdDist+bwdDist > q.MaxHops {
			break
		}

		expandForward := len(st.bwdCur) == 0 ||
			(len(st.fwdCur) > 0 && len(st.fwdCur) <= len(st.bwdCur))

		if expandForward {
			fwdDist++
			for _, node := range st.fwdCur {
				nodePaths := st.fwdVisited[node].count
				for _, nb := range follows[node] {
					if opp, ok := st.bwdVisited[nb]; ok {
						total := fwdDist + opp.depth
						if best < 0 || total < best {
							best = total
							st.meetings = st.meetings[:0]
						}
						if total == best {
							// A meeting at the target itself is recorded at the
							// interior node that reached it, so bridges stay interior.
							at := nb
							if nb == q.ToID {
								at = node
							}
							st.meetings = append(st.meetings, meeting{node: at, fwd: nodePaths, bwd: opp.count})
						}
					}
					if v, ok := st.fwdVisited[nb]; ok {
						if v.depth == fwdDist {
							var sat bool
							v.count, sat = satAdd(v.count, nodePaths)
							saturated = saturated || sat
							st.fwdVisited[nb] = v
						}
					} else {
						st.fwdVisited[nb] = visit{depth: fwdDist, count: nodePaths}
						st.fwdNext = append(st.fwdNext, nb)
					}
				}
			}
			st.fwdCur, st.fwdNext = st.fwdNext, st.fwdCur[:0]
		} else {
			bwdDist++
			for _, node := range st.bwdCur {
				nodePaths := st.bwdVisited[node].count
				for _, nb := range followers[node] {
					if opp, ok := st.fwdVisited[nb]; ok {
						total := opp.depth + bwdDist
						if best < 0 || total < best {
							best = total
							st.meetings = st.meetings[:0]
						}
						if total == best {
							at := nb
							if nb == q.FromID {
								at = node
							}
							st.meetings = append(st.meetings, meeting{node: at, fwd: opp.count, bwd: nodePaths})
						}
					}
					if v, ok := st.bwdVisited[nb]; ok {
						if v.depth == bwdDist {
							var sat bool
							v.count, sat = satAdd(v.count, nodePaths)
							saturated = saturated || sat
							st.bwdVisited[nb] = v
						}
					} else {
						st.bwdVisited[nb] = visit{depth: bwdDist, count: nodePaths}
						st.bwdNext = append(st.bwdNext, nb)
					}
				}
			}
			st.bwdCur, st.bwdNext = st.bwdNext, st.bwdCur[:0]
		}
	}

	if best < 0 || best > q.MaxHops {
		return Result{Hops: -1, Mutual: mutual}, nil
	}

	var pathCount uint64
	for _, m := range st.meetings {
		prod, satM := satMul(m.fwd, m.bwd)
		sum, satA := satAdd(pathCount, prod)
		pathCount = sum
		saturated = saturated || satM || satA
	}

	res := Result{Hops: best, PathCount: pathCount, Mutual: mutual, Saturated: saturated}
	if q.IncludeBridges {
		res.BridgeIDs = make([]uint32, 0, len(st.meetings))
		for _, m := range st.meetings {
			if m.node == q.FromID || m.node == q.ToID {
				continue
			}
			if _, seen := st.bridgeSet[m.node]; seen {
				continue
			}
			st.bridgeSet[m.node] = struct{}{}
			res.BridgeIDs = append(res.BridgeIDs, m.node)
		}
	}
	return res, nil
}

// ComputePath finds one shortest path from q.FromID to q.ToID and returns
// the full node sequence including both endpoints, or nil if unreachable
// within MaxHops. Same bidirectional traversal as ComputeDistance, with one
// recorded parent per discovery on each side.
func ComputePath(ctx context.Context, s *Store, q Query) ([]uint32, error) {
	var path []uint32
	var err error
	s.WithAdjacency(func(follows, followers [][]uint32) {
		path, err = computePath(ctx, follows, followers, q)
	})
	return path, err
}

func computePath(ctx context.Context, follows, followers [][]uint32, q Query) ([]uint32, error) {
	if int(q.FromID) >= len(follows) || int(q.ToID) >= len(follows) {
		return nil, nil
	}
	if q.FromID == q.ToID {
		return []uint32{q.FromID}, nil
	}
	if containsSorted(follows[q.FromID], q.ToID) {
		return []uint32{q.FromID, q.ToID}, nil
	}
	if q.MaxHops <= 0 {
		return nil, nil
	}

	fwdParent := map[uint32]uint32{}
	bwdParent := map[uint32]uint32{}
	fwdSeen := map[uint32]struct{}{q.FromID: {}}
	bwdSeen := map[uint32]struct{}{q.ToID: {}}
	fwdCur := []uint32{q.FromID}
	bwdCur := []uint32{q.ToID}
	var fwdNext, bwdNext []uint32

	meet := uint32(0)
	found := false
	fwdDist, bwdDist := 0, 0

search:
	for len(fwdCur) > 0 || len(bwdCur) > 0 {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if fwdDist+bwdDist > q.MaxHops {
			break
		}

		expandForward := len(bwdCur) == 0 || (len(fwdCur) > 0 && len(fwdCur) <= len(bwdCur))

		if expandForward {
			fwdDist++
			for _, node := range fwdCur {
				for _, nb := range follows[node] {
					if _, ok := bwdSeen[nb]; ok {
						fwdParent[nb] = node
						meet, found = nb, true
						break search
					}
					if _, ok := fwdSeen[nb]; !ok {
						fwdSeen[nb] = struct{}{}
						fwdParent[nb] = node
						fwdNext = append(fwdNext, nb)
					}
				}
			}
			fwdCur, fwdNext = fwdNext, fwdCur[:0]
		} else {
			bwdDist++
			for _, node := range bwdCur {
				for _, nb := range followers[node] {
					if _, ok := fwdSeen[nb]; ok {
						bwdParent[nb] = node
						meet, found = nb, true
						break search
					}
					if _, ok := bwdSeen[nb]; !ok {
						bwdSeen[nb] = struct{}{}
						bwdParent[nb] = node
						bwdNext = append(bwdNext, nb)
					}
				}
			}
			bwdCur, bwdNext = bwdNext, bwdCur[:0]
		}
	}

	if !found {
		return nil, nil
	}

	// Walk back to from, reverse, then walk forward to to.
	var head []uint32
	for cur := meet; cur != q.FromID; {
		head = append(head, cur)
		p, ok := fwdParent[cur]
		if !ok {
			break
		}
		cur = p
	}
	head = append(head, q.FromID)
	for i, j := 0, len(head)-1; i < j; i, j = i+1, j-1 {
		head[i], head[j] = head[j], head[i]
	}

	for cur := meet; cur != q.ToID; {
		next, ok := bwdParent[cur]
		if !ok {
			break
		}
		head = append(head, next)
		cur = next
	}
	if len(head)-1 > q.MaxHops {
		return nil, nil
	}
	return head, nil
}
