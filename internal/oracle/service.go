// Package oracle is the query service over the graph core: validation,
// cache probe, deduplicated dispatch to the search pool, result shaping.
package oracle

import (
	"context"
	"fmt"
	"regexp"

	validation "github.com/go-ozzo/ozzo-validation/v4"
	"golang.org/x/sync/singleflight"

	"github.com/starford/othala/internal/apperr"
	"github.com/starford/othala/internal/cache"
	"github.com/starford/othala/internal/graph"
)

// MaxBatchTargets bounds one batch_distance request.
const MaxBatchTargets = 100

var pubkeyPattern = regexp.MustCompile(`^[0-9a-f]{64}$`)

// ValidatePubkey checks the canonical external key form. The returned error
// is the same for every failure mode.
func ValidatePubkey(pk string) error {
	if err := validation.Validate(pk, validation.Required, validation.Match(pubkeyPattern)); err != nil {
		return apperr.ErrInvalidPubkey
	}
	return nil
}

// DistanceRequest is one distance query. MaxHops of zero means "use the
// configured default"; out-of-range values are clamped, not rejected.
type DistanceRequest struct {
	From           string
	To             string
	MaxHops        int
	IncludeBridges bool
	BypassCache    bool
}

// DistanceResult is the externally visible outcome. Hops is nil when the
// target is unreachable within the hop bound.
type DistanceResult struct {
	From         string   `json:"from"`
	To           string   `json:"to"`
	Hops         *int     `json:"hops"`
	PathCount    uint64   `json:"path_count"`
	MutualFollow bool     `json:"mutual_follow"`
	Bridges      []string `json:"bridges,omitempty"`
}

// StatsResult aggregates store, cache, and lock counters.
type StatsResult struct {
	NodeCount        int                       `json:"node_count"`
	EdgeCount        int                       `json:"edge_count"`
	NodesWithFollows int                       `json:"nodes_with_follows"`
	Epoch            uint64                    `json:"epoch"`
	Cache            cache.Stats               `json:"cache"`
	Locks            graph.LockMetricsSnapshot `json:"locks"`
}

// Service answers the query operations of the oracle.
type Service struct {
	store          *graph.Store
	cache          *cache.Cache
	pool           *Pool
	maxHopsDefault int
	maxHopsCeiling int

	flight singleflight.Group
}

// NewService wires the query service. Hop bounds come from configuration
// and are already clamped there.
func NewService(store *graph.Store, c *cache.Cache, pool *Pool, maxHopsDefault, maxHopsCeiling int) *Service {
	return &Service{
		store:          store,
		cache:          c,
		pool:           pool,
		maxHopsDefault: maxHopsDefault,
		maxHopsCeiling: maxHopsCeiling,
	}
}

// clampHops resolves a requested hop bound against the configured range.
func (s *Service) clampHops(requested int) int {
	if requested == 0 {
		requested = s.maxHopsDefault
	}
	if requested < 1 {
		return 1
	}
	if requested > s.maxHopsCeiling {
		return s.maxHopsCeiling
	}
	return requested
}

// Distance answers one pairwise query, going through the result cache and
// the singleflight group so identical concurrent misses compute once.
func (s *Service) Distance(ctx context.Context, req DistanceRequest) (*DistanceResult, error) {
	if err := ValidatePubkey(req.From); err != nil {
		return nil, err
	}
	if err := ValidatePubkey(req.To); err != nil {
		return nil, err
	}
	maxHops := s.clampHops(req.MaxHops)

	fromID, fromOK := s.store.LookupID(req.From)
	toID, toOK := s.store.LookupID(req.To)
	if !fromOK || !toOK {
		// A self-query is hops 0 even for a key the graph has never seen.
		if req.From == req.To {
			hops := 0
			res := &DistanceResult{From: req.From, To: req.To, Hops: &hops, PathCount: 1}
			if req.IncludeBridges {
				res.Bridges = []string{}
			}
			return res, nil
		}
		return unreachableResult(req.From, req.To, req.IncludeBridges), nil
	}

	key := cache.Key{FromID: fromID, ToID: toID, MaxHops: uint8(maxHops), IncludeBridges: req.IncludeBridges}

	if !req.BypassCache {
		if v, ok := s.cache.Get(key, s.store.Epoch()); ok {
			return s.toResult(req.From, req.To, v, req.IncludeBridges), nil
		}
	}

	flightKey := fmt.Sprintf("%d:%d:%d:%t", fromID, toID, maxHops, req.IncludeBridges)
	v, err, _ := s.flight.Do(flightKey, func() (any, error) {
		epoch := s.store.Epoch()
		var res graph.Result
		var bfsErr error
		if poolErr := s.pool.Do(ctx, func() {
			res, bfsErr = graph.ComputeDistance(ctx, s.store, graph.Query{
				FromID:         fromID,
				ToID:           toID,
				MaxHops:        maxHops,
				IncludeBridges: req.IncludeBridges,
			})
		}); poolErr != nil {
			return nil, poolErr
		}
		if bfsErr != nil {
			return nil, bfsErr
		}
		val := cache.Value{
			Hops:      res.Hops,
			PathCount: res.PathCount,
			Mutual:    res.Mutual,
			BridgeIDs: res.BridgeIDs,
		}
		if !req.BypassCache {
			s.cache.Put(key, val, epoch)
		}
		return val, nil
	})
	if err != nil {
		return nil, err
	}
	return s.toResult(req.From, req.To, v.(cache.Value), req.IncludeBridges), nil
}

// BatchDistance answers one origin against up to MaxBatchTargets targets.
func (s *Service) BatchDistance(ctx context.Context, from string, targets []string, maxHops int, includeBridges, bypassCache bool) ([]*DistanceResult, error) {
	if err := ValidatePubkey(from); err != nil {
		return nil, err
	}
	if len(targets) > MaxBatchTargets {
		return nil, apperr.ErrTooManyTargets
	}
	for _, t := range targets {
		if err := ValidatePubkey(t); err != nil {
			return nil, err
		}
	}

	results := make([]*DistanceResult, 0, len(targets))
	for _, t := range targets {
		r, err := s.Distance(ctx, DistanceRequest{
			From:           from,
			To:             t,
			MaxHops:        maxHops,
			IncludeBridges: includeBridges,
			BypassCache:    bypassCache,
		})
		if err != nil {
			return nil, err
		}
		results = append(results, r)
	}
	return results, nil
}

// FollowsOf returns the outgoing follow set as pubkeys.
func (s *Service) FollowsOf(_ context.Context, pubkey string) ([]string, error) {
	if err := ValidatePubkey(pubkey); err != nil {
		return nil, err
	}
	id, ok := s.store.LookupID(pubkey)
	if !ok {
		return []string{}, nil
	}
	return s.resolveNonNil(s.store.FollowsOf(id)), nil
}

// CommonFollows intersects the follow sets of both keys.
func (s *Service) CommonFollows(_ context.Context, from, to string) ([]string, error) {
	if err := ValidatePubkey(from); err != nil {
		return nil, err
	}
	if err := ValidatePubkey(to); err != nil {
		return nil, err
	}
	fromID, fromOK := s.store.LookupID(from)
	toID, toOK := s.store.LookupID(to)
	if !fromOK || !toOK {
		return []string{}, nil
	}

	a := s.store.FollowsOf(fromID)
	b := s.store.FollowsOf(toID)
	var common []uint32
	i, j := 0, 0
	for i < len(a) && j < len(b) {
		switch {
		case a[i] == b[j]:
			common = append(common, a[i])
			i++
			j++
		case a[i] < b[j]:
			i++
		default:
			j++
		}
	}
	return s.resolveNonNil(common), nil
}

// ShortestPath returns one shortest path as the full pubkey sequence, or
// an empty slice when unreachable.
func (s *Service) ShortestPath(ctx context.Context, from, to string, maxHops int) ([]string, error) {
	if err := ValidatePubkey(from); err != nil {
		return nil, err
	}
	if err := ValidatePubkey(to); err != nil {
		return nil, err
	}
	fromID, fromOK := s.store.LookupID(from)
	toID, toOK := s.store.LookupID(to)
	if !fromOK || !toOK {
		return []string{}, nil
	}

	var path []uint32
	var bfsErr error
	if poolErr := s.pool.Do(ctx, func() {
		path, bfsErr = graph.ComputePath(ctx, s.store, graph.Query{
			FromID:  fromID,
			ToID:    toID,
			MaxHops: s.clampHops(maxHops),
		})
	}); poolErr != nil {
		return nil, poolErr
	}
	if bfsErr != nil {
		return nil, bfsErr
	}
	return s.resolveNonNil(path), nil
}

// Stats aggregates counters from the store and the cache.
func (s *Service) Stats(_ context.Context) StatsResult {
	gs := s.store.GraphStats()
	return StatsResult{
		NodeCount:        gs.NodeCount,
		EdgeCount:        gs.EdgeCount,
		NodesWithFollows: gs.NodesWithFollows,
		Epoch:            gs.Epoch,
		Cache:            s.cache.CacheStats(),
		Locks:            s.store.LockMetrics(),
	}
}

func (s *Service) toResult(from, to string, v cache.Value, includeBridges bool) *DistanceResult {
	res := &DistanceResult{
		From:         from,
		To:           to,
		PathCount:    v.PathCount,
		MutualFollow: v.Mutual,
	}
	if v.Hops >= 0 {
		hops := v.Hops
		res.Hops = &hops
	}
	if includeBridges {
		res.Bridges = s.resolveNonNil(v.BridgeIDs)
	}
	return res
}

func (s *Service) resolveNonNil(ids []uint32) []string {
	if len(ids) == 0 {
		return []string{}
	}
	return s.store.ResolvePubkeys(ids)
}

func unreachableResult(from, to string, includeBridges bool) *DistanceResult {
	res := &DistanceResult{From: from, To: to}
	if includeBridges {
		res.Bridges = []string{}
	}
	return res
}
