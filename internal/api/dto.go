package api

import "github.com/starford/othala/internal/oracle"

// DistanceResult is the distance response type (aliased from the service layer).
type DistanceResult = oracle.DistanceResult

// BatchDistanceRequest is the request body for POST /distance/batch.
type BatchDistanceRequest struct {
	From           string   `json:"from"`
	Targets        []string `json:"targets"`
	MaxHops        int      `json:"max_hops"`
	IncludeBridges bool     `json:"include_bridges"`
	BypassCache    bool     `json:"bypass_cache"`
}

// BatchDistanceResponse wraps per-target distance results.
type BatchDistanceResponse struct {
	From    string            `json:"from"`
	Results []*DistanceResult `json:"results"`
}

// FollowsResponse wraps one follow set.
type FollowsResponse struct {
	Pubkey  string   `json:"pubkey"`
	Follows []string `json:"follows"`
}

// CommonFollowsResponse wraps the intersection of two follow sets.
type CommonFollowsResponse struct {
	From   string   `json:"from"`
	To     string   `json:"to"`
	Common []string `json:"common"`
}

// PathResponse wraps one shortest path. Path is empty when unreachable.
type PathResponse struct {
	From string   `json:"from"`
	To   string   `json:"to"`
	Path []string `json:"path"`
}
