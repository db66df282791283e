package api

import (
	"bytes"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/starford/othala/internal/cache"
	"github.com/starford/othala/internal/graph"
	"github.com/starford/othala/internal/oracle"
	"github.com/starford/othala/internal/testutil"
)

// testEnv builds a seeded graph and a router without rate limiting.
// alice -> bob -> carol, alice -> dave -> carol, bob <-> alice.
func testEnv(t *testing.T) (http.Handler, map[string]string) {
	t.Helper()

	store := graph.NewStore()
	keys := map[string]string{
		"alice": testutil.Key(1),
		"bob":   testutil.Key(2),
		"carol": testutil.Key(3),
		"dave":  testutil.Key(4),
	}
	var seq int64
	testutil.Follow(t, store, &seq, keys["alice"], keys["bob"], keys["dave"])
	testutil.Follow(t, store, &seq, keys["bob"], keys["carol"], keys["alice"])
	testutil.Follow(t, store, &seq, keys["dave"], keys["carol"])

	c := cache.New(1000, time.Minute)
	pool := oracle.NewPool(2, slog.New(slog.NewTextHandler(io.Discard, nil)))
	t.Cleanup(pool.Close)
	svc := oracle.NewService(store, c, pool, 3, 5)

	return NewRouter(svc, 0), keys
}

func doGET(t *testing.T, router http.Handler, target string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, target, nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	return rec
}

func TestDistanceEndpoint(t *testing.T) {
	router, keys := testEnv(t)

	rec := doGET(t, router, "/distance?from="+keys["alice"]+"&to="+keys["carol"]+"&include_bridges=true")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body.String())
	}

	var res DistanceResult
	if err := json.Unmarshal(rec.Body.Bytes(), &res); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if res.Hops == nil || *res.Hops != 2 {
		t.Errorf("hops = %v, want 2", res.Hops)
	}
	if res.PathCount != 2 {
		t.Errorf("path_count = %d, want 2", res.PathCount)
	}
	if len(res.Bridges) != 2 {
		t.Errorf("bridges = %v", res.Bridges)
	}
}

func TestDistanceMutual(t *testing.T) {
	router, keys := testEnv(t)

	rec := doGET(t, router, "/distance?from="+keys["alice"]+"&to="+keys["bob"])
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	var res DistanceResult
	_ = json.Unmarshal(rec.Body.Bytes(), &res)
	if res.Hops == nil || *res.Hops != 1 || !res.MutualFollow {
		t.Errorf("result = %+v, want hops 1 mutual", res)
	}
}

func TestDistanceUnreachableIsOK(t *testing.T) {
	router, keys := testEnv(t)

	rec := doGET(t, router, "/distance?from="+keys["carol"]+"&to="+testutil.Key(0x77))
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, unreachable is not an error", rec.Code)
	}
	var res DistanceResult
	_ = json.Unmarshal(rec.Body.Bytes(), &res)
	if res.Hops != nil || res.PathCount != 0 {
		t.Errorf("result = %+v, want hops null", res)
	}
}

func TestDistanceInvalidPubkey(t *testing.T) {
	router, keys := testEnv(t)

	rec := doGET(t, router, "/distance?from=bogus&to="+keys["bob"])
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rec.Code)
	}
	var body map[string]string
	_ = json.Unmarshal(rec.Body.Bytes(), &body)
	if body["error"] == "" {
		t.Error("expected structured error body")
	}
	// The message must not reveal which validation rule failed.
	if strings.Contains(body["error"], "length") || strings.Contains(body["error"], "hex") {
		t.Errorf("error message leaks the failed rule: %q", body["error"])
	}
}

func TestBatchDistanceEndpoint(t *testing.T) {
	router, keys := testEnv(t)

	body, _ := json.Marshal(BatchDistanceRequest{
		From:    keys["alice"],
		Targets: []string{keys["bob"], keys["carol"]},
	})
	req := httptest.NewRequest(http.MethodPost, "/distance/batch", bytes.NewReader(body))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body.String())
	}
	var res BatchDistanceResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &res); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if len(res.Results) != 2 {
		t.Fatalf("results = %d, want 2", len(res.Results))
	}
}

func TestBatchDistanceTooManyTargets(t *testing.T) {
	router, keys := testEnv(t)

	targets := make([]string, oracle.MaxBatchTargets+1)
	for i := range targets {
		targets[i] = keys["bob"]
	}
	body, _ := json.Marshal(BatchDistanceRequest{From: keys["alice"], Targets: targets})
	req := httptest.NewRequest(http.MethodPost, "/distance/batch", bytes.NewReader(body))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", rec.Code)
	}
}

func TestBatchDistanceBodyTooLarge(t *testing.T) {
	router, _ := testEnv(t)

	big := bytes.Repeat([]byte("a"), (1<<20)+100)
	req := httptest.NewRequest(http.MethodPost, "/distance/batch", bytes.NewReader(big))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusRequestEntityTooLarge {
		t.Errorf("status = %d, want 413", rec.Code)
	}
}

func TestFollowsEndpoint(t *testing.T) {
	router, keys := testEnv(t)

	rec := doGET(t, router, "/follows?pubkey="+keys["alice"])
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	var res FollowsResponse
	_ = json.Unmarshal(rec.Body.Bytes(), &res)
	if len(res.Follows) != 2 {
		t.Errorf("follows = %v", res.Follows)
	}
}

func TestCommonEndpoint(t *testing.T) {
	router, keys := testEnv(t)

	rec := doGET(t, router, "/common?from="+keys["alice"]+"&to="+keys["bob"])
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	var res CommonFollowsResponse
	_ = json.Unmarshal(rec.Body.Bytes(), &res)
	// alice follows {bob, dave}; bob follows {carol, alice}: no overlap.
	if len(res.Common) != 0 {
		t.Errorf("common = %v, want empty", res.Common)
	}
}

func TestPathEndpoint(t *testing.T) {
	router, keys := testEnv(t)

	rec := doGET(t, router, "/path?from="+keys["alice"]+"&to="+keys["carol"])
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	var res PathResponse
	_ = json.Unmarshal(rec.Body.Bytes(), &res)
	if len(res.Path) != 3 || res.Path[0] != keys["alice"] || res.Path[2] != keys["carol"] {
		t.Errorf("path = %v", res.Path)
	}
}

func TestStatsEndpoint(t *testing.T) {
	router, _ := testEnv(t)

	rec := doGET(t, router, "/stats")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	var res oracle.StatsResult
	if err := json.Unmarshal(rec.Body.Bytes(), &res); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if res.NodeCount != 4 {
		t.Errorf("node_count = %d, want 4", res.NodeCount)
	}
	if res.Epoch != 3 {
		t.Errorf("epoch = %d, want 3", res.Epoch)
	}
}
