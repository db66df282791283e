// Package testutil provides shared test helpers for building graphs and
// temporary databases.
package testutil

import (
	"fmt"
	"os"
	"strings"
	"testing"

	"github.com/starford/othala/internal/db"
	"github.com/starford/othala/internal/graph"
)

// Key returns a syntactically valid 64-char lowercase hex pubkey derived
// from b. Key(0x0a) != Key(0x0b).
func Key(b byte) string {
	return strings.Repeat(fmt.Sprintf("%02x", b), 32)
}

// TestDB creates a temporary SQLite database that is automatically cleaned up.
func TestDB(t *testing.T) *db.DB {
	t.Helper()
	f, err := os.CreateTemp("", "othala-test-*.db")
	if err != nil {
		t.Fatal(err)
	}
	f.Close()
	t.Cleanup(func() { os.Remove(f.Name()) })

	database, err := db.Open(f.Name())
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { database.Close() })
	return database
}

// Follow applies a follow-set replacement by pubkey, creating ids as
// needed. Timestamps increase with each call so updates are never dropped
// as stale.
func Follow(t *testing.T, s *graph.Store, seq *int64, follower string, follows ...string) {
	t.Helper()
	*seq++
	followerID := s.GetOrCreateID(follower)
	ids := make([]uint32, len(follows))
	for i, f := range follows {
		ids[i] = s.GetOrCreateID(f)
	}
	if sum := s.UpdateFollows(followerID, ids, fmt.Sprintf("ev-%d", *seq), *seq); sum.Unchanged {
		t.Fatalf("Follow(%s): update unexpectedly dropped as stale", follower)
	}
}
