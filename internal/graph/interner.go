// Package graph holds the in-memory follow graph: a compact multi-index
// store over interned pubkeys plus the bidirectional BFS engine.
package graph

import "github.com/puzpuzpuz/xsync/v3"

// Interner deduplicates pubkey strings so every component shares a single
// backing allocation per unique key. Safe for concurrent use.
type Interner struct {
	interned *xsync.MapOf[string, string]
}

// NewInterner creates an empty interner.
func NewInterner() *Interner {
	return &Interner{interned: xsync.NewMapOf[string, string]()}
}

// Intern returns the canonical shared instance of s, storing s itself if it
// is the first occurrence. Idempotent; O(1) average.
func (in *Interner) Intern(s string) string {
	if v, ok := in.interned.Load(s); ok {
		return v
	}
	v, _ := in.interned.LoadOrStore(s, s)
	return v
}

// Len returns the number of unique strings interned.
func (in *Interner) Len() int {
	return in.interned.Size()
}
