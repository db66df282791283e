package ingest

import (
	lru "github.com/hashicorp/golang-lru/v2"
)

// seenEvent tracks the newest follow event observed for an author.
type seenEvent struct {
	createdAt int64
	eventID   string
}

// Dedup is the advisory event filter in front of the parse path, keyed by
// the raw 32 author-key bytes. Bounded LRU; the store's own timestamp check
// remains the source of truth.
type Dedup struct {
	cache *lru.Cache[[32]byte, seenEvent]
}

// NewDedup creates a dedup cache holding up to capacity authors.
func NewDedup(capacity int) (*Dedup, error) {
	c, err := lru.New[[32]byte, seenEvent](capacity)
	if err != nil {
		return nil, err
	}
	return &Dedup{cache: c}, nil
}

// Dominated reports whether an event at createdAt is at or before the
// newest event already seen for author. Peek only; probes do not refresh
// recency.
func (d *Dedup) Dominated(author [32]byte, createdAt int64) bool {
	if seen, ok := d.cache.Peek(author); ok {
		return createdAt <= seen.createdAt
	}
	return false
}

// Record stores the newest accepted event for author.
func (d *Dedup) Record(author [32]byte, createdAt int64, eventID string) {
	d.cache.Add(author, seenEvent{createdAt: createdAt, eventID: eventID})
}

// Len returns the number of tracked authors.
func (d *Dedup) Len() int {
	return d.cache.Len()
}
