// Package db provides the SQLite mirror of the follow graph: enough state
// to rebuild the in-memory store on cold start, written in batches off the
// ingest hot path.
package db

import (
	"database/sql"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/starford/othala/internal/graph"
)

const schemaSQL = `
CREATE TABLE IF NOT EXISTS nodes (
	node_id         INTEGER PRIMARY KEY,
	pubkey          TEXT NOT NULL UNIQUE,
	last_event_id   TEXT,
	last_event_time INTEGER,
	updated_at      INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS edges (
	follower_id INTEGER NOT NULL,
	followed_id INTEGER NOT NULL,
	PRIMARY KEY (follower_id, followed_id)
);

CREATE INDEX IF NOT EXISTS idx_edges_follower ON edges(follower_id);
CREATE INDEX IF NOT EXISTS idx_edges_followed ON edges(followed_id);

CREATE TABLE IF NOT EXISTS sync_state (
	feed_url        TEXT PRIMARY KEY,
	last_event_time INTEGER,
	last_sync_at    INTEGER
);
`

// NodeRef pairs a graph id with its pubkey for persistence.
type NodeRef struct {
	ID     uint32
	Pubkey string
}

// ChangeRec is one accepted follow-set replacement, as produced by the
// store's write path. Ids are the store's ids; persisting them keeps the
// on-disk id space identical to the in-memory one.
type ChangeRec struct {
	Follower  NodeRef
	EventID   string
	CreatedAt int64
	Followed  []NodeRef
}

// SyncState is the resume checkpoint for one feed.
type SyncState struct {
	FeedURL       string
	LastEventTime int64
	LastSyncAt    int64
}

// DB wraps a sql.DB with graph persistence operations.
type DB struct {
	conn *sql.DB
}

// Open opens (or creates) the SQLite database and applies the schema.
// WAL journaling is always on.
func Open(dsn string) (*DB, error) {
	conn, err := sql.Open("sqlite3", dsn+"?_journal_mode=WAL&_busy_timeout=5000&_foreign_keys=on")
	if err != nil {
		return nil, fmt.Errorf("db: open: %w", err)
	}
	if err := conn.Ping(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("db: ping: %w", err)
	}
	if _, err := conn.Exec(schemaSQL); err != nil {
		conn.Close()
		return nil, fmt.Errorf("db: apply schema: %w", err)
	}
	return &DB{conn: conn}, nil
}

// Close closes the underlying connection.
func (db *DB) Close() error {
	return db.conn.Close()
}

// ApplyBatch persists a batch of change records in one transaction: node
// metadata upserts plus a full edge-set replacement per follower.
func (db *DB) ApplyBatch(recs []ChangeRec) error {
	if len(recs) == 0 {
		return nil
	}

	tx, err := db.conn.Begin()
	if err != nil {
		return fmt.Errorf("db: begin tx: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck // best-effort on failure path

	upsertFollower, err := tx.Prepare(`
		INSERT INTO nodes (node_id, pubkey, last_event_id, last_event_time, updated_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(node_id) DO UPDATE SET
			last_event_id   = excluded.last_event_id,
			last_event_time = excluded.last_event_time,
			updated_at      = excluded.updated_at
	`)
	if err != nil {
		return fmt.Errorf("db: prepare follower upsert: %w", err)
	}
	defer upsertFollower.Close()

	insertTarget, err := tx.Prepare(`
		INSERT INTO nodes (node_id, pubkey, updated_at) VALUES (?, ?, ?)
		ON CONFLICT(node_id) DO NOTHING
	`)
	if err != nil {
		return fmt.Errorf("db: prepare target insert: %w", err)
	}
	defer insertTarget.Close()

	insertEdge, err := tx.Prepare(`
		INSERT OR IGNORE INTO edges (follower_id, followed_id) VALUES (?, ?)
	`)
	if err != nil {
		return fmt.Errorf("db: prepare edge insert: %w", err)
	}
	defer insertEdge.Close()

	now := time.Now().Unix()
	for _, rec := range recs {
		if _, err := upsertFollower.Exec(rec.Follower.ID, rec.Follower.Pubkey, rec.EventID, rec.CreatedAt, now); err != nil {
			return fmt.Errorf("db: upsert node %d: %w", rec.Follower.ID, err)
		}
		if _, err := tx.Exec(`DELETE FROM edges WHERE follower_id = ?`, rec.Follower.ID); err != nil {
			return fmt.Errorf("db: delete edges for %d: %w", rec.Follower.ID, err)
		}
		for _, f := range rec.Followed {
			if _, err := insertTarget.Exec(f.ID, f.Pubkey, now); err != nil {
				return fmt.Errorf("db: insert target %d: %w", f.ID, err)
			}
			if _, err := insertEdge.Exec(rec.Follower.ID, f.ID); err != nil {
				return fmt.Errorf("db: insert edge %d->%d: %w", rec.Follower.ID, f.ID, err)
			}
		}
	}

	return tx.Commit()
}

// LoadGraph rebuilds the store from disk. Stored node ids must be dense
// from zero in stored order; anything else means the mirror is corrupt and
// the caller should fail fast.
func (db *DB) LoadGraph(store *graph.Store) error {
	type nodeRow struct {
		pubkey    string
		eventID   sql.NullString
		eventTime sql.NullInt64
	}

	rows, err := db.conn.Query(`SELECT node_id, pubkey, last_event_id, last_event_time FROM nodes ORDER BY node_id`)
	if err != nil {
		return fmt.Errorf("db: load nodes: %w", err)
	}
	defer rows.Close()

	var nodes []nodeRow
	for rows.Next() {
		var id int64
		var n nodeRow
		if err := rows.Scan(&id, &n.pubkey, &n.eventID, &n.eventTime); err != nil {
			return fmt.Errorf("db: scan node: %w", err)
		}
		if id != int64(len(nodes)) {
			return fmt.Errorf("db: node ids not dense: expected %d, got %d", len(nodes), id)
		}
		nodes = append(nodes, n)
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("db: load nodes: %w", err)
	}

	for i, n := range nodes {
		if got := store.GetOrCreateID(n.pubkey); got != uint32(i) {
			return fmt.Errorf("db: id mismatch during load: stored %d, assigned %d", i, got)
		}
	}

	edgeRows, err := db.conn.Query(`SELECT follower_id, followed_id FROM edges ORDER BY follower_id, followed_id`)
	if err != nil {
		return fmt.Errorf("db: load edges: %w", err)
	}
	defer edgeRows.Close()

	applied := make(map[int64]bool)
	apply := func(follower int64, follows []uint32) {
		n := nodes[follower]
		store.UpdateFollows(uint32(follower), follows, n.eventID.String, n.eventTime.Int64)
		applied[follower] = true
	}

	var curFollower int64 = -1
	var curFollows []uint32
	for edgeRows.Next() {
		var follower, followed int64
		if err := edgeRows.Scan(&follower, &followed); err != nil {
			return fmt.Errorf("db: scan edge: %w", err)
		}
		if follower >= int64(len(nodes)) || followed >= int64(len(nodes)) {
			return fmt.Errorf("db: edge references unknown node %d->%d", follower, followed)
		}
		if follower != curFollower {
			if curFollower >= 0 {
				apply(curFollower, curFollows)
			}
			curFollower = follower
			curFollows = nil
		}
		curFollows = append(curFollows, uint32(followed))
	}
	if err := edgeRows.Err(); err != nil {
		return fmt.Errorf("db: load edges: %w", err)
	}
	if curFollower >= 0 {
		apply(curFollower, curFollows)
	}

	// Followers whose latest event emptied their follow set still carry
	// metadata; restore it so the staleness check survives a reload.
	for i, n := range nodes {
		if n.eventTime.Valid && !applied[int64(i)] {
			store.UpdateFollows(uint32(i), nil, n.eventID.String, n.eventTime.Int64)
		}
	}

	return nil
}

// GetSyncState returns the checkpoint for a feed, or nil if none exists.
func (db *DB) GetSyncState(feedURL string) (*SyncState, error) {
	var st SyncState
	var lastEvent, lastSync sql.NullInt64
	err := db.conn.QueryRow(
		`SELECT feed_url, last_event_time, last_sync_at FROM sync_state WHERE feed_url = ?`, feedURL,
	).Scan(&st.FeedURL, &lastEvent, &lastSync)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("db: get sync state: %w", err)
	}
	st.LastEventTime = lastEvent.Int64
	st.LastSyncAt = lastSync.Int64
	return &st, nil
}

// SetSyncState upserts the checkpoint for a feed.
func (db *DB) SetSyncState(feedURL string, lastEventTime int64) error {
	_, err := db.conn.Exec(`
		INSERT INTO sync_state (feed_url, last_event_time, last_sync_at)
		VALUES (?, ?, ?)
		ON CONFLICT(feed_url) DO UPDATE SET
			last_event_time = excluded.last_event_time,
			last_sync_at    = excluded.last_sync_at
	`, feedURL, lastEventTime, time.Now().Unix())
	if err != nil {
		return fmt.Errorf("db: set sync state: %w", err)
	}
	return nil
}

// Counts returns stored node and edge totals.
func (db *DB) Counts() (nodes, edges int, err error) {
	if err = db.conn.QueryRow(`SELECT COUNT(*) FROM nodes`).Scan(&nodes); err != nil {
		return 0, 0, fmt.Errorf("db: count nodes: %w", err)
	}
	if err = db.conn.QueryRow(`SELECT COUNT(*) FROM edges`).Scan(&edges); err != nil {
		return 0, 0, fmt.Errorf("db: count edges: %w", err)
	}
	return nodes, edges, nil
}
