// Package ingest streams follow-list events from Nostr relays into the
// graph store: dedup, parse, diff-apply, enqueue for persistence.
package ingest

import (
	"context"
	"encoding/hex"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/nbd-wtf/go-nostr"
	"golang.org/x/sync/errgroup"

	"github.com/starford/othala/internal/db"
	"github.com/starford/othala/internal/graph"
)

// Follow lists are kind 3 per the Nostr protocol.
const kindFollowList = 3

const (
	dedupCapacity      = 100_000
	checkpointInterval = 30 * time.Second
	progressInterval   = 60 * time.Second
	reconnectBase      = time.Second
	reconnectMax       = time.Minute
)

// followUpdate is one parsed, validated follow-list event.
type followUpdate struct {
	author    string
	authorKey [32]byte
	eventID   string
	createdAt int64
	targets   []string
}

// Ingestor owns the feed connections and the per-event pipeline.
type Ingestor struct {
	store    *graph.Store
	writer   *db.Writer
	database *db.DB
	relays   []string
	dedup    *Dedup
	logger   *slog.Logger

	accepted   atomic.Uint64
	dedupSkips atomic.Uint64
	rejected   atomic.Uint64
}

// New creates an ingestor for the given relay URLs.
func New(store *graph.Store, writer *db.Writer, database *db.DB, relays []string, logger *slog.Logger) (*Ingestor, error) {
	dedup, err := NewDedup(dedupCapacity)
	if err != nil {
		return nil, fmt.Errorf("ingest: dedup cache: %w", err)
	}
	return &Ingestor{
		store:    store,
		writer:   writer,
		database: database,
		relays:   relays,
		dedup:    dedup,
		logger:   logger,
	}, nil
}

// Run subscribes to every configured relay and processes events until ctx
// is cancelled. Each feed reconnects independently with exponential backoff.
func (ig *Ingestor) Run(ctx context.Context) error {
	ig.logger.Info("ingest: starting", slog.Int("relays", len(ig.relays)))

	g, gCtx := errgroup.WithContext(ctx)
	for _, url := range ig.relays {
		g.Go(func() error {
			ig.runFeed(gCtx, url)
			return nil
		})
	}
	g.Go(func() error {
		ig.logProgress(gCtx)
		return nil
	})
	return g.Wait()
}

// runFeed maintains one relay connection: subscribe from the stored
// checkpoint, consume, checkpoint periodically, reconnect on failure.
func (ig *Ingestor) runFeed(ctx context.Context, url string) {
	backoff := reconnectBase

	for ctx.Err() == nil {
		err := ig.consumeFeed(ctx, url)
		if ctx.Err() != nil {
			return
		}
		if err != nil {
			ig.logger.Warn("ingest: feed error",
				slog.String("relay", url),
				slog.String("error", err.Error()),
				slog.Duration("retry_in", backoff))
		}
		select {
		case <-ctx.Done():
			return
		case <-time.After(backoff):
		}
		backoff *= 2
		if backoff > reconnectMax {
			backoff = reconnectMax
		}
	}
}

func (ig *Ingestor) consumeFeed(ctx context.Context, url string) error {
	since := nostr.Timestamp(0)
	if st, err := ig.database.GetSyncState(url); err != nil {
		ig.logger.Warn("ingest: read checkpoint failed", slog.String("relay", url), slog.String("error", err.Error()))
	} else if st != nil {
		since = nostr.Timestamp(st.LastEventTime)
	}

	relay, err := nostr.RelayConnect(ctx, url)
	if err != nil {
		return fmt.Errorf("ingest: connect %s: %w", url, err)
	}
	defer relay.Close()

	filter := nostr.Filter{Kinds: []int{kindFollowList}}
	if since > 0 {
		filter.Since = &since
	}
	sub, err := relay.Subscribe(ctx, nostr.Filters{filter})
	if err != nil {
		return fmt.Errorf("ingest: subscribe %s: %w", url, err)
	}
	defer sub.Unsub()

	ig.logger.Info("ingest: subscribed", slog.String("relay", url), slog.Int64("since", int64(since)))

	var newest int64
	ticker := time.NewTicker(checkpointInterval)
	defer ticker.Stop()

	checkpoint := func() {
		if newest > 0 {
			if err := ig.database.SetSyncState(url, newest); err != nil {
				ig.logger.Warn("ingest: checkpoint failed", slog.String("relay", url), slog.String("error", err.Error()))
			}
		}
	}
	defer checkpoint()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			checkpoint()
		case ev, ok := <-sub.Events:
			if !ok {
				return fmt.Errorf("ingest: subscription closed by %s", url)
			}
			if ev == nil || ev.Kind != kindFollowList {
				continue
			}
			if ts := int64(ev.CreatedAt); ts > newest {
				newest = ts
			}
			ig.handleEvent(ctx, ev)
		}
	}
}

// handleEvent runs the per-event pipeline: parse, dedup probe, resolve,
// apply, enqueue persistence.
func (ig *Ingestor) handleEvent(ctx context.Context, ev *nostr.Event) {
	upd, err := parseFollowEvent(ev)
	if err != nil {
		ig.rejected.Add(1)
		return
	}

	if ig.dedup.Dominated(upd.authorKey, upd.createdAt) {
		ig.dedupSkips.Add(1)
		return
	}

	authorID := ig.store.GetOrCreateID(upd.author)
	targetIDs := make([]uint32, len(upd.targets))
	for i, t := range upd.targets {
		targetIDs[i] = ig.store.GetOrCreateID(t)
	}

	summary := ig.store.UpdateFollows(authorID, targetIDs, upd.eventID, upd.createdAt)
	if summary.Unchanged {
		return
	}
	ig.accepted.Add(1)
	ig.dedup.Record(upd.authorKey, upd.createdAt, upd.eventID)

	followed := make([]db.NodeRef, len(targetIDs))
	for i, id := range targetIDs {
		followed[i] = db.NodeRef{ID: id, Pubkey: ig.store.PubkeyOf(id)}
	}
	rec := db.ChangeRec{
		Follower:  db.NodeRef{ID: authorID, Pubkey: ig.store.PubkeyOf(authorID)},
		EventID:   upd.eventID,
		CreatedAt: upd.createdAt,
		Followed:  followed,
	}
	if err := ig.writer.Enqueue(ctx, rec); err != nil {
		ig.logger.Warn("ingest: persistence enqueue cancelled", slog.String("error", err.Error()))
	}
}

// parseFollowEvent validates and extracts a follow update. The whole event
// is rejected when the author or any p-tag target is not a 64-char
// lowercase hex key.
func parseFollowEvent(ev *nostr.Event) (*followUpdate, error) {
	if !validHexKey(ev.PubKey) {
		return nil, fmt.Errorf("ingest: malformed author key")
	}
	var authorKey [32]byte
	raw, err := hex.DecodeString(ev.PubKey)
	if err != nil || len(raw) != 32 {
		return nil, fmt.Errorf("ingest: malformed author key")
	}
	copy(authorKey[:], raw)

	var targets []string
	for _, tag := range ev.Tags {
		if len(tag) < 2 || tag[0] != "p" {
			continue
		}
		if !validHexKey(tag[1]) {
			return nil, fmt.Errorf("ingest: malformed follow target")
		}
		targets = append(targets, tag[1])
	}

	return &followUpdate{
		author:    ev.PubKey,
		authorKey: authorKey,
		eventID:   ev.ID,
		createdAt: int64(ev.CreatedAt),
		targets:   targets,
	}, nil
}

func validHexKey(s string) bool {
	if len(s) != 64 {
		return false
	}
	for i := 0; i < len(s); i++ {
		c := s[i]
		if (c < '0' || c > '9') && (c < 'a' || c > 'f') {
			return false
		}
	}
	return true
}

func (ig *Ingestor) logProgress(ctx context.Context) {
	ticker := time.NewTicker(progressInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			stats := ig.store.GraphStats()
			ig.logger.Info("ingest: progress",
				slog.Uint64("accepted", ig.accepted.Load()),
				slog.Uint64("dedup_skips", ig.dedupSkips.Load()),
				slog.Uint64("rejected", ig.rejected.Load()),
				slog.Int("nodes", stats.NodeCount),
				slog.Int("edges", stats.EdgeCount),
				slog.Int("seen_authors", ig.dedup.Len()),
				slog.Int("persist_queue", ig.writer.QueueLen()))
		}
	}
}
