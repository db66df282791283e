package db

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"testing"
	"time"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestWriterFlushesOnShutdown(t *testing.T) {
	database := testDB(t)
	w := NewWriter(database, discardLogger())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- w.Run(ctx) }()

	for i := byte(0); i < 5; i++ {
		rec := ChangeRec{
			Follower:  NodeRef{ID: uint32(i), Pubkey: key(i + 1)},
			EventID:   "ev",
			CreatedAt: int64(i + 1),
		}
		if err := w.Enqueue(ctx, rec); err != nil {
			t.Fatalf("Enqueue: %v", err)
		}
	}

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Run: %v", err)
		}
	case <-time.After(10 * time.Second):
		t.Fatal("writer did not stop")
	}

	nodes, _, err := database.Counts()
	if err != nil {
		t.Fatalf("Counts: %v", err)
	}
	if nodes != 5 {
		t.Errorf("nodes = %d, want 5 (queue drained on shutdown)", nodes)
	}
}

func TestWriterBatchesLargeBursts(t *testing.T) {
	database := testDB(t)
	w := NewWriter(database, discardLogger())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- w.Run(ctx) }()

	for i := 0; i < 250; i++ {
		rec := ChangeRec{
			Follower:  NodeRef{ID: uint32(i), Pubkey: keyN(i)},
			EventID:   "ev",
			CreatedAt: int64(i + 1),
		}
		if err := w.Enqueue(ctx, rec); err != nil {
			t.Fatalf("Enqueue: %v", err)
		}
	}

	cancel()
	<-done

	nodes, _, err := database.Counts()
	if err != nil {
		t.Fatalf("Counts: %v", err)
	}
	if nodes != 250 {
		t.Errorf("nodes = %d, want 250", nodes)
	}
}

// keyN builds a distinct 64-char hex key from an int.
func keyN(i int) string {
	return fmt.Sprintf("%064x", i)
}
