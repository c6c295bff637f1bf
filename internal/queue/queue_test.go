package queue

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"github.com/fieldside/claimsync/internal/model"
	"github.com/fieldside/claimsync/internal/store"
)

func setupTestQueue(t *testing.T) *Queue {
	t.Helper()

	db, err := store.Open(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("failed to open database: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })

	if err := db.InitSchema(); err != nil {
		t.Fatalf("failed to init schema: %v", err)
	}
	return New(db)
}

func mustEnqueue(t *testing.T, q *Queue, e *Entry) {
	t.Helper()
	if err := q.Enqueue(context.Background(), e); err != nil {
		t.Fatalf("failed to enqueue: %v", err)
	}
}

func TestEnqueueAndNextBatchFIFO(t *testing.T) {
	q := setupTestQueue(t)
	ctx := context.Background()

	base := time.Now().UTC().Add(-time.Hour)
	for i := 0; i < 3; i++ {
		e := NewEntry(OpCreate, model.TableClaims, fmt.Sprintf("rec-%d", i), []byte(`{}`))
		e.CreatedAt = base.Add(time.Duration(i) * time.Minute)
		mustEnqueue(t, q, e)
	}

	batch, err := q.NextBatch(ctx)
	if err != nil {
		t.Fatalf("failed to fetch batch: %v", err)
	}
	if len(batch) != 3 {
		t.Fatalf("batch size = %d, want 3", len(batch))
	}
	for i, e := range batch {
		want := fmt.Sprintf("rec-%d", i)
		if e.RecordID != want {
			t.Errorf("batch[%d].RecordID = %q, want %q (oldest first)", i, e.RecordID, want)
		}
	}
}

func TestMarkCompletedLeavesBatch(t *testing.T) {
	q := setupTestQueue(t)
	ctx := context.Background()

	e := NewEntry(OpCreate, model.TableClaims, "rec-1", []byte(`{}`))
	mustEnqueue(t, q, e)

	if err := q.MarkProcessing(ctx, e.ID); err != nil {
		t.Fatalf("failed to mark processing: %v", err)
	}
	if err := q.MarkCompleted(ctx, e.ID); err != nil {
		t.Fatalf("failed to mark completed: %v", err)
	}

	batch, err := q.NextBatch(ctx)
	if err != nil {
		t.Fatalf("failed to fetch batch: %v", err)
	}
	if len(batch) != 0 {
		t.Errorf("completed entry still in batch (%d entries)", len(batch))
	}

	pending, err := q.PendingCount(ctx)
	if err != nil {
		t.Fatalf("failed to count pending: %v", err)
	}
	if pending != 0 {
		t.Errorf("pending count = %d, want 0", pending)
	}
}

func TestMarkFailedRetriesUntilExhausted(t *testing.T) {
	q := setupTestQueue(t)
	ctx := context.Background()

	e := NewEntry(OpUpdate, model.TableClaims, "rec-1", []byte(`{}`))
	mustEnqueue(t, q, e)

	// First two failures revert to pending with the cause recorded.
	for attempt := 1; attempt < DefaultMaxRetries; attempt++ {
		if err := q.MarkFailed(ctx, e.ID, errors.New("connection reset")); err != nil {
			t.Fatalf("failed to mark failed (attempt %d): %v", attempt, err)
		}

		got, err := q.Get(ctx, e.ID)
		if err != nil {
			t.Fatalf("failed to get entry: %v", err)
		}
		if got.Status != StatusPending {
			t.Fatalf("status after attempt %d = %q, want pending", attempt, got.Status)
		}
		if got.RetryCount != attempt {
			t.Errorf("retry count after attempt %d = %d", attempt, got.RetryCount)
		}
		if got.ErrorMessage != "connection reset" {
			t.Errorf("error message = %q, want cause", got.ErrorMessage)
		}
	}

	// The final failure is terminal.
	if err := q.MarkFailed(ctx, e.ID, errors.New("connection reset")); err != nil {
		t.Fatalf("failed to mark final failure: %v", err)
	}

	got, err := q.Get(ctx, e.ID)
	if err != nil {
		t.Fatalf("failed to get entry: %v", err)
	}
	if got.Status != StatusFailed {
		t.Errorf("status after exhaustion = %q, want failed", got.Status)
	}
	if got.RetryCount != DefaultMaxRetries {
		t.Errorf("retry count = %d, want %d", got.RetryCount, DefaultMaxRetries)
	}
	if got.ErrorMessage != "maximum retry attempts reached" {
		t.Errorf("error message = %q, want terminal message", got.ErrorMessage)
	}
	if got.CanRetry() {
		t.Error("exhausted entry reports CanRetry")
	}

	batch, err := q.NextBatch(ctx)
	if err != nil {
		t.Fatalf("failed to fetch batch: %v", err)
	}
	if len(batch) != 0 {
		t.Errorf("exhausted entry still in batch (%d entries)", len(batch))
	}
}

func TestMarkPermanentlyFailed(t *testing.T) {
	q := setupTestQueue(t)
	ctx := context.Background()

	e := NewEntry(OpCreate, model.TableClaims, "rec-1", []byte(`{}`))
	mustEnqueue(t, q, e)

	if err := q.MarkPermanentlyFailed(ctx, e.ID, errors.New("unknown target table")); err != nil {
		t.Fatalf("failed to mark permanently failed: %v", err)
	}

	got, err := q.Get(ctx, e.ID)
	if err != nil {
		t.Fatalf("failed to get entry: %v", err)
	}
	if got.Status != StatusFailed || got.CanRetry() {
		t.Errorf("entry not terminal: status %q, retries %d/%d",
			got.Status, got.RetryCount, got.MaxRetries)
	}

	failed, err := q.FailedCount(ctx)
	if err != nil {
		t.Fatalf("failed to count failed: %v", err)
	}
	if failed != 1 {
		t.Errorf("failed count = %d, want 1", failed)
	}
}

func TestPendingCountExcludesTerminal(t *testing.T) {
	q := setupTestQueue(t)
	ctx := context.Background()

	entries := make([]*Entry, 4)
	for i := range entries {
		entries[i] = NewEntry(OpCreate, model.TableClaims, fmt.Sprintf("rec-%d", i), []byte(`{}`))
		mustEnqueue(t, q, entries[i])
	}

	if err := q.MarkCompleted(ctx, entries[0].ID); err != nil {
		t.Fatalf("failed to mark completed: %v", err)
	}
	if err := q.MarkPermanentlyFailed(ctx, entries[1].ID, errors.New("bad")); err != nil {
		t.Fatalf("failed to mark permanently failed: %v", err)
	}
	// A retryable failure still counts as pending work.
	if err := q.MarkFailed(ctx, entries[2].ID, errors.New("timeout")); err != nil {
		t.Fatalf("failed to mark failed: %v", err)
	}

	pending, err := q.PendingCount(ctx)
	if err != nil {
		t.Fatalf("failed to count pending: %v", err)
	}
	if pending != 2 {
		t.Errorf("pending count = %d, want 2", pending)
	}
}

func TestRecoverStale(t *testing.T) {
	q := setupTestQueue(t)
	ctx := context.Background()

	e1 := NewEntry(OpCreate, model.TableClaims, "rec-1", []byte(`{}`))
	e2 := NewEntry(OpCreate, model.TableClaims, "rec-2", []byte(`{}`))
	mustEnqueue(t, q, e1)
	mustEnqueue(t, q, e2)

	// Simulate a pass interrupted mid-flight.
	if err := q.MarkProcessing(ctx, e1.ID); err != nil {
		t.Fatalf("failed to mark processing: %v", err)
	}

	recovered, err := q.RecoverStale(ctx)
	if err != nil {
		t.Fatalf("failed to recover stale: %v", err)
	}
	if recovered != 1 {
		t.Errorf("recovered = %d, want 1", recovered)
	}

	batch, err := q.NextBatch(ctx)
	if err != nil {
		t.Fatalf("failed to fetch batch: %v", err)
	}
	if len(batch) != 2 {
		t.Errorf("batch size after recovery = %d, want 2", len(batch))
	}
}

func TestExpiredCount(t *testing.T) {
	q := setupTestQueue(t)
	ctx := context.Background()

	old := NewEntry(OpCreate, model.TableClaims, "rec-old", []byte(`{}`))
	old.CreatedAt = time.Now().UTC().Add(-ExpiryAge - time.Hour)
	mustEnqueue(t, q, old)

	fresh := NewEntry(OpCreate, model.TableClaims, "rec-new", []byte(`{}`))
	mustEnqueue(t, q, fresh)

	expired, err := q.ExpiredCount(ctx)
	if err != nil {
		t.Fatalf("failed to count expired: %v", err)
	}
	if expired != 1 {
		t.Errorf("expired count = %d, want 1", expired)
	}
	if !old.Expired() {
		t.Error("old entry does not report Expired")
	}

	// Expiry is advisory: the entry must still be eligible for sync.
	batch, err := q.NextBatch(ctx)
	if err != nil {
		t.Fatalf("failed to fetch batch: %v", err)
	}
	if len(batch) != 2 {
		t.Errorf("batch size = %d, want 2 (expired entries still retry)", len(batch))
	}
}

func TestPruneCompleted(t *testing.T) {
	q := setupTestQueue(t)
	ctx := context.Background()

	done := NewEntry(OpCreate, model.TableClaims, "rec-done", []byte(`{}`))
	done.CreatedAt = time.Now().UTC().Add(-48 * time.Hour)
	mustEnqueue(t, q, done)
	if err := q.MarkCompleted(ctx, done.ID); err != nil {
		t.Fatalf("failed to mark completed: %v", err)
	}

	waiting := NewEntry(OpCreate, model.TableClaims, "rec-waiting", []byte(`{}`))
	waiting.CreatedAt = time.Now().UTC().Add(-48 * time.Hour)
	mustEnqueue(t, q, waiting)

	pruned, err := q.PruneCompleted(ctx, 24*time.Hour)
	if err != nil {
		t.Fatalf("failed to prune: %v", err)
	}
	if pruned != 1 {
		t.Errorf("pruned = %d, want 1", pruned)
	}

	// The pending entry must survive pruning no matter how old it is.
	if _, err := q.Get(ctx, waiting.ID); err != nil {
		t.Errorf("pending entry pruned: %v", err)
	}
	if _, err := q.Get(ctx, done.ID); !errors.Is(err, ErrNotFound) {
		t.Errorf("completed entry still present: %v", err)
	}
}

func TestGetNotFound(t *testing.T) {
	q := setupTestQueue(t)

	_, err := q.Get(context.Background(), "missing")
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("Get of missing entry = %v, want ErrNotFound", err)
	}
}
