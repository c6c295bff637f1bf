// Package queue provides the durable operation queue: an ordered log of
// pending local mutations waiting to be replayed against the remote backend.
//
// Entries are appended by the data orchestrator in the same transaction as
// the record write, and drained by the sync engine in global FIFO order by
// created_at. FIFO order preserves causal order per record (a record's
// create is always sent before its updates) without per-record sequencing.
package queue

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/fieldside/claimsync/internal/store"
	"github.com/google/uuid"
)

// Operation is the kind of mutation an entry carries.
type Operation string

const (
	OpCreate Operation = "create"
	OpUpdate Operation = "update"
	OpDelete Operation = "delete"
)

// Status is the lifecycle state of a queue entry.
type Status string

const (
	// StatusPending means the entry is waiting for the next sync pass.
	StatusPending Status = "pending"
	// StatusProcessing means a sync pass has picked the entry up.
	StatusProcessing Status = "processing"
	// StatusCompleted means the remote backend acknowledged the mutation.
	StatusCompleted Status = "completed"
	// StatusFailed means the entry is terminal: retries exhausted or the
	// error was not retryable.
	StatusFailed Status = "failed"
)

// DefaultMaxRetries bounds how many times a transient failure is retried.
const DefaultMaxRetries = 3

// ExpiryAge is how old an entry may get before it counts as expired.
// Expiry is advisory - it feeds garbage-collection stats and alerting, it
// never suppresses a retry or deletes an entry on its own.
const ExpiryAge = 7 * 24 * time.Hour

// ErrNotFound is returned when an entry id does not exist.
var ErrNotFound = errors.New("queue entry not found")

// Entry is one pending mutation.
type Entry struct {
	ID           string
	Operation    Operation
	TargetTable  string
	RecordID     string
	Payload      json.RawMessage
	RetryCount   int
	MaxRetries   int
	Status       Status
	ErrorMessage string
	CreatedAt    time.Time
}

// CanRetry reports whether a failed entry still has retry budget.
func (e *Entry) CanRetry() bool {
	return e.Status == StatusFailed && e.RetryCount < e.MaxRetries
}

// Expired reports whether the entry has outlived the advisory expiry window.
func (e *Entry) Expired() bool {
	return time.Since(e.CreatedAt) > ExpiryAge
}

// Queue is the durable operation queue, backed by the op_queue table in the
// record store's database.
type Queue struct {
	db *store.DB
}

// New creates a Queue on top of an opened store. The store's schema must be
// initialized first.
func New(db *store.DB) *Queue {
	return &Queue{db: db}
}

// NewEntry builds an entry for a mutation, snapshotting the payload at
// enqueue time. The payload may be nil for deletes.
func NewEntry(op Operation, table, recordID string, payload []byte) *Entry {
	return &Entry{
		ID:          uuid.NewString(),
		Operation:   op,
		TargetTable: table,
		RecordID:    recordID,
		Payload:     payload,
		MaxRetries:  DefaultMaxRetries,
		Status:      StatusPending,
		CreatedAt:   time.Now().UTC(),
	}
}

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

// Enqueue appends an entry durably. It never blocks on the network.
func (q *Queue) Enqueue(ctx context.Context, e *Entry) error {
	return enqueueOn(ctx, q.db.RawDB(), e)
}

// EnqueueTx appends an entry inside an existing transaction, so the record
// write and the queue append commit or roll back together.
func (q *Queue) EnqueueTx(ctx context.Context, tx *sql.Tx, e *Entry) error {
	return enqueueOn(ctx, tx, e)
}

func enqueueOn(ctx context.Context, ex execer, e *Entry) error {
	if e.ID == "" {
		return fmt.Errorf("entry id is required")
	}
	if e.TargetTable == "" {
		return fmt.Errorf("entry target table is required")
	}
	if e.MaxRetries <= 0 {
		e.MaxRetries = DefaultMaxRetries
	}
	if e.Status == "" {
		e.Status = StatusPending
	}
	if e.CreatedAt.IsZero() {
		e.CreatedAt = time.Now().UTC()
	}

	query := `
	INSERT INTO op_queue (
		id, operation, target_table, record_id, payload,
		retry_count, max_retries, status, error_message, created_at
	) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	_, err := ex.ExecContext(ctx, query,
		e.ID,
		string(e.Operation),
		e.TargetTable,
		nullString(e.RecordID),
		nullString(string(e.Payload)),
		e.RetryCount,
		e.MaxRetries,
		string(e.Status),
		nullString(e.ErrorMessage),
		e.CreatedAt.UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("failed to enqueue %s on %s: %w", e.Operation, e.TargetTable, err)
	}
	return nil
}

// NextBatch returns every entry eligible for the next sync pass: pending
// entries plus failed entries with retry budget left, ordered by created_at
// ascending (oldest first).
func (q *Queue) NextBatch(ctx context.Context) ([]*Entry, error) {
	query := `
	SELECT id, operation, target_table, record_id, payload,
	       retry_count, max_retries, status, error_message, created_at
	FROM op_queue
	WHERE status = 'pending'
	   OR (status = 'failed' AND retry_count < max_retries)
	ORDER BY created_at ASC, id ASC
	`

	rows, err := q.db.RawDB().QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to query next batch: %w", err)
	}
	defer rows.Close()

	var entries []*Entry
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating queue entries: %w", err)
	}
	return entries, nil
}

// Get reads one entry by id. Returns ErrNotFound if it does not exist.
func (q *Queue) Get(ctx context.Context, id string) (*Entry, error) {
	query := `
	SELECT id, operation, target_table, record_id, payload,
	       retry_count, max_retries, status, error_message, created_at
	FROM op_queue WHERE id = ?
	`
	row := q.db.RawDB().QueryRowContext(ctx, query, id)
	e, err := scanEntry(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("entry %s: %w", id, ErrNotFound)
	}
	return e, err
}

// MarkProcessing transitions an entry to processing at the start of a sync
// attempt.
func (q *Queue) MarkProcessing(ctx context.Context, id string) error {
	return q.setStatus(ctx, id, StatusProcessing)
}

// MarkCompleted transitions an entry to completed after the remote backend
// acknowledged the mutation. Completed entries stay around until pruned.
func (q *Queue) MarkCompleted(ctx context.Context, id string) error {
	return q.setStatus(ctx, id, StatusCompleted)
}

func (q *Queue) setStatus(ctx context.Context, id string, s Status) error {
	res, err := q.db.RawDB().ExecContext(ctx,
		`UPDATE op_queue SET status = ? WHERE id = ?`, string(s), id)
	if err != nil {
		return fmt.Errorf("failed to mark entry %s %s: %w", id, s, err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("entry %s: %w", id, ErrNotFound)
	}
	return nil
}

// MarkFailed records a retryable failure. The retry count is incremented;
// when it reaches max_retries the entry becomes terminally failed, otherwise
// it reverts to pending so the next pass picks it up again. The retry
// counter, not the status machine, bounds the loop.
func (q *Queue) MarkFailed(ctx context.Context, id string, reason error) error {
	msg := ""
	if reason != nil {
		msg = reason.Error()
	}

	query := `
	UPDATE op_queue SET
		retry_count = retry_count + 1,
		status = CASE WHEN retry_count + 1 >= max_retries THEN 'failed' ELSE 'pending' END,
		error_message = CASE WHEN retry_count + 1 >= max_retries
			THEN 'maximum retry attempts reached'
			ELSE ? END
	WHERE id = ?
	`

	res, err := q.db.RawDB().ExecContext(ctx, query, nullString(msg), id)
	if err != nil {
		return fmt.Errorf("failed to mark entry %s failed: %w", id, err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("entry %s: %w", id, ErrNotFound)
	}
	return nil
}

// MarkPermanentlyFailed makes an entry terminal without touching the retry
// counter, for errors that will never succeed (validation rejects, unknown
// tables).
func (q *Queue) MarkPermanentlyFailed(ctx context.Context, id string, reason error) error {
	msg := "permanent failure"
	if reason != nil {
		msg = reason.Error()
	}

	res, err := q.db.RawDB().ExecContext(ctx,
		`UPDATE op_queue SET status = 'failed', retry_count = max_retries, error_message = ? WHERE id = ?`,
		msg, id)
	if err != nil {
		return fmt.Errorf("failed to mark entry %s permanently failed: %w", id, err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("entry %s: %w", id, ErrNotFound)
	}
	return nil
}

// PendingCount is the user-visible "N items pending sync" number: entries
// that are neither completed nor terminally failed.
func (q *Queue) PendingCount(ctx context.Context) (int, error) {
	var count int
	query := `
	SELECT COUNT(*) FROM op_queue
	WHERE status NOT IN ('completed')
	  AND NOT (status = 'failed' AND retry_count >= max_retries)
	`
	if err := q.db.RawDB().QueryRowContext(ctx, query).Scan(&count); err != nil {
		return 0, fmt.Errorf("failed to count pending entries: %w", err)
	}
	return count, nil
}

// FailedCount counts terminally failed entries needing user attention.
func (q *Queue) FailedCount(ctx context.Context) (int, error) {
	var count int
	query := `SELECT COUNT(*) FROM op_queue WHERE status = 'failed' AND retry_count >= max_retries`
	if err := q.db.RawDB().QueryRowContext(ctx, query).Scan(&count); err != nil {
		return 0, fmt.Errorf("failed to count failed entries: %w", err)
	}
	return count, nil
}

// ExpiredCount counts entries older than the advisory expiry window that are
// still not completed.
func (q *Queue) ExpiredCount(ctx context.Context) (int, error) {
	cutoff := time.Now().UTC().Add(-ExpiryAge).Format(time.RFC3339Nano)
	var count int
	query := `SELECT COUNT(*) FROM op_queue WHERE created_at < ? AND status != 'completed'`
	if err := q.db.RawDB().QueryRowContext(ctx, query, cutoff).Scan(&count); err != nil {
		return 0, fmt.Errorf("failed to count expired entries: %w", err)
	}
	return count, nil
}

// RecoverStale flips processing entries back to pending. A pass interrupted
// by app termination leaves entries in processing; since remote creates are
// idempotent upserts, retrying them at startup is safe. Returns how many
// entries were recovered.
func (q *Queue) RecoverStale(ctx context.Context) (int, error) {
	res, err := q.db.RawDB().ExecContext(ctx,
		`UPDATE op_queue SET status = 'pending' WHERE status = 'processing'`)
	if err != nil {
		return 0, fmt.Errorf("failed to recover stale entries: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, nil
	}
	return int(n), nil
}

// PruneCompleted deletes completed entries older than the retention window.
// Returns how many entries were pruned.
func (q *Queue) PruneCompleted(ctx context.Context, olderThan time.Duration) (int, error) {
	cutoff := time.Now().UTC().Add(-olderThan).Format(time.RFC3339Nano)
	res, err := q.db.RawDB().ExecContext(ctx,
		`DELETE FROM op_queue WHERE status = 'completed' AND created_at < ?`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("failed to prune completed entries: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, nil
	}
	return int(n), nil
}

// List returns all entries ordered oldest first, for the CLI queue view.
func (q *Queue) List(ctx context.Context) ([]*Entry, error) {
	query := `
	SELECT id, operation, target_table, record_id, payload,
	       retry_count, max_retries, status, error_message, created_at
	FROM op_queue ORDER BY created_at ASC, id ASC
	`
	rows, err := q.db.RawDB().QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to list queue entries: %w", err)
	}
	defer rows.Close()

	var entries []*Entry
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating queue entries: %w", err)
	}
	return entries, nil
}

type scannable interface {
	Scan(dest ...any) error
}

func scanEntry(s scannable) (*Entry, error) {
	var (
		e         Entry
		op        string
		recordID  sql.NullString
		payload   sql.NullString
		status    string
		errMsg    sql.NullString
		createdAt string
	)

	err := s.Scan(&e.ID, &op, &e.TargetTable, &recordID, &payload,
		&e.RetryCount, &e.MaxRetries, &status, &errMsg, &createdAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("failed to scan queue entry: %w", err)
	}

	e.Operation = Operation(op)
	e.Status = Status(status)
	e.RecordID = recordID.String
	if payload.Valid {
		e.Payload = json.RawMessage(payload.String)
	}
	e.ErrorMessage = errMsg.String
	if t, err := time.Parse(time.RFC3339Nano, createdAt); err == nil {
		e.CreatedAt = t
	}

	return &e, nil
}

func nullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{Valid: false}
	}
	return sql.NullString{String: s, Valid: true}
}
