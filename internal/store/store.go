// Package store provides the durable local record store for claimsync.
//
// Records live in an embedded SQLite database opened in WAL mode so the UI
// can keep reading while the sync engine writes. Every syncable table has the
// same shape: a client-generated id, the JSON payload of the record, and the
// sync metadata columns (updated_at, sync_status, last_synced_at) that the
// sync engine and realtime bridge maintain.
//
// The sync metadata columns are authoritative; the copy embedded in the JSON
// payload is refreshed from them on read. Domain fields are only ever touched
// by the data orchestrator and by the realtime bridge during a merge.
package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/fieldside/claimsync/internal/model"
	_ "github.com/ncruces/go-sqlite3/driver"
	_ "github.com/ncruces/go-sqlite3/embed"
)

// ErrNotFound is returned when a record does not exist locally.
var ErrNotFound = errors.New("record not found")

// DB wraps the SQLite connection with record-store functionality.
type DB struct {
	conn *sql.DB
	path string
}

// Open creates a database connection at the specified path.
//
// The database is opened in embedded mode with WAL for concurrent reads.
// If the database doesn't exist, it is created; call InitSchema before use.
// The caller MUST call Close() when done.
func Open(path string) (*DB, error) {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create database directory: %w", err)
	}

	conn, err := sql.Open("sqlite3", "file:"+path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := conn.Ping(); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	conn.SetMaxOpenConns(25)
	conn.SetMaxIdleConns(5)
	conn.SetConnMaxLifetime(5 * time.Minute)

	db := &DB{conn: conn, path: path}

	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA foreign_keys=ON",
	} {
		if _, err := db.conn.Exec(pragma); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("failed to apply %q: %w", pragma, err)
		}
	}

	return db, nil
}

// RawDB returns the underlying sql.DB connection.
func (db *DB) RawDB() *sql.DB {
	return db.conn
}

// Close closes the database connection after checkpointing the WAL.
func (db *DB) Close() error {
	if db.conn == nil {
		return nil
	}

	if _, err := db.conn.Exec("PRAGMA wal_checkpoint(TRUNCATE)"); err != nil {
		fmt.Fprintf(os.Stderr, "Warning: failed to checkpoint WAL: %v\n", err)
	}

	if err := db.conn.Close(); err != nil {
		return fmt.Errorf("failed to close database: %w", err)
	}

	db.conn = nil
	return nil
}

// InitSchema creates the record tables and the operation queue table.
// Idempotent - safe to call multiple times.
func (db *DB) InitSchema() error {
	return db.InitSchemaContext(context.Background())
}

// InitSchemaContext creates the database schema with context support.
func (db *DB) InitSchemaContext(ctx context.Context) error {
	for _, table := range model.Tables() {
		stmt := fmt.Sprintf(`
		CREATE TABLE IF NOT EXISTS %[1]s (
			id TEXT PRIMARY KEY,
			payload TEXT NOT NULL,
			updated_at TEXT NOT NULL,
			sync_status TEXT NOT NULL DEFAULT 'pending',
			last_synced_at TEXT
		);
		CREATE INDEX IF NOT EXISTS idx_%[1]s_status ON %[1]s(sync_status);
		CREATE INDEX IF NOT EXISTS idx_%[1]s_updated ON %[1]s(updated_at);
		`, table)

		if _, err := db.conn.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("failed to create table %s: %w", table, err)
		}
	}

	queueSchema := `
	CREATE TABLE IF NOT EXISTS op_queue (
		id TEXT PRIMARY KEY,
		operation TEXT NOT NULL,       -- create, update, delete
		target_table TEXT NOT NULL,
		record_id TEXT,
		payload TEXT,
		retry_count INTEGER NOT NULL DEFAULT 0,
		max_retries INTEGER NOT NULL DEFAULT 3,
		status TEXT NOT NULL DEFAULT 'pending',  -- pending, processing, completed, failed
		error_message TEXT,
		created_at TEXT NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_op_queue_status ON op_queue(status);
	CREATE INDEX IF NOT EXISTS idx_op_queue_created ON op_queue(created_at);
	CREATE INDEX IF NOT EXISTS idx_op_queue_record ON op_queue(target_table, record_id);
	`

	if _, err := db.conn.ExecContext(ctx, queueSchema); err != nil {
		return fmt.Errorf("failed to create op_queue table: %w", err)
	}

	return nil
}

// WithTx runs fn inside a transaction, committing on nil and rolling back on
// error. The orchestrator uses this to make a record write and its queue
// entry one unit.
func (db *DB) WithTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := db.conn.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if err := fn(tx); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// Row is one stored record as read back from a table. Payload is the JSON
// snapshot of the domain record; the sync metadata fields come from the
// authoritative columns.
type Row struct {
	Table        string
	ID           string
	Payload      json.RawMessage
	UpdatedAt    time.Time
	SyncStatus   model.SyncStatus
	LastSyncedAt *time.Time
}

// Record decodes the row into its concrete record type, with sync metadata
// taken from the columns rather than the stored payload.
func (r *Row) Record() (model.Record, error) {
	rec, err := model.Decode(r.Table, r.Payload)
	if err != nil {
		return nil, err
	}
	meta := rec.Meta()
	meta.UpdatedAt = r.UpdatedAt
	meta.SyncStatus = r.SyncStatus
	meta.LastSyncedAt = r.LastSyncedAt
	return rec, nil
}

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

// Put inserts or replaces a record, keyed by its client-generated id.
func (db *DB) Put(ctx context.Context, rec model.Record) error {
	return putOn(ctx, db.conn, rec)
}

// PutTx is Put inside an existing transaction.
func (db *DB) PutTx(ctx context.Context, tx *sql.Tx, rec model.Record) error {
	return putOn(ctx, tx, rec)
}

func putOn(ctx context.Context, e execer, rec model.Record) error {
	if err := rec.Validate(); err != nil {
		return fmt.Errorf("invalid %s record: %w", rec.Table(), err)
	}
	if !model.KnownTable(rec.Table()) {
		return fmt.Errorf("unknown table %q", rec.Table())
	}

	payload, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("failed to marshal %s record: %w", rec.Table(), err)
	}

	meta := rec.Meta()
	query := fmt.Sprintf(`
	INSERT INTO %s (id, payload, updated_at, sync_status, last_synced_at)
	VALUES (?, ?, ?, ?, ?)
	ON CONFLICT(id) DO UPDATE SET
		payload = excluded.payload,
		updated_at = excluded.updated_at,
		sync_status = excluded.sync_status,
		last_synced_at = excluded.last_synced_at
	`, rec.Table())

	_, err = e.ExecContext(ctx, query,
		rec.RecordID(),
		string(payload),
		meta.UpdatedAt.UTC().Format(time.RFC3339Nano),
		string(meta.SyncStatus),
		timeToNullString(meta.LastSyncedAt),
	)
	if err != nil {
		return fmt.Errorf("failed to upsert %s %s: %w", rec.Table(), rec.RecordID(), err)
	}
	return nil
}

// Get reads one record row. Returns ErrNotFound if it does not exist.
func (db *DB) Get(ctx context.Context, table, id string) (*Row, error) {
	if !model.KnownTable(table) {
		return nil, fmt.Errorf("unknown table %q", table)
	}

	query := fmt.Sprintf(
		`SELECT id, payload, updated_at, sync_status, last_synced_at FROM %s WHERE id = ?`, table)

	row := db.conn.QueryRowContext(ctx, query, id)
	r, err := scanRow(table, row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%s %s: %w", table, id, ErrNotFound)
	}
	return r, err
}

// List returns all rows of a table ordered by updated_at descending.
func (db *DB) List(ctx context.Context, table string) ([]*Row, error) {
	if !model.KnownTable(table) {
		return nil, fmt.Errorf("unknown table %q", table)
	}

	query := fmt.Sprintf(
		`SELECT id, payload, updated_at, sync_status, last_synced_at FROM %s ORDER BY updated_at DESC`, table)

	rows, err := db.conn.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to list %s: %w", table, err)
	}
	defer rows.Close()

	var out []*Row
	for rows.Next() {
		r, err := scanRow(table, rows)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating %s: %w", table, err)
	}
	return out, nil
}

// Delete removes a record. Returns nil if it doesn't exist (idempotent).
func (db *DB) Delete(ctx context.Context, table, id string) error {
	return deleteOn(ctx, db.conn, table, id)
}

// DeleteTx is Delete inside an existing transaction.
func (db *DB) DeleteTx(ctx context.Context, tx *sql.Tx, table, id string) error {
	return deleteOn(ctx, tx, table, id)
}

func deleteOn(ctx context.Context, e execer, table, id string) error {
	if !model.KnownTable(table) {
		return fmt.Errorf("unknown table %q", table)
	}
	query := fmt.Sprintf(`DELETE FROM %s WHERE id = ?`, table)
	if _, err := e.ExecContext(ctx, query, id); err != nil {
		return fmt.Errorf("failed to delete %s %s: %w", table, id, err)
	}
	return nil
}

// Exists reports whether a record is present locally.
func (db *DB) Exists(ctx context.Context, table, id string) (bool, error) {
	if !model.KnownTable(table) {
		return false, fmt.Errorf("unknown table %q", table)
	}
	var one int
	query := fmt.Sprintf(`SELECT 1 FROM %s WHERE id = ?`, table)
	err := db.conn.QueryRowContext(ctx, query, id).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to check %s %s: %w", table, id, err)
	}
	return true, nil
}

// MarkSynced records a remote acknowledgment: sync_status becomes synced and
// last_synced_at is set. Domain fields are untouched.
func (db *DB) MarkSynced(ctx context.Context, table, id string, at time.Time) error {
	if !model.KnownTable(table) {
		return fmt.Errorf("unknown table %q", table)
	}
	query := fmt.Sprintf(`UPDATE %s SET sync_status = ?, last_synced_at = ? WHERE id = ?`, table)
	_, err := db.conn.ExecContext(ctx, query,
		string(model.SyncSynced), at.UTC().Format(time.RFC3339Nano), id)
	if err != nil {
		return fmt.Errorf("failed to mark %s %s synced: %w", table, id, err)
	}
	return nil
}

// SetSyncStatus updates only the sync_status column.
func (db *DB) SetSyncStatus(ctx context.Context, table, id string, status model.SyncStatus) error {
	if !model.KnownTable(table) {
		return fmt.Errorf("unknown table %q", table)
	}
	query := fmt.Sprintf(`UPDATE %s SET sync_status = ? WHERE id = ?`, table)
	if _, err := db.conn.ExecContext(ctx, query, string(status), id); err != nil {
		return fmt.Errorf("failed to set sync status on %s %s: %w", table, id, err)
	}
	return nil
}

// CountByStatus returns how many records in a table have the given status.
func (db *DB) CountByStatus(ctx context.Context, table string, status model.SyncStatus) (int, error) {
	if !model.KnownTable(table) {
		return 0, fmt.Errorf("unknown table %q", table)
	}
	var count int
	query := fmt.Sprintf(`SELECT COUNT(*) FROM %s WHERE sync_status = ?`, table)
	err := db.conn.QueryRowContext(ctx, query, string(status)).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count %s by status: %w", table, err)
	}
	return count, nil
}

type scannable interface {
	Scan(dest ...any) error
}

func scanRow(table string, s scannable) (*Row, error) {
	var (
		r            Row
		payload      string
		updatedAt    string
		syncStatus   string
		lastSyncedAt sql.NullString
	)

	err := s.Scan(&r.ID, &payload, &updatedAt, &syncStatus, &lastSyncedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("failed to scan %s row: %w", table, err)
	}

	r.Table = table
	r.Payload = json.RawMessage(payload)
	r.SyncStatus = model.SyncStatus(syncStatus)
	if t, err := time.Parse(time.RFC3339Nano, updatedAt); err == nil {
		r.UpdatedAt = t
	}
	r.LastSyncedAt = nullStringToTime(lastSyncedAt)

	return &r, nil
}

// timeToNullString converts a time pointer to a nullable string for SQL.
func timeToNullString(t *time.Time) sql.NullString {
	if t == nil {
		return sql.NullString{Valid: false}
	}
	return sql.NullString{String: t.UTC().Format(time.RFC3339Nano), Valid: true}
}

// nullStringToTime converts a nullable SQL string to a time pointer.
func nullStringToTime(ns sql.NullString) *time.Time {
	if !ns.Valid {
		return nil
	}
	t, err := time.Parse(time.RFC3339Nano, ns.String)
	if err != nil {
		return nil
	}
	return &t
}
