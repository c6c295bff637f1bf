// Package engine implements the sync engine: the drain loop that replays the
// durable operation queue against the remote backend.
//
// One sync pass fetches every eligible queue entry in FIFO order and
// dispatches each to a per-table synchronizer. Photo entries upload their
// image bytes to object storage before the metadata row is written remotely.
// Remote creates are upserts keyed by the client-generated id, so a retry
// after a lost acknowledgment never duplicates a remote row.
//
// At most one pass runs at a time. Every trigger - the interval ticker, an
// offline-to-online transition, an explicit sync request - funnels through
// the same single-flight guard.
package engine

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"os"
	"sync"
	"time"

	"github.com/fieldside/claimsync/internal/bus"
	"github.com/fieldside/claimsync/internal/model"
	"github.com/fieldside/claimsync/internal/netmon"
	"github.com/fieldside/claimsync/internal/queue"
	"github.com/fieldside/claimsync/internal/remote"
	"github.com/fieldside/claimsync/internal/store"
)

// Engine drains the operation queue against the remote backend.
type Engine struct {
	store   *store.DB
	queue   *queue.Queue
	backend remote.Backend
	monitor *netmon.Monitor
	bus     *bus.Bus
	logger  *log.Logger

	// Status fields, guarded by mu. The syncing flag is the mutual
	// exclusion gate: it is set and cleared atomically with pass
	// entry/exit so near-simultaneous triggers cannot start two passes.
	mu            sync.Mutex
	syncing       bool
	progress      float64
	lastCompleted *time.Time

	kick chan struct{}
}

// Status is the observable engine state surfaced to the UI layer.
type Status struct {
	IsSyncing           bool       `json:"is_syncing"`
	IsOnline            bool       `json:"is_online"`
	Progress            float64    `json:"progress"`
	LastSyncCompletedAt *time.Time `json:"last_sync_completed_at,omitempty"`
	PendingCount        int        `json:"pending_count"`
	FailedCount         int        `json:"failed_count"`
	ExpiredCount        int        `json:"expired_count"`
}

// New creates a sync engine. All collaborators are required except eventBus
// and logger, which default to a no-op bus and a stderr logger.
func New(db *store.DB, q *queue.Queue, backend remote.Backend, monitor *netmon.Monitor, eventBus *bus.Bus, logger *log.Logger) *Engine {
	if eventBus == nil {
		eventBus = bus.New()
	}
	if logger == nil {
		logger = log.New(os.Stderr, "[engine] ", log.LstdFlags)
	}

	return &Engine{
		store:   db,
		queue:   q,
		backend: backend,
		monitor: monitor,
		bus:     eventBus,
		logger:  logger,
		kick:    make(chan struct{}, 1),
	}
}

// IsSyncing reports whether a pass is currently running.
func (e *Engine) IsSyncing() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.syncing
}

// Progress returns the current pass progress in [0, 1].
func (e *Engine) Progress() float64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.progress
}

// LastSyncCompletedAt returns when the last pass finished, or nil if none has.
func (e *Engine) LastSyncCompletedAt() *time.Time {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.lastCompleted
}

// Status returns a snapshot of engine and queue state for the UI.
func (e *Engine) Status(ctx context.Context) (Status, error) {
	pending, err := e.queue.PendingCount(ctx)
	if err != nil {
		return Status{}, err
	}
	failed, err := e.queue.FailedCount(ctx)
	if err != nil {
		return Status{}, err
	}
	expired, err := e.queue.ExpiredCount(ctx)
	if err != nil {
		return Status{}, err
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	return Status{
		IsSyncing:           e.syncing,
		IsOnline:            e.monitor.IsOnline(),
		Progress:            e.progress,
		LastSyncCompletedAt: e.lastCompleted,
		PendingCount:        pending,
		FailedCount:         failed,
		ExpiredCount:        expired,
	}, nil
}

// RequestSync asks for a pass without blocking. If the engine's run loop is
// active the request coalesces with any already-queued trigger; the bounded
// channel is what keeps fire-and-forget nudges from piling up goroutines.
func (e *Engine) RequestSync() {
	select {
	case e.kick <- struct{}{}:
	default:
	}
}

// Run owns the background sync worker: it performs a pass on every trigger
// (interval tick or RequestSync) until ctx is cancelled. Blocks.
func (e *Engine) Run(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = time.Minute
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		case <-e.kick:
		}

		if err := e.PerformSync(ctx); err != nil {
			e.logger.Printf("Sync pass error: %v", err)
		}
	}
}

// PerformSync runs one sync pass. It is a no-op when offline or when another
// pass is already running. Sync failures of individual entries never abort
// the pass; they are recorded on the entry and surfaced via Status.
func (e *Engine) PerformSync(ctx context.Context) error {
	if !e.monitor.IsOnline() {
		return nil
	}

	e.mu.Lock()
	if e.syncing {
		e.mu.Unlock()
		return nil
	}
	e.syncing = true
	e.progress = 0
	e.mu.Unlock()

	defer func() {
		e.mu.Lock()
		e.syncing = false
		e.mu.Unlock()
		e.publishState()
	}()

	batch, err := e.queue.NextBatch(ctx)
	if err != nil {
		return fmt.Errorf("failed to fetch sync batch: %w", err)
	}

	if len(batch) == 0 {
		e.finishPass(1)
		return nil
	}

	e.logger.Printf("Sync pass: %d entries", len(batch))
	e.publishState()

	for i, entry := range batch {
		e.setProgress(float64(i) / float64(len(batch)))

		if err := e.queue.MarkProcessing(ctx, entry.ID); err != nil {
			e.logger.Printf("Warning: failed to mark %s processing: %v", entry.ID, err)
			continue
		}

		if err := e.syncEntry(ctx, entry); err != nil {
			e.recordFailure(ctx, entry, err)
			continue
		}

		if err := e.queue.MarkCompleted(ctx, entry.ID); err != nil {
			e.logger.Printf("Warning: failed to mark %s completed: %v", entry.ID, err)
		}
		if entry.Operation != queue.OpDelete && entry.RecordID != "" {
			if err := e.store.MarkSynced(ctx, entry.TargetTable, entry.RecordID, time.Now().UTC()); err != nil {
				e.logger.Printf("Warning: failed to mark %s/%s synced: %v",
					entry.TargetTable, entry.RecordID, err)
			}
		}
	}

	e.finishPass(1)
	e.logger.Printf("Sync pass complete")
	return nil
}

// syncEntry dispatches one entry to its per-table synchronizer.
func (e *Engine) syncEntry(ctx context.Context, entry *queue.Entry) error {
	if !model.KnownTable(entry.TargetTable) {
		return &remote.BackendError{
			Op:    string(entry.Operation),
			Table: entry.TargetTable,
			Err:   fmt.Errorf("unknown target table"),
		}
	}

	switch entry.Operation {
	case queue.OpDelete:
		if entry.RecordID == "" {
			return &remote.BackendError{
				Op:    "delete",
				Table: entry.TargetTable,
				Err:   fmt.Errorf("delete entry missing record id"),
			}
		}
		return e.backend.Delete(ctx, entry.TargetTable, entry.RecordID)

	case queue.OpCreate, queue.OpUpdate:
		payload := entry.Payload
		if len(payload) == 0 || entry.RecordID == "" {
			return &remote.BackendError{
				Op:    string(entry.Operation),
				Table: entry.TargetTable,
				ID:    entry.RecordID,
				Err:   fmt.Errorf("entry missing payload or record id"),
			}
		}

		if entry.TargetTable == model.TablePhotos {
			var err error
			payload, err = e.preparePhoto(ctx, entry.RecordID, payload)
			if err != nil {
				return err
			}
		}

		return e.backend.Upsert(ctx, entry.TargetTable, entry.RecordID, payload)

	default:
		return &remote.BackendError{
			Op:    string(entry.Operation),
			Table: entry.TargetTable,
			Err:   fmt.Errorf("unknown operation"),
		}
	}
}

// preparePhoto ensures the image bytes are in object storage before the
// metadata row goes remote. The returned payload carries the storage
// locator, which is also cached back onto the local record.
func (e *Engine) preparePhoto(ctx context.Context, id string, payload json.RawMessage) (json.RawMessage, error) {
	var photo model.Photo
	if err := json.Unmarshal(payload, &photo); err != nil {
		return nil, &remote.BackendError{
			Op:    "upsert",
			Table: model.TablePhotos,
			ID:    id,
			Err:   fmt.Errorf("malformed photo payload: %w", err),
		}
	}

	if photo.Uploaded() {
		return payload, nil
	}

	// The queue payload is a snapshot from enqueue time; a retry after a
	// successful upload finds the locator cached on the local record.
	if row, err := e.store.Get(ctx, model.TablePhotos, id); err == nil {
		if rec, decErr := row.Record(); decErr == nil {
			if current, ok := rec.(*model.Photo); ok && current.Uploaded() {
				photo.StorageLocator = current.StorageLocator
				photo.SizeBytes = current.SizeBytes
				updated, err := json.Marshal(&photo)
				if err != nil {
					return nil, fmt.Errorf("failed to re-marshal photo payload: %w", err)
				}
				return updated, nil
			}
		}
	}

	data, err := os.ReadFile(photo.LocalPath)
	if err != nil {
		// The spool file is gone; no retry will bring it back.
		return nil, &remote.BackendError{
			Op:    "put_object",
			Table: model.TablePhotos,
			ID:    id,
			Err:   fmt.Errorf("failed to read photo bytes: %w", err),
		}
	}

	locator, err := e.backend.PutObject(ctx, data, photo.ContentType)
	if err != nil {
		return nil, err
	}

	photo.StorageLocator = locator
	photo.SizeBytes = int64(len(data))

	// Cache the locator on the local record so a later retry of the
	// metadata upsert skips the upload.
	row, err := e.store.Get(ctx, model.TablePhotos, id)
	if err == nil {
		if rec, decErr := row.Record(); decErr == nil {
			if current, ok := rec.(*model.Photo); ok {
				current.StorageLocator = locator
				current.SizeBytes = photo.SizeBytes
				if putErr := e.store.Put(ctx, current); putErr != nil {
					e.logger.Printf("Warning: failed to cache storage locator for photo %s: %v", id, putErr)
				}
			}
		}
	}

	updated, err := json.Marshal(&photo)
	if err != nil {
		return nil, fmt.Errorf("failed to re-marshal photo payload: %w", err)
	}
	return updated, nil
}

// recordFailure applies the failure policy to an entry and its record.
func (e *Engine) recordFailure(ctx context.Context, entry *queue.Entry, cause error) {
	if remote.IsTransient(cause) {
		e.logger.Printf("Transient failure on %s %s/%s (attempt %d/%d): %v",
			entry.Operation, entry.TargetTable, entry.RecordID,
			entry.RetryCount+1, entry.MaxRetries, cause)

		if err := e.queue.MarkFailed(ctx, entry.ID, cause); err != nil {
			e.logger.Printf("Warning: failed to record failure on %s: %v", entry.ID, err)
			return
		}
		// Retry budget exhausted: the record itself surfaces as failed.
		if entry.RetryCount+1 >= entry.MaxRetries && entry.RecordID != "" {
			e.markRecordFailed(ctx, entry)
		}
		return
	}

	e.logger.Printf("Permanent failure on %s %s/%s: %v",
		entry.Operation, entry.TargetTable, entry.RecordID, cause)

	if err := e.queue.MarkPermanentlyFailed(ctx, entry.ID, cause); err != nil {
		e.logger.Printf("Warning: failed to record permanent failure on %s: %v", entry.ID, err)
	}
	if entry.RecordID != "" {
		e.markRecordFailed(ctx, entry)
	}
}

func (e *Engine) markRecordFailed(ctx context.Context, entry *queue.Entry) {
	if entry.Operation == queue.OpDelete || !model.KnownTable(entry.TargetTable) {
		return
	}
	if err := e.store.SetSyncStatus(ctx, entry.TargetTable, entry.RecordID, model.SyncFailed); err != nil {
		e.logger.Printf("Warning: failed to flag %s/%s failed: %v",
			entry.TargetTable, entry.RecordID, err)
	}
}

func (e *Engine) setProgress(p float64) {
	e.mu.Lock()
	e.progress = p
	e.mu.Unlock()
	e.publishState()
}

func (e *Engine) finishPass(p float64) {
	now := time.Now().UTC()
	e.mu.Lock()
	e.progress = p
	e.lastCompleted = &now
	e.mu.Unlock()
}

func (e *Engine) publishState() {
	e.bus.Publish(bus.Event{Type: bus.EventSyncStateChanged})
}
