// Package orchestrator provides the single local write path. Every mutation
// application code makes goes through here, which writes the record store
// and appends the matching operation queue entry in one transaction, then
// opportunistically nudges the sync engine.
package orchestrator

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/fieldside/claimsync/internal/bus"
	"github.com/fieldside/claimsync/internal/model"
	"github.com/fieldside/claimsync/internal/netmon"
	"github.com/fieldside/claimsync/internal/queue"
	"github.com/fieldside/claimsync/internal/store"
	"github.com/google/uuid"
)

// SyncRequester is the engine capability the orchestrator needs: a
// fire-and-forget sync nudge. Failure to nudge is never surfaced to the
// caller; the durable queue guarantees eventual delivery on a later pass.
type SyncRequester interface {
	RequestSync()
}

// Orchestrator coordinates record writes, queue appends, and sync nudges.
type Orchestrator struct {
	store       *store.DB
	queue       *queue.Queue
	monitor     *netmon.Monitor
	engine      SyncRequester
	bus         *bus.Bus
	logger      *log.Logger
	activityLog bool
}

// Config holds optional orchestrator settings.
type Config struct {
	// ActivityLog, when set, records an ActivityEvent (synced like any
	// other table) alongside every non-activity mutation.
	ActivityLog bool

	// Logger for orchestrator activity (default: stderr logger).
	Logger *log.Logger
}

// New creates an orchestrator with default settings. engine and eventBus may
// be nil; a nil engine disables sync nudges (useful offline and in tests).
func New(db *store.DB, q *queue.Queue, monitor *netmon.Monitor, engine SyncRequester, eventBus *bus.Bus) *Orchestrator {
	return NewWithConfig(db, q, monitor, engine, eventBus, nil)
}

// NewWithConfig creates an orchestrator with custom configuration.
func NewWithConfig(db *store.DB, q *queue.Queue, monitor *netmon.Monitor, engine SyncRequester, eventBus *bus.Bus, config *Config) *Orchestrator {
	if config == nil {
		config = &Config{}
	}
	if eventBus == nil {
		eventBus = bus.New()
	}
	if config.Logger == nil {
		config.Logger = log.New(os.Stderr, "[orchestrator] ", log.LstdFlags)
	}
	return &Orchestrator{
		store:       db,
		queue:       q,
		monitor:     monitor,
		engine:      engine,
		bus:         eventBus,
		logger:      config.Logger,
		activityLog: config.ActivityLog,
	}
}

// Create inserts a new record and queues its remote create. The record's id
// must already be set (client-generated, never reassigned).
func (o *Orchestrator) Create(ctx context.Context, rec model.Record) error {
	return o.write(ctx, rec, queue.OpCreate)
}

// Update mutates an existing record and queues its remote update.
// Returns store.ErrNotFound if the record does not exist locally.
func (o *Orchestrator) Update(ctx context.Context, rec model.Record) error {
	exists, err := o.store.Exists(ctx, rec.Table(), rec.RecordID())
	if err != nil {
		return err
	}
	if !exists {
		return fmt.Errorf("%s %s: %w", rec.Table(), rec.RecordID(), store.ErrNotFound)
	}
	return o.write(ctx, rec, queue.OpUpdate)
}

// write performs the store write and queue append as one unit. A local I/O
// failure rolls both back and propagates synchronously to the caller.
func (o *Orchestrator) write(ctx context.Context, rec model.Record, op queue.Operation) error {
	rec.Meta().Touch()
	if err := rec.Validate(); err != nil {
		return fmt.Errorf("invalid %s record: %w", rec.Table(), err)
	}

	payload, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("failed to snapshot %s record: %w", rec.Table(), err)
	}

	err = o.store.WithTx(ctx, func(tx *sql.Tx) error {
		if err := o.store.PutTx(ctx, tx, rec); err != nil {
			return err
		}
		entry := queue.NewEntry(op, rec.Table(), rec.RecordID(), payload)
		if err := o.queue.EnqueueTx(ctx, tx, entry); err != nil {
			return err
		}
		return o.noteActivityTx(ctx, tx, rec, op)
	})
	if err != nil {
		return err
	}

	evType := bus.EventRecordUpdated
	kind := "update"
	if op == queue.OpCreate {
		evType = bus.EventRecordInserted
		kind = "create"
	}
	o.logger.Printf("Queued %s of %s/%s", kind, rec.Table(), rec.RecordID())
	o.bus.Publish(bus.Event{
		Type: evType, Table: rec.Table(),
		RecordID: rec.RecordID(), Origin: bus.OriginLocal,
	})

	o.nudge()
	return nil
}

// Delete removes a record locally and queues its remote delete.
// Deleting a record that doesn't exist locally is a no-op.
func (o *Orchestrator) Delete(ctx context.Context, table, id string) error {
	row, err := o.store.Get(ctx, table, id)
	if errors.Is(err, store.ErrNotFound) {
		return nil
	}
	if err != nil {
		return err
	}

	var claimID string
	if rec, err := row.Record(); err == nil {
		claimID = owningClaim(rec)
	}

	err = o.store.WithTx(ctx, func(tx *sql.Tx) error {
		if err := o.store.DeleteTx(ctx, tx, table, id); err != nil {
			return err
		}
		entry := queue.NewEntry(queue.OpDelete, table, id, nil)
		if err := o.queue.EnqueueTx(ctx, tx, entry); err != nil {
			return err
		}
		if o.activityLog && table != model.TableActivityEvents {
			return o.activityTx(ctx, tx, claimID, model.ActivityDeleted,
				fmt.Sprintf("deleted %s %s", table, id))
		}
		return nil
	})
	if err != nil {
		return err
	}

	o.logger.Printf("Queued delete of %s/%s", table, id)
	o.bus.Publish(bus.Event{
		Type: bus.EventRecordDeleted, Table: table,
		RecordID: id, Origin: bus.OriginLocal,
	})

	o.nudge()
	return nil
}

// RequestSync is the explicit user-initiated "sync now" path.
func (o *Orchestrator) RequestSync() {
	if o.engine != nil {
		o.engine.RequestSync()
	}
}

// PendingSyncCount exposes the user-visible "N items pending sync" number.
func (o *Orchestrator) PendingSyncCount(ctx context.Context) (int, error) {
	return o.queue.PendingCount(ctx)
}

// nudge fires a sync request when online. Step never blocks the caller.
func (o *Orchestrator) nudge() {
	if o.engine == nil || o.monitor == nil {
		return
	}
	if o.monitor.IsOnline() {
		o.engine.RequestSync()
	}
}

// noteActivityTx appends an activity-log record for a mutation, except for
// mutations of the activity log itself.
func (o *Orchestrator) noteActivityTx(ctx context.Context, tx *sql.Tx, rec model.Record, op queue.Operation) error {
	if !o.activityLog || rec.Table() == model.TableActivityEvents {
		return nil
	}
	kind := model.ActivityUpdated
	if op == queue.OpCreate {
		kind = model.ActivityCreated
	}
	return o.activityTx(ctx, tx, owningClaim(rec), kind,
		fmt.Sprintf("%s %s %s", kind, rec.Table(), rec.RecordID()))
}

// activityTx writes an activity record and its queue entry inside the
// caller's transaction, so the audit trail syncs like any other table.
func (o *Orchestrator) activityTx(ctx context.Context, tx *sql.Tx, claimID, kind, message string) error {
	now := time.Now().UTC()
	ev := &model.ActivityEvent{
		ID:        uuid.NewString(),
		ClaimID:   claimID,
		Kind:      kind,
		Message:   message,
		CreatedAt: now,
	}
	ev.UpdatedAt = now
	ev.SyncStatus = model.SyncPending

	if err := o.store.PutTx(ctx, tx, ev); err != nil {
		return err
	}

	payload, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("failed to snapshot activity event: %w", err)
	}
	return o.queue.EnqueueTx(ctx, tx,
		queue.NewEntry(queue.OpCreate, model.TableActivityEvents, ev.ID, payload))
}

// owningClaim returns the claim a record belongs to.
func owningClaim(rec model.Record) string {
	switch r := rec.(type) {
	case *model.Claim:
		return r.ID
	case *model.Photo:
		return r.ClaimID
	case *model.Document:
		return r.ClaimID
	case *model.Inspection:
		return r.ClaimID
	case *model.ActivityEvent:
		return r.ClaimID
	default:
		return ""
	}
}
