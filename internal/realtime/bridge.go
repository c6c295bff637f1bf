package realtime

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/fieldside/claimsync/internal/bus"
	"github.com/fieldside/claimsync/internal/model"
	"github.com/fieldside/claimsync/internal/store"
	"github.com/google/uuid"
)

// Bridge folds server-pushed changes into the local record store.
//
// Conflict policy is last-write-wins by updated_at: an incoming update only
// overwrites local domain fields when its timestamp is strictly newer than
// the local record's. Remote deletes are authoritative, even over local
// unsynced edits, but discarding unsynced work leaves a tombstone activity
// record so the UI can explain what happened.
//
// The bridge mutates only the record store; it never touches the operation
// queue.
type Bridge struct {
	store  *store.DB
	bus    *bus.Bus
	logger *log.Logger
}

// NewBridge creates a merge bridge over the store. eventBus and logger may
// be nil.
func NewBridge(db *store.DB, eventBus *bus.Bus, logger *log.Logger) *Bridge {
	if eventBus == nil {
		eventBus = bus.New()
	}
	if logger == nil {
		logger = log.New(os.Stderr, "[bridge] ", log.LstdFlags)
	}
	return &Bridge{store: db, bus: eventBus, logger: logger}
}

// Apply merges one decoded change event into the store.
func (b *Bridge) Apply(ctx context.Context, ev *ChangeEvent) error {
	switch ev.Operation {
	case OpInsert:
		return b.applyInsert(ctx, ev)
	case OpUpdate:
		return b.applyUpdate(ctx, ev)
	case OpDelete:
		return b.applyDelete(ctx, ev)
	default:
		return fmt.Errorf("unknown change operation %q", ev.Operation)
	}
}

// applyInsert handles a remote insert. If the record already exists locally
// (typically this device's own echoed create), the local copy stays
// authoritative until the sync engine confirms it.
func (b *Bridge) applyInsert(ctx context.Context, ev *ChangeEvent) error {
	exists, err := b.store.Exists(ctx, ev.Table, ev.RecordID())
	if err != nil {
		return err
	}
	if exists {
		return nil
	}

	rec := ev.Record
	rec.Meta().MarkSynced(time.Now().UTC())
	if err := b.store.Put(ctx, rec); err != nil {
		return fmt.Errorf("failed to insert remote %s %s: %w", ev.Table, ev.RecordID(), err)
	}

	b.logger.Printf("Merged remote insert: %s/%s", ev.Table, ev.RecordID())
	b.bus.Publish(bus.Event{
		Type: bus.EventRecordInserted, Table: ev.Table,
		RecordID: ev.RecordID(), Origin: bus.OriginRemote,
	})
	return nil
}

// applyUpdate handles a remote update under last-write-wins by updated_at.
func (b *Bridge) applyUpdate(ctx context.Context, ev *ChangeEvent) error {
	local, err := b.store.Get(ctx, ev.Table, ev.RecordID())
	if errors.Is(err, store.ErrNotFound) {
		// Never seen locally; treat as an insert.
		return b.applyInsert(ctx, ev)
	}
	if err != nil {
		return err
	}

	incoming := ev.Record.Meta().UpdatedAt
	if !incoming.After(local.UpdatedAt) {
		// Local copy is newer or equal; the event is superseded.
		b.logger.Printf("Discarded stale remote update: %s/%s (remote %s <= local %s)",
			ev.Table, ev.RecordID(),
			incoming.Format(time.RFC3339), local.UpdatedAt.Format(time.RFC3339))
		return nil
	}

	rec := ev.Record
	rec.Meta().MarkSynced(time.Now().UTC())
	if err := b.store.Put(ctx, rec); err != nil {
		return fmt.Errorf("failed to merge remote update %s %s: %w", ev.Table, ev.RecordID(), err)
	}

	b.logger.Printf("Merged remote update: %s/%s", ev.Table, ev.RecordID())
	b.bus.Publish(bus.Event{
		Type: bus.EventRecordUpdated, Table: ev.Table,
		RecordID: ev.RecordID(), Origin: bus.OriginRemote,
	})
	return nil
}

// applyDelete handles a remote delete, which is authoritative over local
// edits.
func (b *Bridge) applyDelete(ctx context.Context, ev *ChangeEvent) error {
	local, err := b.store.Get(ctx, ev.Table, ev.RecordID())
	if errors.Is(err, store.ErrNotFound) {
		return nil
	}
	if err != nil {
		return err
	}

	unsynced := local.SyncStatus != model.SyncSynced ||
		local.LastSyncedAt == nil || local.UpdatedAt.After(*local.LastSyncedAt)

	if err := b.store.Delete(ctx, ev.Table, ev.RecordID()); err != nil {
		return fmt.Errorf("failed to apply remote delete %s %s: %w", ev.Table, ev.RecordID(), err)
	}

	if unsynced {
		b.noteTombstone(ctx, ev)
	}

	b.logger.Printf("Applied remote delete: %s/%s", ev.Table, ev.RecordID())
	b.bus.Publish(bus.Event{
		Type: bus.EventRecordDeleted, Table: ev.Table,
		RecordID: ev.RecordID(), Origin: bus.OriginRemote,
	})
	return nil
}

// noteTombstone records that a remote delete discarded local unsynced edits.
// The tombstone is a local-only note: it is written as already synced so it
// never re-enters the sync pipeline through a queue the bridge must not
// touch.
func (b *Bridge) noteTombstone(ctx context.Context, ev *ChangeEvent) {
	now := time.Now().UTC()
	note := &model.ActivityEvent{
		ID:        uuid.NewString(),
		ClaimID:   claimIDOf(ev.OldRecord),
		Kind:      model.ActivityRemoteTombstone,
		Message:   fmt.Sprintf("remote delete of %s %s discarded unsynced local changes", ev.Table, ev.RecordID()),
		CreatedAt: now,
	}
	note.UpdatedAt = now
	note.MarkSynced(now)

	if err := b.store.Put(ctx, note); err != nil {
		b.logger.Printf("Warning: failed to record tombstone for %s/%s: %v",
			ev.Table, ev.RecordID(), err)
	}
}

// claimIDOf digs the owning claim id out of a typed record, when it has one.
func claimIDOf(rec model.Record) string {
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
