// Package model defines the domain records captured in the field and the
// sync metadata every syncable record carries.
package model

import (
	"fmt"
	"time"
)

// SyncStatus tracks where a record is in its journey to the remote backend.
type SyncStatus string

const (
	// SyncPending means the record has local changes not yet sent remotely.
	SyncPending SyncStatus = "pending"
	// SyncSyncing means a sync pass is currently pushing this record.
	SyncSyncing SyncStatus = "syncing"
	// SyncSynced means the remote backend has acknowledged the latest local state.
	SyncSynced SyncStatus = "synced"
	// SyncFailed means the last push attempt ended in a terminal error.
	SyncFailed SyncStatus = "failed"
)

// Table names for all syncable record types.
const (
	TableClaims         = "claims"
	TablePhotos         = "photos"
	TableDocuments      = "documents"
	TableInspections    = "inspections"
	TableChecklistItems = "checklist_items"
	TableActivityEvents = "activity_events"
)

// Tables lists every syncable table, in the order schema objects are created.
func Tables() []string {
	return []string{
		TableClaims,
		TablePhotos,
		TableDocuments,
		TableInspections,
		TableChecklistItems,
		TableActivityEvents,
	}
}

// KnownTable reports whether name is one of the syncable tables.
func KnownTable(name string) bool {
	for _, t := range Tables() {
		if t == name {
			return true
		}
	}
	return false
}

// SyncMeta is embedded in every syncable record. UpdatedAt is bumped on every
// local mutation and is the comparison key for last-write-wins merging.
type SyncMeta struct {
	UpdatedAt    time.Time  `json:"updated_at"`
	SyncStatus   SyncStatus `json:"sync_status"`
	LastSyncedAt *time.Time `json:"last_synced_at,omitempty"`
}

// HasUnsyncedChanges reports whether this record still has local state the
// remote backend has not acknowledged.
func (m *SyncMeta) HasUnsyncedChanges() bool {
	if m.SyncStatus != SyncSynced {
		return true
	}
	if m.LastSyncedAt == nil {
		return true
	}
	return m.UpdatedAt.After(*m.LastSyncedAt)
}

// Touch marks the record as locally modified.
func (m *SyncMeta) Touch() {
	m.UpdatedAt = time.Now().UTC()
	m.SyncStatus = SyncPending
}

// MarkSynced records a successful remote acknowledgment.
func (m *SyncMeta) MarkSynced(at time.Time) {
	m.SyncStatus = SyncSynced
	t := at
	m.LastSyncedAt = &t
}

// Record is implemented by every syncable domain type. The store persists
// records by table name and client-generated id; the id is assigned at
// creation time and never reassigned by the backend.
type Record interface {
	RecordID() string
	Table() string
	Meta() *SyncMeta
	Validate() error
}

func requireID(id, what string) error {
	if id == "" {
		return fmt.Errorf("%s id is required", what)
	}
	return nil
}
