package model

import (
	"testing"
	"time"
)

func TestHasUnsyncedChanges(t *testing.T) {
	now := time.Now().UTC()
	earlier := now.Add(-time.Minute)

	tests := []struct {
		name string
		meta SyncMeta
		want bool
	}{
		{
			name: "fresh record",
			meta: SyncMeta{UpdatedAt: now, SyncStatus: SyncPending},
			want: true,
		},
		{
			name: "synced and acknowledged",
			meta: SyncMeta{UpdatedAt: earlier, SyncStatus: SyncSynced, LastSyncedAt: &now},
			want: false,
		},
		{
			name: "synced status but never acknowledged",
			meta: SyncMeta{UpdatedAt: now, SyncStatus: SyncSynced},
			want: true,
		},
		{
			name: "edited after last sync",
			meta: SyncMeta{UpdatedAt: now, SyncStatus: SyncSynced, LastSyncedAt: &earlier},
			want: true,
		},
		{
			name: "failed push",
			meta: SyncMeta{UpdatedAt: earlier, SyncStatus: SyncFailed, LastSyncedAt: &now},
			want: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.meta.HasUnsyncedChanges(); got != tt.want {
				t.Errorf("HasUnsyncedChanges = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestTouchAndMarkSynced(t *testing.T) {
	var m SyncMeta

	m.Touch()
	if m.SyncStatus != SyncPending || m.UpdatedAt.IsZero() {
		t.Errorf("after Touch: status %q, updated %v", m.SyncStatus, m.UpdatedAt)
	}
	if !m.HasUnsyncedChanges() {
		t.Error("touched record reports no unsynced changes")
	}

	at := time.Now().UTC()
	m.MarkSynced(at)
	if m.SyncStatus != SyncSynced {
		t.Errorf("after MarkSynced: status %q", m.SyncStatus)
	}
	if m.LastSyncedAt == nil || !m.LastSyncedAt.Equal(at) {
		t.Errorf("after MarkSynced: last synced %v", m.LastSyncedAt)
	}
}

func TestKnownTable(t *testing.T) {
	for _, table := range Tables() {
		if !KnownTable(table) {
			t.Errorf("KnownTable(%q) = false", table)
		}
	}
	if KnownTable("widgets") {
		t.Error(`KnownTable("widgets") = true`)
	}
}

func TestDecodeRoundtrip(t *testing.T) {
	payload := []byte(`{"id":"c1","claim_number":"CLM-1","insured_name":"Dana","status":"draft","created_at":"2026-08-01T10:00:00Z","updated_at":"2026-08-01T10:00:00Z"}`)

	rec, err := Decode(TableClaims, payload)
	if err != nil {
		t.Fatalf("decode failed: %v", err)
	}
	claim, ok := rec.(*Claim)
	if !ok {
		t.Fatalf("decoded %T, want *Claim", rec)
	}
	if claim.ClaimNumber != "CLM-1" {
		t.Errorf("ClaimNumber = %q", claim.ClaimNumber)
	}
	if err := claim.Validate(); err != nil {
		t.Errorf("decoded claim invalid: %v", err)
	}
}

func TestDecodeUnknownTable(t *testing.T) {
	if _, err := Decode("widgets", []byte(`{}`)); err == nil {
		t.Error("decode of unknown table succeeded")
	}
}

func TestValidateRequiredFields(t *testing.T) {
	now := time.Now().UTC()

	tests := []struct {
		name string
		rec  Record
		ok   bool
	}{
		{"valid claim", &Claim{ID: "c1", ClaimNumber: "CLM-1", InsuredName: "Dana", Status: "draft", CreatedAt: now}, true},
		{"claim without number", &Claim{ID: "c1", InsuredName: "Dana", Status: "draft", CreatedAt: now}, false},
		{"claim without id", &Claim{ClaimNumber: "CLM-1", InsuredName: "Dana", Status: "draft", CreatedAt: now}, false},
		{"photo with local path", &Photo{ID: "p1", ClaimID: "c1", LocalPath: "/tmp/a.jpg", CreatedAt: now}, true},
		{"photo with locator only", &Photo{ID: "p1", ClaimID: "c1", StorageLocator: "obj-1", CreatedAt: now}, true},
		{"photo without bytes source", &Photo{ID: "p1", ClaimID: "c1", CreatedAt: now}, false},
		{"document without title", &Document{ID: "d1", ClaimID: "c1", CreatedAt: now}, false},
		{"checklist item without label", &ChecklistItem{ID: "k1", InspectionID: "i1", CreatedAt: now}, false},
		{"activity without kind", &ActivityEvent{ID: "a1", CreatedAt: now}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.rec.Validate()
			if tt.ok && err != nil {
				t.Errorf("Validate = %v, want nil", err)
			}
			if !tt.ok && err == nil {
				t.Error("Validate = nil, want error")
			}
		})
	}
}
