package model

import (
	"encoding/json"
	"fmt"
	"time"
)

// Claim is the root record of a field inspection: one insurance claim being
// documented on site.
type Claim struct {
	ID           string `json:"id"`
	ClaimNumber  string `json:"claim_number"`
	PolicyNumber string `json:"policy_number,omitempty"`
	InsuredName  string `json:"insured_name"`
	Address      string `json:"address,omitempty"`
	LossType     string `json:"loss_type,omitempty"` // wind, hail, water, fire, other
	Status       string `json:"status"`              // draft, in_progress, submitted, closed
	Description  string `json:"description,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	SyncMeta
}

func (c *Claim) RecordID() string { return c.ID }
func (c *Claim) Table() string    { return TableClaims }
func (c *Claim) Meta() *SyncMeta  { return &c.SyncMeta }

// Validate checks required claim fields.
func (c *Claim) Validate() error {
	if err := requireID(c.ID, "claim"); err != nil {
		return err
	}
	if c.ClaimNumber == "" {
		return fmt.Errorf("claim_number is required")
	}
	if c.InsuredName == "" {
		return fmt.Errorf("insured_name is required")
	}
	if c.Status == "" {
		return fmt.Errorf("status is required")
	}
	if c.CreatedAt.IsZero() {
		return fmt.Errorf("created_at is required")
	}
	return nil
}

// Photo is a captured image attached to a claim. LocalPath points at the
// image bytes on device; StorageLocator is filled in once the bytes have been
// uploaded to remote object storage.
type Photo struct {
	ID             string `json:"id"`
	ClaimID        string `json:"claim_id"`
	Caption        string `json:"caption,omitempty"`
	LocalPath      string `json:"local_path,omitempty"`
	StorageLocator string `json:"storage_locator,omitempty"`
	ContentType    string `json:"content_type,omitempty"`
	SizeBytes      int64  `json:"size_bytes,omitempty"`

	TakenAt   *time.Time `json:"taken_at,omitempty"`
	CreatedAt time.Time  `json:"created_at"`
	SyncMeta
}

func (p *Photo) RecordID() string { return p.ID }
func (p *Photo) Table() string    { return TablePhotos }
func (p *Photo) Meta() *SyncMeta  { return &p.SyncMeta }

// Validate checks required photo fields.
func (p *Photo) Validate() error {
	if err := requireID(p.ID, "photo"); err != nil {
		return err
	}
	if p.ClaimID == "" {
		return fmt.Errorf("claim_id is required")
	}
	if p.LocalPath == "" && p.StorageLocator == "" {
		return fmt.Errorf("photo needs a local_path or storage_locator")
	}
	if p.CreatedAt.IsZero() {
		return fmt.Errorf("created_at is required")
	}
	return nil
}

// Uploaded reports whether the image bytes already live in remote object storage.
func (p *Photo) Uploaded() bool { return p.StorageLocator != "" }

// Document is a scanned or generated file attached to a claim (estimate,
// police report, signed authorization).
type Document struct {
	ID             string `json:"id"`
	ClaimID        string `json:"claim_id"`
	Title          string `json:"title"`
	DocType        string `json:"doc_type,omitempty"` // estimate, report, authorization, other
	LocalPath      string `json:"local_path,omitempty"`
	StorageLocator string `json:"storage_locator,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	SyncMeta
}

func (d *Document) RecordID() string { return d.ID }
func (d *Document) Table() string    { return TableDocuments }
func (d *Document) Meta() *SyncMeta  { return &d.SyncMeta }

// Validate checks required document fields.
func (d *Document) Validate() error {
	if err := requireID(d.ID, "document"); err != nil {
		return err
	}
	if d.ClaimID == "" {
		return fmt.Errorf("claim_id is required")
	}
	if d.Title == "" {
		return fmt.Errorf("title is required")
	}
	if d.CreatedAt.IsZero() {
		return fmt.Errorf("created_at is required")
	}
	return nil
}

// Inspection is one site visit for a claim.
type Inspection struct {
	ID            string     `json:"id"`
	ClaimID       string     `json:"claim_id"`
	InspectorName string     `json:"inspector_name,omitempty"`
	ScheduledAt   *time.Time `json:"scheduled_at,omitempty"`
	CompletedAt   *time.Time `json:"completed_at,omitempty"`
	Notes         string     `json:"notes,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	SyncMeta
}

func (i *Inspection) RecordID() string { return i.ID }
func (i *Inspection) Table() string    { return TableInspections }
func (i *Inspection) Meta() *SyncMeta  { return &i.SyncMeta }

// Validate checks required inspection fields.
func (i *Inspection) Validate() error {
	if err := requireID(i.ID, "inspection"); err != nil {
		return err
	}
	if i.ClaimID == "" {
		return fmt.Errorf("claim_id is required")
	}
	if i.CreatedAt.IsZero() {
		return fmt.Errorf("created_at is required")
	}
	return nil
}

// ChecklistItem is one line of an inspection checklist.
type ChecklistItem struct {
	ID           string     `json:"id"`
	InspectionID string     `json:"inspection_id"`
	Label        string     `json:"label"`
	Done         bool       `json:"done"`
	CompletedAt  *time.Time `json:"completed_at,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	SyncMeta
}

func (c *ChecklistItem) RecordID() string { return c.ID }
func (c *ChecklistItem) Table() string    { return TableChecklistItems }
func (c *ChecklistItem) Meta() *SyncMeta  { return &c.SyncMeta }

// Validate checks required checklist item fields.
func (c *ChecklistItem) Validate() error {
	if err := requireID(c.ID, "checklist item"); err != nil {
		return err
	}
	if c.InspectionID == "" {
		return fmt.Errorf("inspection_id is required")
	}
	if c.Label == "" {
		return fmt.Errorf("label is required")
	}
	if c.CreatedAt.IsZero() {
		return fmt.Errorf("created_at is required")
	}
	return nil
}

// Activity kinds recorded in the activity log.
const (
	ActivityCreated         = "created"
	ActivityUpdated         = "updated"
	ActivityDeleted         = "deleted"
	ActivityRemoteTombstone = "remote_delete_tombstone"
)

// ActivityEvent is an append-only audit entry for a claim. The realtime
// bridge writes a tombstone event when an authoritative remote delete
// discards local unsynced edits, so the UI can explain what happened.
type ActivityEvent struct {
	ID      string `json:"id"`
	ClaimID string `json:"claim_id,omitempty"`
	Kind    string `json:"kind"`
	Message string `json:"message,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	SyncMeta
}

func (a *ActivityEvent) RecordID() string { return a.ID }
func (a *ActivityEvent) Table() string    { return TableActivityEvents }
func (a *ActivityEvent) Meta() *SyncMeta  { return &a.SyncMeta }

// Validate checks required activity event fields.
func (a *ActivityEvent) Validate() error {
	if err := requireID(a.ID, "activity event"); err != nil {
		return err
	}
	if a.Kind == "" {
		return fmt.Errorf("kind is required")
	}
	if a.CreatedAt.IsZero() {
		return fmt.Errorf("created_at is required")
	}
	return nil
}

// New returns an empty record of the right concrete type for a table.
// The realtime bridge uses this to decode typed payloads once at the
// subscription boundary.
func New(table string) (Record, error) {
	switch table {
	case TableClaims:
		return &Claim{}, nil
	case TablePhotos:
		return &Photo{}, nil
	case TableDocuments:
		return &Document{}, nil
	case TableInspections:
		return &Inspection{}, nil
	case TableChecklistItems:
		return &ChecklistItem{}, nil
	case TableActivityEvents:
		return &ActivityEvent{}, nil
	default:
		return nil, fmt.Errorf("unknown table %q", table)
	}
}

// Decode parses a JSON payload into the concrete record type for a table.
func Decode(table string, payload []byte) (Record, error) {
	rec, err := New(table)
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal(payload, rec); err != nil {
		return nil, fmt.Errorf("failed to decode %s payload: %w", table, err)
	}
	return rec, nil
}
