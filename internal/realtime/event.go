// Package realtime receives server-pushed change notifications and merges
// them into the local record store under the last-write-wins policy.
//
// Events arrive over a per-owner WebSocket stream partitioned by table. Each
// wire message is decoded exactly once, at this boundary, into the concrete
// record type for its table; the rest of the system never sees raw JSON
// dictionaries.
package realtime

import (
	"encoding/json"
	"fmt"

	"github.com/fieldside/claimsync/internal/model"
)

// Operation is the kind of remote-side change.
type Operation string

const (
	OpInsert Operation = "insert"
	OpUpdate Operation = "update"
	OpDelete Operation = "delete"
)

// Envelope is the wire shape of one change notification.
type Envelope struct {
	Table     string          `json:"table"`
	Operation Operation       `json:"operation"`
	NewValues json.RawMessage `json:"new_values,omitempty"`
	OldValues json.RawMessage `json:"old_values,omitempty"`
}

// ChangeEvent is a decoded change notification: the table discriminator plus
// a strongly typed payload.
type ChangeEvent struct {
	Table     string
	Operation Operation

	// Record is the typed new row state for inserts and updates. The
	// server stamps updated_at on every row it pushes.
	Record model.Record

	// OldRecord is the typed prior row state, when the server included
	// one. For deletes it identifies the removed row.
	OldRecord model.Record
}

// RecordID returns the id of the row the event refers to.
func (ev *ChangeEvent) RecordID() string {
	if ev.Record != nil {
		return ev.Record.RecordID()
	}
	if ev.OldRecord != nil {
		return ev.OldRecord.RecordID()
	}
	return ""
}

// DecodeEvent parses one wire message into a typed ChangeEvent.
func DecodeEvent(data []byte) (*ChangeEvent, error) {
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("malformed change event: %w", err)
	}
	return decodeEnvelope(&env)
}

func decodeEnvelope(env *Envelope) (*ChangeEvent, error) {
	if !model.KnownTable(env.Table) {
		return nil, fmt.Errorf("change event for unknown table %q", env.Table)
	}

	ev := &ChangeEvent{Table: env.Table, Operation: env.Operation}

	switch env.Operation {
	case OpInsert, OpUpdate:
		if len(env.NewValues) == 0 {
			return nil, fmt.Errorf("%s event on %s missing new_values", env.Operation, env.Table)
		}
		rec, err := model.Decode(env.Table, env.NewValues)
		if err != nil {
			return nil, err
		}
		ev.Record = rec

	case OpDelete:
		if len(env.OldValues) == 0 {
			return nil, fmt.Errorf("delete event on %s missing old_values", env.Table)
		}
		rec, err := model.Decode(env.Table, env.OldValues)
		if err != nil {
			return nil, err
		}
		ev.OldRecord = rec

	default:
		return nil, fmt.Errorf("change event with unknown operation %q", env.Operation)
	}

	if len(env.OldValues) > 0 && ev.OldRecord == nil {
		if rec, err := model.Decode(env.Table, env.OldValues); err == nil {
			ev.OldRecord = rec
		}
	}

	if ev.RecordID() == "" {
		return nil, fmt.Errorf("change event on %s missing record id", env.Table)
	}

	return ev, nil
}
