// Package remote defines the contract the sync engine requires from the
// remote backend, and an HTTP implementation of it.
//
// The contract is deliberately small: per-table upsert and delete keyed by
// the client-generated record id, an object-storage put for binary assets,
// and a reachability probe. Upsert-by-id is the load-bearing invariant that
// makes retries safe - a retry after a lost acknowledgment overwrites the
// same remote row instead of duplicating it.
package remote

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
)

// Backend is the remote system of record as seen by the sync engine.
type Backend interface {
	// Upsert inserts or overwrites one row, keyed by the client id.
	// Must be idempotent: repeating the same call is harmless.
	Upsert(ctx context.Context, table, id string, payload json.RawMessage) error

	// Delete removes one row by client id. Deleting a missing row is not
	// an error.
	Delete(ctx context.Context, table, id string) error

	// PutObject uploads binary bytes to object storage and returns the
	// storage locator for them.
	PutObject(ctx context.Context, data []byte, contentType string) (string, error)

	// Ping probes backend reachability. Used by the network monitor.
	Ping(ctx context.Context) error
}

// BackendError describes a failed backend call and whether retrying can help.
type BackendError struct {
	Op         string // "upsert", "delete", "put_object", "ping"
	Table      string
	ID         string
	StatusCode int // zero when the request never got a response
	Transient  bool
	Err        error
}

func (e *BackendError) Error() string {
	target := e.Table
	if e.ID != "" {
		target = e.Table + "/" + e.ID
	}
	kind := "permanent"
	if e.Transient {
		kind = "transient"
	}
	if e.StatusCode > 0 {
		return fmt.Sprintf("backend %s %s: %s failure (status %d): %v", e.Op, target, kind, e.StatusCode, e.Err)
	}
	return fmt.Sprintf("backend %s %s: %s failure: %v", e.Op, target, kind, e.Err)
}

func (e *BackendError) Unwrap() error { return e.Err }

// IsTransient reports whether err should be retried on a later sync pass.
// Timeouts, connectivity drops, and server-side errors are transient;
// validation rejects and other client errors are not. Errors of unknown
// provenance count as transient so a flaky network never strands an entry.
func IsTransient(err error) bool {
	var be *BackendError
	if errors.As(err, &be) {
		return be.Transient
	}
	return true
}

// transientStatus classifies an HTTP status code.
func transientStatus(code int) bool {
	if code >= 500 {
		return true
	}
	// Request timeout and throttling are worth retrying.
	return code == 408 || code == 429
}
