// Package remote adapts the hosted document store behind a minimal
// read/merge-write/subscribe interface. The store is addressed by family id
// and pushes the full household document to every subscriber on each change,
// including the echo of this device's own writes.
package remote

import (
	"context"
	"encoding/json"
	"errors"
)

// ErrNotFound is returned by Read when the household document does not exist
// yet. The caller performs the idempotent first-connection create.
var ErrNotFound = errors.New("household document not found")

// SnapshotFunc receives each pushed document version, keyed by top-level
// collection name.
type SnapshotFunc func(fields map[string]json.RawMessage)

// ErrorFunc receives subscription failures. The subscription itself keeps
// retrying; the callback exists so the engine can degrade to cache-only mode.
type ErrorFunc func(err error)

// Store is the remote document store boundary. Implementations must never
// block beyond the supplied context and must never panic into the caller.
type Store interface {
	// EnsureAuth establishes (or refreshes) a session with the store.
	EnsureAuth(ctx context.Context) error

	// Read performs a point read of the household document.
	Read(ctx context.Context) (map[string]json.RawMessage, error)

	// Write performs a field-level merge write: only the named top-level
	// collections are replaced, everything else is left untouched. Writing to
	// an absent document creates it.
	Write(ctx context.Context, patch map[string]any) error

	// Subscribe starts realtime snapshot delivery until the returned cancel
	// function is called or ctx ends. Delivery is re-established automatically
	// after transient failures; each failure is reported through onError.
	Subscribe(ctx context.Context, onSnapshot SnapshotFunc, onError ErrorFunc) (cancel func())
}

// snapshot push frame as sent by the store over the websocket.
type pushFrame struct {
	Type   string                     `json:"type"`
	Doc    map[string]json.RawMessage `json:"doc,omitempty"`
	Detail string                     `json:"detail,omitempty"`
}
