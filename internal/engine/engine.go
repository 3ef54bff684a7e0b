// Package engine owns the authoritative in-memory copy of the household
// document. It merges remote snapshots into local state, applies local
// mutations optimistically, batches outgoing merge-writes, and keeps the
// local snapshot cache no more than one state-update behind.
package engine

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/jmaassen/weekplan/internal/cache"
	"github.com/jmaassen/weekplan/internal/model"
	"github.com/jmaassen/weekplan/internal/remote"
	"github.com/jmaassen/weekplan/internal/sanitize"
)

// State of the device session.
type State string

const (
	StateDisconnected   State = "disconnected"
	StateAuthenticating State = "authenticating"
	StateBootstrapping  State = "bootstrapping"
	StateLive           State = "live"
	// StateDegraded means the remote listener failed; the engine keeps
	// serving the last-known snapshot and accepts local-only mutations.
	StateDegraded State = "degraded"
)

const (
	writeDebounce = 100 * time.Millisecond
	writeTimeout  = 10 * time.Second
)

// ChangeFunc receives the post-merge document after every state change.
type ChangeFunc func(model.Document)

// Engine is the sync engine. Construct with New, then Start. All methods are
// safe for concurrent use; Snapshot never blocks on I/O.
type Engine struct {
	store  remote.Store
	cache  *cache.Cache
	logger *slog.Logger

	mu      sync.RWMutex
	doc     model.Document
	state   State
	ready   bool
	lastErr error
	stopped bool

	subMu   sync.Mutex
	subs    map[int]ChangeFunc
	nextSub int

	pendingMu sync.Mutex
	pending   map[string]any
	kick      chan struct{}

	cancelSub func()
}

// New builds an engine whose initial snapshot is the local cache overlaid on
// the seed defaults, so the UI has non-empty state before any connection.
func New(store remote.Store, c *cache.Cache, logger *slog.Logger) *Engine {
	e := &Engine{
		store:   store,
		cache:   c,
		logger:  logger,
		doc:     model.Seed(),
		state:   StateDisconnected,
		subs:    make(map[int]ChangeFunc),
		pending: make(map[string]any),
		kick:    make(chan struct{}, 1),
	}

	cached, err := c.LoadAll()
	if err != nil {
		logger.Warn("loading snapshot cache failed, starting from seed", "error", err)
		return e
	}
	for name, raw := range cached {
		if !model.IsCollection(name) {
			continue
		}
		if err := e.applyField(name, raw); err != nil {
			logger.Warn("ignoring cached collection", "collection", name, "error", err)
		}
	}
	return e
}

// Start connects to the remote store: authenticate, read-or-create the
// household document, then subscribe for realtime snapshots. Every failure
// degrades to cache-only operation; Start never returns an error for remote
// unavailability and never blocks the caller beyond the initial bootstrap
// attempt.
func (e *Engine) Start(ctx context.Context) {
	e.setState(StateAuthenticating)
	if err := e.store.EnsureAuth(ctx); err != nil {
		e.degrade(fmt.Errorf("auth: %w", err))
	} else {
		e.setState(StateBootstrapping)
		e.bootstrap(ctx)
	}

	// Subscribe regardless: the adapter keeps retrying, so a degraded engine
	// returns to live as soon as the store is reachable again.
	e.cancelSub = e.store.Subscribe(ctx, e.onRemoteSnapshot, e.onSubscribeError)

	go e.writeLoop(ctx)

	e.mu.Lock()
	e.ready = true
	e.mu.Unlock()
}

// bootstrap performs the idempotent read-or-create of the remote document.
func (e *Engine) bootstrap(ctx context.Context) {
	fields, err := e.store.Read(ctx)
	switch {
	case err == remote.ErrNotFound:
		// First device of this family: publish the current snapshot (cache
		// overlaid on seed) so the starter content is shared rather than
		// erased by an empty echo.
		if werr := e.store.Write(ctx, e.fullPatch()); werr != nil {
			e.degrade(fmt.Errorf("create document: %w", werr))
		}
	case err != nil:
		e.degrade(fmt.Errorf("read document: %w", err))
	default:
		e.onRemoteSnapshot(fields)
	}
}

// Stop cancels the subscription and all further cache writes. Safe to call
// more than once.
func (e *Engine) Stop() {
	e.mu.Lock()
	e.stopped = true
	cancel := e.cancelSub
	e.cancelSub = nil
	e.mu.Unlock()
	if cancel != nil {
		cancel()
	}
}

// Snapshot returns a deep copy of the current authoritative document. It
// never blocks and is always serviceable, even before Start.
func (e *Engine) Snapshot() model.Document {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.doc.Clone()
}

// Ready reports whether the engine finished its startup sequence (connected
// or degraded).
func (e *Engine) Ready() bool {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.ready
}

// Err returns the most recent remote failure, or nil when the last remote
// interaction succeeded. Intended for "not connected" banners, not control
// flow.
func (e *Engine) Err() error {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.lastErr
}

// CurrentState returns the session state.
func (e *Engine) CurrentState() State {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.state
}

// Save applies a sparse patch naming only changed top-level collections.
// The patch is applied to in-memory state immediately, persisted to the
// local cache, and queued for a merge-write; unknown collection names and
// shape-invalid values are dropped with a warning. Callers must pass the
// full replacement value for every collection they touch.
func (e *Engine) Save(patch map[string]any) {
	clean := sanitize.StripPatch(patch)

	e.mu.Lock()
	applied := make(map[string]any, len(clean))
	for name, value := range clean {
		if !model.IsCollection(name) {
			e.logger.Warn("dropping unknown collection in save", "collection", name)
			continue
		}
		raw, err := json.Marshal(value)
		if err != nil {
			e.logger.Warn("dropping unmarshalable collection in save", "collection", name, "error", err)
			continue
		}
		if err := e.applyField(name, raw); err != nil {
			e.logger.Warn("dropping shape-invalid collection in save", "collection", name, "error", err)
			continue
		}
		applied[name] = value
		if !e.stopped {
			if err := e.cache.PersistRaw(name, raw); err != nil {
				e.logger.Warn("cache write failed", "collection", name, "error", err)
			}
		}
	}
	e.mu.Unlock()

	if len(applied) == 0 {
		return
	}

	e.pendingMu.Lock()
	for name, value := range applied {
		e.pending[name] = value
	}
	e.pendingMu.Unlock()

	select {
	case e.kick <- struct{}{}:
	default:
	}

	e.emit()
}

// writeLoop drains queued patches into merge-writes. Saves landing within
// the debounce window coalesce into one write; a failed write is logged and
// surfaced via Err, and its data is resent implicitly because the next save
// of the same collection always carries the full replacement value.
func (e *Engine) writeLoop(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-e.kick:
		}

		timer := time.NewTimer(writeDebounce)
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
		}

		e.pendingMu.Lock()
		patch := e.pending
		e.pending = make(map[string]any)
		e.pendingMu.Unlock()

		if len(patch) == 0 {
			continue
		}

		wctx, cancel := context.WithTimeout(ctx, writeTimeout)
		err := e.store.Write(wctx, patch)
		cancel()

		e.mu.Lock()
		if err != nil {
			if ctx.Err() == nil {
				e.logger.Warn("merge-write failed, keeping optimistic state", "error", err)
				e.lastErr = err
			}
		} else {
			e.lastErr = nil
		}
		e.mu.Unlock()
	}
}

// onRemoteSnapshot merges a pushed document version. Each known collection
// present and shape-valid in the snapshot replaces the in-memory value
// wholesale; malformed or missing fields keep their last-known-good value so
// one bad field never nulls out the rest of the UI. The engine does not
// distinguish its own write echoes from other devices' changes.
func (e *Engine) onRemoteSnapshot(fields map[string]json.RawMessage) {
	e.mu.Lock()
	if e.stopped {
		e.mu.Unlock()
		return
	}
	for _, name := range model.Collections {
		raw, ok := fields[name]
		if !ok {
			continue
		}
		if err := e.applyField(name, raw); err != nil {
			e.logger.Warn("retaining previous value for malformed field", "collection", name, "error", err)
			continue
		}
		if err := e.cache.PersistRaw(name, raw); err != nil {
			e.logger.Warn("cache write failed", "collection", name, "error", err)
		}
	}
	e.state = StateLive
	e.ready = true
	e.lastErr = nil
	e.mu.Unlock()

	e.emit()
}

func (e *Engine) onSubscribeError(err error) {
	e.mu.Lock()
	if e.state == StateLive || e.state == StateBootstrapping || e.state == StateAuthenticating {
		e.logger.Warn("subscription failed, serving cached state", "error", err)
	}
	e.state = StateDegraded
	e.lastErr = err
	e.mu.Unlock()
}

// applyField validates and unmarshals one collection. Callers hold e.mu.
func (e *Engine) applyField(name string, raw json.RawMessage) error {
	if err := checkShape(name, raw); err != nil {
		return err
	}
	switch name {
	case model.ColUsers:
		var v []model.Person
		if err := json.Unmarshal(raw, &v); err != nil {
			return err
		}
		e.doc.Users = v
	case model.ColTasks:
		var v []model.Task
		if err := json.Unmarshal(raw, &v); err != nil {
			return err
		}
		e.doc.Tasks = v
	case model.ColLibrary:
		var v []model.LibraryEntry
		if err := json.Unmarshal(raw, &v); err != nil {
			return err
		}
		e.doc.Library = v
	case model.ColSuppressions:
		var v []string
		if err := json.Unmarshal(raw, &v); err != nil {
			return err
		}
		e.doc.Suppressions = v
	case model.ColCompletions:
		var v []model.Completion
		if err := json.Unmarshal(raw, &v); err != nil {
			return err
		}
		e.doc.Completions = v
	case model.ColTimers:
		var v []model.Timer
		if err := json.Unmarshal(raw, &v); err != nil {
			return err
		}
		e.doc.Timers = v
	case model.ColDevices:
		var v []model.DeviceBinding
		if err := json.Unmarshal(raw, &v); err != nil {
			return err
		}
		e.doc.Devices = v
	case model.ColSortOrders:
		var v map[string][]string
		if err := json.Unmarshal(raw, &v); err != nil {
			return err
		}
		e.doc.SortOrders = v
	case model.ColBlockOverrides:
		var v map[string]map[string]model.DayOverride
		if err := json.Unmarshal(raw, &v); err != nil {
			return err
		}
		e.doc.BlockOverrides = v
	case model.ColPlanned:
		var v map[string]map[string]map[string][]string
		if err := json.Unmarshal(raw, &v); err != nil {
			return err
		}
		e.doc.Planned = v
	default:
		return fmt.Errorf("unknown collection %q", name)
	}
	return nil
}

// checkShape rejects values of the wrong top-level JSON shape. Unmarshal
// alone would accept null for both slices and maps, silently nulling a
// collection out.
func checkShape(name string, raw json.RawMessage) error {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 {
		return fmt.Errorf("empty value")
	}
	if model.IsArrayCollection(name) {
		if trimmed[0] != '[' {
			return fmt.Errorf("expected array, got %q", previewByte(trimmed))
		}
		return nil
	}
	if trimmed[0] != '{' {
		return fmt.Errorf("expected object, got %q", previewByte(trimmed))
	}
	return nil
}

func previewByte(b []byte) byte {
	return b[0]
}

// SubscribeChanges registers fn to run after every optimistic save and every
// merged remote snapshot. The returned function unregisters it; after it
// returns, fn is never called again.
func (e *Engine) SubscribeChanges(fn ChangeFunc) (unsubscribe func()) {
	e.subMu.Lock()
	id := e.nextSub
	e.nextSub++
	e.subs[id] = fn
	e.subMu.Unlock()

	return func() {
		e.subMu.Lock()
		delete(e.subs, id)
		e.subMu.Unlock()
	}
}

func (e *Engine) emit() {
	doc := e.Snapshot()

	e.subMu.Lock()
	fns := make([]ChangeFunc, 0, len(e.subs))
	for _, fn := range e.subs {
		fns = append(fns, fn)
	}
	e.subMu.Unlock()

	for _, fn := range fns {
		fn(doc)
	}
}

func (e *Engine) setState(s State) {
	e.mu.Lock()
	e.state = s
	e.mu.Unlock()
}

func (e *Engine) degrade(err error) {
	e.logger.Warn("remote unavailable, cache-only mode", "error", err)
	e.mu.Lock()
	e.state = StateDegraded
	e.lastErr = err
	e.mu.Unlock()
}

// fullPatch renders the entire in-memory document as a write patch. Callers
// must not hold e.mu.
func (e *Engine) fullPatch() map[string]any {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return map[string]any{
		model.ColUsers:          e.doc.Users,
		model.ColTasks:          e.doc.Tasks,
		model.ColLibrary:        e.doc.Library,
		model.ColSuppressions:   e.doc.Suppressions,
		model.ColCompletions:    e.doc.Completions,
		model.ColTimers:         e.doc.Timers,
		model.ColDevices:        e.doc.Devices,
		model.ColSortOrders:     e.doc.SortOrders,
		model.ColBlockOverrides: e.doc.BlockOverrides,
		model.ColPlanned:        e.doc.Planned,
	}
}
