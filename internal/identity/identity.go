// Package identity answers "which person is operating this device": a
// durable device id generated once per device, combined with a binding
// record inside the household document's devices collection.
package identity

import (
	"context"
	"log/slog"
	"runtime"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/jmaassen/weekplan/internal/cache"
	"github.com/jmaassen/weekplan/internal/engine"
	"github.com/jmaassen/weekplan/internal/model"
)

// Local storage keys. The device id is never regenerated unless the local
// database is deleted.
const (
	kvDeviceID   = "device_id"
	kvDeviceMode = "device_mode"
)

const defaultLabel = "Nieuw apparaat"

// DeviceID returns this device's durable identifier, generating and
// persisting one on first run.
func DeviceID(c *cache.Cache) (string, error) {
	id, err := c.GetKV(kvDeviceID)
	if err != nil {
		return "", err
	}
	if id != "" {
		return id, nil
	}
	id = "dev_" + uuid.NewString()
	if err := c.SetKV(kvDeviceID, id); err != nil {
		return "", err
	}
	return id, nil
}

// Resolver derives the current device binding from the engine's snapshot and
// re-derives it reactively on every change.
type Resolver struct {
	eng      *engine.Engine
	cache    *cache.Cache
	deviceID string
	famID    string
	logger   *slog.Logger

	mu      sync.RWMutex
	current model.DeviceBinding

	unsub func()
}

// NewResolver builds a resolver for the given device. Call Ensure once after
// the engine is serving state, and Close on teardown.
func NewResolver(eng *engine.Engine, c *cache.Cache, deviceID, famID string, logger *slog.Logger) *Resolver {
	r := &Resolver{
		eng:      eng,
		cache:    c,
		deviceID: deviceID,
		famID:    famID,
		logger:   logger,
	}
	r.derive(eng.Snapshot())
	r.unsub = eng.SubscribeChanges(r.derive)
	return r
}

// Close stops reacting to engine changes.
func (r *Resolver) Close() {
	if r.unsub != nil {
		r.unsub()
		r.unsub = nil
	}
}

// DeviceID returns the durable identifier this resolver is bound to.
func (r *Resolver) DeviceID() string {
	return r.deviceID
}

// Current returns the device's binding record. The zero DeviceID means the
// binding does not exist yet (Ensure not called and no remote record).
func (r *Resolver) Current() model.DeviceBinding {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.current
}

func (r *Resolver) derive(doc model.Document) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if b := doc.FindDevice(r.deviceID); b != nil {
		r.current = *b
	}
}

// Ensure lazily creates this device's binding record: role parent, no bound
// user. Calling it when the record exists only refreshes lastSeen.
func (r *Resolver) Ensure() {
	doc := r.eng.Snapshot()
	if doc.FindDevice(r.deviceID) != nil {
		r.Touch()
		return
	}
	binding := model.DeviceBinding{
		DeviceID: r.deviceID,
		FamID:    r.famID,
		Label:    defaultLabel,
		Role:     model.RoleParent,
		LastSeen: time.Now().UnixMilli(),
		Platform: runtime.GOOS + "/" + runtime.GOARCH,
	}
	devices := append(doc.Devices, binding)
	r.mu.Lock()
	r.current = binding
	r.mu.Unlock()
	r.eng.Save(map[string]any{model.ColDevices: devices})
}

// upsert applies mutate to this device's binding and writes the full devices
// collection back through the engine.
func (r *Resolver) upsert(mutate func(*model.DeviceBinding)) {
	doc := r.eng.Snapshot()
	devices := doc.Devices
	found := false
	for i := range devices {
		if devices[i].DeviceID == r.deviceID {
			mutate(&devices[i])
			devices[i].LastSeen = time.Now().UnixMilli()
			r.mu.Lock()
			r.current = devices[i]
			r.mu.Unlock()
			found = true
			break
		}
	}
	if !found {
		r.Ensure()
		return
	}
	r.eng.Save(map[string]any{model.ColDevices: devices})
}

// Touch refreshes the binding's last-seen timestamp so device-management
// views can show staleness.
func (r *Resolver) Touch() {
	r.upsert(func(*model.DeviceBinding) {})
}

// Bind maps this device to a person. An empty userID unbinds it.
func (r *Resolver) Bind(userID string) {
	r.upsert(func(b *model.DeviceBinding) { b.UserID = userID })
}

// SetRole changes the binding's role. Unknown values default to parent.
func (r *Resolver) SetRole(role string) {
	if role != model.RoleChild {
		role = model.RoleParent
	}
	r.upsert(func(b *model.DeviceBinding) { b.Role = role })
}

// SetLabel renames the device as shown in the device list.
func (r *Resolver) SetLabel(label string) {
	if label == "" {
		label = defaultLabel
	}
	r.upsert(func(b *model.DeviceBinding) { b.Label = label })
}

// SetForceChildMode locks or unlocks the device into the child view.
func (r *Resolver) SetForceChildMode(v bool) {
	r.upsert(func(b *model.DeviceBinding) { b.ForceChildMode = v })
}

// Heartbeat refreshes lastSeen every interval until ctx ends. The ticker's
// lifetime is tied exactly to ctx; no callbacks fire after cancellation.
func (r *Resolver) Heartbeat(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			r.Touch()
		case <-ctx.Done():
			return
		}
	}
}

// VisibleUser resolves which person this device should display: the bound
// user if it still exists, otherwise the first person of the expected role,
// so a stale binding never renders an empty screen.
func (r *Resolver) VisibleUser(doc model.Document) *model.Person {
	b := r.Current()
	if b.UserID != "" {
		if p := doc.FindPerson(b.UserID); p != nil {
			return p
		}
	}
	role := model.RoleChild
	if b.Role == model.RoleParent && !b.ForceChildMode {
		role = model.RoleParent
	}
	if p := doc.FirstByRole(role); p != nil {
		return p
	}
	if len(doc.Users) > 0 {
		return &doc.Users[0]
	}
	return nil
}

// CanMutate reports whether this device's operator may perform parent-only
// actions. The PIN challenge in front of those actions is the UI's concern.
func (r *Resolver) CanMutate() bool {
	b := r.Current()
	return b.Role == model.RoleParent && !b.ForceChildMode
}

// CachedMode returns the locally cached device mode ("parent" or "child"),
// used to pick the initial view before the remote binding arrives.
func (r *Resolver) CachedMode() string {
	mode, err := r.cache.GetKV(kvDeviceMode)
	if err != nil {
		r.logger.Warn("reading cached device mode failed", "error", err)
		return ""
	}
	return mode
}

// SetCachedMode stores the device mode locally.
func (r *Resolver) SetCachedMode(mode string) {
	if err := r.cache.SetKV(kvDeviceMode, mode); err != nil {
		r.logger.Warn("caching device mode failed", "error", err)
	}
}
