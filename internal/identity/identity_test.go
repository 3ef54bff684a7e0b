package identity

import (
	"context"
	"encoding/json"
	"log/slog"
	"testing"
	"time"

	"github.com/jmaassen/weekplan/internal/cache"
	"github.com/jmaassen/weekplan/internal/engine"
	"github.com/jmaassen/weekplan/internal/model"
	"github.com/jmaassen/weekplan/internal/remote"
)

type fakeStore struct {
	onSnapshot remote.SnapshotFunc
}

func (f *fakeStore) EnsureAuth(ctx context.Context) error { return nil }

func (f *fakeStore) Read(ctx context.Context) (map[string]json.RawMessage, error) {
	return nil, remote.ErrNotFound
}

func (f *fakeStore) Write(ctx context.Context, patch map[string]any) error { return nil }

func (f *fakeStore) Subscribe(ctx context.Context, onSnapshot remote.SnapshotFunc, onError remote.ErrorFunc) func() {
	f.onSnapshot = onSnapshot
	return func() {}
}

func setupResolver(t *testing.T) (*Resolver, *engine.Engine, *cache.Cache) {
	t.Helper()
	c, err := cache.Open(":memory:", slog.Default())
	if err != nil {
		t.Fatalf("open cache: %v", err)
	}
	t.Cleanup(func() { c.Close() })

	ctx, cancel := context.WithCancel(context.Background())
	e := engine.New(&fakeStore{}, c, slog.Default())
	e.Start(ctx)
	t.Cleanup(func() {
		e.Stop()
		cancel()
	})

	id, err := DeviceID(c)
	if err != nil {
		t.Fatalf("device id: %v", err)
	}
	r := NewResolver(e, c, id, "fam_test", slog.Default())
	t.Cleanup(r.Close)
	return r, e, c
}

func TestDeviceIDStable(t *testing.T) {
	c, err := cache.Open(":memory:", slog.Default())
	if err != nil {
		t.Fatalf("open cache: %v", err)
	}
	t.Cleanup(func() { c.Close() })

	first, err := DeviceID(c)
	if err != nil {
		t.Fatalf("first: %v", err)
	}
	if first == "" {
		t.Fatal("device id empty")
	}
	second, err := DeviceID(c)
	if err != nil {
		t.Fatalf("second: %v", err)
	}
	if first != second {
		t.Errorf("device id changed across calls: %q then %q", first, second)
	}
}

func TestEnsureCreatesBinding(t *testing.T) {
	r, e, _ := setupResolver(t)

	if b := r.Current(); b.DeviceID != "" {
		t.Fatalf("binding before Ensure = %+v, want zero", b)
	}
	r.Ensure()

	b := r.Current()
	if b.DeviceID != r.DeviceID() {
		t.Errorf("binding device id = %q, want %q", b.DeviceID, r.DeviceID())
	}
	if b.Role != model.RoleParent {
		t.Errorf("new binding role = %q, want parent", b.Role)
	}
	if b.UserID != "" {
		t.Errorf("new binding userID = %q, want unbound", b.UserID)
	}
	if e.Snapshot().FindDevice(r.DeviceID()) == nil {
		t.Error("binding missing from document devices")
	}
}

func TestEnsureIdempotent(t *testing.T) {
	r, e, _ := setupResolver(t)

	r.Ensure()
	r.Bind("u_lina")
	r.Ensure()

	doc := e.Snapshot()
	if len(doc.Devices) != 1 {
		t.Fatalf("devices = %d, want 1", len(doc.Devices))
	}
	if doc.Devices[0].UserID != "u_lina" {
		t.Errorf("second Ensure reset userID to %q", doc.Devices[0].UserID)
	}
}

func TestBindAndMutators(t *testing.T) {
	r, e, _ := setupResolver(t)
	r.Ensure()

	r.Bind("u_leon")
	r.SetRole(model.RoleChild)
	r.SetLabel("Keuken tablet")
	r.SetForceChildMode(true)

	b := e.Snapshot().FindDevice(r.DeviceID())
	if b == nil {
		t.Fatal("binding missing")
	}
	if b.UserID != "u_leon" || b.Role != model.RoleChild || b.Label != "Keuken tablet" || !b.ForceChildMode {
		t.Errorf("binding = %+v", *b)
	}

	r.SetRole("bogus")
	if got := r.Current().Role; got != model.RoleParent {
		t.Errorf("unknown role mapped to %q, want parent", got)
	}
}

func TestDeriveFollowsRemoteChanges(t *testing.T) {
	fs := &fakeStore{}
	c, err := cache.Open(":memory:", slog.Default())
	if err != nil {
		t.Fatalf("open cache: %v", err)
	}
	t.Cleanup(func() { c.Close() })
	ctx, cancel := context.WithCancel(context.Background())
	e := engine.New(fs, c, slog.Default())
	e.Start(ctx)
	t.Cleanup(func() {
		e.Stop()
		cancel()
	})

	r := NewResolver(e, c, "dev_remote", "fam_test", slog.Default())
	t.Cleanup(r.Close)

	devices, _ := json.Marshal([]model.DeviceBinding{{
		DeviceID: "dev_remote",
		FamID:    "fam_test",
		Label:    "Woonkamer",
		Role:     model.RoleChild,
		UserID:   "u_lina",
	}})
	fs.onSnapshot(map[string]json.RawMessage{model.ColDevices: devices})

	b := r.Current()
	if b.Label != "Woonkamer" || b.UserID != "u_lina" {
		t.Errorf("binding after snapshot = %+v", b)
	}
	if r.CanMutate() {
		t.Error("child binding must not allow parent actions")
	}
}

func TestVisibleUserFallbacks(t *testing.T) {
	r, e, _ := setupResolver(t)
	r.Ensure()

	doc := e.Snapshot()
	if p := r.VisibleUser(doc); p == nil || p.Role != model.RoleParent {
		t.Errorf("unbound parent device user = %+v, want a parent", p)
	}

	r.Bind("u_lina")
	doc = e.Snapshot()
	if p := r.VisibleUser(doc); p == nil || p.ID != "u_lina" {
		t.Errorf("bound device user = %+v, want u_lina", p)
	}

	// Bound user deleted: fall back by role instead of rendering nothing.
	r.Bind("u_gone")
	r.SetRole(model.RoleChild)
	doc = e.Snapshot()
	if p := r.VisibleUser(doc); p == nil || p.Role != model.RoleChild {
		t.Errorf("stale binding user = %+v, want a child", p)
	}
}

func TestCanMutate(t *testing.T) {
	r, _, _ := setupResolver(t)
	r.Ensure()

	if !r.CanMutate() {
		t.Error("parent device should allow mutations")
	}
	r.SetForceChildMode(true)
	if r.CanMutate() {
		t.Error("forced child mode must block mutations")
	}
	r.SetForceChildMode(false)
	r.SetRole(model.RoleChild)
	if r.CanMutate() {
		t.Error("child device must block mutations")
	}
}

func TestHeartbeatStops(t *testing.T) {
	r, e, _ := setupResolver(t)
	r.Ensure()
	before := r.Current().LastSeen

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		r.Heartbeat(ctx, 10*time.Millisecond)
		close(done)
	}()

	deadline := time.After(2 * time.Second)
	for r.Current().LastSeen <= before {
		select {
		case <-deadline:
			t.Fatal("heartbeat never refreshed lastSeen")
		case <-time.After(5 * time.Millisecond):
		}
	}

	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("heartbeat did not stop on cancel")
	}
	_ = e
}

func TestCachedMode(t *testing.T) {
	r, _, _ := setupResolver(t)

	if got := r.CachedMode(); got != "" {
		t.Errorf("initial cached mode = %q, want empty", got)
	}
	r.SetCachedMode("child")
	if got := r.CachedMode(); got != "child" {
		t.Errorf("cached mode = %q, want child", got)
	}
}
