package remote

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	ws "github.com/coder/websocket"
)

// fakeStore serves the session, read, write and watch endpoints of the hosted
// store against a single in-memory document.
type fakeStore struct {
	t        *testing.T
	doc      map[string]json.RawMessage
	sessions atomic.Int64
	writes   chan map[string]json.RawMessage
	watch    chan map[string]json.RawMessage
}

func newFakeStore(t *testing.T) (*fakeStore, *httptest.Server) {
	t.Helper()
	fs := &fakeStore{
		t:      t,
		writes: make(chan map[string]json.RawMessage, 8),
		watch:  make(chan map[string]json.RawMessage, 8),
	}
	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/session", func(w http.ResponseWriter, r *http.Request) {
		fs.sessions.Add(1)
		json.NewEncoder(w).Encode(map[string]string{"token": "opaque-session-token"})
	})
	mux.HandleFunc("GET /api/households/fam-1", func(w http.ResponseWriter, r *http.Request) {
		if fs.doc == nil {
			http.NotFound(w, r)
			return
		}
		json.NewEncoder(w).Encode(fs.doc)
	})
	mux.HandleFunc("PATCH /api/households/fam-1", func(w http.ResponseWriter, r *http.Request) {
		var patch map[string]json.RawMessage
		if err := json.NewDecoder(r.Body).Decode(&patch); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		fs.writes <- patch
		w.WriteHeader(http.StatusNoContent)
	})
	mux.HandleFunc("GET /api/households/fam-1/watch", func(w http.ResponseWriter, r *http.Request) {
		conn, err := ws.Accept(w, r, &ws.AcceptOptions{InsecureSkipVerify: true})
		if err != nil {
			return
		}
		defer conn.Close(ws.StatusNormalClosure, "")
		for doc := range fs.watch {
			frame, _ := json.Marshal(map[string]any{"type": "snapshot", "doc": doc})
			if err := conn.Write(r.Context(), ws.MessageText, frame); err != nil {
				return
			}
		}
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return fs, srv
}

func newTestClient(srv *httptest.Server) *Client {
	return NewClient(Config{BaseURL: srv.URL, FamID: "fam-1", DeviceID: "dev-1"}, slog.Default())
}

func TestReadNotFound(t *testing.T) {
	_, srv := newFakeStore(t)
	c := newTestClient(srv)

	_, err := c.Read(context.Background())
	if err != ErrNotFound {
		t.Fatalf("Read on missing doc = %v, want ErrNotFound", err)
	}
}

func TestReadReturnsFields(t *testing.T) {
	fs, srv := newFakeStore(t)
	fs.doc = map[string]json.RawMessage{
		"users": json.RawMessage(`[{"id":"u1"}]`),
	}
	c := newTestClient(srv)

	fields, err := c.Read(context.Background())
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if string(fields["users"]) != `[{"id":"u1"}]` {
		t.Errorf("users = %s", fields["users"])
	}
}

func TestWriteSendsOnlyPatchedFields(t *testing.T) {
	fs, srv := newFakeStore(t)
	c := newTestClient(srv)

	err := c.Write(context.Background(), map[string]any{"completions": []string{}})
	if err != nil {
		t.Fatalf("write: %v", err)
	}

	patch := <-fs.writes
	if _, ok := patch["completions"]; !ok {
		t.Error("patch missing completions")
	}
	if len(patch) != 1 {
		t.Errorf("patch has %d fields, want 1", len(patch))
	}
}

func TestAuthTokenReused(t *testing.T) {
	fs, srv := newFakeStore(t)
	fs.doc = map[string]json.RawMessage{}
	c := newTestClient(srv)

	ctx := context.Background()
	for range 3 {
		if _, err := c.Read(ctx); err != nil {
			t.Fatalf("read: %v", err)
		}
	}
	if got := fs.sessions.Load(); got != 1 {
		t.Errorf("session established %d times, want 1", got)
	}
}

func TestSubscribeDeliversSnapshots(t *testing.T) {
	fs, srv := newFakeStore(t)
	c := newTestClient(srv)

	got := make(chan map[string]json.RawMessage, 1)
	cancel := c.Subscribe(context.Background(),
		func(fields map[string]json.RawMessage) { got <- fields },
		func(err error) {},
	)
	defer cancel()

	fs.watch <- map[string]json.RawMessage{"tasks": json.RawMessage(`[]`)}

	select {
	case fields := <-got:
		if string(fields["tasks"]) != `[]` {
			t.Errorf("tasks = %s", fields["tasks"])
		}
	case <-time.After(5 * time.Second):
		t.Fatal("no snapshot delivered")
	}
}

func TestSubscribeCancelStopsDelivery(t *testing.T) {
	fs, srv := newFakeStore(t)
	c := newTestClient(srv)

	var count atomic.Int64
	first := make(chan struct{}, 1)
	cancel := c.Subscribe(context.Background(),
		func(fields map[string]json.RawMessage) {
			count.Add(1)
			select {
			case first <- struct{}{}:
			default:
			}
		},
		func(err error) {},
	)

	fs.watch <- map[string]json.RawMessage{}
	select {
	case <-first:
	case <-time.After(5 * time.Second):
		t.Fatal("no snapshot delivered")
	}

	cancel()
	time.Sleep(100 * time.Millisecond)
	before := count.Load()
	fs.watch <- map[string]json.RawMessage{}
	time.Sleep(200 * time.Millisecond)
	if count.Load() != before {
		t.Error("snapshot delivered after cancel")
	}
}

func TestTokenExpiryUnreadableToken(t *testing.T) {
	exp := tokenExpiry("not-a-jwt")
	if time.Until(exp) > time.Hour || time.Until(exp) < 50*time.Minute {
		t.Errorf("unreadable token expiry %v, want ~1h from now", exp)
	}
}
