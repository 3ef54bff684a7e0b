package server

import (
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/jmaassen/weekplan/internal/model"
)

type statusResponse struct {
	State    string        `json:"state"`
	Ready    bool          `json:"ready"`
	Error    string        `json:"error,omitempty"`
	DeviceID string        `json:"deviceId"`
	Backup   backupSummary `json:"backup"`
}

type backupSummary struct {
	State      string `json:"state"`
	InProgress bool   `json:"in_progress"`
	LastBackup string `json:"last_backup,omitempty"`
}

func (s *Server) StatusHandler(w http.ResponseWriter, r *http.Request) {
	resp := statusResponse{
		State:    string(s.engine.CurrentState()),
		Ready:    s.engine.Ready(),
		DeviceID: s.resolver.DeviceID(),
	}
	if err := s.engine.Err(); err != nil {
		resp.Error = err.Error()
	}
	bs := s.backups.Status()
	resp.Backup = backupSummary{State: string(bs.State), InProgress: bs.InProgress}
	if bs.LastBackup != nil {
		resp.Backup.LastBackup = bs.LastBackup.UTC().Format("2006-01-02T15:04:05Z")
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) GetHousehold(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.engine.Snapshot())
}

// PatchHousehold accepts a partial document keyed by collection name and
// hands it to the engine. Unknown keys are rejected up front so a typo does
// not vanish silently into the merge-write.
func (s *Server) PatchHousehold(w http.ResponseWriter, r *http.Request) {
	if !s.canMutate(w) {
		return
	}
	var patch map[string]any
	if err := json.NewDecoder(r.Body).Decode(&patch); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid JSON"})
		return
	}
	if len(patch) == 0 {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "empty patch"})
		return
	}
	for name := range patch {
		if !model.IsCollection(name) {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": fmt.Sprintf("unknown collection %q", name)})
			return
		}
	}
	s.engine.Save(patch)
	writeJSON(w, http.StatusOK, s.engine.Snapshot())
}

func (s *Server) ListUsers(w http.ResponseWriter, r *http.Request) {
	doc := s.engine.Snapshot()
	users := doc.Users
	if users == nil {
		users = []model.Person{}
	}
	writeJSON(w, http.StatusOK, users)
}

// EventsHandler streams document changes as server-sent events. The UI uses
// it to re-render without polling.
func (s *Server) EventsHandler(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "streaming unsupported"})
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)

	changes := make(chan model.Document, 4)
	unsubscribe := s.engine.SubscribeChanges(func(doc model.Document) {
		select {
		case changes <- doc:
		default:
			// Slow consumer: drop the event, the next one carries full state.
		}
	})
	defer unsubscribe()

	// Initial state so the client renders immediately.
	if err := writeEvent(w, s.engine.Snapshot()); err != nil {
		return
	}
	flusher.Flush()

	for {
		select {
		case <-r.Context().Done():
			return
		case doc := <-changes:
			if err := writeEvent(w, doc); err != nil {
				return
			}
			flusher.Flush()
		}
	}
}

func writeEvent(w http.ResponseWriter, doc model.Document) error {
	payload, err := json.Marshal(doc)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintf(w, "data: %s\n\n", payload)
	return err
}
