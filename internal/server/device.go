package server

import (
	"encoding/json"
	"net/http"
)

type deviceResponse struct {
	DeviceID       string `json:"deviceId"`
	Label          string `json:"label"`
	Role           string `json:"role"`
	UserID         string `json:"userId,omitempty"`
	ForceChildMode bool   `json:"forceChildMode"`
	CachedMode     string `json:"cachedMode,omitempty"`
}

func (s *Server) GetDevice(w http.ResponseWriter, r *http.Request) {
	b := s.resolver.Current()
	writeJSON(w, http.StatusOK, deviceResponse{
		DeviceID:       s.resolver.DeviceID(),
		Label:          b.Label,
		Role:           b.Role,
		UserID:         b.UserID,
		ForceChildMode: b.ForceChildMode,
		CachedMode:     s.resolver.CachedMode(),
	})
}

type deviceUpdateRequest struct {
	Label          *string `json:"label"`
	Role           *string `json:"role"`
	ForceChildMode *bool   `json:"forceChildMode"`
	CachedMode     *string `json:"cachedMode"`
}

func (s *Server) UpdateDevice(w http.ResponseWriter, r *http.Request) {
	if !s.canMutate(w) {
		return
	}
	var req deviceUpdateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid JSON"})
		return
	}

	if req.Label != nil {
		s.resolver.SetLabel(*req.Label)
	}
	if req.Role != nil {
		s.resolver.SetRole(*req.Role)
	}
	if req.ForceChildMode != nil {
		s.resolver.SetForceChildMode(*req.ForceChildMode)
	}
	if req.CachedMode != nil {
		s.resolver.SetCachedMode(*req.CachedMode)
	}

	s.GetDevice(w, r)
}

type bindRequest struct {
	UserID string `json:"userId"`
}

// BindDevice maps this device to a person. Binding is open to any role: a
// child picking their own name is the normal flow on a shared tablet.
func (s *Server) BindDevice(w http.ResponseWriter, r *http.Request) {
	var req bindRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid JSON"})
		return
	}
	if req.UserID != "" && s.engine.Snapshot().FindPerson(req.UserID) == nil {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "user not found"})
		return
	}

	s.resolver.Bind(req.UserID)
	s.GetDevice(w, r)
}

func (s *Server) ListBackups(w http.ResponseWriter, r *http.Request) {
	entries, err := s.backups.List(r.Context())
	if err != nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, entries)
}

type backupRequest struct {
	Passphrase string `json:"passphrase"`
	Key        string `json:"key"`
}

func (s *Server) RunBackup(w http.ResponseWriter, r *http.Request) {
	if !s.canMutate(w) {
		return
	}
	var req backupRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid JSON"})
		return
	}
	if req.Passphrase == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "passphrase is required"})
		return
	}

	key, err := s.backups.RunNow(r.Context(), req.Passphrase)
	if err != nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"error": err.Error()})
		return
	}
	writeJSON(w, http.StatusCreated, map[string]string{"key": key})
}

func (s *Server) RestoreBackup(w http.ResponseWriter, r *http.Request) {
	if !s.canMutate(w) {
		return
	}
	var req backupRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid JSON"})
		return
	}
	if req.Key == "" || req.Passphrase == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "key and passphrase are required"})
		return
	}

	if err := s.backups.Restore(r.Context(), req.Key, req.Passphrase); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) SetBackupPassphrase(w http.ResponseWriter, r *http.Request) {
	if !s.canMutate(w) {
		return
	}
	var req backupRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid JSON"})
		return
	}
	if req.Passphrase == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "passphrase is required"})
		return
	}
	if err := s.backups.SetPassphrase(req.Passphrase); err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
