package server

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/jmaassen/weekplan/internal/model"
	"github.com/jmaassen/weekplan/internal/schedule"
)

type occurrenceView struct {
	Task model.Task `json:"task"`
	Done bool       `json:"done"`
}

type blockView struct {
	Spec  model.BlockSpec  `json:"spec"`
	Tasks []occurrenceView `json:"tasks"`
}

// ListOccurrences returns the day plan for one user: block specs plus the
// ordered tasks inside each block. Stale sort orders are pruned as a side
// effect, so a deleted task never leaves a hole in the list.
func (s *Server) ListOccurrences(w http.ResponseWriter, r *http.Request) {
	userID := r.URL.Query().Get("userId")
	if userID == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "userId is required"})
		return
	}

	date := r.URL.Query().Get("date")
	var day time.Time
	if date == "" {
		day = time.Now()
		date = model.ISODate(day)
	} else {
		var err error
		day, err = time.Parse("2006-01-02", date)
		if err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "date must be YYYY-MM-DD"})
			return
		}
	}
	weekday := model.Weekday(day)

	doc := s.engine.Snapshot()
	if doc.FindPerson(userID) == nil {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "user not found"})
		return
	}

	occ := schedule.Occurrences(doc, userID, date, weekday)
	specs := schedule.BlocksFor(doc, userID, date, weekday)

	orders := doc.SortOrders
	if orders == nil {
		orders = make(map[string][]string)
	}
	ordersChanged := false

	views := make([]blockView, 0, len(specs))
	for _, spec := range specs {
		blockOcc := occ[spec.ID]
		key := model.OrderKey(userID, weekday, spec.ID)

		ids := make([]string, 0, len(blockOcc))
		for _, o := range blockOcc {
			ids = append(ids, o.Task.ID)
		}
		if next, changed := schedule.EnsureOrder(orders[key], ids); changed {
			orders[key] = next
			ordersChanged = true
		}

		tasks := make([]occurrenceView, 0, len(blockOcc))
		for _, o := range schedule.Ordered(blockOcc, orders[key]) {
			tasks = append(tasks, occurrenceView{Task: o.Task, Done: o.Done})
		}
		views = append(views, blockView{Spec: spec, Tasks: tasks})
	}

	if ordersChanged {
		s.engine.Save(map[string]any{model.ColSortOrders: orders})
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"userId": userID,
		"date":   date,
		"blocks": views,
	})
}

type occurrenceRequest struct {
	UserID string `json:"userId"`
	Date   string `json:"date"`
	Block  string `json:"block"`
}

func decodeOccurrenceRequest(w http.ResponseWriter, r *http.Request) (occurrenceRequest, bool) {
	var req occurrenceRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid JSON"})
		return req, false
	}
	if req.Date == "" || req.Block == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "date and block are required"})
		return req, false
	}
	return req, true
}

func (s *Server) ToggleTask(w http.ResponseWriter, r *http.Request) {
	taskID := r.PathValue("id")
	req, ok := decodeOccurrenceRequest(w, r)
	if !ok {
		return
	}
	if req.UserID == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "userId is required"})
		return
	}

	doc := s.engine.Snapshot()
	completions := schedule.ToggleCompletion(doc.Completions, taskID, req.UserID, req.Date, req.Block)
	s.engine.Save(map[string]any{model.ColCompletions: completions})

	writeJSON(w, http.StatusOK, map[string]any{
		"done": schedule.IsCompleted(completions, taskID, req.UserID, req.Date, req.Block),
	})
}

func (s *Server) SuppressTask(w http.ResponseWriter, r *http.Request) {
	taskID := r.PathValue("id")
	req, ok := decodeOccurrenceRequest(w, r)
	if !ok {
		return
	}

	doc := s.engine.Snapshot()
	key := model.SuppressionKey(taskID, req.Date, req.Block)
	s.engine.Save(map[string]any{model.ColSuppressions: schedule.Suppress(doc.Suppressions, key)})
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) UnsuppressTask(w http.ResponseWriter, r *http.Request) {
	taskID := r.PathValue("id")
	req, ok := decodeOccurrenceRequest(w, r)
	if !ok {
		return
	}

	doc := s.engine.Snapshot()
	key := model.SuppressionKey(taskID, req.Date, req.Block)
	s.engine.Save(map[string]any{model.ColSuppressions: schedule.Unsuppress(doc.Suppressions, key)})
	w.WriteHeader(http.StatusNoContent)
}

type moveRequest struct {
	UserID  string `json:"userId"`
	Weekday int    `json:"weekday"`
	Block   string `json:"block"`
	Delta   int    `json:"delta"`
}

func (s *Server) MoveTask(w http.ResponseWriter, r *http.Request) {
	taskID := r.PathValue("id")
	var req moveRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid JSON"})
		return
	}
	if req.UserID == "" || req.Block == "" || req.Weekday < 1 || req.Weekday > 7 {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "userId, weekday and block are required"})
		return
	}

	doc := s.engine.Snapshot()
	orders := doc.SortOrders
	if orders == nil {
		orders = make(map[string][]string)
	}
	key := model.OrderKey(req.UserID, req.Weekday, req.Block)
	orders[key] = schedule.Move(orders[key], taskID, req.Delta)
	s.engine.Save(map[string]any{model.ColSortOrders: orders})

	writeJSON(w, http.StatusOK, map[string]any{"order": orders[key]})
}

type timerRequest struct {
	TaskID  string `json:"taskId"`
	UserID  string `json:"userId"`
	Date    string `json:"date"`
	Block   string `json:"block"`
	Minutes int    `json:"minutes"`
}

func decodeTimerRequest(w http.ResponseWriter, r *http.Request) (timerRequest, bool) {
	var req timerRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid JSON"})
		return req, false
	}
	if req.TaskID == "" || req.UserID == "" || req.Date == "" || req.Block == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "taskId, userId, date and block are required"})
		return req, false
	}
	return req, true
}

func (s *Server) StartTimer(w http.ResponseWriter, r *http.Request) {
	req, ok := decodeTimerRequest(w, r)
	if !ok {
		return
	}

	doc := s.engine.Snapshot()
	var task *model.Task
	for i := range doc.Tasks {
		if doc.Tasks[i].ID == req.TaskID {
			task = &doc.Tasks[i]
			break
		}
	}
	if task == nil {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "task not found"})
		return
	}

	timers := schedule.StartTimer(doc.Timers, *task, req.UserID, req.Date, req.Block)
	s.engine.Save(map[string]any{model.ColTimers: timers})
	writeJSON(w, http.StatusOK, findTimer(timers, req))
}

func (s *Server) PauseTimer(w http.ResponseWriter, r *http.Request) {
	req, ok := decodeTimerRequest(w, r)
	if !ok {
		return
	}

	doc := s.engine.Snapshot()
	timers := schedule.PauseTimer(doc.Timers, req.TaskID, req.UserID, req.Date, req.Block)
	s.engine.Save(map[string]any{model.ColTimers: timers})
	writeJSON(w, http.StatusOK, findTimer(timers, req))
}

func (s *Server) ResetTimer(w http.ResponseWriter, r *http.Request) {
	req, ok := decodeTimerRequest(w, r)
	if !ok {
		return
	}

	doc := s.engine.Snapshot()
	timers, completions := schedule.ResetTimer(doc.Timers, doc.Completions, req.TaskID, req.UserID, req.Date, req.Block, req.Minutes)
	s.engine.Save(map[string]any{
		model.ColTimers:      timers,
		model.ColCompletions: completions,
	})
	writeJSON(w, http.StatusOK, findTimer(timers, req))
}

func findTimer(timers []model.Timer, req timerRequest) map[string]any {
	id := model.TimerID(req.TaskID, req.UserID, req.Date, req.Block)
	for _, tm := range timers {
		if tm.ID == id {
			return map[string]any{"timer": tm}
		}
	}
	return map[string]any{"timer": nil}
}

type pinRequest struct {
	PIN string `json:"pin"`
}

func (s *Server) SetPIN(w http.ResponseWriter, r *http.Request) {
	if !s.canMutate(w) {
		return
	}
	userID := r.PathValue("id")
	var req pinRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid JSON"})
		return
	}

	doc := s.engine.Snapshot()
	users := doc.Users
	for i := range users {
		if users[i].ID != userID {
			continue
		}
		if err := users[i].SetPIN(req.PIN); err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
			return
		}
		s.engine.Save(map[string]any{model.ColUsers: users})
		w.WriteHeader(http.StatusNoContent)
		return
	}
	writeJSON(w, http.StatusNotFound, map[string]string{"error": "user not found"})
}

func (s *Server) ClearPIN(w http.ResponseWriter, r *http.Request) {
	if !s.canMutate(w) {
		return
	}
	userID := r.PathValue("id")

	doc := s.engine.Snapshot()
	users := doc.Users
	for i := range users {
		if users[i].ID != userID {
			continue
		}
		users[i].ClearPIN()
		s.engine.Save(map[string]any{model.ColUsers: users})
		w.WriteHeader(http.StatusNoContent)
		return
	}
	writeJSON(w, http.StatusNotFound, map[string]string{"error": "user not found"})
}

func (s *Server) VerifyPIN(w http.ResponseWriter, r *http.Request) {
	userID := r.PathValue("id")
	var req pinRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid JSON"})
		return
	}

	doc := s.engine.Snapshot()
	person := doc.FindPerson(userID)
	if person == nil {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "user not found"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"valid": person.VerifyPIN(req.PIN)})
}
