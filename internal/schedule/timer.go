package schedule

import (
	"github.com/google/uuid"

	"github.com/jmaassen/weekplan/internal/model"
)

// StartTimer starts (or resumes) the countdown for one occurrence. The timer
// is created lazily on first start with the task's full duration; tasks
// without a duration have no timer. Returns the timers unchanged when there
// is nothing to start.
func StartTimer(timers []model.Timer, task model.Task, userID, date, block string) []model.Timer {
	if task.DurationMinutes <= 0 {
		return append([]model.Timer(nil), timers...)
	}
	id := model.TimerID(task.ID, userID, date, block)
	out := append([]model.Timer(nil), timers...)
	for i, t := range out {
		if t.ID == id {
			out[i].Status = model.TimerRunning
			return out
		}
	}
	return append(out, model.Timer{
		ID:           id,
		TaskID:       task.ID,
		UserID:       userID,
		Date:         date,
		Block:        block,
		RemainingSec: task.DurationMinutes * 60,
		Status:       model.TimerRunning,
	})
}

// PauseTimer pauses the countdown for one occurrence, if it exists.
func PauseTimer(timers []model.Timer, taskID, userID, date, block string) []model.Timer {
	id := model.TimerID(taskID, userID, date, block)
	out := append([]model.Timer(nil), timers...)
	for i, t := range out {
		if t.ID == id {
			out[i].Status = model.TimerPaused
		}
	}
	return out
}

// ResetTimer rewinds an occurrence's timer to minutes (at least one) in the
// paused state, creating it if absent, and clears any completion for the
// tuple so the occurrence can be done again.
func ResetTimer(timers []model.Timer, completions []model.Completion, taskID, userID, date, block string, minutes int) ([]model.Timer, []model.Completion) {
	if minutes < 1 {
		minutes = 1
	}
	id := model.TimerID(taskID, userID, date, block)
	secs := minutes * 60

	out := append([]model.Timer(nil), timers...)
	found := false
	for i, t := range out {
		if t.ID == id {
			out[i].RemainingSec = secs
			out[i].Status = model.TimerPaused
			found = true
		}
	}
	if !found {
		out = append(out, model.Timer{
			ID:           id,
			TaskID:       taskID,
			UserID:       userID,
			Date:         date,
			Block:        block,
			RemainingSec: secs,
			Status:       model.TimerPaused,
		})
	}
	return out, removeCompletion(completions, taskID, userID, date, block)
}

// Tick advances every running timer by one second. The second return reports
// whether anything changed, so callers can skip a no-op save.
func Tick(timers []model.Timer) ([]model.Timer, bool) {
	out := append([]model.Timer(nil), timers...)
	changed := false
	for i, t := range out {
		if t.Status != model.TimerRunning || t.RemainingSec <= 0 {
			continue
		}
		out[i].RemainingSec = t.RemainingSec - 1
		changed = true
	}
	return out, changed
}

// FinishExpired pauses running timers that reached zero and records their
// completions (once per tuple). The third return reports whether anything
// changed.
func FinishExpired(timers []model.Timer, completions []model.Completion) ([]model.Timer, []model.Completion, bool) {
	outT := append([]model.Timer(nil), timers...)
	outC := append([]model.Completion(nil), completions...)
	changed := false
	for i, t := range outT {
		if t.Status != model.TimerRunning || t.RemainingSec != 0 {
			continue
		}
		outT[i].Status = model.TimerPaused
		changed = true
		if !IsCompleted(outC, t.TaskID, t.UserID, t.Date, t.Block) {
			outC = append(outC, model.Completion{
				ID:     "done_" + uuid.NewString(),
				TaskID: t.TaskID,
				UserID: t.UserID,
				Date:   t.Date,
				Block:  t.Block,
			})
		}
	}
	return outT, outC, changed
}
