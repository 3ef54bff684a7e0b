package schedule

import (
	"github.com/google/uuid"

	"github.com/jmaassen/weekplan/internal/model"
)

// ToggleCompletion flips the done state of one occurrence: an existing record
// for the tuple is removed, otherwise one is appended. Duplicate records for
// the tuple (data hygiene from concurrent writers) all collapse on removal,
// so at most one record per tuple survives any toggle.
func ToggleCompletion(completions []model.Completion, taskID, userID, date, block string) []model.Completion {
	out := make([]model.Completion, 0, len(completions))
	removed := false
	for _, c := range completions {
		if c.TaskID == taskID && c.UserID == userID && c.Date == date && c.Block == block {
			removed = true
			continue
		}
		out = append(out, c)
	}
	if removed {
		return out
	}
	return append(out, model.Completion{
		ID:     "done_" + uuid.NewString(),
		TaskID: taskID,
		UserID: userID,
		Date:   date,
		Block:  block,
	})
}

// IsCompleted reports whether a record exists for the occurrence tuple.
func IsCompleted(completions []model.Completion, taskID, userID, date, block string) bool {
	for _, c := range completions {
		if c.TaskID == taskID && c.UserID == userID && c.Date == date && c.Block == block {
			return true
		}
	}
	return false
}

// removeCompletion drops any record for the tuple.
func removeCompletion(completions []model.Completion, taskID, userID, date, block string) []model.Completion {
	out := make([]model.Completion, 0, len(completions))
	for _, c := range completions {
		if c.TaskID == taskID && c.UserID == userID && c.Date == date && c.Block == block {
			continue
		}
		out = append(out, c)
	}
	return out
}
