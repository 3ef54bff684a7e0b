package schedule

import "github.com/jmaassen/weekplan/internal/model"

// Occurrence is one concrete instance of a task on a specific date and block,
// the unit of completion, suppression and timer tracking.
type Occurrence struct {
	Task  model.Task
	Block string
	Done  bool
}

// Occurrences derives the visible occurrence lists for one user on one date,
// keyed by block id. A task appears once per applicable block if its weekday
// set contains the date's weekday, the block allows tasks (or the task is
// school-allowed), and the occurrence is not suppressed. Tasks whose assignee
// does not match are skipped, so dangling assignee references are harmless.
func Occurrences(doc model.Document, userID, date string, weekday int) map[string][]Occurrence {
	blocks := BlocksFor(doc, userID, date, weekday)
	byID := make(map[string]model.BlockSpec, len(blocks))
	for _, b := range blocks {
		byID[b.ID] = b
	}

	suppressed := make(map[string]struct{}, len(doc.Suppressions))
	for _, s := range doc.Suppressions {
		suppressed[s] = struct{}{}
	}

	done := make(map[string]struct{}, len(doc.Completions))
	for _, c := range doc.Completions {
		if c.UserID == userID && c.Date == date {
			done[c.TaskID+"::"+c.Block] = struct{}{}
		}
	}

	out := map[string][]Occurrence{
		model.BlockPre:    {},
		model.BlockSchool: {},
		model.BlockPost:   {},
	}
	for _, t := range doc.Tasks {
		if t.AssigneeID != userID {
			continue
		}
		if !containsInt(t.Days, weekday) {
			continue
		}
		for _, b := range t.Blocks {
			meta, ok := byID[b]
			if !ok {
				continue
			}
			if b == model.BlockSchool && !meta.AllowTasks && !t.SchoolAllowed {
				continue
			}
			if _, ok := suppressed[model.SuppressionKey(t.ID, date, b)]; ok {
				continue
			}
			_, isDone := done[t.ID+"::"+b]
			out[b] = append(out[b], Occurrence{Task: t, Block: b, Done: isDone})
		}
	}
	return out
}

func containsInt(s []int, v int) bool {
	for _, x := range s {
		if x == v {
			return true
		}
	}
	return false
}

func containsString(s []string, v string) bool {
	for _, x := range s {
		if x == v {
			return true
		}
	}
	return false
}

// Suppress hides one occurrence without deleting its task. Suppressing an
// already-suppressed occurrence is a no-op.
func Suppress(suppressions []string, key string) []string {
	if containsString(suppressions, key) {
		return append([]string(nil), suppressions...)
	}
	return append(append([]string(nil), suppressions...), key)
}

// Unsuppress makes a hidden occurrence visible again.
func Unsuppress(suppressions []string, key string) []string {
	out := make([]string, 0, len(suppressions))
	for _, s := range suppressions {
		if s != key {
			out = append(out, s)
		}
	}
	return out
}
