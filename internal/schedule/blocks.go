// Package schedule derives per-day views from the household document: which
// block layout applies, which task occurrences are visible, in what order,
// and how completion and timer intents transform their collections. All
// functions are pure; callers write results back through the sync engine.
package schedule

import "github.com/jmaassen/weekplan/internal/model"

// DefaultBlocks returns the built-in block layout for a 1..7 weekday. School
// days lock the middle block; weekends open it up as a regular afternoon.
func DefaultBlocks(weekday int) []model.BlockSpec {
	if weekday == 6 || weekday == 7 {
		return []model.BlockSpec{
			{ID: model.BlockPre, Label: "Ochtend", Start: "08:00", End: "12:00", AllowTasks: true},
			{ID: model.BlockSchool, Label: "Middag", Start: "12:00", End: "16:00", AllowTasks: true},
			{ID: model.BlockPost, Label: "Avond", Start: "16:00", End: "19:45", AllowTasks: true},
		}
	}
	return []model.BlockSpec{
		{ID: model.BlockPre, Label: "Ochtend", Start: "07:00", End: "08:30", AllowTasks: true},
		{ID: model.BlockSchool, Label: "School", Start: "08:30", End: "16:00", AllowTasks: false},
		{ID: model.BlockPost, Label: "Avond", Start: "16:00", End: "19:45", AllowTasks: true},
	}
}

// BlocksFor returns the block layout for one user on one ISO date. A per-day
// override in the document supersedes the weekday default.
func BlocksFor(doc model.Document, userID, date string, weekday int) []model.BlockSpec {
	if byDate, ok := doc.BlockOverrides[userID]; ok {
		if ov, ok := byDate[date]; ok {
			return []model.BlockSpec{ov.Pre, ov.School, ov.Post}
		}
	}
	return DefaultBlocks(weekday)
}
