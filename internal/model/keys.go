package model

import (
	"fmt"
	"strings"
	"time"
)

// Occurrence keys. Suppressions, sort orders and timers are always scoped by
// the specific occurrence tuple, never by task id alone, so the same task on
// another day or block is tracked independently. The "__" separator matches
// what the household documents already contain.

// SuppressionKey identifies one hidden occurrence.
func SuppressionKey(taskID, date, block string) string {
	return taskID + "__" + date + "__" + block
}

// OrderKey identifies the display order of one (user, weekday, block) cell.
func OrderKey(userID string, weekday int, block string) string {
	return fmt.Sprintf("%s__%d__%s", userID, weekday, block)
}

// TimerID identifies the timer for one occurrence.
func TimerID(taskID, userID, date, block string) string {
	return strings.Join([]string{taskID, userID, date, block}, "__")
}

// ISODate formats t as the YYYY-MM-DD date key used throughout the document.
func ISODate(t time.Time) string {
	return t.Format("2006-01-02")
}

// Weekday returns the 1..7 (Mon..Sun) weekday index for t.
func Weekday(t time.Time) int {
	wd := int(t.Weekday())
	if wd == 0 {
		return 7
	}
	return wd
}
