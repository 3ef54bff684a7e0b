package model

import (
	"testing"
	"time"
)

func TestKeys(t *testing.T) {
	if got := SuppressionKey("t1", "2026-01-09", BlockPost); got != "t1__2026-01-09__post" {
		t.Errorf("suppression key = %q", got)
	}
	if got := OrderKey("u_lina", 5, BlockPre); got != "u_lina__5__pre" {
		t.Errorf("order key = %q", got)
	}
	if got := TimerID("t1", "u_lina", "2026-01-09", BlockPost); got != "t1__u_lina__2026-01-09__post" {
		t.Errorf("timer id = %q", got)
	}
}

func TestWeekdayMondayBased(t *testing.T) {
	// 2026-01-05 is a Monday, 2026-01-11 a Sunday.
	mon := time.Date(2026, 1, 5, 12, 0, 0, 0, time.UTC)
	sun := time.Date(2026, 1, 11, 12, 0, 0, 0, time.UTC)
	if got := Weekday(mon); got != 1 {
		t.Errorf("Monday = %d, want 1", got)
	}
	if got := Weekday(sun); got != 7 {
		t.Errorf("Sunday = %d, want 7", got)
	}
	if got := ISODate(mon); got != "2026-01-05" {
		t.Errorf("iso date = %q", got)
	}
}

func TestCloneIsDeep(t *testing.T) {
	doc := Seed()
	doc.SortOrders["u_lina__5__post"] = []string{"t_a", "t_b"}
	doc.Suppressions = []string{"t_a__2026-01-09__post"}

	clone := doc.Clone()
	clone.Users[0].Name = "Changed"
	clone.SortOrders["u_lina__5__post"][0] = "t_x"
	clone.Suppressions[0] = "other"

	if doc.Users[0].Name == "Changed" {
		t.Error("clone shares users backing array")
	}
	if doc.SortOrders["u_lina__5__post"][0] != "t_a" {
		t.Error("clone shares sort order slices")
	}
	if doc.Suppressions[0] != "t_a__2026-01-09__post" {
		t.Error("clone shares suppressions")
	}
}

func TestCollectionPredicates(t *testing.T) {
	for _, name := range Collections {
		if !IsCollection(name) {
			t.Errorf("IsCollection(%q) = false", name)
		}
	}
	if IsCollection("bogus") {
		t.Error("IsCollection accepted unknown name")
	}
	if !IsArrayCollection(ColUsers) || IsArrayCollection(ColSortOrders) {
		t.Error("array collection predicate wrong")
	}
}

func TestFindHelpers(t *testing.T) {
	doc := Seed()
	if p := doc.FindPerson("u_lina"); p == nil || p.Name != "Lina" {
		t.Errorf("FindPerson = %+v", p)
	}
	if p := doc.FindPerson("u_nobody"); p != nil {
		t.Errorf("FindPerson unknown = %+v", p)
	}
	if p := doc.FirstByRole(RoleChild); p == nil || p.Role != RoleChild {
		t.Errorf("FirstByRole = %+v", p)
	}
	if d := doc.FindDevice("dev_x"); d != nil {
		t.Errorf("FindDevice on empty devices = %+v", d)
	}
}
