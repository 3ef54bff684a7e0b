package sanitize

import (
	"reflect"
	"testing"
)

func TestStripPrimitivesPassThrough(t *testing.T) {
	cases := []any{"hello", 42, 3.14, true, false, nil}
	for _, c := range cases {
		got := Strip(c)
		if !reflect.DeepEqual(got, c) {
			t.Errorf("Strip(%v) = %v, want unchanged", c, got)
		}
	}
}

func TestStripDropsAbsentMapKeys(t *testing.T) {
	in := map[string]any{
		"keep":  "yes",
		"drop":  Absent,
		"null":  nil,
		"zero":  0,
		"empty": "",
	}
	got := Strip(in).(map[string]any)
	if _, ok := got["drop"]; ok {
		t.Error("absent key survived Strip")
	}
	if len(got) != 4 {
		t.Errorf("got %d keys, want 4", len(got))
	}
	// nil is a representable value and must be preserved, unlike Absent
	if v, ok := got["null"]; !ok || v != nil {
		t.Error("nil value was not preserved")
	}
}

func TestStripShrinksSlices(t *testing.T) {
	in := []any{"a", Absent, "b", Absent, "c"}
	got := Strip(in).([]any)
	want := []any{"a", "b", "c"}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("got %v, want %v", got, want)
	}
}

func TestStripNested(t *testing.T) {
	in := map[string]any{
		"tasks": []any{
			map[string]any{
				"id":       "t1",
				"imageUrl": Absent,
				"days":     []any{1, 2, Absent, 3},
			},
		},
		"sortOrders": map[string]any{
			"u1__1__pre": []any{"t1"},
			"stale":      Absent,
		},
	}
	got := Strip(in).(map[string]any)

	task := got["tasks"].([]any)[0].(map[string]any)
	if _, ok := task["imageUrl"]; ok {
		t.Error("nested absent key survived")
	}
	if days := task["days"].([]any); len(days) != 3 {
		t.Errorf("nested slice has %d elements, want 3", len(days))
	}
	orders := got["sortOrders"].(map[string]any)
	if _, ok := orders["stale"]; ok {
		t.Error("absent value in nested map survived")
	}
	if !reflect.DeepEqual(orders["u1__1__pre"], []any{"t1"}) {
		t.Error("valid nested value was altered")
	}
}

func TestStripAbsentItself(t *testing.T) {
	if !IsAbsent(Strip(Absent)) {
		t.Error("Strip(Absent) should stay absent")
	}
}

func TestStripPatchNil(t *testing.T) {
	got := StripPatch(nil)
	if got == nil || len(got) != 0 {
		t.Errorf("StripPatch(nil) = %v, want empty map", got)
	}
}

func TestStripDoesNotMutateInput(t *testing.T) {
	in := map[string]any{"a": Absent, "b": "x"}
	Strip(in)
	if _, ok := in["a"]; !ok {
		t.Error("Strip mutated its input")
	}
}
