package schedule

// Ordered sorts occurrences by a stored display order. Ids missing from the
// order keep their derived position after all ordered ids.
func Ordered(occ []Occurrence, order []string) []Occurrence {
	if len(order) == 0 {
		return append([]Occurrence(nil), occ...)
	}
	pos := make(map[string]int, len(order))
	for i, id := range order {
		pos[id] = i
	}
	out := append([]Occurrence(nil), occ...)
	// Stable insertion sort: household blocks hold a handful of tasks, and
	// ties (unordered ids) must keep their derived relative order.
	for i := 1; i < len(out); i++ {
		for j := i; j > 0 && rank(pos, out[j].Task.ID) < rank(pos, out[j-1].Task.ID); j-- {
			out[j], out[j-1] = out[j-1], out[j]
		}
	}
	return out
}

func rank(pos map[string]int, id string) int {
	if p, ok := pos[id]; ok {
		return p
	}
	return int(^uint(0) >> 1)
}

// EnsureOrder reconciles a stored order against the current occurrence ids:
// stale ids are pruned, surviving ids keep their relative order, and new ids
// are appended at the end. The second return reports whether the result
// differs from the stored order.
func EnsureOrder(current, ids []string) ([]string, bool) {
	present := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		present[id] = struct{}{}
	}

	next := make([]string, 0, len(ids))
	seen := make(map[string]struct{}, len(ids))
	for _, id := range current {
		if _, ok := present[id]; !ok {
			continue
		}
		if _, dup := seen[id]; dup {
			continue
		}
		next = append(next, id)
		seen[id] = struct{}{}
	}
	for _, id := range ids {
		if _, ok := seen[id]; !ok {
			next = append(next, id)
			seen[id] = struct{}{}
		}
	}

	if len(next) != len(current) {
		return next, true
	}
	for i := range next {
		if next[i] != current[i] {
			return next, true
		}
	}
	return next, false
}

// Move shifts taskID by delta positions within an order (negative is up).
// Moves past either end are no-ops; the input is never mutated.
func Move(order []string, taskID string, delta int) []string {
	idx := -1
	for i, id := range order {
		if id == taskID {
			idx = i
			break
		}
	}
	out := append([]string(nil), order...)
	if idx < 0 {
		return out
	}
	target := idx + delta
	if target < 0 || target >= len(out) {
		return out
	}
	out = append(out[:idx], out[idx+1:]...)
	out = append(out[:target], append([]string{taskID}, out[target:]...)...)
	return out
}
