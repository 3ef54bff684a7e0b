// Package sanitize removes absent-marked values from JSON-like structures.
// The remote store rejects documents containing them, so every outgoing
// payload is passed through Strip before it is written.
package sanitize

type absent struct{}

// Absent marks a value as "not set". Optional fields that callers could not
// resolve carry this marker instead of nil; Strip drops them entirely rather
// than writing null.
var Absent any = absent{}

// IsAbsent reports whether v is the Absent marker.
func IsAbsent(v any) bool {
	_, ok := v.(absent)
	return ok
}

// Strip deep-walks a JSON-like value (maps, slices, primitives) and removes
// every entry whose value is Absent. Map keys with absent values are dropped;
// slice elements that are absent are removed, never replaced with null, so
// slice length may shrink. All other values pass through unchanged. Returns
// Absent if v itself is absent. Input must be acyclic.
func Strip(v any) any {
	if IsAbsent(v) {
		return Absent
	}
	switch t := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(t))
		for k, val := range t {
			cv := Strip(val)
			if IsAbsent(cv) {
				continue
			}
			out[k] = cv
		}
		return out
	case []any:
		out := make([]any, 0, len(t))
		for _, val := range t {
			cv := Strip(val)
			if IsAbsent(cv) {
				continue
			}
			out = append(out, cv)
		}
		return out
	default:
		return v
	}
}

// StripPatch sanitizes an outgoing partial-document payload. A nil patch
// yields an empty map so callers can always write the result.
func StripPatch(patch map[string]any) map[string]any {
	if patch == nil {
		return map[string]any{}
	}
	return Strip(patch).(map[string]any)
}
