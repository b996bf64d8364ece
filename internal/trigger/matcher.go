package trigger

import (
	"strconv"
	"strings"
)

// TokenizePath splits a concrete path ("/rooms/kitchen/temp") into segments
// for token-by-token comparison against a compiled match-path.
func TokenizePath(path string) []string {
	trimmed := strings.Trim(path, "/")
	if trimmed == "" {
		return nil
	}
	return strings.Split(trimmed, "/")
}

// PathMatches reports whether a concrete path's tokens satisfy a compiled
// match-path, where an empty token is a single-segment wildcard (matches
// any one segment, never "**").
func PathMatches(matchTokens, pathTokens []string) bool {
	if len(matchTokens) != len(pathTokens) {
		return false
	}
	for i, m := range matchTokens {
		if m == "" {
			continue
		}
		if m != pathTokens[i] {
			return false
		}
	}
	return true
}

// ValueMatches evaluates a DataTrigger's value-match operator against an
// incoming value. MatchAlways is the sentinel that always succeeds without
// inspecting known/incoming values.
func ValueMatches(op ValueMatchOperator, known, incoming interface{}) bool {
	if op == MatchAlways {
		return true
	}

	cmp, comparable := compareValues(known, incoming)
	switch op {
	case MatchEqual:
		return comparable && cmp == 0
	case MatchNotEqual:
		return !comparable || cmp != 0
	case MatchGreaterThan:
		return comparable && cmp < 0 // known < incoming
	case MatchGreaterOrEqual:
		return comparable && cmp <= 0
	case MatchLessThan:
		return comparable && cmp > 0
	case MatchLessOrEqual:
		return comparable && cmp >= 0
	default:
		return false
	}
}

// compareValues orders two incoming device values numerically when both
// coerce to float64, else falls back to string comparison. It reports
// whether the two values were comparable at all.
func compareValues(a, b interface{}) (int, bool) {
	af, aok := toFloat(a)
	bf, bok := toFloat(b)
	if aok && bok {
		switch {
		case af < bf:
			return -1, true
		case af > bf:
			return 1, true
		default:
			return 0, true
		}
	}

	as, aok := a.(string)
	bs, bok := b.(string)
	if aok && bok {
		return strings.Compare(as, bs), true
	}

	return 0, false
}

func toFloat(v interface{}) (float64, bool) {
	switch t := v.(type) {
	case float64:
		return t, true
	case float32:
		return float64(t), true
	case int:
		return float64(t), true
	case int32:
		return float64(t), true
	case int64:
		return float64(t), true
	case string:
		f, err := strconv.ParseFloat(t, 64)
		return f, err == nil
	default:
		return 0, false
	}
}
