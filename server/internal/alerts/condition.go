package alerts

import (
	"strconv"
	"strings"

	"github.com/obsidianstack/prioritymq/server/internal/store"
)

// evalCondition evaluates a rule condition string against queue statistics.
//
// Supported expressions (field operator value):
//
//	depth > 1000
//	admitted_total >= 1
//	popped_total < 10
//	rejected_total > 50
//	empty_pops_total > 100
//
// Returns (fires bool, triggering value float64).
// Returns (false, 0) if the expression cannot be parsed or the field is unknown.
func evalCondition(cond string, s store.Stats) (bool, float64) {
	parts := strings.Fields(cond)
	if len(parts) != 3 {
		return false, 0
	}
	field, op, rhs := parts[0], parts[1], parts[2]

	v, ok := numericField(field, s)
	if !ok {
		return false, 0
	}
	threshold, err := strconv.ParseFloat(rhs, 64)
	if err != nil {
		return false, 0
	}
	return compareFloat(v, op, threshold), v
}

// numericField maps a field name to its value in the statistics.
func numericField(field string, s store.Stats) (float64, bool) {
	switch field {
	case "depth":
		return float64(s.Depth), true
	case "admitted_total":
		return float64(s.Admitted), true
	case "popped_total":
		return float64(s.Popped), true
	case "rejected_total":
		return float64(s.RejectedTotal()), true
	case "empty_pops_total":
		return float64(s.EmptyPops), true
	default:
		return 0, false
	}
}

// compareFloat applies a comparison operator to two float64 values.
func compareFloat(v float64, op string, threshold float64) bool {
	switch op {
	case ">":
		return v > threshold
	case ">=":
		return v >= threshold
	case "<":
		return v < threshold
	case "<=":
		return v <= threshold
	case "==":
		return v == threshold
	default:
		return false
	}
}
