// Package cost pulls a monetary cost out of a heterogeneous step
// result envelope.
package cost

import "strconv"

// Extract resolves a non-negative cost from envelope following the
// precedence list cost -> totalCost -> total_cost -> sum(costs) -> 0.
// String numerics are coerced; negatives clamp to 0.
func Extract(envelope map[string]interface{}) float64 {
	for _, key := range []string{"cost", "totalCost", "total_cost"} {
		if v, ok := envelope[key]; ok {
			if f, ok := asFloat(v); ok {
				return clamp(f)
			}
		}
	}

	if raw, ok := envelope["costs"]; ok {
		if m, ok := raw.(map[string]interface{}); ok {
			var sum float64
			for _, v := range m {
				if f, ok := asFloat(v); ok {
					sum += f
				}
			}
			return clamp(sum)
		}
	}

	return 0
}

func asFloat(v interface{}) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case string:
		f, err := strconv.ParseFloat(n, 64)
		if err != nil {
			return 0, false
		}
		return f, true
	default:
		return 0, false
	}
}

func clamp(f float64) float64 {
	if f < 0 {
		return 0
	}
	return f
}
