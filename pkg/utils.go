package pkg

func Filter[T any](items []T, predicate func(T) bool) []T {
	filtered := []T{}
	for _, item := range items {
		if predicate(item) {
			filtered = append(filtered, item)
		}
	}
	return filtered
}

// Converts a value suspected to be a number to an int.
// Decoded json numbers come in as float64 so this shows up all over the code.
func NumToInt(num any) int {
	switch num := num.(type) {
	case int:
		return num
	case int32:
		return int(num)
	case int64:
		return int(num)
	case uint32:
		return int(num)
	case uint64:
		return int(num)
	case float32:
		return int(num)
	case float64:
		return int(num)
	}
	return 0
}

// IsNumber reports whether v is one of the numeric kinds a record can hold.
func IsNumber(v any) bool {
	switch v.(type) {
	case int, int8, int16, int32, int64, uint, uint8, uint16, uint32, uint64, float32, float64:
		return true
	}
	return false
}

// NumToFloat converts any numeric kind to float64. ok is false for non-numbers.
func NumToFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case int:
		return float64(n), true
	case int8:
		return float64(n), true
	case int16:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case uint:
		return float64(n), true
	case uint8:
		return float64(n), true
	case uint16:
		return float64(n), true
	case uint32:
		return float64(n), true
	case uint64:
		return float64(n), true
	case float32:
		return float64(n), true
	case float64:
		return n, true
	}
	return 0, false
}
