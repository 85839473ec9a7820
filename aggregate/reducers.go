package aggregate

import (
	"encoding/json"
	"fmt"

	"github.com/DiamondLightSource/odinmirror/errors"
)

// Reducer folds the values collected from a set of resolved leaves into one
// summary value. Reducers are plain function values; behaviour variations
// are different functions, not different types.
type Reducer func(values []any) (any, error)

// Sum adds numeric values. The result is an int64 when every input is an
// integer, float64 otherwise.
func Sum(values []any) (any, error) {
	var total float64
	integral := true
	for _, value := range values {
		number, isInt, err := toNumber(value)
		if err != nil {
			return nil, err
		}
		integral = integral && isInt
		total += number
	}
	if integral {
		return int64(total), nil
	}
	return total, nil
}

// Any returns true if any boolean value is true.
func Any(values []any) (any, error) {
	for _, value := range values {
		b, ok := value.(bool)
		if !ok {
			return nil, fmt.Errorf("%w: expected bool, got %v (%T)", errors.ErrInvalidData, value, value)
		}
		if b {
			return true, nil
		}
	}
	return false, nil
}

// All returns true if every boolean value is true.
func All(values []any) (any, error) {
	for _, value := range values {
		b, ok := value.(bool)
		if !ok {
			return nil, fmt.Errorf("%w: expected bool, got %v (%T)", errors.ErrInvalidData, value, value)
		}
		if !b {
			return false, nil
		}
	}
	return true, nil
}

// Min returns the smallest numeric value.
func Min(values []any) (any, error) {
	return extremum(values, func(candidate, current float64) bool {
		return candidate < current
	})
}

// Max returns the largest numeric value.
func Max(values []any) (any, error) {
	return extremum(values, func(candidate, current float64) bool {
		return candidate > current
	})
}

func extremum(values []any, better func(candidate, current float64) bool) (any, error) {
	if len(values) == 0 {
		return nil, fmt.Errorf("%w: no values to reduce", errors.ErrNoTargets)
	}

	best := values[0]
	bestNumber, _, err := toNumber(best)
	if err != nil {
		return nil, err
	}

	for _, value := range values[1:] {
		number, _, err := toNumber(value)
		if err != nil {
			return nil, err
		}
		if better(number, bestNumber) {
			best = value
			bestNumber = number
		}
	}
	return best, nil
}

// toNumber coerces a value to float64, reporting whether it was integral.
func toNumber(value any) (float64, bool, error) {
	switch v := value.(type) {
	case int:
		return float64(v), true, nil
	case int32:
		return float64(v), true, nil
	case int64:
		return float64(v), true, nil
	case float32:
		return float64(v), false, nil
	case float64:
		return v, false, nil
	case json.Number:
		if i, err := v.Int64(); err == nil {
			return float64(i), true, nil
		}
		f, err := v.Float64()
		if err != nil {
			return 0, false, fmt.Errorf("%w: %v", errors.ErrInvalidData, err)
		}
		return f, false, nil
	default:
		return 0, false, fmt.Errorf("%w: expected number, got %v (%T)", errors.ErrInvalidData, value, value)
	}
}
