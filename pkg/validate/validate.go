// Package validate holds the predicate checks every trainer applies to
// user-supplied hyperparameters before constructing a model.
//
// Hyperparameters arrive through a JSON boundary, so numeric values are
// usually float64 even when the parameter is conceptually an int. The As*
// helpers perform that coercion once; the predicate checks then return
// ValidationErrors whose messages name the offending condition.
package validate

import (
	"math"

	"github.com/flowml/flowml/pkg/errors"
)

// AsInt coerces a JSON-decoded value to int. float64 values are accepted
// only when they carry no fractional part.
func AsInt(name string, v interface{}) (int, error) {
	switch x := v.(type) {
	case int:
		return x, nil
	case int64:
		return int(x), nil
	case float64:
		if x != math.Trunc(x) {
			return 0, errors.NewValidationError(name, "must be an integer", v)
		}
		return int(x), nil
	case float32:
		if float64(x) != math.Trunc(float64(x)) {
			return 0, errors.NewValidationError(name, "must be an integer", v)
		}
		return int(x), nil
	default:
		return 0, errors.NewValidationError(name, "must be an integer", v)
	}
}

// AsFloat coerces a JSON-decoded value to float64.
func AsFloat(name string, v interface{}) (float64, error) {
	switch x := v.(type) {
	case float64:
		return x, nil
	case float32:
		return float64(x), nil
	case int:
		return float64(x), nil
	case int64:
		return float64(x), nil
	default:
		return 0, errors.NewValidationError(name, "must be a number", v)
	}
}

// AsBool coerces a JSON-decoded value to bool.
func AsBool(name string, v interface{}) (bool, error) {
	if b, ok := v.(bool); ok {
		return b, nil
	}
	return false, errors.NewValidationError(name, "must be a boolean", v)
}

// AsString coerces a JSON-decoded value to string.
func AsString(name string, v interface{}) (string, error) {
	if s, ok := v.(string); ok {
		return s, nil
	}
	return "", errors.NewValidationError(name, "must be a string", v)
}

// PositiveInt checks that v is an integer greater than zero.
func PositiveInt(name string, v interface{}) (int, error) {
	n, err := AsInt(name, v)
	if err != nil {
		return 0, err
	}
	if n <= 0 {
		return 0, errors.NewValidationError(name, "must be a positive integer", v)
	}
	return n, nil
}

// NonNegativeInt checks that v is an integer greater than or equal to zero.
func NonNegativeInt(name string, v interface{}) (int, error) {
	n, err := AsInt(name, v)
	if err != nil {
		return 0, err
	}
	if n < 0 {
		return 0, errors.NewValidationError(name, "must be a non-negative integer", v)
	}
	return n, nil
}

// PositiveFloat checks that v is a number greater than zero.
func PositiveFloat(name string, v interface{}) (float64, error) {
	f, err := AsFloat(name, v)
	if err != nil {
		return 0, err
	}
	if f <= 0 || math.IsNaN(f) || math.IsInf(f, 0) {
		return 0, errors.NewValidationError(name, "must be a positive number", v)
	}
	return f, nil
}

// Probability checks that v is a number in [0, 1].
func Probability(name string, v interface{}) (float64, error) {
	f, err := AsFloat(name, v)
	if err != nil {
		return 0, err
	}
	if f < 0 || f > 1 || math.IsNaN(f) {
		return 0, errors.NewValidationError(name, "must be a probability in [0, 1]", v)
	}
	return f, nil
}

// IntInRange checks that v is an integer in [min, max].
func IntInRange(name string, v interface{}, min, max int) (int, error) {
	n, err := AsInt(name, v)
	if err != nil {
		return 0, err
	}
	if n < min || n > max {
		return 0, errors.Newf("flowml: validation failed for parameter '%s': must be an integer in [%d, %d] (got: %v)", name, min, max, v)
	}
	return n, nil
}

// FloatInRange checks that v is a number in [min, max].
func FloatInRange(name string, v interface{}, min, max float64) (float64, error) {
	f, err := AsFloat(name, v)
	if err != nil {
		return 0, err
	}
	if f < min || f > max || math.IsNaN(f) {
		return 0, errors.Newf("flowml: validation failed for parameter '%s': must be a number in [%g, %g] (got: %v)", name, min, max, v)
	}
	return f, nil
}

// OneOf checks that v is a string drawn from the allowed set.
func OneOf(name string, v interface{}, allowed ...string) (string, error) {
	s, err := AsString(name, v)
	if err != nil {
		return "", err
	}
	for _, a := range allowed {
		if s == a {
			return s, nil
		}
	}
	return "", errors.NewValidationError(name, "must be one of the allowed options", v)
}
