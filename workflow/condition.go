package workflow

import (
	"fmt"
	"reflect"
	"strings"

	"github.com/certflow/certflow/types"
)

// Operator is a condition comparison operator.
type Operator string

const (
	OpEq       Operator = "eq"
	OpNe       Operator = "ne"
	OpGt       Operator = "gt"
	OpLt       Operator = "lt"
	OpIn       Operator = "in"
	OpContains Operator = "contains"
)

// Condition compares a field of the execution data bag against a value.
// Field uses dotted paths into nested maps, e.g. "analysis.overallStatus".
type Condition struct {
	Field    string   `json:"field" yaml:"field"`
	Operator Operator `json:"operator" yaml:"operator"`
	Value    any      `json:"value" yaml:"value"`
}

// Validate rejects empty fields and unknown operators.
func (c Condition) Validate() error {
	if c.Field == "" {
		return types.NewValidationError("condition field is required")
	}
	switch c.Operator {
	case OpEq, OpNe, OpGt, OpLt, OpIn, OpContains:
		return nil
	default:
		return types.NewValidationError(
			fmt.Sprintf("unknown condition operator %q", c.Operator))
	}
}

// Evaluate resolves the field against data and applies the operator. A
// missing field evaluates to false rather than an error, so conditions on
// not-yet-produced values simply skip their step.
func (c Condition) Evaluate(data map[string]any) bool {
	actual, ok := resolvePath(data, c.Field)
	if !ok {
		return false
	}

	switch c.Operator {
	case OpEq:
		return looseEqual(actual, c.Value)
	case OpNe:
		return !looseEqual(actual, c.Value)
	case OpGt:
		cmp, ok := compareOrdered(actual, c.Value)
		return ok && cmp > 0
	case OpLt:
		cmp, ok := compareOrdered(actual, c.Value)
		return ok && cmp < 0
	case OpIn:
		return containsElement(c.Value, actual)
	case OpContains:
		return containsValue(actual, c.Value)
	}
	return false
}

// resolvePath walks dotted segments through nested map[string]any values.
func resolvePath(data map[string]any, path string) (any, bool) {
	segments := strings.Split(path, ".")
	var current any = data
	for _, seg := range segments {
		m, ok := current.(map[string]any)
		if !ok {
			return nil, false
		}
		current, ok = m[seg]
		if !ok {
			return nil, false
		}
	}
	return current, true
}

// looseEqual compares with numeric widening so that an int produced by a
// handler equals the float64 a JSON payload decodes to.
func looseEqual(a, b any) bool {
	if af, aok := toFloat(a); aok {
		if bf, bok := toFloat(b); bok {
			return af == bf
		}
		return false
	}
	return reflect.DeepEqual(a, b)
}

// compareOrdered returns -1, 0 or 1 for numbers and strings; the second
// result is false for incomparable pairs.
func compareOrdered(a, b any) (int, bool) {
	if af, aok := toFloat(a); aok {
		bf, bok := toFloat(b)
		if !bok {
			return 0, false
		}
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

// containsElement reports whether collection holds a member loosely equal
// to elem. Collections are slices of any element type.
func containsElement(collection, elem any) bool {
	rv := reflect.ValueOf(collection)
	if !rv.IsValid() || (rv.Kind() != reflect.Slice && rv.Kind() != reflect.Array) {
		return false
	}
	for i := 0; i < rv.Len(); i++ {
		if looseEqual(rv.Index(i).Interface(), elem) {
			return true
		}
	}
	return false
}

// containsValue implements the contains operator: substring match for
// strings, membership for slices.
func containsValue(actual, value any) bool {
	if s, ok := actual.(string); ok {
		sub, ok := value.(string)
		return ok && strings.Contains(s, sub)
	}
	return containsElement(actual, value)
}

func toFloat(v any) (float64, bool) {
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
	default:
		return 0, false
	}
}
