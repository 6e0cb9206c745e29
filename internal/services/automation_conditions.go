package services

import (
	"encoding/json"
	"fmt"
	"reflect"
	"strings"

	"github.com/spf13/cast"
)

// Supported explicit operators, e.g. {"priority": {"in": ["high", "urgent"]}}.
const (
	opEq       = "eq"
	opNeq      = "neq"
	opGt       = "gt"
	opGte      = "gte"
	opLt       = "lt"
	opLte      = "lte"
	opIn       = "in"
	opContains = "contains"
)

// EvaluateConditions reports whether every declared condition holds for actx.
//
// Empty conditions always match. A key is resolved from the resource first,
// then the metadata; dotted keys walk nested maps. A key that cannot be
// resolved never matches. Plain numeric values are thresholds (actual >=
// expected), lists mean membership, anything else is compared for equality.
// The function is pure.
func EvaluateConditions(conditions map[string]interface{}, actx AutomationContext) bool {
	for key, expected := range conditions {
		actual, ok := resolveConditionKey(key, actx)
		if !ok {
			return false
		}
		if !conditionHolds(actual, expected) {
			return false
		}
	}
	return true
}

func resolveConditionKey(key string, actx AutomationContext) (interface{}, bool) {
	if v, ok := lookupPath(actx.Resource, key); ok {
		return v, true
	}
	return lookupPath(actx.Metadata, key)
}

func lookupPath(m map[string]interface{}, key string) (interface{}, bool) {
	if m == nil {
		return nil, false
	}
	if v, ok := m[key]; ok {
		return v, v != nil
	}
	parts := strings.Split(key, ".")
	if len(parts) == 1 {
		return nil, false
	}
	var cur interface{} = m
	for _, p := range parts {
		next, ok := cur.(map[string]interface{})
		if !ok {
			return nil, false
		}
		cur, ok = next[p]
		if !ok || cur == nil {
			return nil, false
		}
	}
	return cur, true
}

func conditionHolds(actual, expected interface{}) bool {
	switch exp := expected.(type) {
	case map[string]interface{}:
		if len(exp) == 0 {
			return false
		}
		for op, v := range exp {
			if !applyOperator(op, actual, v) {
				return false
			}
		}
		return true
	case []interface{}:
		return applyOperator(opIn, actual, exp)
	default:
		if isNumeric(expected) {
			return applyOperator(opGte, actual, expected)
		}
		return applyOperator(opEq, actual, expected)
	}
}

func applyOperator(op string, actual, expected interface{}) bool {
	switch op {
	case opEq:
		return looseEqual(actual, expected)
	case opNeq:
		return !looseEqual(actual, expected)
	case opGt, opGte, opLt, opLte:
		a, errA := cast.ToFloat64E(actual)
		e, errE := cast.ToFloat64E(expected)
		if errA != nil || errE != nil {
			return false
		}
		switch op {
		case opGt:
			return a > e
		case opGte:
			return a >= e
		case opLt:
			return a < e
		default:
			return a <= e
		}
	case opIn:
		list, ok := expected.([]interface{})
		if !ok {
			return false
		}
		for _, item := range list {
			if looseEqual(actual, item) {
				return true
			}
		}
		return false
	case opContains:
		needle := cast.ToString(expected)
		if list, ok := actual.([]interface{}); ok {
			for _, item := range list {
				if cast.ToString(item) == needle {
					return true
				}
			}
			return false
		}
		return strings.Contains(cast.ToString(actual), needle)
	default:
		// unknown operator fails closed
		return false
	}
}

func isNumeric(v interface{}) bool {
	switch v.(type) {
	case int, int8, int16, int32, int64,
		uint, uint8, uint16, uint32, uint64,
		float32, float64, json.Number:
		return true
	default:
		return false
	}
}

func looseEqual(actual, expected interface{}) bool {
	if isNumeric(expected) {
		a, errA := cast.ToFloat64E(actual)
		e, errE := cast.ToFloat64E(expected)
		return errA == nil && errE == nil && a == e
	}
	if b, ok := expected.(bool); ok {
		a, err := cast.ToBoolE(actual)
		return err == nil && a == b
	}
	if reflect.TypeOf(actual) == reflect.TypeOf(expected) && reflect.DeepEqual(actual, expected) {
		return true
	}
	return fmt.Sprint(actual) == fmt.Sprint(expected)
}
