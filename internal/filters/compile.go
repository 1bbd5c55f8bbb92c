package filters

import (
	"sort"
	"strings"
)

// Operator names the comparison encoded in the key suffix.
type Operator string

const (
	OperatorEq      Operator = "eq"
	OperatorLike    Operator = "like"
	OperatorGte     Operator = "gte"
	OperatorLte     Operator = "lte"
	OperatorGt      Operator = "gt"
	OperatorLt      Operator = "lt"
	OperatorIn      Operator = "in"
	OperatorBetween Operator = "between"
)

// Compile translates "<field>_<operator>" keys into an AND of typed conditions.
//
// Entries that cannot be compiled are dropped, never reported: a key without an
// underscore, an unknown field or operator, an operator the field's kind does not
// support, or a value that does not cast to the field's kind. Callers that pass
// user input straight through rely on this; do not turn it into validation.
func Compile[T any](registry *Registry[T], raw map[string]string) Predicate[T] {
	keys := make([]string, 0, len(raw))
	for key := range raw {
		keys = append(keys, key)
	}
	sort.Strings(keys)

	conditions := make([]Condition[T], 0, len(keys))
	for _, key := range keys {
		condition, ok := compileEntry(registry, key, raw[key])
		if ok {
			conditions = append(conditions, condition)
		}
	}
	return Predicate[T]{conditions: conditions}
}

func compileEntry[T any](registry *Registry[T], key, value string) (Condition[T], bool) {
	path, operatorName, found := strings.Cut(key, "_")
	if !found {
		return Condition[T]{}, false
	}
	field, ok := registry.Lookup(path)
	if !ok {
		return Condition[T]{}, false
	}

	operator := Operator(operatorName)
	switch operator {
	case OperatorEq:
		castValue, ok := cast(field, value)
		if !ok {
			return Condition[T]{}, false
		}
		return Condition[T]{Field: field, Operator: operator, Values: []any{castValue}}, true
	case OperatorLike:
		if field.Kind != KindText {
			return Condition[T]{}, false
		}
		return Condition[T]{Field: field, Operator: operator, Values: []any{strings.ToLower(value)}}, true
	case OperatorGte, OperatorLte, OperatorGt, OperatorLt:
		if !field.Kind.Orderable() {
			return Condition[T]{}, false
		}
		castValue, ok := cast(field, value)
		if !ok {
			return Condition[T]{}, false
		}
		return Condition[T]{Field: field, Operator: operator, Values: []any{castValue}}, true
	case OperatorIn:
		values := make([]any, 0)
		for _, element := range strings.Split(value, ",") {
			if castValue, ok := cast(field, strings.TrimSpace(element)); ok {
				values = append(values, castValue)
			}
		}
		if len(values) == 0 {
			return Condition[T]{}, false
		}
		return Condition[T]{Field: field, Operator: operator, Values: values}, true
	case OperatorBetween:
		if !field.Kind.Orderable() {
			return Condition[T]{}, false
		}
		bounds := strings.Split(value, ",")
		if len(bounds) != 2 {
			return Condition[T]{}, false
		}
		lower, lowerOK := cast(field, strings.TrimSpace(bounds[0]))
		upper, upperOK := cast(field, strings.TrimSpace(bounds[1]))
		if !lowerOK || !upperOK {
			return Condition[T]{}, false
		}
		// Bounds are kept as given; a reversed range matches nothing.
		return Condition[T]{Field: field, Operator: operator, Values: []any{lower, upper}}, true
	}
	return Condition[T]{}, false
}
