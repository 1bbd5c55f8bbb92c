package filters

import (
	"strings"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// Condition is one compiled filter entry.
type Condition[T any] struct {
	Field    Field[T]
	Operator Operator
	Values   []any
}

// Matches evaluates the condition against record. Null attributes never match.
func (c Condition[T]) Matches(record T) bool {
	value, present := c.Field.Value(record)
	if !present {
		return false
	}
	kind := c.Field.Kind
	switch c.Operator {
	case OperatorEq:
		return equal(kind, value, c.Values[0])
	case OperatorLike:
		text, ok := value.(string)
		return ok && strings.Contains(strings.ToLower(text), c.Values[0].(string))
	case OperatorGte:
		return compare(kind, value, c.Values[0]) >= 0
	case OperatorLte:
		return compare(kind, value, c.Values[0]) <= 0
	case OperatorGt:
		return compare(kind, value, c.Values[0]) > 0
	case OperatorLt:
		return compare(kind, value, c.Values[0]) < 0
	case OperatorIn:
		for _, candidate := range c.Values {
			if equal(kind, value, candidate) {
				return true
			}
		}
		return false
	case OperatorBetween:
		return compare(kind, value, c.Values[0]) >= 0 && compare(kind, value, c.Values[1]) <= 0
	}
	return false
}

func (c Condition[T]) expression() (clause.Expression, bool) {
	if c.Field.Column == "" {
		return nil, false
	}
	column := clause.Column{Name: c.Field.Column}
	kind := c.Field.Kind
	switch c.Operator {
	case OperatorEq:
		return clause.Eq{Column: column, Value: sqlValue(kind, c.Values[0])}, true
	case OperatorLike:
		return clause.Expr{SQL: "LOWER(?) LIKE ?", Vars: []any{column, "%" + c.Values[0].(string) + "%"}}, true
	case OperatorGte:
		return clause.Gte{Column: column, Value: sqlValue(kind, c.Values[0])}, true
	case OperatorLte:
		return clause.Lte{Column: column, Value: sqlValue(kind, c.Values[0])}, true
	case OperatorGt:
		return clause.Gt{Column: column, Value: sqlValue(kind, c.Values[0])}, true
	case OperatorLt:
		return clause.Lt{Column: column, Value: sqlValue(kind, c.Values[0])}, true
	case OperatorIn:
		values := make([]any, 0, len(c.Values))
		for _, value := range c.Values {
			values = append(values, sqlValue(kind, value))
		}
		return clause.IN{Column: column, Values: values}, true
	case OperatorBetween:
		return clause.Expr{
			SQL:  "? BETWEEN ? AND ?",
			Vars: []any{column, sqlValue(kind, c.Values[0]), sqlValue(kind, c.Values[1])},
		}, true
	}
	return nil, false
}

// Predicate is the AND of every condition that survived compilation. The zero
// value has no conditions and matches every record.
type Predicate[T any] struct {
	conditions []Condition[T]
}

// Len reports how many filter entries survived compilation.
func (p Predicate[T]) Len() int {
	return len(p.conditions)
}

// Conditions returns a copy of the compiled conditions in key order.
func (p Predicate[T]) Conditions() []Condition[T] {
	return append([]Condition[T](nil), p.conditions...)
}

// Match reports whether record satisfies every condition.
func (p Predicate[T]) Match(record T) bool {
	for _, condition := range p.conditions {
		if !condition.Matches(record) {
			return false
		}
	}
	return true
}

// Filter returns the records that satisfy the predicate, preserving order.
func (p Predicate[T]) Filter(records []T) []T {
	matched := make([]T, 0, len(records))
	for _, record := range records {
		if p.Match(record) {
			matched = append(matched, record)
		}
	}
	return matched
}

// Scope renders the column-backed conditions as a gorm WHERE clause.
// Conditions on fields without a column are not pushed down.
func (p Predicate[T]) Scope() func(*gorm.DB) *gorm.DB {
	expressions := make([]clause.Expression, 0, len(p.conditions))
	for _, condition := range p.conditions {
		if expression, ok := condition.expression(); ok {
			expressions = append(expressions, expression)
		}
	}
	return func(tx *gorm.DB) *gorm.DB {
		if len(expressions) == 0 {
			return tx
		}
		return tx.Clauses(clause.Where{Exprs: expressions})
	}
}
