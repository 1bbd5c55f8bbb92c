package filters

import (
	"math/big"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Kind enumerates the value types a filterable field can declare.
type Kind int

const (
	KindText Kind = iota
	KindInt
	KindLong
	KindFloat
	KindBool
	KindDecimal
	KindDate
	KindDateTime
	KindUUID
	KindEnum
)

const (
	dateLayout     = "2006-01-02"
	dateTimeLayout = "2006-01-02T15:04:05"
)

var kindNames = map[Kind]string{
	KindText:     "text",
	KindInt:      "int",
	KindLong:     "long",
	KindFloat:    "float",
	KindBool:     "bool",
	KindDecimal:  "decimal",
	KindDate:     "date",
	KindDateTime: "datetime",
	KindUUID:     "uuid",
	KindEnum:     "enum",
}

func (k Kind) String() string {
	if name, ok := kindNames[k]; ok {
		return name
	}
	return "unknown"
}

// Orderable reports whether gt/gte/lt/lte/between apply to the kind.
func (k Kind) Orderable() bool {
	switch k {
	case KindText, KindInt, KindLong, KindFloat, KindDecimal, KindDate, KindDateTime:
		return true
	default:
		return false
	}
}

// cast converts raw into the canonical Go value for the field's kind:
// string, int64, float64, bool, *big.Rat, time.Time or uuid.UUID.
func cast[T any](field Field[T], raw string) (any, bool) {
	switch field.Kind {
	case KindText:
		return raw, true
	case KindInt:
		value, err := strconv.ParseInt(raw, 10, 32)
		if err != nil {
			return nil, false
		}
		return value, true
	case KindLong:
		value, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			return nil, false
		}
		return value, true
	case KindFloat:
		value, err := strconv.ParseFloat(raw, 64)
		if err != nil {
			return nil, false
		}
		return value, true
	case KindBool:
		switch {
		case strings.EqualFold(raw, "true"):
			return true, true
		case strings.EqualFold(raw, "false"):
			return false, true
		}
		return nil, false
	case KindDecimal:
		if strings.Contains(raw, "/") {
			return nil, false
		}
		value, ok := new(big.Rat).SetString(raw)
		if !ok {
			return nil, false
		}
		return value, true
	case KindDate:
		value, err := time.ParseInLocation(dateLayout, raw, time.UTC)
		if err != nil {
			return nil, false
		}
		return value, true
	case KindDateTime:
		if value, err := time.ParseInLocation(dateTimeLayout, raw, time.UTC); err == nil {
			return value, true
		}
		value, err := time.Parse(time.RFC3339Nano, raw)
		if err != nil {
			return nil, false
		}
		return value.UTC(), true
	case KindUUID:
		value, err := uuid.Parse(raw)
		if err != nil {
			return nil, false
		}
		return value, true
	case KindEnum:
		for _, allowed := range field.EnumValues {
			if allowed == raw {
				return raw, true
			}
		}
		return nil, false
	}
	return nil, false
}

// compare orders two canonical values of the same kind.
func compare(kind Kind, left, right any) int {
	switch kind {
	case KindText:
		return strings.Compare(left.(string), right.(string))
	case KindInt, KindLong:
		a, b := left.(int64), right.(int64)
		switch {
		case a < b:
			return -1
		case a > b:
			return 1
		}
		return 0
	case KindFloat:
		a, b := left.(float64), right.(float64)
		switch {
		case a < b:
			return -1
		case a > b:
			return 1
		}
		return 0
	case KindDecimal:
		return left.(*big.Rat).Cmp(right.(*big.Rat))
	case KindDate, KindDateTime:
		return left.(time.Time).Compare(right.(time.Time))
	}
	return 0
}

func equal(kind Kind, left, right any) bool {
	switch kind {
	case KindText, KindEnum:
		return left.(string) == right.(string)
	case KindInt, KindLong, KindFloat, KindDecimal, KindDate, KindDateTime:
		return compare(kind, left, right) == 0
	case KindBool:
		return left.(bool) == right.(bool)
	case KindUUID:
		return left.(uuid.UUID) == right.(uuid.UUID)
	}
	return false
}

// sqlValue adapts canonical values for driver binding.
func sqlValue(kind Kind, value any) any {
	switch kind {
	case KindDecimal:
		floatValue, _ := value.(*big.Rat).Float64()
		return floatValue
	case KindUUID:
		return value.(uuid.UUID).String()
	}
	return value
}
