package filters

import (
	"errors"
	"fmt"
	"strings"
)

var (
	errEmptyFieldName    = errors.New("filters: field name is required")
	errMissingAccessor   = errors.New("filters: field accessor is required")
	errDuplicateField    = errors.New("filters: duplicate field")
	errMissingEnumValues = errors.New("filters: enum field requires allowed values")
)

// Field describes one filterable attribute of T. Name may be dotted to address
// a nested attribute ("profile.birthDate"); Column is the SQL column used when the
// predicate is pushed down into the store and may be empty for in-process fields.
type Field[T any] struct {
	Name       string
	Column     string
	Kind       Kind
	EnumValues []string
	// Value returns the attribute in the canonical type for Kind, or false when null.
	Value func(T) (any, bool)
}

// Registry is the static set of fields a filter map may address for T.
type Registry[T any] struct {
	fields map[string]Field[T]
	order  []string
}

// NewRegistry validates the field declarations and indexes them by name.
func NewRegistry[T any](fields ...Field[T]) (*Registry[T], error) {
	registry := &Registry[T]{
		fields: make(map[string]Field[T], len(fields)),
		order:  make([]string, 0, len(fields)),
	}
	for _, field := range fields {
		name := strings.TrimSpace(field.Name)
		if name == "" {
			return nil, errEmptyFieldName
		}
		if field.Value == nil {
			return nil, fmt.Errorf("%w: %s", errMissingAccessor, name)
		}
		if field.Kind == KindEnum && len(field.EnumValues) == 0 {
			return nil, fmt.Errorf("%w: %s", errMissingEnumValues, name)
		}
		if _, exists := registry.fields[name]; exists {
			return nil, fmt.Errorf("%w: %s", errDuplicateField, name)
		}
		field.Name = name
		registry.fields[name] = field
		registry.order = append(registry.order, name)
	}
	return registry, nil
}

// MustNewRegistry is NewRegistry for package-level declarations.
func MustNewRegistry[T any](fields ...Field[T]) *Registry[T] {
	registry, err := NewRegistry(fields...)
	if err != nil {
		panic(err)
	}
	return registry
}

// Lookup resolves a (possibly dotted) field path.
func (r *Registry[T]) Lookup(path string) (Field[T], bool) {
	if r == nil {
		return Field[T]{}, false
	}
	field, ok := r.fields[path]
	return field, ok
}

// Names lists the registered field names in declaration order.
func (r *Registry[T]) Names() []string {
	if r == nil {
		return nil
	}
	return append([]string(nil), r.order...)
}
