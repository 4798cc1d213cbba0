// Package uda derives the user-defined attribute (custom field) schema the
// active connectors require and registers it with the task store.
//
// A store may reject or silently drop a field it does not know about, so the
// schema must be registered before any task carrying those fields is saved.
package uda

import (
	"context"
	"errors"
	"fmt"
	"sort"
)

// Type is the value type of a custom field.
type Type string

const (
	TypeString  Type = "string"
	TypeNumeric Type = "numeric"
	TypeDate    Type = "date"
)

// IsValid reports whether t is a supported UDA type.
func (t Type) IsValid() bool {
	switch t {
	case TypeString, TypeNumeric, TypeDate:
		return true
	}
	return false
}

// ErrConflictingUDA is returned when two connectors declare the same key
// with different types.
var ErrConflictingUDA = errors.New("conflicting UDA declarations")

// Field is one custom field declaration.
type Field struct {
	Key   string `json:"key" toml:"key"`
	Type  Type   `json:"type" toml:"type"`
	Label string `json:"label" toml:"label"`
}

// Declarer is anything that statically declares custom fields, typically a
// connector definition.
type Declarer interface {
	UDAs() []Field
}

// Registrar is the store side hook that records custom field declarations.
type Registrar interface {
	RegisterUDAs(ctx context.Context, fields []Field) error
}

// Build collects the fields declared by decls and returns them sorted by key.
// Identical declarations from several connectors fold into one entry.
func Build(decls []Declarer) ([]Field, error) {
	byKey := make(map[string]Field)

	for _, d := range decls {
		for _, f := range d.UDAs() {
			if f.Key == "" {
				return nil, fmt.Errorf("uda with empty key")
			}
			if !f.Type.IsValid() {
				return nil, fmt.Errorf("uda %s: invalid type %q", f.Key, f.Type)
			}
			if existing, ok := byKey[f.Key]; ok {
				if existing.Type != f.Type {
					return nil, fmt.Errorf("uda %s declared as %s and %s: %w",
						f.Key, existing.Type, f.Type, ErrConflictingUDA)
				}
				continue
			}
			byKey[f.Key] = f
		}
	}

	fields := make([]Field, 0, len(byKey))
	for _, f := range byKey {
		fields = append(fields, f)
	}
	sort.Slice(fields, func(i, j int) bool { return fields[i].Key < fields[j].Key })
	return fields, nil
}

// Ensure registers fields with r. Stores treat re-registering an identical
// field as a no-op.
func Ensure(ctx context.Context, r Registrar, fields []Field) error {
	if len(fields) == 0 {
		return nil
	}
	if err := r.RegisterUDAs(ctx, fields); err != nil {
		return fmt.Errorf("failed to register UDAs: %w", err)
	}
	return nil
}

// Strings renders fields as taskrc configuration lines, sorted.
func Strings(fields []Field) []string {
	lines := make([]string, 0, 2*len(fields))
	for _, f := range fields {
		lines = append(lines,
			fmt.Sprintf("uda.%s.type=%s", f.Key, f.Type),
			fmt.Sprintf("uda.%s.label=%s", f.Key, f.Label),
		)
	}
	sort.Strings(lines)
	return lines
}

// Index returns fields keyed by name.
func Index(fields []Field) map[string]Field {
	idx := make(map[string]Field, len(fields))
	for _, f := range fields {
		idx[f.Key] = f
	}
	return idx
}

// List adapts a plain slice to Declarer.
type List []Field

// UDAs implements Declarer.
func (l List) UDAs() []Field { return l }
