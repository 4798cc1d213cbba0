package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/mschirtzinger/bugwarrior/internal/issue"
	"github.com/mschirtzinger/bugwarrior/internal/uda"
)

// Store is the local task database the sync engine reconciles into.
type Store interface {
	// Load enumerates every task in the store.
	Load(ctx context.Context) ([]*Task, error)

	// Save applies one task mutation atomically. A task with an empty UUID
	// is created and receives its UUID, ID and Entry from the store.
	Save(ctx context.Context, t *Task) error

	// RegisterUDAs records custom field declarations. Registering an
	// identical field again is a no-op.
	RegisterUDAs(ctx context.Context, fields []uda.Field) error

	// Path identifies the store configuration; the sync lock is keyed by it.
	Path() string
}

// Errors returned by Save. Callers classify them with errors.Is.
var (
	// ErrUnknownField is returned when a task carries a field that is
	// neither a core field nor a registered UDA.
	ErrUnknownField = errors.New("unknown field")

	// ErrInvalidValue is returned when a field value does not match the
	// declared type.
	ErrInvalidValue = errors.New("invalid field value")

	// ErrNotFound is returned when updating a task the store does not have.
	ErrNotFound = errors.New("task not found")
)

// coreFields are the built-in task fields every store accepts without a UDA
// declaration.
var coreFields = map[string]uda.Type{
	issue.FieldDescription: uda.TypeString,
	issue.FieldProject:     uda.TypeString,
	issue.FieldPriority:    uda.TypeString,
	issue.FieldDue:         uda.TypeDate,
	issue.FieldScheduled:   uda.TypeDate,
	issue.FieldWait:        uda.TypeDate,
	issue.FieldUntil:       uda.TypeDate,
}

// listFields are the built-in list-valued fields.
var listFields = map[string]bool{
	issue.FieldTags:        true,
	issue.FieldAnnotations: true,
}

// ValidateFields checks every field of t against the core field set and the
// registered UDAs.
func ValidateFields(t *Task, udas map[string]uda.Field) error {
	for key, value := range t.Fields {
		if listFields[key] {
			switch value.(type) {
			case nil, []string, []any:
				continue
			default:
				return fmt.Errorf("%s must be a list, got %T: %w", key, value, ErrInvalidValue)
			}
		}

		typ, ok := coreFields[key]
		if !ok {
			f, registered := udas[key]
			if !registered {
				return fmt.Errorf("%s: %w", key, ErrUnknownField)
			}
			typ = f.Type
		}

		if err := checkType(key, typ, value); err != nil {
			return err
		}
	}
	return nil
}

func checkType(key string, typ uda.Type, value any) error {
	if value == nil {
		return nil
	}
	switch typ {
	case uda.TypeString:
		if _, ok := value.(string); ok {
			return nil
		}
	case uda.TypeNumeric:
		switch value.(type) {
		case int, int64, float64:
			return nil
		}
	case uda.TypeDate:
		if _, ok := value.(time.Time); ok {
			return nil
		}
	}
	return fmt.Errorf("%s expects %s, got %T: %w", key, typ, value, ErrInvalidValue)
}
