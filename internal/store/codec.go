package store

import (
	"fmt"
	"strconv"
	"time"

	"github.com/mschirtzinger/bugwarrior/internal/issue"
	"github.com/mschirtzinger/bugwarrior/internal/merge"
	"github.com/mschirtzinger/bugwarrior/internal/uda"
)

// DateParser parses a serialized date value.
type DateParser func(s string) (time.Time, error)

// ParseRFC3339 is the DateParser used by stores that serialize dates as
// RFC3339 strings.
func ParseRFC3339(s string) (time.Time, error) {
	return time.Parse(time.RFC3339Nano, s)
}

// TypeOf returns the declared type of a field, and false for unknown fields.
// List fields report TypeString.
func TypeOf(key string, udas map[string]uda.Field) (uda.Type, bool) {
	if listFields[key] {
		return uda.TypeString, true
	}
	if typ, ok := coreFields[key]; ok {
		return typ, true
	}
	if f, ok := udas[key]; ok {
		return f.Type, true
	}
	return "", false
}

// IsListField reports whether key is a built-in list field.
func IsListField(key string) bool {
	return listFields[key]
}

// DecodeFields converts values decoded from a serialized form back to the
// in-memory representation: dates become time.Time, numerics float64 and
// list fields []string. Unknown keys are kept as decoded so that a task
// never loses data on load.
func DecodeFields(raw map[string]any, udas map[string]uda.Field, parseDate DateParser) (issue.Fields, error) {
	out := make(issue.Fields, len(raw))
	for key, value := range raw {
		if value == nil {
			continue
		}
		if listFields[key] {
			out[key] = merge.ToStrings(value)
			continue
		}

		typ, known := TypeOf(key, udas)
		if !known {
			out[key] = value
			continue
		}

		switch typ {
		case uda.TypeDate:
			s, ok := value.(string)
			if !ok {
				out[key] = value
				continue
			}
			t, err := parseDate(s)
			if err != nil {
				return nil, fmt.Errorf("failed to parse %s: %w", key, err)
			}
			out[key] = t
		case uda.TypeNumeric:
			switch n := value.(type) {
			case float64:
				out[key] = n
			case string:
				f, err := strconv.ParseFloat(n, 64)
				if err != nil {
					return nil, fmt.Errorf("failed to parse %s: %w", key, err)
				}
				out[key] = f
			default:
				out[key] = value
			}
		default:
			out[key] = value
		}
	}
	return out, nil
}

// EncodeFields converts fields to JSON-friendly values, formatting dates
// with format.
func EncodeFields(fields issue.Fields, format string) map[string]any {
	out := make(map[string]any, len(fields))
	for key, value := range fields {
		switch v := value.(type) {
		case nil:
			continue
		case time.Time:
			out[key] = v.UTC().Format(format)
		case int:
			out[key] = float64(v)
		case int64:
			out[key] = float64(v)
		default:
			out[key] = v
		}
	}
	return out
}
