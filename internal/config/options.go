package config

import (
	"fmt"
	"strconv"
	"strings"
)

// TargetOptions holds the connector-specific keys of a target section.
type TargetOptions map[string]any

// String returns the string option key, or def when unset.
func (o TargetOptions) String(key, def string) string {
	v, ok := o[key]
	if !ok || v == nil {
		return def
	}
	if s, ok := v.(string); ok {
		return s
	}
	return fmt.Sprint(v)
}

// Bool returns the boolean option key, or def when unset. String values
// such as "true" or "False" are accepted since environment overrides
// arrive as strings.
func (o TargetOptions) Bool(key string, def bool) (bool, error) {
	v, ok := o[key]
	if !ok || v == nil {
		return def, nil
	}
	switch b := v.(type) {
	case bool:
		return b, nil
	case string:
		parsed, err := strconv.ParseBool(strings.TrimSpace(b))
		if err != nil {
			return false, fmt.Errorf("option %s: %w", key, err)
		}
		return parsed, nil
	}
	return false, fmt.Errorf("option %s: expected bool, got %T", key, v)
}

// Strings returns the list option key. A single string is split on commas.
func (o TargetOptions) Strings(key string) []string {
	switch v := o[key].(type) {
	case []string:
		return v
	case []any:
		out := make([]string, 0, len(v))
		for _, item := range v {
			out = append(out, fmt.Sprint(item))
		}
		return out
	case string:
		var out []string
		for _, part := range strings.Split(v, ",") {
			if part = strings.TrimSpace(part); part != "" {
				out = append(out, part)
			}
		}
		return out
	}
	return nil
}

// Require returns an error naming key when it is unset or empty.
func (o TargetOptions) Require(keys ...string) error {
	for _, key := range keys {
		v, ok := o[key]
		if !ok || v == nil || v == "" {
			return fmt.Errorf("option %s is required: %w", key, ErrInvalid)
		}
	}
	return nil
}
