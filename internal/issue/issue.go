// Package issue defines the canonical remote issue record produced by
// service connectors and the fingerprint that links it to a local task.
package issue

import (
	"crypto/sha256"
	"errors"
	"fmt"
	"hash"
	"strconv"
	"strings"
	"time"
)

// ErrMissingIdentity is returned when a record lacks one of the identity
// fields its connector declares.
var ErrMissingIdentity = errors.New("missing identity field")

// Well-known field names shared by every connector and store.
const (
	FieldDescription = "description"
	FieldProject     = "project"
	FieldPriority    = "priority"
	FieldTags        = "tags"
	FieldAnnotations = "annotations"
	FieldDue         = "due"
	FieldScheduled   = "scheduled"
	FieldWait        = "wait"
	FieldUntil       = "until"
)

// Issue is one normalized record emitted by a connector.
type Issue struct {
	// Target is the configured target name the record came from.
	Target string
	// Service is the connector type, e.g. "github".
	Service string
	// Fields holds the task field values for this issue.
	Fields Fields
}

// New returns an issue with an empty field map.
func New(target, service string) *Issue {
	return &Issue{Target: target, Service: service, Fields: Fields{}}
}

// Fields maps a task field name to its value. Values are string, float64,
// int, time.Time or []string.
type Fields map[string]any

// Get implements merge.Container.
func (f Fields) Get(key string) (any, bool) {
	v, ok := f[key]
	return v, ok
}

// Set implements merge.Container.
func (f Fields) Set(key string, value any) {
	f[key] = value
}

// Has implements merge.Container.
func (f Fields) Has(key string) bool {
	_, ok := f[key]
	return ok
}

// Clone returns a shallow copy with list values copied.
func (f Fields) Clone() Fields {
	out := make(Fields, len(f))
	for k, v := range f {
		if list, ok := v.([]string); ok {
			cp := make([]string, len(list))
			copy(cp, list)
			v = cp
		}
		out[k] = v
	}
	return out
}

// Getter is the read side of a field container.
type Getter interface {
	Get(key string) (any, bool)
}

// Fingerprint is the deterministic identity key of an issue or task.
type Fingerprint string

// ComputeFingerprint derives the fingerprint of a record from the identity
// fields declared by its service connector, in declared order.
//
// The same function is applied to stored tasks, so a task matches an issue
// exactly when both carry equal identity values for the same service.
func ComputeFingerprint(service string, identity []string, fields Getter) (Fingerprint, error) {
	if len(identity) == 0 {
		return "", fmt.Errorf("service %s declares no identity fields: %w", service, ErrMissingIdentity)
	}

	h := sha256.New()
	w := hashFieldWriter{h}
	w.str(service)

	for _, key := range identity {
		v, ok := fields.Get(key)
		if !ok {
			return "", fmt.Errorf("%s: %w", key, ErrMissingIdentity)
		}
		s := FormatValue(v)
		if s == "" {
			return "", fmt.Errorf("%s is empty: %w", key, ErrMissingIdentity)
		}
		w.str(s)
	}

	return Fingerprint(fmt.Sprintf("%s:%x", service, h.Sum(nil))), nil
}

// FormatValue renders a scalar field value canonically. Times are rendered
// in UTC RFC3339 and whole floats without a fractional part, so that values
// read back from a store hash identically to freshly fetched ones.
func FormatValue(v any) string {
	switch val := v.(type) {
	case nil:
		return ""
	case string:
		return val
	case int:
		return strconv.Itoa(val)
	case int64:
		return strconv.FormatInt(val, 10)
	case float64:
		return strconv.FormatFloat(val, 'f', -1, 64)
	case time.Time:
		if val.IsZero() {
			return ""
		}
		return val.UTC().Format(time.RFC3339)
	case []string:
		return strings.Join(val, "\x1f")
	default:
		return fmt.Sprint(val)
	}
}

// hashFieldWriter writes values followed by a null separator so that
// adjacent fields cannot run together.
type hashFieldWriter struct {
	h hash.Hash
}

func (w hashFieldWriter) str(s string) {
	w.h.Write([]byte(s))
	w.h.Write([]byte{0})
}
