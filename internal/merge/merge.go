// Package merge implements the list-merge policies used when a remote
// issue is reconciled with an existing local task.
//
// Both policies operate on a Container rather than a concrete type, so the
// same code merges into a plain issue field map or into a stored task.
// After either call the local and remote containers hold the same list for
// the merged key.
package merge

import (
	"fmt"
	"strings"
)

// Container is the narrow field-access capability the merge policies need.
type Container interface {
	Get(key string) (any, bool)
	Set(key string, value any)
	Has(key string) bool
}

// MergeLeft unions the list stored under key in remote into local.
//
// Every remote item not already present in local is appended to local. With
// hamming set, items that match once surrounding whitespace is trimmed count
// as present ("rough equality"); otherwise only exact matches do. Absent keys
// are treated as empty lists. The merged list is written back to both
// containers. It returns the number of items appended to local.
func MergeLeft(key string, local, remote Container, hamming bool) int {
	merged := ToStrings(get(local, key))
	added := 0

	for _, item := range ToStrings(get(remote, key)) {
		if contains(merged, item, hamming) {
			continue
		}
		merged = append(merged, item)
		added++
	}

	local.Set(key, merged)
	remote.Set(key, clone(merged))
	return added
}

// ReplaceLeft makes the remote list under key authoritative.
//
// Local items are dropped unless they appear in keepItems, in which case
// they survive and are appended after the remote items. Duplicates are
// collapsed. The result is written back to both containers.
func ReplaceLeft(key string, local, remote Container, keepItems []string) {
	result := make([]string, 0)

	for _, item := range ToStrings(get(remote, key)) {
		if !contains(result, item, false) {
			result = append(result, item)
		}
	}

	for _, item := range ToStrings(get(local, key)) {
		if !contains(keepItems, item, false) {
			continue
		}
		if !contains(result, item, false) {
			result = append(result, item)
		}
	}

	local.Set(key, result)
	remote.Set(key, clone(result))
}

// ToStrings normalizes a list-valued field into a fresh []string.
// A nil value yields an empty, non-nil slice.
func ToStrings(v any) []string {
	switch list := v.(type) {
	case nil:
		return []string{}
	case []string:
		return clone(list)
	case []any:
		out := make([]string, 0, len(list))
		for _, item := range list {
			out = append(out, fmt.Sprint(item))
		}
		return out
	case string:
		if list == "" {
			return []string{}
		}
		return []string{list}
	default:
		return []string{fmt.Sprint(list)}
	}
}

// RoughlyEqual reports whether two list items match once surrounding
// whitespace is ignored.
func RoughlyEqual(a, b string) bool {
	return strings.TrimSpace(a) == strings.TrimSpace(b)
}

// Equal reports whether two list values hold the same items in the same order.
func Equal(a, b any) bool {
	left, right := ToStrings(a), ToStrings(b)
	if len(left) != len(right) {
		return false
	}
	for i := range left {
		if left[i] != right[i] {
			return false
		}
	}
	return true
}

func get(c Container, key string) any {
	if !c.Has(key) {
		return nil
	}
	v, _ := c.Get(key)
	return v
}

func contains(list []string, item string, hamming bool) bool {
	for _, existing := range list {
		if existing == item {
			return true
		}
		if hamming && RoughlyEqual(existing, item) {
			return true
		}
	}
	return false
}

func clone(list []string) []string {
	out := make([]string, len(list))
	copy(out, list)
	return out
}
