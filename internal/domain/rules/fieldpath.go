package rules

import "strings"

// ExtractValues resolves a canonical field path against a decoded resource
// and returns every value at that path in document order. Arrays are
// flattened at each step, so "name.given" yields all given names across all
// name entries; a "[*]" marker documents repetition but traversal is the
// same either way. A missing path yields an empty collection.
func ExtractValues(resource map[string]interface{}, path string) []interface{} {
	if resource == nil || path == "" {
		return nil
	}
	current := []interface{}{resource}
	for _, seg := range strings.Split(path, ".") {
		field := strings.TrimSuffix(seg, "[*]")
		var next []interface{}
		for _, item := range current {
			m, ok := item.(map[string]interface{})
			if !ok {
				continue
			}
			val, ok := m[field]
			if !ok || val == nil {
				continue
			}
			if arr, isArr := val.([]interface{}); isArr {
				next = append(next, arr...)
			} else {
				next = append(next, val)
			}
		}
		if len(next) == 0 {
			return nil
		}
		current = next
	}
	return current
}

// CountAt returns the cardinality of the element at path: the number of
// array members for a repeating element, 1 for a present scalar, 0 when
// absent. The final segment is not flattened, so array-length rules see the
// raw array size.
func CountAt(resource map[string]interface{}, path string) int {
	segments := strings.Split(path, ".")
	parents := []interface{}{resource}
	if len(segments) > 1 {
		parents = ExtractValues(resource, strings.Join(segments[:len(segments)-1], "."))
	}
	field := strings.TrimSuffix(segments[len(segments)-1], "[*]")
	count := 0
	for _, item := range parents {
		m, ok := item.(map[string]interface{})
		if !ok {
			continue
		}
		val, ok := m[field]
		if !ok || val == nil {
			continue
		}
		if arr, isArr := val.([]interface{}); isArr {
			count += len(arr)
		} else {
			count++
		}
	}
	return count
}

// ValuePresent reports whether a collection holds at least one non-empty
// value. Empty strings, empty arrays and empty objects do not count as
// present.
func ValuePresent(values []interface{}) bool {
	for _, v := range values {
		switch typed := v.(type) {
		case nil:
			continue
		case string:
			if typed != "" {
				return true
			}
		case []interface{}:
			if len(typed) > 0 {
				return true
			}
		case map[string]interface{}:
			if len(typed) > 0 {
				return true
			}
		default:
			return true
		}
	}
	return false
}
