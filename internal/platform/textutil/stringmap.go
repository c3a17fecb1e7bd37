// Package textutil holds small text helpers shared across services.
package textutil

import "strings"

// NormalizeStringMap returns a copy with keys and values trimmed. Entries
// whose key trims to nothing are dropped; a map with no surviving entries
// comes back as nil so callers can store it directly.
func NormalizeStringMap(values map[string]string) map[string]string {
	if len(values) == 0 {
		return nil
	}
	normalized := make(map[string]string, len(values))
	for key, value := range values {
		key = strings.TrimSpace(key)
		if key == "" {
			continue
		}
		normalized[key] = strings.TrimSpace(value)
	}
	if len(normalized) == 0 {
		return nil
	}
	return normalized
}
