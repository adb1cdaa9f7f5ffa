// Package strings provides the tokenizing and de-duplication helpers used when
// turning names and queries into search tokens.
package strings

import (
	"strings"
)

// Words splits s on whitespace and lowercases each word.
//
// Example:
//
//	Words("  Jane  SMITH ")
//	// Returns: []string{"jane", "smith"}
func Words(s string) []string {
	fields := strings.Fields(s)
	for i, f := range fields {
		fields[i] = strings.ToLower(f)
	}
	return fields
}

// DedupeAndTrimLower trims and lowercases each element, dropping empties and
// duplicates. Order is preserved.
//
// Example:
//
//	DedupeAndTrimLower([]string{"  FOO ", "bar", "Foo"})
//	// Returns: []string{"foo", "bar"}
func DedupeAndTrimLower(values []string) []string {
	if len(values) == 0 {
		return values
	}

	seen := make(map[string]struct{}, len(values))
	result := make([]string, 0, len(values))

	for _, v := range values {
		trimmed := strings.ToLower(strings.TrimSpace(v))
		if trimmed == "" {
			continue
		}
		if _, ok := seen[trimmed]; !ok {
			seen[trimmed] = struct{}{}
			result = append(result, trimmed)
		}
	}

	return result
}

// DedupeFold removes case-insensitive duplicates, keeping the first-seen
// spelling of each value. Empty and whitespace-only values are dropped.
//
// Example:
//
//	DedupeFold([]string{"Ndapewa", "NDAPEWA", " Iipinge"})
//	// Returns: []string{"Ndapewa", "Iipinge"}
func DedupeFold(values []string) []string {
	if len(values) == 0 {
		return values
	}

	seen := make(map[string]struct{}, len(values))
	result := make([]string, 0, len(values))

	for _, v := range values {
		trimmed := strings.TrimSpace(v)
		if trimmed == "" {
			continue
		}
		key := strings.ToLower(trimmed)
		if _, ok := seen[key]; !ok {
			seen[key] = struct{}{}
			result = append(result, trimmed)
		}
	}

	return result
}
