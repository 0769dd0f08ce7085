// Package alias stores virtual model aliases created through the Ollama
// model-management API and persists them across restarts.
package alias

import "strings"

// CanonicalName normalizes an Ollama model reference for lookups. A trailing
// ":latest" is dropped, as is a trailing numeric ":tag" such as ":7" in
// "llama:7". A numeric tag with nothing before the colon is left alone.
func CanonicalName(name string) string {
	if name == "" {
		return name
	}
	trimmed := name
	if pos := strings.LastIndex(trimmed, ":latest"); pos >= 0 {
		trimmed = trimmed[:pos]
	}
	if colon := strings.LastIndex(trimmed, ":"); colon > 0 {
		suffix := trimmed[colon+1:]
		if suffix != "" && isAllDigits(suffix) {
			return trimmed[:colon]
		}
	}
	return trimmed
}

func isAllDigits(s string) bool {
	for _, c := range s {
		if c < '0' || c > '9' {
			return false
		}
	}
	return true
}
