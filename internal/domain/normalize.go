package domain

import "strings"

// locationAliases maps common alternate spellings to canonical city names.
// Static configuration: extending it is a code change, not a learned mapping.
var locationAliases = map[string]string{
	"bangalore": "bengaluru",
	"bombay":    "mumbai",
	"calcutta":  "kolkata",
	"madras":    "chennai",
	"poona":     "pune",
}

// NormalizeLocation lower-cases a raw location string and resolves known
// aliases. Unmapped values pass through lower-cased. Total; no failure mode.
func NormalizeLocation(raw string) string {
	lower := strings.ToLower(strings.TrimSpace(raw))
	if canonical, ok := locationAliases[lower]; ok {
		return canonical
	}
	return lower
}

// NormalizeDisasterType lower-cases a disaster type. Types have no alias
// table; the extractor already emits a small controlled vocabulary.
func NormalizeDisasterType(raw string) string {
	return strings.ToLower(strings.TrimSpace(raw))
}
