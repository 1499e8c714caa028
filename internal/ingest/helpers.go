package ingest

import (
	"strings"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"
)

// normalizeSpace collapses multiple spaces into one and trims the string.
func normalizeSpace(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

// cleanText normalizes whitespace (alias for normalizeSpace)
func cleanText(s string) string {
	return normalizeSpace(s)
}

// titleCase upper-cases the first letter of every word and lower-cases the rest.
// Casers carry state, so a fresh one is built per call.
func titleCase(s string) string {
	return cases.Title(language.English).String(s)
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}

func optionalString(s string) *string {
	return &s
}
