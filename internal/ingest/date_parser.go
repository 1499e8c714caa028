package ingest

import (
	"strings"
	"time"
)

const isoDate = "2006-01-02"

// normalizeDateLayouts are tried in order. Day-first wins for ambiguous
// slash dates such as 05/03/2024.
var normalizeDateLayouts = []string{
	"2006-1-2",
	"2006/1/2",
	"2/1/2006",
	"1/2/2006",
	"2006-1-2 15:04:05",
	"20060102",
}

// validDateLayouts is the narrower set a stored date field may use.
var validDateLayouts = []string{
	"2006-1-2",
	"2006/1/2",
	"2/1/2006",
	"1/2/2006",
}

func parseWithLayouts(text string, layouts []string) (time.Time, bool) {
	text = strings.TrimSpace(text)
	if text == "" {
		return time.Time{}, false
	}
	for _, layout := range layouts {
		if t, err := time.Parse(layout, text); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}

// formatDate renders any recognised date as YYYY-MM-DD. Unparseable input is
// returned unchanged so the validator can report it.
func formatDate(raw string) string {
	if t, ok := parseWithLayouts(raw, normalizeDateLayouts); ok {
		return t.Format(isoDate)
	}
	return raw
}

// IsValidDate reports whether s uses one of the accepted stored date formats.
func IsValidDate(s string) bool {
	_, ok := parseWithLayouts(s, validDateLayouts)
	return ok
}
