package ingest

import (
	"encoding/json"
	"math"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/david/childcare-leads/internal/models"
)

const (
	defaultType    = "new"
	defaultAIScore = 50
)

var (
	digitRun      = regexp.MustCompile(`\d+`)
	phoneStrip    = regexp.MustCompile(`[^\d+]`)
	emailPattern  = regexp.MustCompile(`^[a-zA-Z0-9._%+-]+@[a-zA-Z0-9.-]+\.[a-zA-Z]{2,}$`)
	countryByName = map[string]string{
		"canada":       models.CountryCanada,
		"ca":           models.CountryCanada,
		"can":          models.CountryCanada,
		"🇨🇦":           models.CountryCanada,
		"🇨🇦 canada":    models.CountryCanada,
		"australia":    models.CountryAustralia,
		"au":           models.CountryAustralia,
		"aus":          models.CountryAustralia,
		"🇦🇺":           models.CountryAustralia,
		"🇦🇺 australia": models.CountryAustralia,
	}
)

var canadaProvinces = map[string]string{
	"on":                        "Ontario",
	"ontario":                   "Ontario",
	"bc":                        "British Columbia",
	"british columbia":          "British Columbia",
	"ab":                        "Alberta",
	"alberta":                   "Alberta",
	"qc":                        "Quebec",
	"quebec":                    "Quebec",
	"mb":                        "Manitoba",
	"manitoba":                  "Manitoba",
	"sk":                        "Saskatchewan",
	"saskatchewan":              "Saskatchewan",
	"ns":                        "Nova Scotia",
	"nova scotia":               "Nova Scotia",
	"nb":                        "New Brunswick",
	"new brunswick":             "New Brunswick",
	"nl":                        "Newfoundland and Labrador",
	"newfoundland":              "Newfoundland and Labrador",
	"newfoundland and labrador": "Newfoundland and Labrador",
	"pe":                        "Prince Edward Island",
	"pei":                       "Prince Edward Island",
	"prince edward island":      "Prince Edward Island",
	"nt":                        "Northwest Territories",
	"northwest territories":     "Northwest Territories",
	"yt":                        "Yukon",
	"yukon":                     "Yukon",
	"nu":                        "Nunavut",
	"nunavut":                   "Nunavut",
}

var australiaStates = map[string]string{
	"nsw":                          "New South Wales",
	"new south wales":              "New South Wales",
	"vic":                          "Victoria",
	"victoria":                     "Victoria",
	"qld":                          "Queensland",
	"queensland":                   "Queensland",
	"wa":                           "Western Australia",
	"western australia":            "Western Australia",
	"sa":                           "South Australia",
	"south australia":              "South Australia",
	"tas":                          "Tasmania",
	"tasmania":                     "Tasmania",
	"act":                          "Australian Capital Territory",
	"australian capital territory": "Australian Capital Territory",
	"nt":                           "Northern Territory",
	"northern territory":           "Northern Territory",
}

// Normalizer converts fetcher output into canonical opportunities.
type Normalizer struct {
	// Now supplies the default discovered date. Defaults to time.Now.
	Now func() time.Time
}

// Normalize is a pure, total function of its input and the clock: it never fails,
// and normalizing an already-normalized record returns it unchanged.
func (n *Normalizer) Normalize(raw models.RawRecord) models.Opportunity {
	country := normalizeCountry(raw.Country)

	opp := models.Opportunity{
		Name:           cleanText(raw.Name),
		Address:        cleanText(raw.Address),
		City:           titleCase(cleanText(raw.City)),
		Province:       normalizeProvince(raw.Province, country),
		Country:        country,
		Capacity:       parseCapacity(raw.Capacity),
		LicenseNumber:  cleanText(raw.LicenseNumber),
		LicenseStatus:  raw.LicenseStatus,
		Phone:          normalizePhone(raw.Phone),
		Email:          normalizeEmail(raw.Email),
		DiscoveredDate: n.discoveredDate(raw.DiscoveredDate),
		Source:         raw.Source,
		SourceURL:      raw.SourceURL,
		Type:           firstNonEmpty(raw.Type, defaultType),
		Notes:          raw.Notes,
		Details:        normalizeDetails(raw.Details),
		AIScore:        defaultAIScore,
		Priority:       models.PriorityMedium,
	}

	if raw.AIScore != nil {
		opp.AIScore = *raw.AIScore
	}
	if raw.Priority != "" {
		opp.Priority = raw.Priority
	}
	if raw.AIReasoning != nil {
		opp.AIReasoning = strings.TrimSpace(*raw.AIReasoning)
	}
	if raw.AIRecommendation != nil {
		opp.AIRecommendation = strings.TrimSpace(*raw.AIRecommendation)
	}

	return opp
}

// NormalizeAll normalizes a batch in order.
func (n *Normalizer) NormalizeAll(raws []models.RawRecord) []models.Opportunity {
	out := make([]models.Opportunity, 0, len(raws))
	for _, raw := range raws {
		out = append(out, n.Normalize(raw))
	}
	return out
}

func (n *Normalizer) discoveredDate(raw string) string {
	if strings.TrimSpace(raw) == "" {
		now := time.Now
		if n.Now != nil {
			now = n.Now
		}
		return now().Format(isoDate)
	}
	return formatDate(raw)
}

// normalizeDetails copies only the fields the source supplied; dates are reformatted.
func normalizeDetails(d models.Details) models.Details {
	out := d
	if d.PublishedDate != nil {
		out.PublishedDate = optionalString(formatDate(*d.PublishedDate))
	}
	if d.DeadlineDate != nil {
		out.DeadlineDate = optionalString(formatDate(*d.DeadlineDate))
	}
	return out
}

func normalizeCountry(s string) string {
	if canonical, ok := countryByName[strings.ToLower(strings.TrimSpace(s))]; ok {
		return canonical
	}
	return s
}

// normalizeProvince expands codes using the table for the canonical country.
func normalizeProvince(s, country string) string {
	p := cleanText(s)
	if p == "" {
		return ""
	}
	key := strings.ToLower(p)

	var table map[string]string
	switch country {
	case models.CountryCanada:
		table = canadaProvinces
	case models.CountryAustralia:
		table = australiaStates
	}
	if name, ok := table[key]; ok {
		return name
	}
	return titleCase(p)
}

// parseCapacity takes the first digit run of a string, truncates numbers and
// yields nil for anything else.
func parseCapacity(v any) *int {
	switch c := v.(type) {
	case nil:
		return nil
	case int:
		return &c
	case int32:
		n := int(c)
		return &n
	case int64:
		n := int(c)
		return &n
	case float32:
		return truncate(float64(c))
	case float64:
		return truncate(c)
	case json.Number:
		if n, err := c.Int64(); err == nil {
			i := int(n)
			return &i
		}
		if f, err := c.Float64(); err == nil {
			return truncate(f)
		}
		return nil
	case string:
		m := digitRun.FindString(c)
		if m == "" {
			return nil
		}
		n, err := strconv.Atoi(m)
		if err != nil {
			return nil
		}
		return &n
	}
	return nil
}

func truncate(f float64) *int {
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return nil
	}
	n := int(f)
	return &n
}

// normalizePhone formats North American numbers. Other numbers keep their
// digits and plus signs only.
func normalizePhone(s string) string {
	if s == "" {
		return ""
	}
	cleaned := phoneStrip.ReplaceAllString(s, "")
	digits := strings.ReplaceAll(cleaned, "+", "")

	switch {
	case len(digits) == 10 && len(cleaned) == 10:
		return "(" + digits[:3] + ") " + digits[3:6] + "-" + digits[6:]
	case len(digits) == 11 && digits[0] == '1':
		return "+1 (" + digits[1:4] + ") " + digits[4:7] + "-" + digits[7:]
	}
	return cleaned
}

func normalizeEmail(s string) string {
	e := strings.ToLower(strings.TrimSpace(s))
	if e == "" || !emailPattern.MatchString(e) {
		return ""
	}
	return e
}
