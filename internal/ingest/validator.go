package ingest

import (
	"fmt"
	"strings"

	"github.com/david/childcare-leads/internal/models"
)

const defaultCapacityCeiling = 500

var supportedCountryMarkers = []string{"canada", "australia", "ca", "au", "🇨🇦", "🇦🇺"}

// ValidationResult separates blocking errors from advisory warnings.
type ValidationResult struct {
	Errors   []string
	Warnings []string
}

func (r ValidationResult) Valid() bool {
	return len(r.Errors) == 0
}

// Validator checks a normalized record against the rules for its category.
type Validator struct {
	// CapacityCeiling is the largest capacity accepted without comment.
	CapacityCeiling int
	// RejectImplausibleCapacity turns an over-ceiling capacity into an error.
	// When false it is only reported as a warning.
	RejectImplausibleCapacity bool
}

func NewValidator() Validator {
	return Validator{
		CapacityCeiling:           defaultCapacityCeiling,
		RejectImplausibleCapacity: true,
	}
}

func requiredFields(category models.Category) []string {
	switch category {
	case models.CategoryTender:
		return []string{"name", "country", "source", "published_date"}
	default:
		return []string{"name", "country", "source", "discovered_date"}
	}
}

func fieldValue(o models.Opportunity, field string) string {
	switch field {
	case "name":
		return o.Name
	case "country":
		return o.Country
	case "source":
		return o.Source
	case "discovered_date":
		return o.DiscoveredDate
	case "published_date":
		if o.PublishedDate != nil {
			return *o.PublishedDate
		}
	}
	return ""
}

// Validate returns whether the record is valid and every problem found.
func (v Validator) Validate(o models.Opportunity, category models.Category) (bool, []string) {
	res := v.Check(o, category)
	return res.Valid(), res.Errors
}

// Check runs every rule and never stops at the first failure.
func (v Validator) Check(o models.Opportunity, category models.Category) ValidationResult {
	var res ValidationResult

	for _, field := range requiredFields(category) {
		if strings.TrimSpace(fieldValue(o, field)) == "" {
			res.Errors = append(res.Errors, fmt.Sprintf("missing required field: %s", field))
		}
	}

	if o.Capacity != nil {
		capacity := *o.Capacity
		ceiling := v.CapacityCeiling
		if ceiling <= 0 {
			ceiling = defaultCapacityCeiling
		}
		switch {
		case capacity < 0:
			res.Errors = append(res.Errors, fmt.Sprintf("capacity cannot be negative: %d", capacity))
		case capacity > ceiling:
			msg := fmt.Sprintf("capacity implausibly large (>%d): %d", ceiling, capacity)
			if v.RejectImplausibleCapacity {
				res.Errors = append(res.Errors, msg)
			} else {
				res.Warnings = append(res.Warnings, msg)
			}
		}
	}

	dates := []struct {
		field string
		value *string
	}{
		{"discovered_date", &o.DiscoveredDate},
		{"published_date", o.PublishedDate},
		{"deadline_date", o.DeadlineDate},
	}
	for _, d := range dates {
		if d.value == nil || *d.value == "" {
			continue
		}
		if !IsValidDate(*d.value) {
			res.Errors = append(res.Errors, fmt.Sprintf("invalid date format for %s: %s", d.field, *d.value))
		}
	}

	if o.Country != "" && !supportedCountry(o.Country) {
		res.Errors = append(res.Errors, fmt.Sprintf("unsupported country: %s", o.Country))
	}

	return res
}

func supportedCountry(country string) bool {
	c := strings.ToLower(country)
	for _, marker := range supportedCountryMarkers {
		if strings.Contains(c, marker) {
			return true
		}
	}
	return false
}

// Processed is the result of normalizing and validating a batch.
type Processed struct {
	Valid    []models.Opportunity
	Rejected int
	Errors   []string
	Warnings []string
}

// Process normalizes every raw record and keeps the ones that validate for their category.
func Process(n *Normalizer, v Validator, raws []models.RawRecord) Processed {
	var out Processed
	for i, raw := range raws {
		opp := n.Normalize(raw)
		res := v.Check(opp, opp.Category())
		for _, w := range res.Warnings {
			out.Warnings = append(out.Warnings, fmt.Sprintf("record %d (%s): %s", i, opp.Name, w))
		}
		if !res.Valid() {
			out.Rejected++
			out.Errors = append(out.Errors, fmt.Sprintf("record %d (%s): %s", i, opp.Name, strings.Join(res.Errors, "; ")))
			continue
		}
		out.Valid = append(out.Valid, opp)
	}
	return out
}
