// Package report aggregates scored leads into statistics and daily summaries.
package report

import (
	"sort"

	"github.com/david/childcare-leads/internal/models"
)

// Stats is the per-run aggregate. JSON keys match the daily stats sheet.
type Stats struct {
	Total            int `json:"total"`
	CanadaNew        int `json:"canada_new"`
	CanadaSales      int `json:"canada_sales"`
	CanadaTenders    int `json:"canada_tenders"`
	AustraliaNew     int `json:"australia_new"`
	AustraliaSales   int `json:"australia_sales"`
	AustraliaTenders int `json:"australia_tenders"`
	CriticalCount    int `json:"critical_count"`
	HighCount        int `json:"high_count"`
	MediumCount      int `json:"medium_count"`
	LowCount         int `json:"low_count"`
}

// Aggregate counts records by country and category and by priority.
func Aggregate(records []models.Opportunity) Stats {
	s := Stats{Total: len(records)}
	for _, o := range records {
		cat := o.Category()
		switch models.CountryCode(o.Country) {
		case models.CountryCodeCanada:
			switch cat {
			case models.CategoryNewProject:
				s.CanadaNew++
			case models.CategorySale:
				s.CanadaSales++
			case models.CategoryTender:
				s.CanadaTenders++
			}
		case models.CountryCodeAustralia:
			switch cat {
			case models.CategoryNewProject:
				s.AustraliaNew++
			case models.CategorySale:
				s.AustraliaSales++
			case models.CategoryTender:
				s.AustraliaTenders++
			}
		}

		switch o.Priority {
		case models.PriorityCritical:
			s.CriticalCount++
		case models.PriorityHigh:
			s.HighCount++
		case models.PriorityMedium:
			s.MediumCount++
		default:
			s.LowCount++
		}
	}
	return s
}

// Classified buckets records by category, preserving order within each bucket.
type Classified struct {
	NewProjects []models.Opportunity `json:"new_projects"`
	Sales       []models.Opportunity `json:"sales"`
	Tenders     []models.Opportunity `json:"tenders"`
}

func Classify(records []models.Opportunity) Classified {
	var c Classified
	for _, o := range records {
		switch o.Category() {
		case models.CategorySale:
			c.Sales = append(c.Sales, o)
		case models.CategoryTender:
			c.Tenders = append(c.Tenders, o)
		default:
			c.NewProjects = append(c.NewProjects, o)
		}
	}
	return c
}

// SortByScore returns a copy ordered by score, highest first when descending.
// Ties keep their input order.
func SortByScore(records []models.Opportunity, descending bool) []models.Opportunity {
	out := append([]models.Opportunity(nil), records...)
	sort.SliceStable(out, func(i, j int) bool {
		if descending {
			return out[i].AIScore > out[j].AIScore
		}
		return out[i].AIScore < out[j].AIScore
	})
	return out
}

// FilterByPriority keeps records whose priority is in the given set.
func FilterByPriority(records []models.Opportunity, priorities ...models.Priority) []models.Opportunity {
	want := make(map[models.Priority]bool, len(priorities))
	for _, p := range priorities {
		want[p] = true
	}
	var out []models.Opportunity
	for _, o := range records {
		if want[o.Priority] {
			out = append(out, o)
		}
	}
	return out
}
