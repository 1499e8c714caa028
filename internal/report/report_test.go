package report

import (
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/david/childcare-leads/internal/models"
)

func lead(name, country, typ string, score int, p models.Priority) models.Opportunity {
	return models.Opportunity{Name: name, Country: country, Type: typ, AIScore: score, Priority: p}
}

func sampleLeads() []models.Opportunity {
	return []models.Opportunity{
		lead("a", models.CountryCanada, "new", 95, models.PriorityCritical),
		lead("b", models.CountryCanada, "sale", 86, models.PriorityHigh),
		lead("c", models.CountryAustralia, "tender", 72, models.PriorityMedium),
		lead("d", models.CountryAustralia, "expansion", 40, models.PriorityLow),
		lead("e", "France", "new", 88, models.PriorityHigh),
	}
}

func TestAggregate(t *testing.T) {
	got := Aggregate(sampleLeads())
	assert.Equal(t, Stats{
		Total:            5,
		CanadaNew:        1,
		CanadaSales:      1,
		AustraliaTenders: 1,
		AustraliaNew:     1,
		CriticalCount:    1,
		HighCount:        2,
		MediumCount:      1,
		LowCount:         1,
	}, got)
}

func TestAggregateEmpty(t *testing.T) {
	assert.Equal(t, Stats{}, Aggregate(nil))
}

func TestClassify(t *testing.T) {
	c := Classify(sampleLeads())
	assert.Len(t, c.NewProjects, 3)
	assert.Len(t, c.Sales, 1)
	assert.Len(t, c.Tenders, 1)
	assert.Equal(t, "d", c.NewProjects[1].Name)
}

func TestSortByScoreIsStable(t *testing.T) {
	in := []models.Opportunity{
		lead("x", "", "", 50, ""),
		lead("y", "", "", 80, ""),
		lead("z", "", "", 50, ""),
	}
	desc := SortByScore(in, true)
	assert.Equal(t, []string{"y", "x", "z"}, names(desc))
	asc := SortByScore(in, false)
	assert.Equal(t, []string{"x", "z", "y"}, names(asc))
	assert.Equal(t, "x", in[0].Name)
}

func TestFilterByPriority(t *testing.T) {
	got := FilterByPriority(sampleLeads(), models.PriorityHigh, models.PriorityCritical)
	assert.Equal(t, []string{"a", "b", "e"}, names(got))
	assert.Empty(t, FilterByPriority(sampleLeads()))
}

func TestBuildDailySummary(t *testing.T) {
	var records []models.Opportunity
	for i := 0; i < 7; i++ {
		records = append(records, lead(fmt.Sprintf("lead-%d", i), models.CountryCanada, "new", 85+i, models.PriorityHigh))
	}
	records = append(records, lead("low", models.CountryAustralia, "sale", 20, models.PriorityLow))
	now := time.Date(2024, 5, 6, 7, 8, 9, 0, time.UTC)
	sources := []models.SourceStatus{{Name: "Ontario", Status: models.SourceStatusOK, Count: 7}, {Name: "ACECQA", Status: models.SourceStatusError}}

	s := BuildDailySummary(records, sources, "", now)
	assert.Equal(t, "2024-05-06", s.Date)
	assert.Equal(t, CategoryCounts{NewProjects: 7}, s.Canada)
	assert.Equal(t, 1, s.Australia.Total())
	require.Len(t, s.HighPriority, 5)
	assert.Equal(t, "lead-6", s.HighPriority[0].Name)

	md := s.Markdown(true)
	assert.Contains(t, md, "| 🇨🇦 Canada | **7** | **0** | **0** |")
	assert.Contains(t, md, "<font color=#FF5722>91 pts</font>")
	assert.Contains(t, md, "✅ **Ontario:** ok (+7)")
	assert.Contains(t, md, "⚠️ **ACECQA:** error (+0)")
	assert.Contains(t, md, "(#)")
}

func TestEmptySummaryStillRenders(t *testing.T) {
	s := BuildDailySummary(nil, nil, "https://example.com/sheet", time.Now())
	md := s.Markdown(false)
	assert.Contains(t, md, "No high-priority leads today")
	assert.Contains(t, md, "No source information")
	assert.Contains(t, md, "https://example.com/sheet")
}

func TestSummaryHTMLIsSanitized(t *testing.T) {
	s := BuildDailySummary([]models.Opportunity{
		lead("<script>alert(1)</script>", models.CountryCanada, "new", 95, models.PriorityCritical),
	}, nil, "", time.Now())

	html, err := s.HTML()
	require.NoError(t, err)
	assert.Contains(t, html, "<table>")
	assert.False(t, strings.Contains(html, "<script>"))
}

func names(records []models.Opportunity) []string {
	out := make([]string, 0, len(records))
	for _, r := range records {
		out = append(out, r.Name)
	}
	return out
}
