package report

import (
	"bytes"
	"fmt"
	"strings"
	"time"

	"github.com/microcosm-cc/bluemonday"
	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/extension"

	"github.com/david/childcare-leads/internal/models"
)

const topLeadsInSummary = 5

type CategoryCounts struct {
	NewProjects int `json:"new_projects"`
	Sales       int `json:"sales"`
	Tenders     int `json:"tenders"`
}

func (c CategoryCounts) Total() int {
	return c.NewProjects + c.Sales + c.Tenders
}

// DailySummary is the end-of-run digest sent to every channel.
type DailySummary struct {
	Date         string                `json:"date"`
	Canada       CategoryCounts        `json:"canada"`
	Australia    CategoryCounts        `json:"australia"`
	HighPriority []models.Opportunity  `json:"high_priority"`
	Sources      []models.SourceStatus `json:"sources"`
	SheetURL     string                `json:"sheet_url"`
	GeneratedAt  time.Time             `json:"generated_at"`
}

// BuildDailySummary picks the top Critical and High leads by score.
func BuildDailySummary(records []models.Opportunity, sources []models.SourceStatus, sheetURL string, now time.Time) DailySummary {
	stats := Aggregate(records)
	top := SortByScore(FilterByPriority(records, models.PriorityCritical, models.PriorityHigh), true)
	if len(top) > topLeadsInSummary {
		top = top[:topLeadsInSummary]
	}
	return DailySummary{
		Date:         now.Format("2006-01-02"),
		Canada:       CategoryCounts{NewProjects: stats.CanadaNew, Sales: stats.CanadaSales, Tenders: stats.CanadaTenders},
		Australia:    CategoryCounts{NewProjects: stats.AustraliaNew, Sales: stats.AustraliaSales, Tenders: stats.AustraliaTenders},
		HighPriority: top,
		Sources:      sources,
		SheetURL:     sheetURL,
		GeneratedAt:  now,
	}
}

func (s DailySummary) Title() string {
	return "📊 Child-care leads daily report - " + s.Date
}

func rankMarker(i int) string {
	switch i {
	case 0:
		return "🥇"
	case 1:
		return "🥈"
	case 2:
		return "🥉"
	}
	return fmt.Sprintf("**%d.**", i+1)
}

// LeadLine is the one-line markdown rendering shared by summaries and batch alerts.
func LeadLine(i int, o models.Opportunity, colored bool) string {
	score := fmt.Sprintf("%d pts", o.AIScore)
	if colored {
		score = "<font color=#FF5722>" + score + "</font>"
	}
	return fmt.Sprintf("%s **%s** - %s  \n> 📍 %s, %s | 👥 %s | 🏷️ %s\n",
		rankMarker(i), o.Name, score, o.City, o.Province, o.CapacityString(), o.Type)
}

func linkOr(url string) string {
	if url == "" {
		return "#"
	}
	return url
}

// Markdown renders the summary. colored adds DingTalk font tags.
func (s DailySummary) Markdown(colored bool) string {
	var b strings.Builder
	fmt.Fprintf(&b, "### 📊 Child-care leads daily report\n\n**Date:** %s\n\n---\n\n", s.Date)

	b.WriteString("#### 📈 Today's overview\n\n")
	b.WriteString("| Country | New projects | Sales | Tenders |\n|---|---|---|---|\n")
	fmt.Fprintf(&b, "| 🇨🇦 Canada | **%d** | **%d** | **%d** |\n", s.Canada.NewProjects, s.Canada.Sales, s.Canada.Tenders)
	fmt.Fprintf(&b, "| 🇦🇺 Australia | **%d** | **%d** | **%d** |\n", s.Australia.NewProjects, s.Australia.Sales, s.Australia.Tenders)
	fmt.Fprintf(&b, "| **Total** | **%d** | **%d** | **%d** |\n\n---\n\n",
		s.Canada.NewProjects+s.Australia.NewProjects, s.Canada.Sales+s.Australia.Sales, s.Canada.Tenders+s.Australia.Tenders)

	b.WriteString("#### 🔥 High-priority leads\n\n")
	if len(s.HighPriority) == 0 {
		b.WriteString("> No high-priority leads today\n\n")
	}
	for i, o := range s.HighPriority {
		b.WriteString(LeadLine(i, o, colored))
		b.WriteString("\n")
	}

	b.WriteString("---\n\n#### 📊 Sources\n\n")
	if len(s.Sources) == 0 {
		b.WriteString("- No source information\n")
	}
	for _, src := range s.Sources {
		icon := "✅"
		if src.Status != models.SourceStatusOK {
			icon = "⚠️"
		}
		fmt.Fprintf(&b, "- %s **%s:** %s (+%d)\n", icon, src.Name, src.Status, src.Count)
	}

	fmt.Fprintf(&b, "\n---\n\n[📊 Open the lead sheet](%s)\n\n> ⏰ Updated: %s\n",
		linkOr(s.SheetURL), s.GeneratedAt.Format("2006-01-02 15:04:05"))
	return b.String()
}

var (
	markdown = goldmark.New(goldmark.WithExtensions(extension.GFM))
	policy   = bluemonday.UGCPolicy()
)

// MarkdownToHTML converts markdown to sanitized HTML for channels that take HTML bodies.
func MarkdownToHTML(md string) (string, error) {
	var buf bytes.Buffer
	if err := markdown.Convert([]byte(md), &buf); err != nil {
		return "", fmt.Errorf("render markdown: %w", err)
	}
	return string(policy.SanitizeBytes(buf.Bytes())), nil
}

func (s DailySummary) HTML() (string, error) {
	return MarkdownToHTML(s.Markdown(false))
}
