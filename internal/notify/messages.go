package notify

import (
	"fmt"
	"strings"
	"time"

	"github.com/david/childcare-leads/internal/models"
	"github.com/david/childcare-leads/internal/report"
)

const maxLeadsPerBatch = 5

func orNA(s string) string {
	if strings.TrimSpace(s) == "" {
		return "N/A"
	}
	return s
}

func linkOr(url string) string {
	if url == "" {
		return "#"
	}
	return url
}

func criticalTitle(lead models.Opportunity) string {
	return fmt.Sprintf("🚨 Critical lead - %d pts", lead.AIScore)
}

// criticalMarkdown renders a single urgent lead. colored adds DingTalk font tags.
func criticalMarkdown(lead models.Opportunity, analysis, sheetURL string, colored, atAll bool) string {
	score := fmt.Sprintf("%d pts", lead.AIScore)
	if colored {
		score = "<font color=#FF0000>" + score + "</font>"
	}

	var b strings.Builder
	fmt.Fprintf(&b, "### 🚨 Critical lead found\n\n---\n\n**Name:** %s  \n**Score:** %s\n\n", orNA(lead.Name), score)
	b.WriteString("#### 📋 Details\n\n")
	fmt.Fprintf(&b, "- **📍 Location:** %s, %s, %s\n", lead.City, lead.Province, lead.Country)
	fmt.Fprintf(&b, "- **👥 Capacity:** %s children\n", lead.CapacityString())
	fmt.Fprintf(&b, "- **🏷️ Type:** %s\n", orNA(lead.Type))
	fmt.Fprintf(&b, "- **📅 Discovered:** %s\n", lead.DiscoveredDate)
	fmt.Fprintf(&b, "- **📞 Phone:** %s\n\n", orNA(lead.Phone))

	b.WriteString("#### 🎯 Score breakdown\n\n")
	fmt.Fprintf(&b, "- **Capacity:** %d/30\n- **Location:** %d/40\n- **Stage:** %d/30\n\n",
		lead.CapacityScore, lead.LocationScore, lead.StageScore)

	if lead.AIReasoning != "" || lead.AIRecommendation != "" {
		fmt.Fprintf(&b, "#### 🤖 AI assessment\n\n%s\n\n**Next step:** %s\n\n", lead.AIReasoning, orNA(lead.AIRecommendation))
	}
	if analysis != "" {
		fmt.Fprintf(&b, "#### 🔍 Analysis\n\n%s\n\n", analysis)
	}

	fmt.Fprintf(&b, "[Open the lead sheet](%s) | [Source](%s)\n\n---\n\n", linkOr(sheetURL), linkOr(lead.SourceURL))
	fmt.Fprintf(&b, "> 📢 Marked critical, follow up now.  \n> 💡 Source: %s", orNA(lead.Source))
	if atAll {
		b.WriteString("\n\n@all please take a look!")
	}
	b.WriteString("\n")
	return b.String()
}

func highBatchTitle(n int) string {
	return fmt.Sprintf("🔥 %d high-priority leads", n)
}

func highBatchMarkdown(leads []models.Opportunity, sheetURL string, colored bool, now time.Time) string {
	var b strings.Builder
	fmt.Fprintf(&b, "### %s\n\n---\n\n", highBatchTitle(len(leads)))
	for i, lead := range leads {
		if i == maxLeadsPerBatch {
			fmt.Fprintf(&b, "...and %d more\n\n", len(leads)-maxLeadsPerBatch)
			break
		}
		b.WriteString(report.LeadLine(i, lead, colored))
		b.WriteString("\n")
	}
	fmt.Fprintf(&b, "---\n\n[📊 Open the lead sheet](%s)\n\n> ⏰ Updated: %s\n", linkOr(sheetURL), now.Format("2006-01-02 15:04:05"))
	return b.String()
}

func errorTitle(source string) string {
	return "⚠️ System alert - " + source
}

func errorMarkdown(source, message string, now time.Time) string {
	return fmt.Sprintf("### ⚠️ System alert\n\n**Source:** %s  \n**Error:** %s  \n**Time:** %s\n\n---\n\n> Please check the pipeline.\n",
		source, message, now.Format("2006-01-02 15:04:05"))
}
