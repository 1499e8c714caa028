package ai

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/david/childcare-leads/internal/models"
)

const (
	assessMaxTokens  = 1024
	analyzeMaxTokens = 500
	defaultScore     = 50

	assessSystemPrompt = "You evaluate child-care centre licensing leads for a commercial team. Respond with strict JSON only."
)

// Assessment is the model's verdict on one lead.
type Assessment struct {
	Score          *float64 `json:"score"`
	CapacityScore  *float64 `json:"capacity_score"`
	LocationScore  *float64 `json:"location_score"`
	StageScore     *float64 `json:"stage_score"`
	Priority       string   `json:"priority"`
	Reasoning      string   `json:"reasoning"`
	Recommendation string   `json:"recommendation"`
}

// ScoreValue returns the reported score, 50 when the model left it out.
func (a Assessment) ScoreValue() float64 {
	if a.Score == nil {
		return defaultScore
	}
	return *a.Score
}

// HasSubScores reports whether the reply broke the score down at all.
func (a Assessment) HasSubScores() bool {
	return a.CapacityScore != nil || a.LocationScore != nil || a.StageScore != nil
}

func orNA(s string) string {
	if strings.TrimSpace(s) == "" {
		return "N/A"
	}
	return s
}

func buildAssessPrompt(o models.Opportunity) string {
	return fmt.Sprintf(`Evaluate the commercial value of this child-care lead.

LEAD:
- Type: %s
- Name: %s
- Location: %s, %s, %s
- Capacity: %s children
- License status: %s
- Source: %s

SCORING (100 points total):
1. Capacity (30): 80+ children = 30, 60-79 = 25, 40-59 = 20, 20-39 = 15, under 20 = 10, unknown = 15.
2. Location (40): Canada: Toronto/Vancouver/Montreal = 40, Calgary/Edmonton/Ottawa = 35, other provincial centres = 30.
   Australia: Sydney/Melbourne/Brisbane = 40, Perth/Adelaide/Canberra = 35, other capitals = 30.
3. Stage (30): new build = 30, expansion = 25, license change = 20, renewal = 15.

Return a JSON object with this format:
{
  "score": number 0-100,
  "capacity_score": number 0-30,
  "location_score": number 0-40,
  "stage_score": number 0-30,
  "priority": "Critical" | "High" | "Medium" | "Low",
  "reasoning": "one or two sentences",
  "recommendation": "one sentence follow-up advice"
}`,
		orNA(o.Type), orNA(o.Name), orNA(o.City), orNA(o.Province), orNA(o.Country),
		o.CapacityString(), orNA(o.LicenseStatus), orNA(o.Source))
}

// Assess asks the model to score a lead.
func Assess(ctx context.Context, c Completer, o models.Opportunity) (*Assessment, error) {
	resp, err := c.Complete(ctx, assessSystemPrompt, buildAssessPrompt(o), assessMaxTokens)
	if err != nil {
		return nil, err
	}
	return ParseAssessment(resp)
}

// ParseAssessment decodes a reply, tolerating markdown code fences.
func ParseAssessment(resp string) (*Assessment, error) {
	clean := StripCodeFences(resp)
	if clean == "" {
		return nil, fmt.Errorf("empty assessment response")
	}
	var a Assessment
	if err := json.Unmarshal([]byte(clean), &a); err != nil {
		return nil, fmt.Errorf("failed to parse assessment json: %w", err)
	}
	return &a, nil
}

// Analyze produces a short free-text report on a lead that has already been scored.
func Analyze(ctx context.Context, c Completer, o models.Opportunity) (string, error) {
	prompt := fmt.Sprintf(`Write a short analysis of this child-care lead.

LEAD:
- Name: %s
- Location: %s, %s, %s
- Capacity: %s children
- Type: %s
- Current score: %d

Cover:
1. Highlights (2-3 points)
2. Risks (1-2 points)
3. Suggested follow-up (1-2 sentences)

Keep it concise and professional.`,
		orNA(o.Name), orNA(o.City), orNA(o.Province), orNA(o.Country),
		o.CapacityString(), orNA(o.Type), o.AIScore)

	resp, err := c.Complete(ctx, "", prompt, analyzeMaxTokens)
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(resp), nil
}

// StripCodeFences removes a surrounding ```json ... ``` block.
func StripCodeFences(s string) string {
	s = strings.TrimSpace(s)
	s = strings.TrimPrefix(s, "```json")
	s = strings.TrimPrefix(s, "```JSON")
	s = strings.TrimPrefix(s, "```")
	s = strings.TrimSuffix(s, "```")
	return strings.TrimSpace(s)
}
