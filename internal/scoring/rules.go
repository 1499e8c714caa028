package scoring

import (
	"context"
	"strings"

	"github.com/david/childcare-leads/internal/models"
)

const (
	unknownCapacityScore = 15
	defaultLocationScore = 20
	defaultStageScore    = 20
	bonusPoints          = 5

	maxCapacityScore = 30
	maxLocationScore = 40
	maxStageScore    = 30
)

var canadaCityScores = map[string]int{
	"toronto": 40, "vancouver": 40, "montreal": 40,
	"calgary": 35, "edmonton": 35, "ottawa": 35, "winnipeg": 35,
	"quebec city": 30, "hamilton": 30, "kitchener": 30, "london": 30, "victoria": 30, "halifax": 30,
	"oshawa": 25, "windsor": 25, "saskatoon": 25, "regina": 25, "st. catharines": 25, "kelowna": 25, "barrie": 25,
}

var australiaCityScores = map[string]int{
	"sydney": 40, "melbourne": 40, "brisbane": 40,
	"perth": 35, "adelaide": 35, "canberra": 35,
	"gold coast": 30, "newcastle": 30, "sunshine coast": 30, "wollongong": 30, "hobart": 30, "geelong": 30,
	"townsville": 25, "cairns": 25, "darwin": 25, "toowoomba": 25, "ballarat": 25, "bendigo": 25,
}

type stageRule struct {
	field    string // "type" or "status"
	keywords []string
	score    int
}

// stageRules are checked in order; the first hit wins.
var stageRules = []stageRule{
	{"type", []string{"新建", "new", "新发"}, 30},
	{"status", []string{"新发", "new", "issued"}, 30},
	{"type", []string{"扩建", "expansion", "expand"}, 25},
	{"status", []string{"扩容", "expansion"}, 25},
	{"status", []string{"变更", "change", "amendment"}, 20},
	{"status", []string{"续期", "renewal", "renew"}, 15},
	{"type", []string{"交易", "sale", "出售"}, 25},
	{"type", []string{"招标", "tender", "rfp"}, 25},
}

var (
	publicSectorKeywords = []string{"government", "public", "municipal", "政府"}
	communityKeywords    = []string{"school", "community", "学校", "社区"}
)

// RuleScorer is the deterministic scorer. It never fails.
type RuleScorer struct {
	Thresholds Thresholds
}

func NewRuleScorer(t Thresholds) RuleScorer {
	return RuleScorer{Thresholds: t}
}

func (s RuleScorer) Score(_ context.Context, o models.Opportunity) Outcome {
	return Outcome{Record: s.ScoreRecord(o), Kind: OutcomeOK}
}

// ScoreRecord fills the score fields of a copy of o.
func (s RuleScorer) ScoreRecord(o models.Opportunity) models.Opportunity {
	capacity := CapacityScore(o.Capacity)
	location := LocationScore(o.City, o.Country)
	stage := StageScore(o.Type, o.LicenseStatus)
	total := clamp(capacity+location+stage+Bonus(o.Name, o.Notes), 0, 100)

	o.AIScore = total
	o.CapacityScore = capacity
	o.LocationScore = location
	o.StageScore = stage
	o.Priority = s.Thresholds.Priority(total)
	o.ScoringMethod = models.ScoringRuleBased
	o.AIReasoning = ""
	o.AIRecommendation = ""
	return o
}

func CapacityScore(capacity *int) int {
	if capacity == nil {
		return unknownCapacityScore
	}
	switch c := *capacity; {
	case c >= 80:
		return 30
	case c >= 60:
		return 25
	case c >= 40:
		return 20
	case c >= 20:
		return 15
	}
	return 10
}

func LocationScore(city, country string) int {
	key := strings.ToLower(strings.TrimSpace(city))
	if key == "" {
		return defaultLocationScore
	}

	var table map[string]int
	switch models.CountryCode(country) {
	case models.CountryCodeCanada:
		table = canadaCityScores
	case models.CountryCodeAustralia:
		table = australiaCityScores
	}
	if score, ok := table[key]; ok {
		return score
	}
	return defaultLocationScore
}

func StageScore(projectType, licenseStatus string) int {
	fields := map[string]string{
		"type":   strings.ToLower(projectType),
		"status": strings.ToLower(licenseStatus),
	}
	for _, rule := range stageRules {
		if containsAny(fields[rule.field], rule.keywords) {
			return rule.score
		}
	}
	return defaultStageScore
}

func Bonus(name, notes string) int {
	n, t := strings.ToLower(name), strings.ToLower(notes)
	bonus := 0
	if containsAny(n, publicSectorKeywords) || containsAny(t, publicSectorKeywords) {
		bonus += bonusPoints
	}
	if containsAny(n, communityKeywords) || containsAny(t, communityKeywords) {
		bonus += bonusPoints
	}
	return bonus
}

func containsAny(s string, keywords []string) bool {
	if s == "" {
		return false
	}
	for _, k := range keywords {
		if strings.Contains(s, k) {
			return true
		}
	}
	return false
}
