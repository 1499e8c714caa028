package models

import (
	"crypto/md5"
	"encoding/hex"
	"slices"
	"strconv"
	"strings"
	"time"
)

// Canonical country display values produced by the normalizer.
const (
	CountryCanada    = "🇨🇦 Canada"
	CountryAustralia = "🇦🇺 Australia"
)

type Priority string

const (
	PriorityCritical Priority = "Critical"
	PriorityHigh     Priority = "High"
	PriorityMedium   Priority = "Medium"
	PriorityLow      Priority = "Low"
)

type ScoringMethod string

const (
	ScoringRuleBased ScoringMethod = "rule_based"
	ScoringAI        ScoringMethod = "claude_ai"
)

// Details holds the type-specific fields. A nil pointer means the source never supplied the field.
type Details struct {
	Price          *string `json:"price,omitempty"`
	AnnualRevenue  *string `json:"annual_revenue,omitempty"`
	CashFlow       *string `json:"cash_flow,omitempty"`
	LeaseRemaining *string `json:"lease_remaining,omitempty"`
	PropertyType   *string `json:"property_type,omitempty"`
	PublishedDate  *string `json:"published_date,omitempty"`
	DeadlineDate   *string `json:"deadline_date,omitempty"`
	ContractValue  *string `json:"contract_value,omitempty"`
	TenderType     *string `json:"tender_type,omitempty"`
	Organization   *string `json:"organization,omitempty"`
}

// RawRecord is what a fetcher hands to the normalizer. Capacity may be a string,
// any numeric type or nil.
type RawRecord struct {
	Name           string `json:"name"`
	Address        string `json:"address"`
	City           string `json:"city"`
	Province       string `json:"province"`
	Country        string `json:"country"`
	Capacity       any    `json:"capacity,omitempty"`
	LicenseNumber  string `json:"license_number"`
	LicenseStatus  string `json:"license_status"`
	Phone          string `json:"phone"`
	Email          string `json:"email"`
	DiscoveredDate string `json:"discovered_date"`
	Source         string `json:"source"`
	SourceURL      string `json:"source_url"`
	Type           string `json:"type"`
	Notes          string `json:"notes"`
	Details

	// Carried over when a record that was already scored is normalized again.
	AIScore          *int     `json:"ai_score,omitempty"`
	Priority         Priority `json:"priority,omitempty"`
	AIReasoning      *string  `json:"ai_reasoning,omitempty"`
	AIRecommendation *string  `json:"ai_recommendation,omitempty"`
}

// Opportunity is a normalized lead, optionally carrying its score.
type Opportunity struct {
	Name           string `json:"name"`
	Address        string `json:"address"`
	City           string `json:"city"`
	Province       string `json:"province"`
	Country        string `json:"country"`
	Capacity       *int   `json:"capacity"`
	LicenseNumber  string `json:"license_number"`
	LicenseStatus  string `json:"license_status"`
	Phone          string `json:"phone"`
	Email          string `json:"email"`
	DiscoveredDate string `json:"discovered_date"`
	Source         string `json:"source"`
	SourceURL      string `json:"source_url"`
	Type           string `json:"type"`
	Notes          string `json:"notes"`
	Details

	AIScore          int           `json:"ai_score"`
	Priority         Priority      `json:"priority"`
	CapacityScore    int           `json:"capacity_score,omitempty"`
	LocationScore    int           `json:"location_score,omitempty"`
	StageScore       int           `json:"stage_score,omitempty"`
	ScoringMethod    ScoringMethod `json:"scoring_method,omitempty"`
	AIReasoning      string        `json:"ai_reasoning,omitempty"`
	AIRecommendation string        `json:"ai_recommendation,omitempty"`
}

// ToRaw converts a normalized record back into fetcher form.
func (o Opportunity) ToRaw() RawRecord {
	raw := RawRecord{
		Name:           o.Name,
		Address:        o.Address,
		City:           o.City,
		Province:       o.Province,
		Country:        o.Country,
		LicenseNumber:  o.LicenseNumber,
		LicenseStatus:  o.LicenseStatus,
		Phone:          o.Phone,
		Email:          o.Email,
		DiscoveredDate: o.DiscoveredDate,
		Source:         o.Source,
		SourceURL:      o.SourceURL,
		Type:           o.Type,
		Notes:          o.Notes,
		Details:        o.Details,
		Priority:       o.Priority,
	}
	if o.Capacity != nil {
		raw.Capacity = *o.Capacity
	}
	score := o.AIScore
	raw.AIScore = &score
	if o.AIReasoning != "" {
		raw.AIReasoning = &o.AIReasoning
	}
	if o.AIRecommendation != "" {
		raw.AIRecommendation = &o.AIRecommendation
	}
	return raw
}

// Category returns the sheet bucket for the record's free-text type.
func (o Opportunity) Category() Category {
	return ClassifyType(o.Type)
}

// CapacityString renders capacity for messages, "N/A" when unknown.
func (o Opportunity) CapacityString() string {
	if o.Capacity == nil {
		return "N/A"
	}
	return strconv.Itoa(*o.Capacity)
}

type Category string

const (
	CategoryNewProject Category = "new_project"
	CategorySale       Category = "sale"
	CategoryTender     Category = "tender"
)

var (
	newProjectTypes = []string{"新建", "new", "新建项目", "new_project"}
	saleTypes       = []string{"交易", "sale", "买卖", "出售"}
	tenderTypes     = []string{"招标", "tender", "rfp", "rfq"}
)

// ClassifyType buckets a free-text type. Anything unrecognized is a new project.
func ClassifyType(t string) Category {
	key := strings.ToLower(strings.TrimSpace(t))
	switch {
	case slices.Contains(newProjectTypes, key):
		return CategoryNewProject
	case slices.Contains(saleTypes, key):
		return CategorySale
	case slices.Contains(tenderTypes, key):
		return CategoryTender
	}
	return CategoryNewProject
}

const (
	CountryCodeCanada    = "canada"
	CountryCodeAustralia = "australia"
	CountryCodeOther     = "other"
)

// CountryCode routes a country value (canonical or raw) to canada, australia or other.
func CountryCode(country string) string {
	c := strings.ToLower(country)
	switch {
	case strings.Contains(c, "canada") || strings.Contains(c, "🇨🇦"):
		return CountryCodeCanada
	case strings.Contains(c, "australia") || strings.Contains(c, "🇦🇺"):
		return CountryCodeAustralia
	}
	return CountryCodeOther
}

// RecordID is the stable within-batch identity of a record.
func RecordID(o Opportunity) string {
	parts := []string{o.LicenseNumber, o.Name, o.Address, o.City, o.Country}
	for i, p := range parts {
		parts[i] = strings.ToLower(strings.TrimSpace(p))
	}
	sum := md5.Sum([]byte(strings.Join(parts, "|")))
	return hex.EncodeToString(sum[:])[:16]
}

// DuplicateBreakdown counts dropped records by the rule that caught them.
type DuplicateBreakdown struct {
	License      int `json:"license"`
	NameAddress  int `json:"name_address"`
	FuzzyAddress int `json:"fuzzy_address"`
}

func (d DuplicateBreakdown) Total() int {
	return d.License + d.NameAddress + d.FuzzyAddress
}

const (
	SourceStatusOK    = "ok"
	SourceStatusError = "error"
)

// SourceStatus is the per-source fetch report written to the monitoring sheet.
type SourceStatus struct {
	Name         string        `json:"name"`
	Type         string        `json:"type"`
	Status       string        `json:"status"`
	Count        int           `json:"count"`
	Total        int           `json:"total"`
	Error        string        `json:"error,omitempty"`
	ResponseTime time.Duration `json:"response_time"`
	CheckedAt    time.Time     `json:"checked_at"`
}
