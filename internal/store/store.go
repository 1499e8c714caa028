// Package store defines the persistence contract shared by the workbook,
// postgres and sqlite backends.
package store

import (
	"context"
	"errors"

	"github.com/david/childcare-leads/internal/dedup"
	"github.com/david/childcare-leads/internal/models"
	"github.com/david/childcare-leads/internal/report"
)

var ErrNotFound = errors.New("not found")

const (
	SheetNewProjects      = "New Projects"
	SheetSales            = "Sales"
	SheetTenders          = "Tenders"
	SheetSourceMonitoring = "Source Monitoring"
	SheetDailyStats       = "Daily Stats"
	SheetRuns             = "Runs"
)

// Store persists classified leads and run bookkeeping. Every backend also
// seeds the deduplicator with what it already holds.
type Store interface {
	dedup.SeedProvider

	// AppendOpportunities writes each bucket to its own table and returns the
	// number of rows written.
	AppendOpportunities(ctx context.Context, runID string, c report.Classified) (int, error)
	UpdateSourceStatus(ctx context.Context, statuses []models.SourceStatus) error
	AppendDailyStats(ctx context.Context, day string, stats report.Stats, status string) error

	StartRun(ctx context.Context, run models.Run) error
	FinishRun(ctx context.Context, run models.Run) error
	ListRuns(ctx context.Context, limit int) ([]models.Run, error)
	GetRun(ctx context.Context, id string) (models.Run, error)

	Close() error
}

const DefaultListLimit = 20

// ClampLimit bounds a caller supplied page size.
func ClampLimit(limit int) int {
	if limit <= 0 {
		return DefaultListLimit
	}
	if limit > 200 {
		return 200
	}
	return limit
}

// ListParams filters the opportunities a Browser returns. Zero values match everything.
type ListParams struct {
	Query    string
	Country  string
	Province string
	Category models.Category
	Priority models.Priority
	MinScore int
	RunID    string
	Limit    int
	Offset   int
}

type ListResult struct {
	Opportunities []models.Opportunity `json:"opportunities"`
	Total         int                  `json:"total"`
	Limit         int                  `json:"limit"`
	Offset        int                  `json:"offset"`
}

// Overview is the headline count of everything stored.
type Overview struct {
	Total      int            `json:"total"`
	Sources    int            `json:"sources"`
	ByPriority map[string]int `json:"by_priority"`
	ByCategory map[string]int `json:"by_category"`
}

// Browser is implemented by the SQL backends, which can query stored leads.
type Browser interface {
	ListOpportunities(ctx context.Context, params ListParams) (ListResult, error)
	Overview(ctx context.Context) (Overview, error)
}
