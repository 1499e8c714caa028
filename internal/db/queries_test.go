package db

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/david/childcare-leads/internal/models"
	"github.com/david/childcare-leads/internal/report"
	"github.com/david/childcare-leads/internal/store"
)

func TestBuildListWhere(t *testing.T) {
	tests := []struct {
		name     string
		params   store.ListParams
		contains []string
		args     []any
	}{
		{name: "empty", params: store.ListParams{}, args: nil},
		{
			name:     "query and country are case-insensitive",
			params:   store.ListParams{Query: " Sunny ", Country: "Canada"},
			contains: []string{"LOWER(name) LIKE ?", "LOWER(country) LIKE ?"},
			args:     []any{"%sunny%", "%sunny%", "%canada%"},
		},
		{
			name: "exact filters",
			params: store.ListParams{
				Province: "ON", Category: models.CategoryNewProject,
				Priority: models.PriorityCritical, MinScore: 80, RunID: "r1",
			},
			contains: []string{"province = ?", "category = ?", "priority = ?", "ai_score >= ?", "run_id = ?"},
			args:     []any{"ON", "new_project", "Critical", 80, "r1"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			where, args := buildListWhere(tt.params)
			assert.True(t, strings.HasPrefix(where, "WHERE 1=1"))
			for _, c := range tt.contains {
				assert.Contains(t, where, c)
			}
			assert.Equal(t, tt.args, args)
			assert.Equal(t, len(args), strings.Count(where, "?"))
		})
	}
}

func TestDollarRebind(t *testing.T) {
	got := dollar("SELECT 1 FROM t WHERE a = ? AND b = ?")
	assert.Equal(t, "SELECT 1 FROM t WHERE a = $1 AND b = $2", got)
}

func TestStatementPlaceholdersMatchArgs(t *testing.T) {
	now := time.Date(2024, 6, 1, 8, 0, 0, 0, time.UTC)
	args, err := opportunityArgs("r1", models.CategoryNewProject, models.Opportunity{Name: "A"})
	require.NoError(t, err)
	assert.Equal(t, strings.Count(insertOpportunitySQL, "?"), len(args))

	assert.Equal(t, strings.Count(upsertSourceStatusSQL, "?"), len(sourceStatusArgs(models.SourceStatus{}, now)))
	assert.Equal(t, strings.Count(insertDailyStatsSQL, "?"), len(dailyStatsArgs("d", report.Stats{}, "ok")))
	assert.Equal(t, strings.Count(insertRunSQL, "?"), len(runArgs(models.Run{})))
	assert.Equal(t, strings.Count(finishRunSQL, "?"), len(finishArgs(models.Run{})))
}

func TestFinishArgsEndsWithID(t *testing.T) {
	args := finishArgs(models.Run{ID: "abc", Status: models.RunStatusCompleted})
	assert.Equal(t, models.RunStatusCompleted, args[0])
	assert.Equal(t, "abc", args[len(args)-1])
}

func TestSourceStatusArgsLastSuccess(t *testing.T) {
	now := time.Date(2024, 6, 1, 8, 0, 0, 0, time.UTC)

	ok := sourceStatusArgs(models.SourceStatus{Name: "Ontario", Status: models.SourceStatusOK}, now)
	require.NotNil(t, ok[8])
	assert.Equal(t, now, *ok[8].(*time.Time))
	assert.Equal(t, now, ok[7])

	failed := sourceStatusArgs(models.SourceStatus{Name: "Ontario", Status: models.SourceStatusError}, now)
	assert.Nil(t, failed[8].(*time.Time))
}

func TestClassifiedArgsOrderAndCategory(t *testing.T) {
	all, err := classifiedArgs("r1", report.Classified{
		NewProjects: []models.Opportunity{{Name: "new"}},
		Sales:       []models.Opportunity{{Name: "sale"}},
		Tenders:     []models.Opportunity{{Name: "tender"}},
	})
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.Equal(t, "new_project", all[0][2])
	assert.Equal(t, "sale", all[1][2])
	assert.Equal(t, "tender", all[2][2])
}
