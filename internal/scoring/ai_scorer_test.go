package scoring

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/david/childcare-leads/internal/models"
)

type fakeCompleter struct {
	reply string
	err   error
	calls atomic.Int32
}

func (f *fakeCompleter) Complete(context.Context, string, string, int64) (string, error) {
	f.calls.Add(1)
	return f.reply, f.err
}

func sampleLead() models.Opportunity {
	return models.Opportunity{Name: "Maple Kids", City: "Calgary", Country: models.CountryCanada, Capacity: intPtr(70), Type: "new"}
}

func TestAIScorerAppliesAssessment(t *testing.T) {
	fc := &fakeCompleter{reply: "```json\n{\"score\": 120, \"capacity_score\": 31, \"location_score\": 35, \"stage_score\": 30, \"priority\": \"Low\", \"reasoning\": \" big \", \"recommendation\": \"call\"}\n```"}
	s := NewAIScorer(fc, NewRuleScorer(DefaultThresholds()), nil)

	out := s.Score(context.Background(), sampleLead())
	require.Equal(t, OutcomeOK, out.Kind)
	assert.Equal(t, 95, out.Record.AIScore)
	assert.Equal(t, models.PriorityCritical, out.Record.Priority)
	assert.Equal(t, 30, out.Record.CapacityScore)
	assert.Equal(t, 35, out.Record.LocationScore)
	assert.Equal(t, 30, out.Record.StageScore)
	assert.Equal(t, models.ScoringAI, out.Record.ScoringMethod)
	assert.Equal(t, "big", out.Record.AIReasoning)
	assert.Equal(t, "call", out.Record.AIRecommendation)
}

func TestAIScorerTotalFollowsSubScores(t *testing.T) {
	tests := []struct {
		name     string
		reply    string
		lead     models.Opportunity
		want     int
		priority models.Priority
	}{
		{
			name:     "reply total lower than its parts",
			reply:    `{"score": 40, "capacity_score": 30, "location_score": 40, "stage_score": 30}`,
			lead:     sampleLead(),
			want:     100,
			priority: models.PriorityCritical,
		},
		{
			name:     "reply total higher than its parts",
			reply:    `{"score": 95, "capacity_score": 10, "location_score": 20, "stage_score": 10}`,
			lead:     sampleLead(),
			want:     40,
			priority: models.PriorityLow,
		},
		{
			name:     "partial breakdown plus bonus",
			reply:    `{"score": 10, "location_score": 40, "stage_score": -5}`,
			lead:     models.Opportunity{Name: "Community School Care", Country: models.CountryCanada},
			want:     45,
			priority: models.PriorityLow,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := NewAIScorer(&fakeCompleter{reply: tt.reply}, NewRuleScorer(DefaultThresholds()), nil)
			out := s.Score(context.Background(), tt.lead)
			require.Equal(t, OutcomeOK, out.Kind)
			r := out.Record
			assert.Equal(t, tt.want, r.AIScore)
			assert.Equal(t, tt.priority, r.Priority)
			assert.LessOrEqual(t, r.CapacityScore+r.LocationScore+r.StageScore, r.AIScore)
		})
	}
}

func TestAIScorerWithoutBreakdownLeavesSubScoresUnset(t *testing.T) {
	lead := sampleLead()
	lead.CapacityScore, lead.LocationScore, lead.StageScore = 30, 40, 30
	out := NewAIScorer(&fakeCompleter{reply: `{"score": 60}`}, NewRuleScorer(DefaultThresholds()), nil).Score(context.Background(), lead)
	assert.Equal(t, 60, out.Record.AIScore)
	assert.Zero(t, out.Record.CapacityScore+out.Record.LocationScore+out.Record.StageScore)
}

func TestAIScorerRoundsScore(t *testing.T) {
	fc := &fakeCompleter{reply: `{"score": 87.6}`}
	out := NewAIScorer(fc, NewRuleScorer(DefaultThresholds()), nil).Score(context.Background(), sampleLead())
	assert.Equal(t, 88, out.Record.AIScore)
	assert.Equal(t, models.PriorityHigh, out.Record.Priority)
}

func TestAIScorerFallsBack(t *testing.T) {
	rules := NewRuleScorer(DefaultThresholds())
	want := rules.ScoreRecord(sampleLead())

	tests := []struct {
		name      string
		completer *fakeCompleter
	}{
		{"transport error", &fakeCompleter{err: errors.New("503 overloaded")}},
		{"unparseable reply", &fakeCompleter{reply: "This lead looks promising!"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out := NewAIScorer(tt.completer, rules, nil).Score(context.Background(), sampleLead())
			assert.Equal(t, OutcomeFallback, out.Kind)
			assert.NotEmpty(t, out.Reason)
			assert.Equal(t, want, out.Record)
			assert.Equal(t, models.ScoringRuleBased, out.Record.ScoringMethod)
		})
	}
}

func TestAIScorerWithoutCompleter(t *testing.T) {
	s := NewAIScorer(nil, NewRuleScorer(DefaultThresholds()), nil)
	assert.False(t, s.Enabled())

	out := s.Score(context.Background(), sampleLead())
	assert.Equal(t, OutcomeFallback, out.Kind)
	assert.Equal(t, ErrAIDisabled.Error(), out.Reason)

	_, err := s.Analyze(context.Background(), sampleLead())
	assert.ErrorIs(t, err, ErrAIDisabled)
}

func TestAIScorerCancelledContextIsFatal(t *testing.T) {
	fc := &fakeCompleter{reply: `{"score": 90}`}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	out := NewAIScorer(fc, NewRuleScorer(DefaultThresholds()), nil).Score(ctx, sampleLead())
	assert.Equal(t, OutcomeFatal, out.Kind)
	assert.ErrorIs(t, out.Err, context.Canceled)
	assert.Equal(t, int32(0), fc.calls.Load())
}

func TestBatchScorePreservesOrder(t *testing.T) {
	records := []models.Opportunity{
		{Name: "a", City: "Toronto", Country: models.CountryCanada, Capacity: intPtr(90), Type: "new"},
		{Name: "b", Type: "other"},
		{Name: "c", City: "Perth", Country: models.CountryAustralia, Capacity: intPtr(65), Type: "sale"},
		{Name: "d", City: "Regina", Country: models.CountryCanada, Capacity: intPtr(30), Type: "new"},
	}
	res, err := BatchScore(context.Background(), NewRuleScorer(DefaultThresholds()), records, 3)
	require.NoError(t, err)

	names := []string{}
	for _, r := range res.Records {
		names = append(names, r.Name)
	}
	assert.Equal(t, []string{"a", "b", "c", "d"}, names)
	assert.Equal(t, PriorityCounts{Critical: 1, High: 1, Medium: 1, Low: 1}, res.Priorities)
	assert.Zero(t, res.Fallbacks)
}

func TestBatchScoreCountsFallbacks(t *testing.T) {
	s := NewAIScorer(&fakeCompleter{err: errors.New("down")}, NewRuleScorer(DefaultThresholds()), nil)
	res, err := BatchScore(context.Background(), s, []models.Opportunity{sampleLead(), sampleLead()}, 2)
	require.NoError(t, err)
	assert.Equal(t, 2, res.Fallbacks)
	assert.Len(t, res.FallbackReasons, 2)
}

func TestBatchScoreStopsOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	s := NewAIScorer(&fakeCompleter{reply: `{"score": 50}`}, NewRuleScorer(DefaultThresholds()), nil)
	_, err := BatchScore(ctx, s, []models.Opportunity{sampleLead()}, 1)
	assert.ErrorIs(t, err, context.Canceled)
}
