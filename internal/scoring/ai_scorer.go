package scoring

import (
	"context"
	"errors"
	"math"
	"strings"

	"go.uber.org/zap"

	"github.com/david/childcare-leads/internal/ai"
	"github.com/david/childcare-leads/internal/models"
)

var ErrAIDisabled = errors.New("ai scoring disabled")

// AIScorer asks a language model for the score and falls back to the rule
// scorer for that record whenever the model is unavailable or its reply is unusable.
type AIScorer struct {
	completer ai.Completer
	fallback  RuleScorer
	logger    *zap.Logger
}

// NewAIScorer accepts a nil completer; every record then falls back.
func NewAIScorer(completer ai.Completer, fallback RuleScorer, logger *zap.Logger) *AIScorer {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &AIScorer{completer: completer, fallback: fallback, logger: logger}
}

func (s *AIScorer) Enabled() bool {
	return s.completer != nil
}

func (s *AIScorer) Score(ctx context.Context, o models.Opportunity) Outcome {
	if err := ctx.Err(); err != nil {
		return Outcome{Record: o, Kind: OutcomeFatal, Err: err}
	}
	if s.completer == nil {
		return s.fallBack(o, ErrAIDisabled.Error())
	}

	assessment, err := ai.Assess(ctx, s.completer, o)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return Outcome{Record: o, Kind: OutcomeFatal, Err: ctxErr}
		}
		s.logger.Warn("ai scoring failed, using rules", zap.String("name", o.Name), zap.Error(err))
		return s.fallBack(o, err.Error())
	}

	return Outcome{Record: s.apply(o, assessment), Kind: OutcomeOK}
}

func (s *AIScorer) fallBack(o models.Opportunity, reason string) Outcome {
	return Outcome{Record: s.fallback.ScoreRecord(o), Kind: OutcomeFallback, Reason: reason}
}

// apply writes the model's verdict. A reply with a breakdown is totalled from
// its clamped sub-scores plus the rule bonus; its own score is ignored. Priority
// always comes from the configured thresholds.
func (s *AIScorer) apply(o models.Opportunity, a *ai.Assessment) models.Opportunity {
	o.CapacityScore, o.LocationScore, o.StageScore = 0, 0, 0
	score := clamp(roundScore(a.ScoreValue()), 0, 100)
	if a.HasSubScores() {
		o.CapacityScore = clamp(subScore(a.CapacityScore), 0, maxCapacityScore)
		o.LocationScore = clamp(subScore(a.LocationScore), 0, maxLocationScore)
		o.StageScore = clamp(subScore(a.StageScore), 0, maxStageScore)
		score = clamp(o.CapacityScore+o.LocationScore+o.StageScore+Bonus(o.Name, o.Notes), 0, 100)
	}
	o.AIScore = score
	o.Priority = s.fallback.Thresholds.Priority(score)
	o.ScoringMethod = models.ScoringAI
	o.AIReasoning = strings.TrimSpace(a.Reasoning)
	o.AIRecommendation = strings.TrimSpace(a.Recommendation)
	return o
}

func subScore(f *float64) int {
	if f == nil {
		return 0
	}
	return roundScore(*f)
}

// Analyze returns the model's free-text report on a scored lead.
func (s *AIScorer) Analyze(ctx context.Context, o models.Opportunity) (string, error) {
	if s.completer == nil {
		return "", ErrAIDisabled
	}
	return ai.Analyze(ctx, s.completer, o)
}

func roundScore(f float64) int {
	if math.IsNaN(f) {
		return 0
	}
	return int(math.Round(f))
}
