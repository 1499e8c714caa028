package ingest

import (
	"context"
	"errors"
	"fmt"

	"github.com/david/childcare-leads/internal/dedup"
	"github.com/david/childcare-leads/internal/models"
	"github.com/david/childcare-leads/internal/report"
	"github.com/david/childcare-leads/internal/scoring"
)

// ScoreReport is the outcome of scoring records outside a full run.
type ScoreReport struct {
	Records    []models.Opportunity   `json:"records"`
	Rejected   int                    `json:"rejected"`
	Errors     []string               `json:"errors,omitempty"`
	Priorities scoring.PriorityCounts `json:"priorities"`
	Fallbacks  int                    `json:"fallbacks"`
	Stats      report.Stats           `json:"stats"`
}

func (p *Pipeline) normalizer() *Normalizer {
	if p.Normalizer != nil {
		return p.Normalizer
	}
	return &Normalizer{Now: p.Now}
}

// Score normalizes, validates and scores raws. Nothing is deduplicated,
// persisted or notified.
func (p *Pipeline) Score(ctx context.Context, raws []models.RawRecord) (ScoreReport, error) {
	if p.Scorer == nil {
		return ScoreReport{}, errors.New("pipeline has no scorer")
	}
	processed := Process(p.normalizer(), p.Validator, raws)
	rep := ScoreReport{Rejected: processed.Rejected, Errors: processed.Errors}

	concurrency := p.Config.AIConcurrency
	if concurrency <= 0 {
		concurrency = DefaultAIConcurrency
	}
	scored, err := scoring.BatchScore(ctx, p.Scorer, processed.Valid, concurrency)
	if err != nil {
		return rep, fmt.Errorf("scoring: %w", err)
	}
	rep.Records = scored.Records
	rep.Priorities = scored.Priorities
	rep.Fallbacks = scored.Fallbacks
	rep.Stats = report.Aggregate(scored.Records)
	return rep, nil
}

// Preview is one source fetched, normalized, validated and deduplicated
// against itself.
type Preview struct {
	Status     models.SourceStatus       `json:"status"`
	Records    []models.Opportunity      `json:"records"`
	Rejected   int                       `json:"rejected"`
	Errors     []string                  `json:"errors,omitempty"`
	Duplicates models.DuplicateBreakdown `json:"duplicates"`
}

// Preview fetches a single source without scoring or persisting anything.
func (p *Pipeline) Preview(ctx context.Context, sourceID string) (Preview, error) {
	if p.Registry == nil || p.Strategies == nil {
		return Preview{}, errors.New("pipeline is missing a registry or strategies")
	}
	src, ok := p.Registry.Get(sourceID)
	if !ok {
		return Preview{}, fmt.Errorf("unknown source: %s", sourceID)
	}

	res, err := p.FetchSource(ctx, src)
	out := Preview{Status: res.Status}
	if err != nil {
		return out, err
	}

	processed := Process(p.normalizer(), p.Validator, res.Records)
	out.Rejected = processed.Rejected
	out.Errors = processed.Errors

	deduped := dedup.New(nil, p.logger(), p.Dedup).RemoveDuplicates(ctx, processed.Valid)
	out.Records = deduped.Records
	out.Duplicates = deduped.Duplicates
	return out, nil
}
