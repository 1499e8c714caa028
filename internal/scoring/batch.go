package scoring

import (
	"context"

	"golang.org/x/sync/errgroup"

	"github.com/david/childcare-leads/internal/models"
)

// PriorityCounts is the batch histogram of priority bands.
type PriorityCounts struct {
	Critical int `json:"critical"`
	High     int `json:"high"`
	Medium   int `json:"medium"`
	Low      int `json:"low"`
}

func (p *PriorityCounts) add(priority models.Priority) {
	switch priority {
	case models.PriorityCritical:
		p.Critical++
	case models.PriorityHigh:
		p.High++
	case models.PriorityMedium:
		p.Medium++
	default:
		p.Low++
	}
}

type BatchResult struct {
	Records    []models.Opportunity
	Priorities PriorityCounts
	Fallbacks  int
	// FallbackReasons holds one entry per fallback, in record order.
	FallbackReasons []string
}

// BatchScore scores records with up to concurrency workers. Output order
// matches input order. The first fatal outcome cancels the batch.
func BatchScore(ctx context.Context, scorer Scorer, records []models.Opportunity, concurrency int) (BatchResult, error) {
	if concurrency < 1 {
		concurrency = 1
	}

	outcomes := make([]Outcome, len(records))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(concurrency)
	for i, rec := range records {
		g.Go(func() error {
			out := scorer.Score(gctx, rec)
			outcomes[i] = out
			if out.Kind == OutcomeFatal {
				return out.Err
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return BatchResult{}, err
	}

	res := BatchResult{Records: make([]models.Opportunity, 0, len(records))}
	for _, out := range outcomes {
		res.Records = append(res.Records, out.Record)
		res.Priorities.add(out.Record.Priority)
		if out.Kind == OutcomeFallback {
			res.Fallbacks++
			res.FallbackReasons = append(res.FallbackReasons, out.Reason)
		}
	}
	return res, nil
}
