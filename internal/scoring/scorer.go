// Package scoring assigns a 0-100 lead score and a priority band to each opportunity.
package scoring

import (
	"context"

	"github.com/david/childcare-leads/internal/models"
)

type OutcomeKind int

const (
	// OutcomeOK means the scorer's primary method produced the record.
	OutcomeOK OutcomeKind = iota
	// OutcomeFallback means the rule-based scorer stood in; Reason says why.
	OutcomeFallback
	// OutcomeFatal means scoring was abandoned; Err is set and Record is unscored.
	OutcomeFatal
)

func (k OutcomeKind) String() string {
	switch k {
	case OutcomeOK:
		return "ok"
	case OutcomeFallback:
		return "fallback"
	case OutcomeFatal:
		return "fatal"
	}
	return "unknown"
}

type Outcome struct {
	Record models.Opportunity
	Kind   OutcomeKind
	Reason string
	Err    error
}

type Scorer interface {
	Score(ctx context.Context, o models.Opportunity) Outcome
}
