package scoring

import (
	"errors"
	"fmt"

	"github.com/david/childcare-leads/internal/models"
)

var ErrInvalidThresholds = errors.New("invalid priority thresholds")

// Thresholds are the minimum scores for each priority band. Low is kept for
// configuration symmetry; every score below Medium is Low.
type Thresholds struct {
	Critical int `json:"critical" mapstructure:"critical"`
	High     int `json:"high" mapstructure:"high"`
	Medium   int `json:"medium" mapstructure:"medium"`
	Low      int `json:"low" mapstructure:"low"`
}

func DefaultThresholds() Thresholds {
	return Thresholds{Critical: 90, High: 85, Medium: 70, Low: 0}
}

// Validate requires critical > high > medium >= low.
func (t Thresholds) Validate() error {
	if t.Critical > t.High && t.High > t.Medium && t.Medium >= t.Low {
		return nil
	}
	return fmt.Errorf("%w: need critical > high > medium >= low, got %d/%d/%d/%d",
		ErrInvalidThresholds, t.Critical, t.High, t.Medium, t.Low)
}

func (t Thresholds) Priority(score int) models.Priority {
	switch {
	case score >= t.Critical:
		return models.PriorityCritical
	case score >= t.High:
		return models.PriorityHigh
	case score >= t.Medium:
		return models.PriorityMedium
	}
	return models.PriorityLow
}

func clamp(v, lo, hi int) int {
	return min(max(v, lo), hi)
}
