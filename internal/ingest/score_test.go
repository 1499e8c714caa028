package ingest

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/david/childcare-leads/internal/models"
)

func TestPipelineScore(t *testing.T) {
	p := testPipeline(nil, nil, nil)

	rep, err := p.Score(context.Background(), []models.RawRecord{
		torontoRecord("Sunny Kids", "L-1", "12 King St", 90),
		torontoRecord("Sunny Kids", "L-1", "12 King St", 90),
		{Name: "No Country", Source: "manual"},
	})
	require.NoError(t, err)

	// Score does not deduplicate.
	require.Len(t, rep.Records, 2)
	assert.Equal(t, 1, rep.Rejected)
	require.Len(t, rep.Errors, 1)
	assert.Contains(t, rep.Errors[0], "missing required field: country")
	assert.Equal(t, 2, rep.Priorities.Critical)
	assert.Equal(t, 2, rep.Stats.Total)
	assert.Zero(t, rep.Fallbacks)
}

func TestPipelineScoreWithoutScorer(t *testing.T) {
	p := testPipeline(nil, nil, nil)
	p.Scorer = nil
	_, err := p.Score(context.Background(), nil)
	assert.Error(t, err)
}

func TestPipelinePreview(t *testing.T) {
	p := testPipeline(nil, nil, map[string]FetcherStrategy{
		"stub_ontario": stubStrategy{records: []models.RawRecord{
			torontoRecord("Sunny Kids", "L-1", "12 King St", 90),
			torontoRecord("Sunny Kids Two", "L-1", "40 Front St", 60),
			{Name: "", Country: "Canada", Source: "Ontario Open Data"},
		}},
		"stub_acecqa": stubStrategy{err: errors.New("register offline")},
	})

	prev, err := p.Preview(context.Background(), "ontario")
	require.NoError(t, err)
	require.Len(t, prev.Records, 1)
	assert.Equal(t, "Sunny Kids", prev.Records[0].Name)
	assert.Zero(t, prev.Records[0].AIScore)
	assert.Equal(t, 1, prev.Rejected)
	assert.Equal(t, 1, prev.Duplicates.License)
	assert.Equal(t, models.SourceStatusOK, prev.Status.Status)

	prev, err = p.Preview(context.Background(), "acecqa")
	require.Error(t, err)
	assert.Equal(t, models.SourceStatusError, prev.Status.Status)

	_, err = p.Preview(context.Background(), "quebec")
	assert.Error(t, err)
}
