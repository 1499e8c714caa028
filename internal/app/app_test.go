package app

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/david/childcare-leads/internal/config"
	"github.com/david/childcare-leads/internal/db"
	"github.com/david/childcare-leads/internal/ingest"
	"github.com/david/childcare-leads/internal/models"
	"github.com/david/childcare-leads/internal/scoring"
	"github.com/david/childcare-leads/internal/sheets"
)

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	cfg, err := config.Load("")
	require.NoError(t, err)
	dir := t.TempDir()
	cfg.AI.Enabled = false
	cfg.EnablePushPlus = false
	cfg.EnableDingTalk = false
	cfg.Backend = config.BackendSQLite
	cfg.SQLitePath = filepath.Join(dir, "leads.db")
	cfg.WorkbookPath = filepath.Join(dir, "leads.xlsx")
	cfg.EnabledSources = []string{"ontario"}
	return cfg
}

type stubStrategy struct {
	records []models.RawRecord
}

func (s stubStrategy) Fetch(ctx context.Context, src ingest.SourceConfig, env ingest.Env) (ingest.SourceResult, error) {
	return ingest.SourceResult{
		Records: s.records,
		Status:  models.SourceStatus{Name: src.Name, Status: models.SourceStatusOK, Count: len(s.records)},
	}, nil
}

func TestOpenStoreBackends(t *testing.T) {
	ctx := context.Background()
	cfg := testConfig(t)

	st, err := OpenStore(ctx, cfg, nil)
	require.NoError(t, err)
	assert.IsType(t, &db.SQLiteStore{}, st)
	require.NoError(t, st.Close())

	cfg.Backend = config.BackendXLSX
	st, err = OpenStore(ctx, cfg, nil)
	require.NoError(t, err)
	assert.IsType(t, &sheets.Workbook{}, st)
	require.NoError(t, st.Close())

	cfg.Backend = "mongo"
	_, err = OpenStore(ctx, cfg, nil)
	assert.Error(t, err)
}

func TestNewScorer(t *testing.T) {
	cfg := testConfig(t)

	s, err := NewScorer(cfg, nil)
	require.NoError(t, err)
	assert.IsType(t, scoring.RuleScorer{}, s)

	cfg.AI.Enabled = true
	cfg.APIKey = ""
	s, err = NewScorer(cfg, nil)
	require.NoError(t, err)
	require.IsType(t, &scoring.AIScorer{}, s)
	assert.False(t, s.(*scoring.AIScorer).Enabled())

	cfg.APIKey = "sk-test"
	s, err = NewScorer(cfg, nil)
	require.NoError(t, err)
	assert.True(t, s.(*scoring.AIScorer).Enabled())
}

func TestAppRunUsesEnabledSources(t *testing.T) {
	ctx := context.Background()
	cfg := testConfig(t)

	a, err := New(ctx, cfg, nil, true)
	require.NoError(t, err)
	defer a.Close()

	strategies := ingest.NewStrategyFactory()
	strategies.Register("ontario_csv", stubStrategy{records: []models.RawRecord{{
		Name: "Sunny Days", Address: "12 King St", City: "Toronto", Province: "ON",
		Country: "Canada", Capacity: "88", LicenseNumber: "ON-1", Source: "Ontario", Type: "new",
	}}})
	a.Pipeline.Strategies = strategies

	rep, err := a.Run(ctx, nil, false)
	require.NoError(t, err)
	assert.Equal(t, "ontario", rep.Run.Sources)
	assert.Equal(t, 1, rep.Run.Saved)

	got, err := a.Store.GetRun(ctx, rep.Run.ID)
	require.NoError(t, err)
	assert.Equal(t, models.RunStatusCompleted, got.Status)

	again, err := a.Run(ctx, nil, false)
	require.NoError(t, err)
	assert.Equal(t, 1, again.Duplicates.License, "second run dedupes against the store")
	assert.Zero(t, again.Run.Saved)
}

func TestAppWithoutStore(t *testing.T) {
	a, err := New(context.Background(), testConfig(t), nil, false)
	require.NoError(t, err)
	assert.Nil(t, a.Store)
	assert.Nil(t, a.Pipeline.Store)
	assert.NoError(t, a.Close())
}

func TestChannels(t *testing.T) {
	cfg := testConfig(t)
	assert.Empty(t, Channels(cfg))

	cfg.EnablePushPlus = true
	cfg.EnableDingTalk = true
	cfg.DingTalkWebhook = "https://oapi.dingtalk.com/robot/send?access_token=x"
	channels := Channels(cfg)
	require.Len(t, channels, 2)
	assert.Equal(t, "pushplus", channels[0].Name())
	assert.False(t, channels[0].Enabled())
	assert.Equal(t, "dingtalk", channels[1].Name())
	assert.True(t, channels[1].Enabled())
}
