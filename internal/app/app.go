// Package app assembles the pipeline, store and notifiers from configuration.
package app

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/david/childcare-leads/internal/ai"
	"github.com/david/childcare-leads/internal/config"
	"github.com/david/childcare-leads/internal/db"
	"github.com/david/childcare-leads/internal/dedup"
	"github.com/david/childcare-leads/internal/ingest"
	"github.com/david/childcare-leads/internal/notify"
	"github.com/david/childcare-leads/internal/scoring"
	"github.com/david/childcare-leads/internal/sheets"
	"github.com/david/childcare-leads/internal/store"
)

// App owns every long-lived component of one process.
type App struct {
	Config   *config.Config
	Logger   *zap.Logger
	Store    store.Store
	Scorer   scoring.Scorer
	Notifier *notify.Manager
	Pipeline *ingest.Pipeline
}

// OpenStore opens the backend named by STORE_BACKEND.
func OpenStore(ctx context.Context, cfg *config.Config, logger *zap.Logger) (store.Store, error) {
	switch cfg.Backend {
	case config.BackendXLSX:
		return sheets.Open(cfg.WorkbookPath, logger)
	case config.BackendSQLite:
		return db.OpenSQLite(ctx, cfg.SQLitePath, logger)
	case config.BackendPostgres:
		return db.OpenPostgres(ctx, cfg.DatabaseURL, logger)
	}
	return nil, fmt.Errorf("unknown store backend %q", cfg.Backend)
}

// NewScorer returns the AI scorer when enabled and keyed, the rule scorer otherwise.
func NewScorer(cfg *config.Config, logger *zap.Logger) (scoring.Scorer, error) {
	rules := scoring.NewRuleScorer(cfg.Thresholds())
	if !cfg.AI.Enabled {
		return rules, nil
	}
	if cfg.APIKey == "" {
		logger.Warn("claude ai enabled without ANTHROPIC_API_KEY, scoring with rules")
		return scoring.NewAIScorer(nil, rules, logger), nil
	}
	client, err := ai.NewAnthropicClient(cfg.APIKey, cfg.Model)
	if err != nil {
		return nil, fmt.Errorf("anthropic client: %w", err)
	}
	return scoring.NewAIScorer(client, rules, logger), nil
}

// Channels returns the notification channels switched on in cfg.
func Channels(cfg *config.Config) []notify.Channel {
	var channels []notify.Channel
	if cfg.EnablePushPlus {
		channels = append(channels, notify.NewPushPlus(cfg.PushPlusToken, cfg.PushPlusTopic, cfg.SheetURL))
	}
	if cfg.EnableDingTalk {
		channels = append(channels, notify.NewDingTalk(cfg.DingTalkWebhook, cfg.DingTalkSecret, cfg.SheetURL))
	}
	return channels
}

// NewNotifier builds the channel manager. The analyzer is attached when the
// scorer can write analyses.
func NewNotifier(cfg *config.Config, scorer scoring.Scorer, logger *zap.Logger) *notify.Manager {
	channels := Channels(cfg)
	m := notify.NewManager(notify.ManagerConfig{
		InstantAlerts:           cfg.EnableInstantAlerts,
		MaxInstantAlertsPerHour: cfg.MaxInstantAlertsPerHour,
		DryRun:                  cfg.DryRun,
	}, logger, channels...)
	if a, ok := scorer.(*scoring.AIScorer); ok && a.Enabled() {
		m.WithAnalyzer(a)
	}
	return m
}

// NewPipeline wires the ingest pipeline over st, which may be nil.
func NewPipeline(cfg *config.Config, st store.Store, scorer scoring.Scorer, notifier *notify.Manager, logger *zap.Logger) (*ingest.Pipeline, error) {
	registry, err := ingest.LoadRegistry(cfg.SourcesFile)
	if err != nil {
		return nil, err
	}

	loc := cfg.Location()
	now := func() time.Time { return time.Now().In(loc) }

	fetchDefaults := ingest.FetchConfig{TimeoutSeconds: cfg.FetchTimeout, MaxRetries: cfg.MaxRetries}
	validator := ingest.NewValidator()
	validator.CapacityCeiling = cfg.CapacityCeiling
	validator.RejectImplausibleCapacity = cfg.RejectImplausibleCapacity

	return &ingest.Pipeline{
		Registry:   registry,
		Strategies: ingest.DefaultStrategyFactory(),
		Env: ingest.Env{
			Fetcher: ingest.NewRateLimitedFetcher(fetchDefaults, logger),
			Links:   ingest.CollyLinkFinderWithConfig(fetchDefaults, logger),
			Now:     now,
		},
		Normalizer: &ingest.Normalizer{Now: now},
		Validator:  validator,
		Dedup:      dedup.Options{FuzzyThreshold: cfg.FuzzyThreshold, FuzzyScanLimit: cfg.FuzzyScanLimit},
		Scorer:     scorer,
		Store:      st,
		Notifier:   notifier,
		Config: ingest.PipelineConfig{
			MaxRecordsPerRun: cfg.MaxRecordsPerRun,
			AIConcurrency:    cfg.AI.Concurrency,
			SheetURL:         cfg.SheetURL,
		},
		Logger: logger,
		Now:    now,
	}, nil
}

// New builds the whole application. withStore false skips opening storage,
// which is what a dry run without history needs.
func New(ctx context.Context, cfg *config.Config, logger *zap.Logger, withStore bool) (*App, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	a := &App{Config: cfg, Logger: logger}

	if withStore {
		st, err := OpenStore(ctx, cfg, logger)
		if err != nil {
			return nil, fmt.Errorf("open %s store: %w", cfg.Backend, err)
		}
		a.Store = st
	}

	scorer, err := NewScorer(cfg, logger)
	if err != nil {
		a.Close()
		return nil, err
	}
	a.Scorer = scorer
	a.Notifier = NewNotifier(cfg, scorer, logger)

	a.Pipeline, err = NewPipeline(cfg, a.Store, scorer, a.Notifier, logger)
	if err != nil {
		a.Close()
		return nil, err
	}
	return a, nil
}

// Run executes one pipeline pass. With no sources given, ENABLED_SOURCES applies.
func (a *App) Run(ctx context.Context, sources []string, dryRun bool) (ingest.RunReport, error) {
	if len(sources) == 0 {
		sources = a.Config.EnabledSources
	}
	return a.Pipeline.Run(ctx, ingest.RunOptions{
		Sources: sources,
		DryRun:  dryRun || a.Config.DryRun,
	})
}

func (a *App) Close() error {
	if a.Store == nil {
		return nil
	}
	return a.Store.Close()
}
