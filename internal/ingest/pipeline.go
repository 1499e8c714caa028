package ingest

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/david/childcare-leads/internal/dedup"
	"github.com/david/childcare-leads/internal/metrics"
	"github.com/david/childcare-leads/internal/models"
	"github.com/david/childcare-leads/internal/notify"
	"github.com/david/childcare-leads/internal/report"
	"github.com/david/childcare-leads/internal/scoring"
	"github.com/david/childcare-leads/internal/store"
)

const (
	DefaultMaxRecordsPerRun = 100
	DefaultAIConcurrency    = 4

	loggedValidationErrors = 5
	cleanupTimeout         = 15 * time.Second
)

// PipelineConfig holds the run limits.
type PipelineConfig struct {
	MaxRecordsPerRun int
	AIConcurrency    int
	SheetURL         string
}

// Pipeline runs fetch, normalize, validate, dedupe, score, persist and notify.
type Pipeline struct {
	Registry   *Registry
	Strategies *StrategyFactory
	Env        Env
	Normalizer *Normalizer
	Validator  Validator
	Dedup      dedup.Options
	Scorer     scoring.Scorer
	// Store may be nil, in which case nothing is persisted and dedup runs
	// against the current batch only.
	Store store.Store
	// Notifier may be nil.
	Notifier *notify.Manager
	Config   PipelineConfig
	Logger   *zap.Logger
	Now      func() time.Time
}

// RunOptions selects what one run does.
type RunOptions struct {
	// Sources lists source ids; empty means every enabled source.
	Sources []string
	DryRun  bool
	// RunID is generated when empty.
	RunID string
}

// RunReport summarizes a finished run.
type RunReport struct {
	Run              models.Run                `json:"run"`
	Sources          []models.SourceStatus     `json:"sources"`
	Stats            report.Stats              `json:"stats"`
	Duplicates       models.DuplicateBreakdown `json:"duplicates"`
	Priorities       scoring.PriorityCounts    `json:"priorities"`
	Notifications    notify.Stats              `json:"notifications"`
	ValidationErrors []string                  `json:"validation_errors,omitempty"`
	Records          []models.Opportunity      `json:"records"`
}

func (p *Pipeline) logger() *zap.Logger {
	if p.Logger != nil {
		return p.Logger
	}
	return zap.NewNop()
}

func (p *Pipeline) now() time.Time {
	if p.Now != nil {
		return p.Now()
	}
	return time.Now()
}

// Run executes one pipeline pass. The returned error is only set for fatal
// failures; per-source fetch errors are reported in the source statuses.
func (p *Pipeline) Run(ctx context.Context, opts RunOptions) (RunReport, error) {
	start := p.now()
	runID := opts.RunID
	if runID == "" {
		runID = uuid.NewString()
	}
	log := p.logger().With(zap.String("run_id", runID))
	persist := p.Store != nil && !opts.DryRun
	notifier := p.Notifier
	if notifier != nil {
		notifier = notifier.ForRun(opts.DryRun)
	}

	rep := RunReport{Run: models.Run{
		ID:        runID,
		Status:    models.RunStatusRunning,
		Sources:   strings.Join(opts.Sources, ","),
		DryRun:    opts.DryRun,
		StartedAt: start,
	}}
	if persist {
		if err := p.Store.StartRun(ctx, rep.Run); err != nil {
			log.Warn("failed to record run start", zap.Error(err))
		}
	}

	err := p.run(ctx, opts, log, persist, notifier, &rep)

	finished := p.now()
	rep.Run.FinishedAt = &finished
	rep.Run.Status = models.RunStatusCompleted
	if err != nil {
		rep.Run.Status = models.RunStatusFailed
		rep.Run.Error = err.Error()
		log.Error("pipeline run failed", zap.Error(err))
		if notifier != nil {
			cctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), cleanupTimeout)
			notifier.SendErrorAlert(cctx, "pipeline", err.Error())
			cancel()
		}
	}
	if persist {
		cctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), cleanupTimeout)
		if ferr := p.Store.FinishRun(cctx, rep.Run); ferr != nil {
			log.Warn("failed to record run finish", zap.Error(ferr))
		}
		cancel()
	}
	metrics.RunSeconds.Observe(finished.Sub(start).Seconds())

	log.Info("pipeline run finished",
		zap.String("status", rep.Run.Status),
		zap.Int("fetched", rep.Run.Fetched),
		zap.Int("valid", rep.Run.Valid),
		zap.Int("duplicates", rep.Run.Duplicates),
		zap.Int("scored", rep.Run.Scored),
		zap.Int("saved", rep.Run.Saved),
		zap.Duration("elapsed", finished.Sub(start)))
	return rep, err
}

func (p *Pipeline) run(ctx context.Context, opts RunOptions, log *zap.Logger, persist bool, notifier *notify.Manager, rep *RunReport) error {
	if p.Registry == nil || p.Strategies == nil || p.Scorer == nil {
		return errors.New("pipeline is missing a registry, strategies or scorer")
	}
	sources, err := p.Registry.Select(opts.Sources)
	if err != nil {
		return err
	}
	if rep.Run.Sources == "" {
		ids := make([]string, 0, len(sources))
		for _, s := range sources {
			ids = append(ids, s.ID)
		}
		rep.Run.Sources = strings.Join(ids, ",")
	}

	raws, statuses, err := p.FetchAll(ctx, sources)
	rep.Sources = statuses
	if err != nil {
		return err
	}
	rep.Run.Fetched = len(raws)
	metrics.RecordsTotal.WithLabelValues("fetched").Add(float64(len(raws)))

	processed := Process(p.normalizer(), p.Validator, raws)
	rep.Run.Valid = len(processed.Valid)
	rep.Run.Rejected = processed.Rejected
	rep.ValidationErrors = processed.Errors
	metrics.RecordsTotal.WithLabelValues("valid").Add(float64(len(processed.Valid)))
	metrics.RecordsTotal.WithLabelValues("rejected").Add(float64(processed.Rejected))
	if processed.Rejected > 0 {
		log.Warn("records failed validation", zap.Int("rejected", processed.Rejected))
		for _, msg := range processed.Errors[:min(len(processed.Errors), loggedValidationErrors)] {
			log.Warn("validation error", zap.String("detail", msg))
		}
	}
	for _, w := range processed.Warnings {
		log.Debug("validation warning", zap.String("detail", w))
	}

	var seeds dedup.SeedProvider
	if p.Store != nil {
		seeds = p.Store
	}
	deduped := dedup.New(seeds, log, p.Dedup).RemoveDuplicates(ctx, processed.Valid)
	rep.Duplicates = deduped.Duplicates
	rep.Run.Duplicates = deduped.Duplicates.Total()
	metrics.RecordsTotal.WithLabelValues("unique").Add(float64(len(deduped.Records)))
	metrics.DuplicatesTotal.WithLabelValues(string(dedup.ReasonLicense)).Add(float64(deduped.Duplicates.License))
	metrics.DuplicatesTotal.WithLabelValues(string(dedup.ReasonNameAddress)).Add(float64(deduped.Duplicates.NameAddress))
	metrics.DuplicatesTotal.WithLabelValues(string(dedup.ReasonFuzzyAddress)).Add(float64(deduped.Duplicates.FuzzyAddress))

	records := deduped.Records
	limit := p.Config.MaxRecordsPerRun
	if limit <= 0 {
		limit = DefaultMaxRecordsPerRun
	}
	if len(records) > limit {
		log.Info("truncating batch", zap.Int("unique", len(records)), zap.Int("limit", limit))
		records = records[:limit]
	}

	concurrency := p.Config.AIConcurrency
	if concurrency <= 0 {
		concurrency = DefaultAIConcurrency
	}
	scored, err := scoring.BatchScore(ctx, p.Scorer, records, concurrency)
	if err != nil {
		return fmt.Errorf("scoring: %w", err)
	}
	rep.Records = scored.Records
	rep.Priorities = scored.Priorities
	rep.Stats = report.Aggregate(scored.Records)
	rep.Run.Scored = len(scored.Records)
	rep.Run.Critical = scored.Priorities.Critical
	rep.Run.High = scored.Priorities.High
	rep.Run.Fallbacks = scored.Fallbacks
	metrics.RecordsTotal.WithLabelValues("scored").Add(float64(len(scored.Records)))
	metrics.ScoringFallbacksTotal.Add(float64(scored.Fallbacks))
	if scored.Fallbacks > 0 {
		log.Warn("ai scoring fell back to rules", zap.Int("count", scored.Fallbacks), zap.Strings("reasons", scored.FallbackReasons))
	}

	if persist {
		saved, err := p.Store.AppendOpportunities(ctx, rep.Run.ID, report.Classify(scored.Records))
		if err != nil {
			return fmt.Errorf("save opportunities: %w", err)
		}
		rep.Run.Saved = saved
		if err := p.Store.UpdateSourceStatus(ctx, statuses); err != nil {
			log.Warn("failed to update source monitoring", zap.Error(err))
		}
		if err := p.Store.AppendDailyStats(ctx, p.now().Format(isoDate), rep.Stats, sourceHealth(statuses)); err != nil {
			log.Warn("failed to append daily stats", zap.Error(err))
		}
	}

	if notifier != nil {
		rep.Notifications = notifier.ProcessScoredLeads(ctx, scored.Records)
		summary := report.BuildDailySummary(scored.Records, statuses, p.Config.SheetURL, p.now())
		notifier.SendDailySummary(ctx, summary)
	}
	return ctx.Err()
}

// FetchAll runs every source's strategy in order. A failing source is
// recorded in its status and does not stop the others.
func (p *Pipeline) FetchAll(ctx context.Context, sources []SourceConfig) ([]models.RawRecord, []models.SourceStatus, error) {
	var (
		raws     []models.RawRecord
		statuses []models.SourceStatus
	)
	for _, src := range sources {
		if err := ctx.Err(); err != nil {
			return raws, statuses, err
		}
		res, err := p.FetchSource(ctx, src)
		statuses = append(statuses, res.Status)
		if err != nil {
			if ctx.Err() != nil {
				return raws, statuses, ctx.Err()
			}
			continue
		}
		raws = append(raws, res.Records...)
	}
	return raws, statuses, nil
}

// FetchSource runs one source's strategy and records its timing.
func (p *Pipeline) FetchSource(ctx context.Context, src SourceConfig) (SourceResult, error) {
	log := p.logger().With(zap.String("source", src.ID))
	start := time.Now()

	if f, ok := p.Env.Fetcher.(*RateLimitedFetcher); ok {
		f.Configure(src.URL, src.Fetch)
	}
	env := p.Env
	if env.Logger == nil {
		env.Logger = log
	}
	if env.Now == nil {
		env.Now = p.Now
	}

	strategy, err := p.Strategies.Get(src.Strategy)
	if err != nil {
		log.Error("unknown strategy", zap.String("strategy", src.Strategy))
		return SourceResult{Status: models.SourceStatus{
			Name:      src.Name,
			Status:    models.SourceStatusError,
			Error:     err.Error(),
			CheckedAt: p.now(),
		}}, err
	}

	res, err := strategy.Fetch(ctx, src, env)
	if res.Status.Name == "" {
		res.Status.Name = src.Name
	}
	if res.Status.CheckedAt.IsZero() {
		res.Status.CheckedAt = p.now()
	}
	status := models.SourceStatusOK
	if err != nil {
		status = models.SourceStatusError
		res.Status.Status = status
		if res.Status.Error == "" {
			res.Status.Error = err.Error()
		}
		log.Error("source fetch failed", zap.Error(err))
	}
	metrics.SourceFetchSeconds.WithLabelValues(src.ID, status).Observe(time.Since(start).Seconds())
	return res, err
}

// sourceHealth is "ok" when every source answered, "partial" otherwise.
func sourceHealth(statuses []models.SourceStatus) string {
	for _, s := range statuses {
		if s.Status != models.SourceStatusOK {
			return "partial"
		}
	}
	return "ok"
}
