package notify

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/david/childcare-leads/internal/metrics"
	"github.com/david/childcare-leads/internal/models"
	"github.com/david/childcare-leads/internal/report"
)

const DefaultMaxInstantAlertsPerHour = 20

// Analyzer writes the deep-dive text attached to critical alerts.
type Analyzer interface {
	Analyze(ctx context.Context, o models.Opportunity) (string, error)
}

type ManagerConfig struct {
	InstantAlerts           bool
	MaxInstantAlertsPerHour int
	DryRun                  bool
}

// Manager fans notifications out to every enabled channel.
type Manager struct {
	channels []Channel
	cfg      ManagerConfig
	limiter  *rate.Limiter
	analyzer Analyzer
	logger   *zap.Logger
}

// Stats reports what ProcessScoredLeads delivered.
type Stats struct {
	Total            int `json:"total"`
	CriticalNotified int `json:"critical_notified"`
	CriticalSkipped  int `json:"critical_skipped"`
	HighNotified     int `json:"high_notified"`
}

func NewManager(cfg ManagerConfig, logger *zap.Logger, channels ...Channel) *Manager {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.MaxInstantAlertsPerHour <= 0 {
		cfg.MaxInstantAlertsPerHour = DefaultMaxInstantAlertsPerHour
	}
	limit := rate.Every(time.Hour / time.Duration(cfg.MaxInstantAlertsPerHour))
	return &Manager{
		channels: channels,
		cfg:      cfg,
		limiter:  rate.NewLimiter(limit, cfg.MaxInstantAlertsPerHour),
		logger:   logger,
	}
}

// WithAnalyzer attaches an analyzer used for critical alerts.
func (m *Manager) WithAnalyzer(a Analyzer) *Manager {
	m.analyzer = a
	return m
}

// ForRun returns a manager for one run. A dry run gets a copy that only logs;
// the copy shares the hourly alert budget.
func (m *Manager) ForRun(dryRun bool) *Manager {
	if !dryRun || m.cfg.DryRun {
		return m
	}
	cp := *m
	cp.cfg.DryRun = true
	return &cp
}

func (m *Manager) enabled() []Channel {
	var out []Channel
	for _, ch := range m.channels {
		if ch.Enabled() {
			out = append(out, ch)
		}
	}
	return out
}

// deliver runs send on every enabled channel and reports whether any succeeded.
func (m *Manager) deliver(kind string, channels []Channel, send func(Channel) error) bool {
	delivered := false
	for _, ch := range channels {
		if m.cfg.DryRun {
			m.logger.Info("dry run, notification not sent", zap.String("channel", ch.Name()), zap.String("kind", kind))
			metrics.NotificationsTotal.WithLabelValues(ch.Name(), kind, "dry_run").Inc()
			delivered = true
			continue
		}
		if err := send(ch); err != nil {
			m.logger.Error("notification failed", zap.String("channel", ch.Name()), zap.String("kind", kind), zap.Error(err))
			metrics.NotificationsTotal.WithLabelValues(ch.Name(), kind, "error").Inc()
			continue
		}
		metrics.NotificationsTotal.WithLabelValues(ch.Name(), kind, "ok").Inc()
		delivered = true
	}
	return delivered
}

// NotifyCritical sends one urgent alert, subject to the hourly cap.
func (m *Manager) NotifyCritical(ctx context.Context, lead models.Opportunity) bool {
	if !m.cfg.InstantAlerts {
		return false
	}
	if !m.limiter.Allow() {
		m.logger.Warn("instant alert limit reached, skipping", zap.String("name", lead.Name))
		return false
	}

	analysis := ""
	if m.analyzer != nil && !m.cfg.DryRun {
		text, err := m.analyzer.Analyze(ctx, lead)
		if err != nil && !errors.Is(err, context.Canceled) {
			m.logger.Debug("lead analysis unavailable", zap.Error(err))
		}
		analysis = text
	}
	return m.deliver("critical", m.enabled(), func(ch Channel) error {
		return ch.SendCritical(ctx, lead, analysis)
	})
}

func (m *Manager) NotifyHighBatch(ctx context.Context, leads []models.Opportunity) bool {
	if !m.cfg.InstantAlerts || len(leads) == 0 {
		return false
	}
	return m.deliver("high_batch", m.enabled(), func(ch Channel) error {
		return ch.SendHighBatch(ctx, leads)
	})
}

func (m *Manager) SendDailySummary(ctx context.Context, summary report.DailySummary) bool {
	return m.deliver("summary", m.enabled(), func(ch Channel) error {
		return ch.SendSummary(ctx, summary)
	})
}

// SendErrorAlert only reaches channels that accept operator alerts.
func (m *Manager) SendErrorAlert(ctx context.Context, source, message string) bool {
	var reporters []Channel
	for _, ch := range m.enabled() {
		if _, ok := ch.(ErrorReporter); ok {
			reporters = append(reporters, ch)
		}
	}
	return m.deliver("error", reporters, func(ch Channel) error {
		return ch.(ErrorReporter).SendError(ctx, source, message)
	})
}

// ProcessScoredLeads alerts each Critical lead individually and the High leads as one batch.
func (m *Manager) ProcessScoredLeads(ctx context.Context, leads []models.Opportunity) Stats {
	stats := Stats{Total: len(leads)}
	critical := report.FilterByPriority(leads, models.PriorityCritical)
	high := report.FilterByPriority(leads, models.PriorityHigh)

	m.logger.Info("processing notifications", zap.Int("critical", len(critical)), zap.Int("high", len(high)))

	for _, lead := range critical {
		if m.NotifyCritical(ctx, lead) {
			stats.CriticalNotified++
		} else {
			stats.CriticalSkipped++
		}
	}
	if m.NotifyHighBatch(ctx, high) {
		stats.HighNotified = len(high)
	}
	return stats
}
