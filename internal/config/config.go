// Package config loads runtime settings from the environment, an optional
// .env or yaml file and built-in defaults.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"
	_ "time/tzdata"

	"github.com/spf13/viper"

	"github.com/david/childcare-leads/internal/ai"
	"github.com/david/childcare-leads/internal/scoring"
)

const (
	BackendXLSX     = "xlsx"
	BackendPostgres = "postgres"
	BackendSQLite   = "sqlite"
)

type Notifications struct {
	PushPlusToken           string `mapstructure:"pushplus_token"`
	PushPlusTopic           string `mapstructure:"pushplus_topic"`
	DingTalkWebhook         string `mapstructure:"dingtalk_webhook"`
	DingTalkSecret          string `mapstructure:"dingtalk_secret"`
	EnablePushPlus          bool   `mapstructure:"enable_pushplus"`
	EnableDingTalk          bool   `mapstructure:"enable_dingtalk"`
	EnableInstantAlerts     bool   `mapstructure:"enable_instant_alerts"`
	MaxInstantAlertsPerHour int    `mapstructure:"max_instant_alerts_per_hour"`
}

type AI struct {
	Enabled     bool   `mapstructure:"enable_claude_ai"`
	APIKey      string `mapstructure:"anthropic_api_key"`
	Model       string `mapstructure:"anthropic_model"`
	Concurrency int    `mapstructure:"ai_concurrency"`
}

type Scoring struct {
	Critical int `mapstructure:"critical_threshold"`
	High     int `mapstructure:"high_threshold"`
	Medium   int `mapstructure:"medium_threshold"`
	Low      int `mapstructure:"low_threshold"`
}

// Thresholds converts the configured cut-offs.
func (s Scoring) Thresholds() scoring.Thresholds {
	return scoring.Thresholds{Critical: s.Critical, High: s.High, Medium: s.Medium, Low: s.Low}
}

type Ingest struct {
	EnabledSources            []string `mapstructure:"enabled_sources"`
	SourcesFile               string   `mapstructure:"sources_file"`
	FetchTimeout              int      `mapstructure:"fetch_timeout"`
	MaxRetries                int      `mapstructure:"max_retries"`
	MaxRecordsPerRun          int      `mapstructure:"max_records_per_run"`
	CapacityCeiling           int      `mapstructure:"capacity_ceiling"`
	RejectImplausibleCapacity bool     `mapstructure:"reject_implausible_capacity"`
	FuzzyThreshold            int      `mapstructure:"fuzzy_threshold"`
	FuzzyScanLimit            int      `mapstructure:"fuzzy_scan_limit"`
}

type Storage struct {
	Backend      string `mapstructure:"store_backend"`
	WorkbookPath string `mapstructure:"workbook_path"`
	DatabaseURL  string `mapstructure:"database_url"`
	SQLitePath   string `mapstructure:"sqlite_path"`
	SheetURL     string `mapstructure:"google_sheet_url"`
}

type Server struct {
	Port        string `mapstructure:"port"`
	AdminSecret string `mapstructure:"admin_secret"`
	// CORSOrigins are allowed in addition to the local dev frontend.
	CORSOrigins []string `mapstructure:"cors_origins"`
}

type Config struct {
	Notifications `mapstructure:",squash"`
	AI            `mapstructure:",squash"`
	Scoring       `mapstructure:",squash"`
	Ingest        `mapstructure:",squash"`
	Storage       `mapstructure:",squash"`
	Server        `mapstructure:",squash"`

	DryRun    bool   `mapstructure:"dry_run"`
	Debug     bool   `mapstructure:"debug_mode"`
	LogLevel  string `mapstructure:"log_level"`
	LogFormat string `mapstructure:"log_format"`
	Timezone  string `mapstructure:"timezone"`
}

var defaults = map[string]any{
	"pushplus_token":              "",
	"pushplus_topic":              "",
	"dingtalk_webhook":            "",
	"dingtalk_secret":             "",
	"enable_pushplus":             true,
	"enable_dingtalk":             true,
	"enable_instant_alerts":       true,
	"max_instant_alerts_per_hour": 20,

	"enable_claude_ai":  true,
	"anthropic_api_key": "",
	"anthropic_model":   ai.DefaultModel,
	"ai_concurrency":    4,

	"critical_threshold": 90,
	"high_threshold":     85,
	"medium_threshold":   70,
	"low_threshold":      0,

	"enabled_sources":             "ontario,acecqa",
	"sources_file":                "",
	"fetch_timeout":               30,
	"max_retries":                 3,
	"max_records_per_run":         100,
	"capacity_ceiling":            500,
	"reject_implausible_capacity": true,
	"fuzzy_threshold":             90,
	"fuzzy_scan_limit":            1000,

	"store_backend":    BackendXLSX,
	"workbook_path":    "childcare_leads.xlsx",
	"database_url":     "",
	"sqlite_path":      "childcare_leads.db",
	"google_sheet_url": "",

	"port":         "8080",
	"admin_secret": "",
	"cors_origins": "",

	"dry_run":    false,
	"debug_mode": false,
	"log_level":  "info",
	"log_format": "console",
	"timezone":   "Asia/Shanghai",
}

func newViper() *viper.Viper {
	v := viper.New()
	v.AutomaticEnv()
	for key, value := range defaults {
		v.SetDefault(key, value)
	}
	return v
}

// Load reads settings. path may name a .env or yaml file; when empty a .env
// in the working directory is used if present. Environment variables win over
// the file.
func Load(path string) (*Config, error) {
	v := newViper()

	if path == "" {
		if _, err := os.Stat(".env"); err == nil {
			path = ".env"
		}
	}
	if path != "" {
		v.SetConfigFile(path)
		if ext := strings.ToLower(filepath.Ext(path)); ext == ".env" || filepath.Base(path) == ".env" {
			v.SetConfigType("env")
		}
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("config: failed to read %q: %w", path, err)
		}
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("config: failed to unmarshal: %w", err)
	}
	cfg.EnabledSources = splitList(v.GetString("enabled_sources"))
	cfg.CORSOrigins = splitOrigins(v.GetString("cors_origins"))
	cfg.LogLevel = strings.ToLower(cfg.LogLevel)
	cfg.LogFormat = strings.ToLower(cfg.LogFormat)
	cfg.Backend = strings.ToLower(cfg.Backend)
	return cfg, nil
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if p := strings.ToLower(strings.TrimSpace(part)); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// splitOrigins keeps case, since origins are compared verbatim.
func splitOrigins(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// Validate reports every configuration problem at once.
func (c *Config) Validate() error {
	var errs []error

	if err := c.Thresholds().Validate(); err != nil {
		errs = append(errs, err)
	}
	if !c.EnablePushPlus && !c.EnableDingTalk {
		errs = append(errs, errors.New("at least one notification channel (pushplus or dingtalk) must be enabled"))
	}
	if c.EnablePushPlus && c.PushPlusToken == "" {
		errs = append(errs, errors.New("pushplus is enabled but PUSHPLUS_TOKEN is not set"))
	}
	if c.EnableDingTalk && c.DingTalkWebhook == "" {
		errs = append(errs, errors.New("dingtalk is enabled but DINGTALK_WEBHOOK is not set"))
	}
	if c.AI.Enabled && c.APIKey == "" {
		errs = append(errs, errors.New("claude ai is enabled but ANTHROPIC_API_KEY is not set"))
	}

	switch c.Backend {
	case BackendXLSX:
		if c.WorkbookPath == "" {
			errs = append(errs, errors.New("WORKBOOK_PATH is required for the xlsx backend"))
		}
	case BackendSQLite:
		if c.SQLitePath == "" {
			errs = append(errs, errors.New("SQLITE_PATH is required for the sqlite backend"))
		}
	case BackendPostgres:
		if c.DatabaseURL == "" {
			errs = append(errs, errors.New("DATABASE_URL is required for the postgres backend"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown STORE_BACKEND %q", c.Backend))
	}

	if c.MaxRecordsPerRun <= 0 {
		errs = append(errs, fmt.Errorf("MAX_RECORDS_PER_RUN must be positive, got %d", c.MaxRecordsPerRun))
	}
	if c.FetchTimeout <= 0 {
		errs = append(errs, fmt.Errorf("FETCH_TIMEOUT must be positive, got %d", c.FetchTimeout))
	}
	if c.MaxRetries < 0 {
		errs = append(errs, fmt.Errorf("MAX_RETRIES cannot be negative, got %d", c.MaxRetries))
	}
	if c.LogFormat != "json" && c.LogFormat != "console" {
		errs = append(errs, fmt.Errorf("LOG_FORMAT must be json or console, got %q", c.LogFormat))
	}
	if _, err := time.LoadLocation(c.Timezone); err != nil {
		errs = append(errs, fmt.Errorf("invalid TIMEZONE %q: %w", c.Timezone, err))
	}

	return errors.Join(errs...)
}

// Location returns the configured time zone, UTC when it cannot be loaded.
func (c *Config) Location() *time.Location {
	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		return time.UTC
	}
	return loc
}

// FetchTimeoutDuration is FETCH_TIMEOUT in seconds.
func (c *Config) FetchTimeoutDuration() time.Duration {
	return time.Duration(c.FetchTimeout) * time.Second
}

// Redacted lists the settings worth printing at startup, with secrets masked.
func (c *Config) Redacted() map[string]any {
	return map[string]any{
		"store_backend":         c.Backend,
		"enabled_sources":       strings.Join(c.EnabledSources, ","),
		"enable_pushplus":       c.EnablePushPlus,
		"enable_dingtalk":       c.EnableDingTalk,
		"enable_claude_ai":      c.AI.Enabled,
		"enable_instant_alerts": c.EnableInstantAlerts,
		"anthropic_api_key":     mask(c.APIKey),
		"pushplus_token":        mask(c.PushPlusToken),
		"dingtalk_secret":       mask(c.DingTalkSecret),
		"dry_run":               c.DryRun,
		"timezone":              c.Timezone,
	}
}

func mask(s string) string {
	if s == "" {
		return ""
	}
	if len(s) <= 4 {
		return "****"
	}
	return s[:2] + "****" + s[len(s)-2:]
}
