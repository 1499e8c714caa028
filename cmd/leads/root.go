package main

import (
	"context"
	"fmt"
	"strings"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/david/childcare-leads/internal/app"
	"github.com/david/childcare-leads/internal/config"
	"github.com/david/childcare-leads/internal/logging"
)

// cli carries the global flags and what PersistentPreRunE built from them.
type cli struct {
	configPath string
	logLevel   string
	logFormat  string

	cfg    *config.Config
	logger *zap.Logger
}

func newRootCmd() *cobra.Command {
	c := &cli{}

	cmd := &cobra.Command{
		Use:   "leads",
		Short: "Child-care licensing lead pipeline",
		Long: "leads fetches child-care licensing registers from Canada and Australia,\n" +
			"scores new centres as sales leads and notifies the team about the best ones.",
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return c.init()
		},
		PersistentPostRun: func(cmd *cobra.Command, args []string) {
			if c.logger != nil {
				_ = c.logger.Sync()
			}
		},
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	pf := cmd.PersistentFlags()
	pf.StringVarP(&c.configPath, "config", "c", "", "config file, .env or yaml (default: ./.env when present)")
	pf.StringVar(&c.logLevel, "log-level", "", "log level override (debug, info, warn, error)")
	pf.StringVar(&c.logFormat, "log-format", "", "log format override (json, console)")

	cmd.AddCommand(
		newRunCmd(c),
		newFetchCmd(c),
		newScoreCmd(c),
		newCheckRunsCmd(c),
		newTestNotifyCmd(c),
		newTokenCmd(c),
	)
	return cmd
}

func (c *cli) init() error {
	cfg, err := config.Load(c.configPath)
	if err != nil {
		return err
	}
	switch {
	case c.logLevel != "":
		cfg.LogLevel = c.logLevel
	case cfg.Debug:
		cfg.LogLevel = "debug"
	}
	if c.logFormat != "" {
		cfg.LogFormat = c.logFormat
	}

	logger, err := logging.New(cfg.LogLevel, cfg.LogFormat)
	if err != nil {
		return err
	}
	c.cfg = cfg
	c.logger = logger
	c.logger.Debug("configuration loaded", zap.Any("config", cfg.Redacted()))
	return nil
}

// openApp builds the application. In a dry run a store that cannot be opened
// only costs the dedup history.
func (c *cli) openApp(ctx context.Context, withStore, dryRun bool) (*app.App, error) {
	a, err := app.New(ctx, c.cfg, c.logger, withStore)
	if err == nil || !withStore || !dryRun {
		return a, err
	}
	c.logger.Warn("store unavailable, dry run continues without history", zap.Error(err))
	return app.New(ctx, c.cfg, c.logger, false)
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

func newRunCmd(c *cli) *cobra.Command {
	var (
		dryRun  bool
		sources string
	)

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run the pipeline once",
		Long:  "Fetch every selected source, then validate, deduplicate, score, save and notify.",
		RunE: func(cmd *cobra.Command, args []string) error {
			dry := dryRun || c.cfg.DryRun
			if err := c.cfg.Validate(); err != nil {
				if !dry {
					return fmt.Errorf("invalid configuration: %w", err)
				}
				c.logger.Warn("configuration problems ignored in dry run", zap.Error(err))
			}

			a, err := c.openApp(cmd.Context(), true, dry)
			if err != nil {
				return err
			}
			defer a.Close()

			rep, err := a.Run(cmd.Context(), splitList(sources), dry)
			printRunReport(cmd.OutOrStdout(), rep)
			return err
		},
	}

	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "score and report without saving or sending notifications")
	cmd.Flags().StringVar(&sources, "sources", "", "comma-separated source ids (default: ENABLED_SOURCES)")
	return cmd
}
