package main

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/david/childcare-leads/internal/app"
	"github.com/david/childcare-leads/internal/auth"
	"github.com/david/childcare-leads/internal/models"
	"github.com/david/childcare-leads/internal/report"
)

func newFetchCmd(c *cli) *cobra.Command {
	var (
		source string
		limit  int
	)

	cmd := &cobra.Command{
		Use:   "fetch",
		Short: "Fetch one source and print its normalized records",
		Long:  "Fetch, normalize and validate one source. Nothing is scored, saved or sent.",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := c.openApp(cmd.Context(), false, true)
			if err != nil {
				return err
			}
			defer a.Close()

			prev, err := a.Pipeline.Preview(cmd.Context(), source)
			out := cmd.OutOrStdout()
			if prev.Status.Name != "" {
				printSources(out, []models.SourceStatus{prev.Status})
			}
			if err != nil {
				return err
			}
			printLeads(out, fmt.Sprintf("%s: %d records", source, len(prev.Records)), prev.Records, false, limit)
			fmt.Fprintf(out, "rejected: %d, duplicates: %d\n", prev.Rejected, prev.Duplicates.Total())
			for _, e := range prev.Errors[:min(len(prev.Errors), 5)] {
				fmt.Fprintf(out, "  %s\n", e)
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&source, "source", "", "source id, e.g. ontario, bc, acecqa [REQUIRED]")
	cmd.Flags().IntVar(&limit, "limit", 20, "rows to print (0 prints all)")
	_ = cmd.MarkFlagRequired("source")
	return cmd
}

// readRawRecords accepts either a JSON array of records or {"records": [...]}.
func readRawRecords(path string) ([]models.RawRecord, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	data = bytes.TrimSpace(data)
	if len(data) == 0 {
		return nil, errors.New("empty input file")
	}

	var raws []models.RawRecord
	if data[0] == '[' {
		err = json.Unmarshal(data, &raws)
	} else {
		var wrapped struct {
			Records []models.RawRecord `json:"records"`
		}
		err = json.Unmarshal(data, &wrapped)
		raws = wrapped.Records
	}
	if err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	return raws, nil
}

func newScoreCmd(c *cli) *cobra.Command {
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "score <file.json>",
		Short: "Score records from a JSON file",
		Long:  "Normalize, validate and score raw records read from a file. Nothing is saved or sent.",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			raws, err := readRawRecords(args[0])
			if err != nil {
				return err
			}

			a, err := c.openApp(cmd.Context(), false, true)
			if err != nil {
				return err
			}
			defer a.Close()

			rep, err := a.Pipeline.Score(cmd.Context(), raws)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			if asJSON {
				enc := json.NewEncoder(out)
				enc.SetIndent("", "  ")
				return enc.Encode(rep)
			}
			printLeads(out, fmt.Sprintf("%d scored", len(rep.Records)), report.SortByScore(rep.Records, true), true, 0)
			fmt.Fprintf(out, "critical: %d, high: %d, medium: %d, low: %d, rejected: %d, ai fallbacks: %d\n",
				rep.Priorities.Critical, rep.Priorities.High, rep.Priorities.Medium, rep.Priorities.Low,
				rep.Rejected, rep.Fallbacks)
			for _, e := range rep.Errors {
				fmt.Fprintf(out, "  %s\n", e)
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&asJSON, "json", false, "print the full result as JSON")
	return cmd
}

func newCheckRunsCmd(c *cli) *cobra.Command {
	var limit int

	cmd := &cobra.Command{
		Use:   "check-runs",
		Short: "List the most recent pipeline runs",
		RunE: func(cmd *cobra.Command, args []string) error {
			st, err := app.OpenStore(cmd.Context(), c.cfg, c.logger)
			if err != nil {
				return err
			}
			defer st.Close()

			runs, err := st.ListRuns(cmd.Context(), limit)
			if err != nil {
				return err
			}
			if len(runs) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "no runs recorded")
				return nil
			}
			printRuns(cmd.OutOrStdout(), runs)
			return nil
		},
	}

	cmd.Flags().IntVar(&limit, "limit", 10, "number of runs to show")
	return cmd
}

func sampleLead(now time.Time) models.Opportunity {
	capacity := 80
	return models.Opportunity{
		Name:             "Test Daycare",
		City:             "Toronto",
		Province:         "Ontario",
		Country:          models.CountryCanada,
		Capacity:         &capacity,
		Type:             "new",
		LicenseStatus:    "issued",
		Phone:            "(416) 123-4567",
		DiscoveredDate:   now.Format("2006-01-02"),
		Source:           "leads test-notify",
		SourceURL:        "https://example.com",
		AIScore:          92,
		Priority:         models.PriorityCritical,
		CapacityScore:    30,
		LocationScore:    40,
		StageScore:       22,
		ScoringMethod:    models.ScoringRuleBased,
		AIRecommendation: "This is a test message, no action needed.",
	}
}

func newTestNotifyCmd(c *cli) *cobra.Command {
	var channel string

	cmd := &cobra.Command{
		Use:   "test-notify",
		Short: "Send a sample alert and summary to each configured channel",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			now := time.Now().In(c.cfg.Location())
			lead := sampleLead(now)
			summary := report.BuildDailySummary([]models.Opportunity{lead}, []models.SourceStatus{
				{Name: "Ontario Open Data", Status: models.SourceStatusOK, Count: 1},
			}, c.cfg.SheetURL, now)

			t := newTable(cmd.OutOrStdout(), "Notification test")
			t.AppendHeader(table.Row{"Channel", "Critical", "Summary"})
			failed := false
			tried := 0
			for _, ch := range app.Channels(c.cfg) {
				if channel != "" && !strings.EqualFold(channel, ch.Name()) {
					continue
				}
				tried++
				if !ch.Enabled() {
					t.AppendRow(table.Row{ch.Name(), "not configured", "not configured"})
					failed = true
					continue
				}
				critical := result(ch.SendCritical(ctx, lead, ""))
				sum := result(ch.SendSummary(ctx, summary))
				if critical != "ok" || sum != "ok" {
					failed = true
					c.logger.Warn("test notification failed", zap.String("channel", ch.Name()), zap.String("critical", critical), zap.String("summary", sum))
				}
				t.AppendRow(table.Row{ch.Name(), critical, sum})
			}
			if tried == 0 {
				return errors.New("no notification channel enabled")
			}
			t.Render()
			if failed {
				return errors.New("some notifications failed")
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&channel, "channel", "", "only test this channel (pushplus or dingtalk)")
	return cmd
}

func result(err error) string {
	if err != nil {
		return err.Error()
	}
	return "ok"
}

func newTokenCmd(c *cli) *cobra.Command {
	var (
		subject string
		ttl     time.Duration
	)

	cmd := &cobra.Command{
		Use:   "token",
		Short: "Print an admin API token signed with ADMIN_SECRET",
		RunE: func(cmd *cobra.Command, args []string) error {
			if strings.TrimSpace(c.cfg.AdminSecret) == "" {
				return errors.New("ADMIN_SECRET is not set")
			}
			svc, err := auth.NewService(c.cfg.AdminSecret, c.logger)
			if err != nil {
				return err
			}
			token, exp, err := svc.WithTTL(ttl).IssueToken(subject)
			if err != nil {
				return err
			}
			c.logger.Info("token issued", zap.String("subject", subject), zap.Time("expires_at", exp))
			fmt.Fprintln(cmd.OutOrStdout(), token)
			return nil
		},
	}

	cmd.Flags().StringVar(&subject, "subject", "cli", "token subject")
	cmd.Flags().DurationVar(&ttl, "ttl", auth.DefaultTokenTTL, "token lifetime")
	return cmd
}
