package main

import (
	"fmt"
	"io"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"

	"github.com/david/childcare-leads/internal/ingest"
	"github.com/david/childcare-leads/internal/models"
)

func newTable(out io.Writer, title string) table.Writer {
	t := table.NewWriter()
	t.SetOutputMirror(out)
	t.SetStyle(table.StyleLight)
	if title != "" {
		t.SetTitle(title)
	}
	return t
}

func printRunReport(out io.Writer, rep ingest.RunReport) {
	if len(rep.Sources) > 0 {
		printSources(out, rep.Sources)
	}

	t := newTable(out, "Run "+rep.Run.ID)
	t.AppendHeader(table.Row{"Status", "Fetched", "Valid", "Rejected", "Duplicates", "Scored", "Saved", "Critical", "High", "Fallbacks", "Duration"})
	t.AppendRow(table.Row{
		rep.Run.Status, rep.Run.Fetched, rep.Run.Valid, rep.Run.Rejected, rep.Run.Duplicates,
		rep.Run.Scored, rep.Run.Saved, rep.Run.Critical, rep.Run.High, rep.Run.Fallbacks,
		runDuration(rep.Run),
	})
	t.Render()

	if rep.Run.Error != "" {
		fmt.Fprintf(out, "error: %s\n", rep.Run.Error)
	}
	if rep.Run.DryRun {
		fmt.Fprintln(out, "dry run: nothing was saved or sent")
	}
}

func printSources(out io.Writer, statuses []models.SourceStatus) {
	t := newTable(out, "Sources")
	t.AppendHeader(table.Row{"Source", "Type", "Status", "New", "Total", "Response", "Error"})
	for _, s := range statuses {
		t.AppendRow(table.Row{s.Name, s.Type, s.Status, s.Count, s.Total, s.ResponseTime.Round(time.Millisecond).String(), s.Error})
	}
	t.Render()
}

// printLeads renders at most limit records; limit <= 0 shows all of them.
func printLeads(out io.Writer, title string, records []models.Opportunity, scored bool, limit int) {
	t := newTable(out, title)
	header := table.Row{"#", "Name", "City", "Province", "Capacity", "License", "Type"}
	if scored {
		header = append(header, "Score", "Priority", "Method")
	}
	t.AppendHeader(header)

	for i, o := range records {
		if limit > 0 && i == limit {
			t.AppendFooter(table.Row{"", fmt.Sprintf("... %d more", len(records)-limit)})
			break
		}
		row := table.Row{i + 1, o.Name, o.City, o.Province, o.CapacityString(), o.LicenseNumber, o.Type}
		if scored {
			row = append(row, o.AIScore, o.Priority, o.ScoringMethod)
		}
		t.AppendRow(row)
	}
	t.Render()
}

func printRuns(out io.Writer, runs []models.Run) {
	t := newTable(out, "")
	t.AppendHeader(table.Row{"Run", "Status", "Sources", "Fetched", "Saved", "Critical", "Dry Run", "Duration", "Started At"})
	for _, r := range runs {
		t.AppendRow(table.Row{
			shortID(r.ID), r.Status, r.Sources, r.Fetched, r.Saved, r.Critical, r.DryRun,
			runDuration(r), r.StartedAt.Local().Format("2006-01-02 15:04:05"),
		})
	}
	t.Render()
}

func runDuration(r models.Run) string {
	if r.FinishedAt == nil {
		return "Running..."
	}
	return r.Duration().Round(time.Second).String()
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
