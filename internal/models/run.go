package models

import "time"

const (
	RunStatusRunning   = "running"
	RunStatusCompleted = "completed"
	RunStatusFailed    = "failed"
)

// Run is one pipeline execution as recorded in the runs table.
type Run struct {
	ID         string     `json:"id" db:"id"`
	Status     string     `json:"status" db:"status"`
	Sources    string     `json:"sources" db:"sources"`
	DryRun     bool       `json:"dry_run" db:"dry_run"`
	Fetched    int        `json:"fetched" db:"fetched"`
	Valid      int        `json:"valid" db:"valid"`
	Rejected   int        `json:"rejected" db:"rejected"`
	Duplicates int        `json:"duplicates" db:"duplicates"`
	Scored     int        `json:"scored" db:"scored"`
	Saved      int        `json:"saved" db:"saved"`
	Critical   int        `json:"critical" db:"critical"`
	High       int        `json:"high" db:"high"`
	Fallbacks  int        `json:"fallbacks" db:"fallbacks"`
	Error      string     `json:"error,omitempty" db:"error"`
	StartedAt  time.Time  `json:"started_at" db:"started_at"`
	FinishedAt *time.Time `json:"finished_at,omitempty" db:"finished_at"`
}

// Duration is zero while the run is still going.
func (r Run) Duration() time.Duration {
	if r.FinishedAt == nil {
		return 0
	}
	return r.FinishedAt.Sub(r.StartedAt)
}
