package ingest

import (
	"context"
	"io"
	"time"

	"github.com/david/childcare-leads/internal/models"
)

// FetchedDocument represents the raw result of a fetch operation.
type FetchedDocument struct {
	URL         string
	StatusCode  int
	ContentType string
	Body        io.ReadCloser
	FetchedAt   time.Time
	Headers     map[string][]string
}

// Fetcher retrieves raw content from a URL.
type Fetcher interface {
	Fetch(ctx context.Context, url string) (*FetchedDocument, error)
}

// SourceResult is what one strategy produced for one source.
type SourceResult struct {
	Records []models.RawRecord
	Status  models.SourceStatus
}
