package ingest

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/david/childcare-leads/internal/models"
)

// maxDownloadBytes bounds a single register download.
const maxDownloadBytes = 64 << 20

// LinkFinder locates a downloadable file on a landing page.
type LinkFinder interface {
	FindDownloadLink(ctx context.Context, pageURL string) (string, error)
}

// Env is the shared machinery strategies fetch with.
type Env struct {
	Fetcher Fetcher
	Links   LinkFinder
	Logger  *zap.Logger
	Now     func() time.Time
}

func (e Env) now() time.Time {
	if e.Now != nil {
		return e.Now()
	}
	return time.Now()
}

func (e Env) logger() *zap.Logger {
	if e.Logger != nil {
		return e.Logger
	}
	return zap.NewNop()
}

// FetcherStrategy turns one configured source into raw records. A returned
// error means the source produced nothing; the status still describes it.
type FetcherStrategy interface {
	Fetch(ctx context.Context, config SourceConfig, env Env) (SourceResult, error)
}

// StrategyFactory maps strategy IDs (from sources.yaml) to implementations.
type StrategyFactory struct {
	strategies map[string]FetcherStrategy
}

func NewStrategyFactory() *StrategyFactory {
	return &StrategyFactory{
		strategies: make(map[string]FetcherStrategy),
	}
}

// DefaultStrategyFactory registers every built-in source strategy.
func DefaultStrategyFactory() *StrategyFactory {
	f := NewStrategyFactory()
	f.Register("ontario_csv", OntarioStrategy{})
	f.Register("bc_csv", BCStrategy{})
	f.Register("acecqa_register", ACECQAStrategy{})
	return f
}

func (f *StrategyFactory) Register(id string, strategy FetcherStrategy) {
	f.strategies[id] = strategy
}

func (f *StrategyFactory) Get(id string) (FetcherStrategy, error) {
	strategy, ok := f.strategies[id]
	if !ok {
		return nil, fmt.Errorf("strategy not found: %s", id)
	}
	return strategy, nil
}

// download fetches url and reads the whole body.
func download(ctx context.Context, f Fetcher, url string) ([]byte, error) {
	doc, err := f.Fetch(ctx, url)
	if err != nil {
		return nil, err
	}
	defer doc.Body.Close()

	data, err := io.ReadAll(io.LimitReader(doc.Body, maxDownloadBytes+1))
	if err != nil {
		return nil, fmt.Errorf("read body: %w", err)
	}
	if len(data) > maxDownloadBytes {
		return nil, fmt.Errorf("download exceeds %d bytes", maxDownloadBytes)
	}
	return data, nil
}

// fetchTable downloads the first URL that answers and decodes it.
func fetchTable(ctx context.Context, env Env, urls ...string) (*Table, string, error) {
	var errs []error
	for _, u := range urls {
		if u == "" {
			continue
		}
		data, err := download(ctx, env.Fetcher, u)
		if err != nil {
			if ctx.Err() != nil {
				return nil, "", ctx.Err()
			}
			env.logger().Warn("download failed", zap.String("url", u), zap.Error(err))
			errs = append(errs, fmt.Errorf("%s: %w", u, err))
			continue
		}
		t, err := DecodeTable(data)
		if err != nil {
			return nil, "", fmt.Errorf("decode %s: %w", u, err)
		}
		return t, tableType(data), nil
	}
	if len(errs) == 0 {
		return nil, "", errors.New("no source url configured")
	}
	return nil, "", errors.Join(errs...)
}

func tableType(data []byte) string {
	if bytes.HasPrefix(data, zipMagic) {
		return "XLSX"
	}
	return "CSV"
}

// rowMapper converts one data row; false skips the row.
type rowMapper func(row []string) (models.RawRecord, bool)

// runTableSource is the common fetch-decode-map flow for tabular sources.
// columns resolves the header once and returns the per-row mapper.
func runTableSource(ctx context.Context, config SourceConfig, env Env, urls []string, columns func(*Table) rowMapper) (SourceResult, error) {
	start := env.now()
	res := SourceResult{Status: models.SourceStatus{Name: config.Name, Type: "CSV"}}

	t, kind, err := fetchTable(ctx, env, urls...)
	res.Status.ResponseTime = env.now().Sub(start)
	res.Status.CheckedAt = env.now()
	if err != nil {
		res.Status.Status = models.SourceStatusError
		res.Status.Error = err.Error()
		return res, err
	}
	res.Status.Type = kind
	res.Status.Total = len(t.Rows)

	mapRow := columns(t)
	for _, row := range t.Rows {
		rec, ok := mapRow(row)
		if !ok {
			continue
		}
		res.Records = append(res.Records, rec)
	}
	res.Status.Status = models.SourceStatusOK
	res.Status.Count = len(res.Records)

	env.logger().Info("source fetched",
		zap.String("source", config.ID),
		zap.Int("rows", res.Status.Total),
		zap.Int("records", res.Status.Count),
		zap.Duration("elapsed", res.Status.ResponseTime))
	return res, nil
}

// capacityCell drops thousands separators so "1,200" stays one number.
func capacityCell(v string) any {
	v = strings.ReplaceAll(strings.TrimSpace(v), ",", "")
	if v == "" {
		return nil
	}
	return v
}

// appendPostcode adds the postal code to an address that does not already carry it.
func appendPostcode(address, postcode string) string {
	if postcode == "" || strings.Contains(address, postcode) {
		return address
	}
	if address == "" {
		return postcode
	}
	return address + ", " + postcode
}

// joinNotes joins the labelled non-empty parts with "; ".
func joinNotes(parts ...[2]string) string {
	var out []string
	for _, p := range parts {
		if strings.TrimSpace(p[1]) != "" {
			out = append(out, p[0]+": "+strings.TrimSpace(p[1]))
		}
	}
	return strings.Join(out, "; ")
}
