package ingest

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/url"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/gocolly/colly/v2"
	"go.uber.org/zap"
)

// ErrNoDownloadLink means the register page had no usable CSV or XLSX link.
var ErrNoDownloadLink = errors.New("no register download link found")

var (
	registerLinkKeywords = []string{"approved", "service", "register"}
	downloadExtensions   = []string{".csv", ".xlsx"}
)

// CollyLinkFinder visits a landing page with Colly and picks the register
// download link from its anchors.
type CollyLinkFinder struct {
	UserAgent      string
	MaxRetries     int
	RequestTimeout time.Duration
	DomainDelay    time.Duration
	MaxBodySize    int // bytes, 0 = unlimited

	logger *zap.Logger
}

// NewCollyLinkFinder creates a CollyLinkFinder with sensible defaults.
func NewCollyLinkFinder(logger *zap.Logger) *CollyLinkFinder {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &CollyLinkFinder{
		UserAgent:      userAgent,
		MaxRetries:     3,
		RequestTimeout: 30 * time.Second,
		DomainDelay:    1 * time.Second,
		MaxBodySize:    10 * 1024 * 1024, // 10MB
		logger:         logger,
	}
}

// CollyLinkFinderWithConfig creates a CollyLinkFinder from a FetchConfig.
func CollyLinkFinderWithConfig(cfg FetchConfig, logger *zap.Logger) *CollyLinkFinder {
	f := NewCollyLinkFinder(logger)
	if cfg.TimeoutSeconds > 0 {
		f.RequestTimeout = time.Duration(cfg.TimeoutSeconds) * time.Second
	}
	if cfg.RateLimitRPS > 0 {
		f.DomainDelay = time.Duration(float64(time.Second) / cfg.RateLimitRPS)
	}
	if cfg.MaxRetries > 0 {
		f.MaxRetries = cfg.MaxRetries
	}
	return f
}

func (f *CollyLinkFinder) buildCollector(ctx context.Context) *colly.Collector {
	c := colly.NewCollector(
		colly.UserAgent(f.UserAgent),
		colly.MaxBodySize(f.MaxBodySize),
		colly.AllowURLRevisit(),
		colly.DetectCharset(),
		colly.StdlibContext(ctx),
	)
	c.Limit(&colly.LimitRule{
		DomainGlob:  "*",
		Parallelism: 1,
		Delay:       f.DomainDelay,
	})
	c.SetRequestTimeout(f.RequestTimeout)
	return c
}

// FindDownloadLink returns the absolute URL of the register file linked from pageURL.
func (f *CollyLinkFinder) FindDownloadLink(ctx context.Context, pageURL string) (string, error) {
	c := f.buildCollector(ctx)

	var (
		link     string
		visitErr error
	)
	c.OnHTML("html", func(e *colly.HTMLElement) {
		link = PickRegisterLink(e.DOM, e.Request.AbsoluteURL)
	})
	c.OnError(func(r *colly.Response, err error) {
		retries, _ := r.Request.Ctx.GetAny("retries").(int)
		if retries < f.MaxRetries && ctx.Err() == nil && shouldRetryStatus(r.StatusCode) {
			r.Request.Ctx.Put("retries", retries+1)
			f.logger.Warn("register page fetch failed, retrying",
				zap.String("url", pageURL), zap.Int("attempt", retries+1), zap.Error(err))
			time.Sleep(time.Duration(retries+1) * time.Second)
			if rerr := r.Request.Retry(); rerr == nil {
				return
			}
		}
		visitErr = fmt.Errorf("fetch register page: %w", err)
	})

	err := c.Visit(pageURL)
	c.Wait()

	switch {
	case ctx.Err() != nil:
		return "", ctx.Err()
	case link != "":
		f.logger.Info("found register download link", zap.String("url", link))
		return link, nil
	case visitErr != nil:
		return "", visitErr
	case err != nil:
		return "", fmt.Errorf("visit failed: %w", err)
	}
	return "", ErrNoDownloadLink
}

// shouldRetryStatus treats transport failures (status 0) like retryable codes.
func shouldRetryStatus(code int) bool {
	return code == 0 || shouldRetry(nil, code)
}

// PickRegisterLink prefers an anchor whose text mentions csv together with an
// approved/service/register keyword, then falls back to any .csv or .xlsx href.
// resolve turns relative hrefs into absolute URLs.
func PickRegisterLink(doc *goquery.Selection, resolve func(string) string) string {
	type anchor struct{ href, text string }
	var anchors []anchor
	doc.Find("a[href]").Each(func(_ int, s *goquery.Selection) {
		href, _ := s.Attr("href")
		if href = strings.TrimSpace(href); href != "" {
			anchors = append(anchors, anchor{href: href, text: strings.ToLower(s.Text())})
		}
	})

	for _, a := range anchors {
		lowerHref := strings.ToLower(a.href)
		if !strings.Contains(lowerHref, ".csv") && !strings.Contains(a.text, "csv") {
			continue
		}
		for _, kw := range registerLinkKeywords {
			if strings.Contains(a.text, kw) {
				return resolve(a.href)
			}
		}
	}
	for _, a := range anchors {
		lowerHref := strings.ToLower(a.href)
		for _, ext := range downloadExtensions {
			if strings.Contains(lowerHref, ext) {
				return resolve(a.href)
			}
		}
	}
	return ""
}

// PickRegisterLinkHTML parses an HTML document and applies PickRegisterLink
// with hrefs resolved against base.
func PickRegisterLinkHTML(r io.Reader, base string) (string, error) {
	doc, err := goquery.NewDocumentFromReader(r)
	if err != nil {
		return "", fmt.Errorf("parse html: %w", err)
	}
	baseURL, err := url.Parse(base)
	if err != nil {
		return "", fmt.Errorf("invalid base url: %w", err)
	}
	return PickRegisterLink(doc.Selection, func(href string) string {
		ref, err := url.Parse(href)
		if err != nil {
			return href
		}
		return baseURL.ResolveReference(ref).String()
	}), nil
}
