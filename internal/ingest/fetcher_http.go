package ingest

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"net"
	"net/http"
	"net/netip"
	"net/url"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

const userAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36"

var blockedPrefixStrings = []string{
	"127.0.0.0/8",
	"10.0.0.0/8",
	"172.16.0.0/12",
	"192.168.0.0/16",
	"169.254.0.0/16",
	"::1/128",
	"fc00::/7",
	"fe80::/10",
}

var blockedPrefixes = func() []netip.Prefix {
	prefixes := make([]netip.Prefix, 0, len(blockedPrefixStrings))
	for _, s := range blockedPrefixStrings {
		if p, err := netip.ParsePrefix(s); err == nil {
			prefixes = append(prefixes, p)
		}
	}
	return prefixes
}()

// StatusError is returned for a non-200 response that was not retried away.
type StatusError struct {
	Code int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("unexpected status code: %d", e.Code)
}

// RateLimitedFetcher provides per-domain rate limiting, retries and timeouts.
type RateLimitedFetcher struct {
	// AllowPrivateNetworks disables the private address guard. Tests against
	// loopback servers need it.
	AllowPrivateNetworks bool
	// BaseBackoff is the first retry delay; it doubles per attempt.
	BaseBackoff time.Duration

	clients       map[string]*http.Client
	limiters      map[string]*rate.Limiter
	configs       map[string]FetchConfig
	defaultConfig FetchConfig
	logger        *zap.Logger
	mu            sync.RWMutex
}

// NewRateLimitedFetcher creates a new rate-limited fetcher with default config
func NewRateLimitedFetcher(defaultConfig FetchConfig, logger *zap.Logger) *RateLimitedFetcher {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &RateLimitedFetcher{
		BaseBackoff:   time.Second,
		clients:       make(map[string]*http.Client),
		limiters:      make(map[string]*rate.Limiter),
		configs:       make(map[string]FetchConfig),
		defaultConfig: withFetchDefaults(defaultConfig),
		logger:        logger,
	}
}

func withFetchDefaults(c FetchConfig) FetchConfig {
	if c.TimeoutSeconds == 0 {
		c.TimeoutSeconds = 30
	}
	if c.MaxRetries == 0 {
		c.MaxRetries = 3
	}
	if c.RateLimitRPS == 0 {
		c.RateLimitRPS = 1.0
	}
	if c.AcceptLanguage == "" {
		c.AcceptLanguage = "en-US,en;q=0.5"
	}
	return c
}

// Configure sets the fetch config used for every URL on the given URL's host.
func (f *RateLimitedFetcher) Configure(rawURL string, config FetchConfig) {
	domain, err := getDomain(rawURL)
	if err != nil || domain == "" {
		return
	}
	config = withFetchDefaults(config)

	f.mu.Lock()
	defer f.mu.Unlock()
	f.configs[domain] = config
	delete(f.clients, domain)
	delete(f.limiters, domain)
}

// getDomain extracts the domain from a URL
func getDomain(rawURL string) (string, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return "", err
	}
	return u.Host, nil
}

// clientFor returns or creates the HTTP client and limiter for a domain.
func (f *RateLimitedFetcher) clientFor(domain string) (*http.Client, *rate.Limiter, FetchConfig) {
	f.mu.RLock()
	client, exists := f.clients[domain]
	limiter := f.limiters[domain]
	config, hasConfig := f.configs[domain]
	f.mu.RUnlock()

	if !hasConfig {
		config = f.defaultConfig
	}
	if exists {
		return client, limiter, config
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	// Double-check after acquiring write lock
	if client, exists := f.clients[domain]; exists {
		return client, f.limiters[domain], config
	}

	dial := safeDialContext
	checkRedirect := safeCheckRedirect
	if f.AllowPrivateNetworks {
		dial = (&net.Dialer{Timeout: 30 * time.Second, KeepAlive: 30 * time.Second}).DialContext
		checkRedirect = limitRedirects
	}

	transport := &http.Transport{
		Proxy:                 http.ProxyFromEnvironment,
		DialContext:           dial,
		ForceAttemptHTTP2:     true,
		MaxIdleConns:          100,
		IdleConnTimeout:       90 * time.Second,
		TLSHandshakeTimeout:   10 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
	}
	if config.ProxyURL != "" {
		if proxyURL, err := url.Parse(config.ProxyURL); err == nil {
			transport.Proxy = http.ProxyURL(proxyURL)
		}
	}

	client = &http.Client{
		Timeout:       time.Duration(config.TimeoutSeconds) * time.Second,
		Transport:     transport,
		CheckRedirect: checkRedirect,
	}
	limiter = rate.NewLimiter(rate.Limit(config.RateLimitRPS), 1)

	f.clients[domain] = client
	f.limiters[domain] = limiter
	return client, limiter, config
}

// safeDialContext wraps the default dialer to block private IPs
func safeDialContext(ctx context.Context, network, addr string) (net.Conn, error) {
	d := &net.Dialer{
		Timeout:   30 * time.Second,
		KeepAlive: 30 * time.Second,
	}

	host, _, err := net.SplitHostPort(addr)
	if err != nil {
		return nil, err
	}

	ips, err := net.DefaultResolver.LookupIP(ctx, "ip", host)
	if err != nil {
		return nil, err
	}
	if len(ips) == 0 {
		return nil, fmt.Errorf("host %s resolved to no addresses", host)
	}
	for _, ip := range ips {
		if isPrivateIP(ip) {
			return nil, fmt.Errorf("blocked private IP: %s", ip)
		}
	}

	// Dial the vetted address so a second lookup cannot swap it.
	return d.DialContext(ctx, network, net.JoinHostPort(ips[0].String(), portOf(addr)))
}

func portOf(addr string) string {
	_, port, _ := net.SplitHostPort(addr)
	return port
}

// isPrivateIP checks if an IP is in a private range or loopback/link-local
func isPrivateIP(ip net.IP) bool {
	if ip == nil {
		return true
	}
	if ip.IsLoopback() || ip.IsLinkLocalMulticast() || ip.IsLinkLocalUnicast() || ip.IsMulticast() || ip.IsPrivate() || ip.IsUnspecified() {
		return true
	}
	if addr, ok := netip.AddrFromSlice(ip); ok {
		for _, prefix := range blockedPrefixes {
			if prefix.Contains(addr.Unmap()) {
				return true
			}
		}
	}
	return false
}

func limitRedirects(req *http.Request, via []*http.Request) error {
	if len(via) >= 10 {
		return fmt.Errorf("stopped after 10 redirects")
	}
	return nil
}

// safeCheckRedirect limits redirects and validates destinations
func safeCheckRedirect(req *http.Request, via []*http.Request) error {
	if err := limitRedirects(req, via); err != nil {
		return err
	}
	if req.URL == nil {
		return fmt.Errorf("invalid redirect URL")
	}
	if req.URL.Scheme != "http" && req.URL.Scheme != "https" {
		return fmt.Errorf("redirect scheme blocked")
	}

	host := req.URL.Hostname()
	if host == "" {
		return fmt.Errorf("redirect host missing")
	}
	if strings.EqualFold(host, "localhost") || strings.HasSuffix(strings.ToLower(host), ".local") {
		return fmt.Errorf("redirect to internal host blocked")
	}
	ips, err := net.LookupIP(host)
	if err != nil {
		return err
	}
	if len(ips) == 0 {
		return fmt.Errorf("redirect host resolved to no addresses")
	}
	for _, ip := range ips {
		if isPrivateIP(ip) {
			return fmt.Errorf("redirect to private IP blocked: %s", ip)
		}
	}
	return nil
}

// shouldRetry determines if an error or status code should trigger a retry
func shouldRetry(err error, statusCode int) bool {
	if err != nil {
		var netErr net.Error
		return errors.As(err, &netErr) && netErr.Timeout()
	}
	switch statusCode {
	case http.StatusTooManyRequests,
		http.StatusInternalServerError,
		http.StatusBadGateway,
		http.StatusServiceUnavailable,
		http.StatusGatewayTimeout:
		return true
	}
	return false
}

// Fetch implements the Fetcher interface with rate limiting and retries.
// The caller closes the returned body.
func (f *RateLimitedFetcher) Fetch(ctx context.Context, rawURL string) (*FetchedDocument, error) {
	domain, err := getDomain(rawURL)
	if err != nil {
		return nil, fmt.Errorf("invalid URL: %w", err)
	}
	client, limiter, config := f.clientFor(domain)

	var lastErr error
	for attempt := 0; attempt <= config.MaxRetries; attempt++ {
		if attempt > 0 {
			// Exponential backoff: base, 2x base, 4x base + jitter
			backoff := f.BaseBackoff * time.Duration(1<<uint(attempt-1))
			jitter := time.Duration(rand.Intn(100)) * time.Millisecond
			f.logger.Debug("retrying fetch", zap.String("url", rawURL), zap.Int("attempt", attempt), zap.Error(lastErr))
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(backoff + jitter):
			}
		}

		if err := limiter.Wait(ctx); err != nil {
			return nil, err
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
		if err != nil {
			return nil, fmt.Errorf("failed to create request: %w", err)
		}
		req.Header.Set("User-Agent", userAgent)
		req.Header.Set("Accept", "text/csv,text/html,application/xhtml+xml,application/vnd.openxmlformats-officedocument.spreadsheetml.sheet,*/*;q=0.8")
		req.Header.Set("Accept-Language", config.AcceptLanguage)
		req.Header.Set("Cache-Control", "no-cache")

		resp, err := client.Do(req)
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			lastErr = err
			if shouldRetry(err, 0) {
				continue
			}
			return nil, fmt.Errorf("failed to execute request: %w", err)
		}

		if resp.StatusCode == http.StatusOK {
			return &FetchedDocument{
				URL:         rawURL,
				StatusCode:  resp.StatusCode,
				ContentType: resp.Header.Get("Content-Type"),
				Body:        resp.Body,
				FetchedAt:   time.Now(),
				Headers:     resp.Header,
			}, nil
		}

		resp.Body.Close()
		lastErr = &StatusError{Code: resp.StatusCode}
		if !shouldRetry(nil, resp.StatusCode) {
			return nil, lastErr
		}
	}

	return nil, fmt.Errorf("max retries exceeded: %w", lastErr)
}
