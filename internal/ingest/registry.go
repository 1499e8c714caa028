package ingest

import (
	"embed"
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

//go:embed config/sources.yaml
var sourcesYAML embed.FS

// Registry holds the configuration for all data sources.
type Registry struct {
	Sources []SourceConfig `yaml:"sources"`
}

// FetchConfig defines HTTP fetching configuration for a source.
type FetchConfig struct {
	TimeoutSeconds int     `yaml:"timeout_seconds,omitempty"` // Default: 30
	MaxRetries     int     `yaml:"max_retries,omitempty"`     // Default: 3
	RateLimitRPS   float64 `yaml:"rate_limit_rps,omitempty"`  // Requests per second, default: 1.0
	ProxyURL       string  `yaml:"proxy_url,omitempty"`
	AcceptLanguage string  `yaml:"accept_language,omitempty"`
}

// SourceConfig defines a single licensing data source.
type SourceConfig struct {
	ID       string `yaml:"id"`
	Name     string `yaml:"name"`
	Country  string `yaml:"country"`
	Province string `yaml:"province,omitempty"`
	Strategy string `yaml:"strategy"` // "ontario_csv", "bc_csv", "acecqa_register"
	URL      string `yaml:"url"`
	// FallbackURLs are tried in order when URL fails.
	FallbackURLs []string `yaml:"fallback_urls,omitempty"`
	Enabled      bool     `yaml:"enabled"`
	Description  string   `yaml:"description,omitempty"`

	Fetch FetchConfig `yaml:"fetch,omitempty"`
}

// LoadRegistry reads the embedded sources.yaml. A non-empty path overrides it.
func LoadRegistry(path string) (*Registry, error) {
	var (
		data []byte
		err  error
	)
	if path != "" {
		data, err = os.ReadFile(path)
	} else {
		data, err = sourcesYAML.ReadFile("config/sources.yaml")
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read source registry: %w", err)
	}

	// Expand environment variables within the YAML content (e.g. ${ONTARIO_URL})
	expanded := os.ExpandEnv(string(data))

	var reg Registry
	if err := yaml.Unmarshal([]byte(expanded), &reg); err != nil {
		return nil, fmt.Errorf("failed to parse source registry: %w", err)
	}
	return &reg, nil
}

// Get returns the source with the given id.
func (r *Registry) Get(id string) (SourceConfig, bool) {
	for _, s := range r.Sources {
		if strings.EqualFold(s.ID, id) {
			return s, true
		}
	}
	return SourceConfig{}, false
}

// Select returns the sources named in ids, in ids order. An empty ids list
// selects every source marked enabled.
func (r *Registry) Select(ids []string) ([]SourceConfig, error) {
	if len(ids) == 0 {
		var out []SourceConfig
		for _, s := range r.Sources {
			if s.Enabled {
				out = append(out, s)
			}
		}
		return out, nil
	}

	out := make([]SourceConfig, 0, len(ids))
	for _, id := range ids {
		id = strings.TrimSpace(id)
		if id == "" {
			continue
		}
		s, ok := r.Get(id)
		if !ok {
			return nil, fmt.Errorf("unknown source: %s", id)
		}
		out = append(out, s)
	}
	return out, nil
}
