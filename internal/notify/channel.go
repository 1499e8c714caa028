// Package notify delivers lead alerts, daily summaries and error alerts to
// chat channels (DingTalk and PushPlus/WeChat).
package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/david/childcare-leads/internal/models"
	"github.com/david/childcare-leads/internal/report"
)

// Channel is one outbound destination.
type Channel interface {
	Name() string
	Enabled() bool
	SendCritical(ctx context.Context, lead models.Opportunity, analysis string) error
	SendHighBatch(ctx context.Context, leads []models.Opportunity) error
	SendSummary(ctx context.Context, summary report.DailySummary) error
}

// ErrorReporter is implemented by channels that accept operator error alerts.
type ErrorReporter interface {
	SendError(ctx context.Context, source, message string) error
}

func defaultHTTPClient() *http.Client {
	return &http.Client{Timeout: 10 * time.Second}
}

// postJSON sends payload and decodes the JSON reply into out.
func postJSON(ctx context.Context, client *http.Client, url string, payload, out any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("unexpected status %d: %s", resp.StatusCode, snippet)
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}
