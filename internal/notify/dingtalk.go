package notify

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/david/childcare-leads/internal/models"
	"github.com/david/childcare-leads/internal/report"
)

// DingTalk posts to a custom robot webhook, signing requests when a secret is set.
type DingTalk struct {
	Webhook  string
	Secret   string
	SheetURL string
	Client   *http.Client
	Now      func() time.Time
}

func NewDingTalk(webhook, secret, sheetURL string) *DingTalk {
	return &DingTalk{
		Webhook:  webhook,
		Secret:   secret,
		SheetURL: sheetURL,
		Client:   defaultHTTPClient(),
		Now:      time.Now,
	}
}

func (d *DingTalk) Name() string  { return "dingtalk" }
func (d *DingTalk) Enabled() bool { return d.Webhook != "" }

// Sign returns the url-escaped base64 HMAC-SHA256 of "timestamp\nsecret".
func Sign(timestampMillis int64, secret string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(strconv.FormatInt(timestampMillis, 10) + "\n" + secret))
	return url.QueryEscape(base64.StdEncoding.EncodeToString(mac.Sum(nil)))
}

func (d *DingTalk) signedURL() string {
	if d.Secret == "" {
		return d.Webhook
	}
	ts := d.Now().UnixMilli()
	sep := "&"
	if !strings.Contains(d.Webhook, "?") {
		sep = "?"
	}
	return fmt.Sprintf("%s%stimestamp=%d&sign=%s", d.Webhook, sep, ts, Sign(ts, d.Secret))
}

type dingTalkAt struct {
	IsAtAll   bool     `json:"isAtAll"`
	AtMobiles []string `json:"atMobiles,omitempty"`
}

type dingTalkMessage struct {
	MsgType  string            `json:"msgtype"`
	Text     map[string]string `json:"text,omitempty"`
	Markdown map[string]string `json:"markdown,omitempty"`
	At       dingTalkAt        `json:"at"`
}

type dingTalkResponse struct {
	ErrCode int    `json:"errcode"`
	ErrMsg  string `json:"errmsg"`
}

func (d *DingTalk) send(ctx context.Context, msg dingTalkMessage) error {
	if !d.Enabled() {
		return ErrChannelDisabled
	}
	client := d.Client
	if client == nil {
		client = defaultHTTPClient()
	}
	var resp dingTalkResponse
	if err := postJSON(ctx, client, d.signedURL(), msg, &resp); err != nil {
		return fmt.Errorf("dingtalk: %w", err)
	}
	if resp.ErrCode != 0 {
		return fmt.Errorf("dingtalk: errcode %d: %s", resp.ErrCode, resp.ErrMsg)
	}
	return nil
}

func (d *DingTalk) SendText(ctx context.Context, content string, atAll bool) error {
	return d.send(ctx, dingTalkMessage{
		MsgType: "text",
		Text:    map[string]string{"content": content},
		At:      dingTalkAt{IsAtAll: atAll},
	})
}

func (d *DingTalk) SendMarkdown(ctx context.Context, title, text string, atAll bool) error {
	return d.send(ctx, dingTalkMessage{
		MsgType:  "markdown",
		Markdown: map[string]string{"title": title, "text": text},
		At:       dingTalkAt{IsAtAll: atAll},
	})
}

// SendCritical mentions everyone in the group.
func (d *DingTalk) SendCritical(ctx context.Context, lead models.Opportunity, analysis string) error {
	return d.SendMarkdown(ctx, "🚨 Critical lead found", criticalMarkdown(lead, analysis, d.SheetURL, true, true), true)
}

func (d *DingTalk) SendHighBatch(ctx context.Context, leads []models.Opportunity) error {
	if len(leads) == 0 {
		return nil
	}
	return d.SendMarkdown(ctx, highBatchTitle(len(leads)), highBatchMarkdown(leads, d.SheetURL, true, d.Now()), false)
}

func (d *DingTalk) SendSummary(ctx context.Context, summary report.DailySummary) error {
	return d.SendMarkdown(ctx, "📊 Child-care leads daily report", summary.Markdown(true), false)
}
