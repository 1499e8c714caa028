package notify

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/david/childcare-leads/internal/models"
	"github.com/david/childcare-leads/internal/report"
)

const PushPlusURL = "http://www.pushplus.plus/send"

var ErrChannelDisabled = errors.New("notification channel not configured")

// PushPlus relays HTML messages to WeChat. A topic sends to a group instead of the token owner.
type PushPlus struct {
	Token    string
	Topic    string
	SheetURL string
	APIURL   string
	Client   *http.Client
	Now      func() time.Time
}

func NewPushPlus(token, topic, sheetURL string) *PushPlus {
	return &PushPlus{
		Token:    token,
		Topic:    topic,
		SheetURL: sheetURL,
		APIURL:   PushPlusURL,
		Client:   defaultHTTPClient(),
		Now:      time.Now,
	}
}

func (p *PushPlus) Name() string  { return "pushplus" }
func (p *PushPlus) Enabled() bool { return p.Token != "" }

type pushPlusRequest struct {
	Token    string `json:"token"`
	Title    string `json:"title"`
	Content  string `json:"content"`
	Template string `json:"template"`
	Channel  string `json:"channel"`
	Topic    string `json:"topic,omitempty"`
}

type pushPlusResponse struct {
	Code int    `json:"code"`
	Msg  string `json:"msg"`
}

func (p *PushPlus) send(ctx context.Context, title, content, topic string) error {
	if !p.Enabled() {
		return ErrChannelDisabled
	}
	client := p.Client
	if client == nil {
		client = defaultHTTPClient()
	}
	apiURL := p.APIURL
	if apiURL == "" {
		apiURL = PushPlusURL
	}

	var resp pushPlusResponse
	req := pushPlusRequest{Token: p.Token, Title: title, Content: content, Template: "html", Channel: "wechat", Topic: topic}
	if err := postJSON(ctx, client, apiURL, req, &resp); err != nil {
		return fmt.Errorf("pushplus: %w", err)
	}
	if resp.Code != http.StatusOK {
		return fmt.Errorf("pushplus: code %d: %s", resp.Code, resp.Msg)
	}
	return nil
}

// sendMarkdown converts markdown to sanitized HTML before sending.
func (p *PushPlus) sendMarkdown(ctx context.Context, title, md, topic string) error {
	html, err := report.MarkdownToHTML(md)
	if err != nil {
		return fmt.Errorf("pushplus: %w", err)
	}
	return p.send(ctx, title, html, topic)
}

func (p *PushPlus) SendCritical(ctx context.Context, lead models.Opportunity, analysis string) error {
	return p.sendMarkdown(ctx, criticalTitle(lead), criticalMarkdown(lead, analysis, p.SheetURL, false, false), p.Topic)
}

func (p *PushPlus) SendHighBatch(ctx context.Context, leads []models.Opportunity) error {
	if len(leads) == 0 {
		return nil
	}
	return p.sendMarkdown(ctx, highBatchTitle(len(leads)), highBatchMarkdown(leads, p.SheetURL, false, p.Now()), p.Topic)
}

func (p *PushPlus) SendSummary(ctx context.Context, summary report.DailySummary) error {
	html, err := summary.HTML()
	if err != nil {
		return fmt.Errorf("pushplus: %w", err)
	}
	return p.send(ctx, summary.Title(), html, p.Topic)
}

// SendError goes to the token owner only, never the group topic.
func (p *PushPlus) SendError(ctx context.Context, source, message string) error {
	return p.sendMarkdown(ctx, errorTitle(source), errorMarkdown(source, message, p.Now()), "")
}
