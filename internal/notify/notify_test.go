package notify

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/david/childcare-leads/internal/models"
	"github.com/david/childcare-leads/internal/report"
)

func intPtr(i int) *int { return &i }

func lead(name string, score int, p models.Priority) models.Opportunity {
	return models.Opportunity{
		Name:     name,
		City:     "Toronto",
		Province: "Ontario",
		Country:  models.CountryCanada,
		Capacity: intPtr(90),
		Type:     "new",
		AIScore:  score,
		Priority: p,
	}
}

func TestSign(t *testing.T) {
	const secret = "SEC123"
	ts := int64(1700000000000)

	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte("1700000000000\n" + secret))
	want := url.QueryEscape(base64.StdEncoding.EncodeToString(mac.Sum(nil)))

	assert.Equal(t, want, Sign(ts, secret))
	assert.NotEqual(t, Sign(ts, secret), Sign(ts+1, secret))
}

type captured struct {
	mu     sync.Mutex
	bodies []map[string]any
	query  []url.Values
}

func (c *captured) add(r *http.Request) {
	var body map[string]any
	_ = json.NewDecoder(r.Body).Decode(&body)
	c.mu.Lock()
	defer c.mu.Unlock()
	c.bodies = append(c.bodies, body)
	c.query = append(c.query, r.URL.Query())
}

func (c *captured) count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.bodies)
}

func dingTalkServer(t *testing.T, errcode int) (*httptest.Server, *captured) {
	t.Helper()
	c := &captured{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		c.add(r)
		_ = json.NewEncoder(w).Encode(map[string]any{"errcode": errcode, "errmsg": "msg"})
	}))
	t.Cleanup(srv.Close)
	return srv, c
}

func pushPlusServer(t *testing.T, code int) (*httptest.Server, *captured) {
	t.Helper()
	c := &captured{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		c.add(r)
		_ = json.NewEncoder(w).Encode(map[string]any{"code": code, "msg": "msg"})
	}))
	t.Cleanup(srv.Close)
	return srv, c
}

func TestDingTalk_SignedMarkdown(t *testing.T) {
	srv, c := dingTalkServer(t, 0)
	fixed := time.UnixMilli(1700000000000)

	d := NewDingTalk(srv.URL+"/robot/send?access_token=abc", "SEC123", "https://sheet")
	d.Now = func() time.Time { return fixed }

	require.NoError(t, d.SendCritical(context.Background(), lead("Sunny Kids", 95, models.PriorityCritical), "looks strong"))
	require.Equal(t, 1, c.count())

	q := c.query[0]
	assert.Equal(t, "abc", q.Get("access_token"))
	assert.Equal(t, "1700000000000", q.Get("timestamp"))
	wantSign, err := url.QueryUnescape(Sign(1700000000000, "SEC123"))
	require.NoError(t, err)
	assert.Equal(t, wantSign, q.Get("sign"))

	body := c.bodies[0]
	assert.Equal(t, "markdown", body["msgtype"])
	md := body["markdown"].(map[string]any)
	assert.Contains(t, md["text"], "Sunny Kids")
	assert.Contains(t, md["text"], "looks strong")
	at := body["at"].(map[string]any)
	assert.Equal(t, true, at["isAtAll"])
}

func TestDingTalk_UnsignedWebhookHasNoSignature(t *testing.T) {
	srv, c := dingTalkServer(t, 0)
	d := NewDingTalk(srv.URL, "", "")

	require.NoError(t, d.SendText(context.Background(), "hello", false))
	assert.Empty(t, c.query[0].Get("sign"))
	assert.Equal(t, "text", c.bodies[0]["msgtype"])
}

func TestDingTalk_Errors(t *testing.T) {
	srv, _ := dingTalkServer(t, 310000)
	d := NewDingTalk(srv.URL, "", "")
	err := d.SendText(context.Background(), "hello", false)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "310000")

	disabled := NewDingTalk("", "", "")
	assert.False(t, disabled.Enabled())
	assert.ErrorIs(t, disabled.SendText(context.Background(), "x", false), ErrChannelDisabled)
}

func TestDingTalk_HighBatchSkipsEmpty(t *testing.T) {
	srv, c := dingTalkServer(t, 0)
	d := NewDingTalk(srv.URL, "", "")
	require.NoError(t, d.SendHighBatch(context.Background(), nil))
	assert.Equal(t, 0, c.count())
}

func TestPushPlus_SendCritical(t *testing.T) {
	srv, c := pushPlusServer(t, 200)
	p := NewPushPlus("tok", "team", "https://sheet")
	p.APIURL = srv.URL

	require.NoError(t, p.SendCritical(context.Background(), lead("Sunny Kids", 95, models.PriorityCritical), ""))
	require.Equal(t, 1, c.count())

	body := c.bodies[0]
	assert.Equal(t, "tok", body["token"])
	assert.Equal(t, "html", body["template"])
	assert.Equal(t, "wechat", body["channel"])
	assert.Equal(t, "team", body["topic"])
	assert.Contains(t, body["content"], "Sunny Kids")
	assert.Contains(t, body["content"], "<")
}

func TestPushPlus_SendErrorOmitsTopic(t *testing.T) {
	srv, c := pushPlusServer(t, 200)
	p := NewPushPlus("tok", "team", "")
	p.APIURL = srv.URL

	require.NoError(t, p.SendError(context.Background(), "ontario", "fetch failed"))
	_, hasTopic := c.bodies[0]["topic"]
	assert.False(t, hasTopic)
	assert.Contains(t, c.bodies[0]["content"], "fetch failed")
}

func TestPushPlus_NonOKCode(t *testing.T) {
	srv, _ := pushPlusServer(t, 903)
	p := NewPushPlus("tok", "", "")
	p.APIURL = srv.URL
	err := p.SendSummary(context.Background(), report.DailySummary{Date: "2024-03-01"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "903")
}

type fakeChannel struct {
	name      string
	enabled   bool
	fail      bool
	critical  int
	highBatch int
	summaries int
}

func (f *fakeChannel) Name() string  { return f.name }
func (f *fakeChannel) Enabled() bool { return f.enabled }

func (f *fakeChannel) result() error {
	if f.fail {
		return errors.New("boom")
	}
	return nil
}

func (f *fakeChannel) SendCritical(context.Context, models.Opportunity, string) error {
	f.critical++
	return f.result()
}

func (f *fakeChannel) SendHighBatch(context.Context, []models.Opportunity) error {
	f.highBatch++
	return f.result()
}

func (f *fakeChannel) SendSummary(context.Context, report.DailySummary) error {
	f.summaries++
	return f.result()
}

type fakeReporter struct {
	fakeChannel
	errors []string
}

func (f *fakeReporter) SendError(_ context.Context, source, message string) error {
	f.errors = append(f.errors, source+": "+message)
	return f.result()
}

func TestManager_ProcessScoredLeads(t *testing.T) {
	ch := &fakeChannel{name: "a", enabled: true}
	m := NewManager(ManagerConfig{InstantAlerts: true, MaxInstantAlertsPerHour: 20}, nil, ch)

	leads := []models.Opportunity{
		lead("c1", 95, models.PriorityCritical),
		lead("h1", 86, models.PriorityHigh),
		lead("c2", 92, models.PriorityCritical),
		lead("h2", 87, models.PriorityHigh),
		lead("m1", 72, models.PriorityMedium),
	}
	stats := m.ProcessScoredLeads(context.Background(), leads)

	assert.Equal(t, Stats{Total: 5, CriticalNotified: 2, HighNotified: 2}, stats)
	assert.Equal(t, 2, ch.critical)
	assert.Equal(t, 1, ch.highBatch)
}

func TestManager_HourlyCap(t *testing.T) {
	ch := &fakeChannel{name: "a", enabled: true}
	m := NewManager(ManagerConfig{InstantAlerts: true, MaxInstantAlertsPerHour: 1}, nil, ch)

	stats := m.ProcessScoredLeads(context.Background(), []models.Opportunity{
		lead("c1", 95, models.PriorityCritical),
		lead("c2", 93, models.PriorityCritical),
	})
	assert.Equal(t, 1, stats.CriticalNotified)
	assert.Equal(t, 1, stats.CriticalSkipped)
	assert.Equal(t, 1, ch.critical)
}

func TestManager_InstantAlertsOff(t *testing.T) {
	ch := &fakeChannel{name: "a", enabled: true}
	m := NewManager(ManagerConfig{InstantAlerts: false}, nil, ch)

	stats := m.ProcessScoredLeads(context.Background(), []models.Opportunity{
		lead("c1", 95, models.PriorityCritical),
		lead("h1", 86, models.PriorityHigh),
	})
	assert.Equal(t, 0, stats.CriticalNotified)
	assert.Equal(t, 0, stats.HighNotified)
	assert.Zero(t, ch.critical+ch.highBatch)

	assert.True(t, m.SendDailySummary(context.Background(), report.DailySummary{}))
	assert.Equal(t, 1, ch.summaries)
}

func TestManager_DryRunSendsNothing(t *testing.T) {
	ch := &fakeChannel{name: "a", enabled: true}
	m := NewManager(ManagerConfig{InstantAlerts: true, DryRun: true}, nil, ch)

	assert.True(t, m.NotifyCritical(context.Background(), lead("c1", 95, models.PriorityCritical)))
	assert.True(t, m.SendDailySummary(context.Background(), report.DailySummary{}))
	assert.Zero(t, ch.critical)
	assert.Zero(t, ch.summaries)
}

func TestManager_DisabledAndFailingChannels(t *testing.T) {
	off := &fakeChannel{name: "off", enabled: false}
	bad := &fakeChannel{name: "bad", enabled: true, fail: true}
	m := NewManager(ManagerConfig{InstantAlerts: true}, nil, off, bad)

	assert.False(t, m.SendDailySummary(context.Background(), report.DailySummary{}))
	assert.Zero(t, off.summaries)
	assert.Equal(t, 1, bad.summaries)
}

func TestManager_ErrorAlertOnlyReachesReporters(t *testing.T) {
	plain := &fakeChannel{name: "dingtalk", enabled: true}
	reporter := &fakeReporter{fakeChannel: fakeChannel{name: "pushplus", enabled: true}}
	m := NewManager(ManagerConfig{}, nil, plain, reporter)

	assert.True(t, m.SendErrorAlert(context.Background(), "pipeline", "store unreachable"))
	assert.Equal(t, []string{"pipeline: store unreachable"}, reporter.errors)

	onlyPlain := NewManager(ManagerConfig{}, nil, plain)
	assert.False(t, onlyPlain.SendErrorAlert(context.Background(), "pipeline", "x"))
}

type fakeAnalyzer struct{ calls int }

func (f *fakeAnalyzer) Analyze(context.Context, models.Opportunity) (string, error) {
	f.calls++
	return "analysis", nil
}

func TestManager_AnalyzerUsedForCritical(t *testing.T) {
	ch := &fakeChannel{name: "a", enabled: true}
	a := &fakeAnalyzer{}
	m := NewManager(ManagerConfig{InstantAlerts: true}, nil, ch).WithAnalyzer(a)

	m.NotifyCritical(context.Background(), lead("c1", 95, models.PriorityCritical))
	assert.Equal(t, 1, a.calls)
}

func TestManager_ForRunSharesLimiter(t *testing.T) {
	ch := &fakeChannel{name: "a", enabled: true}
	m := NewManager(ManagerConfig{InstantAlerts: true, MaxInstantAlertsPerHour: 1}, nil, ch)

	dry := m.ForRun(true)
	assert.NotSame(t, m, dry)
	assert.Same(t, m, m.ForRun(false))

	assert.True(t, dry.NotifyCritical(context.Background(), lead("c1", 95, models.PriorityCritical)))
	assert.Zero(t, ch.critical)
	assert.False(t, m.NotifyCritical(context.Background(), lead("c2", 95, models.PriorityCritical)))
}
