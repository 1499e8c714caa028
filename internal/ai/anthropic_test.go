package ai

import (
	"context"
	"errors"
	"strings"
	"testing"

	anthropic "github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/david/childcare-leads/internal/models"
)

type mockMessager struct {
	response *anthropic.Message
	err      error
	params   anthropic.MessageNewParams
}

func (m *mockMessager) New(_ context.Context, params anthropic.MessageNewParams, _ ...option.RequestOption) (*anthropic.Message, error) {
	m.params = params
	return m.response, m.err
}

func newMockMessage(text string) *anthropic.Message {
	return &anthropic.Message{
		Content: []anthropic.ContentBlockUnion{
			{Type: "text", Text: text},
		},
	}
}

func TestNewAnthropicClientRequiresKey(t *testing.T) {
	_, err := NewAnthropicClient("  ", "")
	assert.ErrorIs(t, err, ErrNotConfigured)
}

func TestCompleteJoinsTextBlocks(t *testing.T) {
	mock := &mockMessager{response: &anthropic.Message{Content: []anthropic.ContentBlockUnion{
		{Type: "text", Text: "hello "},
		{Type: "tool_use"},
		{Type: "text", Text: "world"},
	}}}
	c := NewAnthropicClientWithMessager(mock, "")

	got, err := c.Complete(context.Background(), "sys", "prompt", 256)
	require.NoError(t, err)
	assert.Equal(t, "hello world", got)
	assert.Equal(t, anthropic.Model(DefaultModel), mock.params.Model)
	assert.Equal(t, int64(256), mock.params.MaxTokens)
	require.Len(t, mock.params.System, 1)
	assert.Equal(t, "sys", mock.params.System[0].Text)
}

func TestCompleteErrors(t *testing.T) {
	c := NewAnthropicClientWithMessager(&mockMessager{err: errors.New("boom")}, "m")
	_, err := c.Complete(context.Background(), "", "p", 10)
	assert.ErrorContains(t, err, "boom")

	empty := NewAnthropicClientWithMessager(&mockMessager{response: &anthropic.Message{}}, "m")
	_, err = empty.Complete(context.Background(), "", "p", 10)
	assert.Error(t, err)
}

func TestAssessParsesFencedJSON(t *testing.T) {
	mock := &mockMessager{response: newMockMessage("```json\n" + `{"score": 88, "capacity_score": 30, "location_score": 35,
		"stage_score": 23, "priority": "High", "reasoning": "Large centre", "recommendation": "Call this week"}` + "\n```")}
	c := NewAnthropicClientWithMessager(mock, "")
	capacity := 90

	a, err := Assess(context.Background(), c, models.Opportunity{Name: "Maple", City: "Toronto", Capacity: &capacity})
	require.NoError(t, err)
	assert.Equal(t, 88.0, a.ScoreValue())
	assert.Equal(t, "Large centre", a.Reasoning)
	assert.Equal(t, "Call this week", a.Recommendation)

	prompt := mock.params.Messages[0].Content[0].OfText.Text
	assert.True(t, strings.Contains(prompt, "Maple"))
	assert.True(t, strings.Contains(prompt, "90 children"))
}

func TestParseAssessment(t *testing.T) {
	a, err := ParseAssessment(`{"reasoning": "no score given"}`)
	require.NoError(t, err)
	assert.Equal(t, 50.0, a.ScoreValue())

	_, err = ParseAssessment("I think this lead is great")
	assert.Error(t, err)

	_, err = ParseAssessment("```\n```")
	assert.Error(t, err)
}

func TestAnalyzeTrimsReply(t *testing.T) {
	c := NewAnthropicClientWithMessager(&mockMessager{response: newMockMessage("\n 1. Highlights...\n")}, "")
	got, err := Analyze(context.Background(), c, models.Opportunity{Name: "Maple", AIScore: 91})
	require.NoError(t, err)
	assert.Equal(t, "1. Highlights...", got)
}
