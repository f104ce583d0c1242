package agent

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/soyeahso/callpilot/internal/domain"
	"github.com/soyeahso/callpilot/internal/llm"
	"github.com/soyeahso/callpilot/internal/logging"
)

func silentLog() *logging.Logger {
	return logging.Nop()
}

func jsonReply(content string) func(context.Context, llm.CompletionRequest) (*llm.CompletionResponse, error) {
	return func(context.Context, llm.CompletionRequest) (*llm.CompletionResponse, error) {
		return &llm.CompletionResponse{Content: content, Provider: "mock"}, nil
	}
}

func TestParseReply(t *testing.T) {
	tests := []struct {
		name      string
		raw       string
		wantReply string
		wantName  *string
		wantDate  *string
		wantOK    bool
	}{
		{
			name:      "full",
			raw:       `{"reply":"Hi Alex!","extract":{"name":"Alex","date":null,"time":null}}`,
			wantReply: "Hi Alex!",
			wantName:  strp("Alex"),
			wantOK:    true,
		},
		{
			name:      "fenced",
			raw:       "```json\n{\"reply\":\"What time?\",\"extract\":{\"name\":null,\"date\":\"Friday\",\"time\":null}}\n```",
			wantReply: "What time?",
			wantDate:  strp("Friday"),
			wantOK:    true,
		},
		{
			name:      "missing extract fields count as null",
			raw:       `{"reply":"ok","extract":{}}`,
			wantReply: "ok",
			wantOK:    true,
		},
		{
			name:      "plain text",
			raw:       "  Sure, what's your name?  ",
			wantReply: "Sure, what's your name?",
		},
		{
			name:      "reply not a string",
			raw:       `{"reply":42,"extract":{}}`,
			wantReply: `{"reply":42,"extract":{}}`,
		},
		{
			name:      "extract missing",
			raw:       `{"reply":"hi"}`,
			wantReply: `{"reply":"hi"}`,
		},
		{
			name:      "extract null",
			raw:       `{"reply":"hi","extract":null}`,
			wantReply: `{"reply":"hi","extract":null}`,
		},
		{
			name:      "field wrong type",
			raw:       `{"reply":"hi","extract":{"name":7}}`,
			wantReply: `{"reply":"hi","extract":{"name":7}}`,
		},
		{
			name:      "array",
			raw:       `[1,2]`,
			wantReply: `[1,2]`,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			reply, ext, ok := parseReply(tt.raw)
			assert.Equal(t, tt.wantOK, ok)
			assert.Equal(t, tt.wantReply, reply)
			assert.Equal(t, tt.wantName, ext.Name)
			assert.Equal(t, tt.wantDate, ext.Date)
			if !ok {
				assert.True(t, ext.Empty())
			}
		})
	}
}

func strp(s string) *string { return &s }

func TestHistoryMessages(t *testing.T) {
	history := []domain.Turn{
		{Role: domain.RoleUser, Content: "hello"},
		{Role: domain.RoleAssistant, Content: ""},
		{Role: domain.RoleAssistant, Content: "hi, your name?"},
		{Role: domain.RoleUser, Content: "Alex"},
	}

	msgs := historyMessages(history, "Alex", 12)
	require.Len(t, msgs, 2)
	assert.Equal(t, llm.Message{Role: llm.RoleUser, Content: "hello"}, msgs[0])
	assert.Equal(t, llm.Message{Role: llm.RoleAssistant, Content: "hi, your name?"}, msgs[1])

	msgs = historyMessages(history, "something else", 12)
	assert.Len(t, msgs, 3, "trailing user turn kept when it differs")

	msgs = historyMessages(history, "Alex", 2)
	require.Len(t, msgs, 1)
	assert.Equal(t, "hi, your name?", msgs[0].Content)
}

func TestExtractBuildsRequest(t *testing.T) {
	var got llm.CompletionRequest
	mock := &llm.MockClient{CompleteFunc: func(_ context.Context, req llm.CompletionRequest) (*llm.CompletionResponse, error) {
		got = req
		return &llm.CompletionResponse{Content: `{"reply":"What time?","extract":{"name":null,"date":"tomorrow","time":null}}`}, nil
	}}
	temp := 0.2
	x := NewExtractor(mock, ExtractorConfig{Temperature: &temp, MaxTokens: 256}, silentLog())

	history := []domain.Turn{
		{Role: domain.RoleUser, Content: "I'm Alex"},
		{Role: domain.RoleAssistant, Content: "Hi Alex"},
		{Role: domain.RoleUser, Content: "book for tomorrow"},
	}
	res := x.Extract(context.Background(), "book for tomorrow", history, domain.SlotState{Name: "Alex"})

	assert.False(t, res.Failed)
	assert.Equal(t, "What time?", res.Reply)
	require.NotNil(t, res.Slots.Date)
	assert.Equal(t, "tomorrow", *res.Slots.Date)

	assert.Equal(t, systemPrompt, got.System)
	assert.True(t, got.JSON)
	assert.NotNil(t, got.Schema)
	assert.Equal(t, 256, got.MaxTokens)
	require.NotNil(t, got.Temperature)
	assert.InDelta(t, 0.2, *got.Temperature, 1e-9)

	require.Len(t, got.Messages, 3)
	last := got.Messages[2]
	assert.Equal(t, llm.RoleUser, last.Role)
	assert.Equal(t, "Known slots so far: {name: Alex, date: null, time: null}\nUser message: book for tomorrow", last.Content)
}

func TestExtractProviderErrorApologises(t *testing.T) {
	mock := &llm.MockClient{CompleteFunc: func(context.Context, llm.CompletionRequest) (*llm.CompletionResponse, error) {
		return nil, &llm.ProviderError{Provider: "mock", Code: 500, Message: "boom"}
	}}
	x := NewExtractor(mock, ExtractorConfig{}, silentLog())

	res := x.Extract(context.Background(), "hi", nil, domain.SlotState{})
	assert.True(t, res.Failed)
	assert.Equal(t, ReplyAIError, res.Reply)
	assert.True(t, res.Slots.Empty())
}

func TestExtractTimeout(t *testing.T) {
	mock := &llm.MockClient{CompleteFunc: func(ctx context.Context, _ llm.CompletionRequest) (*llm.CompletionResponse, error) {
		<-ctx.Done()
		return nil, ctx.Err()
	}}
	x := NewExtractor(mock, ExtractorConfig{Timeout: 20 * time.Millisecond}, silentLog())

	start := time.Now()
	res := x.Extract(context.Background(), "hi", nil, domain.SlotState{})
	assert.True(t, res.Failed)
	assert.Less(t, time.Since(start), 2*time.Second)
}

func TestExtractMalformedOutput(t *testing.T) {
	mock := &llm.MockClient{CompleteFunc: jsonReply("Happy to help!")}
	x := NewExtractor(mock, ExtractorConfig{}, silentLog())

	res := x.Extract(context.Background(), "hi", nil, domain.SlotState{})
	assert.False(t, res.Failed)
	assert.Equal(t, "Happy to help!", res.Reply)
	assert.True(t, res.Slots.Empty())
}

func TestFailoverClient(t *testing.T) {
	var order []string
	failing := &llm.MockClient{ProviderName: "primary", CompleteFunc: func(context.Context, llm.CompletionRequest) (*llm.CompletionResponse, error) {
		order = append(order, "primary")
		return nil, &llm.ProviderError{Provider: "primary", Code: 503, Message: "overloaded"}
	}}
	backup := &llm.MockClient{ProviderName: "backup", CompleteFunc: func(context.Context, llm.CompletionRequest) (*llm.CompletionResponse, error) {
		order = append(order, "backup")
		return &llm.CompletionResponse{Content: "ok", Provider: "backup"}, nil
	}}

	reg := llm.NewRegistry(silentLog())
	reg.Register("primary", failing)
	reg.Register("backup", backup)
	fc := NewFailoverClient(reg, silentLog())
	assert.Equal(t, "primary", fc.Name())

	resp, err := fc.Complete(context.Background(), llm.CompletionRequest{})
	require.NoError(t, err)
	assert.Equal(t, "backup", resp.Provider)
	assert.Equal(t, []string{"primary", "backup"}, order)
}

func TestFailoverClientStopsOnNonRetryable(t *testing.T) {
	calls := 0
	bad := &llm.MockClient{ProviderName: "a", CompleteFunc: func(context.Context, llm.CompletionRequest) (*llm.CompletionResponse, error) {
		calls++
		return nil, &llm.ProviderError{Provider: "a", Code: 400, Message: "bad request"}
	}}
	reg := llm.NewRegistry(silentLog())
	reg.Register("a", bad)
	reg.Register("b", bad)

	_, err := NewFailoverClient(reg, silentLog()).Complete(context.Background(), llm.CompletionRequest{})
	require.Error(t, err)
	assert.Equal(t, 1, calls)
}

func TestFailoverClientEmpty(t *testing.T) {
	_, err := NewFailoverClient(llm.NewRegistry(silentLog()), silentLog()).Complete(context.Background(), llm.CompletionRequest{})
	assert.Error(t, err)
}

func TestIsRetryable(t *testing.T) {
	assert.False(t, isRetryable(nil))
	assert.True(t, isRetryable(&llm.ProviderError{Code: 429}))
	assert.True(t, isRetryable(&llm.ProviderError{Code: 401}))
	assert.False(t, isRetryable(&llm.ProviderError{Code: 400}))
	assert.True(t, isRetryable(errors.New("request timeout")))
	assert.True(t, isRetryable(errors.New("Rate limit exceeded")))
	assert.False(t, isRetryable(errors.New("invalid json")))
}
