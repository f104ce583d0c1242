package llm

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/soyeahso/callpilot/internal/config"
	"github.com/soyeahso/callpilot/internal/logging"
	"github.com/soyeahso/callpilot/internal/resilience"
)

func testLogger() *logging.Logger {
	return logging.New(io.Discard, "silent")
}

func temp(v float64) *float64 { return &v }

func TestProviderError(t *testing.T) {
	err := &ProviderError{Provider: "gemini", Code: 429, Message: "quota"}
	assert.Equal(t, "gemini: 429 quota", err.Error())
	assert.Equal(t, "openai: boom", (&ProviderError{Provider: "openai", Message: "boom"}).Error())

	wrapped := errors.Join(errors.New("outer"), err)
	assert.Equal(t, 429, StatusCode(wrapped))
	assert.Equal(t, 0, StatusCode(errors.New("plain")))
}

func TestGeminiComplete(t *testing.T) {
	var got map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/models/gemini-2.5-flash:generateContent", r.URL.Path)
		assert.Equal(t, "k", r.Header.Get("x-goog-api-key"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.Header().Set("Content-Type", "application/json")
		_, _ = io.WriteString(w, `{
			"candidates":[{"content":{"role":"model","parts":[{"text":"{\"reply\":"},{"text":"\"hi\"}"}]},"finishReason":"STOP"}],
			"usageMetadata":{"promptTokenCount":12,"candidatesTokenCount":4}
		}`)
	}))
	defer srv.Close()

	c := NewGeminiClient("k", "gemini-2.5-flash", srv.URL)
	resp, err := c.Complete(context.Background(), CompletionRequest{
		System: "be brief",
		Messages: []Message{
			{Role: RoleUser, Content: "hello"},
			{Role: RoleAssistant, Content: "hi there"},
			{Role: RoleUser, Content: "book me"},
		},
		Temperature: temp(0.2),
		MaxTokens:   256,
		JSON:        true,
		Schema:      map[string]any{"type": "OBJECT"},
	})
	require.NoError(t, err)
	assert.Equal(t, `{"reply":"hi"}`, resp.Content)
	assert.Equal(t, "STOP", resp.StopReason)
	assert.Equal(t, 12, resp.Usage.InputTokens)
	assert.Equal(t, "gemini", resp.Provider)

	contents := got["contents"].([]any)
	require.Len(t, contents, 3)
	assert.Equal(t, "user", contents[0].(map[string]any)["role"])
	assert.Equal(t, "model", contents[1].(map[string]any)["role"])

	gen := got["generationConfig"].(map[string]any)
	assert.Equal(t, "application/json", gen["responseMimeType"])
	assert.InDelta(t, 0.2, gen["temperature"], 1e-9)
	assert.EqualValues(t, 256, gen["maxOutputTokens"])
	assert.NotNil(t, gen["responseSchema"])

	sys := got["systemInstruction"].(map[string]any)["parts"].([]any)[0].(map[string]any)
	assert.Equal(t, "be brief", sys["text"])
}

func TestGeminiHTTPError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"error":"quota"}`, http.StatusTooManyRequests)
	}))
	defer srv.Close()

	_, err := NewGeminiClient("k", "m", srv.URL).Complete(context.Background(), CompletionRequest{
		Messages: []Message{{Role: RoleUser, Content: "x"}},
	})
	require.Error(t, err)
	assert.Equal(t, 429, StatusCode(err))
}

func TestGeminiNoCandidates(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, `{"candidates":[],"promptFeedback":{"blockReason":"SAFETY"}}`)
	}))
	defer srv.Close()

	_, err := NewGeminiClient("k", "m", srv.URL).Complete(context.Background(), CompletionRequest{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "SAFETY")
}

func TestOllamaComplete(t *testing.T) {
	var got map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/chat", r.URL.Path)
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		_, _ = io.WriteString(w, `{"model":"llama3.1","message":{"role":"assistant","content":"{}"},"done":true,"done_reason":"stop","prompt_eval_count":3,"eval_count":2}`)
	}))
	defer srv.Close()

	resp, err := NewOllamaClient(srv.URL, "llama3.1").Complete(context.Background(), CompletionRequest{
		System:   "sys",
		Messages: []Message{{Role: RoleUser, Content: "hi"}},
		JSON:     true,
	})
	require.NoError(t, err)
	assert.Equal(t, "{}", resp.Content)
	assert.Equal(t, 2, resp.Usage.OutputTokens)

	assert.Equal(t, false, got["stream"])
	assert.Equal(t, "json", got["format"])
	msgs := got["messages"].([]any)
	require.Len(t, msgs, 2)
	assert.Equal(t, "system", msgs[0].(map[string]any)["role"])
}

func TestOpenAIComplete(t *testing.T) {
	var got map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/chat/completions", r.URL.Path)
		assert.Equal(t, "Bearer sk-test", r.Header.Get("Authorization"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.Header().Set("Content-Type", "application/json")
		_, _ = io.WriteString(w, `{
			"id":"c1","object":"chat.completion","created":1,"model":"gpt-4o-mini",
			"choices":[{"index":0,"finish_reason":"stop","message":{"role":"assistant","content":"{\"reply\":\"ok\"}"}}],
			"usage":{"prompt_tokens":5,"completion_tokens":3,"total_tokens":8}
		}`)
	}))
	defer srv.Close()

	c := NewOpenAIClient("sk-test", "gpt-4o-mini", srv.URL)
	resp, err := c.Complete(context.Background(), CompletionRequest{
		System:      "sys",
		Messages:    []Message{{Role: RoleUser, Content: "hi"}},
		Temperature: temp(0.2),
		JSON:        true,
	})
	require.NoError(t, err)
	assert.Equal(t, `{"reply":"ok"}`, resp.Content)
	assert.Equal(t, 5, resp.Usage.InputTokens)
	assert.Equal(t, "openai", resp.Provider)

	assert.Equal(t, "gpt-4o-mini", got["model"])
	format := got["response_format"].(map[string]any)
	assert.Equal(t, "json_object", format["type"])
	msgs := got["messages"].([]any)
	require.Len(t, msgs, 2)
	assert.Equal(t, "system", msgs[0].(map[string]any)["role"])
}

func TestOpenAIErrorMapsStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = io.WriteString(w, `{"error":{"message":"overloaded","type":"server_error"}}`)
	}))
	defer srv.Close()

	_, err := NewOpenAIClient("sk", "m", srv.URL).Complete(context.Background(), CompletionRequest{
		Messages: []Message{{Role: RoleUser, Content: "hi"}},
	})
	require.Error(t, err)
	assert.Equal(t, 503, StatusCode(err))
}

func TestMockRecordsRequests(t *testing.T) {
	m := &MockClient{}
	resp, err := m.Complete(context.Background(), CompletionRequest{System: "s"})
	require.NoError(t, err)
	assert.Contains(t, resp.Content, `"extract"`)
	assert.Equal(t, "mock", m.Name())
	require.Len(t, m.Requests(), 1)
	assert.Equal(t, "s", m.Requests()[0].System)
}

func TestGuardedOpensAfterFailures(t *testing.T) {
	calls := 0
	inner := &MockClient{CompleteFunc: func(ctx context.Context, req CompletionRequest) (*CompletionResponse, error) {
		calls++
		return nil, &ProviderError{Provider: "mock", Code: 500, Message: "down"}
	}}
	g := Guard(inner, resilience.Config{MaxFailures: 2}, testLogger())

	for i := 0; i < 2; i++ {
		_, err := g.Complete(context.Background(), CompletionRequest{})
		require.Error(t, err)
	}
	_, err := g.Complete(context.Background(), CompletionRequest{})
	assert.ErrorIs(t, err, resilience.ErrCircuitOpen)
	assert.Equal(t, 2, calls)
	assert.Equal(t, resilience.StateOpen, g.Breaker().State())
}

func TestGuardedIgnoresCallerFaults(t *testing.T) {
	inner := &MockClient{CompleteFunc: func(ctx context.Context, req CompletionRequest) (*CompletionResponse, error) {
		return nil, &ProviderError{Provider: "mock", Code: 400, Message: "bad request"}
	}}
	g := Guard(inner, resilience.Config{MaxFailures: 1}, testLogger())

	for i := 0; i < 3; i++ {
		_, err := g.Complete(context.Background(), CompletionRequest{})
		assert.Equal(t, 400, StatusCode(err))
	}
	assert.Equal(t, resilience.StateClosed, g.Breaker().State())
}

func TestRegistryResolve(t *testing.T) {
	reg := NewRegistry(testLogger())
	a := &MockClient{ProviderName: "a"}
	b := &MockClient{ProviderName: "b"}
	reg.Register("a", a)
	reg.Register("b", b)
	reg.Alias("model-b", "b")
	reg.SetFallback("a")

	c, err := reg.Resolve("b")
	require.NoError(t, err)
	assert.Same(t, b, c)

	c, err = reg.Resolve("model-b")
	require.NoError(t, err)
	assert.Same(t, b, c)

	c, err = reg.Resolve("unknown")
	require.NoError(t, err)
	assert.Same(t, a, c)

	assert.Equal(t, []string{"a", "b"}, reg.List())
	chain := reg.Chain()
	require.Len(t, chain, 2)
	assert.Equal(t, "a", chain[0].Name())
}

func TestRegistryResolveEmpty(t *testing.T) {
	_, err := NewRegistry(testLogger()).Resolve("x")
	assert.Error(t, err)
}

func TestNewRegistryFromConfig(t *testing.T) {
	cfg := config.LLMConfig{
		Provider:  "gemini",
		Fallbacks: []string{"ollama", "mock"},
		Providers: map[string]config.ProviderEntry{
			"gemini": {APIKey: "k", Model: "gemini-2.5-flash"},
			"ollama": {Model: "llama3.1"},
		},
	}
	reg, err := NewRegistryFromConfig(cfg, testLogger())
	require.NoError(t, err)

	chain := reg.Chain()
	require.Len(t, chain, 3)
	assert.Equal(t, "gemini", chain[0].Name())
	assert.Equal(t, "ollama", chain[1].Name())
	assert.Equal(t, "mock", chain[2].Name())
	_, guarded := chain[0].(*Guarded)
	assert.True(t, guarded)

	c, err := reg.Resolve("gemini-2.5-flash")
	require.NoError(t, err)
	assert.Equal(t, "gemini", c.Name())
}

func TestNewRegistryFromConfigUnknownProvider(t *testing.T) {
	_, err := NewRegistryFromConfig(config.LLMConfig{Provider: "nope"}, testLogger())
	assert.Error(t, err)

	_, err = NewRegistryFromConfig(config.LLMConfig{}, testLogger())
	assert.Error(t, err)
}
