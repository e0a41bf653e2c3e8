package ai

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"inboxjanitor/pkg/gemini"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sampleOutput = `{"results":[{"id":"m1","category":"promo","score":0.9,"reason":"Sale"}]}`

func TestOllamaGenerateSendsSchema(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/generate", r.URL.Path)
		var body map[string]any
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "llama3", body["model"])
		assert.Equal(t, "system text", body["system"])
		assert.Equal(t, false, body["stream"])
		_, isSchema := body["format"].(map[string]any)
		assert.True(t, isSchema)
		_ = json.NewEncoder(w).Encode(map[string]any{"response": sampleOutput, "done": true})
	}))
	defer server.Close()

	svc := NewOllamaService(server.URL, "llama3")
	text, err := svc.Generate(context.Background(), "system text", "prompt", ClassificationSchema())
	require.NoError(t, err)
	assert.Equal(t, sampleOutput, text)
}

func TestOllamaGenerateReadsGettersPerCall(t *testing.T) {
	var model atomic.Value
	model.Store("llama3")
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body map[string]any
		_ = json.NewDecoder(r.Body).Decode(&body)
		_ = json.NewEncoder(w).Encode(map[string]any{"response": body["model"]})
	}))
	defer server.Close()

	svc := NewOllamaServiceWithGetters(func() string { return server.URL }, func() string { return model.Load().(string) })
	first, err := svc.Generate(context.Background(), "", "p", nil)
	require.NoError(t, err)
	model.Store("mistral")
	second, err := svc.Generate(context.Background(), "", "p", nil)
	require.NoError(t, err)
	assert.Equal(t, "llama3", first)
	assert.Equal(t, "mistral", second)
}

func TestOllamaGenerateHTTPError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "model not found", http.StatusNotFound)
	}))
	defer server.Close()

	_, err := NewOllamaService(server.URL, "missing").Generate(context.Background(), "", "p", nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "404")
}

func TestGeminiGenerate(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/models/gemini-2.5-flash:generateContent", r.URL.Path)
		assert.Equal(t, "key-1", r.URL.Query().Get("key"))

		var body map[string]any
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		cfg := body["generationConfig"].(map[string]any)
		assert.Equal(t, "application/json", cfg["responseMimeType"])
		schema := cfg["responseJsonSchema"].(map[string]any)
		_, hasMeta := schema["$schema"]
		assert.False(t, hasMeta)
		assert.NotNil(t, body["systemInstruction"])

		_ = json.NewEncoder(w).Encode(map[string]any{
			"candidates": []any{map[string]any{
				"content": map[string]any{"parts": []any{map[string]any{"text": sampleOutput}}},
			}},
		})
	}))
	defer server.Close()

	svc := gemini.NewGeminiService("key-1", "")
	svc.BaseURL = server.URL
	text, err := svc.Generate(context.Background(), "sys", "prompt", ClassificationSchema())
	require.NoError(t, err)
	assert.Equal(t, sampleOutput, text)
}

func TestGeminiQuotaErrorIsRecognised(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
		_, _ = w.Write([]byte(`{"error":{"status":"RESOURCE_EXHAUSTED"}}`))
	}))
	defer server.Close()

	svc := gemini.NewGeminiService("k", "")
	svc.BaseURL = server.URL
	_, err := svc.Generate(context.Background(), "", "p", nil)
	require.Error(t, err)
	assert.True(t, isQuotaError(err))
}

func TestOpenAIGenerate(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.True(t, strings.HasSuffix(r.URL.Path, "/chat/completions"), r.URL.Path)
		assert.Equal(t, "Bearer sk-test", r.Header.Get("Authorization"))

		var body map[string]any
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		format := body["response_format"].(map[string]any)
		assert.Equal(t, "json_schema", format["type"])

		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"id":      "cmpl-1",
			"object":  "chat.completion",
			"created": 1,
			"model":   "gpt-4o-mini",
			"choices": []any{map[string]any{
				"index":         0,
				"finish_reason": "stop",
				"message":       map[string]any{"role": "assistant", "content": sampleOutput},
			}},
		})
	}))
	defer server.Close()

	svc := NewOpenAIService("sk-test", server.URL, "gpt-4o-mini")
	text, err := svc.Generate(context.Background(), "sys", "prompt", ClassificationSchema())
	require.NoError(t, err)
	assert.Equal(t, sampleOutput, text)
}

type fakeProvider struct {
	name  string
	text  string
	err   error
	calls int32
}

func (f *fakeProvider) Name() string { return f.name }

func (f *fakeProvider) Generate(ctx context.Context, system, prompt string, schema map[string]any) (string, error) {
	atomic.AddInt32(&f.calls, 1)
	return f.text, f.err
}

func TestFallbackUsesFirstHealthyProvider(t *testing.T) {
	broken := &fakeProvider{name: "gemini", err: errors.New("429 quota exceeded")}
	healthy := &fakeProvider{name: "ollama", text: sampleOutput}
	svc := NewFallbackService(logrus.New(), nil, healthy, broken)

	results, err := svc.Classify(context.Background(), ClassificationRequest{Prompt: "p"})
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, "m1", results[0].ID)
	assert.EqualValues(t, 1, broken.calls)
	assert.EqualValues(t, 1, healthy.calls)
	assert.Equal(t, []ProviderType{ProviderGemini, ProviderOllama}, svc.Available())
}

func TestFallbackPreferredProviderGoesFirst(t *testing.T) {
	g := &fakeProvider{name: "gemini", text: sampleOutput}
	o := &fakeProvider{name: "ollama", text: sampleOutput}
	svc := NewFallbackService(logrus.New(), func() ProviderType { return ProviderOllama }, g, o)

	_, err := svc.Classify(context.Background(), ClassificationRequest{Prompt: "p"})
	require.NoError(t, err)
	assert.EqualValues(t, 0, g.calls)
	assert.EqualValues(t, 1, o.calls)
	assert.Equal(t, []ProviderType{ProviderOllama, ProviderGemini}, svc.Available())
}

func TestFallbackTreatsUnparseableOutputAsFailure(t *testing.T) {
	chatty := &fakeProvider{name: "gemini", text: "Sure! I think these are promos."}
	good := &fakeProvider{name: "openai", text: sampleOutput}
	svc := NewFallbackService(logrus.New(), nil, chatty, good)

	results, err := svc.Classify(context.Background(), ClassificationRequest{Prompt: "p"})
	require.NoError(t, err)
	assert.Len(t, results, 1)
	assert.EqualValues(t, 1, good.calls)
}

func TestFallbackAllFail(t *testing.T) {
	a := &fakeProvider{name: "gemini", err: errors.New("dial tcp: connection refused")}
	b := &fakeProvider{name: "ollama", err: errors.New("boom")}
	svc := NewFallbackService(logrus.New(), nil, a, b)

	_, err := svc.Classify(context.Background(), ClassificationRequest{Prompt: "p"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "all AI providers failed")

	_, err = NewFallbackService(logrus.New(), nil).Classify(context.Background(), ClassificationRequest{})
	assert.Error(t, err)
}

func TestFallbackBreakerOpensAfterRepeatedFailures(t *testing.T) {
	flaky := &fakeProvider{name: "gemini", err: errors.New("503 unavailable")}
	backup := &fakeProvider{name: "ollama", text: sampleOutput}
	svc := NewFallbackService(logrus.New(), nil, flaky, backup)

	for i := 0; i < 5; i++ {
		_, err := svc.Classify(context.Background(), ClassificationRequest{Prompt: "p"})
		require.NoError(t, err)
	}
	// three failures trip the breaker; later calls skip the provider entirely
	assert.EqualValues(t, 3, flaky.calls)
	assert.EqualValues(t, 5, backup.calls)
}

// recoveringProvider fails until healed, then holds each call until `parallel` calls are in flight
type recoveringProvider struct {
	mu       sync.Mutex
	healed   bool
	parallel int
	arrived  chan struct{}
}

func (p *recoveringProvider) Name() string { return "gemini" }

func (p *recoveringProvider) Generate(ctx context.Context, system, prompt string, schema map[string]any) (string, error) {
	p.mu.Lock()
	healed := p.healed
	p.mu.Unlock()
	if !healed {
		return "", errors.New("503 unavailable")
	}

	p.arrived <- struct{}{}
	deadline := time.After(2 * time.Second)
	for len(p.arrived) < p.parallel {
		select {
		case <-deadline:
			return "", errors.New("calls did not overlap")
		case <-time.After(5 * time.Millisecond):
		}
	}
	return sampleOutput, nil
}

func TestFallbackHalfOpenAdmitsParallelChunks(t *testing.T) {
	timeout := breakerTimeout
	breakerTimeout = 50 * time.Millisecond
	t.Cleanup(func() { breakerTimeout = timeout })

	provider := &recoveringProvider{parallel: int(halfOpenRequests), arrived: make(chan struct{}, halfOpenRequests)}
	svc := NewFallbackService(logrus.New(), nil, provider)

	for i := 0; i < 3; i++ {
		_, err := svc.Classify(context.Background(), ClassificationRequest{Prompt: "p"})
		require.Error(t, err)
	}

	provider.mu.Lock()
	provider.healed = true
	provider.mu.Unlock()
	time.Sleep(2 * breakerTimeout)

	errs := make([]error, provider.parallel)
	var wg sync.WaitGroup
	for i := range errs {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = svc.Classify(context.Background(), ClassificationRequest{Prompt: "p"})
		}(i)
	}
	wg.Wait()

	for _, err := range errs {
		assert.NoError(t, err)
	}
}

func TestErrorHeuristics(t *testing.T) {
	assert.True(t, isQuotaError(errors.New("Gemini API error (429): RESOURCE_EXHAUSTED")))
	assert.False(t, isQuotaError(errors.New("bad request")))
	assert.True(t, isConnectionError(errors.New("dial tcp 127.0.0.1:11434: connection refused")))
	assert.False(t, isConnectionError(nil))
}

func TestNewClassifierValidatesExplicitProvider(t *testing.T) {
	_, err := NewClassifier(Config{Provider: ProviderGemini}, logrus.New())
	assert.Error(t, err)
	_, err = NewClassifier(Config{Provider: "claude"}, logrus.New())
	assert.Error(t, err)

	svc, err := NewClassifier(Config{Provider: ProviderAuto, GeminiAPIKey: "k"}, logrus.New())
	require.NoError(t, err)
	assert.Equal(t, []ProviderType{ProviderGemini, ProviderOllama}, svc.Available())
}
