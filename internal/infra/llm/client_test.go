package llm

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"agentorch/internal/domain/agent/ports"
	jsonx "agentorch/internal/shared/json"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordedMetric struct {
	model  string
	status string
}

type fakeMetrics struct {
	samples []recordedMetric
}

func (f *fakeMetrics) RecordLLMRequest(_ context.Context, model, status string, _ time.Duration) {
	f.samples = append(f.samples, recordedMetric{model: model, status: status})
}

func completionBody(content any) map[string]any {
	return map[string]any{
		"choices": []any{
			map[string]any{"message": map[string]any{"content": content}},
		},
	}
}

func newTestClient(t *testing.T, url string, retries int) *Client {
	t.Helper()
	client, err := NewClient(Config{
		APIKey:     "test-key",
		Model:      "gpt-test",
		BaseURL:    url + "/",
		Timeout:    2 * time.Second,
		MaxRetries: retries,
	})
	require.NoError(t, err)
	return client
}

func TestNewClientRequiresAPIKey(t *testing.T) {
	_, err := NewClient(Config{Model: "gpt-test"})
	require.EqualError(t, err, "OPENAI_API_KEY is missing")
}

func TestGenerateStructuredSendsJSONModeRequest(t *testing.T) {
	var payload map[string]any
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/chat/completions", r.URL.Path)
		assert.Equal(t, "Bearer test-key", r.Header.Get("Authorization"))
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&payload))
		_ = json.NewEncoder(w).Encode(completionBody(`{"summary":"db failover done"}`))
	}))
	defer server.Close()

	metrics := &fakeMetrics{}
	client, err := NewClient(Config{APIKey: "test-key", Model: "gpt-test", BaseURL: server.URL}, WithMetrics(metrics))
	require.NoError(t, err)

	out, err := client.GenerateStructured(context.Background(), ports.StructuredRequest{
		System: "sys",
		User:   "usr",
		Schema: ports.ParameterSchema{Required: []string{"summary"}},
	})
	require.NoError(t, err)
	assert.Equal(t, "db failover done", out["summary"])

	assert.Equal(t, "gpt-test", payload["model"])
	assert.EqualValues(t, 0, payload["temperature"])
	assert.Equal(t, map[string]any{"type": "json_object"}, payload["response_format"])
	messages, ok := payload["messages"].([]any)
	require.True(t, ok)
	require.Len(t, messages, 2)
	assert.Equal(t, "system", messages[0].(map[string]any)["role"])
	assert.Equal(t, "usr", messages[1].(map[string]any)["content"])

	require.Len(t, metrics.samples, 1)
	assert.Equal(t, recordedMetric{model: "gpt-test", status: "ok"}, metrics.samples[0])
}

func TestGenerateStructuredAcceptsContentParts(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(completionBody([]any{
			map[string]any{"type": "text", "text": `{"steps":`},
			map[string]any{"type": "text", "text": `["summarize"]}`},
			map[string]any{"type": "image"},
		}))
	}))
	defer server.Close()

	out, err := newTestClient(t, server.URL, 0).GenerateStructured(context.Background(), ports.StructuredRequest{})
	require.NoError(t, err)
	assert.Equal(t, []any{"summarize"}, out["steps"])
}

func TestGenerateStructuredRetriesTransientStatus(t *testing.T) {
	var hits int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&hits, 1) == 1 {
			w.WriteHeader(http.StatusServiceUnavailable)
			_, _ = w.Write([]byte("busy"))
			return
		}
		_ = json.NewEncoder(w).Encode(completionBody(`{"ok":true}`))
	}))
	defer server.Close()

	out, err := newTestClient(t, server.URL, 1).GenerateStructured(context.Background(), ports.StructuredRequest{})
	require.NoError(t, err)
	assert.Equal(t, true, out["ok"])
	assert.EqualValues(t, 2, atomic.LoadInt32(&hits))
}

func TestGenerateStructuredDoesNotRetryClientError(t *testing.T) {
	var hits int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&hits, 1)
		w.WriteHeader(http.StatusUnauthorized)
		_, _ = w.Write([]byte("bad key"))
	}))
	defer server.Close()

	metrics := &fakeMetrics{}
	client := newTestClient(t, server.URL, 3)
	client.metrics = metrics

	_, err := client.GenerateStructured(context.Background(), ports.StructuredRequest{})
	require.EqualError(t, err, "LLM request failed with status 401: bad key")
	assert.EqualValues(t, 1, atomic.LoadInt32(&hits))
	require.Len(t, metrics.samples, 1)
	assert.Equal(t, "error", metrics.samples[0].status)
}

func TestGenerateStructuredRejectsEmptyContent(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(completionBody("   "))
	}))
	defer server.Close()

	_, err := newTestClient(t, server.URL, 0).GenerateStructured(context.Background(), ports.StructuredRequest{})
	require.EqualError(t, err, "LLM response content is empty")
}

func TestGenerateStructuredChecksRequiredKeys(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(completionBody(`{"steps":[]}`))
	}))
	defer server.Close()

	_, err := newTestClient(t, server.URL, 0).GenerateStructured(context.Background(), ports.StructuredRequest{
		Schema: ports.ParameterSchema{Required: []string{"steps", "reason"}},
	})
	require.EqualError(t, err, `LLM response missing required key "reason"`)
}

func TestParseObject(t *testing.T) {
	obj, err := ParseObject(`{"summary": "ok"}`)
	require.NoError(t, err)
	assert.Equal(t, "ok", obj["summary"])

	repaired, err := ParseObject(`{"summary": "ok",}`)
	require.NoError(t, err)
	assert.Equal(t, "ok", repaired["summary"])

	_, err = ParseObject(`["a", "b"]`)
	require.EqualError(t, err, "LLM content must be a JSON object")
}

func TestContentText(t *testing.T) {
	assert.Equal(t, "hi", ContentText(jsonx.RawMessage(`"  hi "`)))
	assert.Equal(t, "ab", ContentText(jsonx.RawMessage(`[{"text":"a"},{"text":"b"},{"x":1}]`)))
	assert.Equal(t, "", ContentText(jsonx.RawMessage(`null`)))
	assert.Equal(t, "", ContentText(nil))
}
