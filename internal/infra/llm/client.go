package llm

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"agentorch/internal/domain/agent/ports"
	"agentorch/internal/observability"
	sharederrors "agentorch/internal/shared/errors"
	jsonx "agentorch/internal/shared/json"
	"agentorch/internal/shared/logging"

	"github.com/kaptinlin/jsonrepair"
	"go.opentelemetry.io/otel/attribute"
)

const (
	defaultBaseURL   = "https://api.openai.com/v1"
	defaultTimeout   = 8 * time.Second
	maxErrorBodySize = 400
)

// Config configures an OpenAI-compatible chat completions client.
type Config struct {
	APIKey     string
	Model      string
	BaseURL    string
	Timeout    time.Duration
	MaxRetries int
	Backoff    time.Duration
}

// MetricsRecorder receives one sample per completion request.
type MetricsRecorder interface {
	RecordLLMRequest(ctx context.Context, model, status string, latency time.Duration)
}

// Client implements ports.StructuredGenerator against /chat/completions.
type Client struct {
	config     Config
	httpClient *http.Client
	logger     logging.Logger
	metrics    MetricsRecorder
}

// Option customises a Client.
type Option func(*Client)

// WithHTTPClient overrides the transport used for requests.
func WithHTTPClient(client *http.Client) Option {
	return func(c *Client) {
		if client != nil {
			c.httpClient = client
		}
	}
}

// WithLogger sets the client logger.
func WithLogger(logger logging.Logger) Option {
	return func(c *Client) { c.logger = logging.OrNop(logger) }
}

// WithMetrics records request counts and latency.
func WithMetrics(metrics MetricsRecorder) Option {
	return func(c *Client) { c.metrics = metrics }
}

// NewClient builds a client. It fails without an API key.
func NewClient(config Config, opts ...Option) (*Client, error) {
	if strings.TrimSpace(config.APIKey) == "" {
		return nil, errors.New("OPENAI_API_KEY is missing")
	}
	config.BaseURL = strings.TrimRight(strings.TrimSpace(config.BaseURL), "/")
	if config.BaseURL == "" {
		config.BaseURL = defaultBaseURL
	}
	if config.Timeout <= 0 {
		config.Timeout = defaultTimeout
	}
	if config.MaxRetries < 0 {
		config.MaxRetries = 0
	}

	c := &Client{
		config:     config,
		httpClient: &http.Client{},
		logger:     logging.NewComponentLogger("LLMClient"),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// Model returns the configured model name.
func (c *Client) Model() string {
	return c.config.Model
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model          string            `json:"model"`
	Temperature    float64           `json:"temperature"`
	ResponseFormat map[string]string `json:"response_format"`
	Messages       []chatMessage     `json:"messages"`
}

type chatResponse struct {
	Choices []struct {
		Message struct {
			Content jsonx.RawMessage `json:"content"`
		} `json:"message"`
	} `json:"choices"`
	Error *struct {
		Type    string `json:"type"`
		Message string `json:"message"`
	} `json:"error"`
}

// GenerateStructured sends req and returns the decoded JSON object.
func (c *Client) GenerateStructured(ctx context.Context, req ports.StructuredRequest) (map[string]any, error) {
	ctx, span := observability.StartSpan(ctx, observability.SpanLLMGenerate,
		attribute.String(observability.AttrModel, c.config.Model))
	start := time.Now()

	body, err := jsonx.Marshal(chatRequest{
		Model:          c.config.Model,
		Temperature:    0,
		ResponseFormat: map[string]string{"type": "json_object"},
		Messages: []chatMessage{
			{Role: "system", Content: req.System},
			{Role: "user", Content: req.User},
		},
	})
	if err != nil {
		observability.EndSpan(span, err)
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	retry := sharederrors.FixedRetryConfig(c.config.MaxRetries, c.config.Backoff)
	content, err := sharederrors.RetryWithResultAndLog(ctx, retry, func(ctx context.Context) (string, error) {
		return c.complete(ctx, body)
	}, c.logger)

	var result map[string]any
	if err == nil {
		result, err = ParseObject(content)
	}
	if err == nil {
		err = checkRequiredKeys(req.Schema, result)
	}

	status := "ok"
	if err != nil {
		status = "error"
		c.logger.Warn("structured generation with %s failed: %v", c.config.Model, err)
	}
	if c.metrics != nil {
		c.metrics.RecordLLMRequest(ctx, c.config.Model, status, time.Since(start))
	}
	observability.EndSpan(span, err)
	if err != nil {
		return nil, err
	}
	return result, nil
}

// complete performs one bounded request and returns the message content.
func (c *Client) complete(ctx context.Context, body []byte) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, c.config.Timeout)
	defer cancel()

	endpoint := c.config.BaseURL + "/chat/completions"
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return "", sharederrors.NewPermanentError(err, "build LLM request")
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+c.config.APIKey)

	c.logger.Debug("POST %s model=%s", endpoint, c.config.Model)
	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return "", sharederrors.NewTransientError(err, fmt.Sprintf("LLM request failed: %v", err))
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode >= http.StatusBadRequest {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBodySize))
		return "", sharederrors.FromHTTPStatus(resp.StatusCode,
			fmt.Sprintf("LLM request failed with status %d: %s", resp.StatusCode, string(raw)))
	}

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", sharederrors.NewTransientError(err, fmt.Sprintf("read LLM response: %v", err))
	}
	var decoded chatResponse
	if err := jsonx.Unmarshal(raw, &decoded); err != nil {
		return "", sharederrors.NewPermanentError(err, "LLM returned non-JSON response")
	}
	if decoded.Error != nil && decoded.Error.Message != "" {
		return "", sharederrors.NewPermanentError(nil, "LLM error: "+decoded.Error.Message)
	}
	if len(decoded.Choices) == 0 {
		return "", sharederrors.NewPermanentError(nil, "LLM response missing choices")
	}
	text := ContentText(decoded.Choices[0].Message.Content)
	if text == "" {
		return "", sharederrors.NewPermanentError(nil, "LLM response content is empty")
	}
	return text, nil
}

// ContentText flattens a message content that is either a string or a list
// of parts carrying "text".
func ContentText(raw jsonx.RawMessage) string {
	if len(raw) == 0 {
		return ""
	}
	var asString string
	if err := jsonx.Unmarshal(raw, &asString); err == nil {
		return strings.TrimSpace(asString)
	}
	var parts []map[string]any
	if err := jsonx.Unmarshal(raw, &parts); err != nil {
		return ""
	}
	var sb strings.Builder
	for _, part := range parts {
		if text, ok := part["text"].(string); ok {
			sb.WriteString(text)
		}
	}
	return strings.TrimSpace(sb.String())
}

// ParseObject decodes content as a JSON object, repairing malformed JSON once.
func ParseObject(content string) (map[string]any, error) {
	var parsed any
	if err := jsonx.Unmarshal([]byte(content), &parsed); err != nil {
		repaired, repairErr := jsonrepair.JSONRepair(content)
		if repairErr != nil {
			return nil, fmt.Errorf("LLM content was not valid JSON: %w", err)
		}
		if err := jsonx.Unmarshal([]byte(repaired), &parsed); err != nil {
			return nil, fmt.Errorf("LLM content was not valid JSON: %w", err)
		}
	}
	obj, ok := parsed.(map[string]any)
	if !ok {
		return nil, errors.New("LLM content must be a JSON object")
	}
	return obj, nil
}

func checkRequiredKeys(schema ports.ParameterSchema, obj map[string]any) error {
	for _, key := range schema.Required {
		if _, ok := obj[key]; !ok {
			return fmt.Errorf("LLM response missing required key %q", key)
		}
	}
	return nil
}
