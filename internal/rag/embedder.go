package rag

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"math"
	"net/http"
	"strings"
	"time"

	sharederrors "agentorch/internal/shared/errors"
	jsonx "agentorch/internal/shared/json"

	lru "github.com/hashicorp/golang-lru/v2"
	chromem "github.com/philippgille/chromem-go"
)

const (
	defaultEmbeddingModel = "text-embedding-3-small"
	defaultEmbeddingURL   = "https://api.openai.com/v1"
	maxEmbeddingBatch     = 100
)

// EmbedderConfig holds embedding configuration.
type EmbedderConfig struct {
	Model      string
	APIKey     string
	BaseURL    string
	CacheSize  int
	Timeout    time.Duration
	MaxRetries int
	Backoff    time.Duration
}

// Embedder generates text embeddings.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)
}

// openaiEmbedder calls an OpenAI-compatible /embeddings endpoint and keeps an
// LRU of recent vectors keyed by input text.
type openaiEmbedder struct {
	config     EmbedderConfig
	httpClient *http.Client
	cache      *lru.Cache[string, []float32]
}

// NewEmbedder creates an embedder. It fails without an API key.
func NewEmbedder(config EmbedderConfig) (Embedder, error) {
	if strings.TrimSpace(config.APIKey) == "" {
		return nil, fmt.Errorf("embedding API key is missing")
	}
	if config.Model == "" {
		config.Model = defaultEmbeddingModel
	}
	if config.BaseURL == "" {
		config.BaseURL = defaultEmbeddingURL
	}
	config.BaseURL = strings.TrimRight(config.BaseURL, "/")
	if config.CacheSize <= 0 {
		config.CacheSize = 10000
	}
	if config.Timeout <= 0 {
		config.Timeout = 12 * time.Second
	}

	cache, err := lru.New[string, []float32](config.CacheSize)
	if err != nil {
		return nil, fmt.Errorf("create cache: %w", err)
	}

	return &openaiEmbedder{
		config:     config,
		httpClient: &http.Client{Timeout: config.Timeout},
		cache:      cache,
	}, nil
}

// EmbeddingFunc adapts an Embedder to the vector collection's hook. The
// collection expects unit-length vectors from its embedding function.
func EmbeddingFunc(e Embedder) chromem.EmbeddingFunc {
	if e == nil {
		return nil
	}
	return func(ctx context.Context, text string) ([]float32, error) {
		vec, err := e.Embed(ctx, text)
		if err != nil {
			return nil, err
		}
		return normalizeVector(vec), nil
	}
}

// normalizeVector returns v scaled to unit length. Zero vectors are returned
// unchanged. The input is never modified since it may be a cached slice.
func normalizeVector(v []float32) []float32 {
	var sum float64
	for _, x := range v {
		sum += float64(x) * float64(x)
	}
	if sum == 0 {
		return v
	}
	norm := math.Sqrt(sum)
	out := make([]float32, len(v))
	for i, x := range v {
		out[i] = float32(float64(x) / norm)
	}
	return out
}

func (e *openaiEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	if cached, ok := e.cache.Get(text); ok {
		return cached, nil
	}
	embeddings, err := e.EmbedBatch(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return embeddings[0], nil
}

func (e *openaiEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, fmt.Errorf("no texts provided")
	}
	if len(texts) > maxEmbeddingBatch {
		return nil, fmt.Errorf("batch size exceeds limit: %d > %d", len(texts), maxEmbeddingBatch)
	}

	results := make([][]float32, len(texts))
	var uncachedIndices []int
	var uncachedTexts []string
	for i, text := range texts {
		if cached, ok := e.cache.Get(text); ok {
			results[i] = cached
			continue
		}
		uncachedIndices = append(uncachedIndices, i)
		uncachedTexts = append(uncachedTexts, text)
	}
	if len(uncachedTexts) == 0 {
		return results, nil
	}

	retry := sharederrors.FixedRetryConfig(e.config.MaxRetries, e.config.Backoff)
	embeddings, err := sharederrors.RetryWithResult(ctx, retry, func(ctx context.Context) ([][]float32, error) {
		return e.callAPI(ctx, uncachedTexts)
	})
	if err != nil {
		return nil, err
	}

	for i, idx := range uncachedIndices {
		e.cache.Add(texts[idx], embeddings[i])
		results[idx] = embeddings[i]
	}
	return results, nil
}

func (e *openaiEmbedder) callAPI(ctx context.Context, texts []string) ([][]float32, error) {
	body, err := jsonx.Marshal(map[string]any{
		"model": e.config.Model,
		"input": texts,
	})
	if err != nil {
		return nil, sharederrors.NewPermanentError(err, "marshal embedding request")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, e.config.BaseURL+"/embeddings", bytes.NewReader(body))
	if err != nil {
		return nil, sharederrors.NewPermanentError(err, "build embedding request")
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+e.config.APIKey)

	resp, err := e.httpClient.Do(req)
	if err != nil {
		return nil, sharederrors.NewTransientError(err, fmt.Sprintf("embedding request failed: %v", err))
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 300))
		return nil, sharederrors.FromHTTPStatus(resp.StatusCode,
			fmt.Sprintf("embedding request failed with status %d: %s", resp.StatusCode, string(raw)))
	}

	var apiResp struct {
		Data []struct {
			Embedding []float32 `json:"embedding"`
			Index     int       `json:"index"`
		} `json:"data"`
	}
	if err := jsonx.NewDecoder(resp.Body).Decode(&apiResp); err != nil {
		return nil, sharederrors.NewPermanentError(err, "decode embedding response")
	}
	if len(apiResp.Data) == 0 {
		return nil, sharederrors.NewPermanentError(nil, "embedding response missing data")
	}

	embeddings := make([][]float32, len(texts))
	for _, item := range apiResp.Data {
		if item.Index < 0 || item.Index >= len(embeddings) {
			return nil, sharederrors.NewPermanentError(nil, fmt.Sprintf("invalid embedding index: %d", item.Index))
		}
		embeddings[item.Index] = item.Embedding
	}
	for i, vec := range embeddings {
		if len(vec) == 0 {
			return nil, sharederrors.NewPermanentError(nil, fmt.Sprintf("embedding response missing vector %d", i))
		}
	}
	return embeddings, nil
}
