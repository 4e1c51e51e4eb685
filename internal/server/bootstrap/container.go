// Package bootstrap assembles the orchestrator runtime from Settings.
package bootstrap

import (
	"context"
	"errors"
	"strings"

	"agentorch/internal/app/orchestrator"
	"agentorch/internal/app/planner"
	"agentorch/internal/app/toolregistry"
	"agentorch/internal/infra/llm"
	"agentorch/internal/infra/tools/builtin"
	"agentorch/internal/infra/tools/llmtools"
	"agentorch/internal/observability"
	"agentorch/internal/rag"
	"agentorch/internal/shared/config"
	"agentorch/internal/shared/logging"
)

// Container holds the wired runtime.
type Container struct {
	Settings config.Settings
	Registry *toolregistry.Registry
	Engine   *orchestrator.Engine
	Metrics  *observability.MetricsCollector

	cleanups []func()
}

// Cleanup releases resources in reverse acquisition order.
func (c *Container) Cleanup() {
	for i := len(c.cleanups) - 1; i >= 0; i-- {
		c.cleanups[i]()
	}
	c.cleanups = nil
}

func (c *Container) onCleanup(fn func()) {
	c.cleanups = append(c.cleanups, fn)
}

// BuildContainer wires retrieval, tools, the planner and the engine. Missing
// indexes and a missing API key degrade features instead of failing.
func BuildContainer(ctx context.Context, settings config.Settings) (*Container, error) {
	logger := logging.NewComponentLogger("Bootstrap")
	c := &Container{Settings: settings}

	metrics, cleanup := InitObservability(settings, logger)
	c.Metrics = metrics
	c.onCleanup(cleanup)

	issues := c.buildIssueSearcher(ctx, settings, logger)
	knowledge := rag.NewKnowledgeSearcher(settings.CompanyRoot, rag.NewCorpusLoader())

	registry, err := builtin.NewRegistry(builtin.Dependencies{Knowledge: knowledge, Issues: issues})
	if err != nil {
		c.Cleanup()
		return nil, err
	}
	c.Registry = registry

	apiKey := strings.TrimSpace(settings.OpenAIAPIKey)
	llmConfig := llm.Config{
		APIKey:     apiKey,
		Model:      settings.LLMModel,
		BaseURL:    settings.LLMBaseURL,
		Timeout:    settings.LLMTimeout(),
		MaxRetries: settings.LLMMaxRetries,
		Backoff:    settings.LLMBackoff(),
	}
	llmOpts := []llm.Option{llm.WithMetrics(metrics)}

	plannerOpts := []planner.Option{}
	if apiKey != "" {
		client, err := llm.NewClient(llmConfig, llmOpts...)
		if err != nil {
			logger.Warn("LLM planner disabled: %v", err)
		} else {
			plannerOpts = append(plannerOpts, planner.WithGenerator(client, settings.LLMProvider, settings.LLMModel))
		}
	}

	c.Engine = orchestrator.New(
		planner.New(registry, plannerOpts...),
		registry,
		orchestrator.Config{
			Gateway: toolregistry.GatewayConfig{
				Timeout:    settings.ToolTimeout(),
				MaxRetries: settings.ToolMaxRetries,
				Backoff:    settings.ToolBackoff(),
			},
			LLM: toolregistry.LLMSettings{
				Provider: settings.LLMProvider,
				APIKey:   apiKey,
				Model:    settings.LLMModel,
			},
		},
		orchestrator.WithMetrics(metrics),
		orchestrator.WithModelTools(llmtools.NewFactory(llmConfig, llmOpts...)),
	)

	if err := ctx.Err(); err != nil {
		c.Cleanup()
		return nil, err
	}
	return c, nil
}

// buildIssueSearcher opens the lexical and vector indexes read-only. Either
// may be missing; the searcher then returns fewer hits.
func (c *Container) buildIssueSearcher(ctx context.Context, settings config.Settings, logger logging.Logger) *rag.IssueSearcher {
	opts := []rag.IssueSearcherOption{rag.WithHybridDefault(settings.HybridEnabled())}

	if fts := openFullTextIndex(ctx, settings.RAGIndexPath, logger); fts != nil {
		opts = append(opts, rag.WithFullTextIndex(fts))
		c.onCleanup(func() {
			if err := fts.Close(); err != nil {
				logger.Warn("close full-text index: %v", err)
			}
		})
	}

	var (
		embedder rag.Embedder
		err      error
	)
	if key := strings.TrimSpace(settings.OpenAIAPIKey); key != "" {
		embedder, err = rag.NewEmbedder(rag.EmbedderConfig{
			Model:      settings.EmbeddingModel,
			APIKey:     key,
			BaseURL:    settings.ResolvedEmbeddingBaseURL(),
			CacheSize:  settings.EmbeddingCacheSize,
			Timeout:    settings.EmbeddingTimeout(),
			MaxRetries: settings.LLMMaxRetries,
			Backoff:    settings.LLMBackoff(),
		})
		if err != nil {
			logger.Warn("Embedder disabled: %v", err)
			embedder = nil
		} else {
			opts = append(opts, rag.WithQueryEmbedder(embedder))
		}
	}

	vector, err := rag.OpenChromemIndex(rag.VectorIndexConfig{
		PersistPath: settings.ChromaPersistPath,
		Collection:  settings.ChromaCollection,
	}, rag.EmbeddingFunc(embedder))
	switch {
	case err == nil:
		opts = append(opts, rag.WithVectorIndex(vector))
	case errors.Is(err, rag.ErrVectorIndexMissing):
		logger.Info("Vector index not found at %s; vector issue search disabled", settings.ChromaPersistPath)
	default:
		logger.Warn("Vector index unavailable: %v", err)
	}

	return rag.NewIssueSearcher(opts...)
}

// openFullTextIndex opens the lexical index read-only and checks FTS5 once at
// startup. Missing FTS5 support is logged as an error and leaves the searcher
// without a lexical index.
func openFullTextIndex(ctx context.Context, path string, logger logging.Logger) *rag.FTSStore {
	fts, err := rag.OpenFTSStore(path, rag.WithReadOnly())
	switch {
	case err == nil:
	case errors.Is(err, rag.ErrFullTextIndexMissing):
		logger.Info("Full-text index not found at %s; lexical issue search disabled", path)
		return nil
	case errors.Is(err, rag.ErrFTS5Unavailable):
		logger.Error("Lexical issue search disabled: %v", err)
		return nil
	default:
		logger.Warn("Full-text index unavailable: %v", err)
		return nil
	}

	if err := fts.CheckFTS5(ctx); err != nil {
		logger.Error("Lexical issue search disabled: %v", err)
		_ = fts.Close()
		return nil
	}
	return fts
}
