package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
)

const (
	EnvPrefix = "AGENT_ORCHESTRATOR"

	DefaultAppName          = "agent-orchestrator"
	DefaultLLMProvider      = "openai"
	DefaultLLMModel         = "gpt-4o-mini"
	DefaultLLMBaseURL       = "https://api.openai.com/v1"
	DefaultEmbeddingModel   = "text-embedding-3-small"
	DefaultChromaCollection = "rag_chunks_v1"
	DefaultRetrievalMode    = "hybrid"
)

// Settings is the runtime configuration of the orchestrator. Every field can
// be set from the environment as AGENT_ORCHESTRATOR_<KEY>.
type Settings struct {
	AppName string `mapstructure:"app_name" yaml:"app_name" validate:"required"`
	AppEnv  string `mapstructure:"app_env" yaml:"app_env"`

	PlannerMode   string `mapstructure:"planner_mode" yaml:"planner_mode" validate:"oneof=deterministic llm model"`
	ExecutorMode  string `mapstructure:"executor_mode" yaml:"executor_mode" validate:"oneof=deterministic llm model"`
	MaxGraphLoops int    `mapstructure:"max_graph_loops" yaml:"max_graph_loops" validate:"gte=0"`
	DatabaseURL   string `mapstructure:"database_url" yaml:"database_url"`

	ToolTimeoutS      float64 `mapstructure:"tool_timeout_s" yaml:"tool_timeout_s" validate:"gte=0.01"`
	ToolMaxRetries    int     `mapstructure:"tool_max_retries" yaml:"tool_max_retries" validate:"gte=0"`
	ToolRetryBackoffS float64 `mapstructure:"tool_retry_backoff_s" yaml:"tool_retry_backoff_s" validate:"gte=0"`

	LLMProvider   string  `mapstructure:"llm_provider" yaml:"llm_provider"`
	LLMModel      string  `mapstructure:"llm_model" yaml:"llm_model"`
	LLMBaseURL    string  `mapstructure:"llm_base_url" yaml:"llm_base_url" validate:"omitempty,url"`
	LLMTimeoutS   float64 `mapstructure:"llm_timeout_s" yaml:"llm_timeout_s" validate:"gte=0.5"`
	LLMMaxRetries int     `mapstructure:"llm_max_retries" yaml:"llm_max_retries" validate:"gte=0"`
	LLMBackoffS   float64 `mapstructure:"llm_backoff_s" yaml:"llm_backoff_s" validate:"gte=0"`
	OpenAIAPIKey  string  `mapstructure:"openai_api_key" yaml:"openai_api_key"`

	CompanyRoot        string  `mapstructure:"company_sim_root" yaml:"company_sim_root"`
	RAGIndexPath       string  `mapstructure:"rag_index_path" yaml:"rag_index_path"`
	ChromaPersistPath  string  `mapstructure:"chroma_persist_path" yaml:"chroma_persist_path"`
	ChromaCollection   string  `mapstructure:"chroma_collection" yaml:"chroma_collection"`
	RetrievalMode      string  `mapstructure:"rag_retrieval_mode" yaml:"rag_retrieval_mode"`
	EmbeddingModel     string  `mapstructure:"embedding_model" yaml:"embedding_model"`
	EmbeddingBaseURL   string  `mapstructure:"embedding_base_url" yaml:"embedding_base_url"`
	EmbeddingTimeoutS  float64 `mapstructure:"embedding_timeout_s" yaml:"embedding_timeout_s" validate:"gte=0"`
	EmbeddingCacheSize int     `mapstructure:"embedding_cache_size" yaml:"embedding_cache_size" validate:"gte=0"`

	HTTPAddr       string   `mapstructure:"http_addr" yaml:"http_addr"`
	AllowedOrigins []string `mapstructure:"allowed_origins" yaml:"allowed_origins"`
	LogLevel       string   `mapstructure:"log_level" yaml:"log_level" validate:"oneof=debug info warn error"`
	LogFormat      string   `mapstructure:"log_format" yaml:"log_format" validate:"oneof=text json"`

	MetricsEnabled bool    `mapstructure:"metrics_enabled" yaml:"metrics_enabled"`
	TracingEnabled bool    `mapstructure:"tracing_enabled" yaml:"tracing_enabled"`
	TraceExporter  string  `mapstructure:"trace_exporter" yaml:"trace_exporter"`
	TraceEndpoint  string  `mapstructure:"trace_endpoint" yaml:"trace_endpoint"`
	TraceSampling  float64 `mapstructure:"trace_sample_rate" yaml:"trace_sample_rate" validate:"gte=0,lte=1"`
}

// Defaults returns the settings used when nothing is configured.
func Defaults() Settings {
	return Settings{
		AppName:            DefaultAppName,
		AppEnv:             "dev",
		PlannerMode:        "deterministic",
		ExecutorMode:       "deterministic",
		MaxGraphLoops:      2,
		ToolTimeoutS:       2.0,
		ToolMaxRetries:     1,
		ToolRetryBackoffS:  0,
		LLMProvider:        DefaultLLMProvider,
		LLMModel:           DefaultLLMModel,
		LLMBaseURL:         DefaultLLMBaseURL,
		LLMTimeoutS:        8.0,
		LLMMaxRetries:      1,
		LLMBackoffS:        0.2,
		CompanyRoot:        "company_details/company_sim",
		RAGIndexPath:       "data/rag_index.sqlite",
		ChromaPersistPath:  "data/rag_chroma",
		ChromaCollection:   DefaultChromaCollection,
		RetrievalMode:      DefaultRetrievalMode,
		EmbeddingModel:     DefaultEmbeddingModel,
		EmbeddingTimeoutS:  12.0,
		EmbeddingCacheSize: 10000,
		HTTPAddr:           ":8080",
		LogLevel:           "info",
		LogFormat:          "text",
		TraceExporter:      "otlp",
		TraceSampling:      1.0,
	}
}

var validate = validator.New(validator.WithRequiredStructEnabled())

// Validate checks field ranges and enumerations.
func (s Settings) Validate() error {
	if err := validate.Struct(s); err != nil {
		return fmt.Errorf("invalid settings: %w", err)
	}
	return nil
}

// ToolTimeout is the gateway's per-attempt wall-clock bound.
func (s Settings) ToolTimeout() time.Duration { return seconds(s.ToolTimeoutS) }

// ToolBackoff is the fixed sleep between gateway attempts.
func (s Settings) ToolBackoff() time.Duration { return seconds(s.ToolRetryBackoffS) }

// LLMTimeout bounds a single completion request.
func (s Settings) LLMTimeout() time.Duration { return seconds(s.LLMTimeoutS) }

// LLMBackoff is the fixed sleep between completion retries.
func (s Settings) LLMBackoff() time.Duration { return seconds(s.LLMBackoffS) }

// EmbeddingTimeout bounds a single embeddings request.
func (s Settings) EmbeddingTimeout() time.Duration {
	if s.EmbeddingTimeoutS < 1 {
		return time.Second
	}
	return seconds(s.EmbeddingTimeoutS)
}

// HybridEnabled reports whether vector retrieval participates by default.
func (s Settings) HybridEnabled() bool {
	switch strings.ToLower(strings.TrimSpace(s.RetrievalMode)) {
	case "lexical", "fts", "deterministic":
		return false
	default:
		return true
	}
}

// ResolvedEmbeddingBaseURL falls back to the LLM endpoint.
func (s Settings) ResolvedEmbeddingBaseURL() string {
	if base := strings.TrimSpace(s.EmbeddingBaseURL); base != "" {
		return strings.TrimRight(base, "/")
	}
	return strings.TrimRight(s.LLMBaseURL, "/")
}

func seconds(v float64) time.Duration {
	if v <= 0 {
		return 0
	}
	return time.Duration(v * float64(time.Second))
}
