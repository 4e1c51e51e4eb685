package toolregistry

import (
	"strings"
)

const (
	ModeDeterministic = "deterministic"
	ModeLLM           = "llm"
)

// ProviderOpenAI is the only provider that can back model tools.
const ProviderOpenAI = "openai"

// LLMSettings are the executor-side model settings consulted by ResolveRegistry.
type LLMSettings struct {
	Provider string
	APIKey   string
	Model    string
}

// ModelToolFactory builds the model-backed replacements for summarize and
// build_incident_brief.
type ModelToolFactory interface {
	ModelTools() ([]ToolSpec, error)
}

// Resolution describes which executor mode a registry serves.
type Resolution struct {
	RequestedMode  string `json:"requested_mode"`
	EffectiveMode  string `json:"effective_mode"`
	FallbackReason string `json:"fallback_reason,omitempty"`
}

// FallbackUsed reports whether the requested mode could not be honoured.
func (r Resolution) FallbackUsed() bool {
	return r.FallbackReason != ""
}

// NormalizeMode lowercases a mode and maps the "model" alias to "llm".
func NormalizeMode(mode string) string {
	normalized := strings.ToLower(strings.TrimSpace(mode))
	switch normalized {
	case "model":
		return ModeLLM
	case "":
		return ModeDeterministic
	default:
		return normalized
	}
}

// ResolveRegistry returns the registry for requestedMode. Any condition that
// prevents model tools from being used yields the deterministic registry and
// a fallback reason; it never fails.
func ResolveRegistry(requestedMode string, base *Registry, llm LLMSettings, factory ModelToolFactory) (*Registry, Resolution) {
	mode := NormalizeMode(requestedMode)
	fallback := func(reason string) (*Registry, Resolution) {
		return base, Resolution{RequestedMode: mode, EffectiveMode: ModeDeterministic, FallbackReason: reason}
	}

	if mode != ModeLLM {
		return fallback("")
	}
	if strings.ToLower(strings.TrimSpace(llm.Provider)) != ProviderOpenAI {
		return fallback("unsupported executor provider: " + llm.Provider)
	}
	if strings.TrimSpace(llm.APIKey) == "" {
		return fallback("OPENAI_API_KEY is missing for executor llm mode")
	}
	if factory == nil {
		return fallback("no model tool factory configured for executor llm mode")
	}

	specs, err := factory.ModelTools()
	if err != nil {
		return fallback(err.Error())
	}
	return base.WithOverrides(specs...), Resolution{RequestedMode: mode, EffectiveMode: ModeLLM}
}
