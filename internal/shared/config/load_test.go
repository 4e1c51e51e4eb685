package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func emptyEnv(string) (string, bool) { return "", false }

func TestLoadDefaults(t *testing.T) {
	settings, err := Load(WithEnvLookup(emptyEnv))
	require.NoError(t, err)

	assert.Equal(t, "deterministic", settings.PlannerMode)
	assert.Equal(t, "deterministic", settings.ExecutorMode)
	assert.Equal(t, 2, settings.MaxGraphLoops)
	assert.Equal(t, 2*time.Second, settings.ToolTimeout())
	assert.Equal(t, 1, settings.ToolMaxRetries)
	assert.Equal(t, time.Duration(0), settings.ToolBackoff())
	assert.Equal(t, "gpt-4o-mini", settings.LLMModel)
	assert.Equal(t, 8*time.Second, settings.LLMTimeout())
	assert.Equal(t, 200*time.Millisecond, settings.LLMBackoff())
	assert.Equal(t, "rag_chunks_v1", settings.ChromaCollection)
	assert.True(t, settings.HybridEnabled())
}

func TestLoadEnvOverrides(t *testing.T) {
	t.Setenv("AGENT_ORCHESTRATOR_PLANNER_MODE", "LLM")
	t.Setenv("AGENT_ORCHESTRATOR_TOOL_TIMEOUT_S", "0.5")
	t.Setenv("AGENT_ORCHESTRATOR_RAG_RETRIEVAL_MODE", "fts")

	lookup := func(key string) (string, bool) {
		switch key {
		case "OPENAI_API_KEY":
			return "sk-test", true
		case "ORCHESTRATOR_DATABASE_URL":
			return "postgres://localhost/orch", true
		}
		return "", false
	}

	settings, err := Load(WithEnvLookup(lookup))
	require.NoError(t, err)

	assert.Equal(t, "llm", settings.PlannerMode)
	assert.Equal(t, 500*time.Millisecond, settings.ToolTimeout())
	assert.False(t, settings.HybridEnabled())
	assert.Equal(t, "sk-test", settings.OpenAIAPIKey)
	assert.Equal(t, "postgres://localhost/orch", settings.DatabaseURL)
}

func TestLoadYAMLFileWithExpansion(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "orchestrator.yaml")
	content := "executor_mode: llm\nllm_model: ${MODEL_NAME}\ntool_max_retries: 3\n"
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))

	lookup := func(key string) (string, bool) {
		if key == "MODEL_NAME" {
			return "gpt-test", true
		}
		return "", false
	}
	settings, err := Load(WithConfigPath(path), WithEnvLookup(lookup))
	require.NoError(t, err)

	assert.Equal(t, "llm", settings.ExecutorMode)
	assert.Equal(t, "gpt-test", settings.LLMModel)
	assert.Equal(t, 3, settings.ToolMaxRetries)
}

func TestLoadMissingFileIsIgnored(t *testing.T) {
	_, err := Load(WithConfigPath(filepath.Join(t.TempDir(), "missing.yaml")), WithEnvLookup(emptyEnv))
	require.NoError(t, err)
}

func TestLoadRejectsInvalidValues(t *testing.T) {
	_, err := Load(WithEnvLookup(emptyEnv), WithOverrides(map[string]any{"tool_timeout_s": 0.0}))
	require.Error(t, err)

	_, err = Load(WithEnvLookup(emptyEnv), WithOverrides(map[string]any{"planner_mode": "random"}))
	require.Error(t, err)
}
