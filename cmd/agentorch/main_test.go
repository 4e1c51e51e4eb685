package main

import (
	"bytes"
	"path/filepath"
	"strings"
	"testing"

	"agentorch/internal/domain/task"
	jsonx "agentorch/internal/shared/json"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func isolateEnv(t *testing.T) {
	t.Helper()
	dir := t.TempDir()
	t.Setenv("OPENAI_API_KEY", "")
	t.Setenv("AGENT_ORCHESTRATOR_OPENAI_API_KEY", "")
	t.Setenv("AGENT_ORCHESTRATOR_COMPANY_SIM_ROOT", filepath.Join(dir, "company"))
	t.Setenv("AGENT_ORCHESTRATOR_RAG_INDEX_PATH", filepath.Join(dir, "index.sqlite"))
	t.Setenv("AGENT_ORCHESTRATOR_CHROMA_PERSIST_PATH", filepath.Join(dir, "chroma"))
}

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var stdout, stderr bytes.Buffer
	cmd := newRootCommand()
	cmd.SetArgs(args)
	cmd.SetOut(&stdout)
	cmd.SetErr(&stderr)
	err := cmd.Execute()
	return stdout.String(), err
}

func TestParseContext(t *testing.T) {
	got, err := parseContext([]string{"service=checkout", " severity = SEV2 ", "empty="})
	require.NoError(t, err)
	assert.Equal(t, map[string]string{"service": "checkout", "severity": "SEV2", "empty": ""}, got)

	_, err = parseContext([]string{"novalue"})
	assert.ErrorContains(t, err, "expected key=value")

	_, err = parseContext([]string{"=x"})
	assert.Error(t, err)
}

func TestToolsCommand(t *testing.T) {
	isolateEnv(t)
	out, err := execute(t, "tools")
	require.NoError(t, err)

	lines := strings.Split(strings.TrimSpace(out), "\n")
	assert.Contains(t, lines, "summarize")
	assert.Contains(t, lines, "search_incident_knowledge")
}

func TestRunCommandPrintsFinalOutput(t *testing.T) {
	isolateEnv(t)
	out, err := execute(t, "run", "Draft", "the", "Atlas", "roadmap")
	require.NoError(t, err)

	assert.True(t, strings.HasPrefix(out, "verification PASSED (retries 0/2)"), out)
	assert.Contains(t, out, "summarize")
	assert.True(t, strings.HasSuffix(out, "Draft the Atlas roadmap\n"), out)
}

func TestRunCommandJSON(t *testing.T) {
	isolateEnv(t)
	out, err := execute(t, "run", "--json", "--planner", "llm", "--context", "service=checkout", "Draft the Atlas roadmap")
	require.NoError(t, err)

	var state task.State
	require.NoError(t, jsonx.Unmarshal([]byte(out), &state))
	assert.Equal(t, "checkout", state.Context["service"])
	assert.Equal(t, "deterministic", state.PlannerMode)
	assert.Equal(t, "Draft the Atlas roadmap", state.FinalOutput)
}

func TestRunCommandRejectsBadInput(t *testing.T) {
	isolateEnv(t)
	_, err := execute(t, "run")
	assert.Error(t, err)

	_, err = execute(t, "run", "--context", "oops", "hello")
	assert.ErrorContains(t, err, "invalid --context")

	_, err = execute(t, "run", "--planner", "bogus", "hello")
	assert.ErrorContains(t, err, "invalid settings")
}

func TestPrintResultPlain(t *testing.T) {
	state := task.NewState("t1", "x", nil, "", "", 1)
	state.PlanSteps = []task.PlanStep{{Tool: "summarize"}, {Tool: "classify_priority"}}
	state.ToolResults["summarize"] = task.ToolResult{Status: task.ResultOK, Implementation: task.ImplementationDeterministic, Attempts: 1}
	state.Verification = &task.VerificationResult{Passed: false}
	state.RetryCount = 1
	state.FinalOutput = "final"

	var buf bytes.Buffer
	printResult(&buf, state, false)
	assert.Equal(t, "verification FAILED (retries 1/1)\n"+
		"  summarize                    ok (deterministic, 1 attempt(s))\n"+
		"  classify_priority            skipped\n"+
		"\nfinal\n", buf.String())
}
