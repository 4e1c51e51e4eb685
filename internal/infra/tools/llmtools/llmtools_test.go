package llmtools

import (
	"context"
	"errors"
	"strings"
	"testing"

	"agentorch/internal/app/toolregistry"
	"agentorch/internal/domain/agent/ports"
	"agentorch/internal/domain/task"
	"agentorch/internal/infra/llm"
	"agentorch/internal/infra/tools/builtin"
	"agentorch/internal/infra/tools/builtin/incident"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubGenerator struct {
	response map[string]any
	err      error
	requests []ports.StructuredRequest
}

func (s *stubGenerator) GenerateStructured(_ context.Context, req ports.StructuredRequest) (map[string]any, error) {
	s.requests = append(s.requests, req)
	return s.response, s.err
}

func specByName(t *testing.T, specs []toolregistry.ToolSpec, name string) toolregistry.ToolSpec {
	t.Helper()
	for _, spec := range specs {
		if spec.Name() == name {
			return spec
		}
	}
	t.Fatalf("tool %s not found", name)
	return toolregistry.ToolSpec{}
}

func modelGateway(t *testing.T, specs []toolregistry.ToolSpec) *toolregistry.Gateway {
	t.Helper()
	base, err := builtin.NewRegistry(builtin.Dependencies{})
	require.NoError(t, err)
	return toolregistry.NewGateway(base.WithOverrides(specs...), toolregistry.GatewayConfig{})
}

func TestNewFactoryFailsWithoutAPIKey(t *testing.T) {
	_, err := NewFactory(llm.Config{Model: "gpt-test"}).ModelTools()
	require.EqualError(t, err, "OPENAI_API_KEY is missing")
}

func TestModelToolsAreTaggedAsModel(t *testing.T) {
	specs, err := NewFactoryWithGenerator(&stubGenerator{}).ModelTools()
	require.NoError(t, err)
	require.Len(t, specs, 2)
	for _, spec := range specs {
		assert.Equal(t, task.ImplementationModel, spec.Implementation)
	}
	assert.Equal(t, toolregistry.ToolSummarize, specs[0].Name())
	assert.Equal(t, toolregistry.ToolBuildIncidentBrief, specs[1].Name())
}

func TestSummarizeRequestCarriesMaxWords(t *testing.T) {
	req := SummarizeRequest("Checkout is down.", 25, 100)
	assert.Contains(t, req.System, "Return JSON only with key 'summary'")
	assert.Equal(t, "Max words: 25\n\nText:\nCheckout is down.\n\nOutput schema: {\"summary\":\"...\"}", req.User)
	assert.Equal(t, []string{"summary"}, req.Schema.Required)
}

func TestSummarizeRequestTruncatesLongText(t *testing.T) {
	long := strings.Repeat("database failover ", 500)
	req := SummarizeRequest(long, 40, 20)
	assert.Less(t, len(req.User), len(long))
	assert.Contains(t, req.User, "...")
}

func TestModelSummarizeThroughGateway(t *testing.T) {
	gen := &stubGenerator{response: map[string]any{"summary": "  Checkout outage.  "}}
	specs, err := NewFactoryWithGenerator(gen).ModelTools()
	require.NoError(t, err)

	gateway := modelGateway(t, specs)

	exec := gateway.Execute(context.Background(), toolregistry.ToolSummarize, map[string]any{"text": "Checkout is down"})
	require.Equal(t, task.ResultOK, exec.Status, exec.Error)
	assert.Equal(t, task.ImplementationModel, exec.Implementation)
	assert.Equal(t, "Checkout outage.", exec.Output["summary"])
	require.Len(t, gen.requests, 1)
	assert.Contains(t, gen.requests[0].User, "Max words: 60")
}

func TestModelSummarizeRejectsMissingSummary(t *testing.T) {
	specs, err := NewFactoryWithGenerator(&stubGenerator{response: map[string]any{"text": "x"}}).ModelTools()
	require.NoError(t, err)

	_, err = specByName(t, specs, toolregistry.ToolSummarize).Fn(context.Background(), map[string]any{"text": "a", "max_words": 10})
	require.EqualError(t, err, "LLM summarize response missing string summary")
}

func TestModelBriefPropagatesGeneratorError(t *testing.T) {
	specs, err := NewFactoryWithGenerator(&stubGenerator{err: errors.New("LLM request failed with status 500: boom")}).ModelTools()
	require.NoError(t, err)

	_, err = specByName(t, specs, toolregistry.ToolBuildIncidentBrief).Fn(context.Background(), map[string]any{"query": "q"})
	require.EqualError(t, err, "LLM request failed with status 500: boom")
}

func TestBriefRequestLimitsEvidence(t *testing.T) {
	in := incident.BriefInput{Query: "checkout latency"}
	for i := 0; i < 7; i++ {
		in.IncidentKnowledge = append(in.IncidentKnowledge, incident.KnowledgeItem{Title: "Runbook", Snippet: strings.Repeat("slow  queries ", 40)})
		in.PreviousIssues = append(in.PreviousIssues, incident.IssueMatch{Ticket: "WLC-1", Summary: "db", Relevance: 0.5})
	}

	req, err := BriefRequest(in)
	require.NoError(t, err)
	assert.Contains(t, req.System, "Use ONLY provided evidence")
	assert.True(t, strings.HasPrefix(req.User, "Incident query:\ncheckout latency\n\nEvidence JSON:\n"))
	assert.Equal(t, 5, strings.Count(req.User, `"title":"Runbook"`))
	assert.Equal(t, 5, strings.Count(req.User, `"ticket":"WLC-1"`))
	assert.NotContains(t, req.User, "queries  slow")
	assert.Contains(t, req.User, `..."`)
}

func TestNormalizeBrief(t *testing.T) {
	brief := NormalizeBrief(map[string]any{
		"summary": "  DB failover stalled ",
		"similar_incidents": []any{
			"WLC-1",
			map[string]any{"ticket": "WLC-2", "summary": strings.Repeat("x", 200)},
			map[string]any{"summary": "only summary"},
			map[string]any{},
			"", "a", "b", "c", "d",
		},
		"probable_causes":           "connection pool exhaustion",
		"recommended_actions":       []any{"fail over", nil, 3, "", "a", "b", "c", "d", "e", "f", "g"},
		"escalation_recommendation": nil,
		"confidence":                "1.7",
		"citations": []any{
			"runbooks/db.md",
			map[string]any{"ticket": "WLC-2", "summary": "pool", "score": -1.0},
			map[string]any{"source_tool": "search_previous_issues", "reference": "WLC-3", "snippet": "s", "score": 0.4, "why_selected": "fts"},
			map[string]any{"snippet": "no reference"},
			42,
		},
	})

	assert.Equal(t, "DB failover stalled", brief.Summary)
	require.Len(t, brief.SimilarIncidents, 6)
	assert.Equal(t, "WLC-1", brief.SimilarIncidents[0])
	assert.True(t, strings.HasPrefix(brief.SimilarIncidents[1], "WLC-2: xxx"))
	assert.Len(t, brief.SimilarIncidents[1], len("WLC-2: ")+120)
	assert.Equal(t, "only summary", brief.SimilarIncidents[2])
	assert.Equal(t, []string{"connection pool exhaustion"}, brief.ProbableCauses)
	assert.Equal(t, []string{"fail over", "3", "a", "b", "c", "d", "e", "f"}, brief.RecommendedActions)
	assert.Equal(t, "", brief.EscalationRecommendation)
	assert.Equal(t, 1.0, brief.Confidence)

	require.Len(t, brief.Citations, 3)
	assert.Equal(t, incident.BriefCitation{SourceTool: "build_incident_brief", Reference: "runbooks/db.md"}, brief.Citations[0])
	assert.Equal(t, "WLC-2", brief.Citations[1].Reference)
	assert.Equal(t, "pool", brief.Citations[1].Snippet)
	assert.Nil(t, brief.Citations[1].Score)
	require.NotNil(t, brief.Citations[2].Score)
	assert.Equal(t, 0.4, *brief.Citations[2].Score)
	assert.Equal(t, "search_previous_issues", brief.Citations[2].SourceTool)
}

func TestNormalizeBriefDefaults(t *testing.T) {
	brief := NormalizeBrief(map[string]any{})
	assert.Equal(t, 0.5, brief.Confidence)
	assert.Empty(t, brief.SimilarIncidents)
	assert.NotNil(t, brief.Citations)

	assert.Equal(t, 0.0, NormalizeBrief(map[string]any{"confidence": -3.0}).Confidence)
	assert.Equal(t, 0.5, NormalizeBrief(map[string]any{"confidence": "high"}).Confidence)
}

func TestModelBriefOutputPassesGatewayValidation(t *testing.T) {
	gen := &stubGenerator{response: map[string]any{
		"summary":                   "Checkout degraded",
		"similar_incidents":         []any{map[string]any{"ticket": "WLC-9", "summary": "db"}},
		"escalation_recommendation": "Page DBA",
		"confidence":                0.8,
		"citations":                 []any{"WLC-9"},
		"extra":                     "dropped",
	}}
	specs, err := NewFactoryWithGenerator(gen).ModelTools()
	require.NoError(t, err)
	gateway := modelGateway(t, specs)

	exec := gateway.Execute(context.Background(), toolregistry.ToolBuildIncidentBrief, map[string]any{"query": "checkout down"})
	require.Equal(t, task.ResultOK, exec.Status, exec.Error)
	assert.Equal(t, []any{"WLC-9: db"}, exec.Output["similar_incidents"])
	assert.NotContains(t, exec.Output, "extra")
}
