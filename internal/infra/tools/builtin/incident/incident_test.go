package incident

import (
	"context"
	"errors"
	"testing"

	"agentorch/internal/app/toolregistry"
	"agentorch/internal/domain/task"
	"agentorch/internal/rag"
	"agentorch/internal/shared/logging"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubKnowledge struct {
	hits []rag.KnowledgeHit
	err  error
	got  rag.KnowledgeQuery
}

func (s *stubKnowledge) Search(_ context.Context, q rag.KnowledgeQuery) ([]rag.KnowledgeHit, error) {
	s.got = q
	return s.hits, s.err
}

type stubIssues struct {
	hits []rag.IssueHit
	got  rag.IssueQuery
}

func (s *stubIssues) Search(_ context.Context, q rag.IssueQuery) []rag.IssueHit {
	s.got = q
	return s.hits
}

func floatPtr(v float64) *float64 { return &v }

func newGateway(t *testing.T, knowledge KnowledgeSearcher, issues IssueSearcher) *toolregistry.Gateway {
	t.Helper()
	registry, err := toolregistry.NewRegistry(Specs(knowledge, issues)...)
	require.NoError(t, err)
	return toolregistry.NewGateway(registry, toolregistry.GatewayConfig{}, toolregistry.WithLogger(logging.Nop()))
}

func TestBuildBrief(t *testing.T) {
	brief := BuildBrief(BriefInput{
		Query: " SEV1 outage: checkout latency spike ",
		IncidentKnowledge: []KnowledgeItem{
			{Title: "Policy: Incident Response", Snippet: "Page on-call for timeouts.", SourceType: rag.SourcePolicy, SourceID: "policies/incident_response.md", Score: floatPtr(0.4)},
		},
		PreviousIssues: []IssueMatch{
			{Ticket: "WLC-43", Summary: "Checkout slow after cache flush", Relevance: 0.5, Score: floatPtr(0.6)},
			{Ticket: "", DocID: "jira:x", Summary: "orphan", Relevance: 0.2},
		},
	})

	assert.Equal(t,
		"Incident brief for: SEV1 outage: checkout latency spike. Retrieved 1 policy/runbook references and 2 similar issues. Top likely cause: Upstream latency or timeout thresholds are likely contributing to failures..",
		brief.Summary)
	assert.Equal(t, []string{"WLC-43: Checkout slow after cache flush"}, brief.SimilarIncidents)
	assert.Equal(t, []string{
		"Upstream latency or timeout thresholds are likely contributing to failures.",
		"Cache inconsistency may be causing stale or missing profile state.",
	}, brief.ProbableCauses)
	assert.Equal(t, []string{
		"Validate current error rate/latency against incident policy thresholds and confirm severity.",
		"Reproduce against prior incident pattern from ticket WLC-43.",
		"Apply policy/runbook escalation steps and notify on-call ownership immediately.",
	}, brief.RecommendedActions)
	assert.Equal(t, "Escalate immediately to primary and secondary on-call as a high-severity incident.", brief.EscalationRecommendation)
	// 0.35*3/6 + 0.65*mean(0.6, 0.2, 0.4)
	assert.Equal(t, 0.435, brief.Confidence)

	require.Len(t, brief.Citations, 3)
	assert.Equal(t, toolregistry.ToolSearchIncidentKnowledge, brief.Citations[0].SourceTool)
	assert.Equal(t, "policies/incident_response.md", brief.Citations[0].Reference)
	assert.Equal(t, "WLC-43", brief.Citations[1].Reference)
	assert.Equal(t, 0.6, *brief.Citations[1].Score)
	assert.Equal(t, "jira:x", brief.Citations[2].Reference)
	assert.Equal(t, 0.2, *brief.Citations[2].Score)
}

func TestBuildBrief_NoEvidence(t *testing.T) {
	brief := BuildBrief(BriefInput{Query: "profile avatar broken for some users"})
	assert.Equal(t, 0.2, brief.Confidence)
	assert.Empty(t, brief.SimilarIncidents)
	assert.Empty(t, brief.Citations)
	assert.Contains(t, brief.RecommendedActions, "Run targeted reproduction for affected users and collect request/response traces.")
	assert.Contains(t, brief.RecommendedActions, "Gather runbook/policy references before final escalation recommendation.")
	assert.Contains(t, brief.RecommendedActions, "Check media service dependencies and CDN/cache invalidation for profile assets.")
	assert.Equal(t, "Use standard triage escalation path and reassess severity after initial diagnostics.", brief.EscalationRecommendation)
}

func TestEscalationFor(t *testing.T) {
	assert.Contains(t, EscalationFor("intermittent 502s"), "service owner")
	assert.Contains(t, EscalationFor("production down"), "immediately")
}

func TestSearchTools_ThroughGateway(t *testing.T) {
	knowledge := &stubKnowledge{hits: []rag.KnowledgeHit{{Title: "Runbook: Db", Snippet: "s", SourceType: rag.SourceDoc, SourceID: "docs/db.md", Score: 0.3}}}
	issues := &stubIssues{hits: []rag.IssueHit{{Ticket: "WLC-1", Summary: "s", Relevance: 0.5, Score: 0.0328, RetrievalMode: rag.ModeHybrid}}}
	gw := newGateway(t, knowledge, issues)

	exec := gw.Execute(context.Background(), toolregistry.ToolSearchIncidentKnowledge, map[string]any{"query": "db down", "service": "WLC"})
	require.Equal(t, task.ResultOK, exec.Status, exec.Error)
	assert.Equal(t, 3, knowledge.got.Limit)
	assert.Equal(t, "WLC", knowledge.got.Service)
	results := exec.Output["results"].([]any)
	require.Len(t, results, 1)
	assert.Equal(t, "docs/db.md", results[0].(map[string]any)["source_id"])

	exec = gw.Execute(context.Background(), toolregistry.ToolSearchPreviousIssues, map[string]any{"query": "db down", "limit": 2, "severity": nil, "use_llm_rerank": true, "use_hybrid": false})
	require.Equal(t, task.ResultOK, exec.Status, exec.Error)
	assert.Equal(t, 2, issues.got.Limit)
	assert.True(t, issues.got.UseRerank)
	require.NotNil(t, issues.got.UseHybrid)
	assert.False(t, *issues.got.UseHybrid)
	assert.Equal(t, "hybrid", exec.Output["results"].([]any)[0].(map[string]any)["retrieval_mode"])
}

func TestSearchTools_EmptyAndErrors(t *testing.T) {
	gw := newGateway(t, &stubKnowledge{err: errors.New("corpus unreadable")}, &stubIssues{})

	exec := gw.Execute(context.Background(), toolregistry.ToolSearchIncidentKnowledge, map[string]any{"query": "x"})
	assert.Equal(t, task.ResultFailed, exec.Status)
	assert.Equal(t, "corpus unreadable", exec.Error)

	exec = gw.Execute(context.Background(), toolregistry.ToolSearchPreviousIssues, map[string]any{"query": "x"})
	require.Equal(t, task.ResultOK, exec.Status, exec.Error)
	assert.Equal(t, []any{}, exec.Output["results"])

	exec = gw.Execute(context.Background(), toolregistry.ToolSearchPreviousIssues, map[string]any{"query": "x", "limit": 11})
	assert.Equal(t, task.ResultFailed, exec.Status)
}

func TestBriefTool_ValidatesNestedEvidence(t *testing.T) {
	gw := newGateway(t, &stubKnowledge{}, &stubIssues{})

	exec := gw.Execute(context.Background(), toolregistry.ToolBuildIncidentBrief, map[string]any{"query": "outage"})
	require.Equal(t, task.ResultOK, exec.Status, exec.Error)
	assert.Equal(t, 0.2, exec.Output["confidence"])

	exec = gw.Execute(context.Background(), toolregistry.ToolBuildIncidentBrief, map[string]any{
		"query":           "outage",
		"previous_issues": []any{map[string]any{"ticket": "A-1", "summary": "s"}},
	})
	assert.Equal(t, task.ResultFailed, exec.Status)
	assert.Contains(t, exec.Error, "relevance")
}
