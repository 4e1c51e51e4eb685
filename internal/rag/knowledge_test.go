package rag

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
}

func newCompanyRoot(t *testing.T) string {
	t.Helper()
	root := t.TempDir()
	writeFile(t, filepath.Join(root, "policies", "incident_response.md"),
		"# Incident Response\n\nDeclare an outage and page the on-call engineer.\n")
	writeFile(t, filepath.Join(root, "docs", "db_failover.html"),
		"<html><body><h1>Database Failover</h1><p>Promote the replica when the primary database fails.</p></body></html>")
	writeFile(t, filepath.Join(root, "mock_systems", "data", "jira_tickets.json"),
		`{"tickets":[{"key":"WLC-43","summary":"Checkout database outage","description":"Checkout database outage in checkout","status":"Done","project_key":"WLC","severity":"SEV1"}]}`)
	return root
}

func TestCorpusLoader_BuildsChunks(t *testing.T) {
	root := newCompanyRoot(t)
	chunks, err := NewCorpusLoader().Load(context.Background(), root)
	require.NoError(t, err)
	require.Len(t, chunks, 5)

	assert.Equal(t, "Policy: Incident Response", chunks[0].Title)
	assert.Equal(t, "Policy: Incident Response (section 2)", chunks[1].Title)
	assert.Equal(t, "Runbook: Db Failover", chunks[2].Title)
	assert.Equal(t, "Database Failover", chunks[2].Text)
	assert.Equal(t, "Runbook: Db Failover (section 2)", chunks[3].Title)

	ticket := chunks[4]
	assert.Equal(t, SourceTicket, ticket.SourceType)
	assert.Equal(t, "WLC-43", ticket.SourceID)
	assert.Equal(t, "Ticket WLC-43: Checkout database outage", ticket.Title)
	assert.Equal(t, "WLC", ticket.Service)
	assert.Equal(t, "SEV1", ticket.Severity)
	assert.Contains(t, ticket.Text, "Status: Done. Project: WLC. Severity: SEV1.")
}

func TestCorpusLoader_CachesUntilInvalidated(t *testing.T) {
	root := newCompanyRoot(t)
	loader := NewCorpusLoader()
	first, err := loader.Load(context.Background(), root)
	require.NoError(t, err)

	writeFile(t, filepath.Join(root, "policies", "escalation.md"), "Escalate to the incident commander.")
	cached, err := loader.Load(context.Background(), root)
	require.NoError(t, err)
	assert.Len(t, cached, len(first))

	loader.Invalidate(root)
	reloaded, err := loader.Load(context.Background(), root)
	require.NoError(t, err)
	assert.Len(t, reloaded, len(first)+1)
}

func TestCorpusLoader_MalformedTicketsIgnored(t *testing.T) {
	root := t.TempDir()
	writeFile(t, filepath.Join(root, "policies", "p.md"), "Policy text.")
	writeFile(t, filepath.Join(root, "mock_systems", "data", "jira_tickets.json"), "{not json")

	chunks, err := NewCorpusLoader().Load(context.Background(), root)
	require.NoError(t, err)
	require.Len(t, chunks, 1)
	assert.Equal(t, SourcePolicy, chunks[0].SourceType)
}

func TestKnowledgeSearch_GuaranteesPolicyOrRunbook(t *testing.T) {
	searcher := NewKnowledgeSearcher(newCompanyRoot(t), nil)

	hits, err := searcher.Search(context.Background(), KnowledgeQuery{Query: "checkout database outage", Limit: 1})
	require.NoError(t, err)
	require.Len(t, hits, 1)
	assert.Equal(t, "Runbook: Db Failover", hits[0].Title)
	assert.Equal(t, 0.4082, hits[0].Score)
	assert.Equal(t, "lexical overlap on terms: database", hits[0].WhySelected)
}

func TestKnowledgeSearch_RanksByOverlap(t *testing.T) {
	searcher := NewKnowledgeSearcher(newCompanyRoot(t), nil)

	hits, err := searcher.Search(context.Background(), KnowledgeQuery{Query: "checkout database outage", Limit: 3})
	require.NoError(t, err)
	require.Len(t, hits, 3)
	assert.Equal(t, "Ticket WLC-43: Checkout database outage", hits[0].Title)
	assert.Equal(t, "Runbook: Db Failover", hits[1].Title)
	assert.Equal(t, "Runbook: Db Failover (section 2)", hits[2].Title)
	for i := 1; i < len(hits); i++ {
		assert.GreaterOrEqual(t, hits[i-1].Score, hits[i].Score)
	}
	assert.Equal(t, "lexical overlap on terms: checkout, database, outage", hits[0].WhySelected)
}

func TestKnowledgeSearch_FiltersOnlyChunksCarryingField(t *testing.T) {
	searcher := NewKnowledgeSearcher(newCompanyRoot(t), nil)

	hits, err := searcher.Search(context.Background(), KnowledgeQuery{Query: "checkout database outage", Limit: 5, Service: "ops"})
	require.NoError(t, err)
	for _, hit := range hits {
		assert.NotEqual(t, SourceTicket, hit.SourceType)
	}
	assert.NotEmpty(t, hits)

	hits, err = searcher.Search(context.Background(), KnowledgeQuery{Query: "checkout outage", Limit: 5, Service: "wlc", Severity: "sev1"})
	require.NoError(t, err)
	require.NotEmpty(t, hits)
	assert.Equal(t, SourceTicket, hits[0].SourceType)
}

func TestKnowledgeSearch_FallsBackToPolicyWithoutOverlap(t *testing.T) {
	searcher := NewKnowledgeSearcher(newCompanyRoot(t), nil)

	hits, err := searcher.Search(context.Background(), KnowledgeQuery{Query: "zebra", Limit: 3})
	require.NoError(t, err)
	require.Len(t, hits, 1)
	assert.Equal(t, "Policy: Incident Response", hits[0].Title)
	assert.Zero(t, hits[0].Score)
	assert.Equal(t, "selected as policy grounding evidence for incident response.", hits[0].WhySelected)
}

func TestKnowledgeSearch_EmptyQuery(t *testing.T) {
	searcher := NewKnowledgeSearcher(newCompanyRoot(t), nil)
	hits, err := searcher.Search(context.Background(), KnowledgeQuery{Query: " ? ", Limit: 3})
	require.NoError(t, err)
	assert.Empty(t, hits)
}
