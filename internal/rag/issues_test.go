package rag

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeFTS struct {
	mu      sync.Mutex
	calls   []FTSQuery
	respond func(FTSQuery) ([]FTSRow, error)
}

func (f *fakeFTS) Search(_ context.Context, q FTSQuery) ([]FTSRow, error) {
	f.mu.Lock()
	f.calls = append(f.calls, q)
	f.mu.Unlock()
	return f.respond(q)
}

func keywordEmbed(_ context.Context, text string) ([]float32, error) {
	lower := strings.ToLower(text)
	return normalizeVector([]float32{
		float32(strings.Count(lower, "checkout")) + 0.01,
		float32(strings.Count(lower, "disk")) + 0.01,
		0.01,
	}), nil
}

func newIssueVectorIndex(t *testing.T) *ChromemIndex {
	t.Helper()
	idx, err := NewMemoryChromemIndex("issues", keywordEmbed)
	require.NoError(t, err)
	require.NoError(t, idx.Add(context.Background(), []VectorDocument{
		{ID: "c43", Content: "Checkout outage after deploy", Metadata: IssueMetadata("jira:WLC-43", "c43", "WLC-43", "jira", "WLC", "SEV1")},
		{ID: "c99", Content: "Disk full on checkout host", Metadata: IssueMetadata("jira:WLC-99", "c99", "WLC-99", "jira", "WLC", "SEV2")},
	}))
	return idx
}

func boolPtr(v bool) *bool { return &v }

func TestBuildFTSQuery(t *testing.T) {
	assert.Equal(t, "checkout* AND db* AND outage*", BuildFTSQuery("Checkout DB outage!", false))
	assert.Equal(t, "checkout* OR db*", BuildFTSQuery("checkout checkout db", true))
	assert.Empty(t, BuildFTSQuery("? !", false))

	long := BuildFTSQuery("one two three four five six seven eight nine ten", false)
	assert.Equal(t, 8, strings.Count(long, "*"))
	assert.NotContains(t, long, "nine")
}

func TestIssueSearch_RelaxesFiltersInOrder(t *testing.T) {
	fts := &fakeFTS{respond: func(q FTSQuery) ([]FTSRow, error) {
		if q.Service == "" && q.Severity == "" && strings.Contains(q.Match, " OR ") {
			return []FTSRow{{ChunkID: "c1", DocID: "jira:WLC-7", Text: "checkout outage on WLC", Source: "jira", BM25: 1, Snippet: "[checkout] outage"}}, nil
		}
		return nil, nil
	}}
	searcher := NewIssueSearcher(WithFullTextIndex(fts), WithHybridDefault(false))

	hits := searcher.Search(context.Background(), IssueQuery{Query: "checkout outage", Limit: 2, Service: "WLC", Severity: "SEV1"})
	require.Len(t, hits, 1)
	assert.Equal(t, "WLC-7", hits[0].Ticket)
	assert.Equal(t, 0.5, hits[0].Relevance)
	assert.Equal(t, ModeLexical, hits[0].RetrievalMode)
	assert.Equal(t, "[checkout] outage", hits[0].Summary)
	assert.Equal(t, "relaxed FTS query matched terms: checkout, outage.", hits[0].WhySelected)

	require.Len(t, fts.calls, 6)
	expected := []struct {
		service, severity string
		relaxed           bool
	}{
		{"WLC", "SEV1", false}, {"WLC", "SEV1", true},
		{"WLC", "", false}, {"WLC", "", true},
		{"", "", false}, {"", "", true},
	}
	for i, want := range expected {
		assert.Equal(t, want.service, fts.calls[i].Service, "call %d", i)
		assert.Equal(t, want.severity, fts.calls[i].Severity, "call %d", i)
		assert.Equal(t, want.relaxed, strings.Contains(fts.calls[i].Match, " OR "), "call %d", i)
		assert.Equal(t, 6, fts.calls[i].Limit)
	}
}

func TestIssueSearch_LexicalErrorFallsBackToVector(t *testing.T) {
	fts := &fakeFTS{respond: func(FTSQuery) ([]FTSRow, error) { return nil, errors.New("no such module: fts5") }}
	searcher := NewIssueSearcher(WithFullTextIndex(fts), WithVectorIndex(newIssueVectorIndex(t)))

	hits := searcher.Search(context.Background(), IssueQuery{Query: "checkout outage", Limit: 3})
	require.Len(t, fts.calls, 1)
	require.Len(t, hits, 2)
	assert.Equal(t, "WLC-43", hits[0].Ticket)
	assert.Equal(t, ModeVector, hits[0].RetrievalMode)
	assert.Equal(t, "selected by vector similarity search (lexical_overlap_hint=2).", hits[0].WhySelected)
	assert.Equal(t, "jira:WLC-43", hits[0].DocID)
	assert.GreaterOrEqual(t, hits[0].Relevance, hits[1].Relevance)
}

func TestIssueSearch_FusesLexicalAndVector(t *testing.T) {
	fts := &fakeFTS{respond: func(FTSQuery) ([]FTSRow, error) {
		return []FTSRow{{ChunkID: "c43", DocID: "jira:WLC-43", Text: "checkout outage", Source: "jira", BM25: 1}}, nil
	}}
	searcher := NewIssueSearcher(WithFullTextIndex(fts), WithVectorIndex(newIssueVectorIndex(t)))

	hits := searcher.Search(context.Background(), IssueQuery{Query: "checkout outage", Limit: 3})
	require.Len(t, hits, 2)
	assert.Equal(t, "WLC-43", hits[0].Ticket)
	assert.Equal(t, ModeHybrid, hits[0].RetrievalMode)
	assert.Equal(t, 0.0328, hits[0].Score)
	assert.Equal(t, "WLC-99", hits[1].Ticket)
	assert.Equal(t, ModeVector, hits[1].RetrievalMode)
}

func TestIssueSearch_VectorFilterAndHybridOverride(t *testing.T) {
	fts := &fakeFTS{respond: func(FTSQuery) ([]FTSRow, error) { return nil, nil }}
	searcher := NewIssueSearcher(WithFullTextIndex(fts), WithVectorIndex(newIssueVectorIndex(t)))

	hits := searcher.Search(context.Background(), IssueQuery{Query: "checkout disk", Limit: 3, Severity: " sev2 "})
	require.Len(t, hits, 1)
	assert.Equal(t, "WLC-99", hits[0].Ticket)

	hits = searcher.Search(context.Background(), IssueQuery{Query: "checkout disk", Limit: 3, UseHybrid: boolPtr(false)})
	assert.Empty(t, hits)
}

func TestIssueSearch_RerankAndLimit(t *testing.T) {
	fts := &fakeFTS{respond: func(FTSQuery) ([]FTSRow, error) {
		return []FTSRow{
			{ChunkID: "a", DocID: "jira:A-1", Text: "memory leak", Source: "jira", BM25: 0.1},
			{ChunkID: "b", DocID: "jira:B-2", Text: "payment gateway outage", Source: "jira", BM25: 2},
			{ChunkID: "b2", DocID: "jira:B-2", Text: "payment gateway outage again", Source: "jira", BM25: 3},
		}, nil
	}}
	searcher := NewIssueSearcher(WithFullTextIndex(fts), WithHybridDefault(false))

	hits := searcher.Search(context.Background(), IssueQuery{Query: "payment outage", Limit: 1, UseRerank: true})
	require.Len(t, hits, 1)
	assert.Equal(t, "B-2", hits[0].Ticket)
	assert.True(t, strings.HasSuffix(hits[0].WhySelected, "reranked by lexical overlap (matched_terms=2)."))
}

func TestIssueSearch_NoIndexes(t *testing.T) {
	assert.Empty(t, NewIssueSearcher().Search(context.Background(), IssueQuery{Query: "anything", Limit: 3}))
}

func TestIssueSearch_DisjointSourcesAreNotHybrid(t *testing.T) {
	fts := &fakeFTS{respond: func(FTSQuery) ([]FTSRow, error) {
		return []FTSRow{{ChunkID: "c43", DocID: "jira:WLC-43", Text: "Checkout outage after deploy", Source: "jira", BM25: 1}}, nil
	}}
	searcher := NewIssueSearcher(WithFullTextIndex(fts), WithVectorIndex(newIssueVectorIndex(t)))

	// The severity filter keeps only WLC-99 on the vector side.
	hits := searcher.Search(context.Background(), IssueQuery{Query: "disk", Limit: 3, Severity: "sev2"})
	require.Len(t, hits, 2)

	modes := map[string]string{}
	for _, hit := range hits {
		modes[hit.Ticket] = hit.RetrievalMode
	}
	assert.Equal(t, map[string]string{"WLC-43": ModeLexical, "WLC-99": ModeVector}, modes)
}
