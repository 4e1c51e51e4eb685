package rag

import (
	"context"
	"sort"
	"strings"

	"agentorch/internal/shared/textutil"
)

const knowledgeSnippetChars = 260

// KnowledgeQuery parameterizes a knowledge search.
type KnowledgeQuery struct {
	Query    string
	Limit    int
	Service  string
	Severity string
}

// KnowledgeSearcher ranks policy, runbook and ticket chunks of a company
// corpus by lexical overlap with the query.
type KnowledgeSearcher struct {
	root   string
	loader *CorpusLoader
}

// NewKnowledgeSearcher creates a searcher over root. A nil loader gets a
// private cache.
func NewKnowledgeSearcher(root string, loader *CorpusLoader) *KnowledgeSearcher {
	if loader == nil {
		loader = NewCorpusLoader()
	}
	return &KnowledgeSearcher{root: root, loader: loader}
}

type rankedChunk struct {
	score float64
	chunk Chunk
}

// Search returns at most max(limit,1) hits. Whenever anything is returned at
// least one hit is policy or runbook material if the corpus has any.
func (s *KnowledgeSearcher) Search(ctx context.Context, q KnowledgeQuery) ([]KnowledgeHit, error) {
	tokens := textutil.Tokens(q.Query)
	if len(tokens) == 0 {
		return nil, nil
	}
	corpus, err := s.loader.Load(ctx, s.root)
	if err != nil {
		return nil, err
	}
	limit := max(q.Limit, 1)

	var filtered []Chunk
	var ranked []rankedChunk
	for _, chunk := range corpus {
		if !matchesFilters(chunk, q.Service, q.Severity) {
			continue
		}
		filtered = append(filtered, chunk)
		if score := textutil.LexicalOverlap(tokens, chunk.Text); score > 0 {
			ranked = append(ranked, rankedChunk{score: score, chunk: chunk})
		}
	}
	sort.SliceStable(ranked, func(i, j int) bool { return ranked[i].score > ranked[j].score })

	chosen := append([]rankedChunk(nil), ranked[:min(limit, len(ranked))]...)
	if len(chosen) > 0 && !hasPolicyOrRunbook(chosen) {
		if best, ok := bestPolicyOrRunbook(ranked); ok {
			chosen[len(chosen)-1] = best
		}
	}
	if len(chosen) == 0 {
		for _, chunk := range filtered {
			if chunk.IsPolicyOrRunbook() {
				chosen = []rankedChunk{{score: 0, chunk: chunk}}
				break
			}
		}
	}

	hits := make([]KnowledgeHit, 0, len(chosen))
	for _, item := range chosen {
		hits = append(hits, KnowledgeHit{
			Title:       item.chunk.Title,
			Snippet:     textutil.Compact(item.chunk.Text, knowledgeSnippetChars),
			SourceType:  item.chunk.SourceType,
			SourceID:    item.chunk.SourceID,
			Score:       textutil.Round(max(item.score, 0), 4),
			WhySelected: knowledgeWhySelected(tokens, item.chunk),
		})
	}
	return hits, nil
}

func matchesFilters(chunk Chunk, service, severity string) bool {
	service = strings.TrimSpace(service)
	severity = strings.TrimSpace(severity)
	if service != "" && chunk.Service != "" && !strings.EqualFold(chunk.Service, service) {
		return false
	}
	if severity != "" && chunk.Severity != "" && strings.ToUpper(chunk.Severity) != strings.ToUpper(severity) {
		return false
	}
	return true
}

func hasPolicyOrRunbook(items []rankedChunk) bool {
	for _, item := range items {
		if item.chunk.IsPolicyOrRunbook() {
			return true
		}
	}
	return false
}

func bestPolicyOrRunbook(ranked []rankedChunk) (rankedChunk, bool) {
	for _, item := range ranked {
		if item.chunk.IsPolicyOrRunbook() {
			return item, true
		}
	}
	return rankedChunk{}, false
}

func knowledgeWhySelected(query textutil.TokenSet, chunk Chunk) string {
	terms := query.Intersect(textutil.Tokens(chunk.Text))
	if len(terms) > 5 {
		terms = terms[:5]
	}
	if len(terms) > 0 {
		return "lexical overlap on terms: " + strings.Join(terms, ", ")
	}
	switch chunk.SourceType {
	case SourcePolicy:
		return "selected as policy grounding evidence for incident response."
	case SourceDoc:
		return "selected as runbook/reference context for incident response."
	default:
		return "selected as incident-related context."
	}
}
