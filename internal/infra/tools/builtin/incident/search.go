package incident

import (
	"context"
	"fmt"

	"agentorch/internal/app/toolregistry"
	"agentorch/internal/infra/tools/builtin/shared"
	"agentorch/internal/rag"
)

// KnowledgeSearcher is the knowledge retrieval port.
type KnowledgeSearcher interface {
	Search(ctx context.Context, q rag.KnowledgeQuery) ([]rag.KnowledgeHit, error)
}

// IssueSearcher is the previous-issue retrieval port.
type IssueSearcher interface {
	Search(ctx context.Context, q rag.IssueQuery) []rag.IssueHit
}

type searchArgs struct {
	Query        string  `json:"query"`
	Limit        int     `json:"limit"`
	Service      *string `json:"service"`
	Severity     *string `json:"severity"`
	UseLLMRerank *bool   `json:"use_llm_rerank"`
	UseHybrid    *bool   `json:"use_hybrid"`
}

type knowledgeResults struct {
	Results []rag.KnowledgeHit `json:"results"`
}

type issueResults struct {
	Results []rag.IssueHit `json:"results"`
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

func searchKnowledgeTool(searcher KnowledgeSearcher) toolregistry.ToolFunc {
	return shared.Typed(func(ctx context.Context, in searchArgs) (knowledgeResults, error) {
		if searcher == nil {
			return knowledgeResults{}, fmt.Errorf("knowledge search is not configured")
		}
		hits, err := searcher.Search(ctx, rag.KnowledgeQuery{
			Query:    in.Query,
			Limit:    in.Limit,
			Service:  deref(in.Service),
			Severity: deref(in.Severity),
		})
		if err != nil {
			return knowledgeResults{}, err
		}
		if hits == nil {
			hits = []rag.KnowledgeHit{}
		}
		return knowledgeResults{Results: hits}, nil
	})
}

func searchIssuesTool(searcher IssueSearcher) toolregistry.ToolFunc {
	return shared.Typed(func(ctx context.Context, in searchArgs) (issueResults, error) {
		if searcher == nil {
			return issueResults{}, fmt.Errorf("previous issue search is not configured")
		}
		hits := searcher.Search(ctx, rag.IssueQuery{
			Query:     in.Query,
			Limit:     in.Limit,
			Service:   deref(in.Service),
			Severity:  deref(in.Severity),
			UseRerank: in.UseLLMRerank != nil && *in.UseLLMRerank,
			UseHybrid: in.UseHybrid,
		})
		if hits == nil {
			hits = []rag.IssueHit{}
		}
		return issueResults{Results: hits}, nil
	})
}
