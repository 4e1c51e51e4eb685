package rag

import (
	"context"
	"fmt"
	"strings"

	"agentorch/internal/shared/logging"
	"agentorch/internal/shared/textutil"
)

const (
	issueSummaryChars = 220
	maxFTSTerms       = 8
)

// IssueQuery parameterizes a previous-issue search. A nil UseHybrid defers to
// the searcher's default.
type IssueQuery struct {
	Query     string
	Limit     int
	Service   string
	Severity  string
	UseRerank bool
	UseHybrid *bool
}

// IssueSearcher combines full-text and vector retrieval over indexed tickets
// and incident logs.
type IssueSearcher struct {
	fts           FullTextIndex
	vector        VectorIndex
	embedder      Embedder
	hybridDefault bool
	logger        logging.Logger
}

// IssueSearcherOption configures an IssueSearcher.
type IssueSearcherOption func(*IssueSearcher)

// WithFullTextIndex sets the lexical index.
func WithFullTextIndex(idx FullTextIndex) IssueSearcherOption {
	return func(s *IssueSearcher) { s.fts = idx }
}

// WithVectorIndex sets the vector index.
func WithVectorIndex(idx VectorIndex) IssueSearcherOption {
	return func(s *IssueSearcher) { s.vector = idx }
}

// WithQueryEmbedder embeds queries before vector lookup.
func WithQueryEmbedder(e Embedder) IssueSearcherOption {
	return func(s *IssueSearcher) { s.embedder = e }
}

// WithHybridDefault sets whether vector retrieval runs when a query does not
// say.
func WithHybridDefault(enabled bool) IssueSearcherOption {
	return func(s *IssueSearcher) { s.hybridDefault = enabled }
}

// NewIssueSearcher creates a searcher. Either index may be absent.
func NewIssueSearcher(opts ...IssueSearcherOption) *IssueSearcher {
	s := &IssueSearcher{
		hybridDefault: true,
		logger:        logging.NewComponentLogger("IssueSearch"),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Search returns at most max(limit,1) distinct issues. Retrieval failures
// degrade to fewer hits and are never returned as errors.
func (s *IssueSearcher) Search(ctx context.Context, q IssueQuery) []IssueHit {
	limit := max(q.Limit, 1)
	candidates := limit * 3

	var lexical []IssueHit
	if s.fts != nil {
		lexical = s.searchLexical(ctx, q.Query, candidates, q.Service, q.Severity)
	}

	var vector []IssueHit
	hybrid := s.hybridDefault
	if q.UseHybrid != nil {
		hybrid = *q.UseHybrid
	}
	if hybrid && s.vector != nil {
		vector = s.searchVector(ctx, q.Query, candidates, q.Service, q.Severity)
	}

	hits := FuseRRF(lexical, vector)
	if q.UseRerank {
		hits = rerankByOverlap(q.Query, hits)
	}
	hits = dedupeIssues(hits)
	if len(hits) > limit {
		hits = hits[:limit]
	}
	return hits
}

type ftsFilter struct {
	service  string
	severity string
}

// searchLexical walks the filter relaxation ladder, trying a strict then a
// relaxed match at each rung.
func (s *IssueSearcher) searchLexical(ctx context.Context, query string, limit int, service, severity string) []IssueHit {
	ladder := []ftsFilter{
		{service: service, severity: severity},
		{service: service},
		{},
	}
	for _, filter := range ladder {
		for _, relaxed := range []bool{false, true} {
			hits, err := s.searchOnce(ctx, query, limit, filter, relaxed)
			if err != nil {
				s.logger.Warn("full-text search failed: %v", err)
				return nil
			}
			if len(hits) > 0 {
				return dedupeIssues(hits)
			}
		}
	}
	return nil
}

func (s *IssueSearcher) searchOnce(ctx context.Context, query string, limit int, filter ftsFilter, relaxed bool) ([]IssueHit, error) {
	match := BuildFTSQuery(query, relaxed)
	if match == "" {
		return nil, nil
	}
	rows, err := s.fts.Search(ctx, FTSQuery{
		Match:    match,
		Service:  filter.service,
		Severity: filter.severity,
		Limit:    limit,
	})
	if err != nil {
		return nil, err
	}

	queryTokens := textutil.Tokens(query)
	hits := make([]IssueHit, 0, len(rows))
	for _, row := range rows {
		snippet := row.Snippet
		if snippet == "" {
			snippet = row.Text
		}
		relevance := Relevance(row.BM25)
		hits = append(hits, IssueHit{
			Ticket:        TicketFromDocID(row.DocID),
			Summary:       textutil.Compact(snippet, issueSummaryChars),
			Relevance:     relevance,
			Source:        row.Source,
			DocID:         row.DocID,
			ChunkID:       row.ChunkID,
			Score:         relevance,
			RetrievalMode: ModeLexical,
			WhySelected:   lexicalWhySelected(queryTokens, row.Text, relaxed),
		})
	}
	return hits, nil
}

func (s *IssueSearcher) searchVector(ctx context.Context, query string, limit int, service, severity string) []IssueHit {
	where := map[string]string{}
	if v := strings.ToLower(strings.TrimSpace(service)); v != "" {
		where["project_lc"] = v
	}
	if v := strings.ToLower(strings.TrimSpace(severity)); v != "" {
		where["priority_lc"] = v
	}

	vq := VectorQuery{Text: query, Limit: limit, Where: where}
	if s.embedder != nil {
		embedding, err := s.embedder.Embed(ctx, query)
		if err != nil {
			s.logger.Warn("query embedding failed: %v", err)
			return nil
		}
		vq.Embedding = normalizeVector(embedding)
	}

	rows, err := s.vector.Query(ctx, vq)
	if err != nil {
		s.logger.Warn("vector search failed: %v", err)
		return nil
	}

	queryTokens := textutil.Tokens(query)
	seen := make(map[string]struct{}, len(rows))
	hits := make([]IssueHit, 0, len(rows))
	for _, row := range rows {
		docID := firstNonEmpty(row.Metadata["doc_id"], row.ID)
		ticket := firstNonEmpty(row.Metadata["issue_key"], TicketFromDocID(docID))
		if ticket == "" || row.Document == "" {
			continue
		}
		key := strings.ToUpper(strings.TrimSpace(ticket))
		if _, dup := seen[key]; dup {
			continue
		}
		seen[key] = struct{}{}

		summary := textutil.Compact(row.Document, issueSummaryChars)
		relevance := Relevance(row.Distance())
		hits = append(hits, IssueHit{
			Ticket:        ticket,
			Summary:       summary,
			Relevance:     relevance,
			Source:        firstNonEmpty(row.Metadata["source"], "chroma"),
			DocID:         docID,
			ChunkID:       firstNonEmpty(row.Metadata["chunk_id"], row.ID),
			Score:         relevance,
			RetrievalMode: ModeVector,
			WhySelected: fmt.Sprintf("selected by vector similarity search (lexical_overlap_hint=%d).",
				queryTokens.OverlapCount(textutil.Tokens(summary))),
		})
	}
	return hits
}

// BuildFTSQuery joins the first eight query tokens as prefix terms, with AND
// for a strict match and OR for a relaxed one.
func BuildFTSQuery(text string, relaxed bool) string {
	tokens := textutil.OrderedTokens(text)
	if len(tokens) == 0 {
		return ""
	}
	if len(tokens) > maxFTSTerms {
		tokens = tokens[:maxFTSTerms]
	}
	terms := make([]string, len(tokens))
	for i, tok := range tokens {
		terms[i] = tok + "*"
	}
	op := " AND "
	if relaxed {
		op = " OR "
	}
	return strings.Join(terms, op)
}

func lexicalWhySelected(query textutil.TokenSet, text string, relaxed bool) string {
	terms := query.Intersect(textutil.Tokens(text))
	if len(terms) == 0 {
		return "selected by FTS lexical matching."
	}
	if len(terms) > 5 {
		terms = terms[:5]
	}
	mode := "strict FTS query"
	if relaxed {
		mode = "relaxed FTS query"
	}
	return fmt.Sprintf("%s matched terms: %s.", mode, strings.Join(terms, ", "))
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}
