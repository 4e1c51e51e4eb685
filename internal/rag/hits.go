package rag

import (
	"strings"

	"agentorch/internal/shared/textutil"
)

// Retrieval modes recorded on issue hits.
const (
	ModeLexical = "lexical"
	ModeVector  = "vector"
	ModeHybrid  = "hybrid"
)

// KnowledgeHit is a policy, runbook or ticket chunk returned by knowledge search.
type KnowledgeHit struct {
	Title       string  `json:"title"`
	Snippet     string  `json:"snippet"`
	SourceType  string  `json:"source_type,omitempty"`
	SourceID    string  `json:"source_id,omitempty"`
	Score       float64 `json:"score"`
	WhySelected string  `json:"why_selected,omitempty"`
}

// IssueHit is a previously seen issue returned by hybrid search.
type IssueHit struct {
	Ticket        string  `json:"ticket"`
	Summary       string  `json:"summary"`
	Relevance     float64 `json:"relevance"`
	Source        string  `json:"source,omitempty"`
	DocID         string  `json:"doc_id,omitempty"`
	ChunkID       string  `json:"chunk_id,omitempty"`
	Score         float64 `json:"score"`
	RetrievalMode string  `json:"retrieval_mode,omitempty"`
	WhySelected   string  `json:"why_selected,omitempty"`
}

// Relevance maps a lower-is-better distance (bm25 or cosine distance) into
// (0, 1], rounded to 4 places.
func Relevance(distance float64) float64 {
	if distance < 0 {
		distance = 0
	}
	return textutil.Round(1/(1+distance), 4)
}

// TicketFromDocID returns the suffix after the last ':' of a document id.
func TicketFromDocID(docID string) string {
	if idx := strings.LastIndex(docID, ":"); idx >= 0 {
		return docID[idx+1:]
	}
	return docID
}

func appendReason(existing, suffix string) string {
	base := strings.TrimSpace(existing)
	if base == "" {
		return suffix
	}
	return base + " " + suffix
}

// EvidenceConfidence scores how well n evidence items with the given scores
// support a conclusion: 0.35·min(n,6)/6 + 0.65·clamp(mean score). With no
// evidence it is 0.2; with no scores the mean defaults to 0.35.
func EvidenceConfidence(n int, scores []float64) float64 {
	if n <= 0 {
		return 0.2
	}
	mean := 0.35
	if len(scores) > 0 {
		sum := 0.0
		for _, s := range scores {
			sum += s
		}
		mean = sum / float64(len(scores))
	}
	mean = clamp01(mean)
	coverage := float64(min(n, 6)) / 6
	return textutil.Round(0.35*coverage+0.65*mean, 4)
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
