package rag

import (
	"fmt"
	"sort"
	"strings"

	"agentorch/internal/shared/textutil"
)

// rrfK is the reciprocal-rank fusion damping constant.
const rrfK = 60.0

type fusedItem struct {
	hit         IssueHit
	score       float64
	lexicalSeen bool
	vectorSeen  bool
	order       int
}

func fusionKey(hit IssueHit) string {
	if hit.ChunkID != "" {
		return hit.ChunkID
	}
	if hit.DocID != "" {
		return hit.DocID
	}
	return strings.ToUpper(strings.TrimSpace(hit.Ticket))
}

// FuseRRF merges lexical and vector candidates by reciprocal-rank fusion.
// Hits found by both lists are tagged hybrid; single-source hits keep their
// mode with a fusion note appended. When one side is empty there is nothing
// to fuse and the other side is returned unchanged.
func FuseRRF(lexical, vector []IssueHit) []IssueHit {
	if len(lexical) == 0 {
		return append([]IssueHit(nil), vector...)
	}
	if len(vector) == 0 {
		return append([]IssueHit(nil), lexical...)
	}

	items := make(map[string]*fusedItem)
	add := func(hit IssueHit, rank int, fromLexical bool) {
		key := fusionKey(hit)
		if key == "" {
			return
		}
		item, ok := items[key]
		if !ok {
			item = &fusedItem{hit: hit, order: len(items)}
			items[key] = item
		}
		item.score += 1 / (rrfK + float64(rank) + 1)
		if hit.Relevance > item.hit.Relevance {
			item.hit = hit
		}
		if fromLexical {
			item.lexicalSeen = true
		} else {
			item.vectorSeen = true
		}
	}
	for rank, hit := range lexical {
		add(hit, rank, true)
	}
	for rank, hit := range vector {
		add(hit, rank, false)
	}

	ranked := make([]*fusedItem, 0, len(items))
	for _, item := range items {
		ranked = append(ranked, item)
	}
	sort.SliceStable(ranked, func(i, j int) bool {
		a, b := ranked[i], ranked[j]
		if a.score != b.score {
			return a.score > b.score
		}
		if a.lexicalSeen != b.lexicalSeen {
			return a.lexicalSeen
		}
		if a.hit.Relevance != b.hit.Relevance {
			return a.hit.Relevance > b.hit.Relevance
		}
		return a.order < b.order
	})

	out := make([]IssueHit, 0, len(ranked))
	for _, item := range ranked {
		hit := item.hit
		hit.Score = textutil.Round(item.score, 4)
		switch {
		case item.lexicalSeen && item.vectorSeen:
			hit.RetrievalMode = ModeHybrid
			hit.WhySelected = "fused lexical and vector candidates via reciprocal-rank fusion."
		case item.lexicalSeen:
			hit.RetrievalMode = ModeLexical
			hit.WhySelected = appendReason(hit.WhySelected, "kept after hybrid candidate fusion.")
		default:
			hit.RetrievalMode = ModeVector
			hit.WhySelected = appendReason(hit.WhySelected, "kept after hybrid candidate fusion.")
		}
		out = append(out, hit)
	}
	return out
}

// rerankByOverlap orders hits by query/summary token overlap, then relevance.
func rerankByOverlap(query string, hits []IssueHit) []IssueHit {
	queryTokens := textutil.Tokens(query)
	overlaps := make([]int, len(hits))
	for i, hit := range hits {
		overlaps[i] = queryTokens.OverlapCount(textutil.Tokens(hit.Summary))
	}

	idx := make([]int, len(hits))
	for i := range idx {
		idx[i] = i
	}
	sort.SliceStable(idx, func(a, b int) bool {
		ia, ib := idx[a], idx[b]
		if overlaps[ia] != overlaps[ib] {
			return overlaps[ia] > overlaps[ib]
		}
		return hits[ia].Relevance > hits[ib].Relevance
	})

	out := make([]IssueHit, 0, len(hits))
	for _, i := range idx {
		hit := hits[i]
		hit.WhySelected = appendReason(hit.WhySelected, fmt.Sprintf("reranked by lexical overlap (matched_terms=%d).", overlaps[i]))
		out = append(out, hit)
	}
	return out
}

// dedupeIssues keeps the first hit per ticket (or doc id when the ticket is
// empty), compared case-insensitively.
func dedupeIssues(hits []IssueHit) []IssueHit {
	seen := make(map[string]struct{}, len(hits))
	out := make([]IssueHit, 0, len(hits))
	for _, hit := range hits {
		key := strings.ToUpper(strings.TrimSpace(hit.Ticket))
		if key == "" {
			key = strings.ToUpper(strings.TrimSpace(hit.DocID))
		}
		if key != "" {
			if _, dup := seen[key]; dup {
				continue
			}
			seen[key] = struct{}{}
		}
		out = append(out, hit)
	}
	return out
}
