package incident

import (
	"context"
	"fmt"
	"strings"

	"agentorch/internal/app/toolregistry"
	"agentorch/internal/infra/tools/builtin/shared"
	"agentorch/internal/rag"
	"agentorch/internal/shared/textutil"
)

// KnowledgeItem is a knowledge hit as passed to the brief builder.
type KnowledgeItem struct {
	Title       string   `json:"title"`
	Snippet     string   `json:"snippet"`
	SourceType  string   `json:"source_type,omitempty"`
	SourceID    string   `json:"source_id,omitempty"`
	Score       *float64 `json:"score,omitempty"`
	WhySelected string   `json:"why_selected,omitempty"`
}

// IssueMatch is a previous-issue hit as passed to the brief builder.
type IssueMatch struct {
	Ticket        string   `json:"ticket"`
	Summary       string   `json:"summary"`
	Relevance     float64  `json:"relevance"`
	Source        string   `json:"source,omitempty"`
	DocID         string   `json:"doc_id,omitempty"`
	ChunkID       string   `json:"chunk_id,omitempty"`
	Score         *float64 `json:"score,omitempty"`
	RetrievalMode string   `json:"retrieval_mode,omitempty"`
	WhySelected   string   `json:"why_selected,omitempty"`
}

// ScoreOrRelevance prefers the fused score when present.
func (m IssueMatch) ScoreOrRelevance() float64 {
	if m.Score != nil {
		return *m.Score
	}
	return m.Relevance
}

// BriefInput is the build_incident_brief argument set.
type BriefInput struct {
	Query             string          `json:"query"`
	IncidentKnowledge []KnowledgeItem `json:"incident_knowledge"`
	PreviousIssues    []IssueMatch    `json:"previous_issues"`
}

// BriefCitation points at one piece of evidence.
type BriefCitation struct {
	SourceTool  string   `json:"source_tool"`
	Reference   string   `json:"reference"`
	Snippet     string   `json:"snippet"`
	Score       *float64 `json:"score,omitempty"`
	WhySelected string   `json:"why_selected,omitempty"`
}

// Brief is the build_incident_brief output.
type Brief struct {
	Summary                  string          `json:"summary"`
	SimilarIncidents         []string        `json:"similar_incidents"`
	ProbableCauses           []string        `json:"probable_causes"`
	RecommendedActions       []string        `json:"recommended_actions"`
	EscalationRecommendation string          `json:"escalation_recommendation"`
	Confidence               float64         `json:"confidence"`
	Citations                []BriefCitation `json:"citations"`
}

var buildBriefTool = shared.Typed(func(_ context.Context, in BriefInput) (Brief, error) {
	return BuildBrief(in), nil
})

type causeRule struct {
	tokens []string
	cause  string
}

var causeRules = []causeRule{
	{[]string{"profile", "avatar", "picture", "image"}, "Profile media rendering path may be failing or timing out."},
	{[]string{"latency", "slow", "timeout", "timed out"}, "Upstream latency or timeout thresholds are likely contributing to failures."},
	{[]string{"cache", "stale", "inconsistent"}, "Cache inconsistency may be causing stale or missing profile state."},
	{[]string{"auth", "permission", "anonymous", "access"}, "Authentication or permission context mismatch may block profile asset access."},
}

const (
	maxSimilarIncidents = 3
	maxCauses           = 4
	maxActions          = 5
	maxCitationsPerTool = 3
)

// BuildBrief derives an incident brief from the query and retrieved
// evidence using keyword rules.
func BuildBrief(in BriefInput) Brief {
	knowledge := in.IncidentKnowledge
	issues := in.PreviousIssues

	similar := []string{}
	for _, item := range issues[:min(len(issues), maxSimilarIncidents)] {
		if item.Ticket != "" && item.Summary != "" {
			similar = append(similar, fmt.Sprintf("%s: %s", item.Ticket, textutil.Compact(item.Summary, 120)))
		}
	}

	causes := probableCauses(in.Query, knowledge, issues)
	topCause := "insufficient evidence"
	if len(causes) > 0 {
		topCause = causes[0]
	}

	return Brief{
		Summary: fmt.Sprintf("Incident brief for: %s. Retrieved %d policy/runbook references and %d similar issues. Top likely cause: %s.",
			strings.TrimSpace(in.Query), len(knowledge), len(issues), topCause),
		SimilarIncidents:         similar,
		ProbableCauses:           causes,
		RecommendedActions:       recommendedActions(in.Query, knowledge, issues),
		EscalationRecommendation: EscalationFor(in.Query),
		Confidence:               Confidence(knowledge, issues),
		Citations:                citations(knowledge, issues),
	}
}

func probableCauses(query string, knowledge []KnowledgeItem, issues []IssueMatch) []string {
	parts := []string{query}
	for _, item := range knowledge {
		if item.Snippet != "" {
			parts = append(parts, item.Snippet)
		}
	}
	for _, item := range issues {
		if item.Summary != "" {
			parts = append(parts, item.Summary)
		}
	}
	text := strings.ToLower(strings.Join(parts, " "))

	var causes []string
	for _, rule := range causeRules {
		for _, token := range rule.tokens {
			if strings.Contains(text, token) {
				causes = append(causes, rule.cause)
				break
			}
		}
	}
	if len(causes) == 0 {
		causes = append(causes, "No single dominant root cause; further log/trace correlation is required.")
	}
	if len(causes) > maxCauses {
		causes = causes[:maxCauses]
	}
	return causes
}

func recommendedActions(query string, knowledge []KnowledgeItem, issues []IssueMatch) []string {
	actions := []string{"Validate current error rate/latency against incident policy thresholds and confirm severity."}
	if len(issues) > 0 {
		actions = append(actions, fmt.Sprintf("Reproduce against prior incident pattern from ticket %s.", issues[0].Ticket))
	} else {
		actions = append(actions, "Run targeted reproduction for affected users and collect request/response traces.")
	}

	hasPolicy := false
	for _, item := range knowledge {
		if item.SourceType == rag.SourcePolicy {
			hasPolicy = true
			break
		}
	}
	if hasPolicy {
		actions = append(actions, "Apply policy/runbook escalation steps and notify on-call ownership immediately.")
	} else {
		actions = append(actions, "Gather runbook/policy references before final escalation recommendation.")
	}

	lower := strings.ToLower(query)
	if strings.Contains(lower, "profile") || strings.Contains(lower, "avatar") {
		actions = append(actions, "Check media service dependencies and CDN/cache invalidation for profile assets.")
	}
	if len(actions) > maxActions {
		actions = actions[:maxActions]
	}
	return actions
}

// EscalationFor maps severity keywords in the query to an escalation path.
func EscalationFor(query string) string {
	lower := strings.ToLower(query)
	switch {
	case containsAny(lower, "p0", "p1", "sev1", "outage", "production down"):
		return "Escalate immediately to primary and secondary on-call as a high-severity incident."
	case containsAny(lower, "p2", "sev2", "degraded", "intermittent"):
		return "Escalate to service owner and on-call with active monitoring until stabilized."
	default:
		return "Use standard triage escalation path and reassess severity after initial diagnostics."
	}
}

func containsAny(text string, tokens ...string) bool {
	for _, token := range tokens {
		if strings.Contains(text, token) {
			return true
		}
	}
	return false
}

// Confidence scores evidence coverage and quality.
func Confidence(knowledge []KnowledgeItem, issues []IssueMatch) float64 {
	var scores []float64
	for _, item := range issues {
		scores = append(scores, item.ScoreOrRelevance())
	}
	for _, item := range knowledge {
		if item.Score != nil {
			scores = append(scores, *item.Score)
		}
	}
	return rag.EvidenceConfidence(len(knowledge)+len(issues), scores)
}

func citations(knowledge []KnowledgeItem, issues []IssueMatch) []BriefCitation {
	out := []BriefCitation{}
	for _, item := range knowledge[:min(len(knowledge), maxCitationsPerTool)] {
		reference := item.SourceID
		if reference == "" {
			reference = item.Title
		}
		if reference == "" {
			continue
		}
		out = append(out, BriefCitation{
			SourceTool:  toolregistry.ToolSearchIncidentKnowledge,
			Reference:   reference,
			Snippet:     item.Snippet,
			Score:       item.Score,
			WhySelected: item.WhySelected,
		})
	}
	for _, item := range issues[:min(len(issues), maxCitationsPerTool)] {
		reference := shared.FirstNonEmpty(item.Ticket, item.DocID, item.ChunkID)
		if reference == "" {
			continue
		}
		score := item.ScoreOrRelevance()
		out = append(out, BriefCitation{
			SourceTool:  toolregistry.ToolSearchPreviousIssues,
			Reference:   reference,
			Snippet:     item.Summary,
			Score:       &score,
			WhySelected: item.WhySelected,
		})
	}
	return out
}
