package llmtools

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"agentorch/internal/app/toolregistry"
	"agentorch/internal/domain/agent/ports"
	"agentorch/internal/infra/tools/builtin/incident"
	"agentorch/internal/infra/tools/builtin/shared"
	jsonx "agentorch/internal/shared/json"
	"agentorch/internal/shared/textutil"
)

const (
	maxEvidenceItems   = 5
	evidenceSnippetLen = 280
	maxSimilar         = 6
	similarSummaryLen  = 120
	maxListItems       = 8
	maxCitations       = 8
	defaultConfidence  = 0.5
)

const briefSystemPrompt = "You are an incident response analyst. " +
	"Use ONLY provided evidence. Return JSON with keys exactly: " +
	"summary, similar_incidents, probable_causes, recommended_actions, " +
	"escalation_recommendation, confidence, citations. " +
	"confidence must be a number between 0 and 1. " +
	"Each citation item must contain: source_tool, reference, snippet, score, why_selected."

type evidencePayload struct {
	IncidentKnowledge []incident.KnowledgeItem `json:"incident_knowledge"`
	PreviousIssues    []incident.IssueMatch    `json:"previous_issues"`
}

func briefTool(generator ports.StructuredGenerator) toolregistry.ToolFunc {
	return shared.Typed(func(ctx context.Context, in incident.BriefInput) (incident.Brief, error) {
		req, err := BriefRequest(in)
		if err != nil {
			return incident.Brief{}, err
		}
		raw, err := generator.GenerateStructured(ctx, req)
		if err != nil {
			return incident.Brief{}, err
		}
		return NormalizeBrief(raw), nil
	})
}

// BriefRequest builds the incident brief prompt from at most five knowledge
// items and five issues with compacted snippets.
func BriefRequest(in incident.BriefInput) (ports.StructuredRequest, error) {
	evidence := evidencePayload{
		IncidentKnowledge: make([]incident.KnowledgeItem, 0, maxEvidenceItems),
		PreviousIssues:    make([]incident.IssueMatch, 0, maxEvidenceItems),
	}
	for i, item := range in.IncidentKnowledge {
		if i == maxEvidenceItems {
			break
		}
		item.Snippet = textutil.Compact(item.Snippet, evidenceSnippetLen)
		evidence.IncidentKnowledge = append(evidence.IncidentKnowledge, item)
	}
	for i, issue := range in.PreviousIssues {
		if i == maxEvidenceItems {
			break
		}
		issue.Summary = textutil.Compact(issue.Summary, evidenceSnippetLen)
		evidence.PreviousIssues = append(evidence.PreviousIssues, issue)
	}
	evidenceJSON, err := jsonx.Marshal(evidence)
	if err != nil {
		return ports.StructuredRequest{}, fmt.Errorf("marshal evidence: %w", err)
	}

	return ports.StructuredRequest{
		System: briefSystemPrompt,
		User: fmt.Sprintf("Incident query:\n%s\n\nEvidence JSON:\n%s\n\nGenerate a concise, actionable incident brief.",
			in.Query, string(evidenceJSON)),
	}, nil
}

// NormalizeBrief coerces a loosely shaped model response into a Brief.
func NormalizeBrief(raw map[string]any) incident.Brief {
	return incident.Brief{
		Summary:                  asText(raw["summary"]),
		SimilarIncidents:         normalizeSimilar(raw["similar_incidents"]),
		ProbableCauses:           normalizeStrings(raw["probable_causes"]),
		RecommendedActions:       normalizeStrings(raw["recommended_actions"]),
		EscalationRecommendation: asText(raw["escalation_recommendation"]),
		Confidence:               normalizeConfidence(raw["confidence"]),
		Citations:                normalizeCitations(raw["citations"]),
	}
}

func normalizeSimilar(value any) []string {
	out := make([]string, 0)
	for _, row := range toList(value) {
		obj, isObj := row.(map[string]any)
		if !isObj {
			if text := asText(row); text != "" {
				out = append(out, text)
			}
			continue
		}
		ticket := asText(obj["ticket"])
		summary := asText(obj["summary"])
		switch {
		case ticket != "" && summary != "":
			out = append(out, ticket+": "+textutil.Compact(summary, similarSummaryLen))
		case ticket != "":
			out = append(out, ticket)
		case summary != "":
			out = append(out, textutil.Compact(summary, similarSummaryLen))
		}
	}
	return truncate(out, maxSimilar)
}

func normalizeStrings(value any) []string {
	out := make([]string, 0)
	for _, row := range toList(value) {
		if text := asText(row); text != "" {
			out = append(out, text)
		}
	}
	return truncate(out, maxListItems)
}

func normalizeCitations(value any) []incident.BriefCitation {
	out := make([]incident.BriefCitation, 0)
	for _, row := range toList(value) {
		switch typed := row.(type) {
		case string:
			if text := strings.TrimSpace(typed); text != "" {
				out = append(out, incident.BriefCitation{
					SourceTool: toolregistry.ToolBuildIncidentBrief,
					Reference:  text,
				})
			}
		case map[string]any:
			reference := shared.FirstNonEmpty(asText(typed["reference"]), asText(typed["ticket"]), asText(typed["doc_id"]))
			if reference == "" {
				continue
			}
			sourceTool := asText(typed["source_tool"])
			if sourceTool == "" {
				sourceTool = toolregistry.ToolBuildIncidentBrief
			}
			out = append(out, incident.BriefCitation{
				SourceTool:  sourceTool,
				Reference:   reference,
				Snippet:     shared.FirstNonEmpty(asText(typed["snippet"]), asText(typed["summary"])),
				Score:       nonNegative(optionalFloat(typed["score"])),
				WhySelected: asText(typed["why_selected"]),
			})
		}
	}
	return truncate(out, maxCitations)
}

func normalizeConfidence(value any) float64 {
	parsed := optionalFloat(value)
	if parsed == nil {
		return defaultConfidence
	}
	switch {
	case *parsed < 0:
		return 0
	case *parsed > 1:
		return 1
	default:
		return *parsed
	}
}

func toList(value any) []any {
	switch typed := value.(type) {
	case nil:
		return nil
	case []any:
		return typed
	default:
		return []any{typed}
	}
}

func asText(value any) string {
	if value == nil {
		return ""
	}
	if s, ok := value.(string); ok {
		return strings.TrimSpace(s)
	}
	return shared.NonEmptyString(value)
}

func optionalFloat(value any) *float64 {
	var f float64
	switch typed := value.(type) {
	case float64:
		f = typed
	case int:
		f = float64(typed)
	case int64:
		f = float64(typed)
	case jsonx.Number:
		parsed, err := typed.Float64()
		if err != nil {
			return nil
		}
		f = parsed
	case string:
		parsed, err := strconv.ParseFloat(strings.TrimSpace(typed), 64)
		if err != nil {
			return nil
		}
		f = parsed
	default:
		return nil
	}
	return &f
}

// nonNegative drops scores the output schema would reject.
func nonNegative(v *float64) *float64 {
	if v == nil || *v < 0 {
		return nil
	}
	return v
}

func truncate[T any](items []T, limit int) []T {
	if len(items) > limit {
		return items[:limit]
	}
	return items
}
