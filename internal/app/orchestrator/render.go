package orchestrator

import (
	"fmt"
	"strings"

	"agentorch/internal/app/toolregistry"
	"agentorch/internal/domain/task"
	"agentorch/internal/infra/tools/builtin/shared"
)

const noSummary = "No summary available."

// RenderFinalOutput produces the user-facing answer for a finished run.
func RenderFinalOutput(state task.State) string {
	v := state.Verification
	if v == nil || !v.Passed {
		if v == nil {
			v = &task.VerificationResult{}
		}
		return fmt.Sprintf("Run completed with verification issues: missing=%s, failed=%s, gates=%s, retry_budget_exhausted=%t.",
			listLiteral(v.MissingTools), listLiteral(v.FailedTools), listLiteral(v.GateFailures), v.Retry.BudgetExhausted)
	}

	brief := state.ToolResults[toolregistry.ToolBuildIncidentBrief].Output
	if shared.NonEmptyString(brief["summary"]) != "" {
		return RenderBrief(brief)
	}

	summary, ok := state.ToolResults[toolregistry.ToolSummarize].Output["summary"].(string)
	if !ok {
		return noSummary
	}
	return summary
}

// RenderBrief flattens a brief into one " | " separated line.
func RenderBrief(brief map[string]any) string {
	var parts []string
	if summary := shared.NonEmptyString(brief["summary"]); summary != "" {
		parts = append(parts, summary)
	}

	confidence := "n/a"
	if c, ok := brief["confidence"].(float64); ok {
		confidence = fmt.Sprintf("%.2f", c)
	}
	parts = append(parts, "Confidence: "+confidence)

	if escalation := shared.NonEmptyString(brief["escalation_recommendation"]); escalation != "" {
		parts = append(parts, "Escalation: "+escalation)
	}
	if causes := stringList(brief["probable_causes"], 3); len(causes) > 0 {
		parts = append(parts, "Probable causes: "+strings.Join(causes, "; "))
	}
	if actions := stringList(brief["recommended_actions"], 4); len(actions) > 0 {
		parts = append(parts, "Recommended actions: "+strings.Join(actions, "; "))
	}
	if similar := stringList(brief["similar_incidents"], 3); len(similar) > 0 {
		parts = append(parts, "Similar incidents: "+strings.Join(similar, "; "))
	}

	citations := shared.ObjectSliceArg(brief, "citations")
	if len(citations) > 3 {
		citations = citations[:3]
	}
	var refs []string
	for _, c := range citations {
		reference := shared.NonEmptyString(c["reference"])
		if reference == "" {
			continue
		}
		if tool := shared.NonEmptyString(c["source_tool"]); tool != "" {
			reference = tool + ":" + reference
		}
		refs = append(refs, reference)
	}
	if len(refs) > 0 {
		parts = append(parts, "Citations: "+strings.Join(refs, ", "))
	}
	return strings.Join(parts, " | ")
}

func stringList(value any, limit int) []string {
	items, _ := value.([]any)
	var out []string
	for _, item := range items {
		s, ok := item.(string)
		if !ok {
			continue
		}
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	if len(out) > limit {
		out = out[:limit]
	}
	return out
}

// listLiteral renders names as ['a', 'b'].
func listLiteral(items []string) string {
	quoted := make([]string, len(items))
	for i, item := range items {
		quoted[i] = "'" + item + "'"
	}
	return "[" + strings.Join(quoted, ", ") + "]"
}
