package toolregistry

import (
	"fmt"
	"strings"
)

// Tool names known to the planner and verifier.
const (
	ToolSummarize               = "summarize"
	ToolExtractEntities         = "extract_entities"
	ToolExtractDeadlines        = "extract_deadlines"
	ToolExtractActionItems      = "extract_action_items"
	ToolClassifyPriority        = "classify_priority"
	ToolSearchIncidentKnowledge = "search_incident_knowledge"
	ToolSearchPreviousIssues    = "search_previous_issues"
	ToolBuildIncidentBrief      = "build_incident_brief"
)

// CoreTools must run for every task.
var CoreTools = []string{ToolSummarize, ToolExtractEntities, ToolClassifyPriority}

// RetrievalTools gather incident evidence.
var RetrievalTools = []string{ToolSearchIncidentKnowledge, ToolSearchPreviousIssues}

// IncidentTools must run for incident tasks, in this order.
var IncidentTools = []string{ToolSearchIncidentKnowledge, ToolSearchPreviousIssues, ToolBuildIncidentBrief}

// PlannableTools is the allow-list for model-generated plans.
var PlannableTools = []string{
	ToolSummarize,
	ToolExtractEntities,
	ToolExtractDeadlines,
	ToolExtractActionItems,
	ToolClassifyPriority,
	ToolSearchIncidentKnowledge,
	ToolSearchPreviousIssues,
	ToolBuildIncidentBrief,
}

// IsPlannable reports whether name is on the plan allow-list.
func IsPlannable(name string) bool {
	for _, tool := range PlannableTools {
		if tool == name {
			return true
		}
	}
	return false
}

// IsRetrievalTool reports whether name is a retrieval tool.
func IsRetrievalTool(name string) bool {
	return name == ToolSearchIncidentKnowledge || name == ToolSearchPreviousIssues
}

// DefaultArgs returns the arguments a tool gets when the planner has nothing
// better. taskContext carries optional service, severity, priority and status.
func DefaultArgs(tool, userInput string, taskContext map[string]string) map[string]any {
	switch tool {
	case ToolSummarize:
		return map[string]any{"text": userInput, "max_words": 80}
	case ToolExtractEntities, ToolExtractDeadlines, ToolExtractActionItems:
		return map[string]any{"text": userInput}
	case ToolClassifyPriority:
		return map[string]any{"text": priorityText(userInput, taskContext)}
	case ToolSearchIncidentKnowledge, ToolSearchPreviousIssues:
		args := map[string]any{"query": userInput, "limit": 3}
		if v := ContextValue(taskContext, "service"); v != "" {
			args["service"] = v
		}
		if v := ContextValue(taskContext, "severity"); v != "" {
			args["severity"] = v
		}
		return args
	case ToolBuildIncidentBrief:
		return map[string]any{
			"query":              userInput,
			"incident_knowledge": []any{},
			"previous_issues":    []any{},
		}
	default:
		return map[string]any{}
	}
}

// ContextValue returns the trimmed value of key, or "".
func ContextValue(taskContext map[string]string, key string) string {
	if taskContext == nil {
		return ""
	}
	return strings.TrimSpace(taskContext[key])
}

func priorityText(userInput string, taskContext map[string]string) string {
	var lines []string
	for _, key := range []string{"priority", "severity", "status"} {
		if v := ContextValue(taskContext, key); v != "" {
			lines = append(lines, fmt.Sprintf("%s%s: %s", strings.ToUpper(key[:1]), key[1:], v))
		}
	}
	if len(lines) == 0 {
		return userInput
	}
	lines = append(lines, "Summary: "+userInput)
	return strings.Join(lines, "\n")
}
