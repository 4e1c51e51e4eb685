package verifier

import (
	"fmt"
	"sort"
	"strings"

	"agentorch/internal/app/toolregistry"
	"agentorch/internal/domain/task"
	"agentorch/internal/infra/tools/builtin/shared"
)

// Gate and consistency identifiers reported in a VerificationResult.
const (
	GateSummaryEntityInconsistency = "summary_entity_inconsistency"

	IssueMissingSummary         = "missing_or_empty_summary"
	IssueSummaryMissingEntities = "summary_missing_entities"

	FailMissingKnowledgeEvidence     = "missing_incident_knowledge_evidence"
	FailMissingIssueEvidence         = "missing_previous_issue_evidence"
	FailMissingKnowledgeCitationMeta = "missing_incident_citation_metadata"
	FailMissingKnowledgeSnippet      = "missing_incident_snippet_evidence"
	FailMissingIssueCitationMeta     = "missing_previous_issue_citation_metadata"
	FailMissingIssueSnippet          = "missing_previous_issue_snippet_evidence"
	FailMissingPolicyCitation        = "missing_policy_citation"
)

var policyTerms = []string{"policy", "runbook"}

const maxReportedEntities = 5

// Verify judges accumulated tool results. retryCount is the count before
// this verification; the returned Retry.Count includes it.
func Verify(userInput string, results map[string]task.ToolResult, retryCount, retryBudget int) task.VerificationResult {
	missing := make([]string, 0)
	for _, tool := range toolregistry.CoreTools {
		if _, ok := results[tool]; !ok {
			missing = append(missing, tool)
		}
	}

	failed := make([]string, 0)
	for name, res := range results {
		if res.Status == task.ResultFailed {
			failed = append(failed, name)
		}
	}
	sort.Strings(failed)

	gateFailures := make([]string, 0)
	consistency := consistencyIssues(results)
	if len(consistency) > 0 {
		gateFailures = append(gateFailures, GateSummaryEntityInconsistency)
	}

	gate := incidentGate(userInput, results)
	if gate.Required && !gate.Passed {
		gateFailures = append(gateFailures, gate.Failures...)
	}

	passed := len(missing) == 0 && len(failed) == 0 && len(gateFailures) == 0
	count := retryCount
	if !passed {
		count++
	}
	remaining := retryBudget - count
	if remaining < 0 {
		remaining = 0
	}

	return task.VerificationResult{
		Passed:            passed,
		MissingTools:      missing,
		FailedTools:       failed,
		GateFailures:      gateFailures,
		ConsistencyIssues: consistency,
		IncidentGate:      gate,
		Retry: task.RetryInfo{
			Count:           count,
			Budget:          retryBudget,
			Remaining:       remaining,
			BudgetExhausted: count >= retryBudget,
		},
	}
}

// ShouldRetry reports whether another plan/execute pass is allowed.
func ShouldRetry(v task.VerificationResult, retryCount, retryBudget int) bool {
	return !v.Passed && retryCount < retryBudget
}

func consistencyIssues(results map[string]task.ToolResult) []string {
	issues := make([]string, 0)
	summary, _ := results[toolregistry.ToolSummarize].Output["summary"].(string)
	if strings.TrimSpace(summary) == "" {
		return append(issues, IssueMissingSummary)
	}

	entities := entityNames(results[toolregistry.ToolExtractEntities].Output["entities"])
	if len(entities) == 0 {
		return issues
	}

	lowered := strings.ToLower(summary)
	var absent []string
	for _, name := range entities {
		if !strings.Contains(lowered, strings.ToLower(name)) {
			absent = append(absent, name)
		}
	}
	threshold := max(1, len(entities)/2)
	if len(absent) > threshold {
		if len(absent) > maxReportedEntities {
			absent = absent[:maxReportedEntities]
		}
		issues = append(issues, fmt.Sprintf("%s:%s", IssueSummaryMissingEntities, strings.Join(absent, ",")))
	}
	return issues
}

func entityNames(value any) []string {
	switch typed := value.(type) {
	case []string:
		return typed
	case []any:
		out := make([]string, 0, len(typed))
		for _, item := range typed {
			if name, ok := item.(string); ok {
				out = append(out, name)
			}
		}
		return out
	}
	return nil
}

func incidentGate(userInput string, results map[string]task.ToolResult) task.IncidentGate {
	if !task.MentionsIncident(userInput) {
		return task.IncidentGate{Required: false, Passed: true, Failures: []string{}}
	}

	failures := make([]string, 0)
	knowledge := shared.ObjectSliceArg(results[toolregistry.ToolSearchIncidentKnowledge].Output, "results")
	issues := shared.ObjectSliceArg(results[toolregistry.ToolSearchPreviousIssues].Output, "results")

	if len(knowledge) == 0 {
		failures = append(failures, FailMissingKnowledgeEvidence)
	}
	if len(issues) == 0 {
		failures = append(failures, FailMissingIssueEvidence)
	}

	if len(knowledge) > 0 {
		if !anyHas(knowledge, "source_id") {
			failures = append(failures, FailMissingKnowledgeCitationMeta)
		}
		if !anyHas(knowledge, "snippet") {
			failures = append(failures, FailMissingKnowledgeSnippet)
		}
	}
	if len(issues) > 0 {
		if !anyHas(issues, "ticket", "doc_id", "chunk_id") {
			failures = append(failures, FailMissingIssueCitationMeta)
		}
		if !anyHas(issues, "summary") {
			failures = append(failures, FailMissingIssueSnippet)
		}
	}

	if !hasPolicyCitation(knowledge) {
		failures = append(failures, FailMissingPolicyCitation)
	}

	return task.IncidentGate{Required: true, Passed: len(failures) == 0, Failures: failures}
}

// anyHas reports whether some item has a non-blank value under any of keys.
func anyHas(items []map[string]any, keys ...string) bool {
	for _, item := range items {
		for _, key := range keys {
			if shared.NonEmptyString(item[key]) != "" {
				return true
			}
		}
	}
	return false
}

func hasPolicyCitation(knowledge []map[string]any) bool {
	for _, item := range knowledge {
		title := strings.ToLower(shared.NonEmptyString(item["title"]))
		for _, term := range policyTerms {
			if strings.Contains(title, term) {
				return true
			}
		}
	}
	return false
}
