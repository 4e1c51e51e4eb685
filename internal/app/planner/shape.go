package planner

import (
	"maps"
	"slices"

	"agentorch/internal/app/toolregistry"
	"agentorch/internal/domain/task"
)

// IsIncident reports whether a request should go through the incident path:
// an incident keyword in the text, or a severity or priority in the context.
func IsIncident(userInput string, taskContext map[string]string) bool {
	if task.MentionsIncident(userInput) {
		return true
	}
	return toolregistry.ContextValue(taskContext, "severity") != "" ||
		toolregistry.ContextValue(taskContext, "priority") != ""
}

func step(id, tool, userInput string, taskContext map[string]string) task.PlanStep {
	return task.PlanStep{
		ID:     id,
		Tool:   tool,
		Args:   toolregistry.DefaultArgs(tool, userInput, taskContext),
		Status: task.StepPending,
	}
}

// DeterministicPlan is the fixed plan: summarize, extract_entities and
// classify_priority, followed by retrieval and the brief for incidents.
func DeterministicPlan(userInput string, taskContext map[string]string) []task.PlanStep {
	steps := []task.PlanStep{
		step("analyze_request", toolregistry.ToolSummarize, userInput, taskContext),
		step("extract_entities", toolregistry.ToolExtractEntities, userInput, taskContext),
		step("classify_priority", toolregistry.ToolClassifyPriority, userInput, taskContext),
	}
	if !IsIncident(userInput, taskContext) {
		return steps
	}
	return append(steps,
		step("retrieve_incident_knowledge", toolregistry.ToolSearchIncidentKnowledge, userInput, taskContext),
		step("retrieve_previous_issues", toolregistry.ToolSearchPreviousIssues, userInput, taskContext),
		step("build_incident_brief", toolregistry.ToolBuildIncidentBrief, userInput, taskContext),
	)
}

// normalize enforces the minimum plan shape on a model-proposed plan.
func (p *Planner) normalize(proposed []task.PlanStep, userInput string, taskContext map[string]string) []task.PlanStep {
	incident := IsIncident(userInput, taskContext)
	steps := make([]task.PlanStep, 0, len(proposed)+len(toolregistry.CoreTools)+len(toolregistry.IncidentTools))
	present := make(map[string]bool, len(proposed))
	for _, s := range proposed {
		s.Args = p.mergeArgs(s.Tool, s.Args, userInput, taskContext)
		s.Status = task.StepPending
		steps = append(steps, s)
		present[s.Tool] = true
	}

	required := slices.Clone(toolregistry.CoreTools)
	if incident {
		required = append(required, toolregistry.IncidentTools...)
	}
	for _, tool := range required {
		if present[tool] {
			continue
		}
		steps = append(steps, task.PlanStep{
			ID:     "auto_" + tool,
			Tool:   tool,
			Args:   p.mergeArgs(tool, nil, userInput, taskContext),
			Status: task.StepPending,
		})
		present[tool] = true
	}

	var summarize *task.PlanStep
	others := make([]task.PlanStep, 0, len(steps))
	for i := range steps {
		if steps[i].Tool == toolregistry.ToolSummarize {
			s := steps[i]
			summarize = &s
			continue
		}
		others = append(others, steps[i])
	}
	if incident {
		others = briefAfterRetrieval(others)
	}

	final := *summarize
	final.Args["text"] = userInput
	return append(others, final)
}

// mergeArgs overlays args on the tool defaults and keeps only keys the
// tool's schema declares.
func (p *Planner) mergeArgs(tool string, args map[string]any, userInput string, taskContext map[string]string) map[string]any {
	merged := toolregistry.DefaultArgs(tool, userInput, taskContext)
	maps.Copy(merged, args)
	if p.schemas == nil {
		return merged
	}
	schema, ok := p.schemas.Schema(tool)
	if !ok || len(schema.Properties) == 0 {
		return merged
	}
	for key := range merged {
		if !schema.Has(key) {
			delete(merged, key)
		}
	}
	return merged
}

// briefAfterRetrieval moves every build_incident_brief step to just after
// the last retrieval step, keeping their relative order.
func briefAfterRetrieval(steps []task.PlanStep) []task.PlanStep {
	lastRetrieval := -1
	hasBrief := false
	for i, s := range steps {
		if toolregistry.IsRetrievalTool(s.Tool) {
			lastRetrieval = i
		}
		if s.Tool == toolregistry.ToolBuildIncidentBrief {
			hasBrief = true
		}
	}
	if lastRetrieval < 0 || !hasBrief {
		return steps
	}

	var briefs, before, after []task.PlanStep
	for i, s := range steps {
		switch {
		case s.Tool == toolregistry.ToolBuildIncidentBrief:
			briefs = append(briefs, s)
		case i <= lastRetrieval:
			before = append(before, s)
		default:
			after = append(after, s)
		}
	}
	out := make([]task.PlanStep, 0, len(steps))
	out = append(out, before...)
	out = append(out, briefs...)
	return append(out, after...)
}
