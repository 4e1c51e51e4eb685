package incident

import (
	"agentorch/internal/app/toolregistry"
	"agentorch/internal/domain/agent/ports"
)

func optionalString(description string) ports.Property {
	return ports.Property{Type: "string", Description: description, Nullable: true}
}

// KnowledgeItemSchema describes one knowledge search hit.
var KnowledgeItemSchema = ports.Property{
	Type: "object",
	Properties: map[string]ports.Property{
		"title":        {Type: "string"},
		"snippet":      {Type: "string"},
		"source_type":  optionalString("policy, doc or jira_ticket."),
		"source_id":    optionalString("File path or ticket key."),
		"score":        {Type: "number", Minimum: ports.Bound(0), Maximum: ports.Bound(1), Nullable: true},
		"why_selected": optionalString(""),
	},
	Required: []string{"title", "snippet"},
}

// IssueMatchSchema describes one previous-issue hit.
var IssueMatchSchema = ports.Property{
	Type: "object",
	Properties: map[string]ports.Property{
		"ticket":         {Type: "string"},
		"summary":        {Type: "string"},
		"relevance":      {Type: "number", Minimum: ports.Bound(0), Maximum: ports.Bound(1)},
		"source":         optionalString(""),
		"doc_id":         optionalString(""),
		"chunk_id":       optionalString(""),
		"score":          {Type: "number", Minimum: ports.Bound(0), Nullable: true},
		"retrieval_mode": optionalString("lexical, vector or hybrid."),
		"why_selected":   optionalString(""),
	},
	Required: []string{"ticket", "summary", "relevance"},
}

var citationSchema = ports.Property{
	Type: "object",
	Properties: map[string]ports.Property{
		"source_tool":  {Type: "string"},
		"reference":    {Type: "string"},
		"snippet":      {Type: "string"},
		"score":        {Type: "number", Minimum: ports.Bound(0), Nullable: true},
		"why_selected": optionalString(""),
	},
	Required: []string{"source_tool", "reference", "snippet"},
}

func searchInput(queryDescription string, extra map[string]ports.Property) ports.ParameterSchema {
	props := map[string]ports.Property{
		"query":    {Type: "string", Description: queryDescription},
		"limit":    {Type: "integer", Default: 3, Minimum: ports.Bound(1), Maximum: ports.Bound(10)},
		"service":  optionalString("Service or project key filter."),
		"severity": optionalString("Severity or priority filter."),
	}
	for k, v := range extra {
		props[k] = v
	}
	return ports.ParameterSchema{Type: "object", Properties: props, Required: []string{"query"}}
}

func resultsOf(item ports.Property) ports.ParameterSchema {
	return ports.ParameterSchema{
		Type: "object",
		Properties: map[string]ports.Property{
			"results": {Type: "array", Items: &item},
		},
		Required: []string{"results"},
	}
}

// BriefInputSchema is shared with the model-backed brief builder.
var BriefInputSchema = ports.ParameterSchema{
	Type: "object",
	Properties: map[string]ports.Property{
		"query":              {Type: "string", Description: "Incident description."},
		"incident_knowledge": {Type: "array", Items: &KnowledgeItemSchema, Default: []any{}},
		"previous_issues":    {Type: "array", Items: &IssueMatchSchema, Default: []any{}},
	},
	Required: []string{"query"},
}

// BriefOutputSchema is shared with the model-backed brief builder.
var BriefOutputSchema = ports.ParameterSchema{
	Type: "object",
	Properties: map[string]ports.Property{
		"summary":                   {Type: "string"},
		"similar_incidents":         {Type: "array", Items: &ports.Property{Type: "string"}},
		"probable_causes":           {Type: "array", Items: &ports.Property{Type: "string"}},
		"recommended_actions":       {Type: "array", Items: &ports.Property{Type: "string"}},
		"escalation_recommendation": {Type: "string"},
		"confidence":                {Type: "number", Minimum: ports.Bound(0), Maximum: ports.Bound(1)},
		"citations":                 {Type: "array", Items: &citationSchema},
	},
	Required: []string{"summary", "escalation_recommendation", "confidence"},
}

// BriefDefinition describes the build_incident_brief tool.
func BriefDefinition() ports.ToolDefinition {
	return ports.ToolDefinition{
		Name:        toolregistry.ToolBuildIncidentBrief,
		Description: "Build an incident brief with causes, actions, escalation and citations from retrieved evidence.",
		Parameters:  BriefInputSchema,
	}
}

// Specs returns the retrieval and brief tools bound to the given searchers.
func Specs(knowledge KnowledgeSearcher, issues IssueSearcher) []toolregistry.ToolSpec {
	return []toolregistry.ToolSpec{
		{
			Definition: ports.ToolDefinition{
				Name:        toolregistry.ToolSearchIncidentKnowledge,
				Description: "Search incident policies, runbooks and tickets. At least one policy or runbook is returned when available.",
				Parameters:  searchInput("Incident description to match against policies and runbooks.", nil),
			},
			Output: resultsOf(KnowledgeItemSchema),
			Fn:     searchKnowledgeTool(knowledge),
		},
		{
			Definition: ports.ToolDefinition{
				Name:        toolregistry.ToolSearchPreviousIssues,
				Description: "Find similar previous issues with full-text and vector search.",
				Parameters: searchInput("Incident description to match against past tickets.", map[string]ports.Property{
					"use_llm_rerank": {Type: "boolean", Nullable: true},
					"use_hybrid":     {Type: "boolean", Nullable: true},
				}),
			},
			Output: resultsOf(IssueMatchSchema),
			Fn:     searchIssuesTool(issues),
		},
		{
			Definition: BriefDefinition(),
			Output:     BriefOutputSchema,
			Fn:         buildBriefTool,
		},
	}
}
