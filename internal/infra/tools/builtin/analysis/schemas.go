package analysis

import (
	"agentorch/internal/app/toolregistry"
	"agentorch/internal/domain/agent/ports"
)

var textInput = ports.ParameterSchema{
	Type: "object",
	Properties: map[string]ports.Property{
		"text": {Type: "string", Description: "Free-form request or incident text."},
	},
	Required: []string{"text"},
}

func stringList(key, description string) ports.ParameterSchema {
	return ports.ParameterSchema{
		Type: "object",
		Properties: map[string]ports.Property{
			key: {Type: "array", Description: description, Items: &ports.Property{Type: "string"}},
		},
		Required: []string{key},
	}
}

// SummarizeInputSchema is shared with the model-backed summarizer.
var SummarizeInputSchema = ports.ParameterSchema{
	Type: "object",
	Properties: map[string]ports.Property{
		"text":      {Type: "string", Description: "Text to summarize."},
		"max_words": {Type: "integer", Description: "Upper bound on summary words.", Default: 60, Minimum: ports.Bound(1), Maximum: ports.Bound(300)},
	},
	Required: []string{"text"},
}

// SummarizeOutputSchema is shared with the model-backed summarizer.
var SummarizeOutputSchema = ports.ParameterSchema{
	Type: "object",
	Properties: map[string]ports.Property{
		"summary": {Type: "string"},
	},
	Required: []string{"summary"},
}

var priorityOutput = ports.ParameterSchema{
	Type: "object",
	Properties: map[string]ports.Property{
		"priority": {Type: "string", Enum: []any{PriorityLow, PriorityMedium, PriorityHigh, PriorityCritical}},
		"reasons":  {Type: "array", Items: &ports.Property{Type: "string"}},
	},
	Required: []string{"priority"},
}

// SummarizeDefinition describes the summarize tool.
func SummarizeDefinition() ports.ToolDefinition {
	return ports.ToolDefinition{
		Name:        toolregistry.ToolSummarize,
		Description: "Summarize text to at most max_words words.",
		Parameters:  SummarizeInputSchema,
	}
}

// Specs returns the deterministic text analysis tools.
func Specs() []toolregistry.ToolSpec {
	return []toolregistry.ToolSpec{
		{
			Definition: SummarizeDefinition(),
			Output:     SummarizeOutputSchema,
			Fn:         summarizeTool,
		},
		{
			Definition: ports.ToolDefinition{
				Name:        toolregistry.ToolExtractEntities,
				Description: "Extract capitalized entity names (services, teams, people) from text.",
				Parameters:  textInput,
			},
			Output: stringList("entities", "Distinct entity names in first-seen order."),
			Fn:     extractEntitiesTool,
		},
		{
			Definition: ports.ToolDefinition{
				Name:        toolregistry.ToolExtractDeadlines,
				Description: "Extract dates and relative deadlines from text.",
				Parameters:  textInput,
			},
			Output: stringList("deadlines", "Distinct deadline phrases."),
			Fn:     extractDeadlinesTool,
		},
		{
			Definition: ports.ToolDefinition{
				Name:        toolregistry.ToolExtractActionItems,
				Description: "Extract action items (imperative lines, owners, TODOs) from text.",
				Parameters:  textInput,
			},
			Output: stringList("action_items", "Up to ten action items."),
			Fn:     extractActionItemsTool,
		},
		{
			Definition: ports.ToolDefinition{
				Name:        toolregistry.ToolClassifyPriority,
				Description: "Classify urgency as low, medium, high or critical from keyword signals.",
				Parameters:  textInput,
			},
			Output: priorityOutput,
			Fn:     classifyPriorityTool,
		},
	}
}
