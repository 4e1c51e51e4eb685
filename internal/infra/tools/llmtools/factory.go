package llmtools

import (
	"agentorch/internal/app/toolregistry"
	"agentorch/internal/domain/agent/ports"
	"agentorch/internal/domain/task"
	"agentorch/internal/infra/llm"
	"agentorch/internal/infra/tools/builtin/analysis"
	"agentorch/internal/infra/tools/builtin/incident"
)

// DefaultSummarizeTokenBudget caps the text sent to the model summarizer.
const DefaultSummarizeTokenBudget = 3000

// Factory builds the model-backed summarize and build_incident_brief tools.
type Factory struct {
	newGenerator func() (ports.StructuredGenerator, error)
	tokenBudget  int
}

// NewFactory returns a factory that creates an OpenAI-compatible client on
// demand. ModelTools fails when the client cannot be built.
func NewFactory(config llm.Config, opts ...llm.Option) *Factory {
	return &Factory{
		newGenerator: func() (ports.StructuredGenerator, error) {
			return llm.NewClient(config, opts...)
		},
		tokenBudget: DefaultSummarizeTokenBudget,
	}
}

// NewFactoryWithGenerator binds the tools to an existing generator.
func NewFactoryWithGenerator(generator ports.StructuredGenerator) *Factory {
	return &Factory{
		newGenerator: func() (ports.StructuredGenerator, error) { return generator, nil },
		tokenBudget:  DefaultSummarizeTokenBudget,
	}
}

// WithTokenBudget overrides the summarize input budget.
func (f *Factory) WithTokenBudget(tokens int) *Factory {
	if tokens > 0 {
		f.tokenBudget = tokens
	}
	return f
}

// ModelTools implements toolregistry.ModelToolFactory.
func (f *Factory) ModelTools() ([]toolregistry.ToolSpec, error) {
	generator, err := f.newGenerator()
	if err != nil {
		return nil, err
	}
	return []toolregistry.ToolSpec{
		{
			Definition:     analysis.SummarizeDefinition(),
			Output:         analysis.SummarizeOutputSchema,
			Fn:             summarizeTool(generator, f.tokenBudget),
			Implementation: task.ImplementationModel,
		},
		{
			Definition:     incident.BriefDefinition(),
			Output:         incident.BriefOutputSchema,
			Fn:             briefTool(generator),
			Implementation: task.ImplementationModel,
		},
	}, nil
}
