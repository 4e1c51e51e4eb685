package planner

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"agentorch/internal/app/toolregistry"
	"agentorch/internal/domain/agent/ports"
	"agentorch/internal/domain/task"
	"agentorch/internal/shared/logging"
)

const systemPrompt = "You are a strict planner for an orchestration workflow. " +
	"Return JSON only with key 'steps'. Each step must contain 'tool' and optional 'args'. " +
	"Allowed tools: summarize, extract_entities, extract_deadlines, " +
	"extract_action_items, classify_priority, search_incident_knowledge, search_previous_issues, " +
	"build_incident_brief. For incident-like prompts, include both " +
	"search_incident_knowledge and search_previous_issues, then build_incident_brief, " +
	"before summarize."

var planSchema = ports.ParameterSchema{
	Type: "object",
	Properties: map[string]ports.Property{
		"steps": {Type: "array", Items: &ports.Property{Type: "object"}},
	},
	Required: []string{"steps"},
}

// SchemaLookup resolves a tool's input schema.
type SchemaLookup interface {
	Schema(name string) (ports.ParameterSchema, bool)
}

// Telemetry records how a plan was produced.
type Telemetry struct {
	RequestedMode  string `json:"requested_mode"`
	EffectiveMode  string `json:"effective_mode"`
	FallbackUsed   bool   `json:"fallback_used"`
	FallbackReason string `json:"fallback_reason,omitempty"`
	Provider       string `json:"provider,omitempty"`
	Model          string `json:"model,omitempty"`
}

// Result is a plan plus its telemetry.
type Result struct {
	Steps     []task.PlanStep
	Telemetry Telemetry
}

// Planner turns a request into an ordered list of tool steps.
type Planner struct {
	schemas   SchemaLookup
	generator ports.StructuredGenerator
	provider  string
	model     string
	logger    logging.Logger
}

// Option customises a Planner.
type Option func(*Planner)

// WithGenerator enables model-backed planning through provider/model.
func WithGenerator(generator ports.StructuredGenerator, provider, model string) Option {
	return func(p *Planner) {
		p.generator = generator
		p.provider = provider
		p.model = model
	}
}

// WithLogger sets the planner logger.
func WithLogger(logger logging.Logger) Option {
	return func(p *Planner) { p.logger = logging.OrNop(logger) }
}

// New creates a planner. schemas restricts model-proposed args to each
// tool's declared keys.
func New(schemas SchemaLookup, opts ...Option) *Planner {
	p := &Planner{
		schemas:  schemas,
		provider: toolregistry.ProviderOpenAI,
		logger:   logging.NewComponentLogger("Planner"),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Plan builds the plan for mode. It never fails: any model-side problem
// falls back to the deterministic plan and is reported in the telemetry.
func (p *Planner) Plan(ctx context.Context, userInput string, taskContext map[string]string, mode string) Result {
	mode = toolregistry.NormalizeMode(mode)
	if mode != toolregistry.ModeLLM {
		return Result{
			Steps:     DeterministicPlan(userInput, taskContext),
			Telemetry: Telemetry{RequestedMode: mode, EffectiveMode: toolregistry.ModeDeterministic},
		}
	}

	steps, err := p.planWithModel(ctx, userInput, taskContext)
	if err != nil {
		p.logger.Warn("model planner fell back to deterministic plan: %v", err)
		return Result{
			Steps: DeterministicPlan(userInput, taskContext),
			Telemetry: Telemetry{
				RequestedMode:  toolregistry.ModeLLM,
				EffectiveMode:  toolregistry.ModeDeterministic,
				FallbackUsed:   true,
				FallbackReason: err.Error(),
			},
		}
	}
	return Result{
		Steps: steps,
		Telemetry: Telemetry{
			RequestedMode: toolregistry.ModeLLM,
			EffectiveMode: toolregistry.ModeLLM,
			Provider:      p.provider,
			Model:         p.model,
		},
	}
}

func (p *Planner) planWithModel(ctx context.Context, userInput string, taskContext map[string]string) ([]task.PlanStep, error) {
	if strings.ToLower(strings.TrimSpace(p.provider)) != toolregistry.ProviderOpenAI {
		return nil, fmt.Errorf("unsupported LLM provider: %s", p.provider)
	}
	if p.generator == nil {
		return nil, errors.New("OPENAI_API_KEY is missing")
	}

	raw, err := p.generator.GenerateStructured(ctx, ports.StructuredRequest{
		System: systemPrompt,
		User: fmt.Sprintf("Build a short plan (3-6 steps) for this request:\n%s\n\n"+
			"Output schema: {\"steps\":[{\"id\":\"optional\",\"tool\":\"...\",\"args\":{...}}]}", userInput),
		Schema: planSchema,
	})
	if err != nil {
		return nil, err
	}

	proposed, err := parseSteps(raw)
	if err != nil {
		return nil, err
	}
	if len(proposed) == 0 {
		return nil, errors.New("LLM planner returned an empty plan")
	}
	return p.normalize(proposed, userInput, taskContext), nil
}

// parseSteps reads the "steps" array. Steps with an empty tool are dropped;
// a tool outside the allow-list rejects the whole plan.
func parseSteps(raw map[string]any) ([]task.PlanStep, error) {
	list, ok := raw["steps"].([]any)
	if !ok {
		return nil, errors.New("LLM planner response has no steps array")
	}
	steps := make([]task.PlanStep, 0, len(list))
	for idx, item := range list {
		obj, ok := item.(map[string]any)
		if !ok {
			return nil, fmt.Errorf("LLM planner step %d is not an object", idx+1)
		}
		tool, _ := obj["tool"].(string)
		tool = strings.TrimSpace(tool)
		if tool == "" {
			continue
		}
		if !toolregistry.IsPlannable(tool) {
			return nil, fmt.Errorf("unsupported tool from LLM planner: %s", tool)
		}
		id, _ := obj["id"].(string)
		if strings.TrimSpace(id) == "" {
			id = fmt.Sprintf("llm_step_%d", idx+1)
		}
		args, _ := obj["args"].(map[string]any)
		steps = append(steps, task.PlanStep{ID: id, Tool: tool, Args: args, Status: task.StepPending})
	}
	return steps, nil
}
