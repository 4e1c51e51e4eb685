package llmtools

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"agentorch/internal/app/toolregistry"
	"agentorch/internal/domain/agent/ports"
	"agentorch/internal/infra/tools/builtin/analysis"
	"agentorch/internal/infra/tools/builtin/shared"
	tokenutil "agentorch/internal/shared/token"
)

const summarizeSystemPrompt = "You summarize text concisely. Return JSON only with key 'summary'. " +
	"Do not exceed the requested max word count."

type summarizeInput struct {
	Text     string `json:"text"`
	MaxWords int    `json:"max_words"`
}

func summarizeTool(generator ports.StructuredGenerator, tokenBudget int) toolregistry.ToolFunc {
	return shared.Typed(func(ctx context.Context, in summarizeInput) (analysis.SummaryResult, error) {
		raw, err := generator.GenerateStructured(ctx, SummarizeRequest(in.Text, in.MaxWords, tokenBudget))
		if err != nil {
			return analysis.SummaryResult{}, err
		}
		summary, ok := raw["summary"].(string)
		if !ok {
			return analysis.SummaryResult{}, errors.New("LLM summarize response missing string summary")
		}
		return analysis.SummaryResult{Summary: strings.TrimSpace(summary)}, nil
	})
}

// SummarizeRequest builds the summarize prompt. text is cut to tokenBudget
// tokens before it is embedded.
func SummarizeRequest(text string, maxWords, tokenBudget int) ports.StructuredRequest {
	return ports.StructuredRequest{
		System: summarizeSystemPrompt,
		User: fmt.Sprintf("Max words: %d\n\nText:\n%s\n\nOutput schema: {\"summary\":\"...\"}",
			maxWords, tokenutil.TruncateToTokens(text, tokenBudget)),
		Schema: analysis.SummarizeOutputSchema,
	}
}
