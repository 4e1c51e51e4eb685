package analysis

import (
	"context"
	"strings"

	"agentorch/internal/infra/tools/builtin/shared"
)

// Priority levels.
const (
	PriorityLow      = "low"
	PriorityMedium   = "medium"
	PriorityHigh     = "high"
	PriorityCritical = "critical"
)

type priorityTier struct {
	level string
	terms []string
}

var priorityTiers = []priorityTier{
	{level: PriorityCritical, terms: []string{"sev1", "p0", "outage", "production down", "security incident", "breach"}},
	{level: PriorityHigh, terms: []string{"urgent", "asap", "high priority", "deadline", "exec", "blocking"}},
	{level: PriorityMedium, terms: []string{"important", "soon", "moderate", "follow up"}},
}

// PriorityResult is the classify_priority output.
type PriorityResult struct {
	Priority string   `json:"priority"`
	Reasons  []string `json:"reasons"`
}

var classifyPriorityTool = shared.Typed(func(_ context.Context, in textArgs) (PriorityResult, error) {
	return ClassifyPriority(in.Text), nil
})

// ClassifyPriority picks the highest tier with a matching keyword. The
// matched keywords are the reasons.
func ClassifyPriority(text string) PriorityResult {
	lower := strings.ToLower(text)
	for _, tier := range priorityTiers {
		var matched []string
		for _, term := range tier.terms {
			if strings.Contains(lower, term) {
				matched = append(matched, term)
			}
		}
		if len(matched) > 0 {
			return PriorityResult{Priority: tier.level, Reasons: matched}
		}
	}
	return PriorityResult{Priority: PriorityLow, Reasons: []string{"no urgency signals detected"}}
}
