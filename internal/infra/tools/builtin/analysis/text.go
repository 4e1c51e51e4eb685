package analysis

import (
	"context"
	"regexp"
	"strings"

	"agentorch/internal/infra/tools/builtin/shared"
	"agentorch/internal/shared/textutil"
)

var entityPattern = regexp.MustCompile(`\b[A-Z][a-zA-Z0-9_-]*\b`)

var deadlinePatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)\b\d{4}-\d{2}-\d{2}\b`),
	regexp.MustCompile(`(?i)\b(?:jan|feb|mar|apr|may|jun|jul|aug|sep|sept|oct|nov|dec)[a-z]*\s+\d{1,2}(?:,\s*\d{4})?\b`),
	regexp.MustCompile(`(?i)\b(?:next|within)\s+\d{1,3}\s+(?:day|days|week|weeks|month|months)\b`),
	regexp.MustCompile(`(?i)\b(?:by|before)\s+(?:monday|tuesday|wednesday|thursday|friday|saturday|sunday)\b`),
	regexp.MustCompile(`(?i)\b(?:eow|eom|end of week|end of month|q[1-4])\b`),
}

var actionLeads = map[string]struct{}{
	"prepare": {}, "draft": {}, "review": {}, "send": {}, "create": {}, "update": {}, "fix": {},
	"investigate": {}, "deliver": {}, "coordinate": {}, "follow": {}, "finalize": {}, "publish": {},
}

var actionSplit = regexp.MustCompile(`[\n.;]`)

const maxActionItems = 10

type textArgs struct {
	Text string `json:"text"`
}

type summarizeArgs struct {
	Text     string `json:"text"`
	MaxWords int    `json:"max_words"`
}

// SummaryResult is the summarize tool output.
type SummaryResult struct {
	Summary string `json:"summary"`
}

type entitiesResult struct {
	Entities []string `json:"entities"`
}

type deadlinesResult struct {
	Deadlines []string `json:"deadlines"`
}

type actionItemsResult struct {
	ActionItems []string `json:"action_items"`
}

var (
	summarizeTool = shared.Typed(func(_ context.Context, in summarizeArgs) (SummaryResult, error) {
		return SummaryResult{Summary: Summarize(in.Text, in.MaxWords)}, nil
	})
	extractEntitiesTool = shared.Typed(func(_ context.Context, in textArgs) (entitiesResult, error) {
		return entitiesResult{Entities: ExtractEntities(in.Text)}, nil
	})
	extractDeadlinesTool = shared.Typed(func(_ context.Context, in textArgs) (deadlinesResult, error) {
		return deadlinesResult{Deadlines: ExtractDeadlines(in.Text)}, nil
	})
	extractActionItemsTool = shared.Typed(func(_ context.Context, in textArgs) (actionItemsResult, error) {
		return actionItemsResult{ActionItems: ExtractActionItems(in.Text)}, nil
	})
)

// Summarize keeps the first maxWords whitespace-separated words.
func Summarize(text string, maxWords int) string {
	words := strings.Fields(text)
	if maxWords > 0 && len(words) > maxWords {
		words = words[:maxWords]
	}
	return strings.Join(words, " ")
}

// ExtractEntities returns capitalized tokens, deduplicated case-insensitively.
func ExtractEntities(text string) []string {
	return dedupe(entityPattern.FindAllString(text, -1))
}

// ExtractDeadlines returns ISO dates, month-day dates and relative deadline
// phrases, grouped by pattern.
func ExtractDeadlines(text string) []string {
	var candidates []string
	for _, pattern := range deadlinePatterns {
		candidates = append(candidates, pattern.FindAllString(text, -1)...)
	}
	return dedupe(candidates)
}

// ExtractActionItems returns clauses that start with an action verb or name
// an owner. Without any, the first sentence stands in.
func ExtractActionItems(text string) []string {
	var items []string
	for _, raw := range actionSplit.Split(text, -1) {
		line := strings.Trim(raw, " -*\t")
		if line == "" {
			continue
		}
		lower := strings.ToLower(line)
		fields := strings.Fields(lower)
		if len(fields) == 0 {
			continue
		}
		_, lead := actionLeads[fields[0]]
		if lead ||
			strings.Contains(lower, "owner:") ||
			strings.Contains(lower, "assignee:") ||
			strings.HasPrefix(lower, "action:") ||
			strings.HasPrefix(lower, "todo:") {
			items = append(items, line)
		}
	}

	if len(items) == 0 {
		if first := strings.TrimSpace(strings.SplitN(text, ".", 2)[0]); first != "" {
			items = append(items, first)
		}
	}

	items = dedupe(items)
	if len(items) > maxActionItems {
		items = items[:maxActionItems]
	}
	return items
}

// dedupe normalizes whitespace and drops empty or case-insensitive repeats.
func dedupe(values []string) []string {
	seen := make(map[string]struct{}, len(values))
	out := make([]string, 0, len(values))
	for _, value := range values {
		normalized := textutil.NormalizeWhitespace(value)
		key := strings.ToLower(normalized)
		if normalized == "" {
			continue
		}
		if _, ok := seen[key]; ok {
			continue
		}
		seen[key] = struct{}{}
		out = append(out, normalized)
	}
	return out
}
