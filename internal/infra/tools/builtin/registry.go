package builtin

import (
	"agentorch/internal/app/toolregistry"
	"agentorch/internal/infra/tools/builtin/analysis"
	"agentorch/internal/infra/tools/builtin/incident"
)

// Dependencies are the retrieval backends the incident tools search.
type Dependencies struct {
	Knowledge incident.KnowledgeSearcher
	Issues    incident.IssueSearcher
}

// Specs returns every deterministic tool.
func Specs(deps Dependencies) []toolregistry.ToolSpec {
	specs := analysis.Specs()
	return append(specs, incident.Specs(deps.Knowledge, deps.Issues)...)
}

// NewRegistry builds the deterministic registry.
func NewRegistry(deps Dependencies) (*toolregistry.Registry, error) {
	return toolregistry.NewRegistry(Specs(deps)...)
}
