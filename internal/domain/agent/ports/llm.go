package ports

import "context"

// StructuredRequest asks a model for a single JSON object.
type StructuredRequest struct {
	System string
	User   string
	// Schema lists the top-level keys the response must carry.
	Schema ParameterSchema
}

// StructuredGenerator produces a JSON object from a system/user prompt pair.
// Implementations apply their own timeout and retry policy.
type StructuredGenerator interface {
	GenerateStructured(ctx context.Context, req StructuredRequest) (map[string]any, error)
}
