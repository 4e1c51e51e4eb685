package ports

// ToolDefinition describes a tool to planners and to the gateway validator.
type ToolDefinition struct {
	Name        string          `json:"name"`
	Description string          `json:"description"`
	Parameters  ParameterSchema `json:"parameters"`
}

// ParameterSchema defines tool parameters (JSON Schema format).
//
// Schemas are strict: keys not listed in Properties are rejected unless
// AdditionalProperties is set.
type ParameterSchema struct {
	Type                 string              `json:"type"`
	Properties           map[string]Property `json:"properties"`
	Required             []string            `json:"required,omitempty"`
	AdditionalProperties bool                `json:"additionalProperties,omitempty"`
}

// Property defines a single parameter
type Property struct {
	Type        string              `json:"type"`
	Description string              `json:"description,omitempty"`
	Enum        []any               `json:"enum,omitempty"`
	Items       *Property           `json:"items,omitempty"`
	Properties  map[string]Property `json:"properties,omitempty"`
	Required    []string            `json:"required,omitempty"`
	Default     any                 `json:"default,omitempty"`
	Minimum     *float64            `json:"minimum,omitempty"`
	Maximum     *float64            `json:"maximum,omitempty"`
	Nullable    bool                `json:"nullable,omitempty"`
}

// Has reports whether the schema declares key.
func (s ParameterSchema) Has(key string) bool {
	_, ok := s.Properties[key]
	return ok
}

// Bound returns a pointer for use as Minimum/Maximum.
func Bound(v float64) *float64 {
	return &v
}
