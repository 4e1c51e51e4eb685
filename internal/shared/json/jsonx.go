package jsonx

import (
	"fmt"

	"github.com/goccy/go-json"
)

// Thin wrapper so hot paths can swap JSON implementations in one place.
var (
	Marshal       = json.Marshal
	MarshalIndent = json.MarshalIndent
	Unmarshal     = json.Unmarshal
	NewDecoder    = json.NewDecoder
	NewEncoder    = json.NewEncoder
)

type RawMessage = json.RawMessage
type Number = json.Number

// Convert re-encodes in and decodes the bytes into out. It is how loosely
// typed tool payloads (map[string]any) are turned into typed structs and back.
func Convert(in any, out any) error {
	data, err := json.Marshal(in)
	if err != nil {
		return fmt.Errorf("encode: %w", err)
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("decode: %w", err)
	}
	return nil
}

// ToMap converts a struct (or map) into a plain JSON object so that numbers
// become float64, slices become []any and nested structs become maps.
func ToMap(in any) (map[string]any, error) {
	if in == nil {
		return map[string]any{}, nil
	}
	var out map[string]any
	if err := Convert(in, &out); err != nil {
		return nil, err
	}
	if out == nil {
		out = map[string]any{}
	}
	return out, nil
}
