package shared

import (
	"context"
	"fmt"
	"strings"

	"agentorch/internal/app/toolregistry"
	jsonx "agentorch/internal/shared/json"
)

// StringArg fetches a string-like argument from the tool call map, returning an
// empty string when the key is absent or nil.
func StringArg(args map[string]any, key string) string {
	if args == nil {
		return ""
	}
	value, ok := args[key]
	if !ok || value == nil {
		return ""
	}
	return fmt.Sprint(value)
}

// IntArg parses an integer-like argument into an int, returning (0,false) if absent or invalid.
func IntArg(args map[string]any, key string) (int, bool) {
	if args == nil {
		return 0, false
	}
	switch v := args[key].(type) {
	case int:
		return v, true
	case int64:
		return int(v), true
	case float64:
		return int(v), true
	case jsonx.Number:
		if i, err := v.Int64(); err == nil {
			return int(i), true
		}
	}
	return 0, false
}

// ObjectSliceArg returns the object elements of an array-like value,
// skipping anything that is not an object.
func ObjectSliceArg(payload map[string]any, key string) []map[string]any {
	if payload == nil {
		return nil
	}
	switch typed := payload[key].(type) {
	case []map[string]any:
		return typed
	case []any:
		out := make([]map[string]any, 0, len(typed))
		for _, item := range typed {
			if obj, ok := item.(map[string]any); ok {
				out = append(out, obj)
			}
		}
		return out
	}
	return nil
}

// NonEmptyString returns the trimmed string form of value, or "" for nil.
func NonEmptyString(value any) string {
	if value == nil {
		return ""
	}
	return strings.TrimSpace(fmt.Sprint(value))
}

// Typed adapts a typed tool body to a registry ToolFunc. Arguments are
// decoded into In and the returned Out is encoded back into a JSON object.
func Typed[In any, Out any](fn func(ctx context.Context, in In) (Out, error)) toolregistry.ToolFunc {
	return func(ctx context.Context, args map[string]any) (map[string]any, error) {
		var in In
		if err := jsonx.Convert(args, &in); err != nil {
			return nil, fmt.Errorf("decode arguments: %w", err)
		}
		out, err := fn(ctx, in)
		if err != nil {
			return nil, err
		}
		return jsonx.ToMap(out)
	}
}

// FirstNonEmpty returns the first value that is not blank.
func FirstNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}
