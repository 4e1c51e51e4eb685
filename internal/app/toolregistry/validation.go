package toolregistry

import (
	"fmt"
	"math"
	"sort"
	"strings"

	"agentorch/internal/domain/agent/ports"
)

// validateArguments checks args against schema and returns a copy with the
// schema defaults filled in. Keys not declared by the schema are rejected
// unless the schema allows additional properties.
func validateArguments(schema ports.ParameterSchema, args map[string]any) (map[string]any, error) {
	out := make(map[string]any, len(args)+len(schema.Properties))
	for key, val := range args {
		out[key] = val
	}
	for key, prop := range schema.Properties {
		if _, ok := out[key]; !ok && prop.Default != nil {
			out[key] = cloneDefault(prop.Default)
		}
	}
	if err := validateObject("", schema.Properties, schema.Required, schema.AdditionalProperties, out); err != nil {
		return nil, err
	}
	return out, nil
}

// validateOutput checks a tool's normalized output. Defaults are not applied.
func validateOutput(schema ports.ParameterSchema, output map[string]any) error {
	if len(schema.Properties) == 0 && len(schema.Required) == 0 {
		return nil
	}
	return validateObject("", schema.Properties, schema.Required, schema.AdditionalProperties, output)
}

func validateObject(path string, props map[string]ports.Property, required []string, allowExtra bool, obj map[string]any) error {
	for _, req := range required {
		if _, ok := obj[req]; !ok {
			return fmt.Errorf("missing required argument %q", joinPath(path, req))
		}
	}

	if !allowExtra && len(props) > 0 {
		var extra []string
		for key := range obj {
			if _, ok := props[key]; !ok {
				extra = append(extra, key)
			}
		}
		if len(extra) > 0 {
			sort.Strings(extra)
			for i := range extra {
				extra[i] = joinPath(path, extra[i])
			}
			return fmt.Errorf("unexpected argument(s): %s", strings.Join(extra, ", "))
		}
	}

	keys := make([]string, 0, len(obj))
	for key := range obj {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	for _, key := range keys {
		prop, ok := props[key]
		if !ok {
			continue
		}
		if err := validateValue(joinPath(path, key), prop, obj[key]); err != nil {
			return err
		}
	}
	return nil
}

func validateValue(path string, prop ports.Property, val any) error {
	if val == nil {
		if prop.Nullable {
			return nil
		}
		return fmt.Errorf("argument %q: expected %s, got null", path, prop.Type)
	}

	switch strings.ToLower(prop.Type) {
	case "":
	case "string":
		if _, ok := val.(string); !ok {
			return fmt.Errorf("argument %q: expected string, got %T", path, val)
		}
	case "integer":
		n, ok := toFloat(val)
		if !ok || n != math.Trunc(n) {
			return fmt.Errorf("argument %q: expected integer, got %T", path, val)
		}
		if err := checkBounds(path, prop, n); err != nil {
			return err
		}
	case "number":
		n, ok := toFloat(val)
		if !ok {
			return fmt.Errorf("argument %q: expected number, got %T", path, val)
		}
		if err := checkBounds(path, prop, n); err != nil {
			return err
		}
	case "boolean":
		if _, ok := val.(bool); !ok {
			return fmt.Errorf("argument %q: expected boolean, got %T", path, val)
		}
	case "array":
		items, ok := val.([]any)
		if !ok {
			return fmt.Errorf("argument %q: expected array, got %T", path, val)
		}
		if prop.Items != nil {
			for i, item := range items {
				if err := validateValue(fmt.Sprintf("%s[%d]", path, i), *prop.Items, item); err != nil {
					return err
				}
			}
		}
	case "object":
		obj, ok := val.(map[string]any)
		if !ok {
			return fmt.Errorf("argument %q: expected object, got %T", path, val)
		}
		if len(prop.Properties) > 0 || len(prop.Required) > 0 {
			if err := validateObject(path, prop.Properties, prop.Required, false, obj); err != nil {
				return err
			}
		}
	default:
		return fmt.Errorf("argument %q: unsupported schema type %q", path, prop.Type)
	}

	if len(prop.Enum) > 0 && !inEnum(prop.Enum, val) {
		return fmt.Errorf("argument %q: value %v not in %v", path, val, prop.Enum)
	}
	return nil
}

func checkBounds(path string, prop ports.Property, n float64) error {
	if prop.Minimum != nil && n < *prop.Minimum {
		return fmt.Errorf("argument %q: %v is less than minimum %v", path, n, *prop.Minimum)
	}
	if prop.Maximum != nil && n > *prop.Maximum {
		return fmt.Errorf("argument %q: %v is greater than maximum %v", path, n, *prop.Maximum)
	}
	return nil
}

func toFloat(val any) (float64, bool) {
	switch v := val.(type) {
	case float64:
		return v, true
	case float32:
		return float64(v), true
	case int:
		return float64(v), true
	case int32:
		return float64(v), true
	case int64:
		return float64(v), true
	case uint:
		return float64(v), true
	case uint64:
		return float64(v), true
	default:
		return 0, false
	}
}

func inEnum(enum []any, val any) bool {
	needle := fmt.Sprint(val)
	for _, candidate := range enum {
		if fmt.Sprint(candidate) == needle {
			return true
		}
	}
	return false
}

func joinPath(parent, key string) string {
	if parent == "" {
		return key
	}
	return parent + "." + key
}

// cloneDefault copies slice and map defaults so callers cannot mutate the
// schema through the returned arguments.
func cloneDefault(v any) any {
	switch typed := v.(type) {
	case []any:
		return append([]any{}, typed...)
	case map[string]any:
		out := make(map[string]any, len(typed))
		for k, val := range typed {
			out[k] = val
		}
		return out
	default:
		return v
	}
}
