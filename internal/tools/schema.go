package tools

import (
	"fmt"
	"math"
	"strings"

	"github.com/mark3labs/mcp-go/mcp"
)

// validateArgs checks args against the subset of JSON Schema our tool
// definitions use: required keys, primitive types and string enums.
// Keys the schema does not declare are ignored.
func validateArgs(schema mcp.ToolInputSchema, args map[string]any) error {
	for _, key := range schema.Required {
		v, ok := args[key]
		if !ok || v == nil {
			return fmt.Errorf("%w: %q is required", ErrInvalidArguments, key)
		}
		if s, isString := v.(string); isString && strings.TrimSpace(s) == "" {
			return fmt.Errorf("%w: %q must not be empty", ErrInvalidArguments, key)
		}
	}

	for key, v := range args {
		prop, ok := schema.Properties[key].(map[string]any)
		if !ok || v == nil {
			continue
		}
		typ, _ := prop["type"].(string)
		if !matchesType(typ, v) {
			return fmt.Errorf("%w: %q must be of type %s", ErrInvalidArguments, key, typ)
		}
		if enum := enumValues(prop["enum"]); len(enum) > 0 {
			s, _ := v.(string)
			if !contains(enum, s) {
				return fmt.Errorf("%w: %q must be one of %s", ErrInvalidArguments, key, strings.Join(enum, ", "))
			}
		}
	}
	return nil
}

func matchesType(typ string, v any) bool {
	switch typ {
	case "string":
		_, ok := v.(string)
		return ok
	case "number":
		_, ok := v.(float64)
		return ok
	case "integer":
		f, ok := v.(float64)
		return ok && f == math.Trunc(f)
	case "boolean":
		_, ok := v.(bool)
		return ok
	case "array":
		_, ok := v.([]any)
		return ok
	case "object":
		_, ok := v.(map[string]any)
		return ok
	}
	return true
}

func enumValues(raw any) []string {
	switch e := raw.(type) {
	case []string:
		return e
	case []any:
		out := make([]string, 0, len(e))
		for _, v := range e {
			if s, ok := v.(string); ok {
				out = append(out, s)
			}
		}
		return out
	}
	return nil
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
