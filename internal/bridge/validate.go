package bridge

import (
	"fmt"
	"sort"
	"strings"

	apperrors "github.com/kurihiro0119/gitlab-flows/internal/errors"
)

// ValidateParams checks params against schema.
// - Required fields: missing, null or empty-string values are rejected
// - Type check: declared properties must carry the declared JSON type
// Undeclared params pass through.
func ValidateParams(schema InputSchema, params map[string]any) (map[string]any, error) {
	if params == nil {
		params = make(map[string]any)
	}

	var missing []string
	for _, key := range schema.Required {
		val, exists := params[key]
		if !exists || val == nil {
			missing = append(missing, key)
			continue
		}
		if s, ok := val.(string); ok && strings.TrimSpace(s) == "" {
			missing = append(missing, key)
		}
	}
	if len(missing) > 0 {
		return nil, apperrors.NewInvalidArgumentError(
			fmt.Sprintf("missing required parameter(s): %s", strings.Join(missing, ", ")),
		)
	}

	keys := make([]string, 0, len(params))
	for key := range params {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	for _, key := range keys {
		prop, declared := schema.Properties[key]
		if !declared || params[key] == nil {
			continue
		}
		if err := checkType(key, params[key], prop.Type); err != nil {
			return nil, apperrors.NewInvalidArgumentError(err.Error())
		}
	}

	return params, nil
}

func checkType(key string, val any, expectedType string) error {
	switch expectedType {
	case "string":
		if _, ok := val.(string); !ok {
			return fmt.Errorf("parameter %q: expected string, got %T", key, val)
		}
	case "object":
		if _, ok := val.(map[string]any); !ok {
			return fmt.Errorf("parameter %q: expected object, got %T", key, val)
		}
	}
	return nil
}
