package ast

import (
	"fmt"
	"regexp"

	"github.com/scenrun/scenrun/internal/scenerr"
)

// ValidateParams checks provided against schema, applying defaults for
// missing optional fields and converting/validating each value's type
// and constraints. Grounded on the teacher's internal/engine/
// validation.go (validateInputValue/convertAndValidateType/
// validateStringConstraints/validateArrayConstraints), generalized from
// a flat input map to ParameterSchema's nested object/array trees
// (SPEC_FULL.md §3.1).
func ValidateParams(schema []ParameterSchema, provided map[string]any) (map[string]any, error) {
	out := make(map[string]any, len(provided))
	for k, v := range provided {
		out[k] = v
	}
	for _, field := range schema {
		value, present := provided[field.Name]
		if !present {
			if field.Required {
				return nil, scenerr.ValidationErr(field.Name, "required parameter missing")
			}
			if field.DefaultValue != nil {
				out[field.Name] = field.DefaultValue
			}
			continue
		}
		converted, err := validateValue(field.Name, value, field)
		if err != nil {
			return nil, err
		}
		out[field.Name] = converted
	}
	return out, nil
}

func validateValue(path string, value any, field ParameterSchema) (any, error) {
	switch field.Type {
	case ParamString:
		s, ok := value.(string)
		if !ok {
			return nil, scenerr.ValidationErr(path, fmt.Sprintf("expected string, got %T", value))
		}
		return validateStringConstraints(path, s, field.Validation)
	case ParamNumber:
		n, ok := toFloat(value)
		if !ok {
			return nil, scenerr.ValidationErr(path, fmt.Sprintf("expected number, got %T", value))
		}
		return validateNumericConstraints(path, n, field.Validation)
	case ParamBoolean:
		b, ok := value.(bool)
		if !ok {
			return nil, scenerr.ValidationErr(path, fmt.Sprintf("expected boolean, got %T", value))
		}
		return b, nil
	case ParamObject:
		m, ok := value.(map[string]any)
		if !ok {
			return nil, scenerr.ValidationErr(path, fmt.Sprintf("expected object, got %T", value))
		}
		sub, err := ValidateParams(field.Properties, m)
		if err != nil {
			return nil, err
		}
		return sub, nil
	case ParamArray:
		items, ok := value.([]any)
		if !ok {
			return nil, scenerr.ValidationErr(path, fmt.Sprintf("expected array, got %T", value))
		}
		if field.ItemSchema == nil {
			return items, nil
		}
		out := make([]any, len(items))
		for i, item := range items {
			v, err := validateValue(fmt.Sprintf("%s[%d]", path, i), item, *field.ItemSchema)
			if err != nil {
				return nil, err
			}
			out[i] = v
		}
		return out, nil
	default: // ParamAny
		return value, nil
	}
}

func validateStringConstraints(path, s string, v *ParameterValidation) (any, error) {
	if v == nil {
		return s, nil
	}
	if v.Pattern != "" {
		re, err := regexp.Compile(v.Pattern)
		if err != nil {
			return nil, scenerr.ValidationErr(path, fmt.Sprintf("invalid validation pattern %q: %v", v.Pattern, err))
		}
		if !re.MatchString(s) {
			return nil, scenerr.ValidationErr(path, fmt.Sprintf("value %q does not match pattern %q", s, v.Pattern))
		}
	}
	if len(v.Enum) > 0 && !enumContains(v.Enum, s) {
		return nil, scenerr.ValidationErr(path, fmt.Sprintf("value %q is not one of the allowed values", s))
	}
	return s, nil
}

func validateNumericConstraints(path string, n float64, v *ParameterValidation) (any, error) {
	if v == nil {
		return n, nil
	}
	if v.Min != nil && n < *v.Min {
		return nil, scenerr.ValidationErr(path, fmt.Sprintf("value %v is below minimum %v", n, *v.Min))
	}
	if v.Max != nil && n > *v.Max {
		return nil, scenerr.ValidationErr(path, fmt.Sprintf("value %v is above maximum %v", n, *v.Max))
	}
	if len(v.Enum) > 0 && !enumContains(v.Enum, n) {
		return nil, scenerr.ValidationErr(path, fmt.Sprintf("value %v is not one of the allowed values", n))
	}
	return n, nil
}

func enumContains(enum []any, v any) bool {
	for _, e := range enum {
		if ef, ok := toFloat(e); ok {
			if vf, ok := toFloat(v); ok && ef == vf {
				return true
			}
		}
		if fmt.Sprintf("%v", e) == fmt.Sprintf("%v", v) {
			return true
		}
	}
	return false
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	default:
		return 0, false
	}
}
