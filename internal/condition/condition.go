// Package condition implements the Condition Evaluator: single
// conditions and AND/OR trees evaluated against params and saved
// responses. Grounded on the teacher's internal/expression package's
// BinaryOpExpr comparison operators and Value.Equals cross-type
// coercion, narrowed to the fixed operator set SPEC_FULL.md §4.2 names.
package condition

import (
	"fmt"
	"reflect"
	"strconv"
	"strings"

	"github.com/rs/zerolog/log"

	"github.com/scenrun/scenrun/internal/ast"
	"github.com/scenrun/scenrun/internal/resolver"
)

// Responses looks up a step's saved response by id, as the Condition
// Evaluator needs for source=response conditions. It is satisfied by
// execcontext.ExecutionContext.
type Responses interface {
	Response(stepID string) (any, bool)
}

// Evaluate walks a ConditionExpr tree and returns whether it is
// satisfied. probe, if non-nil, is invoked for every leaf Condition that
// is actually evaluated -- used by tests to observe short-circuiting
// (§8 property 4).
func Evaluate(expr *ast.ConditionExpr, params map[string]any, responses Responses, probe func(*ast.Condition)) bool {
	if expr == nil {
		return true
	}
	switch {
	case expr.IsLeaf():
		if probe != nil {
			probe(expr.Leaf)
		}
		return evalLeaf(expr.Leaf, params, responses)
	case expr.IsGroup():
		return evalGroup(expr.Group, params, responses, probe)
	default:
		return true
	}
}

func evalGroup(g *ast.ConditionGroup, params map[string]any, responses Responses, probe func(*ast.Condition)) bool {
	switch g.Combinator {
	case ast.CombinatorOr:
		for i := range g.Children {
			if Evaluate(&g.Children[i], params, responses, probe) {
				return true
			}
		}
		return false
	case ast.CombinatorAnd:
		fallthrough
	default:
		for i := range g.Children {
			if !Evaluate(&g.Children[i], params, responses, probe) {
				return false
			}
		}
		return true
	}
}

func evalLeaf(c *ast.Condition, params map[string]any, responses Responses) bool {
	lhs, ok := extractField(c, params, responses)
	if !ok {
		if c.Source == ast.SourceResponse {
			if _, found := responses.Response(c.StepID); !found {
				// Missing response.<stepId> binding: evaluate false, not throw
				// (§4.2).
				log.Debug().Str("field", c.Field).Str("stepId", c.StepID).Msg("condition: missing binding, evaluating false")
				return false
			}
		}
		// A missing field is undefined: only isEmpty and notContains hold.
		if c.Operator != ast.OpIsEmpty && c.Operator != ast.OpNotContains {
			return false
		}
	}

	switch c.Operator {
	case ast.OpExists:
		return ok
	case ast.OpIsEmpty:
		return !ok || isEmptyValue(lhs)
	case ast.OpIsNotEmpty:
		return ok && !isEmptyValue(lhs)
	case ast.OpEquals:
		return ok && deepEqual(lhs, c.Value)
	case ast.OpNotEquals:
		return !ok || !deepEqual(lhs, c.Value)
	case ast.OpGreater, ast.OpGreaterEqual, ast.OpLess, ast.OpLessEqual:
		return ok && compareNumeric(lhs, c.Value, c.Operator)
	case ast.OpContains:
		return ok && contains(lhs, c.Value)
	case ast.OpNotContains:
		return !ok || !contains(lhs, c.Value)
	default:
		return false
	}
}

func extractField(c *ast.Condition, params map[string]any, responses Responses) (any, bool) {
	var root any
	switch c.Source {
	case ast.SourceParams:
		root = params
	case ast.SourceResponse:
		resp, found := responses.Response(c.StepID)
		if !found {
			return nil, false
		}
		root = resp
	default:
		return nil, false
	}

	if c.Field == "" {
		return root, true
	}

	return resolveFieldPath(root, c.Field)
}

// resolveFieldPath walks a dotted/indexed field path against an
// already-resolved value (not a ${...} template -- Condition.Field is a
// bare path, e.g. "address.city" or "items[0].id").
func resolveFieldPath(root any, field string) (any, bool) {
	b := resolver.NewBindings()
	b.Params["__root__"] = root
	v, warnings := resolver.ResolveValue("${params.__root__."+field+"}", b)
	if len(warnings) > 0 {
		return nil, false
	}
	return v, true
}

func isEmptyValue(v any) bool {
	switch val := v.(type) {
	case nil:
		return true
	case string:
		return val == ""
	case []any:
		return len(val) == 0
	case map[string]any:
		return len(val) == 0
	default:
		return false
	}
}

func deepEqual(a, b any) bool {
	af, aok := toFloat(a)
	bf, bok := toFloat(b)
	if aok && bok {
		return af == bf
	}
	return reflect.DeepEqual(normalize(a), normalize(b))
}

// normalize coerces numeric JSON types to float64 so e.g. int(3) and
// float64(3) compare equal under reflect.DeepEqual.
func normalize(v any) any {
	switch val := v.(type) {
	case int:
		return float64(val)
	case int64:
		return float64(val)
	case []any:
		out := make([]any, len(val))
		for i, item := range val {
			out[i] = normalize(item)
		}
		return out
	case map[string]any:
		out := make(map[string]any, len(val))
		for k, item := range val {
			out[k] = normalize(item)
		}
		return out
	default:
		return val
	}
}

func toFloat(v any) (float64, bool) {
	switch val := v.(type) {
	case float64:
		return val, true
	case float32:
		return float64(val), true
	case int:
		return float64(val), true
	case int64:
		return float64(val), true
	case string:
		f, err := strconv.ParseFloat(val, 64)
		if err != nil {
			return 0, false
		}
		return f, true
	default:
		return 0, false
	}
}

func compareNumeric(lhs, rhs any, op ast.Operator) bool {
	lf, lok := toFloat(lhs)
	rf, rok := toFloat(rhs)
	if !lok || !rok {
		return false
	}
	switch op {
	case ast.OpGreater:
		return lf > rf
	case ast.OpGreaterEqual:
		return lf >= rf
	case ast.OpLess:
		return lf < rf
	case ast.OpLessEqual:
		return lf <= rf
	default:
		return false
	}
}

func contains(haystack, needle any) bool {
	switch h := haystack.(type) {
	case string:
		s := fmt.Sprintf("%v", needle)
		return strings.Contains(h, s)
	case []any:
		for _, item := range h {
			if deepEqual(item, needle) {
				return true
			}
		}
		return false
	case map[string]any:
		key := fmt.Sprintf("%v", needle)
		_, ok := h[key]
		return ok
	default:
		return false
	}
}
