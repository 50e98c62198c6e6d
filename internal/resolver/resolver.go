// Package resolver implements the Value Resolver: it parses ${path}
// templates and resolves dotted/indexed paths against a layered binding
// set of params/responses/loop namespaces. Grounded on the teacher's
// internal/expression package (tokenizer + recursive-descent parser
// shape, template-scan-and-substitute behaviour) but deliberately
// trimmed to a path-only grammar -- no arithmetic, ternary, or function
// calls survive the port, per SPEC_FULL.md §4.1.
package resolver

import (
	"fmt"
	"regexp"
	"sort"
	"strconv"
	"strings"

	"github.com/rs/zerolog/log"
)

// Bindings is the three-namespace binding set the Resolver consults.
type Bindings struct {
	Params    map[string]any
	Responses map[string]any
	Loop      map[string]any
}

// NewBindings builds an empty binding set.
func NewBindings() Bindings {
	return Bindings{
		Params:    map[string]any{},
		Responses: map[string]any{},
		Loop:      map[string]any{},
	}
}

// templatePattern matches ${...}; "$${...}" escapes to a literal "${...}".
var templatePattern = regexp.MustCompile(`(\$)?\$\{\s*([^{}]*)\s*\}`)

// Warning records a single unresolved path encountered during resolution.
type Warning struct {
	Path    string
	Message string
}

// ResolveString substitutes every ${path} occurrence in template with the
// stringified value of its path. Unresolved paths substitute empty,
// produce a Warning and are logged here at warn (§4.1's error policy:
// "resolution never throws"). A ${...} whose text is not a path
// (arithmetic, calls, conditionals) is left in place as a literal.
func ResolveString(template string, b Bindings) (string, []Warning) {
	var warnings []Warning

	result := templatePattern.ReplaceAllStringFunc(template, func(match string) string {
		groups := templatePattern.FindStringSubmatch(match)
		escape, exprText := groups[1], groups[2]
		if escape == "$" {
			return "${" + exprText + "}"
		}
		if _, parsed := parsePath(exprText); !parsed {
			return match
		}
		v, found := resolveExpr(exprText, b)
		if !found {
			warnings = append(warnings, Warning{Path: exprText, Message: "unresolved path"})
			log.Warn().Str("path", exprText).Msg("resolver: unresolved ${} path")
			return ""
		}
		return stringifyValue(v)
	})

	return result, warnings
}

// ResolveValue deep-walks a JSON-shaped value (string/number/bool/nil/
// []any/map[string]any), applying ResolveString to every string. A
// string that is exactly one ${path} whose value is non-string returns
// the raw value unchanged, so JSON request bodies can carry numbers,
// booleans, and nested structures (§4.1, §8 property 3: "resolveValue
// round-trip").
func ResolveValue(node any, b Bindings) (any, []Warning) {
	switch v := node.(type) {
	case string:
		if expr, ok := isSingleExpression(v); ok {
			val, found := resolveExpr(expr, b)
			if found {
				return val, nil
			}
			return "", []Warning{{Path: expr, Message: "unresolved path"}}
		}
		s, warnings := ResolveString(v, b)
		return s, warnings
	case []any:
		out := make([]any, len(v))
		var warnings []Warning
		for i, item := range v {
			resolved, w := ResolveValue(item, b)
			out[i] = resolved
			warnings = append(warnings, w...)
		}
		return out, warnings
	case map[string]any:
		out := make(map[string]any, len(v))
		var warnings []Warning
		for k, item := range v {
			resolved, w := ResolveValue(item, b)
			out[k] = resolved
			warnings = append(warnings, w...)
		}
		return out, warnings
	default:
		return v, nil
	}
}

// isSingleExpression reports whether s is, in its entirety, one ${...}
// expression (no surrounding or interleaved literal text), and if so
// returns the inner expression text.
func isSingleExpression(s string) (string, bool) {
	matches := templatePattern.FindStringSubmatch(s)
	if matches == nil {
		return "", false
	}
	if matches[0] != s {
		return "", false
	}
	if matches[1] == "$" {
		return "", false
	}
	return matches[2], true
}

// resolveExpr parses expr as a path and walks it against the binding set
// rooted at params/responses/loop.
func resolveExpr(expr string, b Bindings) (any, bool) {
	p, ok := parsePath(expr)
	if !ok {
		return nil, false
	}

	var root any
	switch p.root {
	case "params":
		root = b.Params
	case "responses":
		root = b.Responses
	case "loop":
		root = b.Loop
	default:
		return nil, false
	}

	return walk(root, p.segments)
}

// walk applies path segments left to right; a missing intermediate key
// short-circuits to "not found" rather than panicking.
func walk(root any, segments []segment) (any, bool) {
	current := root
	for _, s := range segments {
		switch s.kind {
		case segField:
			m, ok := asMap(current)
			if !ok {
				return nil, false
			}
			next, exists := m[s.name]
			if !exists {
				return nil, false
			}
			current = next
		case segIndex:
			items, ok := asSlice(current)
			if !ok || s.index < 0 || s.index >= len(items) {
				return nil, false
			}
			current = items[s.index]
		}
	}
	return current, true
}

func asMap(v any) (map[string]any, bool) {
	switch m := v.(type) {
	case map[string]any:
		return m, true
	case map[interface{}]interface{}:
		out := make(map[string]any, len(m))
		for k, val := range m {
			out[fmt.Sprintf("%v", k)] = val
		}
		return out, true
	default:
		return nil, false
	}
}

func asSlice(v any) ([]any, bool) {
	items, ok := v.([]any)
	return items, ok
}

// stringifyValue renders a resolved value for string substitution,
// producing deterministic output for maps (sorted keys), grounded on the
// teacher's template.go ValueToString.
func stringifyValue(v any) string {
	switch val := v.(type) {
	case nil:
		return ""
	case string:
		return val
	case bool:
		return strconv.FormatBool(val)
	case float64:
		if val == float64(int64(val)) {
			return strconv.FormatInt(int64(val), 10)
		}
		return strconv.FormatFloat(val, 'f', -1, 64)
	case int:
		return strconv.Itoa(val)
	case int64:
		return strconv.FormatInt(val, 10)
	case []any:
		parts := make([]string, len(val))
		for i, item := range val {
			parts[i] = stringifyValue(item)
		}
		return "[" + strings.Join(parts, ",") + "]"
	case map[string]any:
		keys := make([]string, 0, len(val))
		for k := range val {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		parts := make([]string, len(keys))
		for i, k := range keys {
			parts[i] = fmt.Sprintf("%s:%s", k, stringifyValue(val[k]))
		}
		return "{" + strings.Join(parts, ",") + "}"
	default:
		return fmt.Sprintf("%v", val)
	}
}
