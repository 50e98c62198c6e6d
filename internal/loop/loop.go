// Package loop implements the Loop Driver: it turns a LoopStep's
// LoopDescriptor into a sequence of iterations, pushing/updating/popping
// the dual execution/visualisation stacks on execcontext.ExecutionContext
// as it goes and enforcing the maxIterations safety cap. Grounded on the
// teacher's nested-scope pattern in internal/execcontext (parent/child
// binding scoping) generalized from workflow loop constructs to
// forEach/count/while scenario loops (SPEC_FULL.md §4.4).
package loop

import (
	"github.com/rs/zerolog/log"

	"github.com/scenrun/scenrun/internal/ast"
	"github.com/scenrun/scenrun/internal/condition"
	"github.com/scenrun/scenrun/internal/execcontext"
	"github.com/scenrun/scenrun/internal/resolver"
	"github.com/scenrun/scenrun/internal/scenerr"
)

// defaultMaxIterations caps while-loops that never declare their own
// maxIterations, so an unresolved condition cannot spin forever
// (SPEC_FULL.md §4.4 "Safety cap").
const defaultMaxIterations = 10_000

// Iteration is one step of a loop's unrolled sequence, produced by Next.
type Iteration struct {
	Index int
	Item  any
	Total int // -1 when unknown in advance (while loops)
}

// Driver walks one LoopStep's descriptor, yielding iterations on demand
// via Next so the scheduler can interleave dispatch of the loop body
// between calls.
type Driver struct {
	step *ast.Step
	desc ast.LoopDescriptor

	kind ast.LoopDescriptorKind

	items []any // forEach
	count int   // count, resolved once

	maxIterations int
	index         int
	done          bool
}

// New builds a Driver for step, resolving its count/forEach source
// eagerly against bindings (count loops and forEach sources are resolved
// once, up front; while conditions are re-evaluated every iteration).
func New(step *ast.Step, bindings resolver.Bindings) (*Driver, error) {
	if step.Loop == nil {
		return nil, scenerr.GraphErr("step %s is not a loop step", step.ID)
	}
	desc := step.Loop.Loop
	d := &Driver{step: step, desc: desc, kind: desc.Kind, maxIterations: desc.MaxIterations}
	if d.maxIterations <= 0 {
		d.maxIterations = defaultMaxIterations
	}

	switch desc.Kind {
	case ast.LoopForEach:
		items, err := resolveForEachItems(desc, bindings)
		if err != nil {
			return nil, err
		}
		d.items = items
		if len(d.items) > d.maxIterations {
			return nil, scenerr.LoopSafetyErr(step.ID, d.maxIterations)
		}
	case ast.LoopCount:
		n, err := resolveCount(desc, bindings)
		if err != nil {
			return nil, err
		}
		if n > d.maxIterations {
			return nil, scenerr.LoopSafetyErr(step.ID, d.maxIterations)
		}
		d.count = n
	case ast.LoopWhile:
		// evaluated lazily in HasNext.
	default:
		return nil, scenerr.GraphErr("loop step %s has unknown loop kind %q", step.ID, desc.Kind)
	}

	return d, nil
}

// Total reports the number of iterations if known up front, or -1 for a
// while loop whose length depends on runtime state.
func (d *Driver) Total() int {
	switch d.kind {
	case ast.LoopForEach:
		return len(d.items)
	case ast.LoopCount:
		return d.count
	default:
		return -1
	}
}

// HasNext reports whether another iteration should run. For while loops
// it evaluates the loop condition against the current responses/params,
// and enforces the maxIterations safety cap (§4.4, §8 property 6).
func (d *Driver) HasNext(params map[string]any, responses condition.Responses) (bool, error) {
	if d.done {
		return false, nil
	}
	switch d.kind {
	case ast.LoopForEach:
		return d.index < len(d.items), nil
	case ast.LoopCount:
		return d.index < d.count, nil
	case ast.LoopWhile:
		if d.index >= d.maxIterations {
			return false, scenerr.LoopSafetyErr(d.step.ID, d.maxIterations)
		}
		ok := condition.Evaluate(d.desc.Condition, params, responses, nil)
		return ok, nil
	default:
		return false, nil
	}
}

// Next returns the current iteration and advances the internal index. It
// must only be called after HasNext reports true.
func (d *Driver) Next() Iteration {
	iter := Iteration{Index: d.index, Total: d.Total()}
	if d.kind == ast.LoopForEach {
		iter.Item = d.items[d.index]
	}
	d.index++
	return iter
}

// Stop marks the driver exhausted, so HasNext reports false from then
// on. The scheduler does not call it: it leaves a loop early by
// returning the body step's error.
func (d *Driver) Stop() { d.done = true }

// ItemAlias and IndexAlias name the extra loop.* binding keys a loop
// additionally exposes alongside the always-present "item"/"index"
// keys, when the scenario document sets them (§4.4). Empty when unset.
func (d *Driver) ItemAlias() string { return d.desc.ItemAlias }

func (d *Driver) IndexAlias() string { return d.desc.IndexAlias }

// PushFrame and AdvanceFrame keep execcontext's dual stacks synchronized
// with this driver's iteration, grounded on execcontext.PushLoopFrame/
// UpdateLoopFrame (§3.3, §3.4).
func (d *Driver) PushFrame(ec *execcontext.ExecutionContext, depth int) {
	ec.PushLoopFrame(d.step.ID, d.step.ID, d.Total(), d.ItemAlias(), d.IndexAlias())
	log.Debug().Str("stepId", d.step.ID).Int("depth", depth).Msg("loop: entered")
}

func (d *Driver) AdvanceFrame(ec *execcontext.ExecutionContext, iter Iteration) {
	ec.UpdateLoopFrame(iter.Index, iter.Item)
}

func resolveForEachItems(desc ast.LoopDescriptor, bindings resolver.Bindings) ([]any, error) {
	v, warnings := resolver.ResolveValue("${"+desc.Source+"}", bindings)
	if len(warnings) > 0 {
		return nil, scenerr.Newf(scenerr.KindResolution, "forEach source %q did not resolve", desc.Source)
	}
	items, ok := v.([]any)
	if !ok {
		return nil, scenerr.Newf(scenerr.KindResolution, "forEach source %q did not resolve to an array", desc.Source)
	}
	if desc.CountField == "" {
		return items, nil
	}

	// countField expands each source item into N repeats, reading N off a
	// field of the item itself (§4.4 "per-item repeat expansion").
	var expanded []any
	for _, item := range items {
		n, err := repeatCount(item, desc.CountField)
		if err != nil {
			return nil, err
		}
		for i := 0; i < n; i++ {
			expanded = append(expanded, item)
		}
	}
	return expanded, nil
}

func repeatCount(item any, field string) (int, error) {
	b := resolver.NewBindings()
	b.Params["__item__"] = item
	v, warnings := resolver.ResolveValue("${params.__item__."+field+"}", b)
	if len(warnings) > 0 {
		return 0, scenerr.Newf(scenerr.KindResolution, "countField %q did not resolve on forEach item", field)
	}
	n, ok := toInt(v)
	if !ok || n < 0 {
		return 0, scenerr.Newf(scenerr.KindResolution, "countField %q did not resolve to a non-negative integer", field)
	}
	return n, nil
}

func resolveCount(desc ast.LoopDescriptor, bindings resolver.Bindings) (int, error) {
	v, warnings := resolver.ResolveValue("${"+desc.Count+"}", bindings)
	if len(warnings) > 0 {
		// count may be a bare numeric literal (not a ${...} template).
		if n, ok := parseLiteralInt(desc.Count); ok {
			return n, nil
		}
		return 0, scenerr.Newf(scenerr.KindResolution, "loop count %q did not resolve", desc.Count)
	}
	n, ok := toInt(v)
	if !ok || n < 0 {
		return 0, scenerr.Newf(scenerr.KindResolution, "loop count %q did not resolve to a non-negative integer", desc.Count)
	}
	return n, nil
}

func toInt(v any) (int, bool) {
	switch n := v.(type) {
	case float64:
		return int(n), true
	case int:
		return n, true
	case int64:
		return int(n), true
	default:
		return 0, false
	}
}

func parseLiteralInt(s string) (int, bool) {
	n := 0
	if s == "" {
		return 0, false
	}
	for _, r := range s {
		if r < '0' || r > '9' {
			return 0, false
		}
		n = n*10 + int(r-'0')
	}
	return n, true
}
