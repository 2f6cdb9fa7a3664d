package graph

import (
	"github.com/efebarandurmaz/codegraph/internal/facts"
)

// ReturnAnnotationNone is stored when a function has no return annotation.
const ReturnAnnotationNone = "None"

// PlanOptions controls plan construction.
type PlanOptions struct {
	// ResolveCrossFile adds POSSIBLE_CALL edges from unresolved callees to
	// functions of the same name in other files.
	ResolveCrossFile bool
}

// Plan is an ordered list of operations plus the failures detected while
// building it.
type Plan struct {
	Ops []Operation
	// Unlinked holds class methods that did not resolve to exactly one
	// function. No HAS_METHOD edge is planned for them.
	Unlinked []*ProjectionError
}

type planner struct {
	opts   PlanOptions
	ops    []Operation
	byFile map[string][]facts.Function
	byName map[string][]facts.Function
	plan   *Plan
}

// BuildPlan translates a codebase into graph operations:
// files, functions with containment, calls, usage edges, classes with
// methods, then imports and variables.
func BuildPlan(cb *facts.Codebase, opts PlanOptions) *Plan {
	p := &planner{
		opts:   opts,
		byFile: make(map[string][]facts.Function),
		byName: make(map[string][]facts.Function),
		plan:   &Plan{},
	}
	for _, fn := range cb.Functions {
		p.byFile[fn.File] = append(p.byFile[fn.File], fn)
		p.byName[fn.Name] = append(p.byName[fn.Name], fn)
	}

	for _, f := range cb.Files {
		p.add(MergeNode(FileRef(f.Path), map[string]any{
			"hash":      f.Hash,
			"encoding":  f.Encoding,
			"docstring": deref(f.Docstring, ""),
		}))
	}
	for _, fn := range cb.Functions {
		p.add(MergeNode(FunctionRef(fn.File, fn.QualName), functionProps(fn)))
		p.add(MergeEdge(FileRef(fn.File), RelContains, FunctionRef(fn.File, fn.QualName)))
	}
	for _, fn := range cb.Functions {
		p.calls(fn)
	}
	for _, fn := range cb.Functions {
		from := FunctionRef(fn.File, fn.QualName)
		for _, imp := range fn.UsedImports {
			p.add(MergeEdge(from, RelUsesImport, ImportRef(imp)))
		}
		for _, v := range fn.UsedVariables {
			p.add(MergeEdge(from, RelUsesVariable, VariableRef(fn.File, v)))
		}
	}
	for _, c := range cb.Classes {
		p.class(c)
	}
	for _, imp := range cb.Imports {
		p.add(MergeNode(ImportRef(imp.Name), nil))
		p.add(MergeEdge(FileRef(imp.File), RelImports, ImportRef(imp.Name)))
	}
	for _, v := range cb.Variables {
		p.add(MergeNode(VariableRef(v.File, v.Name), map[string]any{
			"value_repr": v.ValueRepr,
			"scope":      v.Scope,
			"line":       int64(v.Line),
		}))
	}

	p.plan.Ops = p.ops
	return p.plan
}

func (p *planner) add(op Operation) { p.ops = append(p.ops, op) }

func (p *planner) calls(fn facts.Function) {
	from := FunctionRef(fn.File, fn.QualName)
	seen := make(map[string]bool, len(fn.Calls))
	for _, name := range fn.Calls {
		if seen[name] {
			continue
		}
		seen[name] = true

		if callee, ok := ResolveCallee(fn, name, p.byFile[fn.File]); ok {
			p.add(MergeEdge(from, RelCalls, FunctionRef(callee.File, callee.QualName)))
			continue
		}
		placeholder := FunctionRef("", name)
		p.add(MergeNode(placeholder, map[string]any{"name": name, "placeholder": true}))
		p.add(MergeEdge(from, RelCalls, placeholder))

		if !p.opts.ResolveCrossFile {
			continue
		}
		for _, cand := range p.byName[name] {
			if cand.File != fn.File {
				p.add(MergeEdge(from, RelPossibleCall, FunctionRef(cand.File, cand.QualName)))
			}
		}
	}
}

func (p *planner) class(c facts.Class) {
	ref := ClassRef(c.File, c.QualName)
	p.add(MergeNode(ref, map[string]any{
		"name":         c.Name,
		"line":         int64(c.Line),
		"bases":        nonNil(c.Bases),
		"methods":      nonNil(c.Methods),
		"docstring":    deref(c.Docstring, ""),
		"used_imports": nonNil(c.UsedImports),
	}))
	p.add(MergeEdge(FileRef(c.File), RelContains, ref))

	fns := p.byFile[c.File]
	for _, m := range c.Methods {
		fn, err := facts.ResolveMethod(c, m, fns)
		if err != nil {
			op := MergeEdge(ref, RelHasMethod, FunctionRef(c.File, c.QualName+"."+m))
			p.plan.Unlinked = append(p.plan.Unlinked, &ProjectionError{Op: op, Err: err})
			continue
		}
		p.add(MergeEdge(ref, RelHasMethod, FunctionRef(fn.File, fn.QualName)))
	}
}

// ResolveCallee looks name up among the functions of the caller's file.
// A method of the caller's class, matched by qualified name, wins, then a free function, then the
// first function with that name in document order.
func ResolveCallee(caller facts.Function, name string, fileFuncs []facts.Function) (facts.Function, bool) {
	var first, free *facts.Function
	for i := range fileFuncs {
		fn := &fileFuncs[i]
		if fn.Name != name {
			continue
		}
		if caller.Class != "" && fn.ClassQualName() == caller.ClassQualName() {
			return *fn, true
		}
		if first == nil {
			first = fn
		}
		if free == nil && fn.Class == "" {
			free = fn
		}
	}
	switch {
	case free != nil:
		return *free, true
	case first != nil:
		return *first, true
	}
	return facts.Function{}, false
}

func functionProps(fn facts.Function) map[string]any {
	return map[string]any{
		"name":              fn.Name,
		"class":             fn.Class,
		"line":              int64(fn.Line),
		"async":             fn.Async,
		"parameters":        nonNil(fn.Parameters),
		"return_annotation": deref(fn.ReturnAnnotation, ReturnAnnotationNone),
		"docstring":         deref(fn.Docstring, ""),
		"decorators":        nonNil(fn.Decorators),
		"placeholder":       false,
	}
}

func deref(s *string, def string) string {
	if s == nil {
		return def
	}
	return *s
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
