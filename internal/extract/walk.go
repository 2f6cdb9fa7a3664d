package extract

import (
	"strings"

	sitter "github.com/smacker/go-tree-sitter"

	"github.com/efebarandurmaz/codegraph/internal/facts"
)

// scope is the lexical position of the node being visited.
type scope struct {
	qual  []string       // enclosing class and function names
	class string         // directly enclosing class, empty inside functions
	fn    *funcCollector // nil at module and class level
}

func (s scope) qualname(name string) string {
	if len(s.qual) == 0 {
		return name
	}
	return strings.Join(s.qual, ".") + "." + name
}

func (s scope) enter(name string) []string {
	q := make([]string, len(s.qual), len(s.qual)+1)
	copy(q, s.qual)
	return append(q, name)
}

// funcCollector gathers the body-level references of one function.
type funcCollector struct {
	calls     []string
	imports   orderedSet
	variables orderedSet
}

type orderedSet struct {
	seen  map[string]bool
	items []string
}

func (s *orderedSet) add(v string) {
	if s.seen == nil {
		s.seen = make(map[string]bool)
	}
	if s.seen[v] {
		return
	}
	s.seen[v] = true
	s.items = append(s.items, v)
}

func (s *orderedSet) list() []string {
	if s.items == nil {
		return []string{}
	}
	return s.items
}

type extraction struct {
	path string
	src  []byte
	opts Options
	ff   *facts.FileFacts
	// bindings maps a local name bound by an import to the qualified
	// import names that bind it.
	bindings map[string][]string
}

func newExtraction(path string, src []byte, opts Options) *extraction {
	return &extraction{
		path: path,
		src:  src,
		opts: opts,
		ff: &facts.FileFacts{
			Path:      path,
			Functions: []facts.Function{},
			Classes:   []facts.Class{},
			Imports:   []string{},
			Variables: []facts.Variable{},
		},
		bindings: make(map[string][]string),
	}
}

func (x *extraction) text(n *sitter.Node) string {
	return n.Content(x.src)
}

func (x *extraction) visitChildren(n *sitter.Node, sc scope) {
	for i := 0; i < int(n.NamedChildCount()); i++ {
		if c := n.NamedChild(i); c != nil {
			x.visit(c, sc)
		}
	}
}

func (x *extraction) visit(n *sitter.Node, sc scope) {
	switch n.Type() {
	case "function_definition":
		x.function(n, sc, nil)
		return
	case "class_definition":
		x.class(n, sc)
		return
	case "decorated_definition":
		x.decorated(n, sc)
		return
	case "import_statement", "import_from_statement", "future_import_statement", "comment":
		return
	case "assignment":
		x.assignment(n, sc)
	case "augmented_assignment":
		if sc.fn != nil {
			x.bindTargets(n.ChildByFieldName("left"), sc)
		}
	case "for_statement":
		if sc.fn != nil {
			x.bindTargets(n.ChildByFieldName("left"), sc)
		}
	case "named_expression":
		if sc.fn != nil {
			x.bindTargets(n.ChildByFieldName("name"), sc)
		}
	case "as_pattern":
		if sc.fn != nil {
			x.bindTargets(n.ChildByFieldName("alias"), sc)
		}
	case "except_clause":
		if sc.fn != nil {
			x.exceptAlias(n, sc)
		}
	case "call":
		if sc.fn != nil {
			if name := calleeName(n, x.src); name != "" {
				sc.fn.calls = append(sc.fn.calls, name)
			}
		}
	case "identifier":
		if sc.fn != nil {
			for _, imp := range x.bindings[x.text(n)] {
				sc.fn.imports.add(imp)
			}
		}
		return
	case "attribute":
		// Only the receiver can reference a local name.
		if obj := n.ChildByFieldName("object"); obj != nil {
			x.visit(obj, sc)
		}
		return
	case "keyword_argument":
		if v := n.ChildByFieldName("value"); v != nil {
			x.visit(v, sc)
		}
		return
	case "lambda":
		if body := n.ChildByFieldName("body"); body != nil {
			x.visit(body, sc)
		}
		return
	}
	x.visitChildren(n, sc)
}

func (x *extraction) decorated(n *sitter.Node, sc scope) {
	var decorators []string
	for i := 0; i < int(n.NamedChildCount()); i++ {
		c := n.NamedChild(i)
		if c == nil || c.Type() != "decorator" {
			continue
		}
		// Decorator expressions run in the enclosing scope.
		x.visitChildren(c, sc)
		if c.NamedChildCount() == 1 {
			if expr := c.NamedChild(0); expr != nil && expr.Type() == "identifier" {
				decorators = append(decorators, x.text(expr))
			}
		}
	}
	def := n.ChildByFieldName("definition")
	if def == nil {
		return
	}
	switch def.Type() {
	case "function_definition":
		x.function(def, sc, decorators)
	case "class_definition":
		x.class(def, sc)
	}
}

func (x *extraction) function(n *sitter.Node, sc scope, decorators []string) {
	nameNode := n.ChildByFieldName("name")
	if nameNode == nil {
		return
	}
	name := x.text(nameNode)
	fn := facts.Function{
		Name:          name,
		QualName:      sc.qualname(name),
		Class:         sc.class,
		File:          x.path,
		Line:          int(n.StartPoint().Row) + 1,
		Async:         isAsync(n),
		Parameters:    x.parameters(n.ChildByFieldName("parameters")),
		Decorators:    decorators,
		Calls:         []string{},
		UsedImports:   []string{},
		UsedVariables: []string{},
	}
	if fn.Decorators == nil {
		fn.Decorators = []string{}
	}
	if rt := n.ChildByFieldName("return_type"); rt != nil {
		s := x.text(rt)
		fn.ReturnAnnotation = &s
	}
	body := n.ChildByFieldName("body")
	if body != nil {
		fn.Docstring = docstring(body, x.src)
	}

	idx := len(x.ff.Functions)
	x.ff.Functions = append(x.ff.Functions, fn)

	col := &funcCollector{}
	if x.opts.ParametersAsVariables {
		for _, p := range fn.Parameters {
			col.variables.add(p)
		}
	}
	if body != nil {
		x.visitChildren(body, scope{qual: sc.enter(name), fn: col})
	}

	got := &x.ff.Functions[idx]
	got.Calls = append(got.Calls, col.calls...)
	got.UsedImports = col.imports.list()
	got.UsedVariables = col.variables.list()
}

func (x *extraction) class(n *sitter.Node, sc scope) {
	nameNode := n.ChildByFieldName("name")
	if nameNode == nil {
		return
	}
	name := x.text(nameNode)
	c := facts.Class{
		Name:        name,
		QualName:    sc.qualname(name),
		File:        x.path,
		Line:        int(n.StartPoint().Row) + 1,
		Bases:       []string{},
		Methods:     []string{},
		MethodsInfo: []facts.Function{},
		UsedImports: []string{},
	}
	if supers := n.ChildByFieldName("superclasses"); supers != nil {
		for i := 0; i < int(supers.NamedChildCount()); i++ {
			b := supers.NamedChild(i)
			if b == nil || b.Type() == "keyword_argument" || b.Type() == "comment" {
				continue
			}
			c.Bases = append(c.Bases, x.text(b))
		}
		// Base expressions are evaluated in the enclosing scope.
		x.visitChildren(supers, sc)
	}
	body := n.ChildByFieldName("body")
	if body != nil {
		c.Docstring = docstring(body, x.src)
		c.Methods = x.methodNames(body)
	}
	if c.Docstring != nil {
		for _, imp := range x.ff.Imports {
			if strings.Contains(*c.Docstring, imp) && !contains(c.UsedImports, imp) {
				c.UsedImports = append(c.UsedImports, imp)
			}
		}
	}

	x.ff.Classes = append(x.ff.Classes, c)
	if body != nil {
		x.visitChildren(body, scope{qual: sc.enter(name), class: name})
	}
}

func (x *extraction) methodNames(body *sitter.Node) []string {
	names := []string{}
	for i := 0; i < int(body.NamedChildCount()); i++ {
		c := body.NamedChild(i)
		if c == nil {
			continue
		}
		if c.Type() == "decorated_definition" {
			c = c.ChildByFieldName("definition")
		}
		if c == nil || c.Type() != "function_definition" {
			continue
		}
		if nameNode := c.ChildByFieldName("name"); nameNode != nil {
			names = append(names, x.text(nameNode))
		}
	}
	return names
}

func (x *extraction) assignment(n *sitter.Node, sc scope) {
	left := n.ChildByFieldName("left")
	right := n.ChildByFieldName("right")
	// a = b = v: every target takes the innermost value.
	for right != nil && right.Type() == "assignment" {
		right = right.ChildByFieldName("right")
	}
	repr := "none"
	if right != nil {
		repr = valueRepr(right, x.src)
	}
	for _, id := range targetNames(left, x.src) {
		x.ff.Variables = append(x.ff.Variables, facts.Variable{
			Name:      id,
			File:      x.path,
			Scope:     strings.Join(sc.qual, "."),
			Line:      int(n.StartPoint().Row) + 1,
			ValueRepr: repr,
		})
		if sc.fn != nil {
			sc.fn.variables.add(id)
		}
	}
}

func (x *extraction) bindTargets(target *sitter.Node, sc scope) {
	for _, id := range targetNames(target, x.src) {
		sc.fn.variables.add(id)
	}
}

func (x *extraction) exceptAlias(n *sitter.Node, sc scope) {
	sawAs := false
	for i := 0; i < int(n.ChildCount()); i++ {
		c := n.Child(i)
		if c == nil {
			continue
		}
		if c.Type() == "as" {
			sawAs = true
			continue
		}
		if sawAs && c.Type() == "identifier" {
			sc.fn.variables.add(x.text(c))
			return
		}
	}
}

func (x *extraction) parameters(params *sitter.Node) []string {
	names := []string{}
	if params == nil {
		return names
	}
	for i := 0; i < int(params.NamedChildCount()); i++ {
		if name := paramName(params.NamedChild(i), x.src); name != "" {
			names = append(names, name)
		}
	}
	return names
}

func paramName(p *sitter.Node, src []byte) string {
	if p == nil {
		return ""
	}
	switch p.Type() {
	case "identifier":
		return p.Content(src)
	case "default_parameter", "typed_default_parameter":
		return paramName(p.ChildByFieldName("name"), src)
	case "typed_parameter", "list_splat_pattern", "dictionary_splat_pattern":
		for i := 0; i < int(p.NamedChildCount()); i++ {
			c := p.NamedChild(i)
			if c == nil || c.Type() == "type" {
				continue
			}
			if name := paramName(c, src); name != "" {
				return name
			}
		}
	}
	return ""
}

// targetNames returns the plain names bound by an assignment target.
// Attribute and subscript targets bind nothing.
func targetNames(n *sitter.Node, src []byte) []string {
	if n == nil {
		return nil
	}
	switch n.Type() {
	case "identifier":
		return []string{n.Content(src)}
	case "pattern_list", "tuple_pattern", "list_pattern", "expression_list", "tuple", "list",
		"list_splat_pattern", "list_splat", "parenthesized_expression", "as_pattern_target":
		var out []string
		for i := 0; i < int(n.NamedChildCount()); i++ {
			out = append(out, targetNames(n.NamedChild(i), src)...)
		}
		return out
	}
	return nil
}

// calleeName returns the bare or trailing attribute name of a call.
func calleeName(call *sitter.Node, src []byte) string {
	f := call.ChildByFieldName("function")
	if f == nil {
		return ""
	}
	switch f.Type() {
	case "identifier":
		return f.Content(src)
	case "attribute":
		if attr := f.ChildByFieldName("attribute"); attr != nil {
			return attr.Content(src)
		}
	}
	return ""
}

func isAsync(fn *sitter.Node) bool {
	for i := 0; i < int(fn.ChildCount()); i++ {
		c := fn.Child(i)
		if c == nil {
			continue
		}
		switch c.Type() {
		case "async":
			return true
		case "def":
			return false
		}
	}
	return false
}

func contains(list []string, v string) bool {
	for _, s := range list {
		if s == v {
			return true
		}
	}
	return false
}
