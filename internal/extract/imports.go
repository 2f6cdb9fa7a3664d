package extract

import (
	"strings"

	sitter "github.com/smacker/go-tree-sitter"
)

// collectImports records every import statement in the tree, including
// those nested in function bodies, in document order. It runs before the
// main visit so that usage inside a function can refer to an import
// declared later in the file.
func (x *extraction) collectImports(n *sitter.Node) {
	switch n.Type() {
	case "import_statement":
		x.importStatement(n)
		return
	case "import_from_statement":
		x.importFrom(n, "")
		return
	case "future_import_statement":
		x.importFrom(n, "__future__")
		return
	}
	for i := 0; i < int(n.NamedChildCount()); i++ {
		if c := n.NamedChild(i); c != nil {
			x.collectImports(c)
		}
	}
}

// import a.b        -> "a.b", binds a
// import a.b as c   -> "a.b", binds c
func (x *extraction) importStatement(n *sitter.Node) {
	for i := 0; i < int(n.NamedChildCount()); i++ {
		c := n.NamedChild(i)
		if c == nil {
			continue
		}
		switch c.Type() {
		case "dotted_name":
			name := dotted(c, x.src)
			local, _, _ := strings.Cut(name, ".")
			x.addImport(name, local)
		case "aliased_import":
			nameNode := c.ChildByFieldName("name")
			alias := c.ChildByFieldName("alias")
			if nameNode == nil {
				continue
			}
			name := dotted(nameNode, x.src)
			local := name
			if alias != nil {
				local = x.text(alias)
			} else {
				local, _, _ = strings.Cut(name, ".")
			}
			x.addImport(name, local)
		}
	}
}

// from m import x        -> "m.x", binds x
// from m import x as y   -> "m.x", binds y
// from .m import x       -> ".m.x"
// from . import x        -> ".x"
// from m import *        -> "m.*", binds nothing
func (x *extraction) importFrom(n *sitter.Node, module string) {
	afterImport := module != ""
	for i := 0; i < int(n.ChildCount()); i++ {
		c := n.Child(i)
		if c == nil {
			continue
		}
		if !afterImport {
			switch c.Type() {
			case "dotted_name", "relative_import":
				module = dotted(c, x.src)
			case "import":
				afterImport = true
			}
			continue
		}
		switch c.Type() {
		case "import", "__future__":
		case "wildcard_import":
			x.addImport(joinModule(module, "*"), "")
		case "dotted_name":
			name := dotted(c, x.src)
			x.addImport(joinModule(module, name), name)
		case "aliased_import":
			nameNode := c.ChildByFieldName("name")
			if nameNode == nil {
				continue
			}
			name := dotted(nameNode, x.src)
			local := name
			if alias := c.ChildByFieldName("alias"); alias != nil {
				local = x.text(alias)
			}
			x.addImport(joinModule(module, name), local)
		}
	}
}

func (x *extraction) addImport(qualified, local string) {
	x.ff.Imports = append(x.ff.Imports, qualified)
	if local == "" {
		return
	}
	if !contains(x.bindings[local], qualified) {
		x.bindings[local] = append(x.bindings[local], qualified)
	}
}

func joinModule(module, name string) string {
	if module == "" {
		return name
	}
	if strings.HasSuffix(module, ".") {
		return module + name
	}
	return module + "." + name
}

// dotted returns the source text of a dotted or relative name without
// interior whitespace.
func dotted(n *sitter.Node, src []byte) string {
	return strings.Join(strings.Fields(n.Content(src)), "")
}
