package extract

import (
	"fmt"
	"strings"

	sitter "github.com/smacker/go-tree-sitter"
)

// layoutError reports the first construct the grammar recovers from
// without an ERROR node but Python 3 rejects: print and exec statements,
// empty blocks, and statements not indented consistently under their owner.
func layoutError(path string, n *sitter.Node, src []byte) *ParseError {
	switch n.Type() {
	case "print_statement", "exec_statement":
		word := strings.TrimSuffix(n.Type(), "_statement")
		return nodeError(path, n, fmt.Sprintf("missing parentheses in call to %q", word))
	case "module":
		for _, s := range statements(n) {
			if !startsLine(s, src) {
				continue
			}
			if pe := indentMismatch(path, s, 0); pe != nil {
				return pe
			}
		}
	case "block":
		if pe := blockError(path, n, src); pe != nil {
			return pe
		}
	}
	for i := 0; i < int(n.NamedChildCount()); i++ {
		if c := n.NamedChild(i); c != nil {
			if pe := layoutError(path, c, src); pe != nil {
				return pe
			}
		}
	}
	return nil
}

// blockError checks that a block has a statement, that its first line
// starts right of the owning def, class or clause, and that every line
// starts at the same column.
func blockError(path string, block *sitter.Node, src []byte) *ParseError {
	stmts := statements(block)
	if len(stmts) == 0 {
		return nodeError(path, block, "expected an indented block")
	}
	owner := block.Parent()
	col := -1
	for _, s := range stmts {
		if !startsLine(s, src) {
			continue
		}
		if col >= 0 {
			if pe := indentMismatch(path, s, col); pe != nil {
				return pe
			}
			continue
		}
		col = int(s.StartPoint().Column)
		if owner != nil && startsLine(owner, src) && col <= int(owner.StartPoint().Column) {
			return nodeError(path, s, "expected an indented block")
		}
	}
	return nil
}

func indentMismatch(path string, s *sitter.Node, want int) *ParseError {
	switch got := int(s.StartPoint().Column); {
	case got > want:
		return nodeError(path, s, "unexpected indent")
	case got < want:
		return nodeError(path, s, "unindent does not match any outer indentation level")
	}
	return nil
}

// statements returns the named children of n that are not comments.
func statements(n *sitter.Node) []*sitter.Node {
	var out []*sitter.Node
	for i := 0; i < int(n.NamedChildCount()); i++ {
		c := n.NamedChild(i)
		if c == nil || c.Type() == "comment" || c.Type() == "line_continuation" {
			continue
		}
		out = append(out, c)
	}
	return out
}

// startsLine reports whether only whitespace precedes n on its line.
func startsLine(n *sitter.Node, src []byte) bool {
	for i := int(n.StartByte()) - 1; i >= 0; i-- {
		switch src[i] {
		case ' ', '\t', '\f':
		case '\n', '\r':
			return true
		default:
			return false
		}
	}
	return true
}

func nodeError(path string, n *sitter.Node, msg string) *ParseError {
	return &ParseError{
		Path:    path,
		Line:    int(n.StartPoint().Row) + 1,
		Column:  int(n.StartPoint().Column) + 1,
		Message: msg,
	}
}
