package extract

import (
	"strings"
	"unicode/utf8"

	sitter "github.com/smacker/go-tree-sitter"
)

const maxReprRunes = 120

// docstring returns the cleaned docstring of a module or block, or nil when
// its first statement is not a plain string literal.
func docstring(body *sitter.Node, src []byte) *string {
	var first *sitter.Node
	for i := 0; i < int(body.NamedChildCount()); i++ {
		c := body.NamedChild(i)
		if c != nil && c.Type() != "comment" {
			first = c
			break
		}
	}
	if first == nil || first.Type() != "expression_statement" || first.NamedChildCount() != 1 {
		return nil
	}
	lit := first.NamedChild(0)
	if lit == nil {
		return nil
	}
	var parts []*sitter.Node
	switch lit.Type() {
	case "string":
		parts = []*sitter.Node{lit}
	case "concatenated_string":
		for i := 0; i < int(lit.NamedChildCount()); i++ {
			if c := lit.NamedChild(i); c != nil && c.Type() == "string" {
				parts = append(parts, c)
			}
		}
	default:
		return nil
	}
	var sb strings.Builder
	for _, p := range parts {
		s, ok := literalValue(p.Content(src))
		if !ok {
			return nil
		}
		sb.WriteString(s)
	}
	doc := cleandoc(sb.String())
	return &doc
}

// literalValue strips the prefix and quotes of a Python string literal.
// Byte strings and f-strings are rejected.
func literalValue(lit string) (string, bool) {
	i := 0
	raw := false
prefix:
	for ; i < len(lit); i++ {
		switch lit[i] {
		case 'r', 'R':
			raw = true
		case 'u', 'U':
		case 'b', 'B', 'f', 'F':
			return "", false
		default:
			break prefix
		}
	}
	body := lit[i:]
	for _, q := range []string{`"""`, `'''`, `"`, `'`} {
		if len(body) >= 2*len(q) && strings.HasPrefix(body, q) && strings.HasSuffix(body, q) {
			body = body[len(q) : len(body)-len(q)]
			if raw {
				return body, true
			}
			return unescape(body), true
		}
	}
	return "", false
}

var escapes = map[byte]string{
	'n': "\n", 't': "\t", 'r': "\r", '\\': `\`, '\'': "'", '"': `"`, '\n': "",
}

func unescape(s string) string {
	if !strings.Contains(s, `\`) {
		return s
	}
	var sb strings.Builder
	for i := 0; i < len(s); i++ {
		if s[i] == '\\' && i+1 < len(s) {
			if rep, ok := escapes[s[i+1]]; ok {
				sb.WriteString(rep)
				i++
				continue
			}
		}
		sb.WriteByte(s[i])
	}
	return sb.String()
}

// cleandoc removes the common leading indentation of all lines after the
// first, then strips leading and trailing blank lines.
func cleandoc(doc string) string {
	lines := strings.Split(strings.ReplaceAll(doc, "\t", "        "), "\n")
	indent := -1
	for _, l := range lines[1:] {
		trimmed := strings.TrimLeft(l, " ")
		if trimmed == "" {
			continue
		}
		if n := len(l) - len(trimmed); indent < 0 || n < indent {
			indent = n
		}
	}
	lines[0] = strings.TrimLeft(lines[0], " ")
	if indent > 0 {
		for i := 1; i < len(lines); i++ {
			if len(lines[i]) >= indent {
				lines[i] = lines[i][indent:]
			} else {
				lines[i] = strings.TrimLeft(lines[i], " ")
			}
		}
	}
	for len(lines) > 0 && strings.TrimSpace(lines[0]) == "" {
		lines = lines[1:]
	}
	for len(lines) > 0 && strings.TrimSpace(lines[len(lines)-1]) == "" {
		lines = lines[:len(lines)-1]
	}
	return strings.Join(lines, "\n")
}

// valueRepr renders an assigned value as kind(text) with whitespace
// collapsed and the text truncated.
func valueRepr(n *sitter.Node, src []byte) string {
	text := strings.Join(strings.Fields(n.Content(src)), " ")
	if utf8.RuneCountInString(text) > maxReprRunes {
		text = string([]rune(text)[:maxReprRunes]) + "…"
	}
	return n.Type() + "(" + text + ")"
}
