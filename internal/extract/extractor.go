// Package extract turns Python source text into a facts.FileFacts using the
// tree-sitter Python grammar.
package extract

import (
	"context"
	"fmt"
	"log/slog"

	sitter "github.com/smacker/go-tree-sitter"
	"github.com/smacker/go-tree-sitter/python"

	"github.com/efebarandurmaz/codegraph/internal/facts"
)

// Options controls extraction behaviour.
type Options struct {
	// ParametersAsVariables adds function parameters to used_variables.
	ParametersAsVariables bool
}

// ParseError reports source text that the grammar rejects.
type ParseError struct {
	Path    string
	Line    int
	Column  int
	Message string
}

func (e *ParseError) Error() string {
	if e.Line > 0 {
		return fmt.Sprintf("parse %s:%d:%d: %s", e.Path, e.Line, e.Column, e.Message)
	}
	return fmt.Sprintf("parse %s: %s", e.Path, e.Message)
}

// Extractor parses Python files. It is safe for concurrent use; each call
// creates its own tree-sitter parser.
type Extractor struct {
	opts   Options
	logger *slog.Logger
}

// New creates an Extractor.
func New(opts Options) *Extractor {
	return &Extractor{opts: opts, logger: slog.Default()}
}

// WithLogger returns a copy of e that logs to l.
func (e *Extractor) WithLogger(l *slog.Logger) *Extractor {
	cp := *e
	cp.logger = l
	return &cp
}

// Language returns the source language handled by the extractor.
func (e *Extractor) Language() string { return "python" }

// Extract parses text and returns its facts. A syntax error anywhere in the
// file yields a *ParseError and no facts.
func (e *Extractor) Extract(ctx context.Context, path, text string) (*facts.FileFacts, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	src := []byte(text)

	parser := sitter.NewParser()
	defer parser.Close()
	parser.SetLanguage(python.GetLanguage())

	tree, err := parser.ParseCtx(ctx, nil, src)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, &ParseError{Path: path, Message: err.Error()}
	}
	defer tree.Close()

	root := tree.RootNode()
	if root == nil {
		return nil, &ParseError{Path: path, Message: "empty syntax tree"}
	}
	if root.HasError() {
		return nil, syntaxError(path, root, src)
	}
	if pe := layoutError(path, root, src); pe != nil {
		return nil, pe
	}

	x := newExtraction(path, src, e.opts)
	x.collectImports(root)
	x.ff.Docstring = docstring(root, src)
	x.visitChildren(root, scope{})

	for _, lerr := range facts.LinkMethods(x.ff) {
		e.logger.Debug("method not linked", "file", path, "error", lerr)
	}
	return x.ff, nil
}

// syntaxError locates the first ERROR or MISSING node under root.
func syntaxError(path string, root *sitter.Node, src []byte) *ParseError {
	bad := firstErrorNode(root)
	if bad == nil {
		return &ParseError{Path: path, Message: "invalid syntax"}
	}
	pe := &ParseError{
		Path:   path,
		Line:   int(bad.StartPoint().Row) + 1,
		Column: int(bad.StartPoint().Column) + 1,
	}
	if bad.IsMissing() {
		pe.Message = fmt.Sprintf("missing %s", bad.Type())
		return pe
	}
	snippet := []rune(bad.Content(src))
	if len(snippet) > 20 {
		snippet = append(snippet[:20], '…')
	}
	pe.Message = fmt.Sprintf("invalid syntax near %q", string(snippet))
	return pe
}

func firstErrorNode(n *sitter.Node) *sitter.Node {
	if n.IsError() || n.IsMissing() {
		return n
	}
	for i := 0; i < int(n.ChildCount()); i++ {
		c := n.Child(i)
		if c == nil || !(c.HasError() || c.IsMissing()) {
			continue
		}
		if found := firstErrorNode(c); found != nil {
			return found
		}
	}
	return nil
}
