// Package graph projects codebase facts onto a property graph as a plan of
// idempotent upsert operations.
package graph

import (
	"fmt"
	"regexp"
	"sort"
	"strings"
)

// Node labels.
const (
	LabelFile     = "File"
	LabelFunction = "Function"
	LabelClass    = "Class"
	LabelImport   = "Import"
	LabelVariable = "Variable"
)

// Relationship types.
const (
	RelContains     = "CONTAINS"
	RelImports      = "IMPORTS"
	RelCalls        = "CALLS"
	RelUsesImport   = "USES_IMPORT"
	RelUsesVariable = "USES_VARIABLE"
	RelHasMethod    = "HAS_METHOD"
	RelPossibleCall = "POSSIBLE_CALL"
)

var (
	validLabels = map[string]bool{
		LabelFile: true, LabelFunction: true, LabelClass: true, LabelImport: true, LabelVariable: true,
	}
	validRels = map[string]bool{
		RelContains: true, RelImports: true, RelCalls: true, RelUsesImport: true,
		RelUsesVariable: true, RelHasMethod: true, RelPossibleCall: true,
	}
	identRe = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)
)

// OpKind distinguishes node and edge upserts.
type OpKind int

const (
	OpNode OpKind = iota
	OpEdge
)

func (k OpKind) String() string {
	if k == OpEdge {
		return "edge"
	}
	return "node"
}

// NodeRef identifies a node by label and identity properties.
type NodeRef struct {
	Label string
	Key   map[string]any
}

// KeyNames returns the identity property names in sorted order.
func (r NodeRef) KeyNames() []string {
	names := make([]string, 0, len(r.Key))
	for k := range r.Key {
		names = append(names, k)
	}
	sort.Strings(names)
	return names
}

func (r NodeRef) String() string {
	parts := make([]string, 0, len(r.Key))
	for _, k := range r.KeyNames() {
		parts = append(parts, fmt.Sprintf("%s: %q", k, fmt.Sprint(r.Key[k])))
	}
	return fmt.Sprintf("(:%s {%s})", r.Label, strings.Join(parts, ", "))
}

// Operation is a single MERGE against the store. A node operation upserts
// Node and sets Props on it. An edge operation upserts both endpoints by
// identity and the relationship Type between them.
type Operation struct {
	Kind  OpKind
	Node  NodeRef
	Props map[string]any
	Type  string
	From  NodeRef
	To    NodeRef
}

// MergeNode builds a node upsert.
func MergeNode(ref NodeRef, props map[string]any) Operation {
	return Operation{Kind: OpNode, Node: ref, Props: props}
}

// MergeEdge builds an edge upsert.
func MergeEdge(from NodeRef, rel string, to NodeRef) Operation {
	return Operation{Kind: OpEdge, From: from, Type: rel, To: to}
}

func (op Operation) String() string {
	if op.Kind == OpEdge {
		return fmt.Sprintf("MERGE %s-[:%s]->%s", op.From, op.Type, op.To)
	}
	return "MERGE " + op.Node.String()
}

// Validate checks labels, relationship types and property names against
// the fixed vocabulary so they can be interpolated into a query.
func (op Operation) Validate() error {
	switch op.Kind {
	case OpNode:
		if err := validateRef(op.Node); err != nil {
			return err
		}
		for k := range op.Props {
			if !identRe.MatchString(k) {
				return fmt.Errorf("invalid property name %q", k)
			}
		}
		return nil
	case OpEdge:
		if !validRels[op.Type] {
			return fmt.Errorf("invalid relationship type %q", op.Type)
		}
		if err := validateRef(op.From); err != nil {
			return err
		}
		return validateRef(op.To)
	}
	return fmt.Errorf("invalid operation kind %d", op.Kind)
}

func validateRef(r NodeRef) error {
	if !validLabels[r.Label] {
		return fmt.Errorf("invalid label %q", r.Label)
	}
	if len(r.Key) == 0 {
		return fmt.Errorf("node %s has no identity", r.Label)
	}
	for k := range r.Key {
		if !identRe.MatchString(k) {
			return fmt.Errorf("invalid key property %q", k)
		}
	}
	return nil
}

// Node identity constructors.

func FileRef(path string) NodeRef {
	return NodeRef{Label: LabelFile, Key: map[string]any{"path": path}}
}

func FunctionRef(file, qualname string) NodeRef {
	return NodeRef{Label: LabelFunction, Key: map[string]any{"file": file, "qualname": qualname}}
}

func ClassRef(file, qualname string) NodeRef {
	return NodeRef{Label: LabelClass, Key: map[string]any{"file": file, "qualname": qualname}}
}

func ImportRef(name string) NodeRef {
	return NodeRef{Label: LabelImport, Key: map[string]any{"name": name}}
}

func VariableRef(file, name string) NodeRef {
	return NodeRef{Label: LabelVariable, Key: map[string]any{"file": file, "name": name}}
}
