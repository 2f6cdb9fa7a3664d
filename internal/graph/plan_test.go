package graph

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/efebarandurmaz/codegraph/internal/facts"
)

func TestBuildPlan_Order(t *testing.T) {
	cb := facts.NewCodebase()
	cb.Append(&facts.FileFacts{
		Path:      "a.py",
		Imports:   []string{"os"},
		Functions: []facts.Function{{Name: "f", QualName: "f", File: "a.py", Calls: []string{"g"}}},
		Classes:   []facts.Class{{Name: "C", QualName: "C", File: "a.py"}},
		Variables: []facts.Variable{{Name: "x", File: "a.py", ValueRepr: "none"}},
	})

	plan := BuildPlan(cb, PlanOptions{})
	var got []string
	for _, op := range plan.Ops {
		if op.Kind == OpNode {
			got = append(got, "node:"+op.Node.Label)
		} else {
			got = append(got, "edge:"+op.Type)
		}
	}
	assert.Equal(t, []string{
		"node:File",
		"node:Function", "edge:CONTAINS",
		"node:Function", "edge:CALLS",
		"node:Class", "edge:CONTAINS",
		"node:Import", "edge:IMPORTS",
		"node:Variable",
	}, got)
	assert.Empty(t, plan.Unlinked)
}

func TestBuildPlan_DuplicateCallsPlannedOnce(t *testing.T) {
	cb := facts.NewCodebase()
	cb.Append(&facts.FileFacts{
		Path: "a.py",
		Functions: []facts.Function{
			{Name: "f", QualName: "f", File: "a.py", Calls: []string{"g", "g", "g"}},
			{Name: "g", QualName: "g", File: "a.py"},
		},
	})
	n := 0
	for _, op := range BuildPlan(cb, PlanOptions{}).Ops {
		if op.Type == RelCalls {
			n++
		}
	}
	assert.Equal(t, 1, n)
}

func TestResolveCallee(t *testing.T) {
	fns := []facts.Function{
		{Name: "run", QualName: "A.run", Class: "A", File: "a.py"},
		{Name: "run", QualName: "run", File: "a.py"},
		{Name: "run", QualName: "B.run", Class: "B", File: "a.py"},
		{Name: "only", QualName: "B.only", Class: "B", File: "a.py"},
		{Name: "x", QualName: "Outer.Inner.x", Class: "Inner", File: "a.py"},
		{Name: "x", QualName: "Other.Inner.x", Class: "Inner", File: "a.py"},
	}
	tests := []struct {
		name   string
		caller facts.Function
		callee string
		want   string
		found  bool
	}{
		{"own class wins", facts.Function{Name: "m", QualName: "B.m", Class: "B"}, "run", "B.run", true},
		{"free function next", facts.Function{Name: "m", QualName: "C.m", Class: "C"}, "run", "run", true},
		{"nested class with shared name", facts.Function{Name: "m", QualName: "Other.Inner.m", Class: "Inner"}, "x", "Other.Inner.x", true},
		{"free caller", facts.Function{}, "run", "run", true},
		{"first in document order", facts.Function{}, "only", "B.only", true},
		{"unresolved", facts.Function{}, "missing", "", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := ResolveCallee(tt.caller, tt.callee, fns)
			require.Equal(t, tt.found, ok)
			assert.Equal(t, tt.want, got.QualName)
		})
	}
}

func TestOperation_Validate(t *testing.T) {
	tests := []struct {
		name    string
		op      Operation
		wantErr bool
	}{
		{"node", MergeNode(FileRef("a.py"), map[string]any{"hash": "x"}), false},
		{"edge", MergeEdge(FileRef("a.py"), RelContains, FunctionRef("a.py", "f")), false},
		{"bad label", MergeNode(NodeRef{Label: "Evil) DETACH DELETE (n", Key: map[string]any{"k": 1}}, nil), true},
		{"bad rel", MergeEdge(FileRef("a.py"), "X]->() //", FileRef("b.py")), true},
		{"bad prop", MergeNode(FileRef("a.py"), map[string]any{"a b": 1}), true},
		{"no identity", MergeNode(NodeRef{Label: LabelFile}, nil), true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.op.Validate()
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestOperation_String(t *testing.T) {
	op := MergeEdge(FileRef("a.py"), RelContains, FunctionRef("a.py", "f"))
	assert.Equal(t, `MERGE (:File {path: "a.py"})-[:CONTAINS]->(:Function {file: "a.py", qualname: "f"})`, op.String())
}
