package facts

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCodebase_Append(t *testing.T) {
	doc := "Module."
	cb := NewCodebase()
	cb.Append(&FileFacts{
		Path:      "a.py",
		Hash:      "00ff",
		Docstring: &doc,
		Functions: []Function{{Name: "f", QualName: "f", File: "a.py"}},
		Imports:   []string{"os", "m.x"},
		Variables: []Variable{{Name: "x", File: "a.py"}},
	})
	cb.Append(&FileFacts{Path: "b.py", Classes: []Class{{Name: "C", QualName: "C", File: "b.py"}}})

	require.Len(t, cb.Files, 2)
	assert.Equal(t, "00ff", cb.Files[0].Hash)
	assert.Equal(t, &doc, cb.Files[0].Docstring)
	assert.Equal(t, []Import{{File: "a.py", Name: "os"}, {File: "a.py", Name: "m.x"}}, cb.Imports)
	assert.Equal(t, Counts{Files: 2, Functions: 1, Classes: 1, Imports: 2, Variables: 1}, cb.Counts())
	assert.False(t, cb.Empty())
	assert.True(t, NewCodebase().Empty())
}

func TestCounts_Add(t *testing.T) {
	var c Counts
	c.Add(&FileFacts{Functions: make([]Function, 3), Imports: []string{"a"}})
	c.Add(&FileFacts{})
	assert.Equal(t, Counts{Files: 2, Functions: 3, Imports: 1}, c)
}

func TestFunction_ClassQualName(t *testing.T) {
	tests := []struct {
		fn   Function
		want string
	}{
		{Function{Name: "f", QualName: "f"}, ""},
		{Function{Name: "m", QualName: "C.m", Class: "C"}, "C"},
		{Function{Name: "m", QualName: "Outer.Inner.m", Class: "Inner"}, "Outer.Inner"},
		{Function{Name: "m", QualName: "run.Local.m", Class: "Local"}, "run.Local"},
		{Function{Name: "inner", QualName: "C.m.inner"}, ""},
	}
	for _, tt := range tests {
		t.Run(tt.fn.QualName, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.fn.ClassQualName())
		})
	}
}

func TestResolveMethod(t *testing.T) {
	c := Class{Name: "Repo", QualName: "Repo", File: "a.py"}
	fns := []Function{
		{Name: "save", QualName: "Repo.save", Class: "Repo", File: "a.py"},
		{Name: "save", QualName: "save", File: "a.py"},
		{Name: "load", QualName: "Repo.load", Class: "Repo", File: "b.py"},
		{Name: "dup", QualName: "Repo.dup", Class: "Repo", File: "a.py"},
		{Name: "dup", QualName: "Repo.dup", Class: "Repo", File: "a.py"},
	}

	fn, err := ResolveMethod(c, "save", fns)
	require.NoError(t, err)
	assert.Equal(t, "Repo.save", fn.QualName)

	tests := []struct {
		method  string
		matches int
	}{
		{"load", 0},
		{"missing", 0},
		{"dup", 2},
	}
	for _, tt := range tests {
		t.Run(tt.method, func(t *testing.T) {
			_, err := ResolveMethod(c, tt.method, fns)
			require.ErrorIs(t, err, ErrUnresolvedMethod)
			var le *MethodLinkError
			require.True(t, errors.As(err, &le))
			assert.Equal(t, tt.matches, le.Matches)
		})
	}
}

func TestLinkMethods_NestedClass(t *testing.T) {
	ff := &FileFacts{
		Path: "a.py",
		Functions: []Function{
			{Name: "m", QualName: "outer.Local.m", Class: "Local", File: "a.py"},
		},
		Classes: []Class{
			{Name: "Local", QualName: "outer.Local", File: "a.py", Methods: []string{"m"}},
		},
	}
	assert.Empty(t, LinkMethods(ff))
	require.Len(t, ff.Classes[0].MethodsInfo, 1)
	assert.Equal(t, "outer.Local.m", ff.Classes[0].MethodsInfo[0].QualName)
}
