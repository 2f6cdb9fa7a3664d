// Package facts holds the structural facts extracted from Python source files.
package facts

import "strings"

// FileFacts is the extraction result for a single source file.
type FileFacts struct {
	Path      string     `json:"path"`
	Hash      string     `json:"hash,omitempty"`
	Encoding  string     `json:"encoding,omitempty"`
	Docstring *string    `json:"docstring"`
	Functions []Function `json:"functions"`
	Classes   []Class    `json:"classes"`
	Imports   []string   `json:"imports"`
	Variables []Variable `json:"variables"`
}

// Function describes a def or async def at any nesting depth.
type Function struct {
	Name             string   `json:"name"`
	QualName         string   `json:"qualname"`
	Class            string   `json:"class,omitempty"`
	File             string   `json:"file"`
	Line             int      `json:"line"`
	Async            bool     `json:"async,omitempty"`
	Parameters       []string `json:"parameters"`
	ReturnAnnotation *string  `json:"return_annotation"`
	Docstring        *string  `json:"docstring"`
	Decorators       []string `json:"decorators"`
	Calls            []string `json:"calls"`
	UsedImports      []string `json:"used_imports"`
	UsedVariables    []string `json:"used_variables"`
}

// Key returns the graph identity of the function.
func (f Function) Key() Key { return Key{File: f.File, Name: f.QualName} }

// ClassQualName returns the qualified name of the class f is declared in,
// or "" when f is not a method.
func (f Function) ClassQualName() string {
	if f.Class == "" {
		return ""
	}
	return strings.TrimSuffix(f.QualName, "."+f.Name)
}

// Class describes a class definition at any nesting depth.
type Class struct {
	Name      string   `json:"name"`
	QualName  string   `json:"qualname"`
	File      string   `json:"file"`
	Line      int      `json:"line"`
	Bases     []string `json:"bases"`
	Methods   []string `json:"methods"`
	Docstring *string  `json:"docstring"`
	// MethodsInfo is filled by LinkMethods.
	MethodsInfo []Function `json:"methods_info"`
	// UsedImports is approximate: imports whose qualified name appears in
	// the docstring text.
	UsedImports []string `json:"used_imports"`
}

// Key returns the graph identity of the class.
func (c Class) Key() Key { return Key{File: c.File, Name: c.QualName} }

// Variable is an assignment target.
type Variable struct {
	Name      string `json:"name"`
	File      string `json:"file"`
	Scope     string `json:"scope,omitempty"`
	Line      int    `json:"line"`
	ValueRepr string `json:"value_repr"`
}

// Key returns the graph identity of the variable.
func (v Variable) Key() Key { return Key{File: v.File, Name: v.Name} }

// Import is an import name together with the file that declares it.
type Import struct {
	File string `json:"file"`
	Name string `json:"name"`
}

// FileInfo is the per-file header kept in a Codebase.
type FileInfo struct {
	Path      string  `json:"path"`
	Hash      string  `json:"hash,omitempty"`
	Encoding  string  `json:"encoding,omitempty"`
	Docstring *string `json:"docstring"`
}

// Codebase is the concatenation of many FileFacts.
type Codebase struct {
	Files     []FileInfo `json:"files"`
	Functions []Function `json:"functions"`
	Classes   []Class    `json:"classes"`
	Imports   []Import   `json:"imports"`
	Variables []Variable `json:"variables"`
}

// Key identifies a Function, Class or Variable node. File is empty for
// placeholder functions whose definition site is unknown.
type Key struct {
	File string
	Name string
}

// Info returns the file header of ff.
func (ff *FileFacts) Info() FileInfo {
	return FileInfo{Path: ff.Path, Hash: ff.Hash, Encoding: ff.Encoding, Docstring: ff.Docstring}
}

// Codebase wraps a single file's facts as a one-file Codebase.
func (ff *FileFacts) Codebase() *Codebase {
	cb := NewCodebase()
	cb.Append(ff)
	return cb
}

// NewCodebase returns an empty codebase with non-nil slices.
func NewCodebase() *Codebase {
	return &Codebase{
		Files:     []FileInfo{},
		Functions: []Function{},
		Classes:   []Class{},
		Imports:   []Import{},
		Variables: []Variable{},
	}
}

// Append concatenates ff onto the codebase. ff is not retained.
func (cb *Codebase) Append(ff *FileFacts) {
	cb.Files = append(cb.Files, ff.Info())
	cb.Functions = append(cb.Functions, ff.Functions...)
	cb.Classes = append(cb.Classes, ff.Classes...)
	for _, name := range ff.Imports {
		cb.Imports = append(cb.Imports, Import{File: ff.Path, Name: name})
	}
	cb.Variables = append(cb.Variables, ff.Variables...)
}

// Empty reports whether the codebase holds no files.
func (cb *Codebase) Empty() bool { return len(cb.Files) == 0 }

// Counts summarizes the size of each fact category.
type Counts struct {
	Files     int `json:"files"`
	Functions int `json:"functions"`
	Classes   int `json:"classes"`
	Imports   int `json:"imports"`
	Variables int `json:"variables"`
}

// Counts returns the category sizes of the codebase.
func (cb *Codebase) Counts() Counts {
	return Counts{
		Files:     len(cb.Files),
		Functions: len(cb.Functions),
		Classes:   len(cb.Classes),
		Imports:   len(cb.Imports),
		Variables: len(cb.Variables),
	}
}

// Add accumulates another file's counts.
func (c *Counts) Add(ff *FileFacts) {
	c.Files++
	c.Functions += len(ff.Functions)
	c.Classes += len(ff.Classes)
	c.Imports += len(ff.Imports)
	c.Variables += len(ff.Variables)
}
