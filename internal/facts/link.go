package facts

import (
	"errors"
	"fmt"
)

// ErrUnresolvedMethod is returned when a class method name does not resolve
// to exactly one function in the same file.
var ErrUnresolvedMethod = errors.New("unresolved method")

// MethodLinkError reports a method name that matched zero or several
// functions.
type MethodLinkError struct {
	File    string
	Class   string
	Method  string
	Matches int
}

func (e *MethodLinkError) Error() string {
	return fmt.Sprintf("%s: class %s method %s: %d matching functions", e.File, e.Class, e.Method, e.Matches)
}

func (e *MethodLinkError) Unwrap() error { return ErrUnresolvedMethod }

// ResolveMethod finds the function declared as method in class c among fns.
func ResolveMethod(c Class, method string, fns []Function) (Function, error) {
	want := c.QualName + "." + method
	var (
		found Function
		n     int
	)
	for _, fn := range fns {
		if fn.File == c.File && fn.Class == c.Name && fn.QualName == want {
			found = fn
			n++
		}
	}
	if n != 1 {
		return Function{}, &MethodLinkError{File: c.File, Class: c.QualName, Method: method, Matches: n}
	}
	return found, nil
}

// LinkMethods fills MethodsInfo of every class in ff. Methods that do not
// resolve are left out and reported in the returned errors.
func LinkMethods(ff *FileFacts) []error {
	var errs []error
	for i := range ff.Classes {
		c := &ff.Classes[i]
		c.MethodsInfo = make([]Function, 0, len(c.Methods))
		for _, m := range c.Methods {
			fn, err := ResolveMethod(*c, m, ff.Functions)
			if err != nil {
				errs = append(errs, err)
				continue
			}
			c.MethodsInfo = append(c.MethodsInfo, fn)
		}
	}
	return errs
}
