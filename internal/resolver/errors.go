package resolver

import (
	"fmt"

	"golang.org/x/xerrors"
)

// UnresolvableError indicates no version of a package satisfies the
// accumulated requirement chain that led to it, even after considering
// multi-version coexistence (component D, §4.3).
type UnresolvableError struct {
	Name        string
	Specifiers  []string
	Frame       xerrors.Frame
}

func newUnresolvableError(name string, specifiers []string) *UnresolvableError {
	return &UnresolvableError{Name: name, Specifiers: specifiers, Frame: xerrors.Caller(1)}
}

func (e *UnresolvableError) Error() string {
	return fmt.Sprintf("no version of %s satisfies %v", e.Name, e.Specifiers)
}

func (e *UnresolvableError) Format(f fmt.State, c rune) { xerrors.FormatError(e, f, c) }

func (e *UnresolvableError) FormatError(p xerrors.Printer) error {
	p.Print(e.Error())
	e.Frame.Format(p)

	return nil
}

// RequiresPythonError indicates every version of a package satisfying its
// requirement chain also requires a Python version the active interpreter
// doesn't provide (§4.3 step 2, §7's "RequiresPython" error kind).
type RequiresPythonError struct {
	Name        string
	Version     string
	Required    string
	Interpreter string
	Frame       xerrors.Frame
}

func newRequiresPythonError(name, version, required, interpreter string) *RequiresPythonError {
	return &RequiresPythonError{Name: name, Version: version, Required: required, Interpreter: interpreter, Frame: xerrors.Caller(1)}
}

func (e *RequiresPythonError) Error() string {
	return fmt.Sprintf("%s %s requires Python %s, active interpreter is %s", e.Name, e.Version, e.Required, e.Interpreter)
}

func (e *RequiresPythonError) Format(f fmt.State, c rune) { xerrors.FormatError(e, f, c) }

func (e *RequiresPythonError) FormatError(p xerrors.Printer) error {
	p.Print(e.Error())
	e.Frame.Format(p)

	return nil
}
