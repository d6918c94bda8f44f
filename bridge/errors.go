package bridge

import (
	"fmt"

	"github.com/dr-dobermann/syncbus/bus"
)

// ComponentError is raised by the bridge on both sides of an exchange.
//
// Kind holds one of the errs sentinels so callers could check it with
// errors.Is. Cause is the error the ComponentError wraps, if any.
type ComponentError struct {
	Kind  error
	Msg   string
	Cause error

	// Fault is set when the error was built from a fault exchange.
	Fault *bus.Exchange
}

func newComponentError(
	kind, cause error,
	format string,
	a ...interface{}) *ComponentError {

	return &ComponentError{
		Kind:  kind,
		Msg:   fmt.Sprintf(format, a...),
		Cause: cause,
	}
}

func (ce *ComponentError) Error() string {
	if ce.Cause != nil {
		return ce.Msg + " : " + ce.Cause.Error()
	}

	return ce.Msg
}

func (ce *ComponentError) Unwrap() []error {
	ee := make([]error, 0, 2)

	if ce.Kind != nil {
		ee = append(ee, ce.Kind)
	}

	if ce.Cause != nil {
		ee = append(ee, ce.Cause)
	}

	return ee
}

// InvocationTargetError wraps an error returned (or a panic raised) by
// the method a provider invoked reflectively.
type InvocationTargetError struct {
	Method string
	Err    error
}

func (ite *InvocationTargetError) Error() string {
	return fmt.Sprintf("invocation of '%s' failed: %v", ite.Method, ite.Err)
}

func (ite *InvocationTargetError) Unwrap() error {
	return ite.Err
}

// WrapTargetError wraps err returned by the method into a fault payload
// which FaultError unwraps back into err.
func WrapTargetError(service string, m Method, err error) *ComponentError {
	return newComponentError(nil,
		&InvocationTargetError{Method: m.Name, Err: err},
		"bean service operation '%s#%s' failed", service, m.Name)
}
