package bridge

import (
	"github.com/dr-dobermann/syncbus/bus"
	"github.com/dr-dobermann/syncbus/internal/errs"
)

// FaultError turns the fault exchange ex into the error its consumer
// should see.
//
// A ComponentError payload is unwrapped one level: if its cause is an
// InvocationTargetError, the target's own error is returned, otherwise the
// cause itself. Any other error payload is returned as is. Non-error
// payloads produce an ErrInvocationFailure ComponentError.
func FaultError(ex *bus.Exchange, service, operation string) error {
	var content interface{}
	if msg := ex.Message(); msg != nil {
		content = msg.Content
	}

	if err, ok := content.(error); ok {
		return unwrapFault(err)
	}

	ce := newComponentError(errs.ErrInvocationFailure, nil,
		"bean component invocation failure. Service '%s', operation '%s': "+
			"unexpected fault payload of type %T", service, operation, content)
	ce.Fault = ex

	return ce
}

func unwrapFault(err error) error {
	ce, ok := err.(*ComponentError)
	if !ok || ce.Cause == nil {
		return err
	}

	if ite, ok := ce.Cause.(*InvocationTargetError); ok && ite.Err != nil {
		return ite.Err
	}

	return ce.Cause
}
