package bridge

import (
	"github.com/dr-dobermann/syncbus/bus"
	"github.com/dr-dobermann/syncbus/internal/errs"
)

// ResolveOperation looks up the operation name on the svc interface.
func ResolveOperation(svc *bus.Service, name string) (bus.Operation, error) {
	if svc == nil {
		return bus.Operation{},
			newComponentError(errs.ErrServiceNotRegistered, nil,
				"invocation failure: no service to resolve operation '%s' on", name)
	}

	op, ok := svc.Interface().Operation(name)
	if !ok {
		return bus.Operation{},
			newComponentError(errs.ErrOperationNotFound, nil,
				"invocation failure: operation '%s' is not defined on service '%s'",
				name, svc.Name())
	}

	return op, nil
}
