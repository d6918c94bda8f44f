package bridge

import (
	"reflect"

	"github.com/dr-dobermann/syncbus/bus"
	"github.com/dr-dobermann/syncbus/internal/errs"
)

// Invocation holds a single provider-side call of the method m
// made from the exchange request.
type Invocation struct {
	method   Method
	exchange *bus.Exchange
	args     []interface{}
}

// NewInvocation validates the exchange request against the method and
// extracts the method arguments from it.
//
// The request type is checked before anything else. Argument errors are
// reported here so the method is never called with a wrong payload.
func NewInvocation(m Method, ex *bus.Exchange) (*Invocation, error) {
	inv := &Invocation{
		method:   m,
		exchange: ex,
	}

	if !ex.TransformsApplied() {
		return nil, newComponentError(errs.ErrTypeMismatch, nil,
			"bean service operation '%s' requires a payload type of '%s'. "+
				"Actual payload type is '%s'. You must define and register "+
				"a Transformer to transform between these types",
			inv.operationName(), ex.TargetMessageType(), ex.CurrentMessageType())
	}

	var content interface{}
	if msg := ex.Message(); msg != nil {
		content = msg.Content
	}

	inv.args = castArg(m, content)

	if err := m.CheckArity(); err != nil {
		return nil, err
	}

	if err := inv.assertTypesMatch(); err != nil {
		return nil, err
	}

	return inv, nil
}

// Args returns the invocation arguments.
func (inv *Invocation) Args() []interface{} {
	return append([]interface{}{}, inv.args...)
}

func (inv *Invocation) Method() Method { return inv.method }

func (inv *Invocation) Exchange() *bus.Exchange { return inv.exchange }

// Values returns the arguments ready for reflect.Value.Call.
func (inv *Invocation) Values() []reflect.Value {
	vv := make([]reflect.Value, 0, len(inv.args))

	for i, a := range inv.args {
		if a == nil {
			vv = append(vv, reflect.Zero(inv.method.Params[i]))

			continue
		}

		vv = append(vv, reflect.ValueOf(a))
	}

	return vv
}

func (inv *Invocation) assertTypesMatch() error {
	if len(inv.args) == 0 {
		if len(inv.method.Params) != 0 {
			return newComponentError(errs.ErrTypeMismatch, nil,
				"bean service operation '%s' requires a single argument. "+
					"Exchange payload specifies no payload", inv.operationName())
		}

		return nil
	}

	if len(inv.args) > 1 {
		return newComponentError(errs.ErrUnsupportedArity, nil,
			"bean service operation '%s' only supports a single argument. "+
				"Exchange payload specifies %d args",
			inv.operationName(), len(inv.args))
	}

	return checkArgType(inv.operationName(), inv.method.Params[0], inv.args[0])
}

func (inv *Invocation) operationName() string {
	return inv.exchange.Service().Name() + "#" + inv.method.Name
}
