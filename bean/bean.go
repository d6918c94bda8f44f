/*
Package bean exposes Go values as bus services.

A bean service is declared by a Go interface. Every interface method
becomes a service operation: methods with a result (besides a trailing
error) are request-response operations, methods without it are one-way.
Method parameter and result types are turned into message type
identifiers with bridge.TypeID.
*/
package bean

import (
	"fmt"
	"reflect"

	"github.com/dr-dobermann/syncbus/bridge"
	"github.com/dr-dobermann/syncbus/bus"
	"github.com/dr-dobermann/syncbus/internal/errs"
	"go.uber.org/zap"
)

var errorType = reflect.TypeOf((*error)(nil)).Elem()

// InterfaceOf builds the bus Interface of the Go interface type iface.
func InterfaceOf(iface reflect.Type) (*bus.Interface, error) {
	mm, err := bridge.MethodsOf(iface)
	if err != nil {
		return nil, err
	}

	ops := make([]bus.Operation, 0, len(mm))

	for _, m := range mm {
		op := bus.Operation{
			Name:       m.Name,
			Pattern:    bus.RequestResponse,
			OutputType: bridge.TypeID(m.Result),
			FaultType:  bus.ErrorType,
		}

		if m.IsVoid() {
			op.Pattern = bus.OneWay
		}

		if len(m.Params) == 1 {
			op.InputType = bridge.TypeID(m.Params[0])
		}

		ops = append(ops, op)
	}

	return bus.NewInterface(ops...)
}

// =============================================================================
// Descriptor describes a single bean service.
type Descriptor struct {
	// Name of the service on the bus.
	Name string

	// Interface is the Go interface type the service exposes.
	// Use reflect.TypeOf((*I)(nil)).Elem() to get it.
	Interface reflect.Type

	// Impl implements the Interface.
	Impl interface{}
}

// =============================================================================
// ServiceHandler is the bus provider of a bean service.
//
// It calls the Impl method named by the exchange operation and replies
// with its result or faults with its error.
type ServiceHandler struct {
	name    string
	iface   *bus.Interface
	impl    reflect.Value
	methods map[string]bridge.Method

	log *zap.SugaredLogger
}

// NewServiceHandler creates a provider for the bean described by d.
func NewServiceHandler(d Descriptor, log *zap.SugaredLogger) (*ServiceHandler, error) {
	if d.Name == "" {
		return nil, errs.ErrEmptyServiceName
	}

	if log == nil {
		return nil, errs.ErrNoLogger
	}

	if d.Impl == nil {
		return nil, fmt.Errorf("bean '%s': %w", d.Name, errs.ErrNoProvider)
	}

	mm, err := bridge.MethodsOf(d.Interface)
	if err != nil {
		return nil, fmt.Errorf("bean '%s': %w", d.Name, err)
	}

	impl := reflect.ValueOf(d.Impl)
	if !impl.Type().Implements(d.Interface) {
		return nil, fmt.Errorf("bean '%s': %v doesn't implement %v",
			d.Name, impl.Type(), d.Interface)
	}

	iface, err := InterfaceOf(d.Interface)
	if err != nil {
		return nil, fmt.Errorf("bean '%s': %w", d.Name, err)
	}

	return &ServiceHandler{
		name:    d.Name,
		iface:   iface,
		impl:    impl,
		methods: mm,
		log:     log.Named("BEAN: " + d.Name),
	}, nil
}

// Name returns the bean service name.
func (sh *ServiceHandler) Name() string {
	return sh.name
}

// Interface returns the bus Interface of the bean.
func (sh *ServiceHandler) Interface() *bus.Interface {
	return sh.iface
}

// HandleMessage invokes the bean method for the exchange request.
//
// Invocation problems and method errors complete the exchange with
// a fault, so HandleMessage returns an error only when the exchange
// couldn't be completed at all.
func (sh *ServiceHandler) HandleMessage(ex *bus.Exchange) error {
	op := ex.Contract().Operation()

	m, ok := sh.methods[op.Name]
	if !ok {
		return ex.SendFault(ex.CreateMessage().SetContent(
			&bridge.ComponentError{
				Kind: errs.ErrOperationNotFound,
				Msg: fmt.Sprintf("bean '%s' has no method '%s'",
					sh.name, op.Name),
			}))
	}

	inv, err := bridge.NewInvocation(m, ex)
	if err != nil {
		sh.log.Debugw("invalid invocation",
			"exID", ex.ID(),
			"operation", op.Name,
			zap.Error(err))

		return ex.SendFault(ex.CreateMessage().SetContent(err))
	}

	res, err := sh.call(inv)
	if err != nil {
		sh.log.Debugw("bean method failed",
			"exID", ex.ID(),
			"operation", op.Name,
			zap.Error(err))

		return ex.SendFault(ex.CreateMessage().SetContent(
			bridge.WrapTargetError(sh.name, m, err)))
	}

	if op.Pattern == bus.OneWay {
		return nil
	}

	return ex.Reply(ex.CreateMessage().SetContent(res))
}

// HandleFault isn't expected on the provider side.
func (sh *ServiceHandler) HandleFault(ex *bus.Exchange) {
	sh.log.Warnw("unexpected fault on provider",
		"exID", ex.ID())
}

// call runs the method of the invocation. A panic in the method is
// returned as its error.
func (sh *ServiceHandler) call(inv *bridge.Invocation) (res interface{}, err error) {
	m := inv.Method()

	defer func() {
		if r := recover(); r != nil {
			res = nil
			err = fmt.Errorf("method '%s' panicked: %v", m.Name, r)
		}
	}()

	out := sh.impl.MethodByName(m.Name).Call(inv.Values())

	for i, v := range out {
		if v.Type() == errorType && i == len(out)-1 {
			if !v.IsNil() {
				return nil, v.Interface().(error)
			}

			continue
		}

		res = v.Interface()
	}

	return res, nil
}
