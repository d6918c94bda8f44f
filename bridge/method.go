package bridge

import (
	"fmt"
	"reflect"

	"github.com/dr-dobermann/syncbus/internal/errs"
)

var errorType = reflect.TypeOf((*error)(nil)).Elem()

// TypeID returns the message type identifier of the Go type t.
func TypeID(t reflect.Type) string {
	if t == nil {
		return ""
	}

	return "go:" + t.String()
}

// Method describes a Go method invoked over the bus.
//
// Result is nil for methods which return nothing but an error.
type Method struct {
	Name     string
	Params   []reflect.Type
	Result   reflect.Type
	Variadic bool
}

// IsVoid reports if the method has no result to wait for.
func (m Method) IsVoid() bool {
	return m.Result == nil
}

// CheckArity fails for methods with more than one parameter.
func (m Method) CheckArity() error {
	if len(m.Params) > 1 || m.Variadic {
		return newComponentError(errs.ErrUnsupportedArity, nil,
			"operation '%s' has more than 1 argument: only single "+
				"argument operations are supported", m.Name)
	}

	return nil
}

// MethodOf builds a Method from the function type ft.
// ft shouldn't have a receiver parameter.
func MethodOf(name string, ft reflect.Type) (Method, error) {
	if ft == nil || ft.Kind() != reflect.Func {
		return Method{}, fmt.Errorf("'%s' isn't a function", name)
	}

	m := Method{
		Name:     name,
		Params:   make([]reflect.Type, 0, ft.NumIn()),
		Variadic: ft.IsVariadic(),
	}

	for i := 0; i < ft.NumIn(); i++ {
		m.Params = append(m.Params, ft.In(i))
	}

	switch ft.NumOut() {
	case 0:

	case 1:
		if ft.Out(0) != errorType {
			m.Result = ft.Out(0)
		}

	case 2:
		if ft.Out(1) != errorType {
			return Method{},
				fmt.Errorf("method '%s' second result should be an error", name)
		}

		m.Result = ft.Out(0)

	default:
		return Method{},
			fmt.Errorf("method '%s' has more than 2 results", name)
	}

	return m, nil
}

// MethodsOf returns all methods of the interface type iface.
func MethodsOf(iface reflect.Type) (map[string]Method, error) {
	if iface == nil || iface.Kind() != reflect.Interface {
		return nil, fmt.Errorf("%v isn't an interface type", iface)
	}

	mm := make(map[string]Method, iface.NumMethod())

	for i := 0; i < iface.NumMethod(); i++ {
		im := iface.Method(i)

		m, err := MethodOf(im.Name, im.Type)
		if err != nil {
			return nil, fmt.Errorf("interface %v: %w", iface, err)
		}

		mm[m.Name] = m
	}

	return mm, nil
}

// AdaptArgs converts the caller's arguments into a single message payload.
//
// A single argument is wrapped into []interface{} unless it's already
// an []interface{}. Methods without parameters get nil payload.
func AdaptArgs(service string, m Method, args []interface{}) (interface{}, error) {
	if err := m.CheckArity(); err != nil {
		return nil, err
	}

	opName := service + "#" + m.Name

	if len(m.Params) == 0 {
		if len(args) != 0 {
			return nil, newComponentError(errs.ErrUnsupportedArity, nil,
				"operation '%s' takes no arguments, got %d", opName, len(args))
		}

		return nil, nil
	}

	switch {
	case len(args) == 0:
		return nil, newComponentError(errs.ErrTypeMismatch, nil,
			"operation '%s' requires a single argument", opName)

	case len(args) > 1:
		return nil, newComponentError(errs.ErrUnsupportedArity, nil,
			"operation '%s' only supports a single argument, got %d",
			opName, len(args))
	}

	payload := castArg(m, args[0])
	if args[0] == nil {
		payload = []interface{}{nil}
	}

	if len(payload) == 0 {
		return nil, newComponentError(errs.ErrTypeMismatch, nil,
			"operation '%s' requires a single argument", opName)
	}

	if len(payload) > 1 {
		return nil, newComponentError(errs.ErrUnsupportedArity, nil,
			"operation '%s' only supports a single argument, got %d",
			opName, len(payload))
	}

	if err := checkArgType(opName, m.Params[0], payload[0]); err != nil {
		return nil, err
	}

	return payload, nil
}

// castArg turns the payload of a single parameter method into the
// arguments slice. []interface{} content passes through unchanged.
func castArg(m Method, content interface{}) []interface{} {
	if len(m.Params) != 1 || content == nil {
		return nil
	}

	if aa, ok := content.([]interface{}); ok {
		return aa
	}

	return []interface{}{content}
}

// checkArgType fails if non-nil arg couldn't be assigned to the pt.
func checkArgType(opName string, pt reflect.Type, arg interface{}) error {
	if arg == nil {
		return nil
	}

	if at := reflect.TypeOf(arg); !at.AssignableTo(pt) {
		return newComponentError(errs.ErrTypeMismatch, nil,
			"operation '%s' requires a payload type of '%v'. "+
				"Actual payload type is '%v'", opName, pt, at)
	}

	return nil
}
