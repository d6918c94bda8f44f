package endpoint

import (
	"fmt"

	"github.com/dr-dobermann/syncbus/bus"
)

// PortOperation is the wire-side description of an operation the
// endpoint exposes.
//
// InputType and OutputType are the qualified names of the request and
// response payload elements.
type PortOperation struct {
	Name       string
	Pattern    bus.ExchangePattern
	InputType  string
	OutputType string
}

// Port lists the operations exposed by an endpoint.
type Port struct {
	name string
	ops  map[string]PortOperation
}

// NewPort creates a new Port. Operations are looked up by the exact name.
func NewPort(name string, ops ...PortOperation) (*Port, error) {
	if name == "" {
		return nil, fmt.Errorf("port name is empty")
	}

	p := &Port{
		name: name,
		ops:  make(map[string]PortOperation, len(ops)),
	}

	for _, op := range ops {
		if op.Name == "" {
			return nil, fmt.Errorf("port '%s' has operation with empty name", name)
		}

		if op.InputType == "" {
			return nil, fmt.Errorf("port operation '%s' has no input type", op.Name)
		}

		if op.Pattern == bus.RequestResponse && op.OutputType == "" {
			return nil, fmt.Errorf("port operation '%s' has no output type", op.Name)
		}

		if _, ok := p.ops[op.Name]; ok {
			return nil, fmt.Errorf("duplicated port operation '%s'", op.Name)
		}

		p.ops[op.Name] = op
	}

	return p, nil
}

func (p *Port) Name() string { return p.name }

func (p *Port) Operation(name string) (PortOperation, bool) {
	op, ok := p.ops[name]

	return op, ok
}
