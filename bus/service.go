package bus

import (
	"fmt"
	"sort"
	"strings"
)

// ExchangePattern tells if a reply is expected for an operation.
type ExchangePattern uint8

const (
	OneWay ExchangePattern = iota
	RequestResponse
)

func (p ExchangePattern) String() string {
	return []string{
		"ONE_WAY",
		"REQUEST_RESPONSE",
	}[p]
}

// ParsePattern returns the ExchangePattern named s.
//
// Besides canonical names it accepts in-only/in-out aliases.
func ParsePattern(s string) (ExchangePattern, error) {
	switch strings.ToUpper(strings.Trim(s, " ")) {
	case "ONE_WAY", "IN_ONLY", "ONEWAY":
		return OneWay, nil

	case "REQUEST_RESPONSE", "IN_OUT", "":
		return RequestResponse, nil
	}

	return OneWay, fmt.Errorf("invalid exchange pattern '%s'", s)
}

// =============================================================================
// Operation describes a single service operation.
//
// OutputType is meaningful only for RequestResponse operations.
type Operation struct {
	Name       string
	Pattern    ExchangePattern
	InputType  string
	OutputType string
	FaultType  string
}

// Interface maps operation names to their Operations.
type Interface struct {
	ops map[string]Operation
}

// NewInterface creates an Interface from the operations list.
//
// Operations with empty or duplicated names are rejected.
func NewInterface(ops ...Operation) (*Interface, error) {
	iface := &Interface{ops: make(map[string]Operation, len(ops))}

	for _, op := range ops {
		if op.Name == "" {
			return nil, fmt.Errorf("operation name is empty")
		}

		if _, ok := iface.ops[op.Name]; ok {
			return nil, fmt.Errorf("duplicated operation '%s'", op.Name)
		}

		if op.Pattern == OneWay {
			op.OutputType = ""
		}

		iface.ops[op.Name] = op
	}

	return iface, nil
}

// Operation looks up the operation by its exact name.
func (i *Interface) Operation(name string) (Operation, bool) {
	if i == nil {
		return Operation{}, false
	}

	op, ok := i.ops[name]

	return op, ok
}

// Operations returns all operations sorted by name.
func (i *Interface) Operations() []Operation {
	if i == nil {
		return nil
	}

	ops := make([]Operation, 0, len(i.ops))
	for _, op := range i.ops {
		ops = append(ops, op)
	}

	sort.Slice(ops, func(k, j int) bool {
		return ops[k].Name < ops[j].Name
	})

	return ops
}

// =============================================================================
// Service is a named Interface registered on the Domain along with its
// provider. Services are read-only once registered.
type Service struct {
	name     string
	iface    *Interface
	provider ExchangeHandler
}

func (s *Service) Name() string { return s.name }

func (s *Service) Interface() *Interface { return s.iface }

func (s *Service) String() string { return s.name }
