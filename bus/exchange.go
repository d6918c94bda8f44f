package bus

import (
	"fmt"
	"sync"

	"github.com/dr-dobermann/syncbus/internal/errs"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// ExchangeHandler receives Exchange completions.
//
// For a consumer exactly one of the methods is called once per Exchange
// on a bus-owned goroutine.
// For a provider HandleMessage is called with the request message.
type ExchangeHandler interface {
	HandleMessage(ex *Exchange) error
	HandleFault(ex *Exchange)
}

// HandlerFunc is an ExchangeHandler which handles messages and
// faults in the same way.
type HandlerFunc func(ex *Exchange) error

func (hf HandlerFunc) HandleMessage(ex *Exchange) error {
	return hf(ex)
}

func (hf HandlerFunc) HandleFault(ex *Exchange) {
	_ = hf(ex)
}

// =============================================================================
// Contract is an operation plus the message types negotiated for a
// single invocation.
//
// Contract is sealed once its exchange sends the request. Setters fail
// on sealed contracts.
type Contract struct {
	sync.Mutex

	op Operation

	inputType          string
	acceptedOutputType string
	acceptedFaultType  string

	sealed bool
}

// NewContract creates a Contract with types declared by op.
func NewContract(op Operation) *Contract {
	return &Contract{
		op:                 op,
		inputType:          op.InputType,
		acceptedOutputType: op.OutputType,
		acceptedFaultType:  op.FaultType,
	}
}

func (c *Contract) Operation() Operation { return c.op }

func (c *Contract) InputType() string {
	c.Lock()
	defer c.Unlock()

	return c.inputType
}

func (c *Contract) AcceptedOutputType() string {
	c.Lock()
	defer c.Unlock()

	return c.acceptedOutputType
}

func (c *Contract) AcceptedFaultType() string {
	c.Lock()
	defer c.Unlock()

	return c.acceptedFaultType
}

func (c *Contract) SetInputType(t string) error {
	return c.set(&c.inputType, t)
}

func (c *Contract) SetAcceptedOutputType(t string) error {
	return c.set(&c.acceptedOutputType, t)
}

func (c *Contract) SetAcceptedFaultType(t string) error {
	return c.set(&c.acceptedFaultType, t)
}

// Sealed reports if the contract couldn't be changed anymore.
func (c *Contract) Sealed() bool {
	c.Lock()
	defer c.Unlock()

	return c.sealed
}

func (c *Contract) set(field *string, t string) error {
	c.Lock()
	defer c.Unlock()

	if c.sealed {
		return fmt.Errorf("operation '%s': %w", c.op.Name, errs.ErrContractSealed)
	}

	*field = t

	return nil
}

func (c *Contract) seal() {
	c.Lock()
	c.sealed = true
	c.Unlock()
}

// =============================================================================
// ExchangeState is the current state of the Exchange.
type ExchangeState uint8

const (
	Active ExchangeState = iota
	OK
	Fault
)

func (s ExchangeState) String() string {
	return []string{
		"ACTIVE",
		"OK",
		"FAULT",
	}[s]
}

// Exchange is a single request (and optional reply) flowing through
// the bus. An Exchange completes only once and can't be changed after that.
type Exchange struct {
	sync.Mutex

	id uuid.UUID

	domain   *Domain
	service  *Service
	contract *Contract
	handler  ExchangeHandler

	ctx *Context

	state ExchangeState
	msg   *Message
	sent  bool

	// type the current message is expected to have
	target string

	log *zap.SugaredLogger
}

func (ex *Exchange) ID() uuid.UUID { return ex.id }

func (ex *Exchange) Service() *Service { return ex.service }

func (ex *Exchange) Contract() *Contract { return ex.contract }

// Context returns the exchange-wide context.
func (ex *Exchange) Context() *Context { return ex.ctx }

func (ex *Exchange) State() ExchangeState {
	ex.Lock()
	defer ex.Unlock()

	return ex.state
}

// Message returns the current message of the exchange.
func (ex *Exchange) Message() *Message {
	ex.Lock()
	defer ex.Unlock()

	return ex.msg
}

// CreateMessage returns a new empty Message.
func (ex *Exchange) CreateMessage() *Message {
	return NewMessage()
}

// TransformsApplied checks if the current message has the type
// the exchange expects on its current phase.
func (ex *Exchange) TransformsApplied() bool {
	ex.Lock()
	defer ex.Unlock()

	return ex.target == "" || ex.msg == nil || ex.msg.Type == ex.target
}

// CurrentMessageType returns the type of the current message.
func (ex *Exchange) CurrentMessageType() string {
	ex.Lock()
	defer ex.Unlock()

	if ex.msg == nil {
		return ""
	}

	return ex.msg.Type
}

// TargetMessageType returns the type the current message should have.
func (ex *Exchange) TargetMessageType() string {
	ex.Lock()
	defer ex.Unlock()

	return ex.target
}

// Send sends the request message to the service provider.
//
// An Exchange sends only one request. The contract is sealed by Send.
func (ex *Exchange) Send(msg *Message) error {
	if msg == nil {
		return errs.ErrEmptyMessage
	}

	ex.Lock()
	if ex.state != Active {
		ex.Unlock()

		return fmt.Errorf("exchange %v: %w", ex.id, errs.ErrExchangeCompleted)
	}

	if ex.sent {
		ex.Unlock()

		return fmt.Errorf("exchange %v request already sent", ex.id)
	}

	ex.sent = true
	ex.contract.seal()

	if msg.Type == "" {
		msg.Type = ex.contract.InputType()
	}

	ex.msg = msg
	ex.target = ex.contract.Operation().InputType
	ex.applyTransform()
	ex.Unlock()

	ex.log.Debugw("request sent",
		"exID", ex.id,
		"type", msg.Type)

	return ex.domain.dispatch(ex)
}

// Reply completes a RequestResponse exchange with the msg.
func (ex *Exchange) Reply(msg *Message) error {
	if msg == nil {
		return errs.ErrEmptyMessage
	}

	if ex.contract.Operation().Pattern != RequestResponse {
		return fmt.Errorf("couldn't reply on one-way operation '%s'",
			ex.contract.Operation().Name)
	}

	if msg.Type == "" {
		msg.Type = ex.contract.Operation().OutputType
	}

	return ex.complete(OK, msg, ex.contract.AcceptedOutputType())
}

// SendFault completes the exchange with a fault msg.
func (ex *Exchange) SendFault(msg *Message) error {
	if msg == nil {
		return errs.ErrEmptyMessage
	}

	if msg.Type == "" {
		if _, ok := msg.Content.(error); ok {
			msg.Type = ErrorType
		} else {
			msg.Type = ex.contract.Operation().FaultType
		}
	}

	return ex.complete(Fault, msg, ex.contract.AcceptedFaultType())
}

// complete moves the exchange into the terminal state st and
// notifies the consumer handler if there is one.
func (ex *Exchange) complete(st ExchangeState, msg *Message, target string) error {
	ex.Lock()
	if ex.state != Active {
		ex.Unlock()

		return fmt.Errorf("exchange %v: %w", ex.id, errs.ErrExchangeCompleted)
	}

	if msg != nil {
		ex.msg = msg
		ex.target = target
		ex.applyTransform()
	}

	ex.state = st
	h := ex.handler
	ex.Unlock()

	ex.log.Debugw("exchange completed",
		"exID", ex.id,
		"state", st.String())

	if h != nil {
		ex.domain.notify(ex, h, st)
	}

	return nil
}

// applyTransform converts the current message into the target type
// if there is a transformer for it.
//
// ex should be locked by the caller.
func (ex *Exchange) applyTransform() {
	if ex.target == "" || ex.msg.Type == ex.target {
		return
	}

	tr := ex.domain.Transformers()
	if tr == nil {
		return
	}

	t, ok := tr.Get(ex.msg.Type, ex.target)
	if !ok {
		return
	}

	c, err := t.Transform(ex.msg.Content)
	if err != nil {
		ex.log.Warnw("transformation failed",
			"exID", ex.id,
			"from", ex.msg.Type,
			"to", ex.target,
			zap.Error(err))

		return
	}

	ex.msg.Content = c
	ex.msg.Type = t.To()
}
