// syncbus is a synchronous invocation bridge over an
// asynchronous in-memory service bus.
//
// (c) 2021, Ruslan Gabitov a.k.a. dr-dobermann.
// Use of this source is governed by LGPL license that
// can be found in the LICENSE file.
//
/*
Package endpoint is the protocol entry of syncbus.

Endpoint turns a synchronous SOAP request into a bus exchange with the
local service and waits for its completion. Every call gets its own
result slot, so a completion which comes too late never leaks into
another call's response.
*/
package endpoint

import (
	"fmt"
	"sync"
	"time"

	"github.com/dr-dobermann/syncbus/bridge"
	"github.com/dr-dobermann/syncbus/bus"
	"github.com/dr-dobermann/syncbus/internal/errs"
	"github.com/dr-dobermann/syncbus/soap"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

const (
	DefaultWaitTimeout  = 15 * time.Second
	DefaultPollInterval = 100 * time.Millisecond

	// MessageName is the message context property holding the local name
	// of the request payload.
	MessageName = "MESSAGE_NAME"
)

// Composer makes a bus message from the raw request.
type Composer interface {
	Compose(raw []byte, ex *bus.Exchange) (*bus.Message, error)
}

// Decomposer makes a raw response from the completed exchange.
type Decomposer interface {
	Decompose(ex *bus.Exchange) ([]byte, error)
}

// Option configures an Endpoint.
type Option func(ep *Endpoint)

// WithWaitTimeout sets the longest time a two-way call waits for the reply.
func WithWaitTimeout(d time.Duration) Option {
	return func(ep *Endpoint) {
		if d > 0 {
			ep.waitTimeout = d
		}
	}
}

// WithPollInterval sets the interval of the reply checks.
func WithPollInterval(d time.Duration) Option {
	return func(ep *Endpoint) {
		if d > 0 {
			ep.pollInterval = d
		}
	}
}

func WithComposer(c Composer) Option {
	return func(ep *Endpoint) {
		if c != nil {
			ep.composer = c
		}
	}
}

func WithDecomposer(d Decomposer) Option {
	return func(ep *Endpoint) {
		if d != nil {
			ep.decomposer = d
		}
	}
}

// =============================================================================
// Endpoint exposes a single bus service over the Port.
type Endpoint struct {
	sync.Mutex

	id   uuid.UUID
	name string

	bus         bridge.Bus
	serviceName string
	service     *bus.Service
	port        *Port

	composer   Composer
	decomposer Decomposer

	waitTimeout  time.Duration
	pollInterval time.Duration

	log *zap.SugaredLogger

	runned bool
}

// New creates an Endpoint of the service on the bus b.
func New(
	id uuid.UUID,
	name string,
	b bridge.Bus,
	service string,
	port *Port,
	log *zap.SugaredLogger,
	opts ...Option) (*Endpoint, error) {

	if b == nil {
		return nil, fmt.Errorf("bus isn't set for endpoint '%s'", name)
	}

	if service == "" {
		return nil, errs.ErrEmptyServiceName
	}

	if port == nil {
		return nil, fmt.Errorf("port isn't set for endpoint '%s'", name)
	}

	if log == nil {
		return nil, errs.ErrNoLogger
	}

	if id == uuid.Nil {
		id = uuid.New()
	}

	if name == "" {
		name = port.Name()
	}

	ep := &Endpoint{
		id:           id,
		name:         name,
		bus:          b,
		serviceName:  service,
		port:         port,
		composer:     soap.DefaultComposer{},
		decomposer:   soap.DefaultDecomposer{},
		waitTimeout:  DefaultWaitTimeout,
		pollInterval: DefaultPollInterval,
		log:          log.Named("EP: " + name),
	}

	for _, o := range opts {
		o(ep)
	}

	return ep, nil
}

func (ep *Endpoint) ID() uuid.UUID { return ep.id }

func (ep *Endpoint) Name() string { return ep.name }

func (ep *Endpoint) Logger() *zap.SugaredLogger { return ep.log }

func (ep *Endpoint) IsRunned() bool {
	ep.Lock()
	defer ep.Unlock()

	return ep.runned
}

// Start looks up the target service and makes the endpoint
// ready for calls.
func (ep *Endpoint) Start() error {
	ep.Lock()
	defer ep.Unlock()

	if ep.runned {
		return errs.ErrAlreadyRunned
	}

	svc, ok := ep.bus.Service(ep.serviceName)
	if !ok {
		return fmt.Errorf("target service not registered: %s: %w",
			ep.serviceName, errs.ErrServiceNotRegistered)
	}

	ep.service = svc
	ep.runned = true

	ep.log.Infow("endpoint started",
		"service", ep.serviceName,
		"port", ep.port.Name())

	return nil
}

// Stop stops the endpoint. Calls in progress finish as usual.
func (ep *Endpoint) Stop() {
	ep.Lock()
	defer ep.Unlock()

	if !ep.runned {
		return
	}

	ep.runned = false

	ep.log.Infow("endpoint stopped")
}

// Invoke serves a single raw request on a new Worker.
func (ep *Endpoint) Invoke(raw []byte) []byte {
	return ep.NewWorker().Invoke(raw)
}

// NewWorker returns a Worker of the endpoint. Protocol fronts keep one
// Worker per serving goroutine.
func (ep *Endpoint) NewWorker() *Worker {
	return &Worker{ep: ep}
}

// =============================================================================
// Worker serves endpoint calls. Every call gets its own result slot,
// so a Worker could be shared by concurrent callers.
type Worker struct {
	sync.Mutex

	ep      *Endpoint
	pending int
}

// Pending reports if the Worker has a call in progress.
func (w *Worker) Pending() bool {
	w.Lock()
	defer w.Unlock()

	return w.pending > 0
}

func (w *Worker) attach() *resultSlot {
	w.Lock()
	w.pending++
	w.Unlock()

	return new(resultSlot)
}

func (w *Worker) detach() {
	w.Lock()
	w.pending--
	w.Unlock()
}

// Invoke sends the raw request to the endpoint service and returns
// the raw response.
//
// Invoke never fails: errors are returned as SOAP faults for two-way
// operations and only logged for one-way ones. nil is returned
// for one-way operations, unparsable requests and timed out calls.
func (w *Worker) Invoke(raw []byte) []byte {
	ep := w.ep
	slot := w.attach()

	defer w.detach()

	ep.Lock()
	runned, svc := ep.runned, ep.service
	ep.Unlock()

	opName, err := soap.OperationName(raw)
	if err != nil {
		ep.log.Errorw("invalid request", zap.Error(err))

		return nil
	}

	pOp, ok := ep.port.Operation(opName)
	if !ok {
		ep.log.Errorw("operation isn't exposed by port",
			"operation", opName,
			"port", ep.port.Name())

		return nil
	}

	if !runned {
		w.handleError(slot, pOp, fmt.Errorf("endpoint '%s': %w", ep.name, errs.ErrNotRunned))

		return w.response(slot)
	}

	op, err := bridge.ResolveOperation(svc, opName)
	if err != nil {
		w.handleError(slot, pOp, err)

		return w.response(slot)
	}

	if err := w.send(slot, svc, op, pOp, raw); err != nil {
		w.handleError(slot, pOp, err)

		return w.response(slot)
	}

	if pOp.Pattern == bus.OneWay {
		return nil
	}

	// one-way service never replies
	if op.Pattern == bus.OneWay {
		return nil
	}

	w.waitForResponse(slot)

	return w.response(slot)
}

// send creates the exchange for the operation and sends the request on it.
func (w *Worker) send(
	slot *resultSlot,
	svc *bus.Service,
	op bus.Operation,
	pOp PortOperation,
	raw []byte) error {

	ep := w.ep

	c := bus.NewContract(op)

	ex, err := ep.bus.CreateExchange(svc, c,
		&callHandler{ep: ep, slot: slot, log: ep.log})
	if err != nil {
		return err
	}

	msg, err := ep.composer.Compose(raw, ex)
	if err != nil {
		return err
	}

	msg.Context().SetProperty(MessageName, soap.LocalPart(pOp.InputType), bus.ScopeIn)

	if err := c.SetInputType(pOp.InputType); err != nil {
		return err
	}

	if err := c.SetAcceptedFaultType(soap.FaultMessageType); err != nil {
		return err
	}

	if pOp.Pattern == bus.RequestResponse {
		if err := c.SetAcceptedOutputType(pOp.OutputType); err != nil {
			return err
		}
	}

	ep.log.Debugw("sending request",
		"exID", ex.ID(),
		"operation", op.Name)

	return ex.Send(msg)
}

// waitForResponse polls the slot until it's filled or the wait timeout
// is over.
func (w *Worker) waitForResponse(slot *resultSlot) {
	deadline := time.Now().Add(w.ep.waitTimeout)

	for time.Now().Before(deadline) {
		if _, ok := slot.get(); ok {
			return
		}

		time.Sleep(w.ep.pollInterval)
	}

	w.ep.log.Warnw("response wait timeout",
		"timeout", w.ep.waitTimeout)
}

func (w *Worker) handleError(slot *resultSlot, pOp PortOperation, err error) {
	if pOp.Pattern == bus.OneWay {
		w.ep.log.Errorw("one-way call failed",
			"operation", pOp.Name,
			zap.Error(err))

		return
	}

	slot.put(soap.GenerateFault(err))
}

func (w *Worker) response(slot *resultSlot) []byte {
	resp, _ := slot.get()

	return resp
}
