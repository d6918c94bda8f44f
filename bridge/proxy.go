// syncbus is a synchronous invocation bridge over an
// asynchronous in-memory service bus.
//
// (c) 2021, Ruslan Gabitov a.k.a. dr-dobermann.
// Use of this source is governed by LGPL license that
// can be found in the LICENSE file.

package bridge

import (
	"context"
	"fmt"
	"reflect"
	"time"

	"github.com/dr-dobermann/syncbus/bus"
	"github.com/dr-dobermann/syncbus/internal/errs"
	"go.uber.org/zap"
)

// Bus is the part of the bus Domain the bridge depends on.
type Bus interface {
	Service(name string) (*bus.Service, bool)
	CreateExchange(
		svc *bus.Service,
		c *bus.Contract,
		h bus.ExchangeHandler) (*bus.Exchange, error)
}

// rendezvous is a single slot handoff between the completion callback and
// the waiting caller. Both success and fault go through the same deposit.
type rendezvous chan *bus.Exchange

func (r rendezvous) deposit(ex *bus.Exchange) {
	select {
	case r <- ex:
	default:
	}
}

func (r rendezvous) HandleMessage(ex *bus.Exchange) error {
	r.deposit(ex)

	return nil
}

func (r rendezvous) HandleFault(ex *bus.Exchange) {
	r.deposit(ex)
}

// =============================================================================
// Proxy invokes service operations over the bus and waits for their results
// on the calling goroutine.
//
// Typed clients wrap a Proxy and implement the service interface by calling
// Invoke with their method names.
type Proxy struct {
	bus     Bus
	service string
	methods map[string]Method
	timeout time.Duration

	log *zap.SugaredLogger
}

// ProxyOption configures a Proxy.
type ProxyOption func(p *Proxy)

// WithTimeout limits the time a two-way Invoke waits for the reply.
// By default Invoke waits until the reply comes or its context is done.
func WithTimeout(d time.Duration) ProxyOption {
	return func(p *Proxy) {
		p.timeout = d
	}
}

// NewProxy creates a Proxy to the service which methods are declared
// by the interface type iface.
func NewProxy(
	b Bus,
	service string,
	iface reflect.Type,
	log *zap.SugaredLogger,
	opts ...ProxyOption) (*Proxy, error) {

	if b == nil {
		return nil, fmt.Errorf("bus isn't set for proxy '%s'", service)
	}

	if service == "" {
		return nil, errs.ErrEmptyServiceName
	}

	if log == nil {
		return nil, errs.ErrNoLogger
	}

	mm, err := MethodsOf(iface)
	if err != nil {
		return nil, fmt.Errorf("couldn't create proxy for '%s': %w", service, err)
	}

	p := &Proxy{
		bus:     b,
		service: service,
		methods: mm,
		log:     log.Named("PROXY: " + service),
	}

	for _, o := range opts {
		o(p)
	}

	return p, nil
}

// Service returns the name of the proxied service.
func (p *Proxy) Service() string {
	return p.service
}

// Invoke calls the method on the proxied service.
//
// For methods with a result Invoke blocks until the exchange completes.
// Methods without a result are sent one-way and Invoke returns at once.
func (p *Proxy) Invoke(
	ctx context.Context,
	method string,
	args ...interface{}) (interface{}, error) {

	m, ok := p.methods[method]
	if !ok {
		return nil, newComponentError(errs.ErrOperationNotFound, nil,
			"method '%s' isn't declared for service '%s'", method, p.service)
	}

	svc, ok := p.bus.Service(p.service)
	if !ok {
		return nil, newComponentError(errs.ErrServiceNotRegistered, nil,
			"service not registered: %s", p.service)
	}

	op, err := ResolveOperation(svc, m.Name)
	if err != nil {
		return nil, err
	}

	if op.Pattern == bus.OneWay && !m.IsVoid() {
		return nil, newComponentError(errs.ErrInvocationFailure, nil,
			"method '%s' expects a result but operation '%s' of service '%s' is one-way",
			method, op.Name, p.service)
	}

	payload, err := AdaptArgs(p.service, m, args)
	if err != nil {
		return nil, err
	}

	c := bus.NewContract(op)

	if m.IsVoid() {
		ex, err := p.bus.CreateExchange(svc, c, nil)
		if err != nil {
			return nil, err
		}

		return nil, ex.Send(ex.CreateMessage().SetContent(payload))
	}

	rdv := make(rendezvous, 1)

	ex, err := p.bus.CreateExchange(svc, c, rdv)
	if err != nil {
		return nil, err
	}

	if err := ex.Send(ex.CreateMessage().SetContent(payload)); err != nil {
		return nil, err
	}

	out, err := p.wait(ctx, rdv, m.Name)
	if err != nil {
		return nil, err
	}

	if out.State() == bus.OK {
		return out.Message().Content, nil
	}

	return nil, FaultError(out, p.service, m.Name)
}

func (p *Proxy) wait(
	ctx context.Context,
	rdv rendezvous,
	method string) (*bus.Exchange, error) {

	var tCh <-chan time.Time

	if p.timeout > 0 {
		t := time.NewTimer(p.timeout)
		defer t.Stop()

		tCh = t.C
	}

	select {
	case ex := <-rdv:
		return ex, nil

	case <-ctx.Done():
		return nil, newComponentError(errs.ErrInvocationFailure, ctx.Err(),
			"invocation of '%s#%s' interrupted", p.service, method)

	case <-tCh:
		p.log.Warnw("reply timeout",
			"method", method,
			"timeout", p.timeout)

		return nil, newComponentError(errs.ErrInvocationFailure,
			context.DeadlineExceeded,
			"no reply from '%s#%s' in %v", p.service, method, p.timeout)
	}
}

// InvokeAs calls Invoke and converts its result into R.
func InvokeAs[R any](
	ctx context.Context,
	p *Proxy,
	method string,
	args ...interface{}) (R, error) {

	var zero R

	res, err := p.Invoke(ctx, method, args...)
	if err != nil || res == nil {
		return zero, err
	}

	r, ok := res.(R)
	if !ok {
		return zero, newComponentError(errs.ErrTypeMismatch, nil,
			"'%s#%s' returned %T instead of %T", p.service, method, res, zero)
	}

	return r, nil
}
