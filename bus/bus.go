// syncbus is a synchronous invocation bridge over an
// asynchronous in-memory service bus.
//
// (c) 2021, Ruslan Gabitov a.k.a. dr-dobermann.
// Use of this source is governed by LGPL license that
// can be found in the LICENSE file.
//
/*
Package bus is the in-memory handler-driven message bus of syncbus.

Domain keeps registered Services and delivers Exchanges to their
providers. Every request is delivered on its own goroutine and every
completion callback is fired on a bus-owned goroutine, so consumers
should never expect to be called back on the goroutine they sent from.
*/
package bus

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/dr-dobermann/syncbus/internal/errs"
	"github.com/dr-dobermann/syncbus/transform"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// DomainErr is an error raised by the Domain.
type DomainErr struct {
	dID uuid.UUID
	msg string
	Err error
}

func (dErr DomainErr) Error() string {
	em := fmt.Sprintf("DomainErr[%v] %s", dErr.dID, dErr.msg)
	if dErr.Err != nil {
		em += ": " + dErr.Err.Error()
	}

	return em
}

func (dErr DomainErr) Unwrap() error {
	return dErr.Err
}

// HandlerError is a fault payload created by the Domain when a provider
// returns an error without completing its exchange.
type HandlerError struct {
	Service   string
	Operation string
	Err       error
}

func (he *HandlerError) Error() string {
	return fmt.Sprintf("error invoking '%s' on service '%s': %v",
		he.Operation, he.Service, he.Err)
}

func (he *HandlerError) Unwrap() error {
	return he.Err
}

// =============================================================================
// Domain holds the state of a single bus domain.
type Domain struct {
	sync.Mutex

	ID   uuid.UUID
	Name string
	log  *zap.SugaredLogger

	ctx context.Context

	services     map[string]*Service
	transformers *transform.Registry

	dlvCh chan *Exchange

	runned bool
}

// New creates a new Domain. If tr is nil, an empty transformers
// registry is created.
func New(
	id uuid.UUID,
	name string,
	log *zap.SugaredLogger,
	tr *transform.Registry) (*Domain, error) {

	if log == nil {
		return nil, errs.ErrNoLogger
	}

	if id == uuid.Nil {
		id = uuid.New()
	}

	if name == "" {
		name = "Domain #" + id.String()
	}

	if tr == nil {
		tr = transform.NewRegistry(log)
	}

	d := &Domain{
		ID:           id,
		Name:         name,
		log:          log.Named("BUS: " + name),
		services:     map[string]*Service{},
		transformers: tr,
	}

	d.log.Debugw("domain created",
		"dID", d.ID)

	return d, nil
}

// Logger returns the domain logger.
func (d *Domain) Logger() *zap.SugaredLogger {
	return d.log
}

// Transformers returns the domain's transformers registry.
func (d *Domain) Transformers() *transform.Registry {
	d.Lock()
	defer d.Unlock()

	return d.transformers
}

func (d *Domain) IsRunned() bool {
	d.Lock()
	defer d.Unlock()

	return d.runned
}

// Run starts the Domain's delivery loop.
//
// To stop the domain cancel the ctx.
func (d *Domain) Run(ctx context.Context) error {
	d.Lock()
	defer d.Unlock()

	if d.runned {
		return DomainErr{d.ID, "couldn't run domain", errs.ErrAlreadyRunned}
	}

	d.runned = true
	d.ctx = ctx
	d.dlvCh = make(chan *Exchange)

	go d.loop(ctx, d.dlvCh)

	d.log.Info("domain started")

	return nil
}

// loop takes sent exchanges and runs their providers.
func (d *Domain) loop(ctx context.Context, dlvCh chan *Exchange) {
	for {
		select {
		case <-ctx.Done():
			d.Lock()
			d.runned = false
			d.Unlock()

			d.log.Info("domain stopped")

			return

		case ex := <-dlvCh:
			go d.deliver(ex)
		}
	}
}

// deliver runs the service provider for the exchange request.
//
// If the provider fails, the exchange is completed with a fault.
// One-way exchanges are completed as soon as the provider returns.
func (d *Domain) deliver(ex *Exchange) {
	op := ex.contract.Operation()

	err := func() (err error) {
		defer func() {
			if r := recover(); r != nil {
				err = fmt.Errorf("provider panic: %v", r)
			}
		}()

		return ex.service.provider.HandleMessage(ex)
	}()

	if err != nil {
		d.log.Warnw("provider failed",
			"exID", ex.id,
			"service", ex.service.name,
			"operation", op.Name,
			zap.Error(err))

		fErr := ex.SendFault(
			NewMessage().SetContent(&HandlerError{
				Service:   ex.service.name,
				Operation: op.Name,
				Err:       err,
			}))
		if fErr != nil {
			d.log.Debugw("provider error after exchange completion",
				"exID", ex.id,
				zap.Error(fErr))
		}

		return
	}

	if op.Pattern == OneWay && ex.State() == Active {
		_ = ex.complete(OK, nil, "")
	}
}

// notify fires the consumer callback on a separate goroutine.
func (d *Domain) notify(ex *Exchange, h ExchangeHandler, st ExchangeState) {
	go func() {
		defer func() {
			if r := recover(); r != nil {
				d.log.Errorw("exchange handler panic",
					"exID", ex.id,
					"panic", r)
			}
		}()

		if st == Fault {
			h.HandleFault(ex)

			return
		}

		if err := h.HandleMessage(ex); err != nil {
			d.log.Warnw("exchange handler failed",
				"exID", ex.id,
				zap.Error(err))
		}
	}()
}

// dispatch puts the exchange into the delivery loop.
func (d *Domain) dispatch(ex *Exchange) error {
	d.Lock()
	runned, ctx, dlvCh := d.runned, d.ctx, d.dlvCh
	d.Unlock()

	if !runned {
		return DomainErr{d.ID, "couldn't send exchange " + ex.id.String(),
			errs.ErrNotRunned}
	}

	select {
	case <-ctx.Done():
		return DomainErr{d.ID, "couldn't send exchange " + ex.id.String(),
			ctx.Err()}

	case dlvCh <- ex:
	}

	return nil
}

// RegisterService registers a service provider under the name.
func (d *Domain) RegisterService(
	name string,
	iface *Interface,
	provider ExchangeHandler) (*Service, error) {

	if name == "" {
		return nil, errs.ErrEmptyServiceName
	}

	if iface == nil {
		return nil, fmt.Errorf("service '%s': %w", name, errs.ErrNoInterface)
	}

	if provider == nil {
		return nil, fmt.Errorf("service '%s': %w", name, errs.ErrNoProvider)
	}

	d.Lock()
	defer d.Unlock()

	if _, ok := d.services[name]; ok {
		return nil, fmt.Errorf("service '%s': %w", name, errs.ErrServiceExists)
	}

	s := &Service{
		name:     name,
		iface:    iface,
		provider: provider,
	}
	d.services[name] = s

	d.log.Debugw("service registered",
		"service", name,
		"operations", len(iface.ops))

	return s, nil
}

// UnregisterService removes the service name from the domain.
func (d *Domain) UnregisterService(name string) {
	d.Lock()
	delete(d.services, name)
	d.Unlock()

	d.log.Debugw("service unregistered",
		"service", name)
}

// Service looks up a registered service by its name.
func (d *Domain) Service(name string) (*Service, bool) {
	d.Lock()
	defer d.Unlock()

	s, ok := d.services[name]

	return s, ok
}

// Services returns names of all registered services.
func (d *Domain) Services() []string {
	d.Lock()
	defer d.Unlock()

	nn := make([]string, 0, len(d.services))
	for n := range d.services {
		nn = append(nn, n)
	}

	sort.Strings(nn)

	return nn
}

// CreateExchange creates a new Exchange to the service svc.
//
// h is notified on the exchange completion. It could be nil for
// one-way exchanges.
func (d *Domain) CreateExchange(
	svc *Service,
	c *Contract,
	h ExchangeHandler) (*Exchange, error) {

	if svc == nil {
		return nil, DomainErr{d.ID, "couldn't create exchange", errs.ErrServiceNotRegistered}
	}

	if c == nil {
		return nil, DomainErr{d.ID, "couldn't create exchange for service " +
			svc.name + " without contract", nil}
	}

	ex := &Exchange{
		id:       uuid.New(),
		domain:   d,
		service:  svc,
		contract: c,
		handler:  h,
		ctx:      newContext(),
		state:    Active,
		log:      d.log,
	}

	d.log.Debugw("exchange created",
		"exID", ex.id,
		"service", svc.name,
		"operation", c.Operation().Name)

	return ex, nil
}
