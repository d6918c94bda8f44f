package syncbus

import (
	"context"
	"fmt"
	"reflect"
	"sync"

	"github.com/dr-dobermann/syncbus/bridge"
	"github.com/dr-dobermann/syncbus/bus"
	"github.com/dr-dobermann/syncbus/config"
	"github.com/dr-dobermann/syncbus/deploy"
	"github.com/dr-dobermann/syncbus/endpoint"
	"github.com/dr-dobermann/syncbus/internal/errs"
	"github.com/dr-dobermann/syncbus/soap"
	"github.com/dr-dobermann/syncbus/transform"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

type SBusErr struct {
	sbID uuid.UUID
	msg  string
	Err  error
}

func (sbErr SBusErr) Error() string {
	em := fmt.Sprintf("SBErr[%v] %s", sbErr.sbID, sbErr.msg)
	if sbErr.Err != nil {
		em += ": " + sbErr.Err.Error()
	}

	return em
}

func (sbErr SBusErr) Unwrap() error {
	return sbErr.Err
}

type ServiceBus struct {
	sync.Mutex

	id uuid.UUID

	ctx context.Context

	log *zap.SugaredLogger

	domain   *bus.Domain
	tr       *transform.Registry
	deployer *deploy.Deployer

	runned bool
}

func (sb *ServiceBus) ID() uuid.UUID {
	return sb.id
}

func (sb *ServiceBus) IsRunned() bool {
	sb.Lock()
	defer sb.Unlock()

	return sb.runned
}

// Domain returns the bus domain of the ServiceBus.
func (sb *ServiceBus) Domain() *bus.Domain {
	return sb.domain
}

// Transformers returns the transformers registry of the ServiceBus.
func (sb *ServiceBus) Transformers() *transform.Registry {
	return sb.tr
}

// New creates a new ServiceBus. If log is nil, the production logger
// is used.
//
// The SOAP handler error transformer is registered on every ServiceBus.
func New(id uuid.UUID, name string, log *zap.SugaredLogger) (*ServiceBus, error) {
	if id == uuid.Nil {
		id = uuid.New()
	}

	if log == nil {
		lg, err := zap.NewProduction()
		if err != nil {
			return nil, err
		}
		log = lg.Sugar()
	}

	sb := &ServiceBus{
		id:  id,
		log: log.Named("SB:  " + id.String()),
	}

	sb.tr = transform.NewRegistry(log)
	if err := sb.tr.Add(soap.HandlerErrorTransformer{}); err != nil {
		return nil, SBusErr{id, "couldn't register fault transformer", err}
	}

	var err error

	sb.domain, err = bus.New(uuid.New(), name, log, sb.tr)
	if err != nil {
		return nil, SBusErr{id, "couldn't create a bus Domain", err}
	}

	sb.deployer, err = deploy.NewDeployer(sb.domain, log)
	if err != nil {
		return nil, SBusErr{id, "couldn't create a Deployer", err}
	}

	sb.log.Info("service bus created")

	return sb, nil
}

func (sb *ServiceBus) Run(ctx context.Context) error {
	if sb.IsRunned() {
		return errs.ErrAlreadyRunned
	}

	if err := sb.domain.Run(ctx); err != nil {
		return SBusErr{sb.id, "couldn't run a bus Domain", err}
	}

	sb.Lock()
	sb.ctx = ctx
	sb.runned = true
	sb.Unlock()

	go func() {
		<-ctx.Done()
		sb.Lock()
		sb.runned = false
		sb.Unlock()
	}()

	return nil
}

// Deploy puts the deployment onto the bus.
func (sb *ServiceBus) Deploy(dp *deploy.Deployment) error {
	if err := sb.deployer.Deploy(dp); err != nil {
		return SBusErr{sb.id, "deployment failed", err}
	}

	return nil
}

// Undeploy removes the deployment from the bus.
func (sb *ServiceBus) Undeploy(dp *deploy.Deployment) {
	sb.deployer.Undeploy(dp)
}

// NewProxy creates a client proxy of the service declared by the
// interface type iface.
func (sb *ServiceBus) NewProxy(
	service string,
	iface reflect.Type,
	opts ...bridge.ProxyOption) (*bridge.Proxy, error) {

	return bridge.NewProxy(sb.domain, service, iface, sb.log, opts...)
}

// NewEndpoint creates a protocol endpoint from its configuration.
// The endpoint isn't started.
func (sb *ServiceBus) NewEndpoint(ec config.EndpointConfig) (*endpoint.Endpoint, error) {
	port, err := ec.PortSpec()
	if err != nil {
		return nil, SBusErr{sb.id, "invalid endpoint port", err}
	}

	return endpoint.New(uuid.New(), ec.Name, sb.domain, ec.LocalService,
		port, sb.log, ec.Options()...)
}
