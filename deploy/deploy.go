/*
Package deploy puts bean services, client proxies and transformers of an
application onto a bus Domain.

Everything the application deploys is collected into a Deployment, which
is passed to the Deployer explicitly.
*/
package deploy

import (
	"fmt"
	"reflect"
	"sync"

	"github.com/dr-dobermann/syncbus/bean"
	"github.com/dr-dobermann/syncbus/bridge"
	"github.com/dr-dobermann/syncbus/bus"
	"github.com/dr-dobermann/syncbus/internal/errs"
	"github.com/dr-dobermann/syncbus/transform"
	"go.uber.org/zap"
)

// ProxySpec describes a client proxy of the deployment.
type ProxySpec struct {
	Service   string
	Interface reflect.Type
	Options   []bridge.ProxyOption
}

// Deployment is the deployment metadata of a single application.
type Deployment struct {
	sync.Mutex

	name string

	services     []bean.Descriptor
	proxySpecs   []ProxySpec
	transformers []transform.Transformer

	proxies  map[string]*bridge.Proxy
	deployed bool
}

// NewDeployment creates an empty Deployment.
func NewDeployment(name string) *Deployment {
	return &Deployment{
		name:    name,
		proxies: map[string]*bridge.Proxy{},
	}
}

func (dp *Deployment) Name() string { return dp.name }

// AddService adds a bean service to the deployment.
func (dp *Deployment) AddService(d bean.Descriptor) *Deployment {
	dp.Lock()
	defer dp.Unlock()

	dp.services = append(dp.services, d)

	return dp
}

// AddClientProxy adds a client proxy of the service declared by iface.
func (dp *Deployment) AddClientProxy(
	service string,
	iface reflect.Type,
	opts ...bridge.ProxyOption) *Deployment {

	dp.Lock()
	defer dp.Unlock()

	dp.proxySpecs = append(dp.proxySpecs, ProxySpec{service, iface, opts})

	return dp
}

// AddTransformer adds a transformer to the deployment.
func (dp *Deployment) AddTransformer(t transform.Transformer) *Deployment {
	dp.Lock()
	defer dp.Unlock()

	dp.transformers = append(dp.transformers, t)

	return dp
}

// Services returns the bean services of the deployment.
func (dp *Deployment) Services() []bean.Descriptor {
	dp.Lock()
	defer dp.Unlock()

	return append([]bean.Descriptor{}, dp.services...)
}

// Transformers returns the transformers of the deployment.
func (dp *Deployment) Transformers() []transform.Transformer {
	dp.Lock()
	defer dp.Unlock()

	return append([]transform.Transformer{}, dp.transformers...)
}

// Bean returns the implementation of the bean service name.
func (dp *Deployment) Bean(name string) (interface{}, bool) {
	dp.Lock()
	defer dp.Unlock()

	for _, d := range dp.services {
		if d.Name == name {
			return d.Impl, true
		}
	}

	return nil, false
}

// Proxy returns the client proxy of the service. Proxies are available
// only while the deployment is deployed.
func (dp *Deployment) Proxy(service string) (*bridge.Proxy, bool) {
	dp.Lock()
	defer dp.Unlock()

	p, ok := dp.proxies[service]

	return p, ok
}

func (dp *Deployment) IsDeployed() bool {
	dp.Lock()
	defer dp.Unlock()

	return dp.deployed
}

// =============================================================================
// Deployer deploys Deployments onto the bus Domain.
type Deployer struct {
	domain *bus.Domain
	log    *zap.SugaredLogger
}

// NewDeployer creates a Deployer of the domain d.
func NewDeployer(d *bus.Domain, log *zap.SugaredLogger) (*Deployer, error) {
	if d == nil {
		return nil, fmt.Errorf("domain isn't set for deployer")
	}

	if log == nil {
		log = d.Logger()
	}

	return &Deployer{
		domain: d,
		log:    log.Named("DEPLOYER"),
	}, nil
}

// Deploy registers transformers and services of the deployment and
// creates its client proxies.
//
// If any part fails, already deployed parts are undeployed.
func (dr *Deployer) Deploy(dp *Deployment) (err error) {
	if dp == nil {
		return fmt.Errorf("deployment isn't set")
	}

	if dp.IsDeployed() {
		return fmt.Errorf("deployment '%s': %w", dp.name, errs.ErrAlreadyRunned)
	}

	var (
		tt []transform.Transformer
		ss []string
	)

	defer func() {
		if err != nil {
			dr.rollback(tt, ss)
		}
	}()

	tr := dr.domain.Transformers()

	for _, t := range dp.Transformers() {
		if err = tr.Add(t); err != nil {
			return fmt.Errorf("deployment '%s': %w", dp.name, err)
		}

		tt = append(tt, t)
	}

	for _, d := range dp.Services() {
		sh, err := bean.NewServiceHandler(d, dr.log)
		if err != nil {
			return fmt.Errorf("deployment '%s': %w", dp.name, err)
		}

		if _, err = dr.domain.RegisterService(d.Name, sh.Interface(), sh); err != nil {
			return fmt.Errorf("deployment '%s': %w", dp.name, err)
		}

		ss = append(ss, d.Name)
	}

	dp.Lock()
	specs := append([]ProxySpec{}, dp.proxySpecs...)
	dp.Unlock()

	proxies := make(map[string]*bridge.Proxy, len(specs))

	for _, ps := range specs {
		p, err := bridge.NewProxy(dr.domain, ps.Service, ps.Interface,
			dr.log, ps.Options...)
		if err != nil {
			return fmt.Errorf("deployment '%s': %w", dp.name, err)
		}

		proxies[ps.Service] = p
	}

	dp.Lock()
	dp.proxies = proxies
	dp.deployed = true
	dp.Unlock()

	dr.log.Infow("deployed",
		"deployment", dp.name,
		"services", len(ss),
		"proxies", len(proxies),
		"transformers", len(tt))

	return nil
}

// Undeploy removes the deployment from the domain.
func (dr *Deployer) Undeploy(dp *Deployment) {
	if dp == nil || !dp.IsDeployed() {
		return
	}

	ss := []string{}
	for _, d := range dp.Services() {
		ss = append(ss, d.Name)
	}

	dr.rollback(dp.Transformers(), ss)

	dp.Lock()
	dp.proxies = map[string]*bridge.Proxy{}
	dp.deployed = false
	dp.Unlock()

	dr.log.Infow("undeployed",
		"deployment", dp.name)
}

func (dr *Deployer) rollback(tt []transform.Transformer, ss []string) {
	for _, s := range ss {
		dr.domain.UnregisterService(s)
	}

	tr := dr.domain.Transformers()
	for _, t := range tt {
		tr.Remove(t)
	}
}
