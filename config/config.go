/*
Package config loads syncbus endpoint configuration from YAML files.
*/
package config

import (
	"fmt"
	"net"
	"os"
	"strconv"
	"time"

	"github.com/dr-dobermann/syncbus/bus"
	"github.com/dr-dobermann/syncbus/endpoint"
	"github.com/dr-dobermann/syncbus/soap"
	"gopkg.in/yaml.v3"
)

const (
	DefaultHost = "localhost"
	DefaultPort = 8080

	TransportGRPC = "grpc"
	TransportNATS = "nats"
)

// Config is the top-level syncbus configuration.
type Config struct {
	// Domain is the name of the bus domain.
	Domain string `yaml:"domain"`

	Endpoints []EndpointConfig `yaml:"endpoints"`
}

// EndpointConfig describes a single protocol endpoint.
type EndpointConfig struct {
	Name string `yaml:"name"`

	// LocalService is the bus service the endpoint calls.
	LocalService string `yaml:"local_service"`

	// Transport is either "grpc" (default) or "nats".
	Transport string `yaml:"transport"`

	Host    string `yaml:"host"`
	Port    int    `yaml:"port"`
	Context string `yaml:"context"`

	// NATS settings are used by the nats transport only.
	NATS NATSConfig `yaml:"nats"`

	WaitTimeout  time.Duration `yaml:"wait_timeout"`
	PollInterval time.Duration `yaml:"poll_interval"`

	// Headers lists qualified names of OUT-scoped context properties
	// copied into response headers.
	Headers []string `yaml:"headers"`

	Operations []OperationConfig `yaml:"operations"`
}

type NATSConfig struct {
	URL     string `yaml:"url"`
	Subject string `yaml:"subject"`
}

// OperationConfig describes a single port operation.
type OperationConfig struct {
	Name    string `yaml:"name"`
	Pattern string `yaml:"pattern"`
	Input   string `yaml:"input"`
	Output  string `yaml:"output"`
}

// Load reads the configuration from the YAML file.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	return Parse(data)
}

// Parse decodes the YAML configuration and applies defaults.
func Parse(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	cfg.applyDefaults()

	return &cfg, nil
}

func (c *Config) applyDefaults() {
	for i := range c.Endpoints {
		ec := &c.Endpoints[i]

		if ec.Host == "" {
			ec.Host = DefaultHost
		}

		if ec.Port == 0 {
			ec.Port = DefaultPort
		}

		if ec.Transport == "" {
			ec.Transport = TransportGRPC
		}

		if ec.WaitTimeout == 0 {
			ec.WaitTimeout = endpoint.DefaultWaitTimeout
		}

		if ec.PollInterval == 0 {
			ec.PollInterval = endpoint.DefaultPollInterval
		}

		if ec.Name == "" {
			ec.Name = ec.LocalService
		}
	}
}

// Validate checks that the configuration is valid.
func (c *Config) Validate() error {
	names := map[string]struct{}{}

	for i, ec := range c.Endpoints {
		if ec.LocalService == "" {
			return fmt.Errorf("endpoint #%d: local_service is required", i)
		}

		if _, ok := names[ec.Name]; ok {
			return fmt.Errorf("endpoint %q: duplicated name", ec.Name)
		}

		names[ec.Name] = struct{}{}

		switch ec.Transport {
		case TransportGRPC:
			if ec.Port < 0 || ec.Port > 65535 {
				return fmt.Errorf("endpoint %q: invalid port %d", ec.Name, ec.Port)
			}

		case TransportNATS:
			if ec.NATS.URL == "" || ec.NATS.Subject == "" {
				return fmt.Errorf("endpoint %q: nats url and subject are required",
					ec.Name)
			}

		default:
			return fmt.Errorf("endpoint %q: unknown transport %q (supported: grpc, nats)",
				ec.Name, ec.Transport)
		}

		if ec.WaitTimeout < 0 || ec.PollInterval < 0 {
			return fmt.Errorf("endpoint %q: negative wait settings", ec.Name)
		}

		if _, err := ec.PortSpec(); err != nil {
			return fmt.Errorf("endpoint %q: %w", ec.Name, err)
		}
	}

	return nil
}

// Address returns the host:port the endpoint listens on.
func (ec EndpointConfig) Address() string {
	return net.JoinHostPort(ec.Host, strconv.Itoa(ec.Port))
}

// Path returns the service path of the endpoint.
func (ec EndpointConfig) Path() string {
	if ec.Context != "" {
		return "/" + ec.Context + "/" + ec.Name
	}

	return "/" + ec.Name
}

// PortSpec builds the endpoint Port from the operations list.
func (ec EndpointConfig) PortSpec() (*endpoint.Port, error) {
	ops := make([]endpoint.PortOperation, 0, len(ec.Operations))

	for _, oc := range ec.Operations {
		p, err := bus.ParsePattern(oc.Pattern)
		if err != nil {
			return nil, fmt.Errorf("operation %q: %w", oc.Name, err)
		}

		ops = append(ops, endpoint.PortOperation{
			Name:       oc.Name,
			Pattern:    p,
			InputType:  oc.Input,
			OutputType: oc.Output,
		})
	}

	return endpoint.NewPort(ec.Name, ops...)
}

// Options returns endpoint options built from the configuration.
func (ec EndpointConfig) Options() []endpoint.Option {
	return []endpoint.Option{
		endpoint.WithWaitTimeout(ec.WaitTimeout),
		endpoint.WithPollInterval(ec.PollInterval),
		endpoint.WithDecomposer(soap.DefaultDecomposer{Headers: ec.Headers}),
	}
}
