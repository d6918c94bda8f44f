/*
Package epnats serves a syncbus endpoint over NATS request/reply.

Every request published to the endpoint subject is passed to the
endpoint and its response is published to the request's reply subject.
*/
package epnats

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/dr-dobermann/syncbus/endpoint"
	"github.com/dr-dobermann/syncbus/internal/errs"
	"github.com/nats-io/nats.go"
	"go.uber.org/zap"
)

// Handler receives a single NATS message.
type Handler func(subject, reply string, data []byte)

// Client is the part of the NATS connection the Server needs.
type Client interface {
	Subscribe(subject string, h Handler) (unsubscribe func() error, err error)
	Publish(subject string, data []byte) error
}

// Config configures the NATS connection.
type Config struct {
	URL           string
	Name          string
	ConnTimeout   time.Duration
	MaxReconnects int
}

type natsClient struct{ nc *nats.Conn }

func (c natsClient) Subscribe(subject string, h Handler) (func() error, error) {
	sub, err := c.nc.Subscribe(subject, func(m *nats.Msg) {
		h(m.Subject, m.Reply, m.Data)
	})
	if err != nil {
		return nil, err
	}

	return sub.Unsubscribe, nil
}

func (c natsClient) Publish(subject string, data []byte) error {
	if err := c.nc.Publish(subject, data); err != nil {
		return err
	}

	return c.nc.Flush()
}

// Connect opens a NATS connection and returns a Client and its cleanup.
func Connect(cfg Config) (Client, func(), error) {
	if cfg.URL == "" {
		return nil, nil, fmt.Errorf("nats url required")
	}

	opts := []nats.Option{}
	if cfg.Name != "" {
		opts = append(opts, nats.Name(cfg.Name))
	}

	if cfg.ConnTimeout > 0 {
		opts = append(opts, nats.Timeout(cfg.ConnTimeout))
	}

	if cfg.MaxReconnects != 0 {
		opts = append(opts, nats.MaxReconnects(cfg.MaxReconnects))
	}

	nc, err := nats.Connect(cfg.URL, opts...)
	if err != nil {
		return nil, nil, fmt.Errorf("nats connect: %w", err)
	}

	cleanup := func() {
		if nc != nil && !nc.IsClosed() {
			_ = nc.Drain()
			nc.Close()
		}
	}

	return natsClient{nc: nc}, cleanup, nil
}

// =============================================================================
// Server serves the endpoint on a NATS subject.
type Server struct {
	sync.Mutex

	log     *zap.SugaredLogger
	ep      *endpoint.Endpoint
	client  Client
	subject string

	wg sync.WaitGroup

	runned bool
}

// New creates a new NATS server of the endpoint ep.
func New(
	ep *endpoint.Endpoint,
	c Client,
	subject string,
	log *zap.SugaredLogger) (*Server, error) {

	if ep == nil {
		return nil, errs.ErrGrpcNoHost
	}

	if c == nil {
		return nil, fmt.Errorf("nats client isn't set")
	}

	if subject == "" {
		return nil, fmt.Errorf("nats subject is empty")
	}

	if log == nil {
		log = ep.Logger()
	}

	return &Server{
		log:     log.Named("NATS"),
		ep:      ep,
		client:  c,
		subject: subject,
	}, nil
}

func (s *Server) IsRunned() bool {
	s.Lock()
	defer s.Unlock()

	return s.runned
}

// Run subscribes to the endpoint subject and serves requests until
// the ctx is cancelled. Run doesn't block.
func (s *Server) Run(ctx context.Context) error {
	s.Lock()
	defer s.Unlock()

	if s.runned {
		return errs.ErrAlreadyRunned
	}

	startedEp := false
	if !s.ep.IsRunned() {
		if err := s.ep.Start(); err != nil {
			return fmt.Errorf("couldn't start endpoint: %w", err)
		}

		startedEp = true
	}

	unsub, err := s.client.Subscribe(s.subject, s.serve)
	if err != nil {
		if startedEp {
			s.ep.Stop()
		}

		return fmt.Errorf("couldn't subscribe to '%s': %w", s.subject, err)
	}

	s.runned = true

	s.log.Infow("nats server started",
		"subject", s.subject,
		"endpoint", s.ep.Name())

	go func() {
		<-ctx.Done()

		if err := unsub(); err != nil {
			s.log.Warnw("unsubscribe failed", zap.Error(err))
		}

		s.wg.Wait()

		if startedEp {
			s.ep.Stop()
		}

		s.Lock()
		s.runned = false
		s.Unlock()

		s.log.Infow("nats server stopped")
	}()

	return nil
}

// serve handles a single request on its own goroutine since
// the endpoint call blocks until the reply comes.
func (s *Server) serve(subject, reply string, data []byte) {
	s.wg.Add(1)

	go func() {
		defer s.wg.Done()

		resp := s.ep.Invoke(data)

		if reply == "" {
			return
		}

		if resp == nil {
			resp = []byte{}
		}

		if err := s.client.Publish(reply, resp); err != nil {
			s.log.Warnw("couldn't publish response",
				"subject", subject,
				"reply", reply,
				zap.Error(err))
		}
	}()
}
