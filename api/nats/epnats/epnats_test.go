package epnats

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/dr-dobermann/syncbus/bus"
	"github.com/dr-dobermann/syncbus/endpoint"
	"github.com/dr-dobermann/syncbus/internal/errs"
	"github.com/dr-dobermann/syncbus/soap"
	"github.com/google/uuid"
	"github.com/matryer/is"
	"go.uber.org/zap"
)

const ns = "urn:test"

type published struct {
	subject string
	data    []byte
}

// fakeClient keeps the subscribed handler and collects published messages.
type fakeClient struct {
	sync.Mutex

	subject      string
	handler      Handler
	unsubscribed bool
	subErr       error

	pubCh chan published
}

func newFakeClient() *fakeClient {
	return &fakeClient{pubCh: make(chan published, 10)}
}

func (fc *fakeClient) Subscribe(subject string, h Handler) (func() error, error) {
	if fc.subErr != nil {
		return nil, fc.subErr
	}

	fc.Lock()
	fc.subject, fc.handler = subject, h
	fc.Unlock()

	return func() error {
		fc.Lock()
		fc.unsubscribed = true
		fc.Unlock()

		return nil
	}, nil
}

func (fc *fakeClient) Publish(subject string, data []byte) error {
	fc.pubCh <- published{subject, data}

	return nil
}

func (fc *fakeClient) deliver(reply string, data []byte) {
	fc.Lock()
	h, subject := fc.handler, fc.subject
	fc.Unlock()

	h(subject, reply, data)
}

func (fc *fakeClient) isUnsubscribed() bool {
	fc.Lock()
	defer fc.Unlock()

	return fc.unsubscribed
}

func newEchoEndpoint(t *testing.T) *endpoint.Endpoint {
	t.Helper()

	log := zap.NewNop().Sugar()

	d, err := bus.New(uuid.New(), "epnats_test", log, nil)
	if err != nil {
		t.Fatal(err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	if err := d.Run(ctx); err != nil {
		t.Fatal(err)
	}

	iface, err := bus.NewInterface(
		bus.Operation{
			Name:       "echo",
			Pattern:    bus.RequestResponse,
			InputType:  soap.QName(ns, "echo"),
			OutputType: soap.QName(ns, "echoResponse"),
		},
		bus.Operation{
			Name:      "ping",
			Pattern:   bus.OneWay,
			InputType: soap.QName(ns, "ping"),
		})
	if err != nil {
		t.Fatal(err)
	}

	_, err = d.RegisterService("echo", iface,
		bus.HandlerFunc(func(ex *bus.Exchange) error {
			if ex.Contract().Operation().Pattern == bus.OneWay {
				return nil
			}

			return ex.Reply(ex.CreateMessage().SetContent(
				fmt.Sprintf(`<echoResponse xmlns="%s">%s</echoResponse>`,
					ns, ex.Message().Content)))
		}))
	if err != nil {
		t.Fatal(err)
	}

	port, err := endpoint.NewPort("EchoPort",
		endpoint.PortOperation{
			Name:       "echo",
			Pattern:    bus.RequestResponse,
			InputType:  soap.QName(ns, "echo"),
			OutputType: soap.QName(ns, "echoResponse"),
		},
		endpoint.PortOperation{
			Name:      "ping",
			Pattern:   bus.OneWay,
			InputType: soap.QName(ns, "ping"),
		})
	if err != nil {
		t.Fatal(err)
	}

	ep, err := endpoint.New(uuid.New(), "", d, "echo", port, log,
		endpoint.WithPollInterval(time.Millisecond))
	if err != nil {
		t.Fatal(err)
	}

	return ep
}

func TestServerCreation(t *testing.T) {
	is := is.New(t)

	ep := newEchoEndpoint(t)
	fc := newFakeClient()

	_, err := New(nil, fc, "echo.invoke", nil)
	is.True(errors.Is(err, errs.ErrGrpcNoHost))

	_, err = New(ep, nil, "echo.invoke", nil)
	is.True(err != nil)

	_, err = New(ep, fc, "", nil)
	is.True(err != nil)

	_, _, err = Connect(Config{})
	is.True(err != nil)

	t.Run("subscription_failure", func(t *testing.T) {
		fc := newFakeClient()
		fc.subErr = fmt.Errorf("no connection")

		s, err := New(ep, fc, "echo.invoke", nil)
		is.NoErr(err)

		is.True(s.Run(context.Background()) != nil)
		is.True(!s.IsRunned())

		// endpoint started by the server is stopped back
		is.True(!ep.IsRunned())
	})
}

func TestServer(t *testing.T) {
	is := is.New(t)

	ep := newEchoEndpoint(t)
	fc := newFakeClient()

	s, err := New(ep, fc, "echo.invoke", zap.NewNop().Sugar())
	is.NoErr(err)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	is.NoErr(s.Run(ctx))
	is.True(s.IsRunned())
	is.True(ep.IsRunned())
	is.True(errors.Is(s.Run(ctx), errs.ErrAlreadyRunned))

	receive := func() published {
		select {
		case p := <-fc.pubCh:
			return p

		case <-time.After(5 * time.Second):
			t.Fatal("no response published")
		}

		return published{}
	}

	t.Run("request_reply", func(t *testing.T) {
		fc.deliver("inbox.1",
			soap.NewEnvelope([]byte(`<echo xmlns="urn:test">hi</echo>`)))

		p := receive()
		is.Equal(p.subject, "inbox.1")

		env, err := soap.Parse(p.data)
		is.NoErr(err)
		is.Equal(string(env.Payload()),
			`<echoResponse xmlns="urn:test"><echo xmlns="urn:test">hi</echo></echoResponse>`)
	})

	t.Run("one_way", func(t *testing.T) {
		fc.deliver("inbox.2",
			soap.NewEnvelope([]byte(`<ping xmlns="urn:test"/>`)))

		p := receive()
		is.Equal(p.subject, "inbox.2")
		is.Equal(len(p.data), 0)
	})

	t.Run("no_reply_subject", func(t *testing.T) {
		fc.deliver("", soap.NewEnvelope([]byte(`<echo xmlns="urn:test">x</echo>`)))

		select {
		case p := <-fc.pubCh:
			t.Fatalf("unexpected publish to %q", p.subject)

		case <-time.After(100 * time.Millisecond):
		}
	})

	cancel()

	for i := 0; i < 100 && s.IsRunned(); i++ {
		time.Sleep(10 * time.Millisecond)
	}

	is.True(!s.IsRunned())
	is.True(fc.isUnsubscribed())
	is.True(!ep.IsRunned())
}
