package endpoint

import (
	"context"
	"encoding/xml"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/dr-dobermann/syncbus/bus"
	"github.com/dr-dobermann/syncbus/internal/errs"
	"github.com/dr-dobermann/syncbus/soap"
	"github.com/dr-dobermann/syncbus/transform"
	"github.com/google/uuid"
	"github.com/matryer/is"
	"go.uber.org/zap"
)

const ns = "urn:test"

func qn(local string) string {
	return soap.QName(ns, local)
}

func request(op, text string) []byte {
	return soap.NewEnvelope([]byte(
		fmt.Sprintf(`<%s xmlns="%s">%s</%s>`, op, ns, text, op)))
}

func payloadText(content interface{}) string {
	var v struct {
		Text string `xml:",chardata"`
	}

	s, _ := content.(string)
	_ = xml.Unmarshal([]byte(s), &v)

	return v.Text
}

// testService is the bus side of the endpoint tests.
type testService struct {
	sync.Mutex

	release  chan struct{}
	notified chan string
	msgNames []string
}

func (ts *testService) HandleMessage(ex *bus.Exchange) error {
	op := ex.Contract().Operation().Name
	in := ex.Message()

	if p, ok := in.Context().Property(MessageName, bus.ScopeIn); ok {
		ts.Lock()
		ts.msgNames = append(ts.msgNames, p.Value.(string))
		ts.Unlock()
	}

	switch op {
	case "greet":
		return ex.Reply(ex.CreateMessage().SetContent(
			fmt.Sprintf(`<greetResponse xmlns="%s">Hello, %s!</greetResponse>`,
				ns, payloadText(in.Content))))

	case "slow":
		<-ts.release

		return ex.Reply(ex.CreateMessage().SetContent(
			fmt.Sprintf(`<slowResponse xmlns="%s">late</slowResponse>`, ns)))

	case "fail":
		return fmt.Errorf("provider failure")

	case "reject":
		return ex.SendFault(ex.CreateMessage().
			SetContent(errors.New("rejected")).
			WithType("custom:error"))

	case "wrongType":
		return ex.Reply(ex.CreateMessage().SetContent(5).WithType("go:int"))

	case "notify", "fire":
		ts.notified <- payloadText(in.Content)

		return nil
	}

	return fmt.Errorf("unexpected operation %s", op)
}

func (ts *testService) HandleFault(ex *bus.Exchange) {}

func (ts *testService) names() []string {
	ts.Lock()
	defer ts.Unlock()

	return append([]string{}, ts.msgNames...)
}

func rr(name string) bus.Operation {
	return bus.Operation{
		Name:       name,
		Pattern:    bus.RequestResponse,
		InputType:  qn(name),
		OutputType: qn(name + "Response"),
		FaultType:  bus.ErrorType,
	}
}

func ow(name string) bus.Operation {
	return bus.Operation{
		Name:      name,
		Pattern:   bus.OneWay,
		InputType: qn(name),
	}
}

func portRR(name string) PortOperation {
	return PortOperation{
		Name:       name,
		Pattern:    bus.RequestResponse,
		InputType:  qn(name),
		OutputType: qn(name + "Response"),
	}
}

// countingBus counts exchanges created through it.
type countingBus struct {
	*bus.Domain

	exchanges int32
}

func (cb *countingBus) CreateExchange(
	svc *bus.Service,
	c *bus.Contract,
	h bus.ExchangeHandler) (*bus.Exchange, error) {

	atomic.AddInt32(&cb.exchanges, 1)

	return cb.Domain.CreateExchange(svc, c, h)
}

func (cb *countingBus) Exchanges() int {
	return int(atomic.LoadInt32(&cb.exchanges))
}

func newTestEndpoint(t *testing.T, opts ...Option) (*Endpoint, *testService, *countingBus) {
	t.Helper()

	l, err := zap.NewDevelopment()
	if err != nil {
		t.Fatal(err)
	}

	log := l.Sugar()

	tr := transform.NewRegistry(log)
	if err := tr.Add(soap.HandlerErrorTransformer{}); err != nil {
		t.Fatal(err)
	}

	d, err := bus.New(uuid.New(), "endpoint_test", log, tr)
	if err != nil {
		t.Fatal(err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	if err := d.Run(ctx); err != nil {
		t.Fatal(err)
	}

	iface, err := bus.NewInterface(
		rr("greet"), rr("slow"), rr("fail"), rr("reject"), rr("wrongType"),
		ow("notify"), ow("fire"))
	if err != nil {
		t.Fatal(err)
	}

	ts := &testService{
		release:  make(chan struct{}),
		notified: make(chan string, 1),
	}

	if _, err := d.RegisterService("test", iface, ts); err != nil {
		t.Fatal(err)
	}

	port, err := NewPort("TestPort",
		portRR("greet"), portRR("slow"), portRR("fail"), portRR("reject"),
		portRR("wrongType"), portRR("missing"),
		PortOperation{Name: "notify", Pattern: bus.OneWay, InputType: qn("notify")},
		PortOperation{Name: "missingOneWay", Pattern: bus.OneWay, InputType: qn("missingOneWay")},
		// two-way on the wire, one-way on the bus
		portRR("fire"))
	if err != nil {
		t.Fatal(err)
	}

	cb := &countingBus{Domain: d}

	ep, err := New(uuid.New(), "", cb, "test", port, log, opts...)
	if err != nil {
		t.Fatal(err)
	}

	if err := ep.Start(); err != nil {
		t.Fatal(err)
	}

	t.Cleanup(ep.Stop)

	return ep, ts, cb
}

func faultOf(t *testing.T, raw []byte) *soap.Fault {
	t.Helper()

	f, err := soap.ParseFault(raw)
	if err != nil {
		t.Fatal(err)
	}

	if f == nil {
		t.Fatalf("fault expected, got %s", string(raw))
	}

	return f
}

func TestPort(t *testing.T) {
	is := is.New(t)

	_, err := NewPort("")
	is.True(err != nil)

	_, err = NewPort("p", PortOperation{})
	is.True(err != nil)

	_, err = NewPort("p", PortOperation{Name: "a"})
	is.True(err != nil)

	_, err = NewPort("p", PortOperation{Name: "a", Pattern: bus.RequestResponse, InputType: "in"})
	is.True(err != nil)

	_, err = NewPort("p", portRR("a"), portRR("a"))
	is.True(err != nil)

	p, err := NewPort("p", portRR("a"))
	is.NoErr(err)
	is.Equal(p.Name(), "p")

	op, ok := p.Operation("a")
	is.True(ok)
	is.Equal(op.OutputType, qn("aResponse"))
}

func TestEndpointLifecycle(t *testing.T) {
	is := is.New(t)

	log := zap.NewNop().Sugar()

	d, err := bus.New(uuid.Nil, "", log, nil)
	is.NoErr(err)

	port, err := NewPort("p", portRR("greet"))
	is.NoErr(err)

	t.Run("invalid_params", func(t *testing.T) {
		_, err := New(uuid.Nil, "ep", nil, "svc", port, log)
		is.True(err != nil)

		_, err = New(uuid.Nil, "ep", d, "", port, log)
		is.True(errors.Is(err, errs.ErrEmptyServiceName))

		_, err = New(uuid.Nil, "ep", d, "svc", nil, log)
		is.True(err != nil)

		_, err = New(uuid.Nil, "ep", d, "svc", port, nil)
		is.True(errors.Is(err, errs.ErrNoLogger))
	})

	ep, err := New(uuid.Nil, "", d, "svc", port, log)
	is.NoErr(err)
	is.True(ep.ID() != uuid.Nil)
	is.Equal(ep.Name(), "p")

	// target service isn't registered
	err = ep.Start()
	is.True(errors.Is(err, errs.ErrServiceNotRegistered))
	is.True(!ep.IsRunned())

	// calls to stopped endpoint fail
	f := faultOf(t, ep.Invoke(request("greet", "x")))
	is.True(strings.Contains(f.String, errs.ErrNotRunned.Error()))

	iface, err := bus.NewInterface(rr("greet"))
	is.NoErr(err)

	_, err = d.RegisterService("svc", iface,
		bus.HandlerFunc(func(ex *bus.Exchange) error { return nil }))
	is.NoErr(err)

	is.NoErr(ep.Start())
	is.True(ep.IsRunned())
	is.True(errors.Is(ep.Start(), errs.ErrAlreadyRunned))

	ep.Stop()
	is.True(!ep.IsRunned())
}

func TestEndpointInvoke(t *testing.T) {
	is := is.New(t)

	ep, ts, cb := newTestEndpoint(t,
		WithWaitTimeout(2*time.Second),
		WithPollInterval(5*time.Millisecond))

	t.Run("echo", func(t *testing.T) {
		resp := ep.Invoke(request("greet", "Dober"))
		is.True(resp != nil)

		env, err := soap.Parse(resp)
		is.NoErr(err)
		is.Equal(string(env.Payload()),
			`<greetResponse xmlns="urn:test">Hello, Dober!</greetResponse>`)

		is.Equal(ts.names(), []string{"greet"})
	})

	t.Run("invalid_requests", func(t *testing.T) {
		is.True(ep.Invoke([]byte("garbage")) == nil)

		// operation isn't on the port
		is.True(ep.Invoke(request("unknown", "x")) == nil)
	})

	t.Run("operation_not_found", func(t *testing.T) {
		exchanges := cb.Exchanges()

		f := faultOf(t, ep.Invoke(request("missing", "x")))
		is.Equal(f.Code, soap.ServerFaultCode)
		is.True(strings.Contains(f.String, "'missing'"))
		is.True(strings.Contains(f.String, "'test'"))

		// one-way operations report nothing
		is.True(ep.Invoke(request("missingOneWay", "x")) == nil)

		// no exchange is created and no request reached the service
		is.Equal(cb.Exchanges(), exchanges)
		is.Equal(len(ts.names()), 1)
	})

	t.Run("provider_error", func(t *testing.T) {
		f := faultOf(t, ep.Invoke(request("fail", "x")))
		is.Equal(f.Code, soap.AppErrorFaultCode)
		is.True(strings.Contains(f.String, "provider failure"))
	})

	t.Run("error_fault", func(t *testing.T) {
		f := faultOf(t, ep.Invoke(request("reject", "x")))
		is.Equal(f.Code, soap.ServerFaultCode)
		is.Equal(f.String, "rejected")
	})

	t.Run("reply_not_transformed", func(t *testing.T) {
		f := faultOf(t, ep.Invoke(request("wrongType", "x")))
		is.True(strings.Contains(f.String, "'"+qn("wrongTypeResponse")+"'"))
		is.True(strings.Contains(f.String, "'go:int'"))
	})

	t.Run("one_way", func(t *testing.T) {
		is.True(ep.Invoke(request("notify", "note")) == nil)
		is.Equal(<-ts.notified, "note")
	})

	t.Run("two_way_port_one_way_service", func(t *testing.T) {
		start := time.Now()

		is.True(ep.Invoke(request("fire", "shot")) == nil)
		is.Equal(<-ts.notified, "shot")

		// no wait for the reply which never comes
		is.True(time.Since(start) < time.Second)
	})
}

func TestEndpointTimeout(t *testing.T) {
	is := is.New(t)

	const timeout = 200 * time.Millisecond

	ep, ts, _ := newTestEndpoint(t,
		WithWaitTimeout(timeout),
		WithPollInterval(10*time.Millisecond))

	w := ep.NewWorker()
	is.True(!w.Pending())

	start := time.Now()

	is.True(w.Invoke(request("slow", "x")) == nil)
	is.True(time.Since(start) >= timeout)
	is.True(!w.Pending())

	// late reply goes nowhere
	close(ts.release)
	time.Sleep(100 * time.Millisecond)

	resp := w.Invoke(request("greet", "next"))

	env, err := soap.Parse(resp)
	is.NoErr(err)
	is.Equal(string(env.Payload()),
		`<greetResponse xmlns="urn:test">Hello, next!</greetResponse>`)

	// slow calls complete in time now
	resp = w.Invoke(request("slow", "x"))
	env, err = soap.Parse(resp)
	is.NoErr(err)
	is.Equal(string(env.Payload()), `<slowResponse xmlns="urn:test">late</slowResponse>`)
}

func TestSharedWorker(t *testing.T) {
	is := is.New(t)

	ep, ts, _ := newTestEndpoint(t, WithPollInterval(time.Millisecond))

	w := ep.NewWorker()

	const slowCalls = 2

	var wg sync.WaitGroup

	responses := make([][]byte, slowCalls)

	for i := 0; i < slowCalls; i++ {
		wg.Add(1)

		go func(i int) {
			defer wg.Done()

			responses[i] = w.Invoke(request("slow", "x"))
		}(i)
	}

	for i := 0; i < 100 && !w.Pending(); i++ {
		time.Sleep(10 * time.Millisecond)
	}

	is.True(w.Pending())

	// a call finished on the shared worker keeps the others pending
	resp := w.Invoke(request("greet", "shared"))

	env, err := soap.Parse(resp)
	is.NoErr(err)
	is.Equal(string(env.Payload()),
		`<greetResponse xmlns="urn:test">Hello, shared!</greetResponse>`)
	is.True(w.Pending())

	close(ts.release)
	wg.Wait()

	is.True(!w.Pending())

	for _, resp := range responses {
		env, err := soap.Parse(resp)
		is.NoErr(err)
		is.Equal(string(env.Payload()), `<slowResponse xmlns="urn:test">late</slowResponse>`)
	}
}

func TestConcurrentEndpointCalls(t *testing.T) {
	is := is.New(t)

	ep, _, _ := newTestEndpoint(t, WithPollInterval(time.Millisecond))

	const callers = 50

	var wg sync.WaitGroup

	responses := make([][]byte, callers)

	for i := 0; i < callers; i++ {
		wg.Add(1)

		go func(i int) {
			defer wg.Done()

			responses[i] = ep.Invoke(request("greet", fmt.Sprintf("caller%d", i)))
		}(i)
	}

	wg.Wait()

	for i, resp := range responses {
		env, err := soap.Parse(resp)
		is.NoErr(err)
		is.Equal(string(env.Payload()),
			fmt.Sprintf(`<greetResponse xmlns="urn:test">Hello, caller%d!</greetResponse>`, i))
	}
}
