package syncbus

import (
	"context"
	"encoding/xml"
	"errors"
	"fmt"
	"reflect"
	"strings"
	"testing"
	"time"

	"github.com/dr-dobermann/syncbus/bean"
	"github.com/dr-dobermann/syncbus/bridge"
	"github.com/dr-dobermann/syncbus/bus"
	"github.com/dr-dobermann/syncbus/config"
	"github.com/dr-dobermann/syncbus/deploy"
	"github.com/dr-dobermann/syncbus/internal/errs"
	"github.com/dr-dobermann/syncbus/soap"
	"github.com/dr-dobermann/syncbus/transform"
	"github.com/google/uuid"
	"github.com/matryer/is"
	"go.uber.org/zap"
)

type person struct {
	XMLName xml.Name `xml:"urn:t Greet"`
	Name    string   `xml:"name"`
}

type greeting struct {
	XMLName xml.Name `xml:"urn:t greetResponse"`
	Text    string   `xml:"text"`
}

type Greeter interface {
	Greet(p person) (greeting, error)
}

type greeter struct{}

func (greeter) Greet(p person) (greeting, error) {
	if p.Name == "" {
		return greeting{}, fmt.Errorf("no name")
	}

	return greeting{Text: "Hello, " + p.Name}, nil
}

var greeterType = reflect.TypeOf((*Greeter)(nil)).Elem()

func xmlTransformers() []transform.Transformer {
	personType := bridge.TypeID(reflect.TypeOf(person{}))
	greetingType := bridge.TypeID(reflect.TypeOf(greeting{}))

	return []transform.Transformer{
		transform.NewFunc(soap.QName("urn:t", "Greet"), personType,
			func(c interface{}) (interface{}, error) {
				s, ok := c.(string)
				if !ok {
					return nil, fmt.Errorf("string expected, got %T", c)
				}

				var p person
				if err := xml.Unmarshal([]byte(s), &p); err != nil {
					return nil, err
				}

				return p, nil
			}),
		transform.NewFunc(greetingType, soap.QName("urn:t", "greetResponse"),
			func(c interface{}) (interface{}, error) {
				b, err := xml.Marshal(c)
				if err != nil {
					return nil, err
				}

				return string(b), nil
			}),
	}
}

func newBus(t *testing.T) *ServiceBus {
	t.Helper()

	l, err := zap.NewDevelopment()
	if err != nil {
		t.Fatal(err)
	}

	sb, err := New(uuid.New(), "syncbus_test", l.Sugar())
	if err != nil {
		t.Fatal(err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	if err := sb.Run(ctx); err != nil {
		t.Fatal(err)
	}

	return sb
}

func TestServiceBus(t *testing.T) {
	is := is.New(t)

	sb, err := New(uuid.Nil, "", nil)
	is.NoErr(err)
	is.True(sb.ID() != uuid.Nil)
	is.True(!sb.IsRunned())

	_, ok := sb.Transformers().Get(bus.ErrorType, soap.FaultMessageType)
	is.True(ok)

	ctx, cancel := context.WithCancel(context.Background())

	is.NoErr(sb.Run(ctx))
	is.True(sb.IsRunned())
	is.True(sb.Domain().IsRunned())
	is.True(errors.Is(sb.Run(ctx), errs.ErrAlreadyRunned))

	cancel()

	for i := 0; i < 100 && sb.IsRunned(); i++ {
		time.Sleep(10 * time.Millisecond)
	}

	is.True(!sb.IsRunned())
}

func TestLocalCall(t *testing.T) {
	is := is.New(t)

	sb := newBus(t)

	dp := deploy.NewDeployment("greetings").
		AddService(bean.Descriptor{Name: "greeter", Interface: greeterType, Impl: greeter{}}).
		AddClientProxy("greeter", greeterType, bridge.WithTimeout(5*time.Second))

	is.NoErr(sb.Deploy(dp))

	err := sb.Deploy(dp)
	is.True(errors.Is(err, errs.ErrAlreadyRunned))

	var sbErr SBusErr
	is.True(errors.As(err, &sbErr))

	p, ok := dp.Proxy("greeter")
	is.True(ok)

	res, err := bridge.InvokeAs[greeting](context.Background(), p, "Greet", person{Name: "Dober"})
	is.NoErr(err)
	is.Equal(res.Text, "Hello, Dober")

	// proxies could be created outside deployments
	p2, err := sb.NewProxy("greeter", greeterType)
	is.NoErr(err)

	_, err = p2.Invoke(context.Background(), "Greet", person{})
	is.True(err != nil)
	is.Equal(err.Error(), "no name")

	sb.Undeploy(dp)

	_, err = p2.Invoke(context.Background(), "Greet", person{Name: "x"})
	is.True(errors.Is(err, errs.ErrServiceNotRegistered))
}

func TestEndpointCall(t *testing.T) {
	is := is.New(t)

	sb := newBus(t)

	dp := deploy.NewDeployment("greetings").
		AddService(bean.Descriptor{Name: "greeter", Interface: greeterType, Impl: greeter{}})

	for _, tf := range xmlTransformers() {
		dp.AddTransformer(tf)
	}

	is.NoErr(sb.Deploy(dp))

	ec := config.EndpointConfig{
		Name:         "GreeterPort",
		LocalService: "greeter",
		WaitTimeout:  5 * time.Second,
		PollInterval: 5 * time.Millisecond,
		Operations: []config.OperationConfig{{
			Name:   "Greet",
			Input:  soap.QName("urn:t", "Greet"),
			Output: soap.QName("urn:t", "greetResponse"),
		}},
	}

	_, err := sb.NewEndpoint(config.EndpointConfig{Name: "bad",
		Operations: []config.OperationConfig{{Name: "x", Pattern: "never"}}})
	is.True(err != nil)

	ep, err := sb.NewEndpoint(ec)
	is.NoErr(err)
	is.NoErr(ep.Start())

	defer ep.Stop()

	request := func(name string) []byte {
		return soap.NewEnvelope([]byte(
			`<Greet xmlns="urn:t"><name>` + name + `</name></Greet>`))
	}

	t.Run("reply", func(t *testing.T) {
		resp := ep.Invoke(request("Dober"))

		env, err := soap.Parse(resp)
		is.NoErr(err)

		var g greeting
		is.NoErr(xml.Unmarshal(env.Payload(), &g))
		is.Equal(g.Text, "Hello, Dober")
	})

	t.Run("application_fault", func(t *testing.T) {
		f, err := soap.ParseFault(ep.Invoke(request("")))
		is.NoErr(err)
		is.True(f != nil)
		is.Equal(f.Code, soap.AppErrorFaultCode)
		is.True(strings.Contains(f.String, "no name"))
	})
}
