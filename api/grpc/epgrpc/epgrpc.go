/*
Package epgrpc serves a syncbus endpoint over gRPC.

The service has the single unary method /syncbus.Endpoint/Invoke which
takes the raw SOAP request and returns the raw SOAP response, both
wrapped into google.protobuf.BytesValue. An empty response means the
endpoint has nothing to return (i.e. one-way operations).
*/
package epgrpc

import (
	"context"
	"fmt"
	"net"
	"sync"

	"github.com/dr-dobermann/syncbus/endpoint"
	"github.com/dr-dobermann/syncbus/internal/errs"
	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/wrapperspb"
)

const (
	ServiceName   = "syncbus.Endpoint"
	InvokeMethod  = "/" + ServiceName + "/Invoke"
	protoMetadata = "syncbus/endpoint.proto"
)

// EndpointServer is the server API of the Endpoint service.
type EndpointServer interface {
	Invoke(ctx context.Context, in *wrapperspb.BytesValue) (*wrapperspb.BytesValue, error)
}

// ServiceDesc is the grpc.ServiceDesc of the Endpoint service.
var ServiceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*EndpointServer)(nil),
	Methods: []grpc.MethodDesc{
		{
			MethodName: "Invoke",
			Handler:    invokeHandler,
		},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: protoMetadata,
}

func invokeHandler(
	srv interface{},
	ctx context.Context,
	dec func(interface{}) error,
	interceptor grpc.UnaryServerInterceptor) (interface{}, error) {

	in := new(wrapperspb.BytesValue)
	if err := dec(in); err != nil {
		return nil, err
	}

	if interceptor == nil {
		return srv.(EndpointServer).Invoke(ctx, in)
	}

	info := &grpc.UnaryServerInfo{
		Server:     srv,
		FullMethod: InvokeMethod,
	}

	handler := func(ctx context.Context, req interface{}) (interface{}, error) {
		return srv.(EndpointServer).Invoke(ctx, req.(*wrapperspb.BytesValue))
	}

	return interceptor(ctx, in, info, handler)
}

// RegisterEndpointServer registers the srv on the gRPC server s.
func RegisterEndpointServer(s grpc.ServiceRegistrar, srv EndpointServer) {
	s.RegisterService(&ServiceDesc, srv)
}

// =============================================================================
// Client calls a remote syncbus endpoint.
type Client struct {
	cc grpc.ClientConnInterface
}

func NewClient(cc grpc.ClientConnInterface) *Client {
	return &Client{cc: cc}
}

// Invoke sends the raw request to the endpoint and returns its response.
func (c *Client) Invoke(
	ctx context.Context,
	raw []byte,
	opts ...grpc.CallOption) ([]byte, error) {

	out := new(wrapperspb.BytesValue)

	if err := c.cc.Invoke(ctx, InvokeMethod, wrapperspb.Bytes(raw), out, opts...); err != nil {
		return nil, err
	}

	return out.GetValue(), nil
}

// =============================================================================
// EpServer is the gRPC server of a single endpoint.
type EpServer struct {
	sync.Mutex

	log *zap.SugaredLogger
	ep  *endpoint.Endpoint

	runned bool
}

// New creates a new gRPC server for the endpoint ep.
func New(ep *endpoint.Endpoint, log *zap.SugaredLogger) (*EpServer, error) {
	if ep == nil {
		return nil, errs.ErrGrpcNoHost
	}

	if log == nil {
		log = ep.Logger()
	}

	return &EpServer{
		log: log.Named("GRPC"),
		ep:  ep,
	}, nil
}

// returns server's running status
func (s *EpServer) IsRunned() bool {
	s.Lock()
	defer s.Unlock()

	return s.runned
}

// Invoke passes the request to the endpoint.
//
// If ctx is done before the endpoint returns, the call ends with
// its error while the endpoint call finishes in the background.
func (s *EpServer) Invoke(
	ctx context.Context,
	in *wrapperspb.BytesValue) (*wrapperspb.BytesValue, error) {

	if len(in.GetValue()) == 0 {
		return nil, status.Error(codes.InvalidArgument, "empty request")
	}

	resCh := make(chan []byte, 1)

	go func() {
		resCh <- s.ep.Invoke(in.GetValue())
	}()

	select {
	case <-ctx.Done():
		s.log.Debugw("request cancelled",
			zap.Error(ctx.Err()))

		return nil, status.FromContextError(ctx.Err()).Err()

	case res := <-resCh:
		return wrapperspb.Bytes(res), nil
	}
}

// Run creates grpc listener on host:port and serves the endpoint on it.
func (s *EpServer) Run(
	ctx context.Context,
	host, port string,
	opts ...grpc.ServerOption) error {

	// open listener
	l, err := net.Listen("tcp", net.JoinHostPort(host, port))
	if err != nil {
		return fmt.Errorf("couldn't start listener: %w", err)
	}

	return s.Serve(ctx, l, opts...)
}

// Serve serves the endpoint on the listener l until the ctx is cancelled.
// The endpoint is started before serving and stopped after it.
func (s *EpServer) Serve(
	ctx context.Context,
	l net.Listener,
	opts ...grpc.ServerOption) error {

	s.Lock()
	if s.runned {
		s.Unlock()

		return errs.ErrAlreadyRunned
	}

	s.runned = true
	s.Unlock()

	defer func() {
		s.Lock()
		s.runned = false
		s.Unlock()
	}()

	if !s.ep.IsRunned() {
		if err := s.ep.Start(); err != nil {
			return fmt.Errorf("couldn't start endpoint: %w", err)
		}

		defer s.ep.Stop()
	}

	grpcServer := grpc.NewServer(opts...)
	RegisterEndpointServer(grpcServer, s)

	s.log.Infow("grpc server started",
		zap.String("addr", l.Addr().String()),
		zap.String("endpoint", s.ep.Name()))

	// stop grpc server once context cancelled
	go func() {
		<-ctx.Done()
		grpcServer.Stop()
	}()

	err := grpcServer.Serve(l)
	if err != nil {
		s.log.Warnw("grpc Server ended with error: ", zap.Error(err))
	}

	s.log.Infow("grpc server stopped")

	return err
}
