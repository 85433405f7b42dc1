package node

import (
	"context"

	"google.golang.org/grpc"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/structpb"
	"google.golang.org/protobuf/types/known/wrapperspb"
)

const (
	serviceName   = "collbench.Transport"
	methodDeliver = "/" + serviceName + "/Deliver"
	methodPing    = "/" + serviceName + "/Ping"
	methodAbort   = "/" + serviceName + "/Abort"
)

// TransportServer is the server side of the rank-to-rank service.
type TransportServer interface {
	// Deliver accepts one encoded envelope.
	Deliver(ctx context.Context, req *wrapperspb.BytesValue) (*emptypb.Empty, error)
	// Ping reports the responder's rank.
	Ping(ctx context.Context, req *emptypb.Empty) (*wrapperspb.Int64Value, error)
	// Abort fails the responder's pending and future receives.
	Abort(ctx context.Context, req *structpb.Struct) (*emptypb.Empty, error)
}

// TransportClient is the client side of the rank-to-rank service.
type TransportClient interface {
	Deliver(ctx context.Context, req *wrapperspb.BytesValue, opts ...grpc.CallOption) (*emptypb.Empty, error)
	Ping(ctx context.Context, req *emptypb.Empty, opts ...grpc.CallOption) (*wrapperspb.Int64Value, error)
	Abort(ctx context.Context, req *structpb.Struct, opts ...grpc.CallOption) (*emptypb.Empty, error)
}

type transportClient struct {
	cc grpc.ClientConnInterface
}

// NewTransportClient wraps a connection.
func NewTransportClient(cc grpc.ClientConnInterface) TransportClient {
	return &transportClient{cc: cc}
}

func (c *transportClient) Deliver(ctx context.Context, req *wrapperspb.BytesValue, opts ...grpc.CallOption) (*emptypb.Empty, error) {
	out := new(emptypb.Empty)
	if err := c.cc.Invoke(ctx, methodDeliver, req, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *transportClient) Ping(ctx context.Context, req *emptypb.Empty, opts ...grpc.CallOption) (*wrapperspb.Int64Value, error) {
	out := new(wrapperspb.Int64Value)
	if err := c.cc.Invoke(ctx, methodPing, req, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *transportClient) Abort(ctx context.Context, req *structpb.Struct, opts ...grpc.CallOption) (*emptypb.Empty, error) {
	out := new(emptypb.Empty)
	if err := c.cc.Invoke(ctx, methodAbort, req, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}

// RegisterTransportServer registers srv on s.
func RegisterTransportServer(s grpc.ServiceRegistrar, srv TransportServer) {
	s.RegisterService(&transportServiceDesc, srv)
}

func deliverHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(wrapperspb.BytesValue)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(TransportServer).Deliver(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: methodDeliver}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(TransportServer).Deliver(ctx, req.(*wrapperspb.BytesValue))
	}
	return interceptor(ctx, in, info, handler)
}

func pingHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(emptypb.Empty)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(TransportServer).Ping(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: methodPing}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(TransportServer).Ping(ctx, req.(*emptypb.Empty))
	}
	return interceptor(ctx, in, info, handler)
}

func abortHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(structpb.Struct)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(TransportServer).Abort(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: methodAbort}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(TransportServer).Abort(ctx, req.(*structpb.Struct))
	}
	return interceptor(ctx, in, info, handler)
}

var transportServiceDesc = grpc.ServiceDesc{
	ServiceName: serviceName,
	HandlerType: (*TransportServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "Deliver", Handler: deliverHandler},
		{MethodName: "Ping", Handler: pingHandler},
		{MethodName: "Abort", Handler: abortHandler},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "collbench/transport.proto",
}
