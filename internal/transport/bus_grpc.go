// Package transport implements the GENESIS data bus: one gRPC service that
// every Participant (Service, Agent, Interface, and the discovery broker
// itself) dials to publish and subscribe to topics. There is no generated
// .proto/pb package here — the wire message for every RPC is
// google.golang.org/protobuf/types/known/structpb.Struct, a real compiled
// protobuf message already part of the protobuf-go module, so the service
// descriptor below is hand-written the way a protoc-gen-go-grpc output
// would look, without requiring a protoc step.
package transport

import (
	"context"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"
)

// ServiceName is the fully qualified gRPC service name used by the
// hand-written ServiceDesc below.
const ServiceName = "genesis.transport.Bus"

// BusServer is the interface a Bus service implementation provides.
type BusServer interface {
	// Publish delivers one envelope (encoded as a Struct, see
	// internal/wire.Envelope.ToStruct) to every matching subscriber, or,
	// on a FunctionExecutionRequest: topic, to exactly one of them.
	Publish(context.Context, *structpb.Struct) (*structpb.Struct, error)
	// Subscribe streams every envelope published on the requested topic
	// (and matching the optional selector) until the client cancels.
	Subscribe(*structpb.Struct, BusSubscribeServer) error
}

// UnimplementedBusServer can be embedded to satisfy BusServer for forward
// compatibility with new methods.
type UnimplementedBusServer struct{}

func (UnimplementedBusServer) Publish(context.Context, *structpb.Struct) (*structpb.Struct, error) {
	return nil, status.Error(codes.Unimplemented, "method Publish not implemented")
}

func (UnimplementedBusServer) Subscribe(*structpb.Struct, BusSubscribeServer) error {
	return status.Error(codes.Unimplemented, "method Subscribe not implemented")
}

// BusSubscribeServer is the server-side handle for a Subscribe stream.
type BusSubscribeServer interface {
	Send(*structpb.Struct) error
	grpc.ServerStream
}

type busSubscribeServer struct {
	grpc.ServerStream
}

func (x *busSubscribeServer) Send(m *structpb.Struct) error {
	return x.ServerStream.SendMsg(m)
}

func _Bus_Publish_Handler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(structpb.Struct)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(BusServer).Publish(ctx, in)
	}
	info := &grpc.UnaryServerInfo{
		Server:     srv,
		FullMethod: ServiceName + "/Publish",
	}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(BusServer).Publish(ctx, req.(*structpb.Struct))
	}
	return interceptor(ctx, in, info, handler)
}

func _Bus_Subscribe_Handler(srv any, stream grpc.ServerStream) error {
	m := new(structpb.Struct)
	if err := stream.RecvMsg(m); err != nil {
		return err
	}
	return srv.(BusServer).Subscribe(m, &busSubscribeServer{stream})
}

// ServiceDesc is the hand-written equivalent of a protoc-gen-go-grpc
// _ServiceDesc, registered with grpc.Server via RegisterBusServer.
var ServiceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*BusServer)(nil),
	Methods: []grpc.MethodDesc{
		{
			MethodName: "Publish",
			Handler:    _Bus_Publish_Handler,
		},
	},
	Streams: []grpc.StreamDesc{
		{
			StreamName:    "Subscribe",
			Handler:       _Bus_Subscribe_Handler,
			ServerStreams: true,
		},
	},
	Metadata: "genesis/transport/bus.proto",
}

// RegisterBusServer registers srv on s.
func RegisterBusServer(s grpc.ServiceRegistrar, srv BusServer) {
	s.RegisterService(&ServiceDesc, srv)
}

// BusClient is the client-side handle to the Bus service.
type BusClient interface {
	Publish(ctx context.Context, in *structpb.Struct, opts ...grpc.CallOption) (*structpb.Struct, error)
	Subscribe(ctx context.Context, in *structpb.Struct, opts ...grpc.CallOption) (BusSubscribeClient, error)
}

type busClient struct {
	cc grpc.ClientConnInterface
}

// NewBusClient returns a BusClient backed by cc.
func NewBusClient(cc grpc.ClientConnInterface) BusClient {
	return &busClient{cc}
}

func (c *busClient) Publish(ctx context.Context, in *structpb.Struct, opts ...grpc.CallOption) (*structpb.Struct, error) {
	out := new(structpb.Struct)
	err := c.cc.Invoke(ctx, ServiceName+"/Publish", in, out, opts...)
	if err != nil {
		return nil, err
	}
	return out, nil
}

// BusSubscribeClient is the client-side handle for a Subscribe stream.
type BusSubscribeClient interface {
	Recv() (*structpb.Struct, error)
	grpc.ClientStream
}

type busSubscribeClient struct {
	grpc.ClientStream
}

func (x *busSubscribeClient) Recv() (*structpb.Struct, error) {
	m := new(structpb.Struct)
	if err := x.ClientStream.RecvMsg(m); err != nil {
		return nil, err
	}
	return m, nil
}

func (c *busClient) Subscribe(ctx context.Context, in *structpb.Struct, opts ...grpc.CallOption) (BusSubscribeClient, error) {
	stream, err := c.cc.NewStream(ctx, &ServiceDesc.Streams[0], ServiceName+"/Subscribe", opts...)
	if err != nil {
		return nil, err
	}
	x := &busSubscribeClient{stream}
	if err := x.ClientStream.SendMsg(in); err != nil {
		return nil, err
	}
	if err := x.ClientStream.CloseSend(); err != nil {
		return nil, err
	}
	return x, nil
}
