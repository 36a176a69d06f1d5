package grpcx

import (
	"context"

	"google.golang.org/grpc"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/wrapperspb"
)

const (
	// ServiceName is the fully qualified gRPC service carrying ring traffic.
	ServiceName = "ringclock.v1.Ring"
	// DeliverMethod is the full method name of the single ring RPC.
	DeliverMethod = "/" + ServiceName + "/Deliver"

	// Metadata key carrying the sender's rank.
	sourceMetadataKey = "x-ring-source"
)

// RingServer is the server side of the Ring service. The request value is
// the encoded clock payload and nothing else.
type RingServer interface {
	Deliver(ctx context.Context, req *wrapperspb.BytesValue) (*emptypb.Empty, error)
}

// RegisterRingServer registers srv on s.
func RegisterRingServer(s grpc.ServiceRegistrar, srv RingServer) {
	s.RegisterService(&ringServiceDesc, srv)
}

func deliverHandler(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	in := new(wrapperspb.BytesValue)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(RingServer).Deliver(ctx, in)
	}
	info := &grpc.UnaryServerInfo{
		Server:     srv,
		FullMethod: DeliverMethod,
	}
	handler := func(ctx context.Context, req interface{}) (interface{}, error) {
		return srv.(RingServer).Deliver(ctx, req.(*wrapperspb.BytesValue))
	}
	return interceptor(ctx, in, info, handler)
}

var ringServiceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*RingServer)(nil),
	Methods: []grpc.MethodDesc{
		{
			MethodName: "Deliver",
			Handler:    deliverHandler,
		},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "ringclock/v1/ring.proto",
}

// RingClient is the client side of the Ring service.
type RingClient interface {
	Deliver(ctx context.Context, in *wrapperspb.BytesValue, opts ...grpc.CallOption) (*emptypb.Empty, error)
}

type ringClient struct {
	cc grpc.ClientConnInterface
}

// NewRingClient wraps a connection to a peer.
func NewRingClient(cc grpc.ClientConnInterface) RingClient {
	return &ringClient{cc: cc}
}

func (c *ringClient) Deliver(ctx context.Context, in *wrapperspb.BytesValue, opts ...grpc.CallOption) (*emptypb.Empty, error) {
	out := new(emptypb.Empty)
	if err := c.cc.Invoke(ctx, DeliverMethod, in, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}
