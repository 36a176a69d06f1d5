package grpcx

import (
	"context"
	"errors"
	"log"
	"strconv"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/wrapperspb"

	"ringclock/internal/codec"
	"ringclock/internal/transport"
)

// Server implements RingServer by decoding each payload and queuing it in
// the inbox of its sender. Deliver returns only once the clock is queued,
// which gives senders synchronous hand-off semantics.
type Server struct {
	self     int
	ringSize int
	codec    codec.Codec
	inbox    *transport.Inbox
}

// NewServer creates a server for participant self in a ring of ringSize.
func NewServer(self, ringSize int, c codec.Codec, inbox *transport.Inbox) *Server {
	return &Server{
		self:     self,
		ringSize: ringSize,
		codec:    c,
		inbox:    inbox,
	}
}

// Deliver handles one clock sent by a ring neighbour.
func (s *Server) Deliver(ctx context.Context, req *wrapperspb.BytesValue) (*emptypb.Empty, error) {
	src, err := sourceFromContext(ctx)
	if err != nil {
		return nil, status.Error(codes.InvalidArgument, err.Error())
	}
	if src < 0 || src >= s.ringSize {
		return nil, status.Errorf(codes.InvalidArgument, "source rank %d outside ring of %d", src, s.ringSize)
	}

	vc, err := s.codec.Decode(req.GetValue(), s.ringSize)
	if err != nil {
		log.Printf("[P%d] Deliver: rejecting payload from P%d: %v", s.self, src, err)
		return nil, status.Error(codes.InvalidArgument, err.Error())
	}

	if err := s.inbox.Deliver(ctx, src, vc); err != nil {
		if errors.Is(err, transport.ErrClosed) {
			return nil, status.Error(codes.Unavailable, err.Error())
		}
		return nil, status.FromContextError(err).Err()
	}
	return &emptypb.Empty{}, nil
}

func sourceFromContext(ctx context.Context) (int, error) {
	md, ok := metadata.FromIncomingContext(ctx)
	if !ok {
		return 0, errors.New("missing metadata")
	}
	values := md.Get(sourceMetadataKey)
	if len(values) == 0 {
		return 0, errors.New("missing " + sourceMetadataKey)
	}
	return strconv.Atoi(values[0])
}
