package node

import (
	"context"
	"log/slog"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/structpb"
	"google.golang.org/protobuf/types/known/wrapperspb"

	"collbench/internal/transport"
)

// Server implements the Transport gRPC service over a rank's mailbox.
type Server struct {
	box    *transport.Mailbox
	rank   int
	size   int
	logger *slog.Logger
}

// NewServer creates a server delivering into box.
func NewServer(box *transport.Mailbox, rank, size int, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{box: box, rank: rank, size: size, logger: logger}
}

// Deliver handles an envelope sent by a peer.
func (s *Server) Deliver(ctx context.Context, req *wrapperspb.BytesValue) (*emptypb.Empty, error) {
	env, err := transport.UnmarshalEnvelope(req.GetValue())
	if err != nil {
		return nil, status.Errorf(codes.InvalidArgument, "decode envelope: %v", err)
	}
	if env.Source < 0 || env.Source >= s.size {
		return nil, status.Errorf(codes.InvalidArgument, "source rank %d outside world of %d", env.Source, s.size)
	}
	if err := s.box.Put(env.Context, env.Source, env.Tag, env.Data); err != nil {
		return nil, status.Error(codes.Aborted, err.Error())
	}
	return &emptypb.Empty{}, nil
}

// Ping handles readiness probes.
func (s *Server) Ping(ctx context.Context, req *emptypb.Empty) (*wrapperspb.Int64Value, error) {
	return wrapperspb.Int64(int64(s.rank)), nil
}

// Abort handles an abort raised by a peer.
func (s *Server) Abort(ctx context.Context, req *structpb.Struct) (*emptypb.Empty, error) {
	fields := req.GetFields()
	code := int(fields["code"].GetNumberValue())
	from := int(fields["source"].GetNumberValue())
	reason := fields["reason"].GetStringValue()

	s.logger.Warn("abort received", "from", from, "code", code, "reason", reason)
	s.box.Abort(code, reason)
	return &emptypb.Empty{}, nil
}
