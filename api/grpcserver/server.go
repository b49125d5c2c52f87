package grpcserver

import (
	"context"

	"github.com/go-kit/log"
	"github.com/go-kit/log/level"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/structpb"

	"shmpool/infra/stats"
)

// Pool is what the server needs from service.Pool.
type Pool interface {
	stats.Source
	Check() int
}

// Server adapts the pool to gRPC.
type Server struct {
	pool   Pool
	logger log.Logger
}

func NewServer(pool Pool, logger log.Logger) *Server {
	if logger == nil {
		logger = log.NewNopLogger()
	}
	return &Server{pool: pool, logger: log.With(logger, "component", "grpc")}
}

// -------------------- Commands --------------------

// Check walks the pool. Corruption never comes back as an error: the
// pool aborts the process.
func (s *Server) Check(ctx context.Context, _ *emptypb.Empty) (*structpb.Struct, error) {
	n := s.pool.Check()
	level.Info(s.logger).Log("msg", "check", "total_fragments", n)
	return newStruct(map[string]interface{}{"total_fragments": n})
}

// -------------------- Queries --------------------

func (s *Server) Stats(ctx context.Context, _ *emptypb.Empty) (*structpb.Struct, error) {
	return newStruct(map[string]interface{}{
		"total_size":     s.pool.TotalSize(),
		"used_size":      s.pool.UsedSize(),
		"real_used_size": s.pool.RealUsedSize(),
		"max_used_size":  s.pool.MaxUsedSize(),
		"free_size":      s.pool.FreeSize(),
		"fragments":      s.pool.Fragments(),
	})
}

func newStruct(m map[string]interface{}) (*structpb.Struct, error) {
	out, err := structpb.NewStruct(m)
	if err != nil {
		return nil, status.Errorf(codes.Internal, "encode response: %v", err)
	}
	return out, nil
}
