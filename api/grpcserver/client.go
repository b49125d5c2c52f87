package grpcserver

import (
	"context"

	"github.com/pkg/errors"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/structpb"
)

// Client calls the management service.
type Client struct {
	conn *grpc.ClientConn
}

// Dial connects to addr without transport security; the service is
// meant for a local socket.
func Dial(addr string) (*Client, error) {
	conn, err := grpc.NewClient(addr, grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		return nil, errors.Wrapf(err, "grpc: dial %s", addr)
	}
	return &Client{conn: conn}, nil
}

// Check returns the total fragment count.
func (c *Client) Check(ctx context.Context) (uint64, error) {
	out := new(structpb.Struct)
	if err := c.conn.Invoke(ctx, checkMethod, &emptypb.Empty{}, out); err != nil {
		return 0, errors.Wrap(err, "grpc: check")
	}
	return uint64(out.GetFields()["total_fragments"].GetNumberValue()), nil
}

// Stats returns the pool counters keyed by name.
func (c *Client) Stats(ctx context.Context) (map[string]uint64, error) {
	out := new(structpb.Struct)
	if err := c.conn.Invoke(ctx, statsMethod, &emptypb.Empty{}, out); err != nil {
		return nil, errors.Wrap(err, "grpc: stats")
	}
	m := make(map[string]uint64, len(out.GetFields()))
	for k, v := range out.GetFields() {
		m[k] = uint64(v.GetNumberValue())
	}
	return m, nil
}

func (c *Client) Close() error {
	return c.conn.Close()
}
