package grpcstore

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/protobuf/types/known/wrapperspb"

	"3send.xyz/send/store"
)

// Client implements store.Store over the ControlPlane gRPC service.
type Client struct {
	cc     *grpc.ClientConn
	client ControlPlaneClient

	// Timeout applies per RPC when the caller's context has no deadline.
	Timeout time.Duration
}

var _ store.Store = (*Client)(nil)

type DialOptions struct {
	// Timeout applies to the initial dial when non-zero.
	Timeout time.Duration
}

func Dial(target string, opts DialOptions) (*Client, error) {
	ctx := context.Background()
	if opts.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, opts.Timeout)
		defer cancel()
	}
	cc, err := grpc.DialContext(ctx, target,
		grpc.WithTransportCredentials(insecure.NewCredentials()),
	)
	if err != nil {
		return nil, err
	}
	return &Client{cc: cc, client: NewControlPlaneClient(cc)}, nil
}

func (c *Client) Close() error {
	if c == nil || c.cc == nil {
		return nil
	}
	return c.cc.Close()
}

func (c *Client) Get(ctx context.Context, ns, key string) ([]byte, bool, error) {
	ctx, cancel := c.ctx(ctx)
	defer cancel()
	in, err := encodeKV(ns, key, nil)
	if err != nil {
		return nil, false, err
	}
	out, err := c.client.Get(ctx, in)
	if err != nil {
		return nil, false, fmt.Errorf("grpcstore: get: %w", err)
	}
	var reply getReply
	if err := json.Unmarshal(out.GetValue(), &reply); err != nil {
		return nil, false, fmt.Errorf("grpcstore: decode reply: %w", err)
	}
	return reply.Value, reply.Found, nil
}

func (c *Client) Set(ctx context.Context, ns, key string, value []byte) error {
	ctx, cancel := c.ctx(ctx)
	defer cancel()
	in, err := encodeKV(ns, key, value)
	if err != nil {
		return err
	}
	if _, err := c.client.Set(ctx, in); err != nil {
		return fmt.Errorf("grpcstore: set: %w", err)
	}
	return nil
}

func (c *Client) SetIfAbsent(ctx context.Context, ns, key string, value []byte) (bool, error) {
	ctx, cancel := c.ctx(ctx)
	defer cancel()
	in, err := encodeKV(ns, key, value)
	if err != nil {
		return false, err
	}
	out, err := c.client.SetIfAbsent(ctx, in)
	if err != nil {
		return false, fmt.Errorf("grpcstore: set-if-absent: %w", err)
	}
	return out.GetValue(), nil
}

func (c *Client) Delete(ctx context.Context, ns, key string) error {
	ctx, cancel := c.ctx(ctx)
	defer cancel()
	in, err := encodeKV(ns, key, nil)
	if err != nil {
		return err
	}
	if _, err := c.client.Delete(ctx, in); err != nil {
		return fmt.Errorf("grpcstore: delete: %w", err)
	}
	return nil
}

func (c *Client) GetAll(ctx context.Context, ns string) (map[string][]byte, error) {
	ctx, cancel := c.ctx(ctx)
	defer cancel()
	out, err := c.client.GetAll(ctx, wrapperspb.String(ns))
	if err != nil {
		return nil, fmt.Errorf("grpcstore: get-all: %w", err)
	}
	all := make(map[string][]byte)
	if err := json.Unmarshal(out.GetValue(), &all); err != nil {
		return nil, fmt.Errorf("grpcstore: decode reply: %w", err)
	}
	return all, nil
}

func (c *Client) ctx(parent context.Context) (context.Context, context.CancelFunc) {
	if c.Timeout <= 0 {
		return context.WithCancel(parent)
	}
	if _, has := parent.Deadline(); has {
		return context.WithCancel(parent)
	}
	return context.WithTimeout(parent, c.Timeout)
}

func encodeKV(ns, key string, value []byte) (*wrapperspb.BytesValue, error) {
	b, err := json.Marshal(kvRequest{Namespace: ns, Key: key, Value: value})
	if err != nil {
		return nil, fmt.Errorf("grpcstore: encode request: %w", err)
	}
	return wrapperspb.Bytes(b), nil
}
