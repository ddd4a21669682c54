// Thin client over the JSONDB service
package server

import (
	"context"
	"fmt"

	"google.golang.org/grpc"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/nainya/jsondb/pkg/notify"
	"github.com/nainya/jsondb/pkg/query"
)

// Client calls the JSONDB service over a gRPC connection
type Client struct {
	conn grpc.ClientConnInterface
}

// NewClient wraps an established connection
func NewClient(conn grpc.ClientConnInterface) *Client {
	return &Client{conn: conn}
}

// Dispatch sends one batch and returns the completed request
func (c *Client) Dispatch(ctx context.Context, req *query.Request, opts ...grpc.CallOption) (*query.Request, error) {
	in, err := EncodeRequest(req)
	if err != nil {
		return nil, err
	}
	out := new(structpb.Struct)
	if err := c.conn.Invoke(ctx, DispatchMethod, in, out, opts...); err != nil {
		return nil, err
	}
	return DecodeRequest(out)
}

// Disconnect releases every lock and subscription held by clientID
func (c *Client) Disconnect(ctx context.Context, clientID string, opts ...grpc.CallOption) error {
	in, err := structpb.NewStruct(map[string]any{"clientId": clientID})
	if err != nil {
		return err
	}
	return c.conn.Invoke(ctx, DisconnectMethod, in, new(structpb.Struct), opts...)
}

// Subscription is an open notification stream
type Subscription struct {
	ClientID string
	Request  *query.Request
	stream   grpc.ClientStream
}

// Subscribe opens a stream for paths in db. An empty clientID lets the
// server assign one; it is reported in the returned Subscription.
func (c *Client) Subscribe(ctx context.Context, clientID, db string, paths ...string) (*Subscription, error) {
	items := make([]*query.Item, len(paths))
	for i, p := range paths {
		items[i] = &query.Item{Path: p}
	}
	in, err := EncodeRequest(&query.Request{
		ClientID:  clientID,
		DB:        db,
		Operation: query.OpSubscribe,
		Items:     items,
	})
	if err != nil {
		return nil, err
	}

	stream, err := c.conn.NewStream(ctx, &ServiceDesc.Streams[0], SubscribeMethod)
	if err != nil {
		return nil, err
	}
	if err := stream.SendMsg(in); err != nil {
		return nil, err
	}
	if err := stream.CloseSend(); err != nil {
		return nil, err
	}

	ack := new(structpb.Struct)
	if err := stream.RecvMsg(ack); err != nil {
		return nil, err
	}
	req, err := DecodeRequest(ack)
	if err != nil {
		return nil, err
	}
	if req.Status != query.StatusNone {
		return nil, fmt.Errorf("subscribe: %w", req.Status.Err())
	}
	return &Subscription{ClientID: req.ClientID, Request: req, stream: stream}, nil
}

// Recv blocks until the next notification arrives
func (s *Subscription) Recv() (notify.Notification, error) {
	msg := new(structpb.Struct)
	if err := s.stream.RecvMsg(msg); err != nil {
		return notify.Notification{}, err
	}
	return DecodeNotification(msg)
}
