// Package server exposes jsondb databases over gRPC
package server

import (
	"context"
	"encoding/json"
	"fmt"

	"google.golang.org/grpc"
	"google.golang.org/protobuf/encoding/protojson"
	"google.golang.org/protobuf/types/known/structpb"
	"google.golang.org/protobuf/types/known/timestamppb"

	"github.com/nainya/jsondb/pkg/jsonpath"
	"github.com/nainya/jsondb/pkg/notify"
	"github.com/nainya/jsondb/pkg/query"
)

const (
	ServiceName = "jsondb.v1.JSONDB"

	DispatchMethod   = "/" + ServiceName + "/Dispatch"
	DisconnectMethod = "/" + ServiceName + "/Disconnect"
	SubscribeMethod  = "/" + ServiceName + "/Subscribe"
)

// JSONDBServer is the server API for the JSONDB service
type JSONDBServer interface {
	Dispatch(context.Context, *structpb.Struct) (*structpb.Struct, error)
	Disconnect(context.Context, *structpb.Struct) (*structpb.Struct, error)
	Subscribe(*structpb.Struct, grpc.ServerStream) error
}

// ServiceDesc describes the JSONDB service. Every message is a
// google.protobuf.Struct carrying the JSON form of a request or notification.
var ServiceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*JSONDBServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "Dispatch", Handler: dispatchHandler},
		{MethodName: "Disconnect", Handler: disconnectHandler},
	},
	Streams: []grpc.StreamDesc{
		{StreamName: "Subscribe", Handler: subscribeHandler, ServerStreams: true},
	},
	Metadata: "jsondb/v1/jsondb.proto",
}

// RegisterJSONDBServer registers srv on s
func RegisterJSONDBServer(s grpc.ServiceRegistrar, srv JSONDBServer) {
	s.RegisterService(&ServiceDesc, srv)
}

func dispatchHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(structpb.Struct)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(JSONDBServer).Dispatch(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: DispatchMethod}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(JSONDBServer).Dispatch(ctx, req.(*structpb.Struct))
	}
	return interceptor(ctx, in, info, handler)
}

func disconnectHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(structpb.Struct)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(JSONDBServer).Disconnect(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: DisconnectMethod}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(JSONDBServer).Disconnect(ctx, req.(*structpb.Struct))
	}
	return interceptor(ctx, in, info, handler)
}

func subscribeHandler(srv any, stream grpc.ServerStream) error {
	in := new(structpb.Struct)
	if err := stream.RecvMsg(in); err != nil {
		return err
	}
	return srv.(JSONDBServer).Subscribe(in, stream)
}

// encodeStruct converts any JSON-encodable value into a Struct
func encodeStruct(v any) (*structpb.Struct, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	var fields map[string]any
	if err := json.Unmarshal(data, &fields); err != nil {
		return nil, err
	}
	return structpb.NewStruct(fields)
}

// decodeStruct fills v from the JSON form of s
func decodeStruct(s *structpb.Struct, v any) error {
	data, err := protojson.Marshal(s)
	if err != nil {
		return err
	}
	return json.Unmarshal(data, v)
}

// EncodeRequest converts a request into its wire form
func EncodeRequest(req *query.Request) (*structpb.Struct, error) {
	s, err := encodeStruct(req)
	if err != nil {
		return nil, fmt.Errorf("encode request: %w", err)
	}
	return s, nil
}

// DecodeRequest converts a wire message into a request
func DecodeRequest(s *structpb.Struct) (*query.Request, error) {
	req := new(query.Request)
	if err := decodeStruct(s, req); err != nil {
		return nil, fmt.Errorf("decode request: %w", err)
	}
	return req, nil
}

// wireNotification is the stream form of a notification; Time holds
// the protobuf JSON rendering of a Timestamp
type wireNotification struct {
	Path       string          `json:"path"`
	Subscribed string          `json:"subscribed"`
	ClientID   string          `json:"clientId"`
	Value      any             `json:"value"`
	Time       json.RawMessage `json:"time"`
}

// EncodeNotification converts a notification into its wire form
func EncodeNotification(n notify.Notification) (*structpb.Struct, error) {
	ts, err := protojson.Marshal(timestamppb.New(n.Time))
	if err != nil {
		return nil, fmt.Errorf("encode timestamp: %w", err)
	}
	return encodeStruct(wireNotification{
		Path:       n.Path.String(),
		Subscribed: n.Subscribed.String(),
		ClientID:   n.ClientID,
		Value:      n.Value,
		Time:       ts,
	})
}

// DecodeNotification converts a wire message into a notification
func DecodeNotification(s *structpb.Struct) (notify.Notification, error) {
	var w wireNotification
	if err := decodeStruct(s, &w); err != nil {
		return notify.Notification{}, fmt.Errorf("decode notification: %w", err)
	}
	n := notify.Notification{
		Path:       jsonpath.Path(w.Path),
		Subscribed: jsonpath.Path(w.Subscribed),
		ClientID:   w.ClientID,
		Value:      w.Value,
	}
	if len(w.Time) > 0 {
		ts := new(timestamppb.Timestamp)
		if err := protojson.Unmarshal(w.Time, ts); err != nil {
			return notify.Notification{}, fmt.Errorf("decode timestamp: %w", err)
		}
		n.Time = ts.AsTime()
	}
	return n, nil
}
