// gRPC handlers for the JSONDB service
package server

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/nainya/jsondb/internal/logger"
	"github.com/nainya/jsondb/internal/metrics"
	"github.com/nainya/jsondb/pkg/notify"
	"github.com/nainya/jsondb/pkg/query"
)

// DefaultQueueSize is the per-stream notification buffer
const DefaultQueueSize = 256

// Server implements JSONDBServer over a registry of databases
type Server struct {
	registry  *query.Registry
	log       *logger.Logger
	metrics   *metrics.Metrics
	queueSize int

	streams   atomic.Int64
	startTime time.Time
}

// Option configures a Server
type Option func(*Server)

// WithLogger sets the server logger
func WithLogger(l *logger.Logger) Option {
	return func(s *Server) {
		if l != nil {
			s.log = l
		}
	}
}

// WithMetrics sets the metrics sink
func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Server) {
		s.metrics = m
	}
}

// WithQueueSize sets the per-stream notification buffer
func WithQueueSize(n int) Option {
	return func(s *Server) {
		if n > 0 {
			s.queueSize = n
		}
	}
}

// NewServer creates a gRPC service for the databases in reg
func NewServer(reg *query.Registry, opts ...Option) *Server {
	s := &Server{
		registry:  reg,
		log:       logger.NewNop(),
		queueSize: DefaultQueueSize,
		startTime: time.Now(),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.log = s.log.Component("server")
	return s
}

// NewGRPCServer builds a grpc.Server with the service and interceptors registered
func (s *Server) NewGRPCServer(opts ...grpc.ServerOption) *grpc.Server {
	opts = append([]grpc.ServerOption{
		grpc.MaxRecvMsgSize(100 * 1024 * 1024), // 100 MB
		grpc.MaxSendMsgSize(100 * 1024 * 1024), // 100 MB
		grpc.UnaryInterceptor(GrpcMetricsInterceptor(s.metrics, s.log)),
		grpc.StreamInterceptor(GrpcStreamInterceptor(s.metrics, s.log)),
	}, opts...)
	gs := grpc.NewServer(opts...)
	RegisterJSONDBServer(gs, s)
	return gs
}

// Streams returns the number of open Subscribe streams
func (s *Server) Streams() int {
	return int(s.streams.Load())
}

// Uptime returns how long the server has been running
func (s *Server) Uptime() time.Duration {
	return time.Since(s.startTime)
}

// Status reports uptime, open streams and databases for the health endpoint
func (s *Server) Status() map[string]any {
	return map[string]any{
		"uptime":    s.Uptime().Round(time.Second).String(),
		"streams":   s.Streams(),
		"databases": s.registry.Names(),
	}
}

// Dispatch runs one request batch. Batch failures are reported in the
// returned status fields, not as gRPC errors.
func (s *Server) Dispatch(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	req, err := DecodeRequest(in)
	if err != nil {
		return nil, status.Error(codes.InvalidArgument, err.Error())
	}
	// Subscriptions need a stream to deliver to
	req.Subscriber = nil

	out, err := EncodeRequest(s.registry.Dispatch(req, nil))
	if err != nil {
		return nil, status.Errorf(codes.Internal, "%v", err)
	}
	return out, nil
}

// Disconnect releases every lock and subscription held by clientId
func (s *Server) Disconnect(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	client := in.GetFields()["clientId"].GetStringValue()
	if client == "" {
		return nil, status.Error(codes.InvalidArgument, "clientId is required")
	}
	if err := s.registry.DropClient(client); err != nil {
		return nil, status.Errorf(codes.Internal, "disconnect %s: %v", client, err)
	}
	s.log.Info("Client disconnected").Str("client_id", client).Send()
	return structpb.NewStruct(map[string]any{"clientId": client})
}

// Subscribe registers the request's paths and streams notifications until
// the client goes away. The first message acknowledges the subscription.
func (s *Server) Subscribe(in *structpb.Struct, stream grpc.ServerStream) error {
	limit := s.registry.Settings().MaxConnections()
	if n := s.streams.Add(1); limit > 0 && n > int64(limit) {
		s.streams.Add(-1)
		return status.Errorf(codes.ResourceExhausted, "subscription limit of %d reached", limit)
	}
	defer s.streams.Add(-1)
	s.metrics.StreamOpened()
	defer s.metrics.StreamClosed()

	req, err := DecodeRequest(in)
	if err != nil {
		return status.Error(codes.InvalidArgument, err.Error())
	}
	if req.ClientID == "" {
		req.ClientID = uuid.NewString()
	}
	req.Operation = query.OpSubscribe

	queue := notify.NewQueue(s.queueSize)
	req.Subscriber = queue
	defer queue.Close()

	if s.registry.Dispatch(req, nil).Status != query.StatusNone {
		return status.Errorf(codes.InvalidArgument, "subscribe failed: %s", req.Status)
	}
	defer s.unsubscribe(req)

	ack, err := EncodeRequest(req)
	if err != nil {
		return status.Errorf(codes.Internal, "%v", err)
	}
	if err := stream.SendMsg(ack); err != nil {
		return err
	}

	log := s.log.GrpcLogger(SubscribeMethod).WithFields(map[string]interface{}{
		"client_id": req.ClientID,
		"db":        req.DB,
	})
	log.Debug("Subscription stream opened").Int("paths", len(req.Items)).Send()

	ctx := stream.Context()
	for {
		select {
		case <-ctx.Done():
			log.Debug("Subscription stream closed").Uint64("dropped", queue.Dropped()).Send()
			return nil
		case n := <-queue.C():
			msg, err := EncodeNotification(n)
			if err != nil {
				log.Error("Failed to encode notification").Err(err).Send()
				continue
			}
			if err := stream.SendMsg(msg); err != nil {
				return err
			}
		}
	}
}

// unsubscribe removes the stream's sink from the paths it registered
func (s *Server) unsubscribe(sub *query.Request) {
	items := make([]*query.Item, len(sub.Items))
	for i, item := range sub.Items {
		items[i] = &query.Item{Path: item.Path}
	}
	s.registry.Dispatch(&query.Request{
		ClientID:  sub.ClientID,
		DB:        sub.DB,
		Operation: query.OpUnsubscribe,
		Items:     items,
	}, nil)
}
