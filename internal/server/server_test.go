// Integration tests for the jsondb gRPC server
package server

import (
	"context"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/status"
	"google.golang.org/grpc/test/bufconn"

	"github.com/nainya/jsondb/internal/logger"
	"github.com/nainya/jsondb/internal/metrics"
	"github.com/nainya/jsondb/pkg/query"
)

const bufSize = 1024 * 1024

func setupTestServer(t *testing.T, policy string, maxConnections int) (*Client, *metrics.Metrics, func()) {
	t.Helper()

	settings := query.NewSettingsBuilder().
		LockingPolicy(policy).
		MaxConnections(maxConnections).
		Build()
	m := metrics.NewMetrics(prometheus.NewRegistry())
	reg := query.NewRegistry(settings, query.WithMetrics(m))
	if _, err := reg.Create("main"); err != nil {
		t.Fatalf("Failed to create database: %v", err)
	}

	// Create a new listener for this test
	lis := bufconn.Listen(bufSize)

	srv := NewServer(reg, WithMetrics(m), WithLogger(logger.NewNop()))
	grpcServer := srv.NewGRPCServer()

	go func() {
		// Server closed is expected during cleanup
		_ = grpcServer.Serve(lis)
	}()

	// Create client with custom dialer
	bufDialer := func(context.Context, string) (net.Conn, error) {
		return lis.Dial()
	}

	conn, err := grpc.NewClient("passthrough:///bufnet",
		grpc.WithContextDialer(bufDialer),
		grpc.WithTransportCredentials(insecure.NewCredentials()),
	)
	if err != nil {
		t.Fatalf("Failed to dial bufnet: %v", err)
	}

	cleanup := func() {
		conn.Close()
		grpcServer.Stop()
		lis.Close()
	}

	return NewClient(conn), m, cleanup
}

func item(path, key string, value any) *query.Item {
	return &query.Item{Path: path, Key: key, Value: value}
}

func TestDispatchWriteAndRead(t *testing.T) {
	client, m, cleanup := setupTestServer(t, "none", 0)
	defer cleanup()

	ctx := context.Background()

	resp, err := client.Dispatch(ctx, &query.Request{
		ClientID:  "X",
		Operation: query.OpWrite,
		Items:     []*query.Item{item("a", "b", map[string]any{"c": 1})},
	})
	if err != nil {
		t.Fatalf("Failed to write: %v", err)
	}
	if resp.Status != query.StatusNone {
		t.Fatalf("Expected NONE, got %v", resp.Status)
	}
	if !strings.HasPrefix(resp.ID, "L") {
		t.Errorf("Expected server-assigned id, got %q", resp.ID)
	}

	resp, err = client.Dispatch(ctx, &query.Request{
		ClientID:  "X",
		Operation: query.OpRead,
		Items:     []*query.Item{item("a.b.c", "", nil)},
	})
	if err != nil {
		t.Fatalf("Failed to read: %v", err)
	}
	if resp.Items[0].Value != 1.0 {
		t.Errorf("Expected 1, got %v", resp.Items[0].Value)
	}
	if len(resp.Items[0].Results) != 1 || resp.Items[0].Results[0].Path != "a/b/c" {
		t.Errorf("Expected result at a/b/c, got %+v", resp.Items[0].Results)
	}

	if got := testutil.ToFloat64(m.RequestsTotal.WithLabelValues("main", "WRITE", "NONE")); got != 1 {
		t.Errorf("Expected 1 write request, got %v", got)
	}
	if got := testutil.ToFloat64(m.GrpcRequestsTotal.WithLabelValues(DispatchMethod, "OK")); got != 2 {
		t.Errorf("Expected 2 gRPC calls, got %v", got)
	}
}

func TestDispatchReportsBatchStatus(t *testing.T) {
	client, m, cleanup := setupTestServer(t, "record", 0)
	defer cleanup()

	ctx := context.Background()

	if _, err := client.Dispatch(ctx, &query.Request{ClientID: "X", Operation: query.OpLock, Items: []*query.Item{item("a", "", nil)}}); err != nil {
		t.Fatalf("Failed to lock: %v", err)
	}
	resp, err := client.Dispatch(ctx, &query.Request{ClientID: "Y", Operation: query.OpWrite, Items: []*query.Item{item("a", "b", 1)}})
	if err != nil {
		t.Fatalf("Expected status in body, got error %v", err)
	}
	if resp.Status != query.StatusWriteConflict {
		t.Errorf("Expected WRITE, got %v", resp.Status)
	}
	if got := testutil.ToFloat64(m.ConflictsTotal.WithLabelValues("main", "WRITE")); got != 1 {
		t.Errorf("Expected 1 write conflict, got %v", got)
	}

	resp, err = client.Dispatch(ctx, &query.Request{DB: "nope", Operation: query.OpRead, Items: []*query.Item{item("a", "", nil)}})
	if err != nil {
		t.Fatalf("Failed to dispatch: %v", err)
	}
	if resp.Status != query.StatusInvalidDB {
		t.Errorf("Expected INVALID_DB, got %v", resp.Status)
	}

	// Unary subscribe has no stream to deliver to
	resp, err = client.Dispatch(ctx, &query.Request{ClientID: "X", Operation: query.OpSubscribe, Items: []*query.Item{item("a", "", nil)}})
	if err != nil {
		t.Fatalf("Failed to dispatch: %v", err)
	}
	if resp.Status != query.StatusInvalidRequest {
		t.Errorf("Expected INVALID_REQUEST, got %v", resp.Status)
	}
}

func TestSubscribeStream(t *testing.T) {
	client, m, cleanup := setupTestServer(t, "none", 0)
	defer cleanup()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	sub, err := client.Subscribe(ctx, "", "main", "a")
	if err != nil {
		t.Fatalf("Failed to subscribe: %v", err)
	}
	if sub.ClientID == "" {
		t.Fatal("Expected an assigned client id")
	}
	if got := testutil.ToFloat64(m.SubscribeStreams); got != 1 {
		t.Errorf("Expected 1 open stream, got %v", got)
	}

	if _, err := client.Dispatch(ctx, &query.Request{ClientID: "W", Operation: query.OpWrite, Items: []*query.Item{item("a", "b", "hello")}}); err != nil {
		t.Fatalf("Failed to write: %v", err)
	}

	n, err := sub.Recv()
	if err != nil {
		t.Fatalf("Failed to receive notification: %v", err)
	}
	if n.Path != "a/b" || n.Subscribed != "a" || n.Value != "hello" {
		t.Errorf("Unexpected notification %+v", n)
	}
	if n.ClientID != sub.ClientID {
		t.Errorf("Expected client %s, got %s", sub.ClientID, n.ClientID)
	}
	if n.Time.IsZero() {
		t.Error("Expected notification time")
	}
}

func TestSubscribeRejectsInvalidPaths(t *testing.T) {
	client, _, cleanup := setupTestServer(t, "none", 0)
	defer cleanup()

	_, err := client.Subscribe(context.Background(), "S", "main", "#!")
	if status.Code(err) != codes.InvalidArgument {
		t.Errorf("Expected InvalidArgument, got %v", err)
	}
}

func TestSubscribeLimit(t *testing.T) {
	client, _, cleanup := setupTestServer(t, "none", 1)
	defer cleanup()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if _, err := client.Subscribe(ctx, "S1", "main", "a"); err != nil {
		t.Fatalf("Failed to subscribe: %v", err)
	}
	_, err := client.Subscribe(ctx, "S2", "main", "b")
	if status.Code(err) != codes.ResourceExhausted {
		t.Errorf("Expected ResourceExhausted, got %v", err)
	}
}

func TestDisconnectReleasesLocks(t *testing.T) {
	client, _, cleanup := setupTestServer(t, "record", 0)
	defer cleanup()

	ctx := context.Background()

	if _, err := client.Dispatch(ctx, &query.Request{ClientID: "X", Operation: query.OpLock, Items: []*query.Item{item("a", "", nil)}}); err != nil {
		t.Fatalf("Failed to lock: %v", err)
	}
	if err := client.Disconnect(ctx, "X"); err != nil {
		t.Fatalf("Failed to disconnect: %v", err)
	}

	resp, err := client.Dispatch(ctx, &query.Request{ClientID: "Y", Operation: query.OpLock, Items: []*query.Item{item("a", "", nil)}})
	if err != nil {
		t.Fatalf("Failed to lock: %v", err)
	}
	if resp.Status != query.StatusNone {
		t.Errorf("Expected lock after disconnect, got %v", resp.Status)
	}

	if err := client.Disconnect(ctx, ""); status.Code(err) != codes.InvalidArgument {
		t.Errorf("Expected InvalidArgument for empty client, got %v", err)
	}
}

func TestObservabilityEndpoints(t *testing.T) {
	reg := prometheus.NewRegistry()
	metrics.NewMetrics(reg)

	dbs := query.NewRegistry(query.DefaultSettings())
	if _, err := dbs.Create("main"); err != nil {
		t.Fatalf("Failed to create database: %v", err)
	}
	srv := NewServer(dbs)

	ready := false
	o := NewObservabilityServer(":0", reg, func() bool { return ready }, srv.Status, logger.NewNop())
	h := o.Handler()

	tests := []struct {
		path string
		code int
		body string
	}{
		{"/health", http.StatusOK, `"healthy"`},
		{"/health", http.StatusOK, `"databases":["main"]`},
		{"/health", http.StatusOK, `"streams":0`},
		{"/ready", http.StatusServiceUnavailable, `"starting"`},
		{"/metrics", http.StatusOK, "jsondb_server_uptime_seconds"},
	}
	for _, tt := range tests {
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, tt.path, nil))
		if rec.Code != tt.code {
			t.Errorf("%s: expected %d, got %d", tt.path, tt.code, rec.Code)
		}
		if !strings.Contains(rec.Body.String(), tt.body) {
			t.Errorf("%s: expected body to contain %s, got %s", tt.path, tt.body, rec.Body.String())
		}
	}

	ready = true
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/ready", nil))
	if rec.Code != http.StatusOK {
		t.Errorf("Expected ready, got %d", rec.Code)
	}
}
