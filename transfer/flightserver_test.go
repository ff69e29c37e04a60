package transfer

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"strconv"
	"sync"
	"testing"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/array"
	"github.com/apache/arrow-go/v18/arrow/flight"
	"github.com/apache/arrow-go/v18/arrow/ipc"
	"github.com/apache/arrow-go/v18/arrow/memory"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

const testBearerToken = "test-access-token"

var testSchema = arrow.NewSchema([]arrow.Field{
	{Name: "v", Type: arrow.PrimitiveTypes.Int64, Nullable: true},
}, nil)

var countSchema = arrow.NewSchema([]arrow.Field{
	{Name: "count", Type: arrow.PrimitiveTypes.Int64, Nullable: true},
}, nil)

// endpointData is what one fake endpoint serves: its chunks in order, then
// an optional stream error.
type endpointData struct {
	schema *arrow.Schema
	recs   []arrow.RecordBatch
	err    error
}

// fakeDataService is an in-process stand-in for the transfer service. Each
// GetFlightInfo call runs the configured plan function against the parsed
// command and exposes the returned endpoints as tickets.
type fakeDataService struct {
	flight.BaseFlightServer
	alloc memory.Allocator

	mu         sync.Mutex
	commands   []commandEnvelope
	tickets    map[string]*endpointData
	handshakes int

	plan func(cmd commandEnvelope) ([]*endpointData, error)
}

func newFakeDataService(plan func(cmd commandEnvelope) ([]*endpointData, error)) *fakeDataService {
	return &fakeDataService{
		alloc:   memory.DefaultAllocator,
		tickets: make(map[string]*endpointData),
		plan:    plan,
	}
}

func (s *fakeDataService) GetFlightInfo(ctx context.Context, desc *flight.FlightDescriptor) (*flight.FlightInfo, error) {
	var cmd commandEnvelope
	if err := json.Unmarshal(desc.Cmd, &cmd); err != nil {
		return nil, status.Errorf(codes.InvalidArgument, "bad command: %v", err)
	}

	s.mu.Lock()
	s.commands = append(s.commands, cmd)
	cmdIdx := len(s.commands) - 1
	s.mu.Unlock()

	endpoints, err := s.plan(cmd)
	if err != nil {
		return nil, err
	}

	schema := testSchema
	if len(endpoints) > 0 && endpoints[0].schema != nil {
		schema = endpoints[0].schema
	}

	eps := make([]*flight.FlightEndpoint, len(endpoints))
	s.mu.Lock()
	for i, ep := range endpoints {
		key := fmt.Sprintf("%d/%d", cmdIdx, i)
		s.tickets[key] = ep
		eps[i] = &flight.FlightEndpoint{Ticket: &flight.Ticket{Ticket: []byte(key)}}
	}
	s.mu.Unlock()

	return &flight.FlightInfo{
		Schema:           flight.SerializeSchema(schema, s.alloc),
		FlightDescriptor: desc,
		Endpoint:         eps,
		TotalRecords:     -1,
		TotalBytes:       -1,
	}, nil
}

func (s *fakeDataService) DoGet(tkt *flight.Ticket, fs flight.FlightService_DoGetServer) error {
	s.mu.Lock()
	ep, ok := s.tickets[string(tkt.Ticket)]
	s.mu.Unlock()
	if !ok {
		return status.Errorf(codes.NotFound, "unknown ticket %q", tkt.Ticket)
	}
	if len(ep.recs) == 0 && ep.err != nil {
		return ep.err
	}

	schema := ep.schema
	if schema == nil && len(ep.recs) > 0 {
		schema = ep.recs[0].Schema()
	}
	if schema == nil {
		schema = testSchema
	}
	w := flight.NewRecordWriter(fs, ipc.WithSchema(schema))
	defer w.Close()
	for _, rec := range ep.recs {
		if err := w.Write(rec); err != nil {
			return err
		}
	}
	return ep.err
}

func (s *fakeDataService) commandAt(i int) commandEnvelope {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.commands[i]
}

func (s *fakeDataService) commandCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.commands)
}

// fakeAuthHandler validates the bearer payload the client handshake sends
// and hands back an opaque session token.
type fakeAuthHandler struct {
	svc *fakeDataService
}

func (h *fakeAuthHandler) Authenticate(conn flight.AuthConn) error {
	in, err := conn.Read()
	if err != nil {
		return status.Error(codes.Unauthenticated, "missing handshake payload")
	}
	if string(in) != "Bearer "+testBearerToken {
		return status.Error(codes.Unauthenticated, "invalid bearer token")
	}
	h.svc.mu.Lock()
	h.svc.handshakes++
	h.svc.mu.Unlock()
	return conn.Send([]byte("session-" + testBearerToken))
}

func (h *fakeAuthHandler) IsValid(token string) (interface{}, error) {
	if token != "session-"+testBearerToken {
		return nil, status.Error(codes.Unauthenticated, "invalid session token")
	}
	return token, nil
}

// startFakeServer serves svc on a loopback listener torn down with the
// test, and returns its address.
func startFakeServer(t *testing.T, svc *fakeDataService) string {
	t.Helper()

	lis, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	svc.SetAuthHandler(&fakeAuthHandler{svc: svc})

	srv := flight.NewServerWithMiddleware(nil)
	srv.RegisterFlightService(svc)
	srv.InitListener(lis)
	go func() { _ = srv.Serve() }()
	t.Cleanup(srv.Shutdown)

	return lis.Addr().String()
}

// startFakeService starts svc and returns a client already wired to it.
func startFakeService(t *testing.T, svc *fakeDataService) *Client {
	t.Helper()
	return newTestClient(t, startFakeServer(t, svc), testBearerToken)
}

func newTestClient(t *testing.T, addr, token string) *Client {
	t.Helper()
	host, portStr, err := net.SplitHostPort(addr)
	if err != nil {
		t.Fatalf("split addr %q: %v", addr, err)
	}
	port, err := strconv.Atoi(portStr)
	if err != nil {
		t.Fatalf("parse port %q: %v", portStr, err)
	}
	c, err := NewClient(ClientConfig{
		Host:          host,
		Port:          port,
		TokenProvider: StaticToken(token),
		Insecure:      true,
	})
	if err != nil {
		t.Fatalf("NewClient returned error: %v", err)
	}
	t.Cleanup(func() { _ = c.Close() })
	return c
}

// makeInt64Record builds a one-column record over testSchema.
func makeInt64Record(t *testing.T, vals ...int64) arrow.RecordBatch {
	t.Helper()
	b := array.NewRecordBuilder(memory.DefaultAllocator, testSchema)
	defer b.Release()
	b.Field(0).(*array.Int64Builder).AppendValues(vals, nil)
	return b.NewRecordBatch()
}

// makeCountRecord builds the shape a count probe answers with.
func makeCountRecord(t *testing.T, count int64) arrow.RecordBatch {
	t.Helper()
	b := array.NewRecordBuilder(memory.DefaultAllocator, countSchema)
	defer b.Release()
	b.Field(0).(*array.Int64Builder).Append(count)
	return b.NewRecordBatch()
}

// makeWideRecord builds rows carrying a payload string of the given width,
// for tests that need row sizes well above the int64 noise floor.
func makeWideRecord(t *testing.T, rows, width int) arrow.RecordBatch {
	t.Helper()
	schema := arrow.NewSchema([]arrow.Field{
		{Name: "payload", Type: arrow.BinaryTypes.String, Nullable: true},
	}, nil)
	b := array.NewRecordBuilder(memory.DefaultAllocator, schema)
	defer b.Release()
	payload := make([]byte, width)
	for i := range payload {
		payload[i] = 'x'
	}
	sb := b.Field(0).(*array.StringBuilder)
	for i := 0; i < rows; i++ {
		sb.Append(string(payload))
	}
	return b.NewRecordBatch()
}

func releaseAll(recs ...arrow.RecordBatch) {
	for _, rec := range recs {
		rec.Release()
	}
}

// singleEndpointPlan serves the same chunks for every command.
func singleEndpointPlan(recs ...arrow.RecordBatch) func(commandEnvelope) ([]*endpointData, error) {
	return func(commandEnvelope) ([]*endpointData, error) {
		return []*endpointData{{recs: recs}}, nil
	}
}
