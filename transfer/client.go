package transfer

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"strconv"
	"sync"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/flight"
	"github.com/apache/arrow-go/v18/arrow/memory"
	"go.opentelemetry.io/contrib/instrumentation/google.golang.org/grpc/otelgrpc"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials"
	"google.golang.org/grpc/credentials/insecure"
)

// MaxGRPCMessageSize is the max gRPC message size for Flight communication.
// Endpoint batches can easily exceed the default 4MB limit.
const MaxGRPCMessageSize = 1 << 30 // 1GB

// TokenProvider supplies the bearer token presented during the Flight
// handshake. Implementations refresh expired tokens as needed.
type TokenProvider interface {
	Token(ctx context.Context) (string, error)
}

// StaticToken is a TokenProvider for a token that never changes.
type StaticToken string

func (t StaticToken) Token(context.Context) (string, error) {
	return string(t), nil
}

// tokenAuthHandler runs the Flight auth handshake: it sends the bearer
// token and keeps whatever opaque token the server answers with for the
// lifetime of the connection.
type tokenAuthHandler struct {
	provider TokenProvider

	mu      sync.RWMutex
	session []byte
}

func (h *tokenAuthHandler) Authenticate(ctx context.Context, conn flight.AuthConn) error {
	token, err := h.provider.Token(ctx)
	if err != nil {
		return fmt.Errorf("fetch bearer token: %w", err)
	}
	if err := conn.Send([]byte("Bearer " + token)); err != nil {
		return err
	}
	reply, err := conn.Read()
	if err != nil {
		return err
	}
	h.mu.Lock()
	h.session = reply
	h.mu.Unlock()
	return nil
}

func (h *tokenAuthHandler) GetToken(context.Context) (string, error) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	if h.session == nil {
		return "", errors.New("flight handshake has not run")
	}
	return string(h.session), nil
}

// ClientConfig configures a transfer service client.
type ClientConfig struct {
	Host string
	Port int
	// TokenProvider authenticates the Flight handshake.
	TokenProvider TokenProvider
	// DisableTLSVerify skips certificate verification. TLS stays on.
	DisableTLSVerify bool
	// Insecure dials without TLS. Meant for local servers.
	Insecure bool
	// EnableTelemetry attaches OpenTelemetry instrumentation to the
	// underlying gRPC channel.
	EnableTelemetry bool
}

// Client is an authenticated connection to the transfer service. One client
// serves any number of concurrent sessions; the handshake runs once, before
// the first session opens.
type Client struct {
	fc    flight.Client
	alloc memory.Allocator

	mu            sync.Mutex
	authenticated bool
}

// NewClient dials the transfer service. The connection is lazy; the
// handshake happens when the first session opens.
func NewClient(cfg ClientConfig) (*Client, error) {
	if cfg.TokenProvider == nil {
		return nil, errors.New("transfer client requires a token provider")
	}

	var dialOpts []grpc.DialOption
	if cfg.Insecure {
		dialOpts = append(dialOpts, grpc.WithTransportCredentials(insecure.NewCredentials()))
	} else {
		tlsCfg := &tls.Config{InsecureSkipVerify: cfg.DisableTLSVerify}
		dialOpts = append(dialOpts, grpc.WithTransportCredentials(credentials.NewTLS(tlsCfg)))
	}
	dialOpts = append(dialOpts, grpc.WithDefaultCallOptions(
		grpc.MaxCallRecvMsgSize(MaxGRPCMessageSize),
		grpc.MaxCallSendMsgSize(MaxGRPCMessageSize),
	))
	if cfg.EnableTelemetry {
		dialOpts = append(dialOpts, grpc.WithStatsHandler(otelgrpc.NewClientHandler()))
	}

	addr := net.JoinHostPort(cfg.Host, strconv.Itoa(cfg.Port))
	auth := &tokenAuthHandler{provider: cfg.TokenProvider}
	fc, err := flight.NewClientWithMiddleware(addr, auth, nil, dialOpts...)
	if err != nil {
		return nil, fmt.Errorf("flight client: %w", err)
	}
	return &Client{fc: fc, alloc: memory.DefaultAllocator}, nil
}

// Close tears down the underlying gRPC channel. Open sessions become
// unusable.
func (c *Client) Close() error {
	return c.fc.Close()
}

// ensureAuthenticated runs the handshake exactly once per client. A failed
// handshake is retried on the next call.
func (c *Client) ensureAuthenticated(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.authenticated {
		return nil
	}
	if err := c.fc.Authenticate(ctx); err != nil {
		return fmt.Errorf("flight authenticate: %w", err)
	}
	c.authenticated = true
	return nil
}

// Open submits a session command and returns the session the service
// planned for it. The endpoints are ready to read immediately.
func (c *Client) Open(ctx context.Context, command string) (*Session, error) {
	if err := c.ensureAuthenticated(ctx); err != nil {
		return nil, err
	}
	desc := &flight.FlightDescriptor{
		Type: flight.DescriptorCMD,
		Cmd:  []byte(command),
	}
	info, err := c.fc.GetFlightInfo(ctx, desc)
	if err != nil {
		return nil, classifyOpenErr(fmt.Errorf("flight getflightinfo: %w", err))
	}
	sessionsOpenedCounter.Inc()
	slog.Debug("transfer session opened", "endpoints", len(info.Endpoint))
	return &Session{client: c, info: info}, nil
}

// Session is one planned read: a set of endpoints that together hold every
// row the session command selected.
type Session struct {
	client *Client
	info   *flight.FlightInfo
}

// Endpoints reports how many partitions the service planned.
func (s *Session) Endpoints() int {
	return len(s.info.Endpoint)
}

// Schema decodes the result schema the service announced for this session.
func (s *Session) Schema() (*arrow.Schema, error) {
	return flight.DeserializeSchema(s.info.Schema, s.client.alloc)
}

// Read drains endpoint i into memory and returns every chunk the stream
// produced, in arrival order. Failures abort the read; nothing is retried.
func (s *Session) Read(ctx context.Context, i int) (Batch, error) {
	ep := s.info.Endpoint[i]
	stream, err := s.client.fc.DoGet(ctx, ep.Ticket)
	if err != nil {
		return Batch{}, &StreamError{Endpoint: i, Err: fmt.Errorf("flight doget: %w", err)}
	}
	reader, err := flight.NewRecordReader(stream)
	if err != nil {
		return Batch{}, &StreamError{Endpoint: i, Err: fmt.Errorf("flight record reader: %w", err)}
	}
	defer reader.Release()

	var recs []arrow.RecordBatch
	for reader.Next() {
		rec := reader.RecordBatch()
		rec.Retain()
		recs = append(recs, rec)
	}
	if err := reader.Err(); err != nil && !errors.Is(err, io.EOF) {
		Batch{Records: recs}.Release()
		return Batch{}, &StreamError{Endpoint: i, Err: err}
	}
	return Batch{Records: recs}, nil
}

// Batch is the columnar payload of one endpoint read.
type Batch struct {
	Records []arrow.RecordBatch
}

// Rows counts the rows across every chunk.
func (b Batch) Rows() int64 {
	var n int64
	for _, rec := range b.Records {
		n += rec.NumRows()
	}
	return n
}

// Release frees every chunk in the batch.
func (b Batch) Release() {
	for _, rec := range b.Records {
		rec.Release()
	}
}

// truncate cuts the batch down to its first keep rows, releasing whatever
// falls off the end. Chunk boundaries are preserved except for the one the
// cut lands in, which is sliced.
func (b Batch) truncate(keep int64) Batch {
	out := make([]arrow.RecordBatch, 0, len(b.Records))
	var acc int64
	for _, rec := range b.Records {
		n := rec.NumRows()
		switch {
		case acc >= keep:
			rec.Release()
		case acc+n <= keep:
			out = append(out, rec)
			acc += n
		default:
			sliced := rec.NewSlice(0, keep-acc)
			rec.Release()
			out = append(out, sliced)
			acc = keep
		}
	}
	return Batch{Records: out}
}
