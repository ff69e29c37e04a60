package transfer

import (
	"context"
	"log/slog"

	"github.com/apache/arrow-go/v18/arrow"
)

// Service runs whole read operations: resolve the source, plan the
// fan-out, open the sessions and drain them into one bounded table.
type Service struct {
	client     *Client
	planner    *planner
	discoverer PartDiscoverer
}

// NewService wires a read facade around a client. The discoverer is
// optional; without one file sources are read as single objects.
func NewService(client *Client, discoverer PartDiscoverer) *Service {
	return &Service{
		client:     client,
		planner:    &planner{client: client},
		discoverer: discoverer,
	}
}

// ReadRequest names one asset to read and how to read it.
type ReadRequest struct {
	Meta SourceMeta
	// TypeName is the concrete remote data source type, e.g. "postgresql".
	TypeName string
	// Properties are the asset's connection properties.
	Properties map[string]string
	// Batches is the partition count file commands ask for. Zero means one.
	// Database reads ignore it; the planner sizes those itself.
	Batches int
	Hints   FileHints
}

// ReadTable executes a read end to end and returns the assembled table.
// The result never exceeds DataSizeLimit; rows past the limit are dropped.
func (s *Service) ReadTable(ctx context.Context, req ReadRequest) (arrow.Table, error) {
	src, err := ResolveSource(req.Meta)
	if err != nil {
		return nil, err
	}
	spec := CommandSpec{
		TypeName:   req.TypeName,
		Properties: req.Properties,
		Source:     src,
		Partitions: req.Batches,
		Hints:      req.Hints,
	}

	var cmds []string
	switch src.Kind {
	case KindDatabase:
		n, err := s.planner.partitions(ctx, spec)
		if err != nil {
			return nil, err
		}
		spec.Partitions = n
		cmds, err = BuildCommands(spec, nil)
		if err != nil {
			return nil, err
		}
	case KindFile:
		parts := fileParts(ctx, s.discoverer, src)
		cmds, err = BuildCommands(spec, parts)
		if err != nil {
			return nil, err
		}
	default:
		return nil, ErrNotImplemented
	}

	sessions := make([]*Session, 0, len(cmds))
	for _, cmd := range cmds {
		sess, err := s.client.Open(ctx, cmd)
		if err != nil {
			return nil, err
		}
		sessions = append(sessions, sess)
	}
	slog.Info("transfer read planned",
		"source", src.Kind.String(), "sessions", len(sessions), "partitions", spec.Partitions)

	tbl, err := collectAll(ctx, sessions, DataSizeLimit)
	if err != nil {
		return nil, err
	}
	slog.Info("transfer read complete", "rows", tbl.NumRows(), "columns", tbl.NumCols())
	return tbl, nil
}
