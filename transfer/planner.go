package transfer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"

	"github.com/skylineml/skyline-go/tabular"
)

// PartDiscoverer lists the part files below a data asset's path. Data
// assets written by distributed engines split one logical file into many
// part objects under a common prefix.
type PartDiscoverer interface {
	DiscoverParts(ctx context.Context, bucket, path string) ([]string, error)
}

// planner sizes database reads before they run. It probes the table through
// the transfer service itself, so it speaks every dialect the service does.
type planner struct {
	client *Client
}

// partitions picks the partition count for a database read: a two-row probe
// yields the marginal row size, a count probe the row count, and the ratio
// of rows to rows-per-limit decides the fan-out.
func (p *planner) partitions(ctx context.Context, spec CommandSpec) (int, error) {
	rowSize, err := p.rowSize(ctx, spec)
	if err != nil {
		return 0, classifyPlanErr(err)
	}
	rowCount, err := p.rowCount(ctx, spec)
	if err != nil {
		return 0, classifyPlanErr(err)
	}

	maxRows := DataSizeLimit / rowSize
	if maxRows < 1 {
		maxRows = 1
	}
	fraction := float64(rowCount) / float64(maxRows)
	n := partitionsForFraction(fraction)
	slog.Debug("planned database read",
		"rows", rowCount, "row_size", rowSize, "fraction", fraction, "partitions", n)
	return n, nil
}

// partitionsForFraction maps the ratio of table rows to rows-per-limit onto
// a partition count. Small tables read in one stream, anything up to the
// limit fans out to five, and past the limit the count is the overshoot
// rounded up plus ten.
func partitionsForFraction(fraction float64) int {
	switch {
	case fraction < 0.1:
		return 1
	case fraction <= 1:
		return 5
	default:
		return int(math.Ceil(fraction)) + 10
	}
}

// rowSize estimates the serialized size of one table row from a two-row
// probe. Engines that reject the LIMIT clause get a second probe in the
// ROWCOUNT dialect.
func (p *planner) rowSize(ctx context.Context, spec CommandSpec) (int64, error) {
	batch, err := p.probe(ctx, spec,
		fmt.Sprintf("SELECT * FROM %s.%s LIMIT 2", spec.Source.Schema, spec.Source.Table))
	if err != nil {
		if ctx.Err() != nil {
			return 0, err
		}
		batch, err = p.probe(ctx, spec,
			fmt.Sprintf("SET ROWCOUNT 2; SELECT * FROM %s.%s;", spec.Source.Schema, spec.Source.Table))
		if err != nil {
			return 0, err
		}
	}
	defer batch.Release()
	return tabular.MarginalRowSize(batch.Records), nil
}

func (p *planner) rowCount(ctx context.Context, spec CommandSpec) (int64, error) {
	batch, err := p.probe(ctx, spec,
		fmt.Sprintf("SELECT count(*) FROM %s.%s", spec.Source.Schema, spec.Source.Table))
	if err != nil {
		return 0, err
	}
	defer batch.Release()
	return countFromBatch(batch)
}

// probe opens a single-partition session for a select statement and drains
// its first endpoint.
func (p *planner) probe(ctx context.Context, spec CommandSpec, stmt string) (Batch, error) {
	cmd, err := buildSelectCommand(spec, stmt)
	if err != nil {
		return Batch{}, err
	}
	sess, err := p.client.Open(ctx, cmd)
	if err != nil {
		return Batch{}, err
	}
	if sess.Endpoints() == 0 {
		return Batch{}, errors.New("probe session has no endpoints")
	}
	return sess.Read(ctx, 0)
}

// countFromBatch pulls the scalar out of a count probe. The value sits in
// the last row, in the column named "count" when the engine labels it, in
// the final column otherwise.
func countFromBatch(batch Batch) (int64, error) {
	if len(batch.Records) == 0 {
		return 0, errors.New("count probe returned no data")
	}
	rec := batch.Records[len(batch.Records)-1]
	if rec.NumRows() == 0 {
		return 0, errors.New("count probe returned no rows")
	}
	col := int(rec.NumCols()) - 1
	for i, f := range rec.Schema().Fields() {
		if f.Name == "count" {
			col = i
			break
		}
	}
	v := tabular.Value(rec.Column(col), int(rec.NumRows())-1)
	n, ok := tabular.AsInt64(v)
	if !ok {
		return 0, fmt.Errorf("count probe returned non-numeric value %v", v)
	}
	return n, nil
}

// fileParts expands a file source into the object keys to read. Without a
// discoverer, or when discovery finds nothing, the source's own key is the
// only part.
func fileParts(ctx context.Context, d PartDiscoverer, src Source) []string {
	if d == nil {
		return []string{src.FileName}
	}
	parts, err := d.DiscoverParts(ctx, src.Bucket, src.FileName)
	if err != nil {
		slog.Debug("part discovery failed, reading source as a single file",
			"bucket", src.Bucket, "path", src.FileName, "error", err)
		return []string{src.FileName}
	}
	if len(parts) == 0 {
		return []string{src.FileName}
	}
	return parts
}
