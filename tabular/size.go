package tabular

import (
	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/ipc"
)

// countingWriter discards bytes and keeps their count.
type countingWriter struct {
	n int64
}

func (w *countingWriter) Write(p []byte) (int, error) {
	w.n += int64(len(p))
	return len(p), nil
}

// RecordWireSize returns the Arrow IPC stream size of a single record batch
// in bytes, schema message included.
func RecordWireSize(rec arrow.RecordBatch) int64 {
	var cw countingWriter
	w := ipc.NewWriter(&cw, ipc.WithSchema(rec.Schema()))
	if err := w.Write(rec); err != nil {
		_ = w.Close()
		return 0
	}
	_ = w.Close()
	return cw.n
}

// TotalRows sums the row counts of a set of record batches.
func TotalRows(recs []arrow.RecordBatch) int64 {
	var rows int64
	for _, rec := range recs {
		rows += rec.NumRows()
	}
	return rows
}

// MarginalRowSize estimates one row's byte footprint from the wire-format
// size difference between a 2-row and a 1-row serialization of the same
// record, which cancels out the fixed per-stream overhead. The result is
// never below 1 so callers can divide by it.
func MarginalRowSize(recs []arrow.RecordBatch) int64 {
	var sample arrow.RecordBatch
	for _, rec := range recs {
		if rec.NumRows() >= 2 {
			sample = rec
			break
		}
		if sample == nil && rec.NumRows() == 1 {
			sample = rec
		}
	}
	if sample == nil {
		return 1
	}

	if sample.NumRows() < 2 {
		one := sample.NewSlice(0, 1)
		defer one.Release()
		if size := RecordWireSize(one); size > 1 {
			return size
		}
		return 1
	}

	two := sample.NewSlice(0, 2)
	defer two.Release()
	one := sample.NewSlice(0, 1)
	defer one.Release()

	size := RecordWireSize(two) - RecordWireSize(one)
	if size < 1 {
		return 1
	}
	return size
}

// EstimatedSize approximates the total byte size of a set of record batches
// as the marginal row size times the total row count.
func EstimatedSize(recs []arrow.RecordBatch) int64 {
	return MarginalRowSize(recs) * TotalRows(recs)
}
