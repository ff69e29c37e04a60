package transfer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/array"
	"github.com/apache/arrow-go/v18/arrow/memory"

	"github.com/skylineml/skyline-go/tabular"
)

// orchestrator fans endpoint reads out to goroutines and funnels admitted
// batches into one result set. accepted and firstErr share the budget lock,
// so admission and collection are a single critical section.
type orchestrator struct {
	budget   *budget
	accepted []arrow.RecordBatch
	firstErr error
}

// collectAll drains every endpoint of every session concurrently and
// assembles the admitted batches into one table, bounded by limit.
//
// Each endpoint is read exactly once. A read that fails poisons the whole
// operation: remaining reads still finish, their batches are dropped, and
// the caller sees the first error. Reads already in flight when the budget
// stops are kept only as far as the budget allows.
func collectAll(ctx context.Context, sessions []*Session, limit int64) (arrow.Table, error) {
	if len(sessions) == 0 {
		return nil, errors.New("no sessions to read")
	}
	o := &orchestrator{budget: newBudget(limit)}

	var wg sync.WaitGroup
	for _, sess := range sessions {
		for i := 0; i < sess.Endpoints(); i++ {
			wg.Add(1)
			go func(sess *Session, i int) {
				defer wg.Done()
				o.fetch(ctx, sess, i)
			}(sess, i)
		}
	}
	wg.Wait()

	if o.firstErr != nil {
		for _, rec := range o.accepted {
			rec.Release()
		}
		return nil, o.firstErr
	}
	if len(o.accepted) == 0 {
		schema, err := sessions[0].Schema()
		if err != nil {
			return nil, fmt.Errorf("decode result schema: %w", err)
		}
		return emptyTable(schema), nil
	}

	recs := truncateToLimit(o.accepted, limit)
	tbl := array.NewTableFromRecords(recs[0].Schema(), recs)
	for _, rec := range recs {
		rec.Release()
	}
	return tbl, nil
}

// fetch reads one endpoint and runs the admission decision. The row size
// estimate happens before the lock; only the decision and the append run
// inside it.
func (o *orchestrator) fetch(ctx context.Context, sess *Session, i int) {
	if o.budget.stoppedNow() {
		observeBatch(outcomeSkipped, 0)
		return
	}

	endpointReadsGauge.Inc()
	batch, err := sess.Read(ctx, i)
	endpointReadsGauge.Dec()
	if err != nil {
		observeStreamError()
		o.fail(err)
		return
	}

	rows := batch.Rows()
	if rows == 0 {
		batch.Release()
		return
	}
	rowSize := tabular.MarginalRowSize(batch.Records)

	o.budget.mu.Lock()
	keep, truncated := o.budget.admitLocked(rowSize, rows)
	switch {
	case keep == 0:
		o.budget.mu.Unlock()
		batch.Release()
		observeBatch(outcomeDiscarded, 0)
		slog.Debug("transfer batch discarded, size limit reached", "endpoint", i)
	case truncated:
		kept := batch.truncate(keep)
		o.accepted = append(o.accepted, kept.Records...)
		o.budget.mu.Unlock()
		observeBatch(outcomeTruncated, keep*rowSize)
		slog.Debug("transfer batch truncated to size limit", "endpoint", i, "rows", keep)
	default:
		o.accepted = append(o.accepted, batch.Records...)
		o.budget.mu.Unlock()
		observeBatch(outcomeAccepted, rows*rowSize)
	}
}

func (o *orchestrator) fail(err error) {
	o.budget.mu.Lock()
	defer o.budget.mu.Unlock()
	if o.firstErr == nil {
		o.firstErr = err
	}
}

// truncateToLimit re-estimates the assembled result and trims rows off the
// tail when the estimate overshoots the limit. The assembled estimate
// samples chunk sizes differently from the per-batch ones taken during
// collection, so a small overshoot can remain after admission. The trim
// drops two rows for every estimated row over, landing the result safely
// under the limit rather than exactly on it.
func truncateToLimit(recs []arrow.RecordBatch, limit int64) []arrow.RecordBatch {
	rowSize := tabular.MarginalRowSize(recs)
	rows := tabular.TotalRows(recs)
	over := rowSize*rows - limit
	if over <= 0 {
		return recs
	}
	keep := rows - (over/rowSize)*2
	if keep < 0 {
		keep = 0
	}
	slog.Debug("trimming assembled result to size limit", "rows", rows, "keep", keep)
	return Batch{Records: recs}.truncate(keep).Records
}

func emptyTable(schema *arrow.Schema) arrow.Table {
	b := array.NewRecordBuilder(memory.DefaultAllocator, schema)
	defer b.Release()
	rec := b.NewRecordBatch()
	defer rec.Release()
	return array.NewTableFromRecords(schema, []arrow.RecordBatch{rec})
}
