package transfer

import "sync"

// DataSizeLimit caps the total bytes a single read operation will keep in
// memory. Endpoint reads stop once the limit is reached.
const DataSizeLimit int64 = 1 << 30 // 1GB

// budget tracks accepted bytes against the transfer ceiling. One lock
// guards both fields plus the collector that appends admitted batches, so
// concurrent endpoint readers can never push the counter past the limit.
// Once stopped the budget never reopens, even if admitted batches are
// later trimmed.
type budget struct {
	mu      sync.Mutex
	limit   int64
	bytes   int64
	stopped bool
}

func newBudget(limit int64) *budget {
	return &budget{limit: limit}
}

// admitLocked decides how many of a batch's rows fit the remaining budget.
// It returns the row count to keep and whether the batch was cut short.
// keep == 0 means the whole batch must be discarded. The caller holds mu.
//
// Sizes are the estimated marginal row size times the row count, so the
// decision is constant-time no matter how large the batch is. Estimation
// happens before taking the lock.
func (b *budget) admitLocked(rowSize, rows int64) (keep int64, truncated bool) {
	if b.stopped {
		return 0, false
	}
	if rowSize < 1 {
		rowSize = 1
	}
	size := rowSize * rows
	remaining := b.limit - b.bytes
	if size <= remaining {
		b.bytes += size
		return rows, false
	}
	keep = remaining / rowSize
	if keep <= 0 {
		b.stopped = true
		return 0, false
	}
	b.bytes += keep * rowSize
	b.stopped = true
	return keep, true
}

// stoppedNow reports whether the ceiling has been hit. Endpoint readers
// check it before fetching so they can skip work that would be thrown away.
func (b *budget) stoppedNow() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.stopped
}

func (b *budget) total() int64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.bytes
}
