package transfer

import (
	"context"

	"github.com/gridlink-project/gridlink/internal/ledger"
	"github.com/gridlink-project/gridlink/pkg/metrics"
	"github.com/gridlink-project/gridlink/pkg/model"
	"github.com/gridlink-project/gridlink/pkg/progress"
)

// Reporter records one worker's progress in the ledger. It belongs to a
// single worker goroutine.
type Reporter struct {
	ledger   *ledger.Ledger
	metrics  *metrics.Registry
	progress *progress.Progress
	id       model.RestartIdentifier
	thread   int
	pos      int64
}

// Thread is the worker's thread number.
func (r *Reporter) Thread() int { return r.thread }

// Position is the number of bytes of the worker's range already recorded.
func (r *Reporter) Position() int64 { return r.pos }

// Add records n more bytes delivered.
func (r *Reporter) Add(ctx context.Context, n int64) error {
	if n == 0 {
		return nil
	}
	if _, err := r.ledger.UpdateLength(ctx, r.id, r.thread, n); err != nil {
		return err
	}
	r.pos += n
	r.metrics.RecordTransferBytes(n)
	r.progress.Add(n)
	return nil
}

// Checkpoint folds the accumulated length into the segment offset, marking
// the current position as confirmed by the remote side.
func (r *Reporter) Checkpoint(ctx context.Context) error {
	_, err := r.ledger.UpdateOffset(ctx, r.id, r.thread, r.pos)
	return err
}
