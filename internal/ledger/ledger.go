// Package ledger tracks per-worker progress of resumable transfers.
//
// A Ledger composes the arithmetic and locking over any RestartStore. Every
// mutation of one identifier holds that identifier's lock for the whole
// read-modify-store cycle; distinct identifiers proceed in parallel.
package ledger

import (
	"context"
	"fmt"
	"time"

	"github.com/gridlink-project/gridlink/internal/lock"
	"github.com/gridlink-project/gridlink/pkg/errclass"
	"github.com/gridlink-project/gridlink/pkg/logging"
	"github.com/gridlink-project/gridlink/pkg/metrics"
	"github.com/gridlink-project/gridlink/pkg/model"
	"github.com/gridlink-project/gridlink/pkg/pathutil"
)

// RestartStore persists restart records. Implementations return copies;
// callers may mutate what they receive.
type RestartStore interface {
	// Retrieve returns errclass.ErrRestartNotFound when id has no record.
	Retrieve(ctx context.Context, id model.RestartIdentifier) (*model.RestartRecord, error)
	Store(ctx context.Context, rec *model.RestartRecord) error
	// Delete of an absent identifier is not an error.
	Delete(ctx context.Context, id model.RestartIdentifier) error
	List(ctx context.Context) ([]*model.RestartRecord, error)
	// MaxAttempts is the attempt cap configured for the backend.
	MaxAttempts() int
}

// Ledger is the restart ledger.
type Ledger struct {
	store   RestartStore
	locks   *lock.Keyed[model.RestartIdentifier]
	log     *logging.Logger
	metrics *metrics.Registry
	now     func() time.Time
}

// Option customizes a Ledger.
type Option func(*Ledger)

// WithLogger sets the logger.
func WithLogger(l *logging.Logger) Option {
	return func(lg *Ledger) { lg.log = l }
}

// WithMetrics sets the metrics registry.
func WithMetrics(m *metrics.Registry) Option {
	return func(lg *Ledger) { lg.metrics = m }
}

// New creates a ledger over store.
func New(store RestartStore, opts ...Option) *Ledger {
	l := &Ledger{
		store: store,
		locks: lock.NewKeyed[model.RestartIdentifier](),
		now:   func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(l)
	}
	if l.log == nil {
		l.log = logging.Global()
	}
	return l
}

// MaxAttempts is the backend's attempt cap.
func (l *Ledger) MaxAttempts() int {
	return l.store.MaxAttempts()
}

func (l *Ledger) lockID(ctx context.Context, id model.RestartIdentifier) (func(), error) {
	unlock, err := l.locks.LockContext(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("lock %s: %w", id, err)
	}
	return unlock, nil
}

func (l *Ledger) record(op string, err error) {
	l.metrics.RecordLedgerOp(op, err)
}

// GetOrCreate returns the record for id, creating one with workerCount
// zeroed segments when none exists. An existing record is returned as is,
// whatever its segment count.
func (l *Ledger) GetOrCreate(ctx context.Context, id model.RestartIdentifier, localPath string, workerCount int) (rec *model.RestartRecord, err error) {
	defer func() { l.record("get_or_create", err) }()

	if err := id.Validate(); err != nil {
		return nil, err
	}
	id = id.Normalized()
	if err := pathutil.ValidateLocalPath(localPath); err != nil {
		return nil, err
	}
	if workerCount < 1 {
		return nil, errclass.ErrInvalidArgument.WithMessagef("worker count must be at least 1, got %d", workerCount)
	}

	unlock, err := l.lockID(ctx, id)
	if err != nil {
		return nil, err
	}
	defer unlock()

	existing, err := l.store.Retrieve(ctx, id)
	switch {
	case err == nil:
		if err := existing.Validate(); err != nil {
			l.log.ErrorErr("corrupt restart record", err, map[string]any{"id": id.String()})
			return nil, err
		}
		return existing, nil
	case !errclass.Recoverable(err):
		return nil, fmt.Errorf("retrieve %s: %w", id, err)
	}

	rec = model.NewRestartRecord(id, localPath, workerCount)
	rec.CreatedAt = l.now()
	rec.UpdatedAt = rec.CreatedAt
	if err := l.store.Store(ctx, rec); err != nil {
		return nil, fmt.Errorf("store %s: %w", id, err)
	}
	l.log.Info("restart record created", map[string]any{
		"id":      id.String(),
		"threads": workerCount,
	})
	return rec.Clone(), nil
}

// update runs fn on the stored segment for thread under the identifier's lock.
func (l *Ledger) update(ctx context.Context, op string, id model.RestartIdentifier, thread int, fn func(*model.Segment)) (rec *model.RestartRecord, err error) {
	defer func() { l.record(op, err) }()
	id = id.Normalized()

	unlock, err := l.lockID(ctx, id)
	if err != nil {
		return nil, err
	}
	defer unlock()

	rec, err = l.store.Retrieve(ctx, id)
	if err != nil {
		return nil, err
	}
	if thread < 0 || thread >= len(rec.Segments) {
		return nil, errclass.ErrSegmentOutOfRange.WithMessagef(
			"%s: thread %d not in [0,%d)", id, thread, len(rec.Segments))
	}
	seg := &rec.Segments[thread]
	if seg.ThreadNumber != thread {
		err := errclass.ErrRestartCorrupt.WithMessagef(
			"%s: segment %d has thread number %d", id, thread, seg.ThreadNumber)
		l.log.ErrorErr("corrupt restart record", err, map[string]any{"id": id.String()})
		return nil, err
	}

	fn(seg)
	rec.UpdatedAt = l.now()
	if err := l.store.Store(ctx, rec); err != nil {
		return nil, fmt.Errorf("store %s: %w", id, err)
	}
	return rec.Clone(), nil
}

// UpdateLength adds delta bytes to the segment owned by thread.
func (l *Ledger) UpdateLength(ctx context.Context, id model.RestartIdentifier, thread int, delta int64) (*model.RestartRecord, error) {
	if delta < 0 {
		return nil, errclass.ErrInvalidArgument.WithMessagef("negative length delta %d", delta)
	}
	return l.update(ctx, "update_length", id, thread, func(s *model.Segment) {
		s.Length += delta
	})
}

// UpdateOffset moves the segment owned by thread to offset and resets its
// length to zero.
func (l *Ledger) UpdateOffset(ctx context.Context, id model.RestartIdentifier, thread int, offset int64) (*model.RestartRecord, error) {
	if offset < 0 {
		return nil, errclass.ErrInvalidArgument.WithMessagef("negative offset %d", offset)
	}
	return l.update(ctx, "update_offset", id, thread, func(s *model.Segment) {
		s.Offset = offset
		s.Length = 0
	})
}

// IncrementAttempts records one more attempt of the transfer described by
// rec. When the new count exceeds the backend's cap the stored record is
// left unchanged and ErrRestartExhausted is returned.
func (l *Ledger) IncrementAttempts(ctx context.Context, rec *model.RestartRecord) (out *model.RestartRecord, err error) {
	defer func() { l.record("increment_attempts", err) }()
	if rec == nil {
		return nil, errclass.ErrInvalidArgument.WithMessage("nil restart record")
	}
	id := rec.Identifier().Normalized()

	unlock, err := l.lockID(ctx, id)
	if err != nil {
		return nil, err
	}
	defer unlock()

	cur, err := l.store.Retrieve(ctx, id)
	if err != nil {
		return nil, err
	}
	cur.Attempts++
	l.metrics.RecordRestartAttempt()
	if limit := l.store.MaxAttempts(); cur.Attempts > limit {
		l.metrics.RecordRestartExhausted()
		l.log.Warn("restart attempts exhausted", map[string]any{
			"id":       id.String(),
			"attempts": cur.Attempts,
			"limit":    limit,
		})
		return nil, errclass.ErrRestartExhausted.WithMessagef(
			"%s: attempt %d exceeds limit %d", id, cur.Attempts, limit)
	}

	cur.UpdatedAt = l.now()
	if err := l.store.Store(ctx, cur); err != nil {
		return nil, fmt.Errorf("store %s: %w", id, err)
	}
	return cur.Clone(), nil
}

// Retrieve returns the stored record for id.
func (l *Ledger) Retrieve(ctx context.Context, id model.RestartIdentifier) (rec *model.RestartRecord, err error) {
	defer func() { l.record("retrieve", err) }()
	id = id.Normalized()

	unlock, err := l.lockID(ctx, id)
	if err != nil {
		return nil, err
	}
	defer unlock()
	return l.store.Retrieve(ctx, id)
}

// Store writes rec as given after checking it.
func (l *Ledger) Store(ctx context.Context, rec *model.RestartRecord) (err error) {
	defer func() { l.record("store", err) }()
	if rec == nil {
		return errclass.ErrInvalidArgument.WithMessage("nil restart record")
	}
	id := rec.Identifier()
	if err := id.Validate(); err != nil {
		return err
	}
	if err := rec.Validate(); err != nil {
		return err
	}
	id = id.Normalized()
	rec = rec.Clone()
	rec.AbsolutePath = id.AbsolutePath

	unlock, err := l.lockID(ctx, id)
	if err != nil {
		return err
	}
	defer unlock()
	return l.store.Store(ctx, rec)
}

// Delete removes the record for id.
func (l *Ledger) Delete(ctx context.Context, id model.RestartIdentifier) (err error) {
	defer func() { l.record("delete", err) }()
	id = id.Normalized()

	unlock, err := l.lockID(ctx, id)
	if err != nil {
		return err
	}
	defer unlock()
	if err := l.store.Delete(ctx, id); err != nil {
		return fmt.Errorf("delete %s: %w", id, err)
	}
	l.log.Debug("restart record deleted", map[string]any{"id": id.String()})
	return nil
}

// List returns every stored record.
func (l *Ledger) List(ctx context.Context) ([]*model.RestartRecord, error) {
	recs, err := l.store.List(ctx)
	l.record("list", err)
	return recs, err
}
