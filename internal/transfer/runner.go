package transfer

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/jpillora/backoff"
	"golang.org/x/sync/errgroup"

	"github.com/gridlink-project/gridlink/internal/ledger"
	"github.com/gridlink-project/gridlink/pkg/config"
	"github.com/gridlink-project/gridlink/pkg/errclass"
	"github.com/gridlink-project/gridlink/pkg/logging"
	"github.com/gridlink-project/gridlink/pkg/metrics"
	"github.com/gridlink-project/gridlink/pkg/model"
	"github.com/gridlink-project/gridlink/pkg/progress"
)

// Job describes one transfer.
type Job struct {
	ID        model.RestartIdentifier
	LocalPath string
	Size      int64
	Threads   int
	// Progress, when set, receives the bytes reported by every worker.
	Progress *progress.Progress
}

// SegmentFunc moves the bytes of rng, reporting progress through rep. rng
// starts where earlier attempts left off.
type SegmentFunc func(ctx context.Context, rng Range, rep *Reporter) error

type permanentError struct{ err error }

func (p *permanentError) Error() string { return p.err.Error() }
func (p *permanentError) Unwrap() error { return p.err }

// Permanent marks err as not worth retrying.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &permanentError{err: err}
}

// Runner drives jobs to completion across attempts.
type Runner struct {
	Ledger  *ledger.Ledger
	Backoff config.BackoffConfig
	Logger  *logging.Logger
	Metrics *metrics.Registry
}

// NewRunner creates a runner using the backoff schedule from cfg.
func NewRunner(l *ledger.Ledger, cfg config.BackoffConfig, log *logging.Logger, m *metrics.Registry) *Runner {
	return &Runner{Ledger: l, Backoff: cfg, Logger: log, Metrics: m}
}

func (r *Runner) log() *logging.Logger {
	if r.Logger == nil {
		return logging.Global()
	}
	return r.Logger
}

// Run transfers job, resuming from the ledger. On success the restart record
// is deleted. On failure the attempt is counted and, unless the error is
// final or the attempt cap is exceeded, the job is retried after a backoff.
func (r *Runner) Run(ctx context.Context, job Job, fn SegmentFunc) error {
	if err := job.ID.Validate(); err != nil {
		return err
	}
	if job.Size < 0 {
		return errclass.ErrInvalidArgument.WithMessagef("negative size %d", job.Size)
	}
	log := r.log().WithFields(map[string]any{
		"id":      job.ID.String(),
		"size":    humanize.IBytes(uint64(job.Size)),
		"threads": job.Threads,
	})
	b := &backoff.Backoff{
		Min:    r.Backoff.Min,
		Max:    r.Backoff.Max,
		Factor: r.Backoff.Factor,
		Jitter: true,
	}

	for tries := 1; ; tries++ {
		err := r.attempt(ctx, job, fn, log)
		if err == nil {
			if err := r.Ledger.Delete(ctx, job.ID); err != nil {
				return err
			}
			log.Info("transfer complete", map[string]any{"tries": tries})
			return nil
		}
		if final(ctx, err) {
			log.ErrorErr("transfer failed", err)
			return err
		}

		if errclass.Recoverable(err) {
			// The record vanished or no longer fits; start over from scratch.
			log.Warn("restart record unusable, starting over", map[string]any{"error": err.Error()})
			if derr := r.Ledger.Delete(ctx, job.ID); derr != nil {
				return derr
			}
			if tries > r.Ledger.MaxAttempts() {
				return errclass.ErrRestartExhausted.WithMessagef("%s: gave up after %d tries: %v", job.ID, tries, err)
			}
		} else {
			rec, rerr := r.Ledger.Retrieve(ctx, job.ID)
			if rerr != nil {
				return fmt.Errorf("%w (after %v)", rerr, err)
			}
			if _, ierr := r.Ledger.IncrementAttempts(ctx, rec); ierr != nil {
				log.ErrorErr("transfer abandoned", ierr, map[string]any{"last_error": err.Error()})
				return fmt.Errorf("%w (last error: %v)", ierr, err)
			}
		}

		d := b.Duration()
		log.Warn("transfer attempt failed, retrying", map[string]any{
			"error": err.Error(),
			"try":   tries,
			"delay": d.String(),
		})
		if err := sleep(ctx, d); err != nil {
			return err
		}
	}
}

func (r *Runner) attempt(ctx context.Context, job Job, fn SegmentFunc, log *logging.Logger) error {
	rec, err := r.Ledger.GetOrCreate(ctx, job.ID, job.LocalPath, job.Threads)
	if err != nil {
		return err
	}
	if rec, err = r.bindSize(ctx, rec, job.Size); err != nil {
		return err
	}
	ranges, err := Plan(job.Size, len(rec.Segments))
	if err != nil {
		return err
	}
	job.Progress.Set(rec.TransferredBytes())
	if done := rec.TransferredBytes(); done > 0 {
		log.Info("resuming transfer", map[string]any{
			"done":     humanize.IBytes(uint64(done)),
			"attempts": rec.Attempts,
		})
	}

	g, gctx := errgroup.WithContext(ctx)
	for _, rng := range ranges {
		seg := rec.Segments[rng.Thread]
		pos := seg.Position()
		if pos > rng.Len() {
			return errclass.ErrSegmentOutOfRange.WithMessagef(
				"%s: %s already at %d, past its end", job.ID, rng, pos)
		}
		if pos == rng.Len() {
			continue
		}
		rep := &Reporter{ledger: r.Ledger, metrics: r.Metrics, progress: job.Progress, id: job.ID, thread: rng.Thread, pos: pos}
		remaining := Range{Thread: rng.Thread, Start: rng.Start + pos, End: rng.End}
		g.Go(func() error {
			if err := fn(gctx, remaining, rep); err != nil {
				return fmt.Errorf("%s: %w", remaining, err)
			}
			return nil
		})
	}
	return g.Wait()
}

// bindSize records size on a fresh record. Segment positions are relative to
// the ranges planned for the recorded size, so a record planned for another
// size cannot be resumed.
func (r *Runner) bindSize(ctx context.Context, rec *model.RestartRecord, size int64) (*model.RestartRecord, error) {
	switch {
	case rec.Size == size:
		return rec, nil
	case rec.Size == 0 && rec.TransferredBytes() == 0:
		rec.Size = size
		if err := r.Ledger.Store(ctx, rec); err != nil {
			return nil, err
		}
		return rec, nil
	default:
		return nil, errclass.ErrSegmentOutOfRange.WithMessagef(
			"%s: segments planned for %d bytes, transfer has %d", rec.Identifier(), rec.Size, size)
	}
}

// final reports whether err ends the run without another attempt.
func final(ctx context.Context, err error) bool {
	var perm *permanentError
	switch {
	case ctx.Err() != nil,
		errors.As(err, &perm),
		errors.Is(err, context.Canceled),
		errors.Is(err, errclass.ErrRestartCorrupt),
		errors.Is(err, errclass.ErrRestartExhausted),
		errors.Is(err, errclass.ErrNegotiationFailed),
		errors.Is(err, errclass.ErrInvalidArgument):
		return true
	}
	return false
}

func sleep(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
