package transfer_test

import (
	"bytes"
	"context"
	"crypto/rand"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gridlink-project/gridlink/internal/ledger"
	"github.com/gridlink-project/gridlink/internal/restartstore"
	"github.com/gridlink-project/gridlink/internal/transfer"
	"github.com/gridlink-project/gridlink/pkg/config"
	"github.com/gridlink-project/gridlink/pkg/errclass"
	"github.com/gridlink-project/gridlink/pkg/logging"
	"github.com/gridlink-project/gridlink/pkg/model"
	"github.com/gridlink-project/gridlink/pkg/progress"
)

var fastBackoff = config.BackoffConfig{Min: time.Millisecond, Max: 2 * time.Millisecond, Factor: 2}

func quietLogger() *logging.Logger {
	l := logging.NewLogger(logging.LevelError)
	l.SetOutput(&bytes.Buffer{})
	return l
}

func newRunner(t *testing.T, maxAttempts int) (*transfer.Runner, *ledger.Ledger) {
	t.Helper()
	store, err := restartstore.NewMemory(maxAttempts)
	require.NoError(t, err)
	l := ledger.New(store, ledger.WithLogger(quietLogger()))
	return transfer.NewRunner(l, fastBackoff, quietLogger(), nil), l
}

func newJob(t *testing.T, size int64, threads int) transfer.Job {
	t.Helper()
	id, err := model.NewRestartIdentifier(model.RestartPut, "rods#tempZone@grid.example.org:1247", "/tempZone/home/rods/job.dat")
	require.NoError(t, err)
	return transfer.Job{ID: id, LocalPath: "/tmp/job.dat", Size: size, Threads: threads}
}

func TestPlan(t *testing.T) {
	ranges, err := transfer.Plan(10, 3)
	require.NoError(t, err)
	assert.Equal(t, []transfer.Range{
		{Thread: 0, Start: 0, End: 4},
		{Thread: 1, Start: 4, End: 7},
		{Thread: 2, Start: 7, End: 10},
	}, ranges)

	ranges, err = transfer.Plan(0, 2)
	require.NoError(t, err)
	assert.Equal(t, int64(0), ranges[1].Len())

	_, err = transfer.Plan(10, 0)
	require.ErrorIs(t, err, errclass.ErrInvalidArgument)
	_, err = transfer.Plan(-1, 1)
	require.ErrorIs(t, err, errclass.ErrInvalidArgument)
}

func TestRun_SuccessDeletesRecord(t *testing.T) {
	ctx := context.Background()
	r, l := newRunner(t, 3)
	job := newJob(t, 100, 4)

	var total int64
	err := r.Run(ctx, job, func(ctx context.Context, rng transfer.Range, rep *transfer.Reporter) error {
		atomic.AddInt64(&total, rng.Len())
		if err := rep.Add(ctx, rng.Len()); err != nil {
			return err
		}
		return rep.Checkpoint(ctx)
	})
	require.NoError(t, err)
	assert.Equal(t, int64(100), total)

	_, err = l.Retrieve(ctx, job.ID)
	require.ErrorIs(t, err, errclass.ErrRestartNotFound)
}

func TestRun_ReportsProgress(t *testing.T) {
	ctx := context.Background()
	r, l := newRunner(t, 3)
	job := newJob(t, 100, 2)

	rec, err := l.GetOrCreate(ctx, job.ID, job.LocalPath, 2)
	require.NoError(t, err)
	rec.Size = job.Size
	require.NoError(t, l.Store(ctx, rec))
	_, err = l.UpdateLength(ctx, job.ID, 0, 30)
	require.NoError(t, err)

	var first atomic.Int64
	first.Store(-1)
	job.Progress = progress.New("copy", job.Size, func(op string, current, total int64) {
		first.CompareAndSwap(-1, current)
	})
	err = r.Run(ctx, job, func(ctx context.Context, rng transfer.Range, rep *transfer.Reporter) error {
		return rep.Add(ctx, rng.Len())
	})
	require.NoError(t, err)
	assert.Equal(t, int64(30), first.Load(), "resumed bytes are reported first")
	assert.Equal(t, int64(100), job.Progress.Current())
}

// coverage records which bytes a segment function was asked to move.
type coverage struct {
	mu   sync.Mutex
	seen []bool
}

func (c *coverage) fn(ctx context.Context, rng transfer.Range, rep *transfer.Reporter) error {
	c.mu.Lock()
	for i := rng.Start; i < rng.End; i++ {
		c.seen[i] = true
	}
	c.mu.Unlock()
	return rep.Add(ctx, rng.Len())
}

func (c *coverage) missing() []int {
	var out []int
	for i, ok := range c.seen {
		if !ok {
			out = append(out, i)
		}
	}
	return out
}

func TestRun_SizeChangeStartsOver(t *testing.T) {
	ctx := context.Background()
	r, l := newRunner(t, 3)
	job := newJob(t, 100, 2)

	// A 100-byte run left both threads at the end of their ranges.
	rec, err := l.GetOrCreate(ctx, job.ID, job.LocalPath, 2)
	require.NoError(t, err)
	rec.Size = 100
	require.NoError(t, l.Store(ctx, rec))
	for thread := 0; thread < 2; thread++ {
		_, err = l.UpdateLength(ctx, job.ID, thread, 50)
		require.NoError(t, err)
	}

	job.Size = 103
	cov := &coverage{seen: make([]bool, job.Size)}
	require.NoError(t, r.Run(ctx, job, cov.fn))
	assert.Empty(t, cov.missing(), "every byte of the resized transfer is moved")

	_, err = l.Retrieve(ctx, job.ID)
	require.ErrorIs(t, err, errclass.ErrRestartNotFound)
}

func TestRun_UnsizedRecordWithProgressStartsOver(t *testing.T) {
	ctx := context.Background()
	r, l := newRunner(t, 3)
	job := newJob(t, 80, 2)

	_, err := l.GetOrCreate(ctx, job.ID, job.LocalPath, 2)
	require.NoError(t, err)
	_, err = l.UpdateLength(ctx, job.ID, 1, 40)
	require.NoError(t, err)

	cov := &coverage{seen: make([]bool, job.Size)}
	require.NoError(t, r.Run(ctx, job, cov.fn))
	assert.Empty(t, cov.missing())
}

func TestRun_RecordsPlannedSize(t *testing.T) {
	ctx := context.Background()
	r, l := newRunner(t, 3)
	job := newJob(t, 64, 2)

	err := r.Run(ctx, job, func(ctx context.Context, rng transfer.Range, rep *transfer.Reporter) error {
		return transfer.Permanent(errors.New("disk full"))
	})
	require.Error(t, err)

	rec, err := l.Retrieve(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(64), rec.Size)
}

func TestRun_ResumesFromLedger(t *testing.T) {
	ctx := context.Background()
	r, l := newRunner(t, 3)
	job := newJob(t, 100, 2)

	var mu sync.Mutex
	seen := map[int][]transfer.Range{}
	failOnce := int32(1)
	thread0Done := make(chan struct{})
	var closeOnce sync.Once
	err := r.Run(ctx, job, func(ctx context.Context, rng transfer.Range, rep *transfer.Reporter) error {
		mu.Lock()
		seen[rng.Thread] = append(seen[rng.Thread], rng)
		mu.Unlock()
		if rng.Thread == 1 && atomic.CompareAndSwapInt32(&failOnce, 1, 0) {
			// Deliver 20 bytes, then fail once thread 0 has finished.
			if err := rep.Add(ctx, 20); err != nil {
				return err
			}
			<-thread0Done
			return errors.New("connection reset")
		}
		if err := rep.Add(ctx, rng.Len()); err != nil {
			return err
		}
		if rng.Thread == 0 {
			closeOnce.Do(func() { close(thread0Done) })
		}
		return nil
	})
	require.NoError(t, err)

	require.Len(t, seen[1], 2)
	assert.Equal(t, transfer.Range{Thread: 1, Start: 50, End: 100}, seen[1][0])
	assert.Equal(t, transfer.Range{Thread: 1, Start: 70, End: 100}, seen[1][1], "second attempt resumes after delivered bytes")
	assert.Len(t, seen[0], 1, "finished thread is not rerun")

	_, err = l.Retrieve(ctx, job.ID)
	require.ErrorIs(t, err, errclass.ErrRestartNotFound)
}

func TestRun_ExhaustsAttempts(t *testing.T) {
	ctx := context.Background()
	r, l := newRunner(t, 2)
	job := newJob(t, 10, 1)

	var calls int32
	err := r.Run(ctx, job, func(context.Context, transfer.Range, *transfer.Reporter) error {
		atomic.AddInt32(&calls, 1)
		return errors.New("timeout")
	})
	require.ErrorIs(t, err, errclass.ErrRestartExhausted)
	assert.Equal(t, int32(3), calls, "initial try plus two retries")

	rec, err := l.Retrieve(ctx, job.ID)
	require.NoError(t, err, "exhausted record stays for inspection")
	assert.Equal(t, 2, rec.Attempts)
}

func TestRun_PermanentErrorStops(t *testing.T) {
	r, _ := newRunner(t, 5)
	var calls int32
	err := r.Run(context.Background(), newJob(t, 10, 1), func(context.Context, transfer.Range, *transfer.Reporter) error {
		atomic.AddInt32(&calls, 1)
		return transfer.Permanent(errors.New("permission denied"))
	})
	require.Error(t, err)
	assert.Equal(t, int32(1), calls)
}

func TestRun_ContextCancelled(t *testing.T) {
	r, _ := newRunner(t, 5)
	ctx, cancel := context.WithCancel(context.Background())
	err := r.Run(ctx, newJob(t, 10, 1), func(context.Context, transfer.Range, *transfer.Reporter) error {
		cancel()
		return errors.New("interrupted")
	})
	require.Error(t, err)
}

func TestRun_InvalidJob(t *testing.T) {
	r, _ := newRunner(t, 5)
	noop := func(context.Context, transfer.Range, *transfer.Reporter) error { return nil }

	err := r.Run(context.Background(), transfer.Job{}, noop)
	require.ErrorIs(t, err, errclass.ErrInvalidArgument)

	job := newJob(t, -1, 1)
	require.ErrorIs(t, r.Run(context.Background(), job, noop), errclass.ErrInvalidArgument)
}

func TestLocalCopy_ResumesAfterFailure(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	src := filepath.Join(dir, "src.bin")
	dst := filepath.Join(dir, "dst.bin")

	data := make([]byte, 64*1024+13)
	_, err := rand.Read(data)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(src, data, 0600))
	require.NoError(t, os.WriteFile(dst, make([]byte, len(data)), 0600))

	r, _ := newRunner(t, 3)
	job := newJob(t, int64(len(data)), 3)
	copyFn := transfer.LocalCopy(src, dst, 4096, 8192)

	var failed int32
	err = r.Run(ctx, job, func(ctx context.Context, rng transfer.Range, rep *transfer.Reporter) error {
		if rng.Thread == 2 && atomic.CompareAndSwapInt32(&failed, 0, 1) {
			short := transfer.Range{Thread: rng.Thread, Start: rng.Start, End: rng.Start + 10000}
			if err := copyFn(ctx, short, rep); err != nil {
				return err
			}
			return errors.New("link dropped")
		}
		return copyFn(ctx, rng, rep)
	})
	require.NoError(t, err)

	got, err := os.ReadFile(dst)
	require.NoError(t, err)
	assert.True(t, bytes.Equal(data, got), "destination matches source")
}
