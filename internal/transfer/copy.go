package transfer

import (
	"context"
	"fmt"
	"io"
	"os"
)

// DefaultChunkSize is the read size of LocalCopy.
const DefaultChunkSize = 1 << 20

// LocalCopy returns a SegmentFunc copying src to dst, which must already
// exist and be at least as large as the job. A checkpoint is taken after
// every checkpointEvery bytes (and at the end of each range).
func LocalCopy(src, dst string, chunkSize int, checkpointEvery int64) SegmentFunc {
	if chunkSize <= 0 {
		chunkSize = DefaultChunkSize
	}
	return func(ctx context.Context, rng Range, rep *Reporter) error {
		in, err := os.Open(src)
		if err != nil {
			return Permanent(fmt.Errorf("open source: %w", err))
		}
		defer in.Close()
		out, err := os.OpenFile(dst, os.O_WRONLY, 0)
		if err != nil {
			return Permanent(fmt.Errorf("open destination: %w", err))
		}
		defer out.Close()

		buf := make([]byte, chunkSize)
		var sinceCheckpoint int64
		for off := rng.Start; off < rng.End; {
			if err := ctx.Err(); err != nil {
				return err
			}
			n := int64(len(buf))
			if rest := rng.End - off; rest < n {
				n = rest
			}
			read, err := in.ReadAt(buf[:n], off)
			if err != nil && err != io.EOF {
				return fmt.Errorf("read at %d: %w", off, err)
			}
			if read == 0 {
				return fmt.Errorf("read at %d: %w", off, io.ErrUnexpectedEOF)
			}
			if _, err := out.WriteAt(buf[:read], off); err != nil {
				return fmt.Errorf("write at %d: %w", off, err)
			}
			if err := rep.Add(ctx, int64(read)); err != nil {
				return err
			}
			off += int64(read)
			sinceCheckpoint += int64(read)
			if checkpointEvery > 0 && sinceCheckpoint >= checkpointEvery {
				if err := out.Sync(); err != nil {
					return fmt.Errorf("sync destination: %w", err)
				}
				if err := rep.Checkpoint(ctx); err != nil {
					return err
				}
				sinceCheckpoint = 0
			}
		}
		if err := out.Sync(); err != nil {
			return fmt.Errorf("sync destination: %w", err)
		}
		return rep.Checkpoint(ctx)
	}
}
