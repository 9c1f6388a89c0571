// Package transfer runs multi-threaded transfers that resume from the
// restart ledger after a failure.
package transfer

import (
	"fmt"

	"github.com/gridlink-project/gridlink/pkg/errclass"
)

// Range is the byte range [Start, End) owned by one worker thread.
type Range struct {
	Thread int   `json:"thread"`
	Start  int64 `json:"start"`
	End    int64 `json:"end"`
}

// Len is the number of bytes in the range.
func (r Range) Len() int64 { return r.End - r.Start }

func (r Range) String() string {
	return fmt.Sprintf("thread %d [%d,%d)", r.Thread, r.Start, r.End)
}

// Plan splits [0, size) into threads contiguous ranges. The first size%threads
// ranges are one byte longer than the rest.
func Plan(size int64, threads int) ([]Range, error) {
	if size < 0 {
		return nil, errclass.ErrInvalidArgument.WithMessagef("negative size %d", size)
	}
	if threads < 1 {
		return nil, errclass.ErrInvalidArgument.WithMessagef("thread count must be at least 1, got %d", threads)
	}
	per, extra := size/int64(threads), size%int64(threads)
	out := make([]Range, threads)
	var start int64
	for i := range out {
		n := per
		if int64(i) < extra {
			n++
		}
		out[i] = Range{Thread: i, Start: start, End: start + n}
		start += n
	}
	return out, nil
}
