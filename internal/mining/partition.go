package mining

import (
	"fmt"

	"github.com/bardlex/blockmine/pkg/errors"
)

// MaxChunks bounds how many tasks a single search may be split into.
const MaxChunks = 1 << 20

// Range is an inclusive span of candidate proofs.
type Range struct {
	Start uint64
	End   uint64
}

// Len returns the number of candidates in r. It wraps to zero for the full
// uint64 domain.
func (r Range) Len() uint64 {
	return r.End - r.Start + 1
}

func (r Range) String() string {
	return fmt.Sprintf("[%d, %d]", r.Start, r.End)
}

// Partition splits [start, end] into chunks contiguous, non-overlapping
// ranges that cover it exactly. The first span%chunks ranges are one candidate
// longer than the rest. When the span is shorter than chunks, every range
// holds a single candidate.
func Partition(start, end, chunks uint64) ([]Range, error) {
	if chunks == 0 {
		return nil, errors.New(errors.ErrorTypeValidation, "partition", "chunk count must be positive")
	}
	if chunks > MaxChunks {
		return nil, errors.Newf(errors.ErrorTypeValidation, "partition",
			"chunk count %d exceeds maximum %d", chunks, uint64(MaxChunks))
	}
	if end < start {
		return nil, errors.Newf(errors.ErrorTypeValidation, "partition",
			"range end %d is below start %d", end, start)
	}

	// span-1, so the full uint64 domain does not overflow
	last := end - start
	if last < chunks-1 {
		chunks = last + 1
	}

	size := last / chunks
	rem := last%chunks + 1
	if rem == chunks {
		size++
		rem = 0
	}

	ranges := make([]Range, 0, chunks)
	lo := start
	for i := range chunks {
		n := size
		if i < rem {
			n++
		}
		ranges = append(ranges, Range{Start: lo, End: lo + n - 1})
		lo += n
	}
	return ranges, nil
}
