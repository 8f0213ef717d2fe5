package mining

import (
	"math"
	"slices"
	"testing"

	"github.com/bardlex/blockmine/pkg/errors"
)

func TestPartition(t *testing.T) {
	tests := []struct {
		name              string
		start, end, parts uint64
		want              []Range
	}{
		{
			name: "remainder goes to leading chunks",
			end:  9, parts: 3,
			want: []Range{{0, 3}, {4, 6}, {7, 9}},
		},
		{
			name: "even split",
			end:  7, parts: 4,
			want: []Range{{0, 1}, {2, 3}, {4, 5}, {6, 7}},
		},
		{
			name:  "more chunks than candidates",
			start: 10, end: 12, parts: 10,
			want: []Range{{10, 10}, {11, 11}, {12, 12}},
		},
		{
			name:  "single candidate",
			start: 5, end: 5, parts: 1,
			want: []Range{{5, 5}},
		},
		{
			name: "one chunk",
			end:  99, parts: 1,
			want: []Range{{0, 99}},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Partition(tt.start, tt.end, tt.parts)
			if err != nil {
				t.Fatalf("Partition() error = %v", err)
			}
			if !slices.Equal(got, tt.want) {
				t.Errorf("Partition() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestPartition_CoversExactly(t *testing.T) {
	for _, start := range []uint64{0, 1, 1000, math.MaxUint64 - 5000} {
		for _, span := range []uint64{1, 2, 7, 100, 2345, 4999} {
			for _, parts := range []uint64{1, 2, 3, 16, 2345} {
				end := start + span - 1
				ranges, err := Partition(start, end, parts)
				if err != nil {
					t.Fatalf("Partition(%d, %d, %d) error = %v", start, end, parts, err)
				}

				if want := min(parts, span); uint64(len(ranges)) != want {
					t.Fatalf("Partition(%d, %d, %d) gave %d ranges, want %d", start, end, parts, len(ranges), want)
				}
				if ranges[0].Start != start || ranges[len(ranges)-1].End != end {
					t.Fatalf("Partition(%d, %d, %d) bounds %v..%v", start, end, parts, ranges[0], ranges[len(ranges)-1])
				}

				var total uint64
				longest, shortest := uint64(0), uint64(math.MaxUint64)
				for i, r := range ranges {
					if r.End < r.Start {
						t.Fatalf("range %d is empty: %v", i, r)
					}
					if i > 0 && r.Start != ranges[i-1].End+1 {
						t.Fatalf("range %d %v does not follow %v", i, r, ranges[i-1])
					}
					total += r.Len()
					longest = max(longest, r.Len())
					shortest = min(shortest, r.Len())
				}
				if total != span {
					t.Fatalf("Partition(%d, %d, %d) covers %d candidates, want %d", start, end, parts, total, span)
				}
				if longest-shortest > 1 {
					t.Fatalf("Partition(%d, %d, %d) chunk sizes range %d..%d", start, end, parts, shortest, longest)
				}
			}
		}
	}
}

func TestPartition_FullDomain(t *testing.T) {
	ranges, err := Partition(0, math.MaxUint64, 4)
	if err != nil {
		t.Fatalf("Partition() error = %v", err)
	}

	want := []Range{
		{0, 1<<62 - 1},
		{1 << 62, 1<<63 - 1},
		{1 << 63, 3<<62 - 1},
		{3 << 62, math.MaxUint64},
	}
	if !slices.Equal(ranges, want) {
		t.Errorf("Partition() = %v, want %v", ranges, want)
	}
}

func TestPartition_Invalid(t *testing.T) {
	tests := []struct {
		name              string
		start, end, parts uint64
	}{
		{name: "zero chunks", end: 10},
		{name: "end before start", start: 10, end: 9, parts: 2},
		{name: "too many chunks", end: 10, parts: MaxChunks + 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Partition(tt.start, tt.end, tt.parts)
			if !errors.IsType(err, errors.ErrorTypeValidation) {
				t.Errorf("Partition() error = %v, want validation error", err)
			}
		})
	}
}
