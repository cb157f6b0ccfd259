package indexer

import (
	"math"
	"reflect"
	"testing"
)

func TestSplitRange(t *testing.T) {
	cases := []struct {
		name      string
		from, to  uint64
		batchSize uint64
		want      []BlockRange
	}{
		{name: "even", from: 100, to: 105, batchSize: 2, want: []BlockRange{{100, 101}, {102, 103}, {104, 105}}},
		{name: "uneven tail", from: 1, to: 7, batchSize: 3, want: []BlockRange{{1, 3}, {4, 6}, {7, 7}}},
		{name: "single block", from: 5, to: 5, batchSize: 10, want: []BlockRange{{5, 5}}},
		{name: "chain head", from: math.MaxUint64 - 2, to: math.MaxUint64, batchSize: 2, want: []BlockRange{{math.MaxUint64 - 2, math.MaxUint64 - 1}, {math.MaxUint64, math.MaxUint64}}},
	}
	for _, tc := range cases {
		got, err := SplitRange(tc.from, tc.to, tc.batchSize)
		if err != nil {
			t.Fatalf("%s: unexpected error: %v", tc.name, err)
		}
		if !reflect.DeepEqual(got, tc.want) {
			t.Fatalf("%s: ranges mismatch: %+v != %+v", tc.name, got, tc.want)
		}
		var blocks uint64
		for _, r := range got {
			blocks += r.Len()
		}
		if blocks != tc.to-tc.from+1 {
			t.Fatalf("%s: ranges cover %d blocks", tc.name, blocks)
		}
	}
}

func TestSplitRangeInvalid(t *testing.T) {
	if _, err := SplitRange(10, 9, 1); err == nil {
		t.Fatalf("expected error for invalid range")
	}
	if _, err := SplitRange(1, 10, 0); err == nil {
		t.Fatalf("expected error for zero batch size")
	}
}
