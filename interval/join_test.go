package interval

import (
	"math/rand"
	"sort"
	"testing"

	"github.com/grailbio/base/errors"
	"github.com/grailbio/testutil/assert"
	"github.com/grailbio/testutil/expect"
)

func randomIntervals(r *rand.Rand, chroms []string, n int) []Interval {
	ivs := make([]Interval, n)
	for i := range ivs {
		start := 1 + r.Intn(1000)
		ivs[i] = Interval{Chrom: chroms[r.Intn(len(chroms))], Start: start, End: start + r.Intn(50)}
	}
	return ivs
}

func bruteOverlap(a, b []Interval) [][]int {
	out := make([][]int, len(a))
	for i := range a {
		for j := range b {
			if a[i].Overlaps(b[j]) {
				out[i] = append(out[i], j)
			}
		}
	}
	return out
}

func TestOverlapJoinMatchesBruteForce(t *testing.T) {
	ord := NewChromOrder([]string{"chr1", "chr2", "chr3"})
	r := rand.New(rand.NewSource(12))
	a := randomIntervals(r, ord.Names(), 200)
	b := randomIntervals(r, ord.Names(), 150)
	Sort(a, ord)
	Sort(b, ord)

	got, err := OverlapJoin(a, b, ord)
	assert.NoError(t, err)
	expect.EQ(t, got, bruteOverlap(a, b))

	first, err := FindFirst(a, b, ord)
	assert.NoError(t, err)
	last, err := FindLast(a, b, ord)
	assert.NoError(t, err)
	for i, hits := range got {
		if len(hits) == 0 {
			expect.EQ(t, first[i], -1)
			expect.EQ(t, last[i], -1)
			continue
		}
		expect.EQ(t, first[i], hits[0])
		expect.EQ(t, last[i], hits[len(hits)-1])
	}
}

func TestOverlapJoinSymmetric(t *testing.T) {
	ord := NewChromOrder([]string{"1", "2"})
	r := rand.New(rand.NewSource(3))
	a := randomIntervals(r, ord.Names(), 80)
	b := randomIntervals(r, ord.Names(), 80)
	Sort(a, ord)
	Sort(b, ord)

	ab, err := OverlapJoin(a, b, ord)
	assert.NoError(t, err)
	ba, err := OverlapJoin(b, a, ord)
	assert.NoError(t, err)

	type pair struct{ i, j int }
	var fwd, rev []pair
	for i, hits := range ab {
		for _, j := range hits {
			fwd = append(fwd, pair{i, j})
		}
	}
	for j, hits := range ba {
		for _, i := range hits {
			rev = append(rev, pair{i, j})
		}
	}
	sort.Slice(rev, func(x, y int) bool {
		if rev[x].i != rev[y].i {
			return rev[x].i < rev[y].i
		}
		return rev[x].j < rev[y].j
	})
	expect.EQ(t, fwd, rev)
}

func TestJoinAcceptsBothNamingStyles(t *testing.T) {
	ord := NaturalChromOrder([]string{"chr2", "chr10", "chrX", "chr1"})
	expect.EQ(t, ord.Names(), []string{"chr1", "chr2", "chr10", "chrX"})

	a := []Interval{{"1", 100, 100}, {"10", 5, 5}}
	b := []Interval{{"chr1", 50, 150}, {"chr2", 1, 1000}, {"chr10", 1, 10}}
	got, err := FindFirst(a, b, ord)
	assert.NoError(t, err)
	expect.EQ(t, got, []int{0, 2})
}

func TestJoinRejectsUnsortedInput(t *testing.T) {
	ord := NewChromOrder([]string{"chr1", "chr2"})
	sorted := []Interval{{"chr1", 1, 10}, {"chr2", 1, 10}}
	unsorted := []Interval{{"chr2", 1, 10}, {"chr1", 1, 10}}

	_, err := OverlapJoin(unsorted, sorted, ord)
	assert.True(t, errors.Is(errors.Precondition, err))
	_, err = FindFirst(sorted, unsorted, ord)
	assert.True(t, errors.Is(errors.Precondition, err))
	_, err = EqualJoin(sorted, []Interval{{"chr3", 1, 1}}, ord)
	assert.True(t, errors.Is(errors.Precondition, err))
}

func TestEqualJoin(t *testing.T) {
	ord := NewChromOrder([]string{"chr1", "chr2"})
	a := []Interval{{"chr1", 10, 10}, {"chr1", 20, 20}, {"chr2", 5, 5}}
	b := []Interval{{"chr1", 10, 10}, {"chr1", 10, 10}, {"chr1", 20, 21}, {"chr2", 5, 5}}
	got, err := EqualJoin(a, b, ord)
	assert.NoError(t, err)
	expect.EQ(t, got, [][]int{{0, 1}, nil, {3}})
}

func TestMergeRuns(t *testing.T) {
	ivs := []Interval{
		{"chr1", 1, 10}, {"chr1", 11, 20}, {"chr1", 21, 30},
		{"chr2", 1, 10}, {"chr2", 11, 20},
	}
	runs := MergeRuns(ivs, []int{1, 1, 2, 2, 2})
	expect.EQ(t, runs, []Run{
		{Interval{"chr1", 1, 20}, 0, 1},
		{Interval{"chr1", 21, 30}, 2, 2},
		{Interval{"chr2", 1, 20}, 3, 4},
	})
}

func TestParseRegion(t *testing.T) {
	tests := []struct {
		in      string
		want    Interval
		wantErr bool
	}{
		{"chr1:100-200", Interval{"chr1", 100, 200}, false},
		{"chr1:1,000-2,000", Interval{"chr1", 1000, 2000}, false},
		{"chr2:7", Interval{"chr2", 7, 7}, false},
		{"chrX", Interval{"chrX", 1, maxPos}, false},
		{":1-2", Interval{}, true},
		{"chr1:0", Interval{}, true},
		{"chr1:20-10", Interval{}, true},
		{"", Interval{}, true},
	}
	for _, test := range tests {
		got, err := ParseRegion(test.in)
		if test.wantErr {
			expect.True(t, err != nil, test.in)
			continue
		}
		assert.NoError(t, err)
		expect.EQ(t, got, test.want)
	}
}
