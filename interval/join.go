// Copyright 2020 Grail Inc.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//    http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package interval

import (
	"sort"

	biointerval "github.com/biogo/store/interval"
	"github.com/grailbio/base/errors"
)

// span adapts a closed interval to the half-open biogo interval tree.
type span struct {
	start, end int // [start, end)
	id         uintptr
}

func (s span) Overlap(r biointerval.IntRange) bool { return s.start < r.End && r.Start < s.end }
func (s span) ID() uintptr                         { return s.id }
func (s span) Range() biointerval.IntRange         { return biointerval.IntRange{Start: s.start, End: s.end} }

// Index supports overlap queries against a fixed, sorted collection of
// intervals.
type Index struct {
	n     int
	trees map[int]*biointerval.IntTree
	order ChromOrder
}

// NewIndex builds an overlap index over ivs, which must be sorted under ord.
func NewIndex(ivs []Interval, ord ChromOrder) (*Index, error) {
	if err := CheckSorted(ivs, ord, "indexed intervals"); err != nil {
		return nil, err
	}
	idx := &Index{n: len(ivs), trees: map[int]*biointerval.IntTree{}, order: ord}
	for i, iv := range ivs {
		r, _ := ord.Rank(iv.Chrom)
		tree := idx.trees[r]
		if tree == nil {
			tree = &biointerval.IntTree{}
			idx.trees[r] = tree
		}
		if err := tree.Insert(span{start: iv.Start, end: iv.End + 1, id: uintptr(i)}, true); err != nil {
			return nil, errors.E(err, "interval: index", iv.String())
		}
	}
	for _, tree := range idx.trees {
		tree.AdjustRanges()
	}
	return idx, nil
}

// Len returns the number of indexed intervals.
func (idx *Index) Len() int { return idx.n }

// Overlapping returns the indexes of the indexed intervals overlapping q,
// in increasing order.
func (idx *Index) Overlapping(q Interval) []int {
	r, ok := idx.order.Rank(q.Chrom)
	if !ok {
		return nil
	}
	tree := idx.trees[r]
	if tree == nil {
		return nil
	}
	hits := tree.Get(span{start: q.Start, end: q.End + 1})
	if len(hits) == 0 {
		return nil
	}
	out := make([]int, len(hits))
	for i, h := range hits {
		out[i] = int(h.ID())
	}
	sort.Ints(out)
	return out
}

// OverlapJoin returns, for each interval of a, the indexes of the intervals of
// b that overlap it, in b's order.  Both inputs must be sorted under ord.
func OverlapJoin(a, b []Interval, ord ChromOrder) ([][]int, error) {
	if err := CheckSorted(a, ord, "query intervals"); err != nil {
		return nil, err
	}
	idx, err := NewIndex(b, ord)
	if err != nil {
		return nil, err
	}
	out := make([][]int, len(a))
	for i, q := range a {
		out[i] = idx.Overlapping(q)
	}
	return out, nil
}

// FindFirst returns, for each interval of a, the index of the first
// overlapping interval of b, or -1 if none overlaps.
func FindFirst(a, b []Interval, ord ChromOrder) ([]int, error) {
	return pick(a, b, ord, func(hits []int) int { return hits[0] })
}

// FindLast returns, for each interval of a, the index of the last overlapping
// interval of b, or -1 if none overlaps.
func FindLast(a, b []Interval, ord ChromOrder) ([]int, error) {
	return pick(a, b, ord, func(hits []int) int { return hits[len(hits)-1] })
}

func pick(a, b []Interval, ord ChromOrder, choose func([]int) int) ([]int, error) {
	hits, err := OverlapJoin(a, b, ord)
	if err != nil {
		return nil, err
	}
	out := make([]int, len(a))
	for i, h := range hits {
		out[i] = -1
		if len(h) > 0 {
			out[i] = choose(h)
		}
	}
	return out, nil
}

// EqualJoin returns, for each interval of a, the indexes of the intervals of
// b with the same chromosome, start and end.  Both inputs must be sorted
// under ord.
func EqualJoin(a, b []Interval, ord ChromOrder) ([][]int, error) {
	if err := CheckSorted(a, ord, "query intervals"); err != nil {
		return nil, err
	}
	if err := CheckSorted(b, ord, "target intervals"); err != nil {
		return nil, err
	}
	type key struct {
		rank, start, end int
	}
	pos := make(map[key][]int, len(b))
	for k, iv := range b {
		r, _ := ord.Rank(iv.Chrom)
		kk := key{r, iv.Start, iv.End}
		pos[kk] = append(pos[kk], k)
	}
	out := make([][]int, len(a))
	for i, q := range a {
		r, _ := ord.Rank(q.Chrom)
		out[i] = pos[key{r, q.Start, q.End}]
	}
	return out, nil
}

// Run is a maximal stretch of adjacent intervals sharing a key.
type Run struct {
	Interval
	// From and To are the indexes of the first and last merged input.
	From, To int
}

// MergeRuns collapses adjacent same-chromosome intervals whose keys are equal
// into single runs spanning from the first start to the last end.  keys must
// have the same length as ivs.
func MergeRuns(ivs []Interval, keys []int) []Run {
	if len(keys) != len(ivs) {
		panic("interval.MergeRuns: keys and intervals differ in length")
	}
	var runs []Run
	for i, iv := range ivs {
		if n := len(runs); n > 0 {
			last := &runs[n-1]
			if last.Chrom == iv.Chrom && keys[last.To] == keys[i] {
				if iv.End > last.End {
					last.End = iv.End
				}
				last.To = i
				continue
			}
		}
		runs = append(runs, Run{Interval: iv, From: i, To: i})
	}
	return runs
}
