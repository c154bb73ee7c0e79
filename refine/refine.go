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

// Package refine improves CBS segments with germline allele-fraction
// evidence.  It merges breakpoints the variants do not support, splits
// segments that hide copy-neutral loss of heterozygosity, clusters segments
// of equal dosage, and cleans up segment boundaries and weights.
//
// Every step takes an Input and returns a new segment table; the input is
// never modified.
package refine

import (
	"context"
	"fmt"
	"runtime"

	"github.com/grailbio/base/errors"
	"github.com/grailbio/base/log"
	"github.com/grailbio/base/traverse"
	"github.com/grailbio/cnv/cbs"
	"github.com/grailbio/cnv/encoding/vcf"
	"github.com/grailbio/cnv/interval"
)

// Input is the state refinement operates on.
type Input struct {
	// Segments is the current segment table, sorted under Order.
	Segments []cbs.Segment
	// Targets and LogRatio are the segmented targets and their log-ratios.
	Targets  []cbs.Target
	LogRatio []float64
	// Variants are the germline variants of the sample, sorted under Order.
	// They may be empty.
	Variants []vcf.VariantAllele
	// Order ranks chromosomes.  When empty it is derived from the order in
	// which chromosomes first appear in Targets.
	Order interval.ChromOrder
}

// validate checks alignment and ordering and fills in a missing order.
func (in *Input) validate() error {
	if len(in.Targets) != len(in.LogRatio) {
		return errors.E(errors.Integrity, fmt.Sprintf("refine: %d targets but %d log-ratios", len(in.Targets), len(in.LogRatio)))
	}
	if in.Order.Len() == 0 {
		names := make([]string, 0, len(in.Targets)+len(in.Segments))
		for _, t := range in.Targets {
			names = append(names, t.Chrom)
		}
		for _, s := range in.Segments {
			names = append(names, s.Chrom)
		}
		in.Order = interval.NewChromOrder(names)
	}
	if err := interval.CheckSorted(segmentIntervals(in.Segments), in.Order, "segments"); err != nil {
		return err
	}
	if err := interval.CheckSorted(cbs.Intervals(in.Targets), in.Order, "targets"); err != nil {
		return err
	}
	return interval.CheckSorted(variantIntervals(in.Variants), in.Order, "variants")
}

// Refine runs the full refinement: breakpoint pruning, CNN-LOH splitting and
// dosage clustering when variants are present, then num-mark recomputation,
// weight flagging, breakpoint-in-bait correction and removal of segments
// with at most one target.
func Refine(ctx context.Context, in Input, opts Opts) ([]cbs.Segment, error) {
	if err := opts.Validate(); err != nil {
		return nil, err
	}
	if err := in.validate(); err != nil {
		return nil, err
	}
	var err error
	nIn := len(in.Segments)
	if len(in.Variants) > 0 {
		if in.Segments, err = PruneByVCF(ctx, in, opts); err != nil {
			return nil, err
		}
		if in.Segments, err = FindCNNLOH(ctx, in, opts); err != nil {
			return nil, err
		}
		if in.Segments, err = PruneByHclust(ctx, in, opts); err != nil {
			return nil, err
		}
	} else {
		log.Printf("refine: no germline variants; skipping allele-fraction steps")
	}
	if in.Segments, err = RecomputeNumMark(in); err != nil {
		return nil, err
	}
	if in.Segments, err = FlagWeights(in, opts); err != nil {
		return nil, err
	}
	if in.Segments, err = FixBreakpointsInBaits(ctx, in, opts); err != nil {
		return nil, err
	}
	if in.Segments, err = RecomputeNumMark(in); err != nil {
		return nil, err
	}
	out := make([]cbs.Segment, 0, len(in.Segments))
	for _, s := range in.Segments {
		if s.NumMark > 1 {
			out = append(out, s)
		}
	}
	log.Printf("refine: %d segments in, %d out", nIn, len(out))
	return out, nil
}

func segmentIntervals(segs []cbs.Segment) []interval.Interval {
	ivs := make([]interval.Interval, len(segs))
	for i := range segs {
		ivs[i] = segs[i].Interval
	}
	return ivs
}

func variantIntervals(vars []vcf.VariantAllele) []interval.Interval {
	ivs := make([]interval.Interval, len(vars))
	for i := range vars {
		ivs[i] = vars[i].Interval
	}
	return ivs
}

// segmentVariants returns, for each segment, the variants it overlaps.
func segmentVariants(segs []cbs.Segment, vars []vcf.VariantAllele, ord interval.ChromOrder) ([][]vcf.VariantAllele, error) {
	hits, err := interval.OverlapJoin(segmentIntervals(segs), variantIntervals(vars), ord)
	if err != nil {
		return nil, err
	}
	out := make([][]vcf.VariantAllele, len(segs))
	for i, h := range hits {
		for _, k := range h {
			out[i] = append(out[i], vars[k])
		}
	}
	return out, nil
}

func reflected(vars []vcf.VariantAllele) []float64 {
	r := make([]float64, len(vars))
	for i, v := range vars {
		r[i] = v.Reflected()
	}
	return r
}

// chromBlocks returns the [from, to) ranges of the runs of segments on one
// chromosome.
func chromBlocks(segs []cbs.Segment) [][2]int {
	var blocks [][2]int
	for from := 0; from < len(segs); {
		to := from + 1
		for to < len(segs) && segs[to].Chrom == segs[from].Chrom {
			to++
		}
		blocks = append(blocks, [2]int{from, to})
		from = to
	}
	return blocks
}

// perChrom calls fn with the [from, to) range of each chromosome's segments,
// in parallel, and concatenates the results in chromosome order.  fn must
// not modify segs.
func perChrom(ctx context.Context, segs []cbs.Segment, parallelism int, fn func(from, to int) ([]cbs.Segment, error)) ([]cbs.Segment, error) {
	blocks := chromBlocks(segs)
	if len(blocks) == 0 {
		return nil, nil
	}
	if parallelism <= 0 {
		parallelism = runtime.NumCPU()
	}
	if parallelism > len(blocks) {
		parallelism = len(blocks)
	}
	results := make([][]cbs.Segment, len(blocks))
	err := traverse.Each(parallelism, func(jobIdx int) error {
		startIdx := (jobIdx * len(blocks)) / parallelism
		endIdx := ((jobIdx + 1) * len(blocks)) / parallelism
		for b := startIdx; b < endIdx; b++ {
			if err := ctx.Err(); err != nil {
				return err
			}
			var err error
			if results[b], err = fn(blocks[b][0], blocks[b][1]); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	var out []cbs.Segment
	for _, r := range results {
		out = append(out, r...)
	}
	return out, nil
}

// mergeSegments joins adjacent segments a and b.  The mean is weighted by
// num-mark, counts are summed, and the p-value of the downstream breakpoint
// is kept.
func mergeSegments(a, b cbs.Segment) cbs.Segment {
	m := a
	if b.End > m.End {
		m.End = b.End
	}
	n := a.NumMark + b.NumMark
	if n > 0 {
		m.Mean = (a.Mean*float64(a.NumMark) + b.Mean*float64(b.NumMark)) / float64(n)
		m.Weight = (a.Weight*float64(a.NumMark) + b.Weight*float64(b.NumMark)) / float64(n)
	} else {
		m.Mean = (a.Mean + b.Mean) / 2
		m.Weight = (a.Weight + b.Weight) / 2
	}
	m.NumMark = n
	m.Size = a.Size + b.Size
	m.PValue = b.PValue
	m.WeightFlagged = false
	if a.ClusterID != b.ClusterID {
		m.ClusterID = cbs.NoCluster
	}
	m.LastTarget = b.LastTarget
	return m
}
