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

package refine

import (
	"context"
	"math"
	"sync/atomic"

	"github.com/grailbio/base/log"
	"github.com/grailbio/cnv/cbs"
	"github.com/grailbio/cnv/encoding/vcf"
	"github.com/grailbio/cnv/util"
	"gonum.org/v1/gonum/stat"
)

// FindCNNLOH splits segments whose germline allele fractions change within
// the segment although the log-ratio does not.
//
// Segments with at least 2*MinVariants variants are scanned for the split
// minimizing the summed standard deviations of the reflected allele
// fractions on either side.  Both sides keep at least max(MinVariants, 5% of
// the variants).  The split is accepted when the side means differ by more
// than MinMeanDiff with Welch p < CNNLOHAlpha, or by more than
// MinMeanDiffLarge with p < CNNLOHAlpha and more than 3*MinVariants variants
// on each side.  The left part ends at the last variant before the split.
func FindCNNLOH(ctx context.Context, in Input, opts Opts) ([]cbs.Segment, error) {
	if err := in.validate(); err != nil {
		return nil, err
	}
	segs := in.Segments
	for iter := 0; iter < opts.CNNLOHIterations; iter++ {
		vars, err := segmentVariants(segs, in.Variants, in.Order)
		if err != nil {
			return nil, err
		}
		var nSplit int64
		cur := segs
		next, err := perChrom(ctx, cur, opts.Parallelism, func(from, to int) ([]cbs.Segment, error) {
			out := make([]cbs.Segment, 0, to-from)
			for k := from; k < to; k++ {
				left, right, ok := splitCNNLOH(cur[k], vars[k], opts)
				if !ok {
					out = append(out, cur[k])
					continue
				}
				atomic.AddInt64(&nSplit, 1)
				out = append(out, left, right)
			}
			return out, nil
		})
		if err != nil {
			return nil, err
		}
		log.Debug.Printf("refine: CNN-LOH pass %d split %d segments", iter+1, nSplit)
		if nSplit == 0 {
			break
		}
		in.Segments = next
		if segs, err = RecomputeNumMark(in); err != nil {
			return nil, err
		}
	}
	return segs, nil
}

type cnnlohSplit struct {
	k       int
	sdSum   float64
	pValue  float64
	absDiff float64
}

// bestSplit returns the split of r into r[:k] and r[k:] minimizing the summed
// standard deviations.
func bestSplit(r []float64, minVariants int) (cnnlohSplit, bool) {
	n := len(r)
	edge := minVariants
	if e := int(math.Ceil(0.05 * float64(n))); e > edge {
		edge = e
	}
	best := cnnlohSplit{k: -1, sdSum: math.Inf(1)}
	for k := edge; k <= n-edge; k++ {
		s := stat.StdDev(r[:k], nil) + stat.StdDev(r[k:], nil)
		if s < best.sdSum {
			best.k, best.sdSum = k, s
		}
	}
	if best.k < 0 {
		return best, false
	}
	best.pValue = util.WelchTTest(r[:best.k], r[best.k:])
	best.absDiff = math.Abs(stat.Mean(r[:best.k], nil) - stat.Mean(r[best.k:], nil))
	return best, true
}

// splitCNNLOH tests one segment with its overlapping variants, which are in
// position order.
func splitCNNLOH(seg cbs.Segment, vars []vcf.VariantAllele, opts Opts) (left, right cbs.Segment, ok bool) {
	n := len(vars)
	if n < 2*opts.MinVariants {
		return seg, seg, false
	}
	sp, ok := bestSplit(reflected(vars), opts.MinVariants)
	if !ok || !(sp.pValue < opts.CNNLOHAlpha) {
		return seg, seg, false
	}
	large := sp.k > 3*opts.MinVariants && n-sp.k > 3*opts.MinVariants
	if !(sp.absDiff > opts.MinMeanDiff || (large && sp.absDiff > opts.MinMeanDiffLarge)) {
		return seg, seg, false
	}
	boundary := vars[sp.k-1].End
	if boundary < seg.Start || boundary >= seg.End {
		return seg, seg, false
	}
	left, right = seg, seg
	left.End = boundary
	left.PValue = sp.pValue
	right.Start = boundary + 1
	log.Debug.Printf("refine: CNN-LOH split of %v at %d (diff %.3f, p %.2g)", seg.Interval, boundary, sp.absDiff, sp.pValue)
	return left, right, true
}
