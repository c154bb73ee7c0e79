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
	"sync/atomic"

	"github.com/grailbio/base/log"
	"github.com/grailbio/cnv/cbs"
	"github.com/grailbio/cnv/encoding/vcf"
	"github.com/grailbio/cnv/util"
)

// PruneByVCF merges adjacent segments whose breakpoint is weakly supported by
// the log-ratios and not supported by the germline allele fractions.
//
// A pair is eligible when the upstream segment's breakpoint p-value is not
// below MaxPValue (a missing p-value counts as weak) and both segments
// overlap at least MinSize variants.  Eligible pairs are merged when a Welch
// t-test on their reflected allele fractions gives p > MergePValue.  Passes
// repeat until none merges or PruneIterations passes have run.
func PruneByVCF(ctx context.Context, in Input, opts Opts) ([]cbs.Segment, error) {
	if err := in.validate(); err != nil {
		return nil, err
	}
	segs := in.Segments
	for iter := 0; iter < opts.PruneIterations; iter++ {
		vars, err := segmentVariants(segs, in.Variants, in.Order)
		if err != nil {
			return nil, err
		}
		var merged int64
		cur := segs
		next, err := perChrom(ctx, cur, opts.Parallelism, func(from, to int) ([]cbs.Segment, error) {
			out, n := pruneChrom(cur[from:to], vars[from:to], opts)
			atomic.AddInt64(&merged, int64(n))
			return out, nil
		})
		if err != nil {
			return nil, err
		}
		log.Debug.Printf("refine: prune pass %d merged %d breakpoints", iter+1, merged)
		segs = next
		if merged == 0 {
			break
		}
	}
	return segs, nil
}

// pruneChrom scans one chromosome left to right, merging each eligible pair.
// A merged segment is compared again with its next neighbor.
func pruneChrom(segs []cbs.Segment, vars [][]vcf.VariantAllele, opts Opts) ([]cbs.Segment, int) {
	if len(segs) == 0 {
		return nil, 0
	}
	out := make([]cbs.Segment, 0, len(segs))
	cur, curVars := segs[0], vars[0]
	merged := 0
	for k := 1; k < len(segs); k++ {
		if !(cur.PValue < opts.MaxPValue) && len(curVars) >= opts.MinSize && len(vars[k]) >= opts.MinSize {
			if p := util.WelchTTest(reflected(curVars), reflected(vars[k])); p > opts.MergePValue {
				cur = mergeSegments(cur, segs[k])
				curVars = append(curVars[:len(curVars):len(curVars)], vars[k]...)
				merged++
				continue
			}
		}
		out = append(out, cur)
		cur, curVars = segs[k], vars[k]
	}
	return append(out, cur), merged
}
