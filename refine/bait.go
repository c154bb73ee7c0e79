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

	"github.com/grailbio/cnv/cbs"
	"github.com/grailbio/cnv/interval"
	"github.com/grailbio/cnv/util"
)

// FixBreakpointsInBaits moves segment boundaries that fall inside an
// on-target target.  The target goes wholly to whichever of the two segments
// has the mean closer to the target's log-ratio.  Segments left empty by the
// move are dropped.
func FixBreakpointsInBaits(ctx context.Context, in Input, opts Opts) ([]cbs.Segment, error) {
	if err := in.validate(); err != nil {
		return nil, err
	}
	if len(in.Targets) == 0 {
		return append([]cbs.Segment(nil), in.Segments...), nil
	}
	segIvs := segmentIntervals(in.Segments)
	tIvs := cbs.Intervals(in.Targets)
	first, err := interval.FindFirst(tIvs, segIvs, in.Order)
	if err != nil {
		return nil, err
	}
	last, err := interval.FindLast(tIvs, segIvs, in.Order)
	if err != nil {
		return nil, err
	}
	// Straddling targets, keyed by the index of their first segment.
	straddle := map[int][]int{}
	for t := range in.Targets {
		if first[t] >= 0 && last[t] != first[t] && in.Targets[t].OnTarget && util.IsFinite(in.LogRatio[t]) {
			straddle[first[t]] = append(straddle[first[t]], t)
		}
	}
	segs := in.Segments
	return perChrom(ctx, segs, opts.Parallelism, func(from, to int) ([]cbs.Segment, error) {
		out := append([]cbs.Segment(nil), segs[from:to]...)
		for k := from; k < to; k++ {
			for _, t := range straddle[k] {
				a, b := k-from, last[t]-from
				target := in.Targets[t]
				lr := in.LogRatio[t]
				if math.Abs(lr-out[a].Mean) <= math.Abs(lr-out[b].Mean) {
					out[a].End = target.End
					for j := a + 1; j <= b; j++ {
						if out[j].Start <= target.End {
							out[j].Start = target.End + 1
						}
					}
				} else {
					out[b].Start = target.Start
					for j := a; j < b; j++ {
						if out[j].End >= target.Start {
							out[j].End = target.Start - 1
						}
					}
				}
			}
		}
		kept := out[:0]
		for _, s := range out {
			if s.Start <= s.End {
				kept = append(kept, s)
			}
		}
		return kept, nil
	})
}
