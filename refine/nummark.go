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
	"github.com/grailbio/cnv/cbs"
	"github.com/grailbio/cnv/interval"
	"github.com/grailbio/cnv/util"
)

// targetAssignment returns, for each target, the index of the first segment
// it overlaps, or -1.
func targetAssignment(in Input) ([]int, error) {
	return interval.FindFirst(cbs.Intervals(in.Targets), segmentIntervals(in.Segments), in.Order)
}

// RecomputeNumMark recounts each segment's targets.  Every target is
// assigned to the first segment it overlaps; NumMark counts the assigned
// targets, Size those with a finite log-ratio, Weight is their mean weight,
// and FirstTarget and LastTarget are updated.  A segment left without
// targets keeps its Weight.  Segments are returned unchanged when there are
// no targets.
func RecomputeNumMark(in Input) ([]cbs.Segment, error) {
	if err := in.validate(); err != nil {
		return nil, err
	}
	out := append([]cbs.Segment(nil), in.Segments...)
	if len(in.Targets) == 0 {
		return out, nil
	}
	assign, err := targetAssignment(in)
	if err != nil {
		return nil, err
	}
	for i := range out {
		out[i].NumMark, out[i].Size = 0, 0
		out[i].FirstTarget, out[i].LastTarget = -1, -1
	}
	wsum := make([]float64, len(out))
	for t, s := range assign {
		if s < 0 {
			continue
		}
		seg := &out[s]
		seg.NumMark++
		wsum[s] += in.Targets[t].Weight
		if util.IsFinite(in.LogRatio[t]) {
			seg.Size++
		}
		if seg.FirstTarget < 0 {
			seg.FirstTarget = t
		}
		seg.LastTarget = t
	}
	for i := range out {
		if out[i].NumMark > 0 {
			out[i].Weight = wsum[i] / float64(out[i].NumMark)
		}
	}
	return out, nil
}
