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

package cbs

import (
	"context"
	"fmt"
	"math"
	"math/rand"
	"runtime"

	"github.com/grailbio/base/errors"
	"github.com/grailbio/base/log"
	"github.com/grailbio/base/traverse"
	"github.com/grailbio/cnv/interval"
	"github.com/grailbio/cnv/util"
)

// Target is a capture target or off-target bin with its coverage weight.
type Target struct {
	interval.Interval
	Weight   float64
	OnTarget bool
}

// NoCluster is the ClusterID of a segment that belongs to no dosage cluster.
const NoCluster = -1

// Segment is a run of targets with a common copy-number log-ratio.
type Segment struct {
	interval.Interval
	// Mean is the segment log-ratio.
	Mean float64
	// NumMark is the number of targets in the segment and Size the number
	// of those with a usable log-ratio.
	NumMark int
	Size    int
	// Weight is the mean weight of the segment's targets.  Steps that move
	// segment boundaries recompute it.
	Weight        float64
	WeightFlagged bool
	ClusterID     int
	// PValue is the p-value of the change point at the segment's end, or
	// NaN for the last segment of a chromosome.
	PValue float64
	// FirstTarget and LastTarget index the segment's targets in the
	// segmented target list, or are -1 when unknown.
	FirstTarget, LastTarget int
}

// Result is the output of segmentation.
type Result struct {
	Segments []Segment
	// UndoSD is the undo strength finally used.
	UndoSD float64
	// Retries is the number of times the undo strength was raised because
	// there were too many segments.
	Retries int
}

// Segmenter runs circular binary segmentation with a fixed permutation
// stopping rule.
type Segmenter struct {
	opts Opts
	bdry Boundary
}

// NewSegmenter validates opts and precomputes its stopping rule.
func NewSegmenter(opts Opts) (*Segmenter, error) {
	if err := opts.Validate(); err != nil {
		return nil, err
	}
	return &Segmenter{opts: opts, bdry: NewBoundary(opts.NPerm, opts.Alpha, opts.Eta)}, nil
}

// NewSegmenterWithBoundary is like NewSegmenter but uses a precomputed
// stopping rule, which must be for opts.NPerm permutations.
func NewSegmenterWithBoundary(opts Opts, bdry Boundary) (*Segmenter, error) {
	if err := opts.Validate(); err != nil {
		return nil, err
	}
	if bdry.NPerm != opts.NPerm {
		return nil, errors.E(errors.Invalid, fmt.Sprintf("cbs: boundary is for %d permutations, nperm is %d", bdry.NPerm, opts.NPerm))
	}
	return &Segmenter{opts: opts, bdry: bdry}, nil
}

// SegmentTargets segments logRatio with the default chromosome order: the order in
// which chromosomes first appear in targets.
func SegmentTargets(ctx context.Context, targets []Target, logRatio []float64, opts Opts) (Result, error) {
	s, err := NewSegmenter(opts)
	if err != nil {
		return Result{}, err
	}
	return s.Segment(ctx, targets, logRatio, AppearanceOrder(targets))
}

// AppearanceOrder orders chromosomes by their first appearance in targets.
func AppearanceOrder(targets []Target) interval.ChromOrder {
	names := make([]string, len(targets))
	for i := range targets {
		names[i] = targets[i].Chrom
	}
	return interval.NewChromOrder(names)
}

// Intervals returns the intervals of targets.
func Intervals(targets []Target) []interval.Interval {
	ivs := make([]interval.Interval, len(targets))
	for i := range targets {
		ivs[i] = targets[i].Interval
	}
	return ivs
}

// chromSeries holds the usable values of one chromosome and its change
// points.
type chromSeries struct {
	chrom    string
	from, to int   // target range
	idx      []int // targets with usable values
	x, w     []float64
	bps      []breakpoint
	sd       float64
}

// Segment segments logRatio, which is aligned with targets.  targets must be
// sorted under ord.  Targets with non-finite log-ratios (or, when weighting,
// non-positive weights) do not influence change points but are attached to
// the segment containing them.
func (s *Segmenter) Segment(ctx context.Context, targets []Target, logRatio []float64, ord interval.ChromOrder) (Result, error) {
	if len(targets) != len(logRatio) {
		return Result{}, errors.E(errors.Integrity, fmt.Sprintf("cbs: %d targets but %d log-ratios", len(targets), len(logRatio)))
	}
	if err := interval.CheckSorted(Intervals(targets), ord, "targets"); err != nil {
		return Result{}, err
	}
	chroms := s.splitChroms(targets, logRatio)

	parallelism := s.opts.Parallelism
	if parallelism <= 0 {
		parallelism = runtime.NumCPU()
	}
	if parallelism > len(chroms) {
		parallelism = len(chroms)
	}
	if len(chroms) > 0 {
		err := traverse.Each(parallelism, func(jobIdx int) error {
			startIdx := (jobIdx * len(chroms)) / parallelism
			endIdx := ((jobIdx + 1) * len(chroms)) / parallelism
			for c := startIdx; c < endIdx; c++ {
				if err := ctx.Err(); err != nil {
					return err
				}
				cs := chroms[c]
				rank, _ := ord.Rank(cs.chrom)
				rng := rand.New(rand.NewSource(s.opts.Seed + int64(rank)))
				cs.bps = s.segmentSeries(cs.x, cs.w, 0, len(cs.x), rng, nil)
				cs.sd = util.DiffSD(cs.x)
				log.Debug.Printf("cbs: %s: %d change points in %d values", cs.chrom, len(cs.bps), len(cs.x))
			}
			return nil
		})
		if err != nil {
			return Result{}, err
		}
	}

	undo := s.opts.UndoSD
	if undo < 0 {
		undo = AutoUndoStrength(logRatio, s.opts.MinLogRSdev)
		log.Printf("cbs: selected undo.SD %.3g", undo)
	}
	res := Result{}
	for {
		res.UndoSD = undo
		res.Segments = res.Segments[:0]
		for _, cs := range chroms {
			bps := undoChanges(cs.x, cs.w, cs.bps, undo, cs.sd)
			res.Segments = append(res.Segments, cs.segments(targets, bps)...)
		}
		if len(res.Segments) <= s.opts.MaxSegments {
			break
		}
		if res.Retries >= s.opts.MaxRetries || undo <= 0 {
			log.Printf("cbs: %d segments exceed the maximum of %d; keeping them (undo.SD %.3g)",
				len(res.Segments), s.opts.MaxSegments, undo)
			break
		}
		undo *= s.opts.UndoGrowth
		res.Retries++
		log.Printf("cbs: %d segments exceed the maximum of %d; retrying with undo.SD %.3g",
			len(res.Segments), s.opts.MaxSegments, undo)
	}
	log.Printf("cbs: %d segments on %d chromosomes", len(res.Segments), len(chroms))
	return res, nil
}

// splitChroms groups the targets into per-chromosome series.  Chromosomes
// without any usable value are dropped.
func (s *Segmenter) splitChroms(targets []Target, logRatio []float64) []*chromSeries {
	var out []*chromSeries
	for from := 0; from < len(targets); {
		to := from + 1
		for to < len(targets) && targets[to].Chrom == targets[from].Chrom {
			to++
		}
		cs := &chromSeries{chrom: targets[from].Chrom, from: from, to: to}
		for i := from; i < to; i++ {
			if !util.IsFinite(logRatio[i]) {
				continue
			}
			w := 1.0
			if s.opts.Weighted {
				if w = targets[i].Weight; !(w > 0) || math.IsInf(w, 0) {
					continue
				}
			}
			cs.idx = append(cs.idx, i)
			cs.x = append(cs.x, logRatio[i])
			cs.w = append(cs.w, w)
		}
		if len(cs.x) == 0 {
			log.Printf("cbs: %s has no usable log-ratios; skipping", cs.chrom)
		} else {
			out = append(out, cs)
		}
		from = to
	}
	return out
}

// segments turns change points into segments.  Each segment spans from its
// first usable target up to the target before the next segment's first
// usable target; the first and last segments extend to the chromosome ends.
func (cs *chromSeries) segments(targets []Target, bps []breakpoint) []Segment {
	segs := make([]Segment, 0, len(bps)+1)
	start := 0
	for k := 0; k <= len(bps); k++ {
		end, p := len(cs.x), math.NaN()
		if k < len(bps) {
			end, p = bps[k].end, bps[k].pValue
		}
		first, last := cs.from, cs.to-1
		if k > 0 {
			first = cs.idx[start]
		}
		if k < len(bps) {
			last = cs.idx[end] - 1
		}
		var wsum float64
		for i := first; i <= last; i++ {
			wsum += targets[i].Weight
		}
		segs = append(segs, Segment{
			Interval:    interval.Interval{Chrom: cs.chrom, Start: targets[first].Start, End: targets[last].End},
			Mean:        weightedMean(cs.x[start:end], cs.w[start:end]),
			NumMark:     last - first + 1,
			Size:        end - start,
			Weight:      wsum / float64(last-first+1),
			ClusterID:   NoCluster,
			PValue:      p,
			FirstTarget: first,
			LastTarget:  last,
		})
		start = end
	}
	return segs
}
