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

	"github.com/grailbio/base/log"
	"github.com/grailbio/cnv/cbs"
	"github.com/grailbio/cnv/encoding/vcf"
	"github.com/grailbio/cnv/interval"
	"github.com/grailbio/cnv/util"
)

// dosage returns the depth-weighted mean reflected allele fraction of vars.
func dosage(vars []vcf.VariantAllele) float64 {
	var s, d float64
	for _, v := range vars {
		s += float64(v.Depth) * v.Reflected()
		d += float64(v.Depth)
	}
	if d == 0 {
		return util.Median(reflected(vars))
	}
	return s / d
}

// ClusterHeight returns the clustering height used when opts.HclustHeight is
// not positive: 0.1, 0.15, 0.2 or 0.25 by the dispersion band of logRatio.
func ClusterHeight(logRatio []float64, opts Opts) float64 {
	if opts.HclustHeight > 0 {
		return opts.HclustHeight
	}
	return heightBands[util.DispersionBand(logRatio)]
}

// PruneByHclust clusters segments genome-wide by (log-ratio mean, dosage) and
// merges adjacent segments of the same cluster.
//
// Only segments overlapping at least HclustMinVariants variants take part.
// Members of clusters with two or more segments get the cluster's mean
// log-ratio, weighted by variant count, and a shared ClusterID; other
// segments keep their mean and get cbs.NoCluster.  Passes repeat until the
// segment count stops changing or HclustIterations passes have run.
func PruneByHclust(ctx context.Context, in Input, opts Opts) ([]cbs.Segment, error) {
	if err := in.validate(); err != nil {
		return nil, err
	}
	h := ClusterHeight(in.LogRatio, opts)
	segs := in.Segments
	for iter := 0; iter < opts.HclustIterations; iter++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		next, err := clusterPass(segs, in.Variants, in.Order, opts.HclustMethod, h, opts.HclustMinVariants)
		if err != nil {
			return nil, err
		}
		log.Debug.Printf("refine: clustering pass %d: %d -> %d segments (height %.2f)", iter+1, len(segs), len(next), h)
		changed := len(next) != len(segs)
		segs = next
		if !changed {
			break
		}
	}
	return segs, nil
}

func clusterPass(segs []cbs.Segment, variants []vcf.VariantAllele, ord interval.ChromOrder, method string, h float64, minVariants int) ([]cbs.Segment, error) {
	vars, err := segmentVariants(segs, variants, ord)
	if err != nil {
		return nil, err
	}
	var (
		members []int
		points  [][2]float64
	)
	for i := range segs {
		if len(vars[i]) >= minVariants {
			members = append(members, i)
			points = append(points, [2]float64{segs[i].Mean, dosage(vars[i])})
		}
	}
	out := append([]cbs.Segment(nil), segs...)
	for i := range out {
		out[i].ClusterID = cbs.NoCluster
	}
	if len(points) > 1 {
		labels, err := cutTree(points, method, h)
		if err != nil {
			return nil, err
		}
		size := map[int]int{}
		sum := map[int]float64{}
		nvar := map[int]float64{}
		for m, l := range labels {
			i := members[m]
			size[l]++
			sum[l] += segs[i].Mean * float64(len(vars[i]))
			nvar[l] += float64(len(vars[i]))
		}
		// Multi-member clusters are numbered from 1 in order of first
		// appearance.
		ids := map[int]int{}
		for m, l := range labels {
			if size[l] < 2 {
				continue
			}
			id, ok := ids[l]
			if !ok {
				id = len(ids) + 1
				ids[l] = id
			}
			i := members[m]
			out[i].ClusterID = id
			out[i].Mean = sum[l] / nvar[l]
		}
	}

	keys := make([]int, len(out))
	for i, s := range out {
		keys[i] = s.ClusterID
		if s.ClusterID == cbs.NoCluster {
			// Unclustered segments never merge.
			keys[i] = -2 - i
		}
	}
	runs := interval.MergeRuns(segmentIntervals(out), keys)
	merged := make([]cbs.Segment, len(runs))
	for r, run := range runs {
		m := out[run.From]
		for i := run.From + 1; i <= run.To; i++ {
			mean := m.Mean
			m = mergeSegments(m, out[i])
			m.Mean = mean
		}
		merged[r] = m
	}
	return merged, nil
}
