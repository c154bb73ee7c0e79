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
	"math/rand"
	"sort"

	"github.com/grailbio/base/log"
	"github.com/grailbio/cnv/cbs"
)

// FlagWeights sets each segment's Weight to the mean weight of its targets
// and flags segments whose mean weight is unusually low.
//
// The null distribution for a segment of n targets is the mean weight of
// WeightFlagPermutations randomly placed runs of min(n, WeightFlagMaxRun)
// consecutive targets.  A segment is flagged when the fraction of null means
// at or below its own, (count+1)/(permutations+1), is below
// WeightFlagPValue.  Nothing changes when all targets have the same weight.
func FlagWeights(in Input, opts Opts) ([]cbs.Segment, error) {
	if err := in.validate(); err != nil {
		return nil, err
	}
	out := append([]cbs.Segment(nil), in.Segments...)
	if uniformWeights(in.Targets) {
		return out, nil
	}
	assign, err := targetAssignment(in)
	if err != nil {
		return nil, err
	}
	sum := make([]float64, len(out))
	count := make([]int, len(out))
	for t, s := range assign {
		if s >= 0 {
			sum[s] += in.Targets[t].Weight
			count[s]++
		}
	}
	weights := make([]float64, len(in.Targets))
	for i, t := range in.Targets {
		weights[i] = t.Weight
	}
	nulls := map[int][]float64{}
	nFlagged := 0
	for i := range out {
		out[i].WeightFlagged = false
		if count[i] == 0 {
			continue
		}
		obs := sum[i] / float64(count[i])
		out[i].Weight = obs
		run := count[i]
		if run > opts.WeightFlagMaxRun {
			run = opts.WeightFlagMaxRun
		}
		null, ok := nulls[run]
		if !ok {
			null = runMeans(weights, run, opts.WeightFlagPermutations, opts.Seed+int64(run))
			nulls[run] = null
		}
		below := sort.SearchFloat64s(null, obs)
		for below < len(null) && null[below] == obs {
			below++
		}
		p := float64(below+1) / float64(len(null)+1)
		if p < opts.WeightFlagPValue {
			out[i].WeightFlagged = true
			nFlagged++
		}
	}
	log.Debug.Printf("refine: flagged %d of %d segments for low target weight", nFlagged, len(out))
	return out, nil
}

func uniformWeights(targets []cbs.Target) bool {
	for i := 1; i < len(targets); i++ {
		if targets[i].Weight != targets[0].Weight {
			return false
		}
	}
	return true
}

// runMeans returns the sorted means of n randomly placed runs of length run
// over weights.
func runMeans(weights []float64, run, n int, seed int64) []float64 {
	if run > len(weights) {
		run = len(weights)
	}
	cum := make([]float64, len(weights)+1)
	for i, w := range weights {
		cum[i+1] = cum[i] + w
	}
	rng := rand.New(rand.NewSource(seed))
	means := make([]float64, n)
	for k := range means {
		s := rng.Intn(len(weights) - run + 1)
		means[k] = (cum[s+run] - cum[s]) / float64(run)
	}
	sort.Float64s(means)
	return means
}
