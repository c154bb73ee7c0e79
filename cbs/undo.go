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
	"math"

	"github.com/grailbio/cnv/util"
)

const (
	// fakeDelta and fakeFraction detect log-ratios that come from a supplied
	// segmentation rather than from coverage: most consecutive differences
	// are essentially zero.  This is a heuristic.
	fakeDelta    = 1e-4
	fakeFraction = 0.9
)

// undoBands scale the undo strength by the dispersion band of the data.
var undoBands = [4]float64{0.5, 0.75, 1.0, 1.25}

// IsFake reports whether more than 90% of the consecutive differences of the
// finite values of x are below 1e-4 in magnitude.
func IsFake(x []float64) bool {
	f := util.Finite(x)
	if len(f) < 2 {
		return false
	}
	small := 0
	for i := 1; i < len(f); i++ {
		if math.Abs(f[i]-f[i-1]) < fakeDelta {
			small++
		}
	}
	return float64(small) > fakeFraction*float64(len(f)-1)
}

// AutoUndoStrength derives the undo strength from the log-ratios of all targets.
// Fake data gets 0 so that every supplied break is kept.  Otherwise the
// strength is the dispersion-band factor times MinLogRSdev over the noise
// estimate, rounded to one decimal and clamped to [1, 2].
func AutoUndoStrength(x []float64, minLogRSdev float64) float64 {
	if IsFake(x) {
		return 0
	}
	mult := 2.0
	if sd := util.DiffSD(x); sd > 0 {
		mult = util.Clamp(util.Round(minLogRSdev/sd, 1), 1, 2)
	}
	return undoBands[util.DispersionBand(x)] * mult
}

// undoChanges removes breakpoints from bps, smallest mean difference first,
// while the difference between the neighboring segments is below
// undoSD * sd.  bps are the change points of x in increasing order; the
// series end is implicit.
func undoChanges(x, w []float64, bps []breakpoint, undoSD, sd float64) []breakpoint {
	if undoSD <= 0 || len(bps) == 0 {
		return bps
	}
	limit := undoSD * sd
	out := append([]breakpoint(nil), bps...)
	for len(out) > 0 {
		means := pieceMeans(x, w, out)
		best, bestDiff := -1, math.Inf(1)
		for k := range out {
			if d := math.Abs(means[k+1] - means[k]); d < bestDiff {
				best, bestDiff = k, d
			}
		}
		if !(bestDiff < limit) {
			break
		}
		out = append(out[:best], out[best+1:]...)
	}
	return out
}

// pieceMeans returns the weighted means of the len(bps)+1 pieces of x.
func pieceMeans(x, w []float64, bps []breakpoint) []float64 {
	means := make([]float64, 0, len(bps)+1)
	start := 0
	for k := 0; k <= len(bps); k++ {
		end := len(x)
		if k < len(bps) {
			end = bps[k].end
		}
		means = append(means, weightedMean(x[start:end], w[start:end]))
		start = end
	}
	return means
}

func weightedMean(x, w []float64) float64 {
	var s, tw float64
	for i := range x {
		s += w[i] * x[i]
		tw += w[i]
	}
	if tw <= 0 {
		return math.NaN()
	}
	return s / tw
}
