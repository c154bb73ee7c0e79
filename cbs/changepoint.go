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
	"math/rand"

	"github.com/grailbio/cnv/util"
)

// arc is a candidate change: the values in [i, j) form the arc and the rest of
// the series its complement.
type arc struct {
	i, j int
	z    float64
}

// arcScale fills the prefix sums cs and cw of x and w, and returns the
// weighted mean and the variance the arc statistic is scaled by.  ok is false
// when the series has no weight or no spread.
func arcScale(x, w, cs, cw []float64) (m, v float64, ok bool) {
	n := len(x)
	cs[0], cw[0] = 0, 0
	for k := 0; k < n; k++ {
		cs[k+1] = cs[k] + w[k]*x[k]
		cw[k+1] = cw[k] + w[k]
	}
	tw := cw[n]
	if tw <= 0 {
		return 0, 0, false
	}
	m = cs[n] / tw
	var ss float64
	for k := 0; k < n; k++ {
		d := x[k] - m
		ss += w[k] * d * d
	}
	// Weighted variance of the whole series; the arc statistic is scaled by
	// it so that permutations share the denominator.
	v = ss * float64(n) / (tw * float64(n-1))
	return m, v, v > 0
}

// maxArc returns the arc maximizing the squared standardized difference
// between the weighted means of the arc and its complement.  Every nonempty
// piece the arc would split the series into has at least minWidth values.
// It returns z = 0 when no arc qualifies.
func maxArc(x, w []float64, minWidth int, cs, cw []float64) arc {
	n := len(x)
	m, v, ok := arcScale(x, w, cs, cw)
	if !ok {
		return arc{}
	}
	tw := cw[n]
	best := arc{}
	for i := 0; i < n; i++ {
		if i > 0 && i < minWidth {
			continue
		}
		for j := i + minWidth; j <= n; j++ {
			if j < n && n-j < minWidth {
				continue
			}
			if i == 0 && j == n {
				continue
			}
			wa := cw[j] - cw[i]
			wb := tw - wa
			if wa <= 0 || wb <= 0 {
				continue
			}
			d := (cs[j] - cs[i]) - wa*m
			z := d * d * tw / (wa * wb * v)
			if z > best.z {
				best = arc{i: i, j: j, z: z}
			}
		}
	}
	return best
}

// maxShortArc returns the largest arc statistic of x over the circular arcs
// of minWidth to kmax values.  An arc and its complement share a statistic,
// so this also covers arcs of at least n-kmax values.
func maxShortArc(x, w []float64, minWidth, kmax int, cs, cw []float64) float64 {
	n := len(x)
	m, v, ok := arcScale(x, w, cs, cw)
	if !ok {
		return 0
	}
	tw := cw[n]
	var best float64
	for i := 0; i < n; i++ {
		for l := minWidth; l <= kmax && l <= n-minWidth; l++ {
			j := i + l
			var sa, wa float64
			if j <= n {
				sa, wa = cs[j]-cs[i], cw[j]-cw[i]
			} else {
				sa, wa = cs[n]-cs[i]+cs[j-n], cw[n]-cw[i]+cw[j-n]
			}
			wb := tw - wa
			if wa <= 0 || wb <= 0 {
				continue
			}
			d := sa - wa*m
			if z := d * d * tw / (wa * wb * v); z > best {
				best = z
			}
		}
	}
	return best
}

// change is a tested arc with its p-value.
type change struct {
	arc
	pValue float64
}

// testArc finds the best arc of x and tests it.  ok is false when no arc
// qualifies or the arc is not significant.
func (s *Segmenter) testArc(x, w []float64, rng *rand.Rand) (c change, ok bool) {
	n := len(x)
	if n < 2*s.opts.MinWidth {
		return change{}, false
	}
	cs := make([]float64, n+1)
	cw := make([]float64, n+1)
	obs := maxArc(x, w, s.opts.MinWidth, cs, cw)
	if obs.z <= 0 {
		return change{}, false
	}
	// Bonferroni bound over the n(n-1)/2 arcs of a two-sided test.
	bonf := float64(n) * float64(n-1) * util.NormalUpperTail(math.Sqrt(obs.z))
	if bonf < s.opts.Alpha {
		return change{arc: obs, pValue: bonf}, true
	}

	if s.hybrid(n) {
		return s.testArcHybrid(x, w, obs, rng, cs, cw)
	}

	px, pw := append([]float64(nil), x...), append([]float64(nil), w...)
	exceed, done := 0, 0
	for done < s.bdry.NPerm {
		shuffle(rng, px, pw)
		done++
		if maxArc(px, pw, s.opts.MinWidth, cs, cw).z >= obs.z {
			exceed++
		}
		if s.bdry.stop(done, exceed) {
			return change{}, false
		}
	}
	p := float64(exceed) / float64(done)
	if p > s.opts.Alpha {
		return change{}, false
	}
	return change{arc: obs, pValue: p}, true
}

// hybrid reports whether a series of n values is tested with the tail
// approximation for its long arcs.
func (s *Segmenter) hybrid(n int) bool {
	return s.opts.NMin > 0 && n > s.opts.NMin && 2*(s.opts.KMax+1) < n
}

// testArcHybrid tests the observed arc of a long series.  The p-value is the
// tail approximation over arcs longer than KMax plus a permutation p-value
// over the shorter arcs, which are cheap to scan.
func (s *Segmenter) testArcHybrid(x, w []float64, obs arc, rng *rand.Rand, cs, cw []float64) (change, bool) {
	n := len(x)
	b := math.Sqrt(obs.z)
	long := tailProb(b, float64(s.opts.KMax+1)/float64(n), n)
	if long > s.opts.Alpha {
		return change{}, false
	}
	if bonf := long + 2*float64(n)*float64(s.opts.KMax)*util.NormalUpperTail(b); bonf < s.opts.Alpha {
		return change{arc: obs, pValue: bonf}, true
	}
	px, pw := append([]float64(nil), x...), append([]float64(nil), w...)
	exceed, done := 0, 0
	for done < s.bdry.NPerm {
		shuffle(rng, px, pw)
		done++
		if maxShortArc(px, pw, s.opts.MinWidth, s.opts.KMax, cs, cw) >= obs.z {
			exceed++
		}
		if s.bdry.stop(done, exceed) {
			return change{}, false
		}
	}
	p := long + float64(exceed)/float64(done)
	if p > s.opts.Alpha {
		return change{}, false
	}
	return change{arc: obs, pValue: p}, true
}

// shuffle permutes x and w together.
func shuffle(rng *rand.Rand, x, w []float64) {
	rng.Shuffle(len(x), func(a, b int) {
		x[a], x[b] = x[b], x[a]
		w[a], w[b] = w[b], w[a]
	})
}

// breakpoint ends a segment: end is one past the segment's last value, and
// pValue is the p-value of the change that created it.
type breakpoint struct {
	end    int
	pValue float64
}

// segmentSeries recursively splits x[from:to] and appends the change points
// found, in increasing order, to bps.  The end of the series itself is not
// included.
func (s *Segmenter) segmentSeries(x, w []float64, from, to int, rng *rand.Rand, bps []breakpoint) []breakpoint {
	c, ok := s.testArc(x[from:to], w[from:to], rng)
	if !ok {
		return bps
	}
	cuts := make([]breakpoint, 0, 2)
	if c.i > 0 {
		cuts = append(cuts, breakpoint{end: from + c.i, pValue: c.pValue})
	}
	if c.j < to-from {
		cuts = append(cuts, breakpoint{end: from + c.j, pValue: c.pValue})
	}
	start := from
	for _, cut := range cuts {
		bps = s.segmentSeries(x, w, start, cut.end, rng, bps)
		bps = append(bps, cut)
		start = cut.end
	}
	return s.segmentSeries(x, w, start, to, rng, bps)
}
