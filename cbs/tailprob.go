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

	"gonum.org/v1/gonum/stat/distuv"
)

// tailGrid is the number of cells used to integrate the tail probability.
const tailGrid = 100

// siegmundNu approximates Siegmund's overshoot correction nu(x).
func siegmundNu(x float64) float64 {
	if x < 1e-8 {
		return 1
	}
	h := x / 2
	return (2 / x) * (distuv.UnitNormal.CDF(h) - 0.5) /
		(h*distuv.UnitNormal.CDF(h) + distuv.UnitNormal.Prob(h))
}

// invSqCellMass returns the integral of 1/(t(1-t))^2 over [t0, t1], with
// 0 < t0 < t1 < 1.
func invSqCellMass(t0, t1 float64) float64 {
	f := func(t float64) float64 {
		return -1/t + 2*math.Log(t) + 1/(1-t) - 2*math.Log(1-t)
	}
	return f(t1) - f(t0)
}

// tailProb approximates the probability that the maximal standardized arc
// statistic of n exchangeable values exceeds b, counting only arcs whose
// length is at least delta*n and at most n/2 (or whose complement is).  The
// test is two-sided.
func tailProb(b, delta float64, n int) float64 {
	if !(delta > 0 && delta < 0.5) {
		return 0
	}
	step := (0.5 - delta) / tailGrid
	bm := b / math.Sqrt(float64(n))
	var sum float64
	for k := 0; k < tailGrid; k++ {
		t0 := delta + float64(k)*step
		t := t0 + step/2
		nu := siegmundNu(bm / math.Sqrt(t*(1-t)))
		sum += nu * nu * invSqCellMass(t0, t0+step)
	}
	p := 2 * b * b * b * distuv.UnitNormal.Prob(b) * sum / 4
	return math.Min(p, 1)
}
