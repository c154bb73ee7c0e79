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

// Package util contains small numeric helpers shared by the segmentation and
// mapping-bias packages.
package util

import (
	"math"
	"sort"

	"gonum.org/v1/gonum/stat"
	"gonum.org/v1/gonum/stat/distuv"
)

// madScale converts a median absolute deviation into a consistent estimate of
// the standard deviation of normally distributed data.
const madScale = 1.4826

// Finite returns the finite elements of x, in order.
func Finite(x []float64) []float64 {
	out := make([]float64, 0, len(x))
	for _, v := range x {
		if !math.IsNaN(v) && !math.IsInf(v, 0) {
			out = append(out, v)
		}
	}
	return out
}

// IsFinite reports whether v is neither NaN nor infinite.
func IsFinite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}

// Median returns the median of x, or NaN if x is empty.  x is not modified.
func Median(x []float64) float64 {
	n := len(x)
	if n == 0 {
		return math.NaN()
	}
	s := append([]float64(nil), x...)
	sort.Float64s(s)
	if n%2 == 1 {
		return s[n/2]
	}
	return (s[n/2-1] + s[n/2]) / 2
}

// MedianInt returns the median of an integer slice as a float.
func MedianInt(x []int) float64 {
	f := make([]float64, len(x))
	for i, v := range x {
		f[i] = float64(v)
	}
	return Median(f)
}

// MAD returns the scaled median absolute deviation of x around its median.
func MAD(x []float64) float64 {
	if len(x) == 0 {
		return math.NaN()
	}
	m := Median(x)
	dev := make([]float64, len(x))
	for i, v := range x {
		dev[i] = math.Abs(v - m)
	}
	return madScale * Median(dev)
}

// DiffSD estimates the noise standard deviation of a piecewise-constant
// series from the MAD of its first differences.  Level shifts affect only a
// few differences, so the estimate is insensitive to them.  Non-finite values
// are skipped.  Returns 0 when fewer than two finite values exist.
func DiffSD(x []float64) float64 {
	f := Finite(x)
	if len(f) < 2 {
		return 0
	}
	d := make([]float64, len(f)-1)
	for i := range d {
		d[i] = f[i+1] - f[i]
	}
	return MAD(d) / math.Sqrt2
}

// Quantiles returns the empirical quantiles of the finite values of x at the
// given probabilities.  All results are NaN if x has no finite values.
func Quantiles(x []float64, ps ...float64) []float64 {
	f := Finite(x)
	out := make([]float64, len(ps))
	if len(f) == 0 {
		for i := range out {
			out[i] = math.NaN()
		}
		return out
	}
	sort.Float64s(f)
	for i, p := range ps {
		out[i] = stat.Quantile(p, stat.Empirical, f, nil)
	}
	return out
}

// DispersionBand classifies the spread between the 10% and 90% quantiles of
// the finite values of x into one of four bands: 0 for a spread below 0.5, 1
// below 1, 2 below 1.5 and 3 otherwise.
func DispersionBand(x []float64) int {
	q := Quantiles(x, 0.1, 0.9)
	spread := q[1] - q[0]
	switch {
	case math.IsNaN(spread) || spread < 0.5:
		return 0
	case spread < 1:
		return 1
	case spread < 1.5:
		return 2
	default:
		return 3
	}
}

// Round rounds x to the given number of decimal digits.
func Round(x float64, digits int) float64 {
	p := math.Pow(10, float64(digits))
	return math.Round(x*p) / p
}

// Clamp limits x to [lo, hi].
func Clamp(x, lo, hi float64) float64 {
	if x < lo {
		return lo
	}
	if x > hi {
		return hi
	}
	return x
}

// WelchTTest returns the two-sided p-value of Welch's unequal-variance t-test
// comparing the means of x and y.
//
// NaN is returned when either sample has fewer than two values.  When both
// samples have zero variance the result is 1 if the means are equal and 0
// otherwise.
func WelchTTest(x, y []float64) float64 {
	nx, ny := float64(len(x)), float64(len(y))
	if len(x) < 2 || len(y) < 2 {
		return math.NaN()
	}
	mx, vx := stat.MeanVariance(x, nil)
	my, vy := stat.MeanVariance(y, nil)
	sx, sy := vx/nx, vy/ny
	se2 := sx + sy
	if se2 == 0 {
		if mx == my {
			return 1
		}
		return 0
	}
	t := (mx - my) / math.Sqrt(se2)
	df := se2 * se2 / (sx*sx/(nx-1) + sy*sy/(ny-1))
	dist := distuv.StudentsT{Mu: 0, Sigma: 1, Nu: df}
	return 2 * dist.CDF(-math.Abs(t))
}

// NormalUpperTail returns P(Z > z) for a standard normal Z.
func NormalUpperTail(z float64) float64 {
	return 0.5 * math.Erfc(z/math.Sqrt2)
}
