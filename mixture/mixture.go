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

// Package mixture clusters fitted (mu, rho) pairs with two-dimensional
// Gaussian mixtures and assigns sparsely observed sites to the resulting
// centroids by beta-binomial likelihood.
package mixture

import (
	"fmt"
	"math"
	"sort"

	"github.com/grailbio/base/log"
	"github.com/grailbio/cnv/betabinom"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat/distmv"
)

const (
	maxIterations = 200
	tolerance     = 1e-8
	// Each component needs at least this many points per free covariance
	// parameter group before the component count is considered.
	minPointsPerComponent = 3
)

// Point is one fitted site.
type Point struct {
	Mu, Rho float64
}

// Component is one Gaussian of a fitted mixture.
type Component struct {
	Weight float64
	Mean   [2]float64
	// Cov holds the covariance as (var mu, cov, var rho).
	Cov [3]float64
}

// Model is a fitted Gaussian mixture.
type Model struct {
	Components []Component
	LogLik     float64
	BIC        float64
}

// Centroid is an assignment target: a mean and overdispersion plus the log
// prior weight of choosing it.
type Centroid struct {
	Mu, Rho  float64
	LogPrior float64
}

// Fit fits mixtures with 1..maxComponents components to points and returns
// the one with the best BIC.  Component counts that the data cannot support
// are skipped.  Fit returns an error when no count can be fit.
func Fit(points []Point, maxComponents int) (*Model, error) {
	if maxComponents < 1 {
		return nil, fmt.Errorf("mixture.Fit: maxComponents must be positive, got %d", maxComponents)
	}
	var best *Model
	for k := 1; k <= maxComponents; k++ {
		if len(points) < minPointsPerComponent*k {
			break
		}
		m, err := fitK(points, k)
		if err != nil {
			log.Debug.Printf("mixture: skipping %d components: %v", k, err)
			continue
		}
		if best == nil || m.BIC > best.BIC {
			best = m
		}
	}
	if best == nil {
		return nil, fmt.Errorf("mixture.Fit: no mixture could be fit to %d points", len(points))
	}
	return best, nil
}

// regularization keeps covariances positive definite when points coincide.
func regularization(points []Point) [2]float64 {
	var x, y []float64
	for _, p := range points {
		x = append(x, p.Mu)
		y = append(y, p.Rho)
	}
	return [2]float64{1e-6*variance(x) + 1e-10, 1e-6*variance(y) + 1e-12}
}

func variance(x []float64) float64 {
	if len(x) < 2 {
		return 0
	}
	m := floats.Sum(x) / float64(len(x))
	v := 0.0
	for _, xi := range x {
		v += (xi - m) * (xi - m)
	}
	return v / float64(len(x))
}

// fitK runs EM for a k-component mixture.  Components are initialized from
// contiguous groups of the points sorted by mu, so results are deterministic.
func fitK(points []Point, k int) (*Model, error) {
	n := len(points)
	reg := regularization(points)
	order := make([]int, n)
	for i := range order {
		order[i] = i
	}
	sort.SliceStable(order, func(i, j int) bool { return points[order[i]].Mu < points[order[j]].Mu })

	resp := make([][]float64, n)
	for i := range resp {
		resp[i] = make([]float64, k)
	}
	for rank, i := range order {
		resp[i][rank*k/n] = 1
	}

	comps := make([]Component, k)
	prevLL := math.Inf(-1)
	ll := prevLL
	for iter := 0; iter < maxIterations; iter++ {
		if err := mStep(points, resp, comps, reg); err != nil {
			return nil, err
		}
		var err error
		ll, err = eStep(points, comps, resp)
		if err != nil {
			return nil, err
		}
		if math.Abs(ll-prevLL) < tolerance*(1+math.Abs(ll)) {
			break
		}
		prevLL = ll
	}
	params := float64(6*k - 1)
	return &Model{
		Components: comps,
		LogLik:     ll,
		BIC:        2*ll - params*math.Log(float64(n)),
	}, nil
}

func mStep(points []Point, resp [][]float64, comps []Component, reg [2]float64) error {
	n := float64(len(points))
	for j := range comps {
		var w, mx, my float64
		for i, p := range points {
			r := resp[i][j]
			w += r
			mx += r * p.Mu
			my += r * p.Rho
		}
		if w < 1e-10 {
			return fmt.Errorf("component %d is empty", j)
		}
		mx /= w
		my /= w
		var sxx, sxy, syy float64
		for i, p := range points {
			r := resp[i][j]
			dx, dy := p.Mu-mx, p.Rho-my
			sxx += r * dx * dx
			sxy += r * dx * dy
			syy += r * dy * dy
		}
		comps[j] = Component{
			Weight: w / n,
			Mean:   [2]float64{mx, my},
			Cov:    [3]float64{sxx/w + reg[0], sxy / w, syy/w + reg[1]},
		}
	}
	return nil
}

func (c Component) dist() (*distmv.Normal, bool) {
	sigma := mat.NewSymDense(2, []float64{c.Cov[0], c.Cov[1], c.Cov[1], c.Cov[2]})
	return distmv.NewNormal(c.Mean[:], sigma, nil)
}

// eStep updates responsibilities and returns the log likelihood.
func eStep(points []Point, comps []Component, resp [][]float64) (float64, error) {
	dists := make([]*distmv.Normal, len(comps))
	for j, c := range comps {
		d, ok := c.dist()
		if !ok {
			return 0, fmt.Errorf("component %d covariance is not positive definite", j)
		}
		dists[j] = d
	}
	ll := 0.0
	lp := make([]float64, len(comps))
	for i, p := range points {
		x := []float64{p.Mu, p.Rho}
		for j, d := range dists {
			lp[j] = math.Log(comps[j].Weight) + d.LogProb(x)
		}
		total := floats.LogSumExp(lp)
		for j := range lp {
			resp[i][j] = math.Exp(lp[j] - total)
		}
		ll += total
	}
	return ll, nil
}

// Classify returns the index of the most responsible component for p.
func (m *Model) Classify(p Point) int {
	best, bestLP := 0, math.Inf(-1)
	for j, c := range m.Components {
		d, ok := c.dist()
		if !ok {
			continue
		}
		if lp := math.Log(c.Weight) + d.LogProb([]float64{p.Mu, p.Rho}); lp > bestLP {
			best, bestLP = j, lp
		}
	}
	return best
}

// Centroids returns one assignment target per component.  Means are clamped
// into the open unit interval and rho into [minRho, maxRho].
func (m *Model) Centroids(minRho, maxRho float64) []Centroid {
	out := make([]Centroid, len(m.Components))
	for j, c := range m.Components {
		out[j] = Centroid{
			Mu:       math.Min(math.Max(c.Mean[0], 1e-3), 1-1e-3),
			Rho:      math.Min(math.Max(c.Mean[1], minRho), maxRho),
			LogPrior: math.Log(c.Weight),
		}
	}
	return out
}

// Assign returns the index of the centroid maximizing the beta-binomial log
// likelihood of the counts plus the centroid's log prior, and that score.
// It returns -1 when cands is empty.
func Assign(alt, ref []int, cands []Centroid) (int, float64) {
	best, bestScore := -1, math.Inf(-1)
	for j, c := range cands {
		score := betabinom.LogLikelihood(alt, ref, c.Mu, c.Rho) + c.LogPrior
		if score > bestScore {
			best, bestScore = j, score
		}
	}
	return best, bestScore
}
