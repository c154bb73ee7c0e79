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

// Package betabinom fits beta-binomial models to per-site allele counts
// observed across a panel of normal samples.
//
// The distribution is parameterized by its mean mu and overdispersion rho,
// which map onto the usual shape parameters as
//   a = mu * (1 - rho) / rho
//   b = (1 - mu) * (1 - rho) / rho
package betabinom

import (
	"fmt"
	"math"

	"github.com/grailbio/cnv/util"
	"gonum.org/v1/gonum/mathext"
	"gonum.org/v1/gonum/optimize"
)

// Informative alt-allele fractions lie strictly within these bounds.
const (
	MinInformativeFraction = 0.05
	MaxInformativeFraction = 0.9
)

// Opts controls site fitting.
type Opts struct {
	// MinNormals is the smallest number of informative samples a site must
	// have to be fit.
	MinNormals int `yaml:"min_normals_betafit"`
	// MinMedianCoverage is the smallest acceptable median total depth of the
	// informative samples.
	MinMedianCoverage float64 `yaml:"min_median_coverage_betafit"`
	// MinRho and MaxRho bound the reported overdispersion.
	MinRho float64 `yaml:"min_betafit_rho"`
	MaxRho float64 `yaml:"max_betafit_rho"`
}

// DefaultOpts are the standard fitting options.
var DefaultOpts = Opts{
	MinNormals:        7,
	MinMedianCoverage: 5,
	MinRho:            1e-4,
	MaxRho:            0.2,
}

// Validate checks that opts is usable.
func (o Opts) Validate() error {
	if o.MinNormals < 1 {
		return fmt.Errorf("betabinom: MinNormals must be positive, got %d", o.MinNormals)
	}
	if !(o.MinRho > 0 && o.MinRho < o.MaxRho && o.MaxRho < 1) {
		return fmt.Errorf("betabinom: need 0 < MinRho < MaxRho < 1, got [%v, %v]", o.MinRho, o.MaxRho)
	}
	return nil
}

// Status describes the outcome of FitSite.
type Status int

const (
	// OK means the returned fit is valid.
	OK Status = iota
	// Insufficient means the site has too few samples or too little depth.
	Insufficient
	// Failed means the optimizer did not produce a usable fit.
	Failed
)

func (s Status) String() string {
	switch s {
	case OK:
		return "ok"
	case Insufficient:
		return "insufficient"
	case Failed:
		return "failed"
	}
	return fmt.Sprintf("Status(%d)", int(s))
}

// Fit holds an estimated mean and overdispersion.
type Fit struct {
	Mu, Rho float64
}

// Informative reports whether a sample with the given counts contributes to
// fitting: both counts present and an alt fraction inside the informative
// bounds.  Negative counts denote missing data.
func Informative(alt, ref int) bool {
	if alt < 0 || ref < 0 || alt+ref == 0 {
		return false
	}
	f := float64(alt) / float64(alt+ref)
	return f > MinInformativeFraction && f < MaxInformativeFraction
}

// Shape converts (mu, rho) into beta shape parameters.
func Shape(mu, rho float64) (a, b float64) {
	s := (1 - rho) / rho
	return mu * s, (1 - mu) * s
}

// logChoose returns log(n choose k).
func logChoose(n, k int) float64 {
	return -math.Log(float64(n+1)) - mathext.Lbeta(float64(n-k+1), float64(k+1))
}

// LogPMF returns the log probability of observing alt alternate reads out of
// alt+ref under the beta-binomial (mu, rho).
func LogPMF(alt, ref int, mu, rho float64) float64 {
	a, b := Shape(mu, rho)
	n := alt + ref
	return logChoose(n, alt) + mathext.Lbeta(float64(alt)+a, float64(ref)+b) - mathext.Lbeta(a, b)
}

// LogLikelihood sums LogPMF over paired count vectors.
func LogLikelihood(alt, ref []int, mu, rho float64) float64 {
	ll := 0.0
	for i := range alt {
		ll += LogPMF(alt[i], ref[i], mu, rho)
	}
	return ll
}

// Moments returns method-of-moments estimates of (mu, rho) for the given
// counts.  rho is not clamped and may be negative for underdispersed data.
func Moments(alt, ref []int) (mu, rho float64) {
	var sumAlt, sumN, sumN1 float64
	for i := range alt {
		sumAlt += float64(alt[i])
		n := float64(alt[i] + ref[i])
		sumN += n
		sumN1 += n - 1
	}
	if sumN == 0 {
		return math.NaN(), math.NaN()
	}
	mu = sumAlt / sumN
	if mu <= 0 || mu >= 1 || sumN1 <= 0 {
		return mu, 0
	}
	s := 0.0
	for i := range alt {
		n := float64(alt[i] + ref[i])
		if n == 0 {
			continue
		}
		d := float64(alt[i])/n - mu
		s += n * d * d
	}
	rho = (s/(mu*(1-mu)) - float64(len(alt))) / sumN1
	return mu, rho
}

func logit(p float64) float64    { return math.Log(p / (1 - p)) }
func logistic(x float64) float64 { return 1 / (1 + math.Exp(-x)) }

// FitSite estimates (mu, rho) by maximum likelihood from the counts of the
// informative samples of one site.  alt and ref must contain only
// informative samples.  The returned rho is clamped to [opts.MinRho,
// opts.MaxRho].
func FitSite(alt, ref []int, opts Opts) (Fit, Status) {
	if len(alt) != len(ref) {
		panic("betabinom.FitSite: alt and ref differ in length")
	}
	if len(alt) < opts.MinNormals {
		return Fit{}, Insufficient
	}
	depth := make([]int, len(alt))
	for i := range alt {
		depth[i] = alt[i] + ref[i]
	}
	if util.MedianInt(depth) < opts.MinMedianCoverage {
		return Fit{}, Insufficient
	}

	mu0, rho0 := Moments(alt, ref)
	mu0 = util.Clamp(mu0, 1e-3, 1-1e-3)
	rho0 = util.Clamp(rho0, opts.MinRho, 0.5)

	problem := optimize.Problem{
		Func: func(x []float64) float64 {
			mu, rho := logistic(x[0]), logistic(x[1])
			if mu <= 0 || mu >= 1 || rho <= 0 || rho >= 1 {
				return math.Inf(1)
			}
			return -LogLikelihood(alt, ref, mu, rho)
		},
	}
	settings := &optimize.Settings{
		MajorIterations: 2000,
		Converger: &optimize.FunctionConverge{
			Absolute:   1e-10,
			Iterations: 50,
		},
	}
	result, err := optimize.Minimize(problem, []float64{logit(mu0), logit(rho0)}, settings, &optimize.NelderMead{})
	if result == nil || !util.IsFinite(result.F) {
		return Fit{}, Failed
	}
	if err != nil && result.Status == optimize.Failure {
		return Fit{}, Failed
	}
	fit := Fit{
		Mu:  logistic(result.X[0]),
		Rho: util.Clamp(logistic(result.X[1]), opts.MinRho, opts.MaxRho),
	}
	if !util.IsFinite(fit.Mu) || fit.Mu <= 0 || fit.Mu >= 1 {
		return Fit{}, Failed
	}
	return fit, OK
}
