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

package mappingbias

import (
	"context"
	"math"
	"runtime"
	"sync/atomic"

	"github.com/grailbio/base/log"
	"github.com/grailbio/base/traverse"
	"github.com/grailbio/cnv/betabinom"
	"github.com/grailbio/cnv/mixture"
)

// Record is the mapping-bias estimate for one site.
type Record struct {
	Site
	// Bias is the expected observed alt fraction at a true heterozygous site,
	// scaled so that 1 means unbiased.
	Bias float64
	// PonCount is the number of informative panel samples.
	PonCount int
	// Mu and Rho are the fitted or assigned beta-binomial parameters, or NaN
	// when the bias comes from the empirical-Bayes ratio.
	Mu, Rho float64
	// Clustered is set when Mu and Rho come from a mixture centroid.
	Clustered bool
	// Triallelic is set when another site shares this site's position.
	Triallelic bool
}

// Fitted reports whether the record carries beta-binomial parameters.
func (r *Record) Fitted() bool { return !math.IsNaN(r.Mu) }

// siteCounts holds the counts of the informative samples of one site.
type siteCounts struct {
	alt, ref []int
}

func informativeCounts(m *SiteAlleleMatrix) []siteCounts {
	out := make([]siteCounts, m.NumSites())
	for i := range out {
		for j := range m.Samples {
			a, r := m.AltCount[i][j], m.RefCount[i][j]
			if betabinom.Informative(a, r) {
				out[i].alt = append(out[i].alt, a)
				out[i].ref = append(out[i].ref, r)
			}
		}
	}
	return out
}

// Compute estimates mapping bias for every site of m.  The result has one
// record per site, in the same order.  Beta-binomial fitting failures are
// logged and leave the affected sites to the fallbacks.
func Compute(ctx context.Context, m *SiteAlleleMatrix, opts Opts) ([]Record, error) {
	if err := opts.Validate(); err != nil {
		return nil, err
	}
	if err := m.Validate(); err != nil {
		return nil, err
	}
	n := m.NumSites()
	counts := informativeCounts(m)
	prior := empiricalBayesPrior(counts, opts.CleanAltFraction)

	fits := make([]*betabinom.Fit, n)
	var nFailed int64
	parallelism := opts.Parallelism
	if parallelism <= 0 {
		parallelism = runtime.NumCPU()
	}
	if parallelism > n {
		parallelism = n
	}
	if n > 0 {
		err := traverse.Each(parallelism, func(jobIdx int) error {
			startIdx := (jobIdx * n) / parallelism
			endIdx := ((jobIdx + 1) * n) / parallelism
			for i := startIdx; i < endIdx; i++ {
				if i%1024 == 0 {
					if err := ctx.Err(); err != nil {
						return err
					}
				}
				fit, status := betabinom.FitSite(counts[i].alt, counts[i].ref, opts.Betafit)
				switch status {
				case betabinom.OK:
					fits[i] = &fit
				case betabinom.Failed:
					atomic.AddInt64(&nFailed, 1)
					log.Debug.Printf("mappingbias: beta-binomial fit failed at %v", m.Sites[i].Interval)
				}
			}
			return nil
		})
		if err != nil {
			return nil, err
		}
	}
	if nFailed > 0 {
		log.Error.Printf("mappingbias: beta-binomial fit failed for %d of %d sites", nFailed, n)
	}

	var points []mixture.Point
	for _, f := range fits {
		if f != nil {
			points = append(points, mixture.Point{Mu: f.Mu, Rho: f.Rho})
		}
	}
	est := siteEstimator{
		opts:       opts,
		centroids:  fitCentroids(points, opts),
		smallPanel: len(m.Samples) < opts.MinNormalsPositionSpecificFit,
	}
	recs := make([]Record, n)
	nClustered := 0
	for i := range recs {
		recs[i] = est.estimate(m.Sites[i], counts[i], fits[i], prior.ratio(counts[i]))
		if recs[i].Clustered {
			nClustered++
		}
	}
	markTriallelic(recs)
	log.Debug.Printf("mappingbias: %d sites, %d fitted, %d assigned to centroids", n, len(points), nClustered)
	return recs, nil
}

// siteEstimator chooses the parameters of each site from its own fit and the
// mixture centroids.
type siteEstimator struct {
	opts       Opts
	centroids  []mixture.Centroid
	smallPanel bool
}

// estimate returns the record of one site.  On a large panel a site uses its
// own fit.  Otherwise it takes the best mixture centroid, unless no candidate
// explains its counts or the empirical-Bayes fallback explains them best; it
// then keeps its own fit when it has one and is otherwise left unfit, with
// the bias taken from ratio.
func (e *siteEstimator) estimate(s Site, c siteCounts, fit *betabinom.Fit, ratio float64) Record {
	rec := Record{
		Site:     s,
		PonCount: len(c.alt),
		Mu:       math.NaN(),
		Rho:      math.NaN(),
	}
	if rec.PonCount >= e.opts.MinNormals {
		if fit != nil && !e.smallPanel {
			rec.Mu, rec.Rho = fit.Mu, fit.Rho
		} else if e.centroids != nil && rec.PonCount >= e.opts.MinNormalsAssignBetafit {
			k := len(e.centroids)
			cands := append(e.centroids[:k:k], ebCentroid(ratio, k, e.opts.Betafit.MaxRho))
			if j, _ := mixture.Assign(c.alt, c.ref, cands); j >= 0 && j < k {
				rec.Mu, rec.Rho = e.centroids[j].Mu, e.centroids[j].Rho
				rec.Clustered = true
			}
		}
		if !rec.Fitted() && fit != nil {
			rec.Mu, rec.Rho = fit.Mu, fit.Rho
		}
	}
	if rec.Fitted() {
		rec.Bias = 2 * rec.Mu
	} else {
		rec.Bias = 2 * ratio
	}
	return rec
}

// fitCentroids clusters the fitted sites and returns the mixture centroids,
// or nil when no mixture can be fit.
func fitCentroids(points []mixture.Point, opts Opts) []mixture.Centroid {
	if len(points) == 0 {
		return nil
	}
	model, err := mixture.Fit(points, opts.NumBetafitClusters)
	if err != nil {
		log.Debug.Printf("mappingbias: %v", err)
		return nil
	}
	return model.Centroids(opts.Betafit.MinRho, opts.Betafit.MaxRho)
}

// ebCentroid competes with the mixture centroids during assignment.  It is a
// broad distribution centered on the site's empirical-Bayes ratio, so it wins
// only for sites that no mixture component explains.
func ebCentroid(ratio float64, k int, maxRho float64) mixture.Centroid {
	return mixture.Centroid{
		Mu:       math.Min(math.Max(ratio, 1e-3), 1-1e-3),
		Rho:      maxRho,
		LogPrior: -math.Log(float64(k + 1)),
	}
}

// markTriallelic marks records sharing a position with another record.
func markTriallelic(recs []Record) {
	type pos struct {
		chrom string
		start int
	}
	n := make(map[pos]int, len(recs))
	for i := range recs {
		n[pos{recs[i].Chrom, recs[i].Start}]++
	}
	for i := range recs {
		recs[i].Triallelic = n[pos{recs[i].Chrom, recs[i].Start}] > 1
	}
}
