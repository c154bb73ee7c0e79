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
	"github.com/grailbio/base/log"
)

// ebPrior holds empirical-Bayes pseudo-counts added to every site's totals.
type ebPrior struct {
	alt, ref float64
}

// empiricalBayesPrior averages the per-sample (alt, ref) counts of the clean
// sites, those whose mean informative alt fraction exceeds cleanFraction.
// The prior is zero when fewer than two sites are clean.
func empiricalBayesPrior(counts []siteCounts, cleanFraction float64) ebPrior {
	var (
		p      ebPrior
		nClean int
	)
	for _, c := range counts {
		if len(c.alt) == 0 {
			continue
		}
		var frac, alt, ref float64
		for j := range c.alt {
			frac += float64(c.alt[j]) / float64(c.alt[j]+c.ref[j])
			alt += float64(c.alt[j])
			ref += float64(c.ref[j])
		}
		n := float64(len(c.alt))
		if frac/n <= cleanFraction {
			continue
		}
		p.alt += alt / n
		p.ref += ref / n
		nClean++
	}
	if nClean < 2 {
		log.Printf("mappingbias: only %d clean sites; empirical-Bayes prior is zero", nClean)
		return ebPrior{}
	}
	p.alt /= float64(nClean)
	p.ref /= float64(nClean)
	return p
}

// ratio returns the shrunken alt fraction of a site.  Sites with no counts
// and no prior are treated as unbiased.
func (p ebPrior) ratio(c siteCounts) float64 {
	alt, total := p.alt, p.alt+p.ref
	for j := range c.alt {
		alt += float64(c.alt[j])
		total += float64(c.alt[j] + c.ref[j])
	}
	if total == 0 {
		return 0.5
	}
	return alt / total
}
