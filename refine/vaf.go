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
	"github.com/grailbio/base/log"
	"github.com/grailbio/cnv/encoding/vcf"
	"github.com/grailbio/cnv/interval"
	"github.com/grailbio/cnv/mappingbias"
	"github.com/grailbio/cnv/util"
)

// AdjustVAF corrects germline allele fractions for mapping bias: a variant
// at a site of bias b gets fraction f/b, clamped to [0, 1].  A variant keeps
// its fraction when no site matches it or when its site has fewer than
// minPon panel samples, is triallelic or has a non-positive bias.  Both
// inputs must be sorted under ord.
func AdjustVAF(variants []vcf.VariantAllele, bias []mappingbias.Record, ord interval.ChromOrder, minPon int) ([]vcf.VariantAllele, error) {
	sites := make([]interval.Interval, len(bias))
	for i := range bias {
		sites[i] = bias[i].Interval
	}
	hits, err := interval.EqualJoin(variantIntervals(variants), sites, ord)
	if err != nil {
		return nil, err
	}
	out := append([]vcf.VariantAllele(nil), variants...)
	nAdjusted := 0
	for i, h := range hits {
		for _, k := range h {
			r := &bias[k]
			if r.Triallelic || r.PonCount < minPon || !(r.Bias > 0) {
				continue
			}
			out[i].AltFraction = util.Clamp(out[i].AltFraction/r.Bias, 0, 1)
			nAdjusted++
			break
		}
	}
	log.Debug.Printf("refine: adjusted %d of %d allele fractions for mapping bias", nAdjusted, len(variants))
	return out, nil
}
