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

package vcf

import (
	"context"
	"math"

	"github.com/grailbio/base/errors"
	"github.com/grailbio/cnv/interval"
)

// VariantAllele is the allele fraction of a germline variant in one sample.
type VariantAllele struct {
	interval.Interval
	// AltFraction is the fraction of reads supporting the first ALT allele.
	AltFraction float64
	// Depth is the read depth the fraction was computed from.
	Depth int
}

// Reflected folds the alt fraction around 0.5, so heterozygous variants with
// either allele imbalance compare equal.
func (v VariantAllele) Reflected() float64 {
	return 0.5 - math.Abs(0.5-v.AltFraction)
}

// AlleleFraction extracts the first-ALT allele fraction and depth of one
// sample from rec.  AD is preferred; the AF or FA FORMAT fields together with
// DP are used when AD is absent.
func AlleleFraction(rec *Record, sample int) (float64, int, bool) {
	if len(rec.Alt) == 0 {
		return 0, 0, false
	}
	if ad, ok := rec.AD(sample); ok && len(ad) >= 2 && ad[0] >= 0 && ad[1] >= 0 {
		total := 0
		for _, c := range ad {
			if c > 0 {
				total += c
			}
		}
		if total == 0 {
			return 0, 0, false
		}
		return float64(ad[1]) / float64(total), total, true
	}
	dp, ok := rec.FloatField(sample, "DP")
	if !ok || dp <= 0 {
		return 0, 0, false
	}
	for _, key := range []string{"AF", "FA"} {
		if af, ok := rec.FloatField(sample, key); ok && af >= 0 && af <= 1 {
			return af, int(dp), true
		}
	}
	return 0, 0, false
}

// Alleles converts the SNV records of recs into allele fractions for one
// sample, dropping records below minDepth.
func Alleles(recs []*Record, sample, minDepth int) []VariantAllele {
	var out []VariantAllele
	for _, rec := range recs {
		if !rec.IsSNV() {
			continue
		}
		af, depth, ok := AlleleFraction(rec, sample)
		if !ok || depth < minDepth {
			continue
		}
		out = append(out, VariantAllele{Interval: rec.Interval(), AltFraction: af, Depth: depth})
	}
	return out
}

// ReadAlleles reads the allele fractions of the named sample from the VCF at
// path.  An empty sample name selects the first sample column.
func ReadAlleles(ctx context.Context, path, sample string, minDepth int) ([]VariantAllele, error) {
	h, recs, err := ReadAll(ctx, path)
	if err != nil {
		return nil, err
	}
	if len(h.Samples) == 0 {
		return nil, errors.E(errors.Invalid, "vcf: no sample columns", path)
	}
	idx := 0
	if sample != "" {
		if idx, err = h.SampleIndex(sample); err != nil {
			return nil, errors.E(errors.Invalid, err, path)
		}
	}
	return Alleles(recs, idx, minDepth), nil
}
