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

// Package hqsnp selects high-quality germline SNP sites from a mapping-bias
// table: sites that are close to unbiased, supported by enough panel samples
// and, by default, not triallelic.
package hqsnp

import (
	"fmt"
	"math"
	"sort"

	"github.com/grailbio/base/errors"
	"github.com/grailbio/base/log"
	"github.com/grailbio/cnv/encoding/vcf"
	"github.com/grailbio/cnv/interval"
	"github.com/grailbio/cnv/mappingbias"
)

// Opts controls site selection.
type Opts struct {
	// MaxBias is the largest accepted |bias-1|.
	MaxBias float64 `yaml:"max_bias"`
	// MinPon is the smallest accepted number of informative panel samples.
	MinPon int `yaml:"min_pon"`
	// AllowTriallelic keeps sites that share a position with another site.
	AllowTriallelic bool `yaml:"allow_triallelic"`
}

// DefaultOpts are the standard selection options.
var DefaultOpts = Opts{
	MaxBias: 0.2,
	MinPon:  2,
}

// Validate checks that opts is usable.
func (o *Opts) Validate() error {
	if !(o.MaxBias >= 0) {
		return errors.E(errors.Invalid, fmt.Sprintf("hqsnp: max_bias must be non-negative, got %v", o.MaxBias))
	}
	if o.MinPon < 0 {
		return errors.E(errors.Invalid, fmt.Sprintf("hqsnp: min_pon must be non-negative, got %d", o.MinPon))
	}
	return nil
}

// Passes reports whether r satisfies opts.
func (o *Opts) Passes(r *mappingbias.Record) bool {
	return math.Abs(r.Bias-1) <= o.MaxBias && r.PonCount >= o.MinPon && (o.AllowTriallelic || !r.Triallelic)
}

// Select returns the records that pass opts, in input order.
func Select(records []mappingbias.Record, opts Opts) ([]mappingbias.Record, error) {
	if err := opts.Validate(); err != nil {
		return nil, err
	}
	var out []mappingbias.Record
	for i := range records {
		if opts.Passes(&records[i]) {
			out = append(out, records[i])
		}
	}
	log.Printf("hqsnp: %d of %d sites pass (max_bias %v, min_pon %d)", len(out), len(records), opts.MaxBias, opts.MinPon)
	return out, nil
}

// SelectVCF returns the records of external whose reference span equals a
// passing site, in their original order.  When the two sources use
// different chromosome naming ("chr1" versus "1"), the sites are renamed to
// the convention of external first.  external need not be sorted.
func SelectVCF(records []mappingbias.Record, external []*vcf.Record, opts Opts) ([]*vcf.Record, error) {
	pass, err := Select(records, opts)
	if err != nil {
		return nil, err
	}
	extNames := make([]string, len(external))
	for i, r := range external {
		extNames[i] = r.Chrom
	}
	withChr := interval.UsesChrPrefix(extNames)
	ord := interval.NewChromOrder(extNames)

	sites := make([]interval.Interval, 0, len(pass))
	for _, r := range pass {
		iv := r.Interval
		iv.Chrom = interval.Restyle(iv.Chrom, withChr)
		if _, ok := ord.Rank(iv.Chrom); ok {
			sites = append(sites, iv)
		}
	}
	interval.Sort(sites, ord)

	perm := make([]int, len(external))
	for i := range perm {
		perm[i] = i
	}
	extIvs := make([]interval.Interval, len(external))
	for i, r := range external {
		extIvs[i] = r.Interval()
	}
	sort.SliceStable(perm, func(i, j int) bool { return ord.Less(extIvs[perm[i]], extIvs[perm[j]]) })
	sorted := make([]interval.Interval, len(perm))
	for i, k := range perm {
		sorted[i] = extIvs[k]
	}
	hits, err := interval.EqualJoin(sorted, sites, ord)
	if err != nil {
		return nil, err
	}
	keep := make([]bool, len(external))
	for i, h := range hits {
		if len(h) > 0 {
			keep[perm[i]] = true
		}
	}
	var out []*vcf.Record
	for i, r := range external {
		if keep[i] {
			out = append(out, r)
		}
	}
	log.Printf("hqsnp: %d of %d external records match a passing site", len(out), len(external))
	return out, nil
}
