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

	"github.com/grailbio/base/errors"
	"github.com/grailbio/cnv/encoding/vcf"
	"github.com/grailbio/cnv/interval"
)

// vcfReader expands the records of a multi-sample VCF into one site per ALT
// allele.  Counts come from each sample's AD field.
type vcfReader struct {
	f       *vcf.File
	pending []pendingSite
}

type pendingSite struct {
	site     Site
	ref, alt []int
}

// OpenVCF opens a multi-sample panel-of-normals VCF.
func OpenVCF(ctx context.Context, path string) (SiteReader, error) {
	f, err := vcf.Open(ctx, path)
	if err != nil {
		return nil, err
	}
	if len(f.Header.Samples) == 0 {
		f.Close(ctx) // nolint: errcheck
		return nil, errors.E(errors.Invalid, "mappingbias: panel VCF has no samples", path)
	}
	return &vcfReader{f: f}, nil
}

func (r *vcfReader) Samples() []string { return r.f.Header.Samples }

func (r *vcfReader) Read(ctx context.Context) (Site, []int, []int, error) {
	for len(r.pending) == 0 {
		rec, err := r.f.Read()
		if err != nil {
			return Site{}, nil, nil, err
		}
		r.pending = expandRecord(rec, len(r.f.Header.Samples))
	}
	p := r.pending[0]
	r.pending = r.pending[1:]
	return p.site, p.ref, p.alt, nil
}

func (r *vcfReader) Close(ctx context.Context) error { return r.f.Close(ctx) }

// expandRecord splits rec into one pendingSite per ALT allele.  Samples
// without AD, or with a missing entry for the allele, get Missing counts.
func expandRecord(rec *vcf.Record, nSamples int) []pendingSite {
	out := make([]pendingSite, len(rec.Alt))
	for k, alt := range rec.Alt {
		out[k] = pendingSite{
			site: Site{
				Interval: interval.Interval{Chrom: rec.Chrom, Start: rec.Pos, End: rec.Pos + len(rec.Ref) - 1},
				Ref:      rec.Ref,
				Alt:      alt,
			},
			ref: make([]int, nSamples),
			alt: make([]int, nSamples),
		}
	}
	for j := 0; j < nSamples; j++ {
		ad, ok := rec.AD(j)
		for k := range out {
			out[k].ref[j], out[k].alt[j] = Missing, Missing
			if ok && len(ad) > k+1 && ad[0] >= 0 && ad[k+1] >= 0 {
				out[k].ref[j], out[k].alt[j] = ad[0], ad[k+1]
			}
		}
	}
	return out
}
