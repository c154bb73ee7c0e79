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
	"fmt"

	"github.com/grailbio/base/errors"
	"github.com/grailbio/cnv/interval"
)

// Missing marks an allele count that was not observed.
const Missing = -1

// Site is one biallelic panel-of-normal site.  Multiallelic VCF records are
// expanded into one Site per ALT allele.
type Site struct {
	interval.Interval
	Ref, Alt string
}

// SiteAlleleMatrix holds reference and alternate read counts for a set of
// sites across the samples of a panel of normals.  Rows are sites and
// columns are samples.
type SiteAlleleMatrix struct {
	Samples  []string
	Sites    []Site
	RefCount [][]int
	AltCount [][]int
}

// NumSites returns the number of rows.
func (m *SiteAlleleMatrix) NumSites() int { return len(m.Sites) }

// Validate checks that every row has one count per sample and that counts
// are either non-negative or Missing.
func (m *SiteAlleleMatrix) Validate() error {
	if len(m.RefCount) != len(m.Sites) || len(m.AltCount) != len(m.Sites) {
		return errors.E(errors.Integrity, fmt.Sprintf("mappingbias: %d sites but %d ref rows and %d alt rows",
			len(m.Sites), len(m.RefCount), len(m.AltCount)))
	}
	for i := range m.Sites {
		if len(m.RefCount[i]) != len(m.Samples) || len(m.AltCount[i]) != len(m.Samples) {
			return errors.E(errors.Integrity, fmt.Sprintf("mappingbias: site %v has %d ref and %d alt counts for %d samples",
				m.Sites[i].Interval, len(m.RefCount[i]), len(m.AltCount[i]), len(m.Samples)))
		}
		for j := range m.Samples {
			if m.RefCount[i][j] < Missing || m.AltCount[i][j] < Missing {
				return errors.E(errors.Integrity, fmt.Sprintf("mappingbias: site %v sample %s has negative count", m.Sites[i].Interval, m.Samples[j]))
			}
		}
	}
	return nil
}

// Slice returns the rows [from, to) as a matrix sharing storage with m.
func (m *SiteAlleleMatrix) Slice(from, to int) *SiteAlleleMatrix {
	return &SiteAlleleMatrix{
		Samples:  m.Samples,
		Sites:    m.Sites[from:to],
		RefCount: m.RefCount[from:to],
		AltCount: m.AltCount[from:to],
	}
}

// append adds one row.
func (m *SiteAlleleMatrix) append(s Site, ref, alt []int) {
	m.Sites = append(m.Sites, s)
	m.RefCount = append(m.RefCount, ref)
	m.AltCount = append(m.AltCount, alt)
}
