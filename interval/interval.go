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

package interval

import (
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/grailbio/base/errors"
)

// Interval is a genomic interval with 1-based, closed coordinates.
type Interval struct {
	Chrom string
	Start int
	End   int
}

// Width returns the number of bases covered by the interval.
func (iv Interval) Width() int { return iv.End - iv.Start + 1 }

// Overlaps reports whether iv and o share at least one base.
func (iv Interval) Overlaps(o Interval) bool {
	return iv.Chrom == o.Chrom && iv.Start <= o.End && o.Start <= iv.End
}

// Contains reports whether o lies entirely within iv.
func (iv Interval) Contains(o Interval) bool {
	return iv.Chrom == o.Chrom && iv.Start <= o.Start && o.End <= iv.End
}

// String formats the interval as chrom:start-end.
func (iv Interval) String() string {
	return fmt.Sprintf("%s:%d-%d", iv.Chrom, iv.Start, iv.End)
}

// Sort sorts ivs by (chromosome rank, start, end).  Intervals whose chromosome
// is absent from ord sort after all ranked chromosomes, by name.
func Sort(ivs []Interval, ord ChromOrder) {
	sort.SliceStable(ivs, func(i, j int) bool { return ord.Less(ivs[i], ivs[j]) })
}

// CheckSorted returns an errors.Precondition error if ivs is not sorted by
// (chromosome rank, start) under ord, or if it references a chromosome ord
// does not know.  name identifies the collection in the error message.
func CheckSorted(ivs []Interval, ord ChromOrder, name string) error {
	for i := range ivs {
		if _, ok := ord.Rank(ivs[i].Chrom); !ok {
			return errors.E(errors.Precondition, fmt.Sprintf("interval: %s[%d] has unknown chromosome %q", name, i, ivs[i].Chrom))
		}
		if ivs[i].End < ivs[i].Start {
			return errors.E(errors.Invalid, fmt.Sprintf("interval: %s[%d] %v has end before start", name, i, ivs[i]))
		}
		if i > 0 && ord.compareStart(ivs[i-1], ivs[i]) > 0 {
			return errors.E(errors.Precondition, fmt.Sprintf("interval: %s is not sorted at index %d (%v after %v)", name, i, ivs[i], ivs[i-1]))
		}
	}
	return nil
}

// ParseRegion parses a region string of one of the forms
//   [contig ID]:[1-based first pos]-[last pos]
//   [contig ID]:[1-based pos]
//   [contig ID]
// A bare contig ID covers the whole contig.
func ParseRegion(region string) (Interval, error) {
	if len(region) == 0 {
		return Interval{}, fmt.Errorf("interval.ParseRegion: empty region string")
	}
	colonPos := strings.IndexByte(region, ':')
	if colonPos == -1 {
		return Interval{Chrom: region, Start: 1, End: maxPos}, nil
	}
	if colonPos == 0 {
		return Interval{}, fmt.Errorf("interval.ParseRegion: empty contig ID")
	}
	iv := Interval{Chrom: region[:colonPos]}
	rangeStr := strings.Replace(region[colonPos+1:], ",", "", -1)
	dashPos := strings.IndexByte(rangeStr, '-')
	if dashPos == -1 {
		pos, err := strconv.Atoi(rangeStr)
		if err != nil {
			return Interval{}, err
		}
		if pos <= 0 {
			return Interval{}, fmt.Errorf("interval.ParseRegion: position %v in region string out of range", rangeStr)
		}
		iv.Start, iv.End = pos, pos
		return iv, nil
	}
	start, err := strconv.Atoi(rangeStr[:dashPos])
	if err != nil {
		return Interval{}, err
	}
	end, err := strconv.Atoi(rangeStr[dashPos+1:])
	if err != nil {
		return Interval{}, err
	}
	if start <= 0 || end < start {
		return Interval{}, fmt.Errorf("interval.ParseRegion: invalid range string %v", rangeStr)
	}
	iv.Start, iv.End = start, end
	return iv, nil
}

const maxPos = 1<<31 - 1
