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
	"context"
	"io/ioutil"
	"sort"
	"strconv"
	"strings"

	"github.com/grailbio/base/errors"
	"github.com/grailbio/base/file"
	"github.com/grailbio/hts/sam"
)

// ChromOrder assigns a rank to each chromosome name.  Lookups accept both the
// "chr1" and "1" naming styles, so an order built from one style can rank
// intervals written in the other.
type ChromOrder struct {
	names []string
	rank  map[string]int
}

// NewChromOrder returns an order that ranks names in the order given.
// Duplicates keep their first rank.
func NewChromOrder(names []string) ChromOrder {
	o := ChromOrder{rank: make(map[string]int, len(names))}
	for _, name := range names {
		if _, ok := o.rank[name]; ok {
			continue
		}
		o.rank[name] = len(o.names)
		o.names = append(o.names, name)
	}
	return o
}

// NaturalChromOrder ranks names the way reference genomes usually list them:
// numbered autosomes in numeric order, then X, Y and the mitochondrial
// chromosome, then everything else lexicographically.
func NaturalChromOrder(names []string) ChromOrder {
	s := append([]string(nil), names...)
	sort.SliceStable(s, func(i, j int) bool {
		ci, ni := naturalKey(s[i])
		cj, nj := naturalKey(s[j])
		if ci != cj {
			return ci < cj
		}
		if ni != nj {
			return ni < nj
		}
		return s[i] < s[j]
	})
	return NewChromOrder(s)
}

// naturalKey returns a (class, number) pair used by NaturalChromOrder.
func naturalKey(name string) (int, int) {
	base := StripChr(name)
	if n, err := strconv.Atoi(base); err == nil && n > 0 {
		return 0, n
	}
	switch strings.ToUpper(base) {
	case "X":
		return 1, 0
	case "Y":
		return 1, 1
	case "M", "MT":
		return 1, 2
	}
	return 2, 0
}

// ChromOrderFromHeader ranks chromosomes in the order of the header's
// reference sequences.
func ChromOrderFromHeader(h *sam.Header) ChromOrder {
	refs := h.Refs()
	names := make([]string, len(refs))
	for i, ref := range refs {
		names[i] = ref.Name()
	}
	return NewChromOrder(names)
}

// ReadSequenceDictionary reads a Picard-style .dict file (a SAM header with
// @SQ lines) and returns the order of its sequences.
func ReadSequenceDictionary(ctx context.Context, path string) (order ChromOrder, err error) {
	in, err := file.Open(ctx, path)
	if err != nil {
		return ChromOrder{}, errors.E(err, "open sequence dictionary", path)
	}
	defer file.CloseAndReport(ctx, in, &err)
	text, err := ioutil.ReadAll(in.Reader(ctx))
	if err != nil {
		return ChromOrder{}, errors.E(err, "read sequence dictionary", path)
	}
	h, err := sam.NewHeader(text, nil)
	if err != nil {
		return ChromOrder{}, errors.E(err, "parse sequence dictionary", path)
	}
	order = ChromOrderFromHeader(h)
	if order.Len() == 0 {
		return ChromOrder{}, errors.E(errors.Invalid, "sequence dictionary has no @SQ lines", path)
	}
	return order, nil
}

// Len returns the number of ranked chromosomes.
func (o ChromOrder) Len() int { return len(o.names) }

// Names returns the ranked chromosome names.
func (o ChromOrder) Names() []string { return o.names }

// Rank returns the rank of chrom, trying the alternate naming style when the
// exact name is unknown.
func (o ChromOrder) Rank(chrom string) (int, bool) {
	if r, ok := o.rank[chrom]; ok {
		return r, true
	}
	if r, ok := o.rank[StripChr(chrom)]; ok {
		return r, true
	}
	r, ok := o.rank[AddChr(chrom)]
	return r, ok
}

// Less orders intervals by (rank, start, end).
func (o ChromOrder) Less(a, b Interval) bool { return o.compare(a, b) < 0 }

func (o ChromOrder) compare(a, b Interval) int {
	if c := o.compareStart(a, b); c != 0 || a.End == b.End {
		return c
	}
	if a.End < b.End {
		return -1
	}
	return 1
}

// compareStart orders intervals by (rank, start) only.
func (o ChromOrder) compareStart(a, b Interval) int {
	if a.Chrom != b.Chrom {
		ra, oka := o.Rank(a.Chrom)
		rb, okb := o.Rank(b.Chrom)
		switch {
		case oka && okb && ra != rb:
			if ra < rb {
				return -1
			}
			return 1
		case oka && !okb:
			return -1
		case !oka && okb:
			return 1
		case !oka && !okb:
			if a.Chrom < b.Chrom {
				return -1
			}
			return 1
		}
	}
	switch {
	case a.Start < b.Start:
		return -1
	case a.Start > b.Start:
		return 1
	}
	return 0
}

// StripChr removes a leading "chr" from name.
func StripChr(name string) string { return strings.TrimPrefix(name, "chr") }

// AddChr prefixes name with "chr" unless it already has it.
func AddChr(name string) string {
	if strings.HasPrefix(name, "chr") {
		return name
	}
	return "chr" + name
}

// UsesChrPrefix reports whether the majority of names start with "chr".
func UsesChrPrefix(names []string) bool {
	n := 0
	for _, name := range names {
		if strings.HasPrefix(name, "chr") {
			n++
		}
	}
	return 2*n > len(names)
}

// Restyle rewrites chrom to use (or not use) the "chr" prefix.
func Restyle(chrom string, withChr bool) string {
	if withChr {
		return AddChr(chrom)
	}
	return StripChr(chrom)
}
