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
	"bufio"
	"bytes"
	"context"
	"fmt"
	"io"
	"strconv"

	"github.com/grailbio/base/errors"
	"github.com/grailbio/base/file"
	"github.com/grailbio/base/fileio"
	gunsafe "github.com/grailbio/base/unsafe"
	"github.com/klauspost/compress/gzip"
)

// fields stores up to len(tokens) whitespace-separated fields of line in
// tokens and returns how many were found.  Any byte <= ' ' separates fields.
func fields(tokens [][]byte, line []byte) int {
	pos := 0
	for i := range tokens {
		for pos < len(line) && line[pos] <= ' ' {
			pos++
		}
		if pos == len(line) {
			return i
		}
		start := pos
		for pos < len(line) && line[pos] > ' ' {
			pos++
		}
		tokens[i] = line[start:pos]
	}
	return len(tokens)
}

// ParseBED reads BED records (0-based, half-open) from r and returns them as
// 1-based closed intervals, in file order.  Comment, track and browser lines
// are skipped.
func ParseBED(r io.Reader) ([]Interval, error) {
	var (
		ivs    []Interval
		tokens [3][]byte
	)
	scanner := bufio.NewScanner(r)
	for lineIdx := 1; scanner.Scan(); lineIdx++ {
		line := scanner.Bytes()
		if len(line) == 0 || line[0] == '#' || bytes.HasPrefix(line, []byte("track")) || bytes.HasPrefix(line, []byte("browser")) {
			continue
		}
		if fields(tokens[:], line) < 3 {
			return nil, errors.E(errors.Invalid, fmt.Sprintf("interval.ParseBED: line %d has fewer than three columns", lineIdx))
		}
		start, err := strconv.Atoi(gunsafe.BytesToString(tokens[1]))
		if err != nil {
			return nil, errors.E(errors.Invalid, fmt.Sprintf("interval.ParseBED: line %d", lineIdx), err)
		}
		end, err := strconv.Atoi(gunsafe.BytesToString(tokens[2]))
		if err != nil {
			return nil, errors.E(errors.Invalid, fmt.Sprintf("interval.ParseBED: line %d", lineIdx), err)
		}
		if start < 0 || end <= start {
			return nil, errors.E(errors.Invalid, fmt.Sprintf("interval.ParseBED: line %d has invalid range [%d, %d)", lineIdx, start, end))
		}
		ivs = append(ivs, Interval{Chrom: string(tokens[0]), Start: start + 1, End: end})
	}
	return ivs, scanner.Err()
}

// ReadBED reads the BED file at path.  Gzip and bgzip files are recognized
// by extension.
func ReadBED(ctx context.Context, path string) (ivs []Interval, err error) {
	f, err := file.Open(ctx, path)
	if err != nil {
		return nil, errors.E(err, "interval.ReadBED", path)
	}
	defer file.CloseAndReport(ctx, f, &err)
	var r io.Reader = f.Reader(ctx)
	if fileio.DetermineType(path) == fileio.Gzip {
		gz, err := gzip.NewReader(r)
		if err != nil {
			return nil, errors.E(err, "interval.ReadBED", path)
		}
		defer gz.Close() // nolint: errcheck
		r = gz
	}
	if ivs, err = ParseBED(r); err != nil {
		return nil, errors.E(err, path)
	}
	return ivs, nil
}

// Restrict returns the indexes of the intervals of ivs that overlap at least
// one of regions.  ivs must be sorted under ord; regions need not be, and
// regions on chromosomes ord does not know are ignored.
func Restrict(ivs, regions []Interval, ord ChromOrder) ([]int, error) {
	known := make([]Interval, 0, len(regions))
	for _, r := range regions {
		if _, ok := ord.Rank(r.Chrom); ok {
			known = append(known, r)
		}
	}
	Sort(known, ord)
	hits, err := OverlapJoin(ivs, known, ord)
	if err != nil {
		return nil, err
	}
	var keep []int
	for i, h := range hits {
		if len(h) > 0 {
			keep = append(keep, i)
		}
	}
	return keep, nil
}
